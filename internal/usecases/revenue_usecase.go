package usecases

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/domain/repositories"
	"x402-market.backend/pkg/logger"
	"x402-market.backend/pkg/utils"
)

// EscrowReader reads the on-chain provider balance.
type EscrowReader interface {
	ProviderBalance(ctx context.Context, provider string) (*big.Int, error)
}

// Withdrawer triggers relayer-paid escrow withdrawals.
type Withdrawer interface {
	Withdraw(ctx context.Context, provider string, amount *big.Int) (string, error)
}

// WalletRevenue is the on-chain view of a provider's claimable balance.
type WalletRevenue struct {
	Address          string `json:"address"`
	ClaimableBalance string `json:"claimable_balance"` // token units
	RawBalance       string `json:"raw_balance"`       // base units
	Source           string `json:"source"`
}

// ProviderRevenue is the DB mirror together with the on-chain override.
type ProviderRevenue struct {
	Provider         *entities.Provider `json:"provider"`
	ClaimableBalance string             `json:"claimable_balance"`
	RawBalance       string             `json:"raw_balance"`
	Services         []*entities.Service `json:"services"`
	Source           string             `json:"source"`
}

// ClaimResult reports a relayer-triggered withdrawal.
type ClaimResult struct {
	TxHash string `json:"tx_hash"`
	Amount string `json:"amount"`
	Wallet string `json:"wallet"`
}

// RevenueUsecase serves revenue views and claims. The claimable amount
// always comes from Escrow.providerBalances; the mirror only decorates.
type RevenueUsecase struct {
	providerRepo repositories.ProviderRepository
	serviceRepo  repositories.ServiceRepository
	claimRepo    repositories.ClaimRepository
	uow          repositories.UnitOfWork
	escrow       EscrowReader
	withdrawer   Withdrawer
	decimals     uint8
}

func NewRevenueUsecase(
	providerRepo repositories.ProviderRepository,
	serviceRepo repositories.ServiceRepository,
	claimRepo repositories.ClaimRepository,
	uow repositories.UnitOfWork,
	escrow EscrowReader,
	withdrawer Withdrawer,
	token *TokenInfo,
) *RevenueUsecase {
	return &RevenueUsecase{
		providerRepo: providerRepo,
		serviceRepo:  serviceRepo,
		claimRepo:    claimRepo,
		uow:          uow,
		escrow:       escrow,
		withdrawer:   withdrawer,
		decimals:     token.Decimals,
	}
}

// WalletRevenue reads the claimable balance straight from chain so the
// caller always sees on-chain truth regardless of mirror drift.
func (u *RevenueUsecase) WalletRevenue(ctx context.Context, address string) (*WalletRevenue, error) {
	if !isHexAddress(address) {
		return nil, domainerrors.BadRequest("address must be a hex wallet address")
	}
	balance, err := u.escrow.ProviderBalance(ctx, address)
	if err != nil {
		return nil, domainerrors.InternalError(err)
	}
	return &WalletRevenue{
		Address:          strings.ToLower(address),
		ClaimableBalance: formatUnits(balance, u.decimals),
		RawBalance:       balance.String(),
		Source:           "on-chain",
	}, nil
}

// ProviderRevenue returns the DB record with the on-chain balance override
func (u *RevenueUsecase) ProviderRevenue(ctx context.Context, wallet string) (*ProviderRevenue, error) {
	if !isHexAddress(wallet) {
		return nil, domainerrors.BadRequest("provider id must be a hex wallet address")
	}
	provider, err := u.providerRepo.GetByWallet(ctx, wallet)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFound("provider not found")
		}
		return nil, err
	}
	balance, err := u.escrow.ProviderBalance(ctx, wallet)
	if err != nil {
		return nil, domainerrors.InternalError(err)
	}
	services, err := u.serviceRepo.ListByProvider(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return &ProviderRevenue{
		Provider:         provider,
		ClaimableBalance: formatUnits(balance, u.decimals),
		RawBalance:       balance.String(),
		Services:         services,
		Source:           "on-chain",
	}, nil
}

// Claim withdraws from the escrow to the provider wallet via the relayer,
// so the provider spends no gas. The amount is checked against the
// on-chain balance before submission.
func (u *RevenueUsecase) Claim(ctx context.Context, wallet, amountBaseUnits string) (*ClaimResult, error) {
	if !isHexAddress(wallet) {
		return nil, domainerrors.BadRequest("wallet must be a hex address")
	}
	amount, err := parseUint256(amountBaseUnits)
	if err != nil || amount.Sign() <= 0 {
		return nil, domainerrors.BadRequest("amount must be a positive integer in base units")
	}

	balance, err := u.escrow.ProviderBalance(ctx, wallet)
	if err != nil {
		return nil, domainerrors.InternalError(err)
	}
	if amount.Cmp(balance) > 0 {
		return nil, domainerrors.BadRequest("amount exceeds claimable balance")
	}

	txHash, err := u.withdrawer.Withdraw(ctx, wallet, amount)
	if err != nil {
		return nil, err
	}

	recordErr := u.uow.Do(ctx, func(txCtx context.Context) error {
		if err := u.providerRepo.Upsert(txCtx, &entities.Provider{WalletAddress: strings.ToLower(wallet)}); err != nil {
			return err
		}
		if err := u.claimRepo.Create(txCtx, &entities.Claim{
			ID:              utils.GenerateUUIDv7(),
			ProviderAddress: strings.ToLower(wallet),
			Amount:          amount.String(),
			TxHash:          txHash,
			CreatedAt:       time.Now(),
		}); err != nil {
			return err
		}
		return u.providerRepo.AddClaimed(txCtx, wallet, amount.String())
	})
	if recordErr != nil {
		// The withdrawal is mined; only the mirror missed it.
		logger.WithContext(ctx).Error("claim recorded on-chain but mirror write failed",
			zap.String("tx_hash", txHash), zap.String("wallet", wallet), zap.Error(recordErr))
	}

	return &ClaimResult{TxHash: txHash, Amount: amount.String(), Wallet: strings.ToLower(wallet)}, nil
}

// Claims lists recorded withdrawals for a provider
func (u *RevenueUsecase) Claims(ctx context.Context, wallet string, limit, offset int) ([]*entities.Claim, int, error) {
	return u.claimRepo.ListByProvider(ctx, wallet, limit, offset)
}

// formatUnits renders base units as a decimal token amount, trimming
// trailing zeros.
func formatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	s := value.String()
	d := int(decimals)
	if d == 0 {
		return s
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for len(s) <= d {
		s = "0" + s
	}
	whole := s[:len(s)-d]
	frac := strings.TrimRight(s[len(s)-d:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
