package usecases

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/domain/entities"
	infraRepos "x402-market.backend/internal/infrastructure/repositories"
)

type stubEscrowReader struct {
	balance *big.Int
	err     error
}

func (e *stubEscrowReader) ProviderBalance(ctx context.Context, provider string) (*big.Int, error) {
	return e.balance, e.err
}

type stubWithdrawer struct {
	err        error
	calls      int
	lastAmount *big.Int
}

func (w *stubWithdrawer) Withdraw(ctx context.Context, provider string, amount *big.Int) (string, error) {
	w.calls++
	w.lastAmount = amount
	if w.err != nil {
		return "", w.err
	}
	return "0xclaim01", nil
}

type revenueFixture struct {
	usecase    *RevenueUsecase
	escrow     *stubEscrowReader
	withdrawer *stubWithdrawer
	provs      *infraRepos.ProviderRepository
}

func newRevenueFixture(t *testing.T, balance *big.Int) *revenueFixture {
	t.Helper()
	db := openTestDB(t)
	escrow := &stubEscrowReader{balance: balance}
	withdrawer := &stubWithdrawer{}
	providerRepo := infraRepos.NewProviderRepository(db)
	usecase := NewRevenueUsecase(
		providerRepo,
		infraRepos.NewServiceRepository(db),
		infraRepos.NewClaimRepository(db),
		infraRepos.NewUnitOfWork(db),
		escrow,
		withdrawer,
		testTokenInfo(),
	)
	return &revenueFixture{usecase: usecase, escrow: escrow, withdrawer: withdrawer, provs: providerRepo}
}

const revenueWallet = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"

func TestWalletRevenue(t *testing.T) {
	fx := newRevenueFixture(t, big.NewInt(12_500_000))

	rev, err := fx.usecase.WalletRevenue(context.Background(), revenueWallet)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(revenueWallet), rev.Address)
	assert.Equal(t, "12500000", rev.RawBalance)
	assert.Equal(t, "12.5", rev.ClaimableBalance) // 6 decimals
	assert.Equal(t, "on-chain", rev.Source)
}

func TestWalletRevenue_BadAddress(t *testing.T) {
	fx := newRevenueFixture(t, big.NewInt(0))

	_, err := fx.usecase.WalletRevenue(context.Background(), "not-an-address")
	require.Error(t, err)
	var appErr *domainerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Code)
}

func TestWalletRevenue_ChainError(t *testing.T) {
	fx := newRevenueFixture(t, nil)
	fx.escrow.err = errors.New("rpc down")

	_, err := fx.usecase.WalletRevenue(context.Background(), revenueWallet)
	require.Error(t, err)
	var appErr *domainerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusInternalServerError, appErr.Code)
}

func TestProviderRevenue(t *testing.T) {
	fx := newRevenueFixture(t, big.NewInt(7_000_000))
	ctx := context.Background()

	wallet := strings.ToLower(revenueWallet)
	require.NoError(t, fx.provs.Upsert(ctx, &entities.Provider{WalletAddress: wallet, Name: "ACME Data"}))
	require.NoError(t, fx.provs.AddEarned(ctx, wallet, "9000000"))

	rev, err := fx.usecase.ProviderRevenue(ctx, revenueWallet)
	require.NoError(t, err)
	assert.Equal(t, "ACME Data", rev.Provider.Name)
	assert.Equal(t, "9000000", rev.Provider.TotalEarned)
	// the claimable figure is the on-chain balance, not the mirror
	assert.Equal(t, "7000000", rev.RawBalance)
	assert.Equal(t, "7", rev.ClaimableBalance)
}

func TestProviderRevenue_UnknownProvider(t *testing.T) {
	fx := newRevenueFixture(t, big.NewInt(0))

	_, err := fx.usecase.ProviderRevenue(context.Background(), revenueWallet)
	require.Error(t, err)
	var appErr *domainerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.Code)
}

func TestClaim(t *testing.T) {
	fx := newRevenueFixture(t, big.NewInt(10_000_000))
	ctx := context.Background()

	result, err := fx.usecase.Claim(ctx, revenueWallet, "4000000")
	require.NoError(t, err)
	assert.Equal(t, "0xclaim01", result.TxHash)
	assert.Equal(t, "4000000", result.Amount)
	assert.Equal(t, strings.ToLower(revenueWallet), result.Wallet)
	assert.Equal(t, big.NewInt(4_000_000), fx.withdrawer.lastAmount)

	claims, total, err := fx.usecase.Claims(ctx, revenueWallet, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, claims, 1)
	assert.Equal(t, "0xclaim01", claims[0].TxHash)

	provider, err := fx.provs.GetByWallet(ctx, revenueWallet)
	require.NoError(t, err)
	assert.Equal(t, "4000000", provider.TotalClaimed)
}

func TestClaim_ExceedsBalance(t *testing.T) {
	fx := newRevenueFixture(t, big.NewInt(1_000_000))

	_, err := fx.usecase.Claim(context.Background(), revenueWallet, "2000000")
	require.Error(t, err)
	var appErr *domainerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Code)
	assert.Zero(t, fx.withdrawer.calls)
}

func TestClaim_InvalidAmount(t *testing.T) {
	fx := newRevenueFixture(t, big.NewInt(1_000_000))

	for _, amount := range []string{"0", "-1", "1.5", "lots"} {
		_, err := fx.usecase.Claim(context.Background(), revenueWallet, amount)
		assert.Error(t, err, "amount %q", amount)
	}
	assert.Zero(t, fx.withdrawer.calls)
}

func TestClaim_WithdrawFailure(t *testing.T) {
	fx := newRevenueFixture(t, big.NewInt(10_000_000))
	fx.withdrawer.err = errors.New("escrow reverted")
	ctx := context.Background()

	_, err := fx.usecase.Claim(ctx, revenueWallet, "4000000")
	require.Error(t, err)

	// nothing mirrored for a failed withdrawal
	_, total, err := fx.usecase.Claims(ctx, revenueWallet, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		value    string
		decimals uint8
		want     string
	}{
		{"0", 6, "0"},
		{"1000000", 6, "1"},
		{"1500000", 6, "1.5"},
		{"123", 6, "0.000123"},
		{"1000001", 6, "1.000001"},
		{"42", 0, "42"},
		{"-2500000", 6, "-2.5"},
	}
	for _, tt := range tests {
		value, ok := new(big.Int).SetString(tt.value, 10)
		require.True(t, ok)
		assert.Equal(t, tt.want, formatUnits(value, tt.decimals), "formatUnits(%s, %d)", tt.value, tt.decimals)
	}
	assert.Equal(t, "0", formatUnits(nil, 6))
}
