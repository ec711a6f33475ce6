package usecases

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/domain/repositories"
	"x402-market.backend/pkg/crypto"
	"x402-market.backend/pkg/jwt"
	"x402-market.backend/pkg/redis"
)

const (
	loginNonceKeyPrefix = "auth:nonce:"
	loginNonceTTL       = 5 * time.Minute
)

// AuthUsecase handles wallet-signature provider login. A provider proves
// control of their wallet by personal_sign-ing a one-time challenge; the
// session is then a JWT whose subject is the wallet address.
type AuthUsecase struct {
	providerRepo repositories.ProviderRepository
	jwtService   *jwt.JWTService
}

// NewAuthUsecase creates a new auth usecase
func NewAuthUsecase(providerRepo repositories.ProviderRepository, jwtService *jwt.JWTService) *AuthUsecase {
	return &AuthUsecase{
		providerRepo: providerRepo,
		jwtService:   jwtService,
	}
}

// Challenge issues a one-time login message for a wallet. The nonce lives
// in Redis until consumed or expired.
func (u *AuthUsecase) Challenge(ctx context.Context, walletAddress string) (string, error) {
	if !isHexAddress(walletAddress) {
		return "", domainerrors.BadRequest("wallet_address must be a hex address")
	}
	nonce, err := crypto.GenerateLoginNonce()
	if err != nil {
		return "", domainerrors.InternalError(err)
	}
	wallet := strings.ToLower(walletAddress)
	message := fmt.Sprintf("x402-market login\nwallet: %s\nnonce: %s", wallet, nonce)
	if err := redis.Set(ctx, loginNonceKeyPrefix+wallet, message, loginNonceTTL); err != nil {
		return "", domainerrors.InternalError(err)
	}
	return message, nil
}

// Login verifies a personal_sign signature over the issued challenge and
// returns a session token. The nonce is consumed regardless of outcome.
func (u *AuthUsecase) Login(ctx context.Context, walletAddress, signatureHex, name string) (string, *entities.Provider, error) {
	if !isHexAddress(walletAddress) {
		return "", nil, domainerrors.BadRequest("wallet_address must be a hex address")
	}
	wallet := strings.ToLower(walletAddress)

	message, err := redis.Get(ctx, loginNonceKeyPrefix+wallet)
	if err != nil || message == "" {
		return "", nil, domainerrors.Unauthorized("no pending login challenge for this wallet")
	}
	_ = redis.Del(ctx, loginNonceKeyPrefix+wallet)

	recovered, err := recoverPersonalSign(message, signatureHex)
	if err != nil {
		return "", nil, domainerrors.Unauthorized("invalid signature")
	}
	if !sameAddress(recovered, wallet) {
		return "", nil, domainerrors.Unauthorized("signature does not match wallet")
	}

	provider := &entities.Provider{WalletAddress: wallet, Name: name}
	if err := u.providerRepo.Upsert(ctx, provider); err != nil {
		return "", nil, err
	}
	stored, err := u.providerRepo.GetByWallet(ctx, wallet)
	if err != nil {
		return "", nil, err
	}

	token, err := u.jwtService.GenerateToken(wallet)
	if err != nil {
		return "", nil, domainerrors.InternalError(err)
	}
	return token, stored, nil
}

// recoverPersonalSign recovers the signer of an EIP-191 personal message.
func recoverPersonalSign(message, signatureHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signatureHex), "0x"))
	if err != nil {
		return "", err
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes")
	}
	// Wallets return v as 27/28; SigToPub wants 0/1.
	adjusted := make([]byte, 65)
	copy(adjusted, sig)
	if adjusted[64] >= 27 {
		adjusted[64] -= 27
	}
	digest := accounts.TextHash([]byte(message))
	pub, err := ethcrypto.SigToPub(digest, adjusted)
	if err != nil {
		return "", err
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}
