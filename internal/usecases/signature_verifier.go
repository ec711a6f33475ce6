package usecases

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
	"x402-market.backend/internal/config"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/pkg/logger"
)

var verifyNow = time.Now

// NonceProber answers whether an authorization nonce is already consumed.
type NonceProber interface {
	NonceUsed(ctx context.Context, from string, nonce [32]byte) (bool, error)
}

// SignatureVerifier validates a decoded authorization against the expected
// payment requirements. It is pure apart from the read-only nonce probe.
type SignatureVerifier struct {
	chainID int64
	escrow  string
	token   *TokenInfo
	prober  NonceProber
}

func NewSignatureVerifier(cfg config.BlockchainConfig, token *TokenInfo, prober NonceProber) *SignatureVerifier {
	return &SignatureVerifier{
		chainID: cfg.ChainID,
		escrow:  cfg.EscrowAddress,
		token:   token,
		prober:  prober,
	}
}

// Verify enforces, in order: destination, value, validity window, nonce
// freshness, signature recovery. The ordering is part of the contract:
// cheap structural checks run before any RPC or elliptic-curve work.
func (v *SignatureVerifier) Verify(ctx context.Context, auth *entities.PaymentAuthorization, price *big.Int) error {
	if !sameAddress(auth.To, v.escrow) {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindBadDestination,
			"authorization destination must be the escrow contract")
	}

	value, ok := auth.ValueBig()
	if !ok {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "value is not a valid integer")
	}
	if value.Cmp(price) < 0 {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInsufficientValue,
			"authorized value is below the service price")
	}

	validAfter, err := parseUint256(auth.ValidAfter)
	if err != nil {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "validAfter is not a valid integer")
	}
	validBefore, err := parseUint256(auth.ValidBefore)
	if err != nil {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "validBefore is not a valid integer")
	}
	now := big.NewInt(verifyNow().Unix())
	if now.Cmp(validAfter) <= 0 || now.Cmp(validBefore) >= 0 {
		return domainerrors.Payment(http.StatusPaymentRequired, domainerrors.KindOutOfWindow,
			"authorization is outside its validity window")
	}

	nonce, err := parseBytes32(auth.Nonce)
	if err != nil {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "nonce must be 32-byte hex")
	}
	if v.prober != nil {
		used, probeErr := v.prober.NonceUsed(ctx, auth.From, nonce)
		if probeErr != nil {
			// The probe only saves gas on a doomed submission; the contract
			// enforces the same check, so an RPC hiccup here is not fatal.
			logger.WithContext(ctx).Warn("nonce probe failed, deferring to on-chain check",
				zap.String("from", auth.From), zap.Error(probeErr))
		} else if used {
			return domainerrors.Payment(http.StatusPaymentRequired, domainerrors.KindNonceUsed,
				"authorization nonce already used")
		}
	}

	recovered, err := v.recoverSigner(auth, value, validAfter, validBefore)
	if err != nil {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, err.Error())
	}
	if !sameAddress(recovered, auth.From) {
		return domainerrors.Payment(http.StatusPaymentRequired, domainerrors.KindBadSignature,
			"recovered signer does not match from address")
	}
	return nil
}

// recoverSigner recomputes the EIP-712 digest for ReceiveWithAuthorization
// and recovers the signing address from (v, r, s).
func (v *SignatureVerifier) recoverSigner(auth *entities.PaymentAuthorization, value, validAfter, validBefore *big.Int) (string, error) {
	typedData := v.typedData(auth, value, validAfter, validBefore)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", err
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return "", err
	}
	digest := crypto.Keccak256(append(append([]byte("\x19\x01"), domainSeparator...), structHash...))

	r, err := parseBytes32(auth.R)
	if err != nil {
		return "", err
	}
	s, err := parseBytes32(auth.S)
	if err != nil {
		return "", err
	}
	recoveryID := auth.V
	if recoveryID >= 27 {
		recoveryID -= 27
	}
	sig := make([]byte, 65)
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = recoveryID

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// typedData builds the frozen signing schema. The domain binds to the token
// contract, not to any gateway contract: the token itself verifies this
// signature inside receiveWithAuthorization.
func (v *SignatureVerifier) typedData(auth *entities.PaymentAuthorization, value, validAfter, validBefore *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"ReceiveWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "ReceiveWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              v.token.Name,
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(v.chainID),
			VerifyingContract: v.token.Address,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       value.String(),
			"validAfter":  validAfter.String(),
			"validBefore": validBefore.String(),
			"nonce":       auth.Nonce,
		},
	}
}
