package usecases

import (
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainerrors "x402-market.backend/internal/domain/errors"
)

type rpcDataErrorStub struct {
	msg  string
	data interface{}
}

func (e rpcDataErrorStub) Error() string          { return e.msg }
func (e rpcDataErrorStub) ErrorData() interface{} { return e.data }

// encodeErrorString builds an Error(string) revert payload the way the EVM
// does: selector ++ abi.encode(offset, len, bytes).
func encodeErrorString(reason string) string {
	payload := make([]byte, 4+32+32+((len(reason)+31)/32)*32)
	copy(payload[:4], revertSelectorError[:])
	payload[4+31] = 0x20
	payload[4+63] = byte(len(reason))
	copy(payload[4+64:], reason)
	return "0x" + hex.EncodeToString(payload)
}

func TestDecodeRevertReason_FromDataError(t *testing.T) {
	err := rpcDataErrorStub{
		msg:  "execution reverted",
		data: encodeErrorString("PaymentProcessor: authorization is used"),
	}
	reason, ok := decodeRevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "PaymentProcessor: authorization is used", reason)
}

func TestDecodeRevertReason_FromErrorString(t *testing.T) {
	err := errors.New("execution reverted: " + encodeErrorString("Escrow: insufficient payment"))
	reason, ok := decodeRevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "Escrow: insufficient payment", reason)
}

func TestDecodeRevertReason_NoPayload(t *testing.T) {
	_, ok := decodeRevertReason(errors.New("execution reverted"))
	assert.False(t, ok)
}

func TestDecodeRevertReason_WrongSelector(t *testing.T) {
	// Panic(uint256) selector must not decode as Error(string).
	_, ok := decodeRevertReason(rpcDataErrorStub{
		msg:  "execution reverted",
		data: "0x4e487b710000000000000000000000000000000000000000000000000000000000000011",
	})
	assert.False(t, ok)
}

func TestTranslateSettlementError_Taxonomy(t *testing.T) {
	tests := []struct {
		name     string
		reason   string
		wantCode int
		wantKind string
	}{
		{"nonce used", "PaymentProcessor: authorization is used", http.StatusPaymentRequired, domainerrors.KindNonceUsed},
		{"nonce used alt", "nonce already used", http.StatusPaymentRequired, domainerrors.KindNonceUsed},
		{"inactive", "ServiceRegistry: service not active", http.StatusNotFound, domainerrors.KindServiceInactive},
		{"underpaid", "Escrow: insufficient payment", http.StatusBadRequest, domainerrors.KindInsufficientValue},
		{"opaque", "out of gas", http.StatusInternalServerError, domainerrors.KindSettlementFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := translateSettlementError(rpcDataErrorStub{
				msg:  "execution reverted",
				data: encodeErrorString(tt.reason),
			})
			require.NotNil(t, appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantKind, appErr.Kind)
		})
	}
}

func TestTranslateSettlementError_CaseInsensitive(t *testing.T) {
	appErr := translateSettlementError(errors.New("execution reverted: AUTHORIZATION IS USED"))
	require.NotNil(t, appErr)
	assert.Equal(t, domainerrors.KindNonceUsed, appErr.Kind)
}

func TestTranslateSettlementError_Nil(t *testing.T) {
	assert.Nil(t, translateSettlementError(nil))
}
