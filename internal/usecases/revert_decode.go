package usecases

import (
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"

	domainerrors "x402-market.backend/internal/domain/errors"
)

// revertSelectorError is the 4-byte selector of Error(string).
var revertSelectorError = [4]byte{0x08, 0xc3, 0x79, 0xa0}

// translateSettlementError maps a chain-layer error to a taxonomy kind. A
// revert carrying a known reason substring becomes a distinguishable client
// error; anything else is SETTLEMENT_FAILED.
func translateSettlementError(err error) *domainerrors.AppError {
	if err == nil {
		return nil
	}

	reason := err.Error()
	if decoded, ok := decodeRevertReason(err); ok && decoded != "" {
		reason = decoded
	}

	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "authorization is used"),
		strings.Contains(lower, "nonce already used"):
		return domainerrors.Payment(http.StatusPaymentRequired, domainerrors.KindNonceUsed, "authorization nonce already used")
	case strings.Contains(lower, "service not active"):
		return domainerrors.Payment(http.StatusNotFound, domainerrors.KindServiceInactive, "service not active")
	case strings.Contains(lower, "insufficient payment"):
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInsufficientValue, "insufficient payment")
	}
	return domainerrors.Payment(http.StatusInternalServerError, domainerrors.KindSettlementFailed, "settlement failed: "+reason)
}

// decodeRevertReason attempts to extract the Error(string) payload from an
// RPC error. It supports rpc.DataError payloads and fallback extraction
// from error strings.
func decodeRevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	if data, ok := extractRevertHexFromDataError(err); ok {
		return decodeErrorString(data)
	}
	if data, ok := extractRevertHexFromErrorString(err.Error()); ok {
		return decodeErrorString(data)
	}
	return "", false
}

func decodeErrorString(data []byte) (string, bool) {
	// Error(string) layout: selector ++ abi.encode(offset, len, bytes)
	if len(data) < 4+32+32 {
		return "", false
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	if selector != revertSelectorError {
		return "", false
	}
	body := data[4:]
	strLen := bigEndianUint(body[32:64])
	if 64+strLen > uint64(len(body)) {
		return "", false
	}
	return string(body[64 : 64+strLen]), true
}

func bigEndianUint(b []byte) uint64 {
	var out uint64
	for _, c := range b[len(b)-8:] {
		out = out<<8 | uint64(c)
	}
	return out
}

func extractRevertHexFromDataError(err error) ([]byte, bool) {
	type rpcDataError interface {
		ErrorData() interface{}
	}
	dataErr, ok := err.(rpcDataError)
	if !ok {
		return nil, false
	}
	return parseRevertBytesFromAny(dataErr.ErrorData())
}

func parseRevertBytesFromAny(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case string:
		return parseRevertHexBytes(v)
	case []byte:
		if len(v) == 0 {
			return nil, false
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, true
	case map[string]interface{}:
		if raw, ok := v["data"]; ok {
			return parseRevertBytesFromAny(raw)
		}
		if raw, ok := v["result"]; ok {
			return parseRevertBytesFromAny(raw)
		}
	case map[string]string:
		if raw, ok := v["data"]; ok {
			return parseRevertHexBytes(raw)
		}
		if raw, ok := v["result"]; ok {
			return parseRevertHexBytes(raw)
		}
	}
	return nil, false
}

func extractRevertHexFromErrorString(message string) ([]byte, bool) {
	pattern := regexp.MustCompile(`0x[0-9a-fA-F]{8,}`)
	hexValues := pattern.FindAllString(message, -1)
	for _, candidate := range hexValues {
		if data, ok := parseRevertHexBytes(candidate); ok {
			return data, true
		}
	}
	return nil, false
}

func parseRevertHexBytes(raw string) ([]byte, bool) {
	value := strings.TrimSpace(strings.TrimPrefix(raw, "0x"))
	if len(value) < 8 || len(value)%2 != 0 {
		return nil, false
	}
	data, err := hex.DecodeString(value)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}
