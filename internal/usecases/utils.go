package usecases

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// parseBytes32 decodes a 0x-prefixed 32-byte hex string.
func parseBytes32(raw string) ([32]byte, error) {
	var out [32]byte
	value := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	data, err := hex.DecodeString(value)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(data) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(data))
	}
	copy(out[:], data)
	return out, nil
}

// parseUint256 parses a non-negative decimal string into a big.Int.
func parseUint256(raw string) (*big.Int, error) {
	v := new(big.Int)
	if _, ok := v.SetString(strings.TrimSpace(raw), 10); !ok {
		return nil, fmt.Errorf("invalid uint256 %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative uint256 %q", raw)
	}
	return v, nil
}

func isHexAddress(s string) bool {
	return common.IsHexAddress(s)
}

// sameAddress compares two hex addresses case-insensitively.
func sameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
