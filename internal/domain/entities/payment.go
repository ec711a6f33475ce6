package entities

import (
	"encoding/json"
	"math/big"
	"strings"
)

// X402Version is the protocol version carried in tunnel envelopes.
const X402Version = 2

// PaymentRequirements is the structured `accepts` block issued in a 402
// challenge. The field set is part of the wire protocol; renaming a JSON
// key breaks every existing signer.
type PaymentRequirements struct {
	Scheme            string             `json:"scheme"`
	Network           string             `json:"network"` // CAIP-2, e.g. "eip155:71"
	MaxAmountRequired string             `json:"maxAmountRequired"`
	Resource          string             `json:"resource"`
	Description       string             `json:"description"`
	PayTo             string             `json:"payTo"` // always the escrow contract
	MaxTimeoutSeconds int                `json:"maxTimeoutSeconds"`
	Asset             string             `json:"asset"` // token contract address
	Extra             *RequirementsExtra `json:"extra,omitempty"`
}

// RequirementsExtra carries token metadata a signer needs to build the
// EIP-712 domain without an extra RPC round-trip.
type RequirementsExtra struct {
	Symbol    string `json:"symbol"`
	Decimals  int    `json:"decimals"`
	TokenName string `json:"tokenName"`
}

// PaymentRequired is the canonical 402 response body.
type PaymentRequired struct {
	Error   string                `json:"error"`
	Accepts []PaymentRequirements `json:"accepts"`
}

// TunnelEnvelope is the outer object of a tunnel-mode payment-signature
// header: base64(JSON{x402Version, accepted, proof}) where proof is itself
// base64(JSON(signature tuple)).
type TunnelEnvelope struct {
	X402Version int                  `json:"x402Version"`
	Accepted    *PaymentRequirements `json:"accepted,omitempty"`
	Proof       string               `json:"proof,omitempty"`
}

// PaymentAuthorization is the decoded EIP-3009 ReceiveWithAuthorization
// value together with its ECDSA signature. All numeric fields are decimal
// strings; nonce is 0x-prefixed 32-byte hex.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	V           uint8  `json:"v"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// ValueBig parses the authorized value; ok is false for malformed input.
func (a *PaymentAuthorization) ValueBig() (*big.Int, bool) {
	v := new(big.Int)
	_, ok := v.SetString(strings.TrimSpace(a.Value), 10)
	return v, ok
}

// SettlementStatus tracks a single settlement through the relayer.
type SettlementStatus string

const (
	SettlementStatusSubmitted SettlementStatus = "SUBMITTED"
	SettlementStatusConfirmed SettlementStatus = "CONFIRMED"
	SettlementStatusReverted  SettlementStatus = "REVERTED"
	SettlementStatusTimedOut  SettlementStatus = "TIMED_OUT"
)

// SettlementResult is what the relayer reports back to the gateway.
type SettlementResult struct {
	Status SettlementStatus `json:"status"`
	TxHash string           `json:"txHash"`
	Payer  string           `json:"payer"`
	Amount string           `json:"amount"`
	// Legacy is true when settlement went through the direct
	// receiveWithAuthorization path that bypasses the escrow ledger.
	Legacy bool `json:"legacy,omitempty"`
}

// RequirementsEqual reports whether an echoed `accepted` block matches the
// server-issued requirements over the recognized fields. Comparison is
// structural: both sides are normalized through JSON so that address case
// and field ordering do not matter.
func RequirementsEqual(issued, echoed *PaymentRequirements) bool {
	if issued == nil || echoed == nil {
		return false
	}
	normalize := func(r *PaymentRequirements) ([]byte, error) {
		c := *r
		c.PayTo = strings.ToLower(c.PayTo)
		c.Asset = strings.ToLower(c.Asset)
		return json.Marshal(c)
	}
	a, err := normalize(issued)
	if err != nil {
		return false
	}
	b, err := normalize(echoed)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}
