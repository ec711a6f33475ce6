package usecases

import (
	"fmt"
	"strings"

	"x402-market.backend/internal/config"
	"x402-market.backend/internal/domain/entities"
)

const (
	paymentSchemeGasless = "gasless"
	challengeTimeoutSecs = 300
)

// RequirementsBuilder produces the 402 challenge block for a service.
// Challenges are stateless: every field is derived from the service record,
// the deployment config and the token metadata, so an echoed accepted block
// can be checked by recomputing.
type RequirementsBuilder struct {
	chainID int64
	escrow  string
	baseURL string
	token   *TokenInfo
}

func NewRequirementsBuilder(cfg *config.Config, token *TokenInfo) *RequirementsBuilder {
	return &RequirementsBuilder{
		chainID: cfg.Blockchain.ChainID,
		escrow:  strings.ToLower(cfg.Blockchain.EscrowAddress),
		baseURL: strings.TrimRight(cfg.Server.BaseURL, "/"),
		token:   token,
	}
}

// Build returns the payment requirements for a service. payTo is always the
// escrow contract; pointing it at the provider or the relayer makes every
// settlement revert on-chain.
func (b *RequirementsBuilder) Build(service *entities.Service) *entities.PaymentRequirements {
	return &entities.PaymentRequirements{
		Scheme:            paymentSchemeGasless,
		Network:           fmt.Sprintf("eip155:%d", b.chainID),
		MaxAmountRequired: service.PriceBaseUnits,
		Resource:          "/gateway/" + service.ID,
		Description:       service.Name,
		PayTo:             b.escrow,
		MaxTimeoutSeconds: challengeTimeoutSecs,
		Asset:             b.token.Address,
		Extra: &entities.RequirementsExtra{
			Symbol:    b.token.Symbol,
			Decimals:  int(b.token.Decimals),
			TokenName: b.token.Name,
		},
	}
}

// Challenge wraps requirements in the canonical 402 body.
func (b *RequirementsBuilder) Challenge(service *entities.Service) *entities.PaymentRequired {
	return &entities.PaymentRequired{
		Error:   "Payment Required",
		Accepts: []entities.PaymentRequirements{*b.Build(service)},
	}
}

// SigningInfo is the EIP-712 material an agent needs to sign without extra
// RPC round-trips. The domain and type set are frozen wire format.
type SigningInfo struct {
	Domain      map[string]interface{} `json:"domain"`
	PrimaryType string                 `json:"primaryType"`
	Types       map[string]interface{} `json:"types"`
	Endpoint    string                 `json:"endpoint"`
}

// SigningInfoFor returns the typed-data description for a service.
func (b *RequirementsBuilder) SigningInfoFor(service *entities.Service) *SigningInfo {
	return &SigningInfo{
		Domain: map[string]interface{}{
			"name":              b.token.Name,
			"version":           "1",
			"chainId":           b.chainID,
			"verifyingContract": b.token.Address,
		},
		PrimaryType: "ReceiveWithAuthorization",
		Types: map[string]interface{}{
			"ReceiveWithAuthorization": []map[string]string{
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
			},
		},
		Endpoint: b.baseURL + "/gateway/" + service.ID,
	}
}
