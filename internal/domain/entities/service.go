package entities

import (
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/volatiletech/null/v8"
)

// ServiceKind distinguishes how a paid call is fulfilled after settlement.
type ServiceKind string

const (
	// ServiceKindHosted serves a content blob stored by the gateway itself.
	ServiceKindHosted ServiceKind = "HOSTED"
	// ServiceKindProxy forwards the call to an upstream endpoint.
	ServiceKindProxy ServiceKind = "PROXY"
	// ServiceKindNative is settled here but served by the provider's own
	// endpoint; the gateway refuses direct access for these.
	ServiceKindNative ServiceKind = "NATIVE"
)

// Service is a registered paid resource. The opaque ID is the off-chain key;
// keccak256(ID) is its on-chain twin in the ServiceRegistry.
type Service struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	PriceBaseUnits  string      `json:"price"` // integer base units of the payment token
	TokenAddress    string      `json:"tokenAddress"`
	Kind            ServiceKind `json:"kind"`
	Content         null.String `json:"content,omitempty"`  // HOSTED only
	EndpointURL     null.String `json:"endpoint,omitempty"` // PROXY: upstream; HOSTED: self-reference
	ProviderAddress string      `json:"providerAddress"`    // canonical lowercase hex
	Tags            []string    `json:"tags,omitempty"`     // lowercase labels for catalog filtering
	IsActive        bool        `json:"isActive"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// IDHash returns keccak256(utf8(service_id)), the canonical on-chain key.
func (s *Service) IDHash() [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256([]byte(s.ID)))
	return out
}

// CreateServiceInput carries a service registration request.
type CreateServiceInput struct {
	ID             string      `json:"id" binding:"required"`
	Name           string      `json:"name" binding:"required"`
	Description    string      `json:"description"`
	PriceBaseUnits string      `json:"price" binding:"required"`
	Kind           ServiceKind `json:"kind" binding:"required"`
	Content        string      `json:"content"`
	EndpointURL    string      `json:"endpoint"`
	Tags           []string    `json:"tags"`
}
