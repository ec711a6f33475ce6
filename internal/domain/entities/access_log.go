package entities

import (
	"time"

	"github.com/google/uuid"
)

// AccessLog is an append-only record of a settled paid call. A row exists
// iff the settlement succeeded (or was optimistically accepted).
type AccessLog struct {
	ID              uuid.UUID `json:"id"`
	ServiceID       string    `json:"serviceId"`
	CallerAddress   string    `json:"callerAddress"`
	Amount          string    `json:"amount"`          // base units paid
	ProviderRevenue string    `json:"providerRevenue"` // amount x (1 - fee)
	TxHash          string    `json:"txHash"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Claim records a relayer-triggered escrow withdrawal on behalf of a provider.
type Claim struct {
	ID              uuid.UUID `json:"id"`
	ProviderAddress string    `json:"providerAddress"`
	Amount          string    `json:"amount"`
	TxHash          string    `json:"txHash"`
	CreatedAt       time.Time `json:"createdAt"`
}
