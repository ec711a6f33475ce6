package entities

import "time"

// Provider is the off-chain mirror of a service provider. Keyed by wallet
// address (canonical lowercase hex). TotalEarned/TotalClaimed are reporting
// mirrors; the authoritative claimable amount is always read from the
// on-chain escrow.
type Provider struct {
	WalletAddress string    `json:"walletAddress"`
	Name          string    `json:"name"`
	TotalEarned   string    `json:"totalEarned"`  // base units, decimal string
	TotalClaimed  string    `json:"totalClaimed"` // base units, decimal string
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ProviderRevenue combines the DB mirror with the on-chain balance override.
type ProviderRevenue struct {
	Provider         *Provider `json:"provider"`
	ClaimableBalance string    `json:"claimableBalance"` // escrow.providerBalances, on-chain truth
	Source           string    `json:"source"`
}
