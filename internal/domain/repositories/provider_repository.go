package repositories

import (
	"context"

	"x402-market.backend/internal/domain/entities"
)

// ProviderRepository defines provider mirror data operations
type ProviderRepository interface {
	Upsert(ctx context.Context, provider *entities.Provider) error
	GetByWallet(ctx context.Context, walletAddress string) (*entities.Provider, error)
	// AddEarned increments total_earned by amount (decimal string, base units).
	AddEarned(ctx context.Context, walletAddress, amount string) error
	// AddClaimed increments total_claimed by amount.
	AddClaimed(ctx context.Context, walletAddress, amount string) error
}
