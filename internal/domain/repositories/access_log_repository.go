package repositories

import (
	"context"

	"x402-market.backend/internal/domain/entities"
)

// AccessLogRepository defines append-only access log operations
type AccessLogRepository interface {
	Create(ctx context.Context, log *entities.AccessLog) error
	GetByTxHash(ctx context.Context, txHash string) (*entities.AccessLog, error)
	ListByService(ctx context.Context, serviceID string, limit, offset int) ([]*entities.AccessLog, int, error)
	ListByCaller(ctx context.Context, callerAddress string, limit, offset int) ([]*entities.AccessLog, int, error)
}

// ClaimRepository defines claim record operations
type ClaimRepository interface {
	Create(ctx context.Context, claim *entities.Claim) error
	ListByProvider(ctx context.Context, providerAddress string, limit, offset int) ([]*entities.Claim, int, error)
}
