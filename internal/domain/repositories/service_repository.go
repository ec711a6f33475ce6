package repositories

import (
	"context"

	"x402-market.backend/internal/domain/entities"
)

// ServiceRepository defines service catalog data operations
type ServiceRepository interface {
	Create(ctx context.Context, service *entities.Service) error
	GetByID(ctx context.Context, id string) (*entities.Service, error)
	List(ctx context.Context, tag, search string, limit, offset int) ([]*entities.Service, int, error)
	ListByProvider(ctx context.Context, providerAddress string) ([]*entities.Service, error)
	UpdatePrice(ctx context.Context, id, priceBaseUnits string) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}
