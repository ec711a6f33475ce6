package repositories

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"x402-market.backend/internal/domain/entities"
	"x402-market.backend/internal/infrastructure/models"
)

// ClaimRepository implements claim record operations
type ClaimRepository struct {
	db *gorm.DB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// Create records a relayer-triggered withdrawal
func (r *ClaimRepository) Create(ctx context.Context, claim *entities.Claim) error {
	m := &models.Claim{
		ID:              claim.ID,
		ProviderAddress: strings.ToLower(claim.ProviderAddress),
		Amount:          claim.Amount,
		TxHash:          strings.ToLower(claim.TxHash),
		CreatedAt:       claim.CreatedAt,
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Create(m).Error
}

// ListByProvider lists claim records for a provider wallet
func (r *ClaimRepository) ListByProvider(ctx context.Context, providerAddress string, limit, offset int) ([]*entities.Claim, int, error) {
	db := GetDB(ctx, r.db)
	wallet := strings.ToLower(providerAddress)

	var total int64
	if err := db.WithContext(ctx).Model(&models.Claim{}).Where("provider_address = ?", wallet).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.Claim
	q := db.WithContext(ctx).Where("provider_address = ?", wallet).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	var claims []*entities.Claim
	for _, m := range ms {
		claims = append(claims, &entities.Claim{
			ID:              m.ID,
			ProviderAddress: m.ProviderAddress,
			Amount:          m.Amount,
			TxHash:          m.TxHash,
			CreatedAt:       m.CreatedAt,
		})
	}
	return claims, int(total), nil
}
