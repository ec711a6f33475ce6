package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/infrastructure/models"
)

// ProviderRepository implements provider mirror data operations
type ProviderRepository struct {
	db *gorm.DB
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *gorm.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// Upsert creates the provider row if missing, otherwise updates the name
func (r *ProviderRepository) Upsert(ctx context.Context, provider *entities.Provider) error {
	wallet := strings.ToLower(provider.WalletAddress)
	db := GetDB(ctx, r.db)

	var existing models.Provider
	err := db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m := &models.Provider{
			WalletAddress: wallet,
			Name:          provider.Name,
			TotalEarned:   zeroIfEmpty(provider.TotalEarned),
			TotalClaimed:  zeroIfEmpty(provider.TotalClaimed),
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		return db.WithContext(ctx).Create(m).Error
	}
	if err != nil {
		return err
	}

	if provider.Name != "" && provider.Name != existing.Name {
		return db.WithContext(ctx).Model(&models.Provider{}).
			Where("wallet_address = ?", wallet).
			Updates(map[string]interface{}{
				"name":       provider.Name,
				"updated_at": time.Now(),
			}).Error
	}
	return nil
}

// GetByWallet gets a provider by wallet address
func (r *ProviderRepository) GetByWallet(ctx context.Context, walletAddress string) (*entities.Provider, error) {
	var m models.Provider
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("wallet_address = ?", strings.ToLower(walletAddress)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.Provider{
		WalletAddress: m.WalletAddress,
		Name:          m.Name,
		TotalEarned:   m.TotalEarned,
		TotalClaimed:  m.TotalClaimed,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

// AddEarned increments total_earned by amount (base units, decimal string).
// The read-modify-write runs on the transaction-aware handle so a UnitOfWork
// scope keeps ledger writes atomic with the access log append.
func (r *ProviderRepository) AddEarned(ctx context.Context, walletAddress, amount string) error {
	return r.addCounter(ctx, walletAddress, amount, "total_earned")
}

// AddClaimed increments total_claimed by amount
func (r *ProviderRepository) AddClaimed(ctx context.Context, walletAddress, amount string) error {
	return r.addCounter(ctx, walletAddress, amount, "total_claimed")
}

func (r *ProviderRepository) addCounter(ctx context.Context, walletAddress, amount, column string) error {
	delta, ok := new(big.Int).SetString(amount, 10)
	if !ok || delta.Sign() < 0 {
		return domainerrors.ErrInvalidInput
	}

	wallet := strings.ToLower(walletAddress)
	db := GetDB(ctx, r.db)

	var m models.Provider
	if err := db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.ErrNotFound
		}
		return err
	}

	current := m.TotalEarned
	if column == "total_claimed" {
		current = m.TotalClaimed
	}
	base, ok := new(big.Int).SetString(zeroIfEmpty(current), 10)
	if !ok {
		return fmt.Errorf("corrupt %s value for provider %s: %q", column, wallet, current)
	}

	next := new(big.Int).Add(base, delta)
	return db.WithContext(ctx).Model(&models.Provider{}).
		Where("wallet_address = ?", wallet).
		Updates(map[string]interface{}{
			column:       next.String(),
			"updated_at": time.Now(),
		}).Error
}

func zeroIfEmpty(v string) string {
	if strings.TrimSpace(v) == "" {
		return "0"
	}
	return v
}
