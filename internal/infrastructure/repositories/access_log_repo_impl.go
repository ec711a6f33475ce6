package repositories

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/infrastructure/models"
)

// AccessLogRepository implements append-only access log operations
type AccessLogRepository struct {
	db *gorm.DB
}

// NewAccessLogRepository creates a new access log repository
func NewAccessLogRepository(db *gorm.DB) *AccessLogRepository {
	return &AccessLogRepository{db: db}
}

// Create appends an access log row
func (r *AccessLogRepository) Create(ctx context.Context, log *entities.AccessLog) error {
	m := &models.AccessLog{
		ID:              log.ID,
		ServiceID:       log.ServiceID,
		CallerAddress:   strings.ToLower(log.CallerAddress),
		Amount:          log.Amount,
		ProviderRevenue: log.ProviderRevenue,
		TxHash:          strings.ToLower(log.TxHash),
		CreatedAt:       log.CreatedAt,
	}
	db := GetDB(ctx, r.db)
	return db.WithContext(ctx).Create(m).Error
}

// GetByTxHash gets an access log row by settlement transaction hash
func (r *AccessLogRepository) GetByTxHash(ctx context.Context, txHash string) (*entities.AccessLog, error) {
	var m models.AccessLog
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("tx_hash = ?", strings.ToLower(txHash)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toAccessLogEntity(&m), nil
}

// ListByService lists access log rows for a service
func (r *AccessLogRepository) ListByService(ctx context.Context, serviceID string, limit, offset int) ([]*entities.AccessLog, int, error) {
	return r.list(ctx, "service_id = ?", serviceID, limit, offset)
}

// ListByCaller lists access log rows for a payer address
func (r *AccessLogRepository) ListByCaller(ctx context.Context, callerAddress string, limit, offset int) ([]*entities.AccessLog, int, error) {
	return r.list(ctx, "caller_address = ?", strings.ToLower(callerAddress), limit, offset)
}

func (r *AccessLogRepository) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*entities.AccessLog, int, error) {
	db := GetDB(ctx, r.db)

	var total int64
	if err := db.WithContext(ctx).Model(&models.AccessLog{}).Where(where, arg).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.AccessLog
	q := db.WithContext(ctx).Where(where, arg).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	var logs []*entities.AccessLog
	for _, m := range ms {
		model := m
		logs = append(logs, toAccessLogEntity(&model))
	}
	return logs, int(total), nil
}

func toAccessLogEntity(m *models.AccessLog) *entities.AccessLog {
	return &entities.AccessLog{
		ID:              m.ID,
		ServiceID:       m.ServiceID,
		CallerAddress:   m.CallerAddress,
		Amount:          m.Amount,
		ProviderRevenue: m.ProviderRevenue,
		TxHash:          m.TxHash,
		CreatedAt:       m.CreatedAt,
	}
}
