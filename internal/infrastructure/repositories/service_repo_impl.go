package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/infrastructure/models"
)

// ServiceRepository implements service catalog data operations
type ServiceRepository struct {
	db *gorm.DB
}

// NewServiceRepository creates a new service repository
func NewServiceRepository(db *gorm.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

// Create creates a new service record
func (r *ServiceRepository) Create(ctx context.Context, service *entities.Service) error {
	m := r.toModel(service)
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainerrors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetByID gets a service by its opaque ID
func (r *ServiceRepository) GetByID(ctx context.Context, id string) (*entities.Service, error) {
	var m models.Service
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

// List lists services with optional tag and name/description filters
func (r *ServiceRepository) List(ctx context.Context, tag, search string, limit, offset int) ([]*entities.Service, int, error) {
	db := GetDB(ctx, r.db)
	query := db.WithContext(ctx).Model(&models.Service{})
	if tag != "" {
		query = query.Where("tags LIKE ?", "%,"+strings.ToLower(strings.TrimSpace(tag))+",%")
	}
	if search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.Service
	q := query.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	var services []*entities.Service
	for _, m := range ms {
		model := m
		services = append(services, r.toEntity(&model))
	}
	return services, int(total), nil
}

// ListByProvider lists all services for a provider wallet
func (r *ServiceRepository) ListByProvider(ctx context.Context, providerAddress string) ([]*entities.Service, error) {
	var ms []models.Service
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).
		Where("provider_address = ?", strings.ToLower(providerAddress)).
		Order("created_at DESC").
		Find(&ms).Error; err != nil {
		return nil, err
	}

	var services []*entities.Service
	for _, m := range ms {
		model := m
		services = append(services, r.toEntity(&model))
	}
	return services, nil
}

// UpdatePrice updates a service price in base units
func (r *ServiceRepository) UpdatePrice(ctx context.Context, id, priceBaseUnits string) error {
	db := GetDB(ctx, r.db)
	result := db.WithContext(ctx).Model(&models.Service{}).
		Where("id = ?", id).
		Update("price_base_units", priceBaseUnits)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// SetActive flips the active flag
func (r *ServiceRepository) SetActive(ctx context.Context, id string, active bool) error {
	db := GetDB(ctx, r.db)
	result := db.WithContext(ctx).Model(&models.Service{}).
		Where("id = ?", id).
		Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// Delete removes a service record. Used to roll back a DB-first creation
// when the on-chain registration fails.
func (r *ServiceRepository) Delete(ctx context.Context, id string) error {
	db := GetDB(ctx, r.db)
	result := db.WithContext(ctx).Where("id = ?", id).Delete(&models.Service{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *ServiceRepository) toModel(s *entities.Service) *models.Service {
	m := &models.Service{
		ID:              s.ID,
		Name:            s.Name,
		Description:     s.Description,
		PriceBaseUnits:  s.PriceBaseUnits,
		TokenAddress:    strings.ToLower(s.TokenAddress),
		Kind:            string(s.Kind),
		ProviderAddress: strings.ToLower(s.ProviderAddress),
		Tags:            packTags(s.Tags),
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
	}
	if s.Content.Valid {
		val := s.Content.String
		m.Content = &val
	}
	if s.EndpointURL.Valid {
		val := s.EndpointURL.String
		m.EndpointURL = &val
	}
	return m
}

func (r *ServiceRepository) toEntity(m *models.Service) *entities.Service {
	s := &entities.Service{
		ID:              m.ID,
		Name:            m.Name,
		Description:     m.Description,
		PriceBaseUnits:  m.PriceBaseUnits,
		TokenAddress:    m.TokenAddress,
		Kind:            entities.ServiceKind(m.Kind),
		ProviderAddress: m.ProviderAddress,
		Tags:            unpackTags(m.Tags),
		IsActive:        m.IsActive,
		CreatedAt:       m.CreatedAt,
	}
	if m.Content != nil {
		s.Content = null.StringFrom(*m.Content)
	}
	if m.EndpointURL != nil {
		s.EndpointURL = null.StringFrom(*m.EndpointURL)
	}
	return s
}

// packTags stores tags as ",a,b," so a single LIKE "%,tag,%" matches
// whole tags only.
func packTags(tags []string) string {
	var cleaned []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}
	return "," + strings.Join(cleaned, ",") + ","
}

func unpackTags(packed string) []string {
	trimmed := strings.Trim(packed, ",")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ",")
}
