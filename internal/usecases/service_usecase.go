package usecases

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"
	"x402-market.backend/internal/config"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/domain/repositories"
	"x402-market.backend/pkg/logger"
)

// OnchainRegistrar is the registry write surface backed by the relayer.
type OnchainRegistrar interface {
	RegisterService(ctx context.Context, idHash [32]byte, provider string, price *big.Int, name, endpoint string) (string, error)
	UpdateServicePrice(ctx context.Context, idHash [32]byte, price *big.Int) (string, error)
	SetServiceActive(ctx context.Context, idHash [32]byte, active bool) (string, error)
}

// CatalogEntry is a service dressed for discovery: the record plus the
// structured requirements and typed-data material an agent needs to pay.
type CatalogEntry struct {
	Service             *entities.Service             `json:"service"`
	PaymentRequirements *entities.PaymentRequirements `json:"paymentRequirements"`
	SigningInfo         *SigningInfo                  `json:"signingInfo"`
}

// ServiceUsecase manages the service catalog: DB record first, on-chain
// registration second, with rollback when the chain write fails.
type ServiceUsecase struct {
	serviceRepo  repositories.ServiceRepository
	providerRepo repositories.ProviderRepository
	registrar    OnchainRegistrar
	requirements *RequirementsBuilder
	baseURL      string
}

func NewServiceUsecase(
	serviceRepo repositories.ServiceRepository,
	providerRepo repositories.ProviderRepository,
	registrar OnchainRegistrar,
	requirements *RequirementsBuilder,
	cfg *config.Config,
) *ServiceUsecase {
	return &ServiceUsecase{
		serviceRepo:  serviceRepo,
		providerRepo: providerRepo,
		registrar:    registrar,
		requirements: requirements,
		baseURL:      strings.TrimRight(cfg.Server.BaseURL, "/"),
	}
}

// Create registers a service DB-first, then on-chain. A failed on-chain
// registration rolls the DB row back so the two catalogs never diverge on
// creation.
func (u *ServiceUsecase) Create(ctx context.Context, providerWallet string, input *entities.CreateServiceInput) (*entities.Service, string, error) {
	price, err := parseUint256(input.PriceBaseUnits)
	if err != nil || price.Sign() <= 0 {
		return nil, "", domainerrors.BadRequest("price must be a positive integer in base units")
	}

	service := &entities.Service{
		ID:              strings.TrimSpace(input.ID),
		Name:            input.Name,
		Description:     input.Description,
		PriceBaseUnits:  price.String(),
		TokenAddress:    u.requirements.token.Address,
		Kind:            input.Kind,
		ProviderAddress: strings.ToLower(providerWallet),
		Tags:            normalizeTags(input.Tags),
		IsActive:        true,
		CreatedAt:       time.Now(),
	}

	switch input.Kind {
	case entities.ServiceKindHosted:
		if strings.TrimSpace(input.Content) == "" {
			return nil, "", domainerrors.BadRequest("hosted services require content")
		}
		service.Content = null.StringFrom(input.Content)
		// The endpoint of a hosted service is the gateway itself.
		service.EndpointURL = null.StringFrom(u.baseURL + "/gateway/" + service.ID)
	case entities.ServiceKindProxy, entities.ServiceKindNative:
		if strings.TrimSpace(input.EndpointURL) == "" {
			return nil, "", domainerrors.BadRequest("proxy and native services require an endpoint")
		}
		service.EndpointURL = null.StringFrom(input.EndpointURL)
	default:
		return nil, "", domainerrors.BadRequest("kind must be HOSTED, PROXY or NATIVE")
	}

	if err := u.providerRepo.Upsert(ctx, &entities.Provider{WalletAddress: service.ProviderAddress}); err != nil {
		return nil, "", err
	}
	if err := u.serviceRepo.Create(ctx, service); err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			return nil, "", domainerrors.NewAppError(409, "service id already registered", domainerrors.ErrAlreadyExists)
		}
		return nil, "", err
	}

	endpoint := service.EndpointURL.String
	txHash, err := u.registrar.RegisterService(ctx, service.IDHash(), service.ProviderAddress, price, service.Name, endpoint)
	if err != nil {
		logger.WithContext(ctx).Error("on-chain registration failed, rolling back service record",
			zap.String("service_id", service.ID), zap.Error(err))
		if delErr := u.serviceRepo.Delete(ctx, service.ID); delErr != nil {
			logger.WithContext(ctx).Error("rollback of service record failed",
				zap.String("service_id", service.ID), zap.Error(delErr))
		}
		return nil, "", err
	}
	return service, txHash, nil
}

// Get returns one catalog entry
func (u *ServiceUsecase) Get(ctx context.Context, id string) (*CatalogEntry, error) {
	service, err := u.serviceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.toEntry(service), nil
}

// List returns catalog entries with optional tag and search filters
func (u *ServiceUsecase) List(ctx context.Context, tag, search string, limit, offset int) ([]*CatalogEntry, int, error) {
	services, total, err := u.serviceRepo.List(ctx, tag, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	entries := make([]*CatalogEntry, 0, len(services))
	for _, s := range services {
		entries = append(entries, u.toEntry(s))
	}
	return entries, total, nil
}

// ListByProvider returns a provider's own services
func (u *ServiceUsecase) ListByProvider(ctx context.Context, providerWallet string) ([]*entities.Service, error) {
	return u.serviceRepo.ListByProvider(ctx, providerWallet)
}

// UpdatePrice changes a service price on-chain first, then mirrors it.
// Only the owning provider may call this.
func (u *ServiceUsecase) UpdatePrice(ctx context.Context, providerWallet, id, priceBaseUnits string) (string, error) {
	service, err := u.requireOwnership(ctx, providerWallet, id)
	if err != nil {
		return "", err
	}
	price, err := parseUint256(priceBaseUnits)
	if err != nil || price.Sign() <= 0 {
		return "", domainerrors.BadRequest("price must be a positive integer in base units")
	}
	txHash, err := u.registrar.UpdateServicePrice(ctx, service.IDHash(), price)
	if err != nil {
		return "", err
	}
	if err := u.serviceRepo.UpdatePrice(ctx, id, price.String()); err != nil {
		logger.WithContext(ctx).Error("price updated on-chain but mirror update failed",
			zap.String("service_id", id), zap.String("tx_hash", txHash), zap.Error(err))
		return txHash, err
	}
	return txHash, nil
}

// SetActive flips the active flag on-chain first, then mirrors it
func (u *ServiceUsecase) SetActive(ctx context.Context, providerWallet, id string, active bool) (string, error) {
	service, err := u.requireOwnership(ctx, providerWallet, id)
	if err != nil {
		return "", err
	}
	txHash, err := u.registrar.SetServiceActive(ctx, service.IDHash(), active)
	if err != nil {
		return "", err
	}
	if err := u.serviceRepo.SetActive(ctx, id, active); err != nil {
		logger.WithContext(ctx).Error("active flag updated on-chain but mirror update failed",
			zap.String("service_id", id), zap.String("tx_hash", txHash), zap.Error(err))
		return txHash, err
	}
	return txHash, nil
}

func (u *ServiceUsecase) requireOwnership(ctx context.Context, providerWallet, id string) (*entities.Service, error) {
	service, err := u.serviceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sameAddress(service.ProviderAddress, providerWallet) {
		return nil, domainerrors.Forbidden("service belongs to another provider")
	}
	return service, nil
}

func normalizeTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func (u *ServiceUsecase) toEntry(service *entities.Service) *CatalogEntry {
	return &CatalogEntry{
		Service:             service,
		PaymentRequirements: u.requirements.Build(service),
		SigningInfo:         u.requirements.SigningInfoFor(service),
	}
}
