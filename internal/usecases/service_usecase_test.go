package usecases

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"x402-market.backend/internal/config"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	infraRepos "x402-market.backend/internal/infrastructure/repositories"
)

type stubRegistrar struct {
	mu          sync.Mutex
	registerErr error
	priceErr    error
	activeErr   error
	registered  []string
	lastPrice   *big.Int
	lastActive  bool
}

func (r *stubRegistrar) RegisterService(ctx context.Context, idHash [32]byte, provider string, price *big.Int, name, endpoint string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return "", r.registerErr
	}
	r.registered = append(r.registered, name)
	return "0xregister01", nil
}

func (r *stubRegistrar) UpdateServicePrice(ctx context.Context, idHash [32]byte, price *big.Int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.priceErr != nil {
		return "", r.priceErr
	}
	r.lastPrice = price
	return "0xprice01", nil
}

func (r *stubRegistrar) SetServiceActive(ctx context.Context, idHash [32]byte, active bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeErr != nil {
		return "", r.activeErr
	}
	r.lastActive = active
	return "0xactive01", nil
}

type serviceFixture struct {
	usecase   *ServiceUsecase
	registrar *stubRegistrar
	services  *infraRepos.ServiceRepository
	provs     *infraRepos.ProviderRepository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db := openTestDB(t)
	serviceRepo := infraRepos.NewServiceRepository(db)
	providerRepo := infraRepos.NewProviderRepository(db)
	registrar := &stubRegistrar{}
	cfg := &config.Config{
		Server:     config.ServerConfig{BaseURL: "https://x402.example.com"},
		Blockchain: testBlockchainConfig(),
	}
	usecase := NewServiceUsecase(serviceRepo, providerRepo, registrar, NewRequirementsBuilder(cfg, testTokenInfo()), cfg)
	return &serviceFixture{usecase: usecase, registrar: registrar, services: serviceRepo, provs: providerRepo}
}

const ownerWallet = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"

func hostedInput() *entities.CreateServiceInput {
	return &entities.CreateServiceInput{
		ID:             "weather-api",
		Name:           "Weather API",
		Description:    "Hourly forecasts",
		PriceBaseUnits: "50000",
		Kind:           entities.ServiceKindHosted,
		Content:        `{"answer":42}`,
	}
}

func TestServiceCreate_Hosted(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	service, txHash, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.NoError(t, err)
	assert.Equal(t, "0xregister01", txHash)
	assert.Equal(t, strings.ToLower(ownerWallet), service.ProviderAddress)
	assert.Equal(t, strings.ToLower(testTokenAddr), service.TokenAddress)
	assert.True(t, service.IsActive)
	// hosted services point at the gateway itself
	assert.Equal(t, "https://x402.example.com/gateway/weather-api", service.EndpointURL.String)

	// the provider mirror row exists even before any settlement
	_, err = fx.provs.GetByWallet(ctx, service.ProviderAddress)
	assert.NoError(t, err)

	stored, err := fx.services.GetByID(ctx, "weather-api")
	require.NoError(t, err)
	assert.Equal(t, "50000", stored.PriceBaseUnits)
}

func TestServiceCreate_ProxyRequiresEndpoint(t *testing.T) {
	fx := newServiceFixture(t)

	input := hostedInput()
	input.Kind = entities.ServiceKindProxy
	input.Content = ""
	_, _, err := fx.usecase.Create(context.Background(), ownerWallet, input)
	require.Error(t, err)

	input.EndpointURL = "https://upstream.example.com/forecast"
	service, _, err := fx.usecase.Create(context.Background(), ownerWallet, input)
	require.NoError(t, err)
	assert.Equal(t, "https://upstream.example.com/forecast", service.EndpointURL.String)
}

func TestServiceCreate_InvalidInput(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *entities.CreateServiceInput)
	}{
		{"zero price", func(in *entities.CreateServiceInput) { in.PriceBaseUnits = "0" }},
		{"negative price", func(in *entities.CreateServiceInput) { in.PriceBaseUnits = "-5" }},
		{"non numeric price", func(in *entities.CreateServiceInput) { in.PriceBaseUnits = "0.5 USDT" }},
		{"hosted without content", func(in *entities.CreateServiceInput) { in.Content = " " }},
		{"unknown kind", func(in *entities.CreateServiceInput) { in.Kind = "LAMBDA" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := hostedInput()
			tt.mutate(input)
			_, _, err := fx.usecase.Create(ctx, ownerWallet, input)
			require.Error(t, err)
			var appErr *domainerrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, http.StatusBadRequest, appErr.Code)
		})
	}
}

func TestServiceCreate_DuplicateID(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.NoError(t, err)

	_, _, err = fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.Error(t, err)
	var appErr *domainerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusConflict, appErr.Code)
}

func TestServiceCreate_ChainFailureRollsBack(t *testing.T) {
	fx := newServiceFixture(t)
	fx.registrar.registerErr = errors.New("registry reverted")
	ctx := context.Background()

	_, _, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.Error(t, err)

	// the DB row was rolled back, so the id is free again
	_, err = fx.services.GetByID(ctx, "weather-api")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	fx.registrar.registerErr = nil
	_, _, err = fx.usecase.Create(ctx, ownerWallet, hostedInput())
	assert.NoError(t, err)
}

func TestServiceGetAndList(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.NoError(t, err)

	entry, err := fx.usecase.Get(ctx, "weather-api")
	require.NoError(t, err)
	assert.Equal(t, "weather-api", entry.Service.ID)
	require.NotNil(t, entry.PaymentRequirements)
	assert.Equal(t, "/gateway/weather-api", entry.PaymentRequirements.Resource)
	require.NotNil(t, entry.SigningInfo)
	assert.Equal(t, "https://x402.example.com/gateway/weather-api", entry.SigningInfo.Endpoint)

	entries, total, err := fx.usecase.List(ctx, "", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)

	entries, total, err = fx.usecase.List(ctx, "", "no-such-service", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)
}

func TestServiceCreate_TagsNormalizedAndFilterable(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	input := hostedInput()
	input.Tags = []string{" Weather ", "FORECASTS", ""}
	service, _, err := fx.usecase.Create(ctx, ownerWallet, input)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather", "forecasts"}, service.Tags)

	other := hostedInput()
	other.ID = "geo-api"
	other.Name = "Geo API"
	_, _, err = fx.usecase.Create(ctx, ownerWallet, other)
	require.NoError(t, err)

	entries, total, err := fx.usecase.List(ctx, "weather", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "weather-api", entries[0].Service.ID)
	assert.Equal(t, []string{"weather", "forecasts"}, entries[0].Service.Tags)
}

func TestServiceListByProvider(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.NoError(t, err)

	// lookup accepts the checksummed form of the stored lowercase address
	services, err := fx.usecase.ListByProvider(ctx, ownerWallet)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "weather-api", services[0].ID)

	services, err = fx.usecase.ListByProvider(ctx, "0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestServiceUpdatePrice(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.NoError(t, err)

	txHash, err := fx.usecase.UpdatePrice(ctx, ownerWallet, "weather-api", "75000")
	require.NoError(t, err)
	assert.Equal(t, "0xprice01", txHash)
	assert.Equal(t, big.NewInt(75_000), fx.registrar.lastPrice)

	stored, err := fx.services.GetByID(ctx, "weather-api")
	require.NoError(t, err)
	assert.Equal(t, "75000", stored.PriceBaseUnits)
}

func TestServiceUpdatePrice_NotOwner(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.NoError(t, err)

	_, err = fx.usecase.UpdatePrice(ctx, "0x90F79bf6EB2c4f870365E785982E1f101E93b906", "weather-api", "75000")
	require.Error(t, err)
	var appErr *domainerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusForbidden, appErr.Code)
}

func TestServiceUpdatePrice_ChainFailureKeepsMirror(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.NoError(t, err)

	fx.registrar.priceErr = errors.New("registry reverted")
	_, err = fx.usecase.UpdatePrice(ctx, ownerWallet, "weather-api", "75000")
	require.Error(t, err)

	stored, err := fx.services.GetByID(ctx, "weather-api")
	require.NoError(t, err)
	assert.Equal(t, "50000", stored.PriceBaseUnits)
}

func TestServiceSetActive(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := fx.usecase.Create(ctx, ownerWallet, hostedInput())
	require.NoError(t, err)

	txHash, err := fx.usecase.SetActive(ctx, ownerWallet, "weather-api", false)
	require.NoError(t, err)
	assert.Equal(t, "0xactive01", txHash)
	assert.False(t, fx.registrar.lastActive)

	stored, err := fx.services.GetByID(ctx, "weather-api")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestServiceSetActive_UnknownService(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.usecase.SetActive(context.Background(), ownerWallet, "missing", false)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}
