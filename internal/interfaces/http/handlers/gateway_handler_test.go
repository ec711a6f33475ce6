package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/usecases"
)

type fakeGateway struct {
	result    *usecases.GatewayResult
	challenge *entities.PaymentRequired
	accessErr error

	settleResult *entities.SettlementResult
	settleErr    error
	feeErr       error

	providerAddr string
	providerErr  error

	serviceID string
	method    string
	header    string
	body      []byte
	boundN    int
	unboundN  int
	lastAuth  *entities.PaymentAuthorization
}

func (f *fakeGateway) Access(_ context.Context, serviceID, method, paymentHeader string, body []byte) (*usecases.GatewayResult, *entities.PaymentRequired, error) {
	f.serviceID, f.method, f.header, f.body = serviceID, method, paymentHeader, body
	return f.result, f.challenge, f.accessErr
}

func (f *fakeGateway) SettleForService(_ context.Context, serviceID string, auth *entities.PaymentAuthorization) (*entities.SettlementResult, *entities.Service, error) {
	f.boundN++
	f.serviceID, f.lastAuth = serviceID, auth
	if f.settleErr != nil {
		return nil, nil, f.settleErr
	}
	return f.settleResult, &entities.Service{ID: serviceID}, nil
}

func (f *fakeGateway) SettleUnbound(_ context.Context, auth *entities.PaymentAuthorization) (*entities.SettlementResult, error) {
	f.unboundN++
	f.lastAuth = auth
	return f.settleResult, f.settleErr
}

func (f *fakeGateway) ServiceProviderAddress(_ context.Context, serviceID string) (string, error) {
	return f.providerAddr, f.providerErr
}

func (f *fakeGateway) FeeSplit(amount string) (string, string, error) {
	if f.feeErr != nil {
		return "", "", f.feeErr
	}
	return "50000", "950000", nil
}

func gatewayRouter(fake *fakeGateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewGatewayHandler(fake)
	r := gin.New()
	r.GET("/gateway/:service_id", h.Handle)
	r.POST("/gateway/:service_id", h.Handle)
	r.POST("/verify-payment", h.VerifyPayment)
	return r
}

func TestGatewayHandle_ChallengePassThrough(t *testing.T) {
	fake := &fakeGateway{challenge: &entities.PaymentRequired{
		Error: "Payment Required",
		Accepts: []entities.PaymentRequirements{
			*catalogFixture("weather-api").PaymentRequirements,
		},
	}}
	r := gatewayRouter(fake)

	req := httptest.NewRequest(http.MethodGet, "/gateway/weather-api", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.Contains(t, w.Body.String(), "Payment Required")
	require.Contains(t, w.Body.String(), `"accepts"`)
	require.Equal(t, "weather-api", fake.serviceID)
	require.Empty(t, fake.header)
}

func TestGatewayHandle_ConfirmedResult(t *testing.T) {
	fake := &fakeGateway{result: &usecases.GatewayResult{
		TxHash: "0xsettled01",
		Status: entities.SettlementStatusConfirmed,
	}}
	r := gatewayRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/gateway/weather-api", strings.NewReader(`{"city":"Berlin"}`))
	req.Header.Set(PaymentSignatureHeader, "envelope")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "0xsettled01")
	require.Equal(t, http.MethodPost, fake.method)
	require.Equal(t, "envelope", fake.header)
	require.Equal(t, `{"city":"Berlin"}`, string(fake.body))
}

func TestGatewayHandle_TimedOutIsAccepted(t *testing.T) {
	fake := &fakeGateway{result: &usecases.GatewayResult{
		TxHash: "0xpending01",
		Status: entities.SettlementStatusTimedOut,
	}}
	r := gatewayRouter(fake)

	req := httptest.NewRequest(http.MethodGet, "/gateway/weather-api", nil)
	req.Header.Set(PaymentSignatureHeader, "envelope")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Contains(t, w.Body.String(), "0xpending01")
}

func TestGatewayHandle_PaymentErrorCarriesKind(t *testing.T) {
	fake := &fakeGateway{accessErr: domainerrors.Payment(http.StatusPaymentRequired, domainerrors.KindNonceUsed, "authorization already used")}
	r := gatewayRouter(fake)

	req := httptest.NewRequest(http.MethodGet, "/gateway/weather-api", nil)
	req.Header.Set(PaymentSignatureHeader, "envelope")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.Contains(t, w.Body.String(), domainerrors.KindNonceUsed)
}

func TestVerifyPayment_MissingSignature(t *testing.T) {
	fake := &fakeGateway{}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{"service_id": "weather-api"}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, fake.boundN+fake.unboundN)
}

func TestVerifyPayment_MalformedHeader(t *testing.T) {
	fake := &fakeGateway{}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": "!!! not base64 !!!",
	}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), domainerrors.KindInvalidPayload)
	require.Zero(t, fake.boundN+fake.unboundN)
}

func TestVerifyPayment_BoundService(t *testing.T) {
	fake := &fakeGateway{settleResult: &entities.SettlementResult{
		Status: entities.SettlementStatusConfirmed,
		TxHash: "0xverify01",
		Payer:  strings.ToLower(testPayer),
		Amount: "1000000",
	}}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
		"service_id":        "weather-api",
	}))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, fake.boundN)
	require.Zero(t, fake.unboundN)
	require.Equal(t, "weather-api", fake.serviceID)
	require.Equal(t, strings.ToLower(testPayer), strings.ToLower(fake.lastAuth.From))

	body := w.Body.String()
	require.Contains(t, body, `"valid":true`)
	require.Contains(t, body, `"tx_hash":"0xverify01"`)
	require.Contains(t, body, `"platform_fee":"50000"`)
	require.Contains(t, body, `"provider_revenue":"950000"`)
}

func TestVerifyPayment_UnboundFallsBackToDirect(t *testing.T) {
	fake := &fakeGateway{settleResult: &entities.SettlementResult{
		Status: entities.SettlementStatusConfirmed,
		TxHash: "0xdirect01",
		Payer:  strings.ToLower(testPayer),
		Amount: "1000000",
		Legacy: true,
	}}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
	}))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, fake.unboundN)
	require.Zero(t, fake.boundN)
	require.Contains(t, w.Body.String(), `"legacy":true`)
}

func TestVerifyPayment_AmountMismatch(t *testing.T) {
	fake := &fakeGateway{}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
		"service_id":        "weather-api",
		"amount":            "999999",
	}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), domainerrors.KindInvalidPayload)
	require.Zero(t, fake.boundN+fake.unboundN)
}

func TestVerifyPayment_AmountMatchProceeds(t *testing.T) {
	fake := &fakeGateway{settleResult: &entities.SettlementResult{
		Status: entities.SettlementStatusConfirmed,
		TxHash: "0xverify02",
		Payer:  strings.ToLower(testPayer),
		Amount: "1000000",
	}}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
		"service_id":        "weather-api",
		"amount":            "1000000",
	}))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, fake.boundN)
}

func TestVerifyPayment_ProviderMismatchForService(t *testing.T) {
	fake := &fakeGateway{providerAddr: "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
		"service_id":        "weather-api",
		"provider_id":       testPayer,
	}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "provider_id")
	require.Zero(t, fake.boundN+fake.unboundN)
}

func TestVerifyPayment_ProviderMatchesOwner(t *testing.T) {
	fake := &fakeGateway{
		providerAddr: "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc",
		settleResult: &entities.SettlementResult{
			Status: entities.SettlementStatusConfirmed,
			TxHash: "0xverify03",
			Payer:  strings.ToLower(testPayer),
			Amount: "1000000",
		},
	}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	// checksummed form of the stored lowercase owner
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
		"service_id":        "weather-api",
		"provider_id":       testWallet,
	}))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, fake.boundN)
}

func TestVerifyPayment_UnboundProviderMustMatchDestination(t *testing.T) {
	fake := &fakeGateway{settleResult: &entities.SettlementResult{
		Status: entities.SettlementStatusConfirmed,
		TxHash: "0xdirect02",
		Payer:  strings.ToLower(testPayer),
		Amount: "1000000",
		Legacy: true,
	}}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
		"provider_id":       testWallet,
	}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, fake.unboundN)

	// the authorization destination itself is accepted
	w = httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
		"provider_id":       testEscrow,
	}))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, fake.unboundN)
}

func TestVerifyPayment_SettlementFailure(t *testing.T) {
	fake := &fakeGateway{settleErr: domainerrors.Payment(http.StatusPaymentRequired, domainerrors.KindNonceUsed, "authorization already used")}
	r := gatewayRouter(fake)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonRequest(t, http.MethodPost, "/verify-payment", gin.H{
		"payment_signature": bareSignatureHeader(t, validAuthorization()),
		"service_id":        "weather-api",
	}))

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.Contains(t, w.Body.String(), domainerrors.KindNonceUsed)
	require.NotContains(t, w.Body.String(), `"valid"`)
}
