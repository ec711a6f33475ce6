package handlers

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/interfaces/http/response"
	"x402-market.backend/internal/usecases"
)

// PaymentSignatureHeader carries the tunnel-mode payment envelope.
const PaymentSignatureHeader = "payment-signature"

const maxGatewayBodyBytes = 1 << 20 // 1 MiB

// PaymentGateway is the settlement pipeline consumed by this handler.
type PaymentGateway interface {
	Access(ctx context.Context, serviceID, method, paymentHeader string, body []byte) (*usecases.GatewayResult, *entities.PaymentRequired, error)
	SettleForService(ctx context.Context, serviceID string, auth *entities.PaymentAuthorization) (*entities.SettlementResult, *entities.Service, error)
	SettleUnbound(ctx context.Context, auth *entities.PaymentAuthorization) (*entities.SettlementResult, error)
	ServiceProviderAddress(ctx context.Context, serviceID string) (string, error)
	FeeSplit(amount string) (platformFee, providerRevenue string, err error)
}

// GatewayHandler serves the protected /gateway paths and the
// verify-payment delegation endpoint.
type GatewayHandler struct {
	gateway PaymentGateway
}

func NewGatewayHandler(gateway PaymentGateway) *GatewayHandler {
	return &GatewayHandler{gateway: gateway}
}

// Handle serves GET|POST /gateway/:service_id. Without a payment header
// the reply is the 402 challenge; with one, the full pipeline runs.
func (h *GatewayHandler) Handle(c *gin.Context) {
	serviceID := c.Param("service_id")
	header := c.GetHeader(PaymentSignatureHeader)

	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxGatewayBodyBytes))
	}

	result, challenge, err := h.gateway.Access(c.Request.Context(), serviceID, c.Request.Method, header, body)
	if err != nil {
		response.Error(c, err)
		return
	}
	if challenge != nil {
		response.PaymentRequired(c, challenge)
		return
	}

	status := http.StatusOK
	if result.Status == entities.SettlementStatusTimedOut {
		// The tx may still mine; reconciliation follows up.
		status = http.StatusAccepted
	}
	response.Success(c, status, result)
}

type verifyPaymentRequest struct {
	PaymentSignature string `json:"payment_signature" binding:"required"`
	ServiceID        string `json:"service_id"`
	ProviderID       string `json:"provider_id"`
	Amount           string `json:"amount"`
}

// VerifyPayment serves POST /verify-payment, the delegation endpoint for
// external services. With a service id the processor path runs; without
// one settlement falls back to the best-effort direct token path.
func (h *GatewayHandler) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest("payment_signature is required"))
		return
	}

	auth, _, err := usecases.DecodePaymentHeader(req.PaymentSignature)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.checkDelegatedClaims(c.Request.Context(), &req, auth); err != nil {
		response.Error(c, err)
		return
	}

	var result *entities.SettlementResult
	if req.ServiceID != "" {
		result, _, err = h.gateway.SettleForService(c.Request.Context(), req.ServiceID, auth)
	} else {
		result, err = h.gateway.SettleUnbound(c.Request.Context(), auth)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	platformFee, providerRevenue, err := h.gateway.FeeSplit(result.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"valid":            true,
		"tx_hash":          result.TxHash,
		"payer":            result.Payer,
		"amount":           result.Amount,
		"platform_fee":     platformFee,
		"provider_revenue": providerRevenue,
		"legacy":           result.Legacy,
	})
}

// checkDelegatedClaims cross-checks the caller's declared amount and
// provider against what the authorization actually signs. The delegation
// caller never sees the inner tuple, so disagreements mean a stale or
// mixed-up request.
func (h *GatewayHandler) checkDelegatedClaims(ctx context.Context, req *verifyPaymentRequest, auth *entities.PaymentAuthorization) error {
	if amount := strings.TrimSpace(req.Amount); amount != "" {
		claimed, ok := new(big.Int).SetString(amount, 10)
		signed, signedOK := auth.ValueBig()
		if !ok || !signedOK || claimed.Cmp(signed) != 0 {
			return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload,
				"amount does not match the signed authorization value")
		}
	}

	provider := strings.TrimSpace(req.ProviderID)
	if provider == "" {
		return nil
	}
	if req.ServiceID != "" {
		addr, err := h.gateway.ServiceProviderAddress(ctx, req.ServiceID)
		// an unknown service falls through to settlement for its 404
		if err == nil && !strings.EqualFold(addr, provider) {
			return domainerrors.BadRequest("provider_id does not own the requested service")
		}
		return nil
	}
	// unbound settlements pay the authorization's destination directly
	if !strings.EqualFold(provider, auth.To) {
		return domainerrors.BadRequest("provider_id does not match the authorization destination")
	}
	return nil
}
