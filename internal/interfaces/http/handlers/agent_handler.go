package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/interfaces/http/response"
	"x402-market.backend/internal/usecases"
)

// AgentExecutor is the single-shot settle+invoke surface.
type AgentExecutor interface {
	ExecuteForAgent(ctx context.Context, serviceID string, auth *entities.PaymentAuthorization, requestBody []byte) (*usecases.GatewayResult, *entities.Service, error)
}

// AgentHandler serves the agent-shaped catalog and the one-call execute
// path used by autonomous clients.
type AgentHandler struct {
	services ServiceManager
	executor AgentExecutor
}

func NewAgentHandler(services ServiceManager, executor AgentExecutor) *AgentHandler {
	return &AgentHandler{services: services, executor: executor}
}

// Services handles GET /agent/services
func (h *AgentHandler) Services(c *gin.Context) {
	entries, total, err := h.services.List(c.Request.Context(), c.Query("tag"), c.Query("search"), 0, 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"services": entries,
		"count":    total,
	})
}

// Service handles GET /agent/services/:id
func (h *AgentHandler) Service(c *gin.Context) {
	entry, err := h.services.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

type agentSignature struct {
	From        string `json:"from" binding:"required"`
	To          string `json:"to" binding:"required"`
	Value       string `json:"value" binding:"required"`
	ValidAfter  string `json:"valid_after" binding:"required"`
	ValidBefore string `json:"valid_before" binding:"required"`
	Nonce       string `json:"nonce" binding:"required"`
	V           uint8  `json:"v"`
	R           string `json:"r" binding:"required"`
	S           string `json:"s" binding:"required"`
}

type agentExecuteRequest struct {
	ServiceID     string          `json:"service_id" binding:"required"`
	WalletAddress string          `json:"wallet_address"`
	Signature     agentSignature  `json:"signature" binding:"required"`
	RequestBody   json.RawMessage `json:"request_body"`
}

// Execute handles POST /agent/execute
func (h *AgentHandler) Execute(c *gin.Context) {
	var req agentExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	auth := &entities.PaymentAuthorization{
		From:        req.Signature.From,
		To:          req.Signature.To,
		Value:       req.Signature.Value,
		ValidAfter:  req.Signature.ValidAfter,
		ValidBefore: req.Signature.ValidBefore,
		Nonce:       req.Signature.Nonce,
		V:           req.Signature.V,
		R:           req.Signature.R,
		S:           req.Signature.S,
	}
	if req.WalletAddress != "" && !strings.EqualFold(req.WalletAddress, auth.From) {
		response.Error(c, domainerrors.BadRequest("wallet_address does not match signature from"))
		return
	}

	result, service, err := h.executor.ExecuteForAgent(c.Request.Context(), req.ServiceID, auth, req.RequestBody)
	if err != nil {
		response.Error(c, err)
		return
	}

	body := gin.H{
		"payment": gin.H{
			"txHash":   result.TxHash,
			"payer":    result.Payment.Payer,
			"amount":   result.Payment.Amount,
			"receiver": service.ProviderAddress,
		},
		"service": gin.H{
			"id":       service.ID,
			"name":     service.Name,
			"endpoint": service.EndpointURL.String,
		},
	}
	if result.Content != nil {
		body["response"] = result.Content
	} else if result.Response != nil {
		body["response"] = result.Response
	} else if result.UpstreamError != "" {
		body["response"] = gin.H{"error": result.UpstreamError}
	}

	status := http.StatusOK
	if result.Status == entities.SettlementStatusTimedOut {
		status = http.StatusAccepted
	}
	response.Success(c, status, body)
}
