package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/interfaces/http/response"
	"x402-market.backend/internal/usecases"
)

// RevenueService is the revenue/claim surface consumed by this handler.
type RevenueService interface {
	WalletRevenue(ctx context.Context, address string) (*usecases.WalletRevenue, error)
	ProviderRevenue(ctx context.Context, wallet string) (*usecases.ProviderRevenue, error)
	Claim(ctx context.Context, wallet, amountBaseUnits string) (*usecases.ClaimResult, error)
	Claims(ctx context.Context, wallet string, limit, offset int) ([]*entities.Claim, int, error)
}

// RevenueHandler serves revenue views and provider claims.
type RevenueHandler struct {
	revenue RevenueService
}

func NewRevenueHandler(revenue RevenueService) *RevenueHandler {
	return &RevenueHandler{revenue: revenue}
}

// WalletRevenue handles GET /revenue/wallet?address=W
func (h *RevenueHandler) WalletRevenue(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		response.Error(c, domainerrors.BadRequest("address query parameter is required"))
		return
	}
	view, err := h.revenue.WalletRevenue(c.Request.Context(), address)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ProviderRevenue handles GET /revenue/:provider_id
func (h *RevenueHandler) ProviderRevenue(c *gin.Context) {
	view, err := h.revenue.ProviderRevenue(c.Request.Context(), c.Param("provider_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

type claimRequest struct {
	WalletAddress string `json:"wallet_address"`
	ProviderID    string `json:"provider_id"`
	Amount        string `json:"amount" binding:"required"`
}

// Claim handles POST /claim. The wallet may arrive under either key; both
// identify a provider by address.
func (h *RevenueHandler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest("amount is required"))
		return
	}
	wallet := strings.TrimSpace(req.WalletAddress)
	if wallet == "" {
		wallet = strings.TrimSpace(req.ProviderID)
	}
	if wallet == "" {
		response.Error(c, domainerrors.BadRequest("wallet_address or provider_id is required"))
		return
	}

	result, err := h.revenue.Claim(c.Request.Context(), wallet, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ClaimHistory handles GET /revenue/:provider_id/claims
func (h *RevenueHandler) ClaimHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	claims, total, err := h.revenue.Claims(c.Request.Context(), c.Param("provider_id"), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"claims": claims,
		"total":  total,
	})
}
