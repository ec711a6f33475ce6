package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/interfaces/http/middleware"
	"x402-market.backend/internal/interfaces/http/response"
	"x402-market.backend/internal/usecases"
	"x402-market.backend/pkg/utils"
)

// ServiceManager is the catalog surface consumed by this handler.
type ServiceManager interface {
	Create(ctx context.Context, providerWallet string, input *entities.CreateServiceInput) (*entities.Service, string, error)
	Get(ctx context.Context, id string) (*usecases.CatalogEntry, error)
	List(ctx context.Context, tag, search string, limit, offset int) ([]*usecases.CatalogEntry, int, error)
	ListByProvider(ctx context.Context, providerWallet string) ([]*entities.Service, error)
	UpdatePrice(ctx context.Context, providerWallet, id, priceBaseUnits string) (string, error)
	SetActive(ctx context.Context, providerWallet, id string, active bool) (string, error)
}

// ServiceHandler serves the public catalog and the provider-facing
// service management endpoints.
type ServiceHandler struct {
	services ServiceManager
}

func NewServiceHandler(services ServiceManager) *ServiceHandler {
	return &ServiceHandler{services: services}
}

// List handles GET /services
func (h *ServiceHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	params := utils.GetPaginationParams(page, limit)

	entries, total, err := h.services.List(c.Request.Context(), c.Query("tag"), c.Query("search"), params.Limit, params.CalculateOffset())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"services":   entries,
		"pagination": utils.CalculateMeta(int64(total), params.Page, params.Limit),
	})
}

// Get handles GET /services/:id
func (h *ServiceHandler) Get(c *gin.Context) {
	entry, err := h.services.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// Create handles POST /services (provider session required)
func (h *ServiceHandler) Create(c *gin.Context) {
	wallet, ok := middleware.WalletFromContext(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("provider session required"))
		return
	}

	var input entities.CreateServiceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	service, txHash, err := h.services.Create(c.Request.Context(), wallet, &input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{
		"service": service,
		"txHash":  txHash,
	})
}

// MyServices handles GET /providers/me/services
func (h *ServiceHandler) MyServices(c *gin.Context) {
	wallet, ok := middleware.WalletFromContext(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("provider session required"))
		return
	}
	services, err := h.services.ListByProvider(c.Request.Context(), wallet)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"services": services})
}

// UpdatePrice handles PUT /services/:id/price
func (h *ServiceHandler) UpdatePrice(c *gin.Context) {
	wallet, ok := middleware.WalletFromContext(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("provider session required"))
		return
	}

	var body struct {
		Price string `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, domainerrors.BadRequest("price is required"))
		return
	}

	txHash, err := h.services.UpdatePrice(c.Request.Context(), wallet, c.Param("id"), body.Price)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"txHash": txHash})
}

// SetActive handles PUT /services/:id/active
func (h *ServiceHandler) SetActive(c *gin.Context) {
	wallet, ok := middleware.WalletFromContext(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("provider session required"))
		return
	}

	var body struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Active == nil {
		response.Error(c, domainerrors.BadRequest("active is required"))
		return
	}

	txHash, err := h.services.SetActive(c.Request.Context(), wallet, c.Param("id"), *body.Active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"txHash": txHash})
}
