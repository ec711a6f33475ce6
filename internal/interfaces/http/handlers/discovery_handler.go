package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"x402-market.backend/internal/interfaces/http/response"
)

// DiscoveryHandler serves the machine-readable marketplace manifest.
type DiscoveryHandler struct {
	services ServiceManager
	baseURL  string
}

func NewDiscoveryHandler(services ServiceManager, baseURL string) *DiscoveryHandler {
	return &DiscoveryHandler{services: services, baseURL: baseURL}
}

// Manifest handles GET /.well-known/ai-plugin.json. Agents use this to
// find payable services and the signing material for each without a
// probing 402 round-trip.
func (h *DiscoveryHandler) Manifest(c *gin.Context) {
	entries, _, err := h.services.List(c.Request.Context(), "", "", 0, 0)
	if err != nil {
		response.Error(c, err)
		return
	}

	services := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		services = append(services, gin.H{
			"id":          entry.Service.ID,
			"name":        entry.Service.Name,
			"description": entry.Service.Description,
			"accepts":     entry.PaymentRequirements,
			"signing":     entry.SigningInfo,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"schema_version":        "v1",
		"name_for_human":        "x402 Market",
		"name_for_model":        "x402_market",
		"description_for_human": "Pay-per-call API marketplace settled with gasless token payments.",
		"description_for_model": "Marketplace of paid HTTP services. Each service lists x402 payment requirements; sign an EIP-712 ReceiveWithAuthorization and retry with the payment-signature header, or POST /agent/execute.",
		"api": gin.H{
			"type": "x402",
			"url":  h.baseURL,
		},
		"services": services,
	})
}
