package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"x402-market.backend/internal/interfaces/http/handlers"
	"x402-market.backend/internal/interfaces/http/middleware"
)

type routeDeps struct {
	serviceHandler   *handlers.ServiceHandler
	gatewayHandler   *handlers.GatewayHandler
	agentHandler     *handlers.AgentHandler
	revenueHandler   *handlers.RevenueHandler
	authHandler      *handlers.AuthHandler
	discoveryHandler *handlers.DiscoveryHandler
	authMiddleware   gin.HandlerFunc
	apiKeyMiddleware gin.HandlerFunc
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	// Wallet-signature provider login
	auth := r.Group("/auth")
	{
		auth.POST("/challenge", d.authHandler.Challenge)
		auth.POST("/login", d.authHandler.Login)
	}

	// Public catalog
	r.GET("/services", d.serviceHandler.List)
	r.GET("/services/:id", d.serviceHandler.Get)

	// Provider service management (session required)
	r.POST("/services", d.authMiddleware, d.serviceHandler.Create)
	r.PUT("/services/:id/price", d.authMiddleware, d.serviceHandler.UpdatePrice)
	r.PUT("/services/:id/active", d.authMiddleware, d.serviceHandler.SetActive)
	r.GET("/providers/me/services", d.authMiddleware, d.serviceHandler.MyServices)

	// Protected resources: 402 challenge without payment, full pipeline with
	gateway := r.Group("/gateway")
	gateway.Use(middleware.RateLimitMiddleware(60, time.Minute))
	{
		gateway.GET("/:service_id", d.gatewayHandler.Handle)
		gateway.POST("/:service_id", d.gatewayHandler.Handle)
	}

	// Agent-facing catalog and single-shot execution
	agent := r.Group("/agent")
	{
		agent.GET("/services", d.agentHandler.Services)
		agent.GET("/services/:id", d.agentHandler.Service)
		agent.POST("/execute", middleware.IdempotencyMiddleware(), d.agentHandler.Execute)
	}

	// Delegation endpoint for external services
	r.POST("/verify-payment", d.apiKeyMiddleware, d.gatewayHandler.VerifyPayment)

	// Revenue and claims
	r.GET("/revenue/wallet", d.revenueHandler.WalletRevenue)
	r.GET("/revenue/:provider_id", d.revenueHandler.ProviderRevenue)
	r.GET("/revenue/:provider_id/claims", d.revenueHandler.ClaimHistory)
	r.POST("/claim", d.revenueHandler.Claim)

	// Machine-readable discovery manifest
	r.GET("/.well-known/ai-plugin.json", d.discoveryHandler.Manifest)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func applyCORSMiddleware(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, Idempotency-Key, payment-signature")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
}

func registerHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "x402-market-backend",
			"version": "0.2.0",
		})
	})
}
