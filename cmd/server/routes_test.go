package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"x402-market.backend/internal/interfaces/http/handlers"
)

func testRouteDeps() routeDeps {
	return routeDeps{
		serviceHandler:   &handlers.ServiceHandler{},
		gatewayHandler:   &handlers.GatewayHandler{},
		agentHandler:     &handlers.AgentHandler{},
		revenueHandler:   &handlers.RevenueHandler{},
		authHandler:      &handlers.AuthHandler{},
		discoveryHandler: &handlers.DiscoveryHandler{},
		authMiddleware:   func(c *gin.Context) { c.Next() },
		apiKeyMiddleware: func(c *gin.Context) { c.Next() },
	}
}

func TestRegisterRoutes_RegistersKeyRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r, testRouteDeps())

	expects := []struct {
		method string
		path   string
	}{
		{"POST", "/auth/challenge"},
		{"POST", "/auth/login"},
		{"GET", "/services"},
		{"GET", "/services/:id"},
		{"POST", "/services"},
		{"PUT", "/services/:id/price"},
		{"PUT", "/services/:id/active"},
		{"GET", "/providers/me/services"},
		{"GET", "/gateway/:service_id"},
		{"POST", "/gateway/:service_id"},
		{"GET", "/agent/services"},
		{"POST", "/agent/execute"},
		{"POST", "/verify-payment"},
		{"GET", "/revenue/wallet"},
		{"GET", "/revenue/:provider_id"},
		{"POST", "/claim"},
		{"GET", "/.well-known/ai-plugin.json"},
		{"GET", "/metrics"},
	}

	routes := r.Routes()
	for _, exp := range expects {
		found := false
		for _, route := range routes {
			if route.Method == exp.method && route.Path == exp.path {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("route %s %s not registered", exp.method, exp.path)
		}
	}
}

func TestRegisterRoutes_RouteResponds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerHealthRoute(r)
	registerRoutes(r, testRouteDeps())

	// Smoke: unrelated helper route still works after route registration.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
