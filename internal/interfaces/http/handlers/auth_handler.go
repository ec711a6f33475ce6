package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/interfaces/http/response"
)

// WalletAuthenticator is the nonce-challenge login surface.
type WalletAuthenticator interface {
	Challenge(ctx context.Context, walletAddress string) (string, error)
	Login(ctx context.Context, walletAddress, signatureHex, name string) (string, *entities.Provider, error)
}

// AuthHandler serves wallet-signature provider login.
type AuthHandler struct {
	auth WalletAuthenticator
}

func NewAuthHandler(auth WalletAuthenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type authChallengeRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// Challenge handles POST /auth/challenge
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req authChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest("wallet_address is required"))
		return
	}

	message, err := h.auth.Challenge(c.Request.Context(), req.WalletAddress)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": message})
}

type authLoginRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
	Name          string `json:"name"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req authLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest("wallet_address and signature are required"))
		return
	}

	token, provider, err := h.auth.Login(c.Request.Context(), req.WalletAddress, req.Signature, req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"token":    token,
		"provider": provider,
	})
}
