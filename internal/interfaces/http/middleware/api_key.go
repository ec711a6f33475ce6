package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pkgcrypto "x402-market.backend/pkg/crypto"
)

// APIKeyHeader carries the delegation key for external services.
const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware guards the verify-payment delegation endpoint. The
// plaintext key only exists in configuration; this middleware holds a
// bcrypt hash computed at startup.
func APIKeyMiddleware(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "delegation endpoint is not configured",
			})
			return
		}
		key := c.GetHeader(APIKeyHeader)
		if key == "" || !pkgcrypto.CheckAPIKey(key, keyHash) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid api key",
			})
			return
		}
		c.Next()
	}
}
