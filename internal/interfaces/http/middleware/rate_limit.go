package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"x402-market.backend/pkg/redis"
)

var (
	rateLimitIncr   = redis.Incr
	rateLimitExpire = redis.Expire
)

// RateLimitMiddleware applies a fixed-window per-client request limit.
// Protected payment paths use it to bound gas-griefing attempts; the
// per-payer in-flight cap inside the gateway handles the rest.
func RateLimitMiddleware(limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || redis.GetClient() == nil {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:%s", c.FullPath(), c.ClientIP())
		count, err := rateLimitIncr(c.Request.Context(), key)
		if err != nil {
			// Redis down must not take the gateway with it.
			c.Next()
			return
		}
		if count == 1 {
			_ = rateLimitExpire(c.Request.Context(), key, window)
		}
		if count > int64(limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
