package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"x402-market.backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	// LockDuration is the time we hold the lock while processing
	LockDuration = 30 * time.Second
	// RetentionDuration is how long we keep the response
	RetentionDuration = 24 * time.Hour
)

var (
	redisGet   = redis.Get
	redisSet   = redis.Set
	redisSetNX = redis.SetNX
	redisDel   = redis.Del
)

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// storedResponse keeps the status alongside the body so a replay can
// reproduce a 202 as faithfully as a 200.
type storedResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

func (w responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key instead of re-executing the handler. Keys are scoped to
// the caller's wallet when one is authenticated.
func IdempotencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		wallet := c.GetString(WalletAddressKey)
		storageKey := fmt.Sprintf("idempotency:%s:%s", wallet, key)
		ctx := c.Request.Context()

		val, err := redisGet(ctx, storageKey)
		if err == nil {
			if val == "processing" {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"error": "Request already in progress",
					"code":  "ERR_IDEMPOTENCY_CONFLICT",
				})
				return
			}
			c.Header("Content-Type", "application/json")
			c.Header("X-Idempotency-Hit", "true")
			var stored storedResponse
			if err := json.Unmarshal([]byte(val), &stored); err != nil || stored.Status == 0 {
				// pre-envelope entries carried the bare body
				c.String(http.StatusOK, val)
			} else {
				c.String(stored.Status, stored.Body)
			}
			c.Abort()
			return
		} else if err.Error() != "redis: nil" {
			c.Next()
			return
		}

		success, err := redisSetNX(ctx, storageKey, "processing", LockDuration)
		if err != nil || !success {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "Request in progress",
			})
			return
		}

		w := &responseWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		// Only successful responses are worth replaying; failures clear the
		// lock so the client can retry.
		if c.Writer.Status() >= 200 && c.Writer.Status() < 300 {
			entry, _ := json.Marshal(storedResponse{Status: c.Writer.Status(), Body: w.body.String()})
			_ = redisSet(ctx, storageKey, string(entry), RetentionDuration)
		} else {
			_ = redisDel(ctx, storageKey)
		}
	}
}
