package response

import (
	"errors"

	"github.com/gin-gonic/gin"
	domainerrors "x402-market.backend/internal/domain/errors"
)

// Success sends a success response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Error sends an error response. AppErrors carry their own HTTP status and
// optional payment error kind; anything else is a 500.
func Error(c *gin.Context, err error) {
	var appErr *domainerrors.AppError
	if !errors.As(err, &appErr) {
		appErr = domainerrors.InternalError(err)
	}

	body := gin.H{
		"error":   appErr.Message,
		"message": appErr.Message,
	}
	if appErr.Kind != "" {
		body["kind"] = appErr.Kind
	}
	c.JSON(appErr.Code, body)
}

// PaymentRequired sends a 402 challenge body verbatim.
func PaymentRequired(c *gin.Context, challenge interface{}) {
	c.JSON(402, challenge)
}
