package errors

import (
	"errors"
	"net/http"
)

// Domain errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrServiceInactive   = errors.New("service inactive")
	ErrSettlementFailed  = errors.New("settlement failed")
	ErrUpstreamFailed    = errors.New("upstream request failed")
	ErrPaymentRequired   = errors.New("payment required")
	ErrInsufficientValue = errors.New("insufficient payment value")
)

// Payment error kinds. These are wire-level identifiers surfaced to clients
// so that agents can branch on failure causes without parsing messages.
const (
	KindMissingPayment      = "MISSING_PAYMENT"
	KindInvalidPayload      = "INVALID_PAYLOAD"
	KindBadRequirementsEcho = "BAD_REQUIREMENTS_ECHO"
	KindBadDestination      = "BAD_DESTINATION"
	KindInsufficientValue   = "INSUFFICIENT_VALUE"
	KindOutOfWindow         = "OUT_OF_WINDOW"
	KindNonceUsed           = "NONCE_USED"
	KindBadSignature        = "BAD_SIGNATURE"
	KindServiceInactive     = "SERVICE_INACTIVE"
	KindSettlementFailed    = "SETTLEMENT_FAILED"
	KindUpstreamFailed      = "UPSTREAM_FAILED"
	KindTimedOut            = "TIMED_OUT"
)

// AppError represents an application error with HTTP status and an
// optional machine-readable kind.
type AppError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new app error
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, ErrInvalidInput)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, message, ErrUnauthorized)
}

func Forbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, message, ErrForbidden)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, "internal server error", err)
}

// Payment constructs an error carrying an x402 error kind. The HTTP status
// follows the taxonomy: client-correctable decode failures are 400,
// payment-state failures (expired window, spent nonce, bad signature) are
// 402 so the caller knows a fresh signature can succeed.
func Payment(code int, kind, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     ErrPaymentRequired,
	}
}

// Kind extracts the payment error kind from any error, or "" when the
// error does not carry one.
func Kind(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
