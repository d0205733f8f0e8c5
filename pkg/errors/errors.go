package errors

import (
	"errors"
	"fmt"
	"net/http"

	"deskbridge/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden            ErrorCode = "FORBIDDEN"
	ErrCodeConflict             ErrorCode = "CONFLICT"
	ErrCodeRateLimit            ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway           ErrorCode = "BAD_GATEWAY"
	ErrCodeSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeConnectionNotFound   ErrorCode = "CONNECTION_NOT_FOUND"
	ErrCodeTransport            ErrorCode = "TRANSPORT_ERROR"
	ErrCodeCrypto               ErrorCode = "CRYPTO_ERROR"
	ErrCodeCapture              ErrorCode = "CAPTURE_ERROR"
	ErrCodeInputDisabled        ErrorCode = "INPUT_DISABLED"
	ErrCodeInputExecutionFailed ErrorCode = "INPUT_EXECUTION_FAILED"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// domainMappings is checked in order; the first kind err carries wins.
var domainMappings = []struct {
	kind   error
	code   ErrorCode
	status int
}{
	{domain.ErrSessionNotFound, ErrCodeSessionNotFound, http.StatusNotFound},
	{domain.ErrConnectionNotFound, ErrCodeConnectionNotFound, http.StatusNotFound},
	{domain.ErrInputDisabled, ErrCodeInputDisabled, http.StatusForbidden},
	{domain.ErrInputValidation, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrUnknownConnectionType, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrInvalidTransition, ErrCodeConflict, http.StatusConflict},
	{domain.ErrTransport, ErrCodeTransport, http.StatusBadGateway},
	{domain.ErrCrypto, ErrCodeCrypto, http.StatusUnprocessableEntity},
	{domain.ErrCapture, ErrCodeCapture, http.StatusInternalServerError},
	{domain.ErrInputExecution, ErrCodeInputExecutionFailed, http.StatusInternalServerError},
}

// FromDomain maps a service error onto an AppError. The message is the
// error text so callers see the cause verbatim. Unknown errors become
// INTERNAL_ERROR; existing AppErrors pass through.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	for _, m := range domainMappings {
		if errors.Is(err, m.kind) {
			return WrapError(err, m.code, err.Error(), m.status)
		}
	}
	return WrapError(err, ErrCodeInternal, err.Error(), http.StatusInternalServerError)
}
