package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes shared by the chat pipeline, the WebSocket layer and the HTTP API.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeProviderTimeout      = "PROVIDER_TIMEOUT"
	CodeProviderError        = "PROVIDER_ERROR"
	CodeSynthesisUnavailable = "SYNTHESIS_UNAVAILABLE"
	CodePersistence          = "PERSISTENCE_ERROR"
	CodeInternal             = "INTERNAL_ERROR"
	CodeUnknown              = "UNKNOWN_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Wrap creates an application error carrying cause
func Wrap(statusCode int, code, message string, cause error) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Err:        cause,
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewTooManyRequestsError creates a 429 error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// Validation reports a missing or invalid request field.
func Validation(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeValidation, message)
}

// NotFound reports an absent persona, record or session.
func NotFound(message string) *AppError {
	return NewError(http.StatusNotFound, CodeNotFound, message)
}

// ProviderTimeout reports a model or speech call that exceeded its deadline.
func ProviderTimeout(message string, cause error) *AppError {
	return Wrap(http.StatusGatewayTimeout, CodeProviderTimeout, message, cause)
}

// ProviderFailure reports a model or speech call that failed.
func ProviderFailure(message string, cause error) *AppError {
	return Wrap(http.StatusBadGateway, CodeProviderError, message, cause)
}

// SynthesisUnavailable reports a failed voice step. Callers treat it as non-fatal.
func SynthesisUnavailable(message string, cause error) *AppError {
	return Wrap(http.StatusServiceUnavailable, CodeSynthesisUnavailable, message, cause)
}

// Persistence reports a failed write after a successful model call.
func Persistence(message string, cause error) *AppError {
	return Wrap(http.StatusInternalServerError, CodePersistence, message, cause)
}

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries an AppError with the given code
func Is(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
