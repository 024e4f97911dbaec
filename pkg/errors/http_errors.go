package errors

import (
	"fmt"
	"net/http"
)

// FromError converts a standard error to an AppError
// If the error already carries an AppError, that one is returned
// Otherwise, it is wrapped as an internal server error
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		return appErr
	}

	return Wrap(
		http.StatusInternalServerError,
		CodeInternal,
		fmt.Sprintf("An unexpected error occurred: %s", err.Error()),
		err,
	)
}

// GetStatusCode extracts the HTTP status code, returns 500 if not an AppError
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the human-readable message
func GetErrorMessage(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Message
	}
	return err.Error()
}

// StatusForCode maps an error code back to its HTTP status. Used when only
// the code survived, e.g. on a chat response.
func StatusForCode(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeProviderTimeout:
		return http.StatusGatewayTimeout
	case CodeProviderError:
		return http.StatusBadGateway
	case CodeSynthesisUnavailable:
		return http.StatusServiceUnavailable
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
