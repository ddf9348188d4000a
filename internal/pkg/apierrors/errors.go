// Package apierrors provides the standardized API error types used by every
// handler and by the provisioning pipeline when surfacing failures.
package apierrors

import (
	"fmt"
	"net/http"
)

// APIError is an error that maps directly onto the HTTP error envelope.
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
	}
}

// Standard error definitions
var (
	// ErrAuthHeadersMissing is returned when the upstream proxy did not
	// populate the identity headers.
	ErrAuthHeadersMissing = &APIError{
		Code:       "auth_headers_missing",
		Message:    "authentication headers missing",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrNotOwner is returned when the caller is not the recorded wiki owner.
	ErrNotOwner = &APIError{
		Code:       "not_owner",
		Message:    "not owner",
		StatusCode: http.StatusForbidden,
	}

	// ErrNotFound is returned on a wiki lookup miss.
	ErrNotFound = &APIError{
		Code:       "not_found",
		Message:    "wiki is not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrConflict is returned when a slug is already taken or reserved.
	ErrConflict = &APIError{
		Code:       "conflict",
		Message:    "slug exists",
		StatusCode: http.StatusConflict,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewParamInvalid creates the 400 returned when a string fails a validator.
func NewParamInvalid(value string) *APIError {
	return &APIError{
		Code:       "param_invalid",
		Message:    fmt.Sprintf("parameter %s is invalid", value),
		StatusCode: http.StatusBadRequest,
	}
}

// NewBadRequest creates a 400 with a custom code and message.
func NewBadRequest(code, message string) *APIError {
	return &APIError{Code: code, Message: message, StatusCode: http.StatusBadRequest}
}

// NewDBError wraps a database failure.
func NewDBError(err error) *APIError {
	return &APIError{Code: "db_error", Message: err.Error(), StatusCode: http.StatusInternalServerError}
}

// NewRedisError wraps a Redis failure.
func NewRedisError(err error) *APIError {
	return &APIError{Code: "redis_error", Message: err.Error(), StatusCode: http.StatusInternalServerError}
}

// NewFSError wraps a filesystem failure.
func NewFSError(err error) *APIError {
	return &APIError{Code: "fs_error", Message: err.Error(), StatusCode: http.StatusInternalServerError}
}

// NewDockerExecFailed wraps a non-zero container exec.
func NewDockerExecFailed(err error) *APIError {
	return &APIError{Code: "docker_exec_failed", Message: err.Error(), StatusCode: http.StatusInternalServerError}
}

// AsAPIError converts an error to an APIError if possible.
// Returns ErrInternal with the original message otherwise.
func AsAPIError(err error) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return ErrInternal.WithMessage(err.Error())
}
