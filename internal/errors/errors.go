// Package errors provides coded domain errors and the user-facing Result type.
//
// Usage:
//
//	// In components - return typed errors
//	if !cfg.Remote.Configured() {
//	    return errors.Configuration("Auth is not configured.")
//	}
//
//	// At the user-facing edge - collapse to a Result
//	return errors.FromError(err)
//
//	// Or switch on the code
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeNetwork:
//	        // retry at next trigger
//	    case errors.CodeAuth:
//	        // surface message
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeValidation    Code = "VALIDATION"
	CodeConflict      Code = "CONFLICT"
	CodeInternal      Code = "INTERNAL"

	// CodeConfiguration means remote credentials are absent; callers keep working locally.
	CodeConfiguration Code = "CONFIGURATION"
	// CodeAuth covers bad credentials and rejected refresh tokens.
	CodeAuth Code = "AUTH"
	// CodeNetwork is a failed remote request. Retry happens at the next trigger, never immediately.
	CodeNetwork Code = "NETWORK"
	// CodeDataIntegrity marks malformed stored data that was treated as empty.
	CodeDataIntegrity Code = "DATA_INTEGRITY"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized, CodeAuth:
		return http.StatusUnauthorized
	case CodeValidation:
		return http.StatusBadRequest
	case CodeConfiguration:
		return http.StatusServiceUnavailable
	case CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAuth     = &Error{Code: CodeAuth, Message: "authentication failed"}
	ErrNetwork  = &Error{Code: CodeNetwork, Message: "network error"}
)

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: msg}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Configuration creates a configuration error.
func Configuration(msg string) *Error {
	return &Error{Code: CodeConfiguration, Message: msg}
}

// Auth creates an authentication error.
func Auth(msg string) *Error {
	return &Error{Code: CodeAuth, Message: msg}
}

// Network wraps a transport failure.
func Network(msg string, cause error) *Error {
	return &Error{Code: CodeNetwork, Message: msg, cause: cause}
}

// DataIntegrity wraps a decode failure of stored data.
func DataIntegrity(key string, cause error) *Error {
	return &Error{Code: CodeDataIntegrity, Message: "malformed data at " + key, cause: cause}
}
