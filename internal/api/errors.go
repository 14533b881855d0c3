package api

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mnemomark/mnemomark/internal/annotation"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/tagsync"
)

// APIError is a custom error type that implements huma.StatusError.
// It maps domain errors to HTTP responses with consistent structure.
type APIError struct { //nolint:revive // API prefix is intentional for clarity
	status  int
	Code    string `json:"code" doc:"Machine-readable error code"`
	Message string `json:"message" doc:"Human-readable error message"`
	Details any    `json:"details,omitempty" doc:"Additional error details"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// GetStatus implements huma.StatusError.
func (e *APIError) GetStatus() int {
	return e.status
}

// ContentType returns the content type for the error response.
func (e *APIError) ContentType(_ string) string {
	return "application/json"
}

func newAPIError(status int, code domainerrors.Code, message string) *APIError {
	return &APIError{status: status, Code: string(code), Message: message}
}

func newAPIErrorNotSignedIn() *APIError {
	return newAPIError(http.StatusUnauthorized, domainerrors.CodeUnauthorized, "Not signed in.")
}

// RegisterErrorHandler makes huma report its own errors, such as request
// validation failures, as APIError. Call it before registering routes.
func RegisterErrorHandler() {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		var details []string
		for _, err := range errs {
			if apiErr := fromDomain(err); apiErr != nil {
				return apiErr
			}
			if err != nil {
				details = append(details, err.Error())
			}
		}

		e := &APIError{status: status, Code: statusToCode(status), Message: message}
		if len(details) > 0 {
			e.Details = details
		}
		return e
	}
}

// toAPIError converts an error returned by a component into an APIError.
func toAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if mapped := fromDomain(err); mapped != nil {
		return mapped
	}
	return newAPIError(http.StatusInternalServerError, domainerrors.CodeInternal, "internal server error")
}

// fromDomain maps domain errors and component sentinels, or returns nil.
func fromDomain(err error) *APIError {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return &APIError{
			status:  domainErr.HTTPStatus(),
			Code:    string(domainErr.Code),
			Message: domainErr.Message,
			Details: domainErr.Details,
		}
	}

	switch {
	case errors.Is(err, annotation.ErrHighlightNotFound):
		return newAPIError(http.StatusNotFound, domainerrors.CodeNotFound, "Highlight not found")
	case errors.Is(err, tagsync.ErrNotSignedIn):
		return newAPIErrorNotSignedIn()
	}
	return nil
}

// statusToCode maps HTTP status codes to our domain error codes.
func statusToCode(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return string(domainerrors.CodeValidation)
	case http.StatusUnauthorized:
		return string(domainerrors.CodeUnauthorized)
	case http.StatusNotFound:
		return string(domainerrors.CodeNotFound)
	case http.StatusConflict:
		return string(domainerrors.CodeConflict)
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return string(domainerrors.CodeInternal)
	}
}
