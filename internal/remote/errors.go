package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for remote operations.
var (
	ErrNotConfigured    = errors.New("remote: api key or project id not set")
	ErrDocumentNotFound = errors.New("remote: document not found")
	ErrRateLimited      = errors.New("remote: rate limited by server")
	ErrServer           = errors.New("remote: server error")
)

// APIError is a rejection reported by the remote service in its
// {"error":{"message":...}} body. Message is shown to the user as is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: %d %s", e.Status, e.Message)
}

// Error wraps an underlying error with the operation and resource it concerns.
type Error struct {
	Op   string // "signUp", "refresh", "getDocument", ...
	Path string // document path, if applicable
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("remote %s [%s]: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Err: err}
}

// Message returns the provider's message from err, or fallback when err
// carries none.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// IsRejection reports whether err is the provider refusing the request (a
// 4xx other than 429). Transport failures, throttling and 5xx are not
// rejections and may succeed on a later attempt.
func IsRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}
