package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
)

// envelopeVersion is the "v" field of every response envelope.
const envelopeVersion = 1

// Envelope is the JSON structure every API response is wrapped in.
// Error responses repeat the message under "error" and carry the code and details.
type Envelope struct {
	Version int    `json:"v"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// EnvelopeTransformer is a huma transformer that wraps response bodies in an Envelope.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	if apiErr, ok := v.(*APIError); ok {
		return errorEnvelope(apiErr), nil
	}

	code, err := strconv.Atoi(status)
	if err != nil {
		code = http.StatusOK
	}
	return Envelope{
		Version: envelopeVersion,
		Success: code < http.StatusBadRequest,
		Data:    v,
	}, nil
}

func errorEnvelope(e *APIError) Envelope {
	return Envelope{
		Version: envelopeVersion,
		Success: false,
		Error:   e.Message,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// writeError writes an error envelope outside of huma, for middleware rejections.
func writeError(w http.ResponseWriter, e *APIError, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.GetStatus())
	if err := json.NewEncoder(w).Encode(errorEnvelope(e)); err != nil && logger != nil {
		logger.Error("failed to encode error response", slog.String("error", err.Error()))
	}
}
