// Package remote talks to the account services: an identity provider for
// email/password sessions and a document database holding per-user settings
// and the shared tag list. Both speak JSON over HTTPS.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/ratelimit"
)

const userAgent = "mnemomark/1.0"

// transport is the rate-limited HTTP plumbing shared by both clients.
type transport struct {
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

func newTransport(cfg config.RemoteConfig, logger *slog.Logger) *transport {
	if logger == nil {
		logger = slog.Default()
	}
	rps, burst := cfg.RateLimit, cfg.RateBurst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &transport{
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: ratelimit.New(rps, burst),
		logger:  logger,
	}
}

func (t *transport) close() {
	t.limiter.Stop()
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// do sends req and returns the body of a 2xx response. Other statuses become
// *APIError when the body carries a message, or a sentinel otherwise.
func (t *transport) do(req *http.Request) ([]byte, error) {
	if err := t.limiter.Wait(req.Context(), req.URL.Host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	t.logger.Debug("remote request", "method", req.Method, "host", req.URL.Host, "path", req.URL.Path)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		return nil, &APIError{Status: resp.StatusCode, Message: eb.Error.Message}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, ErrServer
	default:
		return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
}

func (t *transport) postJSON(ctx context.Context, endpoint string, payload, dest any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.send(req, dest)
}

func (t *transport) postForm(ctx context.Context, endpoint string, form url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.send(req, dest)
}

func (t *transport) send(req *http.Request, dest any) error {
	body, err := t.do(req)
	if err != nil {
		return err
	}
	if dest == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
