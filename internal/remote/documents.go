package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mnemomark/mnemomark/internal/config"
)

// TokenSource yields a currently valid id token for document requests.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// Document is one stored document. Name is the full resource name.
type Document struct {
	Name       string           `json:"name,omitempty"`
	Fields     map[string]Value `json:"fields"`
	CreateTime string           `json:"createTime,omitempty"`
	UpdateTime string           `json:"updateTime,omitempty"`
}

// Field returns the named field and whether it is present.
func (d *Document) Field(name string) (Value, bool) {
	if d == nil || d.Fields == nil {
		return Value{}, false
	}
	v, ok := d.Fields[name]
	return v, ok
}

// DocumentClient reads and writes documents under the project's default
// database, authenticated with the signed-in user's id token.
type DocumentClient struct {
	t       *transport
	baseURL string
	tokens  TokenSource
}

// NewDocumentClient creates a client from cfg. tokens may be set later with SetTokenSource.
func NewDocumentClient(cfg config.RemoteConfig, tokens TokenSource, logger *slog.Logger) *DocumentClient {
	base := ""
	if cfg.ProjectID != "" {
		base = strings.TrimRight(cfg.DocumentURL, "/") +
			"/projects/" + url.PathEscape(cfg.ProjectID) + "/databases/(default)/documents"
	}
	return &DocumentClient{
		t:       newTransport(cfg, logger),
		baseURL: base,
		tokens:  tokens,
	}
}

// SetTokenSource sets the source of bearer tokens.
func (c *DocumentClient) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// Close releases the client's rate limiter.
func (c *DocumentClient) Close() {
	c.t.close()
}

func (c *DocumentClient) newRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if c.tokens == nil {
		return nil, errors.New("no token source")
	}
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Get fetches the document at path. A missing document is ErrDocumentNotFound.
func (c *DocumentClient) Get(ctx context.Context, path string) (*Document, error) {
	const op = "getDocument"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, wrapError(op, path, err)
	}

	var doc Document
	if err := c.t.send(req, &doc); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			err = ErrDocumentNotFound
		}
		return nil, wrapError(op, path, err)
	}
	return &doc, nil
}

// Patch writes fields into the document at path, creating it if needed.
// Only the given fields are replaced; others are left as they are.
func (c *DocumentClient) Patch(ctx context.Context, path string, fields map[string]Value) error {
	const op = "patchDocument"
	body, err := json.Marshal(Document{Fields: fields})
	if err != nil {
		return wrapError(op, path, fmt.Errorf("encode document: %w", err))
	}

	query := url.Values{"updateMask.fieldPaths": FieldPaths(fields)}
	req, err := c.newRequest(ctx, http.MethodPatch, path, query, body)
	if err != nil {
		return wrapError(op, path, err)
	}
	return wrapError(op, path, c.t.send(req, nil))
}

// Delete removes the document at path. Deleting a missing document succeeds.
func (c *DocumentClient) Delete(ctx context.Context, path string) error {
	const op = "deleteDocument"
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return wrapError(op, path, err)
	}
	return wrapError(op, path, c.t.send(req, nil))
}

// UserPath is the settings document of uid.
func UserPath(uid string) string {
	return "users/" + uid
}

// TagsPath is the shared tag list document of uid.
func TagsPath(uid string) string {
	return "users/" + uid + "/data/tags"
}
