package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemomark/mnemomark/internal/config"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) EnsureValidToken(context.Context) (string, error) {
	return s.token, s.err
}

const docsPrefix = "/v1/projects/reader-notes/databases/(default)/documents/"

func newDocumentTestClient(t *testing.T, handler http.HandlerFunc) *DocumentClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewDocumentClient(testRemoteConfig(server.URL), staticTokens{token: "id-token"}, nil)
	c.t.http = server.Client()
	t.Cleanup(c.Close)
	return c
}

func TestDocumentClient_Get(t *testing.T) {
	c := newDocumentTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, docsPrefix+"users/uid-1", r.URL.Path)
		assert.Equal(t, "Bearer id-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"name": "projects/reader-notes/databases/(default)/documents/users/uid-1",
			"fields": {
				"email": {"stringValue": "reader@example.com"},
				"shareTags": {"booleanValue": true},
				"createdAt": {"stringValue": "2026-01-01T00:00:00Z"}
			}
		}`))
	})

	doc, err := c.Get(context.Background(), UserPath("uid-1"))
	require.NoError(t, err)

	share, ok := doc.Field("shareTags")
	require.True(t, ok)
	assert.Equal(t, true, FromValue(share))
	_, ok = doc.Field("missing")
	assert.False(t, ok)
}

func TestDocumentClient_GetNotFound(t *testing.T) {
	c := newDocumentTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Document not found","status":"NOT_FOUND"}}`))
	})

	_, err := c.Get(context.Background(), TagsPath("uid-1"))
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestDocumentClient_PatchSendsUpdateMask(t *testing.T) {
	c := newDocumentTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, docsPrefix+"users/uid-1/data/tags", r.URL.Path)
		assert.Equal(t, []string{"tags", "updatedAt"}, r.URL.Query()["updateMask.fieldPaths"])

		var doc Document
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		assert.Equal(t, int64(1700000000000), FromValue(doc.Fields["updatedAt"]))
		tags, ok := FromValue(doc.Fields["tags"]).([]any)
		require.True(t, ok)
		assert.Len(t, tags, 1)

		_, _ = w.Write([]byte(`{}`))
	})

	err := c.Patch(context.Background(), TagsPath("uid-1"), Fields(map[string]any{
		"tags":      []any{map[string]any{"id": "tag-1", "name": "Quotes"}},
		"updatedAt": int64(1700000000000),
	}))
	assert.NoError(t, err)
}

func TestDocumentClient_Delete(t *testing.T) {
	var called atomic.Bool
	c := newDocumentTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, docsPrefix+"users/uid-1", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Delete(context.Background(), UserPath("uid-1")))
	assert.True(t, called.Load())
}

func TestDocumentClient_TokenFailureStopsRequest(t *testing.T) {
	var called atomic.Bool
	c := newDocumentTestClient(t, func(http.ResponseWriter, *http.Request) { called.Store(true) })
	tokenErr := errors.New("session expired")
	c.SetTokenSource(staticTokens{err: tokenErr})

	_, err := c.Get(context.Background(), UserPath("uid-1"))
	assert.ErrorIs(t, err, tokenErr)
	assert.False(t, called.Load())
}

func TestDocumentClient_NotConfigured(t *testing.T) {
	c := NewDocumentClient(config.RemoteConfig{APIKey: "k"}, staticTokens{token: "t"}, nil)
	defer c.Close()

	err := c.Delete(context.Background(), UserPath("uid-1"))
	assert.ErrorIs(t, err, ErrNotConfigured)
}
