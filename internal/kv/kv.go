// Package kv provides the local key-value storage that highlights, tags and
// the auth session persist to, with change notifications so that several
// processes sharing one store can reload after each other's writes.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/id"
)

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("kv: key not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kv: store closed")
)

// Change describes a write or delete of Key by the store instance identified by Origin.
// Origin is empty when the writer could not be determined.
type Change struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

// Store is a string-keyed byte store shared by every component of one process,
// and possibly by several processes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns every key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Watch streams changes, including this instance's own, until ctx is done.
	Watch(ctx context.Context) (<-chan Change, error)
	// Origin identifies this instance in the Changes it produces.
	Origin() string
	Close() error
}

// Open creates the backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return NewBadger(cfg.Path, logger)
	case config.BackendRedis:
		return NewRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
	case config.BackendFile:
		return NewFile(cfg.Path, logger)
	case config.BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newOrigin() string {
	return id.MustGenerate(id.PrefixOrigin)
}

// subscriberBuffer bounds each watcher's backlog. A slow watcher misses
// changes rather than stalling writers.
const subscriberBuffer = 64

// hub fans changes out to watchers.
type hub struct {
	mu     sync.RWMutex
	subs   map[chan Change]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Change]struct{})}
}

func (h *hub) subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(ch)
	}()
	return ch, nil
}

func (h *hub) unsubscribe(ch chan Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}
