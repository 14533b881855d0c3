package kv

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/patrickmn/go-cache"
)

// Memory is a process-local Store. Peers created with Peer share its data and
// change stream under a different origin, standing in for other processes.
type Memory struct {
	items  *cache.Cache
	hub    *hub
	origin string
	owner  bool
	closed *atomic.Bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items:  cache.New(cache.NoExpiration, 0),
		hub:    newHub(),
		origin: newOrigin(),
		owner:  true,
		closed: &atomic.Bool{},
	}
}

// Peer returns a view of the same data with its own origin.
func (m *Memory) Peer() *Memory {
	return &Memory{
		items:  m.items,
		hub:    m.hub,
		origin: newOrigin(),
		closed: m.closed,
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	v, ok := m.items.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v.([]byte)...), nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.items.Set(key, append([]byte(nil), value...), cache.NoExpiration)
	m.hub.publish(Change{Key: key, Origin: m.origin})
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if _, ok := m.items.Get(key); !ok {
		return nil
	}
	m.items.Delete(key)
	m.hub.publish(Change{Key: key, Origin: m.origin})
	return nil
}

// Keys implements Store.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	var keys []string
	for k := range m.items.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch implements Store.
func (m *Memory) Watch(ctx context.Context) (<-chan Change, error) {
	return m.hub.subscribe(ctx)
}

// Origin implements Store.
func (m *Memory) Origin() string {
	return m.origin
}

// Close closes the store. Closing a peer leaves the shared data open.
func (m *Memory) Close() error {
	if !m.owner {
		return nil
	}
	m.closed.Store(true)
	m.hub.close()
	return nil
}
