// Package events provides typed in-process notification channels.
package events

import (
	"context"
	"sync"

	"github.com/mnemomark/mnemomark/internal/domain"
)

// AuthChanged is published whenever the signed-in user or the share-tags
// setting changes. User is nil after sign-out.
type AuthChanged struct {
	User      *domain.User `json:"user"`
	ShareTags bool         `json:"shareTags"`
}

// TagsSynced is published after a pull replaced the local tag list.
type TagsSynced struct {
	Tags []domain.Tag `json:"tags"`
}

const subscriberBuffer = 16

// Channel fans values of type T out to any number of subscribers.
// Publish never blocks; a subscriber whose buffer is full misses the value.
// The zero value is ready to use.
type Channel[T any] struct {
	mu     sync.Mutex
	subs   map[chan T]struct{}
	closed bool
}

// Subscribe returns a channel receiving every value published after the call.
// The channel is closed when ctx ends or the Channel is closed.
func (c *Channel[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, subscriberBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	if c.subs == nil {
		c.subs = make(map[chan T]struct{})
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.remove(ch)
	}()
	return ch
}

func (c *Channel[T]) remove(ch chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
}

// Publish delivers v to every current subscriber and reports how many received it.
func (c *Channel[T]) Publish(v T) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	delivered := 0
	for ch := range c.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions.
func (c *Channel[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close closes every subscription. Later subscriptions are closed immediately.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

// Bus groups the channels shared by the session, sync and API layers.
type Bus struct {
	Auth       Channel[AuthChanged]
	TagsSynced Channel[TagsSynced]
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Close closes all channels on the bus.
func (b *Bus) Close() {
	b.Auth.Close()
	b.TagsSynced.Close()
}
