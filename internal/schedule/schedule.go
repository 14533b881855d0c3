// Package schedule provides a re-armable one-shot timer and a fixed-interval
// repeater, both driven by an injectable clock.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer runs a function once after a delay. Arming again replaces the
// pending run; at most one run is ever pending.
type Timer struct {
	clock clockwork.Clock

	mu    sync.Mutex
	timer clockwork.Timer
	gen   uint64
}

// NewTimer creates an unarmed timer.
func NewTimer(clock clockwork.Clock) *Timer {
	return &Timer{clock: clock}
}

// Arm schedules fn to run after d, cancelling any pending run.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if gen != t.gen {
			// Re-armed or cancelled after this run was already due.
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending run, if any.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
}

// Armed reports whether a run is pending.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Repeater calls a function on a fixed interval. Calls never overlap.
type Repeater struct {
	clock clockwork.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRepeater creates a stopped repeater.
func NewRepeater(clock clockwork.Clock) *Repeater {
	return &Repeater{clock: clock}
}

// Start calls fn every interval until Stop or until ctx ends, replacing any
// previous schedule. The first call happens one interval after Start.
func (r *Repeater) Start(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	ticker := r.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.Chan():
				if runCtx.Err() != nil {
					return
				}
				fn(runCtx)
			}
		}
	}()
}

// Stop ends the schedule. It does not wait for a call in progress, so it is
// safe to call from inside fn.
func (r *Repeater) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Running reports whether a schedule is active.
func (r *Repeater) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}
