package sse

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mnemomark/mnemomark/internal/events"
	"github.com/mnemomark/mnemomark/internal/id"
)

const (
	queueSize    = 256
	clientBuffer = 64

	defaultHeartbeat = 30 * time.Second
)

// Client is one connected stream. EventChan is closed when the manager
// drops the client.
type Client struct {
	ID          string
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}

	// types is nil when the client wants everything.
	types []EventType
}

// Wants reports whether the client subscribed to t. Heartbeats always pass.
func (c *Client) Wants(t EventType) bool {
	return t == EventHeartbeat || c.types == nil || slices.Contains(c.types, t)
}

// SnapshotFunc returns the events a freshly connected client needs to
// catch up with current state.
type SnapshotFunc func() []Event

// Option configures a Manager.
type Option func(*Manager)

// WithSnapshot sets the catch-up events sent after "connected".
func WithSnapshot(fn SnapshotFunc) Option {
	return func(m *Manager) { m.snapshot = fn }
}

// WithHeartbeat overrides the keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeat = d
		}
	}
}

// Manager fans bus notifications out to every connected stream.
type Manager struct {
	clock     clockwork.Clock
	logger    *slog.Logger
	heartbeat time.Duration
	snapshot  SnapshotFunc
	seq       atomic.Uint64

	mu      sync.RWMutex
	clients map[string]*Client

	// queueMu guards closing of queue against concurrent Emit.
	queueMu sync.RWMutex
	queue   chan Event
	closed  bool

	running sync.WaitGroup
}

// NewManager creates a Manager. A nil clock or logger falls back to the defaults.
func NewManager(clock clockwork.Clock, logger *slog.Logger, opts ...Option) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		clock:     clock,
		logger:    logger,
		heartbeat: defaultHeartbeat,
		clients:   make(map[string]*Client),
		queue:     make(chan Event, queueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start pumps events to clients until ctx is done. Notifications published on
// bus are converted and broadcast alongside anything passed to Emit.
func (m *Manager) Start(ctx context.Context, bus *events.Bus) {
	m.running.Add(1)
	defer m.running.Done()

	var (
		auth   <-chan events.AuthChanged
		synced <-chan events.TagsSynced
	)
	if bus != nil {
		auth = bus.Auth.Subscribe(ctx)
		synced = bus.TagsSynced.Subscribe(ctx)
	}

	ticker := m.clock.NewTicker(m.heartbeat)
	defer ticker.Stop()

	m.logger.Info("event stream running", slog.Duration("heartbeat", m.heartbeat))

	for {
		var next Event
		select {
		case <-ctx.Done():
			m.dropAll("context done")
			return
		case e, ok := <-m.queue:
			if !ok {
				return
			}
			next = e
		case e, ok := <-auth:
			if !ok {
				auth = nil
				continue
			}
			next = NewAuthChangedEvent(e, m.clock.Now())
		case e, ok := <-synced:
			if !ok {
				synced = nil
				continue
			}
			next = NewTagsSyncedEvent(e, m.clock.Now())
		case <-ticker.Chan():
			next = NewHeartbeatEvent(m.clock.Now())
		}
		m.broadcast(next)
	}
}

// Shutdown refuses further Emit calls, waits for Start to return, then
// delivers whatever is still queued before dropping every client.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.queueMu.Lock()
	if m.closed {
		m.queueMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.queueMu.Unlock()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		m.running.Wait()
		for e := range m.queue {
			m.broadcast(e)
		}
		m.dropAll("shutdown")
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		m.logger.Warn("event stream shutdown timed out with events pending")
		return ctx.Err()
	}
}

// Emit queues e for broadcast. It never blocks; a full queue or a manager
// that is shutting down drops the event.
func (m *Manager) Emit(e Event) {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- e:
	default:
		m.logger.Error("event queue full", slog.String("type", string(e.Type)))
	}
}

func (m *Manager) broadcast(e Event) {
	e.ID = m.seq.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	sent, skipped := 0, 0
	for _, c := range m.clients {
		if !c.Wants(e.Type) {
			continue
		}
		select {
		case c.EventChan <- e:
			sent++
		default:
			skipped++
			m.logger.Warn("client lagging, event skipped",
				slog.String("client", c.ID),
				slog.String("type", string(e.Type)))
		}
	}

	if e.Type != EventHeartbeat {
		m.logger.Debug("broadcast",
			slog.String("type", string(e.Type)),
			slog.Uint64("id", e.ID),
			slog.Int("sent", sent),
			slog.Int("skipped", skipped))
	}
}

// Connect registers a client. With no types the client receives every event.
func (m *Manager) Connect(types ...EventType) (*Client, error) {
	cid, err := id.Generate(id.PrefixClient)
	if err != nil {
		return nil, err
	}
	c := &Client{
		ID:          cid,
		ConnectedAt: m.clock.Now(),
		EventChan:   make(chan Event, clientBuffer),
		Done:        make(chan struct{}),
	}
	if len(types) > 0 {
		c.types = slices.Clone(types)
	}

	m.mu.Lock()
	m.clients[cid] = c
	n := len(m.clients)
	m.mu.Unlock()

	m.logger.Info("stream opened", slog.String("client", cid), slog.Int("clients", n))
	return c, nil
}

// Snapshot returns the catch-up events for a new client, stamped with the
// current sequence so they never look newer than live events.
func (m *Manager) Snapshot() []Event {
	if m.snapshot == nil {
		return nil
	}
	out := m.snapshot()
	cur := m.seq.Load()
	for i := range out {
		out[i].ID = cur
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = m.clock.Now()
		}
	}
	return out
}

// Disconnect drops a client. Unknown ids are ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if ok {
		delete(m.clients, clientID)
	}
	n := len(m.clients)
	m.mu.Unlock()
	if !ok {
		return
	}

	c.close()
	m.logger.Info("stream closed",
		slog.String("client", clientID),
		slog.Duration("open_for", m.clock.Since(c.ConnectedAt)),
		slog.Int("clients", n))
}

// ClientCount returns the number of open streams.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *Manager) dropAll(reason string) {
	m.mu.Lock()
	dropped := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for _, c := range dropped {
		c.close()
	}
	if len(dropped) > 0 {
		m.logger.Info("streams dropped", slog.String("reason", reason), slog.Int("clients", len(dropped)))
	}
}

func (c *Client) close() {
	close(c.Done)
	close(c.EventChan)
}
