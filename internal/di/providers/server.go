package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/api"
	"github.com/mnemomark/mnemomark/internal/auth"
	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/events"
	"github.com/mnemomark/mnemomark/internal/ratelimit"
	"github.com/mnemomark/mnemomark/internal/sse"
	"github.com/mnemomark/mnemomark/internal/taggraph"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager, fed by the event bus.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*slog.Logger](i)
	clock := do.MustInvoke[clockwork.Clock](i)
	bus := do.MustInvoke[*BusHandle](i)
	sess := do.MustInvoke[*SessionHandle](i)

	// New streams learn the current sign-in state without waiting for a change.
	manager := sse.NewManager(clock, log, sse.WithSnapshot(func() []sse.Event {
		evt := events.AuthChanged{}
		if cur := sess.Current(); cur != nil {
			evt.User = cur.User()
			evt.ShareTags = cur.ShareTags
		}
		return []sse.Event{sse.NewAuthChangedEvent(evt, clock.Now())}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx, bus.Bus)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// LimiterHandle stops the limiter's sweeper on shutdown.
type LimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *LimiterHandle) Shutdown() error {
	if h.KeyedRateLimiter != nil {
		h.Stop()
	}
	return nil
}

// ProvideLimiter provides the per-client API rate limiter, or a nil limiter when disabled.
func ProvideLimiter(i do.Injector) (*LimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.Server.RateLimit <= 0 {
		return &LimiterHandle{}, nil
	}
	return &LimiterHandle{KeyedRateLimiter: ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateBurst)}, nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the local control API server and starts it.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	sessionHandle := do.MustInvoke[*SessionHandle](i)
	limiter := do.MustInvoke[*LimiterHandle](i)

	handler := api.NewServer(api.Deps{
		Highlights:     do.MustInvoke[*annotation.Store](i),
		Tags:           do.MustInvoke[*taggraph.Graph](i),
		Session:        sessionHandle.Manager,
		Sync:           sessionHandle.Sync(),
		Events:         sse.NewHandler(sseHandle.Manager, log),
		Tokens:         do.MustInvoke[*auth.TokenService](i),
		Limiter:        limiter.KeyedRateLimiter,
		Storage:        cfg.Storage.Backend,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
