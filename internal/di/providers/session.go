package providers

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/events"
	"github.com/mnemomark/mnemomark/internal/remote"
	"github.com/mnemomark/mnemomark/internal/render"
	"github.com/mnemomark/mnemomark/internal/session"
	"github.com/mnemomark/mnemomark/internal/taggraph"
	"github.com/mnemomark/mnemomark/internal/tagsync"
)

// BusHandle closes every event channel on shutdown.
type BusHandle struct {
	*events.Bus
}

// Shutdown implements do.Shutdownable.
func (h *BusHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideBus provides the in-process event bus.
func ProvideBus(i do.Injector) (*BusHandle, error) {
	return &BusHandle{Bus: events.NewBus()}, nil
}

// IdentityClientHandle wraps the identity client with shutdown capability.
type IdentityClientHandle struct {
	*remote.IdentityClient
}

// Shutdown implements do.Shutdownable.
func (h *IdentityClientHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideIdentityClient provides the remote identity provider client.
func ProvideIdentityClient(i do.Injector) (*IdentityClientHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	return &IdentityClientHandle{IdentityClient: remote.NewIdentityClient(cfg.Remote, log)}, nil
}

// DocumentClientHandle wraps the document client with shutdown capability.
type DocumentClientHandle struct {
	*remote.DocumentClient
}

// Shutdown implements do.Shutdownable.
func (h *DocumentClientHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideDocumentClient provides the remote document store client.
// Its token source is set once the session manager exists.
func ProvideDocumentClient(i do.Injector) (*DocumentClientHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	return &DocumentClientHandle{DocumentClient: remote.NewDocumentClient(cfg.Remote, nil, log)}, nil
}

// SessionHandle stops the refresh timer and sync on shutdown.
type SessionHandle struct {
	*session.Manager
	engine *tagsync.Engine
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SessionHandle) Shutdown() error {
	h.cancel()
	h.engine.Stop()
	h.engine.Wait()
	return nil
}

// Sync returns the tag sync engine attached to the session.
func (h *SessionHandle) Sync() *tagsync.Engine {
	return h.engine
}

// ProvideSession provides the session manager with its sync engine attached,
// restores the stored session and follows writes by other processes.
func ProvideSession(i do.Injector) (*SessionHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	clock := do.MustInvoke[clockwork.Clock](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	bus := do.MustInvoke[*BusHandle](i)
	identity := do.MustInvoke[*IdentityClientHandle](i)
	docs := do.MustInvoke[*DocumentClientHandle](i)
	tags := do.MustInvoke[*taggraph.Graph](i)

	mgr := session.NewManager(session.Deps{
		Identity:  identity.IdentityClient,
		Documents: docs.DocumentClient,
		Store:     storeHandle.Store,
		Bus:       bus.Bus,
		Clock:     clock,
		Remote:    cfg.Remote,
		Session:   cfg.Session,
		Logger:    log,
	})
	docs.SetTokenSource(mgr)

	engine := tagsync.NewEngine(tagsync.Deps{
		Session:   mgr,
		Documents: docs.DocumentClient,
		Tags:      tags,
		Bus:       bus.Bus,
		Clock:     clock,
		Interval:  cfg.Sync.Interval,
		Logger:    log,
	})
	mgr.AttachSync(engine)

	ctx, cancel := context.WithCancel(context.Background())
	if err := mgr.Restore(ctx); err != nil {
		cancel()
		return nil, err
	}
	if err := mgr.Watch(ctx); err != nil {
		cancel()
		return nil, err
	}

	log.Info("Session ready",
		"state", mgr.State().String(),
		"share_tags", mgr.ShareTags(),
	)

	return &SessionHandle{Manager: mgr, engine: engine, cancel: cancel}, nil
}

// RendererHandle stops the cross-process watches on shutdown.
type RendererHandle struct {
	*render.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *RendererHandle) Shutdown() error {
	h.cancel()
	h.Reset()
	return nil
}

// ProvideRenderer provides the highlight render manager. Deletions and
// writes by other processes reach it through the highlight store.
func ProvideRenderer(i do.Injector) (*RendererHandle, error) {
	log := do.MustInvoke[*slog.Logger](i)
	highlights := do.MustInvoke[*annotation.Store](i)
	tags := do.MustInvoke[*taggraph.Graph](i)

	renderer := render.NewManager(highlights, tags, log)
	highlights.OnRemove(renderer)

	ctx, cancel := context.WithCancel(context.Background())
	if err := highlights.Watch(ctx, renderer.DocumentChanged); err != nil {
		cancel()
		return nil, err
	}
	if err := tags.Watch(ctx, renderer.ScheduleRender); err != nil {
		cancel()
		return nil, err
	}

	return &RendererHandle{Manager: renderer, cancel: cancel}, nil
}
