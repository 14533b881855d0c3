package providers

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/kv"
	"github.com/mnemomark/mnemomark/internal/taggraph"
	"github.com/mnemomark/mnemomark/internal/validation"
)

// StoreHandle wraps the key-value store with shutdown capability.
type StoreHandle struct {
	kv.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the configured key-value backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)

	store, err := kv.Open(context.Background(), cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	log.Info("Storage initialized", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)

	return &StoreHandle{Store: store}, nil
}

// ProvideValidator provides the shared struct validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// ProvideHighlightStore provides the per-document highlight store.
func ProvideHighlightStore(i do.Injector) (*annotation.Store, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*slog.Logger](i)
	return annotation.NewStore(storeHandle.Store, log), nil
}

// ProvideTagGraph provides the tag vocabulary, loaded from storage.
func ProvideTagGraph(i do.Injector) (*taggraph.Graph, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	highlights := do.MustInvoke[*annotation.Store](i)
	v := do.MustInvoke[*validation.Validator](i)
	clock := do.MustInvoke[clockwork.Clock](i)
	log := do.MustInvoke[*slog.Logger](i)

	graph := taggraph.New(storeHandle.Store, highlights, v, clock, log)
	if err := graph.Reload(context.Background()); err != nil {
		return nil, err
	}

	log.Info("Tags loaded", "tag_count", graph.Len())

	return graph, nil
}
