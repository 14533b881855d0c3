// Package taggraph maintains the tag vocabulary: a multi-parent hierarchy
// persisted as one JSON array, with ancestor expansion that tolerates cycles.
package taggraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/kv"
	"github.com/mnemomark/mnemomark/internal/normalize"
	"github.com/mnemomark/mnemomark/internal/validation"
)

// StorageKey holds the JSON array of all tags.
const StorageKey = "mnemomark-tags"

// DefaultColor is used when a tag is created without one.
const DefaultColor = "#4caf50"

var (
	// ErrNameTaken is returned when another tag already has the name, ignoring case.
	ErrNameTaken = domainerrors.AlreadyExists("A tag with this name already exists")
	// ErrTagNotFound is returned for an unknown tag id.
	ErrTagNotFound = domainerrors.NotFound("tag not found")
)

// HighlightStore is the part of the annotation store the graph writes through.
type HighlightStore interface {
	PruneTags(ctx context.Context, tagIDs ...string) (int, error)
	AddTags(ctx context.Context, refs []annotation.Ref, tagIDs []string) (int, error)
	Update(ctx context.Context, documentID, id string, p annotation.Patch) (*domain.Highlight, error)
}

// MutationHook is called after every local change with the full tag list.
type MutationHook func(ctx context.Context, tags []domain.Tag)

// Graph is an arena of tags keyed by id. Insertion order is kept separately
// so that List and the stored array are stable.
type Graph struct {
	kv         kv.Store
	highlights HighlightStore
	validator  *validation.Validator
	clock      clockwork.Clock
	logger     *slog.Logger

	mu    sync.RWMutex
	tags  map[string]*domain.Tag
	order []string

	hooksMu sync.RWMutex
	hooks   []MutationHook
}

// New creates an empty graph. Call Reload to read the stored tags.
func New(store kv.Store, highlights HighlightStore, v *validation.Validator, clock clockwork.Clock, logger *slog.Logger) *Graph {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = validation.New()
	}
	return &Graph{
		kv:         store,
		highlights: highlights,
		validator:  v,
		clock:      clock,
		logger:     logger,
		tags:       make(map[string]*domain.Tag),
	}
}

// OnMutate registers fn to run after every local mutation.
// Replace and Reload do not trigger hooks.
func (g *Graph) OnMutate(fn MutationHook) {
	g.hooksMu.Lock()
	defer g.hooksMu.Unlock()
	g.hooks = append(g.hooks, fn)
}

func (g *Graph) fireMutate(ctx context.Context) {
	g.hooksMu.RLock()
	hooks := append([]MutationHook(nil), g.hooks...)
	g.hooksMu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	tags := g.List()
	for _, fn := range hooks {
		fn(ctx, tags)
	}
}

// Reload replaces in-memory state with the stored array. A missing key is an
// empty vocabulary; a malformed one is logged and treated as empty.
func (g *Graph) Reload(ctx context.Context) error {
	data, err := g.kv.Get(ctx, StorageKey)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("load tags: %w", err)
	}

	var tags []domain.Tag
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tags); err != nil {
			g.logger.Warn("data integrity warning",
				"key", StorageKey,
				"error", domainerrors.DataIntegrity(StorageKey, err),
			)
			tags = nil
		}
	}

	g.mu.Lock()
	g.setAllLocked(tags)
	g.mu.Unlock()
	return nil
}

// Replace overwrites the whole vocabulary with tags and persists it.
// Used when pulling from the account.
func (g *Graph) Replace(ctx context.Context, tags []domain.Tag) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	prevTags, prevOrder := g.snapshotLocked()
	g.setAllLocked(tags)
	if err := g.persistLocked(ctx); err != nil {
		g.tags, g.order = prevTags, prevOrder
		return err
	}
	return nil
}

// Watch reloads the graph when another process writes the tag key, then calls onReload.
func (g *Graph) Watch(ctx context.Context, onReload func()) error {
	changes, err := g.kv.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch tags: %w", err)
	}
	go func() {
		for change := range changes {
			if change.Key != StorageKey || change.Origin == g.kv.Origin() {
				continue
			}
			if err := g.Reload(ctx); err != nil {
				g.logger.Error("failed to reload tags", "error", err)
				continue
			}
			if onReload != nil {
				onReload()
			}
		}
	}()
	return nil
}

func (g *Graph) setAllLocked(tags []domain.Tag) {
	g.tags = make(map[string]*domain.Tag, len(tags))
	g.order = make([]string, 0, len(tags))
	for _, t := range tags {
		if t.ID == "" {
			continue
		}
		if _, dup := g.tags[t.ID]; dup {
			continue
		}
		c := t.Clone()
		g.tags[c.ID] = &c
		g.order = append(g.order, c.ID)
	}
}

func (g *Graph) snapshotLocked() (map[string]*domain.Tag, []string) {
	tags := make(map[string]*domain.Tag, len(g.tags))
	for id, t := range g.tags {
		c := t.Clone()
		tags[id] = &c
	}
	return tags, append([]string(nil), g.order...)
}

func (g *Graph) listLocked() []domain.Tag {
	out := make([]domain.Tag, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tags[id].Clone())
	}
	return out
}

func (g *Graph) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(g.listLocked())
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	if err := g.kv.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("save tags: %w", err)
	}
	return nil
}

// List returns every tag in insertion order.
func (g *Graph) List() []domain.Tag {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.listLocked()
}

// Get returns the tag with id.
func (g *Graph) Get(id string) (domain.Tag, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tags[id]
	if !ok {
		return domain.Tag{}, false
	}
	return t.Clone(), true
}

// FindByName returns the tag whose name equals name, ignoring case.
func (g *Graph) FindByName(name string) (domain.Tag, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if t := g.byNameLocked(normalize.Name(name), ""); t != nil {
		return t.Clone(), true
	}
	return domain.Tag{}, false
}

func (g *Graph) byNameLocked(name, exceptID string) *domain.Tag {
	folded := normalize.Fold(name)
	for _, id := range g.order {
		t := g.tags[id]
		if t.ID != exceptID && normalize.Fold(t.Name) == folded {
			return t
		}
	}
	return nil
}

// Names maps every tag id to its name.
func (g *Graph) Names() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make(map[string]string, len(g.tags))
	for id, t := range g.tags {
		names[id] = t.Name
	}
	return names
}

// Len returns the number of tags.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// AncestorsOf returns every tag reachable from id through parent edges.
// Parents that do not exist are skipped. id itself is never included, even
// when a cycle leads back to it.
func (g *Graph) AncestorsOf(id string) map[string]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	visited, _ := g.ancestorsLocked(id)
	return visited
}

// ancestorsLocked walks parent edges depth-first with an explicit stack,
// returning the ancestor set and the discovery order. The start id is
// marked visited up front so a cycle stops at it.
func (g *Graph) ancestorsLocked(id string) (map[string]struct{}, []string) {
	visited := map[string]struct{}{id: {}}
	var order []string

	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		t, ok := g.tags[cur]
		if !ok {
			continue
		}
		for _, p := range t.ParentIDs {
			if _, seen := visited[p]; seen {
				continue
			}
			if _, exists := g.tags[p]; !exists {
				continue
			}
			visited[p] = struct{}{}
			order = append(order, p)
			stack = append(stack, p)
		}
	}
	delete(visited, id)
	return visited, order
}

// ExpandWithAncestors returns ids followed by every ancestor of each, without
// duplicates. Input ids keep their order; ancestors follow in discovery order.
func (g *Graph) ExpandWithAncestors(ids []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.expandLocked(ids)
}

func (g *Graph) expandLocked(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, id := range ids {
		add(id)
	}
	for _, id := range ids {
		_, order := g.ancestorsLocked(id)
		for _, a := range order {
			add(a)
		}
	}
	return out
}
