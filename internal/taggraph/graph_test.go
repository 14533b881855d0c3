package taggraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/domain"
	"github.com/mnemomark/mnemomark/internal/kv"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	graph      *Graph
	mem        *kv.Memory
	highlights *annotation.Store
	clock      *clockwork.FakeClock
	logs       *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := kv.NewMemory()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	highlights := annotation.NewStore(mem, logger)
	clock := clockwork.NewFakeClockAt(epoch)
	g := New(mem, highlights, nil, clock, logger)
	require.NoError(t, g.Reload(context.Background()))
	return &fixture{graph: g, mem: mem, highlights: highlights, clock: clock, logs: logs}
}

func (f *fixture) create(t *testing.T, name string, parents ...string) domain.Tag {
	t.Helper()
	tag, err := f.graph.Create(context.Background(), Input{Name: name, ParentIDs: parents})
	require.NoError(t, err)
	return *tag
}

func (f *fixture) stored(t *testing.T) []domain.Tag {
	t.Helper()
	data, err := f.mem.Get(context.Background(), StorageKey)
	require.NoError(t, err)
	var tags []domain.Tag
	require.NoError(t, json.Unmarshal(data, &tags))
	return tags
}

func set(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestAncestorClosure(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "A")
	b := f.create(t, "B", a.ID)
	c := f.create(t, "C", b.ID)

	assert.Equal(t, set(a.ID, b.ID), f.graph.AncestorsOf(c.ID))
	assert.Equal(t, set(a.ID), f.graph.AncestorsOf(b.ID))
	assert.Empty(t, f.graph.AncestorsOf(a.ID))

	assert.Equal(t, []string{c.ID, b.ID, a.ID}, f.graph.ExpandWithAncestors([]string{c.ID}))
}

func TestAncestorsOf_MultipleParents(t *testing.T) {
	f := newFixture(t)
	science := f.create(t, "Science")
	history := f.create(t, "History")
	physics := f.create(t, "Physics", science.ID)
	hop := f.create(t, "History of Physics", physics.ID, history.ID)

	assert.Equal(t, set(physics.ID, history.ID, science.ID), f.graph.AncestorsOf(hop.ID))
	assert.ElementsMatch(t,
		[]string{hop.ID, physics.ID, history.ID, science.ID},
		f.graph.ExpandWithAncestors([]string{hop.ID}))
}

func TestAncestorsOf_CycleTerminates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.graph.Replace(context.Background(), []domain.Tag{
		{ID: "tag-a", Name: "A", ParentIDs: []string{"tag-b"}},
		{ID: "tag-b", Name: "B", ParentIDs: []string{"tag-a"}},
		{ID: "tag-self", Name: "Self", ParentIDs: []string{"tag-self"}},
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Equal(t, set("tag-b"), f.graph.AncestorsOf("tag-a"))
		assert.Equal(t, set("tag-a"), f.graph.AncestorsOf("tag-b"))
		assert.Empty(t, f.graph.AncestorsOf("tag-self"))
		assert.Equal(t, []string{"tag-a", "tag-b"}, f.graph.ExpandWithAncestors([]string{"tag-a"}))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ancestor walk did not terminate on a cycle")
	}
}

func TestAncestorsOf_UnknownParentsIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.graph.Replace(context.Background(), []domain.Tag{
		{ID: "tag-root", Name: "Root"},
		{ID: "tag-leaf", Name: "Leaf", ParentIDs: []string{"tag-deleted", "tag-root"}},
	}))

	assert.Equal(t, set("tag-root"), f.graph.AncestorsOf("tag-leaf"))
	assert.Empty(t, f.graph.AncestorsOf("tag-nope"))
	assert.Equal(t, []string{"tag-nope"}, f.graph.ExpandWithAncestors([]string{"tag-nope"}))
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	tag, err := f.graph.Create(context.Background(), Input{Name: "  Quotes  "})
	require.NoError(t, err)

	assert.Regexp(t, `^tag-[A-Za-z0-9_-]{21}$`, tag.ID)
	assert.Equal(t, "Quotes", tag.Name)
	assert.Equal(t, DefaultColor, tag.Color)
	assert.Equal(t, []string{}, tag.ParentIDs)
	assert.Equal(t, epoch.UnixMilli(), tag.CreatedAt)
	assert.Equal(t, epoch.UnixMilli(), tag.UpdatedAt)

	stored := f.stored(t)
	require.Len(t, stored, 1)
	assert.Equal(t, tag.ID, stored[0].ID)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.graph.Create(context.Background(), Input{Name: "   "})
	assert.Error(t, err)
	_, err = f.graph.Create(context.Background(), Input{Name: "Quotes", Color: "sparkly"})
	assert.Error(t, err)
	assert.Zero(t, f.graph.Len())
}

func TestNameCollisionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	quotes := f.create(t, "Quotes")
	other := f.create(t, "Other")
	before := f.graph.List()
	storedBefore := f.stored(t)

	_, err := f.graph.Create(context.Background(), Input{Name: "QUOTES"})
	require.ErrorIs(t, err, ErrNameTaken)
	assert.Equal(t, "A tag with this name already exists", err.Error())

	_, err = f.graph.Update(context.Background(), other.ID, Input{Name: "quotes"})
	require.ErrorIs(t, err, ErrNameTaken)

	assert.Equal(t, before, f.graph.List())
	assert.Equal(t, storedBefore, f.stored(t))

	renamed, err := f.graph.Update(context.Background(), quotes.ID, Input{Name: "QUOTES"})
	require.NoError(t, err)
	assert.Equal(t, "QUOTES", renamed.Name)
}

func TestUpdate_ReconcilesChildren(t *testing.T) {
	f := newFixture(t)
	parent := f.create(t, "Parent")
	keep := f.create(t, "Keep", parent.ID)
	drop := f.create(t, "Drop", parent.ID)
	adopt := f.create(t, "Adopt")

	f.clock.Advance(time.Minute)
	_, err := f.graph.Update(context.Background(), parent.ID, Input{
		Name:     "Parent",
		ChildIDs: []string{keep.ID, adopt.ID, parent.ID},
	})
	require.NoError(t, err)

	got, _ := f.graph.Get(keep.ID)
	assert.Equal(t, []string{parent.ID}, got.ParentIDs)
	assert.Equal(t, epoch.UnixMilli(), got.UpdatedAt, "unchanged child is not touched")

	got, _ = f.graph.Get(drop.ID)
	assert.Empty(t, got.ParentIDs)
	assert.Equal(t, epoch.Add(time.Minute).UnixMilli(), got.UpdatedAt)

	got, _ = f.graph.Get(adopt.ID)
	assert.Equal(t, []string{parent.ID}, got.ParentIDs)

	got, _ = f.graph.Get(parent.ID)
	assert.Empty(t, got.ParentIDs, "self reference is dropped")
}

func TestCreate_WithChildren(t *testing.T) {
	f := newFixture(t)
	child := f.create(t, "Child")

	parent, err := f.graph.Create(context.Background(), Input{Name: "Parent", ChildIDs: []string{child.ID, "tag-unknown"}})
	require.NoError(t, err)

	got, _ := f.graph.Get(child.ID)
	assert.Equal(t, []string{parent.ID}, got.ParentIDs)
	assert.Equal(t, 2, f.graph.Len())
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.graph.Update(context.Background(), "tag-missing", Input{Name: "X"})
	assert.ErrorIs(t, err, ErrTagNotFound)
}

func TestCascadingDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "A")
	b := f.create(t, "B", a.ID)

	h := domain.Highlight{
		ID:         "hl-1",
		PageNumber: 1,
		Rects:      []domain.NormalizedRect{{Top: 0.1, Left: 0.1, Width: 0.2, Height: 0.02}},
		Tags:       []string{b.ID, a.ID},
	}
	require.NoError(t, f.highlights.Save(ctx, "/doc.pdf", h))

	require.NoError(t, f.graph.Delete(ctx, a.ID))

	_, ok := f.graph.Get(a.ID)
	assert.False(t, ok)
	got, _ := f.graph.Get(b.ID)
	assert.Empty(t, got.ParentIDs)

	hs, err := f.highlights.Load(ctx, "/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, hs[0].Tags)

	assert.ErrorIs(t, f.graph.Delete(ctx, a.ID), ErrTagNotFound)
}

func TestDeleteMany(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "A")
	b := f.create(t, "B", a.ID)
	c := f.create(t, "C", b.ID)

	n, err := f.graph.DeleteMany(context.Background(), []string{a.ID, b.ID, "tag-unknown", a.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tags := f.graph.List()
	require.Len(t, tags, 1)
	assert.Equal(t, c.ID, tags[0].ID)
	assert.Empty(t, tags[0].ParentIDs)
}

func TestSelect(t *testing.T) {
	f := newFixture(t)
	books := f.create(t, "Books")
	fiction := f.create(t, "Fiction", books.ID)
	poetry := f.create(t, "Poetry", books.ID)
	facts := f.create(t, "Fun Facts")

	tests := []struct {
		criteria Criteria
		want     []string
	}{
		{Criteria{Mode: SelectAll}, []string{books.ID, fiction.ID, poetry.ID, facts.ID}},
		{Criteria{Mode: SelectName, Value: " FI "}, []string{fiction.ID}},
		{Criteria{Mode: SelectName, Value: "f"}, []string{fiction.ID, facts.ID}},
		{Criteria{Mode: SelectName, Value: ""}, []string{}},
		{Criteria{Mode: SelectParent, Value: books.ID}, []string{fiction.ID, poetry.ID}},
		{Criteria{Mode: SelectNoParent}, []string{books.ID, facts.ID}},
		{Criteria{Mode: "bogus"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.criteria.Mode+"/"+tt.criteria.Value, func(t *testing.T) {
			assert.Equal(t, tt.want, f.graph.Select(tt.criteria))
		})
	}
}

func TestReparent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.create(t, "Old")
	target := f.create(t, "Target")
	x := f.create(t, "X", old.ID)
	y := f.create(t, "Y")

	n, err := f.graph.Reparent(ctx, []string{x.ID, y.ID}, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := f.graph.Get(x.ID)
	assert.Equal(t, []string{target.ID}, got.ParentIDs)
	got, _ = f.graph.Get(y.ID)
	assert.Equal(t, []string{target.ID}, got.ParentIDs)

	n, err = f.graph.Reparent(ctx, []string{x.ID}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ = f.graph.Get(x.ID)
	assert.Empty(t, got.ParentIDs)

	_, err = f.graph.Reparent(ctx, []string{x.ID, target.ID}, target.ID)
	assert.Error(t, err)
	_, err = f.graph.Reparent(ctx, []string{x.ID}, "tag-missing")
	assert.ErrorIs(t, err, ErrTagNotFound)
}

func TestOnMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var calls [][]domain.Tag
	f.graph.OnMutate(func(_ context.Context, tags []domain.Tag) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, tags)
	})

	a := f.create(t, "A")
	_, err := f.graph.Update(ctx, a.ID, Input{Name: "A2"})
	require.NoError(t, err)
	require.NoError(t, f.graph.Delete(ctx, a.ID))
	require.NoError(t, f.graph.Replace(ctx, []domain.Tag{{ID: "tag-r", Name: "Remote"}}))
	require.NoError(t, f.graph.Reload(ctx))
	_, err = f.graph.Create(ctx, Input{Name: "Remote"})
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 3)
	assert.Equal(t, "A", calls[0][0].Name)
	assert.Equal(t, "A2", calls[1][0].Name)
	assert.Empty(t, calls[2])
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mem.Set(ctx, StorageKey, []byte(`[{"id":"tag-1","name":"One","color":"#000000","parentIds":null,"createdAt":1,"updatedAt":2}]`)))
	require.NoError(t, f.graph.Reload(ctx))

	tags := f.graph.List()
	require.Len(t, tags, 1)
	assert.Equal(t, "One", tags[0].Name)
	assert.Equal(t, []string{}, tags[0].ParentIDs)
	assert.Equal(t, int64(2), tags[0].UpdatedAt)

	require.NoError(t, f.mem.Set(ctx, StorageKey, []byte(`{"broken"`)))
	require.NoError(t, f.graph.Reload(ctx))
	assert.Zero(t, f.graph.Len())
	assert.Contains(t, f.logs.String(), "data integrity warning")
}

func TestWatch_ReloadsForeignWrites(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 1)
	require.NoError(t, f.graph.Watch(ctx, func() { reloaded <- struct{}{} }))

	other := New(f.mem.Peer(), nil, nil, f.clock, nil)
	_, err := other.Create(ctx, Input{Name: "From another window"})
	require.NoError(t, err)

	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("foreign tag write was not picked up")
	}
	_, ok := f.graph.FindByName("from another window")
	assert.True(t, ok)
}

type failingStore struct {
	kv.Store
	fail bool
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

func TestPersistFailureRollsBack(t *testing.T) {
	store := &failingStore{Store: kv.NewMemory()}
	g := New(store, nil, nil, clockwork.NewFakeClockAt(epoch), nil)
	ctx := context.Background()

	parent, err := g.Create(ctx, Input{Name: "Parent"})
	require.NoError(t, err)
	child, err := g.Create(ctx, Input{Name: "Child", ParentIDs: []string{parent.ID}})
	require.NoError(t, err)
	before := g.List()

	store.fail = true
	_, err = g.Create(ctx, Input{Name: "New", ChildIDs: []string{child.ID}})
	assert.Error(t, err)
	_, err = g.Update(ctx, parent.ID, Input{Name: "Renamed"})
	assert.Error(t, err)
	_, err = g.DeleteMany(ctx, []string{parent.ID})
	assert.Error(t, err)

	assert.Equal(t, before, g.List())
}
