package taggraph

import (
	"context"
	"fmt"

	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/id"
	"github.com/mnemomark/mnemomark/internal/normalize"
)

// Input describes a tag as edited by the user. ParentIDs and ChildIDs are
// complete: on Update, children not listed lose this tag as a parent.
type Input struct {
	Name      string   `json:"name" validate:"notblank,max=200" doc:"Tag name, unique ignoring case"`
	Color     string   `json:"color,omitempty" validate:"omitempty,iscolor" doc:"CSS color"`
	ParentIDs []string `json:"parentIds,omitempty" doc:"Tags this tag is filed under"`
	ChildIDs  []string `json:"childIds,omitempty" doc:"Tags filed under this tag"`
}

// Create adds a tag. It fails with ErrNameTaken when the name collides,
// leaving the graph unchanged.
func (g *Graph) Create(ctx context.Context, in Input) (*domain.Tag, error) {
	if err := g.validator.Validate(in); err != nil {
		return nil, err
	}
	name := normalize.Name(in.Name)
	color := in.Color
	if color == "" {
		color = DefaultColor
	}

	g.mu.Lock()
	if g.byNameLocked(name, "") != nil {
		g.mu.Unlock()
		return nil, ErrNameTaken
	}

	now := g.clock.Now().UnixMilli()
	tag := &domain.Tag{
		ID:        id.Tag(),
		Name:      name,
		Color:     color,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tag.ParentIDs = g.cleanRefsLocked(in.ParentIDs, tag.ID)

	prevTags, prevOrder := g.snapshotLocked()
	g.tags[tag.ID] = tag
	g.order = append(g.order, tag.ID)
	g.reconcileChildrenLocked(tag.ID, g.cleanRefsLocked(in.ChildIDs, tag.ID))

	if err := g.persistLocked(ctx); err != nil {
		g.tags, g.order = prevTags, prevOrder
		g.mu.Unlock()
		return nil, err
	}
	created := tag.Clone()
	g.mu.Unlock()

	g.logger.Info("tag created", "tag_id", created.ID, "name", created.Name, "parent_count", len(created.ParentIDs))
	g.fireMutate(ctx)
	return &created, nil
}

// Update redefines tag id from in, reconciling child edges in both directions.
func (g *Graph) Update(ctx context.Context, tagID string, in Input) (*domain.Tag, error) {
	if err := g.validator.Validate(in); err != nil {
		return nil, err
	}
	name := normalize.Name(in.Name)

	g.mu.Lock()
	tag, ok := g.tags[tagID]
	if !ok {
		g.mu.Unlock()
		return nil, ErrTagNotFound
	}
	if g.byNameLocked(name, tagID) != nil {
		g.mu.Unlock()
		return nil, ErrNameTaken
	}

	prevTags, prevOrder := g.snapshotLocked()

	tag.Name = name
	if in.Color != "" {
		tag.Color = in.Color
	}
	tag.ParentIDs = g.cleanRefsLocked(in.ParentIDs, tagID)
	tag.Touch(g.clock.Now())
	g.reconcileChildrenLocked(tagID, g.cleanRefsLocked(in.ChildIDs, tagID))

	if err := g.persistLocked(ctx); err != nil {
		g.tags, g.order = prevTags, prevOrder
		g.mu.Unlock()
		return nil, err
	}
	updated := tag.Clone()
	g.mu.Unlock()

	g.logger.Info("tag updated", "tag_id", tagID, "name", updated.Name)
	g.fireMutate(ctx)
	return &updated, nil
}

// reconcileChildrenLocked makes exactly childIDs have parentID among their parents.
func (g *Graph) reconcileChildrenLocked(parentID string, childIDs []string) {
	want := make(map[string]struct{}, len(childIDs))
	for _, c := range childIDs {
		want[c] = struct{}{}
	}
	now := g.clock.Now()

	for _, tid := range g.order {
		t := g.tags[tid]
		if tid == parentID {
			continue
		}
		_, isChild := want[tid]
		switch {
		case isChild && !t.HasParent(parentID):
			t.ParentIDs = append(t.ParentIDs, parentID)
			t.Touch(now)
		case !isChild && t.HasParent(parentID):
			t.ParentIDs = without(t.ParentIDs, parentID)
			t.Touch(now)
		}
	}
}

// cleanRefsLocked drops self references, unknown ids and duplicates.
func (g *Graph) cleanRefsLocked(ids []string, self string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, ref := range ids {
		if ref == self {
			continue
		}
		if _, ok := g.tags[ref]; !ok {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// Delete removes a tag, strips it from every parent list and every highlight.
func (g *Graph) Delete(ctx context.Context, tagID string) error {
	n, err := g.DeleteMany(ctx, []string{tagID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTagNotFound
	}
	return nil
}

// DeleteMany removes every listed tag with the same cascade as Delete.
// Unknown ids are ignored. It returns the number of tags removed.
func (g *Graph) DeleteMany(ctx context.Context, tagIDs []string) (int, error) {
	g.mu.Lock()
	drop := make(map[string]struct{}, len(tagIDs))
	var removed []string
	for _, tid := range tagIDs {
		if _, ok := g.tags[tid]; !ok {
			continue
		}
		if _, dup := drop[tid]; dup {
			continue
		}
		drop[tid] = struct{}{}
		removed = append(removed, tid)
	}
	if len(removed) == 0 {
		g.mu.Unlock()
		return 0, nil
	}

	prevTags, prevOrder := g.snapshotLocked()
	now := g.clock.Now()

	kept := g.order[:0:0]
	for _, tid := range g.order {
		if _, ok := drop[tid]; ok {
			delete(g.tags, tid)
			continue
		}
		kept = append(kept, tid)

		t := g.tags[tid]
		parents := t.ParentIDs[:0:0]
		for _, p := range t.ParentIDs {
			if _, ok := drop[p]; !ok {
				parents = append(parents, p)
			}
		}
		if len(parents) != len(t.ParentIDs) {
			t.ParentIDs = parents
			t.Touch(now)
		}
	}
	g.order = kept

	if err := g.persistLocked(ctx); err != nil {
		g.tags, g.order = prevTags, prevOrder
		g.mu.Unlock()
		return 0, err
	}
	g.mu.Unlock()

	if g.highlights != nil {
		pruned, err := g.highlights.PruneTags(ctx, removed...)
		if err != nil {
			return len(removed), fmt.Errorf("prune deleted tags from highlights: %w", err)
		}
		g.logger.Info("tags deleted", "tag_count", len(removed), "highlights_pruned", pruned)
	}

	g.fireMutate(ctx)
	return len(removed), nil
}

// Reparent files every listed tag under newParentID alone, or clears their
// parents when newParentID is empty.
func (g *Graph) Reparent(ctx context.Context, tagIDs []string, newParentID string) (int, error) {
	g.mu.Lock()
	if newParentID != "" {
		if _, ok := g.tags[newParentID]; !ok {
			g.mu.Unlock()
			return 0, ErrTagNotFound
		}
		for _, tid := range tagIDs {
			if tid == newParentID {
				g.mu.Unlock()
				return 0, domainerrors.Validation("A tag cannot be its own parent")
			}
		}
	}

	prevTags, prevOrder := g.snapshotLocked()
	now := g.clock.Now()
	changed := 0
	for _, tid := range tagIDs {
		t, ok := g.tags[tid]
		if !ok {
			continue
		}
		if newParentID == "" {
			t.ParentIDs = []string{}
		} else {
			t.ParentIDs = []string{newParentID}
		}
		t.Touch(now)
		changed++
	}
	if changed == 0 {
		g.mu.Unlock()
		return 0, nil
	}

	if err := g.persistLocked(ctx); err != nil {
		g.tags, g.order = prevTags, prevOrder
		g.mu.Unlock()
		return 0, err
	}
	g.mu.Unlock()

	g.fireMutate(ctx)
	return changed, nil
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
