package taggraph

import (
	"context"
	"errors"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
)

var errNoHighlightStore = errors.New("tag graph has no highlight store")

// ApplyToHighlights tags every referenced highlight with the tag named
// tagName (ignoring case) and all its ancestors. It returns the number of
// highlights changed.
func (g *Graph) ApplyToHighlights(ctx context.Context, refs []annotation.Ref, tagName string) (int, error) {
	if g.highlights == nil {
		return 0, errNoHighlightStore
	}
	tag, ok := g.FindByName(tagName)
	if !ok {
		return 0, domainerrors.NotFound("Tag not found. Create it first.")
	}
	return g.highlights.AddTags(ctx, refs, g.ExpandWithAncestors([]string{tag.ID}))
}

// SetHighlightTags replaces a highlight's tags with selected plus all their
// ancestors. The shell passes the highlight's current tag set, ancestors
// included, as selected, so ancestors are never retracted by this call.
func (g *Graph) SetHighlightTags(ctx context.Context, documentID, highlightID string, selected []string) (*domain.Highlight, error) {
	if g.highlights == nil {
		return nil, errNoHighlightStore
	}
	tags := g.ExpandWithAncestors(selected)
	return g.highlights.Update(ctx, documentID, highlightID, annotation.Patch{Tags: &tags})
}
