package annotation

import (
	"context"
	"strings"

	"github.com/mnemomark/mnemomark/internal/domain"
	"github.com/mnemomark/mnemomark/internal/normalize"
)

// Criteria filters highlights across documents. Empty fields match everything;
// when both are set a highlight must satisfy both.
type Criteria struct {
	TagID string `query:"tag" json:"tagId,omitempty"`
	Text  string `query:"text" json:"text,omitempty"`
}

// Matches reports whether h satisfies c. Text matches case-insensitively.
func (c Criteria) Matches(h *domain.Highlight) bool {
	if c.TagID != "" && !h.HasTag(c.TagID) {
		return false
	}
	return normalize.ContainsFold(h.Text, strings.TrimSpace(c.Text))
}

// Select returns every highlight matching c, in LoadAll order.
func (s *Store) Select(ctx context.Context, c Criteria) ([]domain.DocumentHighlight, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DocumentHighlight, 0, len(all))
	for i := range all {
		if c.Matches(&all[i].Highlight) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Refs returns the references of hs.
func Refs(hs []domain.DocumentHighlight) []Ref {
	refs := make([]Ref, len(hs))
	for i, h := range hs {
		refs[i] = Ref{DocumentID: h.DocumentID, HighlightID: h.ID}
	}
	return refs
}
