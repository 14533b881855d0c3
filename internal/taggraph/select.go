package taggraph

import (
	"strings"

	"github.com/mnemomark/mnemomark/internal/normalize"
)

// Selection modes for bulk tag operations.
const (
	SelectAll      = "all"
	SelectName     = "name"
	SelectParent   = "parent"
	SelectNoParent = "no-parent"
)

// Criteria selects tags for bulk operations. Value is the name fragment for
// SelectName and the parent id for SelectParent.
type Criteria struct {
	Mode  string `json:"mode" validate:"required,oneof=all name parent no-parent" enum:"all,name,parent,no-parent" doc:"Selection mode"`
	Value string `json:"value,omitempty" doc:"Name fragment or parent id"`
}

// Select returns the ids of matching tags in insertion order.
func (g *Graph) Select(c Criteria) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	term := strings.TrimSpace(c.Value)
	ids := []string{}
	for _, tid := range g.order {
		t := g.tags[tid]
		var match bool
		switch c.Mode {
		case SelectAll:
			match = true
		case SelectName:
			match = term != "" && normalize.ContainsFold(t.Name, term)
		case SelectParent:
			match = t.HasParent(term)
		case SelectNoParent:
			match = len(t.ParentIDs) == 0
		}
		if match {
			ids = append(ids, tid)
		}
	}
	return ids
}
