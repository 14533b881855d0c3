package domain

import "time"

// Tag is a named, colored label in a multi-parent hierarchy.
// ParentIDs are weak references; a missing parent is ignored during traversal.
// Timestamps are epoch milliseconds to stay compatible with stored and synced data.
type Tag struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Color     string   `json:"color"`
	ParentIDs []string `json:"parentIds"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// Touch updates the UpdatedAt timestamp.
func (t *Tag) Touch(now time.Time) {
	t.UpdatedAt = now.UnixMilli()
}

// HasParent reports whether id is one of the tag's declared parents.
func (t *Tag) HasParent(id string) bool {
	for _, p := range t.ParentIDs {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate graph state.
func (t Tag) Clone() Tag {
	t.ParentIDs = append([]string(nil), t.ParentIDs...)
	if t.ParentIDs == nil {
		t.ParentIDs = []string{}
	}
	return t
}
