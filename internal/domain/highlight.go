package domain

import "errors"

// Default highlight colors.
const (
	DefaultFill   = "rgba(46, 125, 50, 0.35)"
	DefaultStroke = "rgba(27, 94, 32, 0.45)"
)

var (
	// ErrNoRects is returned when a highlight has no geometry.
	ErrNoRects = errors.New("highlight has no rectangles")
	// ErrInvalidPage is returned when a highlight's page number is below 1.
	ErrInvalidPage = errors.New("page number must be at least 1")
)

// NormalizedRect is a rectangle expressed as fractions of its page's
// width (Left, Width) and height (Top, Height). It does not depend on zoom.
type NormalizedRect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the right edge.
func (r NormalizedRect) Right() float64 { return r.Left + r.Width }

// Bottom returns the bottom edge.
func (r NormalizedRect) Bottom() float64 { return r.Top + r.Height }

// Highlight is a persisted, page-anchored annotation over selected text.
type Highlight struct {
	ID         string           `json:"id"`
	PageNumber int              `json:"pageNumber"`
	Rects      []NormalizedRect `json:"rects"`
	Text       string           `json:"text"`
	Fill       string           `json:"fill"`
	Stroke     string           `json:"stroke"`
	Tags       []string         `json:"tags"`
	Note       string           `json:"note"`
}

// Validate checks the invariants of a committed highlight.
func (h *Highlight) Validate() error {
	if h.PageNumber < 1 {
		return ErrInvalidPage
	}
	if len(h.Rects) == 0 {
		return ErrNoRects
	}
	return nil
}

// HasTag reports whether the highlight carries tagID.
func (h *Highlight) HasTag(tagID string) bool {
	for _, t := range h.Tags {
		if t == tagID {
			return true
		}
	}
	return false
}

// Colors returns the fill and stroke, falling back to the defaults.
func (h *Highlight) Colors() (fill, stroke string) {
	fill, stroke = h.Fill, h.Stroke
	if fill == "" {
		fill = DefaultFill
	}
	if stroke == "" {
		stroke = DefaultStroke
	}
	return fill, stroke
}

// DocumentHighlight is a highlight together with the document it belongs to.
type DocumentHighlight struct {
	DocumentID string `json:"documentId"`
	Highlight
}
