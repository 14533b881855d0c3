package geometry

import (
	"errors"
	"strconv"

	"github.com/mnemomark/mnemomark/internal/domain"
	"github.com/mnemomark/mnemomark/internal/id"
)

// Page marker contract with the document renderer.
const (
	PageClass      = "page"
	PageNumberAttr = "data-page-number"
)

var (
	// ErrEmptySelection is returned when a selection yields no client rects.
	ErrEmptySelection = errors.New("selection has no rectangles")
	// ErrNoPage is returned when no page marker encloses the selection.
	ErrNoPage = errors.New("no enclosing page element")
	// ErrDegeneratePage is returned when the page has no area to normalize against.
	ErrDegeneratePage = errors.New("page element has zero size")
)

// Element is a node of the rendered document.
type Element interface {
	Parent() Element
	HasClass(name string) bool
	Attr(name string) (string, bool)
	BoundingClientRect() PixelRect
}

// Selection is a live text selection.
type Selection interface {
	ClientRects() []PixelRect
	Text() string
	CommonAncestor() Element
}

// FindPage walks from el up through its ancestors to the first page marker
// and returns it with its 1-based page number.
func FindPage(el Element) (Element, int, error) {
	for cur := el; cur != nil; cur = cur.Parent() {
		if !cur.HasClass(PageClass) {
			continue
		}
		raw, ok := cur.Attr(PageNumberAttr)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			continue
		}
		return cur, n, nil
	}
	return nil, 0, ErrNoPage
}

// Encode builds a new highlight from sel anchored to page. Each client rect is
// stored relative to the page origin as a fraction of the page size.
func Encode(sel Selection, page Element) (*domain.Highlight, error) {
	if page == nil {
		return nil, ErrNoPage
	}
	_, pageNumber, err := FindPage(page)
	if err != nil {
		return nil, err
	}

	clientRects := sel.ClientRects()
	if len(clientRects) == 0 {
		return nil, ErrEmptySelection
	}

	box := page.BoundingClientRect()
	if box.Width <= 0 || box.Height <= 0 {
		return nil, ErrDegeneratePage
	}

	rects := make([]domain.NormalizedRect, len(clientRects))
	for i, r := range clientRects {
		rects[i] = Normalize(r, box)
	}

	return &domain.Highlight{
		ID:         id.Highlight(),
		PageNumber: pageNumber,
		Rects:      rects,
		Text:       sel.Text(),
		Fill:       domain.DefaultFill,
		Stroke:     domain.DefaultStroke,
		Tags:       []string{},
	}, nil
}

// EncodeSelection locates the page enclosing sel and encodes against it.
func EncodeSelection(sel Selection) (*domain.Highlight, error) {
	page, _, err := FindPage(sel.CommonAncestor())
	if err != nil {
		return nil, err
	}
	return Encode(sel, page)
}

// Decode converts the stored rects of h to pixels for the page's current size,
// relative to the page origin. Sizes are read live on every call.
func Decode(h *domain.Highlight, page Element) []PixelRect {
	box := page.BoundingClientRect()
	out := make([]PixelRect, len(h.Rects))
	for i, r := range h.Rects {
		out[i] = Scale(r, box.Width, box.Height)
	}
	return out
}

// Layout returns the rects to draw for h: merged into line spans, padded,
// and scaled to the page's current size.
func Layout(h *domain.Highlight, page Element) []PixelRect {
	box := page.BoundingClientRect()
	merged := Merge(h.Rects)
	out := make([]PixelRect, len(merged))
	for i, r := range merged {
		out[i] = Scale(Pad(r), box.Width, box.Height)
	}
	return out
}
