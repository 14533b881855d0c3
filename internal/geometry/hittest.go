package geometry

import "github.com/mnemomark/mnemomark/internal/domain"

// PointOnPage converts a client-space point to page fractions.
func PointOnPage(page Element, clientX, clientY float64) (x, y float64) {
	box := page.BoundingClientRect()
	if box.Width <= 0 || box.Height <= 0 {
		return -1, -1
	}
	return (clientX - box.Left) / box.Width, (clientY - box.Top) / box.Height
}

// HitTest returns the first highlight on pageNumber with a rect containing
// the page-fraction point (x, y), each rect widened by HitPad.
func HitTest(highlights []domain.Highlight, pageNumber int, x, y float64) (*domain.Highlight, bool) {
	for i := range highlights {
		h := &highlights[i]
		if h.PageNumber != pageNumber {
			continue
		}
		for _, r := range h.Rects {
			if x >= r.Left-HitPad && x <= r.Right()+HitPad &&
				y >= r.Top-HitPad && y <= r.Bottom()+HitPad {
				return h, true
			}
		}
	}
	return nil, false
}
