// Package geometry converts live text selections into page-relative highlight
// geometry and back into pixel rectangles for the current page size.
package geometry

import "github.com/mnemomark/mnemomark/internal/domain"

// Tolerances in page-fraction units.
const (
	// SameLineEpsilon is the largest top difference for two rects to share a line.
	SameLineEpsilon = 0.003
	// HeightEpsilon is the largest height difference for two rects to share a line.
	HeightEpsilon = 0.02
	// RenderPad is added above and below each merged rect when drawing.
	RenderPad = 0.002
	// HitPad widens every rect when hit-testing a point.
	HitPad = 0.004
)

// PixelRect is a rectangle in CSS pixels.
type PixelRect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Normalize expresses r, given in client space, as fractions of page.
func Normalize(r, page PixelRect) domain.NormalizedRect {
	return domain.NormalizedRect{
		Top:    (r.Top - page.Top) / page.Height,
		Left:   (r.Left - page.Left) / page.Width,
		Width:  r.Width / page.Width,
		Height: r.Height / page.Height,
	}
}

// Scale converts a normalized rect to pixels relative to the page origin.
func Scale(r domain.NormalizedRect, pageWidth, pageHeight float64) PixelRect {
	return PixelRect{
		Top:    r.Top * pageHeight,
		Left:   r.Left * pageWidth,
		Width:  r.Width * pageWidth,
		Height: r.Height * pageHeight,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
