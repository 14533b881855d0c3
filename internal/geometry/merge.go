package geometry

import (
	"math"
	"sort"

	"github.com/mnemomark/mnemomark/internal/domain"
)

// Merge collapses per-run selection rects into roughly one span per text line.
// The input is not modified. Rects are stable-sorted by (top, left) and folded
// into the current span while both the top and height stay within tolerance;
// the span grows to the union bounding box. Passes repeat until nothing merges,
// so Merge(Merge(x)) equals Merge(x).
func Merge(rects []domain.NormalizedRect) []domain.NormalizedRect {
	if len(rects) == 0 {
		return []domain.NormalizedRect{}
	}
	out := mergePass(rects)
	for {
		next := mergePass(out)
		if len(next) == len(out) {
			return next
		}
		out = next
	}
}

func mergePass(rects []domain.NormalizedRect) []domain.NormalizedRect {
	sorted := make([]domain.NormalizedRect, len(rects))
	copy(sorted, rects)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Top == sorted[j].Top {
			return sorted[i].Left < sorted[j].Left
		}
		return sorted[i].Top < sorted[j].Top
	})

	merged := make([]domain.NormalizedRect, 0, len(sorted))
	for _, r := range sorted {
		if len(merged) == 0 {
			merged = append(merged, r)
			continue
		}
		last := &merged[len(merged)-1]
		if !sameLine(*last, r) {
			merged = append(merged, r)
			continue
		}
		left := math.Min(last.Left, r.Left)
		right := math.Max(last.Right(), r.Right())
		*last = domain.NormalizedRect{
			Top:    math.Min(last.Top, r.Top),
			Left:   left,
			Width:  right - left,
			Height: math.Max(last.Height, r.Height),
		}
	}
	return merged
}

func sameLine(a, b domain.NormalizedRect) bool {
	return math.Abs(b.Top-a.Top) < SameLineEpsilon &&
		math.Abs(b.Height-a.Height) < HeightEpsilon
}

// Pad grows r vertically by RenderPad on each side, clamped to the page.
// Stored geometry is never padded; this is applied at draw time only.
func Pad(r domain.NormalizedRect) domain.NormalizedRect {
	top := clamp01(r.Top - RenderPad)
	bottom := clamp01(r.Bottom() + RenderPad)
	return domain.NormalizedRect{
		Top:    top,
		Left:   r.Left,
		Width:  r.Width,
		Height: math.Max(0, bottom-top),
	}
}
