package geometry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemomark/mnemomark/internal/domain"
)

const eps = 1e-9

func assertPixelRectsEqual(t *testing.T, want, got []PixelRect) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i].Top, got[i].Top, eps, "top[%d]", i)
		assert.InDelta(t, want[i].Left, got[i].Left, eps, "left[%d]", i)
		assert.InDelta(t, want[i].Width, got[i].Width, eps, "width[%d]", i)
		assert.InDelta(t, want[i].Height, got[i].Height, eps, "height[%d]", i)
	}
}

func TestFindPage(t *testing.T) {
	page := newPage("4", PixelRect{Width: 600, Height: 800})
	span := newChild(newChild(page))

	found, n, err := FindPage(span)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Same(t, page, found)

	_, _, err = FindPage(newChild(nil))
	assert.ErrorIs(t, err, ErrNoPage)

	badNumber := newPage("zero", PixelRect{})
	_, _, err = FindPage(newChild(badNumber))
	assert.ErrorIs(t, err, ErrNoPage)
}

func TestEncode_RoundTrip(t *testing.T) {
	page := newPage("2", PixelRect{Top: 120, Left: 40, Width: 612, Height: 792})
	client := []PixelRect{
		{Top: 200, Left: 100, Width: 300, Height: 14},
		{Top: 216, Left: 60, Width: 420, Height: 14},
		{Top: 232, Left: 60, Width: 95.5, Height: 13.5},
	}
	sel := &fakeSelection{rects: client, text: "three lines of text", ancestor: newChild(page)}

	h, err := EncodeSelection(sel)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(h.ID, "hl-"))
	assert.Equal(t, 2, h.PageNumber)
	assert.Equal(t, "three lines of text", h.Text)
	assert.Equal(t, domain.DefaultFill, h.Fill)
	assert.Equal(t, domain.DefaultStroke, h.Stroke)
	require.NoError(t, h.Validate())

	want := make([]PixelRect, len(client))
	for i, r := range client {
		want[i] = PixelRect{Top: r.Top - 120, Left: r.Left - 40, Width: r.Width, Height: r.Height}
	}
	assertPixelRectsEqual(t, want, Decode(h, page))
}

func TestDecode_ScaleInvariance(t *testing.T) {
	h := &domain.Highlight{
		PageNumber: 1,
		Rects: []domain.NormalizedRect{
			{Top: 0.1, Left: 0.2, Width: 0.3, Height: 0.02},
			{Top: 0.5, Left: 0.05, Width: 0.6, Height: 0.025},
		},
	}
	base := newPage("1", PixelRect{Width: 600, Height: 800})
	zoomed := newPage("1", PixelRect{Top: 30, Left: 10, Width: 1500, Height: 2000})

	at1 := Decode(h, base)
	at25 := Decode(h, zoomed)

	const k = 2.5
	for i := range at1 {
		assert.InDelta(t, at1[i].Top*k, at25[i].Top, eps)
		assert.InDelta(t, at1[i].Left*k, at25[i].Left, eps)
		assert.InDelta(t, at1[i].Width*k, at25[i].Width, eps)
		assert.InDelta(t, at1[i].Height*k, at25[i].Height, eps)
	}
}

func TestEncode_Failures(t *testing.T) {
	page := newPage("1", PixelRect{Width: 600, Height: 800})

	_, err := Encode(&fakeSelection{}, page)
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = EncodeSelection(&fakeSelection{
		rects:    []PixelRect{{Top: 1, Left: 1, Width: 1, Height: 1}},
		ancestor: newChild(nil),
	})
	assert.ErrorIs(t, err, ErrNoPage)

	flat := newPage("1", PixelRect{Width: 600})
	_, err = Encode(&fakeSelection{rects: []PixelRect{{Width: 1, Height: 1}}}, flat)
	assert.ErrorIs(t, err, ErrDegeneratePage)

	_, err = Encode(&fakeSelection{rects: []PixelRect{{Width: 1, Height: 1}}}, nil)
	assert.ErrorIs(t, err, ErrNoPage)
}

func TestLayout_MergesAndPads(t *testing.T) {
	page := newPage("1", PixelRect{Width: 1000, Height: 1000})
	h := &domain.Highlight{
		PageNumber: 1,
		Rects: []domain.NormalizedRect{
			{Top: 0.10, Left: 0.10, Width: 0.20, Height: 0.02},
			{Top: 0.101, Left: 0.31, Width: 0.15, Height: 0.021},
		},
	}

	got := Layout(h, page)
	require.Len(t, got, 1)
	assert.InDelta(t, 98, got[0].Top, 1e-6)
	assert.InDelta(t, 100, got[0].Left, 1e-6)
	assert.InDelta(t, 360, got[0].Width, 1e-6)
	assert.InDelta(t, 25, got[0].Height, 1e-6)

	// Stored geometry is untouched.
	assert.Len(t, h.Rects, 2)
	assert.Equal(t, 0.10, h.Rects[0].Top)
}
