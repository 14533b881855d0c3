// Package render draws stored highlights onto the pages of the open
// document and manages the preview shown while a new highlight is edited.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mnemomark/mnemomark/internal/domain"
	"github.com/mnemomark/mnemomark/internal/geometry"
)

// ErrNoPending is returned by Commit when no preview is open.
var ErrNoPending = errors.New("no pending highlight")

// ErrDetached is returned when no document is attached.
var ErrDetached = errors.New("no document attached")

// Marker is one drawn rectangle of a highlight, relative to its page.
type Marker struct {
	HighlightID string
	Rect        geometry.PixelRect
	Fill        string
	Stroke      string
}

// Layer is the drawing surface of one page.
type Layer interface {
	Clear(highlightID string)
	Draw(m Marker)
}

// Page is a rendered page with its highlight layer.
type Page interface {
	geometry.Element
	Layer() Layer
}

// Document is the rendered document.
type Document interface {
	Page(number int) (Page, bool)
	// RequestFrame runs fn before the next repaint.
	RequestFrame(fn func()) (cancel func())
	OnPageRendered(fn func()) (unsubscribe func())
	OnPagesLoaded(fn func()) (unsubscribe func())
}

// Highlights is the highlight storage used for drawing and commits.
type Highlights interface {
	Load(ctx context.Context, documentID string) ([]domain.Highlight, error)
	Save(ctx context.Context, documentID string, h domain.Highlight) error
}

// TagExpander adds ancestor tags to a selection.
type TagExpander interface {
	ExpandWithAncestors(ids []string) []string
}

type pending struct {
	sel  geometry.Selection
	page geometry.Element
	id   string
}

// Manager coalesces layout changes into at most one re-render per frame.
// A render already in progress drops further triggers instead of queueing them.
type Manager struct {
	highlights Highlights
	tags       TagExpander
	logger     *slog.Logger

	mu          sync.Mutex
	doc         Document
	documentID  string
	unsubscribe []func()
	cancelFrame func()
	pending     bool
	rendering   bool
	preview     *pending
	drawn       map[string]int // highlight id -> page number
}

// NewManager creates a detached manager.
func NewManager(highlights Highlights, tags TagExpander, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		highlights: highlights,
		tags:       tags,
		logger:     logger,
		drawn:      make(map[string]int),
	}
}

// Attach binds the manager to doc, subscribes to its layout notifications
// and schedules a full render.
func (m *Manager) Attach(doc Document, documentID string) {
	m.Reset()

	m.mu.Lock()
	m.doc = doc
	m.documentID = documentID
	m.mu.Unlock()

	unsubRendered := doc.OnPageRendered(m.ScheduleRender)
	unsubLoaded := doc.OnPagesLoaded(m.ScheduleRender)

	m.mu.Lock()
	m.unsubscribe = append(m.unsubscribe, unsubRendered, unsubLoaded)
	m.mu.Unlock()

	m.ScheduleRender()
}

// Reset unsubscribes from the attached document and clears transient state.
func (m *Manager) Reset() {
	m.mu.Lock()
	unsubs := m.unsubscribe
	cancel := m.cancelFrame
	m.unsubscribe = nil
	m.cancelFrame = nil
	m.pending = false
	m.rendering = false
	m.preview = nil
	m.doc = nil
	m.documentID = ""
	m.drawn = make(map[string]int)
	m.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	if cancel != nil {
		cancel()
	}
}

// DocumentID returns the attached document's id, or "" when detached.
func (m *Manager) DocumentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documentID
}

// ScheduleRender requests a full render on the next frame. Calls made
// while a frame is already requested are absorbed by it.
func (m *Manager) ScheduleRender() {
	m.mu.Lock()
	if m.pending || m.doc == nil {
		m.mu.Unlock()
		return
	}
	m.pending = true
	doc := m.doc
	m.mu.Unlock()

	cancel := doc.RequestFrame(func() {
		m.mu.Lock()
		if m.doc != doc {
			m.mu.Unlock()
			return
		}
		m.pending = false
		m.cancelFrame = nil
		m.mu.Unlock()
		m.RenderAll(context.Background())
	})

	m.mu.Lock()
	if m.doc == doc && m.pending {
		m.cancelFrame = cancel
	}
	m.mu.Unlock()
}

// RenderAll redraws every stored highlight of the attached document.
func (m *Manager) RenderAll(ctx context.Context) {
	m.mu.Lock()
	if m.rendering || m.doc == nil {
		m.mu.Unlock()
		return
	}
	m.rendering = true
	doc, documentID := m.doc, m.documentID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.rendering = false
		m.mu.Unlock()
	}()

	hs, err := m.highlights.Load(ctx, documentID)
	if err != nil {
		m.logger.Warn("failed to load highlights for render",
			slog.String("document_id", documentID), slog.String("error", err.Error()))
		return
	}
	for i := range hs {
		m.draw(doc, &hs[i])
	}
}

// draw replaces the markers of h on its page. Highlights whose page is not
// rendered yet are skipped; a later layout notification draws them.
func (m *Manager) draw(doc Document, h *domain.Highlight) {
	page, ok := doc.Page(h.PageNumber)
	if !ok {
		return
	}
	layer := page.Layer()
	layer.Clear(h.ID)

	fill, stroke := h.Colors()
	for _, r := range geometry.Layout(h, page) {
		layer.Draw(Marker{HighlightID: h.ID, Rect: r, Fill: fill, Stroke: stroke})
	}

	m.mu.Lock()
	m.drawn[h.ID] = h.PageNumber
	m.mu.Unlock()
}

// Preview encodes sel and draws it as a pending highlight, replacing any
// previous preview.
func (m *Manager) Preview(sel geometry.Selection) (*domain.Highlight, error) {
	if strings.TrimSpace(sel.Text()) == "" {
		return nil, geometry.ErrEmptySelection
	}
	page, _, err := geometry.FindPage(sel.CommonAncestor())
	if err != nil {
		return nil, err
	}
	h, err := geometry.Encode(sel, page)
	if err != nil {
		return nil, err
	}

	m.ClearPreview()

	m.mu.Lock()
	doc := m.doc
	if doc == nil {
		m.mu.Unlock()
		return nil, ErrDetached
	}
	m.preview = &pending{sel: sel, page: page, id: h.ID}
	m.mu.Unlock()

	m.draw(doc, h)
	return h, nil
}

// ClearPreview removes the pending highlight's markers and forgets it.
func (m *Manager) ClearPreview() {
	m.mu.Lock()
	p := m.preview
	m.preview = nil
	m.mu.Unlock()

	if p != nil {
		m.erase(p.id)
	}
}

// Commit stores the pending highlight with the selected tags expanded to
// include their ancestors, and draws it.
func (m *Manager) Commit(ctx context.Context, selectedTags []string, note string) (*domain.Highlight, error) {
	m.mu.Lock()
	p, doc, documentID := m.preview, m.doc, m.documentID
	m.mu.Unlock()

	if p == nil {
		return nil, ErrNoPending
	}
	if doc == nil {
		return nil, ErrDetached
	}

	// Re-encode against the live page in case the layout changed since the preview.
	h, err := geometry.Encode(p.sel, p.page)
	if err != nil {
		m.ClearPreview()
		return nil, err
	}
	h.Tags = m.tags.ExpandWithAncestors(selectedTags)
	if h.Tags == nil {
		h.Tags = []string{}
	}
	h.Note = strings.TrimSpace(note)

	m.ClearPreview()
	if err := m.highlights.Save(ctx, documentID, *h); err != nil {
		return nil, fmt.Errorf("save highlight: %w", err)
	}
	m.draw(doc, h)
	return h, nil
}

// HitTest returns the stored highlight under the client point, given the
// element the point landed on.
func (m *Manager) HitTest(ctx context.Context, target geometry.Element, clientX, clientY float64) (*domain.Highlight, bool, error) {
	documentID := m.DocumentID()
	if documentID == "" {
		return nil, false, ErrDetached
	}
	page, pageNumber, err := geometry.FindPage(target)
	if err != nil {
		return nil, false, nil
	}
	hs, err := m.highlights.Load(ctx, documentID)
	if err != nil {
		return nil, false, err
	}
	x, y := geometry.PointOnPage(page, clientX, clientY)
	h, ok := geometry.HitTest(hs, pageNumber, x, y)
	return h, ok, nil
}

// RemoveHighlight erases the markers of a deleted highlight when it belongs
// to the attached document.
func (m *Manager) RemoveHighlight(documentID, highlightID string) {
	if documentID != m.DocumentID() {
		return
	}
	m.erase(highlightID)
}

func (m *Manager) erase(highlightID string) {
	m.mu.Lock()
	doc := m.doc
	pageNumber, ok := m.drawn[highlightID]
	delete(m.drawn, highlightID)
	m.mu.Unlock()

	if doc == nil || !ok {
		return
	}
	if page, found := doc.Page(pageNumber); found {
		page.Layer().Clear(highlightID)
	}
}

// DocumentChanged schedules a render when documentID is the attached document.
// It is the reload callback for annotation.Store.Watch.
func (m *Manager) DocumentChanged(documentID string) {
	if documentID == m.DocumentID() {
		m.ScheduleRender()
	}
}
