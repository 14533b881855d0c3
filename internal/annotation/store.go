// Package annotation persists highlights per document in the local key-value store.
package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/kv"
)

// KeyPrefix starts the storage key of every document's highlight list.
const KeyPrefix = "lector-highlights:"

// ErrHighlightNotFound is returned when a highlight id is not stored for the document.
var ErrHighlightNotFound = errors.New("highlight not found")

// Key returns the storage key for documentID.
func Key(documentID string) string {
	return KeyPrefix + documentID
}

// DocumentFromKey reverses Key.
func DocumentFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, KeyPrefix), true
}

// NodeRemover removes the drawn nodes of a deleted highlight.
type NodeRemover interface {
	RemoveHighlight(documentID, highlightID string)
}

// Patch changes selected fields of a stored highlight. Nil fields are left alone.
type Patch struct {
	Tags   *[]string
	Note   *string
	Fill   *string
	Stroke *string
}

// Ref identifies one highlight across documents.
type Ref struct {
	DocumentID  string `json:"documentId" validate:"required"`
	HighlightID string `json:"highlightId" validate:"required"`
}

// Store reads and writes highlight lists. Parsed lists are memoized per
// document; local writes refresh the memo and foreign writes drop it.
type Store struct {
	kv     kv.Store
	cache  *cache.Cache
	logger *slog.Logger

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex

	removersMu sync.RWMutex
	removers   []NodeRemover
}

// NewStore creates a highlight store over store.
func NewStore(store kv.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     store,
		cache:  cache.New(cache.NoExpiration, 0),
		logger: logger,
	}
}

// OnRemove registers r to be told about every deleted highlight.
func (s *Store) OnRemove(r NodeRemover) {
	s.removersMu.Lock()
	defer s.removersMu.Unlock()
	s.removers = append(s.removers, r)
}

// Load returns the highlights of documentID. Missing or malformed data
// yields an empty list; malformed data is logged, never returned as an error.
func (s *Store) Load(ctx context.Context, documentID string) ([]domain.Highlight, error) {
	hs, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return cloneAll(hs), nil
}

func (s *Store) load(ctx context.Context, documentID string) ([]domain.Highlight, error) {
	if cached, ok := s.cache.Get(documentID); ok {
		return cached.([]domain.Highlight), nil
	}

	key := Key(documentID)
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return []domain.Highlight{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load highlights: %w", err)
	}

	var hs []domain.Highlight
	if err := json.Unmarshal(data, &hs); err != nil {
		s.logger.Warn("data integrity warning",
			"key", key,
			"error", domainerrors.DataIntegrity(key, err),
		)
		return []domain.Highlight{}, nil
	}
	if hs == nil {
		hs = []domain.Highlight{}
	}

	s.cache.Set(documentID, hs, cache.NoExpiration)
	return hs, nil
}

func (s *Store) persist(ctx context.Context, documentID string, hs []domain.Highlight) error {
	data, err := json.Marshal(hs)
	if err != nil {
		return fmt.Errorf("encode highlights: %w", err)
	}
	if err := s.kv.Set(ctx, Key(documentID), data); err != nil {
		s.cache.Delete(documentID)
		return fmt.Errorf("save highlights: %w", err)
	}
	s.cache.Set(documentID, hs, cache.NoExpiration)
	return nil
}

// mutate runs fn over a private copy of the document's list and persists it
// when fn reports a change.
func (s *Store) mutate(ctx context.Context, documentID string, fn func([]domain.Highlight) ([]domain.Highlight, bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx, documentID)
	if err != nil {
		return err
	}
	next, changed, err := fn(cloneAll(current))
	if err != nil || !changed {
		return err
	}
	return s.persist(ctx, documentID, next)
}

// Save upserts h by id: an existing entry is replaced in place, otherwise h is appended.
func (s *Store) Save(ctx context.Context, documentID string, h domain.Highlight) error {
	if err := h.Validate(); err != nil {
		return domainerrors.Validation(err.Error())
	}
	if h.Tags == nil {
		h.Tags = []string{}
	}
	h = clone(h)

	err := s.mutate(ctx, documentID, func(hs []domain.Highlight) ([]domain.Highlight, bool, error) {
		for i := range hs {
			if hs[i].ID == h.ID {
				hs[i] = h
				return hs, true, nil
			}
		}
		return append(hs, h), true, nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("highlight saved", "document_id", documentID, "highlight_id", h.ID, "rect_count", len(h.Rects))
	return nil
}

// Update applies p to the highlight id of documentID and returns the result.
func (s *Store) Update(ctx context.Context, documentID, id string, p Patch) (*domain.Highlight, error) {
	var updated domain.Highlight
	err := s.mutate(ctx, documentID, func(hs []domain.Highlight) ([]domain.Highlight, bool, error) {
		i := indexOf(hs, id)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %s", ErrHighlightNotFound, id)
		}
		p.apply(&hs[i])
		updated = clone(hs[i])
		return hs, true, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetNote stores note on a highlight. Whitespace is trimmed; an empty note removes it.
func (s *Store) SetNote(ctx context.Context, documentID, id, note string) (*domain.Highlight, error) {
	note = strings.TrimSpace(note)
	return s.Update(ctx, documentID, id, Patch{Note: &note})
}

// Delete removes a highlight and tells every registered NodeRemover.
// Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, documentID, id string) error {
	removed := false
	err := s.mutate(ctx, documentID, func(hs []domain.Highlight) ([]domain.Highlight, bool, error) {
		i := indexOf(hs, id)
		if i < 0 {
			return hs, false, nil
		}
		removed = true
		return append(hs[:i], hs[i+1:]...), true, nil
	})
	if err != nil {
		return err
	}

	s.notifyRemoved(documentID, id)
	if removed {
		s.logger.Debug("highlight deleted", "document_id", documentID, "highlight_id", id)
	}
	return nil
}

func (s *Store) notifyRemoved(documentID, id string) {
	s.removersMu.RLock()
	defer s.removersMu.RUnlock()
	for _, r := range s.removers {
		r.RemoveHighlight(documentID, id)
	}
}

// Documents returns the ids of every document with stored highlights, in key order.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]string, 0, len(keys))
	for _, k := range keys {
		if doc, ok := DocumentFromKey(k); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// LoadAll returns every stored highlight with its document, documents in key order.
func (s *Store) LoadAll(ctx context.Context) ([]domain.DocumentHighlight, error) {
	docs, err := s.Documents(ctx)
	if err != nil {
		return nil, err
	}

	var all []domain.DocumentHighlight
	for _, doc := range docs {
		hs, err := s.load(ctx, doc)
		if err != nil {
			return nil, err
		}
		for _, h := range hs {
			all = append(all, domain.DocumentHighlight{DocumentID: doc, Highlight: clone(h)})
		}
	}
	return all, nil
}

// PruneTags removes tagIDs from every highlight of every document. Only
// documents that change are rewritten. It returns the number of highlights changed.
func (s *Store) PruneTags(ctx context.Context, tagIDs ...string) (int, error) {
	if len(tagIDs) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(tagIDs))
	for _, id := range tagIDs {
		drop[id] = struct{}{}
	}

	docs, err := s.Documents(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, doc := range docs {
		err := s.mutate(ctx, doc, func(hs []domain.Highlight) ([]domain.Highlight, bool, error) {
			changed := 0
			for i := range hs {
				kept := hs[i].Tags[:0]
				for _, t := range hs[i].Tags {
					if _, ok := drop[t]; !ok {
						kept = append(kept, t)
					}
				}
				if len(kept) != len(hs[i].Tags) {
					hs[i].Tags = kept
					changed++
				}
			}
			total += changed
			return hs, changed > 0, nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// AddTags appends tagIDs to each referenced highlight, skipping ids already present.
// Unknown references are skipped. It returns the number of highlights changed.
func (s *Store) AddTags(ctx context.Context, refs []Ref, tagIDs []string) (int, error) {
	total := 0
	for doc, ids := range groupRefs(refs) {
		err := s.mutate(ctx, doc, func(hs []domain.Highlight) ([]domain.Highlight, bool, error) {
			changed := 0
			for i := range hs {
				if _, ok := ids[hs[i].ID]; !ok {
					continue
				}
				before := len(hs[i].Tags)
				for _, t := range tagIDs {
					if !hs[i].HasTag(t) {
						hs[i].Tags = append(hs[i].Tags, t)
					}
				}
				if len(hs[i].Tags) != before {
					changed++
				}
			}
			total += changed
			return hs, changed > 0, nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DeleteMany removes every referenced highlight. It returns the number removed.
func (s *Store) DeleteMany(ctx context.Context, refs []Ref) (int, error) {
	total := 0
	for doc, ids := range groupRefs(refs) {
		var removed []string
		err := s.mutate(ctx, doc, func(hs []domain.Highlight) ([]domain.Highlight, bool, error) {
			kept := hs[:0]
			for _, h := range hs {
				if _, ok := ids[h.ID]; ok {
					removed = append(removed, h.ID)
					continue
				}
				kept = append(kept, h)
			}
			return kept, len(removed) > 0, nil
		})
		if err != nil {
			return total, err
		}
		for _, id := range removed {
			s.notifyRemoved(doc, id)
		}
		total += len(removed)
	}
	return total, nil
}

// Invalidate drops the memoized list of documentID.
func (s *Store) Invalidate(documentID string) {
	s.cache.Delete(documentID)
}

func (p Patch) apply(h *domain.Highlight) {
	if p.Tags != nil {
		h.Tags = append([]string{}, (*p.Tags)...)
	}
	if p.Note != nil {
		h.Note = *p.Note
	}
	if p.Fill != nil {
		h.Fill = *p.Fill
	}
	if p.Stroke != nil {
		h.Stroke = *p.Stroke
	}
}

func groupRefs(refs []Ref) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, r := range refs {
		if out[r.DocumentID] == nil {
			out[r.DocumentID] = make(map[string]struct{})
		}
		out[r.DocumentID][r.HighlightID] = struct{}{}
	}
	return out
}

func indexOf(hs []domain.Highlight, id string) int {
	for i := range hs {
		if hs[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(h domain.Highlight) domain.Highlight {
	h.Rects = append([]domain.NormalizedRect(nil), h.Rects...)
	h.Tags = append([]string{}, h.Tags...)
	return h
}

func cloneAll(hs []domain.Highlight) []domain.Highlight {
	out := make([]domain.Highlight, len(hs))
	for i, h := range hs {
		out[i] = clone(h)
	}
	return out
}
