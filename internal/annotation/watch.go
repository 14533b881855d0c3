package annotation

import (
	"context"
	"fmt"
)

// Watch listens for highlight writes by other processes. For each one it
// drops the memoized list and calls onReload with the document id; the caller
// re-renders. Watch returns once the subscription is established.
func (s *Store) Watch(ctx context.Context, onReload func(documentID string)) error {
	changes, err := s.kv.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch highlights: %w", err)
	}

	go func() {
		for change := range changes {
			if change.Origin == s.kv.Origin() {
				continue
			}
			doc, ok := DocumentFromKey(change.Key)
			if !ok {
				continue
			}
			s.Invalidate(doc)
			s.logger.Debug("highlights changed elsewhere", "document_id", doc)
			if onReload != nil {
				onReload(doc)
			}
		}
	}()
	return nil
}
