// Package tagsync keeps the local tag vocabulary and the account's shared
// tag list in step. Pushes overwrite the remote list and pulls overwrite the
// local one; the most recent writer wins.
package tagsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/events"
	"github.com/mnemomark/mnemomark/internal/remote"
	"github.com/mnemomark/mnemomark/internal/schedule"
	"github.com/mnemomark/mnemomark/internal/taggraph"
)

// ErrNotSignedIn is returned by triggers that need an account.
var ErrNotSignedIn = errors.New("tagsync: not signed in")

const (
	fieldTags      = "tags"
	fieldUpdatedAt = "updatedAt"
	fieldShareTags = "shareTags"

	// Millisecond precision, matching the timestamps other clients write.
	updatedAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Session is the signed-in account as seen by the engine.
type Session interface {
	Current() *domain.AuthSession
	SetShareTags(ctx context.Context, share bool) error
}

// Documents is the remote document store.
type Documents interface {
	Get(ctx context.Context, path string) (*remote.Document, error)
	Patch(ctx context.Context, path string, fields map[string]remote.Value) error
	Delete(ctx context.Context, path string) error
}

// Tags is the local tag vocabulary.
type Tags interface {
	List() []domain.Tag
	Replace(ctx context.Context, tags []domain.Tag) error
	OnMutate(fn taggraph.MutationHook)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Session   Session
	Documents Documents
	Tags      Tags
	Bus       *events.Bus
	Clock     clockwork.Clock
	Interval  time.Duration
	Logger    *slog.Logger
}

// Engine runs the sync triggers: sign-in, local mutation, the pull
// interval and account deletion.
type Engine struct {
	session  Session
	docs     Documents
	tags     Tags
	bus      *events.Bus
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	repeater *schedule.Repeater
	pushMu   sync.Mutex
	pushes   sync.WaitGroup
}

// NewEngine creates an engine and subscribes it to local tag mutations.
func NewEngine(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Bus == nil {
		d.Bus = events.NewBus()
	}
	if d.Interval <= 0 {
		d.Interval = time.Minute
	}
	e := &Engine{
		session:  d.Session,
		docs:     d.Documents,
		tags:     d.Tags,
		bus:      d.Bus,
		clock:    d.Clock,
		interval: d.Interval,
		logger:   d.Logger,
		repeater: schedule.NewRepeater(d.Clock),
	}
	d.Tags.OnMutate(e.onTagsMutated)
	return e
}

func (e *Engine) sharing() (*domain.AuthSession, bool) {
	cur := e.session.Current()
	return cur, cur != nil && cur.ShareTags
}

// OnSignedIn loads the account settings, adopts sharing when the account
// already has a remote tag list, and starts the pull interval when sharing.
// pullNow pulls once before the interval starts.
func (e *Engine) OnSignedIn(ctx context.Context, pullNow bool) error {
	if e.session.Current() == nil {
		return ErrNotSignedIn
	}

	var errs []error
	if err := e.LoadUserSettings(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := e.ReconcileShareTags(ctx); err != nil {
		errs = append(errs, err)
	}

	if _, share := e.sharing(); !share {
		return errors.Join(errs...)
	}
	if pullNow {
		if _, err := e.PullTags(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.startInterval(ctx)
	return errors.Join(errs...)
}

// OnSignedUp pushes the local tags to a new account and starts the pull interval.
func (e *Engine) OnSignedUp(ctx context.Context) error {
	if _, share := e.sharing(); !share {
		return nil
	}
	err := e.PushTags(ctx)
	e.startInterval(ctx)
	return err
}

func (e *Engine) startInterval(ctx context.Context) {
	e.repeater.Start(context.WithoutCancel(ctx), e.interval, func(ctx context.Context) {
		if _, err := e.PullTags(ctx); err != nil {
			e.logger.Warn("periodic tag pull failed", slog.String("error", err.Error()))
		}
	})
	e.logger.Debug("tag pull interval started", slog.Duration("interval", e.interval))
}

// LoadUserSettings reads the account's settings document and applies its
// shareTags flag. A missing document leaves the session as it is.
func (e *Engine) LoadUserSettings(ctx context.Context) error {
	cur := e.session.Current()
	if cur == nil {
		return ErrNotSignedIn
	}

	doc, err := e.docs.Get(ctx, remote.UserPath(cur.UID))
	switch {
	case errors.Is(err, remote.ErrDocumentNotFound):
		doc = nil
	case err != nil:
		return domainerrors.Network("load account settings failed", err)
	}

	if doc != nil && doc.Fields != nil {
		share := false
		if v, ok := doc.Field(fieldShareTags); ok {
			share, _ = remote.FromValue(v).(bool)
		}
		if err := e.session.SetShareTags(ctx, share); err != nil {
			return err
		}
	}

	if _, share := e.sharing(); !share {
		e.repeater.Stop()
	}
	return nil
}

// ReconcileShareTags turns sharing on when it is off locally but the
// account already holds a tag list. It reports the resulting setting.
func (e *Engine) ReconcileShareTags(ctx context.Context) (bool, error) {
	cur := e.session.Current()
	if cur == nil {
		return false, nil
	}
	if cur.ShareTags {
		return true, nil
	}

	doc, err := e.docs.Get(ctx, remote.TagsPath(cur.UID))
	if errors.Is(err, remote.ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, domainerrors.Network("check shared tags failed", err)
	}
	if _, ok := doc.Field(fieldTags); !ok {
		return false, nil
	}

	if err := e.session.SetShareTags(ctx, true); err != nil {
		return false, err
	}
	e.logger.Info("remote tag list found, sharing enabled", slog.String("uid", cur.UID))
	return true, nil
}

// PushTags overwrites the account's tag list with the local one.
// It does nothing unless the account shares tags.
func (e *Engine) PushTags(ctx context.Context) error {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	cur, share := e.sharing()
	if !share {
		return nil
	}

	tags := e.tags.List()
	err := e.docs.Patch(ctx, remote.TagsPath(cur.UID), map[string]remote.Value{
		fieldTags:      remote.ToValue(tags),
		fieldUpdatedAt: remote.ToValue(e.clock.Now().UTC().Format(updatedAtLayout)),
	})
	if err != nil {
		return domainerrors.Network("push tags failed", err)
	}
	e.logger.Debug("tags pushed", slog.String("uid", cur.UID), slog.Int("tag_count", len(tags)))
	return nil
}

// PullTags replaces the local tags with the account's list and publishes
// TagsSynced. A missing document or field leaves local tags untouched and
// returns nil.
func (e *Engine) PullTags(ctx context.Context) ([]domain.Tag, error) {
	cur, share := e.sharing()
	if !share {
		return nil, nil
	}

	doc, err := e.docs.Get(ctx, remote.TagsPath(cur.UID))
	if errors.Is(err, remote.ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainerrors.Network("pull tags failed", err)
	}
	v, ok := doc.Field(fieldTags)
	if !ok {
		return nil, nil
	}

	var tags []domain.Tag
	if err := remote.Decode(v, &tags); err != nil {
		return nil, domainerrors.DataIntegrity(remote.TagsPath(cur.UID), err)
	}
	if tags == nil {
		tags = []domain.Tag{}
	}

	if err := e.tags.Replace(ctx, tags); err != nil {
		return nil, fmt.Errorf("apply pulled tags: %w", err)
	}
	e.bus.TagsSynced.Publish(events.TagsSynced{Tags: tags})
	e.logger.Debug("tags pulled", slog.String("uid", cur.UID), slog.Int("tag_count", len(tags)))
	return tags, nil
}

// onTagsMutated pushes in the background so local edits never wait on the network.
func (e *Engine) onTagsMutated(ctx context.Context, _ []domain.Tag) {
	if _, share := e.sharing(); !share {
		return
	}
	e.pushes.Add(1)
	go func() {
		defer e.pushes.Done()
		if err := e.PushTags(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("tag push failed", slog.String("error", err.Error()))
		}
	}()
}

// DeleteRemoteData removes the account's tag list and settings. Failures
// are logged and ignored.
func (e *Engine) DeleteRemoteData(ctx context.Context, uid string) {
	for _, path := range []string{remote.TagsPath(uid), remote.UserPath(uid)} {
		if err := e.docs.Delete(ctx, path); err != nil {
			e.logger.Warn("failed to delete remote document",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

// Stop cancels the pull interval.
func (e *Engine) Stop() {
	e.repeater.Stop()
}

// Running reports whether the pull interval is active.
func (e *Engine) Running() bool {
	return e.repeater.Running()
}

// Wait blocks until background pushes have finished.
func (e *Engine) Wait() {
	e.pushes.Wait()
}
