// Package session holds the signed-in account: it signs users up and in,
// keeps the id token fresh and persists the session in local storage so
// other processes sharing the store see the same account.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/events"
	"github.com/mnemomark/mnemomark/internal/kv"
	"github.com/mnemomark/mnemomark/internal/remote"
	"github.com/mnemomark/mnemomark/internal/schedule"
)

// Storage keys.
const (
	StateKey      = "mnemomark-auth-state"
	SyncSignalKey = "mnemomark-auth-sync"
)

// User-facing failures.
var (
	ErrNotConfigured  = domainerrors.Configuration("Auth is not configured.")
	ErrNotSignedIn    = domainerrors.Unauthorized("Not signed in.")
	ErrSessionExpired = domainerrors.Auth("Session expired. Please sign in again.")
)

const (
	msgSignUpFailed  = "Sign up failed."
	msgSignInFailed  = "Sign in failed."
	msgDeleteFailed  = "Delete account failed."
	msgResetFailed   = "Reset email failed."
	refreshFlightKey = "refresh"
)

// Identity is the identity provider.
type Identity interface {
	SignUp(ctx context.Context, email, password string) (*remote.Credentials, error)
	SignIn(ctx context.Context, email, password string) (*remote.Credentials, error)
	DeleteAccount(ctx context.Context, idToken string) error
	SendPasswordReset(ctx context.Context, email string) error
	Refresh(ctx context.Context, refreshToken string) (*remote.RefreshedToken, error)
}

// Documents writes the account's settings document.
type Documents interface {
	Patch(ctx context.Context, path string, fields map[string]remote.Value) error
}

// Syncer is notified of session transitions so it can start or stop tag sync.
type Syncer interface {
	// OnSignedIn loads remote settings and, when sharing, starts periodic
	// pulls. pullNow also pulls once immediately.
	OnSignedIn(ctx context.Context, pullNow bool) error
	// OnSignedUp pushes local tags and starts periodic pulls.
	OnSignedUp(ctx context.Context) error
	DeleteRemoteData(ctx context.Context, uid string)
	Stop()
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Identity  Identity
	Documents Documents
	Store     kv.Store
	Bus       *events.Bus
	Clock     clockwork.Clock
	Remote    config.RemoteConfig
	Session   config.SessionConfig
	Logger    *slog.Logger
}

// Manager owns the current session.
type Manager struct {
	identity   Identity
	documents  Documents
	store      kv.Store
	bus        *events.Bus
	clock      clockwork.Clock
	configured bool
	lead       time.Duration
	floor      time.Duration
	logger     *slog.Logger

	refreshTimer *schedule.Timer
	flight       singleflight.Group

	mu      sync.RWMutex
	current *domain.AuthSession
	syncer  Syncer
}

// NewManager creates a signed-out manager. Call Restore to load a stored session.
func NewManager(d Deps) *Manager {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Bus == nil {
		d.Bus = events.NewBus()
	}
	lead, floor := d.Session.RefreshLead, d.Session.RefreshFloor
	if lead == 0 {
		lead = time.Minute
	}
	if floor <= 0 {
		floor = 5 * time.Second
	}
	return &Manager{
		identity:     d.Identity,
		documents:    d.Documents,
		store:        d.Store,
		bus:          d.Bus,
		clock:        d.Clock,
		configured:   d.Remote.Configured(),
		lead:         lead,
		floor:        floor,
		logger:       d.Logger,
		refreshTimer: schedule.NewTimer(d.Clock),
	}
}

// AttachSync registers the sync engine. It is set after construction
// because the engine reads the session back through the manager.
func (m *Manager) AttachSync(s Syncer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncer = s
}

func (m *Manager) attached() Syncer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncer
}

// Configured reports whether remote credentials are present.
func (m *Manager) Configured() bool {
	return m.configured
}

// Current returns a copy of the session, or nil when signed out.
func (m *Manager) Current() *domain.AuthSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

// ShareTags reports whether the signed-in account shares its tags.
func (m *Manager) ShareTags() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current.ShareTags
}

// State derives the sign-in state from the clock.
func (m *Manager) State() State {
	s := m.Current()
	if s == nil {
		return SignedOut
	}
	exp, ok := expiryOf(s)
	if !ok || exp.Sub(m.clock.Now()) < m.lead {
		return SignedInExpiring
	}
	return SignedInValid
}

// expiryOf returns the tracked expiry, falling back to the token's exp claim.
func expiryOf(s *domain.AuthSession) (time.Time, bool) {
	if s.ExpiresAt != 0 {
		return s.Expiry(), true
	}
	return tokenExpiry(s.IDToken)
}

// RefreshDelay is how long to wait before refreshing a token expiring at
// expiry: lead before expiry, but never sooner than floor.
func RefreshDelay(now, expiry time.Time, lead, floor time.Duration) time.Duration {
	return max(expiry.Sub(now)-lead, floor)
}

// SignUp creates an account and signs it in. When shareTags is set, local
// tags are pushed and periodic pulls start.
func (m *Manager) SignUp(ctx context.Context, email, password string, shareTags bool) domainerrors.Result {
	if !m.configured {
		return domainerrors.FromError(ErrNotConfigured)
	}

	creds, err := m.identity.SignUp(ctx, email, password)
	if err != nil {
		m.logger.Info("sign up rejected", slog.String("error", err.Error()))
		return domainerrors.Fail(remote.Message(err, msgSignUpFailed))
	}

	now := m.clock.Now()
	s := &domain.AuthSession{
		UID:          creds.UID,
		Email:        creds.Email,
		IDToken:      creds.IDToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    creds.ExpiresAt(now),
		ShareTags:    shareTags,
	}
	m.establish(ctx, s)

	if m.documents != nil {
		err := m.documents.Patch(ctx, remote.UserPath(s.UID), remote.Fields(map[string]any{
			"email":     s.Email,
			"shareTags": shareTags,
			"createdAt": now.UTC().Format(time.RFC3339),
		}))
		if err != nil {
			m.logger.Warn("failed to write account settings",
				slog.String("uid", s.UID), slog.String("error", err.Error()))
		}
	}

	if syncer := m.attached(); shareTags && syncer != nil {
		if err := syncer.OnSignedUp(ctx); err != nil {
			m.logger.Warn("initial tag push failed", slog.String("error", err.Error()))
		}
	}

	m.logger.Info("account created", slog.String("uid", s.UID), slog.Bool("share_tags", shareTags))
	return domainerrors.OK()
}

// SignIn signs an existing account in and runs the sign-in sync trigger.
func (m *Manager) SignIn(ctx context.Context, email, password string) domainerrors.Result {
	if !m.configured {
		return domainerrors.FromError(ErrNotConfigured)
	}

	creds, err := m.identity.SignIn(ctx, email, password)
	if err != nil {
		m.logger.Info("sign in rejected", slog.String("error", err.Error()))
		return domainerrors.Fail(remote.Message(err, msgSignInFailed))
	}

	s := &domain.AuthSession{
		UID:          creds.UID,
		Email:        creds.Email,
		IDToken:      creds.IDToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    creds.ExpiresAt(m.clock.Now()),
	}
	m.establish(ctx, s)

	if syncer := m.attached(); syncer != nil {
		if err := syncer.OnSignedIn(ctx, true); err != nil {
			m.logger.Warn("sign-in sync failed", slog.String("error", err.Error()))
		}
	}

	m.logger.Info("signed in", slog.String("uid", s.UID))
	return domainerrors.OK()
}

// establish persists s, makes it current, publishes the change and arms refresh.
func (m *Manager) establish(ctx context.Context, s *domain.AuthSession) {
	m.persist(ctx, s)
	m.setCurrent(s)
	m.armRefresh(s)
}

// Restore loads the stored session, if any, makes sure its token is usable
// and runs the restore sync trigger. A malformed stored session is dropped.
func (m *Manager) Restore(ctx context.Context) error {
	s, err := m.load(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	m.setCurrent(s)

	if !m.configured {
		return nil
	}

	if _, err := m.EnsureValidToken(ctx); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			m.logger.Info("stored session could not be refreshed", slog.String("error", err.Error()))
			m.SignOut(ctx)
			return nil
		}
		m.logger.Warn("token check failed during restore, keeping session", slog.String("error", err.Error()))
	}

	if cur := m.Current(); cur != nil {
		m.armRefresh(cur)
	}

	if syncer := m.attached(); syncer != nil {
		if err := syncer.OnSignedIn(ctx, false); err != nil {
			m.logger.Warn("restore sync failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// load reads the stored session. Missing and malformed sessions yield nil.
func (m *Manager) load(ctx context.Context) (*domain.AuthSession, error) {
	data, err := m.store.Get(ctx, StateKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var s domain.AuthSession
	if err := json.Unmarshal(data, &s); err != nil {
		m.logger.Warn("data integrity warning",
			slog.String("key", StateKey),
			slog.String("error", domainerrors.DataIntegrity(StateKey, err).Error()))
		return nil, nil
	}
	if s.IDToken == "" {
		return nil, nil
	}
	return &s, nil
}

func (m *Manager) persist(ctx context.Context, s *domain.AuthSession) {
	data, err := json.Marshal(s)
	if err == nil {
		err = m.store.Set(ctx, StateKey, data)
	}
	if err != nil {
		m.logger.Warn("failed to store session", slog.String("uid", s.UID), slog.String("error", err.Error()))
	}
}

func (m *Manager) setCurrent(s *domain.AuthSession) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.publish(s)
}

func (m *Manager) publish(s *domain.AuthSession) {
	evt := events.AuthChanged{}
	if s != nil {
		evt.User = s.User()
		evt.ShareTags = s.ShareTags
	}
	m.bus.Auth.Publish(evt)
}

// SetShareTags records the share-tags setting on the current session.
func (m *Manager) SetShareTags(ctx context.Context, share bool) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNotSignedIn
	}
	if m.current.ShareTags == share {
		m.mu.Unlock()
		return nil
	}
	next := *m.current
	next.ShareTags = share
	m.current = &next
	m.mu.Unlock()

	m.persist(ctx, &next)
	m.publish(&next)
	return nil
}

func (m *Manager) armRefresh(s *domain.AuthSession) {
	exp, ok := expiryOf(s)
	if !ok {
		m.refreshTimer.Cancel()
		return
	}
	delay := RefreshDelay(m.clock.Now(), exp, m.lead, m.floor)
	m.refreshTimer.Arm(delay, m.onRefreshDue)
	m.logger.Debug("token refresh scheduled", slog.Duration("delay", delay))
}

func (m *Manager) onRefreshDue() {
	ctx := context.Background()
	if _, err := m.refresh(ctx); err != nil {
		if errors.Is(err, ErrNotSignedIn) {
			return
		}
		if !errors.Is(err, ErrSessionExpired) {
			m.logger.Warn("scheduled token refresh failed, retrying", slog.String("error", err.Error()))
			if cur := m.Current(); cur != nil {
				m.armRefresh(cur)
			}
			return
		}
		m.logger.Warn("scheduled token refresh rejected, signing out", slog.String("error", err.Error()))
		m.SignOut(ctx)
	}
}

// refresh exchanges the refresh token for a new id token. Concurrent
// callers share a single request.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	v, err, _ := m.flight.Do(refreshFlightKey, func() (any, error) {
		cur := m.Current()
		if cur == nil {
			return "", ErrNotSignedIn
		}
		if cur.RefreshToken == "" {
			return "", ErrSessionExpired
		}

		tok, err := m.identity.Refresh(ctx, cur.RefreshToken)
		if err != nil {
			if remote.IsRejection(err) {
				return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
			}
			return "", domainerrors.Network("token refresh failed", err)
		}

		m.mu.Lock()
		if m.current == nil || m.current.UID != cur.UID {
			m.mu.Unlock()
			return "", ErrNotSignedIn
		}
		next := *m.current
		next.IDToken = tok.IDToken
		if tok.RefreshToken != "" {
			next.RefreshToken = tok.RefreshToken
		}
		next.ExpiresAt = tok.ExpiresAt(m.clock.Now())
		m.current = &next
		m.mu.Unlock()

		m.persist(ctx, &next)
		m.armRefresh(&next)
		m.logger.Debug("token refreshed", slog.String("uid", next.UID))
		return next.IDToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// EnsureValidToken returns an id token with more than the refresh lead
// left, refreshing synchronously when needed.
func (m *Manager) EnsureValidToken(ctx context.Context) (string, error) {
	cur := m.Current()
	if cur == nil {
		return "", ErrNotSignedIn
	}
	exp, ok := expiryOf(cur)
	if ok && exp.Sub(m.clock.Now()) >= m.lead {
		return cur.IDToken, nil
	}
	return m.refresh(ctx)
}

// SignOut drops the session, cancels the refresh timer and sync, and
// signals other processes sharing the store.
func (m *Manager) SignOut(ctx context.Context) domainerrors.Result {
	m.refreshTimer.Cancel()
	if syncer := m.attached(); syncer != nil {
		syncer.Stop()
	}

	m.mu.Lock()
	uid := ""
	if m.current != nil {
		uid = m.current.UID
	}
	m.current = nil
	m.mu.Unlock()

	if err := m.store.Delete(ctx, StateKey); err != nil {
		m.logger.Warn("failed to remove stored session", slog.String("error", err.Error()))
	}
	signal := strconv.FormatInt(m.clock.Now().UnixMilli(), 10)
	if err := m.store.Set(ctx, SyncSignalKey, []byte(signal)); err != nil {
		m.logger.Warn("failed to write sign-out signal", slog.String("error", err.Error()))
	}

	m.publish(nil)
	if uid != "" {
		m.logger.Info("signed out", slog.String("uid", uid))
	}
	return domainerrors.OK()
}

// DeleteAccount removes the account's remote data and the account itself,
// then signs out.
func (m *Manager) DeleteAccount(ctx context.Context) domainerrors.Result {
	cur := m.Current()
	if !m.configured || cur == nil {
		return domainerrors.FromError(ErrNotSignedIn)
	}

	token, err := m.EnsureValidToken(ctx)
	if err != nil {
		return domainerrors.FromError(ErrSessionExpired)
	}

	if syncer := m.attached(); syncer != nil {
		syncer.DeleteRemoteData(ctx, cur.UID)
	}

	if err := m.identity.DeleteAccount(ctx, token); err != nil {
		m.logger.Warn("account deletion rejected", slog.String("uid", cur.UID), slog.String("error", err.Error()))
		return domainerrors.Fail(remote.Message(err, msgDeleteFailed))
	}

	m.logger.Info("account deleted", slog.String("uid", cur.UID))
	return m.SignOut(ctx)
}

// SendPasswordReset asks the provider to email a password reset link.
func (m *Manager) SendPasswordReset(ctx context.Context, email string) domainerrors.Result {
	if !m.configured {
		return domainerrors.FromError(ErrNotConfigured)
	}
	if err := m.identity.SendPasswordReset(ctx, email); err != nil {
		return domainerrors.Fail(remote.Message(err, msgResetFailed))
	}
	return domainerrors.OK()
}

// Watch follows writes to the stored session by other processes and adopts
// them. It returns once the watch is established.
func (m *Manager) Watch(ctx context.Context) error {
	changes, err := m.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch session: %w", err)
	}
	origin := m.store.Origin()

	go func() {
		for change := range changes {
			if change.Key != StateKey || change.Origin == origin {
				continue
			}
			m.reloadForeign(ctx)
		}
	}()
	return nil
}

func (m *Manager) reloadForeign(ctx context.Context) {
	s, err := m.load(ctx)
	if err != nil {
		m.logger.Warn("failed to reload session", slog.String("error", err.Error()))
		return
	}
	if s == nil {
		m.refreshTimer.Cancel()
		if syncer := m.attached(); syncer != nil {
			syncer.Stop()
		}
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.publish(s)
	m.logger.Debug("session changed by another process", slog.Bool("signed_in", s != nil))
}
