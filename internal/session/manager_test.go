package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/events"
	"github.com/mnemomark/mnemomark/internal/kv"
	"github.com/mnemomark/mnemomark/internal/remote"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeIdentity struct {
	mu          sync.Mutex
	refreshes   atomic.Int32
	deletedWith string
	resetFor    string

	signIn   func(email, password string) (*remote.Credentials, error)
	refresh  func(rt string) (*remote.RefreshedToken, error)
	deleteFn func(idToken string) error
}

func (f *fakeIdentity) SignUp(_ context.Context, email, _ string) (*remote.Credentials, error) {
	return &remote.Credentials{UID: "uid-new", Email: email, IDToken: "id-0", RefreshToken: "rt-0", ExpiresIn: "3600"}, nil
}

func (f *fakeIdentity) SignIn(_ context.Context, email, password string) (*remote.Credentials, error) {
	if f.signIn != nil {
		return f.signIn(email, password)
	}
	return &remote.Credentials{UID: "uid-1", Email: email, IDToken: "id-0", RefreshToken: "rt-0", ExpiresIn: "300"}, nil
}

func (f *fakeIdentity) DeleteAccount(_ context.Context, idToken string) error {
	f.mu.Lock()
	f.deletedWith = idToken
	f.mu.Unlock()
	if f.deleteFn != nil {
		return f.deleteFn(idToken)
	}
	return nil
}

func (f *fakeIdentity) SendPasswordReset(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetFor = email
	return nil
}

func (f *fakeIdentity) Refresh(_ context.Context, rt string) (*remote.RefreshedToken, error) {
	f.refreshes.Add(1)
	if f.refresh != nil {
		return f.refresh(rt)
	}
	return &remote.RefreshedToken{IDToken: "id-refreshed", ExpiresIn: "3600"}, nil
}

type fakeDocuments struct {
	mu      sync.Mutex
	patches map[string]map[string]remote.Value
}

func (f *fakeDocuments) Patch(_ context.Context, path string, fields map[string]remote.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patches == nil {
		f.patches = make(map[string]map[string]remote.Value)
	}
	f.patches[path] = fields
	return nil
}

type fakeSyncer struct {
	mu        sync.Mutex
	signedIn  []bool
	signedUp  int
	deleted   []string
	stopCalls int
}

func (f *fakeSyncer) OnSignedIn(_ context.Context, pullNow bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedIn = append(f.signedIn, pullNow)
	return nil
}

func (f *fakeSyncer) OnSignedUp(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedUp++
	return nil
}

func (f *fakeSyncer) DeleteRemoteData(_ context.Context, uid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, uid)
}

func (f *fakeSyncer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeSyncer) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fixture struct {
	m        *Manager
	mem      *kv.Memory
	clock    *clockwork.FakeClock
	identity *fakeIdentity
	docs     *fakeDocuments
	syncer   *fakeSyncer
	bus      *events.Bus
	logs     *bytes.Buffer
}

func configuredRemote() config.RemoteConfig {
	return config.RemoteConfig{APIKey: "k", ProjectID: "p"}
}

func newFixture(t *testing.T, remoteCfg config.RemoteConfig) *fixture {
	t.Helper()
	f := &fixture{
		mem:      kv.NewMemory(),
		clock:    clockwork.NewFakeClockAt(epoch),
		identity: &fakeIdentity{},
		docs:     &fakeDocuments{},
		syncer:   &fakeSyncer{},
		bus:      events.NewBus(),
		logs:     &bytes.Buffer{},
	}
	f.m = NewManager(Deps{
		Identity:  f.identity,
		Documents: f.docs,
		Store:     f.mem,
		Bus:       f.bus,
		Clock:     f.clock,
		Remote:    remoteCfg,
		Session:   config.SessionConfig{RefreshLead: time.Minute, RefreshFloor: 5 * time.Second},
		Logger:    slog.New(slog.NewTextHandler(f.logs, nil)),
	})
	f.m.AttachSync(f.syncer)
	t.Cleanup(func() { f.m.refreshTimer.Cancel() })
	return f
}

func (f *fixture) storedSession(t *testing.T) *domain.AuthSession {
	t.Helper()
	data, err := f.mem.Get(context.Background(), StateKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	var s domain.AuthSession
	require.NoError(t, json.Unmarshal(data, &s))
	return &s
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		Subject:   "uid-1",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestRefreshDelay(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
		want      time.Duration
	}{
		{"five minutes", 300 * time.Second, 240 * time.Second},
		{"one hour", time.Hour, 59 * time.Minute},
		{"one second uses floor", time.Second, 5 * time.Second},
		{"already expired uses floor", -time.Minute, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RefreshDelay(epoch, epoch.Add(tt.expiresIn), time.Minute, 5*time.Second)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := epoch.Add(30 * time.Minute)
	got, ok := tokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = tokenExpiry("not-a-jwt")
	assert.False(t, ok)
	_, ok = tokenExpiry("")
	assert.False(t, ok)
}

func TestSignIn_PersistsAndSchedulesRefresh(t *testing.T) {
	f := newFixture(t, configuredRemote())
	ctx := context.Background()
	auth := f.bus.Auth.Subscribe(ctx)

	res := f.m.SignIn(ctx, "reader@example.com", "hunter22")
	require.True(t, res.Success, res.Message)

	stored := f.storedSession(t)
	require.NotNil(t, stored)
	assert.Equal(t, "uid-1", stored.UID)
	assert.Equal(t, epoch.Add(300*time.Second).UnixMilli(), stored.ExpiresAt)
	assert.False(t, stored.ShareTags)

	evt := <-auth
	require.NotNil(t, evt.User)
	assert.Equal(t, "reader@example.com", evt.User.Email)

	assert.Equal(t, []bool{true}, f.syncer.signedIn)
	assert.Equal(t, SignedInValid, f.m.State())

	// 300s token: refresh is due at 240s.
	f.clock.Advance(239 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), f.identity.refreshes.Load())
	assert.Equal(t, SignedInValid, f.m.State())

	f.clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return f.identity.refreshes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		s := f.storedSession(t)
		return s != nil && s.IDToken == "id-refreshed"
	}, 2*time.Second, 5*time.Millisecond)

	cur := f.m.Current()
	assert.Equal(t, "rt-0", cur.RefreshToken, "refresh token kept when the reply omits it")
	assert.Equal(t, f.clock.Now().Add(time.Hour).UnixMilli(), cur.ExpiresAt)
	assert.Equal(t, SignedInValid, f.m.State())
}

func TestSignIn_ShortLivedTokenUsesFloor(t *testing.T) {
	f := newFixture(t, configuredRemote())
	f.identity.signIn = func(email, _ string) (*remote.Credentials, error) {
		return &remote.Credentials{UID: "uid-1", Email: email, IDToken: "id-0", RefreshToken: "rt-0", ExpiresIn: "1"}, nil
	}

	require.True(t, f.m.SignIn(context.Background(), "reader@example.com", "pw").Success)

	f.clock.Advance(4 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), f.identity.refreshes.Load())

	f.clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return f.identity.refreshes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSignIn_ProviderMessage(t *testing.T) {
	f := newFixture(t, configuredRemote())
	f.identity.signIn = func(string, string) (*remote.Credentials, error) {
		return nil, &remote.APIError{Status: http.StatusBadRequest, Message: "INVALID_PASSWORD"}
	}

	res := f.m.SignIn(context.Background(), "reader@example.com", "wrong")
	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PASSWORD", res.Message)
	assert.Equal(t, SignedOut, f.m.State())

	f.identity.signIn = func(string, string) (*remote.Credentials, error) {
		return nil, errors.New("connection reset")
	}
	assert.Equal(t, "Sign in failed.", f.m.SignIn(context.Background(), "reader@example.com", "pw").Message)
}

func TestNotConfigured(t *testing.T) {
	f := newFixture(t, config.RemoteConfig{APIKey: "k"})
	ctx := context.Background()

	results := map[string]domainerrors.Result{
		"signup": f.m.SignUp(ctx, "a@b.c", "pw", false),
		"signin": f.m.SignIn(ctx, "a@b.c", "pw"),
		"reset":  f.m.SendPasswordReset(ctx, "a@b.c"),
	}
	for name, res := range results {
		assert.False(t, res.Success, name)
		assert.Equal(t, "Auth is not configured.", res.Message, name)
	}
	assert.Equal(t, "Not signed in.", f.m.DeleteAccount(ctx).Message)
}

func TestSignUp_WritesSettingsAndStartsSharing(t *testing.T) {
	f := newFixture(t, configuredRemote())

	res := f.m.SignUp(context.Background(), "new@example.com", "pw", true)
	require.True(t, res.Success)

	assert.True(t, f.m.ShareTags())
	assert.Equal(t, 1, f.syncer.signedUp)

	fields := f.docs.patches[remote.UserPath("uid-new")]
	require.NotNil(t, fields)
	assert.Equal(t, "new@example.com", remote.FromValue(fields["email"]))
	assert.Equal(t, true, remote.FromValue(fields["shareTags"]))
	assert.Equal(t, "2026-03-01T09:00:00Z", remote.FromValue(fields["createdAt"]))
}

func TestSignUp_WithoutSharingDoesNotPush(t *testing.T) {
	f := newFixture(t, configuredRemote())
	require.True(t, f.m.SignUp(context.Background(), "new@example.com", "pw", false).Success)
	assert.Equal(t, 0, f.syncer.signedUp)
	assert.False(t, f.m.ShareTags())
}

func TestScheduledRefreshFailureSignsOut(t *testing.T) {
	f := newFixture(t, configuredRemote())
	f.identity.refresh = func(string) (*remote.RefreshedToken, error) {
		return nil, &remote.APIError{Status: http.StatusBadRequest, Message: "TOKEN_EXPIRED"}
	}
	require.True(t, f.m.SignIn(context.Background(), "reader@example.com", "pw").Success)

	f.clock.Advance(240 * time.Second)
	assert.Eventually(t, func() bool { return f.m.State() == SignedOut }, 2*time.Second, 5*time.Millisecond)

	assert.Nil(t, f.storedSession(t))
	signal, err := f.mem.Get(context.Background(), SyncSignalKey)
	require.NoError(t, err)
	assert.NotEmpty(t, signal)
	assert.Equal(t, 1, f.syncer.stops())
}

func TestScheduledRefreshNetworkFailureRetries(t *testing.T) {
	f := newFixture(t, configuredRemote())
	var online atomic.Bool
	f.identity.refresh = func(string) (*remote.RefreshedToken, error) {
		if !online.Load() {
			return nil, remote.ErrServer
		}
		return &remote.RefreshedToken{IDToken: "id-1", ExpiresIn: "3600"}, nil
	}
	require.True(t, f.m.SignIn(context.Background(), "reader@example.com", "pw").Success)

	f.clock.Advance(240 * time.Second)
	assert.Eventually(t, func() bool { return f.identity.refreshes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, f.m.refreshTimer.Armed, 2*time.Second, 5*time.Millisecond)
	assert.NotNil(t, f.storedSession(t))
	assert.Equal(t, 0, f.syncer.stops())

	online.Store(true)
	f.clock.Advance(5 * time.Second)
	assert.Eventually(t, func() bool {
		s := f.storedSession(t)
		return s != nil && s.IDToken == "id-1"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, SignedInValid, f.m.State())
}

func TestEnsureValidToken(t *testing.T) {
	t.Run("not signed in", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		_, err := f.m.EnsureValidToken(context.Background())
		assert.ErrorIs(t, err, ErrNotSignedIn)
	})

	t.Run("valid token returned as is", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		require.True(t, f.m.SignIn(context.Background(), "reader@example.com", "pw").Success)

		token, err := f.m.EnsureValidToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "id-0", token)
		assert.Equal(t, int32(0), f.identity.refreshes.Load())
	})

	t.Run("expiring token is refreshed once for concurrent callers", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		release := make(chan struct{})
		f.identity.refresh = func(string) (*remote.RefreshedToken, error) {
			<-release
			return &remote.RefreshedToken{IDToken: "id-1", RefreshToken: "rt-1", ExpiresIn: "3600"}, nil
		}
		f.m.setCurrent(&domain.AuthSession{UID: "uid-1", IDToken: "id-0", RefreshToken: "rt-0", ExpiresAt: epoch.Add(30 * time.Second).UnixMilli()})

		var wg sync.WaitGroup
		tokens := make([]string, 4)
		for i := range tokens {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tokens[i], _ = f.m.EnsureValidToken(context.Background())
			}(i)
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, []string{"id-1", "id-1", "id-1", "id-1"}, tokens)
		assert.Equal(t, int32(1), f.identity.refreshes.Load())
		assert.Equal(t, "rt-1", f.m.Current().RefreshToken)
	})

	t.Run("expiry falls back to the jwt claim", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		token := signedToken(t, epoch.Add(time.Hour))
		f.m.setCurrent(&domain.AuthSession{UID: "uid-1", IDToken: token, RefreshToken: "rt-0"})

		got, err := f.m.EnsureValidToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, token, got)
		assert.Equal(t, SignedInValid, f.m.State())
	})

	t.Run("rejected refresh is session expired", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		f.identity.refresh = func(string) (*remote.RefreshedToken, error) {
			return nil, &remote.APIError{Status: http.StatusBadRequest, Message: "INVALID_REFRESH_TOKEN"}
		}
		f.m.setCurrent(&domain.AuthSession{UID: "uid-1", IDToken: "opaque", RefreshToken: "rt-0"})

		_, err := f.m.EnsureValidToken(context.Background())
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.NotErrorIs(t, err, ErrNotSignedIn)
	})

	t.Run("server failure is a network error", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		f.identity.refresh = func(string) (*remote.RefreshedToken, error) {
			return nil, &remote.APIError{Status: http.StatusServiceUnavailable, Message: "UNAVAILABLE"}
		}
		f.m.setCurrent(&domain.AuthSession{UID: "uid-1", IDToken: "opaque", RefreshToken: "rt-0"})

		_, err := f.m.EnsureValidToken(context.Background())
		assert.NotErrorIs(t, err, ErrSessionExpired)
		var domainErr *domainerrors.Error
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, domainerrors.CodeNetwork, domainErr.Code)
	})
}

func TestSignOut(t *testing.T) {
	f := newFixture(t, configuredRemote())
	ctx := context.Background()
	require.True(t, f.m.SignIn(ctx, "reader@example.com", "pw").Success)
	auth := f.bus.Auth.Subscribe(ctx)

	res := f.m.SignOut(ctx)
	assert.True(t, res.Success)

	assert.Equal(t, SignedOut, f.m.State())
	assert.Nil(t, f.storedSession(t))
	assert.False(t, f.m.refreshTimer.Armed())
	assert.Equal(t, 1, f.syncer.stops())

	signal, err := f.mem.Get(ctx, SyncSignalKey)
	require.NoError(t, err)
	assert.Equal(t, "1772355600000", string(signal))

	evt := <-auth
	assert.Nil(t, evt.User)
	assert.False(t, evt.ShareTags)
}

func TestDeleteAccount(t *testing.T) {
	t.Run("not signed in", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		res := f.m.DeleteAccount(context.Background())
		assert.False(t, res.Success)
		assert.Equal(t, "Not signed in.", res.Message)
	})

	t.Run("session expired", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		f.identity.refresh = func(string) (*remote.RefreshedToken, error) {
			return nil, errors.New("offline")
		}
		f.m.setCurrent(&domain.AuthSession{UID: "uid-1", IDToken: "opaque", RefreshToken: "rt-0", ExpiresAt: epoch.Add(-time.Minute).UnixMilli()})

		res := f.m.DeleteAccount(context.Background())
		assert.False(t, res.Success)
		assert.Equal(t, "Session expired. Please sign in again.", res.Message)
		assert.Empty(t, f.syncer.deleted)
	})

	t.Run("provider rejects", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		f.identity.deleteFn = func(string) error {
			return &remote.APIError{Status: http.StatusBadRequest, Message: "CREDENTIAL_TOO_OLD_LOGIN_AGAIN"}
		}
		require.True(t, f.m.SignIn(context.Background(), "reader@example.com", "pw").Success)

		res := f.m.DeleteAccount(context.Background())
		assert.Equal(t, "CREDENTIAL_TOO_OLD_LOGIN_AGAIN", res.Message)
		assert.NotEqual(t, SignedOut, f.m.State())
	})

	t.Run("success removes data and signs out", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		require.True(t, f.m.SignIn(context.Background(), "reader@example.com", "pw").Success)

		res := f.m.DeleteAccount(context.Background())
		require.True(t, res.Success)

		assert.Equal(t, []string{"uid-1"}, f.syncer.deleted)
		assert.Equal(t, "id-0", f.identity.deletedWith)
		assert.Equal(t, SignedOut, f.m.State())
	})
}

func TestSendPasswordReset(t *testing.T) {
	f := newFixture(t, configuredRemote())
	res := f.m.SendPasswordReset(context.Background(), "reader@example.com")
	assert.True(t, res.Success)
	assert.Equal(t, "reader@example.com", f.identity.resetFor)
}

func TestRestore(t *testing.T) {
	t.Run("nothing stored", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		require.NoError(t, f.m.Restore(context.Background()))
		assert.Equal(t, SignedOut, f.m.State())
		assert.Empty(t, f.syncer.signedIn)
	})

	t.Run("malformed session is dropped", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		require.NoError(t, f.mem.Set(context.Background(), StateKey, []byte("{not json")))

		require.NoError(t, f.m.Restore(context.Background()))
		assert.Equal(t, SignedOut, f.m.State())
		assert.Contains(t, f.logs.String(), "data integrity warning")
		assert.Contains(t, f.logs.String(), StateKey)
	})

	t.Run("stored session is adopted without an immediate pull", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		stored := domain.AuthSession{UID: "uid-1", Email: "reader@example.com", IDToken: "id-0", RefreshToken: "rt-0",
			ExpiresAt: epoch.Add(time.Hour).UnixMilli(), ShareTags: true}
		data, err := json.Marshal(stored)
		require.NoError(t, err)
		require.NoError(t, f.mem.Set(context.Background(), StateKey, data))

		require.NoError(t, f.m.Restore(context.Background()))
		assert.Equal(t, SignedInValid, f.m.State())
		assert.True(t, f.m.ShareTags())
		assert.Equal(t, []bool{false}, f.syncer.signedIn)
		assert.True(t, f.m.refreshTimer.Armed())
	})

	t.Run("expired session that cannot refresh signs out", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		f.identity.refresh = func(string) (*remote.RefreshedToken, error) {
			return nil, &remote.APIError{Status: http.StatusBadRequest, Message: "TOKEN_EXPIRED"}
		}
		stored := domain.AuthSession{UID: "uid-1", IDToken: "id-0", RefreshToken: "rt-0", ExpiresAt: epoch.Add(-time.Hour).UnixMilli()}
		data, err := json.Marshal(stored)
		require.NoError(t, err)
		require.NoError(t, f.mem.Set(context.Background(), StateKey, data))

		require.NoError(t, f.m.Restore(context.Background()))
		assert.Equal(t, SignedOut, f.m.State())
		assert.Nil(t, f.storedSession(t))
	})

	t.Run("unreachable provider keeps the session", func(t *testing.T) {
		f := newFixture(t, configuredRemote())
		f.identity.refresh = func(string) (*remote.RefreshedToken, error) {
			return nil, remote.ErrServer
		}
		stored := domain.AuthSession{UID: "uid-1", Email: "reader@example.com", IDToken: "id-0", RefreshToken: "rt-0",
			ExpiresAt: epoch.Add(30 * time.Second).UnixMilli()}
		data, err := json.Marshal(stored)
		require.NoError(t, err)
		require.NoError(t, f.mem.Set(context.Background(), StateKey, data))

		require.NoError(t, f.m.Restore(context.Background()))
		assert.Equal(t, int32(1), f.identity.refreshes.Load())
		assert.NotEqual(t, SignedOut, f.m.State())
		kept := f.storedSession(t)
		require.NotNil(t, kept)
		assert.Equal(t, "rt-0", kept.RefreshToken)
		assert.True(t, f.m.refreshTimer.Armed())
		assert.Equal(t, []bool{false}, f.syncer.signedIn)
		assert.Contains(t, f.logs.String(), "keeping session")
	})
}

func TestSetShareTags(t *testing.T) {
	f := newFixture(t, configuredRemote())
	ctx := context.Background()
	assert.ErrorIs(t, f.m.SetShareTags(ctx, true), ErrNotSignedIn)

	require.True(t, f.m.SignIn(ctx, "reader@example.com", "pw").Success)
	auth := f.bus.Auth.Subscribe(ctx)

	require.NoError(t, f.m.SetShareTags(ctx, true))
	assert.True(t, f.m.ShareTags())
	assert.True(t, f.storedSession(t).ShareTags)
	assert.True(t, (<-auth).ShareTags)
}

func TestWatch_AdoptsForeignSession(t *testing.T) {
	f := newFixture(t, configuredRemote())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.m.Watch(ctx))

	peer := f.mem.Peer()
	data, err := json.Marshal(domain.AuthSession{UID: "uid-2", Email: "other@example.com", IDToken: "id-x",
		ExpiresAt: epoch.Add(time.Hour).UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, peer.Set(ctx, StateKey, data))

	assert.Eventually(t, func() bool {
		cur := f.m.Current()
		return cur != nil && cur.UID == "uid-2"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, peer.Delete(ctx, StateKey))
	assert.Eventually(t, func() bool { return f.m.State() == SignedOut }, 2*time.Second, 5*time.Millisecond)
}

func TestWatch_IgnoresOwnWrites(t *testing.T) {
	f := newFixture(t, configuredRemote())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.m.Watch(ctx))

	require.True(t, f.m.SignIn(ctx, "reader@example.com", "pw").Success)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "uid-1", f.m.Current().UID)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "signed_out", SignedOut.String())
	assert.Equal(t, "signed_in", SignedInValid.String())
	assert.Equal(t, "expiring", SignedInExpiring.String())
}
