package remote

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mnemomark/mnemomark/internal/config"
)

// Credentials is a successful sign-up or sign-in.
type Credentials struct {
	UID          string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"` // seconds, as a decimal string
}

// ExpiresAt returns the absolute expiry in epoch milliseconds, or 0 when unknown.
func (c *Credentials) ExpiresAt(now time.Time) int64 {
	return expiresAt(now, c.ExpiresIn)
}

// RefreshedToken is the token endpoint's reply. RefreshToken may be empty,
// in which case the previous one stays valid.
type RefreshedToken struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// ExpiresAt returns the absolute expiry in epoch milliseconds, or 0 when unknown.
func (r *RefreshedToken) ExpiresAt(now time.Time) int64 {
	return expiresAt(now, r.ExpiresIn)
}

func expiresAt(now time.Time, seconds string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(seconds), 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return now.Add(time.Duration(n) * time.Second).UnixMilli()
}

// IdentityClient signs users up and in, refreshes tokens, deletes accounts
// and sends password reset emails.
type IdentityClient struct {
	t           *transport
	apiKey      string
	identityURL string
	tokenURL    string
}

// NewIdentityClient creates a client from cfg. Calls fail with
// ErrNotConfigured when cfg lacks credentials.
func NewIdentityClient(cfg config.RemoteConfig, logger *slog.Logger) *IdentityClient {
	return &IdentityClient{
		t:           newTransport(cfg, logger),
		apiKey:      cfg.APIKey,
		identityURL: strings.TrimRight(cfg.IdentityURL, "/"),
		tokenURL:    strings.TrimRight(cfg.TokenURL, "/"),
	}
}

// Close releases the client's rate limiter.
func (c *IdentityClient) Close() {
	c.t.close()
}

func (c *IdentityClient) endpoint(method string) string {
	return c.identityURL + "/accounts:" + method + "?key=" + url.QueryEscape(c.apiKey)
}

func (c *IdentityClient) call(ctx context.Context, op string, payload, dest any) error {
	if c.apiKey == "" {
		return wrapError(op, "", ErrNotConfigured)
	}
	return wrapError(op, "", c.t.postJSON(ctx, c.endpoint(op), payload, dest))
}

// SignUp creates an account.
func (c *IdentityClient) SignUp(ctx context.Context, email, password string) (*Credentials, error) {
	var creds Credentials
	err := c.call(ctx, "signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &creds)
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

// SignIn exchanges an email and password for tokens.
func (c *IdentityClient) SignIn(ctx context.Context, email, password string) (*Credentials, error) {
	var creds Credentials
	err := c.call(ctx, "signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &creds)
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

// DeleteAccount removes the account owning idToken.
func (c *IdentityClient) DeleteAccount(ctx context.Context, idToken string) error {
	return c.call(ctx, "delete", map[string]any{"idToken": idToken}, nil)
}

// SendPasswordReset asks the provider to email a reset link.
func (c *IdentityClient) SendPasswordReset(ctx context.Context, email string) error {
	return c.call(ctx, "sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// Refresh exchanges a refresh token for a new id token.
func (c *IdentityClient) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	const op = "refresh"
	if c.apiKey == "" {
		return nil, wrapError(op, "", ErrNotConfigured)
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	var tok RefreshedToken
	endpoint := c.tokenURL + "/token?key=" + url.QueryEscape(c.apiKey)
	if err := c.t.postForm(ctx, endpoint, form, &tok); err != nil {
		return nil, wrapError(op, "", err)
	}
	return &tok, nil
}
