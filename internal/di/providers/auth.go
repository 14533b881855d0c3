package providers

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"

	"github.com/mnemomark/mnemomark/internal/auth"
	"github.com/mnemomark/mnemomark/internal/config"
)

// AuthKey wraps the local API token key bytes.
type AuthKey []byte

// ProvideAuthKey loads or generates the local API token key.
func ProvideAuthKey(i do.Injector) (AuthKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)

	key, err := auth.LoadOrGenerateKey(cfg.App.DataPath)
	if err != nil {
		return nil, err
	}

	// Update config with the loaded key
	cfg.Auth.TokenKey = key

	log.Info("API token key loaded", "token_duration", cfg.Auth.TokenDuration)

	return AuthKey(key), nil
}

// ProvideTokenService provides the PASETO token service.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	authKey := do.MustInvoke[AuthKey](i)
	clock := do.MustInvoke[clockwork.Clock](i)

	return auth.NewTokenService([]byte(authKey), cfg.Auth.TokenDuration, clock)
}

// ShellToken is the bearer token issued to the reader shell at startup.
type ShellToken struct {
	Token string
	Path  string
}

// ProvideShellToken issues a fresh token and writes it where the shell reads it.
func ProvideShellToken(i do.Injector) (*ShellToken, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tokens := do.MustInvoke[*auth.TokenService](i)
	log := do.MustInvoke[*slog.Logger](i)

	token, err := tokens.Issue("reader-shell")
	if err != nil {
		return nil, err
	}
	path, err := auth.WriteToken(cfg.App.DataPath, token)
	if err != nil {
		return nil, err
	}

	log.Info("API token written", "path", path, "expires_in", tokens.Duration())

	return &ShellToken{Token: token, Path: path}, nil
}
