// Package di provides dependency injection configuration for the mnemomark service.
package di

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/auth"
	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/di/providers"
	"github.com/mnemomark/mnemomark/internal/taggraph"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)
	do.Provide(injector, providers.ProvideClock)
	do.Provide(injector, providers.ProvideBus)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideValidator)
	do.Provide(injector, providers.ProvideHighlightStore)
	do.Provide(injector, providers.ProvideTagGraph)

	// Remote account
	do.Provide(injector, providers.ProvideIdentityClient)
	do.Provide(injector, providers.ProvideDocumentClient)
	do.Provide(injector, providers.ProvideSession)

	// Rendering
	do.Provide(injector, providers.ProvideRenderer)

	// Auth layer
	do.Provide(injector, providers.ProvideAuthKey)
	do.Provide(injector, providers.ProvideTokenService)
	do.Provide(injector, providers.ProvideShellToken)

	// Server
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services in dependency order.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*slog.Logger](injector)

	// Storage
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*annotation.Store](injector)
	if _, err := do.Invoke[*taggraph.Graph](injector); err != nil {
		return err
	}

	// Account and rendering
	if _, err := do.Invoke[*providers.SessionHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.RendererHandle](injector); err != nil {
		return err
	}

	// Auth
	if _, err := do.Invoke[*auth.TokenService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.ShellToken](injector); err != nil {
		return err
	}

	// Server
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}

	return nil
}
