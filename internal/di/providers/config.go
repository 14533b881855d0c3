// Package providers contains dependency injection providers for the mnemomark service.
package providers

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"

	"github.com/mnemomark/mnemomark/internal/config"
	"github.com/mnemomark/mnemomark/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// LoggerHandle closes the rotating log file on shutdown.
type LoggerHandle struct {
	*logger.Logger
}

// Shutdown implements do.Shutdownable.
func (h *LoggerHandle) Shutdown() error {
	return h.Close()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*LoggerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
		File: logger.FileConfig{
			Path:       cfg.Logger.File,
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	})

	log.Info("Starting mnemomark",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.App.DataPath,
		"storage", cfg.Storage.Backend,
		"remote_configured", cfg.Remote.Configured(),
	)

	return &LoggerHandle{Logger: log}, nil
}

// ProvideSlogLogger provides access to the underlying slog.Logger for packages that need it.
func ProvideSlogLogger(i do.Injector) (*slog.Logger, error) {
	return do.MustInvoke[*LoggerHandle](i).Logger.Logger, nil
}

// ProvideClock provides the wall clock shared by timers and token checks.
func ProvideClock(i do.Injector) (clockwork.Clock, error) {
	return clockwork.NewRealClock(), nil
}
