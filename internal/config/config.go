// Package config loads daemon configuration from flags, environment variables and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends understood by kv.Open.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Storage StorageConfig
	Remote  RemoteConfig
	Session SessionConfig
	Sync    SyncConfig
	Server  ServerConfig
	Auth    AuthConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
	DataPath    string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
	File  string // Optional rotating log file
}

// StorageConfig selects and configures the local key-value backend.
type StorageConfig struct {
	Backend     string
	Path        string // badger and file backends (default: {data}/kv)
	RedisURL    string
	RedisPrefix string
}

// RemoteConfig holds identity provider and document store settings.
// Both APIKey and ProjectID must be set for any remote call to happen.
type RemoteConfig struct {
	APIKey      string
	ProjectID   string
	IdentityURL string
	TokenURL    string
	DocumentURL string
	HTTPTimeout time.Duration
	RateLimit   float64 // requests per second towards each remote host
	RateBurst   int
}

// Configured reports whether remote credentials are present.
func (r RemoteConfig) Configured() bool {
	return r.APIKey != "" && r.ProjectID != ""
}

// SessionConfig controls proactive token refresh.
type SessionConfig struct {
	RefreshLead  time.Duration // refresh this long before expiry (default: 60s)
	RefreshFloor time.Duration // never schedule sooner than this (default: 5s)
}

// SyncConfig controls periodic tag pulls.
type SyncConfig struct {
	Interval time.Duration
}

// ServerConfig holds the local control API configuration.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RateLimit      float64 // requests per second per client IP; 0 disables
	RateBurst      int
}

// AuthConfig holds local API token configuration.
type AuthConfig struct {
	TokenKey      []byte // set by auth.LoadOrGenerateKey
	TokenDuration time.Duration
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load parses args and builds a Config with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("mnemomark", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile := fs.String("log-file", "", "Rotating log file path")
	dataPath := fs.String("data-path", "", "Base path for local data")

	backend := fs.String("storage", "", "Key-value backend (badger, redis, file, memory)")
	storagePath := fs.String("storage-path", "", "Path for badger or file storage")
	redisURL := fs.String("redis-url", "", "Redis URL for the redis backend")

	apiKey := fs.String("api-key", "", "Remote project API key")
	projectID := fs.String("project-id", "", "Remote project ID")
	httpTimeout := fs.String("http-timeout", "", "Remote request timeout (default: 30s)")

	syncInterval := fs.String("sync-interval", "", "Tag pull interval (default: 60s)")
	addr := fs.String("addr", "", "Local API listen address (default: 127.0.0.1:7717)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Missing .env is fine; existing environment variables win over the file.
	_ = godotenv.Load(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
			DataPath:    getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
			File:  getConfigValue(*logFile, "LOG_FILE", ""),
		},
		Storage: StorageConfig{
			Backend:     getConfigValue(*backend, "STORAGE_BACKEND", BackendBadger),
			Path:        getConfigValue(*storagePath, "STORAGE_PATH", ""),
			RedisURL:    getConfigValue(*redisURL, "REDIS_URL", "redis://localhost:6379/0"),
			RedisPrefix: getConfigValue("", "REDIS_PREFIX", "mnemomark:"),
		},
		Remote: RemoteConfig{
			APIKey:      getConfigValue(*apiKey, "REMOTE_API_KEY", ""),
			ProjectID:   getConfigValue(*projectID, "REMOTE_PROJECT_ID", ""),
			IdentityURL: getConfigValue("", "REMOTE_IDENTITY_URL", "https://identitytoolkit.googleapis.com/v1"),
			TokenURL:    getConfigValue("", "REMOTE_TOKEN_URL", "https://securetoken.googleapis.com/v1"),
			DocumentURL: getConfigValue("", "REMOTE_DOCUMENT_URL", "https://firestore.googleapis.com/v1"),
			RateLimit:   getFloatConfigValue("", "REMOTE_RATE_LIMIT", 5),
			RateBurst:   getIntConfigValue("", "REMOTE_RATE_BURST", 10),
		},
		Server: ServerConfig{
			Addr:           getConfigValue(*addr, "SERVER_ADDR", "127.0.0.1:7717"),
			AllowedOrigins: splitList(getConfigValue("", "SERVER_ALLOWED_ORIGINS", "http://localhost:*,file://*")),
			RateLimit:      getFloatConfigValue("", "SERVER_RATE_LIMIT", 20),
			RateBurst:      getIntConfigValue("", "SERVER_RATE_BURST", 40),
		},
	}

	durations := []struct {
		flagValue string
		envKey    string
		def       string
		target    *time.Duration
		name      string
	}{
		{*httpTimeout, "REMOTE_HTTP_TIMEOUT", "30s", &cfg.Remote.HTTPTimeout, "http timeout"},
		{"", "SESSION_REFRESH_LEAD", "60s", &cfg.Session.RefreshLead, "refresh lead"},
		{"", "SESSION_REFRESH_FLOOR", "5s", &cfg.Session.RefreshFloor, "refresh floor"},
		{*syncInterval, "SYNC_INTERVAL", "60s", &cfg.Sync.Interval, "sync interval"},
		{"", "SERVER_READ_TIMEOUT", "15s", &cfg.Server.ReadTimeout, "read timeout"},
		{"", "SERVER_WRITE_TIMEOUT", "0s", &cfg.Server.WriteTimeout, "write timeout"},
		{"", "API_TOKEN_DURATION", "720h", &cfg.Auth.TokenDuration, "api token duration"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagValue, d.envKey, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, raw, err)
		}
		*d.target = parsed
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Storage.Backend {
	case BackendBadger, BackendFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the %s backend", c.Storage.Backend)
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid storage backend: %s (must be badger, redis, file, or memory)", c.Storage.Backend)
	}

	if c.Sync.Interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	if c.Session.RefreshFloor <= 0 || c.Session.RefreshLead < 0 {
		return errors.New("refresh lead must be non-negative and refresh floor positive")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, returns defaultPath.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandPaths resolves the data path (default ~/.mnemomark) and derives the storage path from it.
func (c *Config) expandPaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	dataPath, err := expandPath(c.App.DataPath, filepath.Join(homeDir, ".mnemomark"))
	if err != nil {
		return err
	}
	c.App.DataPath = dataPath

	storagePath, err := expandPath(c.Storage.Path, filepath.Join(dataPath, "kv"))
	if err != nil {
		return err
	}
	c.Storage.Path = storagePath

	if c.Logger.File != "" {
		logFile, err := expandPath(c.Logger.File, "")
		if err != nil {
			return err
		}
		c.Logger.File = logFile
	}
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float64 from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
