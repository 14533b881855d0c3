// Package api serves the local control API the reader shell talks to:
// highlights, tags, the account session, tag sync and the event stream.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/auth"
	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/ratelimit"
	"github.com/mnemomark/mnemomark/internal/session"
	"github.com/mnemomark/mnemomark/internal/taggraph"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

const apiPrefix = "/api/v1"

var bearer = []map[string][]string{{"bearer": {}}}

// Session is the account session the API drives.
type Session interface {
	Configured() bool
	Current() *domain.AuthSession
	State() session.State
	SignUp(ctx context.Context, email, password string, shareTags bool) domainerrors.Result
	SignIn(ctx context.Context, email, password string) domainerrors.Result
	SignOut(ctx context.Context) domainerrors.Result
	DeleteAccount(ctx context.Context) domainerrors.Result
	SendPasswordReset(ctx context.Context, email string) domainerrors.Result
	SetShareTags(ctx context.Context, share bool) error
}

// Syncer runs tag sync on demand.
type Syncer interface {
	PullTags(ctx context.Context) ([]domain.Tag, error)
	PushTags(ctx context.Context) error
	ReconcileShareTags(ctx context.Context) (bool, error)
}

// Deps are the components behind the API.
type Deps struct {
	Highlights *annotation.Store
	Tags       *taggraph.Graph
	Session    Session
	Sync       Syncer
	Events     http.Handler
	Tokens     *auth.TokenService
	Limiter    *ratelimit.KeyedRateLimiter
	// Storage names the key-value backend for /health.
	Storage        string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	highlights *annotation.Store
	tags       *taggraph.Graph
	session    Session
	sync       Syncer
	tokens     *auth.TokenService
	storage    string
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
}

// NewServer creates the router, installs middleware and registers every route.
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		highlights: d.Highlights,
		tags:       d.Tags,
		session:    d.Session,
		sync:       d.Sync,
		tokens:     d.Tokens,
		storage:    d.Storage,
		router:     chi.NewRouter(),
		logger:     d.Logger,
	}

	// chi requires middleware before any route, including huma's OpenAPI routes.
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if d.Limiter != nil {
		s.router.Use(s.rateLimit(d.Limiter))
	}
	s.router.Use(s.requireToken)

	humaConfig := huma.DefaultConfig("mnemomark API", Version)
	humaConfig.DocsPath = ""
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerHighlightRoutes()
	s.registerTagRoutes()
	s.registerSessionRoutes()
	s.registerSyncRoutes()

	if d.Events != nil {
		s.router.Get(apiPrefix+"/events", d.Events.ServeHTTP)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API returns the huma API, for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}
