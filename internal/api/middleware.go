package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
	"github.com/mnemomark/mnemomark/internal/ratelimit"
)

// publicPaths are served without a bearer token.
var publicPaths = map[string]bool{
	"/health": true,
}

// requireToken rejects requests without a valid bearer token, except for public paths.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, newAPIError(http.StatusUnauthorized, domainerrors.CodeUnauthorized, "Missing authorization header"), s.logger)
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			writeError(w, newAPIError(http.StatusUnauthorized, domainerrors.CodeUnauthorized, "Invalid authorization header format"), s.logger)
			return
		}

		claims, err := s.tokens.Verify(token)
		if err != nil {
			s.logger.Debug("rejected api token", slog.String("error", err.Error()))
			writeError(w, newAPIError(http.StatusUnauthorized, domainerrors.CodeUnauthorized, "Invalid or expired token"), s.logger)
			return
		}

		if claims.ClientName != "" {
			w.Header().Set("X-Client-Name", claims.ClientName)
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs every request at debug level, and failures at warn.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", attrs...)
			return
		}
		s.logger.Debug("request", attrs...)
	})
}

// rateLimit returns a middleware that rate limits requests by client IP.
// It returns 429 Too Many Requests when the limit is exceeded.
func (s *Server) rateLimit(limiter *ratelimit.KeyedRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if !limiter.Allow(key) {
				s.logger.Warn("rate limit exceeded",
					slog.String("ip", key),
					slog.String("path", r.URL.Path))
				writeError(w, newAPIError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later."), s.logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. middleware.RealIP runs first.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
