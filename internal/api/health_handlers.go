package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"storage": s.checkStorage(ctx),
		"session": s.checkSession(),
	}

	overall := "healthy"
	if components["storage"].Status != "healthy" {
		overall = "unhealthy"
	} else if components["session"].Status != "healthy" {
		overall = "degraded"
	}

	return &HealthOutput{Body: HealthResponse{Status: overall, Components: components}}, nil
}

// checkStorage times a read of the highlight index.
func (s *Server) checkStorage(ctx context.Context) ComponentHealth {
	start := time.Now()
	if _, err := s.highlights.Documents(ctx); err != nil {
		return ComponentHealth{Status: "unhealthy", Message: err.Error()}
	}
	return ComponentHealth{
		Status:  "healthy",
		Latency: time.Since(start).String(),
		Message: s.storage,
	}
}

// checkSession reports degraded when remote sync is not configured; local use still works.
func (s *Server) checkSession() ComponentHealth {
	if s.session == nil || !s.session.Configured() {
		return ComponentHealth{Status: "degraded", Message: "remote account not configured"}
	}
	return ComponentHealth{Status: "healthy", Message: s.session.State().String()}
}
