package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/api/health", s.handleAPIHealth)
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleAPIHealth reports that the API process is serving. It never touches
// the store so clients can tell an API outage from a store outage.
func (s *Server) handleAPIHealth(c echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

// handleLiveness never touches the store. It summarizes ingestion by state so
// a dashboard can spot failed streams without polling each one.
func (s *Server) handleLiveness(c echo.Context) error {
	streams := make(map[string]int)
	for _, st := range s.sessions.Statuses() {
		streams[st.State.String()]++
	}

	response := map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).Seconds(),
		"streams": streams,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}

	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

// runHealthChecks runs every check and reports each result. The first
// failing check is named in failed_check.
func (s *Server) runHealthChecks(c echo.Context, ctx context.Context) error {
	status := http.StatusOK
	response := map[string]any{"status": "ready"}
	checks := make(map[string]string, len(s.healthChecks))

	for _, hc := range s.healthChecks {
		err := hc.Check(ctx)
		if err == nil {
			checks[hc.Name] = "ok"
			continue
		}

		checks[hc.Name] = err.Error()
		if status == http.StatusOK {
			status = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
			response["failed_check"] = hc.Name
			response["error"] = err.Error()
		}
	}
	if len(checks) > 0 {
		response["checks"] = checks
	}

	return writeJSON(c, status, response)
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
