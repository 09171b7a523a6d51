package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/ingest"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/config"
	"github.com/codeBunny2022/rtsp-overlay/internal/registry"
	"github.com/labstack/echo/v4"
)

type overlayService interface {
	ListOverlays(ctx context.Context, streamID string) (*registry.Snapshot, error)
	GetOverlay(ctx context.Context, rawID string) (*domain.Overlay, error)
	CreateOverlay(ctx context.Context, streamID string, fields domain.OverlayFields) (*domain.Overlay, error)
	UpdateOverlay(ctx context.Context, rawID string, patch domain.OverlayPatch) (*domain.Overlay, error)
	DeleteOverlay(ctx context.Context, rawID string) error
}

type sessionService interface {
	Configure(ctx context.Context, streamID, rawURL string) (*domain.StreamSetting, error)
	Setting(ctx context.Context, streamID string) (*domain.StreamSetting, error)
	Health(streamID string) (ingest.Status, error)
	Statuses() []ingest.Status
	Stop(ctx context.Context, streamID string) error
}

type snapshotPublisher interface {
	Subscribe(ctx context.Context, streamID string) (<-chan *registry.Snapshot, func(), error)
	Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, streamID string, updates <-chan *registry.Snapshot, cancel func()) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	overlays  overlayService
	sessions  sessionService
	publisher snapshotPublisher

	metricsHandler http.Handler
	httpMetrics    echo.MiddlewareFunc
	healthChecks   []HealthCheck
	startTime      time.Time

	// closing ends hijacked WebSocket connections on shutdown.
	closing context.Context
	close   context.CancelFunc
}

func NewServer(cfg *config.Config, overlays overlayService, sessions sessionService, publisher snapshotPublisher, metricsHandler http.Handler, httpMetrics echo.MiddlewareFunc, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	closing, cancel := context.WithCancel(context.Background())
	srv := &Server{
		echo:           e,
		config:         cfg,
		overlays:       overlays,
		sessions:       sessions,
		publisher:      publisher,
		metricsHandler: metricsHandler,
		httpMetrics:    httpMetrics,
		healthChecks:   healthChecks,
		startTime:      time.Now(),
		closing:        closing,
		close:          cancel,
	}

	srv.registerRoutes()

	return srv
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.close()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func writeJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
