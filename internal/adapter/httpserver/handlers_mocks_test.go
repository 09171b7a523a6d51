package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/ingest"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/config"
	"github.com/codeBunny2022/rtsp-overlay/internal/registry"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// --- Mock implementations ---

type mockOverlayService struct {
	listFn   func(ctx context.Context, streamID string) (*registry.Snapshot, error)
	getFn    func(ctx context.Context, rawID string) (*domain.Overlay, error)
	createFn func(ctx context.Context, streamID string, fields domain.OverlayFields) (*domain.Overlay, error)
	updateFn func(ctx context.Context, rawID string, patch domain.OverlayPatch) (*domain.Overlay, error)
	deleteFn func(ctx context.Context, rawID string) error
}

func (m *mockOverlayService) ListOverlays(ctx context.Context, streamID string) (*registry.Snapshot, error) {
	if m.listFn != nil {
		return m.listFn(ctx, streamID)
	}
	return &registry.Snapshot{StreamID: streamID}, nil
}

func (m *mockOverlayService) GetOverlay(ctx context.Context, rawID string) (*domain.Overlay, error) {
	if m.getFn != nil {
		return m.getFn(ctx, rawID)
	}
	return nil, domain.ErrOverlayNotFound
}

func (m *mockOverlayService) CreateOverlay(ctx context.Context, streamID string, fields domain.OverlayFields) (*domain.Overlay, error) {
	if m.createFn != nil {
		return m.createFn(ctx, streamID, fields)
	}
	return nil, errors.New("not implemented")
}

func (m *mockOverlayService) UpdateOverlay(ctx context.Context, rawID string, patch domain.OverlayPatch) (*domain.Overlay, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, rawID, patch)
	}
	return nil, errors.New("not implemented")
}

func (m *mockOverlayService) DeleteOverlay(ctx context.Context, rawID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, rawID)
	}
	return nil
}

type mockSessionService struct {
	configureFn func(ctx context.Context, streamID, rawURL string) (*domain.StreamSetting, error)
	settingFn   func(ctx context.Context, streamID string) (*domain.StreamSetting, error)
	healthFn    func(streamID string) (ingest.Status, error)
	statusesFn  func() []ingest.Status
	stopFn      func(ctx context.Context, streamID string) error
}

func (m *mockSessionService) Configure(ctx context.Context, streamID, rawURL string) (*domain.StreamSetting, error) {
	if m.configureFn != nil {
		return m.configureFn(ctx, streamID, rawURL)
	}
	return &domain.StreamSetting{StreamID: streamID, RTSPURL: rawURL}, nil
}

func (m *mockSessionService) Setting(ctx context.Context, streamID string) (*domain.StreamSetting, error) {
	if m.settingFn != nil {
		return m.settingFn(ctx, streamID)
	}
	return &domain.StreamSetting{StreamID: streamID}, nil
}

func (m *mockSessionService) Health(streamID string) (ingest.Status, error) {
	if m.healthFn != nil {
		return m.healthFn(streamID)
	}
	return ingest.Status{StreamID: streamID, State: ingest.StateStopped}, nil
}

func (m *mockSessionService) Statuses() []ingest.Status {
	if m.statusesFn != nil {
		return m.statusesFn()
	}
	return []ingest.Status{}
}

func (m *mockSessionService) Stop(ctx context.Context, streamID string) error {
	if m.stopFn != nil {
		return m.stopFn(ctx, streamID)
	}
	return nil
}

type mockPublisher struct {
	subscribeFn func(ctx context.Context, streamID string) (<-chan *registry.Snapshot, func(), error)
	serveFn     func(ctx context.Context, w http.ResponseWriter, r *http.Request, streamID string, updates <-chan *registry.Snapshot, cancel func()) error
}

func (m *mockPublisher) Subscribe(ctx context.Context, streamID string) (<-chan *registry.Snapshot, func(), error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, streamID)
	}
	return nil, func() {}, errors.New("not implemented")
}

func (m *mockPublisher) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, streamID string, updates <-chan *registry.Snapshot, cancel func()) error {
	if m.serveFn != nil {
		return m.serveFn(ctx, w, r, streamID, updates, cancel)
	}
	cancel()
	return nil
}

// --- Test helpers ---

func newTestServer(t *testing.T, opts ...func(*Server)) *Server {
	t.Helper()

	closing, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := &Server{
		echo: echo.New(),
		config: &config.Config{
			DefaultStreamID:  "default",
			CORSAllowOrigins: "*",
			APIRateLimit:     100,
			APIRateBurst:     100,
		},
		overlays:  &mockOverlayService{},
		sessions:  &mockSessionService{},
		publisher: &mockPublisher{},
		startTime: time.Now(),
		closing:   closing,
		close:     cancel,
	}

	for _, opt := range opts {
		opt(srv)
	}

	// Register routes so endpoints are available for testing
	srv.registerRoutes()

	return srv
}

func withOverlays(o overlayService) func(*Server) {
	return func(s *Server) {
		s.overlays = o
	}
}

func withSessions(ss sessionService) func(*Server) {
	return func(s *Server) {
		s.sessions = ss
	}
}

func withPublisher(p snapshotPublisher) func(*Server) {
	return func(s *Server) {
		s.publisher = p
	}
}

func withConfig(fn func(*config.Config)) func(*Server) {
	return func(s *Server) {
		fn(s.config)
	}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// serve runs a request through the full router, middleware included.
func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func testOverlay(streamID string) *domain.Overlay {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Overlay{
		ID:        uuid.MustParse("0195c1a2-7b3e-7c4d-9e8f-0a1b2c3d4e5f"),
		StreamID:  streamID,
		Kind:      domain.OverlayKindText,
		Content:   "Hello",
		Position:  domain.Position{X: 10, Y: 20},
		Size:      domain.Size{Width: 100, Height: 40},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
