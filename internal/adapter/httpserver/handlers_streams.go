package httpserver

import (
	"cmp"
	"net/http"
	"slices"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/ingest"
	"github.com/codeBunny2022/rtsp-overlay/internal/registry"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerStreamRoutes(limiter echo.MiddlewareFunc) {
	s.echo.GET("/api/streams", s.handleListStreams)

	streams := s.echo.Group("/api/streams/:streamId", validateStreamParam)
	streams.GET("/settings", s.handleGetStreamSettings)
	streams.PUT("/settings", s.handleUpdateStreamSettings, limiter)
	streams.GET("/health", s.handleStreamHealth)
	streams.POST("/stop", s.handleStopStream, limiter)
	streams.GET("/overlays", s.handleListStreamOverlays)
	streams.POST("/overlays", s.handleCreateStreamOverlay, limiter)
	streams.GET("/overlays/ws", s.handleOverlaySocket)
}

func validateStreamParam(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := domain.ValidateStreamID(c.Param("streamId")); err != nil {
			return err
		}
		return next(c)
	}
}

func (s *Server) handleListStreams(c echo.Context) error {
	statuses := s.sessions.Statuses()
	slices.SortFunc(statuses, func(a, b ingest.Status) int { return cmp.Compare(a.StreamID, b.StreamID) })
	return writeJSON(c, http.StatusOK, statuses)
}

func (s *Server) handleGetStreamSettings(c echo.Context) error {
	return s.getSettings(c, c.Param("streamId"))
}

func (s *Server) handleUpdateStreamSettings(c echo.Context) error {
	return s.updateSettings(c, c.Param("streamId"))
}

func (s *Server) handleStreamHealth(c echo.Context) error {
	status, err := s.sessions.Health(c.Param("streamId"))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, status)
}

func (s *Server) handleStopStream(c echo.Context) error {
	streamID := c.Param("streamId")
	if err := s.sessions.Stop(c.Request().Context(), streamID); err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, map[string]string{"message": "Stream stopped", "streamId": streamID})
}

func (s *Server) handleListStreamOverlays(c echo.Context) error {
	snap, err := s.overlays.ListOverlays(c.Request().Context(), c.Param("streamId"))
	if err != nil {
		return err
	}
	if snap.Overlays == nil {
		snap = &registry.Snapshot{StreamID: snap.StreamID, Version: snap.Version, Overlays: []domain.Overlay{}}
	}
	return writeJSON(c, http.StatusOK, snap)
}

func (s *Server) handleCreateStreamOverlay(c echo.Context) error {
	return s.createOverlay(c, c.Param("streamId"))
}

// handleOverlaySocket pushes the stream's overlay snapshot on connect and
// after every change.
func (s *Server) handleOverlaySocket(c echo.Context) error {
	streamID := c.Param("streamId")
	updates, cancel, err := s.publisher.Subscribe(c.Request().Context(), streamID)
	if err != nil {
		return err
	}
	return s.publisher.Serve(s.closing, c.Response(), c.Request(), streamID, updates, cancel)
}
