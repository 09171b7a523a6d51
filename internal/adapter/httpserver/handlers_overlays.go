package httpserver

import (
	"net/http"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerOverlayRoutes(limiter echo.MiddlewareFunc) {
	s.echo.GET("/api/overlays", s.handleListOverlays)
	s.echo.POST("/api/overlays", s.handleCreateOverlay, limiter)
	s.echo.GET("/api/overlays/:id", s.handleGetOverlay)
	s.echo.PUT("/api/overlays/:id", s.handleUpdateOverlay, limiter)
	s.echo.DELETE("/api/overlays/:id", s.handleDeleteOverlay, limiter)
}

// handleListOverlays returns the overlays of the default stream as a plain array.
func (s *Server) handleListOverlays(c echo.Context) error {
	return s.listOverlays(c, s.config.DefaultStreamID)
}

func (s *Server) handleCreateOverlay(c echo.Context) error {
	return s.createOverlay(c, s.config.DefaultStreamID)
}

func (s *Server) listOverlays(c echo.Context, streamID string) error {
	snap, err := s.overlays.ListOverlays(c.Request().Context(), streamID)
	if err != nil {
		return err
	}
	overlays := snap.Overlays
	if overlays == nil {
		overlays = []domain.Overlay{}
	}
	return writeJSON(c, http.StatusOK, overlays)
}

func (s *Server) createOverlay(c echo.Context, streamID string) error {
	var body overlayBody
	if err := bindBody(c, &body); err != nil {
		return err
	}

	o, err := s.overlays.CreateOverlay(c.Request().Context(), streamID, body.toFields())
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusCreated, o)
}

func (s *Server) handleGetOverlay(c echo.Context) error {
	o, err := s.overlays.GetOverlay(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, o)
}

func (s *Server) handleUpdateOverlay(c echo.Context) error {
	id := c.Param("id")
	if _, err := domain.ParseOverlayID(id); err != nil {
		return err
	}

	var body overlayBody
	if err := bindBody(c, &body); err != nil {
		return err
	}

	o, err := s.overlays.UpdateOverlay(c.Request().Context(), id, body.toPatch())
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, o)
}

func (s *Server) handleDeleteOverlay(c echo.Context) error {
	if err := s.overlays.DeleteOverlay(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, map[string]string{"message": "Overlay deleted successfully"})
}
