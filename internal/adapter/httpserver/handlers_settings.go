package httpserver

import (
	"net/http"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/labstack/echo/v4"
)

type settingsResponse struct {
	StreamID      string     `json:"streamId"`
	RTSPURL       string     `json:"rtspUrl"`
	LegacyRTSPURL string     `json:"rtsp_url"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

func newSettingsResponse(s *domain.StreamSetting) settingsResponse {
	resp := settingsResponse{StreamID: s.StreamID, RTSPURL: s.RTSPURL, LegacyRTSPURL: s.RTSPURL}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = &s.UpdatedAt
	}
	return resp
}

func (s *Server) registerSettingsRoutes(limiter echo.MiddlewareFunc) {
	s.echo.GET("/api/settings", s.handleGetSettings)
	s.echo.PUT("/api/settings", s.handleUpdateSettings, limiter)
	s.echo.POST("/api/settings", s.handleUpdateSettings, limiter)
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return s.getSettings(c, s.config.DefaultStreamID)
}

func (s *Server) handleUpdateSettings(c echo.Context) error {
	return s.updateSettings(c, s.config.DefaultStreamID)
}

func (s *Server) getSettings(c echo.Context, streamID string) error {
	setting, err := s.sessions.Setting(c.Request().Context(), streamID)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, newSettingsResponse(setting))
}

// updateSettings persists the source and reconfigures ingestion. An empty URL
// stops the stream.
func (s *Server) updateSettings(c echo.Context, streamID string) error {
	var body settingsBody
	if err := bindBody(c, &body); err != nil {
		return err
	}

	setting, err := s.sessions.Configure(c.Request().Context(), streamID, body.url())
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, map[string]string{
		"message":  "Settings updated successfully",
		"streamId": setting.StreamID,
		"rtspUrl":  setting.RTSPURL,
	})
}
