package httpserver

import (
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/codeBunny2022/rtsp-overlay/internal/platform/correlation"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const bodyLimit = "1M"

func (s *Server) registerRoutes() {
	s.echo.HTTPErrorHandler = httpErrorHandler

	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics)
	}
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  s.config.AllowedOrigins(),
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAccept, correlation.Header},
		ExposeHeaders: []string{correlation.Header},
	}))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	s.echo.Use(middleware.BodyLimit(bodyLimit))

	limiter := newRateLimiter(s.config.APIRateLimit, s.config.APIRateBurst, s.config.DefaultStreamID)

	s.registerHealthRoutes()
	s.registerSettingsRoutes(limiter)
	s.registerOverlayRoutes(limiter)
	s.registerStreamRoutes(limiter)

	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}
	if s.config.ServeHLS {
		s.registerHLSRoutes()
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			// Players poll playlists every segment.
			return strings.HasPrefix(c.Path(), "/hls")
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// registerHLSRoutes serves the transcoder output root. Playlists change every
// segment and must not be cached.
func (s *Server) registerHLSRoutes() {
	hls := s.echo.Group("/hls", hlsHeaders)
	hls.Use(middleware.StaticWithConfig(middleware.StaticConfig{
		Root: s.config.HLSOutputRoot,
	}))
}

func hlsHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		switch path.Ext(c.Request().URL.Path) {
		case ".m3u8":
			h.Set(echo.HeaderContentType, "application/vnd.apple.mpegurl")
			h.Set("Cache-Control", "no-cache")
		case ".ts":
			h.Set(echo.HeaderContentType, "video/mp2t")
		case ".m4s", ".mp4":
			h.Set(echo.HeaderContentType, "video/mp4")
		}
		return next(c)
	}
}
