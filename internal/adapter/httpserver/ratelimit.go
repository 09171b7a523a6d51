package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/codeBunny2022/rtsp-overlay/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits mutating requests per client IP and stream. Routes
// without a :streamId parameter count against defaultStreamID, so flapping
// one camera's source does not lock a client out of the others.
func newRateLimiter(ratePerSecond float64, burst int, defaultStreamID string) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return rateLimitKey(c, defaultStreamID), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			slog.InfoContext(c.Request().Context(), "Rate limit exceeded", "client", identifier, "path", c.Path())
			c.Response().Header().Set("Retry-After", "1")
			return c.JSON(http.StatusTooManyRequests, apperrors.ErrorResponse{
				Error: "rate limit exceeded",
				Type:  apperrors.TypeValidation,
			})
		},
	})
}

func rateLimitKey(c echo.Context, defaultStreamID string) string {
	streamID := c.Param("streamId")
	if streamID == "" {
		streamID = defaultStreamID
	}
	return c.RealIP() + "/" + streamID
}
