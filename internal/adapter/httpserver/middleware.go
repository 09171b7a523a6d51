package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/codeBunny2022/rtsp-overlay/internal/app"
	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/ingest"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/correlation"
	apperrors "github.com/codeBunny2022/rtsp-overlay/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := toStructuredError(err)
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// toStructuredError maps domain error kinds onto response types. Errors
// that are already structured pass through unchanged.
func toStructuredError(err error) *apperrors.Error {
	var structuredErr *apperrors.Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrInvalidSource),
		errors.Is(err, domain.ErrInvalidOverlay):
		return apperrors.ValidationError(rootMessage(err))
	case errors.Is(err, domain.ErrOverlayNotFound):
		return apperrors.NotFoundError("Overlay not found")
	case errors.Is(err, domain.ErrSettingNotFound):
		return apperrors.NotFoundError("Settings not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		return apperrors.UnavailableError("store unavailable, try again later", err)
	case errors.Is(err, app.ErrSessionsClosed):
		return apperrors.UnavailableError("server is shutting down", err)
	case errors.Is(err, ingest.ErrSupervisorClosed), errors.Is(err, ingest.ErrCommandTimeout):
		return apperrors.IngestError("ingestion supervisor did not respond", err)
	default:
		return apperrors.AsStructuredError(err)
	}
}

// rootMessage strips the wrapping added by the app layer so clients only see
// the validation detail.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil || isDomainSentinel(next) {
			return err.Error()
		}
		err = next
	}
}

func isDomainSentinel(err error) bool {
	switch err {
	case domain.ErrInvalidIdentifier, domain.ErrInvalidSource, domain.ErrInvalidOverlay:
		return true
	}
	return false
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if streamID := c.Param("streamId"); streamID != "" {
		attrs = append(attrs, "stream_id", streamID)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Dependency unavailable", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeIngest:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Ingestion error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := "internal server error"
	if httpErr.Message != nil {
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	err := &apperrors.Error{
		Type:    apperrors.TypeForStatus(httpErr.Code),
		Message: message,
		Context: make(map[string]any),
	}

	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}

	return err
}

// httpErrorHandler renders errors that escape the middleware chain (routing
// errors, recovered panics, body limit) as the same JSON shape, keeping the
// original status code.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	var structuredErr *apperrors.Error

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		structuredErr = WrapHTTPError(httpErr)
	} else {
		structuredErr = toStructuredError(err)
		status = structuredErr.HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		logError(c, structuredErr)
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, structuredErr.ToResponse())
	}
	if writeErr != nil {
		slog.ErrorContext(c.Request().Context(), "Failed to write error response", "error", writeErr)
	}
}
