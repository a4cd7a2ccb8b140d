package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/clinote/server/internal/observability"
)

// RequestRecorder records API request durations.
type RequestRecorder interface {
	RecordRequest(route, status string, elapsed time.Duration)
}

// RequestContext attaches an observability.RequestContext to every request,
// echoes its id in X-Request-ID and logs completion. recorder may be nil.
func RequestContext(logger *slog.Logger, recorder RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			reqCtx := observability.NewRequestContextWithID(logger, req.Header.Get(echo.HeaderXRequestID), c.Path())
			c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), reqCtx)))
			c.Response().Header().Set(echo.HeaderXRequestID, reqCtx.RequestID)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			if recorder != nil {
				recorder.RecordRequest(c.Path(), strconv.Itoa(status), reqCtx.Duration())
			}
			reqCtx.Info("request completed",
				slog.String("method", req.Method),
				slog.Int("status", status),
				slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()),
			)
			return nil
		}
	}
}
