package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ReadTimeout puts a deadline on GET and HEAD requests. Handlers that give up
// with context.DeadlineExceeded are answered with 504. Mutations are not
// bounded since the store always completes them once started. The skipper
// exempts long-lived connections such as the WebSocket feed.
func ReadTimeout(timeout time.Duration, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := c.Request().Method
			if timeout <= 0 || (m != http.MethodGet && m != http.MethodHead) {
				return next(c)
			}
			if skipper != nil && skipper(c) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			timedOut := errors.Is(err, context.DeadlineExceeded)
			if he, ok := err.(*echo.HTTPError); ok && errors.Is(he.Internal, context.DeadlineExceeded) {
				timedOut = true
			}
			if timedOut {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time limit").SetInternal(err)
			}
			return err
		}
	}
}
