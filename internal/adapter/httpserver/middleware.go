package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/roomcast/internal/platform/correlation"
)

// correlationMiddleware attaches a fresh correlation ID to every request
// context, so handler log lines can be tied together. Websocket upgrades
// inherit the ID for the lifetime of the session.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
