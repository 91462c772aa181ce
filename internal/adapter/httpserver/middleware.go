package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/streamscout/internal/platform/correlation"
)

const correlationHeader = "X-Correlation-ID"

// correlationMiddleware tags every request context with a correlation ID,
// reusing a well-formed inbound X-Correlation-ID and echoing it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlationHeader)
		if !validCorrelationID(id) {
			id = correlation.NewID()
		}
		c.Response().Header().Set(correlationHeader, id)
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
