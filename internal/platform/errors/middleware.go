package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Observer counts error responses by type.
type Observer interface {
	HTTPError(errType string)
}

// Middleware converts errors returned by handlers into JSON responses.
// Echo HTTPErrors (routing, rate limiting) are counted and passed through
// unchanged so echo's default handler keeps their status. observer may be nil.
func Middleware(observer Observer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if httpErr, ok := errors.AsType[*echo.HTTPError](err); ok {
				record(observer, WrapHTTPError(httpErr))
				return err
			}

			structured := AsStructuredError(err)
			record(observer, structured)
			logError(c, structured)

			if err := c.JSON(structured.HTTPStatus(), structured.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func record(observer Observer, err *Error) {
	if observer != nil {
		observer.HTTPError(string(err.Type))
	}
}

func logError(c echo.Context, err *Error) {
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
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause)
	}

	switch err.Type {
	case TypeValidation, TypeNotFound:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case TypeConflict, TypeUnavailable:
		slog.WarnContext(ctx, "Request not served", attrs...)
	case TypeExternal:
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Internal error", attrs...)
	}
}

// WrapHTTPError converts an echo.HTTPError to a structured error.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var errType ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest:
		errType = TypeValidation
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		errType = TypeNotFound
	case http.StatusConflict, http.StatusTooManyRequests:
		errType = TypeConflict
	case http.StatusServiceUnavailable:
		errType = TypeUnavailable
	case http.StatusBadGateway:
		errType = TypeExternal
	default:
		errType = TypeInternal
	}

	return &Error{Type: errType, Message: message, Cause: httpErr.Internal, Context: make(map[string]any)}
}
