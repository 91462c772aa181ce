package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	counts map[string]int
}

func (o *countingObserver) HTTPError(errType string) {
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[errType]++
}

func serve(t *testing.T, observer Observer, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/analyze", nil), rec)
	return rec, Middleware(observer)(handler)(c)
}

func TestMiddleware_StructuredError(t *testing.T) {
	observer := &countingObserver{}
	rec, err := serve(t, observer, func(echo.Context) error {
		return ValidationError("limit must be between 1 and 100").WithField("limit", "abc")
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "limit must be between 1 and 100", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "abc", resp.Context["limit"])
	assert.Equal(t, 1, observer.counts["validation"])
}

func TestMiddleware_PlainErrorBecomesInternal(t *testing.T) {
	observer := &countingObserver{}
	rec, err := serve(t, observer, func(echo.Context) error {
		return errors.New("nil pointer somewhere")
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.NotContains(t, rec.Body.String(), "nil pointer")
	assert.Equal(t, 1, observer.counts["internal"])
}

func TestMiddleware_NoError(t *testing.T) {
	observer := &countingObserver{}
	rec, err := serve(t, observer, func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, observer.counts)
}

func TestMiddleware_EchoHTTPErrorPassesThrough(t *testing.T) {
	observer := &countingObserver{}
	_, err := serve(t, observer, func(echo.Context) error {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	})

	httpErr, ok := errors.AsType[*echo.HTTPError](err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
	assert.Equal(t, 1, observer.counts["conflict"])
}

func TestMiddleware_NilObserver(t *testing.T) {
	rec, err := serve(t, nil, func(echo.Context) error { return UnavailableError("busy", nil) })
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		code int
		want ErrorType
	}{
		{http.StatusBadRequest, TypeValidation},
		{http.StatusNotFound, TypeNotFound},
		{http.StatusMethodNotAllowed, TypeNotFound},
		{http.StatusConflict, TypeConflict},
		{http.StatusTooManyRequests, TypeConflict},
		{http.StatusServiceUnavailable, TypeUnavailable},
		{http.StatusBadGateway, TypeExternal},
		{http.StatusTeapot, TypeInternal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			got := WrapHTTPError(echo.NewHTTPError(tt.code))
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestWrapHTTPError_MessageAndInternal(t *testing.T) {
	inner := errors.New("inner")
	got := WrapHTTPError(echo.NewHTTPError(http.StatusBadRequest, "bad").SetInternal(inner))
	assert.Equal(t, "bad", got.Message)
	assert.ErrorIs(t, got, inner)

	got = WrapHTTPError(echo.NewHTTPError(http.StatusNotFound))
	assert.Equal(t, "Not Found", got.Message)
}
