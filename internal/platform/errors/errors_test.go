package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("upstream timeout")

	tests := []struct {
		name       string
		err        *Error
		wantType   ErrorType
		wantStatus int
		wantCause  error
	}{
		{"validation", ValidationError("bad limit"), TypeValidation, http.StatusBadRequest, nil},
		{"unavailable", UnavailableError("warming up", cause), TypeUnavailable, http.StatusServiceUnavailable, cause},
		{"internal", InternalError("boom", cause), TypeInternal, http.StatusInternalServerError, cause},
		{"conflict", newError(TypeConflict, "already refreshing", nil), TypeConflict, http.StatusConflict, nil},
		{"external", newError(TypeExternal, "twitch failed", nil), TypeExternal, http.StatusBadGateway, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus())
			assert.Equal(t, tt.wantCause, tt.err.Cause)
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.wantType))
		})
	}
}

func TestError_WithoutCauseOmitsNil(t *testing.T) {
	err := InternalError("something went wrong", nil)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root")
	err := UnavailableError("wrapped", cause)
	assert.ErrorIs(t, err, cause)
}

func TestWithField(t *testing.T) {
	err := ValidationError("bad limit").WithField("limit", 500).WithField("max", 100)
	assert.Equal(t, map[string]any{"limit": 500, "max": 100}, err.Context)

	resp := err.ToResponse()
	assert.Equal(t, "bad limit", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, 500, resp.Context["limit"])
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeConflict, Message: "x"}
	err.WithField("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := UnavailableError("busy", nil)
	assert.Same(t, original, AsStructuredError(fmt.Errorf("handler: %w", original)))

	plain := errors.New("plain")
	got := AsStructuredError(plain)
	require.NotNil(t, got)
	assert.Equal(t, TypeInternal, got.Type)
	assert.Equal(t, "internal server error", got.Message)
	assert.ErrorIs(t, got, plain)
}
