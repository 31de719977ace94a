package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrProviderTransient, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("flux")

	assert.Equal(t, ErrProviderTransient, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "PROVIDER_TRANSIENT")
}

func TestError_WrappedChain(t *testing.T) {
	t.Parallel()

	inner := NewPermanentError("stability", "unauthorized", nil)
	wrapped := fmt.Errorf("render variation 2: %w", inner)

	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "stability", e.Provider)
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsErrorCode(wrapped, ErrProviderPermanent))
}

func TestNewAdmissionError(t *testing.T) {
	t.Parallel()

	err := NewAdmissionError("daily quota exceeded", 15*time.Minute)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus)
	assert.Equal(t, 15*time.Minute, err.RetryAfter)
	assert.Equal(t, "daily quota exceeded", PublicMessage(err))
}

func TestPublicMessage_HidesProviderText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("dial tcp 10.0.0.1: refused"), "internal error"},
		{"transient", NewTransientError("flux", "flux error: status=503 body=<html>", nil), "image provider temporarily unavailable"},
		{"permanent", NewPermanentError("openai", "invalid api key sk-123", nil), "image provider rejected the request"},
		{"validation keeps message", NewValidationError("image_strength %.2f out of range", 1.5), "image_strength 1.50 out of range"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PublicMessage(tc.err))
		})
	}
}
