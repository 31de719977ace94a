package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithIdentity(ctx, "user-42")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	who, ok := Identity(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-42", who)

	_, ok = Identity(WithIdentity(context.Background(), ""))
	assert.False(t, ok)
}
