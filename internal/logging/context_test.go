package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_SessionAndRequest(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "sess-1")
	ctx = ContextWithRequestID(ctx, "req-1")

	fields := ContextFields(ctx)
	assert.Len(t, fields, 2)

	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestSessionIDFromContext_Unset(t *testing.T) {
	assert.Empty(t, SessionIDFromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
