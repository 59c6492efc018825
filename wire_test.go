package wire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServerRegisterCancelSession exercises the built-in session table a
// Cancel message is checked against (spec.md §5/§6): register allocates a
// distinct processID/secretKey pair and aborts the registered context only
// when both match.
func TestServerRegisterCancelSession(t *testing.T) {
	t.Parallel()

	srv := &Server{sessions: make(map[int32]*registeredSession)}

	ctx, cancel := context.WithCancel(context.Background())
	processID, secretKey, deregister := srv.register(cancel)
	defer deregister()

	require.NotZero(t, processID)

	// Wrong secret key must not cancel the session.
	assert.False(t, srv.cancelSession(processID, secretKey+1))
	assert.NoError(t, ctx.Err())

	// Unknown processID must not cancel anything either.
	assert.False(t, srv.cancelSession(processID+1, secretKey))
	assert.NoError(t, ctx.Err())

	// The matching pair aborts the registered context.
	assert.True(t, srv.cancelSession(processID, secretKey))
	assert.Error(t, ctx.Err())
}

func TestServerRegisterDeregisterRemovesEntry(t *testing.T) {
	t.Parallel()

	srv := &Server{sessions: make(map[int32]*registeredSession)}

	_, cancel := context.WithCancel(context.Background())
	processID, secretKey, deregister := srv.register(cancel)
	deregister()

	assert.False(t, srv.cancelSession(processID, secretKey))
}
