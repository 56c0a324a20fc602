package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelExecution(t *testing.T) {
	cm := NewCancelManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm.AddExecution("x1", "chat", cancel)
	require.Len(t, cm.GetActiveExecutions(), 1)

	assert.True(t, cm.CancelExecution("x1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Empty(t, cm.GetActiveExecutions())

	assert.False(t, cm.CancelExecution("x1"), "already stopped")
}

func TestRemoveExecutionDoesNotCancel(t *testing.T) {
	cm := NewCancelManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm.AddExecution("x1", "stream", cancel)
	cm.RemoveExecution("x1")

	assert.NoError(t, ctx.Err())
	assert.False(t, cm.CancelExecution("x1"))
}

func TestActiveExecutionsOldestFirst(t *testing.T) {
	cm := NewCancelManager()
	noop := func() {}

	cm.AddExecution("first", "chat", noop)
	time.Sleep(2 * time.Millisecond)
	cm.AddExecution("second", "describe", noop)

	active := cm.GetActiveExecutions()
	require.Len(t, active, 2)
	assert.Equal(t, "first", active[0].ID)
	assert.Equal(t, "chat", active[0].Kind)
	assert.Equal(t, "second", active[1].ID)
}
