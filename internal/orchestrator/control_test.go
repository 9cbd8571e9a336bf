package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastControl() *Control {
	c := NewControl()
	c.poll = 5 * time.Millisecond
	return c
}

func TestControl_Running(t *testing.T) {
	c := fastControl()
	assert.NoError(t, c.Checkpoint(context.Background()))
	assert.False(t, c.IsPaused())
	assert.False(t, c.IsStopped())
}

func TestControl_Stop(t *testing.T) {
	c := fastControl()
	c.Stop()
	assert.ErrorIs(t, c.Checkpoint(context.Background()), ErrStopped)
	assert.True(t, c.IsStopped())
}

func TestControl_PauseBlocksUntilResume(t *testing.T) {
	c := fastControl()
	c.Pause()

	done := make(chan error, 1)
	go func() { done <- c.Checkpoint(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Checkpoint returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	c.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Checkpoint did not return after Resume")
	}
}

func TestControl_StopWhilePaused(t *testing.T) {
	c := fastControl()
	c.Pause()

	done := make(chan error, 1)
	go func() { done <- c.Checkpoint(context.Background()) }()
	c.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Checkpoint did not observe Stop")
	}
}

func TestControl_ContextCancelWhilePaused(t *testing.T) {
	c := fastControl()
	c.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Checkpoint(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Checkpoint ignored context cancellation")
	}
}

func TestControl_TogglePause(t *testing.T) {
	c := fastControl()
	require.True(t, c.TogglePause())
	assert.True(t, c.IsPaused())
	require.False(t, c.TogglePause())
	assert.False(t, c.IsPaused())
}
