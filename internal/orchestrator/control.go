package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrStopped is returned once a run has been asked to stop
var ErrStopped = errors.New("run stopped")

const defaultPollInterval = time.Second

// Control lets another goroutine pause, resume or stop a run. The run only
// observes it between calls, so an in-flight completion always finishes.
type Control struct {
	paused  atomic.Bool
	stopped atomic.Bool
	poll    time.Duration
}

// NewControl returns a control in the running state
func NewControl() *Control {
	return &Control{poll: defaultPollInterval}
}

// Pause suspends the run at its next checkpoint
func (c *Control) Pause() { c.paused.Store(true) }

// Resume lets a paused run continue
func (c *Control) Resume() { c.paused.Store(false) }

// TogglePause flips the paused state and returns the new state
func (c *Control) TogglePause() bool {
	for {
		old := c.paused.Load()
		if c.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Stop ends the run at its next checkpoint. Stop also releases a pause.
func (c *Control) Stop() { c.stopped.Store(true) }

// IsPaused reports whether a pause is requested
func (c *Control) IsPaused() bool { return c.paused.Load() }

// IsStopped reports whether a stop is requested
func (c *Control) IsStopped() bool { return c.stopped.Load() }

// Checkpoint returns ErrStopped after Stop, blocks while paused (polling the
// flags), and returns ctx.Err() if the context ends first.
func (c *Control) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.stopped.Load() {
		return ErrStopped
	}
	if !c.paused.Load() {
		return nil
	}

	poll := c.poll
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if c.stopped.Load() {
			return ErrStopped
		}
		if !c.paused.Load() {
			return nil
		}
	}
}
