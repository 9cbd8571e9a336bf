// Package progress delivers orchestrator progress events to displays and logs.
// Emit must never block the caller.
package progress

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/lamim/examforge/pkg/models"
)

// Sink receives progress events. Implementations must return immediately.
type Sink interface {
	Emit(ev models.ProgressEvent)
}

// Discard drops every event
type Discard struct{}

// Emit implements Sink
func (Discard) Emit(models.ProgressEvent) {}

// Multi fans an event out to several sinks
type Multi []Sink

// Emit implements Sink
func (m Multi) Emit(ev models.ProgressEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// ChannelSink buffers events for a consumer goroutine. When the buffer is
// full the event is dropped and counted instead of blocking the producer.
type ChannelSink struct {
	ch      chan models.ProgressEvent
	dropped atomic.Int64
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan models.ProgressEvent, buffer)}
}

// Emit implements Sink
func (c *ChannelSink) Emit(ev models.ProgressEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the channel to consume; it is closed by Close
func (c *ChannelSink) Events() <-chan models.ProgressEvent {
	return c.ch
}

// Dropped returns how many events did not fit in the buffer
func (c *ChannelSink) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops accepting events and closes the channel
func (c *ChannelSink) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// LogSink writes events to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs through logger
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "progress")}
}

// Emit implements Sink
func (l *LogSink) Emit(ev models.ProgressEvent) {
	attrs := []any{"stage", ev.Stage, "accepted", ev.Accepted, "target", ev.Target}
	if ev.TopicName != "" {
		attrs = append(attrs, "topic", ev.TopicName, "topic_index", ev.TopicIndex, "topic_count", ev.TopicCount)
	}
	if ev.ItemTotal > 0 {
		attrs = append(attrs, "item", ev.ItemIndex, "item_total", ev.ItemTotal)
	}
	if ev.Attempt > 0 {
		attrs = append(attrs, "attempt", ev.Attempt, "max_attempts", ev.MaxAttempts)
	}
	if ev.Message != "" {
		attrs = append(attrs, "message", ev.Message)
	}

	switch ev.Stage {
	case models.StageRejected, models.StageSkipped:
		l.logger.Warn("Progress", attrs...)
	case models.StageAttempt:
		l.logger.Debug("Progress", attrs...)
	default:
		l.logger.Info("Progress", attrs...)
	}
}

// BarSink renders a terminal progress bar. Events are handed to a private
// goroutine so a slow terminal never stalls the run.
type BarSink struct {
	events *ChannelSink
	bar    *progressbar.ProgressBar
	done   chan struct{}
}

// NewBarSink starts a progress bar writing to w. max is replaced by the
// target of a planning event when one arrives.
func NewBarSink(w io.Writer, description string, max int) *BarSink {
	if max < 1 {
		max = 1
	}
	b := &BarSink{
		events: NewChannelSink(256),
		bar: progressbar.NewOptions(max,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
		),
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

// Emit implements Sink
func (b *BarSink) Emit(ev models.ProgressEvent) {
	b.events.Emit(ev)
}

// Close drains pending events and finishes the bar
func (b *BarSink) Close() {
	b.events.Close()
	<-b.done
	_ = b.bar.Finish()
}

func (b *BarSink) run() {
	defer close(b.done)
	for ev := range b.events.Events() {
		switch ev.Stage {
		case models.StagePlanning:
			if ev.Target > 0 {
				b.bar.ChangeMax(ev.Target)
			}
		case models.StageTopicStart:
			b.bar.Describe(ev.TopicName)
		case models.StageAccepted, models.StageSkipped, models.StageSolved, models.StageValidated:
			_ = b.bar.Add(1)
		case models.StagePaused:
			b.bar.Describe("paused")
		case models.StageStopped:
			b.bar.Describe("stopping")
		}
	}
}
