package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lamim/examforge/internal/keypool"
	"github.com/lamim/examforge/internal/metrics"
)

const (
	// DefaultCooldown is the wait after a failed attempt before trying the next credential
	DefaultCooldown = 10 * time.Second
	// DefaultAttemptsPerKey multiplied by the pool size gives the attempt budget of one call
	DefaultAttemptsPerKey = 3
)

var (
	// ErrEmptyPrompt is returned before any network activity for a blank prompt
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrContentBlocked is returned when the provider refuses the content; it is never retried
	ErrContentBlocked = errors.New("content blocked by provider")
)

// ExhaustedError is returned when every attempt of a call failed
type ExhaustedError struct {
	Attempts   int
	LastStatus StatusClass
	LastDetail string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d completion attempts failed (last: %s)", e.Attempts, e.LastStatus)
}

// IsExhausted reports whether err is an *ExhaustedError
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// CompletionRequest is a single prompt, optionally with an image
type CompletionRequest struct {
	System      string
	Prompt      string
	Image       *Image
	Temperature float64
	MaxTokens   int
}

// Client sends completion requests, rotating credentials from a pool on failure
type Client struct {
	provider       Provider
	pool           *keypool.Pool
	limiters       *RateLimiterPool
	rpm            int
	metrics        *metrics.Collector
	logger         *slog.Logger
	cooldown       time.Duration
	attemptsPerKey int
	sleep          func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithRateLimit throttles calls through a shared limiter pool
func WithRateLimit(limiters *RateLimiterPool, requestsPerMinute int) ClientOption {
	return func(c *Client) {
		c.limiters = limiters
		c.rpm = requestsPerMinute
	}
}

// WithMetrics records request metrics
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithCooldown overrides DefaultCooldown
func WithCooldown(d time.Duration) ClientOption {
	return func(c *Client) { c.cooldown = d }
}

// WithAttemptsPerKey overrides DefaultAttemptsPerKey
func WithAttemptsPerKey(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.attemptsPerKey = n
		}
	}
}

// WithSleep replaces the cooldown wait, for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a completion client
func NewClient(provider Provider, pool *keypool.Pool, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		provider:       provider,
		pool:           pool,
		logger:         logger.With("component", "completion", "model", provider.Model()),
		cooldown:       DefaultCooldown,
		attemptsPerKey: DefaultAttemptsPerKey,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete returns the model's text for req. Transient failures rotate to the
// next credential; a content block fails immediately.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}

	size := c.pool.Size()
	if size == 0 {
		return "", keypool.ErrEmptyPool
	}
	maxAttempts := c.attemptsPerKey * size

	preq := ProviderRequest{
		System:      req.System,
		Prompt:      req.Prompt,
		Image:       req.Image,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var last ProviderResponse
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		key, err := c.pool.Next()
		if err != nil {
			return "", err
		}

		if c.limiters != nil {
			waited, err := c.limiters.Wait(ctx, c.provider.Model(), c.rpm)
			if err != nil {
				return "", fmt.Errorf("rate limiter wait failed: %w", err)
			}
			c.metrics.RecordRateLimiterWait(c.provider.Model(), waited)
		}

		start := time.Now()
		resp, err := c.provider.Generate(ctx, preq, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			resp = ProviderResponse{Status: StatusOther, Detail: err.Error()}
		}
		c.metrics.RecordAPIRequest(c.provider.Model(), resp.Status.String(), time.Since(start))
		last = resp

		switch {
		case resp.Status == StatusSuccess && resp.TextPresent:
			c.pool.RecordSuccess(key)
			return resp.Text, nil

		case resp.Status == StatusContentBlocked:
			c.logger.Warn("Provider blocked content", "detail", resp.Detail)
			return "", fmt.Errorf("%w: %s", ErrContentBlocked, resp.Detail)

		case resp.Status == StatusSuccess:
			// Successful status but no usable text
			last.Detail = "response missing text: " + resp.Detail
		}

		c.pool.RecordFailure(key, fmt.Sprintf("%s: %s", resp.Status, last.Detail))
		c.metrics.IncrementCredentialFailure(resp.Status.String())
		c.logger.Warn("Completion attempt failed",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"key", keypool.Mask(key),
			"status", resp.Status.String(),
			"http_status", resp.HTTPStatus,
			"detail", last.Detail)

		if resp.Status == StatusInvalidCredential || attempt == maxAttempts {
			continue
		}
		if err := c.sleep(ctx, c.cooldown); err != nil {
			return "", err
		}
	}

	return "", &ExhaustedError{Attempts: maxAttempts, LastStatus: last.Status, LastDetail: last.Detail}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
