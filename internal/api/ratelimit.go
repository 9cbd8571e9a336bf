package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type modelLimiter struct {
	*rate.Limiter
	rpm int
}

// RateLimiterPool holds one limiter per model so that every role using the
// same model shares its request budget
type RateLimiterPool struct {
	mu       sync.Mutex
	limiters map[string]modelLimiter
	logger   *slog.Logger
}

func NewRateLimiterPool(logger *slog.Logger) *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]modelLimiter),
		logger:   logger.With("component", "ratelimit"),
	}
}

// newLimiter turns a per-minute budget into a token bucket with a burst of
// a tenth of the budget. Zero or less is unlimited.
func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), max(1, rpm/10))
}

// GetOrCreate returns the limiter of a model. The first rate registered for
// a model wins; a later different rate is logged and ignored.
func (p *RateLimiterPool) GetOrCreate(model string, rpm int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[model]; ok {
		if l.rpm != rpm {
			p.logger.Warn("Rate limiter already exists with a different rate, keeping it",
				"model", model, "existing_rpm", l.rpm, "requested_rpm", rpm)
		}
		return l.Limiter
	}

	l := modelLimiter{Limiter: newLimiter(rpm), rpm: rpm}
	p.limiters[model] = l
	p.logger.Debug("Created rate limiter", "model", model, "rpm", rpm)
	return l.Limiter
}

// Wait blocks until the model's limiter admits a request and reports the delay
func (p *RateLimiterPool) Wait(ctx context.Context, model string, rpm int) (time.Duration, error) {
	l := p.GetOrCreate(model, rpm)
	start := time.Now()
	err := l.Wait(ctx)
	return time.Since(start), err
}
