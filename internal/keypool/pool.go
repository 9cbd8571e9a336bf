// Package keypool rotates API credentials round-robin and tracks their health.
//
// A credential is deactivated after a run of consecutive failures. When every
// credential is deactivated the pool reactivates all of them at once, so a
// configured pool never refuses to hand out a key.
package keypool

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lamim/examforge/internal/metrics"
)

// DefaultFailureThreshold is the number of consecutive failures that deactivates a credential
const DefaultFailureThreshold = 3

var (
	// ErrNoValidKeys is returned by Configure when no non-blank key was supplied
	ErrNoValidKeys = errors.New("no valid API keys configured")
	// ErrEmptyPool is returned by Next when the pool was never configured
	ErrEmptyPool = errors.New("credential pool is empty")
)

// CredentialRecord is the health state of one credential
type CredentialRecord struct {
	Key               string
	UsageCount        int
	ConsecutiveErrors int
	LastError         string
	LastUsedAt        time.Time
	Active            bool
}

// Pool hands out credentials round-robin. It is safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	records   []*CredentialRecord
	cursor    int
	threshold int
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time
}

// Option configures a Pool
type Option func(*Pool)

// WithFailureThreshold overrides DefaultFailureThreshold
func WithFailureThreshold(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// WithMetrics publishes pool health to the collector
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = c }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates an empty pool; call Configure before Next
func New(logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		threshold: DefaultFailureThreshold,
		logger:    logger.With("component", "keypool"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Configure replaces the pool's credentials. Blank and duplicate keys are
// dropped; it fails with ErrNoValidKeys if nothing remains, leaving the
// previous state untouched.
func (p *Pool) Configure(keys []string) error {
	seen := make(map[string]bool, len(keys))
	records := make([]*CredentialRecord, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		records = append(records, &CredentialRecord{Key: k, Active: true})
	}
	if len(records) == 0 {
		return ErrNoValidKeys
	}

	p.mu.Lock()
	p.records = records
	p.cursor = 0
	p.publishLocked()
	p.mu.Unlock()

	p.logger.Info("Credential pool configured", "keys", len(records))
	return nil
}

// Next returns the next active credential, starting at the cursor and
// wrapping around. If every credential is deactivated the pool is reset first.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.records)
	if n == 0 {
		return "", ErrEmptyPool
	}

	if p.activeLocked() == 0 {
		p.logger.Warn("All credentials deactivated, reactivating pool", "keys", n)
		p.resetLocked()
		if p.metrics != nil {
			p.metrics.IncrementPoolReset()
		}
	}

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		rec := p.records[idx]
		if !rec.Active {
			continue
		}
		rec.UsageCount++
		rec.LastUsedAt = p.now()
		p.cursor = (idx + 1) % n
		return rec.Key, nil
	}

	// Unreachable: the reset above guarantees an active record.
	return "", fmt.Errorf("no active credential among %d", n)
}

// RecordSuccess clears the failure streak of key
func (p *Pool) RecordSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.findLocked(key)
	if rec == nil {
		return
	}
	rec.ConsecutiveErrors = 0
	rec.LastError = ""
}

// RecordFailure extends the failure streak of key and deactivates it once
// the streak reaches the threshold
func (p *Pool) RecordFailure(key, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.findLocked(key)
	if rec == nil {
		return
	}
	rec.ConsecutiveErrors++
	rec.LastError = message

	if rec.Active && rec.ConsecutiveErrors >= p.threshold {
		rec.Active = false
		p.logger.Warn("Credential deactivated",
			"key", Mask(key),
			"consecutive_errors", rec.ConsecutiveErrors,
			"last_error", message)
		p.publishLocked()
	}
}

// Reset reactivates every credential and clears all failure streaks
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

// Size returns the number of configured credentials
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// ActiveCount returns the number of credentials eligible for selection
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

// Snapshot returns a copy of every record in configuration order
func (p *Pool) Snapshot() []CredentialRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CredentialRecord, len(p.records))
	for i, rec := range p.records {
		out[i] = *rec
	}
	return out
}

func (p *Pool) findLocked(key string) *CredentialRecord {
	for _, rec := range p.records {
		if rec.Key == key {
			return rec
		}
	}
	return nil
}

func (p *Pool) activeLocked() int {
	active := 0
	for _, rec := range p.records {
		if rec.Active {
			active++
		}
	}
	return active
}

func (p *Pool) resetLocked() {
	for _, rec := range p.records {
		rec.Active = true
		rec.ConsecutiveErrors = 0
		rec.LastError = ""
	}
	p.publishLocked()
}

func (p *Pool) publishLocked() {
	if p.metrics != nil {
		p.metrics.SetCredentialHealth(p.activeLocked(), len(p.records))
	}
}

// Mask hides all but the last four characters of a key for logging
func Mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
