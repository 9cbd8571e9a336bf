package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics
	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examforge_api_request_duration_seconds",
			Help:    "Completion request duration in seconds by model and status class",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"model", "status"},
	)

	rateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examforge_rate_limiter_wait_duration_seconds",
			Help:    "Rate limiter wait duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"model"},
	)

	// Credential pool metrics
	credentialsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examforge_credentials_active",
			Help: "Number of credentials currently eligible for selection",
		},
	)

	credentialsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examforge_credentials_total",
			Help: "Number of configured credentials",
		},
	)

	credentialFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examforge_credential_failures_total",
			Help: "Failed attempts recorded against credentials by status class",
		},
		[]string{"status"},
	)

	credentialResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examforge_credential_pool_resets_total",
			Help: "Bulk reactivations of the credential pool",
		},
	)

	// Generation metrics
	itemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examforge_item_duration_seconds",
			Help:    "Time spent per item by workflow",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
		[]string{"workflow"}, // "generate", "solve", "validate"
	)

	generationThroughput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examforge_items_total",
			Help: "Items processed by workflow and outcome",
		},
		[]string{"workflow", "outcome"}, // outcome: "accepted"/"rejected"/"skipped"/"failed"
	)

	itemsRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examforge_items_remaining",
			Help: "Items still to generate in the current run",
		},
	)
)

// Collector provides convenience methods for recording metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// RecordAPIRequest records a completion request duration
func (c *Collector) RecordAPIRequest(model, status string, duration time.Duration) {
	if c == nil {
		return
	}
	apiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordRateLimiterWait records rate limiter wait time
func (c *Collector) RecordRateLimiterWait(model string, duration time.Duration) {
	if c == nil {
		return
	}
	rateLimiterWaitDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// SetCredentialHealth publishes how many credentials are usable
func (c *Collector) SetCredentialHealth(active, total int) {
	if c == nil {
		return
	}
	credentialsActive.Set(float64(active))
	credentialsTotal.Set(float64(total))
}

// IncrementCredentialFailure counts a failed attempt against a credential
func (c *Collector) IncrementCredentialFailure(status string) {
	if c == nil {
		return
	}
	credentialFailures.WithLabelValues(status).Inc()
}

// IncrementPoolReset counts a bulk reactivation of the credential pool
func (c *Collector) IncrementPoolReset() {
	if c == nil {
		return
	}
	credentialResets.Inc()
	if c.logger != nil {
		c.logger.Debug("Credential pool reset recorded")
	}
}

// RecordItem records the time spent on one item
func (c *Collector) RecordItem(workflow string, duration time.Duration) {
	if c == nil {
		return
	}
	itemDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// IncrementGeneration increments the item outcome counter
func (c *Collector) IncrementGeneration(workflow, outcome string) {
	if c == nil {
		return
	}
	generationThroughput.WithLabelValues(workflow, outcome).Inc()
}

// SetItemsRemaining sets how many items the current run still has to produce
func (c *Collector) SetItemsRemaining(n int) {
	if c == nil {
		return
	}
	itemsRemaining.Set(float64(n))
}
