// Package orchestrator drives topic-weighted generation of exam items and the
// companion workflows that backfill reference solutions, validate stored
// items and extract reference items from source material.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/checkpoint"
	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/metrics"
	"github.com/lamim/examforge/internal/progress"
	"github.com/lamim/examforge/pkg/models"
)

const (
	defaultFailureCooldown = 2 * time.Second
	defaultItemCooldown    = 5 * time.Second
	defaultTopicCooldown   = 3 * time.Second
)

// ErrNoTopics is returned when a run has nothing to plan
var ErrNoTopics = errors.New("no topics to generate for")

// Completer issues one completion request
type Completer interface {
	Complete(ctx context.Context, req api.CompletionRequest) (string, error)
}

// Evaluator reaches a semantic verdict on a stored item
type Evaluator interface {
	Evaluate(ctx context.Context, item models.CandidateItem) (models.Verdict, error)
}

// ItemStore is the persistence the generation loop needs
type ItemStore interface {
	ListTopics(ctx context.Context, courseID string) ([]models.Topic, error)
	CountItems(ctx context.Context, topicID int64, t models.ItemType) (int, error)
	InsertItem(ctx context.Context, item *models.PersistedItem) (int64, error)
	AcceptedItems(ctx context.Context, topicID int64, t models.ItemType, limit int) ([]models.PersistedItem, error)
	ItemsForValidation(ctx context.Context, topicIDs []int64, pendingOnly bool) ([]models.PersistedItem, error)
	MarkValidation(ctx context.Context, id int64, v models.Verdict) error
}

// ReferenceStore is the persistence for reference items (PYQs)
type ReferenceStore interface {
	ReferenceItems(ctx context.Context, topicID int64, t models.ItemType, limit int) ([]models.ReferenceItem, error)
	InsertReferenceItem(ctx context.Context, ref *models.ReferenceItem) (int64, error)
	QueryItemsNeedingSolutions(ctx context.Context, topicIDs []int64) ([]models.ReferenceItem, error)
	CountReferenceItems(ctx context.Context, topicIDs []int64) (int, error)
	UpdateSolution(ctx context.Context, id int64, f models.SolutionFields) error
}

// Store combines both stores; *store.Store satisfies it
type Store interface {
	ItemStore
	ReferenceStore
}

// ItemArchive receives a copy of every accepted item
type ItemArchive interface {
	WriteItem(item models.PersistedItem) error
}

// Clients are the model endpoints per role. Solver and Validator are only
// needed by the workflows that use them.
type Clients struct {
	Generator Completer
	Solver    Completer
	Validator Evaluator
}

// Orchestrator manages generation runs and the companion workflows
type Orchestrator struct {
	cfg           *config.Config
	store         Store
	clients       Clients
	logger        *slog.Logger
	sink          progress.Sink
	metrics       *metrics.Collector
	checkpointMgr *checkpoint.Manager
	archive       ItemArchive
	control       *Control
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time

	failureCooldown time.Duration
	itemCooldown    time.Duration
	topicCooldown   time.Duration
	requestTimeout  time.Duration
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithProgress sends progress events to sink
func WithProgress(sink progress.Sink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithMetrics records generation metrics
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCheckpoint records run progress in a checkpoint
func WithCheckpoint(m *checkpoint.Manager) Option {
	return func(o *Orchestrator) { o.checkpointMgr = m }
}

// WithArchive copies accepted items to an archive
func WithArchive(a ItemArchive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithControl lets the caller pause and stop runs
func WithControl(c *Control) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.control = c
		}
	}
}

// WithSleep replaces the cooldown wait, for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates a new orchestrator
func New(cfg *config.Config, store Store, clients Clients, logger *slog.Logger, opts ...Option) *Orchestrator {
	gen := cfg.Generation
	o := &Orchestrator{
		cfg:             cfg,
		store:           store,
		clients:         clients,
		logger:          logger.With("component", "orchestrator"),
		sink:            progress.Discard{},
		control:         NewControl(),
		sleep:           sleepContext,
		now:             time.Now,
		failureCooldown: config.Seconds(gen.FailureCooldownSeconds, defaultFailureCooldown),
		itemCooldown:    config.Seconds(gen.ItemCooldownSeconds, defaultItemCooldown),
		topicCooldown:   config.Seconds(gen.TopicCooldownSeconds, defaultTopicCooldown),
		requestTimeout:  config.Seconds(gen.RequestTimeoutSeconds, 60*time.Second),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Control returns the run's control token
func (o *Orchestrator) Control() *Control {
	return o.control
}

// RunRequest selects what a generation run produces. Zero fields fall back to
// the configuration.
type RunRequest struct {
	CourseID    string
	ItemType    models.ItemType
	TargetTotal int
	TopicIDs    []int64 // restrict to these topics; empty means all topics of the course
}

func (o *Orchestrator) normalize(req RunRequest) RunRequest {
	if req.CourseID == "" {
		req.CourseID = o.cfg.Generation.CourseID
	}
	if req.ItemType == "" {
		req.ItemType = o.cfg.ItemType()
	}
	if req.TargetTotal <= 0 {
		req.TargetTotal = o.cfg.Generation.TargetTotal
	}
	return req
}

// Plan computes the quota plan for req and fills in existing and remaining
// counts from storage. Any failed count fails the plan.
func (o *Orchestrator) Plan(ctx context.Context, req RunRequest) (QuotaPlan, error) {
	plan, failed, err := o.plan(ctx, o.normalize(req))
	if err != nil {
		return QuotaPlan{}, err
	}
	if len(failed) > 0 {
		f := failed[0]
		return QuotaPlan{}, fmt.Errorf("failed to count items for topic %q: %w", f.target.TopicName, f.err)
	}
	return plan, nil
}

// countFailure is a topic whose existing items could not be counted
type countFailure struct {
	target models.GenerationTarget
	err    error
}

// plan computes quotas and counts existing items per topic, retrying a
// failed count once. Topics whose count still fails are reported and left
// with Remaining 0.
func (o *Orchestrator) plan(ctx context.Context, req RunRequest) (QuotaPlan, []countFailure, error) {
	topics, err := o.store.ListTopics(ctx, req.CourseID)
	if err != nil {
		return QuotaPlan{}, nil, fmt.Errorf("failed to list topics: %w", err)
	}
	topics = filterTopics(topics, req.TopicIDs)
	if len(topics) == 0 {
		return QuotaPlan{}, nil, fmt.Errorf("%w: course %q", ErrNoTopics, req.CourseID)
	}

	plan := ComputeQuotas(topics, req.TargetTotal, o.cfg.Generation.ZeroWeightThreshold)
	var failed []countFailure
	for i := range plan.Targets {
		t := &plan.Targets[i]
		if t.Quota == 0 {
			continue
		}
		existing, err := o.store.CountItems(ctx, t.TopicID, req.ItemType)
		if err != nil && ctx.Err() == nil {
			existing, err = o.store.CountItems(ctx, t.TopicID, req.ItemType)
		}
		if err != nil {
			failed = append(failed, countFailure{target: *t, err: err})
			continue
		}
		t.Existing = existing
		t.Remaining = max(0, t.Quota-existing)
	}
	return plan, failed, nil
}

// Run generates items until every topic reaches its quota, the control token
// stops the run, or ctx ends. Per-item failures never abort the run; the
// returned stats are valid even when an error is returned.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*models.SessionStats, error) {
	req = o.normalize(req)
	stats := &models.SessionStats{StartTime: o.now()}

	o.logger.Info("Starting generation run",
		"course_id", req.CourseID,
		"item_type", req.ItemType,
		"target_total", req.TargetTotal)

	defer func() {
		if o.checkpointMgr != nil {
			if err := o.checkpointMgr.SaveSync(); err != nil {
				o.logger.Warn("Failed to save final checkpoint", "error", err)
			}
		}
	}()

	plan, failed, err := o.plan(ctx, req)
	if err != nil {
		return o.finish(stats), err
	}
	if err := ctx.Err(); err != nil {
		return o.finish(stats), err
	}

	skip := make(map[int64]bool, len(failed))
	for _, f := range failed {
		skip[f.target.TopicID] = true
		stats.TopicsFailed++
		o.logger.Error("Skipping topic: failed to count existing items",
			"topic", f.target.TopicName, "topic_id", f.target.TopicID, "error", f.err)
		o.emit(models.ProgressEvent{Stage: models.StageSkipped, TopicID: f.target.TopicID, TopicName: f.target.TopicName,
			Message: "topic skipped: could not count existing items"})
	}

	var work []models.GenerationTarget
	for _, t := range plan.Active() {
		if skip[t.TopicID] {
			continue
		}
		if t.Remaining > 0 {
			work = append(work, t)
			stats.ItemsTarget += t.Remaining
		} else {
			o.logger.Info("Topic already satisfied", "topic", t.TopicName, "quota", t.Quota, "existing", t.Existing)
		}
	}
	stats.TopicsPlanned = len(work)

	o.logger.Info("Quota plan computed",
		"main_total", plan.MainTotal,
		"zero_weight_extra", plan.ZeroWeightExtra,
		"zero_weight_threshold", plan.Threshold,
		"topics", len(work),
		"items_to_generate", stats.ItemsTarget)
	o.emit(models.ProgressEvent{
		Stage:      models.StagePlanning,
		TopicCount: len(work),
		Target:     stats.ItemsTarget,
		Message: fmt.Sprintf("%d items planned (%d weighted + %d zero-weight at threshold %d), %d to generate",
			plan.Total(), plan.MainTotal, plan.ZeroWeightExtra, plan.Threshold, stats.ItemsTarget),
	})
	o.metrics.SetItemsRemaining(stats.ItemsTarget)

	if o.checkpointMgr != nil {
		planned := make([]models.GenerationTarget, 0, len(plan.Targets))
		for _, t := range plan.Targets {
			if !skip[t.TopicID] {
				planned = append(planned, t)
			}
		}
		if err := o.checkpointMgr.MarkPlanned(plan.MainTotal, plan.ZeroWeightExtra, planned); err != nil {
			o.logger.Warn("Failed to checkpoint quota plan", "error", err)
		}
	}

	for i, target := range work {
		if i > 0 && !o.control.IsStopped() {
			if err := o.sleep(ctx, o.topicCooldown); err != nil {
				return o.finish(stats), err
			}
		}

		err := o.runTopic(ctx, req, target, i+1, len(work), stats)
		if errors.Is(err, ErrStopped) {
			stats.Stopped = true
			break
		}
		if err != nil {
			return o.finish(stats), err
		}
		stats.TopicsCompleted++
		if o.checkpointMgr != nil {
			if err := o.checkpointMgr.MarkTopicDone(target.TopicID, stats); err != nil {
				o.logger.Warn("Failed to checkpoint topic", "topic", target.TopicName, "error", err)
			}
		}
	}

	o.finish(stats)

	if stats.Stopped {
		o.logger.Info("Generation stopped", "accepted", stats.AcceptedCount, "target", stats.ItemsTarget)
		o.emit(models.ProgressEvent{Stage: models.StageStopped, Accepted: stats.AcceptedCount, Target: stats.ItemsTarget,
			Message: "stopped; accepted items are kept"})
		if o.checkpointMgr != nil {
			if err := o.checkpointMgr.MarkStopped(stats); err != nil {
				o.logger.Warn("Failed to checkpoint stop", "error", err)
			}
		}
		return stats, nil
	}

	o.logger.Info("Generation complete",
		"accepted", stats.AcceptedCount,
		"rejected_attempts", stats.RejectedCount,
		"skipped", stats.SkippedCount,
		"duration", stats.TotalDuration.Round(time.Second))
	o.emit(models.ProgressEvent{Stage: models.StageComplete, Accepted: stats.AcceptedCount, Target: stats.ItemsTarget,
		Message: fmt.Sprintf("%d accepted, %d skipped", stats.AcceptedCount, stats.SkippedCount)})
	if o.checkpointMgr != nil {
		if err := o.checkpointMgr.MarkComplete(stats); err != nil {
			o.logger.Warn("Failed to checkpoint completion", "error", err)
		}
	}
	return stats, nil
}

func (o *Orchestrator) finish(stats *models.SessionStats) *models.SessionStats {
	stats.EndTime = o.now()
	stats.TotalDuration = stats.EndTime.Sub(stats.StartTime)
	if stats.AcceptedCount > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.AcceptedCount)
	}
	return stats
}

func (o *Orchestrator) emit(ev models.ProgressEvent) {
	if ev.Time.IsZero() {
		ev.Time = o.now()
	}
	o.sink.Emit(ev)
}

func filterTopics(topics []models.Topic, ids []int64) []models.Topic {
	if len(ids) == 0 {
		return topics
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Topic
	for _, t := range topics {
		if want[t.ID] {
			out = append(out, t)
		}
	}
	return out
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
