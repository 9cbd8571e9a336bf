package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/keypool"
	"github.com/lamim/examforge/internal/util"
	"github.com/lamim/examforge/internal/validation"
	"github.com/lamim/examforge/pkg/models"
)

// attemptError is a failed attempt that may be retried
type attemptError struct {
	kind   string // "timeout", "completion", "parse", "structure", "self_flagged", "duplicate"
	reason string
}

func (e *attemptError) Error() string { return e.kind + ": " + e.reason }

// itemAbort ends the current item without further attempts
type itemAbort struct {
	err error
}

func (e *itemAbort) Error() string { return e.err.Error() }
func (e *itemAbort) Unwrap() error { return e.err }

// topicRun is the state of one topic within a run
type topicRun struct {
	req        RunRequest
	target     models.GenerationTarget
	index      int
	count      int
	references string
	exclusions *exclusionList
}

func (o *Orchestrator) runTopic(ctx context.Context, req RunRequest, target models.GenerationTarget, index, count int, stats *models.SessionStats) error {
	logger := o.logger.With("topic", target.TopicName)
	gen := o.cfg.Generation

	refs, err := o.store.ReferenceItems(ctx, target.TopicID, req.ItemType, gen.MaxReferenceItems)
	if err != nil {
		logger.Warn("Failed to load reference items, continuing without", "error", err)
		refs = nil
	}
	// Every stored statement is checked for repeats; only the newest
	// MaxContextItems reach the prompt.
	accepted, err := o.store.AcceptedItems(ctx, target.TopicID, req.ItemType, 0)
	if err != nil {
		logger.Warn("Failed to load accepted items, continuing without", "error", err)
		accepted = nil
	}

	tr := &topicRun{
		req:        req,
		target:     target,
		index:      index,
		count:      count,
		references: referenceBlock(refs),
		exclusions: newExclusionList(accepted, gen.MaxContextItems),
	}

	logger.Info("Starting topic",
		"index", index,
		"of", count,
		"quota", target.Quota,
		"existing", target.Existing,
		"remaining", target.Remaining,
		"reference_items", len(refs))
	o.emit(models.ProgressEvent{
		Stage:      models.StageTopicStart,
		TopicID:    target.TopicID,
		TopicName:  target.TopicName,
		TopicIndex: index,
		TopicCount: count,
		ItemTotal:  target.Remaining,
		Accepted:   stats.AcceptedCount,
		Target:     stats.ItemsTarget,
	})

	for n := 1; n <= target.Remaining; n++ {
		ok, err := o.generateItem(ctx, tr, n, stats)
		if err != nil {
			return err
		}
		o.metrics.SetItemsRemaining(stats.ItemsTarget - stats.AcceptedCount - stats.SkippedCount)
		if o.checkpointMgr != nil {
			if err := o.checkpointMgr.MarkItem(target.TopicID, ok, stats); err != nil {
				logger.Warn("Failed to checkpoint item", "error", err)
			}
		}
		if ok && n < target.Remaining {
			if err := o.sleep(ctx, o.itemCooldown); err != nil {
				return err
			}
		}
	}

	o.emit(models.ProgressEvent{
		Stage:      models.StageTopicDone,
		TopicID:    target.TopicID,
		TopicName:  target.TopicName,
		TopicIndex: index,
		TopicCount: count,
		Accepted:   stats.AcceptedCount,
		Target:     stats.ItemsTarget,
	})
	return nil
}

// generateItem spends up to MaxAttempts attempts on one item. It reports
// whether an item was accepted; an error ends the run (stop or ctx).
func (o *Orchestrator) generateItem(ctx context.Context, tr *topicRun, n int, stats *models.SessionStats) (bool, error) {
	logger := o.logger.With("topic", tr.target.TopicName, "item", n)
	retry := models.RetryState{MaxAttempts: o.cfg.Generation.MaxAttempts}
	started := o.now()

	for !retry.Exhausted() {
		if o.control.IsPaused() {
			logger.Info("Run paused")
			o.emit(models.ProgressEvent{Stage: models.StagePaused, TopicID: tr.target.TopicID, TopicName: tr.target.TopicName,
				ItemIndex: n, ItemTotal: tr.target.Remaining, Accepted: stats.AcceptedCount, Target: stats.ItemsTarget})
		}
		if err := o.control.Checkpoint(ctx); err != nil {
			return false, err
		}

		retry.Attempt++
		o.emit(models.ProgressEvent{
			Stage:       models.StageAttempt,
			TopicID:     tr.target.TopicID,
			TopicName:   tr.target.TopicName,
			TopicIndex:  tr.index,
			TopicCount:  tr.count,
			ItemIndex:   n,
			ItemTotal:   tr.target.Remaining,
			Attempt:     retry.Attempt,
			MaxAttempts: retry.MaxAttempts,
			Accepted:    stats.AcceptedCount,
			Target:      stats.ItemsTarget,
		})

		item, err := o.attempt(ctx, tr)
		if err == nil {
			if perr := o.persist(ctx, tr, item, n, stats); perr != nil {
				retry.LastFailure = perr.Error()
				break
			}
			o.metrics.RecordItem("generate", o.elapsed(started))
			return true, nil
		}

		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		var abort *itemAbort
		if errors.As(err, &abort) {
			retry.LastFailure = abort.Error()
			logger.Error("Abandoning item", "attempt", retry.Attempt, "error", abort.err)
			break
		}

		stats.RejectedCount++
		retry.LastFailure = err.Error()
		o.metrics.IncrementGeneration("generate", "rejected")
		logger.Warn("Attempt failed", "attempt", retry.Attempt, "max_attempts", retry.MaxAttempts, "reason", retry.LastFailure)
		o.emit(models.ProgressEvent{
			Stage:       models.StageRejected,
			TopicID:     tr.target.TopicID,
			TopicName:   tr.target.TopicName,
			ItemIndex:   n,
			ItemTotal:   tr.target.Remaining,
			Attempt:     retry.Attempt,
			MaxAttempts: retry.MaxAttempts,
			Accepted:    stats.AcceptedCount,
			Target:      stats.ItemsTarget,
			Message:     retry.LastFailure,
		})

		if !retry.Exhausted() {
			if err := o.sleep(ctx, o.failureCooldown); err != nil {
				return false, err
			}
		}
	}

	stats.SkippedCount++
	o.metrics.IncrementGeneration("generate", "skipped")
	logger.Warn("Skipping item", "attempts", retry.Attempt, "last_failure", retry.LastFailure)
	o.emit(models.ProgressEvent{
		Stage:       models.StageSkipped,
		TopicID:     tr.target.TopicID,
		TopicName:   tr.target.TopicName,
		ItemIndex:   n,
		ItemTotal:   tr.target.Remaining,
		Attempt:     retry.Attempt,
		MaxAttempts: retry.MaxAttempts,
		Accepted:    stats.AcceptedCount,
		Target:      stats.ItemsTarget,
		Message:     fmt.Sprintf("skipped after %d attempts: %s", retry.Attempt, retry.LastFailure),
	})
	return false, nil
}

// attempt issues one generation request and returns a valid candidate
func (o *Orchestrator) attempt(ctx context.Context, tr *topicRun) (*models.CandidateItem, error) {
	t := tr.req.ItemType
	prompt, err := util.RenderTemplate(o.cfg.PromptTemplates.Generation, map[string]interface{}{
		"CourseID":       tr.req.CourseID,
		"TopicName":      tr.target.TopicName,
		"ItemType":       string(t),
		"TypeRules":      config.TypeRules(t),
		"ReferenceItems": tr.references,
		"ExistingItems":  tr.exclusions.Block(),
	})
	if err != nil {
		return nil, &itemAbort{err: fmt.Errorf("failed to render generation template: %w", err)}
	}

	mc := o.cfg.Model(config.RoleGenerator)
	callCtx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	raw, err := o.clients.Generator.Complete(callCtx, api.CompletionRequest{
		System:      o.cfg.PromptTemplates.GenerationSystem,
		Prompt:      prompt,
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxOutputTokens,
	})
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case timedOut:
			return nil, &attemptError{kind: "timeout", reason: fmt.Sprintf("no response within %s", o.requestTimeout)}
		case errors.Is(err, api.ErrContentBlocked),
			errors.Is(err, api.ErrEmptyPrompt),
			errors.Is(err, keypool.ErrEmptyPool),
			api.IsExhausted(err):
			return nil, &itemAbort{err: err}
		default:
			return nil, &attemptError{kind: "completion", reason: err.Error()}
		}
	}

	var items []models.CandidateItem
	if err := util.ParseInto(raw, util.ShapeArray, &items); err != nil {
		if reason := refusalReason(util.StripThinkTags(raw)); reason != "" {
			return nil, &attemptError{kind: "parse", reason: reason}
		}
		return nil, &attemptError{kind: "parse", reason: err.Error()}
	}
	if len(items) == 0 {
		return nil, &attemptError{kind: "parse", reason: "response contained an empty array"}
	}

	item := items[0]
	if item.Type == "" {
		item.Type = t
	}
	if err := validation.ValidateStructure(&item); err != nil {
		return nil, &attemptError{kind: "structure", reason: err.Error()}
	}
	if item.Type != t {
		return nil, &attemptError{kind: "structure", reason: fmt.Sprintf("item type is %s, expected %s", item.Type, t)}
	}
	if item.FlaggedInvalid {
		reason := item.InvalidReason
		if reason == "" {
			reason = "no reason given"
		}
		return nil, &attemptError{kind: "self_flagged", reason: "model flagged its item invalid: " + reason}
	}
	if tr.exclusions.Contains(item.Statement) {
		return nil, &attemptError{kind: "duplicate", reason: "repeats an accepted item"}
	}
	return &item, nil
}

// persist stores an accepted candidate and makes it visible to the next attempt.
// A storage failure drops the item.
func (o *Orchestrator) persist(ctx context.Context, tr *topicRun, item *models.CandidateItem, n int, stats *models.SessionStats) error {
	logger := o.logger.With("topic", tr.target.TopicName, "item", n)
	rec := &models.PersistedItem{
		TopicID:          tr.target.TopicID,
		Slot:             o.cfg.Generation.Slot,
		Part:             o.cfg.Generation.Part,
		CandidateItem:    *item,
		Scoring:          o.cfg.ScoringFor(item.Type),
		ValidationStatus: models.ValidationPending,
		CreatedAt:        o.now(),
	}

	if _, err := o.store.InsertItem(ctx, rec); err != nil {
		o.metrics.IncrementGeneration("generate", "failed")
		logger.Error("Failed to persist item, dropping it", "error", err)
		return fmt.Errorf("failed to persist item: %w", err)
	}

	tr.exclusions.Add(rec.Statement)
	stats.AcceptedCount++
	o.metrics.IncrementGeneration("generate", "accepted")

	if o.archive != nil {
		if err := o.archive.WriteItem(*rec); err != nil {
			logger.Warn("Failed to archive item", "id", rec.ID, "error", err)
		}
	}

	logger.Info("Item accepted", "id", rec.ID, "statement", util.TruncateString(rec.Statement, 80))
	o.emit(models.ProgressEvent{
		Stage:      models.StageAccepted,
		TopicID:    tr.target.TopicID,
		TopicName:  tr.target.TopicName,
		TopicIndex: tr.index,
		TopicCount: tr.count,
		ItemIndex:  n,
		ItemTotal:  tr.target.Remaining,
		Accepted:   stats.AcceptedCount,
		Target:     stats.ItemsTarget,
	})
	return nil
}

// elapsed returns the duration since start on the orchestrator's clock
func (o *Orchestrator) elapsed(start time.Time) time.Duration {
	return o.now().Sub(start)
}
