package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/lamim/examforge/pkg/models"
)

// ValidationReport summarizes a validation pass over stored items
type ValidationReport struct {
	Checked int            `json:"checked"`
	Valid   int            `json:"valid"`
	Invalid int            `json:"invalid"`
	Errors  int            `json:"errors"` // no verdict reached; the item stays as it was
	Stopped bool           `json:"stopped"`
	Flagged []InvalidEntry `json:"flagged,omitempty"`
}

// InvalidEntry names an item judged invalid and why
type InvalidEntry struct {
	ID        int64  `json:"id"`
	Statement string `json:"question"`
	Reason    string `json:"reason"`
}

// ValidateItems re-derives the answer of stored items and records a verdict
// on each. With pendingOnly, items that already have a verdict are skipped.
func (o *Orchestrator) ValidateItems(ctx context.Context, topicIDs []int64, pendingOnly bool) (*ValidationReport, error) {
	if o.clients.Validator == nil {
		return nil, errors.New("no validator configured")
	}

	items, err := o.store.ItemsForValidation(ctx, topicIDs, pendingOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	report := &ValidationReport{}
	o.logger.Info("Starting validation", "items", len(items), "pending_only", pendingOnly)
	o.emit(models.ProgressEvent{Stage: models.StagePlanning, Target: len(items),
		Message: fmt.Sprintf("%d items to validate", len(items))})

	for i, item := range items {
		if err := o.control.Checkpoint(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				report.Stopped = true
				break
			}
			return report, err
		}

		started := o.now()
		verdict, err := o.clients.Validator.Evaluate(ctx, item.CandidateItem)
		if err == nil {
			err = o.store.MarkValidation(ctx, item.ID, verdict)
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		msg := ""
		switch {
		case err != nil:
			report.Errors++
			msg = "no verdict: " + err.Error()
			o.metrics.IncrementGeneration("validate", "failed")
			o.logger.Warn("Validation failed", "id", item.ID, "error", err)
		case verdict.Valid:
			report.Valid++
			o.metrics.IncrementGeneration("validate", "accepted")
		default:
			report.Invalid++
			msg = verdict.Reason
			report.Flagged = append(report.Flagged, InvalidEntry{ID: item.ID, Statement: item.Statement, Reason: verdict.Reason})
			o.metrics.IncrementGeneration("validate", "rejected")
			o.logger.Info("Item marked invalid", "id", item.ID, "reason", verdict.Reason)
		}
		o.metrics.RecordItem("validate", o.elapsed(started))
		o.emit(models.ProgressEvent{Stage: models.StageValidated, TopicID: item.TopicID, ItemIndex: i + 1,
			ItemTotal: len(items), Accepted: report.Valid, Target: len(items), Message: msg})
	}

	o.logger.Info("Validation finished",
		"checked", report.Checked,
		"valid", report.Valid,
		"invalid", report.Invalid,
		"errors", report.Errors)
	return report, nil
}
