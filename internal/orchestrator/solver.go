package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/util"
	"github.com/lamim/examforge/internal/validation"
	"github.com/lamim/examforge/pkg/models"
)

// SolveReport summarizes a reference-solution backfill
type SolveReport struct {
	Total           int  `json:"total"`            // reference items in scope
	AlreadyComplete int  `json:"already_complete"` // had answer and explanation before the run
	Solved          int  `json:"solved"`           // completed by this run
	Failed          int  `json:"failed"`           // call, parse or storage failures
	Stopped         bool `json:"stopped"`
}

// solution is the solver's reply; answers arrive as strings, numbers or lists
type solution struct {
	Answer      models.FlexString `json:"answer"`
	Explanation string            `json:"explanation"`
}

// SolveMissing fills in answer and explanation for reference items that lack
// them, one request per item. Only those two fields are written. A failure on
// one item is counted and the batch continues.
func (o *Orchestrator) SolveMissing(ctx context.Context, topicIDs []int64) (*SolveReport, error) {
	if o.clients.Solver == nil {
		return nil, errors.New("no solver client configured")
	}

	total, err := o.store.CountReferenceItems(ctx, topicIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count reference items: %w", err)
	}
	pending, err := o.store.QueryItemsNeedingSolutions(ctx, topicIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference items: %w", err)
	}

	report := &SolveReport{Total: total, AlreadyComplete: total - len(pending)}
	o.logger.Info("Starting solution backfill",
		"reference_items", total,
		"already_complete", report.AlreadyComplete,
		"to_solve", len(pending))
	o.emit(models.ProgressEvent{Stage: models.StagePlanning, Target: len(pending),
		Message: fmt.Sprintf("%d of %d reference items need solutions", len(pending), total)})

	for i, ref := range pending {
		if err := o.control.Checkpoint(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				report.Stopped = true
				break
			}
			return report, err
		}

		started := o.now()
		fields, err := o.solveOne(ctx, ref)
		if err == nil {
			if err = o.store.UpdateSolution(ctx, ref.ID, fields); err != nil {
				err = fmt.Errorf("failed to store solution: %w", err)
			}
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if err != nil {
			report.Failed++
			o.metrics.IncrementGeneration("solve", "failed")
			o.logger.Warn("Failed to solve reference item", "id", ref.ID, "error", err)
			o.emit(models.ProgressEvent{Stage: models.StageRejected, TopicID: ref.TopicID, ItemIndex: i + 1,
				ItemTotal: len(pending), Accepted: report.Solved, Target: len(pending), Message: err.Error()})
		} else {
			report.Solved++
			o.metrics.IncrementGeneration("solve", "accepted")
			o.metrics.RecordItem("solve", o.elapsed(started))
			o.emit(models.ProgressEvent{Stage: models.StageSolved, TopicID: ref.TopicID, ItemIndex: i + 1,
				ItemTotal: len(pending), Accepted: report.Solved, Target: len(pending)})
		}

		if i < len(pending)-1 {
			wait := o.itemCooldown
			if err != nil {
				wait = o.failureCooldown
			}
			if err := o.sleep(ctx, wait); err != nil {
				return report, err
			}
		}
	}

	o.logger.Info("Solution backfill finished",
		"solved", report.Solved,
		"failed", report.Failed,
		"already_complete", report.AlreadyComplete,
		"stopped", report.Stopped)
	return report, nil
}

func (o *Orchestrator) solveOne(ctx context.Context, ref models.ReferenceItem) (models.SolutionFields, error) {
	t := ref.Type
	if t == "" {
		t = o.cfg.ItemType()
	}
	var image *api.Image
	if len(ref.Image) > 0 {
		image = &api.Image{Data: ref.Image, MIMEType: ref.ImageMIME}
		if image.MIMEType == "" {
			detected, err := api.NewImage(ref.Image)
			if err != nil {
				return models.SolutionFields{}, fmt.Errorf("reference image: %w", err)
			}
			image = detected
		}
	}

	prompt, err := util.RenderTemplate(o.cfg.PromptTemplates.Solution, map[string]interface{}{
		"Statement": ref.Statement,
		"ItemType":  string(t),
		"Options":   ref.Options,
		"Letters":   validation.Letters(len(ref.Options)),
		"HasImage":  image != nil,
	})
	if err != nil {
		return models.SolutionFields{}, fmt.Errorf("failed to render solution template: %w", err)
	}

	mc := o.cfg.Model(config.RoleSolver)
	callCtx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()
	raw, err := o.clients.Solver.Complete(callCtx, api.CompletionRequest{
		System:      o.cfg.PromptTemplates.SolutionSystem,
		Prompt:      prompt,
		Image:       image,
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxOutputTokens,
	})
	if err != nil {
		return models.SolutionFields{}, fmt.Errorf("solver call failed: %w", err)
	}

	var sol solution
	if err := util.ParseInto(raw, util.ShapeObject, &sol); err != nil {
		return models.SolutionFields{}, err
	}
	fields := models.SolutionFields{
		Answer:      strings.TrimSpace(sol.Answer.String()),
		Explanation: strings.TrimSpace(sol.Explanation),
	}
	if fields.Answer == "" || fields.Explanation == "" {
		return models.SolutionFields{}, errors.New("solver returned an empty answer or explanation")
	}
	return fields, nil
}
