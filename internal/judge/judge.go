// Package judge re-derives the answer of a stored item with an independent
// model call and compares it to the stored answer.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/util"
	"github.com/lamim/examforge/internal/validation"
	"github.com/lamim/examforge/pkg/models"
)

// Completer issues one completion request
type Completer interface {
	Complete(ctx context.Context, req api.CompletionRequest) (string, error)
}

// Judge handles semantic validation of exam items
type Judge struct {
	cfg    *config.Config
	client Completer
	logger *slog.Logger
}

// New creates a new judge. client should be bound to the validator model.
func New(cfg *config.Config, client Completer, logger *slog.Logger) *Judge {
	return &Judge{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "judge"),
	}
}

// Evaluate derives the answer independently and compares it with the stored one.
// Open-ended items are valid without a model call. An error means no verdict
// could be reached (call failed or output unusable); it is not a rejection.
func (j *Judge) Evaluate(ctx context.Context, item models.CandidateItem) (models.Verdict, error) {
	if item.Type == models.ItemOpenEnded {
		return models.Verdict{Valid: true}, nil
	}

	derivation, err := j.derive(ctx, item)
	if err != nil {
		return models.Verdict{}, err
	}

	verdict := validation.CompareAnswer(item, *derivation)
	if !verdict.Valid {
		j.logger.Debug("Item failed semantic check",
			"reason", verdict.Reason,
			"statement", util.TruncateString(item.Statement, 80))
	}
	return verdict, nil
}

func (j *Judge) derive(ctx context.Context, item models.CandidateItem) (*models.Derivation, error) {
	prompt, err := util.RenderTemplate(j.cfg.PromptTemplates.Validation, map[string]interface{}{
		"Statement": item.Statement,
		"ItemType":  string(item.Type),
		"Options":   item.Options,
		"Letters":   validation.Letters(len(item.Options)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render validation template: %w", err)
	}

	mc := j.cfg.Model(config.RoleValidator)
	content, err := j.client.Complete(ctx, api.CompletionRequest{
		System:      j.cfg.PromptTemplates.ValidationSystem,
		Prompt:      prompt,
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("validator call failed: %w", err)
	}

	j.logger.Debug("Received validator response", "length", len(content), "first_200_chars", util.TruncateString(content, 200))

	var d models.Derivation
	if err := util.ParseInto(content, util.ShapeObject, &d); err != nil {
		return nil, fmt.Errorf("failed to parse validator response: %w", err)
	}
	if d.CorrectOptions == nil && d.Answer == "" {
		return nil, errors.New("validator response has neither correct_options nor answer")
	}
	return &d, nil
}
