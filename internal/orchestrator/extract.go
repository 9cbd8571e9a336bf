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

// ExtractRequest describes source material to pull reference items from.
// Exactly one of Image and Text is expected; both may be given.
type ExtractRequest struct {
	TopicID   int64
	TopicName string
	ItemType  models.ItemType
	Image     *api.Image
	Text      string
	Year      int
}

// ExtractReport summarizes an extraction or import
type ExtractReport struct {
	Found    int      `json:"found"`
	Stored   int      `json:"stored"`
	Rejected int      `json:"rejected"`
	Reasons  []string `json:"reasons,omitempty"`
}

// referenceRecord is one reference item as read from model output or an import file
type referenceRecord struct {
	models.CandidateItem
	Year int `json:"year"`
}

// ExtractReferenceItems asks the solver model to transcribe the questions in
// an image or text, validates their structure and stores the valid ones.
func (o *Orchestrator) ExtractReferenceItems(ctx context.Context, req ExtractRequest) (*ExtractReport, error) {
	if o.clients.Solver == nil {
		return nil, errors.New("no solver client configured")
	}
	if req.Image == nil && strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("nothing to extract: provide an image or text")
	}
	if req.ItemType == "" {
		req.ItemType = o.cfg.ItemType()
	}

	prompt, err := util.RenderTemplate(o.cfg.PromptTemplates.Extraction, map[string]interface{}{
		"TopicName": req.TopicName,
		"ItemType":  string(req.ItemType),
		"Text":      req.Text,
		"HasImage":  req.Image != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render extraction template: %w", err)
	}

	mc := o.cfg.Model(config.RoleSolver)
	callCtx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()
	raw, err := o.clients.Solver.Complete(callCtx, api.CompletionRequest{
		System:      o.cfg.PromptTemplates.ExtractionSystem,
		Prompt:      prompt,
		Image:       req.Image,
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	var records []referenceRecord
	if err := util.ParseInto(raw, util.ShapeArray, &records); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	for i := range records {
		if records[i].Year == 0 {
			records[i].Year = req.Year
		}
	}

	report := o.storeReferences(ctx, req.TopicID, req.ItemType, records)
	o.logger.Info("Extraction finished",
		"topic", req.TopicName,
		"found", report.Found,
		"stored", report.Stored,
		"rejected", report.Rejected)
	return report, nil
}

// ImportReferenceItems stores reference items from a JSON document: an array
// of {"question","type","options","answer","explanation","year"} objects.
// The document goes through the same tolerant parser as model output.
func (o *Orchestrator) ImportReferenceItems(ctx context.Context, topicID int64, defaultType models.ItemType, data []byte) (*ExtractReport, error) {
	if defaultType == "" {
		defaultType = o.cfg.ItemType()
	}
	var records []referenceRecord
	if err := util.ParseInto(string(data), util.ShapeArray, &records); err != nil {
		return nil, fmt.Errorf("failed to parse import file: %w", err)
	}

	report := o.storeReferences(ctx, topicID, defaultType, records)
	o.logger.Info("Import finished",
		"topic_id", topicID,
		"found", report.Found,
		"stored", report.Stored,
		"rejected", report.Rejected)
	return report, nil
}

func (o *Orchestrator) storeReferences(ctx context.Context, topicID int64, t models.ItemType, records []referenceRecord) *ExtractReport {
	report := &ExtractReport{Found: len(records)}
	reject := func(i int, reason string) {
		report.Rejected++
		report.Reasons = append(report.Reasons, fmt.Sprintf("item %d: %s", i+1, reason))
	}

	for i, rec := range records {
		item := rec.CandidateItem
		if item.Type == "" {
			item.Type = t
		}
		if err := validation.ValidateStructure(&item); err != nil {
			reject(i, err.Error())
			continue
		}

		ref := &models.ReferenceItem{
			TopicID:     topicID,
			Statement:   item.Statement,
			Type:        item.Type,
			Options:     item.Options,
			Answer:      strings.TrimSpace(item.Answer.String()),
			Explanation: strings.TrimSpace(item.Explanation),
			Year:        rec.Year,
		}
		if _, err := o.store.InsertReferenceItem(ctx, ref); err != nil {
			o.logger.Warn("Failed to store reference item", "index", i+1, "error", err)
			reject(i, "storage failed")
			continue
		}
		report.Stored++
	}
	return report
}
