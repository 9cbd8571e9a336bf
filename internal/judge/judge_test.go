package judge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/examforge/internal/api"
	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/util"
	"github.com/lamim/examforge/pkg/models"
)

type fakeCompleter struct {
	responses []string
	err       error
	requests  []api.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req api.CompletionRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no response queued")
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func setupTestJudge(responses ...string) (*Judge, *fakeCompleter) {
	cfg := &config.Config{
		Models: map[string]config.ModelConfig{
			config.RoleGenerator: {ModelName: "gen", Temperature: 0.7, MaxOutputTokens: 1000},
			config.RoleValidator: {ModelName: "val", Temperature: 0.1, MaxOutputTokens: 500},
		},
		PromptTemplates: config.PromptTemplates{
			Validation:       config.GetDefaultValidationTemplate(),
			ValidationSystem: "be careful",
		},
	}
	fc := &fakeCompleter{responses: responses}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(cfg, fc, logger), fc
}

func mcq(answer string) models.CandidateItem {
	return models.CandidateItem{
		Statement: "Which data structure gives O(1) average lookup?",
		Type:      models.ItemSingleSelect,
		Options:   []string{"Linked list", "Hash table", "Binary heap", "Sorted array"},
		Answer:    models.FlexString(answer),
	}
}

func TestEvaluate_Valid(t *testing.T) {
	j, fc := setupTestJudge("```json\n{\"correct_options\": [\"B\"], \"answer\": \"B\", \"reasoning\": \"hashing\"}\n```")

	v, err := j.Evaluate(context.Background(), mcq("B"))
	require.NoError(t, err)
	assert.True(t, v.Valid)

	require.Len(t, fc.requests, 1)
	req := fc.requests[0]
	assert.Equal(t, "be careful", req.System)
	assert.Equal(t, 0.1, req.Temperature)
	assert.Equal(t, 500, req.MaxTokens)
	assert.Contains(t, req.Prompt, "B. Hash table")
	assert.Contains(t, req.Prompt, "D. Sorted array")
}

func TestEvaluate_Mismatch(t *testing.T) {
	j, _ := setupTestJudge(`Sure! {"correct_options": ["B"], "reasoning": "hash tables"}`)

	v, err := j.Evaluate(context.Background(), mcq("A"))
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "stored answer is A but the correct option is B", v.Reason)
}

func TestEvaluate_MultipleCorrect(t *testing.T) {
	j, _ := setupTestJudge(`{"correct_options": ["B", "D"], "reasoning": "both"}`)

	v, err := j.Evaluate(context.Background(), mcq("B"))
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Reason, "multiple options are correct")
}

func TestEvaluate_OpenEndedSkipsModel(t *testing.T) {
	j, fc := setupTestJudge()

	v, err := j.Evaluate(context.Background(), models.CandidateItem{Statement: "Explain TCP slow start.", Type: models.ItemOpenEnded})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Empty(t, fc.requests)
}

func TestEvaluate_Numeric(t *testing.T) {
	j, fc := setupTestJudge(`<think>2^10</think>{"answer": 1024, "reasoning": "power of two"}`)

	item := models.CandidateItem{Statement: "How many bytes in a KiB?", Type: models.ItemNumeric, Answer: "1024"}
	v, err := j.Evaluate(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
	assert.NotContains(t, fc.requests[0].Prompt, "Options:")
}

func TestEvaluate_Errors(t *testing.T) {
	j, fc := setupTestJudge()
	fc.err = api.ErrContentBlocked
	_, err := j.Evaluate(context.Background(), mcq("B"))
	assert.ErrorIs(t, err, api.ErrContentBlocked)

	j, _ = setupTestJudge("I refuse to answer in JSON")
	_, err = j.Evaluate(context.Background(), mcq("B"))
	require.Error(t, err)
	assert.True(t, util.IsParseError(err))
	assert.False(t, strings.Contains(err.Error(), "refuse"))

	j, _ = setupTestJudge(`{"reasoning": "no idea"}`)
	_, err = j.Evaluate(context.Background(), mcq("B"))
	assert.ErrorContains(t, err, "neither correct_options nor answer")
}
