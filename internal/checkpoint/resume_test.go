package checkpoint

import (
	"testing"

	"github.com/lamim/examforge/pkg/models"
)

func TestValidateCheckpoint(t *testing.T) {
	cfg := testConfig(true, 10)

	cp := &models.Checkpoint{
		ConfigHash:   computeConfigHash(cfg),
		CurrentPhase: models.PhaseGenerating,
	}

	if err := ValidateCheckpoint(cp, cfg); err != nil {
		t.Errorf("ValidateCheckpoint failed: %v", err)
	}

	differentCfg := testConfig(true, 10)
	differentCfg.Generation.CourseID = "JEE"
	if err := ValidateCheckpoint(cp, differentCfg); err == nil {
		t.Error("ValidateCheckpoint should fail with mismatched config")
	}

	cpComplete := &models.Checkpoint{
		ConfigHash:   computeConfigHash(cfg),
		CurrentPhase: models.PhaseComplete,
	}
	if err := ValidateCheckpoint(cpComplete, cfg); err == nil {
		t.Error("ValidateCheckpoint should fail for complete checkpoint")
	}
}

func TestGetPendingTopics(t *testing.T) {
	cp := &models.Checkpoint{
		Topics: []models.TopicProgress{
			{TopicID: 1, Done: true},
			{TopicID: 2},
			{TopicID: 3},
		},
	}

	pending := GetPendingTopics(cp)
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending topics, got %d", len(pending))
	}
	if pending[0].TopicID != 2 || pending[1].TopicID != 3 {
		t.Errorf("unexpected pending topics %+v", pending)
	}
}

func TestGetProgressPercentage(t *testing.T) {
	tests := []struct {
		name     string
		topics   []models.TopicProgress
		expected float64
	}{
		{
			name:     "no topics",
			expected: 0,
		},
		{
			name: "half done",
			topics: []models.TopicProgress{
				{Quota: 10, Existing: 2, Accepted: 4},
			},
			expected: 50,
		},
		{
			name: "already satisfied topics do not count",
			topics: []models.TopicProgress{
				{Quota: 3, Existing: 5},
				{Quota: 4, Accepted: 4},
			},
			expected: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetProgressPercentage(&models.Checkpoint{Topics: tt.topics})
			if got != tt.expected {
				t.Errorf("Expected %.1f%%, got %.1f%%", tt.expected, got)
			}
		})
	}
}

func TestGetCompletedAndTotalCount(t *testing.T) {
	cp := &models.Checkpoint{
		Topics: []models.TopicProgress{
			{Quota: 15, Existing: 2, Accepted: 5},
			{Quota: 9, Accepted: 9, Done: true},
		},
	}

	if got := GetCompletedCount(cp); got != 14 {
		t.Errorf("GetCompletedCount() = %d, want 14", got)
	}
	if got := GetTotalCount(cp); got != 22 {
		t.Errorf("GetTotalCount() = %d, want 22", got)
	}
}
