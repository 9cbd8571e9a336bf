package checkpoint

import (
	"fmt"

	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/pkg/models"
)

// ValidateCheckpoint verifies checkpoint is compatible with current config
func ValidateCheckpoint(cp *models.Checkpoint, cfg *config.Config) error {
	expectedHash := computeConfigHash(cfg)
	if cp.ConfigHash != expectedHash {
		return fmt.Errorf("checkpoint config mismatch: checkpoint was created with a different course/type/target (hash: %s vs %s)", cp.ConfigHash, expectedHash)
	}

	if cp.CurrentPhase == models.PhaseComplete {
		return fmt.Errorf("checkpoint is already complete, nothing to resume")
	}

	return nil
}

// GetPendingTopics returns topics that have not been marked done
func GetPendingTopics(cp *models.Checkpoint) []models.TopicProgress {
	var pending []models.TopicProgress
	for _, tp := range cp.Topics {
		if !tp.Done {
			pending = append(pending, tp)
		}
	}
	return pending
}

// GetCompletedCount returns the number of items accepted during the session
func GetCompletedCount(cp *models.Checkpoint) int {
	n := 0
	for _, tp := range cp.Topics {
		n += tp.Accepted
	}
	return n
}

// GetTotalCount returns the number of items the session set out to generate
func GetTotalCount(cp *models.Checkpoint) int {
	n := 0
	for _, tp := range cp.Topics {
		if rem := tp.Quota - tp.Existing; rem > 0 {
			n += rem
		}
	}
	return n
}

// GetProgressPercentage returns completion percentage
func GetProgressPercentage(cp *models.Checkpoint) float64 {
	total := GetTotalCount(cp)
	if total == 0 {
		return 0.0
	}
	completed := GetCompletedCount(cp)
	return float64(completed) / float64(total) * 100.0
}
