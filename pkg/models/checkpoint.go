package models

import "time"

// CheckpointPhase represents the current phase of a run
type CheckpointPhase string

const (
	PhasePlanning   CheckpointPhase = "planning"
	PhaseGenerating CheckpointPhase = "generating"
	PhaseStopped    CheckpointPhase = "stopped"
	PhaseComplete   CheckpointPhase = "complete"
)

// TopicProgress records how far a run got for one topic
type TopicProgress struct {
	TopicID   int64  `json:"topic_id"`
	TopicName string `json:"topic_name"`
	Quota     int    `json:"quota"`
	Existing  int    `json:"existing"`
	Accepted  int    `json:"accepted"`
	Skipped   int    `json:"skipped"`
	Done      bool   `json:"done"`
}

// Checkpoint represents the saved state of a generation session
type Checkpoint struct {
	// Session identification
	SessionID   string    `json:"session_id"`    // UUID for this session
	CreatedAt   time.Time `json:"created_at"`    // When session started
	LastSavedAt time.Time `json:"last_saved_at"` // Last checkpoint time

	CurrentPhase CheckpointPhase `json:"current_phase"`

	// Run parameters
	CourseID    string   `json:"course_id"`
	ItemType    ItemType `json:"item_type"`
	TargetTotal int      `json:"target_total"`

	// Quota plan outcome
	MainTotal       int `json:"main_total"`
	ZeroWeightExtra int `json:"zero_weight_extra"`

	Topics []TopicProgress `json:"topics"`

	// Statistics (cumulative)
	Stats SessionStats `json:"stats"`

	// Configuration snapshot (for validation)
	ConfigHash string `json:"config_hash"`
}

// Topic returns the progress entry for topicID, or nil
func (c *Checkpoint) Topic(topicID int64) *TopicProgress {
	for i := range c.Topics {
		if c.Topics[i].TopicID == topicID {
			return &c.Topics[i]
		}
	}
	return nil
}
