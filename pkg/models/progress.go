package models

import "time"

// Stage identifies what a progress event reports
type Stage string

const (
	StagePlanning   Stage = "planning"
	StageTopicStart Stage = "topic_start"
	StageAttempt    Stage = "attempt"
	StageAccepted   Stage = "accepted"
	StageRejected   Stage = "rejected"
	StageSkipped    Stage = "skipped"
	StageTopicDone  Stage = "topic_done"
	StagePaused     Stage = "paused"
	StageStopped    Stage = "stopped"
	StageSolved     Stage = "solved"
	StageValidated  Stage = "validated"
	StageComplete   Stage = "complete"
)

// ProgressEvent is emitted to a progress sink while a run executes
type ProgressEvent struct {
	Stage       Stage     `json:"stage"`
	TopicID     int64     `json:"topic_id,omitempty"`
	TopicName   string    `json:"topic_name,omitempty"`
	TopicIndex  int       `json:"topic_index,omitempty"`
	TopicCount  int       `json:"topic_count,omitempty"`
	ItemIndex   int       `json:"item_index,omitempty"`
	ItemTotal   int       `json:"item_total,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
	Accepted    int       `json:"accepted"`
	Target      int       `json:"target"`
	Message     string    `json:"message,omitempty"`
	Time        time.Time `json:"time"`
}
