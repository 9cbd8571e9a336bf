package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ItemType represents the answer format of an exam item
type ItemType string

const (
	// ItemSingleSelect has four options and exactly one correct answer
	ItemSingleSelect ItemType = "MCQ"
	// ItemMultiSelect has four options and one or more correct answers
	ItemMultiSelect ItemType = "MSQ"
	// ItemNumeric expects a numeric answer typed by the candidate
	ItemNumeric ItemType = "NAT"
	// ItemOpenEnded expects a free-form written answer
	ItemOpenEnded ItemType = "SUBJECTIVE"
)

var itemTypeAliases = map[string]ItemType{
	"mcq":           ItemSingleSelect,
	"single_select": ItemSingleSelect,
	"single-select": ItemSingleSelect,
	"msq":           ItemMultiSelect,
	"multi_select":  ItemMultiSelect,
	"multi-select":  ItemMultiSelect,
	"nat":           ItemNumeric,
	"numeric":       ItemNumeric,
	"subjective":    ItemOpenEnded,
	"open_ended":    ItemOpenEnded,
	"open-ended":    ItemOpenEnded,
}

// ParseItemType resolves a canonical item type or one of its aliases (case-insensitive)
func ParseItemType(s string) (ItemType, error) {
	t, ok := itemTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown item type %q", s)
	}
	return t, nil
}

// HasOptions reports whether items of this type carry a fixed option list
func (t ItemType) HasOptions() bool {
	return t == ItemSingleSelect || t == ItemMultiSelect
}

// Valid reports whether t is one of the canonical item types
func (t ItemType) Valid() bool {
	switch t {
	case ItemSingleSelect, ItemMultiSelect, ItemNumeric, ItemOpenEnded:
		return true
	}
	return false
}

// FlexString accepts a JSON string, number, bool or array of those.
// LLMs are inconsistent about how they encode answers ("B", 2.5, ["A","C"]).
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case '[':
		var parts []FlexString
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		strs := make([]string, 0, len(parts))
		for _, p := range parts {
			strs = append(strs, string(p))
		}
		*f = FlexString(strings.Join(strs, ","))
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*f = FlexString(strconv.FormatBool(b))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported answer value %s", truncate(string(data), 40))
		}
		*f = FlexString(n.String())
	}
	return nil
}

// String returns the plain string value
func (f FlexString) String() string { return string(f) }

// CandidateItem is an exam item as emitted by the model, before persistence
type CandidateItem struct {
	Statement      string     `json:"question"`
	Type           ItemType   `json:"type"`
	Options        []string   `json:"options,omitempty"`
	Answer         FlexString `json:"answer"`
	Explanation    string     `json:"explanation"`
	FlaggedInvalid bool       `json:"is_invalid,omitempty"`
	InvalidReason  string     `json:"invalid_reason,omitempty"`
}

// Scoring holds the marking scheme attached to a persisted item
type Scoring struct {
	CorrectMarks   float64 `json:"correct_marks" toml:"correct_marks"`
	IncorrectMarks float64 `json:"incorrect_marks" toml:"incorrect_marks"`
	SkippedMarks   float64 `json:"skipped_marks" toml:"skipped_marks"`
	PartialMarks   float64 `json:"partial_marks" toml:"partial_marks"`
	TimeSeconds    int     `json:"time_seconds" toml:"time_seconds"`
}

// Validation states of a persisted item
const (
	ValidationPending = "pending"
	ValidationValid   = "valid"
	ValidationInvalid = "invalid"
)

// PersistedItem is an accepted item as stored
type PersistedItem struct {
	ID      int64  `json:"id"`
	TopicID int64  `json:"topic_id"`
	Slot    string `json:"slot,omitempty"`
	Part    string `json:"part,omitempty"`
	CandidateItem
	Scoring
	ValidationStatus string    `json:"validation_status,omitempty"`
	ValidationReason string    `json:"validation_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Topic is one unit of a course, weighted by its share of the exam
type Topic struct {
	ID       int64   `json:"id"`
	CourseID string  `json:"course_id"`
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
}

// ReferenceItem is a previously published exam item (PYQ) used as inspiration.
// Its answer and explanation may be missing until backfilled.
type ReferenceItem struct {
	ID          int64    `json:"id"`
	TopicID     int64    `json:"topic_id"`
	Statement   string   `json:"question"`
	Type        ItemType `json:"type"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Year        int      `json:"year,omitempty"`
	Image       []byte   `json:"-"`
	ImageMIME   string   `json:"-"`
}

// NeedsSolution reports whether the answer or explanation is still missing
func (r ReferenceItem) NeedsSolution() bool {
	return strings.TrimSpace(r.Answer) == "" || strings.TrimSpace(r.Explanation) == ""
}

// SolutionFields are the only fields the backfill pass writes
type SolutionFields struct {
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
}

// GenerationTarget is the per-topic plan for a generation run
type GenerationTarget struct {
	TopicID   int64   `json:"topic_id"`
	TopicName string  `json:"topic_name"`
	Weight    float64 `json:"weight"`
	Quota     int     `json:"quota"`
	Existing  int     `json:"existing"`
	Remaining int     `json:"remaining"`
}

// RetryState tracks the attempts spent on a single item
type RetryState struct {
	Attempt     int
	MaxAttempts int
	LastFailure string
}

// Exhausted reports whether no attempts are left
func (r RetryState) Exhausted() bool {
	return r.Attempt >= r.MaxAttempts
}

// Derivation is an independently derived solution used for semantic checks
type Derivation struct {
	CorrectOptions []string   `json:"correct_options"`
	Answer         FlexString `json:"answer"`
	Reasoning      string     `json:"reasoning"`
}

// Verdict is the outcome of validating an item
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// SessionStats tracks statistics for a generation session
type SessionStats struct {
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	TopicsPlanned   int           `json:"topics_planned"`
	TopicsCompleted int           `json:"topics_completed"`
	TopicsFailed    int           `json:"topics_failed"` // topics skipped because storage could not be read
	ItemsTarget     int           `json:"items_target"`
	AcceptedCount   int           `json:"accepted_count"`
	RejectedCount   int           `json:"rejected_count"` // attempts rejected by parsing or validation
	SkippedCount    int           `json:"skipped_count"`  // items abandoned after exhausting attempts
	Stopped         bool          `json:"stopped"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
