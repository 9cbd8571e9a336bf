// Package validation holds the rules an exam item must pass before it is
// stored (structural) and the comparison used by the validator workflow
// (semantic).
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lamim/examforge/pkg/models"
)

// OptionCount is the number of options a select-type item must carry
const OptionCount = 4

// Error explains why an item was rejected
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "invalid item: " + e.Reason
}

// IsValidationError reports whether err is a rejected item
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

func invalid(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// ValidateStructure applies the cheap checks every item passes before it is
// stored. It normalizes the item in place: the type becomes canonical, text
// fields are trimmed and options are dropped for numeric and open-ended items.
func ValidateStructure(item *models.CandidateItem) error {
	if item == nil {
		return invalid("no item")
	}

	item.Statement = strings.TrimSpace(item.Statement)
	if item.Statement == "" {
		return invalid("question text is empty")
	}

	t, err := models.ParseItemType(string(item.Type))
	if err != nil {
		return invalid("unrecognized question type %q", item.Type)
	}
	item.Type = t

	if !t.HasOptions() {
		item.Options = nil
		return nil
	}

	if len(item.Options) != OptionCount {
		return invalid("%s needs exactly %d options, got %d", t, OptionCount, len(item.Options))
	}
	for i, opt := range item.Options {
		item.Options[i] = strings.TrimSpace(opt)
		if item.Options[i] == "" {
			return invalid("option %s is empty", Letter(i))
		}
	}
	return nil
}

// Letter returns the option label for a zero-based index (0 -> "A")
func Letter(i int) string {
	return string(rune('A' + i))
}

// Letters returns the labels for n options
func Letters(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = Letter(i)
	}
	return out
}
