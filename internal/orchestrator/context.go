package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lamim/examforge/internal/util"
	"github.com/lamim/examforge/internal/validation"
	"github.com/lamim/examforge/pkg/models"
)

// exclusionList is the anti-repetition context for one (topic, item type):
// statements of accepted items, newest first.
type exclusionList struct {
	statements []string
	seen       map[string]bool
	maxSize    int
}

func newExclusionList(accepted []models.PersistedItem, maxSize int) *exclusionList {
	l := &exclusionList{
		statements: make([]string, 0, len(accepted)),
		seen:       make(map[string]bool, len(accepted)),
		maxSize:    maxSize,
	}
	// accepted arrives newest first
	for _, it := range accepted {
		key := normalizeStatement(it.Statement)
		if key == "" || l.seen[key] {
			continue
		}
		l.seen[key] = true
		l.statements = append(l.statements, strings.TrimSpace(it.Statement))
	}
	return l
}

// Add prepends a newly accepted statement
func (l *exclusionList) Add(statement string) {
	key := normalizeStatement(statement)
	if key == "" {
		return
	}
	l.seen[key] = true
	l.statements = append([]string{strings.TrimSpace(statement)}, l.statements...)
}

// Contains reports whether statement repeats an accepted item
func (l *exclusionList) Contains(statement string) bool {
	return l.seen[normalizeStatement(statement)]
}

// Len returns the number of statements held
func (l *exclusionList) Len() int {
	return len(l.statements)
}

// Block renders the newest statements as a numbered list for the prompt
func (l *exclusionList) Block() string {
	items, _ := truncateExclusionList(l.statements, l.maxSize)
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, util.TruncateString(s, 400))
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncateExclusionList keeps the first maxSize items, which are the newest.
// maxSize <= 0 disables the list.
func truncateExclusionList(items []string, maxSize int) ([]string, bool) {
	if maxSize <= 0 {
		return nil, len(items) > 0
	}
	if len(items) <= maxSize {
		return items, false
	}
	return items[:maxSize], true
}

// normalizeStatement folds case and whitespace so trivially reworded copies collide
func normalizeStatement(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// referenceBlock renders reference items (PYQs) as inspiration for the prompt
func referenceBlock(refs []models.ReferenceItem) string {
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range refs {
		fmt.Fprintf(&b, "%d. ", i+1)
		if r.Year > 0 {
			fmt.Fprintf(&b, "[%d] ", r.Year)
		}
		b.WriteString(util.TruncateString(strings.TrimSpace(r.Statement), 600))
		b.WriteString("\n")
		for j, o := range r.Options {
			fmt.Fprintf(&b, "   %s. %s\n", validation.Letter(j), o)
		}
		if r.Answer != "" {
			fmt.Fprintf(&b, "   Answer: %s\n", r.Answer)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
