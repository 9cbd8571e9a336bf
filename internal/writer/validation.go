package writer

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	sessionPrefix = "session_"
	sessionLayout = "2006-01-02T15-04-05"
)

var sessionNameRegex = regexp.MustCompile(`^session_\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}$`)

// ErrInvalidSessionName is wrapped by every ValidateSessionPath failure
var ErrInvalidSessionName = errors.New("invalid session name")

// SessionName returns the directory name of a session started at t
func SessionName(t time.Time) string {
	return sessionPrefix + t.Format(sessionLayout)
}

// ValidateSessionPath accepts only a bare session directory name
// (session_YYYY-MM-DDTHH-MM-SS) that resolves inside outputDir.
func ValidateSessionPath(outputDir, sessionName string) error {
	switch {
	case sessionName == "":
		return fmt.Errorf("%w: cannot be empty", ErrInvalidSessionName)
	case strings.Contains(sessionName, ".."):
		return fmt.Errorf("%w: contains '..' (path traversal)", ErrInvalidSessionName)
	case strings.ContainsAny(sessionName, `/\`):
		return fmt.Errorf("%w: path separators are not allowed", ErrInvalidSessionName)
	case filepath.IsAbs(sessionName):
		return fmt.Errorf("%w: must be relative", ErrInvalidSessionName)
	case !sessionNameRegex.MatchString(sessionName):
		return fmt.Errorf("%w: expected %sYYYY-MM-DDTHH-MM-SS, got %q", ErrInvalidSessionName, sessionPrefix, sessionName)
	}

	root, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	target, err := filepath.Abs(filepath.Join(outputDir, sessionName))
	if err != nil {
		return fmt.Errorf("failed to resolve session path: %w", err)
	}
	// trailing separator so "/out" does not admit "/out-other"
	if !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return fmt.Errorf("%w: escapes output directory", ErrInvalidSessionName)
	}
	return nil
}
