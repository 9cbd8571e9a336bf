package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const (
	// MaxCourseIDLength is the maximum allowed length for the course identifier
	MaxCourseIDLength = 200

	// MaxTagLength bounds the slot and part classification tags
	MaxTagLength = 100

	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 100

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 50 * 1024 // 50KB

	// maxMarks bounds every scoring value
	maxMarks = 100
)

// ValidateInputs checks user-controllable text that ends up in prompts,
// database rows or HTTP requests
func (c *Config) ValidateInputs() error {
	texts := []struct {
		field string
		value string
		max   int
	}{
		{"course_id", c.Generation.CourseID, MaxCourseIDLength},
		{"slot", c.Generation.Slot, MaxTagLength},
		{"part", c.Generation.Part, MaxTagLength},
	}
	for _, t := range texts {
		if err := validateText(t.value, t.max); err != nil {
			return fmt.Errorf("invalid %s: %w", t.field, err)
		}
	}

	for i, key := range c.Credentials.Keys {
		if strings.ContainsFunc(strings.TrimSpace(key), unicode.IsSpace) || containsControlChars(key) {
			return fmt.Errorf("credentials.keys[%d] contains whitespace or control characters", i)
		}
	}

	for name, mc := range c.Models {
		if err := validateModelName(mc.ModelName, name); err != nil {
			return err
		}
		// Gemini may run without a base URL override
		if mc.BaseURL == "" && mc.Provider == ProviderGemini {
			continue
		}
		if err := validateBaseURL(mc.BaseURL, name); err != nil {
			return err
		}
	}

	for key, s := range c.Scoring {
		if err := validateScoring(key, s.CorrectMarks, s.IncorrectMarks, s.SkippedMarks, s.PartialMarks, s.TimeSeconds); err != nil {
			return err
		}
	}

	return c.validateTemplateSizes()
}

// validateText enforces a length limit and rejects control characters
// other than newline, tab and carriage return
func validateText(s string, max int) error {
	if len(s) > max {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)", max, len(s))
	}
	if containsControlChars(s) {
		return fmt.Errorf("contains invalid control characters")
	}
	return nil
}

func validateCourseID(courseID string) error {
	return validateText(courseID, MaxCourseIDLength)
}

func validateModelName(modelName, configKey string) error {
	if err := validateText(modelName, MaxModelNameLength); err != nil {
		return fmt.Errorf("model '%s' name %w", configKey, err)
	}
	return nil
}

// validateBaseURL requires an absolute http(s) URL with a host
func validateBaseURL(baseURL, configKey string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("model '%s' has invalid base_url: %w", configKey, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("model '%s' base_url must use http or https scheme (got %s)", configKey, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("model '%s' base_url must have a host", configKey)
	}
	return nil
}

// validateScoring keeps a marking scheme within sane bounds: correct answers
// earn marks, wrong answers never earn more than skipped ones
func validateScoring(key string, correct, incorrect, skipped, partial float64, timeSeconds int) error {
	switch {
	case correct <= 0 || correct > maxMarks:
		return fmt.Errorf("scoring.%s.correct_marks must be in (0, %d] (got %g)", key, maxMarks, correct)
	case incorrect > skipped:
		return fmt.Errorf("scoring.%s.incorrect_marks (%g) must not exceed skipped_marks (%g)", key, incorrect, skipped)
	case incorrect < -maxMarks:
		return fmt.Errorf("scoring.%s.incorrect_marks must be at least -%d", key, maxMarks)
	case partial < 0 || partial > correct:
		return fmt.Errorf("scoring.%s.partial_marks must be between 0 and correct_marks (got %g)", key, partial)
	case timeSeconds < 0:
		return fmt.Errorf("scoring.%s.time_seconds must not be negative", key)
	}
	return nil
}

func (c *Config) validateTemplateSizes() error {
	templates := []struct {
		name  string
		value string
	}{
		{"generation", c.PromptTemplates.Generation},
		{"solution", c.PromptTemplates.Solution},
		{"validation", c.PromptTemplates.Validation},
		{"extraction", c.PromptTemplates.Extraction},
		{"generation_system_prompt", c.PromptTemplates.GenerationSystem},
		{"solution_system_prompt", c.PromptTemplates.SolutionSystem},
		{"validation_system_prompt", c.PromptTemplates.ValidationSystem},
		{"extraction_system_prompt", c.PromptTemplates.ExtractionSystem},
	}

	for _, tmpl := range templates {
		if len(tmpl.value) > MaxTemplateSize {
			return fmt.Errorf("template '%s' exceeds maximum size of %d bytes (got %d)",
				tmpl.name, MaxTemplateSize, len(tmpl.value))
		}
	}
	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
