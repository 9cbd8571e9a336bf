package util

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
)

// prompts are rendered from a handful of configured templates, so parsed
// templates are cached by source text
var templateCache sync.Map

// forbiddenAction matches template actions that call functions or pull in
// other templates; prompt templates only interpolate fields
var forbiddenAction = regexp.MustCompile(`\{\{-?\s*(call|define|template|block)\b`)

// RenderTemplate renders a prompt template. Missing keys are an error.
func RenderTemplate(tmpl string, data map[string]interface{}) (string, error) {
	t, err := parseTemplate(tmpl)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return b.String(), nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if t, ok := templateCache.Load(tmpl); ok {
		return t.(*template.Template), nil
	}

	if m := forbiddenAction.FindStringSubmatch(tmpl); m != nil {
		return nil, fmt.Errorf("template contains forbidden directive: %s", m[1])
	}
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	actual, _ := templateCache.LoadOrStore(tmpl, t)
	return actual.(*template.Template), nil
}

// ClearTemplateCache drops every cached template
func ClearTemplateCache() {
	templateCache.Clear()
}

// TruncateString cuts s to maxLen runes and appends "..." when it was longer
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
