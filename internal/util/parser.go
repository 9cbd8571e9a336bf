package util

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Shape is the top-level JSON kind a caller expects
type Shape int

const (
	ShapeArray Shape = iota
	ShapeObject
)

func (s Shape) String() string {
	if s == ShapeObject {
		return "object"
	}
	return "array"
}

func (s Shape) brackets() (byte, byte) {
	if s == ShapeObject {
		return '{', '}'
	}
	return '[', ']'
}

var (
	arraySpanRegex  = regexp.MustCompile(`\[[\s\S]*\]`)
	objectSpanRegex = regexp.MustCompile(`\{[\s\S]*\}`)
	unicodeEscRegex = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)
	punctSpaceRegex = regexp.MustCompile(`\s*([:,{}\[\]])\s*`)
)

func (s Shape) spanRegex() *regexp.Regexp {
	if s == ShapeObject {
		return objectSpanRegex
	}
	return arraySpanRegex
}

// ParseError is returned when every extraction strategy fails.
// It never carries the raw model output.
type ParseError struct {
	Shape      Shape
	Strategies int
	Reasons    []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not extract JSON %s after %d strategies: %s",
		e.Shape, e.Strategies, strings.Join(e.Reasons, "; "))
}

// IsParseError reports whether err came from a failed extraction
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

type parseStrategy struct {
	name string
	run  func(raw string, shape Shape) (string, error)
}

// Order matters: cheap, faithful strategies first, lossy ones last.
var parseStrategies = []parseStrategy{
	{"regex", regexStrategy},
	{"tail", tailStrategy},
	{"slice", sliceStrategy},
	{"aggressive", aggressiveStrategy},
	{"rebuild", rebuildStrategy},
	{"balance", balanceStrategy},
}

// Parse extracts a JSON value of the given shape from free-form model output.
// The returned message is compact, valid JSON.
func Parse(raw string, shape Shape) (json.RawMessage, error) {
	text := StripThinkTags(raw)
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Shape: shape, Strategies: 0, Reasons: []string{"empty response"}}
	}

	reasons := make([]string, 0, len(parseStrategies))
	for _, st := range parseStrategies {
		candidate, err := st.run(text, shape)
		if err == nil {
			var msg json.RawMessage
			msg, err = decodeShape(candidate, shape)
			if err == nil {
				return msg, nil
			}
		}
		reasons = append(reasons, st.name+": "+err.Error())
	}

	return nil, &ParseError{Shape: shape, Strategies: len(parseStrategies), Reasons: reasons}
}

// ParseInto extracts a JSON value of the given shape and decodes it into v
func ParseInto(raw string, shape Shape, v any) error {
	msg, err := Parse(raw, shape)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return fmt.Errorf("decode %s: %w", shape, err)
	}
	return nil
}

func decodeShape(candidate string, shape Shape) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, describeJSONError(err)
	}

	switch v.(type) {
	case []any:
		if shape != ShapeArray {
			return nil, errors.New("found array, want object")
		}
	case map[string]any:
		if shape != ShapeObject {
			return nil, errors.New("found object, want array")
		}
	default:
		return nil, fmt.Errorf("found scalar, want %s", shape)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(candidate)); err != nil {
		return nil, describeJSONError(err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// describeJSONError keeps error text free of input excerpts
func describeJSONError(err error) error {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return fmt.Errorf("syntax error at offset %d", syn.Offset)
	}
	return errors.New("invalid JSON")
}

func errNoSpan(shape Shape) error {
	return fmt.Errorf("no %s found", shape)
}

// sanitizeSpan leaves a span that already parses untouched; sanitizing
// collapses whitespace inside string values
func sanitizeSpan(span string) string {
	if json.Valid([]byte(span)) {
		return span
	}
	return SanitizeJSON(span)
}

// regexStrategy: greedy bracketed span on the raw text
func regexStrategy(raw string, shape Shape) (string, error) {
	span := shape.spanRegex().FindString(raw)
	if span == "" {
		return "", errNoSpan(shape)
	}
	return sanitizeSpan(span), nil
}

// tailStrategy: from the first opening bracket to the end, repairing truncation
func tailStrategy(raw string, shape Shape) (string, error) {
	open, _ := shape.brackets()
	start := strings.IndexByte(raw, open)
	if start < 0 {
		return "", errNoSpan(shape)
	}
	tail := raw[start:]
	if json.Valid([]byte(tail)) {
		return tail, nil
	}
	return RepairJSON(SanitizeJSON(tail)), nil
}

// sliceStrategy: cut first-open..last-close, then sanitize the span
func sliceStrategy(raw string, shape Shape) (string, error) {
	span, err := sliceBrackets(raw, shape)
	if err != nil {
		return "", err
	}
	return sanitizeSpan(span), nil
}

func sliceBrackets(s string, shape Shape) (string, error) {
	open, closing := shape.brackets()
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return "", errNoSpan(shape)
	}
	return s[start : end+1], nil
}

var aggressiveTokens = []struct{ esc, token string }{
	{`\\`, "@@ESC_BACKSLASH@@"},
	{`\"`, "@@ESC_QUOTE@@"},
	{`\/`, "@@ESC_SLASH@@"},
	{`\n`, "@@ESC_N@@"},
	{`\r`, "@@ESC_R@@"},
	{`\t`, "@@ESC_T@@"},
	{`\b`, "@@ESC_B@@"},
	{`\f`, "@@ESC_F@@"},
}

// aggressiveStrategy strips everything that is not plausibly JSON text
func aggressiveStrategy(raw string, shape Shape) (string, error) {
	s := stripMarkdownFences(raw)
	for _, t := range aggressiveTokens {
		s = strings.ReplaceAll(s, t.esc, t.token)
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return ' '
		case r >= 0x80 && r <= 0x9f:
			return -1
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\u2060' || r == '\ufeff':
			return -1
		}
		return r
	}, s)
	s = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'",
		"…", "...",
	).Replace(s)
	s = whitespaceRunRegex.ReplaceAllString(s, " ")
	for _, t := range aggressiveTokens {
		s = strings.ReplaceAll(s, t.token, t.esc)
	}
	s = removeTrailingCommas(s)

	span := shape.spanRegex().FindString(s)
	if span == "" {
		return "", errNoSpan(shape)
	}
	return span, nil
}

// Private-use runes standing in for protected escapes during a rebuild
const (
	rebuildTokenBase = 0xE100
	rebuildTokenMax  = 0xF8FF
)

// rebuildStrategy protects each legal escape individually, throws away
// stray backslashes and control characters and normalizes punctuation spacing
func rebuildStrategy(raw string, shape Shape) (string, error) {
	s, err := sliceBrackets(raw, shape)
	if err != nil {
		return "", err
	}

	s = strings.Map(func(r rune) rune {
		if r >= rebuildTokenBase && r <= rebuildTokenMax {
			return -1
		}
		return r
	}, s)

	var saved []string
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		width := 0
		switch {
		case s[i] != '\\' || i+1 >= len(s):
		case strings.IndexByte(`"\\/bfnrt`, s[i+1]) >= 0:
			width = 2
		case i+5 < len(s) && unicodeEscRegex.MatchString(s[i:i+6]):
			width = 6
		}
		if width == 0 || rebuildTokenBase+len(saved) > rebuildTokenMax {
			b.WriteByte(s[i])
			continue
		}
		saved = append(saved, s[i:i+width])
		b.WriteRune(rune(rebuildTokenBase + len(saved) - 1))
		i += width - 1
	}
	s = b.String()

	s = controlCharRegex.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, `\`, "")
	s = punctSpaceRegex.ReplaceAllString(s, "$1")
	s = removeTrailingCommas(s)

	if len(saved) == 0 {
		return s, nil
	}
	var out strings.Builder
	out.Grow(len(s))
	for _, r := range s {
		if idx := int(r - rebuildTokenBase); idx >= 0 && idx < len(saved) {
			out.WriteString(saved[idx])
			continue
		}
		out.WriteRune(r)
	}
	return out.String(), nil
}

// maxBalanceSpans bounds how many balanced spans balanceStrategy inspects
const maxBalanceSpans = 64

// balanceStrategy cuts exactly one balanced value starting at the first
// opening bracket, ignoring whatever follows it. When that span is prose
// such as "[note]", later balanced spans that already parse are preferred;
// otherwise the first span is sanitized.
func balanceStrategy(raw string, shape Shape) (string, error) {
	open, closing := shape.brackets()
	first := ""
	from := 0
	for n := 0; n < maxBalanceSpans; n++ {
		i := strings.IndexByte(raw[from:], open)
		if i < 0 {
			break
		}
		start := from + i
		end := findMatchingBracket(raw, start, open, closing)
		if end < 0 {
			break
		}
		span := raw[start : end+1]
		if json.Valid([]byte(span)) {
			return span, nil
		}
		if first == "" {
			first = span
		}
		from = end + 1
	}
	if first == "" {
		if strings.IndexByte(raw, open) < 0 {
			return "", errNoSpan(shape)
		}
		return "", fmt.Errorf("unbalanced %s", shape)
	}
	return SanitizeJSON(first), nil
}
