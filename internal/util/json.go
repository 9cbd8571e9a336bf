package util

import (
	"regexp"
	"strings"
)

// Precompiled regex patterns for performance (compiled once at package init)
var (
	markdownFenceRegex  = regexp.MustCompile("```[A-Za-z0-9_+-]*")
	trailingCommaRegex  = regexp.MustCompile(`,\s*([}\]])`)
	duplicateCommaRegex = regexp.MustCompile(`,(\s*,)+`)
	whitespaceRunRegex  = regexp.MustCompile(`\s+`)
	controlCharRegex    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// Placeholder runes live in a private-use block so they can never be
// confused with model output. Any such runes already present are dropped.
const (
	placeholderLow  = 0xE000
	placeholderHigh = 0xE0FF
	unicodePrefix   = rune(0xE010) // stands in for a validated `\u`
)

// escapeChars[i] is protected as placeholderLow+1+i.
const escapeChars = "nrtfb\"\\/"

// SanitizeJSON cleans typical LLM damage out of text that should be JSON.
// The result is a fixed point: SanitizeJSON(SanitizeJSON(s)) == SanitizeJSON(s).
// It does not guarantee the output parses.
func SanitizeJSON(s string) string {
	s = sanitizePass(s)
	// After the first pass nothing introduces control characters or
	// typographic quotes, so every further change shrinks the string.
	for {
		next := sanitizePass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func sanitizePass(s string) string {
	s = dropPlaceholderRunes(s)
	s = stripMarkdownFences(s)
	s = protectEscapes(s)
	s = replaceControlChars(s)
	s = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)
	s = restoreEscapes(s)
	s = normalizeQuotes(s)
	s = protectUnicodeEscapes(s)
	s = removeTrailingCommas(s)
	s = whitespaceRunRegex.ReplaceAllString(s, " ")
	s = dropInvalidEscapes(s)
	s = controlCharRegex.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, string(unicodePrefix), `\u`)
	return strings.TrimSpace(s)
}

func dropPlaceholderRunes(s string) string {
	if !strings.ContainsFunc(s, isPlaceholderRune) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isPlaceholderRune(r) {
			return -1
		}
		return r
	}, s)
}

func isPlaceholderRune(r rune) bool {
	return r >= placeholderLow && r <= placeholderHigh
}

func stripMarkdownFences(s string) string {
	for markdownFenceRegex.MatchString(s) {
		s = markdownFenceRegex.ReplaceAllString(s, "")
	}
	return s
}

// protectEscapes swaps legal two-character escapes for placeholder runes.
// Pairs are consumed left to right so `\\n` stays an escaped backslash.
func protectEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			if idx := strings.IndexByte(escapeChars, s[i+1]); idx >= 0 {
				b.WriteRune(rune(placeholderLow + 1 + idx))
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func restoreEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if idx := int(r - placeholderLow - 1); idx >= 0 && idx < len(escapeChars) {
			b.WriteByte('\\')
			b.WriteByte(escapeChars[idx])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func replaceControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 0x20 && r != '\n' && r != '\r' && r != '\t') || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}

// normalizeQuotes maps typographic quotes to ASCII. A smart double quote
// inside a JSON string is escaped so it cannot terminate the string.
func normalizeQuotes(s string) string {
	if !strings.ContainsAny(s, "‘’‚‛“”„‟…") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		switch r {
		case '“', '”', '„', '‟':
			switch {
			case escaped:
				b.WriteByte('"')
				escaped = false
			case inString:
				b.WriteString(`\"`)
			default:
				b.WriteByte('"')
				inString = true
			}
			continue
		case '‘', '’', '‚', '‛':
			b.WriteByte('\'')
			escaped = false
			continue
		case '…':
			b.WriteString("...")
			escaped = false
			continue
		}

		b.WriteRune(r)
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		}
	}
	return b.String()
}

// protectUnicodeEscapes keeps `\u` only when exactly four hex digits follow.
func protectUnicodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		next := s[i+1]
		if next != 'u' {
			b.WriteByte(s[i])
			b.WriteByte(next)
			i++
			continue
		}
		if i+6 <= len(s) && isHex(s[i+2:i+6]) {
			b.WriteRune(unicodePrefix)
			b.WriteString(s[i+2 : i+6])
			i += 5
			continue
		}
		b.WriteByte('u')
		i++
	}
	return b.String()
}

func removeTrailingCommas(s string) string {
	for trailingCommaRegex.MatchString(s) {
		s = trailingCommaRegex.ReplaceAllString(s, "$1")
	}
	return s
}

// dropInvalidEscapes removes the backslash of any escape JSON does not
// allow and strips hex (\xHH) and octal (\NNN) escapes entirely.
func dropInvalidEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			break
		}
		next := s[i+1]
		switch {
		case strings.IndexByte(`"\/bfnrtu`, next) >= 0:
			b.WriteByte('\\')
			b.WriteByte(next)
			i++
		case next == 'x' && i+4 <= len(s) && isHex(s[i+2:i+4]):
			i += 3
		case i+4 <= len(s) && isOctal(s[i+1:i+4]):
			i += 3
		}
		// Otherwise only the backslash is dropped and next is handled normally.
	}
	return b.String()
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return len(s) > 0
}

func isOctal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '7' {
			return false
		}
	}
	return len(s) > 0
}

// findMatchingBracket finds the matching closing bracket for an opening bracket
// using proper bracket matching that handles escaped quotes and strings
// Returns -1 if no matching bracket is found
func findMatchingBracket(s string, startPos int, openChar, closeChar byte) int {
	count := 0
	inString := false
	escaped := false

	for i := startPos; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}

		// Only count brackets outside of strings
		if !inString {
			if ch == openChar {
				count++
			} else if ch == closeChar {
				count--
				if count == 0 {
					return i
				}
			}
		}
	}

	return -1
}

// countUnmatchedBraces counts opening brackets of one kind that are never closed.
// Brackets inside strings are ignored.
func countUnmatchedBraces(s string, openChar, closeChar rune) int {
	count := 0
	inString := false
	escaped := false
	for _, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == openChar:
			count++
		case ch == closeChar && count > 0:
			count--
		}
	}
	return count
}

// RepairJSON fixes structural damage typical of truncated or sloppy output:
// raw newlines in strings, duplicate and trailing commas, missing commas
// between adjacent values and unclosed strings, arrays and objects.
func RepairJSON(s string) string {
	s = escapeNewlinesInStrings(strings.TrimSpace(s))
	s = duplicateCommaRegex.ReplaceAllString(s, ",")
	s = removeTrailingCommas(s)
	s = insertMissingCommas(s)
	return closeTruncated(s)
}

// escapeNewlinesInStrings replaces literal newlines inside strings with \n
func escapeNewlinesInStrings(s string) string {
	var result strings.Builder
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' {
			result.WriteByte(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			result.WriteByte(ch)
			inString = !inString
			continue
		}

		if inString && (ch == '\n' || ch == '\r') {
			result.WriteString("\\n")
			// Skip \r if followed by \n
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}

		result.WriteByte(ch)
	}

	return result.String()
}

// insertMissingCommas adds a comma where one value ends and another begins
// with only whitespace between them, e.g. `"a" "b"` or `} {`.
func insertMissingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString := false
	escaped := false
	valueEnded := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
				valueEnded = true
			}
			continue
		}

		switch ch {
		case ' ', '\n', '\r', '\t':
			b.WriteByte(ch)
			continue
		case '"', '{', '[':
			if valueEnded {
				b.WriteByte(',')
			}
			valueEnded = false
			inString = ch == '"'
		case '}', ']':
			valueEnded = true
		default:
			valueEnded = false
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// closeTruncated terminates an unfinished string and appends the closers for
// every bracket still open, innermost first.
func closeTruncated(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		if escaped {
			s = s[:len(s)-1]
		}
		s += `"`
	}
	if len(stack) == 0 {
		return s
	}

	s = strings.TrimRight(s, " \n\r\t,")
	if strings.HasSuffix(s, ":") {
		s += "null"
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
