package util

import (
	"encoding/json"
	"testing"
)

func TestSanitizeJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "markdown fence with language tag",
			input: "```json\n[\"a\", \"b\"]\n```",
			want:  `["a", "b"]`,
		},
		{
			name:  "unescaped newline becomes space",
			input: "[\"a\nb\"]",
			want:  `["a b"]`,
		},
		{
			name:  "tabs and carriage returns",
			input: "[\"a\r\n\tb\"]",
			want:  `["a b"]`,
		},
		{
			name:  "legal escapes survive",
			input: `["line\nbreak \"q\" \\ path\/x"]`,
			want:  `["line\nbreak \"q\" \\ path\/x"]`,
		},
		{
			name:  "smart quotes inside a string are escaped",
			input: `{"q": "He said “hi”"}`,
			want:  `{"q": "He said \"hi\""}`,
		},
		{
			name:  "smart single quotes and ellipsis",
			input: `["it’s fine…"]`,
			want:  `["it's fine..."]`,
		},
		{
			name:  "valid unicode escape kept",
			input: `["caf\u00e9"]`,
			want:  `["caf\u00e9"]`,
		},
		{
			name:  "invalid unicode escape loses backslash",
			input: `["\uZZ12 ok"]`,
			want:  `["uZZ12 ok"]`,
		},
		{
			name:  "trailing commas",
			input: `{"a": [1, 2, ], }`,
			want:  `{"a": [1, 2]}`,
		},
		{
			name:  "whitespace runs collapse",
			input: "[1,     2]",
			want:  `[1, 2]`,
		},
		{
			name:  "invalid escape loses backslash",
			input: `["Compute \alpha + \gamma"]`,
			want:  `["Compute alpha + gamma"]`,
		},
		{
			name:  "hex and octal escapes stripped",
			input: `["\x41B\101C"]`,
			want:  `["BC"]`,
		},
		{
			name:  "raw control characters",
			input: "[\"a\x00b\x7fc\"]",
			want:  `["a b c"]`,
		},
		{
			name:  "private-use runes dropped",
			input: "[\"a\ue001b\"]",
			want:  `["ab"]`,
		},
		{
			name:  "valid json unchanged",
			input: `["a", "b"]`,
			want:  `["a", "b"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeJSON(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeJSON_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"```json\n[1, 2,,]\n```",
		"````json````",
		`["a", \x41 , ]`,
		"[\"tab\there\", \"nl\nthere\"]",
		`{"q": “quoted” , "r": "x…"}`,
		`["\u12", "\\u0041", "\\\q"]`,
		"[\"\x01\x02 \x1f\"]",
		`["a \101 b", ]`,
		`["back\\", "slash\"]`,
		"\ue005[\"x\"]\ue0ff",
		`{"a": "b \ , ]"}`,
	}

	for _, in := range inputs {
		once := SanitizeJSON(in)
		twice := SanitizeJSON(once)
		if once != twice {
			t.Errorf("SanitizeJSON not idempotent for %q:\nonce:  %q\ntwice: %q", in, once, twice)
		}
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "valid json", input: `["a", "b", "c"]`},
		{name: "trailing comma in array", input: `["a", "b", "c",]`},
		{name: "multiple trailing commas", input: `["a", "b",,]`},
		{name: "trailing comma with spaces", input: `["a", "b", "c" , ]`},
		{name: "missing comma between elements", input: `["a" "b" "c"]`},
		{name: "unescaped newline in string", input: "[\"a\nb\"]"},
		{name: "truncated array", input: `["a", "b", "c"`},
		{name: "truncated inside string", input: `["a", "b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repaired := RepairJSON(tt.input)

			var arr []string
			if err := json.Unmarshal([]byte(repaired), &arr); err != nil {
				t.Errorf("RepairJSON() failed to produce valid JSON: %v\nInput: %s\nOutput: %s", err, tt.input, repaired)
			}
		})
	}
}

func TestRepairJSON_TruncatedObjects(t *testing.T) {
	tests := []string{
		`{"field1": "value1", "field2": "value2"`,
		`{"field1": {"score": 3}, "field2": {"score": 2}, "field3": {`,
		`{"answer": "B", "explanation": {"steps": ["one", "two"`,
		`{"field1": "value1", "field2": "value2",`,
		`{"field1": "value1", "field2":`,
		`[{"question": "a"} {"question": "b"}]`,
	}

	for _, input := range tests {
		repaired := RepairJSON(input)
		if !json.Valid([]byte(repaired)) {
			t.Errorf("RepairJSON(%q) = %q, not valid JSON", input, repaired)
		}
	}
}

func TestCountUnmatchedBraces(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		openChar  rune
		closeChar rune
		want      int
	}{
		{"balanced braces", `{"key": "value"}`, '{', '}', 0},
		{"one unmatched opening brace", `{"key": "value"`, '{', '}', 1},
		{"two unmatched opening braces", `{"outer": {"inner": "value"`, '{', '}', 2},
		{"braces in strings don't count", `{"key": "value with { and }"`, '{', '}', 1},
		{"escaped quotes handled correctly", `{"key": "value with \" quote"`, '{', '}', 1},
		{"array brackets", `["a", ["b", ["c"`, '[', ']', 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := countUnmatchedBraces(tt.input, tt.openChar, tt.closeChar)
			if got != tt.want {
				t.Errorf("countUnmatchedBraces() = %d, want %d\nInput: %s", got, tt.want, tt.input)
			}
		})
	}
}

func TestFindMatchingBracket(t *testing.T) {
	s := `x [1, "]", [2]] tail ]`
	if got := findMatchingBracket(s, 2, '[', ']'); got != 14 {
		t.Errorf("findMatchingBracket() = %d, want 14", got)
	}
	if got := findMatchingBracket(`[1, 2`, 0, '[', ']'); got != -1 {
		t.Errorf("findMatchingBracket() = %d, want -1", got)
	}
}
