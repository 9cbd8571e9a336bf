package orchestrator

import (
	"regexp"
	"strings"
)

// refusalLead bounds how far into a reply a refusal phrase is looked for;
// a long reply that mentions one later is treated as content
const refusalLead = 300

var (
	apostrophes = strings.NewReplacer("’", "'", "‘", "'")

	refusalRE = regexp.MustCompile(`(?i)\b(` +
		`as an ai\b` +
		`|i(?:'m| am) sorry\b` +
		`|i apologi[sz]e\b` +
		`|i(?: cannot| can't| can not| won't| will not| am unable to|'m unable to| am not able to|'m not able to| don't feel comfortable)` +
		`[^.]{0,40}?\b(?:help|assist|provide|generate|create|write|comply|do that)` +
		`)`)
)

// refusalReason describes why an unparsable reply reads like a refusal,
// or returns "" when it does not
func refusalReason(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "empty response"
	}
	lead := apostrophes.Replace(text)
	if len(lead) > refusalLead {
		lead = lead[:refusalLead]
	}
	if m := refusalRE.FindString(lead); m != "" {
		return "model refused: " + strings.ToLower(m)
	}
	return ""
}
