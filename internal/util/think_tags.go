package util

import (
	"regexp"
	"strings"
)

// Matches various think/reasoning tag formats, including the Chinese variant some models use
var thinkTagRegex = regexp.MustCompile(`(?i)<(think(?:ing)?|思考)>[\s\S]*?</(?:think(?:ing)?|思考)>`)

// StripThinkTags removes reasoning blocks that some models emit before their answer
func StripThinkTags(response string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(response, ""))
}
