package ai

import (
	"regexp"
	"strings"
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|forget|disregard)\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\b`),
	regexp.MustCompile(`(?i)\bact\s+as\s+(if\s+you\s+are\s+)?`),
	regexp.MustCompile(`(?i)\bpretend\s+(to\s+be|you\s+are)\b`),
	regexp.MustCompile(`(?i)\b(system|assistant|user)\s*:`),
}

var whitespace = regexp.MustCompile(`\s+`)

// Sanitize removes common prompt-injection phrases and collapses whitespace.
// The result may be empty when the input was nothing but injection text.
func Sanitize(text string) string {
	for _, p := range injectionPatterns {
		text = p.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
