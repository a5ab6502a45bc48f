package llm

import (
	"regexp"
)

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// RemoveThinkTags removes <think> tags and everything in between them from a
// string. Local reasoning models emit these blocks before the answer.
func RemoveThinkTags(input string) string {
	return thinkTagRe.ReplaceAllString(input, "")
}
