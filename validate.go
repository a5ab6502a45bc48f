package nl2kql

import (
	"fmt"
	"strings"
)

// refusalIndicators are substrings that mark a completion as a refusal or
// apology rather than a query.
var refusalIndicators = []string{"sorry", "cannot", "unable", "error", "apologize"}

const minQueryChars = 5

// NormalizeQuery strips markdown code fences and trailing whitespace from a
// model completion and collapses runs of blank lines. The result is stable
// under repeated normalization.
func NormalizeQuery(raw string) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")

	// Drop fence lines wherever they appear so a fenced completion and a
	// bare one normalize identically.
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	out := make([]string, 0, len(kept))
	blanks := 0
	for _, line := range kept {
		if line == "" {
			blanks++
			if blanks > 2 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

// ValidateQuery rejects completions that cannot be a KQL query: too short,
// a management command, or a refusal phrased as prose.
func ValidateQuery(query string) error {
	nonWS := 0
	for _, r := range query {
		if !strings.ContainsRune(" \t\n\r", r) {
			nonWS++
		}
	}
	if nonWS < minQueryChars {
		return fmt.Errorf("completion too short to be a query (%d significant characters)", nonWS)
	}

	if strings.HasPrefix(strings.TrimSpace(query), ".") {
		return fmt.Errorf("completion is a management command, not a query")
	}

	lower := strings.ToLower(query)
	for _, indicator := range refusalIndicators {
		if strings.Contains(lower, indicator) {
			return fmt.Errorf("completion looks like a refusal (contains %q)", indicator)
		}
	}
	return nil
}
