// Package textx provides small text utilities used across the project.
package textx

import (
	"fmt"
	"regexp"
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// CollapseWhitespace folds any whitespace run into a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	nonIDChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	dashRuns   = regexp.MustCompile(`[-\s]+`)
)

// SanitizeForID turns arbitrary text into a stable lowercase dash-separated
// identifier suitable as a search index document key.
func SanitizeForID(s string) string {
	if s == "" {
		return "default-id"
	}
	s = strings.TrimSpace(nonIDChars.ReplaceAllString(s, ""))
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.ToLower(s)
	if s == "" {
		return "default-id"
	}
	return s
}

// FormatForIndex renders the analysis summary that is chunked and embedded.
// avg below zero means the aggregate score is undefined.
func FormatForIndex(candidateName, profileName, analysis string, avg float64) string {
	scoreText := "not available"
	if avg >= 0 {
		scoreText = fmt.Sprintf("%.2f%%", avg)
	}
	if candidateName == "" {
		candidateName = "name not extracted"
	}
	if profileName == "" {
		profileName = "profile not specified"
	}
	if analysis == "" {
		analysis = "analysis not available"
	}
	return strings.TrimSpace(fmt.Sprintf(
		"Candidate evaluation: %s\nProfile evaluated: %s\nAverage score: %s\n\nDetailed analysis:\n%s",
		candidateName, profileName, scoreText, analysis,
	))
}
