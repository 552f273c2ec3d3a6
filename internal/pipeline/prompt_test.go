package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 31, 15, 4, 5, 0, time.UTC)
	got := BuildSystemPrompt("Backend engineer", "A: Go experience\nB: Cloud platforms", now)

	assert.Contains(t, got, "assume today is 2026-08-31")
	assert.Contains(t, got, "Evaluation criteria for the profile Backend engineer:")
	assert.Contains(t, got, "A: Go experience\nB: Cloud platforms")
	assert.Contains(t, got, `"cvScore"`)
	assert.True(t, len(got) > 0 && got[len(got)-len("This is the CV:\n"):] == "This is the CV:\n")
}
