package pipeline

import (
	"math"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

// AverageScore is the deterministic aggregate: the arithmetic mean of the
// validated score map, rounded to 2 decimals. An empty or nil map yields
// domain.UndefinedScore; the caller must surface that as a calculation
// failure rather than coerce it to zero.
func AverageScore(scores map[string]int) float64 {
	if len(scores) == 0 {
		return domain.UndefinedScore
	}
	total := 0
	for _, v := range scores {
		total += v
	}
	mean := float64(total) / float64(len(scores))
	return math.Round(mean*100) / 100
}
