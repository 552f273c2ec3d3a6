package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

// ValidateAnalysis parses the raw completion output and strictly validates
// it against the fixed schema. Validation fails closed: the score map is
// all-or-nothing (one bad entry discards every entry and invalidates the
// payload), while nameCandidate and cvAnalysis degrade independently to
// empty when present with the wrong type. A malformed completion is not
// transient; callers must not retry this stage.
func ValidateAnalysis(raw string) (domain.AnalysisPayload, error) {
	var payload domain.AnalysisPayload

	if strings.TrimSpace(raw) == "" {
		return payload, fmt.Errorf("%w: empty completion output", domain.ErrSchemaInvalid)
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &root); err != nil {
		return payload, fmt.Errorf("%w: root is not a JSON object: %v", domain.ErrSchemaInvalid, err)
	}

	// Text fields: wrong type degrades to absent, never invalidates.
	if rawName, ok := root["nameCandidate"]; ok {
		var name string
		if err := json.Unmarshal(rawName, &name); err != nil {
			slog.Warn("nameCandidate has wrong type, treating as absent")
		} else {
			payload.CandidateName = name
		}
	}
	if rawAnalysis, ok := root["cvAnalysis"]; ok {
		var analysis string
		if err := json.Unmarshal(rawAnalysis, &analysis); err != nil {
			slog.Warn("cvAnalysis has wrong type, treating as absent")
		} else {
			payload.AnalysisText = analysis
		}
	}

	rawScore, ok := root["cvScore"]
	if !ok {
		return payload, fmt.Errorf("%w: cvScore missing", domain.ErrSchemaInvalid)
	}
	scores, err := validateScoreMap(rawScore)
	if err != nil {
		return payload, err
	}
	payload.ScoreMap = scores
	return payload, nil
}

// validateScoreMap enforces the all-or-nothing score contract: every key a
// single uppercase letter A-Z, every value an integer in [0,100]. Booleans
// and fractional numbers are rejected.
func validateScoreMap(raw json.RawMessage) (map[string]int, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: cvScore is not an object: %v", domain.ErrSchemaInvalid, err)
	}

	scores := make(map[string]int, len(entries))
	for key, rawVal := range entries {
		if len(key) != 1 || key[0] < 'A' || key[0] > 'Z' {
			return nil, fmt.Errorf("%w: cvScore key %q is not a single uppercase letter", domain.ErrSchemaInvalid, key)
		}
		val, err := scoreValue(rawVal)
		if err != nil {
			return nil, fmt.Errorf("%w: cvScore[%s]: %v", domain.ErrSchemaInvalid, key, err)
		}
		scores[key] = val
	}
	return scores, nil
}

func scoreValue(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	// JSON booleans are integer-like in some languages; reject them outright.
	if s == "true" || s == "false" {
		return 0, fmt.Errorf("value is a boolean, not an integer")
	}
	// json.Number happily absorbs a string token whose body is numeric, so
	// the token type must be checked first.
	if strings.HasPrefix(s, `"`) {
		return 0, fmt.Errorf("value is a string, not an integer")
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, fmt.Errorf("value is not a number")
	}
	n, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("value %s is not an integer", num)
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("value %d out of range [0,100]", n)
	}
	return int(n), nil
}
