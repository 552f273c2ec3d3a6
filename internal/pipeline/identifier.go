// Package pipeline contains the orchestration state machine and the pure
// stages of the candidate document pipeline.
package pipeline

import "strings"

// ParseItemName derives (rankID, candidateID) from an item key such as
// "intake/r1_c1.pdf". The base name without extension is split on "_":
// first token is the rank id, second the candidate id. A missing token
// yields the empty string; this function never fails. The orchestrator
// treats either id being empty as a fatal identification failure because no
// destination key can be derived for compensation.
func ParseItemName(key string) (rankID, candidateID string) {
	name := key
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	parts := strings.Split(name, "_")
	if len(parts) > 0 {
		rankID = parts[0]
	}
	if len(parts) > 1 {
		candidateID = parts[1]
	}
	return rankID, candidateID
}
