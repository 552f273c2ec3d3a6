package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels). Stage adapters classify every failure into one
// of these before it reaches the orchestrator.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrIdentification   = errors.New("identification error")
	ErrTransientService = errors.New("transient service error")
	ErrAuthentication   = errors.New("authentication failed")
	ErrNoContent        = errors.New("no content extracted")
	ErrMalformedInput   = errors.New("malformed input")
	ErrSchemaInvalid    = errors.New("schema invalid")
	ErrCalculation      = errors.New("calculation error")
	ErrPublish          = errors.New("publish error")
	ErrAPI              = errors.New("api error")
	ErrNotFound         = errors.New("not found")
)

// RateLimitError signals an upstream throttle. Hint, when non-zero, is the
// server-supplied retry-after and takes precedence over computed backoff.
type RateLimitError struct {
	Hint time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Hint > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.Hint)
	}
	return "rate limited"
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError and
// returns the server hint if present.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Hint, true
	}
	return 0, false
}

// Stage identifies one pipeline step.
type Stage string

// Pipeline stages in execution order.
const (
	StageIdentify      Stage = "identify"
	StageLookupContext Stage = "lookup_context"
	StageExtractText   Stage = "extract_text"
	StageAnalyze       Stage = "analyze"
	StageValidate      Stage = "validate"
	StageScore         Stage = "score"
	StageEmbed         Stage = "embed"
	StagePublishIndex  Stage = "publish_index"
	StagePublishResult Stage = "publish_result"
)

// ErrorClass distinguishes failures the orchestrator may see again from ones
// it must not retry.
type ErrorClass int

// Error classes.
const (
	ClassRecoverable ErrorClass = iota
	ClassFatal
)

// StageError is the only error shape a stage returns to the orchestrator.
// Raw transport errors never escape an adapter.
type StageError struct {
	Stage  Stage
	Class  ErrorClass
	Err    error
	Detail string
}

func (e *StageError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("stage %s: %v: %s", e.Stage, e.Err, e.Detail)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a classified stage failure.
func NewStageError(stage Stage, class ErrorClass, err error, detail string) *StageError {
	return &StageError{Stage: stage, Class: class, Err: err, Detail: detail}
}

// AsStageError extracts a StageError; a nil, false result means err was not
// produced by a stage.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
