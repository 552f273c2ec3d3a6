// Package domain defines the pipeline entities, error taxonomy and ports.
package domain

import (
	"context"
	"io"
	"time"
)

// UndefinedScore is the sentinel returned when an aggregate score cannot be
// computed (empty or invalid score map). It is never a valid average.
const UndefinedScore = float64(-1)

// StatusMessageLimit caps error detail reported to the system of record.
const StatusMessageLimit = 1000

// WorkItem is one uploaded candidate document awaiting processing.
// Identity is the source location plus the ids derived from the item name.
// Immutable once read; it exists until a terminal disposition (deleted or
// moved to the error area).
type WorkItem struct {
	Container string
	Key       string
	Size      int64

	RankID      string
	CandidateID string
}

// Name returns the base file name of the item key.
func (w WorkItem) Name() string {
	for i := len(w.Key) - 1; i >= 0; i-- {
		if w.Key[i] == '/' {
			return w.Key[i+1:]
		}
	}
	return w.Key
}

// EvaluationContext is the profile and criteria fetched for a rank.
type EvaluationContext struct {
	ProfileDescription string
	CriteriaText       string
}

// AnalysisPayload is the validated output of the completion analysis.
// ScoreMap is all-or-nothing: a single invalid entry invalidates the whole
// map. CandidateName and AnalysisText degrade independently to empty.
type AnalysisPayload struct {
	CandidateName string         `json:"nameCandidate"`
	AnalysisText  string         `json:"cvAnalysis"`
	ScoreMap      map[string]int `json:"cvScore"`
}

// PartialResultRecord is a durable snapshot written when a failure occurs
// after the completion call succeeded, so a retry never re-pays for the
// completion. Write-once per (rank, candidate, stage); superseded on retry.
type PartialResultRecord struct {
	RankID             string    `json:"rankId"`
	CandidateID        string    `json:"candidateId"`
	FailedStage        string    `json:"failedStage"`
	ProfileDescription string    `json:"profileDescription"`
	CriteriaText       string    `json:"criteriaText"`
	ExtractedText      string    `json:"extractedText"`
	RawAnalysis        string    `json:"rawAnalysis"`
	FailureKind        string    `json:"failureKind"`
	Detail             string    `json:"detail"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Disposition is the terminal tag of one orchestrator run.
type Disposition string

// Terminal dispositions. Exactly one occurs per WorkItem run.
const (
	// DispositionSuccess: source deleted, system of record updated clean.
	DispositionSuccess Disposition = "success"
	// DispositionEarlyFailure: no completion cost paid; source moved to the
	// error area, no partial record.
	DispositionEarlyFailure Disposition = "early_failure"
	// DispositionLateFailure: completion cost paid; partial record written,
	// source deleted.
	DispositionLateFailure Disposition = "late_failure"
	// DispositionAlreadyGone: source missing at run start, item was
	// terminalized by a previous delivery. Benign.
	DispositionAlreadyGone Disposition = "already_gone"
	// DispositionSkipped: item lives under the error prefix and is never
	// processed.
	DispositionSkipped Disposition = "skipped"
)

// Outcome reports how a run ended and, for failures, where and why.
type Outcome struct {
	Disposition Disposition
	Stage       Stage
	Err         error
}

// IndexDocument is one chunk document upserted into the search index.
type IndexDocument struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Vector        []float32 `json:"vector,omitempty"`
	CandidateName string    `json:"candidateName"`
	RankID        string    `json:"rankId"`
	CandidateID   string    `json:"candidateId"`
	AverageScore  float64   `json:"averageScore"`
}

// IndexResult is the per-document result of an index upsert batch.
type IndexResult struct {
	Key        string
	Succeeded  bool
	StatusCode int
	Message    string
}

// Ports. Adapters implement these against external collaborators and must
// translate every transport error into the taxonomy in errors.go.

// ObjectStore is the blob storage holding intake items, the error area and
// partial results.
type ObjectStore interface {
	Download(ctx context.Context, container, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, container, key string, r io.Reader, contentType string) error
	Delete(ctx context.Context, container, key string) error
	// Move relocates a blob within a container (copy then delete).
	Move(ctx context.Context, container, srcKey, dstKey string) error
	Exists(ctx context.Context, container, key string) (bool, error)
	List(ctx context.Context, container, prefix string) ([]ObjectInfo, error)
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// TextExtractor is the OCR/document-understanding collaborator.
type TextExtractor interface {
	Analyze(ctx context.Context, r io.Reader) (string, error)
}

// CompletionClient is the LLM completion collaborator.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder produces one vector per input chunk. Implementations must fail
// rather than return a partial vector set.
type Embedder interface {
	Embed(ctx context.Context, chunks []string) ([][]float32, error)
}

// SearchIndex upserts chunk documents by stable id.
type SearchIndex interface {
	Upsert(ctx context.Context, docs []IndexDocument) ([]IndexResult, error)
}

// RecordAPI is the external system of record.
type RecordAPI interface {
	GetContext(ctx context.Context, rankID string) (EvaluationContext, error)
	AddScores(ctx context.Context, candidateID string, scores map[string]int) error
	SaveSummary(ctx context.Context, candidateID, transcription string, score float64, analysis, candidateName string) error
	// UpdateStatus marks the candidate processed; errMsg nil means success.
	UpdateStatus(ctx context.Context, candidateID string, errMsg *string) error
}

// PartialSink persists PartialResultRecords keyed by (rank, candidate, stage).
type PartialSink interface {
	Save(ctx context.Context, rec PartialResultRecord) error
}

// TruncateDetail caps an error message for external reporting.
func TruncateDetail(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
