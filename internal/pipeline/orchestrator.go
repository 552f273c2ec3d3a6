package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/observability"
	"github.com/fairyhunter13/cv-screening-pipeline/pkg/chunkx"
	"github.com/fairyhunter13/cv-screening-pipeline/pkg/textx"
)

// Orchestrator drives one WorkItem through the pipeline state machine:
//
//	Init → IdentifyItem → LookupContext → ExtractText → Analyze →
//	ValidateAndScore → (Embed → PublishIndex) → PublishResults → Done
//
// It owns all error-to-state mapping and compensation. Stages never touch
// the source item; only the orchestrator moves, deletes or preserves it.
// Every run ends in exactly one terminal disposition.
type Orchestrator struct {
	Store    domain.ObjectStore
	Records  domain.RecordAPI
	Extract  domain.TextExtractor
	Complete domain.CompletionClient
	Partials domain.PartialSink

	// Embedder and Index enable the optional indexing extension when both
	// are set.
	Embedder domain.Embedder
	Index    domain.SearchIndex
	Splitter *chunkx.Splitter

	// ErrorPrefix is the key prefix of the error area inside the intake
	// container. Items already under it are never processed.
	ErrorPrefix string

	// Now is the clock; defaults to time.Now. Tests override it.
	Now func() time.Time
}

// New constructs an Orchestrator with the required collaborators.
func New(store domain.ObjectStore, records domain.RecordAPI, extract domain.TextExtractor, complete domain.CompletionClient, partials domain.PartialSink, errorPrefix string) *Orchestrator {
	return &Orchestrator{
		Store:       store,
		Records:     records,
		Extract:     extract,
		Complete:    complete,
		Partials:    partials,
		ErrorPrefix: errorPrefix,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) indexingEnabled() bool {
	return o.Embedder != nil && o.Index != nil
}

// classFor maps a taxonomy error to the retry class reported in the outcome.
func classFor(err error) domain.ErrorClass {
	if _, ok := domain.IsRateLimited(err); ok {
		return domain.ClassRecoverable
	}
	if errors.Is(err, domain.ErrTransientService) {
		return domain.ClassRecoverable
	}
	return domain.ClassFatal
}

func stageErr(stage domain.Stage, err error) *domain.StageError {
	return domain.NewStageError(stage, classFor(err), err, "")
}

func stageDone(stage domain.Stage, err error) {
	observability.PipelineStagesTotal.WithLabelValues(string(stage), observability.StageResultLabel(err)).Inc()
}

// Run takes one item to a terminal disposition. It never returns an error:
// failures are absorbed into compensation and reported via the Outcome.
func (o *Orchestrator) Run(ctx context.Context, item domain.WorkItem) domain.Outcome {
	runID := ulid.Make().String()
	log := slog.With(
		slog.String("run_id", runID),
		slog.String("item", item.Key),
	)
	observability.PipelineItemsInFlight.Inc()
	defer observability.PipelineItemsInFlight.Dec()

	log.Info("pipeline run started", slog.Int64("size", item.Size))

	if o.ErrorPrefix != "" && strings.HasPrefix(strings.ToLower(item.Key), strings.ToLower(o.ErrorPrefix)) {
		log.Warn("ignoring item under error prefix")
		return o.terminal(domain.Outcome{Disposition: domain.DispositionSkipped})
	}

	// IdentifyItem
	rankID, candidateID := ParseItemName(item.Key)
	if rankID == "" || candidateID == "" {
		err := fmt.Errorf("%w: cannot derive rank/candidate ids from %q", domain.ErrIdentification, item.Name())
		stageDone(domain.StageIdentify, err)
		// No candidate id means no status report is possible; the move to
		// the error area is the only compensation.
		return o.earlyFailure(ctx, log, item, stageErr(domain.StageIdentify, err))
	}
	stageDone(domain.StageIdentify, nil)
	item.RankID, item.CandidateID = rankID, candidateID
	log = log.With(slog.String("rank_id", rankID), slog.String("candidate_id", candidateID))

	// Re-delivery tolerance: a source that is already gone was terminalized
	// by a previous run.
	if exists, err := o.Store.Exists(ctx, item.Container, item.Key); err == nil && !exists {
		log.Info("source item no longer present, already terminalized")
		return o.terminal(domain.Outcome{Disposition: domain.DispositionAlreadyGone})
	}

	// LookupContext
	evalCtx, err := o.Records.GetContext(ctx, rankID)
	stageDone(domain.StageLookupContext, err)
	if err != nil {
		return o.earlyFailure(ctx, log, item, stageErr(domain.StageLookupContext, err))
	}

	// ExtractText
	text, err := o.extractText(ctx, item)
	stageDone(domain.StageExtractText, err)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Info("source item disappeared mid-run, already terminalized")
			return o.terminal(domain.Outcome{Disposition: domain.DispositionAlreadyGone})
		}
		return o.earlyFailure(ctx, log, item, stageErr(domain.StageExtractText, err))
	}
	log.Info("text extracted", slog.Int("chars", len(text)))

	// Analyze. A failure of the call itself is still early: no completion
	// cost has been paid until a result comes back.
	systemPrompt := BuildSystemPrompt(evalCtx.ProfileDescription, evalCtx.CriteriaText, o.now())
	rawAnalysis, err := o.Complete.Complete(ctx, systemPrompt, text)
	stageDone(domain.StageAnalyze, err)
	if err != nil {
		return o.earlyFailure(ctx, log, item, stageErr(domain.StageAnalyze, err))
	}
	log.Info("analysis completed", slog.Int("chars", len(rawAnalysis)))

	// From here on the completion cost has been paid: every failure must
	// preserve the raw analysis before the source item is disposed of.
	late := func(stage domain.Stage, err error) domain.Outcome {
		stageDone(stage, err)
		return o.lateFailure(ctx, log, item, evalCtx, text, rawAnalysis, stageErr(stage, err))
	}

	// ValidateAndScore
	payload, err := ValidateAnalysis(rawAnalysis)
	if err != nil {
		return late(domain.StageValidate, err)
	}
	stageDone(domain.StageValidate, nil)

	avg := AverageScore(payload.ScoreMap)
	if avg == domain.UndefinedScore {
		return late(domain.StageScore, fmt.Errorf("%w: score map is empty, average undefined", domain.ErrCalculation))
	}
	stageDone(domain.StageScore, nil)
	observability.AggregateScoreHistogram.Observe(avg)
	log.Info("aggregate score computed", slog.Float64("average", avg), slog.Int("criteria", len(payload.ScoreMap)))

	// Embed → PublishIndex (optional extension)
	if o.indexingEnabled() {
		if se := o.embedAndIndex(ctx, log, item, evalCtx, payload, avg); se != nil {
			stageDone(se.Stage, se)
			return o.lateFailure(ctx, log, item, evalCtx, text, rawAnalysis, se)
		}
	}

	// PublishResults
	if err := o.Records.AddScores(ctx, candidateID, payload.ScoreMap); err != nil {
		return late(domain.StagePublishResult, fmt.Errorf("%w: add scores: %v", domain.ErrPublish, err))
	}
	if err := o.Records.SaveSummary(ctx, candidateID, text, avg, payload.AnalysisText, payload.CandidateName); err != nil {
		return late(domain.StagePublishResult, fmt.Errorf("%w: save summary: %v", domain.ErrPublish, err))
	}
	if err := o.Records.UpdateStatus(ctx, candidateID, nil); err != nil {
		return late(domain.StagePublishResult, fmt.Errorf("%w: update status: %v", domain.ErrPublish, err))
	}
	stageDone(domain.StagePublishResult, nil)

	// Done(Success): the system of record holds the results; the source
	// item is deleted.
	if err := o.Store.Delete(ctx, item.Container, item.Key); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error("failed to delete source item after success", slog.Any("error", err))
	}
	log.Info("pipeline run succeeded")
	return o.terminal(domain.Outcome{Disposition: domain.DispositionSuccess})
}

func (o *Orchestrator) extractText(ctx context.Context, item domain.WorkItem) (string, error) {
	rc, err := o.Store.Download(ctx, item.Container, item.Key)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	text, err := o.Extract.Analyze(ctx, rc)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (o *Orchestrator) embedAndIndex(ctx context.Context, log *slog.Logger, item domain.WorkItem, evalCtx domain.EvaluationContext, payload domain.AnalysisPayload, avg float64) *domain.StageError {
	splitter := o.Splitter
	if splitter == nil {
		splitter = chunkx.NewSplitter(chunkx.DefaultChunkSize, chunkx.DefaultOverlap)
	}

	formatted := textx.FormatForIndex(payload.CandidateName, evalCtx.ProfileDescription, payload.AnalysisText, avg)
	chunks := splitter.Split(formatted)
	if len(chunks) == 0 {
		log.Warn("formatted analysis produced no chunks, skipping indexing")
		return nil
	}

	vectors, err := o.Embedder.Embed(ctx, chunks)
	if err != nil {
		return stageErr(domain.StageEmbed, err)
	}
	// 1:1 chunk/vector correspondence is a hard invariant: partial
	// embeddings are never indexed.
	if len(vectors) != len(chunks) {
		return stageErr(domain.StageEmbed, fmt.Errorf("%w: %d chunks but %d vectors", domain.ErrAPI, len(chunks), len(vectors)))
	}

	baseID := textx.SanitizeForID(item.RankID + "-" + item.CandidateID)
	docs := make([]domain.IndexDocument, len(chunks))
	for i := range chunks {
		docs[i] = domain.IndexDocument{
			ID:            baseID + "-" + strconv.Itoa(i),
			Content:       chunks[i],
			Vector:        vectors[i],
			CandidateName: payload.CandidateName,
			RankID:        item.RankID,
			CandidateID:   item.CandidateID,
			AverageScore:  avg,
		}
	}

	results, err := o.Index.Upsert(ctx, docs)
	if err != nil {
		return stageErr(domain.StagePublishIndex, err)
	}
	succeeded := 0
	for _, r := range results {
		if r.Succeeded {
			succeeded++
		} else {
			log.Warn("index rejected document", slog.String("key", r.Key), slog.Int("status", r.StatusCode), slog.String("message", r.Message))
		}
	}
	// Partial success is tolerated; a fully rejected batch is not.
	if succeeded == 0 {
		return stageErr(domain.StagePublishIndex, fmt.Errorf("%w: no documents accepted by index", domain.ErrPublish))
	}
	if succeeded < len(docs) {
		log.Warn("partial index publish", slog.Int("succeeded", succeeded), slog.Int("total", len(docs)))
	}
	stageDone(domain.StageEmbed, nil)
	stageDone(domain.StagePublishIndex, nil)
	return nil
}

// earlyFailure compensates failures before any completion cost was paid:
// best-effort status report, then move the source to the error area. No
// partial record is written because nothing expensive was computed.
func (o *Orchestrator) earlyFailure(ctx context.Context, log *slog.Logger, item domain.WorkItem, se *domain.StageError) domain.Outcome {
	log.Error("early pipeline failure", slog.String("stage", string(se.Stage)), slog.Any("error", se))

	o.reportStatus(ctx, log, item.CandidateID, se)

	dst := o.ErrorPrefix + item.Name()
	if err := o.Store.Move(ctx, item.Container, item.Key, dst); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("source item already gone during error move")
		} else {
			log.Error("failed to move source item to error area", slog.String("dst", dst), slog.Any("error", err))
		}
	} else {
		log.Info("source item moved to error area", slog.String("dst", dst))
	}
	return o.terminal(domain.Outcome{Disposition: domain.DispositionEarlyFailure, Stage: se.Stage, Err: se})
}

// lateFailure compensates failures after a successful completion call: the
// partial result is persisted first, the failure is reported, and only then
// is the source deleted, since its payload now lives in the partial record.
// If the partial record cannot be written the source is moved to the error
// area instead so nothing is lost.
func (o *Orchestrator) lateFailure(ctx context.Context, log *slog.Logger, item domain.WorkItem, evalCtx domain.EvaluationContext, text, rawAnalysis string, se *domain.StageError) domain.Outcome {
	log.Error("late pipeline failure", slog.String("stage", string(se.Stage)), slog.Any("error", se))

	rec := domain.PartialResultRecord{
		RankID:             item.RankID,
		CandidateID:        item.CandidateID,
		FailedStage:        string(se.Stage),
		ProfileDescription: evalCtx.ProfileDescription,
		CriteriaText:       evalCtx.CriteriaText,
		ExtractedText:      text,
		RawAnalysis:        rawAnalysis,
		FailureKind:        se.Err.Error(),
		Detail:             se.Detail,
		CreatedAt:          o.now(),
	}

	saved := true
	if err := o.Partials.Save(ctx, rec); err != nil {
		saved = false
		log.Error("failed to persist partial result record", slog.Any("error", err))
	}

	o.reportStatus(ctx, log, item.CandidateID, se)

	if saved {
		if err := o.Store.Delete(ctx, item.Container, item.Key); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Error("failed to delete source item after partial save", slog.Any("error", err))
		}
	} else {
		// Without the partial record a delete would lose the only copy of
		// the document; fall back to the error area.
		dst := o.ErrorPrefix + item.Name()
		if err := o.Store.Move(ctx, item.Container, item.Key, dst); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Error("failed to move source item to error area", slog.String("dst", dst), slog.Any("error", err))
		}
	}
	return o.terminal(domain.Outcome{Disposition: domain.DispositionLateFailure, Stage: se.Stage, Err: se})
}

// reportStatus tells the system of record about a failure, best effort, with
// the detail truncated so arbitrarily large payloads never leak into status
// fields.
func (o *Orchestrator) reportStatus(ctx context.Context, log *slog.Logger, candidateID string, se *domain.StageError) {
	if candidateID == "" {
		log.Warn("cannot report failure, candidate id not derived")
		return
	}
	msg := domain.TruncateDetail(se.Error(), domain.StatusMessageLimit)
	if err := o.Records.UpdateStatus(ctx, candidateID, &msg); err != nil {
		log.Error("failed to report failure to system of record", slog.Any("error", err))
	}
}

func (o *Orchestrator) terminal(out domain.Outcome) domain.Outcome {
	observability.PipelineOutcomesTotal.WithLabelValues(string(out.Disposition)).Inc()
	return out
}

