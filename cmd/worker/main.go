// Command worker runs the candidate document pipeline: it watches the
// intake container and drives every new document through extraction,
// analysis, scoring and publication.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/adapter/ai/azureopenai"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/adapter/blobstore"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/adapter/index/search"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/adapter/ocr/docintel"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/adapter/recordapi"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/config"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/observability"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/pipeline"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/watch"
	"github.com/fairyhunter13/cv-screening-pipeline/pkg/chunkx"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	logger := observability.SetupLogger("worker", cfg.AppEnv)
	slog.SetDefault(logger)
	observability.InitMetrics()

	store, err := blobstore.New(cfg.StorageConnectionString, logger)
	if err != nil {
		return err
	}
	startupCtx := context.Background()
	if err := store.EnsureContainers(startupCtx, cfg.CandidatesContainer, cfg.PartialResultsContainer); err != nil {
		return err
	}

	retry := cfg.RetryPolicy()

	extractor := docintel.New(cfg.DocIntelEndpoint, cfg.DocIntelAPIKey, cfg.DocIntelAPIVersion, cfg.DocIntelModel, retry)

	var aiOpts []azureopenai.Option
	if cfg.IndexingEnabled() {
		aiOpts = append(aiOpts, azureopenai.WithEmbeddings(cfg.EmbeddingDeployment, cfg.EmbeddingAPIVersion))
	}
	completer := azureopenai.New(cfg.OpenAIEndpoint, cfg.OpenAIAPIKey, cfg.OpenAIAPIVersion, cfg.OpenAIDeployment, retry, aiOpts...)

	records := recordapi.New(cfg.APIBaseURL, recordapi.Credentials{
		Username:        cfg.APIUsername,
		Password:        cfg.APIPassword,
		Role:            cfg.APIRole,
		UserApplication: cfg.APIUserApplication,
	}, retry)

	partials := blobstore.NewPartialSink(store, cfg.PartialResultsContainer)

	orch := pipeline.New(store, records, extractor, completer, partials, cfg.ErrorPrefix)
	if cfg.IndexingEnabled() {
		orch.Embedder = completer
		orch.Index = search.New(cfg.SearchEndpoint, cfg.SearchAPIKey, cfg.SearchIndexName)
		orch.Splitter = chunkx.NewSplitter(chunkx.DefaultChunkSize, chunkx.DefaultOverlap)
		slog.Info("indexing extension enabled", slog.String("index", cfg.SearchIndexName))
	}

	watcher := watch.New(store, orch, cfg.CandidatesContainer, cfg.ErrorPrefix, cfg.PollInterval, cfg.MaxConcurrency)

	// Metrics endpoint for scraping; the worker has no other HTTP surface.
	metricsSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     promhttp.Handler(),
		ReadTimeout: cfg.HTTPReadTimeout,
	}
	go func() {
		slog.Info("metrics endpoint listening", slog.Int("port", cfg.Port))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = watcher.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("worker stopped")
	return nil
}
