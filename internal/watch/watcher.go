// Package watch polls the intake container and dispatches new items into
// the pipeline with bounded concurrency.
package watch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

// Runner processes one WorkItem to a terminal disposition.
type Runner interface {
	Run(ctx context.Context, item domain.WorkItem) domain.Outcome
}

// Watcher lists the intake container on an interval and hands each new item
// to the runner. Items under the error prefix are invisible to it, and an
// item is never dispatched twice concurrently even when a run outlives
// several poll cycles.
type Watcher struct {
	Store       domain.ObjectStore
	Runner      Runner
	Container   string
	ErrorPrefix string
	Interval    time.Duration
	Concurrency int

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New constructs a Watcher.
func New(store domain.ObjectStore, runner Runner, container, errorPrefix string, interval time.Duration, concurrency int) *Watcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Watcher{
		Store:       store,
		Runner:      runner,
		Container:   container,
		ErrorPrefix: errorPrefix,
		Interval:    interval,
		Concurrency: concurrency,
		inFlight:    make(map[string]struct{}),
	}
}

// Run polls until the context is cancelled. In-flight items are drained
// before returning.
func (w *Watcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.Concurrency)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	slog.Info("intake watcher started",
		slog.String("container", w.Container),
		slog.Duration("interval", w.Interval),
		slog.Int("concurrency", w.Concurrency),
	)

	for {
		w.sweep(gctx, g)
		select {
		case <-ctx.Done():
			err := g.Wait()
			slog.Info("intake watcher stopped")
			if err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep lists the container once and dispatches anything new.
func (w *Watcher) sweep(ctx context.Context, g *errgroup.Group) {
	infos, err := w.Store.List(ctx, w.Container, "")
	if err != nil {
		slog.Error("intake list failed", slog.Any("error", err))
		return
	}

	for _, info := range infos {
		if w.ErrorPrefix != "" && strings.HasPrefix(strings.ToLower(info.Key), strings.ToLower(w.ErrorPrefix)) {
			continue
		}
		item := domain.WorkItem{Container: w.Container, Key: info.Key, Size: info.Size}
		if !w.claim(item.Key) {
			continue
		}
		g.Go(func() error {
			defer w.release(item.Key)
			out := w.Runner.Run(ctx, item)
			slog.Info("item finished",
				slog.String("item", item.Key),
				slog.String("disposition", string(out.Disposition)),
			)
			// Failures are absorbed by the pipeline's compensation; a
			// returned error here would cancel sibling runs.
			return nil
		})
	}
}

func (w *Watcher) claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[key]; busy {
		return false
	}
	w.inFlight[key] = struct{}{}
	return true
}

func (w *Watcher) release(key string) {
	w.mu.Lock()
	delete(w.inFlight, key)
	w.mu.Unlock()
}
