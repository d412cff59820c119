// Package ingestion drives raw feed payloads and emails through parsing,
// identity resolution and persistence.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-ingest/internal/cache"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
	"github.com/mr1hm/go-disaster-ingest/internal/observability"
	"github.com/mr1hm/go-disaster-ingest/internal/publish"
	"github.com/mr1hm/go-disaster-ingest/internal/repository"
	"github.com/mr1hm/go-disaster-ingest/internal/worker"
)

// Engine is the identity and upsert stage. It is safe for concurrent use;
// all coordination happens in the store.
type Engine struct {
	repo      repository.DisasterRepository
	cache     cache.Cache
	publisher publish.Publisher
	metrics   *observability.Metrics
	workers   int
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewEngine(repo repository.DisasterRepository, c cache.Cache, pub publish.Publisher, metrics *observability.Metrics, workers int, clock clockwork.Clock, logger *slog.Logger) *Engine {
	if c == nil {
		c = cache.Nop{}
	}
	if pub == nil {
		pub = publish.Nop{}
	}
	if workers < 1 {
		workers = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:      repo,
		cache:     c,
		publisher: pub,
		metrics:   metrics,
		workers:   workers,
		clock:     clock,
		logger:    logger,
	}
}

// Upsert persists one event and clears the read cache if anything was written.
func (e *Engine) Upsert(ctx context.Context, feed string, ev *models.CanonicalEvent, reason string) (models.UpsertOutcome, error) {
	out, err := e.upsert(ctx, feed, ev, reason)
	if err != nil {
		return out, err
	}
	if out.Changed {
		cache.Invalidate(ctx, e.cache)
		e.publish(ctx, []publish.Change{e.change(feed, ev, out)})
	}
	return out, nil
}

func (e *Engine) upsert(ctx context.Context, feed string, ev *models.CanonicalEvent, reason string) (models.UpsertOutcome, error) {
	out, err := e.repo.UpsertDisaster(ctx, ev, reason)
	if err != nil {
		e.metrics.Upserts.WithLabelValues(feed, "error").Inc()
		return out, fmt.Errorf("error upserting %s: %w", ev.ExternalID, err)
	}

	switch {
	case out.IsNew:
		e.metrics.Upserts.WithLabelValues(feed, "new").Inc()
	case out.Changed:
		e.metrics.Upserts.WithLabelValues(feed, "updated").Inc()
	default:
		e.metrics.Upserts.WithLabelValues(feed, "unchanged").Inc()
	}
	if out.SeverityChanged {
		e.metrics.HistoryWrites.Inc()
		e.logger.Info("severity changed", "feed", feed, "external_id", ev.ExternalID,
			"from", out.PreviousSev, "to", ev.Severity)
	}
	return out, nil
}

// ProcessBatch upserts events with at most e.workers in flight. A failing
// item is recorded in the result and never stops its siblings.
func (e *Engine) ProcessBatch(ctx context.Context, feed string, events []models.CanonicalEvent, reason string) models.BatchResult {
	var (
		mu      sync.Mutex
		res     = models.BatchResult{Processed: len(events)}
		changes []publish.Change
	)

	worker.Run(ctx, e.workers, indices(len(events)), func(ctx context.Context, i int) {
		ev := &events[i]
		if err := ctx.Err(); err != nil {
			mu.Lock()
			res.Errors = append(res.Errors, models.ItemError{ID: ev.ExternalID, Error: err.Error()})
			mu.Unlock()
			return
		}

		out, err := e.upsert(ctx, feed, ev, reason)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			e.logger.Error("upsert failed", "feed", feed, "external_id", ev.ExternalID, "error", err)
			res.Errors = append(res.Errors, models.ItemError{ID: ev.ExternalID, Error: err.Error()})
			return
		}
		switch {
		case out.IsNew:
			res.New++
		case out.Changed:
			res.Updated++
		}
		if out.Changed {
			changes = append(changes, e.change(feed, ev, out))
		}
	})

	if len(changes) > 0 {
		cache.Invalidate(ctx, e.cache)
		e.publish(ctx, changes)
	}
	return res
}

func (e *Engine) change(feed string, ev *models.CanonicalEvent, out models.UpsertOutcome) publish.Change {
	return publish.Change{
		Event:           *ev,
		IsNew:           out.IsNew,
		SeverityChanged: out.SeverityChanged,
		PreviousSev:     out.PreviousSev,
		Feed:            feed,
		At:              e.clock.Now().UTC(),
	}
}

// publish is best-effort: the store already holds the change.
func (e *Engine) publish(ctx context.Context, changes []publish.Change) {
	if err := e.publisher.Publish(ctx, changes); err != nil {
		e.metrics.PublishErrors.Inc()
		e.logger.Warn("publish failed", "count", len(changes), "error", err)
	}
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
