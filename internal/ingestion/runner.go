package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-disaster-ingest/internal/cache"
	"github.com/mr1hm/go-disaster-ingest/internal/health"
	"github.com/mr1hm/go-disaster-ingest/internal/mailbox"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
	"github.com/mr1hm/go-disaster-ingest/internal/observability"
	"github.com/mr1hm/go-disaster-ingest/internal/parser"
	"github.com/mr1hm/go-disaster-ingest/internal/repository"
	"github.com/mr1hm/go-disaster-ingest/internal/wildfire"
)

var (
	ErrUnknownFeed = errors.New("unknown feed")
	ErrFetch       = errors.New("upstream fetch failed")
	ErrParse       = errors.New("upstream payload unreadable")
)

// Fetcher downloads one feed payload.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

type Feed struct {
	Name    string
	URL     string
	Enabled bool
}

type Options struct {
	Feeds           []Feed
	FeedConcurrency int
	Allowlist       *mailbox.Allowlist
	Retention       time.Duration
	ClusterLookback time.Duration
}

type Deps struct {
	Store   repository.Store
	Engine  *Engine
	Fetcher Fetcher
	Cache   cache.Cache
	Metrics *observability.Metrics
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Runner is the orchestration layer behind every entry point: manual
// triggers, the scheduler and inbound email.
type Runner struct {
	store    repository.Store
	engine   *Engine
	fetcher  Fetcher
	cache    cache.Cache
	health   *health.Tracker
	clusters *wildfire.Engine
	metrics  *observability.Metrics
	clock    clockwork.Clock
	logger   *slog.Logger

	feeds           map[string]Feed
	order           []string
	feedConcurrency int
	allow           *mailbox.Allowlist
	retention       time.Duration
	lookback        time.Duration
}

func NewRunner(d Deps, opts Options) *Runner {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	if opts.Allowlist == nil {
		opts.Allowlist = mailbox.NewAllowlist(nil)
	}
	if opts.FeedConcurrency < 1 {
		opts.FeedConcurrency = 1
	}

	r := &Runner{
		store:           d.Store,
		engine:          d.Engine,
		fetcher:         d.Fetcher,
		cache:           d.Cache,
		health:          health.NewTracker(d.Store, d.Clock, d.Logger),
		clusters:        wildfire.NewEngine(d.Store, d.Store, d.Clock, opts.ClusterLookback, d.Logger),
		metrics:         d.Metrics,
		clock:           d.Clock,
		logger:          d.Logger,
		feeds:           make(map[string]Feed, len(opts.Feeds)),
		feedConcurrency: opts.FeedConcurrency,
		allow:           opts.Allowlist,
		retention:       opts.Retention,
		lookback:        opts.ClusterLookback,
	}
	for _, f := range opts.Feeds {
		r.feeds[f.Name] = f
		r.order = append(r.order, f.Name)
	}
	return r
}

// KnownFeed reports whether name can be passed to RunFeed.
func (r *Runner) KnownFeed(name string) bool {
	if name == models.FeedWildfireClusters {
		return true
	}
	_, ok := r.feeds[name]
	return ok
}

// RunFeed fetches, parses and persists one feed. The returned error is set
// only when the run could not produce items at all; per-item failures are
// in the result.
func (r *Runner) RunFeed(ctx context.Context, name string) (res models.BatchResult, err error) {
	if name == models.FeedWildfireClusters {
		return r.RunClusters(ctx)
	}
	feed, ok := r.feeds[name]
	p, pok := parser.ForFeed(name)
	if !ok || !pok {
		return res, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
	}

	start := r.clock.Now()
	var size int
	defer func() {
		r.metrics.RunDuration.WithLabelValues(name).Observe(r.clock.Since(start).Seconds())
		r.logRun(ctx, start.UTC(), start, size, res, err)
	}()

	raw, err := r.fetch(ctx, feed)
	if err != nil {
		return res, err
	}
	size = len(raw)

	events, err := p.Parse(raw)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrParse, name, err)
	}
	r.metrics.EventsParsed.WithLabelValues(name).Add(float64(len(events)))

	res = r.engine.ProcessBatch(ctx, name, events, name+"_update")

	if ap, ok := p.(parser.AdvisoryParser); ok {
		res.Errors = append(res.Errors, r.storeAdvisories(ctx, ap, raw)...)
	}

	r.logger.Info("feed run complete", "feed", name, "processed", res.Processed,
		"new", res.New, "updated", res.Updated, "errors", len(res.Errors))
	return res, nil
}

func (r *Runner) fetch(ctx context.Context, feed Feed) ([]byte, error) {
	start := r.clock.Now()
	raw, err := r.fetcher.Get(ctx, feed.URL)
	elapsed := r.clock.Since(start)
	r.metrics.FetchDuration.WithLabelValues(feed.Name).Observe(elapsed.Seconds())

	o := health.Outcome{OK: err == nil, LatencyMs: float64(elapsed.Milliseconds()), Err: err}
	if _, herr := r.health.Record(ctx, feed.Name, o); herr != nil {
		r.logger.Warn("feed health not recorded", "feed", feed.Name, "error", herr)
	}

	if err != nil {
		r.metrics.FetchFailures.WithLabelValues(feed.Name).Inc()
		r.logger.Error("fetch failed", "feed", feed.Name, "url", feed.URL, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, feed.Name, err)
	}
	return raw, nil
}

func (r *Runner) storeAdvisories(ctx context.Context, ap parser.AdvisoryParser, raw []byte) []models.ItemError {
	advisories, err := ap.ParseAdvisories(raw)
	if err != nil {
		return []models.ItemError{{ID: models.FeedCyclones, Error: err.Error()}}
	}
	var errs []models.ItemError
	for i := range advisories {
		if err := r.store.UpsertCyclone(ctx, &advisories[i]); err != nil {
			r.logger.Error("cyclone upsert failed", "external_id", advisories[i].ExternalID, "error", err)
			errs = append(errs, models.ItemError{ID: advisories[i].ExternalID, Error: err.Error()})
		}
	}
	return errs
}

// RunClusters recomputes wildfire clusters and reports them in batch terms.
func (r *Runner) RunClusters(ctx context.Context) (models.BatchResult, error) {
	out, err := r.clusters.Recompute(ctx)
	if err != nil {
		return models.BatchResult{}, err
	}
	r.metrics.ClustersActive.Set(float64(out.Clusters))
	r.logger.Info("wildfire clusters recomputed", "clusters", out.Clusters,
		"inserted", out.Inserted, "updated", out.Updated, "removed", out.Removed)
	return models.BatchResult{Processed: out.Clusters, New: out.Inserted, Updated: out.Updated}, nil
}

// Purge drops rows past retention. Wildfire rows live as long as the
// cluster lookback so the cluster engine keeps its full window.
func (r *Runner) Purge(ctx context.Context) (repository.PurgeResult, error) {
	res, err := r.store.Purge(ctx, r.clock.Now().UTC(), r.retention, r.lookback)
	if err != nil {
		return res, fmt.Errorf("error purging: %w", err)
	}
	if res.Disasters > 0 || res.History > 0 {
		cache.Invalidate(ctx, r.cache)
	}
	r.logger.Info("retention purge complete", "disasters", res.Disasters,
		"history", res.History, "clusters", res.Clusters)
	return res, nil
}

type FeedReport struct {
	Result models.BatchResult
	Err    error
}

type Report struct {
	Feeds    map[string]FeedReport
	Clusters models.BatchResult
	Purge    repository.PurgeResult
}

// RunAll runs every enabled feed with bounded concurrency, then recomputes
// clusters and purges. A failing feed never stops the others.
func (r *Runner) RunAll(ctx context.Context) Report {
	rep := Report{Feeds: make(map[string]FeedReport)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.feedConcurrency)
	for _, name := range r.order {
		if !r.feeds[name].Enabled {
			continue
		}
		name := name
		g.Go(func() error {
			res, err := r.safeRunFeed(gctx, name)
			mu.Lock()
			rep.Feeds[name] = FeedReport{Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var err error
	if rep.Clusters, err = r.RunClusters(ctx); err != nil {
		r.logger.Error("cluster recompute failed", "error", err)
	}
	if rep.Purge, err = r.Purge(ctx); err != nil {
		r.logger.Error("purge failed", "error", err)
	}
	return rep
}

func (r *Runner) safeRunFeed(ctx context.Context, name string) (res models.BatchResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("feed run panicked", "feed", name, "panic", p)
			err = fmt.Errorf("panic in feed %s: %v", name, p)
		}
	}()
	return r.RunFeed(ctx, name)
}

// IngestEmail parses an email-shaped payload and persists every event in it.
func (r *Runner) IngestEmail(ctx context.Context, subject, body string, sent time.Time, size int) (res models.BatchResult, err error) {
	start := r.clock.Now()
	if sent.IsZero() {
		sent = start.UTC()
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("email ingestion panicked", "panic", p)
			err = fmt.Errorf("panic in email ingestion: %v", p)
		}
		r.logRun(ctx, sent.UTC(), start, size, res, err)
	}()

	events, err := parser.ParseEmail(subject, body)
	if err != nil {
		return res, err
	}
	r.metrics.EventsParsed.WithLabelValues(models.FeedEmail).Add(float64(len(events)))

	res = r.engine.ProcessBatch(ctx, models.FeedEmail, events, "email_update")
	r.logger.Info("email ingested", "subject", subject, "processed", res.Processed,
		"new", res.New, "updated", res.Updated, "errors", len(res.Errors))
	return res, nil
}

// IngestMIME decodes a raw message, applies the sender allowlist and hands
// the text to IngestEmail.
func (r *Runner) IngestMIME(ctx context.Context, raw []byte) (models.BatchResult, error) {
	msg, err := mailbox.Decode(raw)
	if err != nil {
		r.addLog(ctx, &models.ProcessingLog{
			EmailDate:      r.clock.Now().UTC(),
			Status:         models.ProcessingError,
			EmailSizeBytes: len(raw),
		})
		return models.BatchResult{}, err
	}
	if err := r.allow.Check(msg); err != nil {
		r.logger.Warn("email rejected", "from", msg.From, "subject", msg.Subject)
		r.addLog(ctx, &models.ProcessingLog{
			EmailDate:      dateOr(msg.Date, r.clock.Now()),
			Status:         models.ProcessingRejected,
			EmailSizeBytes: msg.Size,
		})
		return models.BatchResult{}, err
	}
	return r.IngestEmail(ctx, msg.Subject, msg.Body, msg.Date, msg.Size)
}

func (r *Runner) logRun(ctx context.Context, at, start time.Time, size int, res models.BatchResult, err error) {
	l := &models.ProcessingLog{
		EmailDate:          at,
		DisastersProcessed: res.Processed,
		NewDisasters:       res.New,
		UpdatedDisasters:   res.Updated,
		Status:             res.Status(),
		ProcessingTimeMs:   r.clock.Since(start).Milliseconds(),
		EmailSizeBytes:     size,
	}
	if err != nil {
		l.Status = models.ProcessingError
	}
	r.addLog(ctx, l)
}

// addLog never fails the caller; processing logs are a side channel.
func (r *Runner) addLog(ctx context.Context, l *models.ProcessingLog) {
	if err := r.store.AddProcessingLog(ctx, l); err != nil {
		r.logger.Warn("processing log not written", "status", l.Status, "error", err)
	}
}

func dateOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback.UTC()
	}
	return t.UTC()
}
