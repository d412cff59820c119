// Package app wires config into a ready pipeline for the binaries.
package app

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-ingest/internal/cache"
	"github.com/mr1hm/go-disaster-ingest/internal/config"
	"github.com/mr1hm/go-disaster-ingest/internal/fetch"
	"github.com/mr1hm/go-disaster-ingest/internal/ingestion"
	"github.com/mr1hm/go-disaster-ingest/internal/mailbox"
	"github.com/mr1hm/go-disaster-ingest/internal/observability"
	"github.com/mr1hm/go-disaster-ingest/internal/publish"
	"github.com/mr1hm/go-disaster-ingest/internal/repository"
)

type App struct {
	Store     repository.Store
	Cache     cache.Cache
	Publisher publish.Publisher
	Stream    *publish.Broadcaster
	Metrics   *observability.Metrics
	Runner    *ingestion.Runner

	closers []func() error
}

func Build(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Metrics: metrics}

	store, err := repository.Open(cfg.DB.Driver, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	logger.Info("store opened", "driver", cfg.DB.Driver, "schema", store.Mode())

	a.Cache = cache.Nop{}
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis unavailable, running without cache", "error", err)
		} else {
			a.Cache = rc
			a.closers = append(a.closers, rc.Close)
		}
	}

	a.Stream = publish.NewBroadcaster()
	a.closers = append(a.closers, a.Stream.Close)
	pubs := publish.Multi{a.Stream}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		pubs = append(pubs, kp)
		a.closers = append(a.closers, kp.Close)
		logger.Info("publishing changes", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	a.Publisher = pubs

	clock := clockwork.NewRealClock()
	engine := ingestion.NewEngine(store, a.Cache, a.Publisher, metrics, cfg.Worker.Count, clock, logger)

	feeds := make([]ingestion.Feed, 0, len(config.FetchedFeeds))
	for _, name := range config.FetchedFeeds {
		fc := cfg.Feeds[name]
		feeds = append(feeds, ingestion.Feed{Name: name, URL: fc.URL, Enabled: fc.Enabled})
	}

	a.Runner = ingestion.NewRunner(ingestion.Deps{
		Store:   store,
		Engine:  engine,
		Fetcher: fetch.New(cfg.Fetch.Timeout, cfg.Fetch.UserAgent),
		Cache:   a.Cache,
		Metrics: metrics,
		Clock:   clock,
		Logger:  logger,
	}, ingestion.Options{
		Feeds:           feeds,
		FeedConcurrency: cfg.Worker.FeedConcurrency,
		Allowlist:       mailbox.NewAllowlist(cfg.Email.AllowedSenders),
		Retention:       cfg.Retention.Window,
		ClusterLookback: cfg.Retention.ClusterLookback,
	})

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("close failed", "error", err)
		}
	}
}
