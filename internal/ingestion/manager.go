package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager runs RunAll on a fixed interval until its context is cancelled.
type Manager struct {
	runner   *Runner
	interval time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewManager(runner *Runner, interval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.runScheduler(ctx)
}

func (m *Manager) runScheduler(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Info("starting scheduler", "interval", m.interval)

	ticker := m.runner.clock.NewTicker(m.interval)
	defer ticker.Stop()

	// Initial run
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("scheduler shutting down")
			return
		case <-ticker.Chan():
			m.tick(ctx)
		}
	}
}

// tick is fire-and-forget: failures surface through feed health and
// processing logs only.
func (m *Manager) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("scheduled run panicked", "panic", p)
		}
	}()

	start := m.runner.clock.Now()
	rep := m.runner.RunAll(ctx)

	failed := 0
	for name, fr := range rep.Feeds {
		if fr.Err != nil {
			failed++
			m.logger.Warn("scheduled feed failed", "feed", name, "error", fr.Err)
		}
	}
	m.logger.Info("scheduled run complete", "feeds", len(rep.Feeds), "failed", failed,
		"clusters", rep.Clusters.Processed, "duration", m.runner.clock.Since(start))
}

func (m *Manager) Stop() {
	m.wg.Wait()
	m.logger.Info("ingestion manager stopped")
}
