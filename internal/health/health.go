// Package health tracks per-feed fetch outcomes. It is a monitoring side
// channel: nothing in the pipeline waits on or branches on feed status.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
	"github.com/mr1hm/go-disaster-ingest/internal/repository"
)

const (
	FailingThreshold = 5
	latencyWeight    = 0.3
)

// Outcome is one fetch attempt.
type Outcome struct {
	OK        bool
	LatencyMs float64
	Err       error
}

// Next applies o to prev (nil for a feed never seen before).
func Next(feedName string, prev *models.FeedHealth, o Outcome, now time.Time) models.FeedHealth {
	h := models.FeedHealth{FeedName: feedName, Status: models.FeedStatusOK}
	if prev != nil {
		h = *prev
	}
	h.UpdatedAt = now

	if o.OK {
		h.LastSuccess = &now
		h.ConsecutiveFailures = 0
		h.Status = models.FeedStatusOK
		h.Notes = ""
		avg := o.LatencyMs
		if h.AvgLatencyMs != nil {
			avg = *h.AvgLatencyMs*(1-latencyWeight) + o.LatencyMs*latencyWeight
		}
		h.AvgLatencyMs = &avg
		return h
	}

	h.LastError = &now
	h.ErrorCount++
	h.ConsecutiveFailures++
	h.Status = models.FeedStatusDegraded
	if h.ConsecutiveFailures >= FailingThreshold {
		h.Status = models.FeedStatusFailing
	}
	if o.Err != nil {
		h.Notes = o.Err.Error()
	}
	return h
}

type Tracker struct {
	repo   repository.FeedHealthRepository
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewTracker(repo repository.FeedHealthRepository, clock clockwork.Clock, logger *slog.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, clock: clock, logger: logger}
}

// Record persists o for feedName and returns the new state.
func (t *Tracker) Record(ctx context.Context, feedName string, o Outcome) (models.FeedHealth, error) {
	prev, err := t.repo.GetFeedHealth(ctx, feedName)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return models.FeedHealth{}, fmt.Errorf("error loading feed health: %w", err)
	}

	h := Next(feedName, prev, o, t.clock.Now().UTC())
	if err := t.repo.SaveFeedHealth(ctx, &h); err != nil {
		return h, fmt.Errorf("error saving feed health: %w", err)
	}
	if prev != nil && prev.Status != h.Status {
		t.logger.Info("feed status changed", "feed", feedName, "from", prev.Status, "to", h.Status)
	}
	return h, nil
}
