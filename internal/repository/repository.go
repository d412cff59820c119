package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// ErrNotFound is returned when no row matches the requested key.
var ErrNotFound = errors.New("not found")

type Filter struct {
	Limit       int
	Offset      int
	Since       *time.Time
	Type        *models.DisasterType
	MinSeverity *models.Severity // >= this level (e.g., ORANGE includes ORANGE and RED)
	Country     string
}

// IsDefault reports whether f is the unfiltered first page, the only listing
// that is cached.
func (f Filter) IsDefault() bool {
	return f.Offset == 0 && f.Since == nil && f.Type == nil && f.MinSeverity == nil && f.Country == ""
}

type Summary struct {
	Total       int            `json:"total"`
	ByType      map[string]int `json:"by_type"`
	BySeverity  map[string]int `json:"by_severity"`
	LastUpdated *time.Time     `json:"last_updated,omitempty"`
}

type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

type PurgeResult struct {
	Disasters int64 `json:"disasters"`
	History   int64 `json:"history"`
	Clusters  int64 `json:"clusters"`
}

type DisasterRepository interface {
	// UpsertDisaster inserts or refreshes the row keyed by e.ExternalID. A
	// severity change appends one history row tagged with reason.
	UpsertDisaster(ctx context.Context, e *models.CanonicalEvent, reason string) (models.UpsertOutcome, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Disaster, error)
	ListDisasters(ctx context.Context, opts Filter) ([]models.Disaster, error)
	ActiveWildfires(ctx context.Context, since time.Time) ([]models.Disaster, error)
	HistoryFor(ctx context.Context, disasterID string) ([]models.HistoryEntry, error)
	RecentHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Summary(ctx context.Context) (*Summary, error)
	Countries(ctx context.Context) ([]CountryCount, error)
	Purge(ctx context.Context, now time.Time, retention, wildfireRetention time.Duration) (PurgeResult, error)
}

type FeedHealthRepository interface {
	GetFeedHealth(ctx context.Context, feedName string) (*models.FeedHealth, error)
	SaveFeedHealth(ctx context.Context, h *models.FeedHealth) error
	ListFeedHealth(ctx context.Context) ([]models.FeedHealth, error)
}

type ClusterRepository interface {
	// UpsertCluster reports whether the cluster key was new.
	UpsertCluster(ctx context.Context, c *models.WildfireCluster) (bool, error)
	// DeleteClustersExcept removes every cluster whose key is not in keys.
	DeleteClustersExcept(ctx context.Context, keys []string) (int64, error)
	ListClusters(ctx context.Context, limit int) ([]models.WildfireCluster, error)
}

type CycloneRepository interface {
	UpsertCyclone(ctx context.Context, a *models.CycloneAdvisory) error
	ListCyclones(ctx context.Context, limit int) ([]models.CycloneAdvisory, error)
}

type ProcessingLogRepository interface {
	AddProcessingLog(ctx context.Context, l *models.ProcessingLog) error
}

// Store is everything the pipeline persists.
type Store interface {
	DisasterRepository
	FeedHealthRepository
	ClusterRepository
	CycloneRepository
	ProcessingLogRepository
	Close() error
}
