package ingestion

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
	"github.com/mr1hm/go-disaster-ingest/internal/repository"
)

// mockStore implements repository.Store for testing
type mockStore struct {
	mu        sync.Mutex
	events    map[string]models.CanonicalEvent
	failIDs   map[string]bool
	health    map[string]models.FeedHealth
	logs      []models.ProcessingLog
	cyclones  []models.CycloneAdvisory
	clusters  map[string]models.WildfireCluster
	history   int
	purgeCall int
}

func newMockStore() *mockStore {
	return &mockStore{
		events:   make(map[string]models.CanonicalEvent),
		failIDs:  make(map[string]bool),
		health:   make(map[string]models.FeedHealth),
		clusters: make(map[string]models.WildfireCluster),
	}
}

func (m *mockStore) UpsertDisaster(ctx context.Context, e *models.CanonicalEvent, reason string) (models.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[e.ExternalID] {
		return models.UpsertOutcome{}, errors.New("constraint violation")
	}
	prev, ok := m.events[e.ExternalID]
	if !ok {
		m.events[e.ExternalID] = *e
		return models.UpsertOutcome{DisasterID: e.ExternalID, IsNew: true, Changed: true}, nil
	}
	out := models.UpsertOutcome{DisasterID: e.ExternalID, PreviousSev: prev.Severity}
	if reflect.DeepEqual(prev, *e) {
		return out, nil
	}
	out.Changed = true
	if prev.Severity != e.Severity {
		out.SeverityChanged = true
		m.history++
	}
	m.events[e.ExternalID] = *e
	return out, nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockStore) GetByExternalID(ctx context.Context, externalID string) (*models.Disaster, error) {
	return nil, repository.ErrNotFound
}

func (m *mockStore) ListDisasters(ctx context.Context, opts repository.Filter) ([]models.Disaster, error) {
	return nil, nil
}

func (m *mockStore) ActiveWildfires(ctx context.Context, since time.Time) ([]models.Disaster, error) {
	return nil, nil
}

func (m *mockStore) HistoryFor(ctx context.Context, disasterID string) ([]models.HistoryEntry, error) {
	return nil, nil
}

func (m *mockStore) RecentHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	return nil, nil
}

func (m *mockStore) Summary(ctx context.Context) (*repository.Summary, error) {
	return &repository.Summary{}, nil
}

func (m *mockStore) Countries(ctx context.Context) ([]repository.CountryCount, error) {
	return nil, nil
}

func (m *mockStore) Purge(ctx context.Context, now time.Time, retention, wildfireRetention time.Duration) (repository.PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeCall++
	return repository.PurgeResult{}, nil
}

func (m *mockStore) GetFeedHealth(ctx context.Context, feedName string) (*models.FeedHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[feedName]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &h, nil
}

func (m *mockStore) SaveFeedHealth(ctx context.Context, h *models.FeedHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[h.FeedName] = *h
	return nil
}

func (m *mockStore) ListFeedHealth(ctx context.Context) ([]models.FeedHealth, error) {
	return nil, nil
}

func (m *mockStore) UpsertCluster(ctx context.Context, c *models.WildfireCluster) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.clusters[c.ClusterKey]
	m.clusters[c.ClusterKey] = *c
	return !exists, nil
}

func (m *mockStore) DeleteClustersExcept(ctx context.Context, keys []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := make(map[string]bool, len(keys))
	for _, k := range keys {
		keep[k] = true
	}
	var n int64
	for k := range m.clusters {
		if !keep[k] {
			delete(m.clusters, k)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) ListClusters(ctx context.Context, limit int) ([]models.WildfireCluster, error) {
	return nil, nil
}

func (m *mockStore) UpsertCyclone(ctx context.Context, a *models.CycloneAdvisory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cyclones = append(m.cyclones, *a)
	return nil
}

func (m *mockStore) ListCyclones(ctx context.Context, limit int) ([]models.CycloneAdvisory, error) {
	return nil, nil
}

func (m *mockStore) AddProcessingLog(ctx context.Context, l *models.ProcessingLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *l)
	return nil
}

func (m *mockStore) lastLog() models.ProcessingLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.logs) == 0 {
		return models.ProcessingLog{}
	}
	return m.logs[len(m.logs)-1]
}

func (m *mockStore) Close() error { return nil }

// recordingCache counts invalidations
type recordingCache struct {
	mu   sync.Mutex
	dels int
}

func (c *recordingCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (c *recordingCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (c *recordingCache) Del(context.Context, ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dels++
	return nil
}

func (c *recordingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dels
}

// fakeFetcher serves canned payloads by URL
type fakeFetcher struct {
	mu      sync.Mutex
	payload map[string][]byte
	errs    map[string]error
	calls   int
}

func (f *fakeFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.payload[url], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
