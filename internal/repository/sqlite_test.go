package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*SQLStore, *clockwork.FakeClock) {
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	clock := clockwork.NewFakeClockAt(t0)
	db.SetClock(clock)
	t.Cleanup(func() { db.Close() })
	return db, clock
}

func quake(sev models.Severity) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		ExternalID:         "gdacs:EQ123",
		Type:               models.DisasterTypeEarthquake,
		Severity:           sev,
		Title:              "M 7.2 earthquake",
		Country:            "JP",
		Coordinates:        &models.Coordinates{Latitude: 35.1, Longitude: 139.2},
		EventTime:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		AffectedPopulation: models.Int64(1000),
	}
}

func countRows(t *testing.T, s *SQLStore, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSQLiteDB_SchemaMode(t *testing.T) {
	db, _ := setupTestDB(t)
	if db.Mode() != SchemaModern {
		t.Errorf("expected modern schema, got %s", db.Mode())
	}
}

func TestSQLiteDB_UpsertIsIdempotent(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()

	out, err := db.UpsertDisaster(ctx, quake(models.SeverityRed), "gdacs_update")
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if !out.IsNew || !out.Changed {
		t.Errorf("expected new row, got %+v", out)
	}

	clock.Advance(time.Hour)
	again, err := db.UpsertDisaster(ctx, quake(models.SeverityRed), "gdacs_update")
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if again.IsNew || again.Changed || again.SeverityChanged {
		t.Errorf("expected no-op, got %+v", again)
	}
	if again.DisasterID != out.DisasterID {
		t.Errorf("disaster id changed: %s -> %s", out.DisasterID, again.DisasterID)
	}

	got, err := db.GetByExternalID(ctx, "gdacs:EQ123")
	if err != nil {
		t.Fatalf("GetByExternalID failed: %v", err)
	}
	if !got.UpdatedAt.Equal(t0) {
		t.Errorf("no-op upsert must not bump updated_at, got %v", got.UpdatedAt)
	}
	if got.Coordinates == nil || got.Coordinates.Latitude != 35.1 {
		t.Errorf("coordinates not stored: %+v", got.Coordinates)
	}
	if n := countRows(t, db, "disasters"); n != 1 {
		t.Errorf("expected 1 disaster, got %d", n)
	}
	if n := countRows(t, db, "disaster_history"); n != 0 {
		t.Errorf("expected no history, got %d", n)
	}
}

func TestSQLiteDB_SeverityChangeAppendsHistoryOnce(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.UpsertDisaster(ctx, quake(models.SeverityGreen), "email_update"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	clock.Advance(time.Minute)

	out, err := db.UpsertDisaster(ctx, quake(models.SeverityOrange), "email_update")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !out.Changed || !out.SeverityChanged || out.PreviousSev != models.SeverityGreen {
		t.Errorf("unexpected outcome %+v", out)
	}

	if _, err := db.UpsertDisaster(ctx, quake(models.SeverityOrange), "email_update"); err != nil {
		t.Fatalf("repeat failed: %v", err)
	}

	hist, err := db.HistoryFor(ctx, out.DisasterID)
	if err != nil {
		t.Fatalf("HistoryFor failed: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(hist))
	}
	h := hist[0]
	if h.SeverityOld != models.SeverityGreen || h.SeverityNew != models.SeverityOrange || h.Reason != "email_update" {
		t.Errorf("unexpected history %+v", h)
	}
	if h.Title != "M 7.2 earthquake" {
		t.Errorf("history should carry the disaster title, got %q", h.Title)
	}
	if !h.ChangedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("unexpected changed_at %v", h.ChangedAt)
	}
}

func TestSQLiteDB_UpdateWithoutSeverityChange(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.UpsertDisaster(ctx, quake(models.SeverityRed), "usgs_update"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	e := quake(models.SeverityRed)
	e.Description = "aftershocks continue"
	e.Coordinates = nil

	out, err := db.UpsertDisaster(ctx, e, "usgs_update")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !out.Changed || out.SeverityChanged {
		t.Errorf("unexpected outcome %+v", out)
	}
	got, _ := db.GetByExternalID(ctx, e.ExternalID)
	if got.Description != "aftershocks continue" || got.Coordinates != nil {
		t.Errorf("fields not refreshed: %+v", got)
	}
	if n := countRows(t, db, "disaster_history"); n != 0 {
		t.Errorf("expected no history, got %d", n)
	}
}

func TestSQLiteDB_LegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	_, err = raw.Exec(`CREATE TABLE disasters (
		id TEXT PRIMARY KEY,
		disaster_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		country TEXT,
		coordinates_lat REAL,
		coordinates_lng REAL,
		event_timestamp TEXT NOT NULL,
		description TEXT,
		affected_population INTEGER,
		is_active INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	)`)
	raw.Close()
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}

	db, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	defer db.Close()
	db.SetClock(clockwork.NewFakeClockAt(t0))

	if db.Mode() != SchemaLegacy {
		t.Fatalf("expected legacy schema, got %s", db.Mode())
	}

	ctx := context.Background()
	out, err := db.UpsertDisaster(ctx, quake(models.SeverityGreen), "email_update")
	if err != nil {
		t.Fatalf("legacy insert failed: %v", err)
	}
	if out.DisasterID != "gdacs:EQ123" {
		t.Errorf("legacy rows are keyed by external id, got %q", out.DisasterID)
	}
	if _, err := db.UpsertDisaster(ctx, quake(models.SeverityRed), "email_update"); err != nil {
		t.Fatalf("legacy update failed: %v", err)
	}
	hist, err := db.HistoryFor(ctx, "gdacs:EQ123")
	if err != nil || len(hist) != 1 {
		t.Fatalf("expected 1 legacy history row, got %d (%v)", len(hist), err)
	}
	got, err := db.GetByExternalID(ctx, "gdacs:EQ123")
	if err != nil || got.Severity != models.SeverityRed {
		t.Errorf("legacy read failed: %+v %v", got, err)
	}
}

func TestSQLiteDB_SecondHandleWaitsForWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	service, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("open service handle: %v", err)
	}
	defer service.Close()
	pipe, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("open pipe handle: %v", err)
	}
	defer pipe.Close()

	ctx := context.Background()
	tx, err := service.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO processing_logs
		(disasters_processed, new_disasters, updated_disasters, status, processing_time_ms, created_at)
		VALUES (0, 0, 0, 'SUCCESS', 0, '2025-01-01T12:00:00Z')`); err != nil {
		tx.Rollback()
		t.Fatalf("write in service tx: %v", err)
	}

	committed := make(chan error, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		committed <- tx.Commit()
	}()

	out, err := pipe.UpsertDisaster(ctx, quake(models.SeverityRed), "email_update")
	if cerr := <-committed; cerr != nil {
		t.Fatalf("service commit: %v", cerr)
	}
	if err != nil {
		t.Fatalf("second handle should wait for the lock, got %v", err)
	}
	if !out.IsNew {
		t.Errorf("expected insert, got %+v", out)
	}
	if got, err := service.GetByExternalID(ctx, "gdacs:EQ123"); err != nil || got.Severity != models.SeverityRed {
		t.Errorf("service handle should see the pipe's write: %+v %v", got, err)
	}
}

func TestSQLiteDB_ReadQueries(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	events := []*models.CanonicalEvent{
		{ExternalID: "a", Type: models.DisasterTypeFlood, Severity: models.SeverityGreen, Title: "A", Country: "DE", EventTime: t0.Add(-3 * time.Hour)},
		{ExternalID: "b", Type: models.DisasterTypeFlood, Severity: models.SeverityOrange, Title: "B", Country: "DE", EventTime: t0.Add(-2 * time.Hour)},
		{ExternalID: "c", Type: models.DisasterTypeEarthquake, Severity: models.SeverityRed, Title: "C", Country: "JP", EventTime: t0.Add(-1 * time.Hour)},
		{ExternalID: "d", Type: models.DisasterTypeOther, Severity: models.SeverityGreen, Title: "D", EventTime: t0},
	}
	for _, e := range events {
		if _, err := db.UpsertDisaster(ctx, e, "test_update"); err != nil {
			t.Fatalf("upsert %s: %v", e.ExternalID, err)
		}
	}

	all, err := db.ListDisasters(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListDisasters failed: %v", err)
	}
	if len(all) != 4 || all[0].ExternalID != "d" {
		t.Errorf("expected 4 rows newest first, got %d", len(all))
	}

	orange := models.SeverityOrange
	severe, _ := db.ListDisasters(ctx, Filter{MinSeverity: &orange})
	if len(severe) != 2 {
		t.Errorf("expected ORANGE and RED only, got %d", len(severe))
	}

	flood := models.DisasterTypeFlood
	floods, _ := db.ListDisasters(ctx, Filter{Type: &flood, Limit: 1})
	if len(floods) != 1 || floods[0].ExternalID != "b" {
		t.Errorf("unexpected flood page %+v", floods)
	}

	sum, err := db.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.Total != 4 || sum.ByType["flood"] != 2 || sum.BySeverity["GREEN"] != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.LastUpdated == nil || !sum.LastUpdated.Equal(t0) {
		t.Errorf("unexpected last updated %v", sum.LastUpdated)
	}

	countries, err := db.Countries(ctx)
	if err != nil {
		t.Fatalf("Countries failed: %v", err)
	}
	if len(countries) != 2 || countries[0] != (CountryCount{"DE", 2}) {
		t.Errorf("unexpected countries %+v", countries)
	}
}

func TestSQLiteDB_Purge(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()

	old := []*models.CanonicalEvent{
		{ExternalID: "old-eq", Type: models.DisasterTypeEarthquake, Severity: models.SeverityGreen, Title: "old", EventTime: t0},
		{ExternalID: "old-fire", Type: models.DisasterTypeWildfire, Severity: models.SeverityGreen, Title: "fire", EventTime: t0},
	}
	for _, e := range old {
		if _, err := db.UpsertDisaster(ctx, e, "test_update"); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	bumped := *old[0]
	bumped.Severity = models.SeverityRed
	if _, err := db.UpsertDisaster(ctx, &bumped, "test_update"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := db.UpsertCluster(ctx, &models.WildfireCluster{
		ClusterKey: "stale", FirstDetected: t0.Add(-10 * 24 * time.Hour), LastDetected: t0.Add(-8 * 24 * time.Hour), UpdatedAt: t0,
	}); err != nil {
		t.Fatalf("cluster: %v", err)
	}

	clock.Advance(25 * time.Hour)
	if _, err := db.UpsertDisaster(ctx, &models.CanonicalEvent{
		ExternalID: "fresh", Type: models.DisasterTypeFlood, Severity: models.SeverityGreen, Title: "fresh", EventTime: clock.Now(),
	}, "test_update"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	res, err := db.Purge(ctx, clock.Now(), 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if res.Disasters != 1 || res.History != 1 || res.Clusters != 1 {
		t.Errorf("unexpected purge result %+v", res)
	}
	if _, err := db.GetByExternalID(ctx, "old-eq"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old earthquake should be purged, got %v", err)
	}
	if _, err := db.GetByExternalID(ctx, "old-fire"); err != nil {
		t.Errorf("wildfire inside lookback must survive: %v", err)
	}
}

func TestSQLiteDB_PurgeKeepsEventsStillReported(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()

	first, err := db.UpsertDisaster(ctx, quake(models.SeverityRed), "gdacs_update")
	if err != nil || !first.IsNew {
		t.Fatalf("expected insert, got %+v %v", first, err)
	}
	for i := 0; i < 12; i++ {
		clock.Advance(3 * time.Hour)
		out, err := db.UpsertDisaster(ctx, quake(models.SeverityRed), "gdacs_update")
		if err != nil {
			t.Fatalf("re-sighting %d: %v", i, err)
		}
		if out.IsNew || out.Changed {
			t.Fatalf("re-sighting %d should be unchanged, got %+v", i, out)
		}
	}

	res, err := db.Purge(ctx, clock.Now(), 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if res.Disasters != 0 {
		t.Errorf("event reported 0h ago was purged: %+v", res)
	}

	got, err := db.GetByExternalID(ctx, "gdacs:EQ123")
	if err != nil {
		t.Fatalf("event missing after purge: %v", err)
	}
	if got.ID != first.DisasterID {
		t.Errorf("surrogate id changed from %s to %s", first.DisasterID, got.ID)
	}
	if !got.UpdatedAt.Equal(t0) {
		t.Errorf("unchanged sightings must not move updated_at, got %v", got.UpdatedAt)
	}

	clock.Advance(3 * time.Hour)
	out, err := db.UpsertDisaster(ctx, quake(models.SeverityRed), "gdacs_update")
	if err != nil || out.IsNew {
		t.Errorf("next sighting should match the kept row, got %+v %v", out, err)
	}

	clock.Advance(25 * time.Hour)
	res, err = db.Purge(ctx, clock.Now(), 24*time.Hour, 7*24*time.Hour)
	if err != nil || res.Disasters != 1 {
		t.Errorf("event not reported for 25h should be purged, got %+v %v", res, err)
	}
}

func TestSQLiteDB_FeedHealth(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.GetFeedHealth(ctx, "usgs"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	avg := 120.5
	h := &models.FeedHealth{
		FeedName: "usgs", LastSuccess: &t0, AvgLatencyMs: &avg, Status: models.FeedStatusOK, UpdatedAt: t0,
	}
	if err := db.SaveFeedHealth(ctx, h); err != nil {
		t.Fatalf("SaveFeedHealth failed: %v", err)
	}
	h.ConsecutiveFailures = 2
	h.ErrorCount = 2
	h.Status = models.FeedStatusDegraded
	h.Notes = "timeout"
	if err := db.SaveFeedHealth(ctx, h); err != nil {
		t.Fatalf("SaveFeedHealth update failed: %v", err)
	}

	got, err := db.GetFeedHealth(ctx, "usgs")
	if err != nil {
		t.Fatalf("GetFeedHealth failed: %v", err)
	}
	if got.Status != models.FeedStatusDegraded || got.ConsecutiveFailures != 2 || got.Notes != "timeout" {
		t.Errorf("unexpected health %+v", got)
	}
	if got.LastSuccess == nil || !got.LastSuccess.Equal(t0) || got.LastError != nil {
		t.Errorf("unexpected timestamps %+v", got)
	}
	if got.AvgLatencyMs == nil || *got.AvgLatencyMs != 120.5 {
		t.Errorf("unexpected latency %v", got.AvgLatencyMs)
	}

	list, _ := db.ListFeedHealth(ctx)
	if len(list) != 1 {
		t.Errorf("expected 1 feed, got %d", len(list))
	}
}

func TestSQLiteDB_UpsertClusterKeepsFirstDetected(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	c := &models.WildfireCluster{
		ClusterKey: "34.0_-118.5_2025-01-01", Centroid: models.Coordinates{Latitude: 34, Longitude: -118.5},
		Detections24h: 3, FirstDetected: t0, LastDetected: t0, UpdatedAt: t0,
	}
	inserted, err := db.UpsertCluster(ctx, c)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got %v %v", inserted, err)
	}

	c2 := *c
	c2.FirstDetected = t0.Add(time.Hour)
	c2.LastDetected = t0.Add(2 * time.Hour)
	c2.Detections24h = 5
	inserted, err = db.UpsertCluster(ctx, &c2)
	if err != nil || inserted {
		t.Fatalf("expected update, got %v %v", inserted, err)
	}

	list, err := db.ListClusters(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListClusters: %d %v", len(list), err)
	}
	if !list[0].FirstDetected.Equal(t0) || list[0].Detections24h != 5 {
		t.Errorf("unexpected cluster %+v", list[0])
	}
}

func TestSQLiteDB_DeleteClustersExcept(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	for _, key := range []string{"38.0_-120.0_2025-01-05", "38.1_-120.1_2025-01-05", "-20.0_130.0_2025-01-05"} {
		if _, err := db.UpsertCluster(ctx, &models.WildfireCluster{
			ClusterKey: key, FirstDetected: t0, LastDetected: t0, UpdatedAt: t0,
		}); err != nil {
			t.Fatalf("UpsertCluster %s: %v", key, err)
		}
	}

	n, err := db.DeleteClustersExcept(ctx, []string{"38.1_-120.1_2025-01-05", "-20.0_130.0_2025-01-05"})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 stale cluster removed, got %d %v", n, err)
	}
	if got := countRows(t, db, "wildfire_clusters"); got != 2 {
		t.Errorf("expected 2 clusters left, got %d", got)
	}

	n, err = db.DeleteClustersExcept(ctx, nil)
	if err != nil || n != 2 {
		t.Errorf("no surviving keys should clear the table, got %d %v", n, err)
	}
}

func TestSQLiteDB_CyclonesAndLogs(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	a := &models.CycloneAdvisory{ExternalID: "nhc:al142024", Name: "Milton", Basin: "AT", Category: 4, MaxWindKt: 120, AdvisoryTime: t0, ForecastJSON: "{}"}
	for i := 0; i < 2; i++ {
		if err := db.UpsertCyclone(ctx, a); err != nil {
			t.Fatalf("UpsertCyclone failed: %v", err)
		}
	}
	a.AdvisoryTime = t0.Add(3 * time.Hour)
	a.Category = 5
	if err := db.UpsertCyclone(ctx, a); err != nil {
		t.Fatalf("UpsertCyclone failed: %v", err)
	}
	list, err := db.ListCyclones(ctx, 10)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 advisories, got %d (%v)", len(list), err)
	}
	if list[0].Category != 5 {
		t.Errorf("expected newest advisory first, got %+v", list[0])
	}

	err = db.AddProcessingLog(ctx, &models.ProcessingLog{
		EmailDate: t0, DisastersProcessed: 3, NewDisasters: 2, UpdatedDisasters: 1,
		Status: models.ProcessingSuccess, ProcessingTimeMs: 12, EmailSizeBytes: 2048,
	})
	if err != nil {
		t.Fatalf("AddProcessingLog failed: %v", err)
	}
	if n := countRows(t, db, "processing_logs"); n != 1 {
		t.Errorf("expected 1 processing log, got %d", n)
	}
}
