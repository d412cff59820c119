package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

var feedHealthColumns = []string{
	"feed_name", "last_success", "last_error", "error_count", "consecutive_failures",
	"avg_latency_ms", "status", "notes", "updated_at",
}

func scanFeedHealth(r rowScanner) (*models.FeedHealth, error) {
	var (
		h               models.FeedHealth
		lastOK, lastErr sql.NullString
		avg             sql.NullFloat64
		status, updated string
		notes           sql.NullString
	)
	if err := r.Scan(&h.FeedName, &lastOK, &lastErr, &h.ErrorCount, &h.ConsecutiveFailures,
		&avg, &status, &notes, &updated); err != nil {
		return nil, err
	}
	h.LastSuccess = timePtr(lastOK)
	h.LastError = timePtr(lastErr)
	if avg.Valid {
		v := avg.Float64
		h.AvgLatencyMs = &v
	}
	h.Status = models.FeedStatus(status)
	h.Notes = notes.String
	h.UpdatedAt = parseTime(updated)
	return &h, nil
}

func (s *SQLStore) GetFeedHealth(ctx context.Context, feedName string) (*models.FeedHealth, error) {
	query, args, err := s.sb.Select(feedHealthColumns...).
		From("feed_health").
		Where(sq.Eq{"feed_name": feedName}).
		ToSql()
	if err != nil {
		return nil, err
	}
	h, err := scanFeedHealth(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error selecting feed health %s: %w", feedName, err)
	}
	return h, nil
}

func (s *SQLStore) SaveFeedHealth(ctx context.Context, h *models.FeedHealth) error {
	var avg sql.NullFloat64
	if h.AvgLatencyMs != nil {
		avg = sql.NullFloat64{Float64: *h.AvgLatencyMs, Valid: true}
	}
	query, args, err := s.sb.Insert("feed_health").
		Columns(feedHealthColumns...).
		Values(h.FeedName, nullTime(h.LastSuccess), nullTime(h.LastError), h.ErrorCount,
			h.ConsecutiveFailures, avg, string(h.Status), nullString(h.Notes), fmtTime(h.UpdatedAt)).
		Suffix(`ON CONFLICT (feed_name) DO UPDATE SET
			last_success = excluded.last_success,
			last_error = excluded.last_error,
			error_count = excluded.error_count,
			consecutive_failures = excluded.consecutive_failures,
			avg_latency_ms = excluded.avg_latency_ms,
			status = excluded.status,
			notes = excluded.notes,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error saving feed health %s: %w", h.FeedName, err)
	}
	return nil
}

func (s *SQLStore) ListFeedHealth(ctx context.Context) ([]models.FeedHealth, error) {
	query, args, err := s.sb.Select(feedHealthColumns...).
		From("feed_health").
		OrderBy("feed_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying feed health: %w", err)
	}
	defer rows.Close()

	var out []models.FeedHealth
	for rows.Next() {
		h, err := scanFeedHealth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// UpsertCluster overwrites the metrics of an existing key but keeps the
// first_detected it was created with.
func (s *SQLStore) UpsertCluster(ctx context.Context, c *models.WildfireCluster) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sb.Select("1").From("wildfire_clusters").
		Where(sq.Eq{"cluster_key": c.ClusterKey}).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = tx.QueryRowContext(ctx, query, args...).Scan(&one)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("error checking cluster %s: %w", c.ClusterKey, err)
	}

	query, args, err = s.sb.Insert("wildfire_clusters").
		Columns("cluster_key", "centroid_lat", "centroid_lng", "detections_6h", "detections_24h",
			"growth_rate", "area_estimate_km2", "intensity_score", "first_detected", "last_detected", "updated_at").
		Values(c.ClusterKey, c.Centroid.Latitude, c.Centroid.Longitude, c.Detections6h, c.Detections24h,
			c.GrowthRate, c.AreaEstimateKm2, c.IntensityScore, fmtTime(c.FirstDetected), fmtTime(c.LastDetected),
			fmtTime(c.UpdatedAt)).
		Suffix(`ON CONFLICT (cluster_key) DO UPDATE SET
			centroid_lat = excluded.centroid_lat,
			centroid_lng = excluded.centroid_lng,
			detections_6h = excluded.detections_6h,
			detections_24h = excluded.detections_24h,
			growth_rate = excluded.growth_rate,
			area_estimate_km2 = excluded.area_estimate_km2,
			intensity_score = excluded.intensity_score,
			first_detected = COALESCE(wildfire_clusters.first_detected, excluded.first_detected),
			last_detected = excluded.last_detected,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("error upserting cluster %s: %w", c.ClusterKey, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("error committing cluster %s: %w", c.ClusterKey, err)
	}
	return !exists, nil
}

func (s *SQLStore) DeleteClustersExcept(ctx context.Context, keys []string) (int64, error) {
	b := s.sb.Delete("wildfire_clusters")
	if len(keys) > 0 {
		b = b.Where(sq.NotEq{"cluster_key": keys})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("error deleting stale clusters: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) ListClusters(ctx context.Context, limit int) ([]models.WildfireCluster, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query, args, err := s.sb.Select("cluster_key", "centroid_lat", "centroid_lng", "detections_6h",
		"detections_24h", "growth_rate", "area_estimate_km2", "intensity_score", "first_detected",
		"last_detected", "updated_at").
		From("wildfire_clusters").
		OrderBy("intensity_score DESC", "cluster_key ASC").
		Limit(uint64(min(limit, maxListLimit))).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying clusters: %w", err)
	}
	defer rows.Close()

	var out []models.WildfireCluster
	for rows.Next() {
		var (
			c             models.WildfireCluster
			first         sql.NullString
			last, updated string
		)
		if err := rows.Scan(&c.ClusterKey, &c.Centroid.Latitude, &c.Centroid.Longitude, &c.Detections6h,
			&c.Detections24h, &c.GrowthRate, &c.AreaEstimateKm2, &c.IntensityScore, &first, &last, &updated); err != nil {
			return nil, err
		}
		if t := timePtr(first); t != nil {
			c.FirstDetected = *t
		}
		c.LastDetected = parseTime(last)
		c.UpdatedAt = parseTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertCyclone(ctx context.Context, a *models.CycloneAdvisory) error {
	query, args, err := s.sb.Insert("cyclones").
		Columns("external_id", "name", "basin", "category", "latitude", "longitude", "max_wind_kt",
			"min_pressure_mb", "movement_dir", "movement_speed_kt", "advisory_time", "forecast_json").
		Values(a.ExternalID, a.Name, a.Basin, a.Category, a.Latitude, a.Longitude, a.MaxWindKt,
			a.MinPressureMb, a.MovementDir, a.MovementSpeedKt, fmtTime(a.AdvisoryTime), a.ForecastJSON).
		Suffix(`ON CONFLICT (external_id, advisory_time) DO UPDATE SET
			name = excluded.name,
			basin = excluded.basin,
			category = excluded.category,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			max_wind_kt = excluded.max_wind_kt,
			min_pressure_mb = excluded.min_pressure_mb,
			movement_dir = excluded.movement_dir,
			movement_speed_kt = excluded.movement_speed_kt,
			forecast_json = excluded.forecast_json`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error upserting cyclone %s: %w", a.ExternalID, err)
	}
	return nil
}

func (s *SQLStore) ListCyclones(ctx context.Context, limit int) ([]models.CycloneAdvisory, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query, args, err := s.sb.Select("external_id", "name", "basin", "category", "latitude", "longitude",
		"max_wind_kt", "min_pressure_mb", "movement_dir", "movement_speed_kt", "advisory_time", "forecast_json").
		From("cyclones").
		OrderBy("advisory_time DESC", "external_id ASC").
		Limit(uint64(min(limit, maxListLimit))).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying cyclones: %w", err)
	}
	defer rows.Close()

	var out []models.CycloneAdvisory
	for rows.Next() {
		var (
			a           models.CycloneAdvisory
			name, basin sql.NullString
			forecast    sql.NullString
			advisory    string
		)
		if err := rows.Scan(&a.ExternalID, &name, &basin, &a.Category, &a.Latitude, &a.Longitude,
			&a.MaxWindKt, &a.MinPressureMb, &a.MovementDir, &a.MovementSpeedKt, &advisory, &forecast); err != nil {
			return nil, err
		}
		a.Name = name.String
		a.Basin = basin.String
		a.AdvisoryTime = parseTime(advisory)
		a.ForecastJSON = forecast.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddProcessingLog(ctx context.Context, l *models.ProcessingLog) error {
	var emailDate sql.NullString
	if !l.EmailDate.IsZero() {
		emailDate = sql.NullString{String: fmtTime(l.EmailDate), Valid: true}
	}
	query, args, err := s.sb.Insert("processing_logs").
		Columns("email_date", "disasters_processed", "new_disasters", "updated_disasters",
			"status", "processing_time_ms", "email_size_bytes", "created_at").
		Values(emailDate, l.DisastersProcessed, l.NewDisasters, l.UpdatedDisasters,
			string(l.Status), l.ProcessingTimeMs, l.EmailSizeBytes, fmtTime(s.clock.Now())).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error inserting processing log: %w", err)
	}
	return nil
}
