package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) disasterColumns() []string {
	return []string{
		"CAST(id AS TEXT)", s.keyCol(), "disaster_type", "severity", "title", "country",
		"coordinates_lat", "coordinates_lng", "event_timestamp", "description",
		"affected_population", "is_active", "updated_at",
	}
}

func scanDisaster(r rowScanner) (*models.Disaster, error) {
	var (
		d                  models.Disaster
		typ, sev           string
		country, desc      sql.NullString
		lat, lng           sql.NullFloat64
		eventTime, updated string
		affected           sql.NullInt64
		active             int64
	)
	if err := r.Scan(&d.ID, &d.ExternalID, &typ, &sev, &d.Title, &country, &lat, &lng,
		&eventTime, &desc, &affected, &active, &updated); err != nil {
		return nil, err
	}
	d.Type = models.ParseDisasterType(typ)
	d.Severity = models.ParseSeverity(sev)
	d.Country = country.String
	d.Description = desc.String
	if lat.Valid && lng.Valid {
		d.Coordinates = &models.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if affected.Valid {
		d.AffectedPopulation = models.Int64(affected.Int64)
	}
	d.EventTime = parseTime(eventTime)
	d.IsActive = active != 0
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func (s *SQLStore) getDisaster(ctx context.Context, q queryer, externalID string) (*models.Disaster, error) {
	query, args, err := s.sb.Select(s.disasterColumns()...).
		From("disasters").
		Where(sq.Eq{s.keyCol(): externalID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	d, err := scanDisaster(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error selecting disaster %s: %w", externalID, err)
	}
	return d, nil
}

func (s *SQLStore) GetByExternalID(ctx context.Context, externalID string) (*models.Disaster, error) {
	return s.getDisaster(ctx, s.db, externalID)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func eventColumns(e *models.CanonicalEvent) map[string]any {
	cols := map[string]any{
		"disaster_type":       string(e.Type),
		"title":               e.Title,
		"country":             nullString(e.Country),
		"coordinates_lat":     sql.NullFloat64{},
		"coordinates_lng":     sql.NullFloat64{},
		"event_timestamp":     fmtTime(e.EventTime),
		"description":         nullString(e.Description),
		"affected_population": sql.NullInt64{},
		"is_active":           1,
	}
	if e.Coordinates != nil {
		cols["coordinates_lat"] = sql.NullFloat64{Float64: e.Coordinates.Latitude, Valid: true}
		cols["coordinates_lng"] = sql.NullFloat64{Float64: e.Coordinates.Longitude, Valid: true}
	}
	if e.AffectedPopulation != nil {
		cols["affected_population"] = sql.NullInt64{Int64: *e.AffectedPopulation, Valid: true}
	}
	return cols
}

// insertDisaster returns inserted=false when another writer created the key
// first.
func (s *SQLStore) insertDisaster(ctx context.Context, tx *sql.Tx, e *models.CanonicalEvent, now time.Time) (string, bool, error) {
	cols := eventColumns(e)
	cols[s.keyCol()] = e.ExternalID
	cols["severity"] = string(e.Severity)
	cols["updated_at"] = fmtTime(now)
	cols["last_seen_at"] = fmtTime(now)

	query, args, err := s.sb.Insert("disasters").
		SetMap(cols).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO NOTHING RETURNING CAST(id AS TEXT)", s.keyCol())).
		ToSql()
	if err != nil {
		return "", false, err
	}

	var id string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error inserting disaster %s: %w", e.ExternalID, err)
	}
	return id, true, nil
}

func (s *SQLStore) UpsertDisaster(ctx context.Context, e *models.CanonicalEvent, reason string) (out models.UpsertOutcome, err error) {
	if e.ExternalID == "" {
		return out, errors.New("event has no external id")
	}
	now := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	existing, err := s.getDisaster(ctx, tx, e.ExternalID)
	if errors.Is(err, ErrNotFound) {
		id, inserted, ierr := s.insertDisaster(ctx, tx, e, now)
		if ierr != nil {
			return out, ierr
		}
		if inserted {
			if err = tx.Commit(); err != nil {
				return out, fmt.Errorf("error committing insert: %w", err)
			}
			return models.UpsertOutcome{DisasterID: id, IsNew: true, Changed: true}, nil
		}
		existing, err = s.getDisaster(ctx, tx, e.ExternalID)
	}
	if err != nil {
		return out, err
	}

	out = models.UpsertOutcome{DisasterID: existing.ID, PreviousSev: existing.Severity}
	if existing.SameContent(e) {
		if err = s.touch(ctx, tx, e.ExternalID, now); err != nil {
			return out, err
		}
		err = tx.Commit()
		return out, err
	}

	cols := eventColumns(e)
	cols["updated_at"] = fmtTime(now)
	cols["last_seen_at"] = fmtTime(now)
	query, args, err := s.sb.Update("disasters").
		SetMap(cols).
		Where(sq.Eq{s.keyCol(): e.ExternalID}).
		ToSql()
	if err != nil {
		return out, err
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return out, fmt.Errorf("error updating disaster %s: %w", e.ExternalID, err)
	}
	out.Changed = true

	if existing.Severity != e.Severity {
		changed, cerr := s.swapSeverity(ctx, tx, existing, e, reason, now)
		if cerr != nil {
			err = cerr
			return out, err
		}
		out.SeverityChanged = changed
	}

	if err = tx.Commit(); err != nil {
		return out, fmt.Errorf("error committing update: %w", err)
	}
	return out, nil
}

// touch records a sighting without changing content, so updated_at still
// marks the last real change.
func (s *SQLStore) touch(ctx context.Context, tx *sql.Tx, externalID string, now time.Time) error {
	query, args, err := s.sb.Update("disasters").
		Set("last_seen_at", fmtTime(now)).
		Where(sq.Eq{s.keyCol(): externalID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error touching disaster %s: %w", externalID, err)
	}
	return nil
}

// swapSeverity moves severity from the value read earlier to the new one and
// appends history only if this writer performed the transition.
func (s *SQLStore) swapSeverity(ctx context.Context, tx *sql.Tx, existing *models.Disaster, e *models.CanonicalEvent, reason string, now time.Time) (bool, error) {
	query, args, err := s.sb.Update("disasters").
		Set("severity", string(e.Severity)).
		Where(sq.Eq{s.keyCol(): e.ExternalID, "severity": string(existing.Severity)}).
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("error updating severity of %s: %w", e.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	query, args, err = s.sb.Insert("disaster_history").
		Columns("disaster_id", "severity_old", "severity_new", "change_reason", "changed_at").
		Values(existing.ID, string(existing.Severity), string(e.Severity), reason, fmtTime(now)).
		ToSql()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("error inserting history for %s: %w", e.ExternalID, err)
	}
	return true, nil
}

const lastSeen = "COALESCE(last_seen_at, updated_at)"

func severitiesAtLeast(min models.Severity) []string {
	var out []string
	for _, s := range []models.Severity{models.SeverityGreen, models.SeverityOrange, models.SeverityRed} {
		if s.Rank() >= min.Rank() {
			out = append(out, string(s))
		}
	}
	return out
}

func (s *SQLStore) queryDisasters(ctx context.Context, b sq.SelectBuilder) ([]models.Disaster, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying disasters: %w", err)
	}
	defer rows.Close()

	var out []models.Disaster
	for rows.Next() {
		d, err := scanDisaster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListDisasters(ctx context.Context, opts Filter) ([]models.Disaster, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	b := s.sb.Select(s.disasterColumns()...).
		From("disasters").
		Where(sq.Eq{"is_active": 1}).
		OrderBy("event_timestamp DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(max(opts.Offset, 0)))
	if opts.Since != nil {
		b = b.Where(sq.GtOrEq{"event_timestamp": fmtTime(*opts.Since)})
	}
	if opts.Type != nil {
		b = b.Where(sq.Eq{"disaster_type": string(*opts.Type)})
	}
	if opts.MinSeverity != nil {
		b = b.Where(sq.Eq{"severity": severitiesAtLeast(*opts.MinSeverity)})
	}
	if opts.Country != "" {
		b = b.Where(sq.Eq{"country": opts.Country})
	}
	return s.queryDisasters(ctx, b)
}

func (s *SQLStore) ActiveWildfires(ctx context.Context, since time.Time) ([]models.Disaster, error) {
	return s.queryDisasters(ctx, s.sb.Select(s.disasterColumns()...).
		From("disasters").
		Where(sq.Eq{"disaster_type": string(models.DisasterTypeWildfire), "is_active": 1}).
		Where(sq.NotEq{"coordinates_lat": nil, "coordinates_lng": nil}).
		Where(sq.GtOrEq{"event_timestamp": fmtTime(since)}).
		OrderBy("event_timestamp ASC"))
}

func (s *SQLStore) queryHistory(ctx context.Context, b sq.SelectBuilder) ([]models.HistoryEntry, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var (
			h          models.HistoryEntry
			title, old sql.NullString
			reason     sql.NullString
			sevNew, at string
		)
		if err := rows.Scan(&h.DisasterID, &title, &old, &sevNew, &reason, &at); err != nil {
			return nil, err
		}
		h.Title = title.String
		if old.Valid {
			h.SeverityOld = models.ParseSeverity(old.String)
		}
		h.SeverityNew = models.ParseSeverity(sevNew)
		h.Reason = reason.String
		h.ChangedAt = parseTime(at)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLStore) historySelect() sq.SelectBuilder {
	return s.sb.Select("h.disaster_id", "d.title", "h.severity_old", "h.severity_new", "h.change_reason", "h.changed_at").
		From("disaster_history h").
		LeftJoin("disasters d ON CAST(d.id AS TEXT) = h.disaster_id")
}

func (s *SQLStore) HistoryFor(ctx context.Context, disasterID string) ([]models.HistoryEntry, error) {
	return s.queryHistory(ctx, s.historySelect().
		Where(sq.Eq{"h.disaster_id": disasterID}).
		OrderBy("h.changed_at ASC", "h.id ASC"))
}

func (s *SQLStore) RecentHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryHistory(ctx, s.historySelect().
		OrderBy("h.changed_at DESC", "h.id DESC").
		Limit(uint64(limit)))
}

func (s *SQLStore) Summary(ctx context.Context) (*Summary, error) {
	query, args, err := s.sb.Select("disaster_type", "severity", "COUNT(*)", "MAX(updated_at)").
		From("disasters").
		Where(sq.Eq{"is_active": 1}).
		GroupBy("disaster_type", "severity").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying summary: %w", err)
	}
	defer rows.Close()

	sum := &Summary{ByType: map[string]int{}, BySeverity: map[string]int{}}
	var latest string
	for rows.Next() {
		var (
			typ, sev string
			n        int
			last     sql.NullString
		)
		if err := rows.Scan(&typ, &sev, &n, &last); err != nil {
			return nil, err
		}
		sum.Total += n
		sum.ByType[typ] += n
		sum.BySeverity[sev] += n
		if last.Valid && last.String > latest {
			latest = last.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if latest != "" {
		t := parseTime(latest)
		sum.LastUpdated = &t
	}
	return sum, nil
}

func (s *SQLStore) Countries(ctx context.Context) ([]CountryCount, error) {
	query, args, err := s.sb.Select("country", "COUNT(*) AS n").
		From("disasters").
		Where(sq.Eq{"is_active": 1}).
		Where(sq.NotEq{"country": nil}).
		Where(sq.NotEq{"country": ""}).
		GroupBy("country").
		OrderBy("n DESC", "country ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying countries: %w", err)
	}
	defer rows.Close()

	var out []CountryCount
	for rows.Next() {
		var c CountryCount
		if err := rows.Scan(&c.Country, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Purge drops disasters no feed has reported within retention (wildfires
// within wildfireRetention), their history, and clusters last detected
// before the wildfire cutoff.
func (s *SQLStore) Purge(ctx context.Context, now time.Time, retention, wildfireRetention time.Duration) (res PurgeResult, err error) {
	cutoff := fmtTime(now.Add(-retention))
	fireCutoff := fmtTime(now.Add(-wildfireRetention))
	wildfire := string(models.DisasterTypeWildfire)
	stale := sq.Or{
		sq.And{sq.NotEq{"disaster_type": wildfire}, sq.Expr(lastSeen+" < ?", cutoff)},
		sq.And{sq.Eq{"disaster_type": wildfire}, sq.Expr(lastSeen+" < ?", fireCutoff)},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	staleIDs := sq.Select("CAST(id AS TEXT)").From("disasters").Where(stale)
	steps := []struct {
		b   sq.Sqlizer
		dst *int64
	}{
		{s.sb.Delete("disaster_history").Where(sq.Expr("disaster_id IN (?)", staleIDs)), &res.History},
		{s.sb.Delete("disasters").Where(stale), &res.Disasters},
		{s.sb.Delete("wildfire_clusters").Where(sq.Lt{"last_detected": fireCutoff}), &res.Clusters},
	}
	for _, step := range steps {
		query, args, err := step.b.ToSql()
		if err != nil {
			return res, err
		}
		r, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return res, fmt.Errorf("error purging: %w", err)
		}
		if *step.dst, err = r.RowsAffected(); err != nil {
			return res, err
		}
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("error committing purge: %w", err)
	}
	return res, nil
}
