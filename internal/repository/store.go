package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jonboulle/clockwork"
)

// SchemaMode is decided once when the store opens. Legacy databases predate
// the external_id column and key disasters by their text primary key.
type SchemaMode int

const (
	SchemaModern SchemaMode = iota
	SchemaLegacy
)

func (m SchemaMode) String() string {
	if m == SchemaLegacy {
		return "legacy"
	}
	return "modern"
}

type dialect struct {
	name         string
	driver       string
	placeholder  sq.PlaceholderFormat
	serialPK     string
	columnsQuery string
	tune         func(*sql.DB)
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	mode    SchemaMode
	sb      sq.StatementBuilderType
	clock   clockwork.Clock
}

var _ Store = (*SQLStore)(nil)

// timeLayout is fixed width so stored timestamps order lexicographically in
// both dialects.
const timeLayout = "2006-01-02T15:04:05Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func open(d dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if d.tune != nil {
		d.tune(db)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		sb:      sq.StatementBuilder.PlaceholderFormat(d.placeholder),
		clock:   clockwork.NewRealClock(),
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

// Open picks the dialect by driver name ("sqlite" or "postgres").
func Open(driver, dsn string) (*SQLStore, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		return NewSQLiteDB(dsn)
	case "postgres", "postgresql", "pq":
		return NewPostgresDB(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (s *SQLStore) Mode() SchemaMode { return s.mode }

// SetClock replaces the time source used for updated_at stamps.
func (s *SQLStore) SetClock(c clockwork.Clock) { s.clock = c }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// keyCol is the column disasters are upserted on.
func (s *SQLStore) keyCol() string {
	if s.mode == SchemaLegacy {
		return "id"
	}
	return "external_id"
}

// disasterColumnSet lists the columns of an existing disasters table.
func (s *SQLStore) disasterColumnSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("error probing disasters columns: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	pk := s.dialect.serialPK
	disasters := `
		CREATE TABLE IF NOT EXISTS disasters (
			id ` + pk + `,
			external_id TEXT NOT NULL,
			disaster_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			country TEXT,
			coordinates_lat DOUBLE PRECISION,
			coordinates_lng DOUBLE PRECISION,
			event_timestamp TEXT NOT NULL,
			description TEXT,
			affected_population BIGINT,
			is_active INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL,
			last_seen_at TEXT
		)`
	if _, err := s.db.ExecContext(ctx, disasters); err != nil {
		return err
	}

	cols, err := s.disasterColumnSet(ctx)
	if err != nil {
		return err
	}
	mode := SchemaLegacy
	if cols["external_id"] {
		mode = SchemaModern
	}
	s.mode = mode
	// Older tables predate last_seen_at; Purge falls back to updated_at until
	// a row is seen again.
	if !cols["last_seen_at"] {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE disasters ADD COLUMN last_seen_at TEXT`); err != nil {
			return fmt.Errorf("error adding last_seen_at: %w", err)
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS disaster_history (
			id ` + pk + `,
			disaster_id TEXT NOT NULL,
			severity_old TEXT,
			severity_new TEXT NOT NULL,
			change_reason TEXT,
			changed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feed_health (
			feed_name TEXT PRIMARY KEY,
			last_success TEXT,
			last_error TEXT,
			error_count BIGINT NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			avg_latency_ms DOUBLE PRECISION,
			status TEXT NOT NULL,
			notes TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cyclones (
			id ` + pk + `,
			external_id TEXT NOT NULL,
			name TEXT,
			basin TEXT,
			category INTEGER,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			max_wind_kt DOUBLE PRECISION,
			min_pressure_mb DOUBLE PRECISION,
			movement_dir DOUBLE PRECISION,
			movement_speed_kt DOUBLE PRECISION,
			advisory_time TEXT NOT NULL,
			forecast_json TEXT,
			UNIQUE (external_id, advisory_time)
		)`,
		`CREATE TABLE IF NOT EXISTS wildfire_clusters (
			cluster_key TEXT PRIMARY KEY,
			centroid_lat DOUBLE PRECISION NOT NULL,
			centroid_lng DOUBLE PRECISION NOT NULL,
			detections_6h INTEGER NOT NULL,
			detections_24h INTEGER NOT NULL,
			growth_rate DOUBLE PRECISION NOT NULL,
			area_estimate_km2 DOUBLE PRECISION NOT NULL,
			intensity_score DOUBLE PRECISION NOT NULL,
			first_detected TEXT,
			last_detected TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS processing_logs (
			id ` + pk + `,
			email_date TEXT,
			disasters_processed INTEGER NOT NULL,
			new_disasters INTEGER NOT NULL,
			updated_disasters INTEGER NOT NULL,
			status TEXT NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			email_size_bytes INTEGER,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_disasters_type ON disasters(disaster_type)`,
		`CREATE INDEX IF NOT EXISTS idx_disasters_updated_at ON disasters(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_disasters_last_seen_at ON disasters(last_seen_at)`,
		`CREATE INDEX IF NOT EXISTS idx_disasters_event_timestamp ON disasters(event_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_history_disaster_id ON disaster_history(disaster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_changed_at ON disaster_history(changed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_last_detected ON wildfire_clusters(last_detected)`,
	}
	if mode == SchemaModern {
		stmts = append(stmts, `CREATE UNIQUE INDEX IF NOT EXISTS idx_disasters_external_id ON disasters(external_id)`)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
