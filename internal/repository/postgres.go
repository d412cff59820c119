package repository

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name:        "postgres",
	driver:      "postgres",
	placeholder: sq.Dollar,
	serialPK:    "BIGSERIAL PRIMARY KEY",
	columnsQuery: `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'disasters'`,
	tune: func(db *sql.DB) {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	},
}

func NewPostgresDB(dsn string) (*SQLStore, error) {
	s, err := open(postgresDialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return s, nil
}
