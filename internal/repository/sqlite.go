package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:         "sqlite",
	driver:       "sqlite",
	placeholder:  sq.Question,
	serialPK:     "INTEGER PRIMARY KEY AUTOINCREMENT",
	columnsQuery: `SELECT name FROM pragma_table_info('disasters')`,
	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between concurrent writers.
	tune: func(db *sql.DB) { db.SetMaxOpenConns(1) },
}

// sqlitePragmas let another process (the ingest-email pipe) write the same
// file: writers wait up to busy_timeout instead of failing with SQLITE_BUSY,
// and immediate transactions take the write lock at BEGIN so a read-then-write
// upsert never fails on lock upgrade.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + sqlitePragmas
}

func NewSQLiteDB(path string) (*SQLStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}
	s, err := open(sqliteDialect, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite %s: %w", path, err)
	}
	return s, nil
}
