// Package store is the SQL persistence layer: the client directory that
// campaigns are resolved against and the broadcast log of campaign summaries.
//
// SQLite (modernc.org/sqlite) is the default; PostgreSQL (lib/pq) is used when
// the driver is "postgres". Queries are written with '?' placeholders and
// rebound per dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is a database/sql backed store.
type Store struct {
	db      *sql.DB
	dialect string
	log     *slog.Logger
}

// Open connects to the database and applies pending migrations. For SQLite,
// dsn is a file path; its parent directory is created.
func Open(ctx context.Context, driver, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		clean := filepath.Clean(dsn)
		if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		sqlDB, err = sql.Open("sqlite", clean+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
		if err == nil {
			// SQLite allows a single writer.
			sqlDB.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		sqlDB, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	s := &Store{db: sqlDB, dialect: driver, log: log}
	if err := s.applyMigrations(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("store: opened", "driver", driver)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns the active driver name.
func (s *Store) Dialect() string { return s.dialect }

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func (s *Store) rebind(q string) string {
	if s.dialect != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
