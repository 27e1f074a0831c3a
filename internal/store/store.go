// Package store is the catalog's persistence layer: a sqlx-backed
// relational store with one repository per entity and a unit-of-work type
// that owns the transaction those repositories run in.
//
// The concrete repositories share one generic implementation parameterized
// by entity metadata (table, columns, conflict keys). All writes happen
// inside a UnitOfWork; a repository used outside one fails with
// ErrNoSession rather than touching the database.
//
// Two backends are supported: PostgreSQL (via the pgx stdlib driver),
// which gets native batched upserts, and MySQL, which falls back to
// per-row lookup-update-insert.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoSession is returned when a repository is used outside a unit of
// work. This is a programming error, not a runtime condition.
var ErrNoSession = errors.New("no session: repository used outside a unit of work")

// Dialect selects backend-specific SQL.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

func (d Dialect) bindType() int {
	if d == DialectPostgres {
		return sqlx.DOLLAR
	}
	return sqlx.QUESTION
}

// DB is the catalog database handle: a connection pool plus the dialect
// its SQL is generated for. It is safe for concurrent use; transactions
// are handed out one per UnitOfWork.
type DB struct {
	pool    *sqlx.DB
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

// Open connects using the connection URL. postgres:// and postgresql://
// URLs use the pgx driver; mysql:// URLs are handed to the MySQL driver
// as a DSN with the scheme stripped.
func Open(ctx context.Context, rawURL string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, dsn, dialect, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	pool, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	pool.SetMaxOpenConns(10)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxLifetime(30 * time.Minute)

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	logger.Info("database connected", zap.String("dialect", string(dialect)))
	return &DB{pool: pool, dialect: dialect, logger: logger, now: time.Now}, nil
}

// NewWithDB wraps an existing connection, for tests that substitute a
// mock driver.
func NewWithDB(db *sql.DB, driverName string, dialect Dialect, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		pool:    sqlx.NewDb(db, driverName),
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
	}
}

func parseURL(rawURL string) (driver, dsn string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return "pgx", rawURL, DialectPostgres, nil
	case strings.HasPrefix(rawURL, "mysql://"):
		return "mysql", strings.TrimPrefix(rawURL, "mysql://"), DialectMySQL, nil
	default:
		return "", "", "", fmt.Errorf("unsupported database URL scheme in %q", rawURL)
	}
}

// Dialect reports which backend the handle talks to.
func (d *DB) Dialect() Dialect { return d.dialect }

// SetClock overrides the timestamp source. Tests only.
func (d *DB) SetClock(now func() time.Time) { d.now = now }

// Close releases the connection pool.
func (d *DB) Close() error { return d.pool.Close() }

// session is the per-UnitOfWork view of the database: one transaction,
// the dialect, and the clock that stamps created_at/updated_at.
type session struct {
	tx      *sqlx.Tx
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

// rebind converts ?-placeholder SQL to the dialect's placeholder style.
func (s *session) rebind(query string) string {
	return sqlx.Rebind(s.dialect.bindType(), query)
}
