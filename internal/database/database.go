// Package database provides storage access for the progression engine
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB wraps the SQL database connection
type DB struct {
	*sqlx.DB

	dsn        string
	maxRetries uint64
	onRetry    func(err error, wait time.Duration)
}

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection also keeps
		// in-memory databases alive for the life of the pool.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, dsn: dsn, maxRetries: 3}, nil
}

// SetMaxRetries bounds how many times WithTx re-runs a transaction
// after a serialization failure or deadlock.
func (db *DB) SetMaxRetries(n uint64) {
	db.maxRetries = n
}

// OnRetry registers a callback invoked before each transaction retry
func (db *DB) OnRetry(fn func(err error, wait time.Duration)) {
	db.onRetry = fn
}

// Migrate applies the embedded schema migrations for the active driver
func (db *DB) Migrate() error {
	dir := "migrations/" + db.DriverName()
	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var m *migrate.Migrate
	switch db.DriverName() {
	case DriverPostgres:
		// The postgres driver pins and later closes its connection, so it
		// gets a pool of its own.
		conn, err := sql.Open(DriverPostgres, db.dsn)
		if err != nil {
			return fmt.Errorf("failed to open migration connection: %w", err)
		}
		driver, err := pgmigrate.WithInstance(conn, &pgmigrate.Config{})
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to create migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, DriverPostgres, driver)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}
		defer m.Close()
	case DriverSQLite:
		driver, err := sqlitemigrate.WithInstance(db.DB.DB, &sqlitemigrate.Config{})
		if err != nil {
			return fmt.Errorf("failed to create migrate driver: %w", err)
		}
		// Not closed: closing the driver would close the shared pool.
		m, err = migrate.NewWithInstance("iofs", source, DriverSQLite, driver)
		if err != nil {
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// CleanData removes all rows (for testing)
func (db *DB) CleanData() error {
	tables := []string{
		"audit_events",
		"leaderboard_entries",
		"leaderboards",
		"user_achievements",
		"achievements",
		"user_game_stats",
		"xp_transactions",
		"game_sessions",
		"games",
		"users",
	}
	for _, table := range tables {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Serialization failures and
// deadlocks re-run fn from the start with exponential backoff.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	op := func() error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return classify(domain.StorageError("begin transaction", err))
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return classify(err)
		}
		if err := tx.Commit(); err != nil {
			return classify(domain.StorageError("commit transaction", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(policy, db.maxRetries), ctx)

	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		if db.onRetry != nil {
			db.onRetry(err, wait)
		}
	})
}

func classify(err error) error {
	if IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

// IsRetryable reports whether err is a transient concurrency conflict
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// IsPostgres reports whether q talks to PostgreSQL
func IsPostgres(q sqlx.ExtContext) bool {
	return q.DriverName() == DriverPostgres
}

// ForUpdate returns the row-lock clause for the dialect of q.
// SQLite serializes writers, so it needs none.
func ForUpdate(q sqlx.ExtContext) string {
	if IsPostgres(q) {
		return " FOR UPDATE"
	}
	return ""
}

// LockKey takes a transaction-scoped advisory lock on key.
// It is a no-op on SQLite.
func LockKey(ctx context.Context, tx *sqlx.Tx, key string) error {
	if !IsPostgres(tx) {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return domain.StorageError("advisory lock", err)
	}
	return nil
}
