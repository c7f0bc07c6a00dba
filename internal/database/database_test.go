package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countUsers(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.Get(&n, "SELECT COUNT(*) FROM users"); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return n
}

func insertUser(ctx context.Context, tx *sqlx.Tx, id string) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO users (id, username, total_xp, level, created_at, updated_at) VALUES (?, ?, 0, 1, ?, ?)
	`), id, id, now, now)
	return err
}

func TestNew(t *testing.T) {
	t.Run("UnsupportedDriver", func(t *testing.T) {
		if _, err := New("mysql", "x"); err == nil {
			t.Error("Expected error for unsupported driver")
		}
	})

	t.Run("MigrateTwice", func(t *testing.T) {
		db := setupTestDB(t)
		if err := db.Migrate(); err != nil {
			t.Errorf("Second migrate should be a no-op, got %v", err)
		}
	})
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		db := setupTestDB(t)
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			return insertUser(ctx, tx, "u1")
		})
		if err != nil {
			t.Fatalf("WithTx failed: %v", err)
		}
		if n := countUsers(t, db); n != 1 {
			t.Errorf("Expected 1 user, got %d", n)
		}
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		db := setupTestDB(t)
		boom := errors.New("stage failed")
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := insertUser(ctx, tx, "u1"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("Expected stage error, got %v", err)
		}
		if n := countUsers(t, db); n != 0 {
			t.Errorf("Expected rollback, found %d users", n)
		}
	})

	t.Run("RetriesConflicts", func(t *testing.T) {
		db := setupTestDB(t)
		var retries int
		db.OnRetry(func(error, time.Duration) { retries++ })

		attempts := 0
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("update stats: %w", &pq.Error{Code: "40001"})
			}
			return insertUser(ctx, tx, "u1")
		})
		if err != nil {
			t.Fatalf("Expected success after retries, got %v", err)
		}
		if attempts != 3 || retries != 2 {
			t.Errorf("Expected 3 attempts and 2 retries, got %d and %d", attempts, retries)
		}
	})

	t.Run("GivesUp", func(t *testing.T) {
		db := setupTestDB(t)
		db.SetMaxRetries(1)
		attempts := 0
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			attempts++
			return &pq.Error{Code: "40P01"}
		})
		if err == nil {
			t.Fatal("Expected error after exhausting retries")
		}
		if attempts != 2 {
			t.Errorf("Expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("PermanentErrorNotRetried", func(t *testing.T) {
		db := setupTestDB(t)
		attempts := 0
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			attempts++
			return domain.ErrInvalidState
		})
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected a single attempt, got %d", attempts)
		}
	})
}

func TestDialect(t *testing.T) {
	db := setupTestDB(t)

	if IsPostgres(db) {
		t.Error("SQLite database reported as postgres")
	}
	if ForUpdate(db) != "" {
		t.Errorf("Expected no lock clause on sqlite, got %q", ForUpdate(db))
	}
	if got := db.Rebind("SELECT ? , ?"); got != "SELECT ? , ?" {
		t.Errorf("Expected question placeholders, got %q", got)
	}

	err := db.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return LockKey(context.Background(), tx, "leaderboard:x")
	})
	if err != nil {
		t.Errorf("LockKey should be a no-op on sqlite: %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&pq.Error{Code: "40001"}) {
		t.Error("serialization_failure should be retryable")
	}
	if IsRetryable(&pq.Error{Code: "23505"}) {
		t.Error("unique_violation should not be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestCleanData(t *testing.T) {
	db := setupTestDB(t)
	err := db.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return insertUser(context.Background(), tx, "u1")
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := db.CleanData(); err != nil {
		t.Fatalf("CleanData failed: %v", err)
	}
	if n := countUsers(t, db); n != 0 {
		t.Errorf("Expected empty users table, got %d", n)
	}
}

func TestMigrationIDColumns(t *testing.T) {
	// ids are opaque strings in both dialects
	for _, dialect := range []string{DriverPostgres, DriverSQLite} {
		t.Run(dialect, func(t *testing.T) {
			up, err := migrationsFS.ReadFile("migrations/" + dialect + "/000001_init.up.sql")
			if err != nil {
				t.Fatalf("Failed to read migration: %v", err)
			}
			if strings.Contains(strings.ToUpper(string(up)), " UUID") {
				t.Error("Expected TEXT id columns, found a UUID column")
			}
		})
	}
}
