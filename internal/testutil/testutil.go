// Package testutil provides an in-memory database and fixtures for tests
package testutil

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewDB opens a migrated in-memory SQLite database closed with the test
func NewDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a logger that discards output
func Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Clock is a settable time source
type Clock struct {
	Current time.Time
}

// NewClock starts a clock at t
func NewClock(t time.Time) *Clock {
	return &Clock{Current: t.UTC()}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	return c.Current
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}

// CreateUser inserts a user with zero XP at level 1
func CreateUser(t *testing.T, db *database.DB, username string) string {
	t.Helper()

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := db.ExecContext(context.Background(), db.Rebind(`
		INSERT INTO users (id, username, total_xp, level, created_at, updated_at)
		VALUES (?, ?, 0, 1, ?, ?)
	`), id, username, now, now)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return id
}

// CreateGame inserts an active game with the given reward configuration
func CreateGame(t *testing.T, db *database.DB, id, gameType string, xpCalc domain.JSONMap) string {
	t.Helper()

	now := time.Now().UTC()
	_, err := db.ExecContext(context.Background(), db.Rebind(`
		INSERT INTO games (id, name, game_type, is_active, xp_calculation, play_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`), id, id, gameType, true, xpCalc, now, now)
	if err != nil {
		t.Fatalf("Failed to create game: %v", err)
	}
	return id
}

// SetGameActive toggles a game's active flag
func SetGameActive(t *testing.T, db *database.DB, id string, active bool) {
	t.Helper()

	if _, err := db.Exec(db.Rebind(`UPDATE games SET is_active = ? WHERE id = ?`), active, id); err != nil {
		t.Fatalf("Failed to update game: %v", err)
	}
}

// CreateAchievement inserts an active achievement
func CreateAchievement(t *testing.T, db *database.DB, id string, gameID *string, requirement domain.JSONMap, xpReward int64) string {
	t.Helper()

	_, err := db.Exec(db.Rebind(`
		INSERT INTO achievements (id, game_id, name, description, requirement, xp_reward, is_active, unlock_count, created_at)
		VALUES (?, ?, ?, '', ?, ?, ?, 0, ?)
	`), id, gameID, id, requirement, xpReward, true, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create achievement: %v", err)
	}
	return id
}

// CreateLeaderboard inserts an active leaderboard
func CreateLeaderboard(t *testing.T, db *database.DB, id string, gameID *string, criteria domain.JSONMap, period domain.TimePeriod) string {
	t.Helper()

	_, err := db.Exec(db.Rebind(`
		INSERT INTO leaderboards (id, game_id, name, ranking_criteria, time_period, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), id, gameID, id, criteria, period, true, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create leaderboard: %v", err)
	}
	return id
}

// SetStats writes a (user, game) stats row directly
func SetStats(t *testing.T, db *database.DB, s domain.UserGameStats) {
	t.Helper()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err := db.Exec(db.Rebind(`
		INSERT INTO user_game_stats (id, user_id, game_id, games_played, games_completed, total_xp_earned,
			current_streak, best_streak, custom_stats, average_score, best_score, last_played_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.UserID, s.GameID, s.GamesPlayed, s.GamesCompleted, s.TotalXPEarned,
		s.CurrentStreak, s.BestStreak, s.CustomStats, s.AverageScore, s.BestScore, s.LastPlayedAt, now, now)
	if err != nil {
		t.Fatalf("Failed to set stats: %v", err)
	}
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
