// Package stats maintains rolling per-(user, game) statistics
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrStatsNotFound = fmt.Errorf("%w: game stats", domain.ErrNotFound)

const statsColumns = `id, user_id, game_id, games_played, games_completed, total_xp_earned,
	current_streak, best_streak, custom_stats, average_score, best_score, last_played_at, created_at, updated_at`

// Service provides the stats aggregator
type Service struct {
	db  *database.DB
	now func() time.Time
}

// New creates a new stats service
func New(db *database.DB) *Service {
	return &Service{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Lock returns the (user, game) row locked for the rest of tx,
// creating an empty row first when the pair has never been recorded.
func (s *Service) Lock(ctx context.Context, tx *sqlx.Tx, userID, gameID string) (*domain.UserGameStats, error) {
	now := s.now().UTC()
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO user_game_stats (id, user_id, game_id, custom_stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, game_id) DO NOTHING
	`), uuid.New().String(), userID, gameID, domain.JSONMap{}, now, now)
	if err != nil {
		return nil, domain.StorageError("ensure game stats", err)
	}

	var st domain.UserGameStats
	err = sqlx.GetContext(ctx, tx, &st, tx.Rebind(`SELECT `+statsColumns+`
		FROM user_game_stats WHERE user_id = ? AND game_id = ?`+database.ForUpdate(tx)), userID, gameID)
	if err != nil {
		return nil, domain.StorageError("lock game stats", err)
	}
	return &st, nil
}

// RecordCompletion folds a finished session into its (user, game) row
func (s *Service) RecordCompletion(ctx context.Context, tx *sqlx.Tx, sess *domain.Session) (*domain.UserGameStats, error) {
	st, err := s.Lock(ctx, tx, sess.UserID, sess.GameID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	Apply(st, sess, now)

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE user_game_stats
		SET games_played = ?, games_completed = ?, total_xp_earned = ?, current_streak = ?, best_streak = ?,
			custom_stats = ?, average_score = ?, best_score = ?, last_played_at = ?, updated_at = ?
		WHERE id = ?
	`), st.GamesPlayed, st.GamesCompleted, st.TotalXPEarned, st.CurrentStreak, st.BestStreak,
		st.CustomStats, st.AverageScore, st.BestScore, st.LastPlayedAt, st.UpdatedAt, st.ID)
	if err != nil {
		return nil, domain.StorageError("update game stats", err)
	}
	return st, nil
}

// Get reads the (user, game) row
func (s *Service) Get(ctx context.Context, q sqlx.ExtContext, userID, gameID string) (*domain.UserGameStats, error) {
	var st domain.UserGameStats
	err := sqlx.GetContext(ctx, q, &st, q.Rebind(`SELECT `+statsColumns+`
		FROM user_game_stats WHERE user_id = ? AND game_id = ?`), userID, gameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatsNotFound
		}
		return nil, domain.StorageError("get game stats", err)
	}
	return &st, nil
}

// Find is Get that reports a missing row as nil
func (s *Service) Find(ctx context.Context, q sqlx.ExtContext, userID, gameID string) (*domain.UserGameStats, error) {
	st, err := s.Get(ctx, q, userID, gameID)
	if errors.Is(err, ErrStatsNotFound) {
		return nil, nil
	}
	return st, err
}

// Totals aggregates every game of a user; nil when the user has none
func (s *Service) Totals(ctx context.Context, q sqlx.ExtContext, userID string) (*domain.UserGameStats, error) {
	var rows []domain.UserGameStats
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`SELECT `+statsColumns+`
		FROM user_game_stats WHERE user_id = ?`), userID)
	if err != nil {
		return nil, domain.StorageError("list game stats", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return Aggregate(userID, rows), nil
}

// Aggregate folds per-game rows into platform-wide figures: counters and
// XP are summed, streaks and best score take the maximum, and the average
// score is weighted by completed games.
func Aggregate(userID string, rows []domain.UserGameStats) *domain.UserGameStats {
	out := &domain.UserGameStats{UserID: userID, CustomStats: domain.JSONMap{}}
	var weighted float64
	for _, r := range rows {
		out.GamesPlayed += r.GamesPlayed
		out.GamesCompleted += r.GamesCompleted
		out.TotalXPEarned += r.TotalXPEarned
		out.CurrentStreak = max(out.CurrentStreak, r.CurrentStreak)
		out.BestStreak = max(out.BestStreak, r.BestStreak)
		out.BestScore = max(out.BestScore, r.BestScore)
		weighted += r.AverageScore * float64(r.GamesCompleted)
		out.CustomStats = MergeCustomStats(out.CustomStats, r.CustomStats)
		if r.LastPlayedAt != nil && (out.LastPlayedAt == nil || r.LastPlayedAt.After(*out.LastPlayedAt)) {
			t := *r.LastPlayedAt
			out.LastPlayedAt = &t
		}
	}
	if out.GamesCompleted > 0 {
		out.AverageScore = weighted / float64(out.GamesCompleted)
	}
	return out
}

// Apply updates st in place for one finished session
func Apply(st *domain.UserGameStats, sess *domain.Session, now time.Time) {
	now = now.UTC()

	st.GamesPlayed++
	if sess.Status == domain.SessionStatusCompleted {
		st.GamesCompleted++
	}
	st.TotalXPEarned += sess.XPEarned

	st.CurrentStreak = NextStreak(st.LastPlayedAt, now, st.CurrentStreak)
	st.BestStreak = max(st.BestStreak, st.CurrentStreak)
	st.LastPlayedAt = &now

	st.CustomStats = MergeCustomStats(st.CustomStats, sess.FinalStats)

	if sess.Score != nil {
		score := *sess.Score
		switch {
		case st.GamesCompleted <= 1:
			st.AverageScore = float64(score)
			st.BestScore = score
		default:
			n := float64(st.GamesCompleted)
			st.AverageScore = (st.AverageScore*(n-1) + float64(score)) / n
			st.BestScore = max(st.BestScore, score)
		}
	}

	st.UpdatedAt = now
}

// NextStreak returns the streak after playing at now.
// Days are counted as UTC calendar days.
func NextStreak(lastPlayed *time.Time, now time.Time, current int64) int64 {
	if lastPlayed == nil {
		return 1
	}
	switch days := DaysBetween(*lastPlayed, now); {
	case days <= 0:
		if current < 1 {
			return 1
		}
		return current
	case days == 1:
		return current + 1
	default:
		return 1
	}
}

// DaysBetween counts UTC midnights crossed going from a to b
func DaysBetween(a, b time.Time) int {
	da := truncateDay(a)
	db := truncateDay(b)
	return int(db.Sub(da).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MergeCustomStats sums numeric values present on both sides and lets
// incoming values overwrite everything else. existing is not modified.
func MergeCustomStats(existing, incoming domain.JSONMap) domain.JSONMap {
	out := existing.Clone()
	if out == nil {
		out = domain.JSONMap{}
	}
	for key, value := range incoming {
		prev, ok := out[key]
		if !ok {
			prev = 0.0
		}
		a, aNum := domain.AsNumber(prev)
		b, bNum := domain.AsNumber(value)
		if aNum && bNum {
			out[key] = a + b
			continue
		}
		out[key] = value
	}
	return out
}
