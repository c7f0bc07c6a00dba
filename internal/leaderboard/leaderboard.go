// Package leaderboard scores users against ranking rules and keeps
// per-period standings ranked.
package leaderboard

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/alexbotov/progression/internal/audit"
	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/rules"
	"github.com/alexbotov/progression/internal/stats"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrLeaderboardNotFound = fmt.Errorf("%w: leaderboard", domain.ErrNotFound)

// DefaultPageLimit bounds GetLeaderboard when no limit is given
const DefaultPageLimit = 100

const leaderboardColumns = `id, game_id, name, ranking_criteria, time_period, is_active, last_reset_at, created_at`

const entryColumns = `id, leaderboard_id, user_id, score, games_played, rank, period_start, period_end,
	last_updated, score_updated_at`

// Service provides the leaderboard ranker
type Service struct {
	db    *database.DB
	audit *audit.Service
	stats *stats.Service
	log   logrus.FieldLogger
	now   func() time.Time
}

// New creates a new leaderboard service
func New(db *database.DB, auditSvc *audit.Service, statsSvc *stats.Service, log logrus.FieldLogger) *Service {
	return &Service{
		db:    db,
		audit: auditSvc,
		stats: statsSvc,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Update rescores user on every active leaderboard scoped to gameID or
// the whole platform, then re-ranks each touched period.
func (s *Service) Update(ctx context.Context, tx *sqlx.Tx, user *domain.User, gameID string) ([]rules.Warning, error) {
	var boards []domain.Leaderboard
	err := sqlx.SelectContext(ctx, tx, &boards, tx.Rebind(`SELECT `+leaderboardColumns+`
		FROM leaderboards WHERE is_active AND (game_id IS NULL OR game_id = ?)
		ORDER BY id`), gameID)
	if err != nil {
		return nil, domain.StorageError("list leaderboards", err)
	}

	var (
		warnings    []rules.Warning
		gameStats   *domain.UserGameStats
		totals      *domain.UserGameStats
		statsLoaded bool
	)

	for _, lb := range boards {
		criteria, err := rules.ParseRankingCriteria(lb.RankingCriteria)
		if err != nil {
			w := rules.Warning{Family: rules.FamilyRanking, Kind: fmt.Sprint(lb.RankingCriteria["type"]), Message: err.Error()}
			if err := s.warn(ctx, tx, user.ID, lb, w); err != nil {
				return nil, err
			}
			warnings = append(warnings, w)
			continue
		}

		if !statsLoaded {
			if gameStats, err = s.stats.Find(ctx, tx, user.ID, gameID); err != nil {
				return nil, err
			}
			if totals, err = s.stats.Totals(ctx, tx, user.ID); err != nil {
				return nil, err
			}
			statsLoaded = true
		}

		st := totals
		if lb.GameID != nil {
			st = gameStats
		}

		score, ok := criteria.Score(user, st)
		if !ok {
			continue
		}

		var played int64
		if st != nil {
			played = st.GamesPlayed
		}

		now := s.now().UTC()
		start, end := Bounds(lb.TimePeriod, now)
		if err := database.LockKey(ctx, tx, groupKey(lb.ID, start)); err != nil {
			return nil, err
		}
		if err := s.upsert(ctx, tx, lb.ID, user.ID, score, played, start, end, now); err != nil {
			return nil, err
		}
		if err := s.rerank(ctx, tx, lb.ID, start); err != nil {
			return nil, err
		}
	}

	return warnings, nil
}

func (s *Service) upsert(ctx context.Context, tx *sqlx.Tx, leaderboardID, userID string, score float64, played int64, start time.Time, end *time.Time, now time.Time) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO leaderboard_entries (id, leaderboard_id, user_id, score, games_played, rank,
			period_start, period_end, last_updated, score_updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (leaderboard_id, user_id, period_start) DO UPDATE
		SET games_played = excluded.games_played,
			last_updated = excluded.last_updated,
			score_updated_at = CASE WHEN leaderboard_entries.score <> excluded.score
				THEN excluded.score_updated_at ELSE leaderboard_entries.score_updated_at END,
			score = excluded.score
	`), uuid.New().String(), leaderboardID, userID, score, played, start, end, now, now)
	if err != nil {
		return domain.StorageError("upsert leaderboard entry", err)
	}
	return nil
}

// groupKey names the advisory lock guarding one (leaderboard, period) group
func groupKey(leaderboardID string, start time.Time) string {
	return leaderboardID + "|" + start.UTC().Format(time.RFC3339)
}

// rerank assigns ranks 1..N within one (leaderboard, period) group.
// The caller holds the group's lock.
func (s *Service) rerank(ctx context.Context, tx *sqlx.Tx, leaderboardID string, start time.Time) error {
	var entries []domain.LeaderboardEntry
	err := sqlx.SelectContext(ctx, tx, &entries, tx.Rebind(`SELECT `+entryColumns+`
		FROM leaderboard_entries WHERE leaderboard_id = ? AND period_start = ?`), leaderboardID, start)
	if err != nil {
		return domain.StorageError("load leaderboard group", err)
	}

	Sort(entries)

	for i, e := range entries {
		rank := i + 1
		if e.Rank == rank {
			continue
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE leaderboard_entries SET rank = ? WHERE id = ?`), rank, e.ID); err != nil {
			return domain.StorageError("update rank", err)
		}
	}
	return nil
}

// Sort orders entries by score descending, then earliest score change,
// then user id.
func Sort(entries []domain.LeaderboardEntry) {
	slices.SortStableFunc(entries, func(a, b domain.LeaderboardEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := a.ScoreUpdatedAt.Compare(b.ScoreUpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
}

func (s *Service) warn(ctx context.Context, tx *sqlx.Tx, userID string, lb domain.Leaderboard, w rules.Warning) error {
	s.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"leaderboard_id": lb.ID,
		"rule_kind":      w.Kind,
	}).Warn(w.String())

	return s.audit.Log(ctx, tx, audit.EventRuleWarning, domain.SeverityWarning, w.String(),
		domain.JSONMap{"family": w.Family, "kind": w.Kind, "leaderboard_id": lb.ID},
		audit.WithUser(userID))
}

// Get reads a leaderboard definition
func (s *Service) Get(ctx context.Context, q sqlx.ExtContext, id string) (*domain.Leaderboard, error) {
	var lb domain.Leaderboard
	err := sqlx.GetContext(ctx, q, &lb, q.Rebind(`SELECT `+leaderboardColumns+` FROM leaderboards WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLeaderboardNotFound
		}
		return nil, domain.StorageError("get leaderboard", err)
	}
	return &lb, nil
}

// GetLeaderboard pages through the current period's standings
func (s *Service) GetLeaderboard(ctx context.Context, id string, limit, offset int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	lb, err := s.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	start, _ := Bounds(lb.TimePeriod, s.now())

	entries := []domain.LeaderboardEntry{}
	err = sqlx.SelectContext(ctx, s.db, &entries, s.db.Rebind(`SELECT `+entryColumns+`
		FROM leaderboard_entries WHERE leaderboard_id = ? AND period_start = ?
		ORDER BY rank, user_id LIMIT ? OFFSET ?`), id, start, limit, offset)
	if err != nil {
		return nil, domain.StorageError("list leaderboard entries", err)
	}
	return entries, nil
}

// GetUserRank returns the user's current period entry, or nil when the
// user has not placed.
func (s *Service) GetUserRank(ctx context.Context, id, userID string) (*domain.LeaderboardEntry, error) {
	lb, err := s.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	start, _ := Bounds(lb.TimePeriod, s.now())

	var e domain.LeaderboardEntry
	err = sqlx.GetContext(ctx, s.db, &e, s.db.Rebind(`SELECT `+entryColumns+`
		FROM leaderboard_entries WHERE leaderboard_id = ? AND user_id = ? AND period_start = ?`), id, userID, start)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.StorageError("get leaderboard entry", err)
	}
	return &e, nil
}

// RollOver stamps last_reset_at on periodic leaderboards whose current
// window started after the previous stamp. It returns the leaderboards
// that rolled over.
func (s *Service) RollOver(ctx context.Context) ([]domain.Leaderboard, error) {
	now := s.now().UTC()
	var rolled []domain.Leaderboard

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		rolled = rolled[:0]

		var boards []domain.Leaderboard
		err := sqlx.SelectContext(ctx, tx, &boards, tx.Rebind(`SELECT `+leaderboardColumns+`
			FROM leaderboards WHERE is_active AND time_period <> ? ORDER BY id`), domain.PeriodAllTime)
		if err != nil {
			return domain.StorageError("list periodic leaderboards", err)
		}

		for _, lb := range boards {
			start, _ := Bounds(lb.TimePeriod, now)
			if lb.LastResetAt != nil && !lb.LastResetAt.Before(start) {
				continue
			}

			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE leaderboards SET last_reset_at = ? WHERE id = ?`), start, lb.ID); err != nil {
				return domain.StorageError("stamp leaderboard reset", err)
			}
			if err := s.audit.Log(ctx, tx, audit.EventPeriodRollover, domain.SeverityInfo,
				fmt.Sprintf("%s period of %s started", lb.TimePeriod, lb.Name),
				domain.JSONMap{"leaderboard_id": lb.ID, "period_start": start.Format(time.RFC3339)},
				audit.WithComponent("scheduler"), audit.At(now)); err != nil {
				return err
			}

			lb.LastResetAt = &start
			rolled = append(rolled, lb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, lb := range rolled {
		s.log.WithFields(logrus.Fields{
			"leaderboard_id": lb.ID,
			"period":         lb.TimePeriod,
			"period_start":   lb.LastResetAt,
		}).Info("leaderboard period rolled over")
	}
	return rolled, nil
}
