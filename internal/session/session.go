// Package session provides the play session state machine and its store
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexbotov/progression/internal/audit"
	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrGameNotFound     = fmt.Errorf("%w: game", domain.ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("%w: user", domain.ErrNotFound)
	ErrSessionNotFound  = fmt.Errorf("%w: game session", domain.ErrNotFound)
	ErrGameInactive     = fmt.Errorf("%w: game is not active", domain.ErrInvalidInput)
	ErrMissingID        = fmt.Errorf("%w: id must not be blank", domain.ErrInvalidInput)
	ErrSessionNotActive = fmt.Errorf("%w: game session is not in progress", domain.ErrInvalidState)
)

// DefaultListLimit bounds List when no limit is given
const DefaultListLimit = 20

const sessionColumns = `id, game_id, user_id, status, game_state, score, final_stats, xp_earned,
	duration_seconds, started_at, completed_at`

const gameColumns = `id, name, game_type, is_active, xp_calculation, play_count, created_at, updated_at`

// Initializer produces the opening state of a session for game
type Initializer func(game *domain.Game, userID string) (domain.JSONMap, error)

// Service stores sessions and enforces their lifecycle
type Service struct {
	db    *database.DB
	audit *audit.Service
	now   func() time.Time
}

// New creates a new session service
func New(db *database.DB, auditSvc *audit.Service) *Service {
	return &Service{
		db:    db,
		audit: auditSvc,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Start opens an IN_PROGRESS session and bumps the game's play count.
// When state is empty and init is given, init supplies the opening state.
func (s *Service) Start(ctx context.Context, gameID, userID string, state domain.JSONMap, init Initializer) (*domain.Session, error) {
	if strings.TrimSpace(gameID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrMissingID
	}

	var sess *domain.Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		game, err := s.GetGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if !game.IsActive {
			return ErrGameInactive
		}
		if err := s.userExists(ctx, tx, userID); err != nil {
			return err
		}

		opening := state
		if len(opening) == 0 && init != nil {
			initial, err := init(game, userID)
			if err != nil {
				return err
			}
			if initial != nil {
				opening = initial
			}
		}
		if opening == nil {
			opening = domain.JSONMap{}
		}

		now := s.now().UTC()
		sess = &domain.Session{
			ID:         uuid.New().String(),
			GameID:     gameID,
			UserID:     userID,
			Status:     domain.SessionStatusInProgress,
			GameState:  opening,
			FinalStats: domain.JSONMap{},
			StartedAt:  now,
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO game_sessions (id, game_id, user_id, status, game_state, final_stats, xp_earned, duration_seconds, started_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)
		`), sess.ID, sess.GameID, sess.UserID, sess.Status, sess.GameState, sess.FinalStats, sess.StartedAt)
		if err != nil {
			return domain.StorageError("create game session", err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE games SET play_count = play_count + 1 WHERE id = ?
		`), gameID)
		if err != nil {
			return domain.StorageError("increment play count", err)
		}

		return s.audit.Log(ctx, tx, audit.EventSessionStarted, domain.SeverityInfo,
			fmt.Sprintf("Game session started: %s", game.Name),
			domain.JSONMap{"game_id": gameID},
			audit.WithUser(userID), audit.WithSession(sess.ID), audit.At(now))
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateState replaces the state blob of an IN_PROGRESS session
func (s *Service) UpdateState(ctx context.Context, sessionID string, state domain.JSONMap) (*domain.Session, error) {
	var sess *domain.Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if sess, err = s.Lock(ctx, tx, sessionID, domain.SessionStatusInProgress); err != nil {
			return err
		}
		sess.GameState = state
		return s.SaveState(ctx, tx, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SaveState writes sess.GameState
func (s *Service) SaveState(ctx context.Context, tx *sqlx.Tx, sess *domain.Session) error {
	if sess.GameState == nil {
		sess.GameState = domain.JSONMap{}
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE game_sessions SET game_state = ? WHERE id = ?`), sess.GameState, sess.ID)
	if err != nil {
		return domain.StorageError("update game state", err)
	}
	return nil
}

// Complete moves a locked IN_PROGRESS session to COMPLETED and stores
// its outcome. XP is filled in later by SetXPEarned.
func (s *Service) Complete(ctx context.Context, tx *sqlx.Tx, sessionID string, score int64, finalStats domain.JSONMap) (*domain.Session, error) {
	sess, err := s.Lock(ctx, tx, sessionID, domain.SessionStatusCompleted)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if finalStats == nil {
		finalStats = domain.JSONMap{}
	}
	sess.Status = domain.SessionStatusCompleted
	sess.Score = &score
	sess.FinalStats = finalStats
	sess.DurationSeconds = Duration(sess.StartedAt, now)
	sess.CompletedAt = &now

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE game_sessions
		SET status = ?, score = ?, final_stats = ?, duration_seconds = ?, completed_at = ?
		WHERE id = ?
	`), sess.Status, score, sess.FinalStats, sess.DurationSeconds, now, sess.ID)
	if err != nil {
		return nil, domain.StorageError("complete game session", err)
	}

	if err := s.audit.Log(ctx, tx, audit.EventSessionCompleted, domain.SeverityInfo,
		fmt.Sprintf("Game session completed with score %d", score),
		domain.JSONMap{"game_id": sess.GameID, "score": score, "duration_seconds": sess.DurationSeconds},
		audit.WithUser(sess.UserID), audit.WithSession(sess.ID), audit.At(now)); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetXPEarned records the completion reward on the session row
func (s *Service) SetXPEarned(ctx context.Context, tx *sqlx.Tx, sess *domain.Session, amount int64) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE game_sessions SET xp_earned = ? WHERE id = ?`), amount, sess.ID); err != nil {
		return domain.StorageError("set session xp", err)
	}
	sess.XPEarned = amount
	return nil
}

// Abandon moves an IN_PROGRESS session to ABANDONED
func (s *Service) Abandon(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if sess, err = s.Lock(ctx, tx, sessionID, domain.SessionStatusAbandoned); err != nil {
			return err
		}

		now := s.now().UTC()
		sess.Status = domain.SessionStatusAbandoned
		sess.CompletedAt = &now

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE game_sessions SET status = ?, completed_at = ? WHERE id = ?
		`), sess.Status, now, sess.ID)
		if err != nil {
			return domain.StorageError("abandon game session", err)
		}

		return s.audit.Log(ctx, tx, audit.EventSessionAbandoned, domain.SeverityInfo,
			"Game session abandoned",
			domain.JSONMap{"game_id": sess.GameID},
			audit.WithUser(sess.UserID), audit.WithSession(sess.ID), audit.At(now))
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Get reads a session
func (s *Service) Get(ctx context.Context, q sqlx.ExtContext, sessionID string) (*domain.Session, error) {
	var sess domain.Session
	err := sqlx.GetContext(ctx, q, &sess, q.Rebind(`SELECT `+sessionColumns+` FROM game_sessions WHERE id = ?`), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, domain.StorageError("get game session", err)
	}
	return &sess, nil
}

// Lock reads a session locked for the rest of tx and checks that it may
// move to next. State updates pass IN_PROGRESS.
func (s *Service) Lock(ctx context.Context, tx *sqlx.Tx, sessionID string, next domain.SessionStatus) (*domain.Session, error) {
	var sess domain.Session
	err := sqlx.GetContext(ctx, tx, &sess, tx.Rebind(`SELECT `+sessionColumns+`
		FROM game_sessions WHERE id = ?`+database.ForUpdate(tx)), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, domain.StorageError("lock game session", err)
	}
	if !sess.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w (status %s)", ErrSessionNotActive, sess.Status)
	}
	return &sess, nil
}

// Filter narrows List
type Filter struct {
	GameID *string
	Status *domain.SessionStatus
	Limit  int
}

// List returns a user's sessions, newest first
func (s *Service) List(ctx context.Context, userID string, f Filter) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM game_sessions WHERE user_id = ?`
	args := []any{userID}

	if f.GameID != nil {
		query += ` AND game_id = ?`
		args = append(args, *f.GameID)
	}
	if f.Status != nil {
		if !f.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown session status %q", domain.ErrInvalidInput, *f.Status)
		}
		query += ` AND status = ?`
		args = append(args, *f.Status)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	sessions := []domain.Session{}
	if err := sqlx.SelectContext(ctx, s.db, &sessions, s.db.Rebind(query), args...); err != nil {
		return nil, domain.StorageError("list game sessions", err)
	}
	return sessions, nil
}

// GetActive returns the newest IN_PROGRESS session of user in game, or
// nil when there is none.
func (s *Service) GetActive(ctx context.Context, userID, gameID string) (*domain.Session, error) {
	var sess domain.Session
	err := sqlx.GetContext(ctx, s.db, &sess, s.db.Rebind(`SELECT `+sessionColumns+`
		FROM game_sessions WHERE user_id = ? AND game_id = ? AND status = ?
		ORDER BY started_at DESC, id DESC LIMIT 1`), userID, gameID, domain.SessionStatusInProgress)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.StorageError("get active session", err)
	}
	return &sess, nil
}

// GetGame reads a game
func (s *Service) GetGame(ctx context.Context, q sqlx.ExtContext, gameID string) (*domain.Game, error) {
	var game domain.Game
	err := sqlx.GetContext(ctx, q, &game, q.Rebind(`SELECT `+gameColumns+` FROM games WHERE id = ?`), gameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, domain.StorageError("get game", err)
	}
	return &game, nil
}

func (s *Service) userExists(ctx context.Context, q sqlx.ExtContext, userID string) error {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM users WHERE id = ?`), userID)
	if err != nil {
		return domain.StorageError("check user", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Duration returns whole seconds from start to end, never negative
func Duration(start, end time.Time) int64 {
	d := int64(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
