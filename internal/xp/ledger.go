// Package xp provides the append-only XP ledger and level derivation
package xp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexbotov/progression/internal/audit"
	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/metrics"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var (
	ErrUserNotFound = fmt.Errorf("%w: user", domain.ErrNotFound)
	ErrInvalidType  = fmt.Errorf("%w: unknown xp transaction type", domain.ErrInvalidInput)
)

// DefaultHistoryLimit bounds GetTransactions when no limit is given
const DefaultHistoryLimit = 50

// Service provides ledger functionality
type Service struct {
	db      *database.DB
	audit   *audit.Service
	levels  *LevelTable
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

// New creates a new ledger service
func New(db *database.DB, auditSvc *audit.Service, levels *LevelTable, m *metrics.Metrics, log logrus.FieldLogger) *Service {
	return &Service{
		db:      db,
		audit:   auditSvc,
		levels:  levels,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Levels exposes the level table in use
func (s *Service) Levels() *LevelTable {
	return s.levels
}

// Grant describes one XP change
type Grant struct {
	UserID      string
	Amount      int64
	Type        domain.XPTransactionType
	GameID      *string
	SessionID   *string
	ReferenceID *string
	Meta        domain.JSONMap
}

// Result reports the ledger state after a grant
type Result struct {
	Transaction domain.XPTransaction `json:"transaction"`
	TotalXP     int64                `json:"total_xp"`
	OldLevel    int                  `json:"old_level"`
	NewLevel    int                  `json:"new_level"`
	LeveledUp   bool                 `json:"leveled_up"`
}

// Award appends a transaction and updates the user's totals inside tx.
// The user row is locked for the rest of the transaction.
func (s *Service) Award(ctx context.Context, tx *sqlx.Tx, g Grant) (*Result, error) {
	if !g.Type.Valid() {
		return nil, ErrInvalidType
	}

	user, err := s.LockUser(ctx, tx, g.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	total := s.levels.Apply(user.TotalXP, g.Amount)
	oldLevel := user.Level
	newLevel := s.levels.Level(total)

	txn := domain.XPTransaction{
		ID:          uuid.New().String(),
		UserID:      g.UserID,
		Amount:      g.Amount,
		Type:        g.Type,
		GameID:      g.GameID,
		SessionID:   g.SessionID,
		ReferenceID: g.ReferenceID,
		Meta:        g.Meta,
		CreatedAt:   now,
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO xp_transactions (id, user_id, amount, type, game_id, session_id, reference_id, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), txn.ID, txn.UserID, txn.Amount, txn.Type, txn.GameID, txn.SessionID, txn.ReferenceID, txn.Meta, txn.CreatedAt)
	if err != nil {
		return nil, domain.StorageError("insert xp transaction", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE users SET total_xp = ?, level = ?, updated_at = ? WHERE id = ?
	`), total, newLevel, now, g.UserID)
	if err != nil {
		return nil, domain.StorageError("update user xp", err)
	}

	result := &Result{
		Transaction: txn,
		TotalXP:     total,
		OldLevel:    oldLevel,
		NewLevel:    newLevel,
		LeveledUp:   newLevel > oldLevel,
	}

	if result.LeveledUp {
		if err := s.audit.Log(ctx, tx, audit.EventLevelUp, domain.SeverityInfo,
			fmt.Sprintf("Level %d -> %d", oldLevel, newLevel),
			domain.JSONMap{"old_level": oldLevel, "new_level": newLevel, "total_xp": total, "transaction_id": txn.ID},
			audit.WithUser(g.UserID), audit.At(now)); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// AwardXP grants XP in a transaction of its own
func (s *Service) AwardXP(ctx context.Context, g Grant) (*Result, error) {
	var result *Result
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := s.Award(ctx, tx, g)
		if err != nil {
			return err
		}
		if err := s.audit.Log(ctx, tx, audit.EventXPAwarded, domain.SeverityInfo,
			fmt.Sprintf("%s grant of %d XP", g.Type, g.Amount),
			domain.JSONMap{"amount": g.Amount, "type": g.Type, "transaction_id": res.Transaction.ID},
			audit.WithUser(g.UserID)); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Record(result)
	s.log.WithFields(logrus.Fields{
		"user_id":  g.UserID,
		"type":     g.Type,
		"amount":   g.Amount,
		"total_xp": result.TotalXP,
	}).Info("xp awarded")

	return result, nil
}

// Record updates metrics for a committed grant
func (s *Service) Record(r *Result) {
	if r == nil {
		return
	}
	if r.Transaction.Amount > 0 {
		s.metrics.XPAwardedTotal.WithLabelValues(string(r.Transaction.Type)).Add(float64(r.Transaction.Amount))
	}
	if r.LeveledUp {
		s.metrics.LevelUpsTotal.Inc()
	}
}

// GetUser reads a user's progression fields
func (s *Service) GetUser(ctx context.Context, q sqlx.ExtContext, userID string) (*domain.User, error) {
	var user domain.User
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(`
		SELECT id, username, total_xp, level, created_at, updated_at FROM users WHERE id = ?
	`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, domain.StorageError("get user", err)
	}
	return &user, nil
}

// LockUser reads the user row locked for the rest of tx
func (s *Service) LockUser(ctx context.Context, tx *sqlx.Tx, userID string) (*domain.User, error) {
	var user domain.User
	err := sqlx.GetContext(ctx, tx, &user, tx.Rebind(`
		SELECT id, username, total_xp, level, created_at, updated_at FROM users WHERE id = ?`+database.ForUpdate(tx)), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, domain.StorageError("lock user", err)
	}
	return &user, nil
}

// GetTransactions lists a user's ledger rows, newest first
func (s *Service) GetTransactions(ctx context.Context, userID string, limit int) ([]domain.XPTransaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	if _, err := s.GetUser(ctx, s.db, userID); err != nil {
		return nil, err
	}

	var txns []domain.XPTransaction
	err := sqlx.SelectContext(ctx, s.db, &txns, s.db.Rebind(`
		SELECT id, user_id, amount, type, game_id, session_id, reference_id, meta, created_at
		FROM xp_transactions WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, domain.StorageError("list xp transactions", err)
	}
	return txns, nil
}
