// Package achievement evaluates requirement rules and unlocks achievements
package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/alexbotov/progression/internal/audit"
	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/rules"
	"github.com/alexbotov/progression/internal/stats"
	"github.com/alexbotov/progression/internal/xp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const achievementColumns = `id, game_id, name, description, requirement, xp_reward, is_active, unlock_count, created_at`

const userAchievementColumns = `id, user_id, achievement_id, progress, unlocked_at, created_at, updated_at`

// Service provides the achievement evaluator
type Service struct {
	db     *database.DB
	audit  *audit.Service
	ledger *xp.Service
	stats  *stats.Service
	log    logrus.FieldLogger
	now    func() time.Time
}

// New creates a new achievement service
func New(db *database.DB, auditSvc *audit.Service, ledger *xp.Service, statsSvc *stats.Service, log logrus.FieldLogger) *Service {
	return &Service{
		db:     db,
		audit:  auditSvc,
		ledger: ledger,
		stats:  statsSvc,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Unlock is an achievement earned during an evaluation
type Unlock struct {
	Achievement domain.Achievement `json:"achievement"`
	Grant       *xp.Result         `json:"grant,omitempty"`
}

// Evaluation is the outcome of one Evaluate call
type Evaluation struct {
	Unlocked []Unlock
	Warnings []rules.Warning
}

// Evaluate checks every active achievement in scope for the user and
// unlocks those whose requirement is now met. Platform-wide achievements
// are always in scope; game-scoped ones only when gameID matches.
func (s *Service) Evaluate(ctx context.Context, tx *sqlx.Tx, userID string, gameID *string) (*Evaluation, error) {
	achievements, err := s.listActive(ctx, tx, gameID, true)
	if err != nil {
		return nil, err
	}
	owned, err := s.userRows(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	user, err := s.ledger.GetUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{}
	in := newInputs(ctx, tx, s.stats, userID, gameID)

	for _, a := range achievements {
		if owned[a.ID].IsUnlocked() {
			continue
		}

		req, err := rules.ParseRequirement(a.Requirement)
		if err != nil {
			w := rules.Warning{Family: rules.FamilyRequirement, Kind: fmt.Sprint(a.Requirement["type"]), Message: err.Error()}
			if err := s.warn(ctx, tx, userID, a, w); err != nil {
				return nil, err
			}
			ev.Warnings = append(ev.Warnings, w)
			continue
		}

		inputs, err := in.forAchievement(a, user)
		if err != nil {
			return nil, err
		}
		outcome := req.Evaluate(inputs)

		if outcome.Warning != nil {
			if err := s.warn(ctx, tx, userID, a, *outcome.Warning); err != nil {
				return nil, err
			}
			ev.Warnings = append(ev.Warnings, *outcome.Warning)
		}

		now := s.now().UTC()
		if err := s.saveProgress(ctx, tx, userID, a.ID, outcome.Progress, now); err != nil {
			return nil, err
		}
		if !outcome.Unlocked {
			continue
		}

		unlock, err := s.unlock(ctx, tx, userID, gameID, a, now)
		if err != nil {
			return nil, err
		}
		if unlock == nil {
			continue
		}
		if unlock.Grant != nil {
			user.TotalXP = unlock.Grant.TotalXP
			user.Level = unlock.Grant.NewLevel
		}
		ev.Unlocked = append(ev.Unlocked, *unlock)
	}

	return ev, nil
}

// unlock flips unlocked_at for (user, achievement). It returns nil when
// another evaluation already unlocked it.
func (s *Service) unlock(ctx context.Context, tx *sqlx.Tx, userID string, gameID *string, a domain.Achievement, now time.Time) (*Unlock, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE user_achievements SET unlocked_at = ?, updated_at = ?
		WHERE user_id = ? AND achievement_id = ? AND unlocked_at IS NULL
	`), now, now, userID, a.ID)
	if err != nil {
		return nil, domain.StorageError("unlock achievement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, domain.StorageError("unlock achievement", err)
	}
	if n != 1 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE achievements SET unlock_count = unlock_count + 1 WHERE id = ?
	`), a.ID); err != nil {
		return nil, domain.StorageError("increment unlock count", err)
	}
	a.UnlockCount++

	unlock := &Unlock{Achievement: a}
	if a.XPReward > 0 {
		ref := a.ID
		grant, err := s.ledger.Award(ctx, tx, xp.Grant{
			UserID:      userID,
			Amount:      a.XPReward,
			Type:        domain.XPAchievement,
			GameID:      gameID,
			ReferenceID: &ref,
			Meta:        domain.JSONMap{"achievement_name": a.Name},
		})
		if err != nil {
			return nil, err
		}
		unlock.Grant = grant
	}

	if err := s.audit.Log(ctx, tx, audit.EventAchievementUnlocked, domain.SeverityInfo,
		fmt.Sprintf("Achievement unlocked: %s", a.Name),
		domain.JSONMap{"achievement_id": a.ID, "xp_reward": a.XPReward},
		audit.WithUser(userID), audit.At(now)); err != nil {
		return nil, err
	}

	return unlock, nil
}

func (s *Service) saveProgress(ctx context.Context, tx *sqlx.Tx, userID, achievementID string, p rules.Progress, now time.Time) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO user_achievements (id, user_id, achievement_id, progress, unlocked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (user_id, achievement_id) DO UPDATE
		SET progress = excluded.progress, updated_at = excluded.updated_at
		WHERE user_achievements.unlocked_at IS NULL
	`), uuid.New().String(), userID, achievementID, p.Map(), now, now)
	if err != nil {
		return domain.StorageError("save achievement progress", err)
	}
	return nil
}

func (s *Service) warn(ctx context.Context, tx *sqlx.Tx, userID string, a domain.Achievement, w rules.Warning) error {
	s.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"achievement_id": a.ID,
		"rule_kind":      w.Kind,
	}).Warn(w.String())

	return s.audit.Log(ctx, tx, audit.EventRuleWarning, domain.SeverityWarning, w.String(),
		domain.JSONMap{"family": w.Family, "kind": w.Kind, "achievement_id": a.ID},
		audit.WithUser(userID))
}

func (s *Service) listActive(ctx context.Context, q sqlx.ExtContext, gameID *string, scoped bool) ([]domain.Achievement, error) {
	query := `SELECT ` + achievementColumns + ` FROM achievements WHERE is_active`
	var args []any
	switch {
	case gameID != nil:
		query += ` AND (game_id IS NULL OR game_id = ?)`
		args = append(args, *gameID)
	case scoped:
		query += ` AND game_id IS NULL`
	}
	query += ` ORDER BY id`

	var out []domain.Achievement
	if err := sqlx.SelectContext(ctx, q, &out, q.Rebind(query), args...); err != nil {
		return nil, domain.StorageError("list achievements", err)
	}
	return out, nil
}

func (s *Service) userRows(ctx context.Context, q sqlx.ExtContext, userID string) (map[string]*domain.UserAchievement, error) {
	var rows []domain.UserAchievement
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`SELECT `+userAchievementColumns+`
		FROM user_achievements WHERE user_id = ?`), userID)
	if err != nil {
		return nil, domain.StorageError("list user achievements", err)
	}
	out := make(map[string]*domain.UserAchievement, len(rows))
	for i := range rows {
		out[rows[i].AchievementID] = &rows[i]
	}
	return out, nil
}

// GetUserAchievements pairs active achievements with the user's progress.
// With a game, platform-wide and that game's achievements are listed;
// without one, every active achievement is.
func (s *Service) GetUserAchievements(ctx context.Context, userID string, gameID *string, unlockedOnly bool) ([]domain.AchievementView, error) {
	if _, err := s.ledger.GetUser(ctx, s.db, userID); err != nil {
		return nil, err
	}

	achievements, err := s.listActive(ctx, s.db, gameID, false)
	if err != nil {
		return nil, err
	}
	owned, err := s.userRows(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	views := make([]domain.AchievementView, 0, len(achievements))
	for _, a := range achievements {
		ua := owned[a.ID]
		if unlockedOnly && !ua.IsUnlocked() {
			continue
		}
		views = append(views, domain.AchievementView{Achievement: a, UserAchievement: ua})
	}
	return views, nil
}
