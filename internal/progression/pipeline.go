package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/alexbotov/progression/internal/achievement"
	"github.com/alexbotov/progression/internal/audit"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/events"
	"github.com/alexbotov/progression/internal/gamelogic"
	"github.com/alexbotov/progression/internal/rules"
	"github.com/alexbotov/progression/internal/xp"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CompletionResult is everything a completion changed
type CompletionResult struct {
	Session              *domain.Session      `json:"session"`
	XPEarned             int64                `json:"xp_earned"`
	Breakdown            xp.Breakdown         `json:"breakdown"`
	NewLevel             int                  `json:"new_level"`
	LeveledUp            bool                 `json:"leveled_up"`
	UnlockedAchievements []achievement.Unlock `json:"unlocked_achievements"`
	Warnings             []rules.Warning      `json:"warnings,omitempty"`

	grants []*xp.Result
}

// PlayResult is the outcome of one gameplay action
type PlayResult struct {
	Session    *domain.Session        `json:"session"`
	Result     gamelogic.ActionResult `json:"result"`
	Completion *CompletionResult      `json:"completion,omitempty"`
}

// CompleteSession finishes an IN_PROGRESS session and runs the whole
// progression pipeline in one transaction. Nothing is written when any
// stage fails.
func (e *Engine) CompleteSession(ctx context.Context, sessionID string, score int64, finalStats domain.JSONMap) (*CompletionResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "progression.CompleteSession",
		trace.WithAttributes(attribute.String("session_id", sessionID), attribute.Int64("score", score)))
	defer span.End()

	var result *CompletionResult
	err := e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := e.complete(ctx, tx, sessionID, score, finalStats)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.committed(ctx, result, start)
	return result, nil
}

// PlayAction applies one action through the game's mechanics. When the
// action finishes the game the session is completed in the same
// transaction.
func (e *Engine) PlayAction(ctx context.Context, sessionID string, action domain.JSONMap) (*PlayResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "progression.PlayAction",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	var result *PlayResult
	err := e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := e.play(ctx, tx, sessionID, action)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if result.Completion != nil {
		e.committed(ctx, result.Completion, start)
	}
	return result, nil
}

func (e *Engine) play(ctx context.Context, tx *sqlx.Tx, sessionID string, action domain.JSONMap) (*PlayResult, error) {
	sess, err := e.sessions.Lock(ctx, tx, sessionID, domain.SessionStatusInProgress)
	if err != nil {
		return nil, err
	}
	game, err := e.sessions.GetGame(ctx, tx, sess.GameID)
	if err != nil {
		return nil, err
	}
	m, ok, err := e.mechanics.For(game)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gamelogic.ErrNoMechanics
	}

	if err := m.ValidateAction(sess.GameState, action); err != nil {
		return nil, err
	}
	state, actionResult, err := m.ProcessAction(sess.GameState, action)
	if err != nil {
		return nil, err
	}
	sess.GameState = state
	if err := e.sessions.SaveState(ctx, tx, sess); err != nil {
		return nil, err
	}

	out := &PlayResult{Session: sess, Result: actionResult}
	done, finished := m.CheckCompletion(state)
	if !finished {
		return out, nil
	}

	finalStats := done.Stats.Clone()
	if finalStats == nil {
		finalStats = domain.JSONMap{}
	}
	if len(done.Performance) > 0 {
		finalStats["performance"] = done.Performance
	}
	completion, err := e.complete(ctx, tx, sessionID, done.FinalScore, finalStats)
	if err != nil {
		return nil, err
	}
	out.Session = completion.Session
	out.Completion = completion
	return out, nil
}

// complete runs every pipeline stage inside tx. Locks are taken in a
// fixed order: session, user, stats, achievements, leaderboards.
func (e *Engine) complete(ctx context.Context, tx *sqlx.Tx, sessionID string, score int64, finalStats domain.JSONMap) (*CompletionResult, error) {
	res := &CompletionResult{UnlockedAchievements: []achievement.Unlock{}}

	var sess *domain.Session
	err := e.stage(ctx, "session", func(ctx context.Context) error {
		var err error
		sess, err = e.sessions.Complete(ctx, tx, sessionID, score, finalStats)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Session = sess

	var startLevel int
	err = e.stage(ctx, "xp", func(ctx context.Context) error {
		game, err := e.sessions.GetGame(ctx, tx, sess.GameID)
		if err != nil {
			return err
		}
		calc, err := rules.ParseXPCalculation(game.XPCalculation)
		if err != nil {
			w := rules.Warning{Family: rules.FamilyXPCalculation, Message: err.Error()}
			if err := e.warn(ctx, tx, sess, w); err != nil {
				return err
			}
			res.Warnings = append(res.Warnings, w)
			calc = rules.DefaultXPCalculation()
		}

		user, err := e.ledger.LockUser(ctx, tx, sess.UserID)
		if err != nil {
			return err
		}
		startLevel = user.Level

		st, err := e.stats.Lock(ctx, tx, sess.UserID, sess.GameID)
		if err != nil {
			return err
		}

		res.Breakdown = xp.CompletionReward(calc, score, sess.DurationSeconds, st.CurrentStreak)
		res.XPEarned = res.Breakdown.Total()

		grant, err := e.ledger.Award(ctx, tx, xp.Grant{
			UserID:    sess.UserID,
			Amount:    res.XPEarned,
			Type:      domain.XPGameCompletion,
			GameID:    &sess.GameID,
			SessionID: &sess.ID,
			Meta:      res.Breakdown.Meta(score),
		})
		if err != nil {
			return err
		}
		res.grants = append(res.grants, grant)
		res.NewLevel = grant.NewLevel

		if err := e.audit.Log(ctx, tx, audit.EventXPAwarded, domain.SeverityInfo,
			fmt.Sprintf("Session completion awarded %d XP", res.XPEarned),
			domain.JSONMap{"amount": res.XPEarned, "type": domain.XPGameCompletion, "transaction_id": grant.Transaction.ID},
			audit.WithUser(sess.UserID), audit.WithSession(sess.ID)); err != nil {
			return err
		}
		return e.sessions.SetXPEarned(ctx, tx, sess, res.XPEarned)
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, "stats", func(ctx context.Context) error {
		_, err := e.stats.RecordCompletion(ctx, tx, sess)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, "achievements", func(ctx context.Context) error {
		ev, err := e.achievements.Evaluate(ctx, tx, sess.UserID, &sess.GameID)
		if err != nil {
			return err
		}
		for _, u := range ev.Unlocked {
			res.UnlockedAchievements = append(res.UnlockedAchievements, u)
			if u.Grant != nil {
				res.grants = append(res.grants, u.Grant)
				res.NewLevel = u.Grant.NewLevel
			}
		}
		res.Warnings = append(res.Warnings, ev.Warnings...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, "leaderboards", func(ctx context.Context) error {
		user, err := e.ledger.GetUser(ctx, tx, sess.UserID)
		if err != nil {
			return err
		}
		res.NewLevel = user.Level
		warnings, err := e.leaderboards.Update(ctx, tx, user, sess.GameID)
		if err != nil {
			return err
		}
		res.Warnings = append(res.Warnings, warnings...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.LeveledUp = res.NewLevel > startLevel
	return res, nil
}

// stage runs fn in a child span named after the pipeline stage
func (e *Engine) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "progression.stage."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Engine) warn(ctx context.Context, tx *sqlx.Tx, sess *domain.Session, w rules.Warning) error {
	e.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"game_id":    sess.GameID,
		"family":     w.Family,
	}).Warn(w.String())

	return e.audit.Log(ctx, tx, audit.EventRuleWarning, domain.SeverityWarning, w.String(),
		domain.JSONMap{"family": w.Family, "kind": w.Kind, "game_id": sess.GameID},
		audit.WithUser(sess.UserID), audit.WithSession(sess.ID))
}

// committed records metrics and publishes once the pipeline's
// transaction is durable
func (e *Engine) committed(ctx context.Context, res *CompletionResult, start time.Time) {
	e.metrics.SessionsTotal.WithLabelValues(string(domain.SessionStatusCompleted)).Inc()
	for _, g := range res.grants {
		e.ledger.Record(g)
	}
	e.metrics.AchievementsUnlocked.Add(float64(len(res.UnlockedAchievements)))
	for _, w := range res.Warnings {
		e.metrics.RuleWarningsTotal.WithLabelValues(string(w.Family)).Inc()
	}
	e.metrics.ObservePipeline(start)

	names := make([]string, 0, len(res.UnlockedAchievements))
	for _, u := range res.UnlockedAchievements {
		names = append(names, u.Achievement.Name)
	}

	sess := res.Session
	at := e.now().UTC()
	if sess.CompletedAt != nil {
		at = *sess.CompletedAt
	}
	e.publish(ctx, events.Event{
		Type:         events.TypeSessionCompleted,
		UserID:       sess.UserID,
		SessionID:    sess.ID,
		XPEarned:     res.XPEarned,
		NewLevel:     res.NewLevel,
		LeveledUp:    res.LeveledUp,
		Achievements: names,
		At:           at,
	})

	e.log.WithFields(logrus.Fields{
		"session_id":   sess.ID,
		"user_id":      sess.UserID,
		"xp_earned":    res.XPEarned,
		"new_level":    res.NewLevel,
		"achievements": len(names),
		"warnings":     len(res.Warnings),
	}).Info("session completed")
}
