// Package progression is the engine facade: it runs session lifecycles
// and the completion pipeline over the ledger, stats, achievement and
// leaderboard services.
package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/alexbotov/progression/internal/achievement"
	"github.com/alexbotov/progression/internal/audit"
	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/events"
	"github.com/alexbotov/progression/internal/gamelogic"
	"github.com/alexbotov/progression/internal/leaderboard"
	"github.com/alexbotov/progression/internal/metrics"
	"github.com/alexbotov/progression/internal/session"
	"github.com/alexbotov/progression/internal/stats"
	"github.com/alexbotov/progression/internal/xp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/alexbotov/progression"

// ErrGrantType rejects standalone grants of pipeline-only types
var ErrGrantType = fmt.Errorf("%w: xp type is reserved for the completion pipeline", domain.ErrInvalidInput)

// Limits are the default page sizes of list operations
type Limits struct {
	Sessions    int
	Leaderboard int
	History     int
}

// Options configures an Engine. Zero values pick defaults.
type Options struct {
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Mechanics *gamelogic.Registry
	Levels    *xp.LevelTable
	Limits    Limits
	Tracer    trace.Tracer
	Clock     func() time.Time
}

// Engine exposes every progression operation
type Engine struct {
	db           *database.DB
	audit        *audit.Service
	sessions     *session.Service
	ledger       *xp.Service
	stats        *stats.Service
	achievements *achievement.Service
	leaderboards *leaderboard.Service
	mechanics    *gamelogic.Registry
	publisher    events.Publisher
	metrics      *metrics.Metrics
	log          logrus.FieldLogger
	tracer       trace.Tracer
	limits       Limits
	now          func() time.Time
}

// New wires the services over db
func New(db *database.DB, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Mechanics == nil {
		opts.Mechanics = gamelogic.NewRegistry()
	}
	if opts.Levels == nil {
		opts.Levels = xp.NewLevelTable(xp.DefaultThresholds(100), true)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Limits.Sessions <= 0 {
		opts.Limits.Sessions = session.DefaultListLimit
	}
	if opts.Limits.Leaderboard <= 0 {
		opts.Limits.Leaderboard = leaderboard.DefaultPageLimit
	}
	if opts.Limits.History <= 0 {
		opts.Limits.History = xp.DefaultHistoryLimit
	}

	auditSvc := audit.New(db.DB)
	statsSvc := stats.New(db)
	ledger := xp.New(db, auditSvc, opts.Levels, opts.Metrics, opts.Logger)

	e := &Engine{
		db:           db,
		audit:        auditSvc,
		sessions:     session.New(db, auditSvc),
		ledger:       ledger,
		stats:        statsSvc,
		achievements: achievement.New(db, auditSvc, ledger, statsSvc, opts.Logger),
		leaderboards: leaderboard.New(db, auditSvc, statsSvc, opts.Logger),
		mechanics:    opts.Mechanics,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		tracer:       opts.Tracer,
		limits:       opts.Limits,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if opts.Clock != nil {
		e.SetClock(opts.Clock)
	}

	db.OnRetry(func(err error, wait time.Duration) {
		e.metrics.TxRetriesTotal.Inc()
		e.log.WithError(err).WithField("wait", wait).Warn("retrying transaction")
	})

	return e
}

// SetClock replaces the time source of every service
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.sessions.SetClock(now)
	e.ledger.SetClock(now)
	e.stats.SetClock(now)
	e.achievements.SetClock(now)
	e.leaderboards.SetClock(now)
}

// Audit exposes the audit trail
func (e *Engine) Audit() *audit.Service {
	return e.audit
}

// StartSession opens a session. Without an initial state, games with
// registered mechanics get one from InitializeSession.
func (e *Engine) StartSession(ctx context.Context, gameID, userID string, initialState domain.JSONMap) (*domain.Session, error) {
	init := func(game *domain.Game, userID string) (domain.JSONMap, error) {
		m, ok, err := e.mechanics.For(game)
		if err != nil || !ok {
			return nil, err
		}
		return m.InitializeSession(userID, nil)
	}

	sess, err := e.sessions.Start(ctx, gameID, userID, initialState, init)
	if err != nil {
		return nil, err
	}

	e.metrics.SessionsTotal.WithLabelValues(string(domain.SessionStatusInProgress)).Inc()
	e.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"user_id":    userID,
		"game_id":    gameID,
	}).Info("session started")
	return sess, nil
}

// UpdateSessionState replaces the state of an IN_PROGRESS session
func (e *Engine) UpdateSessionState(ctx context.Context, sessionID string, state domain.JSONMap) (*domain.Session, error) {
	return e.sessions.UpdateState(ctx, sessionID, state)
}

// AbandonSession ends a session without any progression processing
func (e *Engine) AbandonSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := e.sessions.Abandon(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	e.metrics.SessionsTotal.WithLabelValues(string(domain.SessionStatusAbandoned)).Inc()
	e.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
	}).Info("session abandoned")
	return sess, nil
}

// ListUserSessions returns a user's sessions, newest first
func (e *Engine) ListUserSessions(ctx context.Context, userID string, gameID *string, status *domain.SessionStatus, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = e.limits.Sessions
	}
	return e.sessions.List(ctx, userID, session.Filter{GameID: gameID, Status: status, Limit: limit})
}

// GetSession reads one session
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.sessions.Get(ctx, e.db, sessionID)
}

// GetActiveSession returns the open session of user in game, or nil
func (e *Engine) GetActiveSession(ctx context.Context, userID, gameID string) (*domain.Session, error) {
	return e.sessions.GetActive(ctx, userID, gameID)
}

// NextChallenge asks the game's mechanics what comes next; nil when
// the game has none or the session is over.
func (e *Engine) NextChallenge(ctx context.Context, sessionID string) (domain.JSONMap, error) {
	sess, err := e.sessions.Get(ctx, e.db, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, nil
	}
	game, err := e.sessions.GetGame(ctx, e.db, sess.GameID)
	if err != nil {
		return nil, err
	}
	m, ok, err := e.mechanics.For(game)
	if err != nil || !ok {
		return nil, err
	}
	return m.NextChallenge(sess.GameState), nil
}

// GetUser reads a user's progression fields
func (e *Engine) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := e.ledger.GetUser(ctx, e.db, userID)
	if err != nil {
		return nil, err
	}
	if next, ok := e.ledger.Levels().NextThreshold(user.Level); ok {
		user.NextLevelXP = &next
	}
	return user, nil
}

// GetUserAchievements pairs achievements in scope with the user's progress
func (e *Engine) GetUserAchievements(ctx context.Context, userID string, gameID *string, unlockedOnly bool) ([]domain.AchievementView, error) {
	return e.achievements.GetUserAchievements(ctx, userID, gameID, unlockedOnly)
}

// GetLeaderboard pages through a leaderboard's current period
func (e *Engine) GetLeaderboard(ctx context.Context, leaderboardID string, limit, offset int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = e.limits.Leaderboard
	}
	return e.leaderboards.GetLeaderboard(ctx, leaderboardID, limit, offset)
}

// GetUserRank returns the user's current entry, or nil
func (e *Engine) GetUserRank(ctx context.Context, leaderboardID, userID string) (*domain.LeaderboardEntry, error) {
	return e.leaderboards.GetUserRank(ctx, leaderboardID, userID)
}

// GetUserGameStats reads the (user, game) statistics
func (e *Engine) GetUserGameStats(ctx context.Context, userID, gameID string) (*domain.UserGameStats, error) {
	return e.stats.Get(ctx, e.db, userID, gameID)
}

// ListXPTransactions returns a user's ledger, newest first
func (e *Engine) ListXPTransactions(ctx context.Context, userID string, limit int) ([]domain.XPTransaction, error) {
	if limit <= 0 {
		limit = e.limits.History
	}
	return e.ledger.GetTransactions(ctx, userID, limit)
}

// AwardXP grants daily bonus, streak bonus or penalty XP outside a session
func (e *Engine) AwardXP(ctx context.Context, userID string, amount int64, txType domain.XPTransactionType, meta domain.JSONMap) (*xp.Result, error) {
	switch txType {
	case domain.XPDailyBonus, domain.XPStreakBonus, domain.XPPenalty:
	case domain.XPGameCompletion, domain.XPAchievement:
		return nil, ErrGrantType
	default:
		return nil, xp.ErrInvalidType
	}

	res, err := e.ledger.AwardXP(ctx, xp.Grant{UserID: userID, Amount: amount, Type: txType, Meta: meta})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events.Event{
		Type:      events.TypeXPAwarded,
		UserID:    userID,
		XPEarned:  amount,
		NewLevel:  res.NewLevel,
		LeveledUp: res.LeveledUp,
		At:        res.Transaction.CreatedAt,
	})
	return res, nil
}

// RollOverPeriods stamps leaderboards whose period has rolled over
func (e *Engine) RollOverPeriods(ctx context.Context) ([]domain.Leaderboard, error) {
	return e.leaderboards.RollOver(ctx)
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.metrics.EventPublishFailures.Inc()
		e.log.WithError(err).WithFields(logrus.Fields{
			"user_id": ev.UserID,
			"type":    ev.Type,
		}).Warn("failed to publish progression event")
	}
}
