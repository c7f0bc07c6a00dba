package achievement

import (
	"context"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/rules"
	"github.com/alexbotov/progression/internal/stats"
	"github.com/jmoiron/sqlx"
)

// inputLoader reads stats rows lazily and at most once per evaluation
type inputLoader struct {
	ctx    context.Context
	tx     *sqlx.Tx
	stats  *stats.Service
	userID string
	gameID *string

	perGame      map[string]*domain.UserGameStats
	totals       *domain.UserGameStats
	totalsLoaded bool
}

func newInputs(ctx context.Context, tx *sqlx.Tx, statsSvc *stats.Service, userID string, gameID *string) *inputLoader {
	return &inputLoader{
		ctx:     ctx,
		tx:      tx,
		stats:   statsSvc,
		userID:  userID,
		gameID:  gameID,
		perGame: map[string]*domain.UserGameStats{},
	}
}

func (l *inputLoader) game(gameID string) (*domain.UserGameStats, error) {
	if st, ok := l.perGame[gameID]; ok {
		return st, nil
	}
	st, err := l.stats.Find(l.ctx, l.tx, l.userID, gameID)
	if err != nil {
		return nil, err
	}
	l.perGame[gameID] = st
	return st, nil
}

func (l *inputLoader) forAchievement(a domain.Achievement, user *domain.User) (rules.Inputs, error) {
	in := rules.Inputs{User: user, GameScoped: a.GameID != nil}

	scope := a.GameID
	if scope == nil {
		scope = l.gameID
	}
	if scope != nil {
		st, err := l.game(*scope)
		if err != nil {
			return in, err
		}
		in.Stats = st
	}

	if !in.GameScoped {
		if !l.totalsLoaded {
			totals, err := l.stats.Totals(l.ctx, l.tx, l.userID)
			if err != nil {
				return in, err
			}
			l.totals = totals
			l.totalsLoaded = true
		}
		in.Totals = l.totals
	}
	return in, nil
}
