package rules

import (
	"fmt"

	"github.com/alexbotov/progression/internal/domain"
)

// RankingKind selects a leaderboard ranking-criteria variant
type RankingKind string

const (
	RankingTotalXP        RankingKind = "total_xp"
	RankingGameXP         RankingKind = "game_xp"
	RankingBestScore      RankingKind = "best_score"
	RankingAverageScore   RankingKind = "average_score"
	RankingGamesCompleted RankingKind = "games_completed"
)

// DefaultAverageScoreMinGames applies when average_score omits min_games
const DefaultAverageScoreMinGames = 5

// RankingCriteria computes a user's leaderboard score.
// Score returns ok=false when the user does not qualify.
type RankingCriteria interface {
	Kind() RankingKind
	Score(user *domain.User, stats *domain.UserGameStats) (score float64, ok bool)
}

// TotalXP ranks by platform-wide cumulative XP
type TotalXP struct{}

// GameXP ranks by XP earned in the game
type GameXP struct{ MinGames int64 }

// BestScore ranks by best single-session score
type BestScore struct{ MinGames int64 }

// AverageScore ranks by mean session score
type AverageScore struct{ MinGames int64 }

// GamesCompleted ranks by completed session count
type GamesCompleted struct{}

// ParseRankingCriteria builds the ranking variant described by doc
func ParseRankingCriteria(doc domain.JSONMap) (RankingCriteria, error) {
	kind, err := kindOf(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FamilyRanking, err)
	}

	minGames := func(def float64) (int64, error) {
		n := numberParam(doc, "min_games", def)
		if n < 0 {
			return 0, fmt.Errorf("%s %s: %w: min_games must not be negative", FamilyRanking, kind, ErrInvalidParam)
		}
		return int64(n), nil
	}

	switch RankingKind(kind) {
	case RankingTotalXP:
		return TotalXP{}, nil
	case RankingGameXP:
		n, err := minGames(0)
		if err != nil {
			return nil, err
		}
		return GameXP{MinGames: n}, nil
	case RankingBestScore:
		n, err := minGames(0)
		if err != nil {
			return nil, err
		}
		return BestScore{MinGames: n}, nil
	case RankingAverageScore:
		n, err := minGames(DefaultAverageScoreMinGames)
		if err != nil {
			return nil, err
		}
		return AverageScore{MinGames: n}, nil
	case RankingGamesCompleted:
		return GamesCompleted{}, nil
	}
	return nil, fmt.Errorf("%s: %w: %s", FamilyRanking, ErrUnknownKind, kind)
}

func (TotalXP) Kind() RankingKind        { return RankingTotalXP }
func (GameXP) Kind() RankingKind         { return RankingGameXP }
func (BestScore) Kind() RankingKind      { return RankingBestScore }
func (AverageScore) Kind() RankingKind   { return RankingAverageScore }
func (GamesCompleted) Kind() RankingKind { return RankingGamesCompleted }

func (TotalXP) Score(user *domain.User, _ *domain.UserGameStats) (float64, bool) {
	if user == nil {
		return 0, false
	}
	return float64(user.TotalXP), true
}

func (c GameXP) Score(_ *domain.User, stats *domain.UserGameStats) (float64, bool) {
	if stats == nil || stats.GamesCompleted < c.MinGames {
		return 0, false
	}
	return float64(stats.TotalXPEarned), true
}

func (c BestScore) Score(_ *domain.User, stats *domain.UserGameStats) (float64, bool) {
	if stats == nil || stats.GamesCompleted < c.MinGames {
		return 0, false
	}
	return float64(stats.BestScore), true
}

func (c AverageScore) Score(_ *domain.User, stats *domain.UserGameStats) (float64, bool) {
	if stats == nil || stats.GamesCompleted < c.MinGames {
		return 0, false
	}
	return stats.AverageScore, true
}

func (GamesCompleted) Score(_ *domain.User, stats *domain.UserGameStats) (float64, bool) {
	if stats == nil {
		return 0, false
	}
	return float64(stats.GamesCompleted), true
}
