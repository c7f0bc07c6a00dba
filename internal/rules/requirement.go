package rules

import (
	"fmt"

	"github.com/alexbotov/progression/internal/domain"
)

// RequirementKind selects an achievement requirement variant
type RequirementKind string

const (
	RequirementStatThreshold  RequirementKind = "stat_threshold"
	RequirementCustomStat     RequirementKind = "custom_stat"
	RequirementScoreThreshold RequirementKind = "score_threshold"
	RequirementStreak         RequirementKind = "streak"
)

// Stat names accepted by stat_threshold
const (
	StatTotalXP        = "total_xp"
	StatLevel          = "level"
	StatGamesPlayed    = "games_played"
	StatGamesCompleted = "games_completed"
	StatTotalXPEarned  = "total_xp_earned"
	StatCurrentStreak  = "current_streak"
	StatBestStreak     = "best_streak"
	StatBestScore      = "best_score"
	StatAverageScore   = "average_score"
)

var userStats = map[string]bool{
	StatTotalXP: true,
	StatLevel:   true,
}

var gameStats = map[string]bool{
	StatGamesPlayed:    true,
	StatGamesCompleted: true,
	StatTotalXPEarned:  true,
	StatCurrentStreak:  true,
	StatBestStreak:     true,
	StatBestScore:      true,
	StatAverageScore:   true,
}

// Inputs is the state a requirement is evaluated against.
//
// Stats holds the (user, game) row in scope: the achievement's own game
// when it is game-scoped, otherwise the game being evaluated, if any.
// Totals aggregates every game of the user and backs platform-wide
// stat thresholds.
type Inputs struct {
	User       *domain.User
	Stats      *domain.UserGameStats
	Totals     *domain.UserGameStats
	GameScoped bool
}

// Outcome is the result of evaluating a requirement
type Outcome struct {
	Unlocked bool
	Progress Progress
	Warning  *Warning
}

// Requirement is a parsed achievement requirement
type Requirement interface {
	Kind() RequirementKind
	Evaluate(in Inputs) Outcome
}

// StatThreshold compares a named user or game statistic against a threshold
type StatThreshold struct {
	Stat      string
	Threshold float64
}

// CustomStat compares a custom per-game counter against a threshold
type CustomStat struct {
	Stat      string
	Threshold float64
}

// ScoreThreshold compares the best score against a target score
type ScoreThreshold struct {
	Score float64
}

// Streak compares the current daily streak against a number of days
type Streak struct {
	Days float64
}

type requirementFactory func(doc domain.JSONMap) (Requirement, error)

var requirementFactories = map[RequirementKind]requirementFactory{
	RequirementStatThreshold: func(doc domain.JSONMap) (Requirement, error) {
		stat, err := stringParam(doc, "stat")
		if err != nil {
			return nil, err
		}
		if !userStats[stat] && !gameStats[stat] {
			return nil, fmt.Errorf("%w: unknown stat %q", ErrInvalidParam, stat)
		}
		return StatThreshold{Stat: stat, Threshold: numberParam(doc, "threshold", 0)}, nil
	},
	RequirementCustomStat: func(doc domain.JSONMap) (Requirement, error) {
		stat, err := stringParam(doc, "stat")
		if err != nil {
			return nil, err
		}
		return CustomStat{Stat: stat, Threshold: numberParam(doc, "threshold", 0)}, nil
	},
	RequirementScoreThreshold: func(doc domain.JSONMap) (Requirement, error) {
		return ScoreThreshold{Score: numberParam(doc, "score", 0)}, nil
	},
	RequirementStreak: func(doc domain.JSONMap) (Requirement, error) {
		return Streak{Days: numberParam(doc, "days", 0)}, nil
	},
}

// ParseRequirement builds the requirement variant described by doc
func ParseRequirement(doc domain.JSONMap) (Requirement, error) {
	kind, err := kindOf(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FamilyRequirement, err)
	}
	factory, ok := requirementFactories[RequirementKind(kind)]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", FamilyRequirement, ErrUnknownKind, kind)
	}
	req, err := factory(doc)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", FamilyRequirement, kind, err)
	}
	return req, nil
}

func (StatThreshold) Kind() RequirementKind  { return RequirementStatThreshold }
func (CustomStat) Kind() RequirementKind     { return RequirementCustomStat }
func (ScoreThreshold) Kind() RequirementKind { return RequirementScoreThreshold }
func (Streak) Kind() RequirementKind         { return RequirementStreak }

func (r StatThreshold) Evaluate(in Inputs) Outcome {
	var current float64
	switch {
	case userStats[r.Stat]:
		current = userStat(in.User, r.Stat)
	case in.GameScoped:
		current = GameStat(in.Stats, r.Stat)
	default:
		current = GameStat(in.Totals, r.Stat)
	}
	return compare(r.Kind(), current, r.Threshold)
}

func (r CustomStat) Evaluate(in Inputs) Outcome {
	var current float64
	if in.Stats != nil {
		current, _ = in.Stats.CustomStats.Number(r.Stat)
	}
	return compare(r.Kind(), current, r.Threshold)
}

func (r ScoreThreshold) Evaluate(in Inputs) Outcome {
	return compare(r.Kind(), GameStat(in.Stats, StatBestScore), r.Score)
}

func (r Streak) Evaluate(in Inputs) Outcome {
	return compare(r.Kind(), GameStat(in.Stats, StatCurrentStreak), r.Days)
}

func compare(kind RequirementKind, current, required float64) Outcome {
	progress, ok := NewProgress(current, required)
	if !ok {
		return Outcome{
			Progress: progress,
			Warning: &Warning{
				Family:  FamilyRequirement,
				Kind:    string(kind),
				Message: fmt.Sprintf("required value %v must be positive", required),
			},
		}
	}
	return Outcome{Unlocked: current >= required, Progress: progress}
}

func userStat(u *domain.User, name string) float64 {
	if u == nil {
		return 0
	}
	switch name {
	case StatTotalXP:
		return float64(u.TotalXP)
	case StatLevel:
		return float64(u.Level)
	}
	return 0
}

// GameStat reads a named field of a stats row; nil rows read as zero
func GameStat(s *domain.UserGameStats, name string) float64 {
	if s == nil {
		return 0
	}
	switch name {
	case StatGamesPlayed:
		return float64(s.GamesPlayed)
	case StatGamesCompleted:
		return float64(s.GamesCompleted)
	case StatTotalXPEarned:
		return float64(s.TotalXPEarned)
	case StatCurrentStreak:
		return float64(s.CurrentStreak)
	case StatBestStreak:
		return float64(s.BestStreak)
	case StatBestScore:
		return float64(s.BestScore)
	case StatAverageScore:
		return s.AverageScore
	}
	return 0
}
