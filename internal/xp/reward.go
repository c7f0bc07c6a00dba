package xp

import (
	"math"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/rules"
)

// Breakdown itemizes a completion reward
type Breakdown struct {
	BaseXP      int64 `json:"base_xp"`
	ScoreXP     int64 `json:"score_xp"`
	TimeBonus   int64 `json:"time_bonus"`
	StreakBonus int64 `json:"streak_bonus"`
}

// Total is the sum of all parts
func (b Breakdown) Total() int64 {
	return b.BaseXP + b.ScoreXP + b.TimeBonus + b.StreakBonus
}

// Meta returns the transaction metadata recorded with the grant
func (b Breakdown) Meta(score int64) domain.JSONMap {
	return domain.JSONMap{
		"base_xp":      b.BaseXP,
		"score_xp":     b.ScoreXP,
		"time_bonus":   b.TimeBonus,
		"streak_bonus": b.StreakBonus,
		"score":        score,
	}
}

// CompletionReward computes the XP for a completed session.
// streak is the (user, game) streak before this completion is recorded.
func CompletionReward(calc rules.XPCalculation, score, durationSeconds, streak int64) Breakdown {
	b := Breakdown{BaseXP: calc.BaseXP}

	if calc.ScoreMultiplier != 0 {
		b.ScoreXP = int64(math.Floor(float64(score) * calc.ScoreMultiplier))
	}
	if calc.TimeBonus != nil {
		b.TimeBonus = TimeBonus(*calc.TimeBonus, durationSeconds)
	}
	if calc.StreakBonus != nil {
		b.StreakBonus = StreakBonus(*calc.StreakBonus, streak)
	}
	return b
}

// TimeBonus rewards the seconds saved against the target, capped
func TimeBonus(cfg rules.TimeBonus, durationSeconds int64) int64 {
	saved := cfg.TargetSeconds - durationSeconds
	if saved <= 0 {
		return 0
	}
	bonus := int64(math.Floor(float64(saved) * cfg.BonusPerSecond))
	return clamp(bonus, cfg.MaxBonus)
}

// StreakBonus rewards each day of the current streak, capped
func StreakBonus(cfg rules.StreakBonus, streak int64) int64 {
	if streak <= 0 {
		return 0
	}
	return clamp(streak*cfg.BonusPerDay, cfg.MaxBonus)
}

func clamp(v, max int64) int64 {
	if v > max {
		v = max
	}
	if v < 0 {
		return 0
	}
	return v
}
