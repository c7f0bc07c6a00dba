package rules

import (
	"fmt"

	"github.com/alexbotov/progression/internal/domain"
)

// Defaults applied when an xp_calculation document omits a parameter
const (
	DefaultBaseXP            = 10
	DefaultTargetSeconds     = 60
	DefaultBonusPerSecond    = 0.5
	DefaultTimeBonusMax      = 50
	DefaultStreakBonusPerDay = 5
	DefaultStreakBonusMax    = 100
)

// XPCalculation is a game's completion reward configuration
type XPCalculation struct {
	BaseXP          int64
	ScoreMultiplier float64
	TimeBonus       *TimeBonus
	StreakBonus     *StreakBonus
}

// TimeBonus rewards finishing faster than TargetSeconds
type TimeBonus struct {
	TargetSeconds  int64
	BonusPerSecond float64
	MaxBonus       int64
}

// StreakBonus rewards consecutive days of play
type StreakBonus struct {
	BonusPerDay int64
	MaxBonus    int64
}

// DefaultXPCalculation is used for games without a configuration
func DefaultXPCalculation() XPCalculation {
	return XPCalculation{BaseXP: DefaultBaseXP}
}

// ParseXPCalculation builds a reward configuration from its stored form.
// A nil or empty document yields the defaults.
func ParseXPCalculation(doc domain.JSONMap) (XPCalculation, error) {
	calc := DefaultXPCalculation()
	if len(doc) == 0 {
		return calc, nil
	}

	calc.BaseXP = int64(numberParam(doc, "base", DefaultBaseXP))
	calc.ScoreMultiplier = numberParam(doc, "score_multiplier", 0)
	if calc.ScoreMultiplier < 0 {
		return calc, fmt.Errorf("%s: %w: score_multiplier must not be negative", FamilyXPCalculation, ErrInvalidParam)
	}

	tb, present, err := subDoc(doc, "time_bonus")
	if err != nil {
		return calc, fmt.Errorf("%s: %w", FamilyXPCalculation, err)
	}
	if present && len(tb) > 0 {
		calc.TimeBonus = &TimeBonus{
			TargetSeconds:  int64(numberParam(tb, "target_seconds", DefaultTargetSeconds)),
			BonusPerSecond: numberParam(tb, "bonus_per_second", DefaultBonusPerSecond),
			MaxBonus:       int64(numberParam(tb, "max_bonus", DefaultTimeBonusMax)),
		}
	}

	sb, present, err := subDoc(doc, "streak_bonus")
	if err != nil {
		return calc, fmt.Errorf("%s: %w", FamilyXPCalculation, err)
	}
	if present && len(sb) > 0 {
		calc.StreakBonus = &StreakBonus{
			BonusPerDay: int64(numberParam(sb, "bonus_per_day", DefaultStreakBonusPerDay)),
			MaxBonus:    int64(numberParam(sb, "max_bonus", DefaultStreakBonusMax)),
		}
	}

	return calc, nil
}
