package rules

import (
	"errors"
	"testing"

	"github.com/alexbotov/progression/internal/domain"
)

func TestNewProgress(t *testing.T) {
	t.Run("Partial", func(t *testing.T) {
		p, ok := NewProgress(50, 100)
		if !ok {
			t.Fatal("Expected valid progress")
		}
		if p.Percentage != 50 {
			t.Errorf("Expected 50%%, got %d", p.Percentage)
		}
	})

	t.Run("CappedAt100", func(t *testing.T) {
		p, _ := NewProgress(120, 100)
		if p.Percentage != 100 {
			t.Errorf("Expected 100%%, got %d", p.Percentage)
		}
	})

	t.Run("Floors", func(t *testing.T) {
		p, _ := NewProgress(2, 3)
		if p.Percentage != 66 {
			t.Errorf("Expected 66%%, got %d", p.Percentage)
		}
	})

	t.Run("ZeroRequired", func(t *testing.T) {
		p, ok := NewProgress(5, 0)
		if ok {
			t.Error("Expected zero required to be rejected")
		}
		if p.Percentage != 0 {
			t.Errorf("Expected 0%%, got %d", p.Percentage)
		}
	})
}

func TestParseRequirement(t *testing.T) {
	t.Run("StatThreshold", func(t *testing.T) {
		req, err := ParseRequirement(domain.JSONMap{"type": "stat_threshold", "stat": "games_completed", "threshold": 100.0})
		if err != nil {
			t.Fatalf("ParseRequirement failed: %v", err)
		}
		st, ok := req.(StatThreshold)
		if !ok {
			t.Fatalf("Expected StatThreshold, got %T", req)
		}
		if st.Threshold != 100 || st.Stat != StatGamesCompleted {
			t.Errorf("Unexpected params: %+v", st)
		}
	})

	t.Run("YAMLIntegers", func(t *testing.T) {
		req, err := ParseRequirement(domain.JSONMap{"type": "streak", "days": 7})
		if err != nil {
			t.Fatalf("ParseRequirement failed: %v", err)
		}
		if req.(Streak).Days != 7 {
			t.Errorf("Expected 7 days, got %v", req.(Streak).Days)
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		_, err := ParseRequirement(domain.JSONMap{"type": "moon_phase"})
		if !errors.Is(err, ErrUnknownKind) {
			t.Errorf("Expected ErrUnknownKind, got %v", err)
		}
	})

	t.Run("MissingType", func(t *testing.T) {
		_, err := ParseRequirement(domain.JSONMap{"stat": "level"})
		if !errors.Is(err, ErrMissingParam) {
			t.Errorf("Expected ErrMissingParam, got %v", err)
		}
	})

	t.Run("UnknownStat", func(t *testing.T) {
		_, err := ParseRequirement(domain.JSONMap{"type": "stat_threshold", "stat": "karma", "threshold": 1})
		if !errors.Is(err, ErrInvalidParam) {
			t.Errorf("Expected ErrInvalidParam, got %v", err)
		}
	})
}

func TestRequirementEvaluate(t *testing.T) {
	stats := &domain.UserGameStats{
		GamesCompleted: 50,
		BestScore:      900,
		CurrentStreak:  3,
		CustomStats:    domain.JSONMap{"puzzles_solved": 12.0, "favorite": "blue"},
	}

	t.Run("StatThresholdBelow", func(t *testing.T) {
		out := StatThreshold{Stat: StatGamesCompleted, Threshold: 100}.Evaluate(Inputs{Stats: stats, GameScoped: true})
		if out.Unlocked {
			t.Error("Expected locked")
		}
		if out.Progress.Percentage != 50 {
			t.Errorf("Expected 50%%, got %d", out.Progress.Percentage)
		}
	})

	t.Run("StatThresholdAbove", func(t *testing.T) {
		s := *stats
		s.GamesCompleted = 120
		out := StatThreshold{Stat: StatGamesCompleted, Threshold: 100}.Evaluate(Inputs{Stats: &s, GameScoped: true})
		if !out.Unlocked {
			t.Error("Expected unlocked")
		}
		if out.Progress.Percentage != 100 {
			t.Errorf("Expected 100%%, got %d", out.Progress.Percentage)
		}
	})

	t.Run("PlatformStatUsesTotals", func(t *testing.T) {
		totals := &domain.UserGameStats{GamesCompleted: 200}
		out := StatThreshold{Stat: StatGamesCompleted, Threshold: 150}.Evaluate(Inputs{Stats: stats, Totals: totals})
		if !out.Unlocked {
			t.Error("Expected platform-wide threshold to read totals")
		}
	})

	t.Run("UserField", func(t *testing.T) {
		user := &domain.User{TotalXP: 1000, Level: 4}
		out := StatThreshold{Stat: StatLevel, Threshold: 5}.Evaluate(Inputs{User: user, Stats: stats, GameScoped: true})
		if out.Unlocked || out.Progress.Percentage != 80 {
			t.Errorf("Expected locked at 80%%, got %+v", out)
		}
	})

	t.Run("CustomStat", func(t *testing.T) {
		out := CustomStat{Stat: "puzzles_solved", Threshold: 10}.Evaluate(Inputs{Stats: stats})
		if !out.Unlocked {
			t.Error("Expected unlocked")
		}
		out = CustomStat{Stat: "favorite", Threshold: 1}.Evaluate(Inputs{Stats: stats})
		if out.Unlocked || out.Progress.Current != 0 {
			t.Errorf("Non-numeric custom stat should read as zero, got %+v", out)
		}
	})

	t.Run("ScoreAndStreak", func(t *testing.T) {
		if !(ScoreThreshold{Score: 900}).Evaluate(Inputs{Stats: stats}).Unlocked {
			t.Error("Expected score threshold unlocked at equality")
		}
		if (Streak{Days: 7}).Evaluate(Inputs{Stats: stats}).Unlocked {
			t.Error("Expected streak locked")
		}
	})

	t.Run("NoStats", func(t *testing.T) {
		out := Streak{Days: 1}.Evaluate(Inputs{})
		if out.Unlocked || out.Warning != nil {
			t.Errorf("Expected locked without warning, got %+v", out)
		}
	})

	t.Run("MalformedThreshold", func(t *testing.T) {
		out := StatThreshold{Stat: StatGamesCompleted, Threshold: 0}.Evaluate(Inputs{Stats: stats, GameScoped: true})
		if out.Unlocked {
			t.Error("Malformed rule must not unlock")
		}
		if out.Warning == nil {
			t.Fatal("Expected warning")
		}
		if out.Warning.Family != FamilyRequirement {
			t.Errorf("Expected requirement family, got %s", out.Warning.Family)
		}
	})
}

func TestRankingCriteria(t *testing.T) {
	user := &domain.User{TotalXP: 500}
	stats := &domain.UserGameStats{GamesCompleted: 3, TotalXPEarned: 120, BestScore: 80, AverageScore: 42.5}

	t.Run("Defaults", func(t *testing.T) {
		c, err := ParseRankingCriteria(domain.JSONMap{"type": "average_score"})
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if c.(AverageScore).MinGames != DefaultAverageScoreMinGames {
			t.Errorf("Expected default min_games %d, got %d", DefaultAverageScoreMinGames, c.(AverageScore).MinGames)
		}
	})

	t.Run("Scores", func(t *testing.T) {
		cases := []struct {
			doc  domain.JSONMap
			want float64
			ok   bool
		}{
			{domain.JSONMap{"type": "total_xp"}, 500, true},
			{domain.JSONMap{"type": "game_xp", "min_games": 3}, 120, true},
			{domain.JSONMap{"type": "best_score", "min_games": 4}, 0, false},
			{domain.JSONMap{"type": "average_score", "min_games": 1}, 42.5, true},
			{domain.JSONMap{"type": "average_score"}, 0, false},
			{domain.JSONMap{"type": "games_completed"}, 3, true},
		}
		for _, c := range cases {
			crit, err := ParseRankingCriteria(c.doc)
			if err != nil {
				t.Fatalf("Parse %v failed: %v", c.doc, err)
			}
			got, ok := crit.Score(user, stats)
			if ok != c.ok || got != c.want {
				t.Errorf("%v: expected (%v, %v), got (%v, %v)", c.doc["type"], c.want, c.ok, got, ok)
			}
		}
	})

	t.Run("NoStats", func(t *testing.T) {
		if _, ok := (GamesCompleted{}).Score(user, nil); ok {
			t.Error("Expected user without stats to be skipped")
		}
		if _, ok := (TotalXP{}).Score(user, nil); !ok {
			t.Error("Total XP should not need game stats")
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		if _, err := ParseRankingCriteria(domain.JSONMap{"type": "elo"}); !errors.Is(err, ErrUnknownKind) {
			t.Errorf("Expected ErrUnknownKind, got %v", err)
		}
	})

	t.Run("NegativeMinGames", func(t *testing.T) {
		if _, err := ParseRankingCriteria(domain.JSONMap{"type": "best_score", "min_games": -1}); !errors.Is(err, ErrInvalidParam) {
			t.Errorf("Expected ErrInvalidParam, got %v", err)
		}
	})
}

func TestParseXPCalculation(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		calc, err := ParseXPCalculation(nil)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if calc.BaseXP != DefaultBaseXP || calc.TimeBonus != nil || calc.StreakBonus != nil {
			t.Errorf("Expected defaults, got %+v", calc)
		}
	})

	t.Run("Full", func(t *testing.T) {
		calc, err := ParseXPCalculation(domain.JSONMap{
			"base":             20.0,
			"score_multiplier": 0.5,
			"time_bonus":       map[string]any{"target_seconds": 90.0},
			"streak_bonus":     map[string]any{"bonus_per_day": 10.0, "max_bonus": 30.0},
		})
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if calc.BaseXP != 20 || calc.ScoreMultiplier != 0.5 {
			t.Errorf("Unexpected base/multiplier: %+v", calc)
		}
		if calc.TimeBonus == nil || calc.TimeBonus.TargetSeconds != 90 || calc.TimeBonus.MaxBonus != DefaultTimeBonusMax {
			t.Errorf("Unexpected time bonus: %+v", calc.TimeBonus)
		}
		if calc.StreakBonus == nil || calc.StreakBonus.BonusPerDay != 10 || calc.StreakBonus.MaxBonus != 30 {
			t.Errorf("Unexpected streak bonus: %+v", calc.StreakBonus)
		}
	})

	t.Run("MalformedPart", func(t *testing.T) {
		_, err := ParseXPCalculation(domain.JSONMap{"time_bonus": "fast"})
		if !errors.Is(err, ErrInvalidParam) {
			t.Errorf("Expected ErrInvalidParam, got %v", err)
		}
	})
}
