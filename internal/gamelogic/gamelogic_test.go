package gamelogic

import (
	"errors"
	"testing"

	"github.com/alexbotov/progression/internal/domain"
)

type counter struct {
	Base
	target int64
}

func (c counter) InitializeSession(string, domain.JSONMap) (domain.JSONMap, error) {
	return domain.JSONMap{"score": 0}, nil
}

func (c counter) ProcessAction(state, action domain.JSONMap) (domain.JSONMap, ActionResult, error) {
	next := state.Clone()
	next["score"] = FinalScore(state) + 1
	return next, ActionResult{Valid: true, PointsEarned: 1}, nil
}

func (c counter) CheckCompletion(state domain.JSONMap) (*Completion, bool) {
	if FinalScore(state) < c.target {
		return nil, false
	}
	return &Completion{FinalScore: FinalScore(state)}, true
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("counter", func(game *domain.Game) (Mechanics, error) {
		return counter{target: 2}, nil
	})
	r.Register("broken", func(game *domain.Game) (Mechanics, error) {
		return nil, errors.New("no config")
	})

	t.Run("Registered", func(t *testing.T) {
		m, ok, err := r.For(&domain.Game{GameType: "counter"})
		if err != nil || !ok {
			t.Fatalf("Expected counter mechanics, got ok=%v err=%v", ok, err)
		}
		state, _ := m.InitializeSession("u", nil)
		for i := 0; i < 2; i++ {
			if err := m.ValidateAction(state, nil); err != nil {
				t.Fatalf("Base validation should accept, got %v", err)
			}
			state, _, _ = m.ProcessAction(state, nil)
		}
		c, done := m.CheckCompletion(state)
		if !done || c.FinalScore != 2 {
			t.Errorf("Expected completion at 2, got %+v %v", c, done)
		}
		if m.NextChallenge(state) != nil {
			t.Error("Base has no challenges")
		}
	})

	t.Run("Unregistered", func(t *testing.T) {
		m, ok, err := r.For(&domain.Game{GameType: "chess"})
		if m != nil || ok || err != nil {
			t.Errorf("Expected nothing for an unregistered type, got %v %v %v", m, ok, err)
		}
	})

	t.Run("FactoryError", func(t *testing.T) {
		_, ok, err := r.For(&domain.Game{GameType: "broken"})
		if !ok || err == nil {
			t.Errorf("Expected factory error, got ok=%v err=%v", ok, err)
		}
	})

	if types := r.Types(); len(types) != 2 || types[0] != "broken" || types[1] != "counter" {
		t.Errorf("Expected [broken counter], got %v", types)
	}
}

func TestFinalScore(t *testing.T) {
	if got := FinalScore(domain.JSONMap{"score": 41.0}); got != 41 {
		t.Errorf("Expected 41, got %d", got)
	}
	if got := FinalScore(nil); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
}
