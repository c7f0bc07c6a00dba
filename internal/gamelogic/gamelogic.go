// Package gamelogic defines per-game-type mechanics driven through a
// session's state blob.
package gamelogic

import (
	"fmt"
	"slices"
	"sync"

	"github.com/alexbotov/progression/internal/domain"
)

var (
	ErrNoMechanics   = fmt.Errorf("%w: game type has no mechanics", domain.ErrInvalidInput)
	ErrInvalidAction = fmt.Errorf("%w: action rejected", domain.ErrInvalidInput)
)

// ActionResult reports the effect of one player action
type ActionResult struct {
	Valid        bool           `json:"valid"`
	Message      string         `json:"message,omitempty"`
	PointsEarned int64          `json:"points_earned"`
	Feedback     domain.JSONMap `json:"feedback,omitempty"`
}

// Completion is reported once the state shows the session is over
type Completion struct {
	FinalScore  int64          `json:"final_score"`
	Performance domain.JSONMap `json:"performance,omitempty"`
	Stats       domain.JSONMap `json:"stats,omitempty"`
}

// Mechanics drives one game type
type Mechanics interface {
	InitializeSession(userID string, options domain.JSONMap) (domain.JSONMap, error)
	ValidateAction(state, action domain.JSONMap) error
	ProcessAction(state, action domain.JSONMap) (domain.JSONMap, ActionResult, error)
	CheckCompletion(state domain.JSONMap) (*Completion, bool)
	NextChallenge(state domain.JSONMap) domain.JSONMap
}

// Base supplies defaults for the optional parts of Mechanics
type Base struct{}

// ValidateAction accepts every action
func (Base) ValidateAction(state, action domain.JSONMap) error { return nil }

// NextChallenge reports no challenge
func (Base) NextChallenge(state domain.JSONMap) domain.JSONMap { return nil }

// FinalScore reads the "score" key of a state blob
func FinalScore(state domain.JSONMap) int64 {
	n, _ := state.Number("score")
	return int64(n)
}

// Factory builds the mechanics for a game
type Factory func(game *domain.Game) (Mechanics, error)

// Registry maps game types to mechanics factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds gameType to f, replacing any earlier binding
func (r *Registry) Register(gameType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[gameType] = f
}

// For builds the mechanics of game; ok is false when its type has none
func (r *Registry) For(game *domain.Game) (Mechanics, bool, error) {
	r.mu.RLock()
	f, ok := r.factories[game.GameType]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	m, err := f(game)
	if err != nil {
		return nil, true, fmt.Errorf("build %s mechanics: %w", game.GameType, err)
	}
	return m, true, nil
}

// Types lists the registered game types in order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
