// Package reels is a reel-spin score game: each spin stops three reels,
// matching symbols score points, and the session ends after a fixed
// number of spins.
package reels

import (
	"fmt"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/gamelogic"
	"github.com/alexbotov/progression/internal/rng"
)

// GameType is the game_type served by this package
const GameType = "reels"

// ActionSpin is the only action type
const ActionSpin = "spin"

// DefaultSpins is the session length when neither config nor options set one
const DefaultSpins = 10

// Symbol is a reel symbol
type Symbol string

const (
	SymbolSeven  Symbol = "7"
	SymbolBar    Symbol = "BAR"
	SymbolCherry Symbol = "CHERRY"
	SymbolBell   Symbol = "BELL"
	SymbolLemon  Symbol = "LEMON"
	SymbolOrange Symbol = "ORANGE"
	SymbolPlum   Symbol = "PLUM"
	SymbolGrapes Symbol = "GRAPES"
	SymbolWild   Symbol = "WILD"
)

// State keys
const (
	keySpinsLeft   = "spins_left"
	keySpinsPlayed = "spins_played"
	keyScore       = "score"
	keyWins        = "wins"
	keyJackpots    = "jackpots"
	keyLastSpin    = "last_spin"
)

var strip = []Symbol{
	SymbolCherry, SymbolLemon, SymbolOrange, SymbolPlum, SymbolGrapes, SymbolBell, SymbolBar, SymbolSeven, SymbolWild,
	SymbolCherry, SymbolLemon, SymbolOrange, SymbolPlum, SymbolGrapes, SymbolBell, SymbolBar,
	SymbolCherry, SymbolLemon, SymbolOrange, SymbolPlum, SymbolGrapes,
}

// DefaultReels uses the standard strip, padded on the later reels
var DefaultReels = [][]Symbol{strip, append(append([]Symbol{}, strip...), SymbolBell), append(append([]Symbol{}, strip...), SymbolBell, SymbolBar)}

// threeOfAKind holds the points for three matching symbols
var threeOfAKind = map[Symbol]int64{
	SymbolSeven:  500,
	SymbolWild:   250,
	SymbolBar:    100,
	SymbolBell:   50,
	SymbolGrapes: 30,
	SymbolPlum:   20,
	SymbolOrange: 15,
	SymbolLemon:  10,
	SymbolCherry: 8,
}

const (
	twoCherries = 2
	oneCherry   = 1
)

// Config tunes a reels game
type Config struct {
	Spins int
	Reels [][]Symbol
}

// Game implements gamelogic.Mechanics
type Game struct {
	gamelogic.Base
	rng   *rng.Service
	spins int
	reels [][]Symbol
}

// New creates a reels game drawing from r
func New(r *rng.Service, cfg Config) *Game {
	if cfg.Spins <= 0 {
		cfg.Spins = DefaultSpins
	}
	if len(cfg.Reels) == 0 {
		cfg.Reels = DefaultReels
	}
	return &Game{rng: r, spins: cfg.Spins, reels: cfg.Reels}
}

// Factory registers reels with a gamelogic.Registry
func Factory(r *rng.Service, cfg Config) gamelogic.Factory {
	return func(*domain.Game) (gamelogic.Mechanics, error) {
		return New(r, cfg), nil
	}
}

// InitializeSession honours an optional "spins" option
func (g *Game) InitializeSession(userID string, options domain.JSONMap) (domain.JSONMap, error) {
	spins := g.spins
	if n, ok := options.Number("spins"); ok {
		if n < 1 {
			return nil, fmt.Errorf("%w: spins must be at least 1", gamelogic.ErrInvalidAction)
		}
		spins = int(n)
	}
	return domain.JSONMap{
		keySpinsLeft:   spins,
		keySpinsPlayed: 0,
		keyScore:       0,
		keyWins:        0,
		keyJackpots:    0,
	}, nil
}

// ValidateAction accepts a spin while spins remain
func (g *Game) ValidateAction(state, action domain.JSONMap) error {
	if action["type"] != ActionSpin {
		return fmt.Errorf("%w: unknown action %v", gamelogic.ErrInvalidAction, action["type"])
	}
	if left, _ := state.Number(keySpinsLeft); left < 1 {
		return fmt.Errorf("%w: no spins left", gamelogic.ErrInvalidAction)
	}
	return nil
}

// ProcessAction spins the reels and scores the result
func (g *Game) ProcessAction(state, action domain.JSONMap) (domain.JSONMap, gamelogic.ActionResult, error) {
	stops := make([]Symbol, len(g.reels))
	for i, reel := range g.reels {
		s, err := rng.Pick(g.rng, reel)
		if err != nil {
			return nil, gamelogic.ActionResult{}, err
		}
		stops[i] = s
	}

	points, kind := Evaluate(stops)

	next := state.Clone()
	if next == nil {
		next = domain.JSONMap{}
	}
	add := func(key string, n int64) {
		v, _ := next.Number(key)
		next[key] = int64(v) + n
	}
	add(keySpinsLeft, -1)
	add(keySpinsPlayed, 1)
	add(keyScore, points)
	if points > 0 {
		add(keyWins, 1)
	}
	if kind == SymbolSeven {
		add(keyJackpots, 1)
	}

	last := make([]any, len(stops))
	for i, s := range stops {
		last[i] = string(s)
	}
	next[keyLastSpin] = last

	result := gamelogic.ActionResult{
		Valid:        true,
		PointsEarned: points,
		Feedback:     domain.JSONMap{"reels": last},
	}
	if points > 0 {
		result.Message = fmt.Sprintf("%s pays %d", kind, points)
	}
	return next, result, nil
}

// CheckCompletion ends the session when no spins are left
func (g *Game) CheckCompletion(state domain.JSONMap) (*gamelogic.Completion, bool) {
	if left, _ := state.Number(keySpinsLeft); left > 0 {
		return nil, false
	}
	played, _ := state.Number(keySpinsPlayed)
	wins, _ := state.Number(keyWins)
	jackpots, _ := state.Number(keyJackpots)

	perf := domain.JSONMap{}
	if played > 0 {
		perf["win_rate"] = wins / played
	}
	return &gamelogic.Completion{
		FinalScore:  gamelogic.FinalScore(state),
		Performance: perf,
		Stats: domain.JSONMap{
			"spins":    played,
			"wins":     wins,
			"jackpots": jackpots,
		},
	}, true
}

// NextChallenge reports the remaining spins
func (g *Game) NextChallenge(state domain.JSONMap) domain.JSONMap {
	left, _ := state.Number(keySpinsLeft)
	if left < 1 {
		return nil
	}
	return domain.JSONMap{"action": ActionSpin, "spins_left": int64(left)}
}

// Evaluate scores a line of stops. It returns the points and the symbol
// that paid, if any. Wilds substitute for any symbol in a three of a kind.
func Evaluate(stops []Symbol) (int64, Symbol) {
	if len(stops) < 3 {
		return 0, ""
	}

	var base Symbol
	matched := true
	for _, s := range stops[:3] {
		if s == SymbolWild {
			continue
		}
		if base == "" {
			base = s
		} else if s != base {
			matched = false
			break
		}
	}
	if matched {
		if base == "" {
			base = SymbolWild
		}
		if points, ok := threeOfAKind[base]; ok {
			return points, base
		}
	}

	switch {
	case stops[0] == SymbolCherry && stops[1] == SymbolCherry:
		return twoCherries, SymbolCherry
	case stops[0] == SymbolCherry:
		return oneCherry, SymbolCherry
	}
	return 0, ""
}
