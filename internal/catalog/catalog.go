// Package catalog loads games, achievements and leaderboards from a YAML
// file and writes them to the database.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/rules"
	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"
)

// Catalog is the content of a catalog file
type Catalog struct {
	Games        []Game        `yaml:"games"`
	Achievements []Achievement `yaml:"achievements"`
	Leaderboards []Leaderboard `yaml:"leaderboards"`
}

// Game is a catalog game entry
type Game struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	GameType      string         `yaml:"game_type"`
	Active        *bool          `yaml:"active,omitempty"`
	XPCalculation domain.JSONMap `yaml:"xp_calculation,omitempty"`
}

// Achievement is a catalog achievement entry. An empty GameID makes it
// platform-wide.
type Achievement struct {
	ID          string         `yaml:"id"`
	GameID      string         `yaml:"game_id,omitempty"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Requirement domain.JSONMap `yaml:"requirement"`
	XPReward    int64          `yaml:"xp_reward"`
	Active      *bool          `yaml:"active,omitempty"`
}

// Leaderboard is a catalog leaderboard entry
type Leaderboard struct {
	ID              string            `yaml:"id"`
	GameID          string            `yaml:"game_id,omitempty"`
	Name            string            `yaml:"name"`
	RankingCriteria domain.JSONMap    `yaml:"ranking_criteria"`
	TimePeriod      domain.TimePeriod `yaml:"time_period"`
	Active          *bool             `yaml:"active,omitempty"`
}

// Summary counts the rows written by Apply
type Summary struct {
	Games        int
	Achievements int
	Leaderboards int
}

// Load reads, expands and validates a catalog file.
// ${VAR} and ${VAR:default} are replaced from the environment.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &c); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog YAML: %w", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid catalog: %w", domain.ErrInvalidInput, err)
	}
	return &c, nil
}

// Validate checks ids, references and every rule document
func (c *Catalog) Validate() error {
	games := make(map[string]bool)
	for _, g := range c.Games {
		if g.ID == "" {
			return fmt.Errorf("game with empty id found")
		}
		if games[g.ID] {
			return fmt.Errorf("duplicate game id: %s", g.ID)
		}
		games[g.ID] = true

		if g.Name == "" || g.GameType == "" {
			return fmt.Errorf("game %s needs a name and a game_type", g.ID)
		}
		if _, err := rules.ParseXPCalculation(g.XPCalculation); err != nil {
			return fmt.Errorf("game %s: %w", g.ID, err)
		}
	}

	seen := make(map[string]bool)
	for _, a := range c.Achievements {
		if a.ID == "" {
			return fmt.Errorf("achievement with empty id found")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate achievement id: %s", a.ID)
		}
		seen[a.ID] = true

		if a.Name == "" {
			return fmt.Errorf("achievement %s has empty name", a.ID)
		}
		if a.GameID != "" && !games[a.GameID] {
			return fmt.Errorf("achievement %s references unknown game: %s", a.ID, a.GameID)
		}
		if a.XPReward < 0 {
			return fmt.Errorf("achievement %s has negative xp_reward", a.ID)
		}
		if _, err := rules.ParseRequirement(a.Requirement); err != nil {
			return fmt.Errorf("achievement %s: %w", a.ID, err)
		}
	}

	clear(seen)
	for _, lb := range c.Leaderboards {
		if lb.ID == "" {
			return fmt.Errorf("leaderboard with empty id found")
		}
		if seen[lb.ID] {
			return fmt.Errorf("duplicate leaderboard id: %s", lb.ID)
		}
		seen[lb.ID] = true

		if lb.Name == "" {
			return fmt.Errorf("leaderboard %s has empty name", lb.ID)
		}
		if lb.GameID != "" && !games[lb.GameID] {
			return fmt.Errorf("leaderboard %s references unknown game: %s", lb.ID, lb.GameID)
		}
		if !lb.TimePeriod.Valid() {
			return fmt.Errorf("leaderboard %s has invalid time_period %q", lb.ID, lb.TimePeriod)
		}
		if _, err := rules.ParseRankingCriteria(lb.RankingCriteria); err != nil {
			return fmt.Errorf("leaderboard %s: %w", lb.ID, err)
		}
	}

	return nil
}

// Apply upserts every entry in one transaction. Counters such as
// play_count and unlock_count are left untouched on existing rows.
func Apply(ctx context.Context, db *database.DB, c *Catalog) (Summary, error) {
	var sum Summary
	now := time.Now().UTC()

	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		sum = Summary{}
		for _, g := range c.Games {
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO games (id, name, game_type, is_active, xp_calculation, play_count, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, 0, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, game_type = excluded.game_type,
					is_active = excluded.is_active, xp_calculation = excluded.xp_calculation, updated_at = excluded.updated_at
			`), g.ID, g.Name, g.GameType, active(g.Active), g.XPCalculation, now, now)
			if err != nil {
				return domain.StorageError("upsert game "+g.ID, err)
			}
			sum.Games++
		}

		for _, a := range c.Achievements {
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO achievements (id, game_id, name, description, requirement, xp_reward, is_active, unlock_count, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
				ON CONFLICT (id) DO UPDATE SET game_id = excluded.game_id, name = excluded.name,
					description = excluded.description, requirement = excluded.requirement,
					xp_reward = excluded.xp_reward, is_active = excluded.is_active
			`), a.ID, optional(a.GameID), a.Name, a.Description, a.Requirement, a.XPReward, active(a.Active), now)
			if err != nil {
				return domain.StorageError("upsert achievement "+a.ID, err)
			}
			sum.Achievements++
		}

		for _, lb := range c.Leaderboards {
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO leaderboards (id, game_id, name, ranking_criteria, time_period, is_active, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET game_id = excluded.game_id, name = excluded.name,
					ranking_criteria = excluded.ranking_criteria, time_period = excluded.time_period,
					is_active = excluded.is_active
			`), lb.ID, optional(lb.GameID), lb.Name, lb.RankingCriteria, lb.TimePeriod, active(lb.Active), now)
			if err != nil {
				return domain.StorageError("upsert leaderboard "+lb.ID, err)
			}
			sum.Leaderboards++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func active(b *bool) bool {
	return b == nil || *b
}

func optional(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, _ := strings.Cut(key, ":")
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}
