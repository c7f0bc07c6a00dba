// Package domain contains the core models of the progression engine.
//
// Entities map one-to-one onto storage tables:
//   - users (progression fields only), games
//   - game_sessions, xp_transactions
//   - user_game_stats
//   - achievements, user_achievements
//   - leaderboards, leaderboard_entries
//   - audit_events
package domain

import (
	"time"
)

// SessionStatus represents the lifecycle state of a play session
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusAbandoned  SessionStatus = "ABANDONED"
)

// IsTerminal reports whether no further transition is allowed
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// CanTransitionTo reports whether moving from s to next is legal.
// Only IN_PROGRESS sessions move; a state update keeps them IN_PROGRESS.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	return s == SessionStatusInProgress && next.Valid()
}

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusInProgress, SessionStatusCompleted, SessionStatusAbandoned:
		return true
	}
	return false
}

// User carries the progression fields of a platform user.
// The account itself is owned by the identity service.
type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	TotalXP   int64     `json:"total_xp" db:"total_xp"`
	Level     int       `json:"level" db:"level"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// NextLevelXP is the cumulative XP of the next level; nil at max level
	NextLevelXP *int64 `json:"next_level_xp,omitempty" db:"-"`
}

// Game is the catalog entry a session is played against
type Game struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	GameType      string    `json:"game_type" db:"game_type"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	XPCalculation JSONMap   `json:"xp_calculation" db:"xp_calculation"`
	PlayCount     int64     `json:"play_count" db:"play_count"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Session is one play attempt from start to completion or abandonment
type Session struct {
	ID              string        `json:"id" db:"id"`
	GameID          string        `json:"game_id" db:"game_id"`
	UserID          string        `json:"user_id" db:"user_id"`
	Status          SessionStatus `json:"status" db:"status"`
	GameState       JSONMap       `json:"game_state" db:"game_state"`
	Score           *int64        `json:"score,omitempty" db:"score"`
	FinalStats      JSONMap       `json:"final_stats,omitempty" db:"final_stats"`
	XPEarned        int64         `json:"xp_earned" db:"xp_earned"`
	DurationSeconds int64         `json:"duration_seconds" db:"duration_seconds"`
	StartedAt       time.Time     `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// XPTransactionType tags the reason for an XP grant
type XPTransactionType string

const (
	XPGameCompletion XPTransactionType = "GAME_COMPLETION"
	XPAchievement    XPTransactionType = "ACHIEVEMENT"
	XPDailyBonus     XPTransactionType = "DAILY_BONUS"
	XPStreakBonus    XPTransactionType = "STREAK_BONUS"
	XPPenalty        XPTransactionType = "PENALTY"
)

// Valid reports whether t is a known transaction type
func (t XPTransactionType) Valid() bool {
	switch t {
	case XPGameCompletion, XPAchievement, XPDailyBonus, XPStreakBonus, XPPenalty:
		return true
	}
	return false
}

// XPTransaction is an append-only ledger row. Rows are never updated.
type XPTransaction struct {
	ID          string            `json:"id" db:"id"`
	UserID      string            `json:"user_id" db:"user_id"`
	Amount      int64             `json:"amount" db:"amount"`
	Type        XPTransactionType `json:"type" db:"type"`
	GameID      *string           `json:"game_id,omitempty" db:"game_id"`
	SessionID   *string           `json:"session_id,omitempty" db:"session_id"`
	ReferenceID *string           `json:"reference_id,omitempty" db:"reference_id"`
	Meta        JSONMap           `json:"meta,omitempty" db:"meta"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// UserGameStats holds rolling statistics for one (user, game) pair
type UserGameStats struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	GameID         string     `json:"game_id" db:"game_id"`
	GamesPlayed    int64      `json:"games_played" db:"games_played"`
	GamesCompleted int64      `json:"games_completed" db:"games_completed"`
	TotalXPEarned  int64      `json:"total_xp_earned" db:"total_xp_earned"`
	CurrentStreak  int64      `json:"current_streak" db:"current_streak"`
	BestStreak     int64      `json:"best_streak" db:"best_streak"`
	CustomStats    JSONMap    `json:"custom_stats" db:"custom_stats"`
	AverageScore   float64    `json:"average_score" db:"average_score"`
	BestScore      int64      `json:"best_score" db:"best_score"`
	LastPlayedAt   *time.Time `json:"last_played_at,omitempty" db:"last_played_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Achievement is a rule-defined milestone granting a one-time XP bonus
type Achievement struct {
	ID          string    `json:"id" db:"id"`
	GameID      *string   `json:"game_id,omitempty" db:"game_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Requirement JSONMap   `json:"requirement" db:"requirement"`
	XPReward    int64     `json:"xp_reward" db:"xp_reward"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	UnlockCount int64     `json:"unlock_count" db:"unlock_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// UserAchievement tracks a user's progress towards one achievement.
// UnlockedAt is written once and never cleared.
type UserAchievement struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"user_id" db:"user_id"`
	AchievementID string     `json:"achievement_id" db:"achievement_id"`
	Progress      JSONMap    `json:"progress" db:"progress"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty" db:"unlocked_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// IsUnlocked reports whether the achievement has been earned
func (ua *UserAchievement) IsUnlocked() bool {
	return ua != nil && ua.UnlockedAt != nil
}

// AchievementView pairs an achievement with the user's row, if any
type AchievementView struct {
	Achievement     Achievement      `json:"achievement"`
	UserAchievement *UserAchievement `json:"user_achievement,omitempty"`
}

// TimePeriod is the window kind of a leaderboard
type TimePeriod string

const (
	PeriodAllTime TimePeriod = "ALL_TIME"
	PeriodDaily   TimePeriod = "DAILY"
	PeriodWeekly  TimePeriod = "WEEKLY"
	PeriodMonthly TimePeriod = "MONTHLY"
)

// Valid reports whether p is a known period kind
func (p TimePeriod) Valid() bool {
	switch p {
	case PeriodAllTime, PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// Leaderboard ranks users by a ranking-criteria rule within a time window
type Leaderboard struct {
	ID              string     `json:"id" db:"id"`
	GameID          *string    `json:"game_id,omitempty" db:"game_id"`
	Name            string     `json:"name" db:"name"`
	RankingCriteria JSONMap    `json:"ranking_criteria" db:"ranking_criteria"`
	TimePeriod      TimePeriod `json:"time_period" db:"time_period"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	LastResetAt     *time.Time `json:"last_reset_at,omitempty" db:"last_reset_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// LeaderboardEntry is a user's ranked score for one leaderboard period
type LeaderboardEntry struct {
	ID             string     `json:"id" db:"id"`
	LeaderboardID  string     `json:"leaderboard_id" db:"leaderboard_id"`
	UserID         string     `json:"user_id" db:"user_id"`
	Score          float64    `json:"score" db:"score"`
	GamesPlayed    int64      `json:"games_played" db:"games_played"`
	Rank           int        `json:"rank" db:"rank"`
	PeriodStart    time.Time  `json:"period_start" db:"period_start"`
	PeriodEnd      *time.Time `json:"period_end,omitempty" db:"period_end"`
	LastUpdated    time.Time  `json:"last_updated" db:"last_updated"`
	ScoreUpdatedAt time.Time  `json:"score_updated_at" db:"score_updated_at"`
}

// EventSeverity represents audit event severity
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent is an operational record of a significant change
type AuditEvent struct {
	ID          string        `json:"id" db:"id"`
	Type        string        `json:"type" db:"type"`
	Severity    EventSeverity `json:"severity" db:"severity"`
	UserID      *string       `json:"user_id,omitempty" db:"user_id"`
	SessionID   *string       `json:"session_id,omitempty" db:"session_id"`
	Description string        `json:"description" db:"description"`
	Data        JSONMap       `json:"data,omitempty" db:"data"`
	Component   string        `json:"component" db:"component"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}
