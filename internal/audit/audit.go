// Package audit records significant progression events.
// Events are written through the caller's transaction so they commit or
// roll back together with the change they describe.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Event types
const (
	EventSessionStarted      = "session_started"
	EventSessionCompleted    = "session_completed"
	EventSessionAbandoned    = "session_abandoned"
	EventXPAwarded           = "xp_awarded"
	EventLevelUp             = "level_up"
	EventAchievementUnlocked = "achievement_unlocked"
	EventRuleWarning         = "rule_warning"
	EventPeriodRollover      = "leaderboard_period_rollover"
)

// Component is the default event source
const Component = "progression"

// Service provides audit logging functionality
type Service struct {
	db *sqlx.DB
}

// New creates a new audit service
func New(db *sqlx.DB) *Service {
	return &Service{db: db}
}

// LogEvent records a significant event through q
func (s *Service) LogEvent(ctx context.Context, q sqlx.ExtContext, event *domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = Component
	}

	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO audit_events (id, type, severity, user_id, session_id, description, data, component, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), event.ID, event.Type, event.Severity, event.UserID, event.SessionID,
		event.Description, event.Data, event.Component, event.CreatedAt)
	if err != nil {
		return domain.StorageError("insert audit event", err)
	}
	return nil
}

// Log is a convenience method for logging events
func (s *Service) Log(ctx context.Context, q sqlx.ExtContext, eventType string, severity domain.EventSeverity, description string, data domain.JSONMap, opts ...EventOption) error {
	event := &domain.AuditEvent{
		Type:        eventType,
		Severity:    severity,
		Description: description,
		Data:        data,
	}

	for _, opt := range opts {
		opt(event)
	}

	return s.LogEvent(ctx, q, event)
}

// EventOption is a functional option for configuring audit events
type EventOption func(*domain.AuditEvent)

// WithUser sets the user ID for the event
func WithUser(userID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.UserID = &userID
	}
}

// WithSession sets the session ID for the event
func WithSession(sessionID string) EventOption {
	return func(e *domain.AuditEvent) {
		e.SessionID = &sessionID
	}
}

// WithComponent sets the component for the event
func WithComponent(component string) EventOption {
	return func(e *domain.AuditEvent) {
		e.Component = component
	}
}

// At overrides the event timestamp
func At(t time.Time) EventOption {
	return func(e *domain.AuditEvent) {
		e.CreatedAt = t.UTC()
	}
}

// EventFilter defines criteria for filtering audit events
type EventFilter struct {
	UserID string
	Type   string
	From   time.Time
	To     time.Time
	Limit  int
}

// GetEvents retrieves audit events with optional filtering, newest first
func (s *Service) GetEvents(ctx context.Context, filter *EventFilter) ([]domain.AuditEvent, error) {
	query := `SELECT id, type, severity, user_id, session_id, description, data, component, created_at
			  FROM audit_events WHERE 1=1`
	args := []any{}

	limit := 100
	if filter != nil {
		if filter.UserID != "" {
			query += " AND user_id = ?"
			args = append(args, filter.UserID)
		}
		if filter.Type != "" {
			query += " AND type = ?"
			args = append(args, filter.Type)
		}
		if !filter.From.IsZero() {
			query += " AND created_at >= ?"
			args = append(args, filter.From.UTC())
		}
		if !filter.To.IsZero() {
			query += " AND created_at <= ?"
			args = append(args, filter.To.UTC())
		}
		if filter.Limit > 0 {
			limit = filter.Limit
		}
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	var events []domain.AuditEvent
	if err := sqlx.SelectContext(ctx, s.db, &events, s.db.Rebind(query), args...); err != nil {
		return nil, domain.StorageError("list audit events", err)
	}
	return events, nil
}
