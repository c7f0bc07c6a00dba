package audit

import (
	"context"
	"testing"
	"time"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/testutil"
)

func setupTestAudit(t *testing.T) (*Service, func(string, string, time.Time, ...EventOption)) {
	t.Helper()

	db := testutil.NewDB(t)
	svc := New(db.DB)
	log := func(eventType, userID string, at time.Time, opts ...EventOption) {
		t.Helper()
		opts = append([]EventOption{WithUser(userID), At(at)}, opts...)
		err := svc.Log(context.Background(), db, eventType, domain.SeverityInfo, eventType, domain.JSONMap{"n": 1}, opts...)
		if err != nil {
			t.Fatalf("Failed to log event: %v", err)
		}
	}
	return svc, log
}

func TestLog(t *testing.T) {
	svc, log := setupTestAudit(t)
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	log(EventSessionStarted, "u1", at, WithSession("s1"))
	log(EventPeriodRollover, "u1", at.Add(time.Hour), WithComponent("scheduler"))

	events, err := svc.GetEvents(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	t.Run("NewestFirst", func(t *testing.T) {
		if events[0].Type != EventPeriodRollover {
			t.Errorf("Expected %s first, got %s", EventPeriodRollover, events[0].Type)
		}
	})

	t.Run("Component", func(t *testing.T) {
		if events[0].Component != "scheduler" {
			t.Errorf("Expected component scheduler, got %s", events[0].Component)
		}
		if events[1].Component != Component {
			t.Errorf("Expected default component %s, got %s", Component, events[1].Component)
		}
	})

	t.Run("Fields", func(t *testing.T) {
		e := events[1]
		if e.ID == "" {
			t.Error("Expected a generated ID")
		}
		if e.UserID == nil || *e.UserID != "u1" {
			t.Errorf("Expected user u1, got %v", e.UserID)
		}
		if e.SessionID == nil || *e.SessionID != "s1" {
			t.Errorf("Expected session s1, got %v", e.SessionID)
		}
		if !e.CreatedAt.Equal(at) {
			t.Errorf("Expected created_at %v, got %v", at, e.CreatedAt)
		}
		if e.Severity != domain.SeverityInfo {
			t.Errorf("Expected severity info, got %s", e.Severity)
		}
		if len(e.Data) != 1 {
			t.Errorf("Expected 1 data key, got %v", e.Data)
		}
		if events[0].SessionID != nil {
			t.Errorf("Expected no session, got %v", *events[0].SessionID)
		}
	})
}

func TestGetEventsFilter(t *testing.T) {
	svc, log := setupTestAudit(t)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	log(EventSessionStarted, "u1", base)
	log(EventXPAwarded, "u1", base.Add(time.Hour))
	log(EventLevelUp, "u1", base.Add(2*time.Hour))
	log(EventXPAwarded, "u2", base.Add(3*time.Hour))

	cases := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"User", EventFilter{UserID: "u1"}, 3},
		{"Type", EventFilter{Type: EventXPAwarded}, 2},
		{"UserAndType", EventFilter{UserID: "u2", Type: EventXPAwarded}, 1},
		{"From", EventFilter{From: base.Add(2 * time.Hour)}, 2},
		{"To", EventFilter{To: base.Add(time.Hour)}, 2},
		{"Window", EventFilter{From: base.Add(time.Hour), To: base.Add(2 * time.Hour)}, 2},
		{"Limit", EventFilter{Limit: 1}, 1},
		{"NoMatch", EventFilter{UserID: "nobody"}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			filter := c.filter
			events, err := svc.GetEvents(context.Background(), &filter)
			if err != nil {
				t.Fatalf("GetEvents failed: %v", err)
			}
			if len(events) != c.want {
				t.Errorf("Expected %d events, got %d", c.want, len(events))
			}
		})
	}

	t.Run("LimitKeepsNewest", func(t *testing.T) {
		events, err := svc.GetEvents(context.Background(), &EventFilter{UserID: "u1", Limit: 1})
		if err != nil {
			t.Fatalf("GetEvents failed: %v", err)
		}
		if len(events) != 1 || events[0].Type != EventLevelUp {
			t.Errorf("Expected the level_up event, got %+v", events)
		}
	})
}
