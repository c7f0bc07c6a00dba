package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/testutil"
)

type countingRoller struct {
	calls atomic.Int32
	err   error
}

func (r *countingRoller) RollOverPeriods(context.Context) ([]domain.Leaderboard, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return []domain.Leaderboard{{ID: "daily"}}, nil
}

func waitForCalls(t *testing.T, r *countingRoller, want int32) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected at least %d rollover runs, got %d", want, r.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerRunsRollOver(t *testing.T) {
	roller := &countingRoller{}
	s, err := New(20*time.Millisecond, roller, testutil.Logger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.Start()
	waitForCalls(t, roller, 2)

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	after := roller.calls.Load()
	time.Sleep(60 * time.Millisecond)
	if roller.calls.Load() != after {
		t.Errorf("Expected no runs after shutdown, got %d more", roller.calls.Load()-after)
	}
}

func TestSchedulerSurvivesFailures(t *testing.T) {
	roller := &countingRoller{err: errors.New("database unavailable")}
	s, err := New(20*time.Millisecond, roller, testutil.Logger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Shutdown()

	s.Start()
	waitForCalls(t, roller, 2)
}

func TestSchedulerInvalidInterval(t *testing.T) {
	if _, err := New(0, &countingRoller{}, testutil.Logger()); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected invalid input, got %v", err)
	}
}
