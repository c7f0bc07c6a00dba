// Package scheduler runs the engine's periodic background jobs
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// RollOverJob is the name of the leaderboard period job
const RollOverJob = "leaderboard-rollover"

// Roller stamps leaderboards whose time period has rolled over
type Roller interface {
	RollOverPeriods(ctx context.Context) ([]domain.Leaderboard, error)
}

// Scheduler wraps a gocron scheduler
type Scheduler struct {
	cron    gocron.Scheduler
	roller  Roller
	log     logrus.FieldLogger
	timeout time.Duration
}

// New registers the rollover job to run every interval
func New(interval time.Duration, roller Roller, log logrus.FieldLogger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: scheduler interval must be positive", domain.ErrInvalidInput)
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Scheduler{cron: cron, roller: roller, log: log, timeout: interval}

	_, err = cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.rollOver),
		gocron.WithName(RollOverJob),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cron.Shutdown()
		return nil, fmt.Errorf("register %s job: %w", RollOverJob, err)
	}
	return s, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", len(s.cron.Jobs())).Info("scheduler started")
}

// Shutdown stops the scheduler, waiting for running jobs
func (s *Scheduler) Shutdown() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) rollOver() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	boards, err := s.roller.RollOverPeriods(ctx)
	if err != nil {
		s.log.WithError(err).WithField("job", RollOverJob).Error("leaderboard rollover failed")
		return
	}
	if len(boards) > 0 {
		s.log.WithFields(logrus.Fields{
			"job":          RollOverJob,
			"leaderboards": len(boards),
		}).Info("leaderboard periods rolled over")
	}
}
