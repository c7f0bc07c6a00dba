package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexbotov/progression/internal/api"
	"github.com/alexbotov/progression/internal/config"
	"github.com/alexbotov/progression/internal/database"
	"github.com/alexbotov/progression/internal/events"
	"github.com/alexbotov/progression/internal/gamelogic"
	"github.com/alexbotov/progression/internal/gamelogic/reels"
	"github.com/alexbotov/progression/internal/metrics"
	"github.com/alexbotov/progression/internal/progression"
	"github.com/alexbotov/progression/internal/rng"
	"github.com/alexbotov/progression/internal/scheduler"
	"github.com/alexbotov/progression/internal/telemetry"
	"github.com/alexbotov/progression/internal/xp"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}

	logger := cfg.NewLogger()
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.Driver == database.DriverPostgres {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	db.SetMaxRetries(cfg.Progression.TxMaxRetries)

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Redis.URL != "" {
		client, err := events.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		redisPublisher := events.NewRedisPublisher(client, cfg.Redis.Channel)
		defer redisPublisher.Close()
		publisher = redisPublisher
		logger.WithField("channel", cfg.Redis.Channel).Info("publishing progression events to redis")
	}

	registry := metrics.NewRegistry()
	m := metrics.New(registry)

	mechanics := gamelogic.NewRegistry()
	mechanics.Register(reels.GameType, reels.Factory(rng.New(), reels.Config{}))

	thresholds := cfg.Progression.LevelThresholds
	if len(thresholds) == 0 {
		thresholds = xp.DefaultThresholds(cfg.Progression.MaxLevel)
	}
	levels := xp.NewLevelTable(thresholds, cfg.Progression.FloorAtZero)
	logger.WithFields(logrus.Fields{
		"max_level":  levels.MaxLevel(),
		"game_types": mechanics.Types(),
	}).Info("progression rules loaded")

	engine := progression.New(db, progression.Options{
		Logger:    logger,
		Metrics:   m,
		Publisher: publisher,
		Mechanics: mechanics,
		Levels:    levels,
		Limits: progression.Limits{
			Sessions:    cfg.Progression.SessionListLimit,
			Leaderboard: cfg.Progression.LeaderboardPageLimit,
			History:     cfg.Progression.HistoryLimit,
		},
	})

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler.PeriodInterval, engine, logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			if err := sched.Shutdown(); err != nil {
				logger.WithError(err).Warn("scheduler shutdown failed")
			}
		}()
	}

	handler := api.New(engine, db, logger, metrics.Handler(registry))
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":   cfg.Server.Port,
			"driver": cfg.Database.Driver,
		}).Info("progression server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
