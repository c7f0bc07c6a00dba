// Package config provides configuration management for the progression engine
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "PROGRESSION_"

// Config holds all configuration for the progression engine
type Config struct {
	Server      ServerConfig      `envPrefix:"SERVER_"`
	Database    DatabaseConfig    `envPrefix:"DB_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
	Progression ProgressionConfig `envPrefix:"XP_"`
	Scheduler   SchedulerConfig   `envPrefix:"SCHEDULER_"`
	Telemetry   TelemetryConfig   `envPrefix:"OTEL_"`
	Log         LogConfig         `envPrefix:"LOG_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DatabaseConfig holds database configuration.
// Driver is "postgres" in production or "sqlite" for local runs.
type DatabaseConfig struct {
	Driver       string `env:"DRIVER" envDefault:"postgres"`
	DSN          string `env:"DSN" envDefault:"host=localhost dbname=progression sslmode=disable"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS" envDefault:"5"`
	AutoMigrate  bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

// RedisConfig holds the progression event bus settings.
// An empty URL disables publishing.
type RedisConfig struct {
	URL     string `env:"URL"`
	Channel string `env:"CHANNEL" envDefault:"progression:events"`
}

// ProgressionConfig holds XP, level and pipeline settings
type ProgressionConfig struct {
	// LevelThresholds lists the cumulative XP needed for level 2, 3, ...
	// Empty means the generated default curve.
	LevelThresholds []int64 `env:"LEVEL_THRESHOLDS" envSeparator:","`
	MaxLevel        int     `env:"MAX_LEVEL" envDefault:"100"`
	FloorAtZero     bool    `env:"FLOOR_AT_ZERO" envDefault:"true"`

	TxMaxRetries         uint64 `env:"TX_MAX_RETRIES" envDefault:"3"`
	SessionListLimit     int    `env:"SESSION_LIST_LIMIT" envDefault:"20"`
	LeaderboardPageLimit int    `env:"LEADERBOARD_PAGE_LIMIT" envDefault:"100"`
	HistoryLimit         int    `env:"HISTORY_LIMIT" envDefault:"50"`
}

// SchedulerConfig holds background job settings
type SchedulerConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	PeriodInterval time.Duration `env:"PERIOD_INTERVAL" envDefault:"1m"`
}

// TelemetryConfig controls tracing. Spans are exported over OTLP/HTTP
// only when enabled and an endpoint is set.
type TelemetryConfig struct {
	Enabled     bool    `env:"ENABLED" envDefault:"false"`
	Endpoint    string  `env:"ENDPOINT"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"progression"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// LogConfig controls the logger
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load reads a .env file when present, then parses the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}

	return cfg, nil
}

// Validate checks value ranges and cross-field constraints
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported PROGRESSION_DB_DRIVER %q (postgres or sqlite)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("PROGRESSION_DB_DSN is required")
	}

	if c.Progression.MaxLevel < 1 {
		return fmt.Errorf("invalid PROGRESSION_XP_MAX_LEVEL: %d (must be at least 1)", c.Progression.MaxLevel)
	}
	if !sort.SliceIsSorted(c.Progression.LevelThresholds, func(i, j int) bool {
		return c.Progression.LevelThresholds[i] < c.Progression.LevelThresholds[j]
	}) {
		return fmt.Errorf("PROGRESSION_XP_LEVEL_THRESHOLDS must be ascending")
	}
	for i := 1; i < len(c.Progression.LevelThresholds); i++ {
		if c.Progression.LevelThresholds[i] == c.Progression.LevelThresholds[i-1] {
			return fmt.Errorf("PROGRESSION_XP_LEVEL_THRESHOLDS must be strictly ascending")
		}
	}
	if len(c.Progression.LevelThresholds) > 0 && c.Progression.LevelThresholds[0] <= 0 {
		return fmt.Errorf("PROGRESSION_XP_LEVEL_THRESHOLDS must start above zero")
	}

	if c.Progression.SessionListLimit < 1 || c.Progression.LeaderboardPageLimit < 1 || c.Progression.HistoryLimit < 1 {
		return fmt.Errorf("PROGRESSION_XP_SESSION_LIST_LIMIT, PROGRESSION_XP_LEADERBOARD_PAGE_LIMIT and PROGRESSION_XP_HISTORY_LIMIT must be positive")
	}

	if c.Scheduler.Enabled && c.Scheduler.PeriodInterval <= 0 {
		return fmt.Errorf("invalid PROGRESSION_SCHEDULER_PERIOD_INTERVAL: %s", c.Scheduler.PeriodInterval)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("invalid PROGRESSION_OTEL_SAMPLE_RATIO: %v (must be between 0 and 1)", c.Telemetry.SampleRatio)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid PROGRESSION_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid PROGRESSION_LOG_FORMAT %q (json or text)", c.Log.Format)
	}

	return nil
}

// NewLogger builds the process logger from the log settings
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if c.Log.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
