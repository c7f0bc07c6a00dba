package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != "8080" {
			t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
		}
		if cfg.Database.Driver != "postgres" {
			t.Errorf("Expected postgres driver, got %s", cfg.Database.Driver)
		}
		if !cfg.Progression.FloorAtZero {
			t.Error("Expected floor at zero by default")
		}
		if cfg.Scheduler.PeriodInterval != time.Minute {
			t.Errorf("Expected 1m interval, got %s", cfg.Scheduler.PeriodInterval)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Defaults should validate: %v", err)
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("PROGRESSION_DB_DRIVER", "sqlite")
		t.Setenv("PROGRESSION_DB_DSN", "file:dev.db")
		t.Setenv("PROGRESSION_XP_LEVEL_THRESHOLDS", "100,250,500")
		t.Setenv("PROGRESSION_REDIS_URL", "redis://localhost:6379/0")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Database.Driver != "sqlite" {
			t.Errorf("Expected sqlite, got %s", cfg.Database.Driver)
		}
		if len(cfg.Progression.LevelThresholds) != 3 || cfg.Progression.LevelThresholds[2] != 500 {
			t.Errorf("Unexpected thresholds: %v", cfg.Progression.LevelThresholds)
		}
		if cfg.Redis.Channel != "progression:events" {
			t.Errorf("Expected default channel, got %s", cfg.Redis.Channel)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate failed: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	t.Run("UnknownDriver", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "mysql"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for mysql driver")
		}
	})

	t.Run("UnsortedThresholds", func(t *testing.T) {
		cfg := base()
		cfg.Progression.LevelThresholds = []int64{300, 100}
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for unsorted thresholds")
		}
	})

	t.Run("DuplicateThresholds", func(t *testing.T) {
		cfg := base()
		cfg.Progression.LevelThresholds = []int64{100, 100}
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for duplicate thresholds")
		}
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		cfg := base()
		cfg.Log.Level = "loud"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for unknown log level")
		}
	})

	t.Run("SampleRatio", func(t *testing.T) {
		cfg := base()
		cfg.Telemetry.SampleRatio = 1.5
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for a sample ratio above 1")
		}
	})
}

func TestValidateNamesVariables(t *testing.T) {
	cases := []struct {
		name, value string
	}{
		{"PROGRESSION_DB_DRIVER", "mysql"},
		{"PROGRESSION_XP_MAX_LEVEL", "0"},
		{"PROGRESSION_XP_LEVEL_THRESHOLDS", "300,100"},
		{"PROGRESSION_XP_HISTORY_LIMIT", "0"},
		{"PROGRESSION_SCHEDULER_PERIOD_INTERVAL", "-1s"},
		{"PROGRESSION_OTEL_SAMPLE_RATIO", "2"},
		{"PROGRESSION_LOG_FORMAT", "xml"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Setenv(c.name, c.value)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), c.name) {
				t.Errorf("Expected an error naming %s, got %v", c.name, err)
			}
		})
	}
}
