package main

import (
	"context"
	"flag"

	"github.com/alexbotov/progression/internal/catalog"
	"github.com/alexbotov/progression/internal/config"
	"github.com/alexbotov/progression/internal/database"
	"github.com/sirupsen/logrus"
)

func main() {
	path := flag.String("catalog", "configs/catalog.yaml", "path to the YAML rule catalog")
	dryRun := flag.Bool("dry-run", false, "validate the catalog without writing it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}
	logger := cfg.NewLogger()

	c, err := catalog.Load(*path)
	if err != nil {
		logger.WithError(err).Fatal("catalog rejected")
	}
	log := logger.WithFields(logrus.Fields{
		"catalog":      *path,
		"games":        len(c.Games),
		"achievements": len(c.Achievements),
		"leaderboards": len(c.Leaderboards),
	})
	if *dryRun {
		log.Info("catalog is valid")
		return
	}

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.WithError(err).Fatal("failed to migrate database")
	}

	sum, err := catalog.Apply(context.Background(), db, c)
	if err != nil {
		logger.WithError(err).Fatal("failed to apply catalog")
	}
	log.WithField("written", sum).Info("catalog applied")
}
