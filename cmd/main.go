package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/affirmly/scribesync/config"
	"github.com/affirmly/scribesync/internal/api/v1/services"
	"github.com/affirmly/scribesync/internal/app"
	"github.com/affirmly/scribesync/internal/db"
	"github.com/affirmly/scribesync/internal/db/repos"
	"github.com/affirmly/scribesync/internal/logger"
)

// Sweep defaults: pending jobs that never produced a remote update are
// dropped after an hour; everything is dropped after thirty days.
const (
	defaultSweepInterval = 10 * time.Minute
	defaultStaleWindow   = 1 * time.Hour
	defaultRetainWindow  = 30 * 24 * time.Hour
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Debugf("no .env file loaded: %v", err)
	}
	logger.InitializeAndConfigure()

	database, err := db.New(db.Options{
		Host:     config.GetEnv("DB_HOST", ""),
		User:     config.GetEnv("DB_USER", ""),
		Password: config.GetEnv("DB_PASSWORD", ""),
		DBName:   config.GetEnv("DB_NAME", ""),
		Port:     config.GetEnvInt("DB_PORT", 0),
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	jobRepo := repos.NewJobRepository(database)
	jobService := services.NewJobService(jobRepo)

	startSweeps(jobRepo)

	server := app.New(jobService)
	port := config.GetEnv("PORT", "8080")
	logger.Infof("Listening on :%s", port)
	if err := server.Listen(":" + port); err != nil {
		logger.Fatalf("Server stopped: %v", err)
	}
}

// startSweeps schedules the registry maintenance sweeps: stale-pending
// cleanup and old-record retention
func startSweeps(repo *repos.JobRepository) {
	interval := config.GetEnvDuration("SWEEP_INTERVAL", defaultSweepInterval)
	staleWindow := config.GetEnvDuration("SWEEP_STALE_AFTER", defaultStaleWindow)
	retainWindow := config.GetEnvDuration("SWEEP_RETAIN_FOR", defaultRetainWindow)

	c := cron.New()
	_, err := c.AddFunc("@every "+interval.String(), func() {
		ctx, cancel := sweepContext()
		defer cancel()

		if n, err := repo.SweepStalePending(ctx, staleWindow); err != nil {
			logger.Errorf("stale-pending sweep failed: %v", err)
		} else if n > 0 {
			logger.Infof("Removed %d stale pending jobs", n)
		}

		if n, err := repo.SweepOld(ctx, retainWindow); err != nil {
			logger.Errorf("retention sweep failed: %v", err)
		} else if n > 0 {
			logger.Infof("Removed %d jobs past retention", n)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule sweeps: %v", err)
	}
	c.Start()
}

func sweepContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}
