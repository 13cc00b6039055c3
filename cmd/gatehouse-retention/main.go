package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/config"
	"github.com/casagrid/gatehouse/pkg/observability"
)

var (
	sweepSchedule = flag.String("sweep-schedule", "30 2 * * *", "Cron schedule for the retention sweep (default: 02:30 UTC)")
	statsSchedule = flag.String("stats-schedule", "0 * * * *", "Cron schedule for the audit stats digest (default: every hour)")
	runOnce       = flag.Bool("run-once", false, "Run one sweep and exit (for backfills and testing)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Error("Failed to ping database")
		os.Exit(1)
	}

	dbLogger, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Error("Audit logger initialization failed")
		os.Exit(1)
	}

	var archiver audit.Archiver
	if cfg.Audit.ArchiveEnabled {
		s3Archiver, err := audit.NewS3Archiver(audit.S3ArchiverConfig{
			Bucket:       cfg.Audit.ArchiveBucket,
			Prefix:       cfg.Audit.ArchivePrefix,
			Region:       cfg.Audit.ArchiveRegion,
			Format:       audit.ExportFormat(cfg.Audit.ArchiveFormat),
			Endpoint:     cfg.Audit.ArchiveEndpoint,
			AccessKey:    cfg.Audit.ArchiveAccessKey,
			SecretKey:    cfg.Audit.ArchiveSecretKey,
			UsePathStyle: cfg.Audit.ArchiveUsePathStyle,
		})
		if err != nil {
			logger.WithError(err).Error("S3 archiver initialization failed")
			os.Exit(1)
		}
		archiver = s3Archiver
	}

	policy := audit.DefaultRetentionPolicy()
	if cfg.Audit.RetentionDays > 0 {
		policy.RetentionDays = cfg.Audit.RetentionDays
	}
	policy.ArchiveEnabled = cfg.Audit.ArchiveEnabled
	policy.ArchiveBucket = cfg.Audit.ArchiveBucket
	if cfg.Audit.ArchivePrefix != "" {
		policy.ArchivePrefix = cfg.Audit.ArchivePrefix
	}
	if cfg.Audit.ArchiveFormat != "" {
		policy.ArchiveFormat = audit.ExportFormat(cfg.Audit.ArchiveFormat)
	}

	sweeper, err := audit.NewSweeper(dbLogger, archiver, policy)
	if err != nil {
		logger.WithError(err).Error("Sweeper initialization failed")
		os.Exit(1)
	}

	// Run once mode (for backfills or testing)
	if *runOnce {
		if err := runSweep(sweeper, logger); err != nil {
			os.Exit(1)
		}
		return
	}

	// Scheduled mode
	c := cron.New()

	_, err = c.AddFunc(*sweepSchedule, func() {
		if err := runSweep(sweeper, logger); err != nil {
			logger.WithError(err).Error("Scheduled retention sweep failed")
		}
	})
	if err != nil {
		logger.WithError(err).Error("Failed to schedule retention sweep")
		os.Exit(1)
	}

	_, err = c.AddFunc(*statsSchedule, func() {
		logStatsDigest(dbLogger, logger)
	})
	if err != nil {
		logger.WithError(err).Error("Failed to schedule stats digest")
		os.Exit(1)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"sweep_schedule": *sweepSchedule,
		"stats_schedule": *statsSchedule,
		"retention_days": policy.RetentionDays,
		"archive":        policy.ArchiveEnabled,
	}).Info("Gatehouse retention sweeper started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully")

	// Let any in-flight sweep finish before exiting
	stopCtx := c.Stop()
	<-stopCtx.Done()

	logger.Info("Retention sweeper stopped")
}

func runSweep(sweeper *audit.Sweeper, logger *observability.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		logger.WithError(err).Error("Retention sweep failed")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"cutoff":      result.Cutoff.Format(time.RFC3339),
		"archived":    result.Archived,
		"archive_key": result.ArchiveKey,
		"purged":      result.Purged,
	}).Info("Retention sweep completed")
	return nil
}

// logStatsDigest logs a trailing 24h summary of audit activity. It is
// an operational heartbeat, useful for spotting denial spikes between
// sweeps.
func logStatsDigest(dbLogger *audit.DBLogger, logger *observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	since := time.Now().UTC().Add(-24 * time.Hour)
	stats, err := dbLogger.GetStats(ctx, &since, nil)
	if err != nil {
		logger.WithError(err).Error("Audit stats digest failed")
		return
	}

	logger.WithFields(map[string]interface{}{
		"total_events":      stats.TotalEvents,
		"denials":           stats.Denials,
		"unique_users":      stats.UniqueUsers,
		"unique_workspaces": stats.UniqueWorkspaces,
	}).Info("Audit activity, trailing 24h")
}
