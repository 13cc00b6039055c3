package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/authz"
	"github.com/casagrid/gatehouse/pkg/observability"
)

// debounceDelay coalesces the burst of filesystem events editors fire
// per save into one re-apply.
const debounceDelay = 500 * time.Millisecond

var (
	seedPath = flag.String("seed-file", "seeds/gatehouse.yaml", "Path to the YAML seed file")
	dbURL    = flag.String("db-url", getEnv("GATEHOUSE_POSTGRES_URL", "postgres://localhost/gatehouse?sslmode=disable"), "PostgreSQL connection URL")
	migrate  = flag.Bool("migrate", false, "Run schema migrations before applying the seed")
	dryRun   = flag.Bool("dry-run", false, "Validate the seed file and exit without writing")
	watch    = flag.Bool("watch", false, "Keep running and re-apply the seed file when it changes")
	verbose  = flag.Bool("verbose", false, "Log every upsert")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	seed, err := LoadSeedFile(*seedPath)
	if err != nil {
		logger.WithError(err).Fatal("Seed file rejected")
	}

	if *dryRun {
		logger.WithFields(logrus.Fields(seed.Counts())).Info("Seed file is valid")
		return
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	ctx := context.Background()
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to ping database")
	}

	if *migrate {
		migrationLogger := observability.NewLogger(observability.InfoLevel, os.Stdout)
		if err := authz.RunMigrations(ctx, db, migrationLogger); err != nil {
			logger.WithError(err).Fatal("Migrations failed")
		}
	}

	store := authz.NewPostgresStore(db)
	events, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Fatal("Audit logger initialization failed")
	}
	defer events.Close()

	applier := NewApplier(store, events, logger)

	if err := applier.Apply(ctx, seed); err != nil {
		logger.WithError(err).Fatal("Seed apply failed")
	}

	if !*watch {
		return
	}

	if err := watchAndApply(ctx, applier, *seedPath, logger); err != nil {
		logger.WithError(err).Fatal("Watch failed")
	}
}

// watchAndApply re-applies the seed file whenever it changes on disk.
// The parent directory is watched because editors and config reloaders
// typically replace the file by rename, which drops a watch on the
// file itself.
func watchAndApply(ctx context.Context, applier *Applier, path string, logger *logrus.Logger) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.WithField("path", absPath).Info("Watching seed file for changes")

	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(debounceDelay)

		case <-pending:
			pending = nil
			seed, err := LoadSeedFile(absPath)
			if err != nil {
				logger.WithError(err).Error("Seed file rejected, keeping previous state")
				continue
			}
			if err := applier.Apply(ctx, seed); err != nil {
				logger.WithError(err).Error("Seed apply failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("Watcher error")

		case sig := <-sigChan:
			logger.WithField("signal", sig.String()).Info("Shutting down")
			return nil
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
