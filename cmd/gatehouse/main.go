package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/casagrid/gatehouse/pkg/api"
	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/authz"
	"github.com/casagrid/gatehouse/pkg/config"
	"github.com/casagrid/gatehouse/pkg/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Error("Failed to ping database")
		os.Exit(1)
	}

	if cfg.Database.MigrateOnStart {
		if err := authz.RunMigrations(ctx, db, logger); err != nil {
			logger.WithError(err).Error("Migrations failed")
			os.Exit(1)
		}
	}

	store := authz.NewPostgresStore(db)

	if cfg.Database.SeedBuiltins {
		if err := authz.SeedBuiltinRoles(ctx, store, logger); err != nil {
			logger.WithError(err).Error("Seeding builtin roles failed")
			os.Exit(1)
		}
	}

	// Redis-backed flag cache. Optional: without it every flag lookup
	// hits the database.
	var redisClient *redis.Client
	flagStore := authz.FlagStore(store)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Error("Invalid Redis URL")
			os.Exit(1)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			opts.DB = cfg.Redis.DB
		}
		if cfg.Redis.PoolSize > 0 {
			opts.PoolSize = cfg.Redis.PoolSize
		}
		redisClient = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Redis unreachable, flag lookups fall back to the database")
		}
		flagStore = authz.NewRedisFlagStore(store, redisClient, cfg.Redis.FlagTTL, logger)
	}

	flagGate := authz.NewFlagGate(flagStore, cfg.Flags.EnforcementFlag, cfg.Flags.AuditFlag)

	// Metrics
	var (
		metrics        *observability.Metrics
		metricsHandler http.Handler
	)
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
		metricsHandler = observability.MetricsHandler(registry)
		flagGate.WithMetrics(metrics)
	}

	// OpenTelemetry
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("OpenTelemetry initialization failed")
		os.Exit(1)
	}
	var otelMetrics *observability.OTelMetrics
	if cfg.Observability.OTelEnabled {
		otelMetrics, err = observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Error("OpenTelemetry metrics initialization failed")
			os.Exit(1)
		}
	}

	// Audit trail
	auditLogger, auditReader, err := newAuditLogger(cfg.Audit, db)
	if err != nil {
		logger.WithError(err).Error("Audit logger initialization failed")
		os.Exit(1)
	}

	engine, err := authz.NewEngine(authz.Config{
		Store:           store,
		Flags:           flagGate,
		AuditLogger:     auditLogger,
		Logger:          logger,
		Metrics:         metrics,
		OTel:            otelMetrics,
		CacheEnabled:    cfg.Cache.Enabled,
		CacheMaxEntries: cfg.Cache.MaxEntries,
		CacheTTL:        cfg.Cache.TTL,
	})
	if err != nil {
		logger.WithError(err).Error("Engine initialization failed")
		os.Exit(1)
	}

	health := observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion)

	serverCfg := api.ServerConfig{
		Engine:         engine,
		Events:         auditLogger,
		Health:         health,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Logger:         logger,
		TraceHTTP:      cfg.Observability.OTelEnabled,
	}
	if auditReader != nil {
		serverCfg.Audit = auditReader
	}
	handler, err := api.NewServer(serverCfg)
	if err != nil {
		logger.WithError(err).Error("API server initialization failed")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics get their own listener so k8s probes and
	// Prometheus scrapes stay off the API port.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if metricsHandler != nil {
		healthMux.Handle("/metrics", metricsHandler)
	}
	healthSrv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	if metrics != nil {
		go pollDBStats(db, metrics)
	}

	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"cache":       cfg.Cache.Enabled,
		"redis":       redisClient != nil,
		"audit":       cfg.Audit.Destination,
	}).Info("Starting Gatehouse")

	g := new(errgroup.Group)
	g.Go(func() error {
		logger.Infof("Gatehouse API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health endpoints listening on %s", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	shutdown := observability.NewShutdownManager(logger, srv, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthSrv.Shutdown)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return auditLogger.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
			return observability.ShutdownOTel(shutdownCtx, providers, logger)
		})
	}

	sigErr := make(chan error, 1)
	go func() { sigErr <- shutdown.WaitForShutdown() }()

	groupErr := make(chan error, 1)
	go func() { groupErr <- g.Wait() }()

	select {
	case err := <-groupErr:
		// Listeners only stop on their own when startup fails.
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	case err := <-sigErr:
		if gerr := <-groupErr; gerr != nil {
			logger.WithError(gerr).Error("HTTP server failed during shutdown")
			os.Exit(1)
		}
		if err != nil {
			logger.WithError(err).Error("Graceful shutdown finished with errors")
			os.Exit(1)
		}
	}

	logger.Info("Gatehouse stopped")
}

// newAuditLogger builds the audit sink for the configured destination.
// The returned DBLogger is non-nil only when the destination includes
// the database; it backs the audit search endpoints.
func newAuditLogger(cfg config.AuditConfig, db *sql.DB) (audit.Logger, *audit.DBLogger, error) {
	fileConfig := audit.FileLoggerConfig{
		BasePath: cfg.FilePath,
		Rotate:   cfg.FileRotate,
		MaxSize:  cfg.FileMaxSize,
		MaxFiles: cfg.FileMaxFiles,
	}

	switch cfg.Destination {
	case "none":
		return audit.NewNopLogger(), nil, nil
	case "db":
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, err
		}
		return dbLogger, dbLogger, nil
	case "file":
		fileLogger, err := audit.NewFileLogger(fileConfig)
		if err != nil {
			return nil, nil, err
		}
		return fileLogger, nil, nil
	case "db+file":
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, err
		}
		fileLogger, err := audit.NewFileLogger(fileConfig)
		if err != nil {
			return nil, nil, err
		}
		return audit.NewMultiLogger(dbLogger, fileLogger), dbLogger, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit destination %q", cfg.Destination)
	}
}

// pollDBStats exports connection pool gauges until the process exits.
func pollDBStats(db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stats := db.Stats()
		metrics.SetDBConnectionStats(stats.InUse, stats.Idle)
	}
}
