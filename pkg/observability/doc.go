// Package observability provides structured logging, Prometheus metrics,
// health checks, and OpenTelemetry tracing for the gatehouse service.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("server started")
//	logger.WithField("workspace_id", 7).Warn("enforcement disabled")
//
// # Prometheus Metrics
//
// Initialize and record:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.DecisionsTotal.WithLabelValues("allowed", "module").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	mux.HandleFunc("/health/ready", checker.Readiness)
//
// # OpenTelemetry
//
// Tracing and OTLP metrics are off by default and enabled through
// config; see InitOTel and ShutdownOTel.
package observability
