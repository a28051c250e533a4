// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry export and graceful shutdown for warden.
//
// # Structured Logging
//
// Loggers wrap logrus and emit JSON by default:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("login succeeded")
//
// SetLevel changes the level of a logger and every logger derived from it,
// which is how the config watcher applies a new log level at runtime.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordAuthAttempt("password", observability.ResultSuccess)
//
// Record helpers are nil-safe, so components accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	router.HandleFunc("/health/ready", checker.Readiness)
//
// The database is required; Redis only degrades readiness.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:  true,
//		Endpoint: "otel-collector:4317",
//	}, logger)
//	defer providers.Shutdown(ctx)
package observability
