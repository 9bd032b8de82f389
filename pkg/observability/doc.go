// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObserveDecision(allowed)
//	metrics.ObserveAuditWrite("role_assigned", "critical", true)
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		ServiceName:    "warden",
//		ServiceVersion: "v1.0.0",
//		Endpoint:       "otel-collector:4317",
//	}, logger)
//	defer providers.Shutdown(ctx)
//
// # Graceful Shutdown
//
// Drain the HTTP server and release resources on SIGINT/SIGTERM:
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.RegisterShutdownFunc("redis", func(ctx context.Context) error { return redisClient.Close() })
//	sm.WaitForShutdown()
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/audit: Request metadata middleware
package observability
