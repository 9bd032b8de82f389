package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/events"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/track"
)

func main() {
	startupLog := logrus.New()
	startupLog.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		startupLog.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	// Database
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		startupLog.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)
	if err := db.PingContext(ctx); err != nil {
		startupLog.WithError(err).Fatal("failed to ping database")
	}
	startupLog.WithField("driver", cfg.Database.Driver).Info("database connected")

	// Tracing
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		startupLog.WithError(err).Fatal("failed to initialize tracing")
	}

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// RBAC schema and seeds
	permRegistry := authz.NewRegistry()
	rbacStore := authz.NewStore(db, cfg.Database.Driver)
	if err := rbacStore.EnsureSchema(ctx); err != nil {
		startupLog.WithError(err).Fatal("failed to ensure rbac schema")
	}
	if err := authz.Seed(ctx, rbacStore, permRegistry); err != nil {
		startupLog.WithError(err).Fatal("failed to seed rbac data")
	}

	// Grant cache
	var (
		grantCache  authz.Cache
		redisClient *redis.Client
	)
	switch cfg.Cache.Backend {
	case "memory":
		grantCache, err = authz.NewLRUCache(cfg.Cache.Size)
		if err != nil {
			startupLog.WithError(err).Fatal("failed to create grant cache")
		}
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisURL,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			startupLog.WithError(err).Fatal("failed to ping redis")
		}
		grantCache = authz.NewRedisCache(redisClient, cfg.Cache.TTL)
	}

	// Authorization gate
	gateOpts := []authz.GateOption{}
	if grantCache != nil {
		gateOpts = append(gateOpts, authz.WithCache(grantCache, cfg.Cache.TTL))
	}
	if metrics != nil {
		gateOpts = append(gateOpts, authz.WithDecisionObserver(metrics.ObserveDecision))
	}
	gate := authz.NewGate(rbacStore, permRegistry, gateOpts...)

	// Audit recorder
	recorderOpts := []audit.RecorderOption{audit.WithLogger(logger)}
	if cfg.Audit.Strict {
		recorderOpts = append(recorderOpts, audit.WithFailurePolicy(audit.MustSucceedPolicy))
	}
	if metrics != nil {
		recorderOpts = append(recorderOpts, audit.WithWriteObserver(func(event audit.Event, severity audit.Severity, ok bool) {
			metrics.ObserveAuditWrite(string(event), string(severity), ok)
		}))
	}
	dbRecorder, err := audit.NewDBRecorder(db, cfg.Database.Driver, recorderOpts...)
	if err != nil {
		startupLog.WithError(err).Fatal("failed to initialize audit recorder")
	}

	var recorder audit.Recorder = dbRecorder
	if cfg.Audit.FileEnabled {
		fileRecorder, err := audit.NewFileRecorder(audit.FileRecorderConfig{
			BasePath: cfg.Audit.FilePath,
			MaxSize:  cfg.Audit.FileMaxSize,
		})
		if err != nil {
			startupLog.WithError(err).Fatal("failed to open audit file sink")
		}
		defer fileRecorder.Close()
		recorder = audit.NewMultiRecorder(dbRecorder, fileRecorder)
	}

	// Entity change tracking
	tracker := track.NewTracker(recorder)
	tracker.RegisterKind("user", "username", "email", "active", "department_id")
	tracker.RegisterKind(authz.RoleKind, authz.RoleLoggedFields...)
	tracker.RegisterKind("department", "name", "manager_id")
	tracker.RegisterKind("file", "name", "path", "size", "visibility")
	tracker.RegisterKind("setting", "key", "value")

	// Security event bus
	bus := events.NewBus(logger)
	if err := events.RegisterAuditHandlers(bus, recorder); err != nil {
		startupLog.WithError(err).Fatal("failed to register event handlers")
	}

	// RBAC service and handlers
	rbacService := authz.NewService(rbacStore, permRegistry, grantCache, bus, tracker, logger)
	authzHandlers := authz.NewHandlers(rbacService, permRegistry)

	// Audit store and handlers
	auditStore := audit.NewDBStore(db)
	auditHandlers := audit.NewHandlers(auditStore, recorder)

	// Retention
	retention := audit.NewRetentionScheduler(auditStore, recorder, audit.RetentionPolicy{
		RetentionDays: cfg.Audit.RetentionDays,
		Schedule:      cfg.Audit.RetentionSchedule,
	}, logger)
	if err := retention.Start(); err != nil {
		startupLog.WithError(err).Fatal("failed to start retention scheduler")
	}

	// Rate limiting: Redis-backed when a Redis client is around,
	// in-memory otherwise.
	var rateLimit func(http.Handler) http.Handler
	if redisClient != nil {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(redisClient).Handler
	} else {
		rateLimit = middleware.NewRateLimitMiddleware().Handler
	}

	// API server
	server := api.NewServer(api.Options{
		Gate:           gate,
		AuthzHandlers:  authzHandlers,
		AuditHandlers:  auditHandlers,
		AuditMW:        audit.NewMiddleware(),
		Metrics:        metrics,
		Logger:         logger,
		RateLimit:      rateLimit,
		TracingEnabled: cfg.Observability.OTelEnabled,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes and scraping
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		// Snapshot pool gauges on scrape so they are current without a
		// background ticker.
		metricsHandler := observability.MetricsHandler(registry)
		healthMux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.CollectDBStats(db)
			metricsHandler.ServeHTTP(w, r)
		}))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		startupLog.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupLog.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		startupLog.WithField("addr", httpServer.Addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupLog.WithError(err).Fatal("api server failed")
		}
	}()

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc("health-server", func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	sm.RegisterShutdownFunc("retention-scheduler", func(ctx context.Context) error {
		retention.Stop()
		return nil
	})
	if otelProviders != nil {
		sm.RegisterShutdownFunc("telemetry", otelProviders.Shutdown)
	}
	if redisClient != nil {
		sm.RegisterShutdownFunc("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if err := sm.WaitForShutdown(); err != nil {
		startupLog.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}
