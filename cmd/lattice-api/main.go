package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/latticehq/lattice/pkg/audit"
	"github.com/latticehq/lattice/pkg/authz"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/identity"
	"github.com/latticehq/lattice/pkg/observability"
	"github.com/latticehq/lattice/pkg/tenant"
)

func main() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting lattice-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OpenTelemetry
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("failed to shut down OpenTelemetry")
		}
	}()

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	go reportDBStats(ctx, db, metrics)

	// Stores
	tenantStore, err := tenant.NewStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to create tenant store")
		os.Exit(1)
	}
	authzStore, err := authz.NewStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to create authorization store")
		os.Exit(1)
	}
	userStore := identity.NewUserStore(db, authzStore)
	auditStore := audit.NewStore(db)

	for _, ensure := range []func(context.Context) error{
		tenantStore.EnsureSchema,
		authzStore.EnsureSchema,
		userStore.EnsureSchema,
		auditStore.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.WithError(err).Error("failed to ensure database schema")
			os.Exit(1)
		}
	}

	// Identity and authorization
	verifier, err := identity.NewOIDCVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID)
	if err != nil {
		logger.WithError(err).Error("failed to configure OIDC verifier")
		os.Exit(1)
	}
	identityMW := identity.NewMiddleware(verifier, userStore, true)
	resolver := authz.NewResolver(authzStore, metrics)
	authzMW := authz.NewMiddleware(resolver)

	auditMW := audit.NewMiddleware(auditStore, logger, metrics)

	// Audit retention
	retention := buildRetention(ctx, cfg, auditStore, logger)
	if retention != nil {
		if err := retention.Start(); err != nil {
			logger.WithError(err).Error("failed to start audit retention")
			os.Exit(1)
		}
		defer retention.Stop()
	}

	// Router
	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggerMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		metrics.HTTPMiddleware,
		auditMW.Handler,
		identityMW.Handler,
	)

	identity.NewHandlers(userStore, authzStore).RegisterRoutes(router)

	tenantHandlers := tenant.NewHandlers(tenantStore)
	browseRouter := router.NewRoute().Subrouter()
	browseRouter.Use(authzMW.RequireFeature("tenants.read"))
	tenantHandlers.RegisterReadRoutes(browseRouter)

	adminRouter := router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(authz.RequirePlatformRole(authz.PlatformRoleAdmin))
	tenantHandlers.RegisterRoutes(adminRouter)
	authz.NewHandlers(authzStore).RegisterRoutes(adminRouter)
	audit.NewHandlers(auditStore).RegisterRoutes(adminRouter)

	// Health and metrics server on a separate port for probes
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", health.Liveness)
	healthMux.HandleFunc("/health/ready", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "lattice-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down server")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down health server")
	}
}

// buildRetention wires the audit purge job, with S3 archiving when
// configured.
func buildRetention(ctx context.Context, cfg *config.APIConfig, store *audit.Store, logger *observability.Logger) *audit.Retention {
	policy := audit.RetentionPolicy{
		RetentionDays:  cfg.Audit.RetentionDays,
		ArchiveEnabled: cfg.Audit.ArchiveEnabled,
		ArchiveBucket:  cfg.Audit.ArchiveBucket,
		Schedule:       cfg.Audit.PurgeSchedule,
	}

	var uploader audit.S3Uploader
	if cfg.Audit.ArchiveEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Audit.ArchiveRegion))
		if err != nil {
			logger.WithError(err).Error("failed to load AWS config, audit archiving disabled")
			policy.ArchiveEnabled = false
		} else {
			uploader = s3.NewFromConfig(awsCfg)
		}
	}

	return audit.NewRetention(store, policy, uploader, logger)
}

// reportDBStats mirrors connection pool stats into gauges
func reportDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		case <-ctx.Done():
			return
		}
	}
}
