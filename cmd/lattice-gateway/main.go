package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/gateway"
	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/middleware"
	"github.com/latticehq/lattice/pkg/observability"
)

func main() {
	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting lattice-gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("failed to ping redis")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	sessions := gateway.NewSessionStore(redisClient, cfg.SessionTTL, metrics)

	authHandlers, err := gateway.NewAuthHandlers(ctx,
		cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret, cfg.OIDC.RedirectURL,
		sessions, redisClient, logger, cfg.SecureCookies)
	if err != nil {
		logger.WithError(err).Error("failed to configure OIDC login")
		os.Exit(1)
	}

	routeConfig, err := gateway.LoadRouteConfig(cfg.RoutesFile)
	if err != nil {
		logger.WithError(err).Error("failed to load route config")
		os.Exit(1)
	}
	routes, err := gateway.NewRouteTable(routeConfig)
	if err != nil {
		logger.WithError(err).Error("failed to build route table")
		os.Exit(1)
	}
	if err := routes.Watch(cfg.RoutesFile, logger, ctx.Done()); err != nil {
		logger.WithError(err).Error("failed to watch route config")
		os.Exit(1)
	}

	relay := gateway.NewRelay(routes, sessions, authHandlers.Exchanger(), logger, metrics)

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggerMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		metrics.HTTPMiddleware,
	)

	// Login endpoints get their own, tighter limits than the rest of
	// the auth surface.
	loginLimiter := middleware.NewRateLimiter(redisClient, middleware.LoginRateLimitConfig(), "ratelimit:login", logger)
	authLimiter := middleware.NewRateLimiter(redisClient, middleware.AuthRateLimitConfig(), "ratelimit:auth", logger)

	authRouter := router.PathPrefix("/auth").Subrouter()
	authRouter.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/auth/login" {
				loginLimiter.Handler(next).ServeHTTP(w, r)
				return
			}
			authLimiter.Handler(next).ServeHTTP(w, r)
		})
	})
	authHandlers.RegisterRoutes(authRouter)

	// Everything else is relayed upstream
	router.PathPrefix("/").Handler(relay)

	health := observability.NewHealthChecker(nil, redisClient)
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
		Handler:      otelhttp.NewHandler(router, "lattice-gateway"),
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
