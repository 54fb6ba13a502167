package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"qms/campus-queue/internal/cache"
	"qms/campus-queue/internal/config"
	"qms/campus-queue/internal/httpapi"
	"qms/campus-queue/internal/hub"
	"qms/campus-queue/internal/identity"
	"qms/campus-queue/internal/notify"
	"qms/campus-queue/internal/refresh"
	"qms/campus-queue/internal/store/postgres"
	"qms/campus-queue/internal/telemetry"
)

const serviceName = "campus-queue"

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime endpoint and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), cfg, log, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}

func serve(parent context.Context, cfg config.Config, log *zap.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction && cfg.Session.JWTSecret == "dev_secret" {
		return errors.New("JWT_SECRET must be set in production")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	shutdownTracing := telemetry.Setup(serviceName, cfg.Tracing, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		applied, err := postgres.ApplyMigrations(ctx, pool, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		log.Info("migrations applied", zap.Strings("files", applied))
	}

	st := postgres.NewStore(pool, postgres.Options{Location: loc, Logger: log.Named("store")})
	metrics := httpapi.NewMetrics()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, stats cache disabled", zap.Error(err))
	}
	stats := cache.NewStatsCache(redisClient, cfg.Redis.StatsTTL, log.Named("cache"), cache.WithLookupObserver(metrics.CacheLookup))
	defer func() { _ = stats.Close() }()

	realtime := hub.New(log.Named("hub"))
	ids := identity.NewService(st, identity.Options{
		Secret:   cfg.Session.JWTSecret,
		TTL:      cfg.Session.TTL,
		LoginURL: cfg.Session.LoginURL,
		Logger:   log.Named("identity"),
	})

	handler := httpapi.NewHandler(st, ids, httpapi.Options{
		Cache:    stats,
		Metrics:  metrics,
		Logger:   log.Named("http"),
		Location: loc,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.Limits.PerMinute,
		IPBurst:       cfg.Limits.Burst,
		UserPerMinute: cfg.Limits.UserPerMinute,
		UserBurst:     cfg.Limits.UserBurst,
	})

	api := httpapi.AuthMiddleware(ids, limiter.Middleware(handler.Routes()))
	sockjsHandler := httpapi.NewRealtimeHandler(realtime, ids, st, httpapi.RealtimeOptions{
		Metrics: metrics,
		Logger:  log.Named("realtime"),
	})
	mux := http.NewServeMux()
	mux.Handle("/realtime/", limiter.Middleware(sockjsHandler))
	mux.Handle("/", api)

	root := httpapi.LoggingMiddleware(log, metrics.Middleware(mux))
	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(root, serviceName, otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasPrefix(r.URL.Path, "/realtime/")
		})),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	scheduler := refresh.NewScheduler(st, realtime, refresh.Options{
		Interval: cfg.Refresh.Interval,
		Targets:  realtime.DepartmentIDs,
		Cache:    stats,
		Logger:   log.Named("refresh"),
	})
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("refresh scheduler stopped", zap.Error(err))
		}
	}()

	worker := notify.New(st, notify.Config{
		BatchSize: cfg.Notify.BatchSize,
		Provider:  notify.NewProvider(cfg.Notify.Provider, cfg.Notify.WebhookURL, log.Named("notify")),
		Hub:       realtime,
		Logger:    log.Named("notify"),
	})
	go notify.Start(ctx, cfg.Notify.Interval, worker)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("campus-queue listening", zap.String("addr", server.Addr), zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	log.Info("campus-queue stopped")
	return nil
}
