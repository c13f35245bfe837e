package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/akua-anchor/api/controllers"
	"github.com/angelmondragon/akua-anchor/api/middleware"
	"github.com/angelmondragon/akua-anchor/api/routes"
	"github.com/angelmondragon/akua-anchor/internal/publisher"
	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/db"
	"github.com/angelmondragon/akua-anchor/pkg/instance"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
	"github.com/angelmondragon/akua-anchor/pkg/migrate"
	"github.com/angelmondragon/akua-anchor/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = "publisher"

	logg = logger.New(logger.Options{
		ServiceName: "publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Version:     instance.Version,
	})

	var closers []func() error
	defer func() {
		var closeErr error
		for i := len(closers) - 1; i >= 0; i-- {
			closeErr = multierr.Append(closeErr, closers[i]())
		}
		if closeErr != nil {
			logg.Error(ctx, "failed to close resources", closeErr)
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	closers = append(closers, dbClient.Close)

	requireResource(ctx, logg, "migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	checks := map[string]controllers.Pinger{"db": dbClient, "redis": nil}
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		closers = append(closers, redisClient.Close)
		checks["redis"] = redisClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	publishMetrics := metrics.NewPublishMetrics(registry)

	wallet, err := newWallet(ctx, cfg, redisClient, publishMetrics, logg)
	requireResource(ctx, logg, "anchorer", err)

	repo, err := publisher.NewRepository(dbClient.DB())
	requireResource(ctx, logg, "publish repository", err)

	service, err := publisher.NewService(publisher.ServiceParams{
		Repo:            repo,
		Anchorer:        wallet.anchorer,
		Locker:          wallet.locker,
		SerializeByHash: cfg.Publisher.SerializeByHash,
		Metrics:         publishMetrics,
		Logger:          logg,
	})
	requireResource(ctx, logg, "publish service", err)

	var rateStore middleware.FixedWindowStore
	if redisClient != nil {
		rateStore = redisClient
	}

	addr := ":" + cfg.App.Port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"version":  instance.Version,
	})
	logConfigSummary(ctx, logg, cfg, wallet.address)

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:         cfg.Publisher,
			Service:        service,
			FundingAddress: wallet.address,
			Version:        instance.Version,
			RateStore:      rateStore,
			Checks:         checks,
			Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Logger:         logg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting publisher server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "publisher server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutting down publisher server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}

func logConfigSummary(ctx context.Context, logg *logger.Logger, cfg *config.Config, fundingAddress string) {
	logg.Info(logg.WithFields(ctx, map[string]any{
		"network":            cfg.Publisher.Network,
		"stub_mode":          cfg.Publisher.Stub,
		"auth_enabled":       cfg.Publisher.AuthToken != "",
		"rate_limit_per_min": cfg.Publisher.RateLimitPerMin,
		"max_fee_sats":       cfg.Publisher.MaxFeeSats,
		"min_balance_sats":   cfg.Publisher.MinBalanceSats,
		"fee_per_kb":         cfg.Publisher.FeePerKb,
		"serialize_by_hash":  cfg.Publisher.SerializeByHash,
		"redis_enabled":      cfg.Redis.Enabled(),
		"db_driver":          cfg.DB.Driver,
		"funding_address":    fundingAddress,
	}), "publisher configuration")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
