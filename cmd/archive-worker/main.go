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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/akua-anchor/api/controllers"
	"github.com/angelmondragon/akua-anchor/api/routes"
	"github.com/angelmondragon/akua-anchor/internal/archive"
	"github.com/angelmondragon/akua-anchor/pkg/bigquery"
	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/instance"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
	"github.com/angelmondragon/akua-anchor/pkg/pubsub"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "archive-worker"})

	_ = godotenv.Load()

	cfg, err := config.LoadWorker()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "archive-worker"

	logg = logger.New(logger.Options{
		ServiceName: "archive-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Version:     instance.Version,
	})

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.Requirements{
		Subscriptions: []string{cfg.PubSub.ReceiptSubscription},
	}, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	schema, err := archive.ReceiptSchema()
	requireResource(ctx, logg, "receipt schema", err)
	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, schema, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	subscription := pubsubClient.ReceiptSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "receipt subscription", errors.New("subscription not configured"))
	}

	registry := prometheus.NewRegistry()

	consumer, err := archive.NewConsumer(archive.ConsumerParams{
		Subscription: subscription,
		Inserter:     bqClient,
		Table:        bqClient.ReceiptsTable(),
		Metrics:      metrics.NewArchiveMetrics(registry),
		Logger:       logg,
	})
	requireResource(ctx, logg, "archive consumer", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"table":       bqClient.ReceiptsTable(),
	})

	probe := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewProbeRouter("archive-worker", instance.Version,
			map[string]controllers.Pinger{"pubsub": pubsubClient, "bigquery": bqClient},
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := probe.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "probe server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = probe.Shutdown(shutdownCtx)
	}()

	logg.Info(runCtx, "archive worker ready")

	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "archive worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
