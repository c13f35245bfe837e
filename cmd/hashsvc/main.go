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

	"github.com/angelmondragon/akua-anchor/api/controllers"
	"github.com/angelmondragon/akua-anchor/api/routes"
	"github.com/angelmondragon/akua-anchor/internal/ingest"
	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/instance"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
	"github.com/angelmondragon/akua-anchor/pkg/pubsub"
)

const serviceName = "hashsvc"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	_ = godotenv.Load()

	cfg, err := config.LoadWorker()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Version:     instance.Version,
	})

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.Requirements{
		Subscriptions: []string{cfg.PubSub.InSubscription},
		Topics:        []string{cfg.PubSub.InTopic, cfg.PubSub.OutTopic, cfg.PubSub.DLQTopic},
	}, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	subscription := pubsubClient.InSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "input subscription", errors.New("subscription not configured"))
	}
	subscription.ReceiveSettings.MaxOutstandingMessages = cfg.Ingest.Prefetch

	client, err := ingest.NewHTTPPublisher(cfg.Ingest.PublisherURL, cfg.Ingest.PublisherToken, cfg.Ingest.PublisherTimeout, nil)
	requireResource(ctx, logg, "publisher client", err)

	topics, stopTopics := ingest.GCPTopics(pubsubClient.Publisher)
	defer stopTopics()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service, err := ingest.NewService(ingest.ServiceParams{
		Subscription: subscription,
		Publisher:    client,
		Topics:       topics,
		InTopic:      cfg.PubSub.InTopic,
		OutTopic:     cfg.PubSub.OutTopic,
		DLQTopic:     cfg.PubSub.DLQTopic,
		MaxAttempts:  cfg.Ingest.MaxAttempts,
		Metrics:      metrics.NewIngestMetrics(registry),
		Logger:       logg,
	})
	requireResource(ctx, logg, "ingest service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":           cfg.App.Env,
		"serviceKind":   cfg.Service.Kind,
		"instance":      instance.GetID(),
		"in_topic":      cfg.PubSub.InTopic,
		"out_topic":     cfg.PubSub.OutTopic,
		"dlq_topic":     cfg.PubSub.DLQTopic,
		"max_attempts":  cfg.Ingest.MaxAttempts,
		"prefetch":      cfg.Ingest.Prefetch,
		"publisher_url": cfg.Ingest.PublisherURL,
	})

	probe := &http.Server{
		Addr: ":" + cfg.Ingest.HTTPPort,
		Handler: routes.NewProbeRouter(serviceName, instance.Version,
			map[string]controllers.Pinger{"pubsub": pubsubClient},
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

	logg.Info(runCtx, "hash service ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "hash service failed", err)
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
