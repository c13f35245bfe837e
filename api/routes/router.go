package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/akua-anchor/api/controllers"
	"github.com/angelmondragon/akua-anchor/api/middleware"
	"github.com/angelmondragon/akua-anchor/internal/publisher"
	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

// Params wires the publisher HTTP surface.
type Params struct {
	Config         config.PublisherConfig
	Service        publisher.Service
	FundingAddress string
	Version        string
	// RateStore is nil when Redis is disabled. Pass an untyped nil, not a
	// nil *redis.Client.
	RateStore middleware.FixedWindowStore
	Checks    map[string]controllers.Pinger
	Metrics   http.Handler
	Logger    *logger.Logger
}

func NewRouter(p Params) http.Handler {
	logg := p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	publishPolicy := middleware.NewRateLimitPolicy("publish", time.Minute, p.Config.RateLimitPerMin)
	auth := middleware.BearerAuth(p.Config.AuthToken, logg)

	r.Get("/healthz", controllers.Healthz("publisher", p.Version))
	r.Get("/readyz", controllers.Ready(logg, p.Checks))
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.With(auth).Get("/info", controllers.Info(p.Config, p.FundingAddress, p.Version, p.Service, logg))

	r.Route("/publish", func(r chi.Router) {
		r.With(auth, middleware.RateLimit(publishPolicy, p.RateStore, nil, logg)).Post("/", controllers.Publish(p.Service, logg))
		r.Get("/{sha256}", controllers.GetPublish(p.Service, logg))
	})

	return r
}

// NewProbeRouter serves liveness, readiness and metrics for the queue workers.
func NewProbeRouter(service, version string, checks map[string]controllers.Pinger, metrics http.Handler, logg *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer(logg))

	r.Get("/healthz", controllers.Healthz(service, version))
	r.Get("/readyz", controllers.Ready(logg, checks))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}
