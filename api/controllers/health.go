package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/akua-anchor/api/responses"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/types"
)

const readyCheckTimeout = 2 * time.Second

// Pinger is satisfied by every backing client with a health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Healthz(service, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, types.Health{OK: true, Service: service, Version: version})
	}
}

// Ready pings every named dependency. Nil pingers are reported as disabled.
func Ready(logg *logger.Logger, checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		result := types.Readiness{Ready: true, Checks: make(map[string]string, len(names))}
		for _, name := range names {
			pinger := checks[name]
			if pinger == nil {
				result.Checks[name] = "disabled"
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				result.Ready = false
				result.Checks[name] = "error"
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness.check_failed", err)
				}
				continue
			}
			result.Checks[name] = "ok"
		}

		status := http.StatusOK
		if !result.Ready {
			status = http.StatusServiceUnavailable
		}
		responses.WriteJSON(w, status, result)
	}
}
