// Package adminhttp exposes the admin HTTP surface (SPEC_FULL.md
// S11.2): health and Prometheus metrics only, served on ADMIN_ADDR. It
// is not a job-submission API (see Non-goals).
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is the minimal interface for a database pool capable of Ping,
// used by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildRouter assembles the admin router: CORS open to any origin for
// read-only scraping, an unthrottled /healthz, and a scrape-storm guard
// on /metrics.
func BuildRouter(pool Pinger, broker Pinger) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", healthzHandler(pool, broker))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(60, time.Minute))
		wr.Handle("/metrics", promhttp.Handler())
	})

	return r
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// healthzHandler reports 200 only when every dependency check passes,
// otherwise 503 with the per-dependency failure reasons.
func healthzHandler(pool Pinger, broker Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		ok := true

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				checks["db"] = err.Error()
				ok = false
			} else {
				checks["db"] = "ok"
			}
		}
		if broker != nil {
			if err := broker.Ping(ctx); err != nil {
				checks["broker"] = err.Error()
				ok = false
			} else {
				checks["broker"] = "ok"
			}
		}

		status := healthStatus{Checks: checks}
		w.Header().Set("Content-Type", "application/json")
		if ok {
			status.Status = "ok"
			w.WriteHeader(http.StatusOK)
		} else {
			status.Status = "unavailable"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
