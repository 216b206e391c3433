package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crlsmrls/fwatch/config"
	"github.com/crlsmrls/fwatch/ingest"
	"github.com/crlsmrls/fwatch/metrics"
)

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s) * time.Second
}

// setupRoutes configures the application's routes.
func setupRoutes(router *chi.Mux, cfg *config.Config, reg *prometheus.Registry, deps Deps) {
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Dashboard summary and detector endpoints sit behind the operator
	// token auth the teacher uses for its own privileged routes; an unset
	// AuthToken disables the check entirely, same as before.
	router.Route("/dashboard", func(r chi.Router) {
		r.Use(TokenAuthMiddleware(cfg))
		r.Get("/summary", dashboardHandler(deps))
	})

	// Detector endpoints: one per detector, query-param driven, with a
	// CSV/JSON export contract (spec.md §6).
	if deps.Store != nil {
		router.Route("/detect", func(r chi.Router) {
			r.Use(TokenAuthMiddleware(cfg))
			r.Get("/brute-force", bruteForceHandler(deps.Store))
			r.Get("/ddos", ddosHandler(deps.Store))
			r.Get("/port-scan", portScanHandler(deps.Store))
		})
	}

	// Live ingestion: bulk HTTP push behind a shared-secret API key and a
	// per-client rate limiter, plus the WebSocket raw-log stream.
	if deps.Pipeline != nil {
		router.Route("/ingest", func(r chi.Router) {
			r.Use(ingest.APIKeyMiddleware(cfg.IngestAPIKey))
			r.Use(ingest.NewRateLimiter(cfg.IngestRateLimit, secondsToDuration(cfg.IngestRateWindowS)).Middleware)
			r.Post("/", ingest.NewHandler(deps.Pipeline).ServeHTTP)
		})
	}
	if deps.Broadcaster != nil {
		router.Get("/ws/logs", deps.Broadcaster.ServeWS)
	}

	router.Handle(cfg.MetricsPath, metrics.MetricsHandler(reg))
}
