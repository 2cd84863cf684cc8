package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"incident-monitor/internal/middleware"
)

type Router struct {
	chi.Router
	limiter *middleware.RateLimiter
}

type RouterOptions struct {
	RequestTimeout time.Duration
	// RateLimiter is applied to the pipeline and API routes when set.
	RateLimiter *middleware.RateLimiter
}

func NewRouter(opts RouterOptions) *Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	if opts.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(opts.RequestTimeout))
	}

	// Browser clients call the pipeline endpoints directly.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type"},
		MaxAge:         300,
	}))

	return &Router{Router: r, limiter: opts.RateLimiter}
}

func (r *Router) limited(group chi.Router) {
	if r.limiter != nil {
		group.Use(r.limiter.Middleware)
	}
}

// RegisterPipelineRoutes registers the classify, extract and process endpoints
func (r *Router) RegisterPipelineRoutes(h *PipelineHandler) {
	r.Route("/functions/v1", func(fr chi.Router) {
		r.limited(fr)
		h.RegisterRoutes(fr)
	})
}

type routeRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RegisterAPIRoutes mounts the dashboard API handlers under /api/v1
func (r *Router) RegisterAPIRoutes(handlers ...routeRegistrar) {
	r.Route("/api/v1", func(ar chi.Router) {
		r.limited(ar)
		for _, h := range handlers {
			h.RegisterRoutes(ar)
		}
	})
}

// RegisterHealthRoutes registers health check routes. ready is called by /ready.
func (r *Router) RegisterHealthRoutes(ready func(ctx context.Context) error) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, codeUnavailable, "store unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ready",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}

// RegisterMetricsRoutes exposes the Prometheus registry
func (r *Router) RegisterMetricsRoutes(gatherer prometheus.Gatherer) {
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
