package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imagestudio-ai/imagestudio/internal/database"
	"github.com/imagestudio-ai/imagestudio/internal/events"
	mw "github.com/imagestudio-ai/imagestudio/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Auth handlers
	Register http.HandlerFunc
	Login    http.HandlerFunc
	Refresh  http.HandlerFunc
	Logout   http.HandlerFunc

	// Catalog handlers
	ListModels http.HandlerFunc

	// Quota handlers
	GetQuotaStatus http.HandlerFunc
	GetModelQuota  http.HandlerFunc

	// Generation handlers
	CreateGeneration http.HandlerFunc
	ListGenerations  http.HandlerFunc
	GetGeneration    http.HandlerFunc

	// Admin handlers
	ListTiers     http.HandlerFunc
	CreateTier    http.HandlerFunc
	DeleteTier    http.HandlerFunc
	AdminModels   http.HandlerFunc
	CreateModel   http.HandlerFunc
	UpdateModel   http.HandlerFunc
	SetAccess     http.HandlerFunc
	SetLimits     http.HandlerFunc
	ListAuditLogs http.HandlerFunc

	// Middleware
	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	AuthRateLimiter    func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, eventsClient *events.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB and NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if eventsClient != nil && !eventsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if eventsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (public) — optionally rate-limited
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/logout", h.Logout)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			// Model catalog filtered to the caller's tier
			r.Get("/models", h.ListModels)

			// Quota dashboard
			r.Route("/quota", func(r chi.Router) {
				r.Get("/", h.GetQuotaStatus)
				r.Get("/{modelID}", h.GetModelQuota)
			})

			// Generation requests
			r.Route("/generations", func(r chi.Router) {
				r.Post("/", h.CreateGeneration)
				r.Get("/", h.ListGenerations)
				r.Get("/{requestID}", h.GetGeneration)
			})

			// Admin console
			r.Route("/admin", func(r chi.Router) {
				r.Use(h.AdminMiddleware)

				r.Route("/tiers", func(r chi.Router) {
					r.Get("/", h.ListTiers)
					r.Post("/", h.CreateTier)
					r.Delete("/{tier}", h.DeleteTier)
				})
				r.Route("/models", func(r chi.Router) {
					r.Get("/", h.AdminModels)
					r.Post("/", h.CreateModel)
					r.Put("/{modelID}", h.UpdateModel)
				})
				r.Put("/access", h.SetAccess)
				r.Put("/limits", h.SetLimits)
				r.Get("/audit", h.ListAuditLogs)
			})
		})
	})

	return r
}
