// Package server wires the document server: HTTP routes, background
// maintenance and graceful shutdown.
package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iudanet/docsync/internal/metrics"
	"github.com/iudanet/docsync/internal/server/handlers"
	"github.com/iudanet/docsync/internal/server/middleware"
	"github.com/iudanet/docsync/internal/server/storage"
	"github.com/iudanet/docsync/internal/server/token"
)

const (
	healthPath  = "/api/v1/health"
	metricsPath = "/metrics"
)

// Deps holds everything the router needs.
type Deps struct {
	Logger      *slog.Logger
	Users       storage.UserStorage
	Tokens      storage.TokenStorage
	Documents   storage.DocumentStorage
	TokenIssuer *token.Manager
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // nil отключает /metrics
	AuthLimiter *middleware.RateLimiter
	Version     string
}

// NewRouter creates a router with all routes configured.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LoggingMiddleware(d.Logger, d.Metrics, healthPath, metricsPath))
	r.Use(middleware.RecoveryMiddleware(d.Logger))

	authHandler := handlers.NewAuthHandler(d.Logger, d.Users, d.Tokens, d.TokenIssuer)
	docHandler := handlers.NewDocumentHandler(d.Logger, d.Documents, d.Metrics)
	healthHandler := handlers.NewHealthHandler(d.Logger, d.Documents, d.Version)

	if d.Gatherer != nil {
		r.Handle(metricsPath, promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		// Публичные auth endpoints под rate limit
		r.Group(func(r chi.Router) {
			if d.AuthLimiter != nil {
				r.Use(d.AuthLimiter.Middleware)
			}
			r.Post("/auth/register", authHandler.Register)
			r.Get("/auth/salt/{username}", authHandler.GetSalt)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
		})

		// Защищённые маршруты
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.Logger, d.TokenIssuer))
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/documents/*", docHandler.GetDocument)
			r.Get("/collections/*", docHandler.GetCollection)
			r.Post("/commit", docHandler.Commit)
		})
	})

	return r
}
