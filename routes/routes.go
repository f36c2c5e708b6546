package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/provider-orchestrator/app"
	"github.com/upb/provider-orchestrator/handlers"
	"github.com/upb/provider-orchestrator/middleware"
	"github.com/upb/provider-orchestrator/utils"
)

const (
	requestTimeout = 60 * time.Second
	maxBodyBytes   = 1 << 20
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRequestLogger(deps.Logger.Named("http")).Handler)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	origins := deps.Config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	var history handlers.OutcomeHistory
	if deps.Repositories.Outcomes != nil {
		history = deps.Repositories.Outcomes
	}

	healthHandler := handlers.NewHealthHandler(db, deps.Orchestrator, deps.Logger.Named("health"))
	routingHandler := handlers.NewRoutingHandler(deps.Orchestrator, deps.Logger.Named("routing"))
	providerHandler := handlers.NewProviderHandler(deps.Orchestrator, history, deps.Logger.Named("providers"))
	metricsHandler := handlers.NewMetricsHandler(deps.Orchestrator, deps.Logger.Named("metrics"))

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.MaxBodySize(maxBodyBytes))

		r.Route("/route", func(r chi.Router) {
			r.Post("/", routingHandler.HandleRoute)
			r.Post("/batch", routingHandler.HandleRouteBatch)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", providerHandler.HandleListProviders)
			r.Get("/status", providerHandler.HandleListStatuses)
			r.Get("/{id}/status", providerHandler.HandleGetStatus)
			r.Post("/{id}/outcome", providerHandler.HandleReportOutcome)
			r.Get("/{id}/outcomes", providerHandler.HandleListOutcomes)
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/", metricsHandler.HandleGetMetrics)
			r.Post("/reset", metricsHandler.HandleResetMetrics)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
