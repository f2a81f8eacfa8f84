package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/security-audit/app"
	"github.com/upb/security-audit/handlers"
	"github.com/upb/security-audit/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Prefer", "X-Request-ID"},
		ExposedHeaders:   []string{"Preference-Applied", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var queue handlers.QueueStats
	if deps.Dispatcher != nil {
		queue = deps.Dispatcher
	}
	health := handlers.NewHealthHandler(deps.SQLDB(), queue, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Events != nil && deps.AuthMiddleware != nil {
		var async handlers.EventQueue
		if deps.Dispatcher != nil {
			async = deps.Dispatcher
		}
		events := handlers.NewSecurityEventHandler(
			deps.Events,
			async,
			deps.Audit,
			deps.Guardrails,
			deps.Config.Auth.AdminRole,
			deps.Logger,
		)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			r.Post("/security-events", events.HandleCreate)
			r.Post("/security-events/guardrails/check", events.HandleGuardrailCheck)
			r.Post("/audit-events", events.HandleLegacy)

			r.With(deps.AuthMiddleware.RequireRole(deps.Config.Auth.AdminRole)).
				Get("/security-events/chain/verify", events.HandleVerifyChain)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
