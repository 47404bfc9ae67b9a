package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/walletwise/walletwise/backend/internal/api/handlers"
	"github.com/walletwise/walletwise/backend/internal/api/middleware"
	"github.com/walletwise/walletwise/backend/internal/config"
	"github.com/walletwise/walletwise/backend/pkg/contracts"
)

const serviceName = "walletwise-backend"

// NewRouter creates the HTTP router with all API routes. A nil limiter
// disables rate limiting on message sends.
func NewRouter(cfg *config.Config, h *handlers.Handlers, chain contracts.AuthProviderChain, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	authn := middleware.NewAuthMiddleware(chain)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authn.Handler)
		r.Use(middleware.Identify)

		r.Route("/chat", func(r chi.Router) {
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", h.ListConversations)
				r.Post("/", h.CreateConversation)
				r.Route("/{conversationID}", func(r chi.Router) {
					r.Delete("/", h.DeleteConversation)
					r.Get("/messages", h.ListMessages)
					r.With(limit(limiter)).Post("/messages", h.SendMessage)
				})
			})

			r.Route("/models", func(r chi.Router) {
				r.Get("/", h.ListModels)
				r.Get("/current", h.CurrentModel)
				r.Get("/health", h.ModelsHealth)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Route("/config", func(r chi.Router) {
				r.Get("/", h.ListConfig)
				r.Post("/", h.CreateConfig)
				r.Post("/invalidate", h.InvalidateConfig)
				r.Get("/export", h.ExportConfig)
				r.Post("/import", h.ImportConfig)
				r.Route("/{key}", func(r chi.Router) {
					r.Get("/", h.GetConfig)
					r.Put("/", h.UpdateConfig)
					r.Post("/toggle", h.ToggleConfig)
					r.Post("/revert", h.RevertConfig)
					r.Get("/history", h.ConfigHistory)
				})
			})

			r.Route("/models", func(r chi.Router) {
				r.Get("/", h.AdminListModels)
				r.Post("/", h.AddModel)
				r.Post("/reload", h.ReloadModels)
				r.Route("/{modelID}", func(r chi.Router) {
					r.Put("/", h.UpdateModel)
					r.Post("/deactivate", h.DeactivateModel)
					r.Get("/health-logs", h.ModelHealthLogs)
				})
			})

			r.Route("/tools", func(r chi.Router) {
				r.Get("/", h.ListTools)
				r.Post("/reload", h.ReloadTools)
			})

			r.Get("/analytics", h.GetAnalytics)
		})
	})

	return r
}

func limit(rl *middleware.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Handler
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"version": cfg.Version,
			"service": serviceName,
		})
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
