/**
 * @description
 * This file sets up the HTTP router for the delivery-service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, authentication, and rate limiting, and maps the routes to
 * their corresponding handler functions.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the wiring the router needs beyond the handlers.
type RouterConfig struct {
	JWKSURL                  string
	InternalAPIKey           string
	RateLimiter              RateLimiter
	RedeemRateLimitPerMinute int
}

// NewRouter creates a new Chi router and registers the delivery-service routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Delivery service is healthy"))
	})

	// Public redemption: optional identity, rate limited per origin.
	r.Group(func(r chi.Router) {
		r.Use(OptionalAuthMiddleware(cfg.JWKSURL))
		r.Use(RedeemRateLimitMiddleware(cfg.RateLimiter, cfg.RedeemRateLimitPerMinute))

		r.Post("/redeem", h.handleRedeem)
	})

	// Buyer-only routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWKSURL))

		r.Post("/entitlements/regenerate", h.handleRegenerate)
	})

	// Internal server-to-server routes.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))

		r.Post("/internal/entitlements", h.handleIssueEntitlements)
		r.Get("/internal/abuse/{token}", h.handleScanToken)
	})

	return r
}
