/**
 * @description
 * This file sets up the HTTP router for the ingestion-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies any necessary middleware, such as for authentication.
 *
 * The webhook endpoint is deliberately outside the JWT group: the provider
 * authenticates with the per-cluster shared secret, checked inside the
 * handler itself.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// IngestionRoutes creates and returns a new router for the ingestion service.
func IngestionRoutes(h *IngestionHandlers, jwksURL, audience, issuer string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Inbound provider pushes, authenticated by shared secret.
	r.Post("/webhook", h.WebhookHandler)

	// Group routes that require dashboard authentication.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL, audience, issuer))

		r.Post("/databases", h.CreateDatabaseHandler)
		r.Post("/indexing/add", h.AddSubscriptionHandler)
		r.Post("/indexing/start", h.StartIndexingHandler)
	})

	return r
}
