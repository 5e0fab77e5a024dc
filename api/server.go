/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/stock/*   Inventory: receipts, sales, adjustments, projections
  /api/cash/*    Bank reconciliation: imports, balances, approvals
  /api/health    Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Post("/receipts", h.Receive)
			r.Post("/sales", h.Sell)
			r.Post("/adjustments", h.Adjust)
			r.Get("/positions", h.ListPositions)
			r.Get("/quantity", h.GetQuantity)
			r.Get("/movements", h.GetMovements)
			r.Get("/reorder", h.ListReorderCandidates)
			r.Get("/expiring", h.ListExpiring)
		})

		// Cash routes
		r.Route("/cash", func(r chi.Router) {
			r.Route("/accounts/{accountID}", func(r chi.Router) {
				r.Post("/statements", h.ImportStatement)
				r.Post("/entries", h.ImportEntry)
				r.Get("/balance", h.GetAccountBalance)
				r.Get("/entries", h.GetAccountEntries)
			})
			r.Get("/unreconciled", h.ListUnreconciled)
			r.Post("/entries/{id}/approve", h.ApproveEntry)
		})
	})

	return r
}
