/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RequestLog: zerolog access log (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the UI dev server

ROUTE GROUPS:
  /api/products/*   Catalog, balances, movement history and recording
  /api/purchases    Purchase finalization
  /api/sales        Sale finalization
  /api/stock/*      Low stock and ledger verification
  /api/scenarios*   Demo catalogs (see scenarios.go)

SECURITY NOTE:
  The bridge listens on loopback. Authentication belongs to the session
  provider in front of it, which supplies X-Actor.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logger
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
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
			r.Post("/{id}/deactivate", h.DeactivateProduct)
			r.Post("/{id}/reactivate", h.ReactivateProduct)
			r.Get("/{id}/movements", h.GetMovements)
			r.Post("/{id}/movements", h.RecordMovement)
		})

		r.Post("/purchases", h.FinalizePurchase)
		r.Post("/sales", h.FinalizeSale)

		r.Route("/stock", func(r chi.Router) {
			r.Get("/low", h.ListLowStock)
			r.Get("/verify", h.VerifyLedger)
		})

		r.Get("/scenarios", h.ListScenarios)
		r.Post("/scenarios/load", h.LoadScenario)
	})

	return r
}
