/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint (when configured)
  /api/vaccines         Reference data
  /api/catalog          Catalog import
  /api/lots/*           Lot ledger
  /api/stock/*          Stock aggregate view
  /api/transfers/*      Transfer workflow
  /api/appointments/*   Appointment service
  /api/requests/*       Vaccine requests
  /api/children/*       Timeline and next-dose resolution
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Admin operations

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the outer HTTP layer.
type RouterOptions struct {
	AllowedOrigins []string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/vaccines", h.ListVaccines)
		r.Post("/catalog", h.LoadCatalog)

		// Lot routes
		r.Route("/lots", func(r chi.Router) {
			r.Get("/", h.ListLots)
			r.Post("/", h.AddLot)
			r.Get("/{id}", h.GetLot)
			r.Delete("/{id}", h.RemoveLot)
		})

		// Stock aggregate routes
		r.Route("/stock/{kind}/{id}", func(r chi.Router) {
			r.Get("/", h.GetStockSummaries)
			r.Get("/{vaccineID}", h.GetStockSummary)
		})

		// Transfer routes
		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", h.ListTransfers)
			r.Post("/", h.CreateTransfer)
			r.Get("/{id}", h.GetTransfer)
			r.Post("/{id}/confirm", h.ConfirmTransfer)
			r.Post("/{id}/reject", h.RejectTransfer)
			r.Post("/{id}/cancel", h.CancelTransfer)
		})

		// Appointment routes
		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", h.ListAppointments)
			r.Post("/", h.ScheduleAppointment)
			r.Post("/{id}/reschedule", h.RescheduleAppointment)
			r.Post("/{id}/complete", h.CompleteAppointment)
			r.Post("/{id}/cancel", h.CancelAppointment)
		})

		// Vaccine request routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		// Child routes
		r.Route("/children/{id}", func(r chi.Router) {
			r.Get("/timeline", h.GetTimeline)
			r.Get("/next-dose", h.GetNextDose)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
		})
	})

	return r
}
