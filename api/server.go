/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging (logger.RequestLogger)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the payroll frontend

ROUTE GROUPS:
  /api/employees/*      Employees, their advances, settings and escrow
  /api/advances/*       Advance entries by id, schedules, status changes
  /api/escrow/*         Escrow entries by id, weekly report
  /api/overdue          Overdue report
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/ledgerd/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/logger"
)

// RouterOptions configures the parts of the router that vary by deployment.
type RouterOptions struct {
	CORSOrigins []string
	Log         *zap.Logger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEmployee)

				r.Get("/advances", h.GetAdvances)
				r.Post("/advances", h.CreateAdvance)
				r.Post("/repayments", h.RecordRepayment)
				r.Post("/adjustments", h.RecordAdjustment)
				r.Post("/weekly-repayments", h.ProcessWeeklyRepayments)
				r.Get("/scheduled", h.GetScheduledRepayment)
				r.Get("/settings", h.GetSettings)
				r.Put("/settings", h.UpdateSettings)

				r.Route("/escrow", func(r chi.Router) {
					r.Get("/", h.GetEscrow)
					r.Post("/deposits", h.AddDeposit)
					r.Post("/withdrawals", h.AddWithdrawal)
					r.Get("/target", h.GetTarget)
					r.Put("/target", h.SetTarget)
				})
			})
		})

		r.Route("/advances", func(r chi.Router) {
			r.Delete("/entries/{id}", h.DeleteAdvanceEntry)
			r.Get("/{id}", h.GetAdvance)
			r.Get("/{id}/schedule", h.GetSchedule)
			r.Post("/{id}/cancel", h.CancelAdvance)
			r.Post("/{id}/forgive", h.ForgiveAdvance)
			r.Post("/{id}/default", h.DefaultAdvance)
		})

		r.Route("/escrow", func(r chi.Router) {
			r.Get("/weekly", h.GetWeeklyEscrow)
			r.Patch("/entries/{id}", h.UpdateEscrowNotes)
			r.Delete("/entries/{id}", h.DeleteEscrowEntry)
		})

		r.Get("/overdue", h.ListOverdue)
	})

	return r
}
