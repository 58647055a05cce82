/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and the route groups.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique id per request, used as the error correlation id
  2. RealIP:     Client address for rate-limit keying behind a proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the three front-ends
  6. Rate limit: 429 once a client exceeds its window

ROUTE GROUPS:
  public          rankings, product list, stock check, mode, SSE
  authenticated   history, rank, own profile, orders
  teacher-only    every mutation except reserve/cancel, plus statistics

/api routes carry a 30s overall deadline; /sse/events is mounted outside
that group because the stream must outlive any deadline.
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxBodyBytes caps request bodies; larger payloads answer 413.
const maxBodyBytes = 1 << 20

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestSize(maxBodyBytes))
	r.Use(h.limiter.middleware)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Points
		r.Route("/points", func(r chi.Router) {
			r.Get("/rankings", h.GetRankings)
			r.Get("/rankings/all", h.GetAllRankings)

			r.Group(func(r chi.Router) {
				r.Use(h.Authenticate)
				r.Get("/history/{studentId}", h.GetHistory)
				r.Get("/rank/{studentId}", h.GetStudentRank)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.Authenticate, RequireTeacher)
				r.Post("/add", h.AddPoints)
				r.Post("/subtract", h.SubtractPoints)
				r.Post("/batch-add", h.BatchAddPoints)
				r.Get("/records", h.GetRecords)
				r.Get("/statistics", h.GetPointsStatistics)
				r.Post("/reconcile", h.Reconcile)
			})
		})

		// Students
		r.Route("/students", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.Authenticate)
				r.Get("/{id}", h.GetStudent)
			})
			r.Group(func(r chi.Router) {
				r.Use(h.Authenticate, RequireTeacher)
				r.Get("/", h.ListStudents)
				r.Post("/", h.CreateStudent)
				r.Put("/{id}", h.UpdateStudent)
				r.Delete("/{id}", h.DeleteStudent)
			})
		})

		// Products
		r.Route("/products", func(r chi.Router) {
			r.With(h.MaybeAuthenticate).Get("/", h.ListProducts)
			r.Get("/{id}/stock", h.CheckStock)

			r.Group(func(r chi.Router) {
				r.Use(h.Authenticate, RequireTeacher)
				r.Post("/", h.CreateProduct)
				r.Put("/{id}", h.UpdateProduct)
				r.Delete("/{id}", h.DeleteProduct)
				r.Post("/batch-status", h.BatchProductStatus)
				r.Get("/statistics", h.GetProductStatistics)
			})
		})

		// Orders
		r.Route("/orders", func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Post("/reserve", h.Reserve)
			r.Get("/", h.ListOrders)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/cancel", h.CancelOrder)

			r.Group(func(r chi.Router) {
				r.Use(RequireTeacher)
				r.Get("/pending", h.ListPendingOrders)
				r.Post("/{id}/confirm", h.ConfirmOrder)
			})
		})

		// Config
		r.Route("/config", func(r chi.Router) {
			r.Get("/mode", h.GetMode)
			r.With(h.MaybeAuthenticate).Put("/mode", h.SetMode)

			r.Group(func(r chi.Router) {
				r.Use(h.Authenticate, RequireTeacher)
				r.Get("/", h.GetConfig)
				r.Put("/", h.UpdateConfig)
				r.Post("/reset-data", h.ResetData)
			})
		})
	})

	// SSE push channel: no deadline, no rate window consumed beyond connect.
	r.Get("/sse/events", h.StreamEvents)

	return r
}
