package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/vmfleet/engine/internal/api/handlers"
	mw "github.com/vmfleet/engine/internal/api/middleware"
	"github.com/vmfleet/engine/internal/metrics"
)

type Dependencies struct {
	HMACSecret    []byte
	AuthHandler   *handlers.AuthHandler
	VMsHandler    *handlers.VMsHandler
	HealthHandler *handlers.HealthHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	// Health endpoints
	r.Get("/healthz", dep.HealthHandler.Liveness)
	r.Get("/readyz", dep.HealthHandler.Readiness)

	// Prometheus scrape endpoint
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		// Auth routes (public)
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", dep.AuthHandler.Register)
			ar.Post("/login", dep.AuthHandler.Login)
			ar.Post("/logout", dep.AuthHandler.Logout)
		})

		// Protected routes
		api.Group(func(protected chi.Router) {
			protected.Use(mw.Auth(dep.HMACSecret))

			protected.Route("/vms", func(vr chi.Router) {
				vr.Get("/", dep.VMsHandler.List)
				vr.Post("/", dep.VMsHandler.Create)
				vr.Get("/{id}", dep.VMsHandler.Get)
				vr.Patch("/{id}", dep.VMsHandler.Update)
				vr.Delete("/{id}", dep.VMsHandler.Delete)
				vr.Post("/{id}/start", dep.VMsHandler.Start)
				vr.Post("/{id}/stop", dep.VMsHandler.Stop)
				vr.Get("/{id}/transitions", dep.VMsHandler.Transitions)
				vr.Get("/{id}/disks", dep.VMsHandler.Disks)
			})
		})
	})

	return r
}
