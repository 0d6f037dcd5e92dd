// Package routes registers all HTTP routes for the API.
package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reconpoint/api/internal/infra/http/handler"
)

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health  *handler.HealthHandler
	Target  *handler.TargetHandler
	Scan    *handler.ScanHandler
	Webhook *handler.WebhookHandler
}

// Register registers all application routes. This keeps route definitions
// in the infrastructure layer, not in main.
func Register(r chi.Router, h Handlers) {
	registerHealthRoutes(r, h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		registerTargetRoutes(r, h.Target)
		registerScanRoutes(r, h.Scan)
		registerWebhookRoutes(r, h.Webhook)
	})
}

func registerHealthRoutes(r chi.Router, h *handler.HealthHandler) {
	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
	r.Handle("/metrics", promhttp.Handler())
}

func registerTargetRoutes(r chi.Router, h *handler.TargetHandler) {
	r.Route("/targets", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
	})
}

func registerScanRoutes(r chi.Router, h *handler.ScanHandler) {
	r.Route("/scans", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}/status", h.Transition)
		r.Post("/{id}/abort", h.Abort)
		r.Get("/{id}/progress", h.Progress)
		r.Get("/{id}/activity", h.Activity)
	})
}

func registerWebhookRoutes(r chi.Router, h *handler.WebhookHandler) {
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/", h.Subscribe)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.SetActive)
		r.Delete("/{id}", h.Unsubscribe)
		r.Post("/{id}/test", h.Test)
		r.Get("/{id}/deliveries", h.Deliveries)
	})
}
