package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatus)
	r.Get("/alerts", s.HandleAlerts)
	r.Get("/alerts/history", s.HandleAlertHistory)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
	})

	r.Route("/control", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/fan", s.HandleSetFan)
		r.Put("/print_file", s.HandleSetPrintFile)
		r.Post("/{action}", s.HandleControl)
	})
}
