package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/vidgate/internal/api/handler"
	mw "github.com/iconidentify/vidgate/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	mediaHandler *handler.MediaHandler,
	healthHandler *handler.HealthHandler,
	apiKey string,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.CleanPath)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"NotFound","message":"unknown endpoint"}`))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"BadRequest","message":"method not allowed"}`))
	})

	// Health endpoint (no auth)
	r.Get("/health", healthHandler.Health)

	// API (authenticated)
	r.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		r.Post("/info", mediaHandler.Info)
		r.Post("/download", mediaHandler.Download)
		r.Post("/stream", mediaHandler.Stream)
	})

	return r
}
