// internal/router/router.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/wanderday/trip-itinerary-api/internal/api/itinerary"
)

// Config contains dependencies needed for the router setup
type Config struct {
	ItineraryHandler itinerary.Handler
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are expected
// to be applied *before* mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	// The viewer UI is served from Expo dev servers during development.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:8081", "http://localhost:19006"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/itinerary", func(r chi.Router) {
			r.Get("/", cfg.ItineraryHandler.GetSnapshot)
			r.Post("/refresh", cfg.ItineraryHandler.Refresh)
			r.Put("/active-day", cfg.ItineraryHandler.SetActiveDay)

			r.Post("/days", cfg.ItineraryHandler.AddDay)
			r.Route("/days/{day}", func(r chi.Router) {
				r.Delete("/", cfg.ItineraryHandler.DeleteDay)
				r.Put("/summary", cfg.ItineraryHandler.SetDaySummary)
				r.Put("/order", cfg.ItineraryHandler.ReorderItems)
				r.Get("/routes", cfg.ItineraryHandler.GetDayRoutes)
			})

			r.Post("/items", cfg.ItineraryHandler.AddItem)
			r.Route("/items/{id}", func(r chi.Router) {
				r.Put("/", cfg.ItineraryHandler.UpsertItem)
				r.Delete("/", cfg.ItineraryHandler.DeleteItem)
			})
		})
	})

	return r
}
