// Package api is the REST control surface over the manager.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/manager"
)

type server struct {
	manager *manager.Manager
}

// NewRouter builds the HTTP routing tree.
func NewRouter(m *manager.Manager) http.Handler {
	s := &server{manager: m}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/healthz", s.health)

	r.Route("/api/sensors", func(r chi.Router) {
		r.Get("/", s.listSensors)
		// A regex param keeps this route out of the {id} subtree.
		r.Post("/{type:[a-z_]+}", s.registerSensor)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSensor)
			r.Patch("/", s.updateSensor)
			r.Delete("/", s.deleteSensor)
			r.Get("/status", s.sensorStatus)

			r.Post("/turn-on", s.turnOn)
			r.Post("/turn-off", s.turnOff)
			r.Post("/fetch-now", s.fetchNow)
			r.Post("/power-mode", s.setPowerMode)
			r.Post("/frequency", s.setFrequency)
			r.Post("/relay", s.setRelayMode)
			r.Post("/thresholds", s.setThresholds)
			r.Post("/calibrate", s.calibrate)
		})
	})

	return r
}

// requestLogger emits one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("Request handled")
	})
}
