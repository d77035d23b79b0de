package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finlink/internal/shared/auth"
	"finlink/internal/shared/metrics"
	"finlink/internal/shared/middleware"
)

type RouterConfig struct {
	Connections  *ConnectionHandler
	Institutions *InstitutionHandler
	JWT          *auth.JWT
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// NewRouter assembles the public routes and the authenticated /api group.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.Metrics))
	r.Use(chimw.Recoverer)

	r.Get("/health", HandleHealth)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT))
		if cfg.Institutions != nil {
			cfg.Institutions.Routes(r)
		}
		if cfg.Connections != nil {
			cfg.Connections.Routes(r)
		}
	})

	return r
}

// HandleHealth returns a simple health check response.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
