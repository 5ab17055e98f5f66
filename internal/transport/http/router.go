// Package httptransport assembles the HTTP router. It owns no business
// logic: handlers register themselves, middleware wraps everything.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ProdByBuddha/readmyfineprint/internal/platform/middleware"
	"github.com/ProdByBuddha/readmyfineprint/pkg/platform/httputil"
)

// requestTimeout bounds one request end to end. The correlation subsystem is
// I/O-bound bookkeeping; anything slower than this is stuck.
const requestTimeout = 30 * time.Second

// Registrar is anything that can mount routes, typically a domain handler.
type Registrar interface {
	Register(r chi.Router)
}

// Deps carries everything the router needs.
type Deps struct {
	Logger     *slog.Logger
	Handlers   []Registrar
	HealthFunc func() error
}

// NewRouter assembles the full middleware chain and mounts all handlers.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", healthHandler(deps.HealthFunc))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(middleware.ContentTypeJSON)
		for _, handler := range deps.Handlers {
			handler.Register(api)
		}
	})

	return r
}

func healthHandler(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	}
}
