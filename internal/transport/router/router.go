package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trunov/heroproxy/internal/transport/handler"
)

func NewRouter(h *handler.Handler, metrics http.Handler, instrument func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if instrument != nil {
		r.Use(instrument)
	}
	r.Use(handler.CORS)

	r.MethodNotAllowed(h.MethodNotAllowed)

	r.Get("/", h.Proxy)
	r.Options("/*", h.Preflight)
	r.Get("/healthz", h.Health)
	r.Get("/stats", h.Stats)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}
