package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arach/talkie-sub016/internal/server"
)

// NewPodRouter routes the pod api below /pods.
func NewPodRouter(handler *PodHandler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", handler.ServeHTTP)
	r.Get("/{capability}", handler.ServeHTTP)
	r.Put("/{capability}", handler.ServeHTTP)
	r.Delete("/{capability}", handler.ServeHTTP)
	r.Post("/{capability}/{action}", handler.ServeHTTP)

	return r
}

func NewPodRoute(handler *PodHandler) server.HttpHandlerResult {
	return server.AsHttpMount("/pods", NewPodRouter(handler))
}

func NewHealthRoute() server.HttpHandlerResult {
	return server.AsHttpHandler("/health", http.HandlerFunc(HealthHandler))
}

func NewMetricsRoute() server.HttpHandlerResult {
	return server.AsHttpHandler("/metrics", promhttp.Handler())
}
