package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arach/talkie-sub016/config"
	"github.com/arach/talkie-sub016/runtime"
)

// maxBodyBytes bounds request bodies. Payloads reference audio by path,
// they never carry it inline.
const maxBodyBytes = 1 << 20

type PodHandlerParams struct {
	fx.In

	Handler runtime.Handler
	Config  config.Config
	Log     *zap.Logger
}

func NewPodHandler(params PodHandlerParams) *PodHandler {
	return &PodHandler{
		handler: params.Handler,
		config:  params.Config,
		log:     params.Log,
	}
}

// PodHandler translates http requests on the pod routes into runtime
// requests.
type PodHandler struct {
	handler runtime.Handler
	config  config.Config
	log     *zap.Logger
}

func (h *PodHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
	)

	// Check for authorization
	if h.config.Auth.Key != "" && r.Header.Get("api-key") != h.config.Auth.Key {
		log.Debug("unauthorized request")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Debug("failed to read body", zap.Error(err))
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	request := runtime.Request{
		Method:     r.Method,
		Capability: chi.URLParam(r, "capability"),
		Action:     chi.URLParam(r, "action"),
		Header:     r.Header,
		Body:       body,
	}

	// Handle the request
	response := h.handler.Handle(r.Context(), request)

	// Map response headers
	for k, v := range response.Header {
		for _, vv := range v {
			w.Header().Add(k, vv)
		}
	}

	// Write response headers and status code
	w.WriteHeader(response.StatusCode)

	// Write response body
	if _, err := w.Write(response.Body); err != nil {
		log.Debug("failed to write response", zap.Error(err))
	}
}
