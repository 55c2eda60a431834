package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/arach/talkie-sub016/internal/pod/supervisor"
	"github.com/arach/talkie-sub016/runtime/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidMethod    = errors.New("invalid method")
	ErrInvalidBody      = errors.New("invalid body")
	ErrValidationFailed = errors.New("validation failed")
)

// wellKnownErrors maps errors to status codes. The first match wins, so an
// error wrapping several of them gets the status of the most specific one.
var wellKnownErrors = []struct {
	err    error
	status int
}{
	{schema.ErrSchemaNotFound, http.StatusInternalServerError},
	{ErrInvalidMethod, http.StatusMethodNotAllowed},
	{ErrInvalidBody, http.StatusBadRequest},
	{ErrValidationFailed, http.StatusBadRequest},
	{supervisor.ErrEmptyCapability, http.StatusBadRequest},
	{supervisor.ErrNotRunning, http.StatusNotFound},
	{supervisor.ErrSpawnFailed, http.StatusServiceUnavailable},
	{supervisor.ErrShutdown, http.StatusServiceUnavailable},
	{supervisor.ErrKilled, http.StatusConflict},
	{supervisor.ErrProcessExited, http.StatusBadGateway},
	{supervisor.ErrTimeout, http.StatusGatewayTimeout},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

// HandlerParams defines the dependencies for the runtime handler.
type HandlerParams struct {
	fx.In

	Runtime Runtime

	Log *zap.Logger
}

// Handler is the interface for handling runtime requests.
type Handler interface {
	Handle(ctx context.Context, request Request) Response
}

// RuntimeHandler maps http requests onto pod operations.
type RuntimeHandler struct {
	runtime Runtime

	schema *schema.Schema

	log *zap.Logger
}

// NewRuntimeHandler creates a new runtime handler.
func NewRuntimeHandler(params HandlerParams) (Handler, error) {
	s, err := schema.New()
	if err != nil {
		return nil, err
	}

	return &RuntimeHandler{
		runtime: params.Runtime,
		schema:  s,
		log:     params.Log.Named("handler"),
	}, nil
}

// Handle handles a runtime request.
func (h *RuntimeHandler) Handle(ctx context.Context, req Request) Response {
	log := h.log.With(
		zap.String("method", req.Method),
		zap.String("capability", req.Capability),
		zap.String("action", req.Action),
	)

	switch {
	case req.Capability == "":
		if req.Method != http.MethodGet {
			log.Debug("invalid method")
			return newErrorResponse(ErrInvalidMethod)
		}
		return h.list()

	case req.Action != "":
		if req.Method != http.MethodPost {
			log.Debug("invalid method")
			return newErrorResponse(ErrInvalidMethod)
		}
		return h.request(ctx, log, req)
	}

	switch req.Method {
	case http.MethodGet:
		return h.status(req.Capability)
	case http.MethodPut:
		return h.spawn(ctx, log, req)
	case http.MethodDelete:
		return h.kill(ctx, log, req.Capability)
	default:
		log.Debug("invalid method")
		return newErrorResponse(ErrInvalidMethod)
	}
}

// request forwards an action to the capability's pod. A response with
// success false is answered with 422 and the response itself as body.
func (h *RuntimeHandler) request(ctx context.Context, log *zap.Logger, req Request) Response {
	var body RequestBody
	if err := h.decode(schema.SchemaTypeRequest, req.Body, &body); err != nil {
		return newErrorResponse(err)
	}

	res, err := h.runtime.Request(ctx, req.Capability, req.Action, body.Payload)
	if err != nil {
		log.Debug("request failed", zap.Error(err))
		return newErrorResponse(err)
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}

	return newJSONResponse(status, res)
}

func (h *RuntimeHandler) spawn(ctx context.Context, log *zap.Logger, req Request) Response {
	var body SpawnBody
	if err := h.decode(schema.SchemaTypeSpawn, req.Body, &body); err != nil {
		return newErrorResponse(err)
	}

	if _, err := h.runtime.Spawn(ctx, req.Capability, body.Config); err != nil {
		log.Debug("spawn failed", zap.Error(err))
		return newErrorResponse(err)
	}

	return h.status(req.Capability)
}

func (h *RuntimeHandler) kill(ctx context.Context, log *zap.Logger, capability string) Response {
	if err := h.runtime.Kill(ctx, capability); err != nil {
		log.Debug("kill failed", zap.Error(err))
		return newErrorResponse(err)
	}

	return Response{StatusCode: http.StatusNoContent, Header: make(http.Header)}
}

func (h *RuntimeHandler) status(capability string) Response {
	status, err := h.runtime.Status(capability)
	if err != nil {
		return newErrorResponse(err)
	}

	return newJSONResponse(http.StatusOK, status)
}

func (h *RuntimeHandler) list() Response {
	pods := h.runtime.GetStatus()

	list := StatusList{Pods: make([]PodStatus, 0, len(pods))}
	for _, status := range pods {
		list.Pods = append(list.Pods, status)
	}

	sort.Slice(list.Pods, func(i, j int) bool {
		return list.Pods[i].Capability < list.Pods[j].Capability
	})

	return newJSONResponse(http.StatusOK, list)
}

// decode validates data against the schema and unmarshals it into v. An
// empty body is treated as an empty object.
func (h *RuntimeHandler) decode(t schema.SchemaType, data []byte, v any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}

	if err := h.validate(t, data); err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return ErrInvalidBody
	}

	return nil
}
