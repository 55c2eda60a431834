package runtime

import (
	"context"

	"github.com/arach/talkie-sub016/internal/pod/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Runtime owns the pods of the service.
type Runtime = supervisor.Supervisor

// Config is the runtime-specific type for the config.
type Config = supervisor.Config

// RuntimeParams defines the dependencies for the runtime.
type RuntimeParams struct {
	fx.In

	// Config is the config for the underlying pod supervisor
	Config Config

	// Registerer receives the runtime's metrics. The global registry is
	// used if none is provided.
	Registerer prometheus.Registerer `optional:"true"`

	// Log is the logger to use for the runtime
	Log *zap.Logger
}

// NewRuntime creates a new runtime.
func NewRuntime(params RuntimeParams) (Runtime, error) {
	return supervisor.New(supervisor.Params{
		Config:     params.Config,
		Registerer: params.Registerer,
		Log:        params.Log.Named("runtime"),
	})
}

// NewLifecycleRuntime creates a runtime that starts and stops with the
// application. Stopping kills every pod.
func NewLifecycleRuntime(params RuntimeParams, lc fx.Lifecycle) (Runtime, error) {
	r, err := NewRuntime(params)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return r.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return r.Shutdown(ctx)
		},
	})

	return r, nil
}
