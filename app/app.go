package app

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arach/talkie-sub016/config"
	"github.com/arach/talkie-sub016/internal/pod/supervisor"
	"github.com/arach/talkie-sub016/internal/shell"
	"github.com/arach/talkie-sub016/runtime"
)

// shutdownMargin is added to the pod stop timeout for the rest of the
// application to stop.
const shutdownMargin = 5 * time.Second

// New creates the application shell shared by the long running commands.
func New(log *zap.Logger, cfg config.Config) *shell.Shell {
	return shell.New(log, Options(cfg)...)
}

// Options provide the config and the pod runtime.
func Options(cfg config.Config) []fx.Option {
	stopTimeout := cfg.Pods.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = supervisor.DefaultStopTimeout
	}

	sharedModule := fx.Module(
		"shared",
		// provide global config
		fx.Supply(cfg),
		// provide runtime and runtime handler
		runtime.Module(cfg.Pods),
	)

	return []fx.Option{
		// pods are killed on stop, give them time to exit
		fx.StopTimeout(stopTimeout + shutdownMargin),
		sharedModule,
	}
}
