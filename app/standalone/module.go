package standalone

import (
	"go.uber.org/fx"

	"github.com/arach/talkie-sub016/handler"
	"github.com/arach/talkie-sub016/internal/server"
	"github.com/arach/talkie-sub016/util/logging"
)

// Module serves the pod api over http.
func Module(config server.HttpConfig) fx.Option {
	return fx.Module(
		"serve",
		// rename logger for module
		logging.DecorateLogger("serve"),
		// provide handlers
		handler.Module(),
		// provide server
		server.Module(config),
	)
}
