package config

import (
	"github.com/arach/talkie-sub016/internal/pod/supervisor"
	"github.com/arach/talkie-sub016/internal/server"
	"github.com/arach/talkie-sub016/util/conf"
)

// EnvPrefix prefixes every environment variable read as config.
// Nested keys are separated by "__", e.g. PODD_PODS__READY_TIMEOUT.
const EnvPrefix = "PODD_"

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// Pods configures the pod supervisor
	Pods supervisor.Config `conf:"pods"`

	// Http configures the http server of the serve command
	Http server.HttpConfig `conf:"http"`

	// Auth configures access to the http api
	Auth AuthConfig `conf:"auth"`
}

type AuthConfig struct {
	// Key is required in the api-key header of pod requests if set
	Key string `conf:"key"`
}

var DefaultConfig = conf.Defaults{
	"log_level":                 "info",
	"log_format":                "production",
	"pods.ready_timeout":        supervisor.DefaultReadyTimeout.String(),
	"pods.ready_timeout_policy": string(supervisor.KillOnReadyTimeout),
	"pods.stop_timeout":         supervisor.DefaultStopTimeout.String(),
	"pods.reap_interval":        supervisor.DefaultReapInterval.String(),
	"http.host":                 "localhost",
	"http.port":                 8080,
	"http.h2c":                  false,
}

// CliMap maps cli flag names to config keys.
var CliMap = map[string]string{
	"command":       "pods.cmd",
	"arg":           "pods.args",
	"cwd":           "pods.cwd",
	"ready-timeout": "pods.ready_timeout",
	"stop-timeout":  "pods.stop_timeout",
	"max-spawns":    "pods.max_concurrent_spawns",
	"idle-timeout":  "pods.idle_timeout",
	"prewarm":       "pods.prewarm",
	"host":          "http.host",
	"port":          "http.port",
	"h2c":           "http.h2c",
	"api-key":       "auth.key",
}
