package supervisor

import (
	"time"

	"github.com/arach/talkie-sub016/internal/pod/worker"
)

// ReadyTimeoutPolicy decides what happens to a pod that is still alive
// when its readiness window elapses.
type ReadyTimeoutPolicy string

const (
	// KillOnReadyTimeout kills the pod, so the next request spawns afresh.
	KillOnReadyTimeout ReadyTimeoutPolicy = "kill"

	// KeepOnReadyTimeout leaves the pod loading. The next spawn or request
	// for the capability waits on the same process again.
	KeepOnReadyTimeout ReadyTimeoutPolicy = "keep"
)

const (
	DefaultReadyTimeout = 5 * time.Minute
	DefaultStopTimeout  = 10 * time.Second
	DefaultReapInterval = 30 * time.Second
)

// StartConfig describes the pod executable. The capability name and its
// JSON encoded config are appended to Args.
type StartConfig = worker.StartConfig

// CapabilityConfig holds per-capability settings.
type CapabilityConfig struct {
	// Config is passed to the pod as its <config-json> argument.
	Config map[string]string `conf:"config"`

	// ReadyTimeout overrides the supervisor's ready timeout.
	ReadyTimeout time.Duration `conf:"ready_timeout"`

	// Actions lists the actions reported by name in request metrics.
	Actions []string `conf:"actions"`
}

type Config struct {
	// Start describes the pod executable
	Start StartConfig `conf:",squash"`

	// ReadyTimeout is how long spawn waits for the readiness handshake.
	// Some capabilities load large models, so the default is generous.
	ReadyTimeout time.Duration `conf:"ready_timeout"`

	// ReadyTimeoutPolicy is applied when the ready timeout elapses while
	// the pod is still alive. Default is "kill".
	ReadyTimeoutPolicy ReadyTimeoutPolicy `conf:"ready_timeout_policy"`

	// StopTimeout is how long kill waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration `conf:"stop_timeout"`

	// MaxConcurrentSpawns bounds the number of pods loading at the same
	// time. Zero means unbounded.
	MaxConcurrentSpawns int `conf:"max_concurrent_spawns"`

	// IdleTimeout kills ready pods that have not been used for this long.
	// Zero disables idle reaping.
	IdleTimeout time.Duration `conf:"idle_timeout"`

	// ReapInterval is how often idle pods are looked for.
	ReapInterval time.Duration `conf:"reap_interval"`

	// MaxLineBytes bounds a single protocol line read from a pod.
	MaxLineBytes int `conf:"max_line_bytes"`

	// Prewarm lists capabilities spawned when the supervisor starts.
	Prewarm []string `conf:"prewarm"`

	// Capabilities holds per-capability settings.
	Capabilities map[string]CapabilityConfig `conf:"capabilities"`
}

func (c Config) withDefaults() Config {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}

	if c.ReadyTimeoutPolicy == "" {
		c.ReadyTimeoutPolicy = KillOnReadyTimeout
	}

	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}

	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}

	return c
}

func (c Config) validate() error {
	switch c.ReadyTimeoutPolicy {
	case KillOnReadyTimeout, KeepOnReadyTimeout:
	default:
		return ErrInvalidPolicy
	}

	if c.MaxConcurrentSpawns < 0 {
		return ErrInvalidSpawnLimit
	}

	return nil
}

func (c Config) capability(name string) CapabilityConfig {
	return c.Capabilities[name]
}

func (c Config) readyTimeout(capability string) time.Duration {
	if t := c.capability(capability).ReadyTimeout; t > 0 {
		return t
	}

	return c.ReadyTimeout
}
