package supervisor

import (
	"errors"
	"fmt"
)

var (
	ErrSpawnFailed   = errors.New("spawn failed")
	ErrTimeout       = errors.New("readiness timeout")
	ErrProcessExited = errors.New("process exited")
	ErrKilled        = errors.New("killed")
	ErrNotRunning    = errors.New("not running")
	ErrShutdown      = errors.New("supervisor shut down")

	ErrInvalidPolicy     = errors.New("invalid ready timeout policy")
	ErrInvalidSpawnLimit = errors.New("invalid max concurrent spawns")
	ErrEmptyCapability   = errors.New("empty capability")
)

// ExitError reports a pod that exited without being killed.
type ExitError struct {
	Capability string

	// Code is the exit code, or -1 if the process died from a signal.
	Code int

	// Signal is the terminating signal, zero if the process exited.
	Signal int

	// Stderr is the tail of the pod's stderr.
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Signal != 0 {
		return fmt.Sprintf("pod %s: process exited on signal %d", e.Capability, e.Signal)
	}

	return fmt.Sprintf("pod %s: process exited with code %d", e.Capability, e.Code)
}

func (e *ExitError) Unwrap() error {
	return ErrProcessExited
}
