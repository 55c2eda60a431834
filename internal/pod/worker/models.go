package worker

import (
	"errors"
	"time"
)

var (
	ErrKillTimeout = errors.New("kill timeout")
	ErrNoCommand   = errors.New("no command")
)

const (
	// stderrTailSize is the amount of stderr kept for exit diagnostics.
	stderrTailSize = 4 << 10

	// waitDelay bounds how long Wait keeps draining stderr after the
	// process exited, in case a grandchild inherited the pipe.
	waitDelay = 2 * time.Second
)

type StartConfig struct {
	// Cmd is the path or name of the binary to execute
	Cmd string `conf:"cmd"`

	// Cwd is the working directory in which
	// the binary should be executed
	Cwd string `conf:"cwd"`

	// Args is the list of arguments to pass to the command
	Args []string `conf:"args"`

	// Env is a map of environment variables to set when running the
	// command, in addition to the environment of the host process
	Env map[string]string `conf:"env"`
}

type ExitEvent struct {
	// Code is the exit code of the process
	Code *int

	// Signal is the signal that caused the process to exit
	Signal *int

	// Stderr is the tail of the stderr output of the process
	Stderr string
}

// ExitCode returns the exit code, or -1 if the process was terminated
// by a signal.
func (e ExitEvent) ExitCode() int {
	if e.Code != nil {
		return *e.Code
	}

	return -1
}
