package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Process is a running child process. Its stdout is exposed as a pipe owned
// by the caller, so reading it never races with reaping the process.
type Process struct {
	pid    int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *stderrSink

	done chan struct{}
	exit ExitEvent

	log *zap.Logger
}

// Start launches the process described by config.
func Start(config StartConfig, log *zap.Logger) (*Process, error) {
	if config.Cmd == "" {
		return nil, ErrNoCommand
	}

	log.With(
		zap.String("command", config.Cmd),
		zap.Strings("args", config.Args),
		zap.String("cwd", config.Cwd),
	).Debug("starting process")

	cmd := exec.Command(config.Cmd, config.Args...)
	cmd.Env = buildEnv(config.Env)
	cmd.WaitDelay = waitDelay

	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	cmd.Stdout = stdoutW

	stderr := newStderrSink(log, stderrTailSize)
	cmd.Stderr = stderr

	initCmd(cmd)

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}

	// the child holds its own copy of the write end; closing ours
	// lets the reader observe EOF once the child exits
	stdoutW.Close()

	p := &Process{
		pid:    cmd.Process.Pid,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		stderr: stderr,
		done:   make(chan struct{}),
		log:    log.Named("proc").With(zap.Int("pid", cmd.Process.Pid)),
	}

	go p.wait()

	return p, nil
}

func (p *Process) wait() {
	// block until the process exits
	err := p.cmd.Wait()

	p.stderr.Flush()
	p.exit = getExitEvent(err, p.stderr.Tail())

	p.log.With(
		zap.Int("code", p.exit.ExitCode()),
		zap.Bool("signaled", p.exit.Signal != nil),
	).Debug("process exited")

	close(p.done)
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.pid
}

// Stdin returns the write end of the process's standard input.
func (p *Process) Stdin() io.Writer {
	return p.stdin
}

// Stdout returns the read end of the process's standard output. The caller
// is responsible for closing it once it has read until EOF.
func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exit returns the exit event. It is only meaningful after Done is closed.
func (p *Process) Exit() ExitEvent {
	select {
	case <-p.done:
		return p.exit
	default:
		return ExitEvent{}
	}
}

// Wait blocks until the process exits or ctx is done. It may be called
// any number of times.
func (p *Process) Wait(ctx context.Context) (ExitEvent, error) {
	select {
	case <-ctx.Done():
		return ExitEvent{}, ctx.Err()
	case <-p.done:
		return p.exit, nil
	}
}

// Terminate closes stdin and sends SIGTERM to the process group. It
// returns immediately, without waiting for the process to stop.
func (p *Process) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group. It returns immediately, without
// waiting for the process to stop.
func (p *Process) Kill() error {
	return p.signal(syscall.SIGKILL)
}

// Stop terminates the process and waits up to timeout for it to exit,
// escalating to SIGKILL afterwards. A timeout <= 0 kills right away.
func (p *Process) Stop(ctx context.Context, timeout time.Duration) (ExitEvent, error) {
	// stop should report success if the process terminated
	// by the time supervisor receives the request.
	select {
	case <-p.done:
		p.log.Debug("process already terminated")
		return p.exit, nil
	default:
		// continue
	}

	if timeout > 0 {
		p.Terminate()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-p.done:
			return p.exit, nil
		case <-ctx.Done():
			// fall through and kill
		case <-timer.C:
			p.log.With(zap.Duration("timeout", timeout)).Warn("process did not terminate, killing")
		}
	}

	p.Kill()

	select {
	case <-p.done:
		return p.exit, nil
	case <-ctx.Done():
		return ExitEvent{}, fmt.Errorf("%w: %w", ErrKillTimeout, ctx.Err())
	}
}

func (p *Process) signal(signal syscall.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	log := p.log.With(zap.Stringer("signal", signal))

	// close stdin before signalling the process, to
	// avoid the process hanging on input
	if err := p.stdin.Close(); err != nil {
		log.Debug("close stdin failed", zap.Error(err))
	}

	log.Info("sending signal")

	if err := sendSignal(p.pid, signal); err != nil {
		log.Error("signal failed", zap.Error(err))
		return err
	}

	return nil
}

// MARK: - helpers

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	return env
}

func getExitEvent(err error, stderr string) ExitEvent {
	var cell int
	var exitStatus *int
	var signo *int

	if err == nil {
		// the process exited successfully, set the exit code to 0
		exitStatus = &cell
	} else if exitError, ok := err.(*exec.ExitError); ok {
		// the process exited with an error
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// the process was terminated by a signal
				cell = int(status.Signal())
				signo = &cell
			} else {
				cell = status.ExitStatus()
				exitStatus = &cell
			}
		}
	}

	if signo == nil && exitStatus == nil {
		// could not determine the exit status or signal,
		// set exit status to 1
		cell = 1
		exitStatus = &cell
	}

	return ExitEvent{
		Code:   exitStatus,
		Signal: signo,
		Stderr: stderr,
	}
}
