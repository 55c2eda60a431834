package supervisor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arach/talkie-sub016/internal/pod/protocol"
	"github.com/arach/talkie-sub016/internal/pod/worker"
	"go.uber.org/zap"
)

// Process is the child process backing a pod.
type Process interface {
	Pid() int
	Stdin() io.Writer
	Stdout() io.ReadCloser
	Done() <-chan struct{}
	Exit() worker.ExitEvent
	Stop(ctx context.Context, timeout time.Duration) (worker.ExitEvent, error)
}

// State is a pod's lifecycle state.
type State int

const (
	StateSpawning State = iota
	StateAwaitingReady
	StateReady
	StateTerminating
	StateTerminated
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateTerminated || s == StateCrashed
}

// PodStatus is a snapshot of a running pod.
type PodStatus struct {
	Capability      string    `json:"capability"`
	Loaded          bool      `json:"loaded"`
	MemoryMB        int       `json:"memoryMB"`
	RequestsHandled int       `json:"requestsHandled"`
	Pending         int       `json:"pending"`
	Pid             int       `json:"pid,omitempty"`
	State           string    `json:"state"`
	StartedAt       time.Time `json:"startedAt"`
	LastUsed        time.Time `json:"lastUsed"`
}

type result struct {
	res *protocol.Response
	err error
}

type writeRequest struct {
	ctx  context.Context
	req  protocol.Request
	done chan error
}

// Instance is one pod bound to one capability. All of its mutable state is
// guarded by mu; the request path and the line reader are the only writers.
type Instance struct {
	capability string

	// ctx is cancelled when the pod starts terminating. It aborts a
	// launch that is still queued and stops the line reader dispatching.
	ctx    context.Context
	cancel context.CancelFunc

	// writes feeds the goroutine that owns the pod's stdin.
	writes chan writeRequest

	mu              sync.Mutex
	proc            Process
	state           State
	memoryMB        int
	requestsHandled int
	pending         map[string]chan result
	startedAt       time.Time
	lastUsed        time.Time
	err             error

	ready      chan struct{}
	done       chan struct{}
	readerDone chan struct{}

	log *zap.Logger
}

func newInstance(capability string, log *zap.Logger) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	return &Instance{
		capability: capability,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateSpawning,
		pending:    make(map[string]chan result),
		writes:     make(chan writeRequest),
		startedAt:  now,
		lastUsed:   now,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		log:        log.With(zap.String("capability", capability)),
	}
}

// Capability returns the capability the pod serves.
func (i *Instance) Capability() string {
	return i.capability
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.state
}

// Pid returns the pod's process id, or 0 before it is launched.
func (i *Instance) Pid() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.proc == nil {
		return 0
	}

	return i.proc.Pid()
}

// Ready is closed once the readiness handshake has been received.
func (i *Instance) Ready() <-chan struct{} {
	return i.ready
}

// Done is closed once the pod has been torn down and removed from its
// supervisor.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Err returns the error the pod terminated with.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.err
}

// Status returns a snapshot of the pod.
func (i *Instance) Status() PodStatus {
	i.mu.Lock()
	defer i.mu.Unlock()

	status := PodStatus{
		Capability:      i.capability,
		Loaded:          i.state == StateReady,
		MemoryMB:        i.memoryMB,
		RequestsHandled: i.requestsHandled,
		Pending:         len(i.pending),
		State:           i.state.String(),
		StartedAt:       i.startedAt,
		LastUsed:        i.lastUsed,
	}

	if i.proc != nil {
		status.Pid = i.proc.Pid()
	}

	return status
}

// attach binds a launched process to the pod. It reports false if the pod
// started terminating while the process was being launched.
func (i *Instance) attach(proc Process) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.proc = proc

	if i.state != StateSpawning {
		return false
	}

	i.state = StateAwaitingReady

	go i.writeLoop(protocol.NewEncoder(proc.Stdin()))

	return true
}

// writeLoop writes requests to the pod's stdin in the order they are
// handed over, until the pod starts terminating.
func (i *Instance) writeLoop(enc *protocol.Encoder) {
	for {
		select {
		case w := <-i.writes:
			if err := w.ctx.Err(); err != nil {
				w.done <- err
				continue
			}
			w.done <- enc.Encode(w.req)
		case <-i.ctx.Done():
			return
		}
	}
}

// markReady transitions awaiting_ready to ready and records the reported
// memory footprint. A pod never leaves ready other than by terminating, a
// repeated handshake only refreshes the footprint.
func (i *Instance) markReady(memoryMB int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch i.state {
	case StateAwaitingReady:
		i.state = StateReady
		i.memoryMB = memoryMB
		i.lastUsed = time.Now()
		close(i.ready)
		return true
	case StateReady:
		i.memoryMB = memoryMB
	}

	return false
}

// addPendingRequest registers a waiter for id.
func (i *Instance) addPendingRequest(id string) (<-chan result, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch {
	case i.state == StateTerminating:
		return nil, ErrKilled
	case i.state.terminal():
		return nil, i.err
	case i.state != StateReady:
		return nil, ErrNotRunning
	}

	if _, ok := i.pending[id]; ok {
		return nil, fmt.Errorf("duplicate request id %q", id)
	}

	ch := make(chan result, 1)
	i.pending[id] = ch
	i.lastUsed = time.Now()

	return ch, nil
}

// completePendingRequest resolves the waiter registered for res.ID. It
// reports false if there is none, e.g. because the caller gave up.
func (i *Instance) completePendingRequest(res *protocol.Response) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	ch, ok := i.pending[res.ID]
	if !ok {
		return false
	}

	delete(i.pending, res.ID)
	i.requestsHandled++
	i.lastUsed = time.Now()

	ch <- result{res: res}

	return true
}

// removePendingRequest forgets the waiter for id without resolving it.
func (i *Instance) removePendingRequest(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.pending, id)
}

// failAllPending resolves every registered waiter with err.
func (i *Instance) failAllPending(err error) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.failAllPendingLocked(err)
}

func (i *Instance) failAllPendingLocked(err error) int {
	n := len(i.pending)

	for id, ch := range i.pending {
		ch <- result{err: err}
		delete(i.pending, id)
	}

	return n
}

// beginTermination moves the pod to terminating and stops the line reader
// from dispatching. It returns the process to stop, and false if the pod
// was already terminating or terminated.
func (i *Instance) beginTermination() (Process, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == StateTerminating || i.state.terminal() {
		return nil, false
	}

	i.state = StateTerminating
	i.cancel()

	return i.proc, true
}

// beginTerminationIfIdle is beginTermination for a ready pod without
// pending requests that was last used at least idle before now. The check
// and the transition happen under one lock, so a request either registers
// first and keeps the pod alive, or fails with ErrKilled.
func (i *Instance) beginTerminationIfIdle(now time.Time, idle time.Duration) (Process, time.Duration, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateReady || len(i.pending) > 0 {
		return nil, 0, false
	}

	since := now.Sub(i.lastUsed)
	if since < idle {
		return nil, 0, false
	}

	i.state = StateTerminating
	i.cancel()

	return i.proc, since, true
}

// finish records the terminal state and fails every pending request.
// A pod that was terminating is reported as killed, anything else as err.
func (i *Instance) finish(err error) State {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == StateTerminating {
		i.state = StateTerminated
		err = ErrKilled
	} else {
		i.state = StateCrashed
	}

	i.err = err
	i.cancel()

	if n := i.failAllPendingLocked(err); n > 0 {
		i.log.With(zap.Int("pending", n), zap.Error(err)).Debug("failed pending requests")
	}

	return i.state
}

// exited reports whether the pod has finished or its process is gone.
func (i *Instance) exited() bool {
	i.mu.Lock()
	proc, state := i.proc, i.state
	i.mu.Unlock()

	if state.terminal() {
		return true
	}

	if proc == nil {
		return false
	}

	select {
	case <-proc.Done():
		return true
	default:
		return false
	}
}

func (i *Instance) closeDone() {
	close(i.done)
}

// send writes req to the pod and waits for the matching response. A pod
// that stops reading its stdin blocks the write, not the caller: ctx
// bounds both the write and the wait.
func (i *Instance) send(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	ch, err := i.addPendingRequest(req.ID)
	if err != nil {
		return nil, err
	}

	w := writeRequest{ctx: ctx, req: req, done: make(chan error, 1)}

	select {
	case i.writes <- w:
	case r := <-ch:
		return r.res, r.err
	case <-ctx.Done():
		i.removePendingRequest(req.ID)
		return nil, ctx.Err()
	}

	written := w.done
	for {
		select {
		case err := <-written:
			if err == nil {
				written = nil
				continue
			}

			i.removePendingRequest(req.ID)

			// a write usually fails because the pod is going away,
			// prefer reporting why
			select {
			case r := <-ch:
				return r.res, r.err
			default:
			}

			return nil, err
		case r := <-ch:
			return r.res, r.err
		case <-ctx.Done():
			i.removePendingRequest(req.ID)
			return nil, ctx.Err()
		}
	}
}

// dispatch applies messages from the line reader until in is closed.
func (i *Instance) dispatch(in <-chan protocol.Message, metrics *metrics) {
	defer close(i.readerDone)

	for msg := range in {
		switch m := msg.(type) {
		case *protocol.Ready:
			if i.markReady(m.MemoryMB) {
				i.log.With(zap.Int("memoryMB", m.MemoryMB)).Info("pod ready")
				metrics.memory.WithLabelValues(i.capability).Set(float64(m.MemoryMB))
				metrics.spawns.WithLabelValues(i.capability, "ready").Inc()
			}
		case *protocol.Log:
			i.logSink(m)
		case *protocol.Response:
			if !i.completePendingRequest(m) {
				i.log.With(zap.String("id", m.ID)).Debug("dropping response for unknown request")
				metrics.dropped.WithLabelValues(i.capability, "unknown_id").Inc()
			}
		}
	}
}

// logSink forwards a pod log line to the host logger.
func (i *Instance) logSink(m *protocol.Log) {
	log := i.log.Named("pod")

	switch m.Level {
	case "debug":
		log.Debug(m.Message)
	case "warn", "warning":
		log.Warn(m.Message)
	case "error":
		log.Error(m.Message)
	default:
		log.Info(m.Message)
	}
}
