package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/arach/talkie-sub016/internal/pod/protocol"
	"github.com/arach/talkie-sub016/internal/pod/worker"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// readerGrace is how long the supervisor waits for a pod's stdout to reach
// EOF after the process exited, in case a grandchild holds it open.
const readerGrace = time.Second

type Supervisor interface {
	// Start starts background maintenance and spawns prewarmed pods.
	Start(ctx context.Context) error

	// Spawn returns the pod for capability, launching it if none is
	// running, once it has completed its readiness handshake. config is
	// passed to a newly launched pod; nil selects the configured one.
	Spawn(ctx context.Context, capability string, config map[string]string) (*Instance, error)

	// Kill terminates the pod for capability and waits for it to exit.
	// Requests in flight fail with ErrKilled. Killing a capability that
	// is not running is a no-op.
	Kill(ctx context.Context, capability string) error

	// Request sends action and payload to the pod for capability,
	// spawning it if necessary, and waits for the correlated response.
	Request(ctx context.Context, capability, action string, payload map[string]any) (*protocol.Response, error)

	// GetStatus returns a snapshot of every running pod.
	GetStatus() map[string]PodStatus

	// Status returns a snapshot of the pod for capability.
	Status(capability string) (PodStatus, error)

	// IsRunning reports whether a pod exists for capability.
	IsRunning(capability string) bool

	// Shutdown kills every pod and stops background maintenance.
	Shutdown(ctx context.Context) error
}

// LauncherFn starts the process for a pod.
type LauncherFn func(worker.StartConfig, *zap.Logger) (Process, error)

type Params struct {
	// Config is the config used to launch and manage pods.
	Config Config

	// Launcher starts pod processes. Defaults to worker.Start.
	Launcher LauncherFn

	// Registerer receives the supervisor's metrics. Defaults to the
	// global prometheus registry.
	Registerer prometheus.Registerer

	// Log is the logger to use for the supervisor
	Log *zap.Logger
}

// PodSupervisor owns the mapping from capability to pod. At most one pod
// exists per capability; a pod stays in the mapping until its process has
// exited, so a replacement is never started while the old one is alive.
type PodSupervisor struct {
	config   Config
	launcher LauncherFn
	gate     *spawnGate
	metrics  *metrics

	mu     sync.Mutex
	pods   map[string]*Instance
	closed bool

	stop chan struct{}
	bg   sync.WaitGroup

	log *zap.Logger
}

var _ Supervisor = (*PodSupervisor)(nil)

func New(params Params) (*PodSupervisor, error) {
	config := params.Config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	if params.Launcher == nil {
		params.Launcher = defaultLauncher
	}

	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}

	gate, err := newSpawnGate(config.MaxConcurrentSpawns)
	if err != nil {
		return nil, fmt.Errorf("failed to create spawn gate: %w", err)
	}

	return &PodSupervisor{
		config:   config,
		launcher: params.Launcher,
		gate:     gate,
		metrics:  newMetrics(params.Registerer),
		pods:     make(map[string]*Instance),
		stop:     make(chan struct{}),
		log:      log.Named("supervisor"),
	}, nil
}

func (s *PodSupervisor) Start(ctx context.Context) error {
	if s.config.IdleTimeout > 0 {
		s.bg.Add(1)
		go s.reap()
	}

	for _, capability := range s.config.Prewarm {
		s.bg.Add(1)
		go func(capability string) {
			defer s.bg.Done()
			s.prewarm(capability)
		}(capability)
	}

	return nil
}

func (s *PodSupervisor) Spawn(
	ctx context.Context,
	capability string,
	config map[string]string,
) (*Instance, error) {
	if capability == "" {
		return nil, ErrEmptyCapability
	}

	if config == nil {
		config = s.config.capability(capability).Config
	}

	for {
		inst, err := s.acquire(capability, config)
		if err != nil {
			return nil, err
		}

		// a pod on its way out keeps its slot until the process has
		// exited, wait for it before launching the replacement
		if state := inst.State(); state == StateTerminating || state.terminal() {
			select {
			case <-inst.Done():
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		return s.awaitReady(ctx, inst)
	}
}

func (s *PodSupervisor) Kill(ctx context.Context, capability string) error {
	s.mu.Lock()
	inst := s.pods[capability]
	s.mu.Unlock()

	if inst == nil {
		return nil
	}

	return s.terminate(ctx, inst)
}

func (s *PodSupervisor) Request(
	ctx context.Context,
	capability string,
	action string,
	payload map[string]any,
) (*protocol.Response, error) {
	actionLabel := s.metrics.actionLabel(capability, action, s.config.capability(capability).Actions)

	inst, err := s.Spawn(ctx, capability, nil)
	if err != nil {
		s.metrics.requests.WithLabelValues(capability, actionLabel, "spawn_error").Inc()
		return nil, err
	}

	req := protocol.Request{
		ID:      uuid.NewString(),
		Action:  action,
		Payload: payload,
	}

	log := inst.log.With(zap.String("id", req.ID), zap.String("action", action))
	log.Debug("sending request")

	start := time.Now()
	res, err := inst.send(ctx, req)
	s.metrics.duration.WithLabelValues(capability).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Debug("request failed", zap.Error(err))
		s.metrics.requests.WithLabelValues(capability, actionLabel, "error").Inc()
		return nil, err
	}

	status := "success"
	if !res.Success {
		status = "failure"
	}
	s.metrics.requests.WithLabelValues(capability, actionLabel, status).Inc()

	log.With(zap.Bool("success", res.Success), zap.Int64("durationMs", res.DurationMs)).Debug("received response")

	return res, nil
}

func (s *PodSupervisor) GetStatus() map[string]PodStatus {
	s.mu.Lock()
	pods := make([]*Instance, 0, len(s.pods))
	for _, inst := range s.pods {
		pods = append(pods, inst)
	}
	s.mu.Unlock()

	status := make(map[string]PodStatus, len(pods))
	for _, inst := range pods {
		status[inst.capability] = inst.Status()
	}

	return status
}

func (s *PodSupervisor) Status(capability string) (PodStatus, error) {
	s.mu.Lock()
	inst := s.pods[capability]
	s.mu.Unlock()

	if inst == nil {
		return PodStatus{}, fmt.Errorf("%w: %s", ErrNotRunning, capability)
	}

	return inst.Status(), nil
}

func (s *PodSupervisor) IsRunning(capability string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pods[capability]
	return ok
}

func (s *PodSupervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)

	pods := make([]*Instance, 0, len(s.pods))
	for _, inst := range s.pods {
		pods = append(pods, inst)
	}
	s.mu.Unlock()

	s.log.With(zap.Int("pods", len(pods))).Info("shutting down")

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range pods {
		inst := inst
		g.Go(func() error {
			return s.terminate(gctx, inst)
		})
	}

	err := g.Wait()

	s.bg.Wait()
	s.gate.close()

	return err
}

// MARK: - lifecycle

// acquire returns the pod registered for capability, registering and
// launching a new one if there is none.
func (s *PodSupervisor) acquire(capability string, config map[string]string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShutdown
	}

	if inst, ok := s.pods[capability]; ok {
		return inst, nil
	}

	inst := newInstance(capability, s.log.Named("pod"))
	s.pods[capability] = inst
	s.metrics.running.Set(float64(len(s.pods)))

	go s.launch(inst, config)

	return inst, nil
}

// launch starts the process for inst, then its line reader and watcher.
func (s *PodSupervisor) launch(inst *Instance, config map[string]string) {
	release, err := s.gate.acquire(inst.ctx)
	if err != nil {
		s.abort(inst, fmt.Errorf("%w: %w", ErrSpawnFailed, err))
		return
	}

	// the token is held while the pod loads its model
	go func() {
		select {
		case <-inst.Ready():
		case <-inst.Done():
		}
		release()
	}()

	startConfig, err := s.startConfig(inst.capability, config)
	if err != nil {
		s.abort(inst, fmt.Errorf("%w: %w", ErrSpawnFailed, err))
		return
	}

	proc, err := s.launcher(startConfig, inst.log)
	if err != nil {
		inst.log.Error("failed to launch pod", zap.Error(err))
		s.abort(inst, fmt.Errorf("%w: %w", ErrSpawnFailed, err))
		return
	}

	attached := inst.attach(proc)

	inbox := make(chan protocol.Message, inboxSize)
	reader := newLineReader(inst.capability, s.config.MaxLineBytes, s.metrics, inst.log)

	go reader.run(inst.ctx, proc.Stdout(), inbox)
	go inst.dispatch(inbox, s.metrics)
	go s.watch(inst, proc)

	if !attached {
		// killed while launching
		go proc.Stop(context.Background(), s.config.StopTimeout)
		return
	}

	inst.log.With(zap.Int("pid", proc.Pid())).Info("pod launched")
}

// abort tears down a pod whose process never started.
func (s *PodSupervisor) abort(inst *Instance, err error) {
	state := inst.finish(err)
	if state == StateCrashed {
		s.metrics.spawns.WithLabelValues(inst.capability, "failed").Inc()
	}

	s.remove(inst)
	inst.closeDone()
}

// watch waits for the process to exit, then fails whatever is still
// pending and releases the capability.
func (s *PodSupervisor) watch(inst *Instance, proc Process) {
	<-proc.Done()

	// let the reader deliver what the pod wrote before exiting
	select {
	case <-inst.readerDone:
	case <-time.After(readerGrace):
		proc.Stdout().Close()
		<-inst.readerDone
	}
	proc.Stdout().Close()

	exit := proc.Exit()
	exitErr := &ExitError{
		Capability: inst.capability,
		Code:       exit.ExitCode(),
		Stderr:     exit.Stderr,
	}
	if exit.Signal != nil {
		exitErr.Signal = *exit.Signal
	}

	log := inst.log.With(zap.Int("code", exitErr.Code), zap.Int("signal", exitErr.Signal))

	switch inst.finish(exitErr) {
	case StateTerminated:
		log.Info("pod terminated")
		s.metrics.kills.WithLabelValues(inst.capability).Inc()
	case StateCrashed:
		log.With(zap.String("stderr", exit.Stderr)).Warn("pod exited unexpectedly")
		s.metrics.crashes.WithLabelValues(inst.capability).Inc()

		ready := true
		select {
		case <-inst.Ready():
		default:
			ready = false
			s.metrics.spawns.WithLabelValues(inst.capability, "exited").Inc()
		}

		reportCrash(exitErr, ready)
	}

	s.metrics.memory.DeleteLabelValues(inst.capability)
	s.remove(inst)
	inst.closeDone()
}

// awaitReady blocks until inst is ready, has terminated, or its readiness
// window elapsed.
func (s *PodSupervisor) awaitReady(ctx context.Context, inst *Instance) (*Instance, error) {
	timeout := s.config.readyTimeout(inst.capability)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-inst.Ready():
		return inst, nil
	case <-inst.Done():
		return nil, inst.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	// readiness or exit may have raced the timer
	select {
	case <-inst.Ready():
		return inst, nil
	default:
	}

	if inst.exited() {
		<-inst.Done()
		return nil, inst.Err()
	}

	s.metrics.spawns.WithLabelValues(inst.capability, "timeout").Inc()

	log := inst.log.With(
		zap.Duration("timeout", timeout),
		zap.String("policy", string(s.config.ReadyTimeoutPolicy)),
	)

	if s.config.ReadyTimeoutPolicy == KillOnReadyTimeout {
		log.Warn("pod not ready in time, killing")
		if err := s.terminate(ctx, inst); err != nil {
			log.Error("failed to kill pod", zap.Error(err))
		}
	} else {
		log.Warn("pod not ready in time, leaving it loading")
	}

	return nil, fmt.Errorf("%w: %s not ready after %s", ErrTimeout, inst.capability, timeout)
}

// terminate kills inst and waits until it is gone.
func (s *PodSupervisor) terminate(ctx context.Context, inst *Instance) error {
	if proc, ok := inst.beginTermination(); ok {
		s.stopPod(inst, proc)
	}

	return awaitDone(ctx, inst)
}

// stopPod stops the process of a pod that began terminating. The process
// is stopped even if the caller stops waiting for it.
func (s *PodSupervisor) stopPod(inst *Instance, proc Process) {
	inst.log.Info("killing pod")

	if proc != nil {
		go proc.Stop(context.Background(), s.config.StopTimeout)
	}
}

func awaitDone(ctx context.Context, inst *Instance) error {
	select {
	case <-inst.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// remove drops inst from the mapping if it is still the registered pod.
func (s *PodSupervisor) remove(inst *Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pods[inst.capability] == inst {
		delete(s.pods, inst.capability)
	}

	s.metrics.running.Set(float64(len(s.pods)))
}

func (s *PodSupervisor) startConfig(capability string, config map[string]string) (worker.StartConfig, error) {
	if config == nil {
		config = map[string]string{}
	}

	encoded, err := json.Marshal(config)
	if err != nil {
		return worker.StartConfig{}, err
	}

	start := s.config.Start

	args := make([]string, 0, len(start.Args)+2)
	args = append(args, start.Args...)
	args = append(args, capability, string(encoded))
	start.Args = args

	return start, nil
}

func (s *PodSupervisor) prewarm(capability string) {
	log := s.log.With(zap.String("capability", capability))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := s.Spawn(ctx, capability, nil); err != nil {
		log.Warn("prewarm failed", zap.Error(err))
		return
	}

	log.Info("prewarmed")
}

func defaultLauncher(config worker.StartConfig, log *zap.Logger) (Process, error) {
	return worker.Start(config, log)
}
