package supervisor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arach/talkie-sub016/internal/pod/supervisor"
	"github.com/arach/talkie-sub016/internal/pod/worker"
	"github.com/arach/talkie-sub016/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testSupervisor struct {
	*supervisor.PodSupervisor

	reg      *prometheus.Registry
	launches atomic.Int32
}

func newTestSupervisor(t *testing.T, opts ...func(*supervisor.Config)) *testSupervisor {
	t.Helper()

	config := supervisor.Config{
		Start: supervisor.StartConfig{
			Cmd: os.Args[0],
			Env: map[string]string{fakePodEnv: "1"},
		},
		ReadyTimeout: 10 * time.Second,
		StopTimeout:  2 * time.Second,
	}

	for _, opt := range opts {
		opt(&config)
	}

	ts := &testSupervisor{reg: prometheus.NewRegistry()}

	s, err := supervisor.New(supervisor.Params{
		Config: config,
		Launcher: func(config worker.StartConfig, log *zap.Logger) (supervisor.Process, error) {
			ts.launches.Add(1)
			return worker.Start(config, log)
		},
		Registerer: ts.reg,
		Log:        zap.NewNop(),
	})
	require.NoError(t, err)

	ts.PodSupervisor = s

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		assert.NoError(t, s.Shutdown(ctx))
	})

	return ts
}

func (ts *testSupervisor) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := ts.reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}

	metrics:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metrics
				}
			}

			return m.GetCounter().GetValue()
		}
	}

	return 0
}

// MARK: - spawn

func TestSupervisor_Spawn_ReturnsReadyPod(t *testing.T) {
	s := newTestSupervisor(t)

	inst, err := s.Spawn(context.Background(), "echo", nil)
	require.NoError(t, err)

	assert.Equal(t, "echo", inst.Capability())
	assert.Equal(t, supervisor.StateReady, inst.State())
	assert.True(t, util.IsProcessAlive(inst.Pid()))
	assert.True(t, s.IsRunning("echo"))
}

func TestSupervisor_Spawn_IsIdempotent(t *testing.T) {
	s := newTestSupervisor(t)

	first, err := s.Spawn(context.Background(), "echo", nil)
	require.NoError(t, err)

	second, err := s.Spawn(context.Background(), "echo", nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, first.Pid(), second.Pid())
	assert.Equal(t, int32(1), s.launches.Load())

	require.Eventually(t, func() bool {
		return s.counter(t, "podd_pod_spawns_total", map[string]string{
			"capability": "echo",
			"outcome":    "ready",
		}) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_Spawn_ConcurrentCallersShareOnePod(t *testing.T) {
	s := newTestSupervisor(t)

	const callers = 8

	var wg sync.WaitGroup
	pids := make([]int, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			inst, err := s.Spawn(context.Background(), "slow", nil)
			errs[i] = err
			if err == nil {
				pids[i] = inst.Pid()
			}
		}(i)
	}

	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, pids[0], pids[i])
	}

	assert.Equal(t, int32(1), s.launches.Load())
}

func TestSupervisor_Spawn_ReturnsErrorIfCapabilityEmpty(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Spawn(context.Background(), "", nil)

	assert.ErrorIs(t, err, supervisor.ErrEmptyCapability)
}

func TestSupervisor_Spawn_ReturnsSpawnFailedIfCommandMissing(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.Start.Cmd = "/does/not/exist"
	})

	_, err := s.Spawn(context.Background(), "echo", nil)

	assert.ErrorIs(t, err, supervisor.ErrSpawnFailed)
	assert.False(t, s.IsRunning("echo"))
}

func TestSupervisor_Spawn_ReturnsSpawnFailedIfLauncherFails(t *testing.T) {
	s, err := supervisor.New(supervisor.Params{
		Config: supervisor.Config{Start: supervisor.StartConfig{Cmd: "pod"}},
		Launcher: func(worker.StartConfig, *zap.Logger) (supervisor.Process, error) {
			return nil, errors.New("no such model")
		},
		Registerer: prometheus.NewRegistry(),
		Log:        zap.NewNop(),
	})
	require.NoError(t, err)

	_, err = s.Spawn(context.Background(), "echo", nil)

	assert.ErrorIs(t, err, supervisor.ErrSpawnFailed)
	assert.ErrorContains(t, err, "no such model")
	assert.False(t, s.IsRunning("echo"))
}

func TestSupervisor_Spawn_ReturnsExitErrorIfPodExitsBeforeReady(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Spawn(context.Background(), "crash", nil)
	require.ErrorIs(t, err, supervisor.ErrProcessExited)

	var exitErr *supervisor.ExitError
	require.ErrorAs(t, err, &exitErr)

	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "failed to load model")
	assert.False(t, s.IsRunning("crash"))
}

func TestSupervisor_Spawn_ReadyTimeoutKillsPod(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.ReadyTimeout = 200 * time.Millisecond
	})

	start := time.Now()
	_, err := s.Spawn(context.Background(), "never", nil)

	require.ErrorIs(t, err, supervisor.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.False(t, s.IsRunning("never"))
}

func TestSupervisor_Spawn_ReadyTimeoutKeepsPodLoading(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.ReadyTimeoutPolicy = supervisor.KeepOnReadyTimeout
		c.Capabilities = map[string]supervisor.CapabilityConfig{
			"slow": {ReadyTimeout: 50 * time.Millisecond},
		}
	})

	_, err := s.Spawn(context.Background(), "slow", nil)
	require.ErrorIs(t, err, supervisor.ErrTimeout)
	require.True(t, s.IsRunning("slow"))

	status, err := s.Status("slow")
	require.NoError(t, err)
	assert.False(t, status.Loaded)

	var inst *supervisor.Instance
	require.Eventually(t, func() bool {
		inst, err = s.Spawn(context.Background(), "slow", nil)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, status.Pid, inst.Pid())
	assert.Equal(t, int32(1), s.launches.Load())
}

func TestSupervisor_Spawn_ContextCancelled(t *testing.T) {
	s := newTestSupervisor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Spawn(ctx, "never", nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSupervisor_Spawn_LimitsConcurrentLoads(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.MaxConcurrentSpawns = 1
	})

	start := time.Now()

	var wg sync.WaitGroup
	for _, capability := range []string{"slow.a", "slow.b"} {
		wg.Add(1)
		go func(capability string) {
			defer wg.Done()

			_, err := s.Spawn(context.Background(), capability, nil)
			assert.NoError(t, err)
		}(capability)
	}

	wg.Wait()

	// each pod takes 300ms to load, one at a time
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

// MARK: - request

func TestSupervisor_Request_RoundTrip(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.Capabilities = map[string]supervisor.CapabilityConfig{
			"echo": {Config: map[string]string{"model": "tiny"}},
		}
	})

	res, err := s.Request(context.Background(), "echo", "transcribe", map[string]any{"path": "/tmp/a.wav"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NoError(t, res.Err())
	assert.Equal(t, "transcribe", res.Result["action"])
	assert.Equal(t, map[string]any{"path": "/tmp/a.wav"}, res.Result["payload"])
	assert.Equal(t, map[string]any{"model": "tiny"}, res.Result["config"])
	assert.Equal(t, int64(1), res.DurationMs)
}

func TestSupervisor_Request_ReturnsFailedResponse(t *testing.T) {
	s := newTestSupervisor(t)

	res, err := s.Request(context.Background(), "echo", "fail", nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)
	assert.ErrorContains(t, res.Err(), "boom")

	// a failed response leaves the pod running
	assert.True(t, s.IsRunning("echo"))
}

func TestSupervisor_Request_CorrelatesOutOfOrderResponses(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Spawn(context.Background(), "reverse", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for n := 0; n < 3; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			res, err := s.Request(context.Background(), "reverse", "echo", map[string]any{"n": n})
			if !assert.NoError(t, err) {
				return
			}

			payload := res.Result["payload"].(map[string]any)
			assert.Equal(t, float64(n), payload["n"])
		}(n)
	}

	wg.Wait()
}

func TestSupervisor_Request_ContextCancelRemovesPending(t *testing.T) {
	s := newTestSupervisor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.Request(ctx, "hang", "echo", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	status, err := s.Status("hang")
	require.NoError(t, err)

	assert.Zero(t, status.Pending)
	assert.True(t, status.Loaded)
}

func TestSupervisor_Request_ContextBoundsBlockedWrite(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Spawn(context.Background(), "deaf", nil)
	require.NoError(t, err)

	// larger than any pipe buffer
	payload := map[string]any{"blob": strings.Repeat("x", 1<<20)}

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)

		start := time.Now()
		_, err := s.Request(ctx, "deaf", "echo", payload)
		cancel()

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	}

	status, err := s.Status("deaf")
	require.NoError(t, err)

	assert.Zero(t, status.Pending)

	require.NoError(t, s.Kill(context.Background(), "deaf"))
	assert.False(t, s.IsRunning("deaf"))
}

func TestSupervisor_Request_BoundsActionLabel(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.Capabilities = map[string]supervisor.CapabilityConfig{
			"echo": {Actions: []string{"transcribe"}},
		}
	})

	for _, action := range []string{"transcribe", "made-up-1", "made-up-2"} {
		_, err := s.Request(context.Background(), "echo", action, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, float64(1), s.counter(t, "podd_pod_requests_total", map[string]string{
		"capability": "echo",
		"action":     "transcribe",
		"status":     "success",
	}))
	assert.Equal(t, float64(2), s.counter(t, "podd_pod_requests_total", map[string]string{
		"capability": "echo",
		"action":     "other",
		"status":     "success",
	}))
}

func TestSupervisor_Request_FailsIfPodExitsMidRequest(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Request(context.Background(), "crash-after", "echo", nil)
	require.ErrorIs(t, err, supervisor.ErrProcessExited)

	var exitErr *supervisor.ExitError
	require.ErrorAs(t, err, &exitErr)

	assert.Equal(t, 7, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "segfault")

	require.Eventually(t, func() bool {
		return !s.IsRunning("crash-after")
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(1), s.counter(t, "podd_pod_crashes_total", map[string]string{
		"capability": "crash-after",
	}))
}

func TestSupervisor_Request_IgnoresNoise(t *testing.T) {
	s := newTestSupervisor(t)

	res, err := s.Request(context.Background(), "noisy", "echo", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	status, err := s.Status("noisy")
	require.NoError(t, err)
	assert.Equal(t, 512, status.MemoryMB)

	for _, reason := range []string{"malformed", "unknown_control", "unknown_id"} {
		assert.Equal(t, float64(1), s.counter(t, "podd_pod_dropped_lines_total", map[string]string{
			"capability": "noisy",
			"reason":     reason,
		}), reason)
	}
}

func TestSupervisor_Request_ConcurrentRequests(t *testing.T) {
	s := newTestSupervisor(t)

	const requests = 20

	var wg sync.WaitGroup
	for n := 0; n < requests; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			res, err := s.Request(context.Background(), "echo", "sleep", map[string]any{
				"ms": float64(requests - n),
				"n":  fmt.Sprint(n),
			})
			if !assert.NoError(t, err) {
				return
			}

			payload := res.Result["payload"].(map[string]any)
			assert.Equal(t, fmt.Sprint(n), payload["n"])
		}(n)
	}

	wg.Wait()

	status, err := s.Status("echo")
	require.NoError(t, err)

	assert.Equal(t, requests, status.RequestsHandled)
	assert.Equal(t, int32(1), s.launches.Load())
}

// MARK: - kill

func TestSupervisor_Kill_FailsPendingRequests(t *testing.T) {
	s := newTestSupervisor(t)

	inst, err := s.Spawn(context.Background(), "hang", nil)
	require.NoError(t, err)

	pid := inst.Pid()

	errs := make(chan error, 3)
	for n := 0; n < 3; n++ {
		go func() {
			_, err := s.Request(context.Background(), "hang", "echo", nil)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		status, err := s.Status("hang")
		return err == nil && status.Pending == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Kill(context.Background(), "hang"))

	for n := 0; n < 3; n++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, supervisor.ErrKilled)
		case <-time.After(2 * time.Second):
			t.Fatal("pending request was not failed")
		}
	}

	assert.False(t, s.IsRunning("hang"))
	assert.False(t, util.IsProcessAlive(pid))
	assert.ErrorIs(t, inst.Err(), supervisor.ErrKilled)
	assert.Equal(t, supervisor.StateTerminated, inst.State())

	// the next spawn starts a fresh process
	next, err := s.Spawn(context.Background(), "hang", nil)
	require.NoError(t, err)

	assert.NotSame(t, inst, next)
	assert.NotEqual(t, pid, next.Pid())
}

func TestSupervisor_Kill_IsNoopIfNotRunning(t *testing.T) {
	s := newTestSupervisor(t)

	assert.NoError(t, s.Kill(context.Background(), "echo"))
}

func TestSupervisor_Kill_EscalatesIfPodIgnoresTerm(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.StopTimeout = 200 * time.Millisecond
	})

	inst, err := s.Spawn(context.Background(), "stubborn", nil)
	require.NoError(t, err)

	pid := inst.Pid()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Kill(ctx, "stubborn"))

	assert.False(t, util.IsProcessAlive(pid))
	assert.False(t, s.IsRunning("stubborn"))
}

func TestSupervisor_Kill_WhileLoading(t *testing.T) {
	s := newTestSupervisor(t)

	spawned := make(chan error, 1)
	go func() {
		_, err := s.Spawn(context.Background(), "never", nil)
		spawned <- err
	}()

	require.Eventually(t, func() bool {
		status, err := s.Status("never")
		return err == nil && status.Pid != 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Kill(context.Background(), "never"))

	select {
	case err := <-spawned:
		assert.ErrorIs(t, err, supervisor.ErrKilled)
	case <-time.After(2 * time.Second):
		t.Fatal("spawn did not return")
	}

	assert.False(t, s.IsRunning("never"))
}

// MARK: - status

func TestSupervisor_Status(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Status("echo")
	assert.ErrorIs(t, err, supervisor.ErrNotRunning)

	for n := 0; n < 2; n++ {
		_, err := s.Request(context.Background(), "echo", "echo", nil)
		require.NoError(t, err)
	}

	status, err := s.Status("echo")
	require.NoError(t, err)

	assert.Equal(t, "echo", status.Capability)
	assert.True(t, status.Loaded)
	assert.Equal(t, 42, status.MemoryMB)
	assert.Equal(t, 2, status.RequestsHandled)
	assert.Equal(t, "ready", status.State)
	assert.NotZero(t, status.Pid)
	assert.False(t, status.LastUsed.Before(status.StartedAt))

	all := s.GetStatus()
	require.Len(t, all, 1)
	assert.Equal(t, status.Pid, all["echo"].Pid)
}

// MARK: - maintenance

func TestSupervisor_ReapIdle(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.IdleTimeout = time.Minute
	})

	_, err := s.Spawn(context.Background(), "echo", nil)
	require.NoError(t, err)

	assert.Empty(t, s.ReapIdle(time.Now()))
	assert.True(t, s.IsRunning("echo"))

	assert.Equal(t, []string{"echo"}, s.ReapIdle(time.Now().Add(2*time.Minute)))
	assert.False(t, s.IsRunning("echo"))
}

func TestSupervisor_ReapIdle_SkipsBusyPods(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.IdleTimeout = time.Minute
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Request(ctx, "hang", "echo", nil)

	require.Eventually(t, func() bool {
		status, err := s.Status("hang")
		return err == nil && status.Pending == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, s.ReapIdle(time.Now().Add(2*time.Minute)))
	assert.True(t, s.IsRunning("hang"))
}

func TestSupervisor_Start_Prewarms(t *testing.T) {
	s := newTestSupervisor(t, func(c *supervisor.Config) {
		c.Prewarm = []string{"echo"}
	})

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		status, err := s.Status("echo")
		return err == nil && status.Loaded
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSupervisor_Shutdown_KillsAllPods(t *testing.T) {
	s := newTestSupervisor(t)

	var pids []int
	for _, capability := range []string{"echo", "hang"} {
		inst, err := s.Spawn(context.Background(), capability, nil)
		require.NoError(t, err)
		pids = append(pids, inst.Pid())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Shutdown(ctx))

	assert.Empty(t, s.GetStatus())
	for _, pid := range pids {
		assert.False(t, util.IsProcessAlive(pid))
	}

	_, err := s.Spawn(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, supervisor.ErrShutdown)
}

func TestNew_ReturnsErrorIfPolicyInvalid(t *testing.T) {
	_, err := supervisor.New(supervisor.Params{
		Config: supervisor.Config{ReadyTimeoutPolicy: "retry"},
	})

	assert.ErrorIs(t, err, supervisor.ErrInvalidPolicy)
}
