package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// reapMargin is added to the stop timeout when waiting for a reaped pod to
// be gone.
const reapMargin = 5 * time.Second

// reap periodically kills pods that sat idle for longer than IdleTimeout.
func (s *PodSupervisor) reap() {
	defer s.bg.Done()

	ticker := time.NewTicker(s.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.reapIdle(now)
		}
	}
}

// reapIdle kills every ready pod without pending requests whose last use
// is older than IdleTimeout. It returns the capabilities it killed.
func (s *PodSupervisor) reapIdle(now time.Time) []string {
	s.mu.Lock()
	candidates := make([]*Instance, 0, len(s.pods))
	for _, inst := range s.pods {
		candidates = append(candidates, inst)
	}
	s.mu.Unlock()

	var reaped []string

	for _, inst := range candidates {
		proc, idle, ok := inst.beginTerminationIfIdle(now, s.config.IdleTimeout)
		if !ok {
			continue
		}

		inst.log.With(zap.Duration("idle", idle)).Info("reaping idle pod")
		s.stopPod(inst, proc)

		ctx, cancel := context.WithTimeout(context.Background(), s.config.StopTimeout+reapMargin)
		err := awaitDone(ctx, inst)
		cancel()

		if err != nil {
			inst.log.Warn("failed to reap idle pod", zap.Error(err))
			continue
		}

		reaped = append(reaped, inst.capability)
	}

	return reaped
}
