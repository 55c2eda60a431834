package supervisor

import "time"

// ReapIdle runs a single idle reaping pass.
func (s *PodSupervisor) ReapIdle(now time.Time) []string {
	return s.reapIdle(now)
}
