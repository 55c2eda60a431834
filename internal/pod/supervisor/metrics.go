package supervisor

import (
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "podd"

const (
	// maxActionLabels bounds the distinct action labels kept per
	// capability that has no configured action list.
	maxActionLabels = 16

	otherAction = "other"
)

type metrics struct {
	spawns   *prometheus.CounterVec
	kills    *prometheus.CounterVec
	crashes  *prometheus.CounterVec
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	memory   *prometheus.GaugeVec
	running  prometheus.Gauge
	dropped  *prometheus.CounterVec

	actionsMu sync.Mutex
	actions   map[string]map[string]struct{}
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &metrics{
		actions: make(map[string]map[string]struct{}),
		spawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pod",
				Name:      "spawns_total",
				Help:      "Pod spawns by capability and outcome",
			},
			[]string{"capability", "outcome"},
		),
		kills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pod",
				Name:      "kills_total",
				Help:      "Pods killed by the supervisor",
			},
			[]string{"capability"},
		),
		crashes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pod",
				Name:      "crashes_total",
				Help:      "Pods that exited without being killed",
			},
			[]string{"capability"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pod",
				Name:      "requests_total",
				Help:      "Pod requests by capability, action and status",
			},
			[]string{"capability", "action", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "pod",
				Name:      "request_duration_seconds",
				Help:      "Round trip time of pod requests",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"capability"},
		),
		memory: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "pod",
				Name:      "memory_mb",
				Help:      "Memory footprint reported by the pod",
			},
			[]string{"capability"},
		),
		running: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pods_running",
				Help:      "Pods currently owned by the supervisor",
			},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pod",
				Name:      "dropped_lines_total",
				Help:      "Pod output lines that were not dispatched",
			},
			[]string{"capability", "reason"},
		),
	}
}

// actionLabel returns the action label for a request. Actions come from
// callers, so their values are bounded: a capability with configured
// actions reports every other action as "other", one without reports the
// first maxActionLabels actions seen and "other" after that.
func (m *metrics) actionLabel(capability, action string, allowed []string) string {
	if len(allowed) > 0 {
		if slices.Contains(allowed, action) {
			return action
		}
		return otherAction
	}

	m.actionsMu.Lock()
	defer m.actionsMu.Unlock()

	seen, ok := m.actions[capability]
	if !ok {
		seen = make(map[string]struct{})
		m.actions[capability] = seen
	}

	if _, ok := seen[action]; ok {
		return action
	}

	if len(seen) >= maxActionLabels {
		return otherAction
	}

	seen[action] = struct{}{}

	return action
}
