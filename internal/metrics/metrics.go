package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agvsim",
			Subsystem: "robot",
			Name:      "ticks_total",
			Help:      "Simulation ticks per robot.",
		},
		[]string{"robot"},
	)
	panics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agvsim",
			Subsystem: "robot",
			Name:      "recovered_panics_total",
			Help:      "Panics recovered inside a robot loop.",
		},
		[]string{"robot"},
	)
	publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agvsim",
			Subsystem: "mqtt",
			Name:      "publishes_total",
			Help:      "Outbound messages by channel and result.",
		},
		[]string{"channel", "success"},
	)
	inbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agvsim",
			Subsystem: "mqtt",
			Name:      "inbound_total",
			Help:      "Inbound messages by channel and result.",
		},
		[]string{"channel", "result"},
	)
	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agvsim",
			Subsystem: "registry",
			Name:      "reconciliations_total",
			Help:      "Registry reconciliation passes.",
		},
		[]string{"success"},
	)
	managedRobots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agvsim",
			Subsystem: "instance",
			Name:      "managed_robots",
			Help:      "Robots currently owned by the supervisor.",
		},
	)
	deadRobots = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agvsim",
			Subsystem: "instance",
			Name:      "dead_robots_total",
			Help:      "Dead robots found by the liveness monitor.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ticks, panics, publishes, inbound, reconciliations, managedRobots, deadRobots)
	})
}

func RecordTick(robot string) {
	RegisterMetrics()
	ticks.WithLabelValues(robot).Inc()
}

func RecordPanic(robot string) {
	RegisterMetrics()
	panics.WithLabelValues(robot).Inc()
}

func RecordPublish(channel string, success bool) {
	RegisterMetrics()
	publishes.WithLabelValues(channel, boolLabel(success)).Inc()
}

// RecordInbound counts an inbound message. result is "accepted", "malformed"
// or "rejected".
func RecordInbound(channel, result string) {
	RegisterMetrics()
	inbound.WithLabelValues(channel, result).Inc()
}

func RecordReconciliation(success bool) {
	RegisterMetrics()
	reconciliations.WithLabelValues(boolLabel(success)).Inc()
}

func SetManagedRobots(n int) {
	RegisterMetrics()
	managedRobots.Set(float64(n))
}

func RecordDeadRobot() {
	RegisterMetrics()
	deadRobots.Inc()
}

// ForgetRobot drops the per-robot series of a removed robot.
func ForgetRobot(robot string) {
	ticks.DeleteLabelValues(robot)
	panics.DeleteLabelValues(robot)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
