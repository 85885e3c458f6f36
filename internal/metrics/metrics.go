package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	taskLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ray_operator",
			Subsystem: "supervisor",
			Name:      "launches_total",
			Help:      "Number of supervised autoscaling tasks launched.",
		}, []string{"namespace", "name"},
	)
	taskExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ray_operator",
			Subsystem: "supervisor",
			Name:      "exits_total",
			Help:      "Number of supervised task exits by result (stopped, failed, completed).",
		}, []string{"namespace", "name", "result"},
	)
	liveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ray_operator",
			Subsystem: "supervisor",
			Name:      "live_tasks",
			Help:      "Supervised tasks currently running.",
		},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ray_operator",
			Subsystem: "supervisor",
			Name:      "failures_total",
			Help:      "Autoscaling failures by stage (head, monitor).",
		}, []string{"stage"},
	)
	stopWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ray_operator",
			Subsystem: "supervisor",
			Name:      "stop_wait_seconds",
			Help:      "Time spent waiting for a supervised task to exit after cancellation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	statusWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ray_operator",
			Subsystem: "status",
			Name:      "writes_total",
			Help:      "Status phase writes by phase and result.",
		}, []string{"phase", "result"},
	)
	statusQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ray_operator",
			Subsystem: "status",
			Name:      "queue_depth",
			Help:      "Status updates waiting to be written.",
		},
	)

	registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ray_operator",
			Subsystem: "registry",
			Name:      "clusters",
			Help:      "Clusters currently tracked by the operator.",
		},
	)

	handlerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ray_operator",
			Subsystem: "handler",
			Name:      "calls_total",
			Help:      "Reconciliation handler invocations by event and result.",
		}, []string{"event", "result"},
	)
	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ray_operator",
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Reconciliation handler duration by event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		taskLaunches, taskExits, liveTasks, launchFailures, stopWait,
		statusWrites, statusQueueDepth, registrySize, handlerCalls, handlerDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(namespace, name string) {
	if regOK.Load() {
		taskLaunches.WithLabelValues(namespace, name).Inc()
		liveTasks.Inc()
	}
}

func IncExit(namespace, name, result string) {
	if regOK.Load() {
		taskExits.WithLabelValues(namespace, name, result).Inc()
		liveTasks.Dec()
	}
}

func IncFailure(stage string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(stage).Inc()
	}
}

func ObserveStopWait(seconds float64) {
	if regOK.Load() {
		stopWait.Observe(seconds)
	}
}

func IncStatusWrite(phase, result string) {
	if regOK.Load() {
		statusWrites.WithLabelValues(phase, result).Inc()
	}
}

func SetStatusQueueDepth(n int) {
	if regOK.Load() {
		statusQueueDepth.Set(float64(n))
	}
}

func SetRegistrySize(n int) {
	if regOK.Load() {
		registrySize.Set(float64(n))
	}
}

func ObserveHandler(event, result string, seconds float64) {
	if regOK.Load() {
		handlerCalls.WithLabelValues(event, result).Inc()
		handlerDuration.WithLabelValues(event).Observe(seconds)
	}
}
