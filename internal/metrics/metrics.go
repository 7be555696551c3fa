// Package metrics exposes quill's Prometheus instrumentation.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional metrics handle without nil checks at every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quill"

// Task outcome labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusTimeout = "timeout"
)

// Metrics holds the collectors for the build and reload pipeline.
type Metrics struct {
	registry prometheus.Gatherer

	tasksTotal         *prometheus.CounterVec
	batchDuration      prometheus.Histogram
	cacheInvalidations prometheus.Counter
	changesDetected    prometheus.Counter
	reloadsSent        *prometheus.CounterVec
	reloadsDropped     *prometheus.CounterVec
	buildFailures      prometheus.Counter
	connections        prometheus.Gauge
	sendFailures       prometheus.Counter
}

// New registers the collectors on reg. When reg is nil a private registry is
// created.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Build tasks executed, by task type and outcome",
		}, []string{"type", "status"}),

		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one task batch",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),

		cacheInvalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "File records dropped from the dependency cache",
		}),

		changesDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "changes_total",
			Help:      "Changed paths reported by the change detector",
		}),

		reloadsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "notifications_total",
			Help:      "Reload notifications delivered, by message type",
		}, []string{"type"}),

		reloadsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "dropped_total",
			Help:      "Changes dropped before notification, by reason",
		}, []string{"reason"}),

		buildFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "build_failures_total",
			Help:      "Full rebuilds triggered by a change that failed",
		}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connections",
			Help:      "Live reload client connections",
		}),

		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "send_failures_total",
			Help:      "Broadcast sends that failed and pruned a connection",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTask counts one finished task.
func (m *Metrics) ObserveTask(taskType, status string) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(taskType, status).Inc()
}

// ObserveBatch records the wall time of one batch.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

// AddInvalidations counts dropped cache records.
func (m *Metrics) AddInvalidations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheInvalidations.Add(float64(n))
}

// AddChanges counts paths reported by one poll cycle.
func (m *Metrics) AddChanges(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.changesDetected.Add(float64(n))
}

// ReloadSent counts a delivered notification.
func (m *Metrics) ReloadSent(messageType string) {
	if m == nil {
		return
	}
	m.reloadsSent.WithLabelValues(messageType).Inc()
}

// ReloadDropped counts a change that produced no notification.
func (m *Metrics) ReloadDropped(reason string) {
	if m == nil {
		return
	}
	m.reloadsDropped.WithLabelValues(reason).Inc()
}

// BuildFailed counts a failed change-triggered rebuild.
func (m *Metrics) BuildFailed() {
	if m == nil {
		return
	}
	m.buildFailures.Inc()
}

// SetConnections reports the live connection count.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// SendFailed counts a failed broadcast send.
func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}
