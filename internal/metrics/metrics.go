// Package metrics exports scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/quiver/pkg/model"
	"github.com/me/quiver/pkg/scheduler"
)

const (
	namespace = "quiver"
	subsystem = "scheduler"

	stateLabel  = "state"
	reasonLabel = "reason"
)

// Metrics implements scheduler.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	submitted  prometheus.Counter
	launched   prometheus.Counter
	declined   prometheus.Counter
	launchFail prometheus.Counter
	terminated *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	pending    prometheus.Gauge
}

var _ scheduler.Observer = (*Metrics)(nil)

// New creates the scheduler metrics and registers them, along with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "tasks_submitted_total",
			Help: "Tasks accepted by Submit.",
		}),
		launched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "tasks_launched_total",
			Help: "Tasks sent to the resource manager.",
		}),
		declined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "offers_declined_total",
			Help: "Offers declined because no pending task fit.",
		}),
		launchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "launch_failures_total",
			Help: "Launch calls the driver rejected.",
		}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "tasks_terminated_total",
			Help: "Tasks that reached a terminal state.",
		}, []string{stateLabel}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "status_updates_dropped_total",
			Help: "Status updates ignored by the scheduler.",
		}, []string{reasonLabel}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "tasks_pending",
			Help: "Tasks waiting for an offer.",
		}),
	}
	m.registry.MustRegister(
		m.submitted, m.launched, m.declined, m.launchFail,
		m.terminated, m.dropped, m.pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskSubmitted()      { m.submitted.Inc() }
func (m *Metrics) TasksLaunched(n int) { m.launched.Add(float64(n)) }
func (m *Metrics) OfferDeclined()      { m.declined.Inc() }
func (m *Metrics) LaunchFailed()       { m.launchFail.Inc() }
func (m *Metrics) PendingTasks(n int)  { m.pending.Set(float64(n)) }

func (m *Metrics) TaskTerminated(state model.TaskState) {
	m.terminated.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) UpdateDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}
