// Package metrics holds the prometheus collectors of the alert pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "envsense"

// Metrics bundles every collector. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	ReadingsIngested  *prometheus.CounterVec
	RulesEvaluated    prometheus.Counter
	AlertsTriggered   *prometheus.CounterVec
	AlertsSuppressed  *prometheus.CounterVec
	AlertsResolved    *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
	TasksProcessed    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	RecordsPurged     prometheus.Counter
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg. A nil reg gets a fresh
// private registry with the Go and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		ReadingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Total number of sensor readings received",
		}, []string{"source", "status"}), // status: accepted, rejected
		RulesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_evaluated_total",
			Help:      "Total number of rule evaluations against readings",
		}),
		AlertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Total number of alert records created",
		}, []string{"severity"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Total number of triggers that did not create a record",
		}, []string{"reason"}), // reason: pending, cooldown
		AlertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_closed_total",
			Help:      "Total number of alert records moved to a terminal status",
		}, []string{"status"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notification delivery attempts",
		}, []string{"channel", "status"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_delivery_duration_seconds",
			Help:      "Time taken to deliver one notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_processed_total",
			Help:      "Total number of queue tasks handled",
		}, []string{"type", "status"}), // status: ok, failed, panic
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of tasks waiting in the in-process queue",
		}),
		RecordsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_records_purged_total",
			Help:      "Total number of closed alert records removed by retention",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.ReadingsIngested, m.RulesEvaluated, m.AlertsTriggered, m.AlertsSuppressed,
		m.AlertsResolved, m.Notifications, m.DeliveryDuration, m.TasksProcessed,
		m.QueueDepth, m.RecordsPurged, m.HTTPRequestsTotal,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncReading(source, status string) {
	if m == nil {
		return
	}
	m.ReadingsIngested.WithLabelValues(source, status).Inc()
}

func (m *Metrics) IncEvaluated() {
	if m == nil {
		return
	}
	m.RulesEvaluated.Inc()
}

func (m *Metrics) IncTriggered(severity string) {
	if m == nil {
		return
	}
	m.AlertsTriggered.WithLabelValues(severity).Inc()
}

func (m *Metrics) IncSuppressed(reason string) {
	if m == nil {
		return
	}
	m.AlertsSuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncClosed(status string) {
	if m == nil {
		return
	}
	m.AlertsResolved.WithLabelValues(status).Inc()
}

// ObserveDelivery counts one delivery attempt and its latency.
func (m *Metrics) ObserveDelivery(channel, status string, seconds float64) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, status).Inc()
	m.DeliveryDuration.WithLabelValues(channel).Observe(seconds)
}

func (m *Metrics) IncTask(taskType, status string) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(taskType, status).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) AddPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsPurged.Add(float64(n))
}

func (m *Metrics) IncHTTP(method, route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
}
