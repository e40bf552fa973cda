// Package metrics owns the Prometheus registry of the process.
//
// Collectors are registered on a private registry so tests can build as many
// instances as they like. Label sets stay bounded: task types, statuses,
// trigger kinds, and registered HTTP routes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskbot/internal/task"
)

const namespace = "taskbot"

type Metrics struct {
	reg *prometheus.Registry

	executions  *prometheus.CounterVec
	deliveryDur *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec
	desync      *prometheus.CounterVec

	httpReqs     *prometheus.CounterVec
	httpLat      *prometheus.HistogramVec
	httpInflight prometheus.Gauge
	httpRespSize *prometheus.HistogramVec
}

// New builds the collectors, including the Go runtime and process ones.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_executions_total",
			Help:      "Task executions by task type and terminal status.",
		}, []string{"task_type", "status"}),
		deliveryDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_delivery_seconds",
			Help:      "Delivery duration by task type.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"task_type"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manual_trigger_rate_limited_total",
			Help:      "Manual triggers refused by the rate limiter.",
		}, []string{"kind"}),
		desync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_desync_repairs_total",
			Help:      "Pending events found without a live timer and re-armed.",
		}, []string{"source"}),

		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		}),
		httpRespSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: []float64{200, 500, 1 << 10, 5 << 10, 25 << 10, 100 << 10, 1 << 20},
		}, []string{"method", "path"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.executions, m.deliveryDur, m.rateLimited, m.desync,
		m.httpReqs, m.httpLat, m.httpInflight, m.httpRespSize,
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// GaugeFunc registers a gauge sampled on scrape.
func (m *Metrics) GaugeFunc(name, help string, f func() float64) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f))
}

func (m *Metrics) ObserveExecution(taskType string, status task.Status, took time.Duration) {
	m.executions.WithLabelValues(taskType, string(status)).Inc()
	if took > 0 {
		m.deliveryDur.WithLabelValues(taskType).Observe(took.Seconds())
	}
}

func (m *Metrics) ObserveRateLimited(kind string) {
	m.rateLimited.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDesyncRepair(source string) {
	m.desync.WithLabelValues(source).Inc()
}

// HTTPInflight tracks requests being served.
func (m *Metrics) HTTPInflight() prometheus.Gauge { return m.httpInflight }

// ObserveHTTP records one finished request. size < 0 means unknown.
func (m *Metrics) ObserveHTTP(method, path string, status int, took time.Duration, size int) {
	m.httpReqs.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpLat.WithLabelValues(method, path).Observe(took.Seconds())
	if size >= 0 {
		m.httpRespSize.WithLabelValues(method, path).Observe(float64(size))
	}
}

var _ task.Metrics = (*Metrics)(nil)
