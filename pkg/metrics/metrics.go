// Package metrics holds the Prometheus collectors shared by the worker pool,
// the connection registry and the broker.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "eventbroker").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors and backs Handler.
	// Default: a fresh registry per Metrics.
	Registry *prometheus.Registry
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "eventbroker",
		Buckets:   prometheus.DefBuckets,
	}
}

// Metrics holds the broker collectors.
type Metrics struct {
	registry *prometheus.Registry

	poolUtilization prometheus.Gauge
	poolActive      prometheus.Gauge
	poolQueued      prometheus.Gauge
	tasksTotal      *prometheus.CounterVec
	taskDuration    prometheus.Histogram

	connections   *prometheus.GaugeVec
	messagesTotal *prometheus.CounterVec
	pushesTotal   *prometheus.CounterVec
	dispatchDelay prometheus.Histogram
	errorsTotal   *prometheus.CounterVec
}

// New creates and registers the collectors.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		registry: config.Registry,

		poolUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pool_utilization_ratio",
			Help:        "Busy workers divided by pool capacity",
			ConstLabels: config.ConstLabels,
		}),

		poolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pool_active_tasks",
			Help:        "Tasks currently running on a worker",
			ConstLabels: config.ConstLabels,
		}),

		poolQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pool_queued_tasks",
			Help:        "Tasks waiting for a worker",
			ConstLabels: config.ConstLabels,
		}),

		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tasks_total",
			Help:        "Finished tasks by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "task_duration_seconds",
			Help:        "Task run time in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections",
			Help:        "Open WebSocket connections by mode",
			ConstLabels: config.ConstLabels,
		}, []string{"mode"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_received_total",
			Help:        "Inbound messages by connection mode",
			ConstLabels: config.ConstLabels,
		}, []string{"mode"}),

		pushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pushes_total",
			Help:        "Outbound pushes by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		dispatchDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "callback_dispatch_delay_seconds",
			Help:        "Time between callback registration and dispatch",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{0.1, 1, 10, 60, 300, 1800, 3600},
		}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "errors_total",
			Help:        "Errors by category",
			ConstLabels: config.ConstLabels,
		}, []string{"category"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetPoolStats publishes a worker pool snapshot.
func (m *Metrics) SetPoolStats(active, queued int, utilization float64) {
	if m == nil {
		return
	}
	m.poolActive.Set(float64(active))
	m.poolQueued.Set(float64(queued))
	m.poolUtilization.Set(utilization)
}

// ObserveTask records a finished task.
func (m *Metrics) ObserveTask(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.taskDuration.Observe(d.Seconds())
	}
}

// ConnectionOpened increments the open connection gauge for mode.
func (m *Metrics) ConnectionOpened(mode string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(mode).Inc()
}

// ConnectionClosed decrements the open connection gauge for mode.
func (m *Metrics) ConnectionClosed(mode string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(mode).Dec()
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived(mode string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(mode).Inc()
}

// Push counts an outbound push attempt by outcome.
func (m *Metrics) Push(outcome string) {
	if m == nil {
		return
	}
	m.pushesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDispatchDelay records the age of a callback registration at dispatch.
func (m *Metrics) ObserveDispatchDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDelay.Observe(d.Seconds())
}

// Error counts an error by category.
func (m *Metrics) Error(category string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	m.errorsTotal.WithLabelValues(category).Inc()
}
