package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/notebook/internal/execution"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Execution metrics
	ExecutionsActive  prometheus.Gauge
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ConsoleEvents     *prometheus.CounterVec

	// Persistence metrics
	AutosavesTotal   *prometheus.CounterVec
	AutosaveDuration prometheus.Histogram
	NotebookLoads    *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	Executions        int64   `json:"executions"`
	FailedExecutions  int64   `json:"failed_executions"`
	ActiveExecutions  int64   `json:"active_executions"`
	ActiveConnections int64   `json:"active_connections"`
	FailedAutosaves   int64   `json:"failed_autosaves"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector with its own registry, so several
// collectors can coexist (one per test, for instance).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notebook_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notebook_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notebook_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Execution metrics
		ExecutionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "notebook_executions_active",
				Help: "Number of live sandbox contexts",
			},
		),
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_executions_total",
				Help: "Total number of finished executions by reason",
			},
			[]string{"reason"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notebook_execution_duration_seconds",
				Help:    "Execution wall time in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"reason"},
		),
		ConsoleEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_console_events_total",
				Help: "Total number of console events captured from sandboxes",
			},
			[]string{"method"},
		),

		// Persistence metrics
		AutosavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_autosaves_total",
				Help: "Total number of autosave attempts by result",
			},
			[]string{"result"},
		),
		AutosaveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notebook_autosave_duration_seconds",
				Help:    "Autosave write duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		NotebookLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_loads_total",
				Help: "Total number of notebook loads by outcome",
			},
			[]string{"state"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "notebook_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "notebook_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// ExecutionStarted implements execution.Observer
func (m *Metrics) ExecutionStarted() {
	m.ExecutionsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveExecutions++
	m.mu.Unlock()
}

// ExecutionFinished implements execution.Observer
func (m *Metrics) ExecutionFinished(reason execution.Reason, duration time.Duration) {
	m.ExecutionsActive.Dec()
	m.ExecutionsTotal.WithLabelValues(string(reason)).Inc()
	m.ExecutionDuration.WithLabelValues(string(reason)).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.ActiveExecutions--
	m.snapshot.Executions++
	if reason != execution.ReasonSuccess {
		m.snapshot.FailedExecutions++
	}
	m.mu.Unlock()
}

// ConsoleEvent implements execution.Observer
func (m *Metrics) ConsoleEvent(method string) {
	m.ConsoleEvents.WithLabelValues(method).Inc()
}

// AutosaveFinished implements persistence.SaveObserver
func (m *Metrics) AutosaveFinished(err error, elapsed time.Duration) {
	m.AutosaveDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.AutosavesTotal.WithLabelValues("error").Inc()
		m.mu.Lock()
		m.snapshot.FailedAutosaves++
		m.mu.Unlock()
		return
	}
	m.AutosavesTotal.WithLabelValues("success").Inc()
}

// RecordLoad records how a notebook was opened
func (m *Metrics) RecordLoad(state string) {
	m.NotebookLoads.WithLabelValues(state).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
