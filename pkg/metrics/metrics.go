package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signaling service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Call Metrics
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callsDuration    *prometheus.HistogramVec
	callsFailedTotal *prometheus.CounterVec

	// Relay Metrics
	signalsRelayedTotal  *prometheus.CounterVec
	signalsBufferedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of live signaling connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages by direction and event",
				ConstLabels: labels,
			},
			[]string{"direction", "event"},
		),
		websocketErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls initiated by type",
				ConstLabels: labels,
			},
			[]string{"call_type"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of live call sessions",
				ConstLabels: labels,
			},
		),
		callsDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Call session lifetime from creation to teardown",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 180, 600, 1800, 3600},
			},
			[]string{"reason"},
		),
		callsFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_failed_total",
				Help:        "Total number of calls that reached the FAILED state by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		signalsRelayedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_relayed_total",
				Help:        "Total number of SDP/ICE messages forwarded by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		signalsBufferedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_buffered_total",
				Help:        "Total number of SDP/ICE messages buffered for an unreachable target",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// ConnectionOpened records a new signaling connection
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.websocketConnections.Inc()
}

// ConnectionClosed records a closed signaling connection
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.websocketConnections.Dec()
}

// RecordMessage records a WebSocket message, direction "in" or "out"
func (m *Metrics) RecordMessage(direction, event string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(direction, event).Inc()
}

// RecordWebSocketError records a WebSocket-level error
func (m *Metrics) RecordWebSocketError(kind string) {
	if m == nil {
		return
	}
	m.websocketErrorsTotal.WithLabelValues(kind).Inc()
}

// CallStarted records a new call session
func (m *Metrics) CallStarted(callType string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(callType).Inc()
	m.callsActive.Inc()
}

// CallEnded records a call session teardown
func (m *Metrics) CallEnded(reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.callsActive.Dec()
	m.callsDuration.WithLabelValues(reason).Observe(lifetime.Seconds())
}

// CallFailed records a call that reached FAILED
func (m *Metrics) CallFailed(reason string) {
	if m == nil {
		return
	}
	m.callsFailedTotal.WithLabelValues(reason).Inc()
}

// SignalRelayed records a forwarded SDP/ICE message
func (m *Metrics) SignalRelayed(kind string) {
	if m == nil {
		return
	}
	m.signalsRelayedTotal.WithLabelValues(kind).Inc()
}

// SignalBuffered records an SDP/ICE message held for an unreachable target
func (m *Metrics) SignalBuffered(kind string) {
	if m == nil {
		return
	}
	m.signalsBufferedTotal.WithLabelValues(kind).Inc()
}
