package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the collectd listener
type Metrics struct {
	// Datagram metrics
	DatagramsReceived prometheus.Counter
	DatagramsDecoded  prometheus.Counter
	DatagramsDropped  prometheus.Counter
	DecodeErrors      *prometheus.CounterVec
	DatagramSize      prometheus.Histogram
	QueueSize         prometheus.Gauge

	// Decoded content metrics
	MeasurementsDecoded prometheus.Counter
	AlertsDecoded       *prometheus.CounterVec
	RecordsSkipped      *prometheus.CounterVec

	// Sender metrics
	ActiveSenders prometheus.Gauge

	// Event metrics
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// Forwarder metrics
	ForwardRequests prometheus.Counter
	ForwardFailures prometheus.Counter
	ForwardRetries  prometheus.Counter
	ForwardDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Datagram metrics
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "collectd_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "collectd_datagrams_decoded_total",
			Help: "Total number of UDP datagrams decoded successfully",
		}),
		DatagramsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "collectd_datagrams_dropped_total",
			Help: "Total number of datagrams dropped because the decode queue was full",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collectd_decode_errors_total",
			Help: "Total number of datagrams rejected by the decoder",
		}, []string{"kind"}),
		DatagramSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "collectd_datagram_size_bytes",
			Help:    "Size of received datagrams",
			Buckets: prometheus.ExponentialBuckets(64, 2, 11), // 64B to 64KB
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "collectd_decode_queue_size",
			Help: "Current number of datagrams waiting to be decoded",
		}),

		// Decoded content metrics
		MeasurementsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "collectd_measurements_decoded_total",
			Help: "Total number of measurements decoded",
		}),
		AlertsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collectd_alerts_decoded_total",
			Help: "Total number of alerts decoded by severity",
		}, []string{"severity"}),
		RecordsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collectd_records_skipped_total",
			Help: "Total number of records skipped because their type has no decoder",
		}, []string{"type"}),

		// Sender metrics
		ActiveSenders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "collectd_active_senders",
			Help: "Current number of datagram sources seen within the sender TTL",
		}),

		// Event metrics
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collectd_events_published_total",
			Help: "Total number of events published to subscribers",
		}, []string{"type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "collectd_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers",
		}),

		// Forwarder metrics
		ForwardRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "collectd_forward_requests_total",
			Help: "Total number of webhook forward requests",
		}),
		ForwardFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "collectd_forward_failures_total",
			Help: "Total number of webhook forwards that failed after all retries",
		}),
		ForwardRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "collectd_forward_retries_total",
			Help: "Total number of webhook forward retries",
		}),
		ForwardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "collectd_forward_duration_seconds",
			Help:    "Duration of webhook forwards including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collectd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collectd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collectd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagramReceived counts a received datagram and its size
func (m *Metrics) RecordDatagramReceived(sizeBytes int) {
	m.DatagramsReceived.Inc()
	m.DatagramSize.Observe(float64(sizeBytes))
}

// RecordDatagramDropped increments the dropped datagrams counter
func (m *Metrics) RecordDatagramDropped() {
	m.DatagramsDropped.Inc()
}

// RecordDecoded records a successfully decoded datagram and its content.
// Severity and record type labels must come from a closed set
// (protocol.Severity.Label, protocol.RecordType.Label).
func (m *Metrics) RecordDecoded(measurements int, alertSeverities []string, skippedTypes []string) {
	m.DatagramsDecoded.Inc()
	m.MeasurementsDecoded.Add(float64(measurements))
	for _, severity := range alertSeverities {
		m.AlertsDecoded.WithLabelValues(severity).Inc()
	}
	for _, recordType := range skippedTypes {
		m.RecordsSkipped.WithLabelValues(recordType).Inc()
	}
}

// RecordDecodeError increments the decode errors counter for kind
func (m *Metrics) RecordDecodeError(kind string) {
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActiveSenders sets the current number of active senders
func (m *Metrics) SetActiveSenders(count int) {
	m.ActiveSenders.Set(float64(count))
}

// RecordEventPublished increments the published events counter
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped increments the dropped events counter
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// RecordForwardSuccess records a successful forward
func (m *Metrics) RecordForwardSuccess(durationSeconds float64) {
	m.ForwardRequests.Inc()
	m.ForwardDuration.Observe(durationSeconds)
}

// RecordForwardFailure records a failed forward
func (m *Metrics) RecordForwardFailure(durationSeconds float64) {
	m.ForwardRequests.Inc()
	m.ForwardFailures.Inc()
	m.ForwardDuration.Observe(durationSeconds)
}

// RecordForwardRetry increments the retry counter
func (m *Metrics) RecordForwardRetry() {
	m.ForwardRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
