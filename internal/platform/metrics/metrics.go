package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recorder.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      *prometheus.CounterVec
	errorsTotal        prometheus.Counter
	sessionsTotal      prometheus.Counter
	buffersTotal       prometheus.Counter
	framesTotal        prometheus.Counter
	overflowsTotal     prometheus.Counter
	underflowsTotal    prometheus.Counter
	filesWrittenTotal  prometheus.Counter
	bytesWrittenTotal  prometheus.Counter
	recording          prometheus.Gauge
	scheduledIntervals prometheus.Gauge
}

// New creates and registers Prometheus metrics for the recorder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of status HTTP requests by response code",
		}, []string{"code"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_total",
			Help: "Total number of recording sessions started",
		}),
		buffersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_buffers_total",
			Help: "Total number of audio buffers delivered to listeners",
		}),
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_frames_total",
			Help: "Total number of audio frames delivered to listeners",
		}),
		overflowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_input_overflows_total",
			Help: "Total number of buffers flagged with an input overflow",
		}),
		underflowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_input_underflows_total",
			Help: "Total number of buffers flagged with an input underflow",
		}),
		filesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_files_written_total",
			Help: "Total number of audio files closed",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sample_bytes_written_total",
			Help: "Total number of sample bytes written to audio files",
		}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_recording",
			Help: "1 while a recording session is open, else 0",
		}),
		scheduledIntervals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_remaining_intervals",
			Help: "Number of scheduled intervals not yet ended, capped for unbounded schedules",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsTotal,
		m.buffersTotal,
		m.framesTotal,
		m.overflowsTotal,
		m.underflowsTotal,
		m.filesWrittenTotal,
		m.bytesWrittenTotal,
		m.recording,
		m.scheduledIntervals,
	)
	return m
}

// IncRequests counts one request answered with status code.
func (m *Metrics) IncRequests(code int) {
	m.requestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSessions counts one opened recording session.
func (m *Metrics) IncSessions() {
	m.sessionsTotal.Inc()
}

// AddBuffer counts one delivered buffer of frames frames.
func (m *Metrics) AddBuffer(frames int) {
	m.buffersTotal.Inc()
	m.framesTotal.Add(float64(frames))
}

// IncOverflows counts one input overflow reported by the device.
func (m *Metrics) IncOverflows() {
	m.overflowsTotal.Inc()
}

// IncUnderflows counts one input underflow reported by the device.
func (m *Metrics) IncUnderflows() {
	m.underflowsTotal.Inc()
}

// IncFilesWritten counts one completed audio file.
func (m *Metrics) IncFilesWritten() {
	m.filesWrittenTotal.Inc()
}

// AddBytesWritten adds n bytes of audio file data.
func (m *Metrics) AddBytesWritten(n int) {
	m.bytesWrittenTotal.Add(float64(n))
}

// SetRecording sets the recording gauge.
func (m *Metrics) SetRecording(on bool) {
	if on {
		m.recording.Set(1)
	} else {
		m.recording.Set(0)
	}
}

// SetRemainingIntervals sets the remaining scheduled intervals gauge.
func (m *Metrics) SetRemainingIntervals(n int) {
	m.scheduledIntervals.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. remaining intervals).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
