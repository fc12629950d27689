package recorder

import (
	"log/slog"
	"time"

	"vesper-recorder/internal/platform/metrics"
)

// Listener receives recording events. Callbacks run on the capture
// goroutine in registration order and must not block indefinitely. A
// non-nil error ends the capture session. RecordingStopped goes only to
// listeners whose RecordingStarting returned nil.
type Listener interface {
	RecordingStarting(r *Recorder, t time.Time) error
	RecordingStarted(r *Recorder, t time.Time) error
	SamplesArrived(r *Recorder, t time.Time, b Buffer) error
	RecordingStopped(r *Recorder, t time.Time) error
}

// NopListener implements Listener with callbacks that do nothing. Embed it
// to implement only the callbacks you need.
type NopListener struct{}

func (NopListener) RecordingStarting(*Recorder, time.Time) error { return nil }
func (NopListener) RecordingStarted(*Recorder, time.Time) error { return nil }
func (NopListener) SamplesArrived(*Recorder, time.Time, Buffer) error { return nil }
func (NopListener) RecordingStopped(*Recorder, time.Time) error { return nil }

// LogListener logs session boundaries and device overflows and underflows.
type LogListener struct {
	NopListener
	log *slog.Logger
}

// NewLogListener returns a listener that logs to log.
func NewLogListener(log *slog.Logger) *LogListener {
	return &LogListener{log: log}
}

func (l *LogListener) RecordingStarting(r *Recorder, t time.Time) error {
	l.log.Info("recording starting", slog.String("session_id", r.SessionID()), slog.Time("time", t))
	return nil
}

func (l *LogListener) RecordingStarted(r *Recorder, t time.Time) error {
	l.log.Info("recording started", slog.String("session_id", r.SessionID()), slog.Time("time", t))
	return nil
}

func (l *LogListener) SamplesArrived(r *Recorder, t time.Time, b Buffer) error {
	if b.Overflow || b.Underflow {
		l.log.Warn("audio input status",
			slog.String("session_id", r.SessionID()),
			slog.Time("time", t),
			slog.Int("frames", b.NumFrames),
			slog.Bool("overflow", b.Overflow),
			slog.Bool("underflow", b.Underflow))
	}
	return nil
}

func (l *LogListener) RecordingStopped(r *Recorder, t time.Time) error {
	l.log.Info("recording stopped", slog.String("session_id", r.SessionID()), slog.Time("time", t))
	return nil
}

// MetricsListener counts sessions, buffers, frames and device anomalies.
type MetricsListener struct {
	NopListener
	m *metrics.Metrics
}

func NewMetricsListener(m *metrics.Metrics) *MetricsListener {
	return &MetricsListener{m: m}
}

func (l *MetricsListener) RecordingStarted(*Recorder, time.Time) error {
	l.m.IncSessions()
	l.m.SetRecording(true)
	return nil
}

func (l *MetricsListener) SamplesArrived(_ *Recorder, _ time.Time, b Buffer) error {
	l.m.AddBuffer(b.NumFrames)
	if b.Overflow {
		l.m.IncOverflows()
	}
	if b.Underflow {
		l.m.IncUnderflows()
	}
	return nil
}

func (l *MetricsListener) RecordingStopped(*Recorder, time.Time) error {
	l.m.SetRecording(false)
	return nil
}
