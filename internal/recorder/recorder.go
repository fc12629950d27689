package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vesper-recorder/internal/schedule"
)

// SampleSize is the width in bits of every captured sample.
const SampleSize = 16

var (
	// ErrConfig is wrapped by errors caused by an invalid device or format.
	ErrConfig = errors.New("invalid recorder configuration")
	// ErrAlreadyStarted is returned by Start and AddListener once capture has
	// begun.
	ErrAlreadyStarted = errors.New("recorder already started")
)

// Config holds the capture parameters. ReadTimeout bounds each device read
// and therefore how long Stop takes to be noticed; zero picks a default
// derived from BufferSize.
type Config struct {
	DeviceIndex int
	NumChannels int
	SampleRate  int
	BufferSize  time.Duration
	ReadTimeout time.Duration
}

// Session identifies one contiguous recording, from RecordingStarting to
// RecordingStopped.
type Session struct {
	ID    string
	Start time.Time

	// notified counts the listeners that received RecordingStarting. Only
	// the capture goroutine touches it.
	notified int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now as the source of buffer arrival times.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder captures audio from an input device on a dedicated goroutine and
// notifies its listeners whenever the schedule says to record.
type Recorder struct {
	driver          Driver
	cfg             Config
	sched           *schedule.Schedule
	devices         []InputDevice
	framesPerBuffer int
	log             *slog.Logger
	now             func() time.Time

	mu        sync.Mutex
	listeners []Listener
	started   bool
	err       error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	session atomic.Pointer[Session]
}

// New validates cfg against the devices d reports and returns a stopped
// Recorder.
func New(d Driver, cfg Config, sched *schedule.Schedule, log *slog.Logger, opts ...Option) (*Recorder, error) {
	if sched == nil {
		return nil, fmt.Errorf("%w: no schedule", ErrConfig)
	}
	devices, err := d.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	dev, ok := findDevice(devices, cfg.DeviceIndex)
	if !ok {
		return nil, fmt.Errorf("%w: no input device with index %d", ErrConfig, cfg.DeviceIndex)
	}
	if cfg.NumChannels < 1 || cfg.NumChannels > dev.NumInputChannels {
		return nil, fmt.Errorf("%w: device %q supports 1 to %d input channels, not %d",
			ErrConfig, dev.Name, dev.NumInputChannels, cfg.NumChannels)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive", ErrConfig)
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("%w: buffer size must be positive", ErrConfig)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2*cfg.BufferSize + 500*time.Millisecond
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	r := &Recorder{
		driver:          d,
		cfg:             cfg,
		sched:           sched,
		devices:         devices,
		framesPerBuffer: max(1, int(math.Round(cfg.BufferSize.Seconds()*float64(cfg.SampleRate)))),
		log:             log,
		now:             time.Now,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// AddListener registers l. Listeners are notified in registration order.
func (r *Recorder) AddListener(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.listeners = append(r.listeners, l)
	return nil
}

// Start opens the input stream and starts the capture goroutine. A
// Recorder can be started once.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}

	stream, err := r.driver.Open(StreamParams{
		DeviceIndex:     r.cfg.DeviceIndex,
		NumChannels:     r.cfg.NumChannels,
		SampleRate:      r.cfg.SampleRate,
		FramesPerBuffer: r.framesPerBuffer,
	})
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	r.started = true

	r.log.Info("capture started",
		slog.Int("device_index", r.cfg.DeviceIndex),
		slog.Int("num_channels", r.cfg.NumChannels),
		slog.Int("sample_rate", r.cfg.SampleRate),
		slog.Int("frames_per_buffer", r.framesPerBuffer))

	go r.capture(stream, slices.Clone(r.listeners))
	return nil
}

// Stop asks the capture goroutine to exit after the buffer in flight. It
// does not wait; use Wait for that.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Wait blocks until the capture goroutine has exited or timeout elapses,
// and reports whether it exited. A non-positive timeout waits forever. Wait
// returns true at once if the Recorder was never started.
func (r *Recorder) Wait(timeout time.Duration) bool {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return true
	}
	if timeout <= 0 {
		<-r.done
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-r.done:
		return true
	case <-t.C:
		return false
	}
}

// Done is closed when the capture goroutine exits.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Err returns the error that ended capture, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Recording reports whether a recording session is open.
func (r *Recorder) Recording() bool {
	return r.session.Load() != nil
}

// SessionStart returns the start of the open session.
func (r *Recorder) SessionStart() (time.Time, bool) {
	s := r.session.Load()
	if s == nil {
		return time.Time{}, false
	}
	return s.Start, true
}

// SessionID returns the ID of the open session, or "" when not recording.
func (r *Recorder) SessionID() string {
	if s := r.session.Load(); s != nil {
		return s.ID
	}
	return ""
}

// DeviceIndex returns the index of the input device being recorded.
func (r *Recorder) DeviceIndex() int { return r.cfg.DeviceIndex }

// NumChannels returns the number of channels per frame.
func (r *Recorder) NumChannels() int { return r.cfg.NumChannels }

// SampleRate returns the sample rate in hertz.
func (r *Recorder) SampleRate() int { return r.cfg.SampleRate }

// SampleSize returns the sample width in bits.
func (r *Recorder) SampleSize() int { return SampleSize }

// BufferSize returns the configured duration of one input buffer.
func (r *Recorder) BufferSize() time.Duration { return r.cfg.BufferSize }

// FramesPerBuffer returns the number of frames in one input buffer.
func (r *Recorder) FramesPerBuffer() int { return r.framesPerBuffer }

// Schedule returns the schedule that decides when to record.
func (r *Recorder) Schedule() *schedule.Schedule { return r.sched }

// InputDevices returns the devices available when the Recorder was created.
func (r *Recorder) InputDevices() []InputDevice { return slices.Clone(r.devices) }

func (r *Recorder) frameDuration(n int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(r.cfg.SampleRate))
}

// cursor caches the schedule interval containing or following the most
// recent buffer so that most buffers are classified without a query.
type cursor struct {
	iv        schedule.Interval
	valid     bool
	exhausted bool
}

func (c *cursor) scheduled(s *schedule.Schedule, t time.Time) bool {
	if c.exhausted {
		return false
	}
	if !c.valid || !t.Before(c.iv.End) {
		iv, ok := s.Find(t)
		if !ok {
			c.exhausted = true
			return false
		}
		c.iv, c.valid = iv, true
	}
	return c.iv.Contains(t)
}

func (r *Recorder) capture(stream Stream, listeners []Listener) {
	defer close(r.done)

	failed, err := r.loop(stream, listeners)

	if cerr := stream.Close(); cerr != nil {
		r.log.Error("close input stream", slog.Any("error", cerr))
	}
	if r.Recording() {
		if _, serr := r.closeSession(listeners, r.now(), failed); serr != nil && err == nil {
			err = serr
		}
	}

	if err != nil {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}
	r.log.Info("capture stopped")
}

// loop runs until Stop is called or an error occurs. On a listener error it
// also returns that listener's index, and -1 otherwise.
func (r *Recorder) loop(stream Stream, listeners []Listener) (int, error) {
	var cur cursor
	for {
		select {
		case <-r.stop:
			return -1, nil
		default:
		}

		b, err := stream.Read(r.cfg.ReadTimeout)
		if errors.Is(err, ErrReadTimeout) {
			r.log.Debug("no audio within read timeout", slog.Duration("timeout", r.cfg.ReadTimeout))
			continue
		}
		if err != nil {
			r.log.Error("audio read failed", slog.Any("error", err))
			return -1, fmt.Errorf("read audio: %w", err)
		}

		arrival := r.now()
		if !cur.scheduled(r.sched, arrival) {
			if r.Recording() {
				if i, err := r.closeSession(listeners, arrival, -1); err != nil {
					return i, err
				}
			}
			continue
		}

		start := arrival.Add(-r.frameDuration(b.NumFrames))
		if !r.Recording() {
			if i, err := r.openSession(listeners, start); err != nil {
				return i, err
			}
		}
		for i, l := range listeners {
			if err := l.SamplesArrived(r, start, b); err != nil {
				return i, r.listenerError("samples arrived", i, err)
			}
		}
	}
}

func (r *Recorder) openSession(listeners []Listener, t time.Time) (int, error) {
	sess := &Session{ID: uuid.NewString(), Start: t}
	r.session.Store(sess)
	for i, l := range listeners {
		if err := l.RecordingStarting(r, t); err != nil {
			sess.notified = i
			return i, r.listenerError("recording starting", i, err)
		}
		sess.notified = i + 1
	}
	for i, l := range listeners {
		if err := l.RecordingStarted(r, t); err != nil {
			return i, r.listenerError("recording started", i, err)
		}
	}
	return -1, nil
}

// closeSession notifies the listeners that saw the session start, except
// skip, that recording stopped, and returns the first error.
func (r *Recorder) closeSession(listeners []Listener, t time.Time, skip int) (int, error) {
	if sess := r.session.Load(); sess != nil {
		listeners = listeners[:sess.notified]
	}
	failed := -1
	var first error
	for i, l := range listeners {
		if i == skip {
			continue
		}
		if err := l.RecordingStopped(r, t); err != nil {
			err = r.listenerError("recording stopped", i, err)
			if first == nil {
				failed, first = i, err
			}
		}
	}
	r.session.Store(nil)
	return failed, first
}

func (r *Recorder) listenerError(event string, i int, err error) error {
	r.log.Error("listener failed",
		slog.String("event", event),
		slog.Int("listener", i),
		slog.String("session_id", r.SessionID()),
		slog.Any("error", err))
	return fmt.Errorf("%s listener %d: %w", event, i, err)
}
