// Package app wires the schedule, recorder, file writer and status server
// into one running station.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vesper-recorder/internal/platform/config"
	"vesper-recorder/internal/platform/logger"
	"vesper-recorder/internal/platform/metrics"
	"vesper-recorder/internal/recorder"
	"vesper-recorder/internal/schedule"
	"vesper-recorder/internal/status"
	"vesper-recorder/internal/wavfile"
)

const (
	shutdownTimeout = 10 * time.Second
	stopTimeout     = 10 * time.Second

	// maxCountedIntervals caps the remaining intervals gauge for unbounded
	// schedules.
	maxCountedIntervals = 1000
)

// App is a configured station ready to Run.
type App struct {
	cfg     *config.File
	log     *slog.Logger
	rec     *recorder.Recorder
	writer  *wavfile.Writer
	metrics *metrics.Metrics
	router  *chi.Mux
	srv     *http.Server
	now     func() time.Time
}

// CompileSchedule compiles the schedule embedded in cfg for the station's
// site.
func CompileSchedule(cfg *config.File, log *slog.Logger) (*schedule.Schedule, error) {
	spec, err := schedule.ParseNode(&cfg.Schedule)
	if err != nil {
		return nil, err
	}
	return schedule.Compile(spec, schedule.Site{
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
		Location:  cfg.Location(),
	}, schedule.WithLogger(log))
}

// New builds the station described by cfg on top of driver.
func New(cfg *config.File, driver recorder.Driver, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	sched, err := CompileSchedule(cfg, log.With("component", "schedule"))
	if err != nil {
		return nil, fmt.Errorf("compile schedule: %w", err)
	}

	index, err := recorder.ResolveInputDevice(driver, cfg.InputDevice)
	if err != nil {
		return nil, err
	}

	rec, err := recorder.New(driver, recorder.Config{
		DeviceIndex: index,
		NumChannels: cfg.NumChannels,
		SampleRate:  cfg.SampleRate,
		BufferSize:  cfg.BufferDuration(),
	}, sched, log.With("component", "recorder"))
	if err != nil {
		return nil, err
	}

	met := metrics.New()
	writer, err := wavfile.New(cfg.Station, cfg.RecordingsDir, cfg.MaxAudioFileSize,
		log.With("component", "wavfile"), met)
	if err != nil {
		return nil, err
	}

	for _, l := range []recorder.Listener{
		recorder.NewLogListener(log.With("component", "recorder")),
		recorder.NewMetricsListener(met),
		writer,
	} {
		if err := rec.AddListener(l); err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		rec:     rec,
		writer:  writer,
		metrics: met,
		now:     time.Now,
	}
	a.router = a.routes()
	a.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) routes() *chi.Mux {
	h := status.NewHandler(a.rec, status.StationInfo{
		Name:          a.cfg.Station,
		Latitude:      a.cfg.Latitude,
		Longitude:     a.cfg.Longitude,
		Location:      a.cfg.Location(),
		RecordingsDir: a.writer.Dir(),
		MaxFileSize:   a.writer.MaxFileSize(),
	}, a.log.With("component", "status"), nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(a.log))
	r.Use(metrics.RequestMiddleware(a.metrics))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		a.metrics.Handler(func() {
			a.metrics.SetRemainingIntervals(a.remainingIntervals())
		}).ServeHTTP(w, r)
	})
	h.Routes(r)
	return r
}

// remainingIntervals counts the intervals that have not ended yet, up to
// maxCountedIntervals.
func (a *App) remainingIntervals() int {
	n := 0
	for range a.rec.Schedule().Intervals(a.now(), time.Time{}) {
		n++
		if n == maxCountedIntervals {
			break
		}
	}
	return n
}

// Handler returns the status server's router.
func (a *App) Handler() http.Handler {
	return a.router
}

// Recorder returns the station's recorder.
func (a *App) Recorder() *recorder.Recorder {
	return a.rec
}

// Run serves status and records until ctx is done or capture ends. It
// returns the error that ended capture, if any.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.srv.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	a.log.Info("server starting",
		"addr", ln.Addr().String(),
		"station", a.cfg.Station,
		"device_index", a.rec.DeviceIndex(),
		"recordings_dir", a.writer.Dir(),
	)

	var runErr error
	if err := a.rec.Start(); err != nil {
		runErr = fmt.Errorf("start recorder: %w", err)
	} else {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received, stopping recorder")
		case <-a.rec.Done():
			a.log.Error("capture ended unexpectedly")
		case err := <-serveErr:
			runErr = fmt.Errorf("status server: %w", err)
			a.log.Error("server error", "error", err)
		}

		a.rec.Stop()
		if !a.rec.Wait(stopTimeout) {
			a.log.Warn("recorder did not stop in time", "timeout", stopTimeout)
		}
		if err := a.rec.Err(); err != nil && runErr == nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	a.log.Info("server stopped")
	return runErr
}
