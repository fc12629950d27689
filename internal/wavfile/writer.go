// Package wavfile writes recorded audio to size-limited WAV files.
package wavfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"vesper-recorder/internal/platform/metrics"
	"vesper-recorder/internal/recorder"
)

// HeaderSize is the size in bytes of the header of every file written.
const HeaderSize = 44

// pcmFormat is the WAVE format tag for uncompressed linear PCM.
const pcmFormat = 1

// FileName returns the name of the file of station whose first frame was
// captured at t.
func FileName(station string, t time.Time) string {
	return fmt.Sprintf("%s_%s_Z.wav", station, t.UTC().Format("2006-01-02_15.04.05"))
}

// Writer is a recorder.Listener that writes each recording session to one
// or more WAV files, starting a new file whenever the current one would
// grow past the maximum size.
type Writer struct {
	recorder.NopListener

	station     string
	dir         string
	maxFileSize int64
	log         *slog.Logger
	m           *metrics.Metrics

	// Fixed for a session by RecordingStarting.
	format     *audio.Format
	frameSize  int
	maxFrames  int
	sampleRate int

	path         string
	file         *os.File
	enc          *wav.Encoder
	framesInFile int
	data         []int
}

// New returns a Writer that puts files in dir, creating it if needed. m
// may be nil.
func New(station, dir string, maxFileSize int64, log *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings directory: %w", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Writer{
		station:     station,
		dir:         dir,
		maxFileSize: maxFileSize,
		log:         log,
		m:           m,
	}, nil
}

// Dir returns the directory files are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// MaxFileSize returns the maximum file size in bytes.
func (w *Writer) MaxFileSize() int64 {
	return w.maxFileSize
}

func (w *Writer) RecordingStarting(r *recorder.Recorder, _ time.Time) error {
	if err := w.closeFile(); err != nil {
		return err
	}

	numChannels := r.NumChannels()
	w.sampleRate = r.SampleRate()
	w.frameSize = numChannels * r.SampleSize() / 8
	w.maxFrames = int((w.maxFileSize - HeaderSize) / int64(w.frameSize))
	if w.maxFrames < 1 {
		return fmt.Errorf("max file size %d bytes cannot hold a %d-byte frame", w.maxFileSize, w.frameSize)
	}
	w.format = &audio.Format{NumChannels: numChannels, SampleRate: w.sampleRate}
	w.framesInFile = 0
	return nil
}

// SamplesArrived appends b to the current file, splitting it across files
// as needed. t is the capture time of the first frame of b.
func (w *Writer) SamplesArrived(_ *recorder.Recorder, t time.Time, b recorder.Buffer) error {
	if w.format == nil {
		return errors.New("samples arrived outside a recording session")
	}
	for offset := 0; offset < b.NumFrames; {
		if w.enc == nil {
			if err := w.openFile(t.Add(w.framesDuration(offset))); err != nil {
				return err
			}
		}

		n := min(b.NumFrames-offset, w.maxFrames-w.framesInFile)
		if err := w.write(b.Samples[offset*w.frameSize : (offset+n)*w.frameSize]); err != nil {
			w.abandonFile()
			return err
		}
		w.framesInFile += n
		offset += n

		if w.framesInFile == w.maxFrames {
			if err := w.closeFile(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) RecordingStopped(*recorder.Recorder, time.Time) error {
	err := w.closeFile()
	w.format = nil
	return err
}

func (w *Writer) framesDuration(n int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(w.sampleRate))
}

func (w *Writer) openFile(t time.Time) error {
	path := filepath.Join(w.dir, FileName(w.station, t))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	w.path = path
	w.file = f
	w.enc = wav.NewEncoder(f, w.format.SampleRate, recorder.SampleSize, w.format.NumChannels, pcmFormat)
	w.framesInFile = 0
	w.log.Debug("audio file opened", slog.String("path", path))
	return nil
}

// write encodes little-endian 16-bit samples.
func (w *Writer) write(samples []byte) error {
	n := len(samples) / 2
	if cap(w.data) < n {
		w.data = make([]int, n)
	}
	w.data = w.data[:n]
	for i := range w.data {
		w.data[i] = int(int16(uint16(samples[2*i]) | uint16(samples[2*i+1])<<8))
	}
	buf := &audio.IntBuffer{Format: w.format, Data: w.data, SourceBitDepth: recorder.SampleSize}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if w.m != nil {
		w.m.AddBytesWritten(len(samples))
	}
	return nil
}

// closeFile finishes the header of the current file, if any, and closes it.
func (w *Writer) closeFile() error {
	if w.enc == nil {
		return nil
	}
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	path, frames := w.path, w.framesInFile
	w.enc, w.file, w.path = nil, nil, ""
	w.framesInFile = 0

	if encErr != nil {
		return fmt.Errorf("finish %s: %w", path, encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("close %s: %w", path, fileErr)
	}
	if w.m != nil {
		w.m.IncFilesWritten()
	}
	w.log.Info("audio file closed", slog.String("path", path), slog.Int("frames", frames))
	return nil
}

// abandonFile releases the current file after a failed write.
func (w *Writer) abandonFile() {
	if w.file != nil {
		w.file.Close()
	}
	w.enc, w.file, w.path = nil, nil, ""
	w.framesInFile = 0
}
