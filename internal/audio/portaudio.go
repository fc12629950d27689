// Package audio implements recorder.Driver on PortAudio.
package audio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"vesper-recorder/internal/recorder"
)

// queueLen is the number of captured buffers held for the capture goroutine
// before the callback starts dropping them.
const queueLen = 64

// Driver is a recorder.Driver backed by PortAudio. Device indices are
// positions in PortAudio's device list.
type Driver struct{}

// Open initializes PortAudio. Call Close when done.
func Open() (*Driver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &Driver{}, nil
}

// Close terminates PortAudio.
func (d *Driver) Close() error {
	return portaudio.Terminate()
}

func (d *Driver) InputDevices() ([]recorder.InputDevice, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	var out []recorder.InputDevice
	for i, info := range infos {
		if info.MaxInputChannels > 0 {
			out = append(out, inputDevice(i, info))
		}
	}
	return out, nil
}

func (d *Driver) DefaultInputDevice() (recorder.InputDevice, error) {
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		return recorder.InputDevice{}, err
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return recorder.InputDevice{}, fmt.Errorf("portaudio devices: %w", err)
	}
	for i, info := range infos {
		if sameDevice(info, def) {
			return inputDevice(i, info), nil
		}
	}
	return recorder.InputDevice{}, fmt.Errorf("default input device %q not in device list", def.Name)
}

func (d *Driver) Open(p recorder.StreamParams) (recorder.Stream, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	if p.DeviceIndex < 0 || p.DeviceIndex >= len(infos) {
		return nil, fmt.Errorf("no audio device with index %d", p.DeviceIndex)
	}
	dev := infos[p.DeviceIndex]

	s := newStream(p.NumChannels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: p.NumChannels,
			Latency:  dev.DefaultHighInputLatency,
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.FramesPerBuffer,
	}
	pa, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", dev.Name, err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		return nil, fmt.Errorf("start stream on %q: %w", dev.Name, err)
	}
	s.pa = pa
	return s, nil
}

func inputDevice(i int, info *portaudio.DeviceInfo) recorder.InputDevice {
	return recorder.InputDevice{
		Index:             i,
		Name:              info.Name,
		NumInputChannels:  info.MaxInputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
	}
}

func sameDevice(a, b *portaudio.DeviceInfo) bool {
	if a.Name != b.Name || a.MaxInputChannels != b.MaxInputChannels {
		return false
	}
	if a.HostApi == nil || b.HostApi == nil {
		return a.HostApi == b.HostApi
	}
	return a.HostApi.Name == b.HostApi.Name
}

// stream hands buffers from the PortAudio callback thread to Read.
type stream struct {
	pa          *portaudio.Stream
	numChannels int
	ch          chan recorder.Buffer
	// dropped is set when the queue was full, and reported as an overflow
	// on the next buffer read.
	dropped atomic.Bool
}

func newStream(numChannels int) *stream {
	return &stream{numChannels: numChannels, ch: make(chan recorder.Buffer, queueLen)}
}

func (s *stream) callback(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	b := toBuffer(in, s.numChannels, flags)
	select {
	case s.ch <- b:
	default:
		s.dropped.Store(true)
	}
}

func (s *stream) Read(timeout time.Duration) (recorder.Buffer, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-s.ch:
		if s.dropped.Swap(false) {
			b.Overflow = true
		}
		return b, nil
	case <-t.C:
		return recorder.Buffer{}, recorder.ErrReadTimeout
	}
}

func (s *stream) Close() error {
	if s.pa == nil {
		return nil
	}
	stopErr := s.pa.Stop()
	closeErr := s.pa.Close()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// toBuffer copies interleaved samples out of PortAudio's buffer, which is
// reused after the callback returns.
func toBuffer(in []int16, numChannels int, flags portaudio.StreamCallbackFlags) recorder.Buffer {
	samples := make([]byte, 2*len(in))
	for i, v := range in {
		samples[2*i] = byte(v)
		samples[2*i+1] = byte(v >> 8)
	}
	return recorder.Buffer{
		Samples:   samples,
		NumFrames: len(in) / numChannels,
		Overflow:  flags&portaudio.InputOverflow != 0,
		Underflow: flags&portaudio.InputUnderflow != 0,
	}
}
