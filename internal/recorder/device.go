package recorder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrReadTimeout is returned by Stream.Read when no buffer arrived within
// the timeout.
var ErrReadTimeout = errors.New("audio read timed out")

// InputDevice describes an audio input device.
type InputDevice struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	NumInputChannels  int     `json:"num_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
}

// Buffer is one block of captured audio: NumFrames interleaved frames of
// little-endian 16-bit samples, with the driver's status flags.
type Buffer struct {
	Samples   []byte
	NumFrames int
	Overflow  bool
	Underflow bool
}

// StreamParams selects the device and format of an input stream.
type StreamParams struct {
	DeviceIndex     int
	NumChannels     int
	SampleRate      int
	FramesPerBuffer int
}

// Driver gives access to the audio input hardware.
type Driver interface {
	InputDevices() ([]InputDevice, error)
	DefaultInputDevice() (InputDevice, error)
	Open(p StreamParams) (Stream, error)
}

// Stream is an open, running input stream.
type Stream interface {
	// Read blocks until the next buffer arrives or timeout elapses, in which
	// case it returns ErrReadTimeout.
	Read(timeout time.Duration) (Buffer, error)
	Close() error
}

// ResolveInputDevice returns the index of the input device referred to by
// ref: the default input device when ref is empty, the device with that
// index when ref is an integer, and otherwise the only device whose name
// contains ref.
func ResolveInputDevice(d Driver, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		dev, err := d.DefaultInputDevice()
		if err != nil {
			return 0, fmt.Errorf("%w: no default input device available: %v", ErrConfig, err)
		}
		return dev.Index, nil
	}

	devices, err := d.InputDevices()
	if err != nil {
		return 0, fmt.Errorf("list input devices: %w", err)
	}

	if i, err := strconv.Atoi(ref); err == nil {
		if _, ok := findDevice(devices, i); !ok {
			return 0, fmt.Errorf("%w: no input device with index %d", ErrConfig, i)
		}
		return i, nil
	}

	if len(devices) == 0 {
		return 0, fmt.Errorf("%w: no input devices available", ErrConfig)
	}
	var matches []InputDevice
	for _, dev := range devices {
		if strings.Contains(dev.Name, ref) {
			matches = append(matches, dev)
		}
	}
	switch len(matches) {
	case 0:
		return 0, fmt.Errorf("%w: no input device name includes %q", ErrConfig, ref)
	case 1:
		return matches[0].Index, nil
	default:
		return 0, fmt.Errorf("%w: more than one input device name includes %q", ErrConfig, ref)
	}
}

func findDevice(devices []InputDevice, index int) (InputDevice, bool) {
	for _, dev := range devices {
		if dev.Index == index {
			return dev, true
		}
	}
	return InputDevice{}, false
}
