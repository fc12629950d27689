package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for keys missing from the station file.
const (
	DefaultStation          = "Vesper"
	DefaultTimeZone         = "UTC"
	DefaultNumChannels      = 1
	DefaultSampleRate       = 22050
	DefaultBufferSize       = 0.05 // seconds
	DefaultRecordingsDir    = "Recordings"
	DefaultMaxAudioFileSize = int64(1) << 31 // bytes
	DefaultPort             = 8001
)

// ErrInvalid is wrapped by every error about an invalid station file.
var ErrInvalid = errors.New("invalid station configuration")

// File is the station configuration file.
type File struct {
	Station          string    `yaml:"station"`
	Latitude         *float64  `yaml:"latitude"`
	Longitude        *float64  `yaml:"longitude"`
	TimeZone         string    `yaml:"time_zone"`
	InputDevice      string    `yaml:"input_device"`
	NumChannels      int       `yaml:"num_channels"`
	SampleRate       int       `yaml:"sample_rate"`
	BufferSize       float64   `yaml:"buffer_size"`
	Schedule         yaml.Node `yaml:"schedule"`
	RecordingsDir    string    `yaml:"recordings_dir_path"`
	MaxAudioFileSize int64     `yaml:"max_audio_file_size"`
	PortNum          int       `yaml:"port_num"`

	location *time.Location
}

// Defaults returns a File holding only default values.
func Defaults() *File {
	return &File{
		Station:          DefaultStation,
		TimeZone:         DefaultTimeZone,
		NumChannels:      DefaultNumChannels,
		SampleRate:       DefaultSampleRate,
		BufferSize:       DefaultBufferSize,
		RecordingsDir:    DefaultRecordingsDir,
		MaxAudioFileSize: DefaultMaxAudioFileSize,
		PortNum:          DefaultPort,
	}
}

// LoadFile reads the station file at path, fills in defaults, applies
// environment overrides and validates the result.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse is LoadFile for a document already in memory.
func Parse(data []byte) (*File, error) {
	f := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	f.applyEnv()
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) validate() error {
	if f.Station == "" {
		return fmt.Errorf("%w: station name is empty", ErrInvalid)
	}
	if (f.Latitude == nil) != (f.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be given together", ErrInvalid)
	}
	if f.Latitude != nil && math.Abs(*f.Latitude) > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalid, *f.Latitude)
	}
	if f.Longitude != nil && math.Abs(*f.Longitude) > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalid, *f.Longitude)
	}
	loc, err := time.LoadLocation(f.TimeZone)
	if err != nil {
		return fmt.Errorf("%w: unknown time zone %q", ErrInvalid, f.TimeZone)
	}
	f.location = loc
	if f.NumChannels < 1 {
		return fmt.Errorf("%w: num_channels must be at least 1", ErrInvalid)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive", ErrInvalid)
	}
	if f.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer_size must be positive", ErrInvalid)
	}
	if f.RecordingsDir == "" {
		return fmt.Errorf("%w: recordings_dir_path is empty", ErrInvalid)
	}
	// A file must hold the 44-byte header and at least one frame.
	if least := int64(44 + 2*f.NumChannels); f.MaxAudioFileSize < least {
		return fmt.Errorf("%w: max_audio_file_size must be at least %d bytes", ErrInvalid, least)
	}
	if f.PortNum < 1 || f.PortNum > 65535 {
		return fmt.Errorf("%w: port_num %d out of range", ErrInvalid, f.PortNum)
	}
	return nil
}

// Location returns the station time zone.
func (f *File) Location() *time.Location {
	if f.location == nil {
		return time.UTC
	}
	return f.location
}

// BufferDuration returns BufferSize as a time.Duration.
func (f *File) BufferDuration() time.Duration {
	return time.Duration(f.BufferSize * float64(time.Second))
}

// Addr returns the status server listen address.
func (f *File) Addr() string {
	return ":" + strconv.Itoa(f.PortNum)
}
