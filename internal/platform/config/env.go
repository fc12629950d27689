package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the station file.
const (
	EnvStation       = "RECORDER_STATION"
	EnvRecordingsDir = "RECORDER_RECORDINGS_DIR"
	EnvPort          = "RECORDER_PORT"
	EnvInputDevice   = "RECORDER_INPUT_DEVICE"
	EnvMaxFileSize   = "RECORDER_MAX_AUDIO_FILE_SIZE"
)

// Load sets environment variables from .env files, ".env" in the working
// directory when no paths are given. Variables already set are kept. A
// missing file is an error that callers may ignore.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// applyEnv overrides the station file with any RECORDER_* variables set.
func (f *File) applyEnv() {
	f.Station = GetEnv(EnvStation, f.Station)
	f.RecordingsDir = GetEnv(EnvRecordingsDir, f.RecordingsDir)
	f.InputDevice = GetEnv(EnvInputDevice, f.InputDevice)
	f.PortNum = GetEnvInt(EnvPort, f.PortNum)
	f.MaxAudioFileSize = getEnvParsed(EnvMaxFileSize, f.MaxAudioFileSize, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// GetEnv returns the value of the environment variable named by key with
// surrounding space removed, or fallback if that is empty.
func GetEnv(key, fallback string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	return getEnvParsed(key, fallback, strconv.Atoi)
}

func getEnvParsed[T any](key string, fallback T, parse func(string) (T, error)) T {
	s := GetEnv(key, "")
	if s == "" {
		return fallback
	}
	v, err := parse(s)
	if err != nil {
		return fallback
	}
	return v
}
