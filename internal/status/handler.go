// Package status serves a read-only HTML page describing the recorder.
package status

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vesper-recorder/internal/recorder"
	"vesper-recorder/internal/schedule"
)

const (
	// MaxScheduleRows caps the current and future recordings listed.
	MaxScheduleRows = 100
	// MaxPastRows caps the past recordings listed; the most recent are kept.
	MaxPastRows = 20

	timeLayout = "2006-01-02 15:04:05 MST"
)

//go:embed templates/status.html
var templates embed.FS

var pageTmpl = template.Must(template.ParseFS(templates, "templates/status.html"))

// Recorder is the recorder state the page reports. *recorder.Recorder
// implements it.
type Recorder interface {
	Recording() bool
	DeviceIndex() int
	NumChannels() int
	SampleRate() int
	BufferSize() time.Duration
	Schedule() *schedule.Schedule
	InputDevices() []recorder.InputDevice
}

// StationInfo is the static station configuration shown on the page.
type StationInfo struct {
	Name          string
	Latitude      *float64
	Longitude     *float64
	Location      *time.Location
	RecordingsDir string
	MaxFileSize   int64
}

// Handler serves the status page.
type Handler struct {
	rec  Recorder
	info StationInfo
	log  *slog.Logger
	now  func() time.Time
}

// NewHandler returns a Handler reporting on rec. now may be nil, in which
// case time.Now is used.
func NewHandler(rec Recorder, info StationInfo, log *slog.Logger, now func() time.Time) *Handler {
	if info.Location == nil {
		info.Location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{rec: rec, info: info, log: log, now: now}
}

// Routes registers the status endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Status)
}

// Status handles GET /. Every request recomputes the page from live state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var body bytes.Buffer
	if err := pageTmpl.Execute(&body, h.page(h.now())); err != nil {
		h.log.Error("render status page failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body.Bytes())
}

type pair struct {
	Label string
	Value string
}

type deviceRow struct {
	Index       int
	Name        string
	NumChannels int
	Selected    bool
}

type recordingRow struct {
	Index  int
	Start  string
	End    string
	Status string
}

type page struct {
	Station       string
	Status        []pair
	StationConfig []pair
	Devices       []deviceRow
	Input         []pair
	Output        []pair
	Recordings    []recordingRow
	HiddenPast    int
	More          bool
}

func (h *Handler) page(now time.Time) page {
	devices := h.rec.InputDevices()
	p := page{
		Station:       h.info.Name,
		Status:        h.statusRows(now),
		StationConfig: h.stationRows(),
		Input:         h.inputRows(devices),
		Output:        h.outputRows(),
	}
	for _, d := range devices {
		p.Devices = append(p.Devices, deviceRow{
			Index:       d.Index,
			Name:        d.Name,
			NumChannels: d.NumInputChannels,
			Selected:    d.Index == h.rec.DeviceIndex(),
		})
	}
	p.Recordings, p.HiddenPast, p.More = h.recordingRows(now)
	return p
}

func (h *Handler) format(t time.Time) string {
	return t.In(h.info.Location).Format(timeLayout)
}

func (h *Handler) statusRows(now time.Time) []pair {
	recording := "No"
	if h.rec.Recording() {
		recording = "Yes"
	}

	prefix, start, end := "Next", "None", "None"
	if iv, ok := h.rec.Schedule().Find(now); ok {
		if !iv.Start.After(now) {
			prefix = "Current"
		}
		start, end = h.format(iv.Start), h.format(iv.End)
	}

	return []pair{
		{"Time", h.format(now)},
		{"Recording", recording},
		{prefix + " Recording Start Time", start},
		{prefix + " Recording End Time", end},
	}
}

func (h *Handler) stationRows() []pair {
	return []pair{
		{"Station Name", h.info.Name},
		{"Latitude (degrees north)", formatCoord(h.info.Latitude)},
		{"Longitude (degrees east)", formatCoord(h.info.Longitude)},
		{"Time Zone", h.info.Location.String()},
	}
}

func formatCoord(v *float64) string {
	if v == nil {
		return "None"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (h *Handler) inputRows(devices []recorder.InputDevice) []pair {
	name := "Unknown"
	for _, d := range devices {
		if d.Index == h.rec.DeviceIndex() {
			name = d.Name
		}
	}
	return []pair{
		{"Device Index", strconv.Itoa(h.rec.DeviceIndex())},
		{"Device Name", name},
		{"Number of Channels", strconv.Itoa(h.rec.NumChannels())},
		{"Sample Rate (Hz)", strconv.Itoa(h.rec.SampleRate())},
		{"Buffer Size (seconds)", strconv.FormatFloat(h.rec.BufferSize().Seconds(), 'f', -1, 64)},
	}
}

func (h *Handler) outputRows() []pair {
	dir := h.info.RecordingsDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return []pair{
		{"Recordings Directory", dir},
		{"Max Audio File Size (bytes)", fmt.Sprint(h.info.MaxFileSize)},
	}
}

// recordingRows lists the most recent MaxPastRows past intervals followed
// by at most MaxScheduleRows current and future ones. It also returns the
// number of past intervals left out and whether more intervals follow.
func (h *Handler) recordingRows(now time.Time) (rows []recordingRow, hiddenPast int, more bool) {
	var past []recordingRow
	i := 0
	for iv := range h.rec.Schedule().Intervals(time.Time{}, time.Time{}) {
		row := recordingRow{Index: i, Start: h.format(iv.Start), End: h.format(iv.End)}
		i++

		switch {
		case !iv.End.After(now):
			row.Status = "Past"
			past = append(past, row)
			if len(past) > MaxPastRows {
				past = past[1:]
				hiddenPast++
			}
			continue
		case iv.Start.After(now):
			row.Status = "Future"
		default:
			row.Status = "Current"
		}

		if len(rows) == MaxScheduleRows {
			more = true
			break
		}
		rows = append(rows, row)
	}
	return append(past, rows...), hiddenPast, more
}
