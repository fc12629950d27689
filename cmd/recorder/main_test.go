package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"vesper-recorder/internal/recorder"
	"vesper-recorder/internal/schedule"
)

func TestPrintDevices(t *testing.T) {
	var out bytes.Buffer
	err := printDevices(&out, []recorder.InputDevice{
		{Index: 0, Name: "Built-in Microphone", NumInputChannels: 2, DefaultSampleRate: 44100},
		{Index: 3, Name: "USB Audio CODEC", NumInputChannels: 1, DefaultSampleRate: 48000},
	}, 3)
	if err != nil {
		t.Fatalf("printDevices: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 devices, got %q", out.String())
	}
	if !strings.HasPrefix(lines[2], "*3") || !strings.Contains(lines[2], "USB Audio CODEC") {
		t.Errorf("default device not marked: %q", lines[2])
	}
	if strings.HasPrefix(lines[1], "*") {
		t.Errorf("non-default device marked: %q", lines[1])
	}
}

func TestPrintDevices_none(t *testing.T) {
	var out bytes.Buffer
	if err := printDevices(&out, nil, -1); err != nil {
		t.Fatalf("printDevices: %v", err)
	}
	if out.String() != "No input devices found.\n" {
		t.Errorf("got %q", out.String())
	}
}

func TestPrintSchedule(t *testing.T) {
	spec, err := schedule.Parse([]byte(`daily: {start_time: "20:00", duration: 1 hour}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ny, _ := time.LoadLocation("America/New_York")
	from := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sched, err := schedule.Compile(spec, schedule.Site{Location: ny}, schedule.WithOrigin(from))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var out bytes.Buffer
	if err := printSchedule(&out, sched, from, 2, ny); err != nil {
		t.Fatalf("printSchedule: %v", err)
	}
	want := "2024-06-01 20:00:00 EDT  2024-06-01 21:00:00 EDT\n" +
		"2024-06-02 20:00:00 EDT  2024-06-02 21:00:00 EDT\n"
	if out.String() != want {
		t.Errorf("got\n%s\nwant\n%s", out.String(), want)
	}
}

func TestPrintSchedule_over(t *testing.T) {
	spec, err := schedule.Parse([]byte(`interval: {start: "2024-06-01 20:00", duration: 1 hour}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sched, err := schedule.Compile(spec, schedule.Site{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var out bytes.Buffer
	if err := printSchedule(&out, sched, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 5, time.UTC); err != nil {
		t.Fatalf("printSchedule: %v", err)
	}
	if out.String() != "No upcoming recordings.\n" {
		t.Errorf("got %q", out.String())
	}
}
