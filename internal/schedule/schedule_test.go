package schedule

import (
	"errors"
	"slices"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEphemeris places every event at a fixed UTC time of day and can drop
// single events on chosen dates.
type fakeEphemeris struct {
	at      map[Event]time.Duration
	missing map[string]bool // "2006-01-02 sunset"
}

func (f fakeEphemeris) EventTime(ev Event, lat, lon float64, date time.Time) (time.Time, bool) {
	if f.missing[date.Format("2006-01-02")+" "+string(ev)] {
		return time.Time{}, false
	}
	offset, ok := f.at[ev]
	if !ok {
		return time.Time{}, false
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(offset), true
}

func newFakeEphemeris() fakeEphemeris {
	return fakeEphemeris{
		at: map[Event]time.Duration{
			Sunrise: 4 * time.Hour,
			Sunset:  20 * time.Hour,
		},
		missing: map[string]bool{},
	}
}

func ptr(f float64) *float64 { return &f }

func utc(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func iv(start, end string) Interval {
	return Interval{Start: utc(start), End: utc(end)}
}

func mustCompile(t *testing.T, yamlSpec string, opts ...Option) *Schedule {
	t.Helper()
	spec, err := Parse([]byte(yamlSpec))
	require.NoError(t, err)
	site := Site{Latitude: ptr(46.7), Longitude: ptr(-114.0), Location: time.UTC}
	opts = append([]Option{WithEphemeris(newFakeEphemeris()), WithOrigin(utc("2024-06-01 00:00"))}, opts...)
	s, err := Compile(spec, site, opts...)
	require.NoError(t, err)
	return s
}

func collect(s *Schedule, start, end time.Time) []Interval {
	return slices.Collect(s.Intervals(start, end))
}

func TestCompile_union_merges_overlapping_daily(t *testing.T) {
	s := mustCompile(t, `
union:
  - daily: {start_date: 2024-06-01, end_date: 2024-06-03, start_time: "10:00", end_time: "11:00"}
  - daily: {start_date: 2024-06-01, end_date: 2024-06-03, start_time: "10:30", end_time: "12:00"}
`)

	got := collect(s, time.Time{}, time.Time{})
	assert.Equal(t, []Interval{
		iv("2024-06-01 10:00", "2024-06-01 12:00"),
		iv("2024-06-02 10:00", "2024-06-02 12:00"),
		iv("2024-06-03 10:00", "2024-06-03 12:00"),
	}, got)
}

func TestCompile_union_merges_adjacent(t *testing.T) {
	s := mustCompile(t, `
union:
  - interval: {start: 2024-06-01 10:00:00, end: 2024-06-01 11:00:00}
  - interval: {start: 2024-06-01 11:00:00, end: 2024-06-01 12:00:00}
  - interval: {start: 2024-06-01 13:00:00, duration: 1 hour}
`)

	got := collect(s, time.Time{}, time.Time{})
	assert.Equal(t, []Interval{
		iv("2024-06-01 10:00", "2024-06-01 12:00"),
		iv("2024-06-01 13:00", "2024-06-01 14:00"),
	}, got)
}

func TestCompile_difference_splits_nightly(t *testing.T) {
	s := mustCompile(t, `
difference:
  - daily: {start_date: 2024-06-01, end_date: 2024-06-02, start_time: "20:00", end_time: "06:00"}
  - daily: {start_date: 2024-06-01, end_date: 2024-06-03, start_time: "02:00", end_time: "03:00"}
`)

	got := collect(s, time.Time{}, time.Time{})
	assert.Equal(t, []Interval{
		iv("2024-06-01 20:00", "2024-06-02 02:00"),
		iv("2024-06-02 03:00", "2024-06-02 06:00"),
		iv("2024-06-02 20:00", "2024-06-03 02:00"),
		iv("2024-06-03 03:00", "2024-06-03 06:00"),
	}, got)
}

func TestCompile_difference_removes_covered_interval(t *testing.T) {
	s := mustCompile(t, `
difference:
  - intervals:
      - {start: 2024-06-01 10:00:00, end: 2024-06-01 11:00:00}
      - {start: 2024-06-01 12:00:00, end: 2024-06-01 13:00:00}
  - interval: {start: 2024-06-01 09:00:00, end: 2024-06-01 11:30:00}
  - interval: {start: 2024-06-01 12:30:00, end: 2024-06-01 14:00:00}
`)

	got := collect(s, time.Time{}, time.Time{})
	assert.Equal(t, []Interval{iv("2024-06-01 12:00", "2024-06-01 12:30")}, got)
}

func TestCompile_solar_interval_skips_day_without_sunset(t *testing.T) {
	eph := newFakeEphemeris()
	eph.missing["2024-06-02 sunset"] = true

	s := mustCompile(t, `
daily:
  start_date: 2024-06-01
  end_date: 2024-06-03
  start_time: 30 minutes before sunset
  end_time: 30 minutes after sunrise
`, WithEphemeris(eph))

	got := collect(s, time.Time{}, time.Time{})
	assert.Equal(t, []Interval{
		iv("2024-06-01 19:30", "2024-06-02 04:30"),
		iv("2024-06-03 19:30", "2024-06-04 04:30"),
	}, got)
}

func TestCompile_cron(t *testing.T) {
	s := mustCompile(t, `
cron:
  expression: "0 22 * * *"
  duration: 2 hours
  start_date: 2024-06-01
  end_date: 2024-06-02
`)

	got := collect(s, time.Time{}, time.Time{})
	assert.Equal(t, []Interval{
		iv("2024-06-01 22:00", "2024-06-02 00:00"),
		iv("2024-06-02 22:00", "2024-06-03 00:00"),
	}, got)
	assert.True(t, s.Bounded())
}

func TestCompile_time_zone(t *testing.T) {
	loc, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	spec, err := Parse([]byte(`daily: {start_date: 2024-06-01, end_date: 2024-06-01, start_time: "21:00", duration: 1h}`))
	require.NoError(t, err)

	s, err := Compile(spec, Site{Location: loc})
	require.NoError(t, err)

	// MDT is UTC-6 in June.
	assert.Equal(t, []Interval{iv("2024-06-02 03:00", "2024-06-02 04:00")}, collect(s, time.Time{}, time.Time{}))
}

func TestSchedule_unbounded_daily_is_lazy(t *testing.T) {
	s := mustCompile(t, `daily: {start_date: 2024-06-01, start_time: "20:00", end_time: "06:00"}`)
	require.False(t, s.Bounded())

	var got []Interval
	for iv := range s.Intervals(time.Time{}, time.Time{}) {
		got = append(got, iv)
		if len(got) == 400 {
			break
		}
	}
	require.Len(t, got, 400)
	assert.Equal(t, iv("2024-06-01 20:00", "2024-06-02 06:00"), got[0])
	assert.Equal(t, utc("2025-07-05 20:00"), got[399].Start)
}

func TestSchedule_unbounded_without_start_date_uses_origin(t *testing.T) {
	s := mustCompile(t, `daily: {start_time: "20:00", duration: 30m}`)

	first, ok := s.Find(time.Time{})
	require.True(t, ok)
	assert.Equal(t, iv("2024-06-01 20:00", "2024-06-01 20:30"), first)
}

func TestSchedule_Intervals_window(t *testing.T) {
	s := mustCompile(t, `
union:
  - daily: {start_date: 2024-06-01, end_date: 2024-06-10, start_time: "20:00", end_time: "06:00"}
  - daily: {start_date: 2024-06-01, end_date: 2024-06-10, start_time: "12:00", duration: 90 minutes}
  - cron: {expression: "15 */6 * * *", duration: 20m, start_date: 2024-06-03}
`)

	windows := [][2]time.Time{
		{utc("2024-06-02 00:00"), utc("2024-06-04 00:00")},
		{utc("2024-06-02 05:00"), utc("2024-06-02 12:30")},
		{utc("2024-06-05 06:20"), utc("2024-06-05 06:21")},
		{utc("2024-06-09 23:00"), utc("2024-06-30 00:00")},
	}
	for _, w := range windows {
		a, b := w[0], w[1]
		got := collect(s, a, b)
		require.NotEmpty(t, got, "window %s - %s", a, b)
		for i, iv := range got {
			assert.True(t, iv.Start.Before(iv.End), "interval %s is empty", iv)
			assert.True(t, iv.End.After(a), "interval %s ends before window start %s", iv, a)
			assert.True(t, iv.Start.Before(b), "interval %s starts after window end %s", iv, b)
			if i > 0 {
				assert.True(t, got[i-1].End.Before(iv.Start), "intervals %s and %s overlap or touch", got[i-1], iv)
			}
		}
	}
}

func TestSchedule_Intervals_includes_interval_in_progress(t *testing.T) {
	s := mustCompile(t, `daily: {start_date: 2024-06-01, end_date: 2024-06-05, start_time: "20:00", end_time: "06:00"}`)

	got := collect(s, utc("2024-06-03 01:00"), utc("2024-06-04 01:00"))
	assert.Equal(t, []Interval{
		iv("2024-06-02 20:00", "2024-06-03 06:00"),
		iv("2024-06-03 20:00", "2024-06-04 06:00"),
	}, got)
}

func TestSchedule_Intervals_idempotent(t *testing.T) {
	s := mustCompile(t, `
difference:
  - daily: {start_date: 2024-06-01, end_date: 2024-06-20, start_time: 1 hour before sunset, end_time: sunrise}
  - cron: {expression: "0 1 * * *", duration: 1h}
`)

	first := collect(s, time.Time{}, time.Time{})
	second := collect(s, time.Time{}, time.Time{})
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestSchedule_Find(t *testing.T) {
	s := mustCompile(t, `daily: {start_date: 2024-06-01, end_date: 2024-06-02, start_time: "20:00", end_time: "22:00"}`)

	t.Run("inside", func(t *testing.T) {
		got, ok := s.Find(utc("2024-06-01 21:00"))
		require.True(t, ok)
		assert.Equal(t, iv("2024-06-01 20:00", "2024-06-01 22:00"), got)
		assert.True(t, got.Contains(utc("2024-06-01 21:00")))
	})

	t.Run("between", func(t *testing.T) {
		got, ok := s.Find(utc("2024-06-01 22:00"))
		require.True(t, ok)
		assert.Equal(t, iv("2024-06-02 20:00", "2024-06-02 22:00"), got)
	})

	t.Run("after_last", func(t *testing.T) {
		_, ok := s.Find(utc("2024-06-03 00:00"))
		assert.False(t, ok)
	})
}

func TestCompile_empty_spec(t *testing.T) {
	s, err := Compile(Spec{}, Site{})
	require.NoError(t, err)
	assert.Empty(t, collect(s, time.Time{}, time.Time{}))
	assert.True(t, s.Bounded())
}

func TestCompile_errors(t *testing.T) {
	tests := []struct {
		name string
		spec string
		site Site
	}{
		{
			name: "solar_event_without_coordinates",
			spec: `daily: {start_time: sunset, end_time: sunrise}`,
		},
		{
			name: "interval_end_before_start",
			spec: `interval: {start: 2024-06-01 10:00:00, end: 2024-06-01 09:00:00}`,
		},
		{
			name: "interval_end_equals_start",
			spec: `interval: {start: 2024-06-01 10:00:00, end: 2024-06-01 10:00:00}`,
		},
		{
			name: "interval_without_end",
			spec: `interval: {start: 2024-06-01 10:00:00}`,
		},
		{
			name: "daily_end_date_before_start_date",
			spec: `daily: {start_date: 2024-06-02, end_date: 2024-06-01, start_time: "20:00", duration: 1h}`,
		},
		{
			name: "daily_same_start_and_end",
			spec: `daily: {start_time: "20:00", end_time: "20:00"}`,
		},
		{
			name: "negative_duration",
			spec: `daily: {start_time: "20:00", duration: -1h}`,
		},
		{
			name: "unknown_event",
			spec: `daily: {start_time: moonrise, duration: 1h}`,
			site: Site{Latitude: ptr(1), Longitude: ptr(1)},
		},
		{
			name: "bad_cron",
			spec: `cron: {expression: "not cron", duration: 1h}`,
		},
		{
			name: "two_kinds_in_one_node",
			spec: `union: [{interval: {start: 2024-06-01 10:00:00, duration: 1h}, daily: {start_time: "20:00", duration: 1h}}]`,
		},
		{
			name: "empty_nested_node",
			spec: `union: [{}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse([]byte(tt.spec))
			require.NoError(t, err)
			_, err = Compile(spec, tt.site)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
		})
	}
}

func TestParse_rejects_unknown_keys(t *testing.T) {
	_, err := Parse([]byte(`weekly: {start_time: "20:00"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSchedule_unbounded_difference_that_removes_everything_ends(t *testing.T) {
	s := mustCompile(t, `
difference:
  - daily: {start_time: "10:00", end_time: "11:00"}
  - daily: {start_time: "09:00", end_time: "12:00"}
`)

	assert.Empty(t, collect(s, time.Time{}, time.Time{}))
	_, ok := s.Find(utc("2024-06-01 10:30"))
	assert.False(t, ok)
}

// findWithin fails the test when Find does not return within a few seconds.
func findWithin(t *testing.T, s *Schedule, at time.Time) (Interval, bool) {
	t.Helper()
	type result struct {
		iv Interval
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		iv, ok := s.Find(at)
		done <- result{iv, ok}
	}()
	select {
	case r := <-done:
		return r.iv, r.ok
	case <-time.After(5 * time.Second):
		t.Fatalf("Find(%s) did not return", at)
		return Interval{}, false
	}
}

func TestSchedule_gapless_unbounded(t *testing.T) {
	tests := []struct {
		name  string
		spec  string
		first Interval
	}{
		{
			name:  "daily_all_day",
			spec:  `daily: {start_time: "00:00", duration: 24 hours}`,
			first: iv("2024-06-01 00:00", "2024-06-10 00:00"),
		},
		{
			name:  "hourly_cron",
			spec:  `cron: {expression: "0 * * * *", duration: 1 hour}`,
			first: iv("2024-06-01 00:00", "2024-06-10 00:00"),
		},
		{
			name: "union_of_overlapping_ranges",
			spec: `
union:
  - daily: {start_time: "20:00", end_time: "08:00"}
  - daily: {start_time: "07:00", end_time: "21:00"}
`,
			first: iv("2024-06-01 07:00", "2024-06-10 00:00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustCompile(t, tt.spec)

			got, ok := findWithin(t, s, utc("2024-06-02 12:00"))
			require.True(t, ok)
			assert.Equal(t, tt.first, got)

			// A piece boundary keeps recording: the next piece starts there.
			got, ok = findWithin(t, s, utc("2024-06-10 00:00"))
			require.True(t, ok)
			assert.Equal(t, iv("2024-06-10 00:00", "2024-06-17 00:00"), got)

			got, ok = findWithin(t, s, utc("2025-03-05 09:30"))
			require.True(t, ok)
			assert.Equal(t, iv("2025-03-03 00:00", "2025-03-10 00:00"), got)

			var pieces []Interval
			for iv := range s.Intervals(time.Time{}, time.Time{}) {
				pieces = append(pieces, iv)
				if len(pieces) == 3 {
					break
				}
			}
			assert.Equal(t, []Interval{
				tt.first,
				iv("2024-06-10 00:00", "2024-06-17 00:00"),
				iv("2024-06-17 00:00", "2024-06-24 00:00"),
			}, pieces)
		})
	}
}

func TestSchedule_Find_matches_Intervals_from_the_start(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{
			name: "overlapping_cron",
			spec: `cron: {expression: "0 0,1 * * *", duration: 90m, start_date: 2024-06-01, end_date: 2024-06-10}`,
		},
		{
			name: "gapless_cron",
			spec: `cron: {expression: "0 * * * *", duration: 90m, start_date: 2024-06-01, end_date: 2024-08-31}`,
		},
		{
			name: "overlapping_daily",
			spec: `daily: {start_date: 2024-06-01, end_date: 2024-08-31, start_time: "20:00", duration: 30 hours}`,
		},
		{
			name: "union_of_overlapping_ranges",
			spec: `
union:
  - daily: {start_date: 2024-06-01, end_date: 2024-08-31, start_time: "20:00", end_time: "08:00"}
  - daily: {start_date: 2024-06-01, end_date: 2024-08-31, start_time: "07:00", end_time: "21:00"}
`,
		},
		{
			name: "difference_from_gapless_daily",
			spec: `
difference:
  - daily: {start_date: 2024-06-01, end_date: 2024-08-31, start_time: "00:00", duration: 24 hours}
  - cron: {expression: "0 12 1,15 * *", duration: 1 hour}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustCompile(t, tt.spec)
			all := collect(s, time.Time{}, time.Time{})
			require.NotEmpty(t, all)

			from := func(at time.Time) []Interval {
				for i, iv := range all {
					if iv.End.After(at) {
						return all[i:]
					}
				}
				return nil
			}

			n := 0
			for at := utc("2024-05-31 00:00"); at.Before(utc("2024-09-03 00:00")); at = at.Add(7*time.Hour + 13*time.Minute) {
				want := from(at)
				got, ok := s.Find(at)
				require.Equal(t, len(want) > 0, ok, "Find(%s)", at)
				if ok {
					assert.Equal(t, want[0], got, "Find(%s)", at)
				}
				if n%10 == 0 {
					assert.Equal(t, want, collect(s, at, time.Time{}), "Intervals(%s)", at)
				}
				n++
			}
		})
	}
}

func TestSchedule_Find_inside_overlapping_cron_firings(t *testing.T) {
	s := mustCompile(t, `cron: {expression: "0 0,1 * * *", duration: 90m, start_date: 2024-06-01, end_date: 2024-06-10}`)

	got, ok := s.Find(utc("2024-06-01 02:00"))
	require.True(t, ok)
	assert.Equal(t, iv("2024-06-01 00:00", "2024-06-01 02:30"), got)
}
