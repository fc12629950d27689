package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeExpr is a time of day, either a clock time or an offset from a solar
// event, that resolves to an instant once given a calendar date.
type timeExpr struct {
	event  Event
	hour   int
	minute int
	second int
	offset time.Duration
}

func (e timeExpr) solar() bool {
	return e.event != ""
}

// resolve returns the instant of e on the calendar day of date.
func (e timeExpr) resolve(date time.Time, s *site, eph Ephemeris) (time.Time, bool) {
	y, m, d := date.Date()
	if !e.solar() {
		t := time.Date(y, m, d, e.hour, e.minute, e.second, 0, s.loc)
		return t.Add(e.offset).UTC(), true
	}
	t, ok := eph.EventTime(e.event, *s.lat, *s.lon, time.Date(y, m, d, 12, 0, 0, 0, s.loc))
	if !ok {
		return time.Time{}, false
	}
	return t.Add(e.offset).UTC(), true
}

// parseTimeExpr parses "20:00", "sunset", "30 minutes before sunset" or
// "1h after 20:00:00".
func parseTimeExpr(s string) (timeExpr, error) {
	norm := normalize(s)
	if norm == "" {
		return timeExpr{}, fmt.Errorf("%w: empty time", ErrConfig)
	}

	for _, dir := range []string{" before ", " after "} {
		i := strings.LastIndex(norm, dir)
		if i < 0 {
			continue
		}
		offset, err := parseDuration(norm[:i])
		if err != nil {
			return timeExpr{}, fmt.Errorf("%w: bad offset in time %q", ErrConfig, s)
		}
		e, err := parseAnchor(norm[i+len(dir):])
		if err != nil {
			return timeExpr{}, fmt.Errorf("%w: bad time %q", ErrConfig, s)
		}
		if dir == " before " {
			offset = -offset
		}
		e.offset = offset
		return e, nil
	}

	e, err := parseAnchor(norm)
	if err != nil {
		return timeExpr{}, fmt.Errorf("%w: bad time %q", ErrConfig, s)
	}
	return e, nil
}

func parseAnchor(s string) (timeExpr, error) {
	switch s {
	case "noon":
		return timeExpr{hour: 12}, nil
	case "midnight":
		return timeExpr{}, nil
	}
	if ev := Event(s); events[ev] {
		return timeExpr{event: ev}, nil
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return timeExpr{hour: t.Hour(), minute: t.Minute(), second: t.Second()}, nil
		}
	}
	return timeExpr{}, fmt.Errorf("unrecognized time %q", s)
}

var durationUnits = map[string]time.Duration{
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
}

// parseDuration accepts Go duration literals ("1h30m") as well as spelled
// out amounts ("1 hour 30 minutes", "1.5 hours").
func parseDuration(s string) (time.Duration, error) {
	norm := normalize(s)
	if d, err := time.ParseDuration(strings.ReplaceAll(norm, " ", "")); err == nil {
		return d, nil
	}

	fields := strings.Fields(norm)
	if len(fields) == 0 || len(fields)%2 != 0 {
		return 0, fmt.Errorf("%w: bad duration %q", ErrConfig, s)
	}
	var total time.Duration
	for i := 0; i < len(fields); i += 2 {
		n, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad duration %q", ErrConfig, s)
		}
		unit, ok := durationUnits[fields[i+1]]
		if !ok {
			return 0, fmt.Errorf("%w: bad duration unit in %q", ErrConfig, s)
		}
		total += time.Duration(n * float64(unit))
	}
	return total, nil
}

// parseDate parses a YYYY-MM-DD date as local midnight in loc.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrConfig, s)
	}
	return t, nil
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseDateTime parses an absolute instant. Times without a zone are taken
// in loc.
func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad date/time %q", ErrConfig, s)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}
