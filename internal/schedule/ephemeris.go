package schedule

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Event names a daily solar event that interval boundaries can be anchored to.
type Event string

const (
	Sunrise          Event = "sunrise"
	Sunset           Event = "sunset"
	CivilDawn        Event = "civil dawn"
	CivilDusk        Event = "civil dusk"
	NauticalDawn     Event = "nautical dawn"
	NauticalDusk     Event = "nautical dusk"
	AstronomicalDawn Event = "astronomical dawn"
	AstronomicalDusk Event = "astronomical dusk"
)

var events = map[Event]bool{
	Sunrise:          true,
	Sunset:           true,
	CivilDawn:        true,
	CivilDusk:        true,
	NauticalDawn:     true,
	NauticalDusk:     true,
	AstronomicalDawn: true,
	AstronomicalDusk: true,
}

// Ephemeris resolves solar events to instants.
type Ephemeris interface {
	// EventTime returns the UTC instant of event on the calendar day of date
	// at the given position. ok is false when the event does not occur that
	// day, as happens at polar latitudes.
	EventTime(event Event, lat, lon float64, date time.Time) (t time.Time, ok bool)
}

// Sun is the default Ephemeris, computed with go-sunrise.
type Sun struct{}

// solar depression angles for the twilight events, in degrees of elevation.
const (
	civilElevation        = -6
	nauticalElevation     = -12
	astronomicalElevation = -18
)

// EventTime implements Ephemeris.
func (Sun) EventTime(event Event, lat, lon float64, date time.Time) (time.Time, bool) {
	y, m, d := date.Date()

	var t time.Time
	switch event {
	case Sunrise, Sunset:
		rise, set := sunrise.SunriseSunset(lat, lon, y, m, d)
		t = pick(event == Sunrise, rise, set)
	case CivilDawn, CivilDusk:
		dawn, dusk := sunrise.TimeOfElevation(lat, lon, civilElevation, y, m, d)
		t = pick(event == CivilDawn, dawn, dusk)
	case NauticalDawn, NauticalDusk:
		dawn, dusk := sunrise.TimeOfElevation(lat, lon, nauticalElevation, y, m, d)
		t = pick(event == NauticalDawn, dawn, dusk)
	case AstronomicalDawn, AstronomicalDusk:
		dawn, dusk := sunrise.TimeOfElevation(lat, lon, astronomicalElevation, y, m, d)
		t = pick(event == AstronomicalDawn, dawn, dusk)
	}

	if t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func pick(morning bool, am, pm time.Time) time.Time {
	if morning {
		return am
	}
	return pm
}
