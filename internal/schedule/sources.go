package schedule

import (
	"iter"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// maxSkippedDays bounds the search of an open-ended daily source for a day
// on which its solar events occur.
const maxSkippedDays = 2 * 366

// maxRemovedIntervals bounds the search of an unbounded difference for a
// base interval that is not subtracted entirely.
const maxRemovedIntervals = 10000

// lookback is how far before a query start merging begins. A gapless run
// that far back is cut at the same multiples of mergeHorizon as it is when
// merged from its true start.
const lookback = 2 * mergeHorizon

// source produces the intervals of one node of a compiled schedule in start
// order. Intervals ending at or before from may be included; the Schedule
// filters them out.
type source interface {
	intervals(from time.Time) iter.Seq[Interval]
	bounded() bool
}

type site struct {
	lat *float64
	lon *float64
	loc *time.Location
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// fixedSource holds absolute intervals, already sorted and merged.
type fixedSource struct {
	list []Interval
}

func (f fixedSource) bounded() bool { return true }

func (f fixedSource) intervals(from time.Time) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		i := 0
		if !from.IsZero() {
			i = sort.Search(len(f.list), func(i int) bool { return f.list[i].End.After(from) })
		}
		for ; i < len(f.list); i++ {
			if !yield(f.list[i]) {
				return
			}
		}
	}
}

// dailySource yields one interval per calendar day in the site time zone.
type dailySource struct {
	first    time.Time // local midnight of the first day, zero if open
	last     time.Time // local midnight of the last day, zero if open
	start    timeExpr
	end      *timeExpr
	duration time.Duration
	site     *site
	eph      Ephemeris
	origin   time.Time
	log      *slog.Logger
}

func (d *dailySource) bounded() bool { return !d.last.IsZero() }

func (d *dailySource) firstDay(from time.Time) time.Time {
	lower := d.first
	if lower.IsZero() {
		lower = midnight(d.origin, d.site.loc)
	}
	if from.IsZero() {
		return lower
	}

	// Step back far enough to see every gap after from-lookback, so runs
	// are cut where a query from the first day cuts them.
	back := 2 + int((d.duration+lookback)/(24*time.Hour))
	day := midnight(from, d.site.loc).AddDate(0, 0, -back)
	if day.Before(lower) {
		day = lower
	}
	return day
}

func (d *dailySource) intervals(from time.Time) iter.Seq[Interval] {
	return coalesce(func(yield func(Interval) bool) {
		skipped := 0
		for day := d.firstDay(from); d.last.IsZero() || !day.After(d.last); day = day.AddDate(0, 0, 1) {
			iv, ok := d.resolve(day)
			if !ok {
				d.log.Debug("no scheduled interval on day", slog.String("date", day.Format("2006-01-02")))
				skipped++
				if d.last.IsZero() && skipped > maxSkippedDays {
					d.log.Warn("daily schedule produced no intervals, giving up",
						slog.String("from", day.Format("2006-01-02")),
						slog.Int("days", skipped))
					return
				}
				continue
			}
			skipped = 0
			if !yield(iv) {
				return
			}
		}
	}, mergeHorizon)
}

func (d *dailySource) resolve(day time.Time) (Interval, bool) {
	start, ok := d.start.resolve(day, d.site, d.eph)
	if !ok {
		return Interval{}, false
	}
	if d.end == nil {
		return Interval{Start: start, End: start.Add(d.duration)}, true
	}

	end, ok := d.end.resolve(day, d.site, d.eph)
	if !ok {
		return Interval{}, false
	}
	if !end.After(start) {
		// Overnight: the end falls on the following day.
		end, ok = d.end.resolve(day.AddDate(0, 0, 1), d.site, d.eph)
		if !ok || !end.After(start) {
			return Interval{}, false
		}
	}
	return Interval{Start: start, End: end}, true
}

// cronSource starts an interval at every firing of a cron schedule.
type cronSource struct {
	sched    cron.Schedule
	duration time.Duration
	first    time.Time // earliest start, zero if open
	limit    time.Time // starts must be before limit, zero if open
	loc      *time.Location
	origin   time.Time
}

func (c *cronSource) bounded() bool { return !c.limit.IsZero() }

func (c *cronSource) intervals(from time.Time) iter.Seq[Interval] {
	first := c.first
	if first.IsZero() {
		first = midnight(c.origin, c.loc)
	}
	// A firing before from-lookback-duration ends before from-lookback, so
	// it cannot hide a gap the merge relies on.
	lower := first
	if !from.IsZero() && from.Add(-lookback-c.duration).After(first) {
		lower = from.Add(-lookback - c.duration)
	}

	return coalesce(func(yield func(Interval) bool) {
		// Next returns firings strictly after its argument.
		t := c.sched.Next(lower.In(c.loc).Add(-time.Nanosecond))
		for !t.IsZero() && (c.limit.IsZero() || t.Before(c.limit)) {
			if !yield(Interval{Start: t.UTC(), End: t.Add(c.duration).UTC()}) {
				return
			}
			t = c.sched.Next(t)
		}
	}, mergeHorizon)
}

type unionSource struct {
	children []source
}

func (u unionSource) bounded() bool {
	for _, c := range u.children {
		if !c.bounded() {
			return false
		}
	}
	return true
}

func (u unionSource) intervals(from time.Time) iter.Seq[Interval] {
	if len(u.children) == 0 {
		return fixedSource{}.intervals(from)
	}
	if !from.IsZero() {
		from = from.Add(-lookback)
	}
	seqs := make([]iter.Seq[Interval], len(u.children))
	for i, c := range u.children {
		seqs[i] = c.intervals(from)
	}
	return union(seqs)
}

type differenceSource struct {
	base     source
	subtract source
	log      *slog.Logger
}

func (d differenceSource) bounded() bool { return d.base.bounded() }

func (d differenceSource) intervals(from time.Time) iter.Seq[Interval] {
	if d.base.bounded() {
		return difference(d.base.intervals(from), d.subtract.intervals(from), 0)
	}
	return func(yield func(Interval) bool) {
		n := 0
		for iv := range difference(d.base.intervals(from), d.subtract.intervals(from), maxRemovedIntervals) {
			n++
			if !yield(iv) {
				return
			}
		}
		d.log.Warn("difference schedule produced no further intervals, giving up",
			slog.Int("yielded", n),
			slog.Int("removed_in_a_row", maxRemovedIntervals))
	}
}
