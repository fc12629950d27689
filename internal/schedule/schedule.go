package schedule

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrConfig is wrapped by every error caused by an invalid schedule.
var ErrConfig = errors.New("invalid schedule")

// Site locates the station. Latitude and Longitude are required only when a
// schedule refers to solar events. A nil Location means UTC.
type Site struct {
	Latitude  *float64
	Longitude *float64
	Location  *time.Location
}

// Schedule is an immutable, compiled set of disjoint, start-ordered
// intervals. It is safe for concurrent use.
type Schedule struct {
	src source
}

// Option configures Compile.
type Option func(*options)

type options struct {
	eph    Ephemeris
	origin time.Time
	log    *slog.Logger
}

// WithEphemeris sets the oracle used to resolve solar events. The default
// is Sun.
func WithEphemeris(e Ephemeris) Option {
	return func(o *options) { o.eph = e }
}

// WithOrigin sets the earliest bound of recurring intervals that have no
// start date. The default is the time of compilation.
func WithOrigin(t time.Time) Option {
	return func(o *options) { o.origin = t }
}

// WithLogger sets the logger used while compiling and generating intervals.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// Compile builds a Schedule from spec.
func Compile(spec Spec, s Site, opts ...Option) (*Schedule, error) {
	o := options{eph: Sun{}, origin: time.Now(), log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	c := &compiler{
		site:   &site{lat: s.Latitude, lon: s.Longitude, loc: loc},
		opts:   o,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}

	if spec.kinds() == 0 {
		return &Schedule{src: fixedSource{}}, nil
	}
	src, err := c.compile(spec)
	if err != nil {
		return nil, err
	}

	o.log.Debug("schedule compiled",
		slog.String("time_zone", loc.String()),
		slog.Bool("bounded", src.bounded()))
	return &Schedule{src: src}, nil
}

// Intervals returns the intervals that end after start and begin before
// end, in increasing start order. A zero start means the schedule's
// earliest bound and a zero end means no bound. The sequence is infinite
// when the schedule is unbounded and end is zero.
func (s *Schedule) Intervals(start, end time.Time) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		for iv := range s.src.intervals(start) {
			if !end.IsZero() && !iv.Start.Before(end) {
				return
			}
			if !start.IsZero() && !iv.End.After(start) {
				continue
			}
			if !yield(iv) {
				return
			}
		}
	}
}

// Find returns the interval containing t, or failing that the first
// interval after t.
func (s *Schedule) Find(t time.Time) (Interval, bool) {
	for iv := range s.Intervals(t, time.Time{}) {
		return iv, true
	}
	return Interval{}, false
}

// Bounded reports whether the schedule has finitely many intervals.
func (s *Schedule) Bounded() bool {
	return s.src.bounded()
}

type compiler struct {
	site   *site
	opts   options
	parser cron.Parser
}

func (c *compiler) compile(spec Spec) (source, error) {
	switch n := spec.kinds(); {
	case n == 0:
		return nil, fmt.Errorf("%w: empty schedule node", ErrConfig)
	case n > 1:
		return nil, fmt.Errorf("%w: schedule node has %d kinds, want one", ErrConfig, n)
	}

	switch {
	case spec.Interval != nil:
		iv, err := c.interval(*spec.Interval)
		if err != nil {
			return nil, err
		}
		return fixedSource{list: []Interval{iv}}, nil

	case spec.Intervals != nil:
		list := make([]Interval, 0, len(spec.Intervals))
		for _, is := range spec.Intervals {
			iv, err := c.interval(is)
			if err != nil {
				return nil, err
			}
			list = append(list, iv)
		}
		slices.SortFunc(list, func(a, b Interval) int { return a.Start.Compare(b.Start) })
		return fixedSource{list: slices.Collect(coalesce(slices.Values(list), 0))}, nil

	case spec.Daily != nil:
		return c.daily(*spec.Daily)

	case spec.Cron != nil:
		return c.cron(*spec.Cron)

	case spec.Union != nil:
		children, err := c.compileAll(spec.Union)
		if err != nil {
			return nil, err
		}
		return unionSource{children: children}, nil

	default:
		if len(spec.Difference) == 0 {
			return nil, fmt.Errorf("%w: difference needs a base schedule", ErrConfig)
		}
		children, err := c.compileAll(spec.Difference)
		if err != nil {
			return nil, err
		}
		if len(children) == 1 {
			return children[0], nil
		}
		return differenceSource{base: children[0], subtract: unionSource{children: children[1:]}, log: c.opts.log}, nil
	}
}

func (c *compiler) compileAll(specs []Spec) ([]source, error) {
	out := make([]source, 0, len(specs))
	for _, s := range specs {
		src, err := c.compile(s)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func (c *compiler) interval(is IntervalSpec) (Interval, error) {
	if is.Start == "" {
		return Interval{}, fmt.Errorf("%w: interval has no start", ErrConfig)
	}
	start, err := parseDateTime(is.Start, c.site.loc)
	if err != nil {
		return Interval{}, err
	}
	end, err := c.end(start, is.End, is.Duration)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Start: start, End: end}, nil
}

func (c *compiler) end(start time.Time, end, duration string) (time.Time, error) {
	switch {
	case end != "" && duration != "":
		return time.Time{}, fmt.Errorf("%w: interval has both end and duration", ErrConfig)
	case duration != "":
		d, err := c.duration(duration)
		if err != nil {
			return time.Time{}, err
		}
		return start.Add(d), nil
	case end != "":
		t, err := parseDateTime(end, c.site.loc)
		if err != nil {
			return time.Time{}, err
		}
		if !t.After(start) {
			return time.Time{}, fmt.Errorf("%w: interval end %s is not after start %s", ErrConfig, end, start.Format(time.RFC3339))
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: interval needs an end or a duration", ErrConfig)
	}
}

func (c *compiler) duration(s string) (time.Duration, error) {
	d, err := parseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: duration %q is not positive", ErrConfig, s)
	}
	return d, nil
}

func (c *compiler) dateRange(startDate, endDate string) (first, last time.Time, err error) {
	if startDate != "" {
		if first, err = parseDate(startDate, c.site.loc); err != nil {
			return
		}
	}
	if endDate != "" {
		if last, err = parseDate(endDate, c.site.loc); err != nil {
			return
		}
	}
	if !first.IsZero() && !last.IsZero() && last.Before(first) {
		err = fmt.Errorf("%w: end date %s is before start date %s", ErrConfig, endDate, startDate)
	}
	return
}

func (c *compiler) timeExpr(s string) (timeExpr, error) {
	e, err := parseTimeExpr(s)
	if err != nil {
		return timeExpr{}, err
	}
	if e.solar() && (c.site.lat == nil || c.site.lon == nil) {
		return timeExpr{}, fmt.Errorf("%w: time %q refers to a solar event but the station has no latitude and longitude", ErrConfig, s)
	}
	return e, nil
}

func (c *compiler) daily(ds DailySpec) (source, error) {
	first, last, err := c.dateRange(ds.StartDate, ds.EndDate)
	if err != nil {
		return nil, err
	}
	if ds.StartTime == "" {
		return nil, fmt.Errorf("%w: daily schedule has no start time", ErrConfig)
	}
	start, err := c.timeExpr(ds.StartTime)
	if err != nil {
		return nil, err
	}

	d := &dailySource{
		first:  first,
		last:   last,
		start:  start,
		site:   c.site,
		eph:    c.opts.eph,
		origin: c.opts.origin,
		log:    c.opts.log,
	}

	switch {
	case ds.EndTime != "" && ds.Duration != "":
		return nil, fmt.Errorf("%w: daily schedule has both end time and duration", ErrConfig)
	case ds.Duration != "":
		if d.duration, err = c.duration(ds.Duration); err != nil {
			return nil, err
		}
	case ds.EndTime != "":
		end, err := c.timeExpr(ds.EndTime)
		if err != nil {
			return nil, err
		}
		if end == start {
			return nil, fmt.Errorf("%w: daily end time %q equals start time", ErrConfig, ds.EndTime)
		}
		d.end = &end
	default:
		return nil, fmt.Errorf("%w: daily schedule needs an end time or a duration", ErrConfig)
	}
	return d, nil
}

func (c *compiler) cron(cs CronSpec) (source, error) {
	sched, err := c.parser.Parse(cs.Expression)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression: %v", ErrConfig, err)
	}
	d, err := c.duration(cs.Duration)
	if err != nil {
		return nil, err
	}
	first, last, err := c.dateRange(cs.StartDate, cs.EndDate)
	if err != nil {
		return nil, err
	}
	src := &cronSource{sched: sched, duration: d, first: first, loc: c.site.loc, origin: c.opts.origin}
	if !last.IsZero() {
		src.limit = last.AddDate(0, 0, 1)
	}
	return src, nil
}
