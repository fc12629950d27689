package schedule

import (
	"fmt"
	"iter"
	"time"
)

// Interval is a half-open UTC time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.UTC().Format(time.RFC3339), i.End.UTC().Format(time.RFC3339))
}

// mergeHorizon bounds how long coalesce merges a gapless run before it
// yields a piece, so that schedules that never pause stay lazy.
const mergeHorizon = 7 * 24 * time.Hour

// coalesce merges overlapping or adjacent intervals of a sequence sorted by
// start time into maximal disjoint intervals.
//
// A positive horizon splits long runs: once a run has lasted at least
// horizon, it is cut at every multiple of horizon (counted from the zero
// time) that it crosses, and the pieces are yielded as soon as the run
// passes them. Cut points depend only on where the run starts, so any
// query that sees the run start, or at least 2*horizon of it, cuts it the
// same way.
func coalesce(seq iter.Seq[Interval], horizon time.Duration) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		var run time.Time // start of the run being merged
		var cur Interval  // part of the run not yet yielded
		have := false

		for iv := range seq {
			switch {
			case !have:
				run, cur, have = iv.Start, iv, true
			case !iv.Start.After(cur.End):
				if iv.End.After(cur.End) {
					cur.End = iv.End
				}
			default:
				if !yield(cur) {
					return
				}
				run, cur = iv.Start, iv
			}

			if horizon <= 0 {
				continue
			}
			for g := nextCut(run, cur.Start, horizon); g.Before(cur.End); g = g.Add(horizon) {
				if !yield(Interval{Start: cur.Start, End: g}) {
					return
				}
				cur.Start = g
			}
		}
		if have {
			yield(cur)
		}
	}
}

// nextCut returns the first multiple of horizon that is after start and at
// least horizon after run.
func nextCut(run, start time.Time, horizon time.Duration) time.Time {
	base := run.Add(horizon)
	if base.Before(start) {
		base = start
	}
	g := base.Truncate(horizon)
	if g.Before(base) {
		g = g.Add(horizon)
	}
	if !g.After(start) {
		g = g.Add(horizon)
	}
	return g
}

// mergeSorted interleaves several start-ordered sequences into one
// start-ordered sequence. The result may overlap; pass it to coalesce.
func mergeSorted(seqs []iter.Seq[Interval]) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		type head struct {
			next func() (Interval, bool)
			stop func()
			cur  Interval
			ok   bool
		}
		heads := make([]*head, 0, len(seqs))
		defer func() {
			for _, h := range heads {
				h.stop()
			}
		}()
		for _, seq := range seqs {
			next, stop := iter.Pull(seq)
			h := &head{next: next, stop: stop}
			h.cur, h.ok = next()
			heads = append(heads, h)
		}

		for {
			var min *head
			for _, h := range heads {
				if h.ok && (min == nil || h.cur.Start.Before(min.cur.Start)) {
					min = h
				}
			}
			if min == nil {
				return
			}
			if !yield(min.cur) {
				return
			}
			min.cur, min.ok = min.next()
		}
	}
}

// union returns the disjoint intervals covered by any of seqs, with runs
// longer than mergeHorizon split as coalesce does.
func union(seqs []iter.Seq[Interval]) iter.Seq[Interval] {
	if len(seqs) == 1 {
		return coalesce(seqs[0], mergeHorizon)
	}
	return coalesce(mergeSorted(seqs), mergeHorizon)
}

// difference removes from each interval of base the parts covered by
// subtract. Both inputs must be disjoint and start-ordered. If giveUp is
// positive, the sequence ends after that many consecutive base intervals
// were removed entirely, which keeps an unbounded base that is always
// covered from being searched forever.
func difference(base, subtract iter.Seq[Interval], giveUp int) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		next, stop := iter.Pull(subtract)
		defer stop()
		cut, ok := next()
		removed := 0

		for iv := range base {
			s := iv.Start
			emitted := false

			// Subtracted intervals that end before this one starts are spent.
			for ok && !cut.End.After(s) {
				cut, ok = next()
			}

			for ok && cut.Start.Before(iv.End) {
				if cut.Start.After(s) {
					emitted = true
					if !yield(Interval{Start: s, End: cut.Start}) {
						return
					}
				}
				if cut.End.After(s) {
					s = cut.End
				}
				if !s.Before(iv.End) {
					break
				}
				cut, ok = next()
			}

			if s.Before(iv.End) {
				emitted = true
				if !yield(Interval{Start: s, End: iv.End}) {
					return
				}
			}

			if emitted {
				removed = 0
				continue
			}
			removed++
			if giveUp > 0 && removed >= giveUp {
				return
			}
		}
	}
}
