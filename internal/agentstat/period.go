// Package agentstat splits agent activity intervals into fixed-size
// reporting periods and accumulates per-agent durations for each
// activity type.
package agentstat

import (
	"fmt"
	"time"
)

// Period is a half-open bucket [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// InvalidRangeError reports a reporting range that cannot be
// divided into periods.
type InvalidRangeError struct {
	Start       time.Time
	End         time.Time
	Granularity time.Duration
}

func (e *InvalidRangeError) Error() string {
	if e.Granularity <= 0 {
		return fmt.Sprintf(
			"invalid period granularity %s: must be positive",
			e.Granularity,
		)
	}
	return fmt.Sprintf(
		"invalid range: end %s is before start %s",
		e.End.Format(time.RFC3339Nano),
		e.Start.Format(time.RFC3339Nano),
	)
}

// Grid is the ordered, gap-free sequence of periods covering an
// inclusive [start, end] range. The first period starts at start
// truncated to the granularity; the last one contains end.
type Grid struct {
	start       time.Time
	end         time.Time
	first       time.Time
	granularity time.Duration
	n           int
}

// NewGrid builds the period grid for [start, end].
func NewGrid(
	start, end time.Time, granularity time.Duration,
) (Grid, error) {
	if granularity <= 0 || end.Before(start) {
		return Grid{}, &InvalidRangeError{
			Start:       start,
			End:         end,
			Granularity: granularity,
		}
	}
	first := periodKey(start.Truncate(granularity))
	n := int(end.Sub(first)/granularity) + 1
	return Grid{
		start:       start,
		end:         end,
		first:       first,
		granularity: granularity,
		n:           n,
	}, nil
}

// Start returns the inclusive start of the reporting range.
func (g Grid) Start() time.Time { return g.start }

// End returns the inclusive end of the reporting range.
func (g Grid) End() time.Time { return g.end }

// Granularity returns the period size.
func (g Grid) Granularity() time.Duration { return g.granularity }

// Len returns the number of periods.
func (g Grid) Len() int { return g.n }

// Period returns the i-th period.
func (g Grid) Period(i int) Period {
	s := g.first.Add(time.Duration(i) * g.granularity)
	return Period{Start: s, End: s.Add(g.granularity)}
}

// Periods returns every period in chronological order.
func (g Grid) Periods() []Period {
	out := make([]Period, g.n)
	for i := 0; i < g.n; i++ {
		out[i] = g.Period(i)
	}
	return out
}

// Index returns the index of the period containing t. The result
// is negative for instants before the first period and >= Len for
// instants after the last one.
func (g Grid) Index(t time.Time) int {
	d := t.Sub(g.first)
	if d < 0 {
		// Floor division for instants before the grid.
		return int((d+1)/g.granularity) - 1
	}
	return int(d / g.granularity)
}

// periodKey canonicalizes an instant for use as a map key: UTC
// location, no monotonic reading.
func periodKey(t time.Time) time.Time {
	return t.UTC().Round(0)
}
