package agentstat

import "time"

// TimeComputer turns per-agent activity intervals into period
// statistics over a fixed reporting range.
type TimeComputer struct {
	grid Grid
}

// NewTimeComputer builds the period grid for [start, end] once so
// it can be reused for every activity type.
func NewTimeComputer(
	start, end time.Time, granularity time.Duration,
) (*TimeComputer, error) {
	grid, err := NewGrid(start, end, granularity)
	if err != nil {
		return nil, err
	}
	return &TimeComputer{grid: grid}, nil
}

// Grid returns the period grid the computer buckets into.
func (c *TimeComputer) Grid() Grid { return c.grid }

// Compute splits every interval across the periods it overlaps and
// accumulates the clipped durations under activity. Portions
// outside the reporting range are discarded.
func (c *TimeComputer) Compute(
	activity ActivityType, intervals map[AgentID][]Interval,
) Statistics {
	stats := make(Statistics)
	for agent, ivs := range intervals {
		for _, iv := range ivs {
			c.accumulate(stats, agent, activity, iv)
		}
	}
	return stats
}

func (c *TimeComputer) accumulate(
	stats Statistics, agent AgentID,
	activity ActivityType, iv Interval,
) {
	clipped, ok := iv.Clip(c.grid.Start(), c.grid.End())
	if !ok {
		return
	}
	first := max(c.grid.Index(clipped.Start), 0)
	last := min(c.grid.Index(clipped.End), c.grid.Len()-1)
	for i := first; i <= last; i++ {
		p := c.grid.Period(i)
		stats.Add(p.Start, agent, activity, Overlap(clipped, p.Start, p.End))
	}
}
