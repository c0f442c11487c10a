package agentstat

import "time"

// Interval is one continuous span of agent activity.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the interval length, zero for inverted
// intervals.
func (iv Interval) Duration() time.Duration {
	if iv.End.Before(iv.Start) {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Clip restricts iv to [start, end]. The boolean is false when
// the two do not intersect.
func (iv Interval) Clip(start, end time.Time) (Interval, bool) {
	lo := latest(iv.Start, start)
	hi := earliest(iv.End, end)
	if hi.Before(lo) {
		return Interval{}, false
	}
	return Interval{Start: lo, End: hi}, true
}

// Overlap returns how much of iv falls inside the bucket
// [bucketStart, bucketEnd). It is zero when they are disjoint.
func Overlap(
	iv Interval, bucketStart, bucketEnd time.Time,
) time.Duration {
	lo := latest(iv.Start, bucketStart)
	hi := earliest(iv.End, bucketEnd)
	if !hi.After(lo) {
		return 0
	}
	return hi.Sub(lo)
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
