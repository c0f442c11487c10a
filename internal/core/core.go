// Package core runs the agent statistics update: it computes
// per-period login, pause and wrapup durations from the configured
// sources and hands them to a sink one period at a time.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jaunis/xivo-stat/internal/agentstat"
)

// IntervalSource yields agent activity intervals overlapping a
// range. Intervals may extend past either bound.
type IntervalSource interface {
	LoginIntervalsInRange(
		ctx context.Context, start, end time.Time,
	) (map[agentstat.AgentID][]agentstat.Interval, error)
	PauseIntervalsInRange(
		ctx context.Context, start, end time.Time,
	) (map[agentstat.AgentID][]agentstat.Interval, error)
}

// WrapupSource yields wrapup durations already bucketed by period.
type WrapupSource interface {
	WrapupTimes(
		ctx context.Context, start, end time.Time,
		granularity time.Duration,
	) (agentstat.Statistics, error)
}

// StatsSink persists computed statistics.
type StatsSink interface {
	InsertStats(
		ctx context.Context, periodStart time.Time,
		stats agentstat.PeriodStats,
	) error
	RemoveAfter(ctx context.Context, cutoff time.Time) (int64, error)
	Clean(ctx context.Context) (int64, error)
}

// BoundsSource reports what is already known, to pick a default
// start for an update.
type BoundsSource interface {
	LastPeriodStart(ctx context.Context) (time.Time, bool, error)
	FirstEventTime(ctx context.Context) (time.Time, bool, error)
}

// Store is everything an Updater needs. *db.DB satisfies it.
type Store interface {
	IntervalSource
	WrapupSource
	StatsSink
	BoundsSource
}

// DefaultLookback is how far back an update starts when nothing
// has been stored or logged yet.
const DefaultLookback = 24 * time.Hour

// Updater computes and stores periodic agent statistics.
type Updater struct {
	intervals   IntervalSource
	wrapups     WrapupSource
	sink        StatsSink
	bounds      BoundsSource
	granularity time.Duration
	logger      zerolog.Logger
}

// NewUpdater returns an Updater reading from and writing to store.
func NewUpdater(
	store Store, granularity time.Duration, logger zerolog.Logger,
) *Updater {
	return &Updater{
		intervals:   store,
		wrapups:     store,
		sink:        store,
		bounds:      store,
		granularity: granularity,
		logger:      logger,
	}
}

// Result summarizes one update run.
type Result struct {
	RunID    string
	Start    time.Time
	End      time.Time
	Removed  int64
	Periods  int
	Agents   int
	Duration time.Duration
}

// DefaultStart picks the start of an update ending at end: the
// last stored period, else the first logged event, else
// DefaultLookback before end.
func (u *Updater) DefaultStart(
	ctx context.Context, end time.Time,
) (time.Time, error) {
	last, ok, err := u.bounds.LastPeriodStart(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("finding last period: %w", err)
	}
	if ok {
		return last, nil
	}
	first, ok, err := u.bounds.FirstEventTime(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("finding first event: %w", err)
	}
	if ok {
		return first, nil
	}
	return end.Add(-DefaultLookback), nil
}

// Compute returns the merged login, pause and wrapup statistics
// for [start, end] without storing anything.
func (u *Updater) Compute(
	ctx context.Context, start, end time.Time,
) (agentstat.Statistics, error) {
	computer, err := agentstat.NewTimeComputer(start, end, u.granularity)
	if err != nil {
		return nil, err
	}
	grid := computer.Grid()

	logins, err := u.intervals.LoginIntervalsInRange(
		ctx, grid.Start(), grid.End(),
	)
	if err != nil {
		return nil, err
	}
	pauses, err := u.intervals.PauseIntervalsInRange(
		ctx, grid.Start(), grid.End(),
	)
	if err != nil {
		return nil, err
	}
	wrapups, err := u.wrapups.WrapupTimes(
		ctx, grid.Start(), grid.End(), u.granularity,
	)
	if err != nil {
		return nil, err
	}

	stats, err := agentstat.MergeAll(
		computer.Compute(agentstat.LoginTime, logins),
		computer.Compute(agentstat.PauseTime, pauses),
		wrapups,
	)
	if err != nil {
		return nil, fmt.Errorf("merging agent statistics: %w", err)
	}
	return stats, nil
}

// UpdateDB replaces the stored statistics from start onwards with
// freshly computed ones for [start, end]. start is truncated to the
// granularity so the first period is complete. Periods are written
// in chronological order, each in its own transaction. Rerunning a
// failed update over the same range repairs it.
func (u *Updater) UpdateDB(
	ctx context.Context, start, end time.Time,
) (Result, error) {
	began := time.Now()
	res := Result{RunID: uuid.NewString()}
	log := u.logger.With().Str("run_id", res.RunID).Logger()

	start = start.Truncate(u.granularity)
	grid, err := agentstat.NewGrid(start, end, u.granularity)
	if err != nil {
		return res, err
	}
	res.Start, res.End = grid.Start(), grid.End()
	log.Info().
		Time("start", res.Start).
		Time("end", res.End).
		Dur("period", u.granularity).
		Msg("filling agent periodic statistics")

	stats, err := u.Compute(ctx, start, end)
	if err != nil {
		return res, err
	}

	res.Removed, err = u.sink.RemoveAfter(ctx, res.Start)
	if err != nil {
		return res, fmt.Errorf("removing stale statistics: %w", err)
	}
	if res.Removed > 0 {
		log.Debug().Int64("rows", res.Removed).
			Msg("removed statistics after start")
	}

	agents := make(map[agentstat.AgentID]struct{})
	for _, period := range stats.Periods() {
		ps := stats[period]
		if err := u.sink.InsertStats(ctx, period, ps); err != nil {
			return res, err
		}
		for agent := range ps {
			agents[agent] = struct{}{}
		}
		res.Periods++
		log.Debug().Time("period", period).Int("agents", len(ps)).
			Msg("inserted period")
	}
	res.Agents = len(agents)
	res.Duration = time.Since(began)

	log.Info().
		Int("periods", res.Periods).
		Int("agents", res.Agents).
		Dur("elapsed", res.Duration).
		Msg("agent periodic statistics filled")
	return res, nil
}

// CleanDB deletes every stored periodic statistic.
func (u *Updater) CleanDB(ctx context.Context) (int64, error) {
	n, err := u.sink.Clean(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleaning statistics: %w", err)
	}
	u.logger.Info().Int64("rows", n).
		Msg("agent periodic statistics cleaned")
	return n, nil
}
