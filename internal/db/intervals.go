package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jaunis/xivo-stat/internal/agentstat"
	"github.com/jaunis/xivo-stat/internal/timeutil"
)

// queue_log event names used to derive agent activity.
const (
	EventAgentLogin          = "AGENTLOGIN"
	EventAgentCallbackLogin  = "AGENTCALLBACKLOGIN"
	EventAgentLogoff         = "AGENTLOGOFF"
	EventAgentCallbackLogoff = "AGENTCALLBACKLOGOFF"
	EventPauseAll            = "PAUSEALL"
	EventUnpauseAll          = "UNPAUSEALL"
	EventWrapupStart         = "WRAPUPSTART"
)

// agentEvent is a queue_log row reduced to what interval pairing
// needs.
type agentEvent struct {
	Time  time.Time
	Agent agentstat.AgentID
	Event string
	Data1 string
	Data2 string
}

// pairing describes which events open and close an activity.
type pairing struct {
	opens  []string
	closes []string
	// closeCarriesDuration means a close without a matching open
	// holds the elapsed seconds in data2, as AGENTLOGOFF does.
	closeCarriesDuration bool
}

var (
	loginPairing = pairing{
		opens:                []string{EventAgentLogin, EventAgentCallbackLogin},
		closes:               []string{EventAgentLogoff, EventAgentCallbackLogoff},
		closeCarriesDuration: true,
	}
	pausePairing = pairing{
		opens: []string{EventPauseAll},
		closes: []string{
			EventUnpauseAll, EventAgentLogoff, EventAgentCallbackLogoff,
		},
	}
)

func (p pairing) events() []string {
	return append(append([]string(nil), p.opens...), p.closes...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// pairIntervals folds chronologically ordered events into closed
// intervals per agent. Activities still open after the last event
// are closed at end. A second open while already open is ignored.
func pairIntervals(
	events []agentEvent, p pairing, end time.Time,
) map[agentstat.AgentID][]agentstat.Interval {
	out := make(map[agentstat.AgentID][]agentstat.Interval)
	open := make(map[agentstat.AgentID]time.Time)

	for _, ev := range events {
		switch {
		case contains(p.opens, ev.Event):
			if _, ok := open[ev.Agent]; !ok {
				open[ev.Agent] = ev.Time
			}
		case contains(p.closes, ev.Event):
			if start, ok := open[ev.Agent]; ok {
				out[ev.Agent] = append(out[ev.Agent],
					agentstat.Interval{Start: start, End: ev.Time})
				delete(open, ev.Agent)
				continue
			}
			if !p.closeCarriesDuration {
				continue
			}
			if secs, ok := parseSeconds(ev.Data2); ok && secs > 0 {
				out[ev.Agent] = append(out[ev.Agent], agentstat.Interval{
					Start: ev.Time.Add(-secs),
					End:   ev.Time,
				})
			}
		}
	}

	for agent, start := range open {
		if start.After(end) {
			continue
		}
		out[agent] = append(out[agent],
			agentstat.Interval{Start: start, End: end})
	}
	return out
}

// overlapping keeps the intervals that intersect [start, end] and
// drops agents left without any.
func overlapping(
	in map[agentstat.AgentID][]agentstat.Interval, start, end time.Time,
) map[agentstat.AgentID][]agentstat.Interval {
	out := make(map[agentstat.AgentID][]agentstat.Interval, len(in))
	for agent, ivs := range in {
		for _, iv := range ivs {
			if iv.End.Before(start) || iv.Start.After(end) {
				continue
			}
			out[agent] = append(out[agent], iv)
		}
	}
	return out
}

// parseSeconds reads a queue_log numeric field holding seconds.
func parseSeconds(s string) (time.Duration, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

// agentEvents loads the given events for registered agents in
// chronological order, restricted by where.
func (db *DB) agentEvents(
	ctx context.Context, names []string, where ...sq.Sqlizer,
) ([]agentEvent, error) {
	qb := db.sb.Select(
		"q.time", "a.id", "q.event", "q.data1", "q.data2",
	).
		From("queue_log q").
		Join("stat_agent a ON a.name = q.agent").
		Where(sq.Eq{"q.event": names}).
		OrderBy("q.time", "q.id")
	for _, w := range where {
		qb = qb.Where(w)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building agent event query: %w", err)
	}

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agent events: %w", err)
	}
	defer rows.Close()

	var events []agentEvent
	for rows.Next() {
		var ev agentEvent
		var ts string
		if err := rows.Scan(
			&ts, &ev.Agent, &ev.Event, &ev.Data1, &ev.Data2,
		); err != nil {
			return nil, fmt.Errorf("scanning agent event: %w", err)
		}
		if ev.Time, err = timeutil.ParseDB(ts); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent events: %w", err)
	}
	return events, nil
}

// sinceLastClose keeps the events at or after the agent's last
// closing event before start. Nothing earlier can leave an
// activity open at start.
func sinceLastClose(p pairing, start string) sq.Sqlizer {
	args := make([]any, 0, len(p.closes)+1)
	for _, name := range p.closes {
		args = append(args, name)
	}
	args = append(args, start)
	return sq.Expr(
		"q.time >= COALESCE((SELECT MAX(c.time) FROM queue_log c"+
			" WHERE c.agent = q.agent AND c.event IN ("+
			sq.Placeholders(len(p.closes))+") AND c.time < ?), '')",
		args...,
	)
}

// intervalsInRange pairs the events that can affect [start, end]:
// those since each agent's last close before start, then those in
// the range itself.
func (db *DB) intervalsInRange(
	ctx context.Context, p pairing, start, end time.Time,
) (map[agentstat.AgentID][]agentstat.Interval, error) {
	from := timeutil.FormatDB(start)
	before, err := db.agentEvents(ctx, p.events(),
		sq.Lt{"q.time": from}, sinceLastClose(p, from))
	if err != nil {
		return nil, err
	}
	during, err := db.agentEvents(ctx, p.events(),
		sq.GtOrEq{"q.time": from},
		sq.LtOrEq{"q.time": timeutil.FormatDB(end)})
	if err != nil {
		return nil, err
	}
	events := append(before, during...)
	return overlapping(pairIntervals(events, p, end), start, end), nil
}

// LoginIntervalsInRange returns each agent's login sessions that
// overlap [start, end]. Sessions may extend past either bound.
func (db *DB) LoginIntervalsInRange(
	ctx context.Context, start, end time.Time,
) (map[agentstat.AgentID][]agentstat.Interval, error) {
	ivs, err := db.intervalsInRange(ctx, loginPairing, start, end)
	if err != nil {
		return nil, fmt.Errorf("computing login intervals: %w", err)
	}
	return ivs, nil
}

// PauseIntervalsInRange returns each agent's pauses that overlap
// [start, end]. A logoff ends any pause in progress.
func (db *DB) PauseIntervalsInRange(
	ctx context.Context, start, end time.Time,
) (map[agentstat.AgentID][]agentstat.Interval, error) {
	ivs, err := db.intervalsInRange(ctx, pausePairing, start, end)
	if err != nil {
		return nil, fmt.Errorf("computing pause intervals: %w", err)
	}
	return ivs, nil
}

// WrapupTimes returns wrapup durations bucketed by period. Each
// WRAPUPSTART contributes its full duration (data1, seconds) to
// the period containing the event.
func (db *DB) WrapupTimes(
	ctx context.Context, start, end time.Time,
	granularity time.Duration,
) (agentstat.Statistics, error) {
	if _, err := agentstat.NewGrid(start, end, granularity); err != nil {
		return nil, err
	}
	events, err := db.agentEvents(ctx, []string{EventWrapupStart},
		sq.GtOrEq{"q.time": timeutil.FormatDB(start)},
		sq.LtOrEq{"q.time": timeutil.FormatDB(end)},
	)
	if err != nil {
		return nil, fmt.Errorf("computing wrapup times: %w", err)
	}

	stats := make(agentstat.Statistics)
	for _, ev := range events {
		d, ok := parseSeconds(ev.Data1)
		if !ok {
			continue
		}
		stats.Add(ev.Time.Truncate(granularity), ev.Agent,
			agentstat.WrapupTime, d)
	}
	return stats, nil
}
