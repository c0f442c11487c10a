package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jaunis/xivo-stat/internal/agentstat"
	"github.com/jaunis/xivo-stat/internal/timeutil"
)

const periodicTable = "stat_agent_periodic"

// seconds converts a duration to the whole seconds stored in
// stat_agent_periodic, rounding half away from zero.
func seconds(d time.Duration) int64 {
	return int64(d.Round(time.Second) / time.Second)
}

// InsertStats stores one period's per-agent durations, one row per
// agent, in a single transaction.
func (db *DB) InsertStats(
	ctx context.Context, periodStart time.Time,
	stats agentstat.PeriodStats,
) error {
	if len(stats) == 0 {
		return nil
	}
	qb := db.sb.Insert(periodicTable).Columns(
		"time", "agent_id", "login_time", "pause_time", "wrapup_time",
	)
	ts := timeutil.FormatDB(periodStart)
	for _, agent := range stats.Agents() {
		as := stats[agent]
		qb = qb.Values(
			ts, int64(agent),
			seconds(as[agentstat.LoginTime]),
			seconds(as[agentstat.PauseTime]),
			seconds(as[agentstat.WrapupTime]),
		)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("building stats insert: %w", err)
	}
	return db.Update(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf(
				"inserting stats for period %s: %w", ts, err,
			)
		}
		return nil
	})
}

// RemoveAfter deletes every periodic row at or after cutoff and
// returns how many were removed.
func (db *DB) RemoveAfter(
	ctx context.Context, cutoff time.Time,
) (int64, error) {
	return db.deleteStats(ctx,
		sq.GtOrEq{"time": timeutil.FormatDB(cutoff)})
}

// Clean deletes all periodic statistics.
func (db *DB) Clean(ctx context.Context) (int64, error) {
	return db.deleteStats(ctx)
}

func (db *DB) deleteStats(
	ctx context.Context, where ...sq.Sqlizer,
) (int64, error) {
	qb := db.sb.Delete(periodicTable)
	for _, w := range where {
		qb = qb.Where(w)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building stats delete: %w", err)
	}

	var n int64
	err = db.Update(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("deleting stats: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// LastPeriodStart returns the most recent persisted period. The
// boolean is false when nothing has been stored yet.
func (db *DB) LastPeriodStart(
	ctx context.Context,
) (time.Time, bool, error) {
	return db.scanTime(ctx, "last stored period",
		db.sb.Select("MAX(time)").From(periodicTable))
}

// PeriodicStats reads back the stored statistics for periods
// starting within [start, end]. Zero durations are left out, so
// the result has the same sparse shape the computation produced.
func (db *DB) PeriodicStats(
	ctx context.Context, start, end time.Time,
) (agentstat.Statistics, error) {
	query, args, err := db.sb.Select(
		"time", "agent_id", "login_time", "pause_time", "wrapup_time",
	).
		From(periodicTable).
		Where(sq.GtOrEq{"time": timeutil.FormatDB(start)}).
		Where(sq.LtOrEq{"time": timeutil.FormatDB(end)}).
		OrderBy("time", "agent_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stats query: %w", err)
	}

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	stats := make(agentstat.Statistics)
	for rows.Next() {
		var (
			ts                   string
			agent                agentstat.AgentID
			login, pause, wrapup int64
		)
		if err := rows.Scan(
			&ts, &agent, &login, &pause, &wrapup,
		); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		period, err := timeutil.ParseDB(ts)
		if err != nil {
			return nil, err
		}
		stats.Add(period, agent, agentstat.LoginTime,
			time.Duration(login)*time.Second)
		stats.Add(period, agent, agentstat.PauseTime,
			time.Duration(pause)*time.Second)
		stats.Add(period, agent, agentstat.WrapupTime,
			time.Duration(wrapup)*time.Second)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stats: %w", err)
	}
	return stats, nil
}
