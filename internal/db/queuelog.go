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

// maxSQLVars is the maximum bind variables per statement, kept
// under SQLite's default SQLITE_MAX_VARIABLE_NUMBER (999).
const maxSQLVars = 500

// queueLogColumns lists the insertable queue_log columns.
var queueLogColumns = []string{
	"time", "callid", "queuename", "agent", "event",
	"data1", "data2", "data3", "data4", "data5",
}

// QueueLogEntry is one queue_log event.
type QueueLogEntry struct {
	Time   time.Time
	CallID string
	Queue  string
	Agent  string
	Event  string
	Data   [5]string
}

func (e QueueLogEntry) values() []any {
	return []any{
		timeutil.FormatDB(e.Time), e.CallID, e.Queue, e.Agent,
		e.Event, e.Data[0], e.Data[1], e.Data[2], e.Data[3],
		e.Data[4],
	}
}

// InsertQueueLog stores entries in one transaction and registers
// every agent they mention in stat_agent.
func (db *DB) InsertQueueLog(
	ctx context.Context, entries []QueueLogEntry,
) error {
	if len(entries) == 0 {
		return nil
	}
	return db.Update(ctx, func(tx *sql.Tx) error {
		return db.insertQueueLog(ctx, tx, entries)
	})
}

func (db *DB) insertQueueLog(
	ctx context.Context, tx *sql.Tx, entries []QueueLogEntry,
) error {
	perStmt := maxSQLVars / len(queueLogColumns)
	for i := 0; i < len(entries); i += perStmt {
		end := min(i+perStmt, len(entries))
		qb := db.sb.Insert("queue_log").Columns(queueLogColumns...)
		for _, e := range entries[i:end] {
			qb = qb.Values(e.values()...)
		}
		query, args, err := qb.ToSql()
		if err != nil {
			return fmt.Errorf("building queue_log insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting queue_log: %w", err)
		}
	}

	var names []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.Agent == "" || e.Agent == "NONE" || seen[e.Agent] {
			continue
		}
		seen[e.Agent] = true
		names = append(names, e.Agent)
	}
	return db.ensureAgents(ctx, tx, names)
}

// EnsureAgents registers agent names that are not yet known.
func (db *DB) EnsureAgents(ctx context.Context, names []string) error {
	return db.Update(ctx, func(tx *sql.Tx) error {
		return db.ensureAgents(ctx, tx, names)
	})
}

func (db *DB) ensureAgents(
	ctx context.Context, tx *sql.Tx, names []string,
) error {
	for _, name := range names {
		query, args, err := db.sb.Insert("stat_agent").
			Columns("name").
			Values(name).
			Suffix("ON CONFLICT (name) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("building agent insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("registering agent %s: %w", name, err)
		}
	}
	return nil
}

// AgentIDs returns the stat_agent name to ID mapping.
func (db *DB) AgentIDs(
	ctx context.Context,
) (map[string]agentstat.AgentID, error) {
	query, args, err := db.sb.Select("id", "name").
		From("stat_agent").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building agent query: %w", err)
	}
	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]agentstat.AgentID)
	for rows.Next() {
		var id agentstat.AgentID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return ids, nil
}

// FirstEventTime returns the time of the oldest queue_log event.
// The boolean is false when the log is empty.
func (db *DB) FirstEventTime(
	ctx context.Context,
) (time.Time, bool, error) {
	return db.scanTime(ctx, "first queue_log event",
		db.sb.Select("MIN(time)").From("queue_log"))
}

// scanTime runs a single-value time query. NULL yields false.
func (db *DB) scanTime(
	ctx context.Context, what string, qb sq.SelectBuilder,
) (time.Time, bool, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf(
			"building %s query: %w", what, err,
		)
	}
	var raw sql.NullString
	if err := db.reader.QueryRowContext(ctx, query, args...).
		Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf(
			"querying %s: %w", what, err,
		)
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	t, err := timeutil.ParseDB(raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
