package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jaunis/xivo-stat/internal/timeutil"
)

// ImportState records how far a queue_log file has been read.
type ImportState struct {
	Path      string
	Offset    int64
	Size      int64
	UpdatedAt time.Time
}

// ImportOffset returns the persisted read position for path. The
// zero state is returned when the file was never imported.
func (db *DB) ImportOffset(
	ctx context.Context, path string,
) (ImportState, error) {
	query, args, err := db.sb.Select(
		"byte_offset", "file_size", "updated_at",
	).
		From("queue_log_files").
		Where(sq.Eq{"path": path}).
		ToSql()
	if err != nil {
		return ImportState{}, fmt.Errorf(
			"building import offset query: %w", err,
		)
	}

	st := ImportState{Path: path}
	var updated string
	err = db.reader.QueryRowContext(ctx, query, args...).
		Scan(&st.Offset, &st.Size, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return ImportState{}, fmt.Errorf(
			"loading import offset for %s: %w", path, err,
		)
	}
	if st.UpdatedAt, err = timeutil.ParseDB(updated); err != nil {
		return ImportState{}, err
	}
	return st, nil
}

// SetImportOffset persists the read position for path.
func (db *DB) SetImportOffset(
	ctx context.Context, path string, offset, size int64,
) error {
	return db.Update(ctx, func(tx *sql.Tx) error {
		return db.setImportOffset(ctx, tx, path, offset, size)
	})
}

// ImportBatch stores entries read from path and advances its read
// position in the same transaction, so a batch is never imported
// twice.
func (db *DB) ImportBatch(
	ctx context.Context, path string, entries []QueueLogEntry,
	offset, size int64,
) error {
	return db.Update(ctx, func(tx *sql.Tx) error {
		if len(entries) > 0 {
			if err := db.insertQueueLog(ctx, tx, entries); err != nil {
				return err
			}
		}
		return db.setImportOffset(ctx, tx, path, offset, size)
	})
}

func (db *DB) setImportOffset(
	ctx context.Context, tx *sql.Tx, path string, offset, size int64,
) error {
	query, args, err := db.sb.Insert("queue_log_files").
		Columns("path", "byte_offset", "file_size", "updated_at").
		Values(path, offset, size,
			timeutil.FormatDB(time.Now())).
		Suffix("ON CONFLICT (path) DO UPDATE SET" +
			" byte_offset = excluded.byte_offset," +
			" file_size = excluded.file_size," +
			" updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building import offset upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving import offset for %s: %w", path, err)
	}
	return nil
}
