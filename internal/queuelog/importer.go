package queuelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaunis/xivo-stat/internal/db"
)

// DefaultBatchSize is the number of events stored per transaction.
const DefaultBatchSize = 500

// Store persists imported events together with the file position
// they were read up to. *db.DB satisfies it.
type Store interface {
	ImportOffset(ctx context.Context, path string) (db.ImportState, error)
	ImportBatch(
		ctx context.Context, path string, entries []db.QueueLogEntry,
		offset, size int64,
	) error
}

// Importer incrementally copies queue_log files into a Store.
type Importer struct {
	store     Store
	logger    zerolog.Logger
	batchSize int
}

// NewImporter returns an Importer writing to store.
func NewImporter(store Store, logger zerolog.Logger) *Importer {
	return &Importer{
		store:     store,
		logger:    logger,
		batchSize: DefaultBatchSize,
	}
}

// Result summarizes one Import call.
type Result struct {
	Path     string
	Imported int
	Skipped  int
	// Offset is the stored read position after the import.
	Offset int64
	// Reset is set when the file had shrunk or been recreated and
	// was read again from the beginning.
	Reset bool
}

// Import reads path from its last stored position and stores every
// complete line. A file smaller than the stored position is taken
// to have been truncated or rotated and is read from the start. A
// final line without a newline is left for the next import.
func (imp *Importer) Import(
	ctx context.Context, path string,
) (Result, error) {
	return imp.importFile(ctx, path, false)
}

// importFile is Import, reading from the beginning when restart is
// set.
func (imp *Importer) importFile(
	ctx context.Context, path string, restart bool,
) (Result, error) {
	res := Result{Path: path}
	log := imp.logger.With().Str("file", path).Logger()

	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("opening queue_log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return res, fmt.Errorf("stat queue_log: %w", err)
	}
	size := info.Size()

	st, err := imp.store.ImportOffset(ctx, path)
	if err != nil {
		return res, err
	}
	start := st.Offset
	switch {
	case restart && start > 0:
		log.Info().Int64("offset", start).
			Msg("queue_log recreated, importing from start")
		start = 0
		res.Reset = true
	case size < start:
		log.Warn().Int64("offset", start).Int64("size", size).
			Msg("queue_log shrank, reimporting from start")
		start = 0
		res.Reset = true
	}
	res.Offset = start
	if size == start && !res.Reset {
		return res, nil
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return res, fmt.Errorf("seeking queue_log: %w", err)
	}

	lr := newLineReader(f, MaxLineLen)
	lr.requireNewline = true

	batch := make([]db.QueueLogEntry, 0, imp.batchSize)
	flush := func() error {
		offset := start + lr.Offset()
		if err := imp.store.ImportBatch(
			ctx, path, batch, offset, size,
		); err != nil {
			return err
		}
		res.Imported += len(batch)
		res.Offset = offset
		batch = batch[:0]
		return nil
	}

	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		e, err := ParseLine(line)
		if err != nil {
			if !errors.Is(err, ErrMalformedLine) {
				return res, err
			}
			res.Skipped++
			log.Debug().Err(err).Msg("skipping queue_log line")
			continue
		}
		batch = append(batch, e)
		if len(batch) >= imp.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := lr.Err(); err != nil {
		return res, fmt.Errorf("reading queue_log: %w", err)
	}
	if len(batch) > 0 || start+lr.Offset() != res.Offset || res.Reset {
		if err := flush(); err != nil {
			return res, err
		}
	}

	log.Info().Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Int64("offset", res.Offset).
		Msg("queue_log imported")
	return res, nil
}

// Follow imports path, then keeps importing whenever it changes
// until ctx is canceled. A file recreated at path is read from the
// start. Import failures while following are logged and retried on
// the next change.
func (imp *Importer) Follow(
	ctx context.Context, path string, debounce time.Duration,
) error {
	var recreated atomic.Bool
	changed := make(chan struct{}, 1)
	w, err := NewWatcher(path, debounce, imp.logger, func(c Change) {
		if c.Recreated {
			recreated.Store(true)
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	w.Start()
	defer w.Stop()

	if _, err := imp.Import(ctx, path); err != nil {
		return err
	}

	imp.logger.Info().Str("file", path).Msg("following queue_log")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			_, err := imp.importFile(ctx, path, recreated.Swap(false))
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				imp.logger.Error().Err(err).Str("file", path).
					Msg("queue_log import failed")
			}
		}
	}
}
