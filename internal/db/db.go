package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

// DB manages a write connection and a read pool over the
// statistics database. For PostgreSQL both share one pool.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	driver string
	sb     sq.StatementBuilderType
	mu     sync.Mutex // serializes writes
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_cache_size", "-64000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// newDB wraps already-open pools without touching the schema.
func newDB(driver string, writer, reader *sql.DB) *DB {
	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		placeholder = sq.Dollar
	}
	return &DB{
		writer: writer,
		reader: reader,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

// Open creates or opens a SQLite database at the given path.
// It configures WAL mode and returns a DB with separate writer
// and reader connections.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open(DriverSQLite, makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	// The read-only pool cannot create the file, so the schema
	// must exist before it is first used.
	db := newDB(DriverSQLite, writer, nil)
	if err := db.init(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	reader, err := sql.Open(DriverSQLite, makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	db.reader = reader
	return db, nil
}

// OpenPostgres connects to PostgreSQL using a lib/pq DSN and
// creates any missing tables.
func OpenPostgres(dsn string) (*DB, error) {
	pool, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db := newDB(DriverPostgres, pool, pool)
	if err := db.init(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

// OpenDriver opens the database for the named driver. source is a
// file path for SQLite and a DSN for PostgreSQL.
func OpenDriver(driver, source string) (*DB, error) {
	switch driver {
	case DriverSQLite, "":
		return Open(source)
	case DriverPostgres:
		return OpenPostgres(source)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (db *DB) init() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	schema := schemaSQLite
	if db.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := db.writer.Exec(schema)
	return err
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Close closes both writer and reader connections.
func (db *DB) Close() error {
	if db.reader == nil || db.reader == db.writer {
		return db.writer.Close()
	}
	return errors.Join(db.writer.Close(), db.reader.Close())
}

// Update executes fn within a write lock and transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (db *DB) Update(
	ctx context.Context, fn func(tx *sql.Tx) error,
) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Reader returns the read pool.
func (db *DB) Reader() *sql.DB {
	return db.reader
}
