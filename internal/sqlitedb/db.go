// Package sqlitedb stores document collections in a SQLite database.
//
// Every collection shares one table; a document is stored as JSON text next
// to its collection name and identifier. Selectors are evaluated in Go with
// backend.Match so both drivers agree on matching semantics.
package sqlitedb

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
		"sync/atomic"

	"github.com/maruel/uds/internal/backend"
	_ "github.com/mattn/go-sqlite3"
)

// migrations holds the schema steps, applied in file name order. Step i
// brings the database from user_version i to i+1. Published steps are never
// edited; changes go in a new file.
//
//go:embed migrations/*.sql
var migrations embed.FS

// connParams is appended to the file name. WAL lets readers proceed while a
// write is in progress.
const connParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// DB is a SQLite backed document database.
type DB struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ backend.Adapter = (*DB)(nil)

// Open opens the database file at path, creating it if needed, and brings
// its schema up to date.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+connParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// A single connection serializes writers and keeps per-connection
	// settings in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// schemaSteps returns the migration scripts in order.
func schemaSteps() ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	// fs.Glob returns names sorted.
	steps := make([]string, 0, len(names))
	for _, name := range names {
		data, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, string(data))
	}
	return steps, nil
}

// migrate applies the steps newer than the database's user_version, each in
// its own transaction together with the version bump.
func migrate(ctx context.Context, db *sql.DB) error {
	steps, err := schemaSteps()
	if err != nil {
		return err
	}
	var have int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&have); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if have > len(steps) {
		return fmt.Errorf("schema version %d was written by a newer release, this one knows %d", have, len(steps))
	}
	for v := have; v < len(steps); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, steps[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("step %d: %w", v+1, err)
		}
		// PRAGMA does not accept placeholders.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("step %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("step %d: %w", v+1, err)
		}
	}
	return nil
}

// Collection implements backend.Adapter.
func (d *DB) Collection(name string) (backend.Collection, error) {
	if d.closed.Load() {
		return nil, backend.ErrClosed
	}
	if err := backend.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	return &collection{db: d, name: name}, nil
}

// Close implements backend.Adapter.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.db.Close()
}

// row is a stored document with its storage key.
type row struct {
	seq int64
	doc backend.Document
}

// queryer is the subset of *sql.DB and *sql.Tx used to read documents.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// scan returns the documents of collection matching selector in insertion
// order. A selector on the identifier is pushed down to SQLite.
func scan(ctx context.Context, q queryer, collection string, selector backend.Document) ([]row, error) {
	query := "SELECT seq, doc FROM documents WHERE collection = ?"
	args := []any{collection}
	if id, ok := selector[backend.IDField].(string); ok {
		query += " AND id = ?"
		args = append(args, id)
	}
	query += " ORDER BY seq"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var out []row
	for rows.Next() {
		var r row
		var data string
		if err := rows.Scan(&r.seq, &data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &r.doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document %d: %w", r.seq, err)
		}
		if backend.Match(selector, r.doc) {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return out, nil
}
