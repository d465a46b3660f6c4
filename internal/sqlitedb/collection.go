package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maruel/uds/internal/backend"
)

type collection struct {
	db   *DB
	name string
}

var _ backend.Collection = (*collection)(nil)

func (c *collection) check(ctx context.Context) error {
	if c.db.closed.Load() {
		return backend.ErrClosed
	}
	return ctx.Err()
}

// withTx runs fn in a transaction, committing if it returns nil.
func (c *collection) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Insert implements backend.Collection.
func (c *collection) Insert(ctx context.Context, docs ...backend.Document) ([]backend.Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	var out []backend.Document
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		prepared, err := c.prepare(ctx, tx, docs)
		if err != nil {
			return err
		}
		for _, d := range prepared {
			if err := insertDoc(ctx, tx, c.name, d); err != nil {
				return err
			}
		}
		out = prepared
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Find implements backend.Collection.
func (c *collection) Find(ctx context.Context, selector backend.Document) (backend.Cursor, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	sel, err := normalizeSelector(selector)
	if err != nil {
		return nil, err
	}
	rows, err := scan(ctx, c.db.db, c.name, sel)
	if err != nil {
		return nil, err
	}
	out := make(backend.SliceCursor, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

// Update implements backend.Collection.
func (c *collection) Update(ctx context.Context, selector, update backend.Document, opts backend.UpdateOptions) (int, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	sel, err := normalizeSelector(selector)
	if err != nil {
		return 0, err
	}
	if update == nil {
		return 0, fmt.Errorf("%w: nil update", backend.ErrBadUpdate)
	}
	norm, err := backend.Normalize(update)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", backend.ErrBadUpdate, err)
	}
	p, err := backend.ParseUpdate(norm)
	if err != nil {
		return 0, err
	}
	n := 0
	err = c.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := scan(ctx, tx, c.name, sel)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			if !opts.Upsert {
				return nil
			}
			prepared, err := c.prepare(ctx, tx, []backend.Document{p.Upserted(sel)})
			if err != nil {
				return err
			}
			n = 1
			return insertDoc(ctx, tx, c.name, prepared[0])
		}
		if !opts.Multi {
			rows = rows[:1]
		}
		for _, r := range rows {
			p.Apply(r.doc)
			data, err := json.Marshal(r.doc)
			if err != nil {
				return fmt.Errorf("failed to marshal document: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE documents SET doc = ? WHERE seq = ?", string(data), r.seq); err != nil {
				return fmt.Errorf("failed to update document: %w", err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Remove implements backend.Collection.
func (c *collection) Remove(ctx context.Context, selector backend.Document, opts backend.RemoveOptions) (int, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	sel, err := normalizeSelector(selector)
	if err != nil {
		return 0, err
	}
	n := 0
	err = c.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := scan(ctx, tx, c.name, sel)
		if err != nil {
			return err
		}
		if opts.Single && len(rows) > 1 {
			rows = rows[:1]
		}
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE seq = ?", r.seq); err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// prepare assigns identifiers to docs and rejects those already stored.
func (c *collection) prepare(ctx context.Context, tx *sql.Tx, docs []backend.Document) ([]backend.Document, error) {
	var lookupErr error
	exists := func(id string) bool {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE collection = ? AND id = ?", c.name, id).Scan(&one)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			lookupErr = err
		}
		return err == nil
	}
	prepared, err := backend.PrepareInsert(docs, exists)
	if lookupErr != nil {
		return nil, fmt.Errorf("failed to look up document: %w", lookupErr)
	}
	return prepared, err
}

func insertDoc(ctx context.Context, tx *sql.Tx, collection string, d backend.Document) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO documents (collection, id, doc) VALUES (?, ?, ?)", collection, d.ID(), string(data)); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func normalizeSelector(selector backend.Document) (backend.Document, error) {
	if selector == nil {
		return backend.Document{}, nil
	}
	return backend.Normalize(selector)
}
