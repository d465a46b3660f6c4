package docdb

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/maruel/uds/internal/backend"
)

// currentVersion is the version of the collection file format.
const currentVersion = "1.0"

// header is the first line of a collection file.
type header struct {
	Version    string `json:"version"`
	Collection string `json:"collection"`
}

func (h *header) validate(name string) error {
	if h.Version == "" {
		return fmt.Errorf("%w: version is required", errHeader)
	}
	if h.Version != currentVersion {
		return fmt.Errorf("%w: unsupported version %q", errHeader, h.Version)
	}
	if h.Collection != name {
		return fmt.Errorf("%w: file holds collection %q, want %q", errHeader, h.Collection, name)
	}
	return nil
}

// collection is a single JSONL file cached in memory.
type collection struct {
	db   *DB
	name string
	path string

	stale atomic.Bool
	mu    sync.RWMutex
	rows  []backend.Document
	// stamp is the file as last read or written by this process, nil when
	// the file does not exist.
	stamp os.FileInfo
}

var _ backend.Collection = (*collection)(nil)

func (c *collection) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *collection) loadLocked() error {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.rows = []backend.Document{}
			c.stamp = nil
			c.stale.Store(false)
			return nil
		}
		return fmt.Errorf("failed to open collection file %s: %w", c.path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	// Stat before reading: a write racing the read leaves a stamp that no
	// longer matches, so the collection is reloaded again.
	stamp, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat collection file %s: %w", c.path, err)
	}

	var rows []backend.Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var h header
			if err := json.Unmarshal(line, &h); err != nil {
				return fmt.Errorf("%w in %s: %w", errHeader, c.path, err)
			}
			if err := h.validate(c.name); err != nil {
				return fmt.Errorf("%s: %w", c.path, err)
			}
			continue
		}
		var row backend.Document
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", c.path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read collection file %s: %w", c.path, err)
	}
	if rows == nil {
		rows = []backend.Document{}
	}
	c.rows = rows
	c.stamp = stamp
	c.stale.Store(false)
	return nil
}

// changedOnDisk reports whether the file differs from what this process last
// read or wrote. c.mu must not be held.
func (c *collection) changedOnDisk() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fi, err := os.Stat(c.path)
	if err != nil {
		return c.stamp != nil || !os.IsNotExist(err)
	}
	return c.stamp == nil || !os.SameFile(c.stamp, fi) || c.stamp.Size() != fi.Size() || !c.stamp.ModTime().Equal(fi.ModTime())
}

// refresh reloads the collection if its file changed on disk. c.mu must not
// be held.
func (c *collection) refresh() error {
	if !c.stale.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stale.Load() {
		return nil
	}
	c.db.log.Debug("docdb: reloading collection", "collection", c.name)
	return c.loadLocked()
}

func (c *collection) check(ctx context.Context) error {
	if c.db.closed.Load() {
		return backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.refresh()
}

// Insert implements backend.Collection.
func (c *collection) Insert(ctx context.Context, docs ...backend.Document) ([]backend.Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make(map[string]struct{}, len(c.rows))
	for _, row := range c.rows {
		ids[row.ID()] = struct{}{}
	}
	prepared, err := backend.PrepareInsert(docs, func(id string) bool {
		_, ok := ids[id]
		return ok
	})
	if err != nil {
		return nil, err
	}
	if err := c.appendLocked(prepared); err != nil {
		return nil, err
	}
	out := make([]backend.Document, len(prepared))
	for i, d := range prepared {
		out[i] = d.Clone()
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
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out backend.SliceCursor
	for _, row := range c.rows {
		if backend.Match(sel, row) {
			out = append(out, row.Clone())
		}
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

	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]backend.Document, len(c.rows))
	copy(rows, c.rows)
	n := 0
	for i, row := range rows {
		if !backend.Match(sel, row) {
			continue
		}
		updated := row.Clone()
		p.Apply(updated)
		rows[i] = updated
		n++
		if !opts.Multi {
			break
		}
	}
	if n == 0 {
		if !opts.Upsert {
			return 0, nil
		}
		doc := p.Upserted(sel)
		exists := func(id string) bool {
			for _, row := range c.rows {
				if row.ID() == id {
					return true
				}
			}
			return false
		}
		prepared, err := backend.PrepareInsert([]backend.Document{doc}, exists)
		if err != nil {
			return 0, err
		}
		if err := c.appendLocked(prepared); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err := c.replaceLocked(rows); err != nil {
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
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make([]backend.Document, 0, len(c.rows))
	n := 0
	for _, row := range c.rows {
		if (!opts.Single || n == 0) && backend.Match(sel, row) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	if n == 0 {
		return 0, nil
	}
	if err := c.replaceLocked(kept); err != nil {
		return 0, err
	}
	return n, nil
}

// appendLocked adds rows to the file, writing the header first if the file is
// new. c.mu must be held for writing.
func (c *collection) appendLocked(rows []backend.Document) error {
	buf, err := c.encode(rows, !c.fileExists())
	if err != nil {
		return err
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G302: collection files are not secret
	if err != nil {
		return fmt.Errorf("failed to open collection file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	c.rows = append(c.rows, rows...)
	if c.stamp, err = f.Stat(); err != nil {
		return fmt.Errorf("failed to stat collection file %s: %w", c.path, err)
	}
	return nil
}

// replaceLocked rewrites the whole file. c.mu must be held for writing.
func (c *collection) replaceLocked(rows []backend.Document) error {
	buf, err := c.encode(rows, true)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), "."+c.name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to replace collection file: %w", err)
	}
	c.rows = rows
	if c.stamp, err = os.Stat(c.path); err != nil {
		return fmt.Errorf("failed to stat collection file %s: %w", c.path, err)
	}
	return nil
}

func (c *collection) encode(rows []backend.Document, withHeader bool) ([]byte, error) {
	var buf []byte
	if withHeader {
		data, err := json.Marshal(header{Version: currentVersion, Collection: c.name})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal header: %w", err)
		}
		buf = append(append(buf, data...), '\n')
	}
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal row: %w", err)
		}
		buf = append(append(buf, data...), '\n')
	}
	return buf, nil
}

func (c *collection) fileExists() bool {
	fi, err := os.Stat(c.path)
	return err == nil && fi.Size() > 0
}

func normalizeSelector(selector backend.Document) (backend.Document, error) {
	if selector == nil {
		return backend.Document{}, nil
	}
	return backend.Normalize(selector)
}
