package docdb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/uds/internal/backend"
	"github.com/puzpuzpuz/xsync/v3"
)

const fileExt = ".jsonl"

// Options configures Open.
type Options struct {
	// Watch reloads collections whose file is modified by another process.
	Watch bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DB is a directory of JSONL collections.
type DB struct {
	dir         string
	log         *slog.Logger
	collections *xsync.MapOf[string, *collection]
	closed      atomic.Bool
	watcher     *fsnotify.Watcher
	done        chan struct{}
}

var _ backend.Adapter = (*DB)(nil)

// Open opens the database rooted at dir, creating the directory if needed.
func Open(dir string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	db := &DB{
		dir:         dir,
		log:         opts.Logger,
		collections: xsync.NewMapOf[string, *collection](),
		done:        make(chan struct{}),
	}
	if db.log == nil {
		db.log = slog.Default()
	}
	if opts.Watch {
		if err := db.watch(); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Dir returns the directory holding the collection files.
func (db *DB) Dir() string {
	return db.dir
}

// Collection implements backend.Adapter.
//
// The collection file is loaded on first access.
func (db *DB) Collection(name string) (backend.Collection, error) {
	return db.collection(name)
}

func (db *DB) collection(name string) (*collection, error) {
	if db.closed.Load() {
		return nil, backend.ErrClosed
	}
	if err := backend.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	var loadErr error
	c, _ := db.collections.LoadOrCompute(name, func() *collection {
		c := &collection{db: db, name: name, path: filepath.Join(db.dir, name+fileExt)}
		loadErr = c.load()
		return c
	})
	if loadErr != nil {
		db.collections.Delete(name)
		return nil, loadErr
	}
	return c, nil
}

// Close implements backend.Adapter.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(db.done)
	var err error
	if db.watcher != nil {
		err = db.watcher.Close()
	}
	db.collections.Clear()
	return err
}

func (db *DB) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(db.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", db.dir, err)
	}
	db.watcher = w
	go func() {
		for {
			select {
			case <-db.done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				name, ok := strings.CutSuffix(filepath.Base(event.Name), fileExt)
				if !ok {
					continue
				}
				if c, ok := db.collections.Load(name); ok && c.changedOnDisk() {
					c.stale.Store(true)
					db.log.Debug("docdb: collection changed on disk", "collection", name, "op", event.Op.String())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				db.log.Warn("docdb: error watching directory", "dir", db.dir, "err", err)
			}
		}
	}()
	return nil
}

var errHeader = errors.New("invalid collection header")
