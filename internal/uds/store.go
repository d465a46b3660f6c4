package uds

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/maruel/uds/internal/backend"
	"github.com/maruel/uds/internal/docdb"
	"github.com/maruel/uds/internal/journal"
	"github.com/maruel/uds/internal/sqlitedb"
)

// Recognized tables.
const (
	TableUsers       = "users"
	TableCredentials = "credentials"
)

// Drivers accepted by Open.
const (
	DriverJSONL  = "jsonl"
	DriverSQLite = "sqlite"
)

// Options configures Open.
type Options struct {
	// DataDir is the root directory. Documents are stored under
	// DataDir/user-data.
	DataDir string
	// Driver is DriverJSONL (default) or DriverSQLite.
	Driver string
	// Watch reloads JSONL collections modified by another process.
	Watch bool
}

// Store persists records through a document backend.
//
// A Store is safe for concurrent use. It keeps no reference to the records it
// returns.
type Store struct {
	adapter backend.Adapter
	log     *slog.Logger
	closed  atomic.Bool
	metrics *metrics.Set
}

// Open opens the configured backend under opts.DataDir and returns a Store
// over it.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(opts.DataDir, "user-data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	var a backend.Adapter
	switch opts.Driver {
	case "", DriverJSONL:
		db, err := docdb.Open(dir, &docdb.Options{Watch: opts.Watch, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open jsonl backend: %w", err)
		}
		a = db
	case DriverSQLite:
		db, err := sqlitedb.Open(filepath.Join(dir, "uds.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		a = db
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidArgument, opts.Driver)
	}
	logger.DebugContext(ctx, "Store opened", "dir", dir, "driver", cmp.Or(opts.Driver, DriverJSONL))
	return NewStore(a, logger), nil
}

// NewStore returns a Store over an already opened adapter. The Store takes
// ownership of a and closes it on Close.
func NewStore(a backend.Adapter, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{adapter: a, log: logger, metrics: metrics.NewSet()}
}

// Close releases the backend. Later calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.adapter.Close(); err != nil {
		return &BackendError{Op: "close", Err: err}
	}
	return nil
}

// ValidateTable returns ErrInvalidTable unless name is a recognized table.
func ValidateTable(name string) error {
	return validateTable(name)
}

func validateTable(name string) error {
	switch name {
	case TableUsers, TableCredentials:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
}

// collection checks the store and table, then resolves the backend
// collection.
func (s *Store) collection(op, table string) (backend.Collection, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	c, err := s.adapter.Collection(table)
	if err != nil {
		return nil, &BackendError{Op: op, Table: table, Err: err}
	}
	return c, nil
}

// Create inserts doc into table and returns its identifier.
func (s *Store) Create(ctx context.Context, table string, doc backend.Document) (string, error) {
	doc, err := normalize("document", doc)
	if err != nil {
		return "", err
	}
	c, err := s.collection("insert", table)
	if err != nil {
		return "", err
	}
	saved, err := c.Insert(ctx, doc)
	s.count("insert", table, err)
	if err != nil {
		return "", &BackendError{Op: "insert", Table: table, Err: err}
	}
	id := saved[0].ID()
	s.log.DebugContext(ctx, "Created document", "table", table, "id", id)
	return id, nil
}

// Find returns the documents of table matching selector. An empty selector
// matches every document.
func (s *Store) Find(ctx context.Context, table string, selector backend.Document) ([]backend.Document, error) {
	selector, err := normalize("selector", selector)
	if err != nil {
		return nil, err
	}
	c, err := s.collection("find", table)
	if err != nil {
		return nil, err
	}
	docs, err := s.find(ctx, c, selector)
	s.count("find", table, err)
	if err != nil {
		return nil, &BackendError{Op: "find", Table: table, Err: err}
	}
	return docs, nil
}

func (s *Store) find(ctx context.Context, c backend.Collection, selector backend.Document) ([]backend.Document, error) {
	cur, err := c.Find(ctx, selector)
	if err != nil {
		return nil, err
	}
	return cur.ToArray(ctx)
}

// CreateOrUpdate writes patch to the first document of table matching
// selector, inserting one if none matches.
//
// patch maps field names to values; a journal.Absent value removes the field.
func (s *Store) CreateOrUpdate(ctx context.Context, table string, selector, patch backend.Document) (int, error) {
	return s.update(ctx, "upsert", table, selector, patch, backend.UpdateOptions{Upsert: true})
}

// Update writes patch to the first document of table matching selector. It
// returns 0 when nothing matches.
func (s *Store) Update(ctx context.Context, table string, selector, patch backend.Document) (int, error) {
	return s.update(ctx, "update", table, selector, patch, backend.UpdateOptions{})
}

// UpdateAll writes patch to every document of table matching selector.
func (s *Store) UpdateAll(ctx context.Context, table string, selector, patch backend.Document) (int, error) {
	return s.update(ctx, "update", table, selector, patch, backend.UpdateOptions{Multi: true})
}

func (s *Store) update(ctx context.Context, op, table string, selector, patch backend.Document, opts backend.UpdateOptions) (int, error) {
	selector, err := normalize("selector", selector)
	if err != nil {
		return 0, err
	}
	if patch == nil {
		return 0, fmt.Errorf("%w: nil patch", ErrInvalidArgument)
	}
	if _, ok := patch[IDField]; ok {
		return 0, fmt.Errorf("%w: %q cannot be updated", ErrInvalidArgument, IDField)
	}
	update, err := normalize("patch", updateDocument(patch))
	if err != nil {
		return 0, err
	}
	c, err := s.collection(op, table)
	if err != nil {
		return 0, err
	}
	n, err := c.Update(ctx, selector, update, opts)
	s.count(op, table, err)
	if err != nil {
		return 0, &BackendError{Op: op, Table: table, Err: err}
	}
	s.log.DebugContext(ctx, "Updated documents", "table", table, "count", n)
	return n, nil
}

// normalize converts d to the value types stored documents decode to. A nil
// document or a value JSON cannot represent is an invalid argument.
func normalize(what string, d backend.Document) (backend.Document, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil %s", ErrInvalidArgument, what)
	}
	n, err := backend.Normalize(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArgument, what, err)
	}
	return n, nil
}

// updateDocument converts a patch into backend update operators.
func updateDocument(patch backend.Document) backend.Document {
	set := backend.Document{}
	unset := backend.Document{}
	for k, v := range patch {
		if journal.IsAbsent(v) {
			unset[k] = true
		} else {
			set[k] = v
		}
	}
	u := backend.Document{backend.OpSet: set}
	if len(unset) != 0 {
		u[backend.OpUnset] = unset
	}
	return u
}

// DeleteOne removes the first document of table matching selector.
func (s *Store) DeleteOne(ctx context.Context, table string, selector backend.Document) (int, error) {
	return s.remove(ctx, table, selector, backend.RemoveOptions{Single: true})
}

// DeleteAll removes every document of table matching selector.
func (s *Store) DeleteAll(ctx context.Context, table string, selector backend.Document) (int, error) {
	return s.remove(ctx, table, selector, backend.RemoveOptions{})
}

func (s *Store) remove(ctx context.Context, table string, selector backend.Document, opts backend.RemoveOptions) (int, error) {
	selector, err := normalize("selector", selector)
	if err != nil {
		return 0, err
	}
	c, err := s.collection("remove", table)
	if err != nil {
		return 0, err
	}
	n, err := c.Remove(ctx, selector, opts)
	s.count("remove", table, err)
	if err != nil {
		return 0, &BackendError{Op: "remove", Table: table, Err: err}
	}
	s.log.DebugContext(ctx, "Removed documents", "table", table, "count", n)
	return n, nil
}

// CreateUser returns a new, empty user.
func (s *Store) CreateUser() *User {
	return &User{record{store: s}}
}

// CreateCredential returns a new, empty credential.
func (s *Store) CreateCredential() *Credential {
	return &Credential{record{store: s}}
}

// NewDoc returns a new record not bound to any table.
func (s *Store) NewDoc() *Doc {
	return &Doc{record{store: s}}
}

// FindUsers returns the users matching selector.
func (s *Store) FindUsers(ctx context.Context, selector backend.Document) ([]*User, error) {
	docs, err := s.Find(ctx, TableUsers, selector)
	if err != nil {
		return nil, err
	}
	out := make([]*User, 0, len(docs))
	for _, doc := range docs {
		u := s.CreateUser()
		if err := u.hydrate(doc, FieldUsername); err != nil {
			return nil, fmt.Errorf("failed to load user %v: %w", doc[IDField], err)
		}
		out = append(out, u)
	}
	return out, nil
}

// FindCredentials returns the credentials matching selector.
func (s *Store) FindCredentials(ctx context.Context, selector backend.Document) ([]*Credential, error) {
	docs, err := s.Find(ctx, TableCredentials, selector)
	if err != nil {
		return nil, err
	}
	out := make([]*Credential, 0, len(docs))
	for _, doc := range docs {
		c := s.CreateCredential()
		if err := c.hydrate(doc, FieldUsername); err != nil {
			return nil, fmt.Errorf("failed to load credential %v: %w", doc[IDField], err)
		}
		out = append(out, c)
	}
	return out, nil
}

// SaveUser commits u.
//
// A user without identifier is inserted and receives one. Otherwise the
// fields changed since load are written to the stored document selected by
// identifier and stored username.
//
// Renaming a user moves its credentials to the new username.
func (s *Store) SaveUser(ctx context.Context, u *User) (WriteOutcome, error) {
	if u == nil {
		return WriteOutcome{}, fmt.Errorf("%w: nil user", ErrInvalidArgument)
	}
	oldName, newName, renamed := u.rename()
	out, err := s.save(ctx, TableUsers, &u.record)
	if err != nil || out.Count == 0 || !renamed {
		return out, err
	}
	n, err := s.UpdateAll(ctx, TableCredentials, backend.Document{FieldUsername: oldName}, backend.Document{FieldUsername: newName})
	if err != nil {
		return out, fmt.Errorf("failed to move credentials of %v to %v: %w", oldName, newName, err)
	}
	s.log.DebugContext(ctx, "Moved credentials", "from", oldName, "to", newName, "count", n)
	return out, nil
}

// SaveCredential commits c. See SaveUser.
func (s *Store) SaveCredential(ctx context.Context, c *Credential) (WriteOutcome, error) {
	if c == nil {
		return WriteOutcome{}, fmt.Errorf("%w: nil credential", ErrInvalidArgument)
	}
	return s.save(ctx, TableCredentials, &c.record)
}

func (s *Store) save(ctx context.Context, table string, r *record) (WriteOutcome, error) {
	if s.closed.Load() {
		return WriteOutcome{}, ErrStoreClosed
	}
	if r.store != s {
		return WriteOutcome{}, fmt.Errorf("%w: record belongs to another store", ErrInvalidArgument)
	}
	if r.id == "" {
		id, err := s.Create(ctx, table, r.Document())
		if err != nil {
			return WriteOutcome{}, err
		}
		r.id = id
		r.persisted(FieldUsername)
		return WriteOutcome{ID: id, Inserted: true, Count: 1}, nil
	}
	v, err := r.Journal(journal.Patch())
	if err != nil {
		return WriteOutcome{}, err
	}
	n, err := s.Update(ctx, table, r.selector(), v.Fields)
	if err != nil {
		return WriteOutcome{}, err
	}
	if n != 0 {
		r.persisted(FieldUsername)
	}
	return WriteOutcome{ID: r.id, Count: n}, nil
}

// DestroyUser removes the stored version of u and returns the number of
// documents removed. The user becomes new again: committing it inserts it
// anew.
func (s *Store) DestroyUser(ctx context.Context, u *User) (int, error) {
	if u == nil {
		return 0, fmt.Errorf("%w: nil user", ErrInvalidArgument)
	}
	return s.destroy(ctx, TableUsers, &u.record)
}

// DestroyCredential removes the stored version of c. See DestroyUser.
func (s *Store) DestroyCredential(ctx context.Context, c *Credential) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("%w: nil credential", ErrInvalidArgument)
	}
	return s.destroy(ctx, TableCredentials, &c.record)
}

func (s *Store) destroy(ctx context.Context, table string, r *record) (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	if r.id == "" {
		return 0, ErrNotPersisted
	}
	n, err := s.DeleteOne(ctx, table, r.selector())
	if err != nil {
		return 0, err
	}
	if n != 0 {
		r.id = ""
		r.keys = nil
	}
	return n, nil
}

func sortedKeys(doc backend.Document) []string {
	return slices.Sorted(maps.Keys(doc))
}
