package uds

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/maruel/uds/internal/backend"
	"github.com/maruel/uds/internal/journal"
)

// IDField is the storage assigned identifier. It is carried by the record
// itself and never journaled.
const IDField = backend.IDField

// FieldUsername is the natural key shared by users and their credentials.
const FieldUsername = "username"

// Record is a journaled document bound to a store.
//
// The variants are *User, *Credential and *Doc.
type Record interface {
	// Table returns the table the record is persisted in, or "" for a Doc.
	Table() string
	// ID returns the storage identifier, or "" before the first commit.
	ID() string
	Get(field string) (any, error)
	Set(field string, value any) error
	Initialize(field string, value any) error
	Delete(field string) error
	Journal(opts journal.Options) (journal.View, error)
	Document() backend.Document
	Schema() *jsonschema.Schema
	Commit(ctx context.Context) (WriteOutcome, error)

	base() *record
}

// WriteOutcome reports the result of a commit.
type WriteOutcome struct {
	// ID is the identifier of the written document.
	ID string
	// Inserted is true when the commit created the document.
	Inserted bool
	// Count is the number of documents written.
	Count int
}

// record is the state shared by every Record variant.
type record struct {
	store *Store
	log   journal.Log
	id    string
	// keys holds the natural key values as last seen in storage. They select
	// the stored document together with the identifier.
	keys map[string]any
}

func (r *record) base() *record { return r }

// ID returns the storage identifier, or "" before the first commit.
func (r *record) ID() string { return r.id }

// Get returns the current value of field. A deleted field yields
// journal.Absent.
func (r *record) Get(field string) (any, error) {
	if field == IDField {
		if r.id == "" {
			return nil, fmt.Errorf("%w: %q", ErrFieldNotRecorded, field)
		}
		return r.id, nil
	}
	op, err := r.log.Latest(field)
	if err != nil {
		return nil, err
	}
	if op.Kind == journal.KindDelete {
		return journal.Absent, nil
	}
	return op.Value, nil
}

// Set records a change of field to value.
func (r *record) Set(field string, value any) error {
	if err := checkField(field, value); err != nil {
		return err
	}
	r.log.Append(journal.Op{Kind: journal.KindSet, Field: field, Value: value})
	return nil
}

// Initialize records the stored value of field. It does not count as a
// change when committing.
func (r *record) Initialize(field string, value any) error {
	if err := checkField(field, value); err != nil {
		return err
	}
	r.log.Append(journal.Op{Kind: journal.KindInit, Field: field, Value: value})
	return nil
}

// Delete records the removal of field.
func (r *record) Delete(field string) error {
	if err := checkField(field, nil); err != nil {
		return err
	}
	r.log.Append(journal.Op{Kind: journal.KindDelete, Field: field})
	return nil
}

// Journal renders the record's history.
func (r *record) Journal(opts journal.Options) (journal.View, error) {
	return journal.Render(&r.log, opts)
}

// Document returns the current state of the record, without deleted fields.
// The identifier is included once assigned.
func (r *record) Document() backend.Document {
	fields := journal.Project(journal.Compact(r.log.Ops()), journal.DefaultOptions())
	doc := make(backend.Document, len(fields)+1)
	for k, v := range fields {
		if !journal.IsAbsent(v) {
			doc[k] = v
		}
	}
	if r.id != "" {
		doc[IDField] = r.id
	}
	return doc
}

// selector returns the document selecting the stored version of the record.
func (r *record) selector() backend.Document {
	sel := backend.Document{IDField: r.id}
	for k, v := range r.keys {
		sel[k] = v
	}
	return sel
}

// persisted records that the current values of names are now stored.
func (r *record) persisted(names ...string) {
	r.keys = make(map[string]any, len(names))
	for _, name := range names {
		if v, err := r.Get(name); err == nil && !journal.IsAbsent(v) {
			r.keys[name] = v
		}
	}
}

// hydrate replays a stored document as Initialize operations.
func (r *record) hydrate(doc backend.Document, keys ...string) error {
	for _, k := range sortedKeys(doc) {
		if k == IDField {
			continue
		}
		if err := r.Initialize(k, doc[k]); err != nil {
			return err
		}
	}
	switch id := doc[IDField].(type) {
	case nil:
	case string:
		r.id = id
	default:
		r.id = fmt.Sprint(id)
	}
	r.persisted(keys...)
	return nil
}

func checkField(field string, value any) error {
	switch {
	case field == "":
		return fmt.Errorf("%w: empty field name", ErrInvalidArgument)
	case field == IDField:
		return fmt.Errorf("%w: %q is assigned by storage", ErrInvalidArgument, IDField)
	case journal.IsAbsent(value):
		return fmt.Errorf("%w: %q cannot be set to %v", ErrInvalidArgument, field, value)
	}
	return nil
}

// Doc is a record that is not bound to a table. It can be journaled but not
// committed.
type Doc struct {
	record
}

// Table implements Record.
func (d *Doc) Table() string { return "" }

// Schema implements Record. A Doc has no schema.
func (d *Doc) Schema() *jsonschema.Schema { return nil }

// Commit implements Record. It always fails with ErrNotImplemented.
func (d *Doc) Commit(ctx context.Context) (WriteOutcome, error) {
	return WriteOutcome{}, fmt.Errorf("%w: record has no table", ErrNotImplemented)
}
