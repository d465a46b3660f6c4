// Package backend defines the contract between the record store and the
// document databases that persist it.
//
// A backend is collection oriented: every call names a collection and passes
// a selector document. Selectors are matched by top-level equality; the store
// never inspects them.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// IDField is the name of the storage assigned identifier.
const IDField = "_id"

// Update operators understood by Collection.Update.
const (
	OpSet   = "$set"
	OpUnset = "$unset"
)

var (
	// ErrClosed is returned by a backend used after Close.
	ErrClosed = errors.New("backend closed")
	// ErrBadUpdate is returned for an update document a backend cannot apply.
	ErrBadUpdate = errors.New("invalid update document")
	// ErrBadDocument is returned for a document that cannot be stored.
	ErrBadDocument = errors.New("invalid document")
	// ErrDuplicateID is returned when inserting a document whose identifier
	// is already stored.
	ErrDuplicateID = errors.New("duplicate document id")
)

// ValidateCollectionName checks that name can be used as a collection name
// by every driver: it doubles as a file name for docdb.
func ValidateCollectionName(name string) error {
	if name == "" {
		return errors.New("collection name is required")
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return fmt.Errorf("invalid collection name %q", name)
		}
	}
	return nil
}

// Document is a schemaless stored document.
type Document map[string]any

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	c := make(Document, len(d))
	for k, v := range d {
		c[k] = cloneValue(v)
	}
	return c
}

// ID returns the identifier of d, or "" if it has none.
func (d Document) ID() string {
	s, _ := d[IDField].(string)
	return s
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case Document:
		return t.Clone()
	case []any:
		c := make([]any, len(t))
		for i := range t {
			c[i] = cloneValue(t[i])
		}
		return c
	default:
		return v
	}
}

// UpdateOptions configures Collection.Update.
type UpdateOptions struct {
	// Upsert inserts a document built from the selector and the $set fields
	// when nothing matches.
	Upsert bool
	// Multi updates every matching document instead of the first one.
	Multi bool
}

// RemoveOptions configures Collection.Remove.
type RemoveOptions struct {
	// Single removes only the first matching document.
	Single bool
}

// Adapter is a document database.
type Adapter interface {
	// Collection returns the named collection, creating it if needed.
	Collection(name string) (Collection, error)
	// Close releases the database. Later calls fail with ErrClosed.
	Close() error
}

// Collection is a named set of documents.
type Collection interface {
	// Insert stores docs and returns the stored versions with their assigned
	// identifiers.
	Insert(ctx context.Context, docs ...Document) ([]Document, error)
	// Find returns a cursor over the documents matching selector.
	Find(ctx context.Context, selector Document) (Cursor, error)
	// Update applies update to the documents matching selector and returns
	// the number of documents written.
	Update(ctx context.Context, selector, update Document, opts UpdateOptions) (int, error)
	// Remove deletes the documents matching selector and returns how many
	// were removed.
	Remove(ctx context.Context, selector Document, opts RemoveOptions) (int, error)
}

// Cursor is the result of a Find.
type Cursor interface {
	ToArray(ctx context.Context) ([]Document, error)
}

// SliceCursor is a Cursor over an already materialized result.
type SliceCursor []Document

// ToArray implements Cursor.
func (c SliceCursor) ToArray(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Document, len(c))
	for i, d := range c {
		out[i] = d.Clone()
	}
	return out, nil
}

// Normalize round-trips d through JSON so that values have the types a
// stored document decodes to: numbers become float64, nested structs become
// maps.
func Normalize(d Document) (Document, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil document", ErrBadDocument)
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDocument, err)
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDocument, err)
	}
	return out, nil
}
