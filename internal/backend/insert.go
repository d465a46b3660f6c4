package backend

import (
	"fmt"

	"github.com/maruel/ksid"
)

// NewID returns a new time-sortable document identifier.
func NewID() string {
	return ksid.NewID().String()
}

// PrepareInsert normalizes docs and assigns an identifier to those missing
// one. exists reports whether an identifier is already stored. Either every
// document is accepted or an error is returned.
func PrepareInsert(docs []Document, exists func(id string) bool) ([]Document, error) {
	out := make([]Document, 0, len(docs))
	batch := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		n, err := Normalize(d)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if raw, ok := n[IDField]; ok {
			id, ok := raw.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("%w: document %d: %s must be a non-empty string, got %T", ErrBadDocument, i, IDField, raw)
			}
		} else {
			n[IDField] = NewID()
		}
		id := n.ID()
		if _, dup := batch[id]; dup || exists(id) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		batch[id] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}
