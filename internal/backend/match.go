package backend

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Match returns true if every key of selector is present in doc with an
// equal value. An empty selector matches every document. selector and doc
// must both be normalized.
func Match(selector, doc Document) bool {
	for k, want := range selector {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// ParsedUpdate is a validated update document.
type ParsedUpdate struct {
	Set   Document
	Unset []string
}

// ParseUpdate validates an update document of the form
// {"$set": {...}, "$unset": {...}}. The identifier cannot be modified.
func ParseUpdate(update Document) (ParsedUpdate, error) {
	var p ParsedUpdate
	if len(update) == 0 {
		return p, fmt.Errorf("%w: empty update", ErrBadUpdate)
	}
	for op, arg := range update {
		fields, ok := asDocument(arg)
		if !ok {
			return p, fmt.Errorf("%w: %s expects a document, got %T", ErrBadUpdate, op, arg)
		}
		if _, ok := fields[IDField]; ok {
			return p, fmt.Errorf("%w: cannot modify %s", ErrBadUpdate, IDField)
		}
		switch op {
		case OpSet:
			p.Set = fields
		case OpUnset:
			for k := range fields {
				p.Unset = append(p.Unset, k)
			}
			slices.Sort(p.Unset)
		default:
			if !strings.HasPrefix(op, "$") {
				return p, fmt.Errorf("%w: replacement documents are not supported (field %q)", ErrBadUpdate, op)
			}
			return p, fmt.Errorf("%w: unknown operator %s", ErrBadUpdate, op)
		}
	}
	return p, nil
}

// Apply writes the update into doc.
func (p ParsedUpdate) Apply(doc Document) {
	for k, v := range p.Set {
		doc[k] = cloneValue(v)
	}
	for _, k := range p.Unset {
		delete(doc, k)
	}
}

// Upserted builds the document inserted by an upsert that matched nothing.
func (p ParsedUpdate) Upserted(selector Document) Document {
	doc := selector.Clone()
	if doc == nil {
		doc = Document{}
	}
	p.Apply(doc)
	return doc
}

func asDocument(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return Document(t), true
	default:
		return nil, false
	}
}
