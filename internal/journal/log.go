package journal

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldNotRecorded is returned when reading a field that has no
	// operation history.
	ErrFieldNotRecorded = errors.New("field not recorded")
	// ErrInvalidOption is returned for a contradictory view configuration.
	ErrInvalidOption = errors.New("invalid journal option")
)

// Log is the append-only operation log of one document.
//
// The zero value is an empty log ready to use. A Log is not safe for
// concurrent use; it belongs to a single record.
type Log struct {
	ops []Op
}

// Append records op at the end of the log.
func (l *Log) Append(op Op) {
	l.ops = append(l.ops, op)
}

// Len returns the number of recorded operations.
func (l *Log) Len() int {
	return len(l.ops)
}

// Ops returns a copy of the full history in append order.
func (l *Log) Ops() []Op {
	out := make([]Op, len(l.ops))
	copy(out, l.ops)
	return out
}

// Latest returns the most recently appended operation on field.
func (l *Log) Latest(field string) (Op, error) {
	for i := len(l.ops) - 1; i >= 0; i-- {
		if l.ops[i].Field == field {
			return l.ops[i], nil
		}
	}
	return Op{}, fmt.Errorf("%w: %q", ErrFieldNotRecorded, field)
}

// LatestOfKind returns the most recent operation of the given kind on field.
func (l *Log) LatestOfKind(field string, kind Kind) (Op, bool) {
	for i := len(l.ops) - 1; i >= 0; i-- {
		if l.ops[i].Field == field && l.ops[i].Kind == kind {
			return l.ops[i], true
		}
	}
	return Op{}, false
}

// Compact returns the last operation of every field, ordered by the position
// of that last operation. ops is not modified.
func Compact(ops []Op) []Op {
	seen := make(map[string]struct{}, len(ops))
	kept := make([]Op, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		if _, ok := seen[ops[i].Field]; ok {
			continue
		}
		seen[ops[i].Field] = struct{}{}
		kept = append(kept, ops[i])
	}
	// kept was collected newest first.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// Filter returns the operations whose kind is selected by opts.
func Filter(ops []Op, opts Options) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		if opts.includes(op.Kind) {
			out = append(out, op)
		}
	}
	return out
}

// Project filters ops by kind and folds them into a mapping. Deleted fields
// map to Absent. Later ops overwrite earlier ones on the same field.
func Project(ops []Op, opts Options) map[string]any {
	out := make(map[string]any, len(ops))
	for _, op := range Filter(ops, opts) {
		if op.Kind == KindDelete {
			out[op.Field] = Absent
		} else {
			out[op.Field] = op.Value
		}
	}
	return out
}
