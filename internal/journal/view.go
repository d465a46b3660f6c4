package journal

import (
	"fmt"
	"maps"
	"slices"
)

// Format selects how a View is rendered.
type Format uint8

const (
	// FormatMapping renders field name to value.
	FormatMapping Format = iota
	// FormatOrderedList renders the operations themselves, in order.
	FormatOrderedList
	// FormatKeyedMap renders the mapping keyed by Key.
	FormatKeyedMap
)

func (f Format) String() string {
	switch f {
	case FormatMapping:
		return "mapping"
	case FormatOrderedList:
		return "orderedList"
	case FormatKeyedMap:
		return "keyedMap"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// Key is the key type of FormatKeyedMap views.
type Key struct {
	Field string
}

func (k Key) String() string { return k.Field }

// Options configures Render.
//
// Use DefaultOptions or one of the presets rather than the zero value; the
// zero value includes no kind at all and renders an empty view.
type Options struct {
	Format Format
	// Compact keeps only the last operation per field. Only
	// FormatOrderedList accepts false.
	Compact       bool
	IncludeInit   bool
	IncludeSet    bool
	IncludeDelete bool
}

// DefaultOptions returns the compacted mapping of every kind: the current
// state of the document.
func DefaultOptions() Options {
	return Options{Format: FormatMapping, Compact: true, IncludeInit: true, IncludeSet: true, IncludeDelete: true}
}

// Patch returns the options selecting what changed since load.
func Patch() Options {
	o := DefaultOptions()
	o.IncludeInit = false
	return o
}

// UpdatesOnly returns the options selecting values set since load.
func UpdatesOnly() Options {
	o := DefaultOptions()
	o.IncludeInit = false
	o.IncludeDelete = false
	return o
}

// DeletesOnly returns the options selecting fields deleted since load.
func DeletesOnly() Options {
	o := DefaultOptions()
	o.IncludeInit = false
	o.IncludeSet = false
	return o
}

// InitOnly returns the options selecting fields untouched since load.
func InitOnly() Options {
	o := DefaultOptions()
	o.IncludeSet = false
	o.IncludeDelete = false
	return o
}

// Validate checks that the options are consistent.
func (o Options) Validate() error {
	switch o.Format {
	case FormatMapping, FormatKeyedMap:
		if !o.Compact {
			return fmt.Errorf("%w: compact may only be false for the %s format, got %s", ErrInvalidOption, FormatOrderedList, o.Format)
		}
	case FormatOrderedList:
	default:
		return fmt.Errorf("%w: unknown format %s", ErrInvalidOption, o.Format)
	}
	return nil
}

func (o Options) includes(k Kind) bool {
	switch k {
	case KindInit:
		return o.IncludeInit
	case KindSet:
		return o.IncludeSet
	case KindDelete:
		return o.IncludeDelete
	default:
		return false
	}
}

// View is a rendered projection of a Log. Exactly one of Fields, Ops or
// Keyed is set, according to Format.
type View struct {
	Format Format
	Fields map[string]any
	Ops    []Op
	Keyed  map[Key]any
}

// Len returns the number of entries in the view.
func (v *View) Len() int {
	switch v.Format {
	case FormatOrderedList:
		return len(v.Ops)
	case FormatKeyedMap:
		return len(v.Keyed)
	default:
		return len(v.Fields)
	}
}

// Names returns the field names present in the view, sorted.
func (v *View) Names() []string {
	switch v.Format {
	case FormatOrderedList:
		names := make([]string, 0, len(v.Ops))
		for _, op := range v.Ops {
			if !slices.Contains(names, op.Field) {
				names = append(names, op.Field)
			}
		}
		slices.Sort(names)
		return names
	case FormatKeyedMap:
		names := make([]string, 0, len(v.Keyed))
		for k := range v.Keyed {
			names = append(names, k.Field)
		}
		slices.Sort(names)
		return names
	default:
		return slices.Sorted(maps.Keys(v.Fields))
	}
}

// Render derives a view of l according to opts.
func Render(l *Log, opts Options) (View, error) {
	if err := opts.Validate(); err != nil {
		return View{}, err
	}
	ops := l.ops
	if opts.Compact {
		ops = Compact(ops)
	}
	v := View{Format: opts.Format}
	switch opts.Format {
	case FormatOrderedList:
		v.Ops = Filter(ops, opts)
	case FormatKeyedMap:
		fields := Project(ops, opts)
		v.Keyed = make(map[Key]any, len(fields))
		for name, val := range fields {
			v.Keyed[Key{Field: name}] = val
		}
	default:
		v.Fields = Project(ops, opts)
	}
	return v, nil
}
