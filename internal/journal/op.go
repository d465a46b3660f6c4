package journal

import "fmt"

// Kind is the kind of a recorded operation.
type Kind uint8

const (
	// KindInit records a value loaded from storage.
	KindInit Kind = iota + 1
	// KindSet records an explicit mutation.
	KindSet
	// KindDelete records an explicit removal. The value is ignored.
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindSet:
		return "set"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindInit, KindSet, KindDelete:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown operation kind %d", uint8(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "init":
		*k = KindInit
	case "set":
		*k = KindSet
	case "delete":
		*k = KindDelete
	default:
		return fmt.Errorf("unknown operation kind %q", b)
	}
	return nil
}

// Op is one recorded field-level operation.
type Op struct {
	Kind  Kind   `json:"op"`
	Field string `json:"field"`
	Value any    `json:"value,omitempty"`
}

func (o Op) String() string {
	if o.Kind == KindDelete {
		return fmt.Sprintf("%s %s", o.Kind, o.Field)
	}
	return fmt.Sprintf("%s %s=%v", o.Kind, o.Field, o.Value)
}

// absent is the type of the Absent marker. It is unexported so no stored
// value can be confused with it.
type absent struct{}

func (absent) String() string { return "<absent>" }

// MarshalJSON renders the marker as null.
func (absent) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Absent is the projected value of a deleted field.
var Absent any = absent{}

// IsAbsent returns true if v is the Absent marker.
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}
