package journal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLog(ops ...Op) *Log {
	l := &Log{}
	for _, op := range ops {
		l.Append(op)
	}
	return l
}

// hydrated replays the scenario document as Init operations then applies the
// scenario mutations.
func hydrated() *Log {
	return newLog(
		Op{Kind: KindInit, Field: "name", Value: "adam"},
		Op{Kind: KindInit, Field: "child1", Value: "julia"},
		Op{Kind: KindInit, Field: "child2", Value: "nobody"},
		Op{Kind: KindInit, Field: "beer", Value: true},
		Op{Kind: KindInit, Field: "const", Value: true},
		Op{Kind: KindSet, Field: "name", Value: "sara"},
		Op{Kind: KindDelete, Field: "child1"},
		Op{Kind: KindDelete, Field: "child2"},
		Op{Kind: KindSet, Field: "child2", Value: "miles"},
		Op{Kind: KindSet, Field: "age", Value: 40},
		Op{Kind: KindDelete, Field: "beer"},
	)
}

func TestLogLatest(t *testing.T) {
	l := hydrated()

	t.Run("set after delete", func(t *testing.T) {
		op, err := l.Latest("child2")
		require.NoError(t, err)
		assert.Equal(t, KindSet, op.Kind)
		assert.Equal(t, "miles", op.Value)
	})
	t.Run("delete", func(t *testing.T) {
		op, err := l.Latest("beer")
		require.NoError(t, err)
		assert.Equal(t, KindDelete, op.Kind)
	})
	t.Run("untouched", func(t *testing.T) {
		op, err := l.Latest("const")
		require.NoError(t, err)
		assert.Equal(t, KindInit, op.Kind)
		assert.Equal(t, true, op.Value)
	})
	t.Run("missing", func(t *testing.T) {
		_, err := l.Latest("nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFieldNotRecorded))
	})
	t.Run("empty log", func(t *testing.T) {
		var empty Log
		_, err := empty.Latest("name")
		assert.ErrorIs(t, err, ErrFieldNotRecorded)
	})
}

func TestLogLatestOfKind(t *testing.T) {
	l := hydrated()
	op, ok := l.LatestOfKind("name", KindInit)
	require.True(t, ok)
	assert.Equal(t, "adam", op.Value)
	_, ok = l.LatestOfKind("age", KindInit)
	assert.False(t, ok)
}

func TestCompact(t *testing.T) {
	l := newLog(
		Op{Kind: KindSet, Field: "a", Value: 1},
		Op{Kind: KindSet, Field: "b", Value: 1},
		Op{Kind: KindSet, Field: "a", Value: 2},
		Op{Kind: KindDelete, Field: "c"},
		Op{Kind: KindSet, Field: "b", Value: 2},
	)
	got := Compact(l.Ops())
	want := []Op{
		{Kind: KindSet, Field: "a", Value: 2},
		{Kind: KindDelete, Field: "c"},
		{Kind: KindSet, Field: "b", Value: 2},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 5, l.Len(), "source log must be untouched")

	t.Run("idempotent", func(t *testing.T) {
		assert.Equal(t, got, Compact(got))
		h := Compact(hydrated().Ops())
		assert.Equal(t, h, Compact(h))
	})
	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Compact(nil))
	})
}

func TestProject(t *testing.T) {
	ops := Compact(hydrated().Ops())
	tests := []struct {
		name string
		opts Options
		want map[string]any
	}{
		{"updates only", UpdatesOnly(), map[string]any{"name": "sara", "child2": "miles", "age": 40}},
		{"deletes only", DeletesOnly(), map[string]any{"child1": Absent, "beer": Absent}},
		{"init only", InitOnly(), map[string]any{"const": true}},
		{"patch", Patch(), map[string]any{"name": "sara", "child1": Absent, "child2": "miles", "age": 40, "beer": Absent}},
		{"nothing", Options{Format: FormatMapping, Compact: true}, map[string]any{}},
		{"everything", DefaultOptions(), map[string]any{"name": "sara", "child1": Absent, "child2": "miles", "age": 40, "beer": Absent, "const": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(ops, tt.opts))
		})
	}
}

func TestProjectRoundTrip(t *testing.T) {
	l := newLog(
		Op{Kind: KindInit, Field: "username", Value: "adam"},
		Op{Kind: KindInit, Field: "age", Value: 40.0},
	)
	assert.Empty(t, Project(Compact(l.Ops()), Patch()))
}

func TestAbsent(t *testing.T) {
	assert.True(t, IsAbsent(Absent))
	assert.False(t, IsAbsent(nil))
	assert.False(t, IsAbsent(struct{}{}))
	assert.Equal(t, "<absent>", Absent.(interface{ String() string }).String())
}

func TestKindText(t *testing.T) {
	for _, k := range []Kind{KindInit, KindSet, KindDelete} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var got Kind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}
	_, err := Kind(0).MarshalText()
	assert.Error(t, err)
	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("upsert")))
}
