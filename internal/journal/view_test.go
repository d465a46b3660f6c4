package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Run("mapping", func(t *testing.T) {
		v, err := Render(hydrated(), UpdatesOnly())
		require.NoError(t, err)
		assert.Equal(t, FormatMapping, v.Format)
		assert.Equal(t, map[string]any{"name": "sara", "child2": "miles", "age": 40}, v.Fields)
		assert.Nil(t, v.Ops)
		assert.Nil(t, v.Keyed)
		assert.Equal(t, []string{"age", "child2", "name"}, v.Names())
	})

	t.Run("keyed map", func(t *testing.T) {
		opts := DeletesOnly()
		opts.Format = FormatKeyedMap
		v, err := Render(hydrated(), opts)
		require.NoError(t, err)
		assert.Equal(t, map[Key]any{{Field: "child1"}: Absent, {Field: "beer"}: Absent}, v.Keyed)
		assert.Equal(t, 2, v.Len())
	})

	t.Run("ordered list compacted", func(t *testing.T) {
		opts := Patch()
		opts.Format = FormatOrderedList
		v, err := Render(hydrated(), opts)
		require.NoError(t, err)
		want := []Op{
			{Kind: KindSet, Field: "name", Value: "sara"},
			{Kind: KindDelete, Field: "child1"},
			{Kind: KindSet, Field: "child2", Value: "miles"},
			{Kind: KindSet, Field: "age", Value: 40},
			{Kind: KindDelete, Field: "beer"},
		}
		assert.Equal(t, want, v.Ops)
	})

	t.Run("ordered list full history", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Format = FormatOrderedList
		opts.Compact = false
		l := hydrated()
		v, err := Render(l, opts)
		require.NoError(t, err)
		assert.Equal(t, l.Ops(), v.Ops)

		opts.IncludeInit = false
		opts.IncludeSet = false
		v, err = Render(l, opts)
		require.NoError(t, err)
		assert.Len(t, v.Ops, 3)
		for _, op := range v.Ops {
			assert.Equal(t, KindDelete, op.Kind)
		}
	})

	t.Run("exclusive", func(t *testing.T) {
		for _, f := range []Format{FormatMapping, FormatOrderedList, FormatKeyedMap} {
			v, err := Render(hydrated(), Options{Format: f, Compact: true})
			require.NoError(t, err)
			assert.Zero(t, v.Len(), f.String())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, opts := range []Options{
			{Format: FormatMapping, IncludeSet: true},
			{Format: FormatKeyedMap, IncludeSet: true},
			{Format: Format(42), Compact: true},
		} {
			_, err := Render(hydrated(), opts)
			assert.ErrorIs(t, err, ErrInvalidOption)
		}
	})
}
