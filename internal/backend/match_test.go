package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	doc, err := Normalize(Document{"username": "adam", "age": 40, "nested": map[string]any{"a": 1}})
	require.NoError(t, err)
	tests := []struct {
		name     string
		selector Document
		want     bool
	}{
		{"empty", Document{}, true},
		{"nil", nil, true},
		{"equal", Document{"username": "adam"}, true},
		{"number", Document{"age": 40.0}, true},
		{"nested", Document{"nested": map[string]any{"a": 1.0}}, true},
		{"different", Document{"username": "sara"}, false},
		{"missing key", Document{"email": "x"}, false},
		{"partial", Document{"username": "adam", "age": 41.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.selector, doc))
		})
	}
}

func TestParseUpdate(t *testing.T) {
	p, err := ParseUpdate(Document{OpSet: map[string]any{"a": 1.0}, OpUnset: map[string]any{"c": true, "b": true}})
	require.NoError(t, err)
	assert.Equal(t, Document{"a": 1.0}, p.Set)
	assert.Equal(t, []string{"b", "c"}, p.Unset)

	doc := Document{"b": 1, "c": 2, "d": 3}
	p.Apply(doc)
	assert.Equal(t, Document{"a": 1.0, "d": 3}, doc)

	up := p.Upserted(Document{"username": "adam"})
	assert.Equal(t, Document{"username": "adam", "a": 1.0}, up)

	_, err = ParseUpdate(nil)
	assert.ErrorIs(t, err, ErrBadUpdate)
	_, err = ParseUpdate(Document{"$push": Document{"a": 1}})
	assert.ErrorIs(t, err, ErrBadUpdate)
}

func TestDocumentClone(t *testing.T) {
	d := Document{"list": []any{map[string]any{"a": 1}}, "m": map[string]any{"b": 2}}
	c := d.Clone()
	c["list"].([]any)[0].(map[string]any)["a"] = 9
	c["m"].(map[string]any)["b"] = 9
	assert.Equal(t, 1, d["list"].([]any)[0].(map[string]any)["a"])
	assert.Equal(t, 2, d["m"].(map[string]any)["b"])
	assert.Nil(t, Document(nil).Clone())
}

func TestNormalize(t *testing.T) {
	_, err := Normalize(nil)
	assert.ErrorIs(t, err, ErrBadDocument)
	_, err = Normalize(Document{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrBadDocument)
	d, err := Normalize(Document{"n": 3, "s": struct {
		A int `json:"a"`
	}{A: 1}})
	require.NoError(t, err)
	assert.Equal(t, Document{"n": 3.0, "s": map[string]any{"a": 1.0}}, d)
}

func TestValidateCollectionName(t *testing.T) {
	for _, name := range []string{"users", "credentials", "user_data-2"} {
		assert.NoError(t, ValidateCollectionName(name), name)
	}
	for _, name := range []string{"", "../x", "a/b", "a.jsonl", "é"} {
		assert.Error(t, ValidateCollectionName(name), name)
	}
}
