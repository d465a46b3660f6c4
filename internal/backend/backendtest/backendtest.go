// Package backendtest is a conformance suite for backend.Adapter
// implementations.
package backendtest

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/maruel/uds/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty adapter. The suite closes it.
type Factory func(t *testing.T) backend.Adapter

// Run runs the conformance suite against the adapters built by factory.
func Run(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert", func(t *testing.T) { testInsert(t, factory) })
		t.Run("Find", func(t *testing.T) { testFind(t, factory) })
		t.Run("Update", func(t *testing.T) { testUpdate(t, factory) })
		t.Run("Upsert", func(t *testing.T) { testUpsert(t, factory) })
		t.Run("Remove", func(t *testing.T) { testRemove(t, factory) })
		t.Run("Collections", func(t *testing.T) { testCollections(t, factory) })
		t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, factory) })
		t.Run("Close", func(t *testing.T) { testClose(t, factory) })
	})
}

func open(t *testing.T, factory Factory, name string) backend.Collection {
	t.Helper()
	a := factory(t)
	t.Cleanup(func() { _ = a.Close() })
	c, err := a.Collection(name)
	require.NoError(t, err)
	return c
}

func all(t *testing.T, c backend.Collection, selector backend.Document) []backend.Document {
	t.Helper()
	ctx := context.Background()
	cur, err := c.Find(ctx, selector)
	require.NoError(t, err)
	docs, err := cur.ToArray(ctx)
	require.NoError(t, err)
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return docs
}

func testInsert(t *testing.T, factory Factory) {
	ctx := context.Background()
	c := open(t, factory, "users")

	in := backend.Document{"username": "adam", "age": 40, "tags": []string{"a", "b"}}
	saved, err := c.Insert(ctx, in)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	id := saved[0].ID()
	assert.NotEmpty(t, id)
	assert.Equal(t, 40.0, saved[0]["age"], "documents are normalized")
	assert.Equal(t, []any{"a", "b"}, saved[0]["tags"])
	_, ok := in[backend.IDField]
	assert.False(t, ok, "input document must not be modified")

	explicit, err := c.Insert(ctx, backend.Document{backend.IDField: "fixed", "username": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", explicit[0].ID())

	docs := all(t, c, backend.Document{})
	require.Len(t, docs, 2)

	_, err = c.Insert(ctx, backend.Document{backend.IDField: "fixed", "username": "again"})
	assert.ErrorIs(t, err, backend.ErrDuplicateID)
	_, err = c.Insert(ctx, backend.Document{backend.IDField: 42})
	assert.ErrorIs(t, err, backend.ErrBadDocument)
	assert.Len(t, all(t, c, backend.Document{}), 2, "failed inserts store nothing")

	_, err = c.Insert(ctx, nil)
	assert.Error(t, err)
}

func testFind(t *testing.T, factory Factory) {
	ctx := context.Background()
	c := open(t, factory, "users")

	assert.Empty(t, all(t, c, backend.Document{}), "empty collection")

	_, err := c.Insert(ctx,
		backend.Document{"username": "adam", "age": 40},
		backend.Document{"username": "sara", "age": 40},
		backend.Document{"username": "miles", "age": 3},
	)
	require.NoError(t, err)

	assert.Len(t, all(t, c, backend.Document{}), 3)
	assert.Len(t, all(t, c, backend.Document{"age": 40}), 2, "int selector matches stored float")
	got := all(t, c, backend.Document{"username": "miles"})
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0]["age"])
	assert.Empty(t, all(t, c, backend.Document{"username": "nobody"}))
	assert.Empty(t, all(t, c, backend.Document{"missing": nil}))

	byID := all(t, c, backend.Document{backend.IDField: got[0].ID()})
	require.Len(t, byID, 1)
	assert.Equal(t, "miles", byID[0]["username"])

	// Results are copies.
	got[0]["username"] = "changed"
	assert.Len(t, all(t, c, backend.Document{"username": "miles"}), 1)
}

func testUpdate(t *testing.T, factory Factory) {
	ctx := context.Background()
	c := open(t, factory, "users")
	_, err := c.Insert(ctx,
		backend.Document{"username": "adam", "beer": true, "group": "x"},
		backend.Document{"username": "sara", "group": "x"},
	)
	require.NoError(t, err)

	n, err := c.Update(ctx, backend.Document{"username": "adam"}, backend.Document{
		backend.OpSet:   backend.Document{"name": "Adam"},
		backend.OpUnset: backend.Document{"beer": true},
	}, backend.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := all(t, c, backend.Document{"username": "adam"})
	require.Len(t, got, 1)
	assert.Equal(t, "Adam", got[0]["name"])
	_, ok := got[0]["beer"]
	assert.False(t, ok)

	n, err = c.Update(ctx, backend.Document{"username": "nobody"}, backend.Document{backend.OpSet: backend.Document{"a": 1}}, backend.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no match is not an error")

	n, err = c.Update(ctx, backend.Document{"group": "x"}, backend.Document{backend.OpSet: backend.Document{"seen": true}}, backend.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "single by default")
	n, err = c.Update(ctx, backend.Document{"group": "x"}, backend.Document{backend.OpSet: backend.Document{"seen": true}}, backend.UpdateOptions{Multi: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, all(t, c, backend.Document{"seen": true}), 2)

	for _, bad := range []backend.Document{
		{},
		{"name": "replacement"},
		{"$inc": backend.Document{"age": 1}},
		{backend.OpSet: "scalar"},
		{backend.OpSet: backend.Document{backend.IDField: "other"}},
	} {
		_, err := c.Update(ctx, backend.Document{"username": "adam"}, bad, backend.UpdateOptions{})
		assert.ErrorIs(t, err, backend.ErrBadUpdate, "%v", bad)
	}
}

func testUpsert(t *testing.T, factory Factory) {
	ctx := context.Background()
	c := open(t, factory, "users")

	n, err := c.Update(ctx, backend.Document{"username": "adam"}, backend.Document{backend.OpSet: backend.Document{"age": 40}}, backend.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := all(t, c, backend.Document{})
	require.Len(t, got, 1)
	assert.Equal(t, "adam", got[0]["username"])
	assert.Equal(t, 40.0, got[0]["age"])
	assert.NotEmpty(t, got[0].ID())

	n, err = c.Update(ctx, backend.Document{"username": "adam"}, backend.Document{backend.OpSet: backend.Document{"age": 41}}, backend.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got = all(t, c, backend.Document{})
	require.Len(t, got, 1, "second upsert updates in place")
	assert.Equal(t, 41.0, got[0]["age"])
}

func testRemove(t *testing.T, factory Factory) {
	ctx := context.Background()
	c := open(t, factory, "credentials")
	_, err := c.Insert(ctx,
		backend.Document{"username": "adam", "kind": "password"},
		backend.Document{"username": "adam", "kind": "token"},
		backend.Document{"username": "sara", "kind": "password"},
	)
	require.NoError(t, err)

	n, err := c.Remove(ctx, backend.Document{"username": "nobody"}, backend.RemoveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = c.Remove(ctx, backend.Document{"username": "adam"}, backend.RemoveOptions{Single: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, all(t, c, backend.Document{"username": "adam"}), 1)

	n, err = c.Remove(ctx, backend.Document{}, backend.RemoveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, all(t, c, backend.Document{}))
}

func testCollections(t *testing.T, factory Factory) {
	ctx := context.Background()
	a := factory(t)
	t.Cleanup(func() { _ = a.Close() })
	users, err := a.Collection("users")
	require.NoError(t, err)
	creds, err := a.Collection("credentials")
	require.NoError(t, err)

	_, err = users.Insert(ctx, backend.Document{"username": "adam"})
	require.NoError(t, err)
	assert.Empty(t, all(t, creds, backend.Document{}), "collections are disjoint")

	again, err := a.Collection("users")
	require.NoError(t, err)
	assert.Len(t, all(t, again, backend.Document{}), 1)

	_, err = a.Collection("")
	assert.Error(t, err)
	_, err = a.Collection("../escape")
	assert.Error(t, err)
}

func testConcurrent(t *testing.T, factory Factory) {
	ctx := context.Background()
	c := open(t, factory, "credentials")
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Insert(ctx, backend.Document{"username": "adam", "n": i})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	docs := all(t, c, backend.Document{"username": "adam"})
	assert.Len(t, docs, n)
	ids := map[string]bool{}
	for _, d := range docs {
		ids[d.ID()] = true
	}
	assert.Len(t, ids, n, "identifiers are unique")
}

func testClose(t *testing.T, factory Factory) {
	ctx := context.Background()
	a := factory(t)
	c, err := a.Collection("users")
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "double close")

	_, err = c.Insert(ctx, backend.Document{"username": "adam"})
	assert.ErrorIs(t, err, backend.ErrClosed)
	_, err = c.Find(ctx, backend.Document{})
	assert.ErrorIs(t, err, backend.ErrClosed)
	_, err = a.Collection("users")
	assert.ErrorIs(t, err, backend.ErrClosed)
}
