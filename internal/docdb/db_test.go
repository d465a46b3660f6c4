package docdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maruel/uds/internal/backend"
	"github.com/maruel/uds/internal/backend/backendtest"
)

// setupDB opens a database in the test's temp directory.
func setupDB(t *testing.T, opts *Options) (*DB, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "user-data")
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return db, dir
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, "docdb", func(t *testing.T) backend.Adapter {
		db, _ := setupDB(t, nil)
		return db
	})
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	db, dir := setupDB(t, nil)
	c, err := db.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	saved, err := c.Insert(ctx, backend.Document{"username": "adam", "beer": true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Update(ctx, backend.Document{"username": "adam"}, backend.Document{
		backend.OpSet:   backend.Document{"name": "Adam"},
		backend.OpUnset: backend.Document{"beer": true},
	}, backend.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(ctx, backend.Document{"username": "sara"}); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "users.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows:\n%s", len(lines), data)
	}
	if want := `{"version":"1.0","collection":"users"}`; lines[0] != want {
		t.Errorf("header = %s, want %s", lines[0], want)
	}

	db2, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db2.Close() }()
	c2, err := db2.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	cur, err := c2.Find(ctx, backend.Document{backend.IDField: saved[0].ID()})
	if err != nil {
		t.Fatal(err)
	}
	docs, err := cur.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if docs[0]["name"] != "Adam" {
		t.Errorf("name = %v, want Adam", docs[0]["name"])
	}
	if _, ok := docs[0]["beer"]; ok {
		t.Error("beer should have been unset")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad header", "not json\n"},
		{"missing version", `{"collection":"users"}` + "\n"},
		{"future version", `{"version":"9.0","collection":"users"}` + "\n"},
		{"other collection", `{"version":"1.0","collection":"credentials"}` + "\n"},
		{"bad row", `{"version":"1.0","collection":"users"}` + "\n{oops\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, dir := setupDB(t, nil)
			defer func() { _ = db.Close() }()
			if err := os.WriteFile(filepath.Join(dir, "users.jsonl"), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := db.Collection("users"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCanceledContext(t *testing.T) {
	db, _ := setupDB(t, nil)
	defer func() { _ = db.Close() }()
	c, err := db.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Insert(ctx, backend.Document{"a": 1}); !errors.Is(err, context.Canceled) {
		t.Errorf("Insert error = %v, want context.Canceled", err)
	}
	if _, err := c.Remove(ctx, backend.Document{}, backend.RemoveOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Remove error = %v, want context.Canceled", err)
	}
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	db, dir := setupDB(t, &Options{Watch: true})
	defer func() { _ = db.Close() }()
	c, err := db.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(ctx, backend.Document{"username": "adam"}); err != nil {
		t.Fatal(err)
	}

	// Another process rewrites the file.
	content := `{"version":"1.0","collection":"users"}` + "\n" +
		`{"_id":"external","username":"sara"}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "users.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		// A reload may observe a partially written file; retry until the
		// final content is loaded.
		if cur, err := c.Find(ctx, backend.Document{"username": "sara"}); err == nil {
			docs, err := cur.ToArray(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(docs) == 1 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("external modification was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOwnWritesNotStale(t *testing.T) {
	ctx := context.Background()
	db, dir := setupDB(t, &Options{Watch: true})
	defer func() { _ = db.Close() }()
	c, err := db.collection("users")
	if err != nil {
		t.Fatal(err)
	}
	if c.changedOnDisk() {
		t.Fatal("missing file reported as changed")
	}
	if _, err := c.Insert(ctx, backend.Document{"username": "adam"}); err != nil {
		t.Fatal(err)
	}
	if c.changedOnDisk() {
		t.Fatal("insert reported as an external change")
	}
	if _, err := c.Update(ctx, backend.Document{"username": "adam"}, backend.Document{"$set": backend.Document{"age": 3}}, backend.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	if c.changedOnDisk() {
		t.Fatal("update reported as an external change")
	}
	// Let the watcher drain the events of the writes above.
	time.Sleep(100 * time.Millisecond)
	if c.stale.Load() {
		t.Fatal("own writes marked the collection stale")
	}

	// Another process appends a row.
	f, err := os.OpenFile(filepath.Join(dir, "users.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"_id":"external","username":"sara"}` + "\n"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if !c.changedOnDisk() {
		t.Fatal("external append not detected")
	}
	if err := os.Remove(filepath.Join(dir, "users.jsonl")); err != nil {
		t.Fatal(err)
	}
	if !c.changedOnDisk() {
		t.Fatal("external removal not detected")
	}
}
