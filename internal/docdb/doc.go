// Package docdb is an embedded document database storing one JSONL file per
// collection.
//
// # Overview
//
// [Open] returns a [DB] rooted at a directory. Each collection lives in
// <name>.jsonl: line 1 is a header, every following line is one document.
// Collections are loaded fully in memory on first use and served from there.
//
// # Writes
//
// Inserts append to the file. Updates and removes rewrite it through a
// temporary file renamed over the original, so a crash leaves either the old
// or the new content.
//
// # Concurrency
//
// A collection is guarded by a read-write lock held for the whole
// read-modify-write of an update. Writers to the same file from other
// processes are not coordinated; with [Options.Watch] the DB reloads a
// collection after its file changed on disk.
package docdb
