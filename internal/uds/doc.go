// Package uds is the user data store: journaled records persisted in a
// collection oriented document backend.
//
// A record never mutates a stored document in place. [Record.Set],
// [Record.Initialize] and [Record.Delete] append to the record's journal;
// committing asks the journal for the fields changed since load and turns them
// into a single write against the record's table.
//
// Two tables are recognized, "users" and "credentials". A [Store] holds no
// reference to the records it creates: records are short lived values owned
// by the caller.
//
// Concurrent commits on the same user race with last-write-wins semantics;
// there is no version field.
package uds
