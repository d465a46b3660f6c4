package uds

import (
	"context"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/maruel/uds/internal/backend"
	"github.com/maruel/uds/internal/journal"
)

// User is a record of the "users" table.
type User struct {
	record
}

// Table implements Record.
func (u *User) Table() string { return TableUsers }

// Schema implements Record.
func (u *User) Schema() *jsonschema.Schema { return schemas()[TableUsers] }

// Commit implements Record.
func (u *User) Commit(ctx context.Context) (WriteOutcome, error) {
	return u.store.SaveUser(ctx, u)
}

// Username returns the current username, or "" if unset.
func (u *User) Username() string {
	v, err := u.Get(FieldUsername)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// rename returns the stored and the current username when a commit would
// change it.
func (u *User) rename() (oldName, newName any, ok bool) {
	oldName, stored := u.keys[FieldUsername]
	if !stored {
		return nil, nil, false
	}
	newName, err := u.Get(FieldUsername)
	if err != nil || journal.IsAbsent(newName) || reflect.DeepEqual(newName, oldName) {
		return nil, nil, false
	}
	return oldName, newName, true
}

// CreateCredential returns a new credential owned by u.
func (u *User) CreateCredential() (*Credential, error) {
	name := u.Username()
	if name == "" {
		return nil, fmt.Errorf("%w: user has no %s", ErrInvalidArgument, FieldUsername)
	}
	c := u.store.CreateCredential()
	if err := c.Set(FieldUsername, name); err != nil {
		return nil, err
	}
	return c, nil
}

// Credentials returns the stored credentials owned by u.
func (u *User) Credentials(ctx context.Context) ([]*Credential, error) {
	v, err := u.Get(FieldUsername)
	if err != nil || journal.IsAbsent(v) {
		return nil, fmt.Errorf("%w: user has no %s", ErrInvalidArgument, FieldUsername)
	}
	return u.store.FindCredentials(ctx, backend.Document{FieldUsername: v})
}
