package uds

import (
	"context"

	"github.com/invopop/jsonschema"
)

// Credential is a record of the "credentials" table. It references its user
// by username.
type Credential struct {
	record
}

// Table implements Record.
func (c *Credential) Table() string { return TableCredentials }

// Schema implements Record.
func (c *Credential) Schema() *jsonschema.Schema { return schemas()[TableCredentials] }

// Commit implements Record.
func (c *Credential) Commit(ctx context.Context) (WriteOutcome, error) {
	return c.store.SaveCredential(ctx, c)
}

// Username returns the username of the owner, or "" if unset.
func (c *Credential) Username() string {
	v, err := c.Get(FieldUsername)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
