package uds

import (
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

// UserFields describes the conventional fields of a user document. Records
// are schemaless; the schema is informative.
type UserFields struct {
	Username string    `json:"username" jsonschema:"description=Unique login name"`
	Name     string    `json:"name,omitempty" jsonschema:"description=Display name"`
	Email    string    `json:"email,omitempty" jsonschema:"description=Email address"`
	Created  time.Time `json:"created,omitempty" jsonschema:"description=Account creation timestamp"`
}

// CredentialFields describes the conventional fields of a credential
// document.
type CredentialFields struct {
	Username string    `json:"username" jsonschema:"description=Username of the owning user"`
	Kind     string    `json:"kind" jsonschema:"description=Credential kind,enum=password,enum=token"`
	Secret   string    `json:"secret" jsonschema:"description=Bcrypt hash of the secret"`
	Label    string    `json:"label,omitempty" jsonschema:"description=Free form label"`
	Created  time.Time `json:"created,omitempty" jsonschema:"description=Creation timestamp"`
	LastUsed time.Time `json:"last_used,omitempty" jsonschema:"description=Last successful use"`
}

var schemas = sync.OnceValue(func() map[string]*jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	return map[string]*jsonschema.Schema{
		TableUsers:       r.Reflect(&UserFields{}),
		TableCredentials: r.Reflect(&CredentialFields{}),
	}
})

// TableSchema returns the JSON schema of a table's documents.
func TableSchema(table string) (*jsonschema.Schema, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return schemas()[table], nil
}
