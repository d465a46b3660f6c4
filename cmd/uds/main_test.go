package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/maruel/uds/internal/auth"
	"github.com/maruel/uds/internal/uds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes one uds invocation against dir and returns its stdout and
// stderr.
func run(t *testing.T, dir, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp()
	a.stderr = &stderr
	cmd := a.rootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--data-dir", dir, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(t.Context())
	a.close()
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, _, err := run(t, dir, "", args...)
	require.NoError(t, err, "uds %s", strings.Join(args, " "))
	return out
}

func showUser(t *testing.T, dir, username string) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, dir, "user", "show", username)), &doc))
	return doc
}

func TestUserLifecycle(t *testing.T) {
	dir := t.TempDir()
	id := strings.TrimSpace(mustRun(t, dir, "user", "add", "alice", "email=a@example.com", "age=30"))
	require.NotEmpty(t, id)
	_, _, err := run(t, dir, "", "user", "add", "alice")
	assert.ErrorContains(t, err, "already exists")

	assert.Contains(t, mustRun(t, dir, "user", "list"), "alice")
	doc := showUser(t, dir, "alice")
	assert.Equal(t, map[string]any{"_id": id, "username": "alice", "email": "a@example.com", "age": float64(30)}, doc)

	out := mustRun(t, dir, "user", "set", "alice", "--dry-run", "age=31")
	assert.JSONEq(t, `{"age": 31}`, out)
	assert.Equal(t, float64(30), showUser(t, dir, "alice")["age"])

	mustRun(t, dir, "user", "set", "alice", "age=31", "tags=[\"a\"]")
	doc = showUser(t, dir, "alice")
	assert.Equal(t, float64(31), doc["age"])
	assert.Equal(t, []any{"a"}, doc["tags"])

	out = mustRun(t, dir, "user", "unset", "alice", "--dry-run", "email")
	assert.JSONEq(t, `{"email": null}`, out)
	mustRun(t, dir, "user", "unset", "alice", "email")
	assert.NotContains(t, showUser(t, dir, "alice"), "email")

	mustRun(t, dir, "user", "add", "bob", "team=x")
	out = mustRun(t, dir, "user", "list", "--where", "team=x")
	assert.Contains(t, out, "bob")
	assert.NotContains(t, out, "alice")

	mustRun(t, dir, "user", "rm", "alice")
	assert.NotContains(t, mustRun(t, dir, "user", "list"), "alice")
	_, _, err = run(t, dir, "", "user", "show", "alice")
	assert.ErrorContains(t, err, "not found")
}

func TestCredentialLogin(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "user", "add", "bob")
	credID := strings.TrimSpace(mustRun(t, dir, "credential", "add", "bob", "--password", "s3cret", "--label", "laptop"))
	out := mustRun(t, dir, "credential", "list", "bob")
	assert.Contains(t, out, credID)
	assert.Contains(t, out, "password")
	assert.Contains(t, out, "laptop")
	assert.NotContains(t, out, "s3cret")

	token, _, err := run(t, dir, "s3cret\n", "login", "bob")
	require.NoError(t, err)
	token = strings.TrimSpace(token)
	require.NotEmpty(t, token)
	out = mustRun(t, dir, "verify", token)
	assert.True(t, strings.HasPrefix(out, "bob "), out)

	_, _, err = run(t, dir, "", "login", "bob", "--password", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = run(t, dir, "", "verify", token+"x")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	mustRun(t, dir, "credential", "rm", "bob", credID)
	assert.NotContains(t, mustRun(t, dir, "credential", "list", "bob"), credID)
	_, _, err = run(t, dir, "", "login", "bob", "--password", "s3cret")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestSchema(t *testing.T) {
	dir := t.TempDir()
	assert.Contains(t, mustRun(t, dir, "schema", "users"), `"username"`)
	_, _, err := run(t, dir, "", "schema", "nope")
	assert.ErrorIs(t, err, uds.ErrInvalidTable)
}

func TestMetricsFlag(t *testing.T) {
	dir := t.TempDir()
	_, stderr, err := run(t, dir, "", "--metrics", "user", "add", "carol")
	require.NoError(t, err)
	assert.Contains(t, stderr, `uds_store_ops_total{op="insert",table="users"} 1`)
}

func TestDriverFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("UDS_DRIVER", "")
	require.NoError(t, os.Unsetenv("UDS_DRIVER"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("UDS_DRIVER=sqlite\n"), 0o600))

	mustRun(t, dir, "user", "add", "dave")
	_, err := os.Stat(filepath.Join(dir, "user-data", "uds.db"))
	require.NoError(t, err)
	assert.Contains(t, mustRun(t, dir, "user", "list"), "dave")
}

func TestVersion(t *testing.T) {
	out := mustRun(t, t.TempDir(), "version")
	assert.True(t, strings.HasPrefix(out, "module:"), out)
	assert.Contains(t, out, "\ngo:")

	var buf bytes.Buffer
	require.NoError(t, printVersion(&buf, &debug.BuildInfo{
		GoVersion: "go1.25.5",
		Main:      debug.Module{Path: "github.com/maruel/uds", Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123abc"},
			{Key: "vcs.modified", Value: "true"},
		},
	}))
	want := "module:    github.com/maruel/uds\n" +
		"version:   devel\n" +
		"go:        go1.25.5\n" +
		"commit:    0123abc+dirty\n"
	assert.Equal(t, want, buf.String())
}

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		arg   string
		field string
		value any
	}{
		{"a=1", "a", float64(1)},
		{"a=true", "a", true},
		{"a=hello", "a", "hello"},
		{`a="quoted"`, "a", "quoted"},
		{"a=", "a", ""},
		{"a=b=c", "a", "b=c"},
		{`a={"x":null}`, "a", map[string]any{"x": nil}},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			field, value, err := parseAssignment(tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.field, field)
			assert.Equal(t, tt.value, value)
		})
	}
	for _, arg := range []string{"novalue", "=x"} {
		_, _, err := parseAssignment(arg)
		assert.Error(t, err, arg)
	}
}
