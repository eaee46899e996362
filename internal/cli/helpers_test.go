package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/edb/internal/record"
)

// run executes the root command and returns stdout, stderr and the exit
// code.
func run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := Execute(args, stdout, stderr)
	return stdout.String(), stderr.String(), code
}

// writeFile writes content to name in dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// response is CLIResponse with Data left undecoded.
type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out string, data any) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if data != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data), string(resp.Data))
	}
	return resp
}

// testDB is a database location plus the flags selecting it.
type testDB struct {
	t     *testing.T
	dir   string
	flags []string
}

func newSQLiteDB(t *testing.T) *testDB {
	dir := t.TempDir()
	return &testDB{t: t, dir: dir, flags: []string{"--db", filepath.Join(dir, "edb.db")}}
}

func newPebbleDB(t *testing.T) *testDB {
	dir := t.TempDir()
	return &testDB{t: t, dir: dir, flags: []string{"--db", filepath.Join(dir, "data"), "--backend", "pebble"}}
}

// run executes a command against the database.
func (d *testDB) run(args ...string) (string, string, int) {
	d.t.Helper()
	return run(d.t, append(args, d.flags...)...)
}

// apply applies a YAML changeset and returns the commit it produced.
func (d *testDB) apply(changeset string) record.CommitMeta {
	d.t.Helper()
	path := writeFile(d.t, d.t.TempDir(), "changes.yaml", changeset)
	out, stderr, code := d.run("apply", path, "--format", "json")
	require.Equal(d.t, ExitSuccess, code, stderr)

	var meta record.CommitMeta
	decodeResponse(d.t, out, &meta)
	return meta
}

const seedChangeset = `
committer: alice
context: plant-a
comment: initial equipment
insert:
  - oid: pump/1
    fields: {name: Feed Pump, flow: 12.5, owner: {$ref: team/ops}}
  - oid: valve/1
    fields: {open: true}
`
