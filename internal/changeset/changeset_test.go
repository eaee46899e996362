package changeset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/record"
)

const cueChangeset = `
#Entry: {oid: string, version?: int, fields?: {...}}

committer: "alice"
context:   "plant-7"
comment:   "replace feed pump"
insert: [...#Entry] & [{
	oid: "pump/2"
	fields: {name: "Feed pump", flow: 12.5, stages: 3, spare: false, owner: {"$ref": "team/ops"}}
}]
update: [{oid: "pump/1", version: 3, fields: {name: "Spare pump"}}]
add: [{oid: "note/1"}]
delete: ["valve/9"]
`

const yamlChangeset = `
committer: alice
context: plant-7
comment: replace feed pump
insert:
  - oid: pump/2
    fields:
      name: Feed pump
      flow: 12.5
      stages: 3
      spare: false
      owner: {$ref: team/ops}
update:
  - oid: pump/1
    version: 3
    fields: {name: Spare pump}
add:
  - oid: note/1
delete: [valve/9]
`

const jsonChangeset = `{
  "committer": "alice",
  "context": "plant-7",
  "comment": "replace feed pump",
  "insert": [{"oid": "pump/2", "fields": {"name": "Feed pump", "flow": 12.5, "stages": 3, "spare": false, "owner": {"$ref": "team/ops"}}}],
  "update": [{"oid": "pump/1", "version": 3, "fields": {"name": "Spare pump"}}],
  "add": [{"oid": "note/1"}],
  "delete": ["valve/9"]
}`

func expectedChangeset() *Changeset {
	return &Changeset{
		Committer: "alice",
		Context:   "plant-7",
		Comment:   "replace feed pump",
		Insert: []Entry{{
			OID: "pump/2",
			Fields: record.Fields{
				"name":   record.String("Feed pump"),
				"flow":   record.Float(12.5),
				"stages": record.Int(3),
				"spare":  record.Bool(false),
				"owner":  record.Ref("team/ops"),
			},
		}},
		Update: []Entry{{OID: "pump/1", Version: 3, Fields: record.Fields{"name": record.String("Spare pump")}}},
		Add:    []Entry{{OID: "note/1", Fields: record.Fields{}}},
		Delete: []string{"valve/9"},
	}
}

func TestParse_AllFormats(t *testing.T) {
	tests := []struct {
		format Format
		data   string
	}{
		{FormatCUE, cueChangeset},
		{FormatYAML, yamlChangeset},
		{FormatJSON, jsonChangeset},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			cs, err := Parse([]byte(tt.data), tt.format, "cs."+string(tt.format))
			require.NoError(t, err)
			assert.Equal(t, expectedChangeset(), cs)
			assert.Equal(t, 4, cs.Size())
		})
	}
}

func TestParse_CUEFloatStaysFloat(t *testing.T) {
	cs, err := Parse([]byte(`
committer: "a"
context: "c"
insert: [{oid: "x", fields: {whole: 1.0, n: 1}}]
`), FormatCUE, "x.cue")
	require.NoError(t, err)
	assert.Equal(t, record.Float(1), cs.Insert[0].Fields["whole"])
	assert.Equal(t, record.Int(1), cs.Insert[0].Fields["n"])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		data    string
		wantMsg string
	}{
		{"missing committer", FormatYAML, "context: c\n", "committer is required"},
		{"empty context", FormatYAML, "committer: a\ncontext: \"\"\n", "context must not be empty"},
		{"unknown key", FormatYAML, "committer: a\ncontext: c\ninserts: []\n", `unknown key "inserts"`},
		{"entry unknown key", FormatYAML, "committer: a\ncontext: c\ninsert: [{oid: x, feilds: {}}]\n", `unknown key "feilds"`},
		{"entry without oid", FormatYAML, "committer: a\ncontext: c\ninsert: [{fields: {}}]\n", "oid must be a non-empty string"},
		{"negative version", FormatYAML, "committer: a\ncontext: c\nupdate: [{oid: x, version: -1}]\n", "version must be a non-negative integer"},
		{"nested object", FormatYAML, "committer: a\ncontext: c\ninsert: [{oid: x, fields: {a: {b: 1}}}]\n", "nested objects"},
		{"null field", FormatJSON, `{"committer":"a","context":"c","insert":[{"oid":"x","fields":{"a":null}}]}`, "null is not a field value"},
		{"delete not list", FormatYAML, "committer: a\ncontext: c\ndelete: x\n", "delete must be a list"},
		{"not a mapping", FormatYAML, "- a\n", "changeset must be a mapping"},
		{"empty", FormatYAML, "", "parse changeset"},
		{"bad yaml", FormatYAML, "committer: [\n", "parse changeset"},
		{"cue syntax", FormatCUE, "committer: \"a\ncontext: \"c\"\n", "compile changeset"},
		{"cue conflict", FormatCUE, "committer: \"a\"\ncommitter: \"b\"\ncontext: \"c\"\n", "conflicting values"},
		{"cue incomplete", FormatCUE, "committer: string\ncontext: \"c\"\n", "not concrete"},
		{"cue null", FormatCUE, "committer: \"a\"\ncontext: \"c\"\ncomment: null\n", "unsupported value"},
		{"unknown format", Format("toml"), "", "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format, "cs")
			require.Error(t, err)
			var ce *Error
			assert.True(t, errors.As(err, &ce))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParse_CUEErrorHasPosition(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"conflict", "committer: \"a\"\ncontext: 1 & \"c\"\n"},
		{"syntax", "committer: \"a\"\ncontext: \"c\" }\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), FormatCUE, "bad.cue")
			var ce *Error
			require.True(t, errors.As(err, &ce))
			assert.Contains(t, ce.Pos, "bad.cue:2:")
			assert.Contains(t, err.Error(), "bad.cue:2:")
		})
	}
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{
		"a.cue": FormatCUE, "a.yaml": FormatYAML, "a.YML": FormatYAML, "dir/a.json": FormatJSON,
	} {
		got, err := FormatOf(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
	_, err := FormatOf("a.txt")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "change.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlChangeset), 0o644))

	cs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, expectedChangeset(), cs)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("context: c\n"), 0o644))
	_, err = Load(bad)
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, bad, ce.Path)

	_, err = Load(filepath.Join(dir, "missing.cue"))
	assert.ErrorContains(t, err, "read changeset")
}

func TestChangeset_Commit(t *testing.T) {
	cs := expectedChangeset()
	cs.Parent = "rev-1"

	c, err := cs.Commit()
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Committer)
	assert.Equal(t, "plant-7", c.Context)
	assert.Equal(t, "replace feed pump", c.Comment)
	assert.Equal(t, "rev-1", c.Parent)
	assert.False(t, c.IsCommitted())

	require.Len(t, c.Inserts(), 1)
	assert.Equal(t, "pump/2", c.Inserts()[0].OID)
	require.Len(t, c.Updates(), 1)
	assert.Equal(t, int64(3), c.Updates()[0].Version)
	assert.Len(t, c.Records(), 3)
	assert.Equal(t, []string{"valve/9"}, c.Deletes())
}

func TestChangeset_CommitRejectsDuplicates(t *testing.T) {
	cs := &Changeset{
		Committer: "a",
		Context:   "c",
		Insert:    []Entry{{OID: "x", Fields: record.Fields{}}},
		Delete:    []string{"x"},
	}
	_, err := cs.Commit()
	assert.True(t, errors.Is(err, edb.ErrDuplicateEntry))
	assert.ErrorContains(t, err, "delete[0]")
}

func TestChangeset_CommitRejectsReservedField(t *testing.T) {
	cs := &Changeset{
		Committer: "a",
		Context:   "c",
		Update:    []Entry{{OID: "x", Fields: record.Fields{"version": record.Int(2)}}},
	}
	_, err := cs.Commit()
	assert.True(t, errors.Is(err, edb.ErrInvalidRecord))
	assert.ErrorContains(t, err, "update[0]")
}
