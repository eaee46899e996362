package changeset

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/edb/internal/edb"
	"github.com/roach88/edb/internal/record"
)

// Format is the syntax of a changeset file.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported changeset extension %q (want .cue, .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// Changeset describes one commit.
type Changeset struct {
	Committer string
	Context   string
	Comment   string
	// Parent is the revision the changeset was written against. With
	// revision checks enabled, applying fails once the head has moved.
	Parent string
	Insert []Entry
	Update []Entry
	Add    []Entry
	Delete []string
}

// Entry is one record of a changeset. A zero Version means "not given".
type Entry struct {
	OID     string
	Version int64
	Fields  record.Fields
}

// Error reports a changeset that could not be read. Pos is "file:line:col"
// when the parser knows it.
type Error struct {
	Path    string
	Pos     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	where := e.Path
	if e.Pos != "" {
		where = e.Pos
	}
	msg := e.Message
	if where != "" {
		msg = where + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads a changeset file, choosing the format by extension.
func Load(path string) (*Changeset, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, &Error{Path: path, Message: "unknown format", Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Message: "read changeset", Err: err}
	}
	cs, err := Parse(data, format, path)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Path == "" {
			ce.Path = path
		}
		return nil, err
	}
	return cs, nil
}

// Parse decodes a changeset. name is used in error positions.
func Parse(data []byte, format Format, name string) (*Changeset, error) {
	var (
		raw map[string]any
		err error
	)
	switch format {
	case FormatCUE:
		raw, err = decodeCUE(data, name)
	case FormatYAML, FormatJSON:
		raw, err = decodeYAML(data)
	default:
		return nil, &Error{Path: name, Message: fmt.Sprintf("unsupported format %q", format)}
	}
	if err != nil {
		return nil, err
	}
	return FromMap(raw)
}

// decodeYAML reads YAML or JSON (a YAML subset) into generic values.
func decodeYAML(data []byte) (map[string]any, error) {
	var raw map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return nil, &Error{Message: "changeset must be a mapping", Err: err}
		}
		return nil, &Error{Message: "parse changeset", Err: err}
	}
	if raw == nil {
		return nil, &Error{Message: "changeset is empty"}
	}
	return raw, nil
}

var topLevelKeys = []string{"committer", "context", "comment", "parent", "insert", "update", "add", "delete"}

// FromMap builds a Changeset from generic decoded values (as produced by a
// YAML or JSON decoder), rejecting unknown keys.
func FromMap(raw map[string]any) (*Changeset, error) {
	for _, k := range sortedKeys(raw) {
		if !slices.Contains(topLevelKeys, k) {
			return nil, &Error{Message: fmt.Sprintf("unknown key %q", k)}
		}
	}

	cs := &Changeset{}
	var err error
	if cs.Committer, err = stringAt(raw, "committer", true); err != nil {
		return nil, err
	}
	if cs.Context, err = stringAt(raw, "context", true); err != nil {
		return nil, err
	}
	if cs.Comment, err = stringAt(raw, "comment", false); err != nil {
		return nil, err
	}
	if cs.Parent, err = stringAt(raw, "parent", false); err != nil {
		return nil, err
	}
	if cs.Insert, err = entriesAt(raw, "insert"); err != nil {
		return nil, err
	}
	if cs.Update, err = entriesAt(raw, "update"); err != nil {
		return nil, err
	}
	if cs.Add, err = entriesAt(raw, "add"); err != nil {
		return nil, err
	}

	if v, ok := raw["delete"]; ok {
		list, ok := v.([]any)
		if !ok {
			return nil, &Error{Message: fmt.Sprintf("delete must be a list, got %T", v)}
		}
		for i, item := range list {
			oid, ok := item.(string)
			if !ok {
				return nil, &Error{Message: fmt.Sprintf("delete[%d] must be a string, got %T", i, item)}
			}
			cs.Delete = append(cs.Delete, oid)
		}
	}
	return cs, nil
}

func stringAt(raw map[string]any, key string, required bool) (string, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return "", &Error{Message: key + " is required"}
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &Error{Message: fmt.Sprintf("%s must be a string, got %T", key, v)}
	}
	if required && s == "" {
		return "", &Error{Message: key + " must not be empty"}
	}
	return s, nil
}

func entriesAt(raw map[string]any, key string) ([]Entry, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("%s must be a list, got %T", key, v)}
	}

	out := make([]Entry, 0, len(list))
	for i, item := range list {
		e, err := entryFrom(item)
		if err != nil {
			return nil, &Error{Message: fmt.Sprintf("%s[%d]", key, i), Err: err}
		}
		out = append(out, e)
	}
	return out, nil
}

func entryFrom(item any) (Entry, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return Entry{}, fmt.Errorf("entry must be a mapping, got %T", item)
	}
	for _, k := range sortedKeys(m) {
		if k != "oid" && k != "version" && k != "fields" {
			return Entry{}, fmt.Errorf("unknown key %q", k)
		}
	}

	var e Entry
	oid, ok := m["oid"].(string)
	if !ok || oid == "" {
		return Entry{}, errors.New("oid must be a non-empty string")
	}
	e.OID = oid

	if v, ok := m["version"]; ok {
		n, err := toInt64(v)
		if err != nil || n < 0 {
			return Entry{}, fmt.Errorf("version must be a non-negative integer, got %v", v)
		}
		e.Version = n
	}

	e.Fields = record.Fields{}
	if v, ok := m["fields"]; ok {
		fm, ok := v.(map[string]any)
		if !ok {
			return Entry{}, fmt.Errorf("fields must be a mapping, got %T", v)
		}
		f, err := record.FieldsFromAny(fm)
		if err != nil {
			return Entry{}, err
		}
		e.Fields = f
	}
	return e, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > 1<<63-1 {
			return 0, fmt.Errorf("out of range: %d", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Commit builds a draft commit from the changeset. Entries are added in
// the order insert, update, add, delete.
func (cs *Changeset) Commit() (*edb.Commit, error) {
	c := edb.NewCommit(cs.Committer, cs.Context)
	c.Comment = cs.Comment
	c.Parent = cs.Parent

	add := func(kind string, entries []Entry, fn func(record.Record) error) error {
		for i, e := range entries {
			r := record.Record{OID: e.OID, Version: e.Version, Fields: e.Fields}
			if err := fn(r); err != nil {
				return fmt.Errorf("%s[%d]: %w", kind, i, err)
			}
		}
		return nil
	}
	if err := add("insert", cs.Insert, c.Insert); err != nil {
		return nil, err
	}
	if err := add("update", cs.Update, c.Update); err != nil {
		return nil, err
	}
	if err := add("add", cs.Add, c.Add); err != nil {
		return nil, err
	}
	for i, oid := range cs.Delete {
		if err := c.Delete(oid); err != nil {
			return nil, fmt.Errorf("delete[%d]: %w", i, err)
		}
	}
	return c, nil
}

// Size is the number of entries in the changeset.
func (cs *Changeset) Size() int {
	return len(cs.Insert) + len(cs.Update) + len(cs.Add) + len(cs.Delete)
}
