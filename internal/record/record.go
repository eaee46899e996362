package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Reserved field names. They describe a snapshot and may not be used as
// payload keys.
const (
	FieldOID       = "oid"
	FieldTimestamp = "timestamp"
	FieldVersion   = "version"
	FieldDeleted   = "deleted"
)

// MaxOIDLength bounds OIDs so they fit index keys in every backend.
const MaxOIDLength = 1024

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid record")

// IsReserved reports whether key is one of the reserved field names.
func IsReserved(key string) bool {
	switch key {
	case FieldOID, FieldTimestamp, FieldVersion, FieldDeleted:
		return true
	}
	return false
}

// Record is one snapshot of an object.
//
// Timestamp is zero until the record is committed. Version 0 means the
// version is absent (a version-unaware update, or a tombstone).
type Record struct {
	OID       string
	Fields    Fields
	Timestamp int64
	Version   int64
	Deleted   bool
}

// New creates a record with the given payload.
func New(oid string, fields Fields) Record {
	return Record{OID: oid, Fields: fields}
}

// Tombstone creates the snapshot that marks oid deleted at ts.
func Tombstone(oid string, ts int64) Record {
	return Record{OID: oid, Timestamp: ts, Deleted: true}
}

// Active reports whether the snapshot is a live version of the object.
func (r Record) Active() bool {
	return !r.Deleted
}

// Clone returns a copy that shares nothing mutable with r.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// Get returns a payload value.
func (r Record) Get(key string) (Value, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// ValidateOID checks the OID rules shared by every backend.
func ValidateOID(oid string) error {
	switch {
	case oid == "":
		return fmt.Errorf("%w: empty oid", ErrInvalid)
	case len(oid) > MaxOIDLength:
		return fmt.Errorf("%w: oid longer than %d bytes", ErrInvalid, MaxOIDLength)
	case strings.IndexByte(oid, 0) >= 0:
		return fmt.Errorf("%w: oid %q contains NUL", ErrInvalid, oid)
	}
	return nil
}

// Validate checks a record submitted for insert or update.
func (r Record) Validate() error {
	if err := ValidateOID(r.OID); err != nil {
		return err
	}
	if r.Version < 0 {
		return fmt.Errorf("%w: %s: negative version %d", ErrInvalid, r.OID, r.Version)
	}
	for _, k := range r.Fields.SortedKeys() {
		if k == "" {
			return fmt.Errorf("%w: %s: empty field name", ErrInvalid, r.OID)
		}
		if IsReserved(k) {
			return fmt.Errorf("%w: %s: field %q is reserved", ErrInvalid, r.OID, k)
		}
		v := r.Fields[k]
		if v == nil {
			return fmt.Errorf("%w: %s: field %q has no value", ErrInvalid, r.OID, k)
		}
		if _, _, err := Encode(v); err != nil {
			return fmt.Errorf("%w: %s: field %q: %v", ErrInvalid, r.OID, k, err)
		}
	}
	return nil
}

// snapshotJSON is the persisted and printed form of a Record.
type snapshotJSON struct {
	OID       string          `json:"oid"`
	Timestamp int64           `json:"timestamp"`
	Version   int64           `json:"version,omitempty"`
	Deleted   bool            `json:"deleted,omitempty"`
	Fields    json.RawMessage `json:"fields"`
}

// MarshalJSON encodes the record with its fields in canonical form.
func (r Record) MarshalJSON() ([]byte, error) {
	fields, err := MarshalCanonical(r.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.OID, err)
	}
	return json.Marshal(snapshotJSON{
		OID:       r.OID,
		Timestamp: r.Timestamp,
		Version:   r.Version,
		Deleted:   r.Deleted,
		Fields:    fields,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Record{
		OID:       raw.OID,
		Timestamp: raw.Timestamp,
		Version:   raw.Version,
		Deleted:   raw.Deleted,
	}
	if len(raw.Fields) > 0 && string(raw.Fields) != "null" {
		fields, err := UnmarshalFields(raw.Fields)
		if err != nil {
			return fmt.Errorf("record %s: %w", raw.OID, err)
		}
		if len(fields) > 0 {
			out.Fields = fields
		}
	}
	*r = out
	return nil
}
