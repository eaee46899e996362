// Package record defines the data the engineering database stores.
//
// A Record is one immutable snapshot of an object: an OID, a payload of
// typed field values, and the timestamp, version, and deleted flag assigned
// when its commit is applied. A CommitMeta describes an applied commit.
//
// Field values form a sealed set (String, Int, Float, Bool, Ref). Payloads
// serialize to canonical JSON: keys sorted by UTF-16 code units, strings
// NFC normalized, no HTML escaping. Every backend stores that form, so
// identical payloads always produce identical bytes.
package record
