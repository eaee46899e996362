// Package kvstore implements the record store on Pebble, an embedded
// log-structured key/value store.
//
// Snapshots, the per-commit index, commit metadata and the revision index
// live under separate key prefixes (see keys.go). Field predicates are
// evaluated in memory with queryir.Match, so queries behave exactly like
// the SQLite store's without a secondary index.
package kvstore
