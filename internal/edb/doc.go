// Package edb is the engineering database: an append-only store of
// versioned objects written in atomic commits and readable at any point in
// time.
//
// Writing:
//
//	c, _ := db.CreateCommit(ctx, "alice", "plant-7")
//	_ = c.Insert(record.New("pump/1", record.Fields{"rpm": record.Int(1450)}))
//	ts, err := db.Apply(ctx, c)
//
// Apply runs the conflict detector inside the store's write transaction, so
// validation and writes see the same state and concurrent commits are
// serialized. A stale update whose fields already match the stored record
// succeeds without writing a new version.
//
// Reading: GetObject, GetObjectAt, GetHistory, GetHead, Query, GetCommit,
// GetCommits, GetLastCommit, GetLog, GetResurrectedOIDs and GetDiff.
//
// Persistence is behind the Store interface; internal/store (SQLite) and
// internal/kvstore (Pebble) implement it.
package edb
