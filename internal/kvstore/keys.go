package kvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Key layout. Timestamps are big-endian uint64 so byte order is time order,
// and OIDs never contain NUL, so "s/<oid>\x00" is a prefix of exactly one
// object's snapshots.
//
//	s/<oid>\x00<ts>  -> snapshot JSON
//	t/<ts>/<oid>     -> empty; snapshots written by the commit at ts
//	c/<ts>           -> commit metadata JSON
//	r/<revision>     -> <ts>
var (
	snapshotPrefix = []byte("s/")
	touchedPrefix  = []byte("t/")
	commitPrefix   = []byte("c/")
	revisionPrefix = []byte("r/")
)

func tsBytes(ts int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts))
	return b[:]
}

func parseTS(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// objectPrefix is the prefix of every snapshot key of oid.
func objectPrefix(oid string) []byte {
	return join(snapshotPrefix, []byte(oid), []byte{0})
}

func snapshotKey(oid string, ts int64) []byte {
	return join(objectPrefix(oid), tsBytes(ts))
}

// parseSnapshotKey splits a snapshot key into OID and timestamp.
func parseSnapshotKey(key []byte) (string, int64, error) {
	rest, ok := bytes.CutPrefix(key, snapshotPrefix)
	if !ok || len(rest) < 9 || rest[len(rest)-9] != 0 {
		return "", 0, fmt.Errorf("malformed snapshot key %q", key)
	}
	oid := string(rest[:len(rest)-9])
	ts := parseTS(rest[len(rest)-8:])
	return oid, ts, nil
}

// snapshotBound is the exclusive upper bound of oid's snapshots with
// timestamp <= asOf.
func snapshotBound(oid string, asOf int64) []byte {
	if asOf < 0 {
		return objectPrefix(oid)
	}
	if asOf == maxTS {
		return upperBound(objectPrefix(oid))
	}
	return snapshotKey(oid, asOf+1)
}

func touchedPrefixAt(ts int64) []byte {
	return join(touchedPrefix, tsBytes(ts), []byte("/"))
}

func touchedKey(ts int64, oid string) []byte {
	return join(touchedPrefixAt(ts), []byte(oid))
}

func commitKey(ts int64) []byte {
	return join(commitPrefix, tsBytes(ts))
}

func parseCommitKey(key []byte) (int64, error) {
	rest, ok := bytes.CutPrefix(key, commitPrefix)
	if !ok || len(rest) != 8 {
		return 0, fmt.Errorf("malformed commit key %q", key)
	}
	return parseTS(rest), nil
}

func revisionKey(rev string) []byte {
	return join(revisionPrefix, []byte(rev))
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
