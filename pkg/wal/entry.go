// Package wal implements the write-ahead log: every mutation is appended
// here, fsynced, before it is applied to the in-memory tables, so a crash
// between append and apply can always be recovered by replaying the log.
//
// Framing is a plain length-prefixed record: a little-endian uint64 byte
// count followed by that many bytes of a BSON-encoded envelope. The
// envelope carries its own CRC32 (Castagnoli) checksum over the body
// rather than a separate fixed-size header, so a torn write truncates
// cleanly at a record boundary instead of leaving a header/payload split
// to reconcile.
package wal

import "github.com/yuaidb/yuaidb/pkg/query"

// OpKind identifies which table mutation a record describes.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Record is the logical unit appended to the log. It carries the
// mutation's intent (the literal rows to insert, or the field
// assignments and DNF where-clauses to apply) rather than its already
// computed effect, so recovery replays it through the same filter/apply
// path as a live Update or Delete instead of needing a second code path.
type Record struct {
	Kind  OpKind              `bson:"kind"`
	Table string              `bson:"table"`
	Rows  []map[string]string `bson:"rows,omitempty"`  // Insert: literal field -> value per row
	Set   map[string]string   `bson:"set,omitempty"`   // Update: field -> new literal value
	Where [][]query.Condition `bson:"where,omitempty"` // Update/Delete: DNF where-clauses
}

// envelope is what actually gets framed to disk: the BSON-encoded Record
// plus a checksum computed over those bytes.
type envelope struct {
	Body  []byte `bson:"body"`
	CRC32 uint32 `bson:"crc32"`
}
