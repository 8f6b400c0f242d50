package wal

import (
	"encoding/binary"
	"os"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/yuaidb/yuaidb/internal/dberrors"
)

// Writer appends records to a single append-only log file. Append holds
// a dedicated mutex across the full marshal-write-fsync sequence: a
// mutation must never be reported as committed until its record is
// durable on disk, so there is no buffering or deferred sync policy to
// configure here, unlike a throughput-oriented WAL.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// OpenWriter opens (creating if absent) the log file at path for
// appending.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &dberrors.IOError{Detail: "open wal file " + path, Err: err}
	}
	return &Writer{file: f}, nil
}

// Append encodes rec, writes its length-prefixed frame, and fsyncs
// before returning — callers may treat a nil error as a durability
// guarantee.
func (w *Writer) Append(rec Record) error {
	body, err := bson.Marshal(rec)
	if err != nil {
		return &dberrors.SerializationError{Detail: "marshal wal record", Err: err}
	}
	env := envelope{Body: body, CRC32: CalculateCRC32(body)}
	frame, err := bson.Marshal(env)
	if err != nil {
		return &dberrors.SerializationError{Detail: "marshal wal envelope", Err: err}
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(frame)))

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(lenBuf[:]); err != nil {
		return &dberrors.IOError{Detail: "write wal frame length", Err: err}
	}
	if _, err := w.file.Write(frame); err != nil {
		return &dberrors.IOError{Detail: "write wal frame body", Err: err}
	}
	if err := w.file.Sync(); err != nil {
		return &dberrors.IOError{Detail: "fsync wal file", Err: err}
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
