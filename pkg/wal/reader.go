package wal

import (
	"encoding/binary"
	"io"
	"os"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/yuaidb/yuaidb/internal/dberrors"
)

// maxFrameBytes guards against treating garbage as an enormous length
// prefix and attempting a runaway allocation.
const maxFrameBytes = 256 * 1024 * 1024

// Replay reads every well-formed frame from the log at path in order. If
// the file does not exist, it returns an empty, non-error result — a
// fresh database has no log yet. If the final frame is truncated or
// fails its checksum (the signature of a crash mid-append), Replay
// truncates the file at the last good frame boundary and returns every
// record read before it, rather than failing recovery outright.
func Replay(path string) ([]Record, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &dberrors.IOError{Detail: "open wal file " + path, Err: err}
	}
	defer f.Close()

	var records []Record
	var offset int64

	for {
		lenBuf := make([]byte, 8)
		n, err := io.ReadFull(f, lenBuf)
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil {
			return records, truncateTail(f, offset)
		}

		frameLen := binary.LittleEndian.Uint64(lenBuf)
		if frameLen == 0 || frameLen > maxFrameBytes {
			return records, truncateTail(f, offset)
		}

		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(f, frame); err != nil {
			return records, truncateTail(f, offset)
		}

		var env envelope
		if err := bson.Unmarshal(frame, &env); err != nil {
			return records, truncateTail(f, offset)
		}
		if !ValidateCRC32(env.Body, env.CRC32) {
			return records, truncateTail(f, offset)
		}

		var rec Record
		if err := bson.Unmarshal(env.Body, &rec); err != nil {
			return records, truncateTail(f, offset)
		}

		offset += 8 + int64(frameLen)
		records = append(records, rec)
	}

	return records, nil
}

// truncateTail drops everything in f past offset, discarding a partial
// or corrupt final frame so future appends start from a clean boundary.
func truncateTail(f *os.File, offset int64) error {
	if err := f.Truncate(offset); err != nil {
		return &dberrors.IOError{Detail: "truncate corrupt wal tail", Err: err}
	}
	return nil
}
