package wal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yuaidb/yuaidb/pkg/query"
	"github.com/yuaidb/yuaidb/pkg/wal"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := wal.OpenWriter(path)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	recs := []wal.Record{
		{Kind: wal.OpInsert, Table: "pirates", Rows: []map[string]string{
			{"name": "Jack"},
		}},
		{Kind: wal.OpUpdate, Table: "pirates", Set: map[string]string{"name": "Captain Jack"},
			Where: [][]query.Condition{{{Kind: query.CondEq, Field: "id", Value: "1"}}}},
		{Kind: wal.OpDelete, Table: "pirates",
			Where: [][]query.Condition{{{Kind: query.CondEq, Field: "id", Value: "1"}}}},
	}
	for _, r := range recs {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := wal.Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Replay returned %d records, want 3", len(got))
	}
	if got[0].Kind != wal.OpInsert || got[0].Rows[0]["name"] != "Jack" {
		t.Errorf("record 0 = %+v", got[0])
	}
	if got[2].Kind != wal.OpDelete || got[2].Where[0][0].Value != "1" {
		t.Errorf("record 2 = %+v", got[2])
	}
}

func TestReplayMissingFileIsEmpty(t *testing.T) {
	got, err := wal.Replay(filepath.Join(t.TempDir(), "absent.log"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil records, got %v", got)
	}
}

func TestReplayTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := wal.OpenWriter(path)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	good := wal.Record{Kind: wal.OpInsert, Table: "pirates", Rows: []map[string]string{
		{"name": "Jack"},
	}}
	if err := w.Append(good); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x02}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	got, err := wal.Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Replay returned %d records, want 1", len(got))
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat after replay: %v", err)
	}
	if after.Size() >= info.Size()+10 {
		t.Errorf("expected corrupt tail truncated, file grew to %d", after.Size())
	}

	w2, err := wal.OpenWriter(path)
	if err != nil {
		t.Fatalf("reopen writer: %v", err)
	}
	del := wal.Record{Kind: wal.OpDelete, Table: "pirates",
		Where: [][]query.Condition{{{Kind: query.CondEq, Field: "id", Value: "1"}}}}
	if err := w2.Append(del); err != nil {
		t.Fatalf("Append after truncate: %v", err)
	}
	w2.Close()

	got2, err := wal.Replay(path)
	if err != nil {
		t.Fatalf("Replay after recovery append: %v", err)
	}
	if len(got2) != 2 {
		t.Fatalf("Replay returned %d records after recovery, want 2", len(got2))
	}
}
