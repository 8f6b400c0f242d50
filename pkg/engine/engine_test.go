package engine_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yuaidb/yuaidb/internal/dberrors"
	"github.com/yuaidb/yuaidb/pkg/engine"
	"github.com/yuaidb/yuaidb/pkg/query"
	"github.com/yuaidb/yuaidb/pkg/wal"
)

const testSchema = `
[[tables]]
name = "pirates"

  [[tables.fields]]
  name = "id"
  field_type = "numeric"
  autoincrement = true

  [[tables.fields]]
  name = "name"
  field_type = "text"
  unique = true

  [[tables.fields]]
  name = "ship_id"
  field_type = "numeric"
  indexed = true

  [[tables.fields]]
  name = "bio"
  field_type = "text"
  fulltext = true

  [[tables.fields]]
  name = "age"
  field_type = "numeric"

[[tables]]
name = "ships"

  [[tables.fields]]
  name = "id"
  field_type = "numeric"

  [[tables.fields]]
  name = "name"
  field_type = "text"
`

func newTestEngine(t *testing.T) (*engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.toml")
	if err := os.WriteFile(schemaPath, []byte(testSchema), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	e, err := engine.Open(dir, schemaPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, dir
}

func insertPirate(t *testing.T, e *engine.Engine, values map[string]string) {
	t.Helper()
	if err := mustExecErr(e, query.Insert("pirates").Values(values).Build()); err != nil {
		t.Fatalf("insert %v: %v", values, err)
	}
}

func mustExecErr(e *engine.Engine, q *query.Query) error {
	_, err := e.Execute(q)
	return err
}

func TestInsertDuplicateUniqueFieldRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	insertPirate(t, e, map[string]string{"name": "Jack", "ship_id": "101"})

	err := mustExecErr(e, query.Insert("pirates").Values(map[string]string{"name": "Jack", "ship_id": "102"}).Build())
	var dup *dberrors.DuplicateValueError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateValueError, got %v", err)
	}
}

func TestIndexedEqualityLookup(t *testing.T) {
	e, _ := newTestEngine(t)
	insertPirate(t, e, map[string]string{"name": "Jack", "ship_id": "101"})
	insertPirate(t, e, map[string]string{"name": "Anne", "ship_id": "102"})
	insertPirate(t, e, map[string]string{"name": "Mary", "ship_id": "101"})

	got, err := e.Execute(query.Select("pirates").WhereEq("ship_id", "101").Fields("name").Build())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2: %v", len(got), got)
	}
	names := map[string]bool{}
	for _, r := range got {
		names[r["name"]] = true
	}
	if !names["Jack"] || !names["Mary"] {
		t.Errorf("expected Jack and Mary, got %v", got)
	}
}

func TestFulltextContains(t *testing.T) {
	e, _ := newTestEngine(t)
	insertPirate(t, e, map[string]string{"name": "Jack", "bio": "hunts for buried treasure"})
	insertPirate(t, e, map[string]string{"name": "Anne", "bio": "feared across the seas"})

	got, err := e.Execute(query.Select("pirates").WhereContains("bio", "treasure").Fields("name").Build())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 || got[0]["name"] != "Jack" {
		t.Fatalf("got %v, want [Jack]", got)
	}
}

func TestEquiJoinProjection(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := mustExecErr(e, query.Insert("ships").Values(map[string]string{"id": "1", "name": "Black Pearl"}).Build()); err != nil {
		t.Fatalf("insert ship: %v", err)
	}
	insertPirate(t, e, map[string]string{"name": "Jack", "ship_id": "1"})

	got, err := e.Execute(query.Select("pirates").
		Join("ships", "s", "pirates.ship_id", "s.id").
		Fields("pirates.name", "s.name").
		Build())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1: %v", len(got), got)
	}
	if got[0]["pirates.name"] != "Jack" || got[0]["s.name"] != "Black Pearl" {
		t.Errorf("joined row = %v, want pirates.name=Jack s.name=Black Pearl", got[0])
	}
}

func TestInnerJoinDropsUnmatchedRows(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := mustExecErr(e, query.Insert("ships").Values(map[string]string{"id": "1", "name": "Black Pearl"}).Build()); err != nil {
		t.Fatalf("insert ship: %v", err)
	}
	insertPirate(t, e, map[string]string{"name": "Jack", "ship_id": "1"})
	insertPirate(t, e, map[string]string{"name": "Marooned", "ship_id": "99"})

	got, err := e.Execute(query.Select("pirates").
		Join("ships", "s", "pirates.ship_id", "s.id").
		Fields("pirates.name", "s.name").
		Build())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1 (unmatched row dropped by the inner join): %v", len(got), got)
	}
	if got[0]["pirates.name"] != "Jack" {
		t.Errorf("joined row = %v, want pirates.name=Jack", got[0])
	}
}

func TestDNFWhereUnion(t *testing.T) {
	e, _ := newTestEngine(t)
	insertPirate(t, e, map[string]string{"name": "Jack", "ship_id": "101"})
	insertPirate(t, e, map[string]string{"name": "Anne", "ship_id": "102"})
	insertPirate(t, e, map[string]string{"name": "Mary", "ship_id": "103"})

	q := query.Select("pirates").
		WhereEq("ship_id", "101").
		WhereEq("name", "Jack").
		Or().
		WhereEq("ship_id", "102").
		Fields("name").
		Build()
	got, err := e.Execute(q)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2 (union of both groups): %v", len(got), got)
	}
}

func TestOrderLimitOffset(t *testing.T) {
	e, _ := newTestEngine(t)
	insertPirate(t, e, map[string]string{"name": "Jack", "age": "30"})
	insertPirate(t, e, map[string]string{"name": "Anne", "age": "25"})
	insertPirate(t, e, map[string]string{"name": "Mary", "age": "40"})
	insertPirate(t, e, map[string]string{"name": "Bill", "age": "35"})

	got, err := e.Execute(query.Select("pirates").OrderBy("age", false).Offset(1).Limit(2).Fields("name").Build())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2: %v", len(got), got)
	}
	if got[0]["name"] != "Bill" || got[1]["name"] != "Jack" {
		t.Errorf("got %v, want [Bill Jack] (descending by age, skipping Mary)", got)
	}
}

func TestTTLExpiryExcludesRowFromSelect(t *testing.T) {
	e, _ := newTestEngine(t)
	insertPirate(t, e, map[string]string{"name": "Ghost", "ttl": "-5"})
	insertPirate(t, e, map[string]string{"name": "Alive"})

	got, err := e.Execute(query.Select("pirates").Fields("name").Build())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 || got[0]["name"] != "Alive" {
		t.Fatalf("got %v, want only [Alive]", got)
	}
}

func TestCrashRecoveryReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.toml")
	if err := os.WriteFile(schemaPath, []byte(testSchema), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	walPath := filepath.Join(dir, "wal.log")
	w, err := wal.OpenWriter(walPath)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.Append(wal.Record{Kind: wal.OpInsert, Table: "pirates", Rows: []map[string]string{
		{"name": "Recovered", "ship_id": "7"},
	}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e, err := engine.Open(dir, schemaPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	got, err := e.Execute(query.Select("pirates").WhereEq("name", "Recovered").Fields("name", "ship_id").Build())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 || got[0]["ship_id"] != "7" {
		t.Fatalf("got %v, want a recovered row with ship_id=7", got)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	e, _ := newTestEngine(t)
	insertPirate(t, e, map[string]string{"name": "Jack", "ship_id": "101"})

	if err := mustExecErr(e, query.Update("pirates").Values(map[string]string{"ship_id": "202"}).WhereEq("name", "Jack").Build()); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := e.Execute(query.Select("pirates").WhereEq("ship_id", "202").Fields("name").Build())
	if err != nil {
		t.Fatalf("select after update: %v", err)
	}
	if len(got) != 1 || got[0]["name"] != "Jack" {
		t.Fatalf("got %v after update", got)
	}

	if err := mustExecErr(e, query.Delete("pirates").WhereEq("name", "Jack").Build()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = e.Execute(query.Select("pirates").Fields("name").Build())
	if err != nil {
		t.Fatalf("select after delete: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v after delete, want empty", got)
	}
}
