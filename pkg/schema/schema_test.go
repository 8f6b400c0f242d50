package schema_test

import (
	"strings"
	"testing"

	"github.com/yuaidb/yuaidb/pkg/schema"
	"github.com/yuaidb/yuaidb/pkg/types"
)

const doc = `
[[tables]]
name = "pirates"

  [[tables.fields]]
  name = "name"
  field_type = "text"
  unique = true

  [[tables.fields]]
  name = "ship"
  field_type = "text"
  indexed = true

  [[tables.fields]]
  name = "bio"
  field_type = "text"
  fulltext = true

  [[tables.fields]]
  name = "id"
  field_type = "numeric"
  autoincrement = true
`

func TestParse(t *testing.T) {
	s, err := schema.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.HasTable("pirates") {
		t.Fatal("expected pirates table")
	}
	if got := s.UniqueFields("pirates"); len(got) != 1 || got[0] != "name" {
		t.Errorf("UniqueFields = %v, want [name]", got)
	}
	if got := s.AutoincrementFields("pirates"); len(got) != 1 || got[0] != "id" {
		t.Errorf("AutoincrementFields = %v, want [id]", got)
	}
	if s.FieldType("pirates", "ship") != types.KindText {
		t.Error("expected ship to be text typed")
	}
}

func TestParseInvalidDocument(t *testing.T) {
	if _, err := schema.Parse(strings.NewReader("not = [valid")); err == nil {
		t.Fatal("expected a ConfigError for malformed TOML")
	}
}

func TestUnknownTableDefaultsToText(t *testing.T) {
	s := schema.Empty()
	if s.HasTable("ghosts") {
		t.Fatal("empty schema should not have any tables")
	}
	if s.FieldType("ghosts", "whatever") != types.KindText {
		t.Error("unknown table/field should default to text")
	}
}

func TestRegistrySwap(t *testing.T) {
	r := schema.NewRegistry()
	if r.Load().HasTable("pirates") {
		t.Fatal("new registry should start empty")
	}
	s, err := schema.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Swap(s)
	if !r.Load().HasTable("pirates") {
		t.Fatal("expected swapped schema to be visible")
	}
}
