// Package schema parses the TOML schema document and exposes the live
// schema behind an atomic pointer so readers never block on a reload.
package schema

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/BurntSushi/toml"

	"github.com/yuaidb/yuaidb/internal/dberrors"
	"github.com/yuaidb/yuaidb/pkg/types"
)

// FieldSpec describes one column of a table.
type FieldSpec struct {
	Name          string `toml:"name"`
	FieldType     string `toml:"field_type"`
	Indexed       bool   `toml:"indexed"`
	Fulltext      bool   `toml:"fulltext"`
	Unique        bool   `toml:"unique"`
	Autoincrement bool   `toml:"autoincrement"`
}

// Kind resolves the field's declared type, defaulting to text.
func (f FieldSpec) Kind() types.Kind { return types.KindFromString(f.FieldType) }

// TableSpec describes one table and its fields.
type TableSpec struct {
	Name   string      `toml:"name"`
	Fields []FieldSpec `toml:"fields"`
}

// document is the raw shape of the TOML schema file.
type document struct {
	Tables []TableSpec `toml:"tables"`
}

// Schema is an immutable snapshot of the parsed schema document.
type Schema struct {
	Tables []TableSpec
	byName map[string]TableSpec
}

func newSchema(tables []TableSpec) *Schema {
	byName := make(map[string]TableSpec, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	return &Schema{Tables: tables, byName: byName}
}

// Empty returns a schema with no tables, used when the schema file is
// missing or fails to parse — unknown tables remain usable with
// text-typed fields.
func Empty() *Schema { return newSchema(nil) }

func (s *Schema) table(name string) (TableSpec, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// FieldsOf returns the declared field order of a table, or nil if the
// table is unknown to the schema.
func (s *Schema) FieldsOf(table string) []FieldSpec {
	t, ok := s.table(table)
	if !ok {
		return nil
	}
	return t.Fields
}

// Field returns the declared spec for a field, or (_, false) if either
// the table or the field is unknown — callers default to text typing
// on the unknown case.
func (s *Schema) Field(table, field string) (FieldSpec, bool) {
	t, ok := s.table(table)
	if !ok {
		return FieldSpec{}, false
	}
	for _, f := range t.Fields {
		if f.Name == field {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// FieldType returns the declared kind of a field, defaulting to text
// when the table or field is unknown.
func (s *Schema) FieldType(table, field string) types.Kind {
	f, ok := s.Field(table, field)
	if !ok {
		return types.KindText
	}
	return f.Kind()
}

// UniqueFields returns the names of fields marked unique for a table.
func (s *Schema) UniqueFields(table string) []string {
	var out []string
	for _, f := range s.FieldsOf(table) {
		if f.Unique {
			out = append(out, f.Name)
		}
	}
	return out
}

// AutoincrementFields returns the names of fields marked autoincrement
// for a table.
func (s *Schema) AutoincrementFields(table string) []string {
	var out []string
	for _, f := range s.FieldsOf(table) {
		if f.Autoincrement {
			out = append(out, f.Name)
		}
	}
	return out
}

// HasTable reports whether the schema declares the given table.
func (s *Schema) HasTable(table string) bool {
	_, ok := s.table(table)
	return ok
}

// Parse decodes a TOML schema document from r.
func Parse(r io.Reader) (*Schema, error) {
	var doc document
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &dberrors.ConfigError{Detail: "decode schema document", Err: err}
	}
	return newSchema(doc.Tables), nil
}

// ParseFile reads and parses the schema file at path.
func ParseFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &dberrors.ConfigError{Detail: "open schema file " + path, Err: err}
	}
	defer f.Close()
	return Parse(f)
}

// Registry holds the live schema behind an atomic pointer. Swap is atomic
// so concurrent readers never observe a torn schema and never block on a
// reload performed by the config watcher.
type Registry struct {
	current atomic.Pointer[Schema]
}

// NewRegistry creates a registry initialized to an empty schema.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(Empty())
	return r
}

// Load returns the currently active schema.
func (r *Registry) Load() *Schema { return r.current.Load() }

// Swap atomically replaces the active schema.
func (r *Registry) Swap(s *Schema) { r.current.Store(s) }
