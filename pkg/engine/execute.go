package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yuaidb/yuaidb/internal/dberrors"
	"github.com/yuaidb/yuaidb/pkg/query"
	"github.com/yuaidb/yuaidb/pkg/types"
	"github.com/yuaidb/yuaidb/pkg/wal"
)

// Execute runs one query plan and, for a Select, returns its projected
// rows as field->string maps in result order.
func (e *Engine) Execute(q *query.Query) ([]map[string]string, error) {
	switch q.Op {
	case query.OpSelect:
		return e.executeSelect(q)
	case query.OpInsert:
		return nil, e.executeInsert(q)
	case query.OpUpdate:
		return nil, e.executeUpdate(q)
	case query.OpDelete:
		return nil, e.executeDelete(q)
	default:
		return nil, fmt.Errorf("engine: unsupported query op %v", q.Op)
	}
}

func (e *Engine) executeInsert(q *query.Query) error {
	if err := e.appendWAL(wal.Record{Kind: wal.OpInsert, Table: q.Table, Rows: q.Values}); err != nil {
		return err
	}
	for _, row := range q.Values {
		if _, err := e.applyInsert(q.Table, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) executeUpdate(q *query.Query) error {
	var set map[string]string
	if len(q.Values) > 0 {
		set = q.Values[0]
	}
	if err := e.appendWAL(wal.Record{Kind: wal.OpUpdate, Table: q.Table, Set: set, Where: q.Where}); err != nil {
		return err
	}
	_, err := e.applyUpdate(q.Table, set, q.Where)
	return err
}

func (e *Engine) executeDelete(q *query.Query) error {
	if err := e.appendWAL(wal.Record{Kind: wal.OpDelete, Table: q.Table, Where: q.Where}); err != nil {
		return err
	}
	_, err := e.applyDelete(q.Table, q.Where)
	return err
}

// joinedRow pairs a base-table row with whatever each join alias
// attached to it, keyed by alias (the base table's own alias maps to
// itself).
type joinedRow struct {
	base  *Row
	bySet map[string]*Row
}

func (e *Engine) executeSelect(q *query.Query) ([]map[string]string, error) {
	t, ok := e.tables.Get(q.Table)
	if !ok {
		return nil, &dberrors.TableNotFoundError{Table: q.Table}
	}
	now := time.Now().Unix()
	rows := liveRows(t.Snapshot(), now)

	// where-clauses only ever constrain the base table's own fields;
	// joined fields are not filterable in this query model.
	matchedBase := filterRows(rows, q.Where, q.Table, e.indexes)
	keep := make(map[int32]struct{}, len(matchedBase))
	for _, r := range matchedBase {
		keep[r.ID] = struct{}{}
	}

	joinTables := make(map[string][]*Row, len(q.Joins))
	for _, j := range q.Joins {
		jt, ok := e.tables.Get(j.Table)
		if !ok {
			continue
		}
		joinTables[j.Alias] = liveRows(jt.Snapshot(), now)
	}

	joined := make([]joinedRow, 0, len(matchedBase))
	for _, r := range rows {
		if _, ok := keep[r.ID]; !ok {
			continue
		}
		jr := joinedRow{base: r, bySet: map[string]*Row{q.Alias: r}}
		complete := true
		for _, j := range q.Joins {
			leftAlias, leftField := e.resolveQualified(q, j.OnLeft)
			leftRow, ok := jr.bySet[leftAlias]
			if !ok {
				complete = false
				break
			}
			leftVal, ok := leftRow.Values[leftField]
			if !ok {
				complete = false
				break
			}
			_, rightField := e.resolveQualified(q, j.OnRight)
			match := firstMatchByID(joinTables[j.Alias], rightField, leftVal)
			if match == nil {
				complete = false
				break
			}
			jr.bySet[j.Alias] = match
		}
		// an inner join: a base row with no match on any join is dropped,
		// not kept with a missing alias.
		if !complete {
			continue
		}
		joined = append(joined, jr)
	}

	if q.OrderBy != nil {
		e.sortJoined(q, joined)
	}

	joined = paginate(joined, q.Offset, q.Limit)

	fields := e.resolveFields(q, rows)
	return e.project(q, joined, fields), nil
}

// resolveQualified splits "alias.field" into its parts, defaulting an
// unqualified name to the base query's own alias.
func (e *Engine) resolveQualified(q *query.Query, qualified string) (alias, field string) {
	if idx := strings.IndexByte(qualified, '.'); idx >= 0 {
		return qualified[:idx], qualified[idx+1:]
	}
	return q.Alias, qualified
}

// tableForAlias resolves an alias back to the underlying table name
// declared for it, needed to look up a field's declared kind.
func tableForAlias(q *query.Query, alias string) string {
	if alias == q.Alias {
		return q.Table
	}
	for _, j := range q.Joins {
		if j.Alias == alias {
			return j.Table
		}
	}
	return alias
}

// firstMatchByID returns the first row (by ascending id, the order
// Table.Snapshot already returns) whose field equals want — the
// deterministic tie-break for an equi-join with more than one match.
func firstMatchByID(rows []*Row, field string, want types.Value) *Row {
	for _, r := range rows {
		if v, ok := r.Values[field]; ok && v.Equal(want) {
			return r
		}
	}
	return nil
}

func (e *Engine) sortJoined(q *query.Query, joined []joinedRow) {
	sch := e.schema.Load()
	alias, field := e.resolveQualified(q, q.OrderBy.Field)
	kind := sch.FieldType(tableForAlias(q, alias), field)

	sort.SliceStable(joined, func(i, j int) bool {
		vi := valueAt(joined[i], alias, field)
		vj := valueAt(joined[j], alias, field)
		cmp := compareOptional(vi, vj, kind)
		if q.OrderBy.Ascending {
			return cmp < 0
		}
		return cmp > 0
	})
}

func valueAt(jr joinedRow, alias, field string) *types.Value {
	row, ok := jr.bySet[alias]
	if !ok {
		return nil
	}
	v, ok := row.Values[field]
	if !ok {
		return nil
	}
	return &v
}

func compareOptional(a, b *types.Value, kind types.Kind) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return compareStrings("", b.String())
	case b == nil:
		return compareStrings(a.String(), "")
	default:
		return types.CompareTyped(*a, *b, kind)
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func paginate(joined []joinedRow, offset, limit *int) []joinedRow {
	start := 0
	if offset != nil {
		start = *offset
	}
	if start > len(joined) {
		start = len(joined)
	}
	end := len(joined)
	if limit != nil {
		if want := start + *limit; want < end {
			end = want
		}
	}
	return joined[start:end]
}

// resolveFields expands the default "*" projection to the base table's
// declared field names (sorted), or, for a table unknown to the schema,
// to every field name observed across baseRows.
func (e *Engine) resolveFields(q *query.Query, baseRows []*Row) []string {
	if len(q.Fields) != 1 || q.Fields[0] != "*" {
		return q.Fields
	}
	sch := e.schema.Load()
	specs := sch.FieldsOf(q.Table)
	if len(specs) > 0 {
		names := make([]string, 0, len(specs))
		for _, f := range specs {
			names = append(names, f.Name)
		}
		sort.Strings(names)
		return names
	}
	seen := make(map[string]struct{})
	for _, r := range baseRows {
		for k := range r.Values {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// project builds each result row's field->string map and drops
// duplicate rows, where a duplicate is judged by the sorted,
// pipe-joined signature of its projected field=value pairs.
func (e *Engine) project(q *query.Query, joined []joinedRow, fields []string) []map[string]string {
	seen := make(map[string]struct{}, len(joined))
	out := make([]map[string]string, 0, len(joined))
	for _, jr := range joined {
		projected := make(map[string]string, len(fields))
		for _, qualified := range fields {
			alias, field := e.resolveQualified(q, qualified)
			row, ok := jr.bySet[alias]
			if !ok {
				continue
			}
			v, ok := row.Values[field]
			if !ok {
				continue
			}
			projected[qualified] = v.String()
		}
		sig := signatureOf(projected)
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, projected)
	}
	return out
}

func signatureOf(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}
