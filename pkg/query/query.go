// Package query implements the fluent query builder: a mutating chain of
// method calls that accumulates into a declarative Query plan, which the
// execution engine (pkg/engine) then runs. Where-clauses accumulate in
// disjunctive normal form — each call to a Where* method appends to the
// current AND group; Or begins a new group, and the groups are
// OR'd together at execution time.
package query

// Op identifies which statement a Query represents.
type Op int

const (
	OpSelect Op = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpSelect:
		return "select"
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

// CondKind identifies the shape of one Condition.
type CondKind int

const (
	CondEq CondKind = iota
	CondLt
	CondGt
	CondContains
	CondIn
	CondBetween
)

// Condition is one leaf of a DNF where-clause.
type Condition struct {
	Kind   CondKind
	Field  string
	Value  string   // Eq, Lt, Gt, Contains
	Values []string // In
	Min    string   // Between
	Max    string   // Between
}

// Join describes an equi-join against another table.
type Join struct {
	Table   string
	Alias   string
	OnLeft  string // "<alias>.<field>" on the already-joined side
	OnRight string // "<alias>.<field>" on the new table
}

// OrderSpec is the single order-by clause a Query may carry.
type OrderSpec struct {
	Field     string
	Ascending bool
}

// Query is the declarative plan a QueryBuilder produces. The zero value
// is not meaningful on its own; use Select/Insert/Update/Delete.
type Query struct {
	Table   string
	Fields  []string
	Alias   string
	Joins   []Join
	Where   [][]Condition // outer slice is OR, inner slice is AND
	Values  []map[string]string
	Op      Op
	OrderBy *OrderSpec
	GroupBy string
	Limit   *int
	Offset  *int
}

// Builder accumulates a Query through a fluent, mutating method chain.
type Builder struct {
	q *Query
}

func newBuilder(table string, op Op) *Builder {
	return &Builder{q: &Query{
		Table:  table,
		Alias:  table,
		Op:     op,
		Fields: []string{"*"},
	}}
}

// Select starts a SELECT plan against table.
func Select(table string) *Builder { return newBuilder(table, OpSelect) }

// Insert starts an INSERT plan against table.
func Insert(table string) *Builder { return newBuilder(table, OpInsert) }

// Update starts an UPDATE plan against table.
func Update(table string) *Builder { return newBuilder(table, OpUpdate) }

// Delete starts a DELETE plan against table.
func Delete(table string) *Builder { return newBuilder(table, OpDelete) }

// Build returns the accumulated Query plan.
func (b *Builder) Build() *Query { return b.q }

// Fields restricts projection to the given field names ("alias.field" for
// joined tables). Omitting this call keeps the default "*" (every field
// of the base table, sorted by name).
func (b *Builder) Fields(fields ...string) *Builder {
	b.q.Fields = fields
	return b
}

// Alias sets the base table's alias, used to qualify fields in joins,
// ordering, and projection.
func (b *Builder) Alias(alias string) *Builder {
	b.q.Alias = alias
	return b
}

// Join adds an equi-join: rows from table (aliased alias) are attached
// where onLeft (an already-available "alias.field") equals onRight
// ("alias.field" on the new table). Only the first matching row (by
// ascending id) is attached per base row.
func (b *Builder) Join(table, alias, onLeft, onRight string) *Builder {
	b.q.Joins = append(b.q.Joins, Join{Table: table, Alias: alias, OnLeft: onLeft, OnRight: onRight})
	return b
}

// Values supplies one or more rows of field->literal data for Insert, or
// the single set of fields to assign for Update.
func (b *Builder) Values(rows ...map[string]string) *Builder {
	b.q.Values = rows
	return b
}

func (b *Builder) appendCondition(c Condition) {
	if len(b.q.Where) == 0 {
		b.q.Where = append(b.q.Where, nil)
	}
	last := len(b.q.Where) - 1
	b.q.Where[last] = append(b.q.Where[last], c)
}

// Or starts a new AND group; subsequent Where* calls OR against the
// groups built so far.
func (b *Builder) Or() *Builder {
	b.q.Where = append(b.q.Where, nil)
	return b
}

// WhereEq adds an equality condition to the current AND group.
func (b *Builder) WhereEq(field, value string) *Builder {
	b.appendCondition(Condition{Kind: CondEq, Field: field, Value: value})
	return b
}

// WhereLt adds a less-than condition (numeric fields).
func (b *Builder) WhereLt(field, value string) *Builder {
	b.appendCondition(Condition{Kind: CondLt, Field: field, Value: value})
	return b
}

// WhereGt adds a greater-than condition (numeric fields).
func (b *Builder) WhereGt(field, value string) *Builder {
	b.appendCondition(Condition{Kind: CondGt, Field: field, Value: value})
	return b
}

// WhereContains adds a substring condition, accelerated by a full-text
// index when one exists on field.
func (b *Builder) WhereContains(field, value string) *Builder {
	b.appendCondition(Condition{Kind: CondContains, Field: field, Value: value})
	return b
}

// WhereIn adds a set-membership condition.
func (b *Builder) WhereIn(field string, values ...string) *Builder {
	b.appendCondition(Condition{Kind: CondIn, Field: field, Values: values})
	return b
}

// WhereBetween adds an inclusive numeric range condition.
func (b *Builder) WhereBetween(field, min, max string) *Builder {
	b.appendCondition(Condition{Kind: CondBetween, Field: field, Min: min, Max: max})
	return b
}

// OrderBy sorts results by field ("alias.field" for a joined field).
func (b *Builder) OrderBy(field string, ascending bool) *Builder {
	b.q.OrderBy = &OrderSpec{Field: field, Ascending: ascending}
	return b
}

// GroupBy is accepted for fluent compatibility but is not applied by the
// execution engine — see the design decision on group_by.
func (b *Builder) GroupBy(field string) *Builder {
	b.q.GroupBy = field
	return b
}

// Limit caps the number of rows returned.
func (b *Builder) Limit(n int) *Builder {
	b.q.Limit = &n
	return b
}

// Offset skips the first n matching rows before Limit is applied.
func (b *Builder) Offset(n int) *Builder {
	b.q.Offset = &n
	return b
}
