package engine

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Table holds one table's live rows behind a single RWMutex, plus an
// atomic id counter seeded from the highest row id seen at load time so
// new ids never need to rescan the map.
type Table struct {
	mu     sync.RWMutex
	rows   map[int32]*Row
	nextID int32
}

func newTable() *Table {
	return &Table{rows: make(map[int32]*Row)}
}

// seedNextID bumps the id counter so the next NextID() call returns a
// value greater than every id currently loaded.
func (t *Table) seedNextID(maxSeen int32) {
	for {
		cur := atomic.LoadInt32(&t.nextID)
		if maxSeen < cur {
			return
		}
		if atomic.CompareAndSwapInt32(&t.nextID, cur, maxSeen+1) {
			return
		}
	}
}

// NextID returns the next unused row id for this table.
func (t *Table) NextID() int32 {
	return atomic.AddInt32(&t.nextID, 1) - 1
}

// Insert adds a new row, keyed by its own ID.
func (t *Table) Insert(row *Row) {
	t.mu.Lock()
	t.rows[row.ID] = row
	t.mu.Unlock()
}

// Get returns a clone of the row with id, if present.
func (t *Table) Get(id int32) (*Row, bool) {
	t.mu.RLock()
	r, ok := t.rows[id]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// Replace overwrites the stored row for row.ID.
func (t *Table) Replace(row *Row) {
	t.mu.Lock()
	t.rows[row.ID] = row
	t.mu.Unlock()
}

// Delete removes the row with id, returning the row that was removed.
func (t *Table) Delete(id int32) (*Row, bool) {
	t.mu.Lock()
	r, ok := t.rows[id]
	if ok {
		delete(t.rows, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	return r, true
}

// Snapshot returns a clone of every row currently stored, in ascending
// id order, for deterministic scan/filter/sort pipelines.
func (t *Table) Snapshot() []*Row {
	t.mu.RLock()
	out := make([]*Row, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, r.clone())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of stored rows, including expired rows the
// reaper has not removed yet.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Tables is the registry of per-table row stores, created lazily on
// first reference so an unknown table name in the schema still works
// (spec: unknown tables default to text-typed fields rather than
// erroring at lookup time).
type Tables struct {
	mu     sync.RWMutex
	byName map[string]*Table
}

func newTables() *Tables {
	return &Tables{byName: make(map[string]*Table)}
}

// GetOrCreate returns the table for name, creating it if this is the
// first reference.
func (ts *Tables) GetOrCreate(name string) *Table {
	ts.mu.RLock()
	t, ok := ts.byName[name]
	ts.mu.RUnlock()
	if ok {
		return t
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.byName[name]; ok {
		return t
	}
	t = newTable()
	ts.byName[name] = t
	return t
}

// Get returns the table for name without creating it.
func (ts *Tables) Get(name string) (*Table, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.byName[name]
	return t, ok
}

// Names returns every table name currently known, sorted.
func (ts *Tables) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, 0, len(ts.byName))
	for name := range ts.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
