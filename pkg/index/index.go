// Package index implements the secondary (equality) and full-text
// (token) indexes, flattened per Design Note "flatten nested concurrent
// maps": one map keyed by (table, field) instead of four nested layers,
// each entry guarded by its own RWMutex so readers of one field never
// block writers of another.
package index

import (
	"sort"
	"strings"
	"sync"
)

type key struct {
	table string
	field string
}

// postings is the per-(table,field) value/token -> row-id list. Ids are
// appended on Add without dedup (spec allows transient duplicates);
// readers dedupe before materializing rows.
type postings struct {
	mu  sync.RWMutex
	ids map[string][]int32
}

func newPostings() *postings {
	return &postings{ids: make(map[string][]int32)}
}

func (p *postings) add(k string, id int32) {
	p.mu.Lock()
	p.ids[k] = append(p.ids[k], id)
	p.mu.Unlock()
}

func (p *postings) remove(k string, id int32) {
	p.mu.Lock()
	list := p.ids[k]
	out := list[:0]
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		delete(p.ids, k)
	} else {
		p.ids[k] = out
	}
	p.mu.Unlock()
}

func (p *postings) lookup(k string) []int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return dedupe(p.ids[k])
}

// lookupContains scans every key whose content contains sub (already
// lowercased by the caller) and unions the posting lists.
func (p *postings) lookupContains(sub string) []int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []int32
	for k, ids := range p.ids {
		if strings.Contains(k, sub) {
			out = append(out, ids...)
		}
	}
	return dedupe(out)
}

func (p *postings) clear() {
	p.mu.Lock()
	p.ids = make(map[string][]int32)
	p.mu.Unlock()
}

func dedupe(ids []int32) []int32 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int32]struct{}, len(ids))
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Indexes owns every secondary and full-text index across all tables.
type Indexes struct {
	mu        sync.RWMutex
	secondary map[key]*postings
	fulltext  map[key]*postings
}

// New returns an empty index set.
func New() *Indexes {
	return &Indexes{
		secondary: make(map[key]*postings),
		fulltext:  make(map[key]*postings),
	}
}

func (ix *Indexes) entry(m map[key]*postings, k key) *postings {
	ix.mu.RLock()
	p, ok := m[k]
	ix.mu.RUnlock()
	if ok {
		return p
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if p, ok := m[k]; ok {
		return p
	}
	p = newPostings()
	m[k] = p
	return p
}

// HasSecondary reports whether (table,field) has a secondary index.
func (ix *Indexes) HasSecondary(table, field string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.secondary[key{table, field}]
	return ok
}

// HasFulltext reports whether (table,field) has a full-text index.
func (ix *Indexes) HasFulltext(table, field string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.fulltext[key{table, field}]
	return ok
}

// EnsureSecondary creates the (table,field) secondary index if absent.
func (ix *Indexes) EnsureSecondary(table, field string) {
	ix.entry(ix.secondary, key{table, field})
}

// EnsureFulltext creates the (table,field) full-text index if absent.
func (ix *Indexes) EnsureFulltext(table, field string) {
	ix.entry(ix.fulltext, key{table, field})
}

// AddSecondary records id under canonical value for (table,field).
func (ix *Indexes) AddSecondary(table, field, value string, id int32) {
	ix.entry(ix.secondary, key{table, field}).add(value, id)
}

// RemoveSecondary removes id from the (table,field,value) posting list.
func (ix *Indexes) RemoveSecondary(table, field, value string, id int32) {
	if p := ix.lookupPostings(ix.secondary, table, field); p != nil {
		p.remove(value, id)
	}
}

// LookupSecondary returns the deduplicated ids for an equality match, and
// whether the index exists at all (false means callers must fall back to
// a filtered scan).
func (ix *Indexes) LookupSecondary(table, field, value string) ([]int32, bool) {
	p := ix.lookupPostings(ix.secondary, table, field)
	if p == nil {
		return nil, false
	}
	return p.lookup(value), true
}

// AddFulltext tokenizes text by whitespace, lowercases each token, and
// records id under every token for (table,field).
func (ix *Indexes) AddFulltext(table, field, text string, id int32) {
	p := ix.entry(ix.fulltext, key{table, field})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		p.add(tok, id)
	}
}

// RemoveFulltext removes id from every token posting list derived from text.
func (ix *Indexes) RemoveFulltext(table, field, text string, id int32) {
	p := ix.lookupPostings(ix.fulltext, table, field)
	if p == nil {
		return
	}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		p.remove(tok, id)
	}
}

// LookupFulltextContains returns the ids of every row whose tokens
// contain sub as a (lowercased) substring, and whether the index exists.
func (ix *Indexes) LookupFulltextContains(table, field, sub string) ([]int32, bool) {
	p := ix.lookupPostings(ix.fulltext, table, field)
	if p == nil {
		return nil, false
	}
	return p.lookupContains(strings.ToLower(sub)), true
}

func (ix *Indexes) lookupPostings(m map[key]*postings, table, field string) *postings {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return m[key{table, field}]
}

// ClearTable drops every secondary and full-text index entry for table,
// used before a rebuild (schema reload or initial load from disk).
func (ix *Indexes) ClearTable(table string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for k := range ix.secondary {
		if k.table == table {
			delete(ix.secondary, k)
		}
	}
	for k := range ix.fulltext {
		if k.table == table {
			delete(ix.fulltext, k)
		}
	}
}
