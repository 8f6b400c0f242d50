package engine

import "github.com/yuaidb/yuaidb/pkg/types"

// Row is one stored record: a row id unique within its table, its typed
// field values, and an optional expiry.
type Row struct {
	ID        int32                  `bson:"id"`
	Values    map[string]types.Value `bson:"values"`
	ExpiresAt *int64                 `bson:"expires_at,omitempty"`
}

// Expired reports whether the row's TTL has elapsed as of now (unix
// seconds). A row with no ExpiresAt never expires. A row whose
// ExpiresAt is exactly now is already considered expired.
func (r *Row) Expired(now int64) bool {
	return r.ExpiresAt != nil && *r.ExpiresAt <= now
}

// clone returns a deep-enough copy for safe handoff across the table's
// lock boundary: callers may read Values freely, but must not mutate it
// in place without going through Table.Replace.
func (r *Row) clone() *Row {
	cp := &Row{ID: r.ID, ExpiresAt: r.ExpiresAt}
	cp.Values = make(map[string]types.Value, len(r.Values))
	for k, v := range r.Values {
		cp.Values[k] = v
	}
	return cp
}
