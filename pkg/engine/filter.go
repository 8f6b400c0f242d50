package engine

import (
	"strconv"
	"strings"

	"github.com/yuaidb/yuaidb/pkg/index"
	"github.com/yuaidb/yuaidb/pkg/query"
	"github.com/yuaidb/yuaidb/pkg/types"
)

// filterRows evaluates a DNF where-clause against rows: every AND group
// is matched independently against the full input set, and a row
// survives if it satisfies any group (true union of groups, not a
// progressive narrowing of one running set across groups) — matching
// the documented example "(ship=101 AND name=Jack) OR (ship=102)"
// selecting the union of both groups' matches.
func filterRows(rows []*Row, where [][]query.Condition, table string, ix *index.Indexes) []*Row {
	if len(where) == 0 {
		return rows
	}
	byID := make(map[int32]*Row, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	matched := make(map[int32]struct{})
	for _, group := range where {
		for id := range evalGroup(byID, group, table, ix) {
			matched[id] = struct{}{}
		}
	}

	out := make([]*Row, 0, len(matched))
	for _, r := range rows {
		if _, ok := matched[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func evalGroup(byID map[int32]*Row, group []query.Condition, table string, ix *index.Indexes) map[int32]struct{} {
	if len(group) == 0 {
		return nil
	}
	candidates := evalCondition(byID, group[0], table, ix)
	for _, cond := range group[1:] {
		candidates = intersect(candidates, evalCondition(byID, cond, table, ix))
	}
	return candidates
}

func evalCondition(byID map[int32]*Row, cond query.Condition, table string, ix *index.Indexes) map[int32]struct{} {
	switch cond.Kind {
	case query.CondEq:
		if ids, ok := ix.LookupSecondary(table, cond.Field, cond.Value); ok {
			return toSet(ids, byID)
		}
		return scanMatch(byID, func(r *Row) bool {
			v, present := r.Values[cond.Field]
			return present && v.String() == cond.Value
		})

	case query.CondIn:
		if ix.HasSecondary(table, cond.Field) {
			out := make(map[int32]struct{})
			for _, val := range cond.Values {
				ids, _ := ix.LookupSecondary(table, cond.Field, val)
				for id := range toSet(ids, byID) {
					out[id] = struct{}{}
				}
			}
			return out
		}
		wanted := make(map[string]struct{}, len(cond.Values))
		for _, v := range cond.Values {
			wanted[v] = struct{}{}
		}
		return scanMatch(byID, func(r *Row) bool {
			v, present := r.Values[cond.Field]
			if !present {
				return false
			}
			_, ok := wanted[v.String()]
			return ok
		})

	case query.CondContains:
		if ids, ok := ix.LookupFulltextContains(table, cond.Field, cond.Value); ok {
			return toSet(ids, byID)
		}
		lower := strings.ToLower(cond.Value)
		return scanMatch(byID, func(r *Row) bool {
			v, present := r.Values[cond.Field]
			return present && strings.Contains(strings.ToLower(v.String()), lower)
		})

	case query.CondLt, query.CondGt:
		threshold, err := strconv.ParseFloat(cond.Value, 64)
		if err != nil {
			return map[int32]struct{}{}
		}
		return scanMatch(byID, func(r *Row) bool {
			v, present := r.Values[cond.Field]
			if !present || v.Kind != types.KindNumeric {
				return false
			}
			if cond.Kind == query.CondLt {
				return v.Numeric < threshold
			}
			return v.Numeric > threshold
		})

	case query.CondBetween:
		min, errMin := strconv.ParseFloat(cond.Min, 64)
		max, errMax := strconv.ParseFloat(cond.Max, 64)
		if errMin != nil || errMax != nil {
			return map[int32]struct{}{}
		}
		return scanMatch(byID, func(r *Row) bool {
			v, present := r.Values[cond.Field]
			if !present || v.Kind != types.KindNumeric {
				return false
			}
			return v.Numeric >= min && v.Numeric <= max
		})
	}
	return map[int32]struct{}{}
}

func toSet(ids []int32, byID map[int32]*Row) map[int32]struct{} {
	out := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func scanMatch(byID map[int32]*Row, pred func(*Row) bool) map[int32]struct{} {
	out := make(map[int32]struct{})
	for id, r := range byID {
		if pred(r) {
			out[id] = struct{}{}
		}
	}
	return out
}

func intersect(a, b map[int32]struct{}) map[int32]struct{} {
	out := make(map[int32]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
