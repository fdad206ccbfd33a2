package store

import (
	"fmt"
	"sort"
	"strconv"
)

// FilterOp enumerates the comparison operators a Filter may apply.
type FilterOp string

const (
	OpEq        FilterOp = "eq"
	OpNeq       FilterOp = "neq"
	OpGt        FilterOp = "gt"
	OpGte       FilterOp = "gte"
	OpLt        FilterOp = "lt"
	OpLte       FilterOp = "lte"
	OpBetween   FilterOp = "between"
	OpIn        FilterOp = "in"
	OpIsNull    FilterOp = "is_null"
	OpIsNotNull FilterOp = "is_not_null"
)

// Filter is one predicate applied to a field during a List/Query call.
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value,omitempty"`
}

// Query describes a filtered, ordered, paginated read over a collection.
type Query struct {
	Filters []Filter `json:"filters,omitempty"`
	OrderBy string   `json:"order_by,omitempty"`
	Desc    bool     `json:"desc,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}

// Validate checks that op's Value shape matches what it requires.
func (f Filter) Validate() error {
	switch f.Op {
	case OpBetween:
		arr, ok := f.Value.([]any)
		if !ok || len(arr) != 2 {
			return fmt.Errorf("store: between filter requires a 2-element array, got %T", f.Value)
		}
	case OpIn:
		if _, ok := f.Value.([]any); !ok {
			return fmt.Errorf("store: in filter requires an array, got %T", f.Value)
		}
	case OpIsNull, OpIsNotNull:
		// no value expected
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		// any scalar value
	default:
		return fmt.Errorf("store: unknown filter operator %q", f.Op)
	}
	return nil
}

// Matches evaluates f against one record's field value.
func (f Filter) Matches(value any, present bool) bool {
	switch f.Op {
	case OpIsNull:
		return !present || value == nil
	case OpIsNotNull:
		return present && value != nil
	}
	if !present {
		return false
	}

	switch f.Op {
	case OpEq:
		return compareValues(value, f.Value) == 0
	case OpNeq:
		return compareValues(value, f.Value) != 0
	case OpGt:
		return compareValues(value, f.Value) > 0
	case OpGte:
		return compareValues(value, f.Value) >= 0
	case OpLt:
		return compareValues(value, f.Value) < 0
	case OpLte:
		return compareValues(value, f.Value) <= 0
	case OpBetween:
		arr, ok := f.Value.([]any)
		if !ok || len(arr) != 2 {
			return false
		}
		return compareValues(value, arr[0]) >= 0 && compareValues(value, arr[1]) <= 0
	case OpIn:
		arr, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range arr {
			if compareValues(value, v) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compareValues compares two arbitrary field values: numeric comparison is
// attempted first (both sides parse as float64), falling back to
// lexicographic string comparison. This is what makes ordering by a
// "quantity" field numeric (1, 3, 10) rather than lexicographic
// (1, 10, 3).
func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ApplyQuery filters, sorts, and paginates records in memory. Backends that
// can push filtering down to SQL use this only as the reference semantics;
// ApplyQuery itself is also what the in-memory Store implementation uses
// directly.
func ApplyQuery(records []Record, q Query) ([]Record, error) {
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	matched := make([]Record, 0, len(records))
	for _, r := range records {
		if matchesAll(r, q.Filters) {
			matched = append(matched, r)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			vi, pi := matched[i].Data[q.OrderBy]
			vj, pj := matched[j].Data[q.OrderBy]
			if !pi && !pj {
				return false
			}
			if !pi {
				return !q.Desc
			}
			if !pj {
				return q.Desc
			}
			cmp := compareValues(vi, vj)
			if q.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	limit := q.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []Record{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func matchesAll(r Record, filters []Filter) bool {
	for _, f := range filters {
		value, present := r.Data[f.Field]
		if !f.Matches(value, present) {
			return false
		}
	}
	return true
}

// AggregateOp enumerates the supported aggregation functions.
type AggregateOp string

const (
	AggSum   AggregateOp = "sum"
	AggCount AggregateOp = "count"
	AggAvg   AggregateOp = "avg"
	AggMin   AggregateOp = "min"
	AggMax   AggregateOp = "max"
)

// Aggregation describes one aggregate computation, optionally grouped.
type Aggregation struct {
	Op      AggregateOp `json:"op"`
	Field   string      `json:"field,omitempty"`
	GroupBy string      `json:"group_by,omitempty"`
}

// AggregateResult is one row of an aggregation's output. Group is empty
// when the aggregation has no GroupBy.
type AggregateResult struct {
	Group string `json:"group,omitempty"`
	Value any    `json:"value"`
}

// Aggregate computes agg over records, grouping by agg.GroupBy when set.
func Aggregate(records []Record, agg Aggregation) ([]AggregateResult, error) {
	groups := map[string][]Record{}
	if agg.GroupBy == "" {
		groups[""] = records
	} else {
		for _, r := range records {
			key := fmt.Sprint(r.Data[agg.GroupBy])
			groups[key] = append(groups[key], r)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]AggregateResult, 0, len(keys))
	for _, key := range keys {
		value, err := aggregateOne(groups[key], agg)
		if err != nil {
			return nil, err
		}
		results = append(results, AggregateResult{Group: key, Value: value})
	}
	return results, nil
}

func aggregateOne(records []Record, agg Aggregation) (any, error) {
	if agg.Op == AggCount {
		return float64(len(records)), nil
	}
	if len(records) == 0 {
		return nil, nil
	}

	switch agg.Op {
	case AggSum, AggAvg:
		var sum float64
		for _, r := range records {
			f, ok := toFloat(r.Data[agg.Field])
			if !ok {
				return nil, fmt.Errorf("store: cannot %s non-numeric field %q", agg.Op, agg.Field)
			}
			sum += f
		}
		if agg.Op == AggAvg {
			return sum / float64(len(records)), nil
		}
		return sum, nil

	case AggMin, AggMax:
		best := records[0].Data[agg.Field]
		for _, r := range records[1:] {
			v := r.Data[agg.Field]
			cmp := compareValues(v, best)
			if (agg.Op == AggMin && cmp < 0) || (agg.Op == AggMax && cmp > 0) {
				best = v
			}
		}
		return best, nil

	default:
		return nil, fmt.Errorf("store: unknown aggregation op %q", agg.Op)
	}
}
