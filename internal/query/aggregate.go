package query

import (
	"fmt"
	"strings"
)

// ComputeAggregation evaluates an aggregation over materialized rows. It
// backs the in-memory connector and the engine's fallback for connectors
// that do not declare native aggregation. Result rows carry group-by
// fields plus aggregate keys ("count", "avg.age", ...); sums and averages
// are float64, min/max keep the field's own type, count is int64. Empty
// input yields count 0 and nil for every other aggregate.
func ComputeAggregation(rows []map[string]interface{}, agg *Aggregation) []map[string]interface{} {
	groups := make(map[string][]map[string]interface{})
	var order []string

	for _, row := range rows {
		key := groupKey(row, agg.GroupBy)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	if len(groups) == 0 && len(agg.GroupBy) == 0 {
		groups[""] = nil
		order = append(order, "")
	}

	out := make([]map[string]interface{}, 0, len(groups))
	for _, key := range order {
		members := groups[key]
		result := make(map[string]interface{})

		if len(agg.GroupBy) > 0 && len(members) > 0 {
			for _, name := range agg.GroupBy {
				result[name] = members[0][name]
			}
		}

		if agg.Count {
			result[string(AggregateCount)] = int64(len(members))
		}
		for _, name := range agg.Avg {
			result[AggregateKey(AggregateAvg, name)] = average(members, name)
		}
		for _, name := range agg.Sum {
			result[AggregateKey(AggregateSum, name)] = total(members, name)
		}
		for _, name := range agg.Min {
			result[AggregateKey(AggregateMin, name)] = extreme(members, name, -1)
		}
		for _, name := range agg.Max {
			result[AggregateKey(AggregateMax, name)] = extreme(members, name, 1)
		}

		if agg.Having != nil && !Eval(agg.Having, result) {
			continue
		}
		out = append(out, result)
	}

	sortGroups(out, agg.GroupBy)
	return out
}

func groupKey(row map[string]interface{}, groupBy []string) string {
	if len(groupBy) == 0 {
		return ""
	}
	parts := make([]string, len(groupBy))
	for i, name := range groupBy {
		parts[i] = fmt.Sprintf("%v", row[name])
	}
	return strings.Join(parts, "\x00")
}

func average(rows []map[string]interface{}, field string) interface{} {
	sum, n := 0.0, 0
	for _, row := range rows {
		if f, ok := toFloat(row[field]); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return sum / float64(n)
}

func total(rows []map[string]interface{}, field string) interface{} {
	sum, n := 0.0, 0
	for _, row := range rows {
		if f, ok := toFloat(row[field]); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return sum
}

// extreme returns the minimum (want=-1) or maximum (want=1) non-nil value
func extreme(rows []map[string]interface{}, field string, want int) interface{} {
	var best interface{}
	for _, row := range rows {
		v := row[field]
		if v == nil {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		if cmp, ok := Compare(v, best); ok && cmp == want {
			best = v
		}
	}
	return best
}

func sortGroups(rows []map[string]interface{}, groupBy []string) {
	if len(groupBy) == 0 {
		return
	}
	fields := make([]SortField, len(groupBy))
	for i, name := range groupBy {
		fields[i] = SortField{Field: name, Direction: Ascending}
	}
	SortRows(rows, fields)
}
