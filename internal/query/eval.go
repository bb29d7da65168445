package query

import (
	"bytes"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Compare orders two canonical values. The second result is false when the
// values are not mutually comparable. Nil sorts before everything.
func Compare(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}

	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bv):
			return -1, true
		case av.After(bv):
			return 1, true
		default:
			return 0, true
		}
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av, bv), true
	}

	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func equalValues(a, b interface{}, caseInsensitive bool) bool {
	if caseInsensitive {
		if as, aok := a.(string); aok {
			if bs, bok := b.(string); bok {
				return strings.EqualFold(as, bs)
			}
		}
	}
	if cmp, ok := Compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// Matches evaluates one condition against a field value
func Matches(cond *Condition, value interface{}) bool {
	switch cond.Op {
	case OpEquals:
		return equalValues(value, cond.Value, cond.CaseInsensitive)
	case OpNot:
		return !equalValues(value, cond.Value, cond.CaseInsensitive)
	case OpGt, OpGte, OpLt, OpLte:
		if value == nil || cond.Value == nil {
			return false
		}
		cmp, ok := Compare(value, cond.Value)
		if !ok {
			return false
		}
		switch cond.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn, OpNotIn:
		list, ok := cond.Value.([]interface{})
		if !ok {
			return false
		}
		found := false
		for _, elem := range list {
			if equalValues(value, elem, cond.CaseInsensitive) {
				found = true
				break
			}
		}
		if cond.Op == OpIn {
			return found
		}
		return !found
	case OpContains, OpStartsWith, OpEndsWith:
		s, sok := value.(string)
		sub, vok := cond.Value.(string)
		if !sok || !vok {
			return false
		}
		if cond.CaseInsensitive {
			s = strings.ToLower(s)
			sub = strings.ToLower(sub)
		}
		switch cond.Op {
		case OpContains:
			return strings.Contains(s, sub)
		case OpStartsWith:
			return strings.HasPrefix(s, sub)
		default:
			return strings.HasSuffix(s, sub)
		}
	case OpMatches:
		s, ok := value.(string)
		if !ok {
			return false
		}
		re := cond.re
		if re == nil {
			pattern, pok := cond.Value.(string)
			if !pok {
				return false
			}
			compiled, err := regexp.Compile(pattern)
			if err != nil {
				return false
			}
			re = compiled
		}
		return re.MatchString(s)
	}
	return false
}

// Eval evaluates a filter tree against one row. A nil filter matches.
func Eval(f *Filter, row map[string]interface{}) bool {
	if f == nil {
		return true
	}
	switch {
	case f.Condition != nil:
		return Matches(f.Condition, row[f.Condition.Field])
	case len(f.And) > 0:
		for _, child := range f.And {
			if !Eval(child, row) {
				return false
			}
		}
		return true
	case len(f.Or) > 0:
		for _, child := range f.Or {
			if Eval(child, row) {
				return true
			}
		}
		return false
	case f.Not != nil:
		return !Eval(f.Not, row)
	}
	return true
}

// SortRows orders rows in place by the given sort fields. Incomparable
// values keep their relative order.
func SortRows(rows []map[string]interface{}, sortFields []SortField) {
	if len(sortFields) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, s := range sortFields {
			cmp, ok := Compare(rows[i][s.Field], rows[j][s.Field])
			if !ok || cmp == 0 {
				continue
			}
			if s.Direction == Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
