package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/teamflow/core"
)

// EvalCondition evaluates a compiled step predicate against a snapshot of the
// shared context / prior results. A nil condition is always eligible. A
// missing field evaluates false for every operator except exists, which
// reports presence. Operator validity was checked at compile time.
func EvalCondition(cond *core.Condition, vars map[string]any) bool {
	if cond == nil {
		return true
	}

	value, present := vars[cond.Field]
	if cond.Op == core.OpExists {
		return present
	}
	if !present {
		return false
	}

	switch cond.Op {
	case core.OpEq:
		return equal(value, cond.Value)
	case core.OpNe:
		return !equal(value, cond.Value)
	case core.OpContains:
		return strings.Contains(asString(value), asString(cond.Value))
	case core.OpGt, core.OpGte, core.OpLt, core.OpLte:
		lhs, lok := asFloat(value)
		rhs, rok := asFloat(cond.Value)
		if !lok || !rok {
			return false
		}
		switch cond.Op {
		case core.OpGt:
			return lhs > rhs
		case core.OpGte:
			return lhs >= rhs
		case core.OpLt:
			return lhs < rhs
		default:
			return lhs <= rhs
		}
	}

	return false
}

// equal compares numerically when both sides coerce to numbers, otherwise by
// string form. This keeps 1 == 1.0 == "1" behavior stable across JSON
// round-trips of the context snapshot.
func equal(a, b any) bool {
	fa, aok := asFloat(a)
	fb, bok := asFloat(b)
	if aok && bok {
		return fa == fb
	}
	return asString(a) == asString(b)
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
