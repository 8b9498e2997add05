package routing

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluate tests a single condition against a record. It is a pure, total
// function: unparseable or type-mismatched comparisons resolve to false
// rather than erroring, so one malformed condition cannot abort evaluation
// of a whole rule set.
//
// String comparisons are case-insensitive. Numeric operators coerce both
// sides to float64 with non-numeric values coercing to 0. A lessThan
// against junk data can spuriously match; see EvaluateErr for calls that
// want the coercion surfaced.
func Evaluate(cond Condition, rec Record) bool {
	ok, _ := EvaluateErr(cond, rec)
	return ok
}

// EvaluateErr is Evaluate with the discarded evaluation error exposed for
// observability. The boolean result is identical to Evaluate's: any error
// implies false.
func EvaluateErr(cond Condition, rec Record) (bool, error) {
	if cond.Field == "" {
		return false, fmt.Errorf("%w: empty field", ErrMalformedCondition)
	}

	raw, exists := rec[cond.Field]
	actual := valueToString(raw)
	blank := !exists || raw == nil || actual == ""

	switch cond.Operator {
	case OpIsBlank:
		return blank, nil
	case OpIsPresent:
		return !blank, nil
	case OpEquals:
		return strings.EqualFold(actual, cond.Value), nil
	case OpNotEquals:
		return !strings.EqualFold(actual, cond.Value), nil
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value)), nil
	case OpNotContains:
		return !strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value)), nil
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(actual), strings.ToLower(cond.Value)), nil
	case OpGreaterThan:
		return coerceFloat(actual) > coerceFloat(cond.Value), nil
	case OpLessThan:
		return coerceFloat(actual) < coerceFloat(cond.Value), nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, cond.Operator)
	}
}

// valueToString renders a record value for comparison. nil renders empty,
// floats render without a trailing ".0" so JSON-decoded integers compare
// cleanly against operator-entered strings.
func valueToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// coerceFloat parses a comparison operand, coercing non-numeric input to 0.
func coerceFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
