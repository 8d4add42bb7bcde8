package conditions

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/Ramsey-B/vine/pkg/expressions"
	"github.com/Ramsey-B/vine/pkg/models"
)

// compare applies op to a resolved value and the condition's expected value
func compare(op models.Operator, actual, expected any) bool {
	switch op {
	case models.OperatorEquals:
		return valuesEqual(actual, expected)
	case models.OperatorNotEquals:
		return !valuesEqual(actual, expected)
	case models.OperatorContains:
		found, ok := contains(actual, expected)
		return ok && found
	case models.OperatorNotContains:
		found, ok := contains(actual, expected)
		return ok && !found
	case models.OperatorGreaterThan, models.OperatorLessThan,
		models.OperatorGreaterOrEqual, models.OperatorLessOrEqual:
		return compareNumeric(op, actual, expected)
	default:
		return false
	}
}

// valuesEqual compares in JSON form so 1 and 1.0 are equal
func valuesEqual(a, b any) bool {
	a = expressions.Normalize(a)
	b = expressions.Normalize(b)

	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

// contains reports substring or membership. ok is false when the value is neither a string nor a sequence.
func contains(actual, expected any) (found bool, ok bool) {
	switch v := actual.(type) {
	case string:
		sub, isString := expected.(string)
		if !isString {
			return false, true
		}
		return strings.Contains(v, sub), true
	case []any:
		for _, item := range v {
			if valuesEqual(item, expected) {
				return true, true
			}
		}
		return false, true
	default:
		return false, false
	}
}

func compareNumeric(op models.Operator, actual, expected any) bool {
	a, ok := toFloat64(actual)
	if !ok {
		return false
	}
	b, ok := toFloat64(expected)
	if !ok {
		return false
	}

	switch op {
	case models.OperatorGreaterThan:
		return a > b
	case models.OperatorLessThan:
		return a < b
	case models.OperatorGreaterOrEqual:
		return a >= b
	case models.OperatorLessOrEqual:
		return a <= b
	default:
		return false
	}
}

// toFloat64 accepts numbers and numeric strings
func toFloat64(v any) (float64, bool) {
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
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
