package activation

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/nvandessel/ruleloop/internal/models"
)

// Evaluate reports whether cond holds for data. A nil condition never holds.
// An error means the condition could not be evaluated (a type mismatch)
// and the rule must be skipped.
func Evaluate(cond *models.Condition, data map[string]interface{}) (bool, error) {
	if cond == nil {
		return false, nil
	}
	actual, present := models.Lookup(data, cond.Field)

	switch cond.Operator {
	case models.OpEquals:
		return present && equalsCoerced(actual, cond.Value), nil
	case models.OpContains:
		if !present || actual == nil {
			return false, nil
		}
		return strings.Contains(strings.ToLower(stringify(actual)), strings.ToLower(stringify(cond.Value))), nil
	case models.OpStartsWith:
		if !present || actual == nil {
			return false, nil
		}
		return strings.HasPrefix(strings.ToLower(stringify(actual)), strings.ToLower(stringify(cond.Value))), nil
	case models.OpGreater, models.OpLess:
		if !present || actual == nil {
			return false, nil
		}
		a, ok := toNumber(actual)
		if !ok {
			return false, fmt.Errorf("field %s value %v is not numeric", cond.Field, actual)
		}
		b, ok := toNumber(cond.Value)
		if !ok {
			return false, fmt.Errorf("condition value %v for %s is not numeric", cond.Value, cond.Field)
		}
		if cond.Operator == models.OpGreater {
			return a > b, nil
		}
		return a < b, nil
	case models.OpIsEmpty:
		return isEmpty(actual, present), nil
	case models.OpIsNotEmpty:
		return !isEmpty(actual, present), nil
	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

// isEmpty treats missing, nil and "" as empty. 0 and false are values.
func isEmpty(v interface{}, present bool) bool {
	if !present || v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// equalsCoerced compares after coercing want to the apparent type of actual.
func equalsCoerced(actual, want interface{}) bool {
	switch a := actual.(type) {
	case nil:
		return want == nil
	case string:
		if want == nil {
			return false
		}
		return a == stringify(want)
	case bool:
		b, ok := toBool(want)
		return ok && a == b
	}
	if fa, ok := toNumber(actual); ok {
		fb, ok := toNumber(want)
		return ok && fa == fb
	}
	return reflect.DeepEqual(normalize(actual), normalize(want))
}

// coerceLike converts v to the apparent type of existing when that is
// lossless; otherwise v is returned unchanged.
func coerceLike(existing, v interface{}) interface{} {
	switch existing.(type) {
	case nil:
		return v
	case string:
		if v == nil {
			return v
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			return v
		}
		return stringify(v)
	case bool:
		if b, ok := toBool(v); ok {
			return b
		}
		return v
	case int:
		if f, ok := toNumber(v); ok && f == math.Trunc(f) {
			return int(f)
		}
		return v
	case int64:
		if f, ok := toNumber(v); ok && f == math.Trunc(f) {
			return int64(f)
		}
		return v
	}
	if _, ok := toNumber(existing); ok {
		if f, ok := toNumber(v); ok {
			return f
		}
	}
	return v
}

// toNumber converts numeric values and numeric strings. Booleans are not numbers.
func toNumber(v interface{}) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

// stringify is the string coercion used by text operators.
func stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	}
	if f, ok := toNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// normalize round-trips composite values through JSON so Go and decoded
// values compare equal.
func normalize(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
