// Package constraint evaluates scalar constraints such as minLength and
// maxValue against configuration values, and decides which constraints may
// be attached to which types.
package constraint

import (
	"cmp"
	"fmt"
	"unicode/utf8"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// Check evaluates every constraint against value and returns one violation
// per failed bound. Bounds are inclusive. String length counts Unicode
// characters and array length counts elements. Constraints that do not
// apply to the value's kind are skipped; the validator reports the shape
// mismatch separately.
//
// Returned violations carry the root path; callers set the real path.
func Check(value any, constraints []types.Constraint) []types.Violation {
	var violations []types.Violation
	for _, c := range constraints {
		if v, ok := check(value, c); !ok {
			violations = append(violations, v)
		}
	}
	return violations
}

func check(value any, c types.Constraint) (types.Violation, bool) {
	switch {
	case c.IsLength():
		n, unit, ok := length(value)
		if !ok {
			return types.Violation{}, true
		}
		return bound(c, cmp.Compare(int64(n), c.Limit), fmt.Sprintf("%d %s", n, unit), unit)
	case c.IsNumeric():
		sign, ok := compareNumber(value, c.Limit)
		if !ok {
			return types.Violation{}, true
		}
		return bound(c, sign, types.FormatValue(value), "")
	default:
		return types.Violation{}, true
	}
}

// bound applies c given sign, the comparison of observed against the limit.
func bound(c types.Constraint, sign int, observedText, unit string) (types.Violation, bool) {
	var ok bool
	var expected, message string

	switch c.Kind {
	case types.MinLengthKind:
		ok = sign >= 0
		expected = fmt.Sprintf("at least %d %s", c.Limit, unit)
		message = fmt.Sprintf("length %s is below minimum %d", observedText, c.Limit)
	case types.MaxLengthKind:
		ok = sign <= 0
		expected = fmt.Sprintf("at most %d %s", c.Limit, unit)
		message = fmt.Sprintf("length %s exceeds maximum %d", observedText, c.Limit)
	case types.MinValueKind:
		ok = sign >= 0
		expected = fmt.Sprintf(">= %d", c.Limit)
		message = fmt.Sprintf("value %s is below minimum %d", observedText, c.Limit)
	case types.MaxValueKind:
		ok = sign <= 0
		expected = fmt.Sprintf("<= %d", c.Limit)
		message = fmt.Sprintf("value %s exceeds maximum %d", observedText, c.Limit)
	}

	if ok {
		return types.Violation{}, true
	}
	return types.Violation{
		Kind:     types.ViolationConstraint,
		Expected: expected,
		Observed: observedText,
		Message:  message,
	}, false
}

func length(value any) (int, string, bool) {
	switch v := value.(type) {
	case string:
		return utf8.RuneCountInString(v), "characters", true
	case []any:
		return len(v), "elements", true
	default:
		return 0, "", false
	}
}

func compareNumber(value any, limit int64) (int, bool) {
	switch v := value.(type) {
	case int64:
		return cmp.Compare(v, limit), true
	case float64:
		return cmp.Compare(v, float64(limit)), true
	default:
		return 0, false
	}
}
