package constraint

import (
	"fmt"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// Applicable reports whether c may be attached to a reference whose target
// definition is def. Aliases must be followed by the caller. Length
// constraints apply to strings, string unions and arrays; numeric
// constraints apply to int, number and integer unions.
func Applicable(def types.TypeDef, c types.Constraint) error {
	if c.IsLength() && c.Limit < 0 {
		return types.NewConstraintDefinitionError(fmt.Sprintf("%s must not be negative", c))
	}

	switch {
	case c.IsLength():
		if acceptsLength(def) {
			return nil
		}
		return types.NewConstraintDefinitionError(fmt.Sprintf(
			"%s constraint is only valid for string, string union or array types, not %s",
			c.Kind, types.DescribeDef(def)))
	case c.IsNumeric():
		if acceptsNumeric(def) {
			return nil
		}
		return types.NewConstraintDefinitionError(fmt.Sprintf(
			"%s constraint is only valid for int, number or integer union types, not %s",
			c.Kind, types.DescribeDef(def)))
	default:
		return types.NewConstraintDefinitionError(fmt.Sprintf("unknown constraint kind %q", c.Kind))
	}
}

// ApplicableAll checks every constraint with Applicable and then rejects
// contradictory bounds such as minLength greater than maxLength.
func ApplicableAll(def types.TypeDef, constraints []types.Constraint) error {
	bounds := make(map[types.ConstraintKind]int64, len(constraints))
	for _, c := range constraints {
		if err := Applicable(def, c); err != nil {
			return err
		}
		if prev, ok := bounds[c.Kind]; ok && prev != c.Limit {
			return types.NewConstraintDefinitionError(fmt.Sprintf("%s declared twice with different limits", c.Kind))
		}
		bounds[c.Kind] = c.Limit
	}

	if lo, ok := bounds[types.MinLengthKind]; ok {
		if hi, ok := bounds[types.MaxLengthKind]; ok && lo > hi {
			return types.NewConstraintDefinitionError(fmt.Sprintf("minLength %d exceeds maxLength %d", lo, hi))
		}
	}
	if lo, ok := bounds[types.MinValueKind]; ok {
		if hi, ok := bounds[types.MaxValueKind]; ok && lo > hi {
			return types.NewConstraintDefinitionError(fmt.Sprintf("minValue %d exceeds maxValue %d", lo, hi))
		}
	}
	return nil
}

func acceptsLength(def types.TypeDef) bool {
	switch d := def.(type) {
	case types.Scalar:
		return d.Type == types.ScalarString
	case types.PrimitiveUnion:
		return d.AllStrings()
	case types.Array:
		return true
	default:
		return false
	}
}

func acceptsNumeric(def types.TypeDef) bool {
	switch d := def.(type) {
	case types.Scalar:
		return d.Type == types.ScalarInt || d.Type == types.ScalarNumber
	case types.PrimitiveUnion:
		return d.AllInts()
	default:
		return false
	}
}
