package types

import "fmt"

// ConstraintKind identifies a scalar constraint.
type ConstraintKind string

const (
	// MinLengthKind bounds string character count or array element count from below.
	MinLengthKind ConstraintKind = "minLength"

	// MaxLengthKind bounds string character count or array element count from above.
	MaxLengthKind ConstraintKind = "maxLength"

	// MinValueKind bounds a numeric value from below.
	MinValueKind ConstraintKind = "minValue"

	// MaxValueKind bounds a numeric value from above.
	MaxValueKind ConstraintKind = "maxValue"
)

// Constraint is an inclusive bound attached to a type reference.
type Constraint struct {
	Kind  ConstraintKind
	Limit int64
}

// MinLength returns a minimum length constraint.
func MinLength(n int64) Constraint { return Constraint{Kind: MinLengthKind, Limit: n} }

// MaxLength returns a maximum length constraint.
func MaxLength(n int64) Constraint { return Constraint{Kind: MaxLengthKind, Limit: n} }

// MinValue returns a minimum value constraint.
func MinValue(n int64) Constraint { return Constraint{Kind: MinValueKind, Limit: n} }

// MaxValue returns a maximum value constraint.
func MaxValue(n int64) Constraint { return Constraint{Kind: MaxValueKind, Limit: n} }

// IsLength reports whether c bounds a length.
func (c Constraint) IsLength() bool {
	return c.Kind == MinLengthKind || c.Kind == MaxLengthKind
}

// IsNumeric reports whether c bounds a numeric value.
func (c Constraint) IsNumeric() bool {
	return c.Kind == MinValueKind || c.Kind == MaxValueKind
}

// String renders c as a decorator.
func (c Constraint) String() string {
	return fmt.Sprintf("@%s(%d)", c.Kind, c.Limit)
}

// ParseConstraintKind converts a decorator name into a ConstraintKind.
func ParseConstraintKind(s string) (ConstraintKind, error) {
	switch ConstraintKind(s) {
	case MinLengthKind, MaxLengthKind, MinValueKind, MaxValueKind:
		return ConstraintKind(s), nil
	default:
		return "", fmt.Errorf("unknown constraint %q", s)
	}
}
