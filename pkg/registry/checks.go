package registry

import (
	"fmt"

	"github.com/openfroyo/tplcheck/pkg/constraint"
	"github.com/openfroyo/tplcheck/pkg/types"
)

// checkDef validates the parts of def that do not depend on other types:
// reference shape, inline structure and constraints on inline targets.
func checkDef(def types.TypeDef) error {
	switch d := def.(type) {
	case types.Scalar:
		if !types.IsScalarKind(string(d.Type)) {
			return types.NewInvalidTypeError(fmt.Sprintf("unknown scalar type %q", d.Type))
		}
	case types.PrimitiveUnion:
		return checkUnion(d)
	case types.Struct:
		seen := make(map[string]bool, len(d.Fields))
		for _, f := range d.Fields {
			if f.Name == "" {
				return types.NewInvalidTypeError("struct field with empty name")
			}
			if seen[f.Name] {
				return types.NewInvalidTypeError(fmt.Sprintf("duplicate field %q", f.Name))
			}
			seen[f.Name] = true
			if err := checkRef(f.Type); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	case types.DiscriminatedUnion:
		if d.Discriminator == "" {
			return types.NewInvalidTypeError("discriminated union without discriminator")
		}
		if len(d.Variants) == 0 {
			return types.NewInvalidTypeError("discriminated union without variants")
		}
		for i, v := range d.Variants {
			if err := checkRef(v); err != nil {
				return fmt.Errorf("variant %d: %w", i, err)
			}
			if v.Nullable {
				return types.NewInvalidTypeError(fmt.Sprintf("variant %d of a discriminated union cannot be nullable", i))
			}
		}
	case types.Array:
		if d.MinLength != nil && *d.MinLength < 0 {
			return types.NewConstraintDefinitionError("array minLength must not be negative")
		}
		if d.MinLength != nil && d.MaxLength != nil && *d.MinLength > *d.MaxLength {
			return types.NewConstraintDefinitionError(fmt.Sprintf("array minLength %d exceeds maxLength %d", *d.MinLength, *d.MaxLength))
		}
		if err := checkRef(d.Elem); err != nil {
			return fmt.Errorf("array element: %w", err)
		}
	case types.Tuple:
		if len(d.Elems) == 0 {
			return types.NewInvalidTypeError("tuple without elements")
		}
		for i, e := range d.Elems {
			if err := checkRef(e); err != nil {
				return fmt.Errorf("tuple element %d: %w", i, err)
			}
		}
	case types.Alias:
		if err := checkRef(d.Target); err != nil {
			return fmt.Errorf("alias target: %w", err)
		}
	default:
		return types.NewInvalidTypeError(fmt.Sprintf("unsupported definition %T", def))
	}
	return nil
}

// checkRef validates a reference and, for inline targets, its definition
// and constraints.
func checkRef(ref *types.TypeRef) error {
	if err := ref.Check(); err != nil {
		return types.NewInvalidTypeError(err.Error())
	}
	if ref.Inline == nil {
		return nil
	}
	if err := checkDef(ref.Inline); err != nil {
		return err
	}
	// Constraints on inline aliases wait for Seal, when the target is known.
	if _, ok := ref.Inline.(types.Alias); ok || len(ref.Constraints) == 0 {
		return nil
	}
	return constraint.ApplicableAll(ref.Inline, ref.Constraints)
}

func checkUnion(u types.PrimitiveUnion) error {
	if len(u.Members) == 0 {
		return types.NewInvalidTypeError("union without members")
	}
	for i, m := range u.Members {
		switch m.(type) {
		case string, int64:
		default:
			return types.NewInvalidTypeError(fmt.Sprintf("union member %v has unsupported type %T", m, m))
		}
		for _, prev := range u.Members[:i] {
			if types.LiteralEqual(prev, m) {
				return types.NewInvalidTypeError(fmt.Sprintf("duplicate union member %s", types.FormatLiteral(m)))
			}
		}
	}
	return nil
}
