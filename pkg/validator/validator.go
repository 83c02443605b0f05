// Package validator checks configuration values against expanded schemas.
//
// Validation is a single depth-first pass that collects every violation
// with its path instead of stopping at the first problem. Structs are
// closed-world: undeclared keys are violations. Violations are data; the
// only error a caller sees is a malformed schema.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/tplcheck/pkg/constraint"
	"github.com/openfroyo/tplcheck/pkg/resolver"
	"github.com/openfroyo/tplcheck/pkg/types"
)

// Validator validates values against schemas. It holds no per-call state
// and is safe for concurrent use.
type Validator struct {
	logger zerolog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger.With().Str("component", "validator").Logger()
	}
}

// New creates a validator.
func New(opts ...Option) *Validator {
	v := &Validator{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks value against schema and returns every violation found.
func (v *Validator) Validate(value any, schema *resolver.Schema) (*types.Result, error) {
	return v.run(value, schema, false)
}

// ValidatePartial is Validate without missing-field checks on the root
// struct. It is used for overlays, which only carry the keys they change.
// Nested structs present in the overlay are checked in full.
func (v *Validator) ValidatePartial(value any, schema *resolver.Schema) (*types.Result, error) {
	return v.run(value, schema, true)
}

func (v *Validator) run(value any, schema *resolver.Schema, partial bool) (*types.Result, error) {
	if schema == nil || schema.Root == nil {
		return nil, types.NewMalformedSchemaError("nil schema")
	}

	w := &walker{result: &types.Result{}, partial: partial}
	if err := w.ref(schema.Root, value, types.Root); err != nil {
		return nil, fmt.Errorf("validating against %s: %w", schema.Type, err)
	}

	v.logger.Debug().
		Str("type", schema.Type).
		Bool("partial", partial).
		Int("violations", len(w.result.Violations)).
		Msg("Validated configuration")

	return w.result, nil
}

// walker accumulates violations for one call.
type walker struct {
	result  *types.Result
	partial bool
}

func (w *walker) add(kind types.ViolationKind, path types.Path, expected, observed, message string) {
	w.result.Add(types.Violation{
		Kind:     kind,
		Path:     path,
		Expected: expected,
		Observed: observed,
		Message:  message,
	})
}

func (w *walker) ref(ref *resolver.Ref, value any, path types.Path) error {
	if ref == nil || !ref.Node.Filled() {
		return types.NewMalformedSchemaError(fmt.Sprintf("unexpanded node at %s", path))
	}

	if value == nil {
		if ref.Nullable {
			return nil
		}
		w.add(types.ViolationTypeMismatch, path, ref.TypeName(), "null",
			fmt.Sprintf("expected %s, got null", ref.TypeName()))
		return nil
	}

	shapeOK, err := w.node(ref, value, path)
	if err != nil {
		return err
	}

	if shapeOK && len(ref.Constraints) > 0 {
		for _, cv := range constraint.Check(value, ref.Constraints) {
			cv.Path = path
			w.result.Add(cv)
		}
	}
	return nil
}

// node validates value against the shape of ref's node and reports whether
// the shape matched, which gates constraint evaluation.
func (w *walker) node(ref *resolver.Ref, value any, path types.Path) (bool, error) {
	n := ref.Node

	switch n.Kind {
	case types.KindScalar:
		if scalarMatches(n.Scalar, value) {
			return true, nil
		}
		w.mismatch(ref, value, path)
		return false, nil

	case types.KindPrimitiveUnion:
		for _, m := range n.Members {
			if types.LiteralEqual(m, value) {
				return true, nil
			}
		}
		expected := oneOf(n.Members)
		w.add(types.ViolationConstraint, path, expected, types.FormatValue(value),
			fmt.Sprintf("value %s is not %s", types.FormatValue(value), expected))
		return false, nil

	case types.KindStruct:
		obj, ok := value.(map[string]any)
		if !ok {
			w.mismatch(ref, value, path)
			return false, nil
		}
		return true, w.structFields(n, obj, path)

	case types.KindDiscriminatedUnion:
		obj, ok := value.(map[string]any)
		if !ok {
			w.mismatch(ref, value, path)
			return false, nil
		}
		return true, w.union(n, obj, path)

	case types.KindArray:
		items, ok := value.([]any)
		if !ok {
			w.mismatch(ref, value, path)
			return false, nil
		}
		w.arrayBounds(n, items, path)
		for i, item := range items {
			if err := w.ref(n.Elem, item, path.Index(i)); err != nil {
				return false, err
			}
		}
		return true, nil

	case types.KindTuple:
		items, ok := value.([]any)
		if !ok {
			w.mismatch(ref, value, path)
			return false, nil
		}
		if len(items) != len(n.Elems) {
			w.add(types.ViolationTypeMismatch, path,
				fmt.Sprintf("%d elements", len(n.Elems)),
				fmt.Sprintf("%d elements", len(items)),
				fmt.Sprintf("expected tuple of %d elements, got %d", len(n.Elems), len(items)))
		}
		for i := 0; i < len(items) && i < len(n.Elems); i++ {
			if err := w.ref(n.Elems[i], items[i], path.Index(i)); err != nil {
				return false, err
			}
		}
		return true, nil

	default:
		return false, types.NewMalformedSchemaError(fmt.Sprintf("unknown node kind %q at %s", n.Kind, path))
	}
}

// structFields applies closed-world struct rules: declared fields in order,
// then undeclared keys sorted by name. A partial value at the root may omit
// required fields, and a null there counts as absent.
func (w *walker) structFields(n *resolver.Node, obj map[string]any, path types.Path) error {
	overlayRoot := w.partial && len(path) == 0

	for _, f := range n.Fields {
		val, present := obj[f.Name]
		if !present || (val == nil && (f.Optional || overlayRoot)) {
			if !f.Optional && !overlayRoot {
				w.add(types.ViolationMissingField, path.Key(f.Name), f.Type.TypeName(), "",
					fmt.Sprintf("required field %q is missing", f.Name))
			}
			continue
		}
		if err := w.ref(f.Type, val, path.Key(f.Name)); err != nil {
			return err
		}
	}

	w.unknownFields(obj, path, func(key string) bool {
		_, declared := n.Field(key)
		return declared
	})
	return nil
}

// unknownFields reports the undeclared keys of obj sorted by name.
func (w *walker) unknownFields(obj map[string]any, path types.Path, declared func(string) bool) {
	overlayRoot := w.partial && len(path) == 0

	unknown := make([]string, 0)
	for key, val := range obj {
		if declared(key) || (overlayRoot && val == nil) {
			continue
		}
		unknown = append(unknown, key)
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		w.add(types.ViolationUnknownField, path.Key(key), "", types.FormatValue(obj[key]),
			fmt.Sprintf("field %q is not declared", key))
	}
}

func (w *walker) union(n *resolver.Node, obj map[string]any, path types.Path) error {
	discPath := path.Key(n.Discriminator)
	expected := quotedList(n.Accepted)

	raw, present := obj[n.Discriminator]
	if !present {
		if w.partial && len(path) == 0 {
			// Without a discriminator the variant is unknown, so only keys
			// no variant declares can be rejected.
			w.unknownFields(obj, path, func(key string) bool {
				for _, variant := range n.Variants {
					if _, ok := variant.Node.Field(key); ok {
						return true
					}
				}
				return false
			})
			return nil
		}
		w.add(types.ViolationNoMatchingVariant, discPath, expected, "",
			fmt.Sprintf("discriminator %q is missing; expected %s", n.Discriminator, expected))
		return nil
	}

	value, _ := raw.(string)
	variant, ok := n.VariantIndex[value]
	if !ok {
		w.add(types.ViolationNoMatchingVariant, discPath, expected, types.FormatValue(raw),
			fmt.Sprintf("discriminator value %s matches no variant; expected %s", types.FormatValue(raw), expected))
		return nil
	}
	if !variant.Node.Filled() {
		return types.NewMalformedSchemaError(fmt.Sprintf("unexpanded variant %q at %s", value, path))
	}

	return w.structFields(variant.Node, obj, path)
}

func (w *walker) arrayBounds(n *resolver.Node, items []any, path types.Path) {
	var cs []types.Constraint
	if n.MinLength != nil {
		cs = append(cs, types.MinLength(int64(*n.MinLength)))
	}
	if n.MaxLength != nil {
		cs = append(cs, types.MaxLength(int64(*n.MaxLength)))
	}
	for _, cv := range constraint.Check(items, cs) {
		cv.Path = path
		w.result.Add(cv)
	}
}

func (w *walker) mismatch(ref *resolver.Ref, value any, path types.Path) {
	w.add(types.ViolationTypeMismatch, path, ref.TypeName(), types.ValueKind(value),
		fmt.Sprintf("expected %s, got %s", expectedKind(ref.Node), types.ValueKind(value)))
}

func scalarMatches(kind types.ScalarKind, value any) bool {
	switch kind {
	case types.ScalarString:
		_, ok := value.(string)
		return ok
	case types.ScalarInt:
		_, ok := value.(int64)
		return ok
	case types.ScalarNumber:
		switch value.(type) {
		case int64, float64:
			return true
		}
		return false
	case types.ScalarBool:
		_, ok := value.(bool)
		return ok
	case types.ScalarObject:
		_, ok := value.(map[string]any)
		return ok
	case types.ScalarAny:
		return value != nil
	default:
		return false
	}
}

func expectedKind(n *resolver.Node) string {
	switch n.Kind {
	case types.KindScalar:
		return string(n.Scalar)
	case types.KindStruct, types.KindDiscriminatedUnion:
		return "object"
	case types.KindArray:
		return "array"
	case types.KindTuple:
		return "tuple"
	default:
		return string(n.Kind)
	}
}

func oneOf(members []any) string {
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = types.FormatLiteral(m)
	}
	return "one of {" + strings.Join(parts, ", ") + "}"
}

func quotedList(values []string) string {
	members := make([]any, len(values))
	for i, s := range values {
		members[i] = s
	}
	return oneOf(members)
}
