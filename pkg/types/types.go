// Package types defines the data model shared by the tplcheck pipeline:
// type definitions, type references, constraints, configuration values and
// validation results.
package types

import (
	"fmt"
	"strings"
)

// Kind identifies a TypeDef variant.
type Kind string

const (
	// KindScalar is a primitive type such as string or int.
	KindScalar Kind = "scalar"

	// KindPrimitiveUnion is a closed set of string/int literals.
	KindPrimitiveUnion Kind = "primitive_union"

	// KindStruct is an object with an ordered set of declared fields.
	KindStruct Kind = "struct"

	// KindDiscriminatedUnion is a tagged union of struct variants.
	KindDiscriminatedUnion Kind = "discriminated_union"

	// KindArray is a homogeneous list with optional length bounds.
	KindArray Kind = "array"

	// KindTuple is a fixed-arity list with positional element types.
	KindTuple Kind = "tuple"

	// KindAlias is a named type defined as another reference.
	KindAlias Kind = "alias"
)

// ScalarKind identifies a primitive type.
type ScalarKind string

const (
	ScalarString ScalarKind = "string"
	ScalarInt    ScalarKind = "int"
	ScalarNumber ScalarKind = "number"
	ScalarBool   ScalarKind = "bool"
	ScalarObject ScalarKind = "object"
	ScalarAny    ScalarKind = "any"
)

// IsScalarKind reports whether s names a primitive type.
func IsScalarKind(s string) bool {
	switch ScalarKind(s) {
	case ScalarString, ScalarInt, ScalarNumber, ScalarBool, ScalarObject, ScalarAny:
		return true
	}
	return false
}

// TypeDef is a named or anonymous type definition. The set of
// implementations is closed: Scalar, PrimitiveUnion, Struct,
// DiscriminatedUnion, Array, Tuple and Alias.
type TypeDef interface {
	// Kind returns the variant of this definition.
	Kind() Kind

	// Refs returns the type references this definition holds directly.
	Refs() []*TypeRef

	typeDef()
}

// Scalar is a primitive type.
type Scalar struct {
	Type ScalarKind
}

// NewScalar returns a scalar definition of the given kind.
func NewScalar(kind ScalarKind) Scalar { return Scalar{Type: kind} }

func (Scalar) Kind() Kind { return KindScalar }
func (Scalar) Refs() []*TypeRef { return nil }
func (Scalar) typeDef() {}
func (s Scalar) String() string { return string(s.Type) }

// PrimitiveUnion is a closed set of literal members. Members are string or
// int64 values.
type PrimitiveUnion struct {
	Members []any
}

func (PrimitiveUnion) Kind() Kind { return KindPrimitiveUnion }
func (PrimitiveUnion) Refs() []*TypeRef { return nil }
func (PrimitiveUnion) typeDef() {}

// String renders the members the way a template would declare them.
func (u PrimitiveUnion) String() string {
	parts := make([]string, len(u.Members))
	for i, m := range u.Members {
		parts[i] = FormatLiteral(m)
	}
	return strings.Join(parts, " | ")
}

// AllInts reports whether every member is an integer literal.
func (u PrimitiveUnion) AllInts() bool {
	for _, m := range u.Members {
		if _, ok := m.(int64); !ok {
			return false
		}
	}
	return len(u.Members) > 0
}

// AllStrings reports whether every member is a string literal.
func (u PrimitiveUnion) AllStrings() bool {
	for _, m := range u.Members {
		if _, ok := m.(string); !ok {
			return false
		}
	}
	return len(u.Members) > 0
}

// Field is a single declared struct field.
type Field struct {
	// Name is the object key.
	Name string

	// Type is the field's type reference, including constraints.
	Type *TypeRef

	// Optional fields may be absent.
	Optional bool

	// Description is free text carried from the source.
	Description string
}

// Struct is an object type with declared fields in declaration order.
type Struct struct {
	Fields []Field
}

func (Struct) Kind() Kind { return KindStruct }
func (Struct) typeDef() {}

func (s Struct) Refs() []*TypeRef {
	refs := make([]*TypeRef, 0, len(s.Fields))
	for i := range s.Fields {
		refs = append(refs, s.Fields[i].Type)
	}
	return refs
}

// Field returns the declared field with the given name.
func (s Struct) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DiscriminatedUnion is a union of struct variants selected by the literal
// value of a discriminator field.
type DiscriminatedUnion struct {
	Discriminator string
	Variants      []*TypeRef
}

func (DiscriminatedUnion) Kind() Kind { return KindDiscriminatedUnion }
func (u DiscriminatedUnion) Refs() []*TypeRef { return u.Variants }
func (DiscriminatedUnion) typeDef() {}

// Array is a list of elements sharing one type.
type Array struct {
	Elem      *TypeRef
	MinLength *int
	MaxLength *int
}

func (Array) Kind() Kind { return KindArray }
func (a Array) Refs() []*TypeRef { return []*TypeRef{a.Elem} }
func (Array) typeDef() {}

// Tuple is a fixed-arity list with positional element types.
type Tuple struct {
	Elems []*TypeRef
}

func (Tuple) Kind() Kind { return KindTuple }
func (t Tuple) Refs() []*TypeRef { return t.Elems }
func (Tuple) typeDef() {}

// Alias is a named type defined as another type reference.
type Alias struct {
	Target *TypeRef
}

func (Alias) Kind() Kind { return KindAlias }
func (a Alias) Refs() []*TypeRef { return []*TypeRef{a.Target} }
func (Alias) typeDef() {}

// Import names a type held by another registry.
type Import struct {
	// Source is the namespace of the registry that owns the type.
	Source string

	// Name is the type name inside Source.
	Name string

	// Alias is the local name the type is known by. Empty means Name.
	Alias string
}

// LocalName returns the name the import is visible under.
func (i Import) LocalName() string {
	if i.Alias != "" {
		return i.Alias
	}
	return i.Name
}

// TypeRef refers to a type either by name, inline, or through an import.
// Exactly one of Name, Inline and Import is set.
type TypeRef struct {
	Name        string
	Inline      TypeDef
	Import      *Import
	Nullable    bool
	Constraints []Constraint
}

// Ref returns a reference to a named type.
func Ref(name string) *TypeRef { return &TypeRef{Name: name} }

// InlineRef returns a reference wrapping an anonymous definition.
func InlineRef(def TypeDef) *TypeRef { return &TypeRef{Inline: def} }

// ImportRef returns a reference to a type owned by another registry.
func ImportRef(source, name, alias string) *TypeRef {
	return &TypeRef{Import: &Import{Source: source, Name: name, Alias: alias}}
}

// StringRef, IntRef, NumberRef, BoolRef, ObjectRef and AnyRef are shorthands
// for inline scalar references.
func StringRef() *TypeRef { return InlineRef(NewScalar(ScalarString)) }
func IntRef() *TypeRef { return InlineRef(NewScalar(ScalarInt)) }
func NumberRef() *TypeRef { return InlineRef(NewScalar(ScalarNumber)) }
func BoolRef() *TypeRef { return InlineRef(NewScalar(ScalarBool)) }
func ObjectRef() *TypeRef { return InlineRef(NewScalar(ScalarObject)) }
func AnyRef() *TypeRef { return InlineRef(NewScalar(ScalarAny)) }

// OrNull returns a nullable copy of r.
func (r *TypeRef) OrNull() *TypeRef {
	c := *r
	c.Nullable = true
	return &c
}

// With returns a copy of r with the given constraints appended.
func (r *TypeRef) With(constraints ...Constraint) *TypeRef {
	c := *r
	c.Constraints = append(append([]Constraint(nil), r.Constraints...), constraints...)
	return &c
}

// IsNamed reports whether r is a local named reference.
func (r *TypeRef) IsNamed() bool { return r.Name != "" && r.Inline == nil && r.Import == nil }

// Check verifies that exactly one target is set.
func (r *TypeRef) Check() error {
	if r == nil {
		return fmt.Errorf("nil type reference")
	}
	set := 0
	if r.Name != "" {
		set++
	}
	if r.Inline != nil {
		set++
	}
	if r.Import != nil {
		set++
		if r.Import.Source == "" || r.Import.Name == "" {
			return fmt.Errorf("import reference requires source and name")
		}
	}
	if set != 1 {
		return fmt.Errorf("type reference must set exactly one of name, inline or import (got %d)", set)
	}
	return nil
}

// String renders r in template syntax.
func (r *TypeRef) String() string {
	if r == nil {
		return "<nil>"
	}
	var sb strings.Builder
	for _, c := range r.Constraints {
		sb.WriteString(c.String())
		sb.WriteString(" ")
	}
	switch {
	case r.Import != nil:
		sb.WriteString(r.Import.Source + "." + r.Import.Name)
		if r.Import.Alias != "" {
			sb.WriteString(" as " + r.Import.Alias)
		}
	case r.Inline != nil:
		sb.WriteString(DescribeDef(r.Inline))
	default:
		sb.WriteString(r.Name)
	}
	if r.Nullable {
		sb.WriteString("?")
	}
	return sb.String()
}

// DescribeDef returns a short human readable rendering of a definition.
func DescribeDef(def TypeDef) string {
	switch d := def.(type) {
	case Scalar:
		return string(d.Type)
	case PrimitiveUnion:
		return d.String()
	case Struct:
		names := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			names[i] = f.Name
			if f.Optional {
				names[i] += "?"
			}
		}
		return "{" + strings.Join(names, ", ") + "}"
	case DiscriminatedUnion:
		parts := make([]string, len(d.Variants))
		for i, v := range d.Variants {
			parts[i] = v.String()
		}
		return fmt.Sprintf("@discriminator('%s') %s", d.Discriminator, strings.Join(parts, " | "))
	case Array:
		return d.Elem.String() + "[]"
	case Tuple:
		parts := make([]string, len(d.Elems))
		for i, e := range d.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Alias:
		return d.Target.String()
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%T", def)
	}
}
