package resolver

import (
	"github.com/openfroyo/tplcheck/pkg/types"
)

// Node is an expanded type definition. Named types expand to one shared
// Node per qualified name, so recursive types form a graph rather than an
// infinite tree. Nodes are immutable once expansion completes.
type Node struct {
	// Kind is the definition variant.
	Kind types.Kind

	// Name is the qualified name (namespace.Type) of a named node, empty
	// for anonymous nodes.
	Name string

	// Scalar is set for scalar nodes.
	Scalar types.ScalarKind

	// Members are the literals of a primitive union.
	Members []any

	// Fields are the struct fields in declaration order.
	Fields []*Field

	// Discriminator is the selecting field of a discriminated union.
	Discriminator string

	// Variants are the union's struct variants in declaration order.
	Variants []*Ref

	// VariantIndex maps each discriminator literal to its variant.
	VariantIndex map[string]*Ref

	// Accepted lists the discriminator literals in declaration order.
	Accepted []string

	// Elem is the element type of an array.
	Elem *Ref

	// MinLength and MaxLength are the declared array bounds.
	MinLength *int
	MaxLength *int

	// Elems are the positional element types of a tuple.
	Elems []*Ref

	fieldIndex map[string]int
	filled     bool
}

// Field is an expanded struct field.
type Field struct {
	Name        string
	Optional    bool
	Description string
	Type        *Ref
}

// Ref is an expanded type reference: a node plus the reference-level
// properties that do not belong to the shared node.
type Ref struct {
	// Node is the expanded target.
	Node *Node

	// Nullable allows null in place of a value.
	Nullable bool

	// Constraints accumulate across alias chains, outermost last.
	Constraints []types.Constraint

	// Display is the name the reference was written with, such as an
	// import alias. Empty for inline references.
	Display string
}

// Field returns the struct field with the given name.
func (n *Node) Field(name string) (*Field, bool) {
	i, ok := n.fieldIndex[name]
	if !ok {
		return nil, false
	}
	return n.Fields[i], true
}

// Filled reports whether expansion of n completed. The validator treats an
// unfilled node as a malformed schema.
func (n *Node) Filled() bool {
	return n != nil && n.filled
}

// TypeName returns the best human name for the referenced type.
func (r *Ref) TypeName() string {
	if r == nil || r.Node == nil {
		return "<nil>"
	}
	if r.Display != "" {
		return r.Display
	}
	if r.Node.Name != "" {
		return r.Node.Name
	}
	return r.Node.describe()
}

func (n *Node) describe() string {
	switch n.Kind {
	case types.KindScalar:
		return string(n.Scalar)
	case types.KindPrimitiveUnion:
		return types.PrimitiveUnion{Members: n.Members}.String()
	case types.KindStruct:
		return "object"
	case types.KindDiscriminatedUnion:
		return "union on " + n.Discriminator
	case types.KindArray:
		return n.Elem.TypeName() + "[]"
	case types.KindTuple:
		s := "["
		for i, e := range n.Elems {
			if i > 0 {
				s += ", "
			}
			s += e.TypeName()
		}
		return s + "]"
	default:
		return string(n.Kind)
	}
}

// Schema is a fully expanded type ready for validation.
type Schema struct {
	// Type is the name or rendering of the expanded reference.
	Type string

	// Root is the expanded reference.
	Root *Ref
}
