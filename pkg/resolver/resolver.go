// Package resolver expands type references into schemas the validator can
// walk. Named types expand to shared nodes memoised per qualified name;
// imports are resolved against other registries by namespace.
package resolver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/tplcheck/pkg/registry"
	"github.com/openfroyo/tplcheck/pkg/types"
)

// Resolver expands references against a local registry and its imports.
type Resolver struct {
	local      *registry.Registry
	registries map[string]*registry.Registry

	mu    sync.Mutex
	cache map[string]*Ref
}

// New creates a resolver. Imported registries are keyed by namespace; the
// local registry is addressable by its own namespace too.
func New(local *registry.Registry, imports ...*registry.Registry) *Resolver {
	regs := make(map[string]*registry.Registry, len(imports)+1)
	for _, imp := range imports {
		if imp != nil {
			regs[imp.Namespace()] = imp
		}
	}
	regs[local.Namespace()] = local
	return &Resolver{
		local:      local,
		registries: regs,
		cache:      make(map[string]*Ref),
	}
}

// Local returns the registry local names resolve against.
func (r *Resolver) Local() *registry.Registry {
	return r.local
}

// Namespaces returns the namespaces this resolver can address, sorted.
func (r *Resolver) Namespaces() []string {
	out := make([]string, 0, len(r.registries))
	for ns := range r.registries {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// ExpandNamed expands the local type called name.
func (r *Resolver) ExpandNamed(name string) (*Schema, error) {
	return r.Expand(types.Ref(name))
}

// Expand resolves ref and everything it reaches. Repeated calls share the
// memoised named nodes. A failed expansion leaves the cache as it was.
func (r *Resolver) Expand(ref *types.TypeRef) (*Schema, error) {
	if err := ref.Check(); err != nil {
		return nil, types.NewInvalidTypeError(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	x := &expansion{r: r, aliases: make(map[string]bool)}
	root, err := x.ref(r.local, ref)
	if err == nil {
		err = x.indexUnions()
	}
	if err != nil {
		x.rollback()
		return nil, err
	}

	return &Schema{Type: ref.String(), Root: root}, nil
}

// expansion tracks the state of one Expand call.
type expansion struct {
	r       *Resolver
	added   []string
	unions  []*Node
	aliases map[string]bool
}

func (x *expansion) ref(reg *registry.Registry, ref *types.TypeRef) (*Ref, error) {
	if ref == nil {
		return nil, types.NewInvalidTypeError("nil type reference")
	}

	switch {
	case ref.Import != nil:
		target, ok := x.r.registries[ref.Import.Source]
		if !ok || !target.Has(ref.Import.Name) {
			return nil, types.NewUnresolvedImportError(ref.Import.Source, ref.Import.Name)
		}
		base, err := x.named(target, ref.Import.Name)
		if err != nil {
			return nil, err
		}
		return merge(base, ref, ref.Import.LocalName()), nil

	case ref.Inline != nil:
		if alias, ok := ref.Inline.(types.Alias); ok {
			base, err := x.ref(reg, alias.Target)
			if err != nil {
				return nil, err
			}
			return merge(base, ref, ""), nil
		}
		node := &Node{}
		if err := x.fill(reg, node, ref.Inline); err != nil {
			return nil, err
		}
		return &Ref{
			Node:        node,
			Nullable:    ref.Nullable,
			Constraints: append([]types.Constraint(nil), ref.Constraints...),
		}, nil

	default:
		base, err := x.named(reg, ref.Name)
		if err != nil {
			return nil, err
		}
		return merge(base, ref, ref.Name), nil
	}
}

// named returns the canonical reference for a named type, expanding it on
// first use. The placeholder node is cached before it is filled so that
// recursive references terminate.
func (x *expansion) named(reg *registry.Registry, name string) (*Ref, error) {
	key := reg.Namespace() + "." + name
	if cached, ok := x.r.cache[key]; ok {
		return cached, nil
	}

	def, err := reg.Resolve(name)
	if err != nil {
		return nil, err
	}

	if alias, ok := def.(types.Alias); ok {
		if x.aliases[key] {
			return nil, types.NewCyclicTypeError([]string{name, name})
		}
		x.aliases[key] = true
		base, err := x.ref(reg, alias.Target)
		delete(x.aliases, key)
		if err != nil {
			return nil, err
		}
		canonical := &Ref{
			Node:        base.Node,
			Nullable:    base.Nullable,
			Constraints: base.Constraints,
			Display:     name,
		}
		x.store(key, canonical)
		return canonical, nil
	}

	node := &Node{Name: key}
	canonical := &Ref{Node: node, Display: name}
	x.store(key, canonical)
	if err := x.fill(reg, node, def); err != nil {
		return nil, err
	}
	return canonical, nil
}

func (x *expansion) store(key string, ref *Ref) {
	x.r.cache[key] = ref
	x.added = append(x.added, key)
}

func (x *expansion) rollback() {
	for _, key := range x.added {
		delete(x.r.cache, key)
	}
}

func (x *expansion) fill(reg *registry.Registry, node *Node, def types.TypeDef) error {
	node.Kind = def.Kind()

	switch d := def.(type) {
	case types.Scalar:
		node.Scalar = d.Type

	case types.PrimitiveUnion:
		node.Members = append([]any(nil), d.Members...)

	case types.Struct:
		node.Fields = make([]*Field, 0, len(d.Fields))
		node.fieldIndex = make(map[string]int, len(d.Fields))
		for _, f := range d.Fields {
			ft, err := x.ref(reg, f.Type)
			if err != nil {
				return err
			}
			node.fieldIndex[f.Name] = len(node.Fields)
			node.Fields = append(node.Fields, &Field{
				Name:        f.Name,
				Optional:    f.Optional,
				Description: f.Description,
				Type:        ft,
			})
		}

	case types.DiscriminatedUnion:
		node.Discriminator = d.Discriminator
		node.Variants = make([]*Ref, 0, len(d.Variants))
		for _, v := range d.Variants {
			vr, err := x.ref(reg, v)
			if err != nil {
				return err
			}
			node.Variants = append(node.Variants, vr)
		}
		x.unions = append(x.unions, node)

	case types.Array:
		elem, err := x.ref(reg, d.Elem)
		if err != nil {
			return err
		}
		node.Elem = elem
		node.MinLength = d.MinLength
		node.MaxLength = d.MaxLength

	case types.Tuple:
		node.Elems = make([]*Ref, 0, len(d.Elems))
		for _, e := range d.Elems {
			er, err := x.ref(reg, e)
			if err != nil {
				return err
			}
			node.Elems = append(node.Elems, er)
		}

	default:
		return types.NewInvalidTypeError(fmt.Sprintf("cannot expand %T", def))
	}

	node.filled = true
	return nil
}

// indexUnions builds the discriminator lookup of every union created in
// this expansion. It runs last because a variant may be a node whose
// expansion was still in progress when the union was filled.
func (x *expansion) indexUnions() error {
	for _, u := range x.unions {
		index := make(map[string]*Ref, len(u.Variants))
		accepted := make([]string, 0, len(u.Variants))

		for _, v := range u.Variants {
			value, err := discriminatorValue(u.Discriminator, v)
			if err != nil {
				return types.NewInvalidTypeError(err.Error()).WithTypeName(u.Name)
			}
			if _, dup := index[value]; dup {
				return types.NewInvalidTypeError(fmt.Sprintf(
					"discriminator value %q is used by more than one variant", value)).WithTypeName(u.Name)
			}
			index[value] = v
			accepted = append(accepted, value)
		}

		u.VariantIndex = index
		u.Accepted = accepted
	}
	return nil
}

func discriminatorValue(discriminator string, v *Ref) (string, error) {
	if v.Node.Kind != types.KindStruct {
		return "", fmt.Errorf("variant %s is not a struct", v.TypeName())
	}
	f, ok := v.Node.Field(discriminator)
	if !ok {
		return "", fmt.Errorf("variant %s has no discriminator field %q", v.TypeName(), discriminator)
	}
	if f.Optional || f.Type.Nullable {
		return "", fmt.Errorf("discriminator field %q of variant %s must be required", discriminator, v.TypeName())
	}
	lit := f.Type.Node
	if lit.Kind != types.KindPrimitiveUnion || len(lit.Members) != 1 {
		return "", fmt.Errorf("discriminator field %q of variant %s must be a single string literal", discriminator, v.TypeName())
	}
	value, ok := lit.Members[0].(string)
	if !ok {
		return "", fmt.Errorf("discriminator field %q of variant %s must be a string literal", discriminator, v.TypeName())
	}
	return value, nil
}

func merge(base *Ref, ref *types.TypeRef, display string) *Ref {
	out := &Ref{
		Node:     base.Node,
		Nullable: base.Nullable || ref.Nullable,
		Display:  display,
	}
	if out.Display == "" {
		out.Display = base.Display
	}
	if len(base.Constraints)+len(ref.Constraints) > 0 {
		out.Constraints = make([]types.Constraint, 0, len(base.Constraints)+len(ref.Constraints))
		out.Constraints = append(out.Constraints, base.Constraints...)
		out.Constraints = append(out.Constraints, ref.Constraints...)
	}
	return out
}
