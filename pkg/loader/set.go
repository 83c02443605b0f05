package loader

import (
	"fmt"
	"strings"

	"github.com/openfroyo/tplcheck/pkg/registry"
	"github.com/openfroyo/tplcheck/pkg/resolver"
	"github.com/openfroyo/tplcheck/pkg/types"
)

// Set is a group of sealed registries keyed by namespace.
type Set struct {
	registries map[string]*registry.Registry
	order      []string
	sources    []string
}

func newSet() *Set {
	return &Set{registries: make(map[string]*registry.Registry)}
}

func (s *Set) add(r *registry.Registry) {
	if _, ok := s.registries[r.Namespace()]; !ok {
		s.order = append(s.order, r.Namespace())
	}
	s.registries[r.Namespace()] = r
}

// Registry returns the registry of namespace ns.
func (s *Set) Registry(ns string) (*registry.Registry, bool) {
	r, ok := s.registries[ns]
	return r, ok
}

// Namespaces returns the namespaces in load order.
func (s *Set) Namespaces() []string {
	return append([]string(nil), s.order...)
}

// Sources returns the documents the set was built from.
func (s *Set) Sources() []string {
	return append([]string(nil), s.sources...)
}

// Len returns the total number of registered types.
func (s *Set) Len() int {
	n := 0
	for _, r := range s.registries {
		n += r.Len()
	}
	return n
}

// Resolver returns a resolver local to namespace ns that can address every
// other namespace of the set.
func (s *Set) Resolver(ns string) (*resolver.Resolver, error) {
	local, ok := s.registries[ns]
	if !ok {
		return nil, fmt.Errorf("unknown namespace %q", ns)
	}
	imports := make([]*registry.Registry, 0, len(s.order))
	for _, other := range s.order {
		if other != ns {
			imports = append(imports, s.registries[other])
		}
	}
	return resolver.New(local, imports...), nil
}

// Lookup splits typeName into namespace and local name. A qualified name
// has the form "ns.Type"; an unqualified one must be declared in exactly
// one namespace.
func (s *Set) Lookup(typeName string) (ns, name string, err error) {
	if ns, name, ok := strings.Cut(typeName, "."); ok {
		r, found := s.registries[ns]
		if !found {
			return "", "", types.NewUnknownTypeError(typeName).WithCause(fmt.Errorf("unknown namespace %q", ns))
		}
		if !r.Has(name) {
			return "", "", types.NewUnknownTypeError(typeName)
		}
		return ns, name, nil
	}

	var matches []string
	for _, candidate := range s.order {
		if s.registries[candidate].Has(typeName) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return "", "", types.NewUnknownTypeError(typeName)
	case 1:
		return matches[0], typeName, nil
	default:
		return "", "", types.NewUnknownTypeError(typeName).
			WithCause(fmt.Errorf("ambiguous, declared in %s", strings.Join(matches, ", ")))
	}
}
