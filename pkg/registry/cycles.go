package registry

import (
	"github.com/openfroyo/tplcheck/pkg/types"
)

// DetectCycles reports a CyclicTypeError if some named type can only be
// satisfied by an infinitely deep value. Edges follow references that force
// a value to exist: required non-nullable struct fields, tuple elements,
// alias targets and the variant of a single-variant discriminated union.
// Optional fields, nullable references, arrays and multi-variant unions
// break cycles, so ordinary recursive types are accepted.
//
// Types are visited in registration order, which makes the reported path
// deterministic.
func (r *Registry) DetectCycles() error {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return r.detectCycles()
}

// detectCycles runs the DFS. Callers must hold mu or have sealed the
// registry.
func (r *Registry) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	for _, name := range r.order {
		if !visited[name] {
			if cycle := r.detectCyclesUtil(name, visited, recStack, path); cycle != nil {
				return types.NewCyclicTypeError(cycle)
			}
		}
	}

	return nil
}

// detectCyclesUtil performs DFS from name and returns the first cycle found.
func (r *Registry) detectCyclesUtil(
	name string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, next := range r.forcedEdges(name) {
		if !visited[next] {
			if cycle := r.detectCyclesUtil(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			for i, id := range path {
				if id == next {
					cycle := append([]string(nil), path[i:]...)
					return append(cycle, next)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// forcedEdges returns the named local types a value of name must contain,
// deduplicated in declaration order.
func (r *Registry) forcedEdges(name string) []string {
	def, ok := r.defs[name]
	if !ok {
		return nil
	}

	var edges []string
	seen := make(map[string]bool)
	var collect func(types.TypeDef)
	follow := func(ref *types.TypeRef) {
		if ref == nil || ref.Nullable {
			return
		}
		switch {
		case ref.Inline != nil:
			collect(ref.Inline)
		case ref.IsNamed():
			if !seen[ref.Name] {
				seen[ref.Name] = true
				edges = append(edges, ref.Name)
			}
		}
	}
	collect = func(def types.TypeDef) {
		switch d := def.(type) {
		case types.Struct:
			for _, f := range d.Fields {
				if !f.Optional {
					follow(f.Type)
				}
			}
		case types.Tuple:
			for _, e := range d.Elems {
				follow(e)
			}
		case types.Alias:
			follow(d.Target)
		case types.DiscriminatedUnion:
			if len(d.Variants) == 1 {
				follow(d.Variants[0])
			}
		}
	}

	collect(def)
	return edges
}
