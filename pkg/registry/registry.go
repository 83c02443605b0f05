// Package registry holds named type definitions for one namespace.
//
// A Registry is populated during a load phase, then sealed. Seal runs the
// checks that need every definition to be present (unknown references,
// cycles, constraints on named references) and freezes the registry.
// After Seal all reads are lock-free and safe for concurrent use.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/openfroyo/tplcheck/pkg/constraint"
	"github.com/openfroyo/tplcheck/pkg/types"
)

// Registry maps type names to definitions within one namespace.
type Registry struct {
	namespace string

	mu     sync.RWMutex
	defs   map[string]types.TypeDef
	order  []string
	sealed atomic.Bool
}

// New creates an empty registry for the given namespace.
func New(namespace string) *Registry {
	return &Registry{
		namespace: namespace,
		defs:      make(map[string]types.TypeDef),
		order:     make([]string, 0),
	}
}

// Namespace returns the namespace imports use to address this registry.
func (r *Registry) Namespace() string {
	return r.namespace
}

// Register adds a named definition. Checks that only need the definition
// itself run here; checks that need other types run in Seal.
func (r *Registry) Register(name string, def types.TypeDef) error {
	if r.sealed.Load() {
		return types.NewRegistrySealedError(name)
	}
	if !validName(name) {
		return types.NewInvalidTypeError(fmt.Sprintf("invalid type name %q", name))
	}
	if def == nil {
		return types.NewInvalidTypeError("nil definition").WithTypeName(name)
	}
	if err := checkDef(def); err != nil {
		return wrapTypeName(err, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return types.NewRegistrySealedError(name)
	}
	if _, exists := r.defs[name]; exists {
		return types.NewDuplicateTypeError(name)
	}
	r.defs[name] = def
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for statically known definitions. It panics on
// error.
func (r *Registry) MustRegister(name string, def types.TypeDef) {
	if err := r.Register(name, def); err != nil {
		panic(err)
	}
}

// Resolve returns the definition registered under name.
func (r *Registry) Resolve(name string) (types.TypeDef, error) {
	def, ok := r.lookup(name)
	if !ok {
		return nil, types.NewUnknownTypeError(name)
	}
	return def, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	if r.sealed.Load() {
		return append([]string(nil), r.order...)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	if r.sealed.Load() {
		return len(r.order)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Sealed reports whether Seal has completed.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Seal validates cross-type references and freezes the registry. It checks
// that every local named reference exists, runs DetectCycles, and checks
// constraints attached to named references. A failed Seal leaves the
// registry open.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return nil
	}

	for _, name := range r.order {
		var err error
		walkRefs(r.defs[name], func(ref *types.TypeRef) bool {
			if ref.IsNamed() {
				if _, ok := r.defs[ref.Name]; !ok {
					err = types.NewUnknownTypeError(ref.Name).
						WithCause(fmt.Errorf("referenced by %s", name))
					return false
				}
			}
			return true
		})
		if err != nil {
			return err
		}
	}

	if err := r.detectCycles(); err != nil {
		return err
	}

	for _, name := range r.order {
		var err error
		walkRefs(r.defs[name], func(ref *types.TypeRef) bool {
			if len(ref.Constraints) == 0 || !deferredConstraints(ref) {
				return true
			}
			target, ok := r.underlying(ref)
			if !ok {
				return true
			}
			if cerr := constraint.ApplicableAll(target, ref.Constraints); cerr != nil {
				err = wrapTypeName(cerr, name)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}

	r.sealed.Store(true)
	return nil
}

// underlying follows named references and aliases to the first
// non-alias definition. It reports false when the chain leaves the
// registry through an import. Callers must hold mu and the registry must
// be free of alias cycles.
func (r *Registry) underlying(ref *types.TypeRef) (types.TypeDef, bool) {
	for {
		var def types.TypeDef
		switch {
		case ref.Import != nil:
			return nil, false
		case ref.Inline != nil:
			def = ref.Inline
		default:
			d, ok := r.defs[ref.Name]
			if !ok {
				return nil, false
			}
			def = d
		}
		alias, ok := def.(types.Alias)
		if !ok {
			return def, true
		}
		ref = alias.Target
	}
}

// deferredConstraints reports whether the constraints on ref can only be
// checked once the whole registry is known.
func deferredConstraints(ref *types.TypeRef) bool {
	if ref.IsNamed() {
		return true
	}
	_, ok := ref.Inline.(types.Alias)
	return ok
}

func (r *Registry) lookup(name string) (types.TypeDef, bool) {
	if r.sealed.Load() {
		def, ok := r.defs[name]
		return def, ok
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// walkRefs calls fn for every reference held by def, descending into
// inline definitions. fn returns false to stop the walk.
func walkRefs(def types.TypeDef, fn func(*types.TypeRef) bool) bool {
	if def == nil {
		return true
	}
	for _, ref := range def.Refs() {
		if ref == nil {
			continue
		}
		if !fn(ref) {
			return false
		}
		if ref.Inline != nil {
			if !walkRefs(ref.Inline, fn) {
				return false
			}
		}
	}
	return true
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', unicode.IsLetter(c):
		case i > 0 && unicode.IsDigit(c):
		default:
			return false
		}
	}
	return true
}

func wrapTypeName(err error, name string) error {
	var e *types.Error
	if errors.As(err, &e) && e.TypeName == "" {
		e.WithTypeName(name)
	}
	return err
}
