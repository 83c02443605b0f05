package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// Engine compiles Rego policies and evaluates them against values.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
	loader   *Loader
}

// compiledPolicy holds a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		loader:   NewLoader(logger),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Evaluate runs every enabled policy against in, in name order.
//
// A policy that fails to evaluate is reported as a warning and does not
// block the value.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	start := time.Now()
	result := &Result{Allowed: true}
	doc := in.document()

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		denied, err := e.evaluatePolicy(ctx, cp, doc)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s failed to evaluate: %v", name, err))
			result.Evaluations = append(result.Evaluations, Evaluation{Policy: name, Passed: false})
			continue
		}

		blocking := 0
		for _, d := range denied {
			if d.severity.Blocking() {
				blocking++
				result.Violations = append(result.Violations, d.violation(name))
				continue
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s (policy %s)", d.path, d.message, name))
		}
		if blocking > 0 {
			result.Allowed = false
		}
		result.Evaluations = append(result.Evaluations, Evaluation{
			Policy: name,
			Passed: blocking == 0,
			Denied: len(denied),
		})
	}

	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("type", in.Type).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policies evaluated")

	return result, nil
}

// LoadPolicies loads and compiles policies from files or directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")

	return nil
}

// LoadBundle loads and compiles every policy in a bundle file.
func (e *Engine) LoadBundle(ctx context.Context, path string) (*Bundle, error) {
	bundle, err := e.loader.LoadBundle(ctx, path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range bundle.Policies {
		p := bundle.Policies[i]
		if err := e.compileAndStorePolicy(ctx, &p); err != nil {
			return nil, fmt.Errorf("bundle %s: failed to compile policy %s: %w", bundle.Name, p.Name, err)
		}
	}
	return bundle, nil
}

// AddPolicy compiles and registers a single policy, replacing any policy
// with the same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileAndStorePolicy(ctx, &p)
}

// denial is one entry of a deny set.
type denial struct {
	message  string
	path     types.Path
	severity Severity
}

func (d denial) violation(policyName string) types.Violation {
	return types.Violation{
		Kind:     types.ViolationPolicy,
		Path:     d.path,
		Expected: policyName,
		Message:  d.message,
	}
}

// evaluatePolicy runs the prepared deny query of cp against doc.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, doc map[string]any) ([]denial, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	var denied []denial
	for _, result := range results {
		for _, expr := range result.Expressions {
			entries, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range entries {
				denied = append(denied, newDenial(cp.policy, entry))
			}
		}
	}

	// Set iteration order is not part of the Rego contract.
	sort.SliceStable(denied, func(i, j int) bool {
		if pi, pj := denied[i].path.String(), denied[j].path.String(); pi != pj {
			return pi < pj
		}
		return denied[i].message < denied[j].message
	})

	return denied, nil
}

// newDenial converts a deny entry into a denial.
func newDenial(p *Policy, entry interface{}) denial {
	d := denial{
		path:     types.Root,
		severity: p.Severity,
	}

	switch v := entry.(type) {
	case string:
		d.message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			d.message = msg
		}
		if path, ok := v["path"].(string); ok {
			d.path = types.ParsePath(path)
		}
		if sev, ok := v["severity"].(string); ok && Severity(sev).Valid() {
			d.severity = Severity(sev)
		}
	default:
		d.message = fmt.Sprintf("%v", entry)
	}

	if d.message == "" {
		d.message = fmt.Sprintf("denied by policy %s", p.Name)
	}
	return d
}

// compileAndStorePolicy parses p and prepares its deny query. The caller
// must hold e.mu.
func (e *Engine) compileAndStorePolicy(ctx context.Context, p *Policy) error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", p.Severity)
	}

	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return fmt.Errorf("policy is empty")
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", p.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies compiles the built-in policies. The caller must hold
// e.mu or have exclusive access to e.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// ReloadPolicies drops every loaded policy, then compiles the built-ins and
// the policies found under paths. Policies that were disabled stay disabled.
// On failure the previous policy set is kept.
func (e *Engine) ReloadPolicies(ctx context.Context, paths []string) error {
	e.loader.ClearCache()
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	disabled := make(map[string]bool)
	for name, cp := range e.policies {
		if !cp.policy.Enabled {
			disabled[name] = true
		}
	}

	previous := e.policies
	e.policies = make(map[string]*compiledPolicy)
	if err := e.loadBuiltinPolicies(ctx); err != nil {
		e.policies = previous
		return err
	}
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.policies = previous
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	for name := range disabled {
		if cp, ok := e.policies[name]; ok {
			cp.policy.Enabled = false
		}
	}

	e.logger.Info().
		Int("count", len(e.policies)).
		Msg("Policies reloaded")

	return nil
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().
		Str("policy", name).
		Bool("enabled", enabled).
		Msg("Policy state changed")

	return nil
}
