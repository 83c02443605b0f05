// Package checker runs the full check of a configuration value: type lookup,
// schema expansion, overlay composition, structural validation, policy
// evaluation and report persistence.
package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/tplcheck/pkg/composer"
	"github.com/openfroyo/tplcheck/pkg/loader"
	"github.com/openfroyo/tplcheck/pkg/policy"
	"github.com/openfroyo/tplcheck/pkg/resolver"
	"github.com/openfroyo/tplcheck/pkg/stores"
	"github.com/openfroyo/tplcheck/pkg/telemetry"
	"github.com/openfroyo/tplcheck/pkg/types"
	"github.com/openfroyo/tplcheck/pkg/validator"
)

// Request describes one value to check.
type Request struct {
	// Type is "ns.Type" or a type name declared in exactly one namespace.
	Type string

	// Base is the normalized value. Overlays are applied over it in order.
	Base     any
	Overlays []any

	// Source is recorded in the report and passed to policies.
	Source string

	// Record stores the report when the checker has a store.
	Record bool
}

// Report is the outcome of a check.
type Report struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Source     string              `json:"source,omitempty"`
	Valid      bool                `json:"valid"`
	Violations []types.Violation   `json:"violations"`
	Warnings   []string            `json:"warnings,omitempty"`
	Value      any                 `json:"value,omitempty"`
	Policies   []policy.Evaluation `json:"policies,omitempty"`
	Recorded   bool                `json:"recorded"`
	Duration   time.Duration       `json:"duration"`
}

// snapshot is an immutable registry set with one resolver per namespace.
type snapshot struct {
	set       *loader.Set
	resolvers map[string]*resolver.Resolver
}

// Checker checks values against the types of a registry set. The set can
// be replaced at any time with Swap; checks in flight keep the set they
// started with.
type Checker struct {
	logger    zerolog.Logger
	state     atomic.Pointer[snapshot]
	validator *validator.Validator

	policy  *policy.Engine
	enforce bool

	store       stores.Store
	storeValues bool

	metrics *telemetry.Metrics

	loader      *loader.Loader
	typePaths   []string
	policyPaths []string
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger.With().Str("component", "checker").Logger()
	}
}

// WithPolicy evaluates engine on structurally valid values. When enforce
// is false, policy violations are reported as warnings.
func WithPolicy(engine *policy.Engine, enforce bool) Option {
	return func(c *Checker) {
		c.policy = engine
		c.enforce = enforce
	}
}

// WithStore persists reports of requests that ask for it. storeValues
// keeps the checked value in the report.
func WithStore(store stores.Store, storeValues bool) Option {
	return func(c *Checker) {
		c.store = store
		c.storeValues = storeValues
	}
}

// WithMetrics records check metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Checker) { c.metrics = m }
}

// WithSources lets Reload rebuild the registry set from typePaths and
// reload policies from policyPaths.
func WithSources(l *loader.Loader, typePaths, policyPaths []string) Option {
	return func(c *Checker) {
		c.loader = l
		c.typePaths = typePaths
		c.policyPaths = policyPaths
	}
}

// New creates a checker over set.
func New(set *loader.Set, opts ...Option) (*Checker, error) {
	c := &Checker{
		logger:  zerolog.Nop(),
		enforce: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.validator = validator.New(validator.WithLogger(c.logger))
	if err := c.Swap(set); err != nil {
		return nil, err
	}
	return c, nil
}

// Swap atomically replaces the registry set.
func (c *Checker) Swap(set *loader.Set) error {
	if set == nil {
		return fmt.Errorf("registry set is nil")
	}
	snap := &snapshot{
		set:       set,
		resolvers: make(map[string]*resolver.Resolver, len(set.Namespaces())),
	}
	for _, ns := range set.Namespaces() {
		res, err := set.Resolver(ns)
		if err != nil {
			return err
		}
		snap.resolvers[ns] = res

		if c.metrics != nil {
			reg, _ := set.Registry(ns)
			c.metrics.SetRegistryTypes(ns, reg.Len())
		}
	}
	c.state.Store(snap)

	c.logger.Debug().
		Strs("namespaces", set.Namespaces()).
		Int("types", set.Len()).
		Msg("Registry set installed")
	return nil
}

// Set returns the registry set currently in use.
func (c *Checker) Set() *loader.Set {
	return c.state.Load().set
}

// Schema expands typeName using the current registry set and returns the
// qualified name with the schema.
func (c *Checker) Schema(ctx context.Context, typeName string) (string, *resolver.Schema, error) {
	ic := telemetry.StartOperation(ctx, "schema.expand", telemetry.AttrTypeName.String(typeName))
	qualified, schema, err := c.schema(c.state.Load(), typeName)
	ic.End(err)
	return qualified, schema, err
}

func (c *Checker) schema(snap *snapshot, typeName string) (string, *resolver.Schema, error) {
	ns, name, err := snap.set.Lookup(typeName)
	if err != nil {
		return "", nil, err
	}
	schema, err := snap.resolvers[ns].ExpandNamed(name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand %s.%s: %w", ns, name, err)
	}
	return ns + "." + name, schema, nil
}

// Check validates req and returns its report. Violations are data; an
// error means the check could not run, for example because the type is
// unknown.
func (c *Checker) Check(ctx context.Context, req Request) (*Report, error) {
	ic := telemetry.StartOperation(ctx, "config.validate",
		telemetry.AttrTypeName.String(req.Type),
		telemetry.AttrSource.String(req.Source),
		attribute.Int("validation.overlays", len(req.Overlays)),
	)
	report, err := c.check(ic.Ctx, req)
	if report != nil && ic.Span != nil {
		ic.Span.SetAttributes(
			telemetry.AttrReportID.String(report.ID),
			telemetry.AttrValid.Bool(report.Valid),
			telemetry.AttrViolations.Int(len(report.Violations)),
		)
	}
	ic.End(err)
	return report, err
}

func (c *Checker) check(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	snap := c.state.Load()

	qualified, schema, err := c.schema(snap, req.Type)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:     uuid.New().String(),
		Type:   qualified,
		Source: req.Source,
	}
	logger := c.logger.With().
		Str("type", qualified).
		Str("report_id", report.ID).
		Logger()

	result, value, err := c.validate(req, schema)
	if err != nil {
		return nil, err
	}
	report.Value = value

	if c.policy != nil && result.Valid() {
		if err := c.evaluatePolicies(ctx, report, result, req.Source); err != nil {
			return nil, err
		}
	}

	report.Violations = result.Violations
	if report.Violations == nil {
		report.Violations = []types.Violation{}
	}
	report.Valid = result.Valid()
	report.Duration = time.Since(start)

	if c.metrics != nil {
		c.metrics.RecordValidation(qualified, report.Valid, report.Duration)
		counts := make(map[string]int)
		for kind, n := range result.CountByKind() {
			counts[string(kind)] = n
		}
		c.metrics.RecordViolations(counts)
	}

	if req.Record && c.store != nil {
		if err := c.record(ctx, report); err != nil {
			return nil, err
		}
	}

	logger.Debug().
		Bool("valid", report.Valid).
		Int("violations", len(report.Violations)).
		Int("warnings", len(report.Warnings)).
		Dur("duration", report.Duration).
		Msg("Check finished")

	return report, nil
}

// validate checks every overlay on its own, then the composed value in
// full. A composed violation at a path already reported for an overlay is
// dropped.
func (c *Checker) validate(req Request, schema *resolver.Schema) (*types.Result, any, error) {
	result := &types.Result{}
	if len(req.Overlays) == 0 {
		r, err := c.validator.Validate(req.Base, schema)
		if err != nil {
			return nil, nil, err
		}
		return r, req.Base, nil
	}

	// A composed violation already attributed to an overlay is not repeated.
	seen := make(map[string]bool)
	for i, overlay := range req.Overlays {
		r, err := c.validator.ValidatePartial(overlay, schema)
		if err != nil {
			return nil, nil, fmt.Errorf("overlay %d: %w", i+1, err)
		}
		for _, v := range r.Violations {
			seen[violationKey(v)] = true
			v.Message = fmt.Sprintf("overlay %d: %s", i+1, v.Message)
			result.Add(v)
		}
	}

	composed := composer.OverlayAll(req.Base, req.Overlays...)
	r, err := c.validator.Validate(composed, schema)
	if err != nil {
		return nil, nil, err
	}
	for _, v := range r.Violations {
		if !seen[violationKey(v)] {
			result.Add(v)
		}
	}
	return result, composed, nil
}

func violationKey(v types.Violation) string {
	return string(v.Kind) + "@" + v.Path.String() + "@" + v.Observed
}

func (c *Checker) evaluatePolicies(ctx context.Context, report *Report, result *types.Result, source string) error {
	ic := telemetry.StartOperation(ctx, "policy.evaluate", telemetry.AttrTypeName.String(report.Type))
	pr, err := c.policy.Evaluate(ic.Ctx, policy.Input{
		Type:   report.Type,
		Value:  report.Value,
		Source: source,
	})
	ic.End(err)
	if err != nil {
		return fmt.Errorf("failed to evaluate policies: %w", err)
	}

	report.Policies = pr.Evaluations
	report.Warnings = append(report.Warnings, pr.Warnings...)
	if c.enforce {
		result.Add(pr.Violations...)
	} else {
		for _, v := range pr.Violations {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s (policy %s)", v, v.Expected))
		}
	}

	if c.metrics != nil {
		for _, e := range pr.Evaluations {
			c.metrics.RecordPolicyEvaluation(e.Policy, e.Passed)
		}
	}
	return nil
}

func (c *Checker) record(ctx context.Context, report *Report) error {
	stored := &stores.Report{
		ID:         report.ID,
		TypeName:   report.Type,
		Source:     report.Source,
		Valid:      report.Valid,
		Violations: report.Violations,
		Warnings:   report.Warnings,
		Duration:   report.Duration,
	}
	if c.storeValues {
		raw, err := json.Marshal(report.Value)
		if err != nil {
			return fmt.Errorf("failed to encode value: %w", err)
		}
		stored.Value = raw
	}
	if err := c.store.SaveReport(ctx, stored); err != nil {
		return fmt.Errorf("failed to record report: %w", err)
	}
	report.Recorded = true
	return nil
}
