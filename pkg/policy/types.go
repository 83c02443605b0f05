package policy

import (
	"time"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but never block.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that make a value invalid.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity reject a value.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Policy is a named Rego module evaluated against validated values.
//
// The module must define a set rule named deny. Each entry is either a
// message string or an object with message, and optionally path and
// severity keys.
type Policy struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Rego        string         `json:"rego"`
	Severity    Severity       `json:"severity"`
	Enabled     bool           `json:"enabled"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Input is the document bound to input during evaluation.
type Input struct {
	// Type is the qualified type name the value was validated against.
	Type string `json:"type"`

	// Value is the normalized configuration value.
	Value any `json:"value"`

	// Source is where the value was read from, if known.
	Source string `json:"source,omitempty"`
}

func (in Input) document() map[string]any {
	return map[string]any{
		"type":   in.Type,
		"value":  in.Value,
		"source": in.Source,
	}
}

// Evaluation records the outcome of a single policy.
type Evaluation struct {
	Policy string `json:"policy"`
	Passed bool   `json:"passed"`
	Denied int    `json:"denied"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any blocking violation was produced.
	Allowed bool `json:"allowed"`

	// Violations carry Kind policy. Expected names the policy.
	Violations []types.Violation `json:"violations,omitempty"`

	// Warnings are non-blocking findings and policies that failed to run.
	Warnings []string `json:"warnings,omitempty"`

	Evaluations []Evaluation  `json:"evaluations"`
	Duration    time.Duration `json:"duration"`
}

// EvaluatedPolicies returns the names of the policies that ran.
func (r *Result) EvaluatedPolicies() []string {
	names := make([]string, 0, len(r.Evaluations))
	for _, e := range r.Evaluations {
		names = append(names, e.Policy)
	}
	return names
}

// Bundle is a versioned collection of policies distributed as one JSON file.
type Bundle struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description,omitempty"`
	Policies    []Policy       `json:"policies"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
