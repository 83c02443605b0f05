package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// projectSchema constrains tplcheck.cue files. Fields left out fall back to
// Default.
const projectSchema = `
#Config: {
	workspace: string & !=""
	types?: paths: [...string]
	policy?: {
		enabled?: bool
		paths?: [...string]
		mode?: "advisory" | "enforcing"
		disabled?: [...string]
	}
	store?: {
		enabled?:      bool
		path?:         string
		retention?:    string
		store_values?: bool
	}
	starlark?: {
		timeout?: string
		vars?: {...}
	}
	watch?: delay?: string
	telemetry?: {
		log_level?:       "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?:      "console" | "json"
		tracing?:         bool
		trace_exporter?:  "otlp" | "stdout" | "none"
		trace_endpoint?:  string
		sampling_rate?:   number & >=0 & <=1
		metrics?:         bool
		metrics_address?: string
	}
}
`

// compileCUE evaluates a CUE project file against the project schema and
// returns it as JSON.
func compileCUE(name string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(projectSchema, cue.Filename("tplcheck-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config %s: %w", name, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("config %s does not match schema: %w", name, err)
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export config %s: %w", name, err)
	}
	return raw, nil
}
