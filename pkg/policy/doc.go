// Package policy evaluates Open Policy Agent (OPA) Rego policies against
// configuration values that already passed structural validation.
//
// Every policy is a Rego module with a set rule named deny. Entries are
// either plain message strings or objects:
//
//	deny contains {"message": "debug must be off", "path": "debug"} if {
//		input.value.debug == true
//	}
//
// The input document has three keys: type (the qualified type name),
// value (the normalized value) and source (where the value came from).
//
// Entries with error or critical severity become violations of kind
// policy and make the value invalid. Lower severities are reported as
// warnings.
//
// # Sources
//
// Policies are read from .rego files (named after the file, with a leading
// comment block as description and an optional "# severity: <level>" line),
// from JSON policy definitions and from JSON bundles.
//
// Two built-in policies are always loaded: required-tags and
// lowercase-name. Either can be disabled.
package policy
