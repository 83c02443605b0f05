// Package config loads tplcheck project files.
//
// A project file is tplcheck.yaml, tplcheck.yml or tplcheck.cue in the
// project root:
//
//	workspace: platform
//	types:
//	  paths: [types]
//	policy:
//	  enabled: true
//	  paths: [policies]
//	  mode: enforcing
//	store:
//	  enabled: true
//	  path: .tplcheck/reports.db
//	  retention: 720h
//
// Values in the file are applied over Default. Relative paths resolve
// against the directory holding the project file. YAML files reject unknown
// keys; CUE files are unified with a closed schema.
package config
