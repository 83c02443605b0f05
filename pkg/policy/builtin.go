package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		requiredTagsPolicy(),
		lowercaseNamePolicy(),
	}
}

// requiredTagsPolicy requires ownership tags on any value that carries a
// tags object.
func requiredTagsPolicy() Policy {
	return Policy{
		Name:        "required-tags",
		Description: "Values with a tags object must carry non-empty owner and environment tags",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"tags", "governance"},
		Rego: `package tplcheck.policies.tags

import rego.v1

required := ["owner", "environment"]

deny contains violation if {
	tags := input.value.tags
	is_object(tags)
	some tag in required
	not tags[tag]
	violation := {
		"message": sprintf("tag '%s' is required", [tag]),
		"path": sprintf("tags.%s", [tag]),
	}
}

deny contains violation if {
	tags := input.value.tags
	is_object(tags)
	some tag in required
	tags[tag] == ""
	violation := {
		"message": sprintf("tag '%s' must not be empty", [tag]),
		"path": sprintf("tags.%s", [tag]),
	}
}
`,
	}
}

// lowercaseNamePolicy enforces lowercase names.
func lowercaseNamePolicy() Policy {
	return Policy{
		Name:        "lowercase-name",
		Description: "A top-level name field must be lowercase",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package tplcheck.policies.naming

import rego.v1

deny contains violation if {
	name := input.value.name
	is_string(name)
	lower(name) != name
	violation := {
		"message": sprintf("name '%s' must be lowercase", [name]),
		"path": "name",
	}
}
`,
	}
}
