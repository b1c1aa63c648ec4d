package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		resourceNamingPolicy(),
		requiredLocationPolicy(),
		stackSizePolicy(),
	}
}

// resourceNamingPolicy enforces resource naming conventions.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Enforces resource naming conventions (lowercase, alphanumeric, hyphens only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package gantry.policies.naming

import rego.v1

deny contains violation if {
	input.resource
	resource := input.resource
	name := resource.name

	lower(name) != name
	violation := {
		"message": sprintf("Resource name '%s' must be lowercase", [name]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource
	resource := input.resource
	name := resource.name

	not regex.match("^[a-z0-9-]+$", name)
	violation := {
		"message": sprintf("Resource name '%s' must contain only lowercase letters, numbers, and hyphens", [name]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource
	resource := input.resource
	name := resource.name

	regex.match("^-|-$", name)
	violation := {
		"message": sprintf("Resource name '%s' must not start or end with a hyphen", [name]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource
	resource := input.resource
	name := resource.name

	count(name) > 63
	violation := {
		"message": sprintf("Resource name '%s' must not exceed 63 characters", [name]),
		"severity": "error",
		"resource": resource.id,
	}
}`,
	}
}

// requiredLocationPolicy warns about resources without an explicit location.
func requiredLocationPolicy() Policy {
	return Policy{
		Name:        "required-location",
		Description: "Warns when a resource does not declare a location",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"placement"},
		Rego: `package gantry.policies.location

import rego.v1

deny contains violation if {
	input.resource
	resource := input.resource

	not resource.location
	violation := {
		"message": sprintf("Resource %s does not declare a location", [resource.id]),
		"severity": "warning",
		"resource": resource.id,
	}
}`,
	}
}

// stackSizePolicy warns about very large declaration sets.
func stackSizePolicy() Policy {
	return Policy{
		Name:        "stack-size",
		Description: "Warns when a single stack declares an unusually large number of resources",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"scale"},
		Rego: `package gantry.policies.size

import rego.v1

max_resources := 200

deny contains violation if {
	input.context
	context := input.context

	context.resource_count > max_resources
	violation := {
		"message": sprintf("Stack declares %d resources, above the advisory limit of %d", [context.resource_count, max_resources]),
		"severity": "warning",
	}
}`,
	}
}
