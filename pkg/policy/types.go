package policy

import (
	"time"

	"github.com/gantry-io/gantry/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block provisioning.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the resource identity that violated the policy.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if provisioning may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not block the decision.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Input is the document handed to Rego for one resource.
type Input struct {
	// Resource is the resource being evaluated, in manifest form.
	Resource *ResourceInput `json:"resource,omitempty"`

	// Context provides stack-level evaluation context.
	Context *Context `json:"context"`
}

// ResourceInput is the Rego-facing view of a declared resource. References
// appear as their ${kind/name.property} expression.
type ResourceInput struct {
	Kind       string         `json:"kind"`
	Name       string         `json:"name"`
	ID         string         `json:"id"`
	Location   string         `json:"location,omitempty"`
	Parent     string         `json:"parent,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Stack is the name of the stack being provisioned.
	Stack string `json:"stack,omitempty"`

	// Environment is the deployment environment.
	Environment string `json:"environment,omitempty"`

	// ResourceCount is the size of the declaration set.
	ResourceCount int `json:"resource_count"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// DryRun indicates a plan-only evaluation.
	DryRun bool `json:"dry_run"`
}

// NewResourceInput converts a declared resource into its Rego-facing form.
func NewResourceInput(res *engine.Resource) *ResourceInput {
	in := &ResourceInput{
		Kind:     res.ID.Kind,
		Name:     res.ID.Name,
		ID:       res.ID.String(),
		Location: res.Location,
	}
	if res.Parent != nil {
		in.Parent = res.Parent.String()
	}
	for _, dep := range res.DependsOn {
		in.DependsOn = append(in.DependsOn, dep.String())
	}
	if len(res.Properties) > 0 {
		in.Properties = make(map[string]any, len(res.Properties))
		for k, v := range res.Properties {
			if v.Ref != nil {
				in.Properties[k] = v.Ref.String()
				continue
			}
			in.Properties[k] = v.Literal
		}
	}
	return in
}
