package engine

import (
	"fmt"
	"time"
)

// ResourceID identifies a declared resource within a run. The (kind, name)
// pair must be unique across the declaration set.
type ResourceID struct {
	// Kind is the resource kind (e.g. "storage.account").
	Kind string `json:"kind"`

	// Name is the declared resource name, unique within its kind.
	Name string `json:"name"`
}

func (id ResourceID) String() string {
	return id.Kind + "/" + id.Name
}

// IsZero reports whether the identity is unset.
func (id ResourceID) IsZero() bool {
	return id.Kind == "" && id.Name == ""
}

// Reference is a symbolic pointer to another resource's property. It resolves
// only after the target resource has been applied.
type Reference struct {
	// Target is the identity of the resource that produces the value.
	Target ResourceID `json:"target"`

	// Property is the output property name on the target resource.
	Property string `json:"property"`
}

func (r Reference) String() string {
	return fmt.Sprintf("${%s.%s}", r.Target, r.Property)
}

// PropertyValue is a single configuration value: either a literal scalar or a
// reference to another resource's output. Exactly one of the two is set.
type PropertyValue struct {
	// Literal is the literal value. Nil when Ref is set.
	Literal any `json:"literal,omitempty"`

	// Ref points at another resource's output property. Nil for literals.
	Ref *Reference `json:"ref,omitempty"`
}

// Lit wraps a literal scalar as a PropertyValue.
func Lit(v any) PropertyValue {
	return PropertyValue{Literal: v}
}

// RefTo builds a PropertyValue referencing another resource's output property.
func RefTo(target ResourceID, property string) PropertyValue {
	return PropertyValue{Ref: &Reference{Target: target, Property: property}}
}

// IsRef reports whether the value is a reference.
func (v PropertyValue) IsRef() bool {
	return v.Ref != nil
}

// Resource is the immutable declaration of a single infrastructure unit.
type Resource struct {
	// ID is the (kind, name) identity.
	ID ResourceID `json:"id"`

	// Location is the region or placement hint passed through to the provider.
	Location string `json:"location,omitempty"`

	// Properties is the desired configuration. Values may be literals or
	// references to other resources' outputs.
	Properties map[string]PropertyValue `json:"properties,omitempty"`

	// Parent is the owning resource, if any. The parent must be applied
	// before this resource.
	Parent *ResourceID `json:"parent,omitempty"`

	// DependsOn lists explicit ordering dependencies beyond Parent and
	// property references.
	DependsOn []ResourceID `json:"depends_on,omitempty"`
}

// References returns every reference appearing in the resource's properties.
func (r *Resource) References() []Reference {
	var refs []Reference
	for _, v := range r.Properties {
		if v.Ref != nil {
			refs = append(refs, *v.Ref)
		}
	}
	return refs
}

// Action is the reconcile decision for one resource.
type Action string

const (
	// ActionCreate indicates the resource is absent remotely.
	ActionCreate Action = "create"

	// ActionUpdate indicates the resource exists but has drifted.
	ActionUpdate Action = "update"

	// ActionNoOp indicates the observed state already matches the desired
	// configuration; no mutation call is made.
	ActionNoOp Action = "noop"
)

// RunStatus is the overall outcome of a provisioning run.
type RunStatus string

const (
	// RunSucceeded means every resource reached Applied.
	RunSucceeded RunStatus = "succeeded"

	// RunPartial means some resources failed or were skipped while others
	// were applied.
	RunPartial RunStatus = "partial"

	// RunFailed means no resource was successfully applied.
	RunFailed RunStatus = "failed"

	// RunCancelled means the run was cancelled before completion.
	RunCancelled RunStatus = "cancelled"
)

// ResourceResult is the per-resource outcome of a run.
type ResourceResult struct {
	// ID is the resource identity.
	ID ResourceID `json:"id"`

	// State is the final apply state.
	State ApplyState `json:"state"`

	// Action is the reconcile decision that was (or would have been) taken.
	// Empty when the resource never started.
	Action Action `json:"action,omitempty"`

	// Attempts is how many provider invocations were made, including retries.
	Attempts int `json:"attempts"`

	// Duration is the wall-clock time spent applying the resource.
	Duration time.Duration `json:"duration"`

	// Err is the failure, if any. For resources skipped because of a failed
	// dependency this carries code DEPENDENCY_FAILED naming the dependency.
	Err *Error `json:"error,omitempty"`

	// SkipReason is set for resources that never entered InProgress: either a
	// failed dependency or run cancellation.
	SkipReason string `json:"skip_reason,omitempty"`
}

// RunResult is the outcome of a whole provisioning run.
type RunResult struct {
	// RunID is the unique run identifier.
	RunID string `json:"run_id"`

	// Status is the aggregate outcome.
	Status RunStatus `json:"status"`

	// Resources holds the per-resource results in declaration order.
	Resources []ResourceResult `json:"resources"`

	// Outputs maps resource identity to its observed output properties, for
	// every resource that reached Applied.
	Outputs map[string]map[string]any `json:"outputs,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// Failed returns the identities of resources that failed outright (their own
// provider call failed, as opposed to being skipped).
func (r *RunResult) Failed() []ResourceID {
	var out []ResourceID
	for _, res := range r.Resources {
		if res.State == StateFailed && res.SkipReason == "" {
			out = append(out, res.ID)
		}
	}
	return out
}

// Skipped returns the identities of resources that never ran: dependents of a
// failure, or resources still pending at cancellation.
func (r *RunResult) Skipped() []ResourceID {
	var out []ResourceID
	for _, res := range r.Resources {
		if res.SkipReason != "" {
			out = append(out, res.ID)
		}
	}
	return out
}
