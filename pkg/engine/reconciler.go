package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Reconciler decides and performs the minimal action that brings one remote
// resource into conformance with its declaration: create when absent, update
// when drifted, nothing when it already conforms. Declared configuration wins
// on drift; out-of-band changes to declared properties are overwritten.
type Reconciler struct{}

// ReconcileResult is the outcome of reconciling a single resource.
type ReconcileResult struct {
	// Action is the decision that was taken.
	Action Action

	// Outputs is the resource's observed output property map to publish:
	// post-apply state merged with provider outputs, or the read-observed
	// state for a no-op.
	Outputs map[string]any
}

// Reconcile drives one resource through read -> decide -> mutate. The
// resolved map is the desired configuration with all references already
// materialized. No mutation call is made when the observed state already
// matches every desired property.
func (r *Reconciler) Reconcile(ctx context.Context, p Provider, res *Resource, resolved map[string]any) (*ReconcileResult, error) {
	read, err := p.Read(ctx, ReadRequest{ID: res.ID, Location: res.Location})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", res.ID, err)
	}

	if !read.Exists {
		resp, err := p.CreateOrUpdate(ctx, ApplyRequest{
			ID:         res.ID,
			Location:   res.Location,
			Action:     ActionCreate,
			Properties: resolved,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", res.ID, err)
		}
		return &ReconcileResult{Action: ActionCreate, Outputs: mergeOutputs(resp)}, nil
	}

	drifted := diffProperties(resolved, read.Properties)
	if len(drifted) == 0 {
		// Idempotent short-circuit: observed state already conforms.
		return &ReconcileResult{Action: ActionNoOp, Outputs: read.Properties}, nil
	}

	update := resolved
	if p.Capabilities().PartialUpdate {
		update = drifted
	}
	resp, err := p.CreateOrUpdate(ctx, ApplyRequest{
		ID:         res.ID,
		Location:   res.Location,
		Action:     ActionUpdate,
		Properties: update,
		Observed:   read.Properties,
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", res.ID, err)
	}
	return &ReconcileResult{Action: ActionUpdate, Outputs: mergeOutputs(resp)}, nil
}

// diffProperties returns the desired properties whose observed value differs,
// comparing only what is declared: extra observed properties (runtime-assigned
// outputs, provider defaults) are not drift.
func diffProperties(desired, observed map[string]any) map[string]any {
	drifted := make(map[string]any)
	for k, want := range desired {
		got, ok := observed[k]
		if !ok || !ValuesEqual(want, got) {
			drifted[k] = want
		}
	}
	return drifted
}

// ValuesEqual compares two property values after JSON normalization, so an
// int declared in a manifest equals the float64 a provider round-trips.
func ValuesEqual(a, b any) bool {
	na, err := normalize(a)
	if err != nil {
		return false
	}
	nb, err := normalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeOutputs folds an apply response into one observed property map, with
// explicit outputs taking precedence over echoed configuration.
func mergeOutputs(resp *ApplyResponse) map[string]any {
	out := make(map[string]any, len(resp.Properties)+len(resp.Outputs))
	for k, v := range resp.Properties {
		out[k] = v
	}
	for k, v := range resp.Outputs {
		out[k] = v
	}
	return out
}
