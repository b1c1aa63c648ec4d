package engine

import (
	"fmt"
	"sync"
)

// OutputMap holds the runtime-assigned properties of applied resources. Each
// resource's slot is written exactly once, by the worker that applied it; the
// readiness gate in the executor guarantees dependents only read a slot after
// that write, so Resolve is a plain lookup.
//
// Lifetime is one provisioning run: the map feeds references of downstream
// resources during the run and is exposed to the caller as the run's result.
type OutputMap struct {
	mu     sync.RWMutex
	values map[ResourceID]map[string]any
}

// NewOutputMap creates an empty output map.
func NewOutputMap() *OutputMap {
	return &OutputMap{values: make(map[ResourceID]map[string]any)}
}

// Publish records the observed output properties of an applied resource.
// Publishing twice for the same identity is a programming error.
func (m *OutputMap) Publish(id ResourceID, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.values[id]; exists {
		return NewPermanentError(ErrCodeInternal,
			fmt.Sprintf("outputs for %s published twice", id), nil)
	}
	copied := make(map[string]any, len(props))
	for k, v := range props {
		copied[k] = v
	}
	m.values[id] = copied
	return nil
}

// Resolve returns the value behind a reference. The referenced resource must
// already be applied; the executor's ordering makes an early call unreachable,
// so a miss here is reported as a permanent OUTPUT_UNRESOLVED error rather
// than triggering any provisioning.
func (m *OutputMap) Resolve(ref Reference) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	props, ok := m.values[ref.Target]
	if !ok {
		return nil, NewPermanentError(ErrCodeOutputUnresolved,
			fmt.Sprintf("resource %s has no published outputs", ref.Target), nil)
	}
	v, ok := props[ref.Property]
	if !ok {
		return nil, NewPermanentError(ErrCodeOutputUnresolved,
			fmt.Sprintf("resource %s did not produce output %q", ref.Target, ref.Property), nil)
	}
	return v, nil
}

// ResolveProperties materializes a resource's declared properties, replacing
// every reference with the referenced resource's published value.
func (m *OutputMap) ResolveProperties(props map[string]PropertyValue) (map[string]any, error) {
	resolved := make(map[string]any, len(props))
	for k, v := range props {
		if v.Ref == nil {
			resolved[k] = v.Literal
			continue
		}
		val, err := m.Resolve(*v.Ref)
		if err != nil {
			return nil, err
		}
		resolved[k] = val
	}
	return resolved, nil
}

// Snapshot returns a copy of all published outputs keyed by identity string,
// suitable for the run result and for chaining into follow-up tooling.
func (m *OutputMap) Snapshot() map[string]map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]any, len(m.values))
	for id, props := range m.values {
		copied := make(map[string]any, len(props))
		for k, v := range props {
			copied[k] = v
		}
		out[id.String()] = copied
	}
	return out
}
