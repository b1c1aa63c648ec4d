// Package memory implements an in-process provider backed by a map. It is
// the provider used by gantry dev, dry runs, and the test suites: remote
// state is a table, outputs are computed from a configurable function, and
// failures can be scripted per resource to exercise retry and containment
// behavior in the engine.
package memory

import (
	"context"
	"sync"

	"github.com/gantry-io/gantry/pkg/engine"
)

// OutputFunc computes the runtime-assigned output properties for a resource
// when it is created or updated.
type OutputFunc func(req engine.ApplyRequest) map[string]any

// DefaultOutputs assigns every resource a synthetic "id" output.
func DefaultOutputs(req engine.ApplyRequest) map[string]any {
	return map[string]any{"id": req.ID.String()}
}

// record is the stored remote state of one resource.
type record struct {
	properties map[string]any
}

// Provider is an in-memory engine.Provider. Safe for concurrent use.
type Provider struct {
	mu           sync.Mutex
	state        map[engine.ResourceID]*record
	capabilities engine.Capabilities
	outputs      OutputFunc

	// failures holds scripted errors per resource, consumed one per
	// CreateOrUpdate call. An empty slice means the next call succeeds.
	failures map[engine.ResourceID][]error

	readCalls  map[engine.ResourceID]int
	applyCalls map[engine.ResourceID]int
}

// Option configures a Provider.
type Option func(*Provider)

// WithPartialUpdate marks the provider as supporting partial updates.
func WithPartialUpdate() Option {
	return func(p *Provider) { p.capabilities.PartialUpdate = true }
}

// WithOutputs sets the output property generator.
func WithOutputs(f OutputFunc) Option {
	return func(p *Provider) { p.outputs = f }
}

// New creates an empty in-memory provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		state:      make(map[engine.ResourceID]*record),
		outputs:    DefaultOutputs,
		failures:   make(map[engine.ResourceID][]error),
		readCalls:  make(map[engine.ResourceID]int),
		applyCalls: make(map[engine.ResourceID]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Seed pre-populates remote state for a resource, as if it had been created
// out of band.
func (p *Provider) Seed(id engine.ResourceID, properties map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[id] = &record{properties: cloneProps(properties)}
}

// FailNext schedules errors to be returned by the next CreateOrUpdate calls
// for id, in order. Once exhausted, calls succeed again.
func (p *Provider) FailNext(id engine.ResourceID, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[id] = append(p.failures[id], errs...)
}

// ReadCalls returns how many reads were issued for id.
func (p *Provider) ReadCalls(id engine.ResourceID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readCalls[id]
}

// ApplyCalls returns how many mutation calls were issued for id.
func (p *Provider) ApplyCalls(id engine.ResourceID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applyCalls[id]
}

// Capabilities implements engine.Provider.
func (p *Provider) Capabilities() engine.Capabilities {
	return p.capabilities
}

// Read implements engine.Provider.
func (p *Provider) Read(_ context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readCalls[req.ID]++
	rec, ok := p.state[req.ID]
	if !ok {
		return &engine.ReadResponse{Exists: false}, nil
	}
	return &engine.ReadResponse{Exists: true, Properties: cloneProps(rec.properties)}, nil
}

// CreateOrUpdate implements engine.Provider. Updates merge into the stored
// state, matching a partial-update remote API; creates replace it.
func (p *Provider) CreateOrUpdate(_ context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyCalls[req.ID]++

	if errs := p.failures[req.ID]; len(errs) > 0 {
		err := errs[0]
		p.failures[req.ID] = errs[1:]
		return nil, err
	}

	rec, ok := p.state[req.ID]
	if !ok || req.Action == engine.ActionCreate {
		rec = &record{properties: make(map[string]any)}
		p.state[req.ID] = rec
	}
	for k, v := range req.Properties {
		rec.properties[k] = v
	}

	outs := p.outputs(req)
	for k, v := range outs {
		rec.properties[k] = v
	}
	return &engine.ApplyResponse{
		Properties: cloneProps(rec.properties),
		Outputs:    cloneProps(outs),
	}, nil
}

// Delete implements engine.Provider.
func (p *Provider) Delete(_ context.Context, req engine.DeleteRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.state, req.ID)
	return nil
}

func cloneProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
