package engine

import (
	"context"
	"fmt"
	"sync"
)

// Provider is the per-kind capability the engine drives to observe and mutate
// remote resources. Implementations classify failures through the engine
// error taxonomy: transient and throttled errors are retried by the executor,
// anything else fails the resource immediately.
type Provider interface {
	// Read retrieves the observed state of a resource. A resource that does
	// not exist remotely is reported with Exists=false, not an error.
	Read(ctx context.Context, req ReadRequest) (*ReadResponse, error)

	// CreateOrUpdate brings the remote resource into conformance with the
	// resolved configuration and returns the observed output properties.
	CreateOrUpdate(ctx context.Context, req ApplyRequest) (*ApplyResponse, error)

	// Delete removes the remote resource. Not exercised by apply; part of the
	// capability for completeness.
	Delete(ctx context.Context, req DeleteRequest) error

	// Capabilities describes what this provider supports.
	Capabilities() Capabilities
}

// Capabilities is the per-kind capability flag set.
type Capabilities struct {
	// PartialUpdate indicates the provider can apply only the drifted
	// properties on update. Without it, updates replace the full
	// configuration.
	PartialUpdate bool `json:"partial_update"`
}

// ReadRequest asks a provider for the observed state of one resource.
type ReadRequest struct {
	// ID is the resource identity.
	ID ResourceID `json:"id"`

	// Location is the declared placement, for providers that scope reads.
	Location string `json:"location,omitempty"`
}

// ReadResponse is the result of a Read.
type ReadResponse struct {
	// Exists reports whether the resource is present remotely.
	Exists bool `json:"exists"`

	// Properties is the observed configuration, empty when absent.
	Properties map[string]any `json:"properties,omitempty"`
}

// ApplyRequest asks a provider to create or update one resource.
type ApplyRequest struct {
	// ID is the resource identity.
	ID ResourceID `json:"id"`

	// Location is the declared placement.
	Location string `json:"location,omitempty"`

	// Action is the reconcile decision: create or update.
	Action Action `json:"action"`

	// Properties is the fully resolved desired configuration. For updates on
	// a partial-update provider this contains only the drifted properties.
	Properties map[string]any `json:"properties"`

	// Observed is the pre-apply observed state; nil on create.
	Observed map[string]any `json:"observed,omitempty"`
}

// ApplyResponse is the result of a CreateOrUpdate.
type ApplyResponse struct {
	// Properties is the post-apply observed configuration.
	Properties map[string]any `json:"properties,omitempty"`

	// Outputs holds the runtime-assigned properties (endpoints, hostnames,
	// generated identifiers) published to the output map.
	Outputs map[string]any `json:"outputs,omitempty"`
}

// DeleteRequest asks a provider to remove one resource.
type DeleteRequest struct {
	ID       ResourceID `json:"id"`
	Location string     `json:"location,omitempty"`
}

// Registry maps resource kinds to their providers. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register installs a provider for a kind, replacing any previous one.
func (r *Registry) Register(kind string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[kind] = p
}

// Get returns the provider for a kind. A missing provider is a permanent
// error: the declaration names a kind this installation cannot provision.
func (r *Registry) Get(kind string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		return nil, NewPermanentError(ErrCodeProviderNotFound,
			fmt.Sprintf("no provider registered for kind %q", kind), nil)
	}
	return p, nil
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	return kinds
}
