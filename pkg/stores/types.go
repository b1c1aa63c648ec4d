package stores

import (
	"context"
	"time"
)

// RunRecord is one provisioning run as persisted.
type RunRecord struct {
	ID          string     `json:"id"`
	Stack       string     `json:"stack"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Outputs     string     `json:"outputs"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
}

// ResourceRecord is the per-resource outcome of a run.
type ResourceRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Action     string  `json:"action,omitempty"`
	Attempts   int     `json:"attempts"`
	DurationMS int64   `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
	SkipReason *string `json:"skip_reason,omitempty"`
}

// ResourceState is the last applied state of a managed resource, kept
// current across runs.
type ResourceState struct {
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Properties  string    `json:"properties"` // JSON blob
	LastRunID   string    `json:"last_run_id"`
	LastApplied time.Time `json:"last_applied"`
}

// Store is the persistence layer for run history and resource state.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// RecordRun persists a run, its per-resource outcomes, and the applied
	// resource states in one transaction.
	RecordRun(ctx context.Context, run *RunRecord, resources []ResourceRecord, states []ResourceState) error

	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)
	ListRunResources(ctx context.Context, runID string) ([]*ResourceRecord, error)

	GetResourceState(ctx context.Context, kind, name string) (*ResourceState, error)
	ListResourceStates(ctx context.Context, limit, offset int) ([]*ResourceState, error)

	HealthCheck(ctx context.Context) error
}
