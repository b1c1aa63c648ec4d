package stores

import (
	"encoding/json"
	"time"

	"github.com/gantry-io/gantry/pkg/engine"
)

// FromRunResult converts an engine run result into its persisted form. Only
// applied resources contribute a ResourceState row.
func FromRunResult(stack string, run *engine.RunResult) (*RunRecord, []ResourceRecord, []ResourceState) {
	completed := run.StartedAt.Add(run.Duration)
	outputs, err := json.Marshal(run.Outputs)
	if err != nil {
		outputs = []byte("{}")
	}

	record := &RunRecord{
		ID:          run.RunID,
		Stack:       stack,
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		CompletedAt: &completed,
		Outputs:     string(outputs),
		CreatedAt:   time.Now(),
	}

	resources := make([]ResourceRecord, 0, len(run.Resources))
	var states []ResourceState
	for _, r := range run.Resources {
		rr := ResourceRecord{
			RunID:      run.RunID,
			Kind:       r.ID.Kind,
			Name:       r.ID.Name,
			State:      string(r.State),
			Action:     string(r.Action),
			Attempts:   r.Attempts,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			msg := r.Err.Error()
			rr.Error = &msg
		}
		if r.SkipReason != "" {
			reason := r.SkipReason
			rr.SkipReason = &reason
		}
		resources = append(resources, rr)

		if r.State != engine.StateApplied {
			continue
		}
		props := []byte("{}")
		if out, ok := run.Outputs[r.ID.String()]; ok {
			if raw, err := json.Marshal(out); err == nil {
				props = raw
			}
		}
		states = append(states, ResourceState{
			Kind:        r.ID.Kind,
			Name:        r.ID.Name,
			Properties:  string(props),
			LastRunID:   run.RunID,
			LastApplied: completed,
		})
	}

	return record, resources, states
}
