package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gantry-io/gantry/pkg/engine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "gantry.db")})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path, got nil")
	}
}

func TestSQLiteStore_RecordAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	completed := started.Add(30 * time.Second)
	errMsg := "[permanent] quota exceeded"
	run := &RunRecord{
		ID:          "run-1",
		Stack:       "translator-stack",
		Status:      "partial",
		StartedAt:   started,
		CompletedAt: &completed,
		Outputs:     `{"storage.account/docs":{"endpoint":"https://e"}}`,
		CreatedAt:   time.Now().UTC(),
	}
	resources := []ResourceRecord{
		{Kind: "storage.account", Name: "docs", State: "applied", Action: "create", Attempts: 1, DurationMS: 120},
		{Kind: "translator.service", Name: "xlate", State: "failed", Attempts: 3, Error: &errMsg},
	}
	states := []ResourceState{
		{Kind: "storage.account", Name: "docs", Properties: `{"endpoint":"https://e"}`, LastRunID: "run-1", LastApplied: completed},
	}

	if err := store.RecordRun(ctx, run, resources, states); err != nil {
		t.Fatalf("record run: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Stack != "translator-stack" || got.Status != "partial" {
		t.Errorf("unexpected run record: %+v", got)
	}

	rows, err := store.ListRunResources(ctx, "run-1")
	if err != nil {
		t.Fatalf("list run resources: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 resource rows, got %d", len(rows))
	}
	if rows[0].Kind != "storage.account" || rows[0].Action != "create" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Error == nil || *rows[1].Error != errMsg {
		t.Errorf("expected error recorded, got %+v", rows[1])
	}
}

func TestSQLiteStore_GetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetRun(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown run, got nil")
	}
}

func TestSQLiteStore_ResourceStateUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first := &RunRecord{ID: "run-1", Stack: "s", Status: "succeeded", StartedAt: now, Outputs: "{}", CreatedAt: now}
	if err := store.RecordRun(ctx, first, nil, []ResourceState{
		{Kind: "k", Name: "a", Properties: `{"v":1}`, LastRunID: "run-1", LastApplied: now},
	}); err != nil {
		t.Fatalf("first record: %v", err)
	}

	later := now.Add(time.Minute)
	second := &RunRecord{ID: "run-2", Stack: "s", Status: "succeeded", StartedAt: later, Outputs: "{}", CreatedAt: later}
	if err := store.RecordRun(ctx, second, nil, []ResourceState{
		{Kind: "k", Name: "a", Properties: `{"v":2}`, LastRunID: "run-2", LastApplied: later},
	}); err != nil {
		t.Fatalf("second record: %v", err)
	}

	st, err := store.GetResourceState(ctx, "k", "a")
	if err != nil {
		t.Fatalf("get resource state: %v", err)
	}
	if st.LastRunID != "run-2" || st.Properties != `{"v":2}` {
		t.Errorf("expected state from second run, got %+v", st)
	}

	states, err := store.ListResourceStates(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list resource states: %v", err)
	}
	if len(states) != 1 {
		t.Errorf("expected a single state row after upsert, got %d", len(states))
	}
}

func TestSQLiteStore_ListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := &RunRecord{
			ID:        id,
			Stack:     "s",
			Status:    "succeeded",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Outputs:   "{}",
			CreatedAt: base,
		}
		if err := store.RecordRun(ctx, run, nil, nil); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("expected newest first, got %s then %s", runs[0].ID, runs[1].ID)
	}
}

func TestFromRunResult(t *testing.T) {
	id := engine.ResourceID{Kind: "storage.account", Name: "docs"}
	blocked := engine.ResourceID{Kind: "translator.service", Name: "xlate"}
	run := &engine.RunResult{
		RunID:     "run-9",
		Status:    engine.RunPartial,
		StartedAt: time.Now().Add(-time.Minute),
		Duration:  30 * time.Second,
		Outputs: map[string]map[string]any{
			id.String(): {"endpoint": "https://e"},
		},
		Resources: []engine.ResourceResult{
			{ID: id, State: engine.StateApplied, Action: engine.ActionCreate, Attempts: 1},
			{
				ID:         blocked,
				State:      engine.StateFailed,
				Err:        engine.NewPermanentError(engine.ErrCodeDependencyFailed, "dependency failed", nil),
				SkipReason: "dependency storage.account/docs failed",
			},
		},
	}

	record, resources, states := FromRunResult("translator-stack", run)
	if record.ID != "run-9" || record.Status != "partial" {
		t.Errorf("unexpected run record: %+v", record)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resource records, got %d", len(resources))
	}
	if resources[1].SkipReason == nil {
		t.Error("expected skip reason carried over")
	}
	if len(states) != 1 || states[0].Kind != "storage.account" {
		t.Fatalf("only applied resources get a state row, got %v", states)
	}
	if states[0].Properties != `{"endpoint":"https://e"}` {
		t.Errorf("unexpected state properties: %s", states[0].Properties)
	}
}
