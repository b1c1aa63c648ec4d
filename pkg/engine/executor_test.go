package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gantry-io/gantry/pkg/engine"
	"github.com/gantry-io/gantry/pkg/providers/memory"
)

func testExecutor(reg *engine.Registry) *engine.Executor {
	return engine.NewExecutor(reg, engine.Options{
		MaxParallel: 4,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, zerolog.Nop())
}

func resultFor(t *testing.T, run *engine.RunResult, id engine.ResourceID) engine.ResourceResult {
	t.Helper()
	for _, r := range run.Resources {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no result for %s", id)
	return engine.ResourceResult{}
}

// Three-resource stack: Group, Storage nested under Group, and Service
// depending on Storage and referencing its endpoint output.
func scenarioResources() (group, storage, service engine.ResourceID, resources []engine.Resource) {
	group = rid("resource.group", "main")
	storage = rid("storage.account", "docs")
	service = rid("translator.service", "xlate")
	resources = []engine.Resource{
		{ID: group, Location: "westeurope"},
		{
			ID:       storage,
			Location: "westeurope",
			Parent:   &group,
			Properties: map[string]engine.PropertyValue{
				"sku": engine.Lit("Standard_LRS"),
			},
		},
		{
			ID:        service,
			Location:  "westeurope",
			DependsOn: []engine.ResourceID{storage},
			Properties: map[string]engine.PropertyValue{
				"documentStore": engine.RefTo(storage, "endpoint"),
			},
		},
	}
	return group, storage, service, resources
}

func TestExecutor_OutputPropagation(t *testing.T) {
	group, storage, service, resources := scenarioResources()

	prov := memory.New(memory.WithOutputs(func(req engine.ApplyRequest) map[string]any {
		if req.ID == storage {
			return map[string]any{"endpoint": "https://docs.blob.example.net"}
		}
		return map[string]any{"id": req.ID.String()}
	}))
	reg := engine.NewRegistry()
	for _, kind := range []string{group.Kind, storage.Kind, service.Kind} {
		reg.Register(kind, prov)
	}

	g, err := engine.NewGraph(resources)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	run, err := testExecutor(reg).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if run.Status != engine.RunSucceeded {
		t.Fatalf("expected succeeded run, got %s", run.Status)
	}
	for _, id := range []engine.ResourceID{group, storage, service} {
		r := resultFor(t, run, id)
		if r.State != engine.StateApplied {
			t.Errorf("%s: expected applied, got %s", id, r.State)
		}
		if r.Action != engine.ActionCreate {
			t.Errorf("%s: expected create, got %s", id, r.Action)
		}
	}

	// The service's resolved configuration must carry the exact value the
	// storage provider produced.
	read, err := prov.Read(context.Background(), engine.ReadRequest{ID: service})
	if err != nil || !read.Exists {
		t.Fatalf("service must exist after apply: %v", err)
	}
	if read.Properties["documentStore"] != "https://docs.blob.example.net" {
		t.Errorf("expected propagated endpoint, got %v", read.Properties["documentStore"])
	}

	if run.Outputs[storage.String()]["endpoint"] != "https://docs.blob.example.net" {
		t.Errorf("expected storage endpoint in run outputs, got %v", run.Outputs[storage.String()])
	}
}

func TestExecutor_Idempotence(t *testing.T) {
	_, storage, service, resources := scenarioResources()

	prov := memory.New(memory.WithOutputs(func(req engine.ApplyRequest) map[string]any {
		if req.ID == storage {
			return map[string]any{"endpoint": "https://docs.blob.example.net"}
		}
		return map[string]any{"id": req.ID.String()}
	}))
	reg := engine.NewRegistry()
	reg.Register("resource.group", prov)
	reg.Register("storage.account", prov)
	reg.Register("translator.service", prov)

	g, err := engine.NewGraph(resources)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	exec := testExecutor(reg)

	first, err := exec.Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Status != engine.RunSucceeded {
		t.Fatalf("first run: expected succeeded, got %s", first.Status)
	}

	mutationsAfterFirst := prov.ApplyCalls(storage) + prov.ApplyCalls(service)

	g2, err := engine.NewGraph(resources)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	second, err := exec.Apply(context.Background(), g2)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.Status != engine.RunSucceeded {
		t.Fatalf("second run: expected succeeded, got %s", second.Status)
	}
	for _, r := range second.Resources {
		if r.Action != engine.ActionNoOp {
			t.Errorf("%s: expected noop on second run, got %s", r.ID, r.Action)
		}
	}
	if got := prov.ApplyCalls(storage) + prov.ApplyCalls(service); got != mutationsAfterFirst {
		t.Errorf("second run issued %d extra mutation calls", got-mutationsAfterFirst)
	}

	// References resolve to the same value on the no-op run, never a stale
	// or default one.
	if second.Outputs[storage.String()]["endpoint"] != "https://docs.blob.example.net" {
		t.Errorf("expected stable endpoint output, got %v", second.Outputs[storage.String()])
	}
}

func TestExecutor_DriftTriggersUpdate(t *testing.T) {
	id := rid("storage.account", "docs")
	prov := memory.New()
	prov.Seed(id, map[string]any{"sku": "Standard_GRS", "tier": "Hot"})

	reg := engine.NewRegistry()
	reg.Register(id.Kind, prov)

	resources := []engine.Resource{
		{ID: id, Properties: map[string]engine.PropertyValue{"sku": engine.Lit("Standard_LRS")}},
	}
	g, err := engine.NewGraph(resources)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	run, err := testExecutor(reg).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	r := resultFor(t, run, id)
	if r.Action != engine.ActionUpdate {
		t.Fatalf("expected update for drifted resource, got %s", r.Action)
	}
	read, _ := prov.Read(context.Background(), engine.ReadRequest{ID: id})
	if read.Properties["sku"] != "Standard_LRS" {
		t.Errorf("declared configuration must win on drift, got %v", read.Properties["sku"])
	}
	if read.Properties["tier"] != "Hot" {
		t.Errorf("undeclared observed properties must survive, got %v", read.Properties["tier"])
	}
}

func TestExecutor_PartialFailureContainment(t *testing.T) {
	a, b, c := rid("k", "a"), rid("k", "b"), rid("k", "c")
	indep := rid("k", "standalone")
	resources := []engine.Resource{
		{ID: a},
		{ID: b, DependsOn: []engine.ResourceID{a}},
		{ID: c, DependsOn: []engine.ResourceID{b}},
		{ID: indep},
	}

	prov := memory.New()
	prov.FailNext(a, engine.NewPermanentError(engine.ErrCodeProviderFailed, "quota exceeded", nil))
	reg := engine.NewRegistry()
	reg.Register("k", prov)

	g, err := engine.NewGraph(resources)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	run, err := testExecutor(reg).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if run.Status != engine.RunPartial {
		t.Fatalf("expected partial run, got %s", run.Status)
	}

	ra := resultFor(t, run, a)
	if ra.State != engine.StateFailed || ra.SkipReason != "" {
		t.Errorf("a: expected direct failure, got state=%s skip=%q", ra.State, ra.SkipReason)
	}

	for _, id := range []engine.ResourceID{b, c} {
		r := resultFor(t, run, id)
		if r.State != engine.StateFailed {
			t.Errorf("%s: expected failed via dependency, got %s", id, r.State)
		}
		if r.SkipReason == "" {
			t.Errorf("%s: expected a skip reason naming the failed dependency", id)
		}
		if r.Err == nil || r.Err.Code != engine.ErrCodeDependencyFailed {
			t.Errorf("%s: expected DEPENDENCY_FAILED, got %v", id, r.Err)
		}
	}

	// Dependents of a failure never reach the provider.
	if prov.ApplyCalls(b) != 0 || prov.ApplyCalls(c) != 0 {
		t.Error("blocked dependents must not issue provider calls")
	}
	if prov.ReadCalls(b) != 0 || prov.ReadCalls(c) != 0 {
		t.Error("blocked dependents must not be read")
	}

	// The independent resource still applies.
	if r := resultFor(t, run, indep); r.State != engine.StateApplied {
		t.Errorf("standalone: expected applied, got %s", r.State)
	}

	if len(run.Failed()) != 3 {
		t.Errorf("expected 3 failed resources reported, got %v", run.Failed())
	}
}

func TestExecutor_RetriesTransientErrors(t *testing.T) {
	id := rid("k", "flaky")
	prov := memory.New()
	prov.FailNext(id,
		engine.NewTransientError("connection reset", nil),
		engine.NewThrottledError("429 from remote", nil),
	)
	reg := engine.NewRegistry()
	reg.Register("k", prov)

	g, err := engine.NewGraph([]engine.Resource{{ID: id}})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	run, err := testExecutor(reg).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	r := resultFor(t, run, id)
	if r.State != engine.StateApplied {
		t.Fatalf("expected applied after retries, got %s (%v)", r.State, r.Err)
	}
	if r.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", r.Attempts)
	}
}

func TestExecutor_RetryExhaustion(t *testing.T) {
	id := rid("k", "down")
	prov := memory.New()
	prov.FailNext(id,
		engine.NewTransientError("timeout", nil),
		engine.NewTransientError("timeout", nil),
		engine.NewTransientError("timeout", nil),
	)
	reg := engine.NewRegistry()
	reg.Register("k", prov)

	g, err := engine.NewGraph([]engine.Resource{{ID: id}})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	run, err := testExecutor(reg).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	r := resultFor(t, run, id)
	if r.State != engine.StateFailed {
		t.Fatalf("expected failure after retry exhaustion, got %s", r.State)
	}
	if r.Attempts != 3 {
		t.Errorf("expected attempt ceiling of 3, got %d", r.Attempts)
	}
	if run.Status != engine.RunFailed {
		t.Errorf("expected failed run, got %s", run.Status)
	}
}

func TestExecutor_PermanentErrorNotRetried(t *testing.T) {
	id := rid("k", "forbidden")
	prov := memory.New()
	prov.FailNext(id, engine.NewPermanentError(engine.ErrCodeProviderFailed, "permission denied", nil))
	reg := engine.NewRegistry()
	reg.Register("k", prov)

	g, err := engine.NewGraph([]engine.Resource{{ID: id}})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	run, err := testExecutor(reg).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	r := resultFor(t, run, id)
	if r.Attempts != 1 {
		t.Errorf("permanent errors must not be retried, got %d attempts", r.Attempts)
	}
	if prov.ApplyCalls(id) != 1 {
		t.Errorf("expected exactly 1 mutation call, got %d", prov.ApplyCalls(id))
	}
}

func TestExecutor_CycleAbortsBeforeProviderCalls(t *testing.T) {
	a := rid("k", "a")
	b := rid("k", "b")
	resources := []engine.Resource{
		{ID: a, DependsOn: []engine.ResourceID{b}},
		{ID: b, DependsOn: []engine.ResourceID{a}},
	}

	prov := memory.New()
	reg := engine.NewRegistry()
	reg.Register("k", prov)

	g, err := engine.NewGraph(resources)
	if err != nil {
		t.Fatalf("expected no build error, got: %v", err)
	}

	_, err = testExecutor(reg).Apply(context.Background(), g)
	if err == nil {
		t.Fatal("expected cycle error from apply")
	}
	if engine.ErrorCode(err) != engine.ErrCodeCycle {
		t.Errorf("expected code %s, got %s", engine.ErrCodeCycle, engine.ErrorCode(err))
	}
	if prov.ReadCalls(a) != 0 || prov.ReadCalls(b) != 0 || prov.ApplyCalls(a) != 0 || prov.ApplyCalls(b) != 0 {
		t.Error("no provider call may be made for a cyclic graph")
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	a, b := rid("k", "a"), rid("k", "b")
	resources := []engine.Resource{
		{ID: a},
		{ID: b, DependsOn: []engine.ResourceID{a}},
	}
	prov := memory.New()
	reg := engine.NewRegistry()
	reg.Register("k", prov)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g, err := engine.NewGraph(resources)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	run, err := testExecutor(reg).Apply(ctx, g)
	if err != nil {
		t.Fatalf("expected run result, got error: %v", err)
	}

	if run.Status != engine.RunCancelled {
		t.Fatalf("expected cancelled run, got %s", run.Status)
	}
	if got := len(run.Skipped()); got != 2 {
		t.Errorf("expected 2 skipped resources, got %d", got)
	}
	for _, r := range run.Resources {
		if r.State != engine.StatePending {
			t.Errorf("%s: expected pending, got %s", r.ID, r.State)
		}
	}
}

func TestExecutor_MissingProvider(t *testing.T) {
	id := rid("unregistered.kind", "x")
	reg := engine.NewRegistry()

	g, err := engine.NewGraph([]engine.Resource{{ID: id}})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	run, err := testExecutor(reg).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("expected run result, got error: %v", err)
	}

	r := resultFor(t, run, id)
	if r.State != engine.StateFailed {
		t.Fatalf("expected failure, got %s", r.State)
	}
	if r.Err == nil || r.Err.Code != engine.ErrCodeProviderNotFound {
		t.Errorf("expected PROVIDER_NOT_FOUND, got %v", r.Err)
	}
}

func TestExecutor_UnclassifiedProviderErrorIsPermanent(t *testing.T) {
	id := rid("k", "odd")
	prov := memory.New()
	prov.FailNext(id, errors.New("something unexpected"))
	reg := engine.NewRegistry()
	reg.Register("k", prov)

	g, err := engine.NewGraph([]engine.Resource{{ID: id}})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	run, err := testExecutor(reg).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("expected run result, got error: %v", err)
	}

	r := resultFor(t, run, id)
	if r.Attempts != 1 {
		t.Errorf("unclassified errors must not be retried, got %d attempts", r.Attempts)
	}
	if r.Err == nil || r.Err.Class != engine.ErrorClassPermanent {
		t.Errorf("expected permanent classification, got %v", r.Err)
	}
}
