package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Options tunes executor behavior.
type Options struct {
	// MaxParallel bounds the worker pool. Defaults to 4.
	MaxParallel int

	// MaxAttempts is the per-resource provider attempt ceiling, including the
	// first attempt. Defaults to 4.
	MaxAttempts int

	// BaseBackoff is the first retry delay for transient errors. Throttled
	// errors start at 4x this. Defaults to 500ms.
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential retry delay. Defaults to 30s.
	MaxBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// Metrics receives execution counters. Implemented by pkg/telemetry; a nil
// Metrics disables instrumentation.
type Metrics interface {
	ResourceApplied(kind string, action Action, d time.Duration)
	ResourceFailed(kind string)
	RetryScheduled(kind string)
	RunCompleted(status RunStatus, d time.Duration)
}

// Executor walks the dependency graph and drives every resource through the
// reconciler. Resources with no unresolved dependency run concurrently on a
// bounded worker pool fed by a readiness queue; a resource is enqueued only
// once every dependency is Applied, which also guarantees its references
// resolve.
type Executor struct {
	providers  *Registry
	reconciler Reconciler
	opts       Options
	logger     zerolog.Logger
	metrics    Metrics
	tracer     trace.Tracer
}

// NewExecutor creates an executor over the given provider registry.
func NewExecutor(providers *Registry, opts Options, logger zerolog.Logger) *Executor {
	return &Executor{
		providers: providers,
		opts:      opts.withDefaults(),
		logger:    logger.With().Str("component", "executor").Logger(),
	}
}

// WithMetrics attaches execution metrics.
func (e *Executor) WithMetrics(m Metrics) *Executor {
	e.metrics = m
	return e
}

// WithTracer attaches an OpenTelemetry tracer; a span is recorded per run and
// per resource apply.
func (e *Executor) WithTracer(t trace.Tracer) *Executor {
	e.tracer = t
	return e
}

// outcome is what a worker reports back for one dequeued resource.
type outcome struct {
	id     ResourceID
	result ResourceResult
	// notStarted is set when the run was cancelled before the worker picked
	// the resource up; it stays Pending and is reported skipped.
	notStarted bool
}

// Apply brings the remote environment into conformance with the graph. It
// fails fast, before any provider call, on cyclic graphs. Apply itself only
// returns an error for pre-flight failures; provider-level failures are
// reported through the RunResult, never silently dropped.
func (e *Executor) Apply(ctx context.Context, g *Graph) (*RunResult, error) {
	if _, err := g.Order(); err != nil {
		return nil, err
	}

	run := &RunResult{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "run.apply",
			trace.WithAttributes(attribute.Int("resources", g.Len())))
		defer span.End()
	}

	logger := e.logger.With().Str("run_id", run.RunID).Logger()
	logger.Info().Int("resources", g.Len()).Int("max_parallel", e.opts.MaxParallel).
		Msg("starting provisioning run")

	outputs := NewOutputMap()
	total := g.Len()

	states := make(map[ResourceID]ApplyState, total)
	results := make(map[ResourceID]*ResourceResult, total)
	remaining := make(map[ResourceID]int, total)
	for _, res := range g.Resources() {
		states[res.ID] = StatePending
		results[res.ID] = &ResourceResult{ID: res.ID, State: StatePending}
		remaining[res.ID] = len(g.Dependencies(res.ID))
	}

	ready := make(chan ResourceID, total)
	outcomes := make(chan outcome, total)

	workers := e.opts.MaxParallel
	if workers > total {
		workers = total
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ready {
				if ctx.Err() != nil {
					outcomes <- outcome{id: id, notStarted: true}
					continue
				}
				res := g.Resource(id)
				outcomes <- outcome{id: id, result: e.applyResource(ctx, logger, res, outputs)}
			}
		}()
	}

	completed := 0
	inFlight := 0
	cancelled := false

	finish := func(id ResourceID, result ResourceResult) {
		if states[id].IsTerminal() || results[id].SkipReason != "" {
			return
		}
		states[id] = result.State
		*results[id] = result
		completed++
	}

	// enqueue hands a resource to the pool once it is ready.
	enqueue := func(id ResourceID) {
		states[id] = StateInProgress
		inFlight++
		ready <- id
	}

	// Seed the queue with dependency-free resources in declaration order.
	for _, res := range g.Resources() {
		if remaining[res.ID] == 0 && !cancelled {
			enqueue(res.ID)
		}
	}

	for completed < total {
		if cancelled && inFlight == 0 {
			break
		}
		var oc outcome
		if cancelled {
			oc = <-outcomes
		} else {
			select {
			case <-ctx.Done():
				cancelled = true
				logger.Warn().Msg("run cancelled, waiting for in-flight resources")
				continue
			case oc = <-outcomes:
			}
		}
		inFlight--

		switch {
		case oc.notStarted:
			states[oc.id] = StatePending
			results[oc.id].State = StatePending
			finishSkip(results[oc.id], "run cancelled")
			completed++

		case oc.result.State == StateApplied:
			finish(oc.id, oc.result)
			for _, dep := range g.Dependents(oc.id) {
				remaining[dep]--
				if remaining[dep] == 0 && states[dep] == StatePending && !cancelled {
					enqueue(dep)
				}
			}

		default: // failed
			finish(oc.id, oc.result)
			// Fail-fast propagation: every transitive dependent is blocked
			// without a provider call.
			for _, dep := range g.TransitiveDependents(oc.id) {
				if states[dep] != StatePending {
					continue
				}
				blocked := ResourceResult{
					ID:    dep,
					State: StateFailed,
					Err: NewPermanentError(ErrCodeDependencyFailed,
						fmt.Sprintf("dependency %s failed", oc.id), nil).WithResource(dep),
					SkipReason: fmt.Sprintf("dependency %s failed", oc.id),
				}
				finish(dep, blocked)
			}
		}
	}

	close(ready)
	wg.Wait()

	if ctx.Err() != nil {
		cancelled = true
	}

	// Anything still pending at cancellation was never handed to a worker.
	for _, res := range g.Resources() {
		if !states[res.ID].IsTerminal() && results[res.ID].SkipReason == "" {
			finishSkip(results[res.ID], "run cancelled")
		}
	}

	run.Duration = time.Since(run.StartedAt)
	run.Outputs = outputs.Snapshot()
	for _, res := range g.Resources() {
		run.Resources = append(run.Resources, *results[res.ID])
	}
	run.Status = summarize(run.Resources, cancelled)

	if e.metrics != nil {
		e.metrics.RunCompleted(run.Status, run.Duration)
	}
	logger.Info().Str("status", string(run.Status)).Dur("duration", run.Duration).
		Int("failed", len(run.Failed())).Int("skipped", len(run.Skipped())).
		Msg("provisioning run finished")

	return run, nil
}

// applyResource runs the reconcile loop for one resource, retrying transient
// and throttled provider errors with exponential backoff up to the attempt
// ceiling.
func (e *Executor) applyResource(ctx context.Context, logger zerolog.Logger, res *Resource, outputs *OutputMap) ResourceResult {
	start := time.Now()
	result := ResourceResult{ID: res.ID, State: StateFailed}
	rlog := logger.With().Str("resource", res.ID.String()).Logger()

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "resource.apply",
			trace.WithAttributes(
				attribute.String("resource.kind", res.ID.Kind),
				attribute.String("resource.name", res.ID.Name),
			))
		defer span.End()
	}

	fail := func(err error) ResourceResult {
		result.Duration = time.Since(start)
		result.Err = classify(err, res.ID)
		rlog.Error().Err(err).Int("attempts", result.Attempts).Msg("resource apply failed")
		if e.metrics != nil {
			e.metrics.ResourceFailed(res.ID.Kind)
		}
		return result
	}

	provider, err := e.providers.Get(res.ID.Kind)
	if err != nil {
		return fail(err)
	}

	// All dependencies are Applied at this point, so every reference has a
	// published value.
	resolved, err := outputs.ResolveProperties(res.Properties)
	if err != nil {
		return fail(err)
	}

	var rec *ReconcileResult
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		result.Attempts = attempt
		rec, err = e.reconciler.Reconcile(ctx, provider, res, resolved)
		if err == nil {
			break
		}
		if !IsRetryable(err) || attempt == e.opts.MaxAttempts {
			return fail(err)
		}
		delay := e.backoff(attempt, err)
		rlog.Warn().Err(err).Dur("backoff", delay).
			Int("attempt", attempt).Int("max_attempts", e.opts.MaxAttempts).
			Msg("retrying after retryable provider error")
		if e.metrics != nil {
			e.metrics.RetryScheduled(res.ID.Kind)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fail(NewTransientError("run cancelled during backoff", ctx.Err()))
		}
	}

	if err := outputs.Publish(res.ID, rec.Outputs); err != nil {
		return fail(err)
	}

	result.State = StateApplied
	result.Action = rec.Action
	result.Duration = time.Since(start)
	rlog.Info().Str("action", string(rec.Action)).Dur("duration", result.Duration).
		Int("attempts", result.Attempts).Msg("resource applied")
	if e.metrics != nil {
		e.metrics.ResourceApplied(res.ID.Kind, rec.Action, result.Duration)
	}
	return result
}

// backoff computes the retry delay: exponential per attempt, a slower base
// for throttling, capped at MaxBackoff.
func (e *Executor) backoff(attempt int, err error) time.Duration {
	base := e.opts.BaseBackoff
	if IsThrottled(err) {
		base *= 4
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > e.opts.MaxBackoff {
		delay = e.opts.MaxBackoff
	}
	return delay
}

// classify wraps arbitrary errors into the engine taxonomy, defaulting to
// permanent provider failure.
func classify(err error, id ResourceID) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewPermanentError(ErrCodeProviderFailed, "provider call failed", err).WithResource(id)
}

// finishSkip marks a never-started resource as skipped in its result.
func finishSkip(r *ResourceResult, reason string) {
	r.SkipReason = reason
}

// summarize derives the run status from the per-resource outcomes.
func summarize(resources []ResourceResult, cancelled bool) RunStatus {
	if cancelled {
		return RunCancelled
	}
	applied, failed := 0, 0
	for _, r := range resources {
		switch r.State {
		case StateApplied:
			applied++
		case StateFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		return RunSucceeded
	case applied == 0:
		return RunFailed
	default:
		return RunPartial
	}
}
