package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/pkg/engine"
	"github.com/gantry-io/gantry/pkg/policy"
	"github.com/gantry-io/gantry/pkg/stores"
	"github.com/gantry-io/gantry/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		policyPaths   []string
		skipPolicy    bool
		maxParallel   int
		maxAttempts   int
		metricsListen string
		traceExporter string
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "apply <manifest>",
		Short: "Apply a manifest, provisioning resources in dependency order",
		Long: `Apply builds the dependency graph from the manifest, evaluates the policy
set, then reconciles every resource against its observed state: absent
resources are created, drifted ones updated, conforming ones left alone.
Independent resources run concurrently; a failure blocks only its
dependents. The run outcome is recorded in the local database.`,
		Example: `  # Apply a stack
  gantry apply stack.yaml

  # Apply with more workers and a metrics endpoint
  gantry apply stack.yaml --max-parallel 8 --metrics-listen :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start := time.Now()

			manifest, resources, err := loadManifest(args[0])
			if err != nil {
				return err
			}
			g, err := engine.NewGraph(resources)
			if err != nil {
				return err
			}

			if !skipPolicy {
				pe, err := policy.NewEngine(log.Logger)
				if err != nil {
					return err
				}
				if len(policyPaths) > 0 {
					if err := pe.LoadPolicies(ctx, policyPaths); err != nil {
						return err
					}
				}
				result, err := pe.Evaluate(ctx, &policy.Context{Stack: manifest.Name}, resources)
				if err != nil {
					return err
				}
				for _, v := range result.Violations {
					fmt.Printf("[%s] %s: %s (%s)\n", v.Severity, v.Policy, v.Message, v.Resource)
				}
				if !result.Allowed {
					return fmt.Errorf("apply blocked by %d policy violation(s)", len(result.Violations))
				}
			}

			metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
				Enabled:       metricsListen != "",
				ListenAddress: metricsListen,
				Path:          "/metrics",
				Namespace:     "gantry",
			})
			metrics.StartServer(log.Logger)
			metrics.RunStarted()

			tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
				Enabled:       traceExporter != "" && traceExporter != "none",
				Exporter:      traceExporter,
				Endpoint:      traceEndpoint,
				SamplingRate:  1.0,
				ExportTimeout: 30 * time.Second,
				Insecure:      true,
			}, "gantry", cmd.Root().Version, "cli")
			if err != nil {
				return err
			}
			defer func() {
				if err := tracer.Shutdown(cmd.Context()); err != nil {
					log.Warn().Err(err).Msg("tracer shutdown failed")
				}
			}()

			executor := engine.NewExecutor(buildRegistry(resources), engine.Options{
				MaxParallel: maxParallel,
				MaxAttempts: maxAttempts,
			}, log.Logger).
				WithMetrics(metrics).
				WithTracer(tracer.Tracer())

			run, err := executor.Apply(ctx, g)
			if err != nil {
				return err
			}

			if err := recordRun(ctx, manifest.Name, run); err != nil {
				log.Warn().Err(err).Msg("failed to record run")
			}

			printRunSummary(run, time.Since(start))
			if run.Status == engine.RunFailed || run.Status == engine.RunPartial {
				return fmt.Errorf("run %s finished with status %s", run.RunID, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "policy file or directory (repeatable)")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy evaluation")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 4, "maximum concurrent resource applies")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 4, "provider attempts per resource, including retries")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address during the run")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "", "trace exporter (otlp, stdout)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP collector endpoint")

	return cmd
}

// recordRun persists the run outcome to the local database.
func recordRun(ctx context.Context, stack string, run *engine.RunResult) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	record, resources, states := stores.FromRunResult(stack, run)
	return store.RecordRun(ctx, record, resources, states)
}

func printRunSummary(run *engine.RunResult, elapsed time.Duration) {
	fmt.Printf("\nRun %s: %s (%s)\n", run.RunID, run.Status, elapsed.Round(time.Millisecond))
	for _, r := range run.Resources {
		switch {
		case r.SkipReason != "":
			fmt.Printf("  - %-40s skipped: %s\n", r.ID, r.SkipReason)
		case r.State == engine.StateFailed:
			fmt.Printf("  ! %-40s failed: %v\n", r.ID, r.Err)
		default:
			fmt.Printf("  * %-40s %s (%d attempt(s), %s)\n",
				r.ID, r.Action, r.Attempts, r.Duration.Round(time.Millisecond))
		}
	}

	if len(run.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		ids := make([]string, 0, len(run.Outputs))
		for id := range run.Outputs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			keys := make([]string, 0, len(run.Outputs[id]))
			for k := range run.Outputs[id] {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s.%s = %v\n", id, k, run.Outputs[id][k])
			}
		}
	}
}
