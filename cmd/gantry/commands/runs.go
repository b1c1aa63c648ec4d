package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded provisioning runs",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsStateCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List recorded runs, newest first",
		Example: `  gantry runs list --limit 10`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(ctx, limit, offset)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("No runs recorded.")
					return nil
				}
				fmt.Printf("%-36s  %-20s  %-10s  %s\n", "RUN", "STACK", "STATUS", "STARTED")
				for _, r := range runs {
					fmt.Printf("%-36s  %-20s  %-10s  %s\n",
						r.ID, r.Stack, r.Status, r.StartedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show <run-id>",
		Short:   "Show the per-resource outcomes of one run",
		Example: `  gantry runs show 3f6c9a1e-...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *stores.SQLiteStore) error {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				resources, err := store.ListRunResources(ctx, run.ID)
				if err != nil {
					return err
				}

				fmt.Printf("Run:     %s\n", run.ID)
				fmt.Printf("Stack:   %s\n", run.Stack)
				fmt.Printf("Status:  %s\n", run.Status)
				fmt.Printf("Started: %s\n", run.StartedAt.Format(time.RFC3339))
				if run.CompletedAt != nil {
					fmt.Printf("Ended:   %s\n", run.CompletedAt.Format(time.RFC3339))
				}

				fmt.Println("\nResources:")
				for _, r := range resources {
					line := fmt.Sprintf("  %-40s %-8s %-7s %d attempt(s), %dms",
						r.Kind+"/"+r.Name, r.State, r.Action, r.Attempts, r.DurationMS)
					if r.SkipReason != nil {
						line += " [" + *r.SkipReason + "]"
					}
					if r.Error != nil {
						line += " error: " + *r.Error
					}
					fmt.Println(line)
				}
				return nil
			})
		},
	}

	return cmd
}

func newRunsStateCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:     "state",
		Short:   "List the last applied state of managed resources",
		Example: `  gantry runs state`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *stores.SQLiteStore) error {
				states, err := store.ListResourceStates(ctx, limit, offset)
				if err != nil {
					return err
				}
				if len(states) == 0 {
					fmt.Println("No resource state recorded.")
					return nil
				}
				for _, st := range states {
					fmt.Printf("%s/%s (run %s, applied %s)\n  %s\n",
						st.Kind, st.Name, st.LastRunID,
						st.LastApplied.Format(time.RFC3339), st.Properties)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum states to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "states to skip")

	return cmd
}

// withStore opens the run database, runs fn, and closes it.
func withStore(ctx context.Context, fn func(context.Context, *stores.SQLiteStore) error) error {
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
	return fn(ctx, store)
}
