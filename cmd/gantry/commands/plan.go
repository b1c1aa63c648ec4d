package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Show the actions an apply would take",
		Long: `Plan reads the observed state of every declared resource and reports,
in apply order, whether it would be created, updated, or left alone. No
mutation call is made.

Properties referencing another resource's outputs resolve only during an
apply; plan marks them as known after apply and does not count them as
drift.`,
		Example: `  gantry plan stack.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			manifest, resources, err := loadManifest(args[0])
			if err != nil {
				return err
			}

			g, err := engine.NewGraph(resources)
			if err != nil {
				return err
			}
			order, err := g.Order()
			if err != nil {
				return err
			}

			registry := buildRegistry(resources)

			fmt.Printf("Plan for stack %s (%d resources):\n\n", manifest.Name, len(resources))
			creates, updates, noops := 0, 0, 0
			for _, id := range order {
				res := g.Resource(id)
				provider, err := registry.Get(id.Kind)
				if err != nil {
					return err
				}

				action, deferred, err := planResource(ctx, provider, res)
				if err != nil {
					return err
				}

				switch action {
				case engine.ActionCreate:
					creates++
					fmt.Printf("  + %s\n", id)
				case engine.ActionUpdate:
					updates++
					fmt.Printf("  ~ %s\n", id)
				default:
					noops++
					fmt.Printf("    %s (no changes)\n", id)
				}
				for _, key := range deferred {
					fmt.Printf("      %s: (known after apply)\n", key)
				}
			}

			fmt.Printf("\nPlan: %d to create, %d to update, %d unchanged.\n", creates, updates, noops)
			return nil
		},
	}

	return cmd
}

// planResource decides the action for one resource from its observed state.
// Reference-valued properties cannot be resolved without applying the
// upstream resources, so they are reported separately and excluded from the
// drift comparison.
func planResource(ctx context.Context, p engine.Provider, res *engine.Resource) (engine.Action, []string, error) {
	read, err := p.Read(ctx, engine.ReadRequest{ID: res.ID, Location: res.Location})
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", res.ID, err)
	}

	var deferred []string
	literals := make(map[string]any)
	for k, v := range res.Properties {
		if v.IsRef() {
			deferred = append(deferred, k)
			continue
		}
		literals[k] = v.Literal
	}
	sort.Strings(deferred)

	if !read.Exists {
		return engine.ActionCreate, deferred, nil
	}
	for k, want := range literals {
		got, ok := read.Properties[k]
		if !ok || !engine.ValuesEqual(want, got) {
			return engine.ActionUpdate, deferred, nil
		}
	}
	return engine.ActionNoOp, deferred, nil
}
