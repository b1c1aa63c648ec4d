package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/pkg/engine"
	"github.com/gantry-io/gantry/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a manifest without touching any resource",
		Long: `Validate parses the manifest, builds the dependency graph, computes the
apply order, and evaluates the policy set. No provider is called.`,
		Example: `  # Validate a single manifest
  gantry validate stack.yaml

  # Validate a directory of manifests with custom policies
  gantry validate ./manifests --policy ./policies`,
		Args: cobra.ExactArgs(1),
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

			fmt.Printf("Stack:     %s\n", manifest.Name)
			fmt.Printf("Resources: %d\n", len(resources))
			fmt.Println("Apply order:")
			for i, id := range order {
				fmt.Printf("  %2d. %s\n", i+1, id)
			}

			for _, v := range result.Violations {
				fmt.Printf("[%s] %s: %s (%s)\n", v.Severity, v.Policy, v.Message, v.Resource)
			}
			for _, w := range result.Warnings {
				fmt.Printf("[warning] %s\n", w)
			}
			if !result.Allowed {
				return fmt.Errorf("validation failed: %d policy violation(s)", len(result.Violations))
			}

			fmt.Println("Manifest is valid.")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "policy file or directory (repeatable)")

	return cmd
}
