package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "graph <manifest>",
		Short:   "Export the dependency graph in Graphviz DOT format",
		Example: `  gantry graph stack.yaml | dot -Tsvg -o stack.svg`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, resources, err := loadManifest(args[0])
			if err != nil {
				return err
			}
			g, err := engine.NewGraph(resources)
			if err != nil {
				return err
			}
			fmt.Print(g.ToDOT())
			return nil
		},
	}

	return cmd
}
