package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/pkg/config"
	"github.com/gantry-io/gantry/pkg/engine"
	"github.com/gantry-io/gantry/pkg/providers/memory"
	"github.com/gantry-io/gantry/pkg/telemetry"
)

var (
	// Global flags
	logLevel  string
	logFormat string
	dbPath    string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gantry",
		Short: "Gantry - declarative resource provisioning engine",
		Long: `Gantry provisions declared resources in dependency order.

A YAML manifest declares resources by kind and name, with explicit
dependencies, parent/child nesting, and references to other resources'
runtime outputs. Gantry builds the dependency graph, reconciles every
resource against its observed remote state, and applies the minimal set of
changes concurrently.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "gantry.db", "path to the run history database")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

func setupLogging() {
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  logLevel,
		Format: logFormat,
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	log.Logger = logger
}

// loadManifest loads a manifest from a file or a directory of manifests.
func loadManifest(path string) (*config.Manifest, []engine.Resource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest path %s: %w", path, err)
	}
	if info.IsDir() {
		return config.LoadDir(path)
	}
	return config.Load(path)
}

// buildRegistry registers the in-memory provider for every declared kind.
func buildRegistry(resources []engine.Resource) *engine.Registry {
	reg := engine.NewRegistry()
	prov := memory.New()
	for _, res := range resources {
		if _, err := reg.Get(res.ID.Kind); err != nil {
			reg.Register(res.ID.Kind, prov)
		}
	}
	return reg
}
