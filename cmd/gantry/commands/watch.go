package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/pkg/engine"
	"github.com/gantry-io/gantry/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		policyPaths []string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <manifest>",
		Short: "Re-validate a manifest whenever it changes",
		Long: `Watch monitors the manifest file or directory and re-runs validation
(parse, graph, order, policies) on every change. Useful while editing a
stack. Stops on interrupt.`,
		Example: `  gantry watch ./manifests`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			pe, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if len(policyPaths) > 0 {
				if err := pe.LoadPolicies(ctx, policyPaths); err != nil {
					return err
				}
			}

			check := func() {
				manifest, resources, err := loadManifest(path)
				if err != nil {
					log.Error().Err(err).Msg("manifest invalid")
					return
				}
				g, err := engine.NewGraph(resources)
				if err != nil {
					log.Error().Err(err).Msg("manifest invalid")
					return
				}
				if _, err := g.Order(); err != nil {
					log.Error().Err(err).Msg("manifest invalid")
					return
				}
				result, err := pe.Evaluate(ctx, &policy.Context{Stack: manifest.Name}, resources)
				if err != nil {
					log.Error().Err(err).Msg("policy evaluation failed")
					return
				}
				for _, v := range result.Violations {
					log.Warn().Str("policy", v.Policy).Str("resource", v.Resource).
						Str("severity", string(v.Severity)).Msg(v.Message)
				}
				if result.Allowed {
					log.Info().Str("stack", manifest.Name).Int("resources", len(resources)).
						Msg("manifest valid")
				} else {
					log.Error().Int("violations", len(result.Violations)).Msg("manifest blocked by policy")
				}
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer func() { _ = watcher.Close() }()

			// Watch the containing directory so editors that replace the file
			// (rename-over-write) keep triggering events.
			watchPath := path
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				watchPath = filepath.Dir(path)
			}
			if err := watcher.Add(watchPath); err != nil {
				return fmt.Errorf("failed to watch %s: %w", watchPath, err)
			}

			check()
			log.Info().Str("path", path).Msg("watching for changes")

			var timer *time.Timer
			pending := make(chan struct{}, 1)
			schedule := func() {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-pending:
					check()
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !relevantEvent(event) {
						continue
					}
					log.Debug().Str("file", event.Name).Str("op", event.Op.String()).
						Msg("manifest change detected")
					schedule()
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("watch error")
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "policy file or directory (repeatable)")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "delay before re-validating after a change")

	return cmd
}

// relevantEvent filters watcher noise down to manifest edits.
func relevantEvent(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	switch filepath.Ext(event.Name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
