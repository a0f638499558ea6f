package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/targetplatform/pkg/config"
	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/watch"
)

func newWatchCommand() *cobra.Command {
	var (
		delay       time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-resolve a target definition whenever it or its locations change",
		Long: `Resolve a target definition, then watch the definition file and the
directories its locations read from. After a burst of changes settles the
definition is reloaded (when the file itself changed) or re-resolved.

With metrics enabled, resolution timings and profile cache hits are served
in Prometheus format while watching.`,
		Example: `  # Watch with the default debounce delay
  froyo-target watch release.target

  # Serve metrics on :9090
  froyo-target watch release.target --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := filepath.Clean(args[0])

			a, ctx, err := openApp(cmd.Context(), func(cfg *config.Config) {
				if metricsAddr != "" {
					cfg.Metrics.Enabled = true
					cfg.Metrics.ListenAddress = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			def, err := a.loadDefinition(file)
			if err != nil {
				return err
			}
			if err := printResolution(cmd.OutOrStdout(), def, def.Resolve(ctx, false)); err != nil {
				return err
			}

			onChange := func(ctx context.Context, changed []string) {
				log.Info().Strs("changed", changed).Msg("Change detected")

				var st *engine.Status
				if slices.Contains(changed, file) {
					reloaded, err := a.loadDefinition(file)
					if err != nil {
						log.Error().Err(err).Str("file", file).Msg("Failed to reload target definition")
						return
					}
					def = reloaded
					st = def.Resolve(ctx, false)
				} else {
					st = watch.Reresolve(ctx, def)
				}

				if err := printResolution(cmd.OutOrStdout(), def, st); err != nil {
					log.Error().Err(err).Msg("Failed to print resolution")
				}
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.tel.Metrics.Serve(ctx)
			})
			g.Go(func() error {
				w := watch.New(log.Logger, watch.WithDelay(delay))
				return w.Run(ctx, watch.Paths(file, def), onChange)
			})

			if err := g.Wait(); err != nil {
				return fmt.Errorf("watch stopped: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", watch.DefaultDelay, "quiet period before re-resolving")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}
