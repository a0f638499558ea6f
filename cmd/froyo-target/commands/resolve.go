package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/targetplatform/pkg/telemetry"
)

func newResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <file>",
		Short: "Resolve a target definition",
		Long: `Resolve every location of a target definition and print the resulting
status tree together with the bundle and feature counts.

Installable unit locations are served from the provisioning profile cache
when an identical resolution exists.`,
		Example: `  # Resolve and print a summary
  froyo-target resolve release.target

  # Print bundles, features and status as JSON
  froyo-target resolve release.target --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			def, err := a.loadDefinition(args[0])
			if err != nil {
				return err
			}

			ctx, span := a.tel.Tracer.StartCommandSpan(ctx, "resolve", def.Handle())
			defer span.End()

			log.Debug().Str("file", args[0]).Int("locations", len(def.Locations())).Msg("Resolving target definition")
			st := def.Resolve(ctx, false)
			if err := printResolution(cmd.OutOrStdout(), def, st); err != nil {
				return err
			}

			err = failed(st)
			telemetry.RecordError(span, err)
			return err
		},
	}

	return cmd
}
