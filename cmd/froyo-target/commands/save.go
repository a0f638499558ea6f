package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/targetfile"
)

func newSaveCommand() *cobra.Command {
	var (
		out     string
		resolve bool
	)

	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Save a target definition in the current format",
		Long: `Load a target definition (migrating older schema versions), write it as a
schema version 3 document and register it as saved.

Provisioning profiles referenced by saved definitions survive
"profiles gc"; profiles of definitions that were never saved do not.`,
		Example: `  # Upgrade a definition in place
  froyo-target save release.target

  # Write the upgraded definition elsewhere and warm the profile cache
  froyo-target save old.target --out release.target --resolve`,
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
			if out == "" {
				out = args[0]
			}

			// SaveFile moves the definition to the handle of out; profiles
			// are keyed by handle, so resolve afterwards.
			if err := targetfile.SaveFile(out, def); err != nil {
				return err
			}
			if resolve {
				if st := def.Resolve(ctx, false); st.Severity >= engine.SeverityError {
					log.Warn().Str("status", st.Message).Msg("Saved definition did not resolve cleanly")
				}
			}
			if err := a.profiles.MarkSaved(ctx, def); err != nil {
				return fmt.Errorf("failed to register saved target: %w", err)
			}

			log.Info().Str("file", out).Str("target", def.Handle()).Msg("Target definition saved")
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: overwrite the input)")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "resolve before saving to populate the profile cache")

	return cmd
}
