package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/targetplatform/pkg/compare"
	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/locations"
)

func newCompareCommand() *cobra.Command {
	var (
		platform   string
		configArea string
		severity   string
		report     bool
	)

	cmd := &cobra.Command{
		Use:   "compare <file> --platform <install dir | inventory file>",
		Short: "Compare a target definition with a running platform",
		Long: `Resolve a target definition and compare its bundles with those of a running
platform. The platform is either an installation directory (read through its
bundles.info) or an inventory file of "name,version" lines.

Every bundle name whose versions differ is reported as missing from the
definition, missing from the platform, or both.`,
		Example: `  # Compare against an installation
  froyo-target compare release.target --platform /opt/eclipse

  # Compare against an inventory and show a unified diff
  froyo-target compare release.target --platform running.csv --report`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := engine.ParseSeverity(severity)
			if err != nil {
				return err
			}

			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			def, err := a.loadDefinition(args[0])
			if err != nil {
				return err
			}

			ctx, span := a.tel.Tracer.StartCommandSpan(ctx, "compare", def.Handle())
			defer span.End()

			if st := def.Resolve(ctx, false); st.Severity >= engine.SeverityError {
				log.Warn().Str("status", st.Message).Msg("Target definition did not resolve cleanly")
			}

			live, err := platformBundles(ctx, platform, configArea)
			if err != nil {
				return err
			}

			result := compare.Compare(def, live, compare.WithSeverity(sev))
			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, result.String())
			}

			if report && !result.IsOK() {
				diff, err := compare.Report(def, live)
				if err != nil {
					return err
				}
				fmt.Fprint(out, diff)
			}

			if result.Severity >= engine.SeverityError {
				return fmt.Errorf("target definition does not match the platform")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "installation directory or inventory file")
	cmd.Flags().StringVar(&configArea, "config-area", "", "configuration area of the installation (default <platform>/configuration)")
	cmd.Flags().StringVar(&severity, "severity", "warning", "severity of each difference (info, warning, error)")
	cmd.Flags().BoolVar(&report, "report", false, "print a unified diff of the differences")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}

// platformBundles reads the bundles of the running platform.
func platformBundles(ctx context.Context, platform, configArea string) ([]engine.TargetBundle, error) {
	info, err := os.Stat(platform)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform: %w", err)
	}

	if !info.IsDir() {
		f, err := os.Open(platform)
		if err != nil {
			return nil, fmt.Errorf("failed to open inventory: %w", err)
		}
		defer f.Close()
		return compare.ReadInventory(f)
	}

	loc := locations.NewProfileLocation(platform, configArea)
	if st := loc.Resolve(ctx, nil, false); st.Severity >= engine.SeverityError {
		return nil, fmt.Errorf("failed to read installation %s: %w", platform, st)
	}
	return loc.Bundles(), nil
}
