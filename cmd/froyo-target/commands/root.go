package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	cacheDir   string
	verbose    bool
	jsonOutput bool

	serviceVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	serviceVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-target",
		Short: "Resolve and compare target platform definitions",
		Long: `froyo-target turns a target definition (an ordered list of bundle locations
plus environment and inclusion settings) into the concrete set of bundles and
features it denotes.

Locations:
  - directory          a folder of bundles (or its plugins/ subfolder)
  - profile            an existing installation (bundles.info)
  - feature            a feature and everything it includes
  - installable_unit   units resolved against metadata repositories`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $FROYO_TARGET_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "override the profile cache directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newSaveCommand())
	rootCmd.AddCommand(newCompareCommand())
	rootCmd.AddCommand(newProfilesCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
