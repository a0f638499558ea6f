package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newProfilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage cached provisioning profiles",
		Long: `Provisioning profiles cache the resolution of installable unit locations.
A profile is kept while a saved target definition references it.`,
	}

	cmd.AddCommand(newProfilesListCommand())
	cmd.AddCommand(newProfilesGCCommand())
	cmd.AddCommand(newProfilesForgetCommand())

	return cmd
}

func newProfilesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.profiles.List(ctx)
			if err != nil {
				return err
			}
			referenced, err := a.index.ReferencedProfiles(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTARGET\tBUNDLES\tFEATURES\tSTATUS\tSAVED\tLAST USED")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%t\t%s\n",
					shortID(r.ID), r.Handle, r.BundleCount, r.FeatureCount, r.Severity,
					referenced[r.ID], r.LastUsedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newProfilesGCCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete profiles not referenced by any saved target definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if dryRun {
				records, err := a.profiles.List(ctx)
				if err != nil {
					return err
				}
				referenced, err := a.index.ReferencedProfiles(ctx)
				if err != nil {
					return err
				}
				for _, r := range records {
					if !referenced[r.ID] {
						fmt.Fprintf(cmd.OutOrStdout(), "would remove %s (%s)\n", shortID(r.ID), r.Handle)
					}
				}
				return nil
			}

			removed, err := a.profiles.CleanOrphanedProfiles(ctx)
			for _, id := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", shortID(id))
			}
			if err != nil {
				return fmt.Errorf("profile cleanup incomplete: %w", err)
			}
			log.Info().Int("removed", len(removed)).Msg("Profile cleanup finished")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list indexed profiles that would be removed")

	return cmd
}

func newProfilesForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <file>",
		Short: "Unregister a saved target definition",
		Long: `Unregister a saved target definition so that its profiles become eligible
for "profiles gc".`,
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
			if err := a.profiles.Forget(ctx, def.Handle()); err != nil {
				return err
			}
			log.Info().Str("target", def.Handle()).Msg("Target definition unregistered")
			return nil
		},
	}
}

// shortID strips the digest algorithm and truncates for display.
func shortID(id string) string {
	const prefix = "sha256:"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		id = id[len(prefix):]
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
