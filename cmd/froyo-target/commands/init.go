package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/targetplatform/pkg/config"
	"github.com/openfroyo/targetplatform/pkg/profile"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file and profile cache",
		Long: `Write a default configuration file (unless one exists), create the profile
cache directory and initialize the profile index database.`,
		Example: `  # Initialize with the per-user defaults
  froyo-target init

  # Initialize a project-local cache
  froyo-target init --config ./froyo-target.yaml --cache-dir ./.froyo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(configPath)
			if path == "" {
				return errors.New("no configuration path: pass --config")
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cacheDir != "" {
				cfg.CacheDir = cacheDir
			}

			log.Info().Str("config", path).Str("cache_dir", cfg.CacheDir).Msg("Initializing")
			out := cmd.OutOrStdout()

			if err := writeConfig(path, cfg, force); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return err
				}
				fmt.Fprintf(out, "Config file already exists: %s\n", path)
			} else {
				fmt.Fprintf(out, "Created config file: %s\n", path)
			}

			dirs := []string{cfg.CacheDir, filepath.Join(cfg.CacheDir, profile.ProfilesDir)}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}
			fmt.Fprintf(out, "Created cache directory: %s\n", cfg.CacheDir)

			index, err := openIndex(cmd.Context(), cfg.DatabasePath())
			if err != nil {
				return err
			}
			if err := index.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			fmt.Fprintf(out, "Initialized profile index: %s\n", cfg.DatabasePath())

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

// writeConfig writes cfg to path. It returns an error wrapping os.ErrExist
// when path exists and force is false.
func writeConfig(path string, cfg *config.Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s: %w", path, os.ErrExist)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
