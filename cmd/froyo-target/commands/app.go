package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/targetplatform/pkg/config"
	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/locations"
	"github.com/openfroyo/targetplatform/pkg/profile"
	"github.com/openfroyo/targetplatform/pkg/provisioning"
	"github.com/openfroyo/targetplatform/pkg/stores"
	"github.com/openfroyo/targetplatform/pkg/targetfile"
	"github.com/openfroyo/targetplatform/pkg/telemetry"
)

// app holds the services shared by commands.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	index    *stores.SQLiteStore
	profiles *profile.Store
	loader   *provisioning.Loader
}

// openApp loads the configuration, sets up telemetry and opens the profile
// index. The returned context carries the configured logger. Overrides run
// after the global flags are applied.
func openApp(ctx context.Context, overrides ...func(*config.Config)) (*app, context.Context, error) {
	cfg, err := config.Load(config.Path(configPath))
	if err != nil {
		return nil, ctx, err
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, ctx, err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(serviceVersion))
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	log.Logger = *tel.Logger.Zerolog()
	ctx = tel.WithContext(ctx)

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, ctx, fmt.Errorf("failed to create cache directory: %w", err)
	}
	index, err := openIndex(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, ctx, err
	}

	profiles, err := profile.New(cfg.CacheDir, index, profile.WithObserver(tel.Metrics))
	if err != nil {
		_ = index.Close()
		return nil, ctx, err
	}

	return &app{
		cfg:      cfg,
		tel:      tel,
		index:    index,
		profiles: profiles,
		loader:   provisioning.NewLoader(provisioning.WithDefaultRepositories(cfg.Repositories...)),
	}, ctx, nil
}

func openIndex(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	index, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := index.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := index.Migrate(ctx); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return index, nil
}

// Close releases the index and flushes telemetry.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
	if err := a.index.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close profile index")
	}
}

// loadDefinition reads a target file and wires it to the app's services.
func (a *app) loadDefinition(path string) (*engine.TargetDefinition, error) {
	def, err := targetfile.LoadFile(path,
		engine.WithProfileCache(a.profiles),
		engine.WithObserver(a.tel.Metrics),
		engine.WithParallelism(a.cfg.Parallelism),
		engine.WithDefaultEnvironment(a.cfg.DefaultEnvironment()),
	)
	if err != nil {
		return nil, err
	}
	for _, loc := range def.Locations() {
		if iu, ok := loc.(*locations.InstallableUnitLocation); ok {
			iu.SetLoader(a.loader)
		}
	}
	return def, nil
}

// resolution is the JSON form of a resolved definition.
type resolution struct {
	Handle   string                 `json:"handle"`
	Name     string                 `json:"name,omitempty"`
	Status   *engine.Status         `json:"status"`
	Bundles  []engine.TargetBundle  `json:"bundles"`
	Features []engine.TargetFeature `json:"features"`
}

func printResolution(w io.Writer, def *engine.TargetDefinition, st *engine.Status) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resolution{
			Handle:   def.Handle(),
			Name:     def.Name(),
			Status:   st,
			Bundles:  def.Bundles(),
			Features: def.Features(),
		})
	}

	fmt.Fprintf(w, "Target:   %s\n", def.Handle())
	if def.Name() != "" {
		fmt.Fprintf(w, "Name:     %s\n", def.Name())
	}
	fmt.Fprintf(w, "Bundles:  %d\n", len(def.Bundles()))
	fmt.Fprintf(w, "Features: %d\n", len(def.Features()))
	fmt.Fprintf(w, "Status:\n%s\n", indent(st.String()))
	return nil
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

// failed reports whether st should fail the command.
func failed(st *engine.Status) error {
	if st.Severity == engine.SeverityCancel {
		return fmt.Errorf("cancelled")
	}
	if st.Severity >= engine.SeverityError {
		return fmt.Errorf("resolution finished with %d error(s)", len(st.Errors()))
	}
	return nil
}
