package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/telemetry"
)

// EnvVar names the environment variable holding the configuration path.
const EnvVar = "FROYO_TARGET_CONFIG"

// Config is the froyo-target configuration.
type Config struct {
	// CacheDir holds provisioning profiles.
	CacheDir string `yaml:"cacheDir" validate:"required"`

	// Database is the SQLite index path. Defaults to <cacheDir>/index.db.
	Database string `yaml:"database"`

	// Repositories are used by installable unit locations that list none.
	Repositories []string `yaml:"repositories" validate:"dive,required"`

	// Parallelism bounds concurrent location resolution. 0 means GOMAXPROCS.
	Parallelism int `yaml:"parallelism" validate:"gte=0,lte=256"`

	// Environment fills in settings a definition leaves empty.
	Environment EnvironmentConfig `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// EnvironmentConfig holds default environment settings.
type EnvironmentConfig struct {
	OS   string `yaml:"os"`
	WS   string `yaml:"ws"`
	Arch string `yaml:"arch"`
	NL   string `yaml:"nl"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Caller bool   `yaml:"caller"`
}

// MetricsConfig configures the Prometheus endpoint served by watch.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listenAddress" validate:"required_if=Enabled true"`
	Path          string `yaml:"path" validate:"startswith=/"`
	Namespace     string `yaml:"namespace" validate:"required"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"oneof=stdout otlp none"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cache, err := os.UserCacheDir()
	if err != nil {
		cache = os.TempDir()
	}
	return &Config{
		CacheDir: filepath.Join(cache, "froyo-target"),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "froyo_target",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
	}
}

// Path returns the configuration path: flag if set, then the environment
// variable, then the per-user default.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvVar); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "froyo-target", "config.yaml")
}

// Load reads the file at path over Default. A missing file or empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// DatabasePath returns the SQLite index path.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.CacheDir, "index.db")
}

// DefaultEnvironment returns the configured fallback environment. Pass it to
// engine.WithDefaultEnvironment so it fills settings a definition leaves
// empty without changing the definition itself.
func (c *Config) DefaultEnvironment() engine.Environment {
	return engine.Environment{
		OS:   c.Environment.OS,
		WS:   c.Environment.WS,
		Arch: c.Environment.Arch,
		NL:   c.Environment.NL,
	}
}

// Telemetry converts the configuration into telemetry settings.
func (c *Config) Telemetry(serviceVersion string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = serviceVersion
	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Logging.EnableCaller = c.Logging.Caller
	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	tc.Metrics.Path = c.Metrics.Path
	tc.Metrics.Namespace = c.Metrics.Namespace
	tc.Tracing.Enabled = c.Tracing.Enabled && c.Tracing.Exporter != "none"
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	tc.Tracing.Insecure = c.Tracing.Insecure
	return tc
}
