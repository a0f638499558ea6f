// Package config loads the froyo-target configuration file.
//
// # Overview
//
// The configuration is a YAML document validated with struct tags. Every
// field has a default, so an absent file yields Default(). The path is taken
// from the --config flag, then the FROYO_TARGET_CONFIG environment variable,
// then ~/.config/froyo-target/config.yaml.
//
// # Example
//
//	cacheDir: /var/cache/froyo-target
//	repositories:
//	  - https://repo.example.com/release
//	parallelism: 4
//	environment:
//	  os: linux
//	  ws: gtk
//	  arch: x86_64
//	logging:
//	  level: debug
//	  format: json
//	metrics:
//	  enabled: true
//	  listenAddress: ":9090"
//	tracing:
//	  enabled: true
//	  exporter: otlp
//	  endpoint: otel-collector:4317
//
// # Usage
//
//	cfg, err := config.Load(config.Path(flagValue))
//	if err != nil {
//	    log.Fatal().Err(err).Msg("invalid configuration")
//	}
//	loader := provisioning.NewLoader(provisioning.WithDefaultRepositories(cfg.Repositories...))
package config
