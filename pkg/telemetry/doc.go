// Package telemetry provides logging, tracing and metrics for froyo-target.
//
// # Logging
//
// Logger wraps zerolog. WithContext stores both the wrapper and the
// underlying zerolog logger on the context; library packages log with
// zerolog.Ctx(ctx) and never touch global state.
//
//	logger := telemetry.NewLoggerTo(os.Stderr, cfg.Logging)
//	ctx = logger.WithContext(ctx)
//	zerolog.Ctx(ctx).Info().Msg("Target resolved")
//
// # Tracing
//
// An enabled Tracer installs its provider globally. The engine starts a
// "target.resolve" span per definition and a "location.resolve" span per
// location; the CLI wraps each command in a "command.<name>" span.
//
//	ctx, span := tel.Tracer.StartCommandSpan(ctx, "resolve", def.Handle())
//	defer span.End()
//
// Supported exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics implements engine.Observer and the profile cache observer:
//
//	froyo_target_location_resolve_duration_seconds{location_type,severity}
//	froyo_target_target_resolve_duration_seconds{severity}
//	froyo_target_resolved_bundles
//	froyo_target_profile_cache_lookups_total{result="hit|miss"}
//	froyo_target_orphan_profiles_removed_total
//
// Serve exposes them over HTTP until its context is cancelled.
package telemetry
