// Package engine provides the core types of the target platform resolution engine.
//
// # Overview
//
// A TargetDefinition describes the modules ("bundles") and feature groups a
// build or launch should see. It holds an ordered list of locations plus
// environment settings and an optional inclusion list. Resolve fans out to
// every location, merges their content without duplicates and applies the
// inclusion list:
//
//	def := engine.NewTargetDefinition("", engine.WithProfileCache(cache))
//	def.SetTargetLocations([]engine.Location{dir, feature})
//	st := def.Resolve(ctx, false)
//	for _, b := range def.Bundles() {
//	    fmt.Println(b.SymbolicName, b.Version)
//	}
//
// # Locations
//
// Location is implemented by the variants in package locations: directory,
// installation profile, feature and installable unit. Each embeds a
// ResolutionCache so that a cancelled resolve never leaves it half
// populated.
//
// # Status
//
// Resolution problems are reported as a Status tree, never as Go errors.
// The severity of a multi-status is the worst severity among its children:
//
//	ok < info < warning < error < cancel
//
// Inclusion entries that match nothing add one child each but do not make
// resolution fail; the remaining bundles are still available.
//
// # Error Classification
//
// I/O in the persistence and cache layers returns regular errors. Errors
// about repositories and documents are wrapped in EngineError so callers can
// tell transient failures from permanent ones:
//
//	if engine.IsTransient(err) {
//	    // Retry the fetch later
//	}
//
// # Thread Safety
//
// Resolve may run locations concurrently, bounded by WithParallelism.
// Setters must not be called while Resolve is running on the same
// definition; callers own that synchronization.
package engine
