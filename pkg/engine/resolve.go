package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/openfroyo/targetplatform/pkg/engine")

// Resolve resolves every location, merges their content, applies the
// inclusion list and caches the result. Locations that are already resolved
// are reused unless force is set. Locations are resolved concurrently; they
// never depend on each other's output.
//
// When ctx is cancelled the previous resolution is kept and a cancel status
// is returned.
func (d *TargetDefinition) Resolve(ctx context.Context, force bool) *Status {
	locations := d.Locations()

	ctx, span := tracer.Start(ctx, "target.resolve",
		trace.WithAttributes(
			attribute.String("target.handle", d.handle),
			attribute.Int("target.locations", len(locations)),
			attribute.Bool("target.force", force),
		),
	)
	defer span.End()

	logger := zerolog.Ctx(ctx).With().Str("target", d.handle).Logger()
	start := time.Now()

	statuses := make([]*Status, len(locations))
	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for i, loc := range locations {
		g.Go(func() error {
			statuses[i] = d.resolveLocation(ctx, loc, force)
			return nil
		})
	}
	_ = g.Wait()

	if st := StatusFromContext(ctx); st != nil {
		span.SetStatus(codes.Error, "cancelled")
		logger.Debug().Msg("Target resolution cancelled")
		return st
	}

	res := d.merge(locations, statuses)
	res.sequence = d.sequence

	d.mu.Lock()
	d.res = res
	d.mu.Unlock()

	elapsed := time.Since(start)
	if d.observer != nil {
		d.observer.DefinitionResolved(res.status.Severity, elapsed, len(res.bundles))
	}
	span.SetAttributes(attribute.Int("target.bundles", len(res.bundles)))
	if res.status.Severity >= SeverityError {
		span.SetStatus(codes.Error, res.status.Message)
	}

	logger.Info().
		Int("bundles", len(res.bundles)).
		Int("features", len(res.features)).
		Str("severity", res.status.Severity.String()).
		Dur("duration", elapsed).
		Msg("Target resolved")

	return res.status
}

func (d *TargetDefinition) resolveLocation(ctx context.Context, loc Location, force bool) *Status {
	ctx, span := tracer.Start(ctx, "location.resolve",
		trace.WithAttributes(
			attribute.String("location.type", string(loc.Type())),
			attribute.String("location", loc.String()),
		),
	)
	defer span.End()

	start := time.Now()
	st := loc.Resolve(ctx, d, force)
	if st == nil {
		st = OKStatus()
	}
	elapsed := time.Since(start)

	bundles := len(loc.Bundles())
	if d.observer != nil {
		d.observer.LocationResolved(loc.Type(), st.Severity, elapsed, bundles)
	}
	if st.Severity >= SeverityError {
		span.SetStatus(codes.Error, st.Message)
	}

	zerolog.Ctx(ctx).Debug().
		Str("location_type", string(loc.Type())).
		Str("location", loc.String()).
		Int("bundles", bundles).
		Str("severity", st.Severity.String()).
		Dur("duration", elapsed).
		Msg("Location resolved")

	return st
}

type featureKey struct {
	id, version string
}

func (d *TargetDefinition) merge(locations []Location, statuses []*Status) *resolution {
	var all []TargetBundle
	var features []TargetFeature
	seenBundles := make(map[bundleKey]bool)
	seenFeatures := make(map[featureKey]bool)

	var problems []*Status
	for i, loc := range locations {
		for _, b := range loc.Bundles() {
			if k := b.key(); !seenBundles[k] {
				seenBundles[k] = true
				all = append(all, b)
			}
		}
		for _, f := range loc.Features() {
			if k := (featureKey{f.ID, f.Version}); !seenFeatures[k] {
				seenFeatures[k] = true
				features = append(features, f)
			}
		}
		if !statuses[i].IsOK() {
			problems = append(problems, statuses[i])
		}
	}
	if all == nil {
		all = []TargetBundle{}
	}
	if features == nil {
		features = []TargetFeature{}
	}

	bundles, withExcluded, filterProblems := filterBundles(all, features, d.included, d.optional)
	problems = append(problems, filterProblems...)

	status := OKStatus()
	if len(problems) > 0 {
		status = NewMultiStatus(CodeResolutionProblems, "Problems occurred while resolving the target contents", problems...)
	}

	return &resolution{
		bundles:  bundles,
		all:      withExcluded,
		features: features,
		status:   status,
	}
}

// filterBundles applies the inclusion list. A plugin entry includes the
// matching module; a feature entry includes the modules of the feature and of
// every feature it includes. Entries matching nothing produce one status
// each: error for mandatory entries, info for optional ones.
func filterBundles(all []TargetBundle, features []TargetFeature, included, optional []NameVersionDescriptor) (bundles, withExcluded []TargetBundle, problems []*Status) {
	if included == nil && optional == nil {
		return all, all, nil
	}

	byName := make(map[string][]int)
	for i, b := range all {
		byName[b.SymbolicName] = append(byName[b.SymbolicName], i)
	}
	featuresByID := make(map[string][]TargetFeature)
	for _, f := range features {
		featuresByID[f.ID] = append(featuresByID[f.ID], f)
	}

	keep := make(map[int]bool)
	markPlugin := func(p NameVersionDescriptor, fallbackToName bool) bool {
		matched := false
		for _, i := range byName[p.ID] {
			if p.MatchesVersion(all[i].Version) {
				keep[i] = true
				matched = true
			}
		}
		if !matched && fallbackToName {
			for _, i := range byName[p.ID] {
				keep[i] = true
				matched = true
			}
		}
		return matched
	}

	apply := func(entry NameVersionDescriptor, severity Severity) {
		switch entry.Kind {
		case KindFeature:
			candidates := featuresByID[entry.ID]
			if len(candidates) == 0 {
				problems = append(problems, NewStatus(severity, CodeFeatureDoesNotExist,
					"Feature "+entry.ID+" does not exist in the target"))
				return
			}
			var roots []TargetFeature
			for _, f := range candidates {
				if entry.MatchesVersion(f.Version) {
					roots = append(roots, f)
				}
			}
			if len(roots) == 0 {
				problems = append(problems, NewStatus(severity, CodeVersionDoesNotExist,
					"Version "+entry.Version+" of feature "+entry.ID+" does not exist in the target"))
				return
			}
			visited := make(map[featureKey]bool)
			for _, root := range roots {
				expandFeature(root, featuresByID, visited, func(p NameVersionDescriptor) {
					markPlugin(p, true)
				})
			}
		default:
			if len(byName[entry.ID]) == 0 {
				problems = append(problems, NewStatus(severity, CodePluginDoesNotExist,
					"Plug-in "+entry.ID+" does not exist in the target"))
				return
			}
			if !markPlugin(entry, false) {
				problems = append(problems, NewStatus(severity, CodeVersionDoesNotExist,
					"Version "+entry.Version+" of plug-in "+entry.ID+" does not exist in the target"))
			}
		}
	}

	for _, entry := range included {
		apply(entry, SeverityError)
	}
	for _, entry := range optional {
		apply(entry, SeverityInfo)
	}

	bundles = []TargetBundle{}
	withExcluded = make([]TargetBundle, 0, len(all))
	for i, b := range all {
		if keep[i] {
			bundles = append(bundles, b)
			withExcluded = append(withExcluded, b)
			continue
		}
		if b.IsOK() {
			b.Status = Infof(CodeExcluded, "%s is not included in the target", b.SymbolicName)
		}
		withExcluded = append(withExcluded, b)
	}
	return bundles, withExcluded, problems
}

// expandFeature visits the plugins of f and of every feature it includes,
// expanding each feature at most once.
func expandFeature(f TargetFeature, byID map[string][]TargetFeature, visited map[featureKey]bool, visit func(NameVersionDescriptor)) {
	k := featureKey{f.ID, f.Version}
	if visited[k] {
		return
	}
	visited[k] = true
	for _, p := range f.Plugins {
		visit(p)
	}
	for _, inc := range f.Includes {
		for _, child := range byID[inc.ID] {
			if inc.MatchesVersion(child.Version) {
				expandFeature(child, byID, visited, visit)
			}
		}
	}
}
