package locations

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/manifest"
	"github.com/openfroyo/targetplatform/pkg/version"
)

// FeatureLocation contributes one feature and, transitively, the modules of
// the feature and of every feature it includes. The root directory holds
// features/ and plugins/ folders.
type FeatureLocation struct {
	engine.ResolutionCache
	root           string
	featureID      string
	featureVersion string
}

// NewFeatureLocation creates a feature location. An empty version selects
// the highest version present.
func NewFeatureLocation(root, featureID, featureVersion string) *FeatureLocation {
	return &FeatureLocation{root: root, featureID: featureID, featureVersion: featureVersion}
}

// Root returns the directory holding the feature.
func (l *FeatureLocation) Root() string { return l.root }

// FeatureID returns the feature identifier.
func (l *FeatureLocation) FeatureID() string { return l.featureID }

// FeatureVersion returns the requested version, or "".
func (l *FeatureLocation) FeatureVersion() string { return l.featureVersion }

// Type implements engine.Location.
func (l *FeatureLocation) Type() engine.LocationType { return engine.LocationFeature }

// Resolve implements engine.Location. A missing feature yields one error
// status and a single placeholder bundle standing for the feature.
func (l *FeatureLocation) Resolve(ctx context.Context, def *engine.TargetDefinition, force bool) *engine.Status {
	if st, ok := l.Cached(force); ok {
		return st
	}
	env := engine.DefaultEnvironment()
	if def != nil {
		env = def.Environment()
	}
	bundles, features, st := l.walk(ctx, env)
	return l.Commit(ctx, bundles, features, st)
}

type featureWalk struct {
	env      engine.Environment
	features map[string][]*manifest.Feature
	plugins  map[string][]engine.TargetBundle

	visited  map[string]bool
	seen     map[string]bool
	bundles  []engine.TargetBundle
	targets  []engine.TargetFeature
	problems []*engine.Status
}

func (l *FeatureLocation) walk(ctx context.Context, env engine.Environment) ([]engine.TargetBundle, []engine.TargetFeature, *engine.Status) {
	descriptors, err := manifest.ScanFeatures(filepath.Join(l.root, manifest.FeaturesDir))
	if err != nil {
		return nil, nil, engine.ErrorStatus(engine.CodeLocationUnavailable,
			"Features of "+l.root+" cannot be read", err)
	}

	w := &featureWalk{
		env:      env,
		features: make(map[string][]*manifest.Feature),
		plugins:  make(map[string][]engine.TargetBundle),
		visited:  make(map[string]bool),
		seen:     make(map[string]bool),
		bundles:  []engine.TargetBundle{},
		targets:  []engine.TargetFeature{},
	}
	for _, d := range descriptors {
		w.features[d.ID] = append(w.features[d.ID], d)
	}

	root := w.find(l.featureID, l.featureVersion)
	if root == nil {
		ver := l.featureVersion
		if ver == "" {
			ver = version.Empty.String()
		}
		st := engine.Errorf(engine.CodeFeatureDoesNotExist,
			"Feature %s does not exist in %s", l.displayName(), l.root)
		placeholder := engine.TargetBundle{SymbolicName: l.featureID, Version: ver, Status: st}
		return []engine.TargetBundle{placeholder}, []engine.TargetFeature{}, st
	}

	bundles, _, err := scanBundles(ctx, filepath.Join(l.root, manifest.PluginsDir))
	if err != nil && ctx.Err() != nil {
		return nil, nil, engine.CancelStatus(ctx.Err())
	}
	for _, b := range bundles {
		w.plugins[b.SymbolicName] = append(w.plugins[b.SymbolicName], b)
	}

	w.expand(root)
	return w.bundles, w.targets, problemStatus("Problems resolving feature "+l.displayName(), w.problems)
}

func (l *FeatureLocation) displayName() string {
	if l.featureVersion == "" {
		return l.featureID
	}
	return l.featureID + " " + l.featureVersion
}

// find returns the feature with id and version; an empty or 0.0.0 version
// selects the highest one.
func (w *featureWalk) find(id, ver string) *manifest.Feature {
	candidates := w.features[id]
	if len(candidates) == 0 {
		return nil
	}
	if engine.FeatureDescriptor(id, ver).AnyVersion() {
		return candidates[0]
	}
	for _, f := range candidates {
		if version.Normalize(f.Version) == version.Normalize(ver) {
			return f
		}
	}
	return nil
}

func (w *featureWalk) expand(f *manifest.Feature) {
	key := f.ID + "_" + f.Version
	if w.visited[key] {
		return
	}
	w.visited[key] = true

	envs := []engine.Environment{w.env}
	w.targets = append(w.targets, f.ToTarget(fileURI(f.Path), envs))

	for _, p := range f.Plugins {
		if !p.Filter().Matches(w.env) {
			continue
		}
		w.addPlugin(f, p)
	}

	for _, inc := range f.Includes {
		if !inc.Filter().Matches(w.env) {
			continue
		}
		child := w.find(inc.ID, inc.Version)
		if child == nil {
			if inc.Optional {
				continue
			}
			w.problems = append(w.problems, engine.Errorf(engine.CodeFeatureDoesNotExist,
				"Feature %s %s included by %s does not exist", inc.ID, inc.Version, f.ID))
			continue
		}
		w.expand(child)
	}
}

func (w *featureWalk) addPlugin(owner *manifest.Feature, p manifest.FeaturePlugin) {
	candidates := w.plugins[p.ID]
	if len(candidates) == 0 {
		st := engine.Errorf(engine.CodePluginDoesNotExist,
			"Plug-in %s required by feature %s does not exist", p.ID, owner.ID)
		w.add(engine.TargetBundle{SymbolicName: p.ID, Version: version.Normalize(p.Version), Status: st})
		return
	}

	want := engine.PluginDescriptor(p.ID, p.Version)
	if want.AnyVersion() {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if compareVersion(c.Version, best.Version) > 0 {
				best = c
			}
		}
		w.add(best)
		return
	}
	for _, c := range candidates {
		if want.MatchesVersion(c.Version) {
			w.add(c)
			return
		}
	}

	st := engine.Errorf(engine.CodeVersionDoesNotExist,
		"Version %s of plug-in %s required by feature %s does not exist", p.Version, p.ID, owner.ID)
	w.add(engine.TargetBundle{SymbolicName: p.ID, Version: version.Normalize(p.Version), Status: st})
}

func (w *featureWalk) add(b engine.TargetBundle) {
	key := b.SymbolicName + "_" + b.Version + "@" + b.Location
	if w.seen[key] {
		return
	}
	w.seen[key] = true
	w.bundles = append(w.bundles, b)
	if !b.IsOK() {
		w.problems = append(w.problems, b.Status)
	}
}

// ContentEqual implements engine.Location.
func (l *FeatureLocation) ContentEqual(other engine.Location) bool {
	o, ok := other.(*FeatureLocation)
	return ok && filepath.Clean(o.root) == filepath.Clean(l.root) &&
		o.featureID == l.featureID &&
		version.Normalize(o.featureVersion) == version.Normalize(l.featureVersion)
}

func (l *FeatureLocation) String() string {
	return fmt.Sprintf("%s (%s)", l.displayName(), l.root)
}

func compareVersion(a, b string) int {
	va, errA := version.Parse(a)
	vb, errB := version.Parse(b)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return va.Compare(vb)
}
