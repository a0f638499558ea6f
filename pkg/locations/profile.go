package locations

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/manifest"
	"github.com/openfroyo/targetplatform/pkg/version"
)

// ProfileLocation contributes the modules of an existing installation, as
// listed by its bundles.info. Installations without one are scanned like a
// directory location.
type ProfileLocation struct {
	engine.ResolutionCache
	installPath string
	configArea  string
}

// NewProfileLocation creates an installation location. An empty configArea
// means the installation's own configuration folder.
func NewProfileLocation(installPath, configArea string) *ProfileLocation {
	return &ProfileLocation{installPath: installPath, configArea: configArea}
}

// InstallPath returns the installation root.
func (l *ProfileLocation) InstallPath() string { return l.installPath }

// ConfigArea returns the configuration area override, or "".
func (l *ProfileLocation) ConfigArea() string { return l.configArea }

// Type implements engine.Location.
func (l *ProfileLocation) Type() engine.LocationType { return engine.LocationProfile }

// Resolve implements engine.Location.
func (l *ProfileLocation) Resolve(ctx context.Context, _ *engine.TargetDefinition, force bool) *engine.Status {
	if st, ok := l.Cached(force); ok {
		return st
	}
	bundles, features, st := l.read(ctx)
	return l.Commit(ctx, bundles, features, st)
}

func (l *ProfileLocation) read(ctx context.Context) ([]engine.TargetBundle, []engine.TargetFeature, *engine.Status) {
	if _, err := os.Stat(l.installPath); err != nil {
		return nil, nil, engine.ErrorStatus(engine.CodeLocationUnavailable,
			"Installation "+l.installPath+" does not exist or cannot be read", err)
	}

	infoPath := manifest.BundlesInfoPath(l.installPath, l.configArea)
	f, err := os.Open(infoPath)
	if errors.Is(err, os.ErrNotExist) {
		zerolog.Ctx(ctx).Debug().Str("install", l.installPath).Msg("No bundles.info, scanning plugins folder")
		return scanDirectory(ctx, l.installPath)
	}
	if err != nil {
		return nil, nil, engine.ErrorStatus(engine.CodeLocationUnavailable, "Cannot read "+infoPath, err)
	}
	defer f.Close()

	infos, err := manifest.ReadBundlesInfo(f)
	if err != nil {
		return nil, nil, engine.ErrorStatus(engine.CodeLocationUnavailable, "Cannot parse "+infoPath, err)
	}

	base, err := manifest.FrameworkBase(l.installPath, l.configArea)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("install", l.installPath).Msg("Ignoring unreadable config.ini")
	}

	bundles := make([]engine.TargetBundle, 0, len(infos))
	for _, info := range infos {
		if ctx.Err() != nil {
			return nil, nil, engine.CancelStatus(ctx.Err())
		}
		path := manifest.ResolveBundleLocation(info.Location, l.installPath, base)
		b := engine.TargetBundle{
			SymbolicName: info.SymbolicName,
			Version:      version.Normalize(info.Version),
			Location:     fileURI(path),
		}
		if m, err := manifest.ReadBundle(path); err == nil {
			b.IsFragment = m.IsFragment()
			b.IsSourceBundle = m.IsSource()
		}
		bundles = append(bundles, b)
	}

	descriptors, err := manifest.ScanFeatures(filepath.Join(l.installPath, manifest.FeaturesDir))
	if err != nil {
		return nil, nil, engine.ErrorStatus(engine.CodeLocationUnavailable,
			"Features of "+l.installPath+" cannot be read", err)
	}
	features := make([]engine.TargetFeature, 0, len(descriptors))
	for _, d := range descriptors {
		features = append(features, d.ToTarget(fileURI(d.Path), nil))
	}
	return bundles, features, engine.OKStatus()
}

// VMArguments returns the arguments of the installation's launcher
// configuration, or nil when it has none.
func (l *ProfileLocation) VMArguments() []string {
	args, err := manifest.ReadLauncherVMArgs(l.installPath)
	if err != nil {
		return nil
	}
	return args
}

// ContentEqual implements engine.Location.
func (l *ProfileLocation) ContentEqual(other engine.Location) bool {
	o, ok := other.(*ProfileLocation)
	return ok && filepath.Clean(o.installPath) == filepath.Clean(l.installPath) &&
		o.configArea == l.configArea
}

func (l *ProfileLocation) String() string { return l.installPath }
