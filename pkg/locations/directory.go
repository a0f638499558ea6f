// Package locations implements the four kinds of target locations:
// directories of modules, installations (profiles), features and
// installable units resolved from metadata repositories.
package locations

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/manifest"
)

// DirectoryLocation contributes every module found in a directory, or in its
// plugins subdirectory when there is one.
type DirectoryLocation struct {
	engine.ResolutionCache
	path string
}

// NewDirectoryLocation creates a directory location.
func NewDirectoryLocation(path string) *DirectoryLocation {
	return &DirectoryLocation{path: path}
}

// Path returns the configured directory.
func (l *DirectoryLocation) Path() string { return l.path }

// Type implements engine.Location.
func (l *DirectoryLocation) Type() engine.LocationType { return engine.LocationDirectory }

// Resolve implements engine.Location.
func (l *DirectoryLocation) Resolve(ctx context.Context, _ *engine.TargetDefinition, force bool) *engine.Status {
	if st, ok := l.Cached(force); ok {
		return st
	}
	bundles, features, st := scanDirectory(ctx, l.path)
	return l.Commit(ctx, bundles, features, st)
}

// ContentEqual implements engine.Location.
func (l *DirectoryLocation) ContentEqual(other engine.Location) bool {
	o, ok := other.(*DirectoryLocation)
	return ok && filepath.Clean(o.path) == filepath.Clean(l.path)
}

func (l *DirectoryLocation) String() string { return l.path }

// scanDirectory reads the modules and features of dir. A missing or
// unreadable dir yields a single error status and no content. Files that are
// not modules are skipped; modules with unusable manifests become error
// placeholders.
func scanDirectory(ctx context.Context, dir string) ([]engine.TargetBundle, []engine.TargetFeature, *engine.Status) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, engine.ErrorStatus(engine.CodeLocationUnavailable,
			"Directory "+dir+" does not exist or cannot be read", err)
	}
	if !info.IsDir() {
		return nil, nil, engine.Errorf(engine.CodeLocationUnavailable, "%s is not a directory", dir)
	}

	pluginsDir := dir
	if fi, err := os.Stat(filepath.Join(dir, manifest.PluginsDir)); err == nil && fi.IsDir() {
		pluginsDir = filepath.Join(dir, manifest.PluginsDir)
	}

	bundles, problems, err := scanBundles(ctx, pluginsDir)
	if err != nil {
		return nil, nil, engine.ErrorStatus(engine.CodeLocationUnavailable,
			"Directory "+pluginsDir+" cannot be read", err)
	}

	descriptors, err := manifest.ScanFeatures(filepath.Join(dir, manifest.FeaturesDir))
	if err != nil {
		return nil, nil, engine.ErrorStatus(engine.CodeLocationUnavailable,
			"Features of "+dir+" cannot be read", err)
	}
	features := make([]engine.TargetFeature, 0, len(descriptors))
	for _, f := range descriptors {
		features = append(features, f.ToTarget(fileURI(f.Path), nil))
	}

	return bundles, features, problemStatus("Problems reading "+dir, problems)
}

// scanBundles reads each entry of dir as a module.
func scanBundles(ctx context.Context, dir string) ([]engine.TargetBundle, []*engine.Status, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	bundles := []engine.TargetBundle{}
	var problems []*engine.Status
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		path := filepath.Join(dir, e.Name())
		b, err := manifest.ReadBundle(path)
		switch {
		case err == nil:
			bundles = append(bundles, toTargetBundle(b, path))
		case errors.Is(err, manifest.ErrInvalidManifest):
			st := engine.ErrorStatus(engine.CodeInvalidManifest, "Invalid manifest in "+path, err)
			problems = append(problems, st)
			name, ver := entryIdentity(e.Name())
			if b != nil {
				name, ver = b.SymbolicName, b.Version
			}
			bundles = append(bundles, engine.TargetBundle{
				SymbolicName: name,
				Version:      ver,
				Location:     fileURI(path),
				Status:       st,
			})
		}
	}
	return bundles, problems, nil
}

// entryIdentity guesses a module identity from a name_version[.jar] entry
// whose manifest cannot be read.
func entryIdentity(entry string) (name, ver string) {
	entry = strings.TrimSuffix(entry, ".jar")
	i := strings.LastIndex(entry, "_")
	if i <= 0 || i == len(entry)-1 || entry[i+1] < '0' || entry[i+1] > '9' {
		return entry, ""
	}
	return entry[:i], entry[i+1:]
}

func toTargetBundle(b *manifest.Bundle, path string) engine.TargetBundle {
	return engine.TargetBundle{
		SymbolicName:   b.SymbolicName,
		Version:        b.Version,
		Location:       fileURI(path),
		IsFragment:     b.IsFragment(),
		IsSourceBundle: b.IsSource(),
	}
}

func problemStatus(message string, problems []*engine.Status) *engine.Status {
	if len(problems) == 0 {
		return engine.OKStatus()
	}
	return engine.NewMultiStatus(engine.CodeResolutionProblems, message, problems...)
}

// fileURI returns the file: URI of a local path.
func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
