package manifest

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/version"
)

// FeatureFile is the descriptor file name inside a feature directory or jar.
const FeatureFile = "feature.xml"

// Feature is a parsed feature descriptor.
type Feature struct {
	XMLName  xml.Name         `xml:"feature"`
	ID       string           `xml:"id,attr"`
	Version  string           `xml:"version,attr"`
	Label    string           `xml:"label,attr"`
	Includes []FeatureInclude `xml:"includes"`
	Plugins  []FeaturePlugin  `xml:"plugin"`
	Requires []FeatureImport  `xml:"requires>import"`

	// Path is the directory or archive the descriptor was read from.
	Path string `xml:"-"`
}

// FeatureInclude references an included sub-feature.
type FeatureInclude struct {
	ID       string `xml:"id,attr"`
	Version  string `xml:"version,attr"`
	Optional bool   `xml:"optional,attr"`
	OS       string `xml:"os,attr"`
	WS       string `xml:"ws,attr"`
	Arch     string `xml:"arch,attr"`
	NL       string `xml:"nl,attr"`
}

// Filter returns the platform filter of the include.
func (i FeatureInclude) Filter() engine.Filter {
	return engine.Filter{OS: i.OS, WS: i.WS, Arch: i.Arch, NL: i.NL}
}

// FeaturePlugin references a module the feature requires.
type FeaturePlugin struct {
	ID       string `xml:"id,attr"`
	Version  string `xml:"version,attr"`
	Fragment bool   `xml:"fragment,attr"`
	OS       string `xml:"os,attr"`
	WS       string `xml:"ws,attr"`
	Arch     string `xml:"arch,attr"`
	NL       string `xml:"nl,attr"`
}

// Filter returns the platform filter of the plugin entry.
func (p FeaturePlugin) Filter() engine.Filter {
	return engine.Filter{OS: p.OS, WS: p.WS, Arch: p.Arch, NL: p.NL}
}

// FeatureImport is a dependency on a module or feature outside the feature.
type FeatureImport struct {
	Plugin  string `xml:"plugin,attr"`
	Feature string `xml:"feature,attr"`
	Version string `xml:"version,attr"`
	Match   string `xml:"match,attr"`
}

// ParseFeature decodes a feature descriptor.
func ParseFeature(r io.Reader) (*Feature, error) {
	var f Feature
	if err := xml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FeatureFile, err)
	}
	if f.ID == "" {
		return nil, fmt.Errorf("failed to parse %s: missing feature id", FeatureFile)
	}
	f.Version = version.Normalize(f.Version)
	return &f, nil
}

// ReadFeature reads the feature at path, a directory containing feature.xml
// or a jar archive. Paths that hold no descriptor yield os.ErrNotExist.
func ReadFeature(path string) (*Feature, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var f *Feature
	if info.IsDir() {
		file, err := os.Open(filepath.Join(path, FeatureFile))
		if err != nil {
			return nil, err
		}
		defer file.Close()
		f, err = ParseFeature(file)
		if err != nil {
			return nil, err
		}
	} else {
		if !strings.EqualFold(filepath.Ext(path), ".jar") {
			return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
		}
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		entry, err := OpenZipEntry(&zr.Reader, FeatureFile)
		if err != nil {
			return nil, err
		}
		defer entry.Close()
		f, err = ParseFeature(entry)
		if err != nil {
			return nil, err
		}
	}
	f.Path = path
	return f, nil
}

// ScanFeatures reads every feature below dir. Entries that are not features
// are skipped; a missing dir yields no features and no error.
func ScanFeatures(dir string) ([]*Feature, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []*Feature
	for _, e := range entries {
		f, err := ReadFeature(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return newerFirst(out[i].Version, out[j].Version)
	})
	return out, nil
}

func newerFirst(a, b string) bool {
	va, errA := version.Parse(a)
	vb, errB := version.Parse(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return va.Compare(vb) > 0
}

// ToTarget converts the descriptor to its resolved form. Entries whose
// filter rejects every one of envs are left out; nil envs keeps all of them.
func (f *Feature) ToTarget(location string, envs []engine.Environment) engine.TargetFeature {
	tf := engine.TargetFeature{ID: f.ID, Version: f.Version, Location: location}
	for _, p := range f.Plugins {
		if envs != nil && !p.Filter().MatchesAny(envs) {
			continue
		}
		tf.Plugins = append(tf.Plugins, engine.PluginDescriptor(p.ID, version.Normalize(p.Version)))
	}
	for _, inc := range f.Includes {
		if envs != nil && !inc.Filter().MatchesAny(envs) {
			continue
		}
		tf.Includes = append(tf.Includes, engine.FeatureDescriptor(inc.ID, version.Normalize(inc.Version)))
	}
	return tf
}
