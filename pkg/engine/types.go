package engine

import (
	"fmt"
	"sort"

	"github.com/openfroyo/targetplatform/pkg/version"
)

// Kind distinguishes module descriptors from feature descriptors.
type Kind string

const (
	// KindPlugin identifies a single module.
	KindPlugin Kind = "plugin"

	// KindFeature identifies a feature group.
	KindFeature Kind = "feature"
)

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindPlugin, KindFeature:
		return nil
	default:
		return fmt.Errorf("invalid descriptor kind: %s", k)
	}
}

// NameVersionDescriptor identifies a module or feature. An empty Version
// matches any version. Descriptors are values; compare them with ==.
type NameVersionDescriptor struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Kind    Kind   `json:"kind" yaml:"kind"`
}

// PluginDescriptor returns a module descriptor.
func PluginDescriptor(id, version string) NameVersionDescriptor {
	return NameVersionDescriptor{ID: id, Version: version, Kind: KindPlugin}
}

// FeatureDescriptor returns a feature descriptor.
func FeatureDescriptor(id, version string) NameVersionDescriptor {
	return NameVersionDescriptor{ID: id, Version: version, Kind: KindFeature}
}

// AnyVersion reports whether the descriptor matches every version of its id.
// Both an empty version and the empty version 0.0.0 match any.
func (d NameVersionDescriptor) AnyVersion() bool {
	if d.Version == "" {
		return true
	}
	v, err := version.Parse(d.Version)
	return err == nil && v.IsEmpty()
}

// MatchesVersion reports whether v satisfies the descriptor's version.
// Versions are compared in normalized form.
func (d NameVersionDescriptor) MatchesVersion(v string) bool {
	if d.AnyVersion() {
		return true
	}
	return version.Normalize(d.Version) == version.Normalize(v)
}

// String returns id or id_version.
func (d NameVersionDescriptor) String() string {
	if d.Version == "" {
		return d.ID
	}
	return d.ID + "_" + d.Version
}

// SortDescriptors orders descriptors by kind, id and version.
func SortDescriptors(ds []NameVersionDescriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Kind != ds[j].Kind {
			return ds[i].Kind < ds[j].Kind
		}
		if ds[i].ID != ds[j].ID {
			return ds[i].ID < ds[j].ID
		}
		return ds[i].Version < ds[j].Version
	})
}

// TargetBundle is one resolved module. Bundles are produced by locations and
// never modified by the owning definition; re-resolution replaces them.
type TargetBundle struct {
	SymbolicName   string `json:"symbolicName"`
	Version        string `json:"version"`
	Location       string `json:"location,omitempty"`
	IsSourceBundle bool   `json:"isSourceBundle,omitempty"`
	IsFragment     bool   `json:"isFragment,omitempty"`

	// Status is nil for a usable bundle. Placeholder records for missing or
	// invalid content carry the failure here.
	Status *Status `json:"status,omitempty"`
}

// IsOK reports whether the bundle resolved without problems.
func (b TargetBundle) IsOK() bool {
	return b.Status.IsOK()
}

// ContentEqual reports whether both bundles have the same name, version and location.
func (b TargetBundle) ContentEqual(o TargetBundle) bool {
	return b.key() == o.key()
}

type bundleKey struct {
	name, version, location string
}

func (b TargetBundle) key() bundleKey {
	return bundleKey{b.SymbolicName, version.Normalize(b.Version), b.Location}
}

// Descriptor returns the plugin descriptor of the bundle.
func (b TargetBundle) Descriptor() NameVersionDescriptor {
	return PluginDescriptor(b.SymbolicName, b.Version)
}

// String returns name_version.
func (b TargetBundle) String() string {
	return b.SymbolicName + "_" + b.Version
}

// TargetFeature is one resolved feature group.
type TargetFeature struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Location string `json:"location,omitempty"`

	// Plugins lists the modules the feature requires directly.
	Plugins []NameVersionDescriptor `json:"plugins,omitempty"`

	// Includes lists the sub-features the feature includes.
	Includes []NameVersionDescriptor `json:"includes,omitempty"`
}

// Descriptor returns the feature descriptor of the feature.
func (f TargetFeature) Descriptor() NameVersionDescriptor {
	return FeatureDescriptor(f.ID, f.Version)
}

// String returns id_version.
func (f TargetFeature) String() string {
	return f.ID + "_" + f.Version
}

// SortBundles orders bundles by name, version and location.
func SortBundles(bs []TargetBundle) {
	sort.SliceStable(bs, func(i, j int) bool {
		a, b := bs[i], bs[j]
		if a.SymbolicName != b.SymbolicName {
			return a.SymbolicName < b.SymbolicName
		}
		if c := compareVersions(a.Version, b.Version); c != 0 {
			return c < 0
		}
		return a.Location < b.Location
	})
}

func compareVersions(a, b string) int {
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
