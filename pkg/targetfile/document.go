// Package targetfile reads and writes target definition documents.
//
// Documents are YAML. The current layout is schema version 3:
//
//	schemaVersion: 3
//	name: Release train
//	environment:
//	  os: linux
//	  ws: gtk
//	  arch: x86_64
//	  nl: en_US
//	arguments:
//	  program: -consoleLog
//	  vm: -Xmx2g
//	jreContainer: JavaSE-21
//	implicitDependencies:
//	  - id: org.example.runtime
//	locations:
//	  - type: directory
//	    path: /opt/bundles
//	  - type: profile
//	    path: /opt/eclipse
//	    configArea: /opt/eclipse/configuration
//	  - type: feature
//	    path: /opt/features
//	    id: org.example.feature
//	    version: 1.0.0
//	  - type: installable_unit
//	    includeMode: slicer
//	    includeAllRequired: true
//	    repositories: [https://repo.example.com/release]
//	    units:
//	      - id: org.example.app.feature.group
//	        version: "1.0"
//	included:
//	  - id: org.example.core
//	    kind: plugin
//
// Older documents (versions 1 and 2) are migrated on load. Unknown keys and
// unknown location types are skipped.
package targetfile

import (
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/targetplatform/pkg/engine"
)

// CurrentSchemaVersion is the version Save writes.
const CurrentSchemaVersion = 3

var validate = validator.New()

// Location type names used in documents.
const (
	TypeDirectory       = "directory"
	TypeProfile         = "profile"
	TypeFeature         = "feature"
	TypeInstallableUnit = "installable_unit"
)

// Document is the schema version 3 layout.
type Document struct {
	SchemaVersion        int                            `yaml:"schemaVersion"`
	Name                 string                         `yaml:"name,omitempty"`
	Environment          EnvironmentDoc                 `yaml:"environment,omitempty"`
	Arguments            ArgumentsDoc                   `yaml:"arguments,omitempty"`
	JREContainer         string                         `yaml:"jreContainer,omitempty"`
	ImplicitDependencies []engine.NameVersionDescriptor `yaml:"implicitDependencies,omitempty" validate:"dive"`
	Locations            []LocationDoc                  `yaml:"locations,omitempty"`
	Included             *[]DescriptorDoc               `yaml:"included,omitempty" validate:"omitempty,dive"`
	Optional             []DescriptorDoc                `yaml:"optional,omitempty" validate:"dive"`
}

// EnvironmentDoc holds the target environment settings.
type EnvironmentDoc struct {
	OS   string `yaml:"os,omitempty"`
	WS   string `yaml:"ws,omitempty"`
	Arch string `yaml:"arch,omitempty"`
	NL   string `yaml:"nl,omitempty"`
}

// ArgumentsDoc holds launch arguments.
type ArgumentsDoc struct {
	Program string `yaml:"program,omitempty"`
	VM      string `yaml:"vm,omitempty"`
}

// LocationDoc is one location element. Which fields apply depends on Type.
type LocationDoc struct {
	Type string `yaml:"type" validate:"required"`

	// directory, profile and feature
	Path string `yaml:"path,omitempty" validate:"required_unless=Type installable_unit"`

	// profile
	ConfigArea string `yaml:"configArea,omitempty"`

	// feature
	ID      string `yaml:"id,omitempty" validate:"required_if=Type feature"`
	Version string `yaml:"version,omitempty"`

	// installable_unit
	IncludeMode            string    `yaml:"includeMode,omitempty" validate:"omitempty,oneof=planner slicer"`
	IncludeAllRequired     bool      `yaml:"includeAllRequired,omitempty"`
	IncludeAllEnvironments bool      `yaml:"includeAllEnvironments,omitempty"`
	IncludeSource          bool      `yaml:"includeSource,omitempty"`
	Repositories           []string  `yaml:"repositories,omitempty"`
	Units                  []UnitDoc `yaml:"units,omitempty" validate:"dive"`
}

// UnitDoc is a requested installable unit. A nil Version is written without
// a version key; an explicit empty version is written as "".
type UnitDoc struct {
	ID      string  `yaml:"id" validate:"required"`
	Version *string `yaml:"version,omitempty"`
}

// DescriptorDoc is an inclusion entry.
type DescriptorDoc struct {
	ID      string `yaml:"id" validate:"required"`
	Version string `yaml:"version,omitempty"`
	Kind    string `yaml:"kind,omitempty" validate:"omitempty,oneof=plugin feature"`
}

func (d DescriptorDoc) descriptor() engine.NameVersionDescriptor {
	kind := engine.Kind(d.Kind)
	if kind == "" {
		kind = engine.KindPlugin
	}
	return engine.NameVersionDescriptor{ID: d.ID, Version: d.Version, Kind: kind}
}

func descriptorDocs(ds []engine.NameVersionDescriptor) []DescriptorDoc {
	out := make([]DescriptorDoc, 0, len(ds))
	for _, d := range ds {
		out = append(out, DescriptorDoc{ID: d.ID, Version: d.Version, Kind: string(d.Kind)})
	}
	return out
}

// legacyV1 is the schema version 1 layout: flat environment keys, a primary
// location plus additional ones, and plugin/feature restrictions guarded by
// useAllPlugins.
type legacyV1 struct {
	SchemaVersion       int                            `yaml:"schemaVersion"`
	Name                string                         `yaml:"name"`
	OS                  string                         `yaml:"os"`
	WS                  string                         `yaml:"ws"`
	Arch                string                         `yaml:"arch"`
	NL                  string                         `yaml:"nl"`
	ProgramArgs         string                         `yaml:"programArgs"`
	VMArgs              string                         `yaml:"vmArgs"`
	JREContainer        string                         `yaml:"jreContainer"`
	ImplicitPlugins     []engine.NameVersionDescriptor `yaml:"implicitPlugins" validate:"dive"`
	Location            *LocationDoc                   `yaml:"location" validate:"-"`
	AdditionalLocations []LocationDoc                  `yaml:"additionalLocations"`
	UseAllPlugins       *bool                          `yaml:"useAllPlugins"`
	Plugins             []legacyPlugin                 `yaml:"plugins" validate:"dive"`
	Features            []DescriptorDoc                `yaml:"features" validate:"dive"`
}

type legacyPlugin struct {
	ID       string `yaml:"id" validate:"required"`
	Version  string `yaml:"version"`
	Optional bool   `yaml:"optional"`
}

// legacyV2 is the schema version 2 layout: current locations, inclusion
// split into three lists.
type legacyV2 struct {
	SchemaVersion        int                            `yaml:"schemaVersion"`
	Name                 string                         `yaml:"name"`
	Environment          EnvironmentDoc                 `yaml:"environment"`
	Arguments            ArgumentsDoc                   `yaml:"arguments"`
	JREContainer         string                         `yaml:"jreContainer"`
	ImplicitDependencies []engine.NameVersionDescriptor `yaml:"implicitDependencies" validate:"dive"`
	Locations            []LocationDoc                  `yaml:"locations"`
	IncludedPlugins      *[]DescriptorDoc               `yaml:"includedPlugins" validate:"omitempty,dive"`
	IncludedFeatures     *[]DescriptorDoc               `yaml:"includedFeatures" validate:"omitempty,dive"`
	OptionalPlugins      []DescriptorDoc                `yaml:"optionalPlugins" validate:"dive"`
}
