package targetfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/locations"
	"github.com/openfroyo/targetplatform/pkg/provisioning"
)

// FileHandle returns the handle of a definition stored at path.
func FileHandle(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return "file:" + filepath.ToSlash(abs), nil
}

// Save writes def as a schema version 3 document.
func Save(w io.Writer, def *engine.TargetDefinition) error {
	doc, err := Encode(def)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode target definition: %w", err)
	}
	return enc.Close()
}

// Marshal returns the document bytes of def.
func Marshal(def *engine.TargetDefinition) ([]byte, error) {
	var buf bytes.Buffer
	if err := Save(&buf, def); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode converts def into its document form.
func Encode(def *engine.TargetDefinition) (*Document, error) {
	doc := &Document{
		SchemaVersion: CurrentSchemaVersion,
		Name:          def.Name(),
		Environment: EnvironmentDoc{
			OS:   def.OS(),
			WS:   def.WS(),
			Arch: def.Arch(),
			NL:   def.NL(),
		},
		Arguments: ArgumentsDoc{
			Program: def.ProgramArguments(),
			VM:      def.VMArguments(),
		},
		JREContainer:         def.JREContainer(),
		ImplicitDependencies: def.ImplicitDependencies(),
	}

	for _, loc := range def.Locations() {
		ld, err := encodeLocation(loc)
		if err != nil {
			return nil, err
		}
		doc.Locations = append(doc.Locations, ld)
	}

	if included := def.Included(); included != nil {
		docs := descriptorDocs(included)
		doc.Included = &docs
	}
	if optional := def.OptionalIncluded(); len(optional) > 0 {
		doc.Optional = descriptorDocs(optional)
	}
	return doc, nil
}

func encodeLocation(loc engine.Location) (LocationDoc, error) {
	switch l := loc.(type) {
	case *locations.DirectoryLocation:
		return LocationDoc{Type: TypeDirectory, Path: l.Path()}, nil
	case *locations.ProfileLocation:
		return LocationDoc{Type: TypeProfile, Path: l.InstallPath(), ConfigArea: l.ConfigArea()}, nil
	case *locations.FeatureLocation:
		return LocationDoc{Type: TypeFeature, Path: l.Root(), ID: l.FeatureID(), Version: l.FeatureVersion()}, nil
	case *locations.InstallableUnitLocation:
		opts := l.Options()
		ld := LocationDoc{
			Type:                   TypeInstallableUnit,
			IncludeMode:            string(opts.Mode),
			IncludeAllRequired:     opts.IncludeAllRequired,
			IncludeAllEnvironments: opts.IncludeAllEnvironments,
			IncludeSource:          opts.IncludeSource,
			Repositories:           l.Repositories(),
		}
		for _, u := range l.Units() {
			ud := UnitDoc{ID: u.ID}
			if u.Version != nil {
				v := *u.Version
				ud.Version = &v
			}
			ld.Units = append(ld.Units, ud)
		}
		return ld, nil
	default:
		return LocationDoc{}, fmt.Errorf("cannot persist location of type %T", loc)
	}
}

// Load parses a document of any supported schema version. Malformed
// documents fail with engine.ErrMalformedDocument and produce no definition.
func Load(r io.Reader, opts ...engine.Option) (*engine.TargetDefinition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read target definition: %w", err)
	}
	return Unmarshal(data, opts...)
}

// Unmarshal parses document bytes. See Load.
func Unmarshal(data []byte, opts ...engine.Option) (*engine.TargetDefinition, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Build(doc, engine.NewHandle(), opts...)
}

// Decode parses document bytes into the current layout, migrating older
// schema versions.
func Decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", engine.ErrMalformedDocument)
	}
	var probe struct {
		SchemaVersion int `yaml:"schemaVersion"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, malformed(err)
	}

	switch probe.SchemaVersion {
	case 0, 1:
		var v1 legacyV1
		if err := decodeStrict(data, &v1); err != nil {
			return nil, err
		}
		return migrateV1(&v1), nil
	case 2:
		var v2 legacyV2
		if err := decodeStrict(data, &v2); err != nil {
			return nil, err
		}
		return migrateV2(&v2), nil
	case CurrentSchemaVersion:
		var doc Document
		if err := decodeStrict(data, &doc); err != nil {
			return nil, err
		}
		return &doc, nil
	default:
		return nil, engine.NewPermanentError("cannot read target document",
			fmt.Errorf("%w: schema version %d", engine.ErrUnsupportedSchema, probe.SchemaVersion)).
			WithCode(engine.ErrCodeUnsupportedSchema)
	}
}

// decodeStrict unmarshals and validates v. Unknown keys are ignored.
func decodeStrict(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return malformed(err)
	}
	if err := validate.Struct(v); err != nil {
		return malformed(err)
	}
	return nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", engine.ErrMalformedDocument, err)
}

// Build creates a definition with the given handle from doc. Location
// elements of unknown type are skipped; known ones must be valid.
func Build(doc *Document, handle string, opts ...engine.Option) (*engine.TargetDefinition, error) {
	var locs []engine.Location
	for i, ld := range doc.Locations {
		loc, err := buildLocation(ld)
		if errors.Is(err, errUnknownType) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: location %d: %v", engine.ErrMalformedDocument, i, err)
		}
		locs = append(locs, loc)
	}

	def := engine.NewTargetDefinition(handle, opts...)
	def.SetName(doc.Name)
	def.SetOS(doc.Environment.OS)
	def.SetWS(doc.Environment.WS)
	def.SetArch(doc.Environment.Arch)
	def.SetNL(doc.Environment.NL)
	def.SetProgramArguments(doc.Arguments.Program)
	def.SetVMArguments(doc.Arguments.VM)
	def.SetJREContainer(doc.JREContainer)

	implicit := make([]engine.NameVersionDescriptor, 0, len(doc.ImplicitDependencies))
	for _, d := range doc.ImplicitDependencies {
		if d.Kind == "" {
			d.Kind = engine.KindPlugin
		}
		implicit = append(implicit, d)
	}
	def.SetImplicitDependencies(implicit)
	def.SetTargetLocations(locs)

	if doc.Included != nil {
		included := make([]engine.NameVersionDescriptor, 0, len(*doc.Included))
		for _, d := range *doc.Included {
			included = append(included, d.descriptor())
		}
		def.SetIncluded(included)
	}
	if len(doc.Optional) > 0 {
		optional := make([]engine.NameVersionDescriptor, 0, len(doc.Optional))
		for _, d := range doc.Optional {
			optional = append(optional, d.descriptor())
		}
		def.SetOptionalIncluded(optional)
	}
	return def, nil
}

var errUnknownType = errors.New("unknown location type")

func buildLocation(ld LocationDoc) (engine.Location, error) {
	switch ld.Type {
	case TypeDirectory, TypeProfile, TypeFeature, TypeInstallableUnit:
	default:
		return nil, errUnknownType
	}
	if err := validate.Struct(ld); err != nil {
		return nil, err
	}

	switch ld.Type {
	case TypeDirectory:
		return locations.NewDirectoryLocation(ld.Path), nil
	case TypeProfile:
		return locations.NewProfileLocation(ld.Path, ld.ConfigArea), nil
	case TypeFeature:
		return locations.NewFeatureLocation(ld.Path, ld.ID, ld.Version), nil
	default:
		units := make([]locations.UnitDescriptor, 0, len(ld.Units))
		for _, u := range ld.Units {
			if u.Version == nil {
				units = append(units, locations.UnitAnyVersion(u.ID))
			} else {
				units = append(units, locations.Unit(u.ID, *u.Version))
			}
		}
		return locations.NewInstallableUnitLocation(units, ld.Repositories, locations.InstallableUnitOptions{
			Mode:                   provisioning.Mode(ld.IncludeMode),
			IncludeAllRequired:     ld.IncludeAllRequired,
			IncludeAllEnvironments: ld.IncludeAllEnvironments,
			IncludeSource:          ld.IncludeSource,
		}), nil
	}
}

// LoadFile reads the definition stored at path. Its handle is
// "file:<absolute path>".
func LoadFile(path string, opts ...engine.Option) (*engine.TargetDefinition, error) {
	handle, err := FileHandle(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, engine.NewPermanentError("target definition does not exist", engine.ErrNotFound).
				WithResource(path).WithOperation("load").WithCode(engine.ErrCodeNotFound)
		}
		return nil, fmt.Errorf("failed to read target definition: %w", err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Build(doc, handle, opts...)
}

// SaveFile writes def to path and sets its handle to the file handle. The
// file is replaced atomically.
func SaveFile(path string, def *engine.TargetDefinition) error {
	handle, err := FileHandle(path)
	if err != nil {
		return err
	}
	data, err := Marshal(def)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".target-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write target definition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write target definition: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace target definition: %w", err)
	}

	def.SetHandle(handle)
	return nil
}
