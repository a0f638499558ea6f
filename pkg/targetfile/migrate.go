package targetfile

import "github.com/openfroyo/targetplatform/pkg/engine"

// migrateV1 converts a schema version 1 document.
//
// useAllPlugins: true discards any plugin and feature restrictions in the
// same document instead of merging them. Optional plugins become optional
// inclusion entries. When useAllPlugins is absent, restrictions apply only
// if some are listed.
func migrateV1(v1 *legacyV1) *Document {
	doc := &Document{
		SchemaVersion: CurrentSchemaVersion,
		Name:          v1.Name,
		Environment: EnvironmentDoc{
			OS:   v1.OS,
			WS:   v1.WS,
			Arch: v1.Arch,
			NL:   v1.NL,
		},
		Arguments: ArgumentsDoc{
			Program: v1.ProgramArgs,
			VM:      v1.VMArgs,
		},
		JREContainer:         v1.JREContainer,
		ImplicitDependencies: v1.ImplicitPlugins,
	}

	if v1.Location != nil {
		doc.Locations = append(doc.Locations, legacyLocation(*v1.Location))
	}
	for _, l := range v1.AdditionalLocations {
		doc.Locations = append(doc.Locations, legacyLocation(l))
	}

	useAll := v1.UseAllPlugins != nil && *v1.UseAllPlugins
	restricted := len(v1.Plugins) > 0 || len(v1.Features) > 0 ||
		(v1.UseAllPlugins != nil && !*v1.UseAllPlugins)
	if useAll || !restricted {
		return doc
	}

	included := []DescriptorDoc{}
	for _, p := range v1.Plugins {
		d := DescriptorDoc{ID: p.ID, Version: p.Version, Kind: string(engine.KindPlugin)}
		if p.Optional {
			doc.Optional = append(doc.Optional, d)
			continue
		}
		included = append(included, d)
	}
	for _, f := range v1.Features {
		included = append(included, DescriptorDoc{ID: f.ID, Version: f.Version, Kind: string(engine.KindFeature)})
	}
	doc.Included = &included
	return doc
}

// legacyLocation fills in the directory type version 1 documents left
// implicit.
func legacyLocation(l LocationDoc) LocationDoc {
	if l.Type == "" {
		l.Type = TypeDirectory
	}
	return l
}

// migrateV2 converts a schema version 2 document.
func migrateV2(v2 *legacyV2) *Document {
	doc := &Document{
		SchemaVersion:        CurrentSchemaVersion,
		Name:                 v2.Name,
		Environment:          v2.Environment,
		Arguments:            v2.Arguments,
		JREContainer:         v2.JREContainer,
		ImplicitDependencies: v2.ImplicitDependencies,
		Locations:            v2.Locations,
	}

	if v2.IncludedPlugins != nil || v2.IncludedFeatures != nil {
		included := []DescriptorDoc{}
		if v2.IncludedPlugins != nil {
			for _, p := range *v2.IncludedPlugins {
				p.Kind = string(engine.KindPlugin)
				included = append(included, p)
			}
		}
		if v2.IncludedFeatures != nil {
			for _, f := range *v2.IncludedFeatures {
				f.Kind = string(engine.KindFeature)
				included = append(included, f)
			}
		}
		doc.Included = &included
	}
	for _, p := range v2.OptionalPlugins {
		p.Kind = string(engine.KindPlugin)
		doc.Optional = append(doc.Optional, p)
	}
	return doc
}
