package locations

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/provisioning"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeBundleJar writes a module archive named name_version.jar into dir.
func writeBundleJar(t *testing.T, dir, name, ver string, extraHeaders ...string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name+"_"+ver+".jar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("META-INF/MANIFEST.MF")
	if err != nil {
		t.Fatal(err)
	}
	mf := fmt.Sprintf("Manifest-Version: 1.0\nBundle-SymbolicName: %s\nBundle-Version: %s\n", name, ver)
	for _, h := range extraHeaders {
		mf += h + "\n"
	}
	if _, err := w.Write([]byte(mf)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFeature(t *testing.T, root, id, ver, body string) {
	t.Helper()
	writeFile(t, filepath.Join(root, "features", id+"_"+ver, "feature.xml"),
		fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<feature id="%s" version="%s">
%s
</feature>`, id, ver, body))
}

func names(bs []engine.TargetBundle) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.SymbolicName)
	}
	sort.Strings(out)
	return out
}

func linuxDefinition(opts ...engine.Option) *engine.TargetDefinition {
	def := engine.NewTargetDefinition("", opts...)
	def.SetOS(engine.OSLinux)
	def.SetWS(engine.WSGTK)
	def.SetArch(engine.ArchX8664)
	return def
}

func TestDirectoryLocation(t *testing.T) {
	dir := t.TempDir()
	writeBundleJar(t, dir, "a", "1.0.0")
	writeBundleJar(t, dir, "a.linux", "1.0.0", "Fragment-Host: a")
	writeBundleJar(t, dir, "a.source", "1.0.0", "Eclipse-SourceBundle: a;version=1.0.0")
	writeFile(t, filepath.Join(dir, "b_2.0.0", "META-INF", "MANIFEST.MF"), "Bundle-SymbolicName: b\nBundle-Version: 2.0\n")
	writeFile(t, filepath.Join(dir, "readme.txt"), "not a bundle")
	writeBundleJar(t, dir, "broken", "x.y")

	loc := NewDirectoryLocation(dir)
	st := loc.Resolve(context.Background(), nil, false)

	if st.Severity != engine.SeverityError || len(st.Find(engine.CodeInvalidManifest)) != 1 {
		t.Errorf("expected one invalid manifest error, got:\n%s", st)
	}
	want := []string{"a", "a.linux", "a.source", "b", "broken"}
	if diff := cmp.Diff(want, names(loc.Bundles())); diff != "" {
		t.Errorf("bundles mismatch (-want +got):\n%s", diff)
	}
	for _, b := range loc.Bundles() {
		switch b.SymbolicName {
		case "a.linux":
			if !b.IsFragment {
				t.Error("a.linux should be a fragment")
			}
		case "a.source":
			if !b.IsSourceBundle {
				t.Error("a.source should be a source bundle")
			}
		case "b":
			if b.Version != "2.0.0" {
				t.Errorf("b version = %s", b.Version)
			}
		case "broken":
			if b.IsOK() {
				t.Error("broken bundle should carry its error")
			}
		}
	}
	if _, ok := engine.Location(loc).(engine.VMArgumentsProvider); ok {
		t.Error("directory locations have no launcher arguments")
	}
}

func TestDirectoryLocationUnreadableManifest(t *testing.T) {
	dir := t.TempDir()
	writeBundleJar(t, dir, "a", "1.0.0")
	writeFile(t, filepath.Join(dir, "c_3.1.0", "META-INF", "MANIFEST.MF"), " continued\nBundle-SymbolicName: c\n")
	writeFile(t, filepath.Join(dir, "d", "META-INF", "MANIFEST.MF"), "no header separator\n")

	loc := NewDirectoryLocation(dir)
	st := loc.Resolve(context.Background(), nil, false)
	if got := len(st.Find(engine.CodeInvalidManifest)); got != 2 {
		t.Errorf("expected two invalid manifest errors, got %d:\n%s", got, st)
	}

	type identity struct{ Name, Version string }
	var got []identity
	for _, b := range loc.Bundles() {
		if !b.IsOK() {
			got = append(got, identity{b.SymbolicName, b.Version})
		}
	}
	want := []identity{{"c", "3.1.0"}, {"d", ""}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("placeholders mismatch (-want +got):\n%s", diff)
	}
}

func TestEntryIdentity(t *testing.T) {
	tests := []struct{ entry, name, ver string }{
		{"org.example.core_1.2.0.jar", "org.example.core", "1.2.0"},
		{"org.example_ui_2.0.0.v2024", "org.example_ui", "2.0.0.v2024"},
		{"plain_name", "plain_name", ""},
		{"nounderscore.jar", "nounderscore", ""},
	}
	for _, tt := range tests {
		name, ver := entryIdentity(tt.entry)
		if name != tt.name || ver != tt.ver {
			t.Errorf("entryIdentity(%q) = %q, %q", tt.entry, name, ver)
		}
	}
}

func TestDirectoryLocationPrefersPluginsFolder(t *testing.T) {
	dir := t.TempDir()
	writeBundleJar(t, filepath.Join(dir, "plugins"), "inner", "1.0.0")
	writeBundleJar(t, dir, "outer", "1.0.0")
	writeFeature(t, dir, "f", "1.0.0", `<plugin id="inner" version="1.0.0"/>`)

	loc := NewDirectoryLocation(dir)
	if st := loc.Resolve(context.Background(), nil, false); !st.IsOK() {
		t.Fatalf("Resolve failed: %s", st)
	}
	if diff := cmp.Diff([]string{"inner"}, names(loc.Bundles())); diff != "" {
		t.Errorf("bundles mismatch (-want +got):\n%s", diff)
	}
	if len(loc.Features()) != 1 || loc.Features()[0].ID != "f" {
		t.Errorf("expected feature f, got %+v", loc.Features())
	}
}

func TestDirectoryLocationMissing(t *testing.T) {
	loc := NewDirectoryLocation(filepath.Join(t.TempDir(), "nope"))
	st := loc.Resolve(context.Background(), nil, false)

	if st.Severity != engine.SeverityError || st.Code != engine.CodeLocationUnavailable {
		t.Errorf("unexpected status %s", st)
	}
	if st.IsMulti() {
		t.Error("a missing directory should produce a single status")
	}
	if !loc.IsResolved() || len(loc.Bundles()) != 0 {
		t.Errorf("expected resolved location with no bundles, got %d", len(loc.Bundles()))
	}
}

func TestDirectoryLocationCancelled(t *testing.T) {
	dir := t.TempDir()
	writeBundleJar(t, dir, "a", "1.0.0")
	loc := NewDirectoryLocation(dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := loc.Resolve(ctx, nil, false)
	if st.Severity != engine.SeverityCancel {
		t.Errorf("expected cancel, got %s", st)
	}
	if loc.IsResolved() {
		t.Error("cancelled resolve must not mark the location resolved")
	}
}

func TestProfileLocationBundlesInfo(t *testing.T) {
	install := t.TempDir()
	shared := t.TempDir()
	writeBundleJar(t, filepath.Join(shared, "plugins"), "org.eclipse.osgi", "3.20.0")
	writeBundleJar(t, filepath.Join(shared, "plugins"), "a", "1.0.0")
	writeBundleJar(t, filepath.Join(shared, "plugins"), "a.frag", "1.0.0", "Fragment-Host: a")
	absolute := writeBundleJar(t, filepath.Join(install, "dropins"), "b", "2.0.0")

	writeFile(t, filepath.Join(install, "configuration", "config.ini"),
		"osgi.framework=file\\:"+filepath.ToSlash(filepath.Join(shared, "plugins", "org.eclipse.osgi_3.20.0.jar"))+"\n")
	writeFile(t, filepath.Join(install, "configuration", "org.eclipse.equinox.simpleconfigurator", "bundles.info"),
		"#version=1\n"+
			"a,1.0.0,plugins/a_1.0.0.jar,4,false\n"+
			"a.frag,1.0.0,reference:file:plugins/a.frag_1.0.0.jar,4,false\n"+
			"b,2.0,file:"+filepath.ToSlash(absolute)+",4,true\n"+
			"gone,1.0.0,plugins/gone_1.0.0.jar,4,false\n")
	writeFile(t, filepath.Join(install, "eclipse.ini"), "-vmargs\n-Xmx1g\n")

	loc := NewProfileLocation(install, "")
	if st := loc.Resolve(context.Background(), nil, false); !st.IsOK() {
		t.Fatalf("Resolve failed: %s", st)
	}

	got := map[string]engine.TargetBundle{}
	for _, b := range loc.Bundles() {
		got[b.SymbolicName] = b
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 bundles, got %v", names(loc.Bundles()))
	}
	if !strings.HasSuffix(got["a"].Location, filepath.ToSlash(filepath.Join(shared, "plugins", "a_1.0.0.jar"))) {
		t.Errorf("relative entry should resolve against the framework location, got %s", got["a"].Location)
	}
	if !got["a.frag"].IsFragment {
		t.Error("fragment flag should be read from the module")
	}
	if got["b"].Version != "2.0.0" {
		t.Errorf("version not normalized: %s", got["b"].Version)
	}
	if diff := cmp.Diff([]string{"-Xmx1g"}, loc.VMArguments()); diff != "" {
		t.Errorf("vm arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestProfileLocationFallsBackToDirectoryScan(t *testing.T) {
	install := t.TempDir()
	writeBundleJar(t, filepath.Join(install, "plugins"), "a", "1.0.0")
	writeBundleJar(t, filepath.Join(install, "plugins"), "broken", "bad")
	writeFile(t, filepath.Join(install, "plugins", "notes.txt"), "x")

	profile := NewProfileLocation(install, "")
	pst := profile.Resolve(context.Background(), nil, false)
	dir := NewDirectoryLocation(install)
	dst := dir.Resolve(context.Background(), nil, false)

	if diff := cmp.Diff(dir.Bundles(), profile.Bundles(), cmpopts.IgnoreFields(engine.Status{}, "Err")); diff != "" {
		t.Errorf("fallback differs from directory scan (-dir +profile):\n%s", diff)
	}
	if pst.Severity != dst.Severity || len(pst.Flatten()) != len(dst.Flatten()) {
		t.Errorf("fallback status differs: %s vs %s", pst, dst)
	}

	missing := NewProfileLocation(filepath.Join(install, "nope"), "")
	if st := missing.Resolve(context.Background(), nil, false); st.Code != engine.CodeLocationUnavailable {
		t.Errorf("expected location_unavailable, got %s", st)
	}
}

// featureRepository builds F = {m1, m2, m3} and G = F + {m4, m4.cocoa(macosx)}.
func featureRepository(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	plugins := filepath.Join(root, "plugins")
	for _, m := range []string{"m1", "m2", "m3", "m4"} {
		writeBundleJar(t, plugins, m, "1.0.0")
	}
	writeFeature(t, root, "F", "1.0.0", `
  <plugin id="m1" version="1.0.0"/>
  <plugin id="m2" version="1.0.0"/>
  <plugin id="m3" version="0.0.0"/>`)
	writeFeature(t, root, "G", "1.0.0", `
  <includes id="F" version="1.0.0"/>
  <includes id="G" version="1.0.0"/>
  <plugin id="m4" version="1.0.0"/>
  <plugin id="m4.cocoa" version="1.0.0" fragment="true" os="macosx"/>`)
	return root
}

func TestFeatureLocationTransitive(t *testing.T) {
	root := featureRepository(t)
	def := linuxDefinition()
	g := NewFeatureLocation(root, "G", "")
	def.SetTargetLocations([]engine.Location{g})

	st := def.Resolve(context.Background(), false)
	if !st.IsOK() {
		t.Fatalf("Resolve failed: %s", st)
	}
	if diff := cmp.Diff([]string{"m1", "m2", "m3", "m4"}, names(def.Bundles())); diff != "" {
		t.Errorf("bundles mismatch (-want +got):\n%s", diff)
	}
	if len(def.Features()) != 2 {
		t.Errorf("expected features F and G, got %+v", def.Features())
	}
}

func TestFeatureLocationsUnion(t *testing.T) {
	root := featureRepository(t)
	def := linuxDefinition()
	def.SetTargetLocations([]engine.Location{
		NewFeatureLocation(root, "F", "1.0.0"),
		NewFeatureLocation(root, "G", "1.0.0"),
	})

	if st := def.Resolve(context.Background(), false); !st.IsOK() {
		t.Fatalf("Resolve failed: %s", st)
	}
	if got := len(def.Bundles()); got != 4 {
		t.Errorf("expected 4 bundles without duplicates, got %v", names(def.Bundles()))
	}
}

func TestFeatureLocationPlatformFilter(t *testing.T) {
	root := featureRepository(t)
	def := linuxDefinition()
	def.SetOS(engine.OSMacOSX)
	def.SetWS(engine.WSCocoa)
	g := NewFeatureLocation(root, "G", "")
	def.SetTargetLocations([]engine.Location{g})

	st := def.Resolve(context.Background(), false)
	missing := st.Find(engine.CodePluginDoesNotExist)
	if len(missing) != 1 || !strings.Contains(missing[0].Message, "m4.cocoa") {
		t.Fatalf("expected the missing macOS fragment to be an error, got:\n%s", st)
	}
	if got := len(g.Bundles()); got != 5 {
		t.Errorf("expected 4 bundles plus one placeholder, got %v", names(g.Bundles()))
	}
}

func TestFeatureLocationMissingFeature(t *testing.T) {
	root := featureRepository(t)
	loc := NewFeatureLocation(root, "nope", "2.0")
	st := loc.Resolve(context.Background(), nil, false)

	if st.Code != engine.CodeFeatureDoesNotExist || st.Severity != engine.SeverityError || st.IsMulti() {
		t.Errorf("expected a single feature_does_not_exist error, got:\n%s", st)
	}
	bundles := loc.Bundles()
	if len(bundles) != 1 || bundles[0].IsOK() || bundles[0].SymbolicName != "nope" {
		t.Errorf("expected one placeholder record, got %+v", bundles)
	}

	wrongVersion := NewFeatureLocation(root, "F", "9.0.0")
	if st := wrongVersion.Resolve(context.Background(), nil, false); st.Code != engine.CodeFeatureDoesNotExist {
		t.Errorf("unknown version should be reported as missing feature, got %s", st)
	}
}

// memoryProfileCache is a ProfileCache that keeps profiles in memory.
type memoryProfileCache struct {
	mu       sync.Mutex
	profiles map[string]*engine.Profile
	builds   int
}

func newMemoryProfileCache() *memoryProfileCache {
	return &memoryProfileCache{profiles: make(map[string]*engine.Profile)}
}

func (m *memoryProfileCache) Provision(ctx context.Context, handle, memento string, build engine.ProfileBuilder) (*engine.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := handle + "\n" + memento
	if p, ok := m.profiles[key]; ok {
		return p, true, nil
	}
	p, err := build(ctx)
	if err != nil {
		return nil, false, err
	}
	m.builds++
	p.ID = fmt.Sprintf("p%d", len(m.profiles))
	m.profiles[key] = p
	return p, false, nil
}

const unitRepository = `units:
  - id: app.feature.group
    version: 1.0.0
    type: feature
    requires:
      - id: app.core
        range: "[1.0.0,1.0.0]"
  - id: app.core
    version: 1.0.0
    artifact: plugins/app.core_1.0.0.jar
    requires:
      - id: lib.base
        range: "2.0"
  - id: app.core.source
    version: 1.0.0
    source: true
  - id: lib.base
    version: 2.0.0
`

func TestInstallableUnitLocation(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "content.yaml"), unitRepository)
	cache := newMemoryProfileCache()
	def := linuxDefinition(engine.WithProfileCache(cache))

	first := NewInstallableUnitLocation(
		[]UnitDescriptor{Unit("app.feature.group", "1.0")},
		[]string{repo},
		InstallableUnitOptions{IncludeAllRequired: true, IncludeSource: true},
		WithLoader(provisioning.NewLoader()),
	)
	second := NewInstallableUnitLocation(
		[]UnitDescriptor{Unit("app.feature.group", "[1.0.0,1.0.0]")},
		[]string{repo},
		InstallableUnitOptions{IncludeAllRequired: true, IncludeSource: true},
	)
	def.SetTargetLocations([]engine.Location{first, second})

	st := def.Resolve(context.Background(), false)
	if !st.IsOK() {
		t.Fatalf("Resolve failed: %s", st)
	}
	if diff := cmp.Diff([]string{"app.core", "app.core.source", "lib.base"}, names(def.Bundles())); diff != "" {
		t.Errorf("bundles mismatch (-want +got):\n%s", diff)
	}
	if cache.builds != 1 || len(cache.profiles) != 1 {
		t.Errorf("equal locations should share one profile, builds=%d profiles=%d", cache.builds, len(cache.profiles))
	}
	if first.EffectiveMode() != provisioning.ModeSlicer {
		t.Errorf("explicit repositories should select the slicer, got %q", first.EffectiveMode())
	}
}

func TestInstallableUnitMemento(t *testing.T) {
	def := linuxDefinition()
	base := func(units ...UnitDescriptor) *InstallableUnitLocation {
		return NewInstallableUnitLocation(units, []string{"b", "a"}, InstallableUnitOptions{})
	}

	exact := base(Unit("x", "1.0")).ProfileMemento(def)
	if exact != base(Unit("x", "[1.0.0,1.0.0]")).ProfileMemento(def) {
		t.Error("equivalent version strings should produce the same memento")
	}
	if exact == base(Unit("x", "1.1")).ProfileMemento(def) {
		t.Error("a different version should change the memento")
	}
	reordered := NewInstallableUnitLocation([]UnitDescriptor{Unit("x", "1.0")}, []string{"a", "b"}, InstallableUnitOptions{})
	if exact != reordered.ProfileMemento(def) {
		t.Error("repository order should not change the memento")
	}
	flagged := NewInstallableUnitLocation([]UnitDescriptor{Unit("x", "1.0")}, []string{"a", "b"}, InstallableUnitOptions{IncludeSource: true})
	if exact == flagged.ProfileMemento(def) {
		t.Error("a changed flag should change the memento")
	}
	if base(UnitAnyVersion("x")).ProfileMemento(def) != base(Unit("x", "0.0.0")).ProfileMemento(def) {
		t.Error("no version and the empty version resolve the same way")
	}
}

func TestInstallableUnitVersionStatesStayDistinct(t *testing.T) {
	none := NewInstallableUnitLocation([]UnitDescriptor{UnitAnyVersion("x")}, nil, InstallableUnitOptions{})
	empty := NewInstallableUnitLocation([]UnitDescriptor{Unit("x", "")}, nil, InstallableUnitOptions{})
	if none.ContentEqual(empty) {
		t.Error("a missing version and an explicit empty version are different configurations")
	}
	if !none.ContentEqual(NewInstallableUnitLocation([]UnitDescriptor{UnitAnyVersion("x")}, nil, InstallableUnitOptions{})) {
		t.Error("identical locations should be content equal")
	}
}

func TestInstallableUnitUnsatisfiedPlanner(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "content.yaml"), unitRepository)
	loc := NewInstallableUnitLocation(
		[]UnitDescriptor{Unit("missing.unit", "1.0")},
		[]string{repo},
		InstallableUnitOptions{Mode: provisioning.ModePlanner},
	)
	cache := newMemoryProfileCache()
	def := linuxDefinition(engine.WithProfileCache(cache))
	def.SetTargetLocations([]engine.Location{loc})

	st := def.Resolve(context.Background(), false)
	if len(st.Find(engine.CodeUnitNotFound)) != 1 {
		t.Errorf("expected unit_not_found, got:\n%s", st)
	}
	if len(cache.profiles) != 0 {
		t.Error("failed resolutions must not be cached")
	}
	if len(def.Bundles()) != 0 {
		t.Errorf("expected no bundles, got %v", names(def.Bundles()))
	}
}

func TestInstallableUnitWithoutRepositories(t *testing.T) {
	loc := NewInstallableUnitLocation([]UnitDescriptor{Unit("x", "1.0")}, nil, InstallableUnitOptions{},
		WithLoader(provisioning.NewLoader()))
	st := loc.Resolve(context.Background(), nil, false)
	if st.Code != engine.CodeRepositoryUnavailable {
		t.Errorf("expected repository_unavailable, got %s", st)
	}
}

func TestInstallableUnitMissingRepository(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "gone")
	loc := NewInstallableUnitLocation([]UnitDescriptor{Unit("x", "1.0")}, []string{repo}, InstallableUnitOptions{},
		WithLoader(provisioning.NewLoader()))
	st := loc.Resolve(context.Background(), nil, false)

	found := st.Find(engine.CodeRepositoryUnavailable)
	if len(found) != 1 || !strings.Contains(found[0].Message, "cannot be used") {
		t.Errorf("expected one unusable repository, got:\n%s", st)
	}
}
