package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// stubLocation returns fixed content and counts real resolutions.
type stubLocation struct {
	ResolutionCache
	name     string
	bundles  []TargetBundle
	features []TargetFeature
	status   *Status
	calls    int
}

func (s *stubLocation) Type() LocationType { return LocationDirectory }

func (s *stubLocation) Resolve(ctx context.Context, def *TargetDefinition, force bool) *Status {
	if st, ok := s.Cached(force); ok {
		return st
	}
	s.calls++
	return s.Commit(ctx, s.bundles, s.features, s.status)
}

func (s *stubLocation) ContentEqual(other Location) bool {
	o, ok := other.(*stubLocation)
	return ok && o.name == s.name
}

func (s *stubLocation) String() string { return s.name }

func bundle(name, ver string) TargetBundle {
	return TargetBundle{SymbolicName: name, Version: ver, Location: "file:/plugins/" + name + "_" + ver + ".jar"}
}

func bundleNames(bs []TargetBundle) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.SymbolicName)
	}
	return out
}

type recordingObserver struct {
	locations   int
	definitions int
}

func (r *recordingObserver) LocationResolved(LocationType, Severity, time.Duration, int) {
	r.locations++
}

func (r *recordingObserver) DefinitionResolved(Severity, time.Duration, int) {
	r.definitions++
}

func TestSettersBumpSequenceNumber(t *testing.T) {
	def := NewTargetDefinition("")
	setters := []func(){
		func() { def.SetName("target") },
		func() { def.SetOS(OSLinux) },
		func() { def.SetWS(WSGTK) },
		func() { def.SetArch(ArchX8664) },
		func() { def.SetNL("de_DE") },
		func() { def.SetProgramArguments("-clean") },
		func() { def.SetVMArguments("-Xmx1g") },
		func() { def.SetJREContainer("jre/17") },
		func() { def.SetImplicitDependencies([]NameVersionDescriptor{PluginDescriptor("a", "")}) },
		func() { def.SetTargetLocations(nil) },
		func() { def.SetIncluded([]NameVersionDescriptor{PluginDescriptor("a", "")}) },
		func() { def.SetOptionalIncluded(nil) },
	}

	for i, set := range setters {
		before := def.SequenceNumber()
		set()
		if got := def.SequenceNumber(); got != before+1 {
			t.Errorf("setter %d: sequence number %d, want %d", i, got, before+1)
		}
	}

	before := def.SequenceNumber()
	def.Resolve(context.Background(), false)
	if def.SequenceNumber() != before {
		t.Error("Resolve must not change the sequence number")
	}
}

func TestNewTargetDefinitionHandle(t *testing.T) {
	def := NewTargetDefinition("")
	if def.Handle() == "" || def.Handle()[:6] != "local:" {
		t.Errorf("unexpected generated handle %q", def.Handle())
	}
	if NewTargetDefinition("file:/tmp/a.target").Handle() != "file:/tmp/a.target" {
		t.Error("explicit handle not kept")
	}
}

func TestUnresolvedDefinitionReturnsNil(t *testing.T) {
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{&stubLocation{name: "a"}})

	if def.IsResolved() {
		t.Fatal("new definition should not be resolved")
	}
	if def.Bundles() != nil || def.AllBundles() != nil || def.Features() != nil || def.Status() != nil {
		t.Error("unresolved definition must return nil content")
	}
	if !def.IsStale() {
		t.Error("unresolved definition should be stale")
	}
}

func TestResolveUnionWithoutDuplicates(t *testing.T) {
	shared := []TargetBundle{bundle("m1", "1.0.0"), bundle("m2", "1.0.0"), bundle("m3", "1.0.0")}
	first := &stubLocation{name: "f", bundles: shared}
	second := &stubLocation{name: "g", bundles: append(append([]TargetBundle{}, shared...),
		bundle("m4", "1.0.0"), bundle("m5", "1.0.0"), bundle("m6", "1.0.0"))}

	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{first, second})

	st := def.Resolve(context.Background(), false)
	if !st.IsOK() {
		t.Fatalf("Resolve failed: %s", st)
	}
	if got := len(def.Bundles()); got != 6 {
		t.Errorf("expected 6 bundles, got %d: %v", got, bundleNames(def.Bundles()))
	}
	if !def.IsResolved() || def.IsStale() {
		t.Error("definition should be resolved and fresh")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	loc := &stubLocation{
		name:    "a",
		bundles: []TargetBundle{bundle("m1", "1.0.0"), bundle("m2", "2.0.0")},
		status:  Warningf(CodeUnitNotFound, "something minor"),
	}
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{loc})

	st1 := def.Resolve(context.Background(), false)
	bundles1, features1 := def.Bundles(), def.Features()

	st2 := def.Resolve(context.Background(), false)
	if diff := cmp.Diff(bundles1, def.Bundles()); diff != "" {
		t.Errorf("bundles changed on second resolve (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(features1, def.Features()); diff != "" {
		t.Errorf("features changed on second resolve (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(st1, st2, cmpopts.IgnoreFields(Status{}, "Err")); diff != "" {
		t.Errorf("status changed on second resolve (-first +second):\n%s", diff)
	}
	if loc.calls != 1 {
		t.Errorf("location resolved %d times, want 1", loc.calls)
	}

	def.Resolve(context.Background(), true)
	if loc.calls != 2 {
		t.Errorf("forced resolve should re-resolve the location, calls=%d", loc.calls)
	}
}

func TestInclusionFiltering(t *testing.T) {
	loc := &stubLocation{name: "a", bundles: []TargetBundle{
		bundle("m1", "1.0.0"), bundle("m2", "1.0.0"), bundle("m3", "1.0.0"), bundle("m4", "1.0.0"),
	}}
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{loc})
	def.SetIncluded([]NameVersionDescriptor{
		PluginDescriptor("m1", ""),
		PluginDescriptor("m3", "1.0"),
		PluginDescriptor("missing", ""),
	})

	st := def.Resolve(context.Background(), false)

	if diff := cmp.Diff([]string{"m1", "m3"}, bundleNames(def.Bundles())); diff != "" {
		t.Errorf("filtered bundles mismatch (-want +got):\n%s", diff)
	}
	if st.Severity != SeverityError {
		t.Errorf("expected error severity, got %s", st.Severity)
	}
	missing := st.Find(CodePluginDoesNotExist)
	if len(missing) != 1 {
		t.Fatalf("expected exactly one plugin_does_not_exist status, got %d", len(missing))
	}
	if missing[0].Severity != SeverityError {
		t.Errorf("mandatory inclusion should be an error, got %s", missing[0].Severity)
	}

	all := def.AllBundles()
	if len(all) != 4 {
		t.Fatalf("AllBundles should keep excluded entries, got %d", len(all))
	}
	excluded := 0
	for _, b := range all {
		if b.Status != nil && b.Status.Code == CodeExcluded {
			excluded++
		}
	}
	if excluded != 2 {
		t.Errorf("expected 2 excluded bundles, got %d", excluded)
	}
}

func TestInclusionVersionMismatch(t *testing.T) {
	loc := &stubLocation{name: "a", bundles: []TargetBundle{bundle("m1", "1.0.0")}}
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{loc})
	def.SetIncluded([]NameVersionDescriptor{PluginDescriptor("m1", "2.0.0")})

	st := def.Resolve(context.Background(), false)
	if len(st.Find(CodeVersionDoesNotExist)) != 1 {
		t.Errorf("expected version_does_not_exist, got:\n%s", st)
	}
	if len(def.Bundles()) != 0 {
		t.Errorf("expected no bundles, got %v", bundleNames(def.Bundles()))
	}
}

func TestOptionalInclusionIsInformational(t *testing.T) {
	loc := &stubLocation{name: "a", bundles: []TargetBundle{bundle("m1", "1.0.0")}}
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{loc})
	def.SetIncluded([]NameVersionDescriptor{PluginDescriptor("m1", "")})
	def.SetOptionalIncluded([]NameVersionDescriptor{PluginDescriptor("gone", "")})

	st := def.Resolve(context.Background(), false)
	if st.Severity != SeverityInfo {
		t.Errorf("expected info severity, got %s:\n%s", st.Severity, st)
	}
}

func TestFeatureInclusionIsTransitive(t *testing.T) {
	loc := &stubLocation{
		name: "a",
		bundles: []TargetBundle{
			bundle("m1", "1.0.0"), bundle("m2", "1.0.0"), bundle("m3", "1.0.0"),
			bundle("m4", "1.0.0"), bundle("other", "1.0.0"),
		},
		features: []TargetFeature{
			{ID: "f", Version: "1.0.0", Plugins: []NameVersionDescriptor{
				PluginDescriptor("m1", "1.0.0"), PluginDescriptor("m2", "1.0.0"), PluginDescriptor("m3", "1.0.0"),
			}},
			{ID: "g", Version: "1.0.0",
				Plugins:  []NameVersionDescriptor{PluginDescriptor("m4", "1.0.0")},
				Includes: []NameVersionDescriptor{FeatureDescriptor("f", "1.0.0")},
			},
		},
	}
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{loc})
	def.SetIncluded([]NameVersionDescriptor{FeatureDescriptor("g", "")})

	st := def.Resolve(context.Background(), false)
	if !st.IsOK() {
		t.Fatalf("Resolve failed: %s", st)
	}
	if diff := cmp.Diff([]string{"m1", "m2", "m3", "m4"}, bundleNames(def.Bundles())); diff != "" {
		t.Errorf("feature inclusion mismatch (-want +got):\n%s", diff)
	}

	def.SetIncluded([]NameVersionDescriptor{FeatureDescriptor("nope", "")})
	st = def.Resolve(context.Background(), false)
	if len(st.Find(CodeFeatureDoesNotExist)) != 1 {
		t.Errorf("expected feature_does_not_exist, got:\n%s", st)
	}
}

func TestChangedInclusionIsAppliedWithoutForce(t *testing.T) {
	loc := &stubLocation{name: "a", bundles: []TargetBundle{bundle("m1", "1.0.0"), bundle("m2", "1.0.0")}}
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{loc})
	def.Resolve(context.Background(), false)

	def.SetIncluded([]NameVersionDescriptor{PluginDescriptor("m2", "")})
	if !def.IsStale() {
		t.Error("definition should be stale after changing includes")
	}
	def.Resolve(context.Background(), false)

	if diff := cmp.Diff([]string{"m2"}, bundleNames(def.Bundles())); diff != "" {
		t.Errorf("filtered view not recomputed (-want +got):\n%s", diff)
	}
	if loc.calls != 1 {
		t.Errorf("location should not be re-resolved, calls=%d", loc.calls)
	}
}

func TestCancelledResolveKeepsPreviousState(t *testing.T) {
	loc := &stubLocation{name: "a", bundles: []TargetBundle{bundle("m1", "1.0.0")}}
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{loc})
	def.Resolve(context.Background(), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := def.Resolve(ctx, true)
	if st.Severity != SeverityCancel {
		t.Errorf("expected cancel severity, got %s", st.Severity)
	}
	if !loc.IsResolved() || !def.IsResolved() {
		t.Fatal("cancelled resolve must keep the previous resolution")
	}
	if len(def.Bundles()) != 1 {
		t.Errorf("expected previous bundle set, got %v", bundleNames(def.Bundles()))
	}
}

func TestLocationErrorsAreAggregated(t *testing.T) {
	bad := &stubLocation{name: "bad", status: Errorf(CodeLocationUnavailable, "missing")}
	good := &stubLocation{name: "good", bundles: []TargetBundle{bundle("m1", "1.0.0")}}
	obs := &recordingObserver{}
	def := NewTargetDefinition("", WithObserver(obs), WithParallelism(1))
	def.SetTargetLocations([]Location{bad, good})

	st := def.Resolve(context.Background(), false)
	if st.Severity != SeverityError || st.Code != CodeResolutionProblems {
		t.Errorf("unexpected status %s/%s", st.Severity, st.Code)
	}
	if len(st.Children) != 1 || st.Children[0].Code != CodeLocationUnavailable {
		t.Errorf("expected the location failure as the only child, got:\n%s", st)
	}
	if len(def.Bundles()) != 1 {
		t.Error("good location content should still be resolved")
	}
	if obs.locations != 2 || obs.definitions != 1 {
		t.Errorf("observer saw %d locations and %d definitions", obs.locations, obs.definitions)
	}
}

func TestContentEqual(t *testing.T) {
	build := func() *TargetDefinition {
		d := NewTargetDefinition("")
		d.SetName("t")
		d.SetOS(OSLinux)
		d.SetVMArguments("-Xmx1g")
		d.SetTargetLocations([]Location{&stubLocation{name: "a"}, &stubLocation{name: "b"}})
		d.SetIncluded([]NameVersionDescriptor{PluginDescriptor("x", ""), FeatureDescriptor("y", "1.0")})
		return d
	}

	a, b := build(), build()
	if !a.ContentEqual(b) {
		t.Fatal("identical definitions should be content equal")
	}

	b.SetIncluded([]NameVersionDescriptor{FeatureDescriptor("y", "1.0"), PluginDescriptor("x", "")})
	if !a.ContentEqual(b) {
		t.Error("inclusion order should not matter")
	}

	b.SetTargetLocations([]Location{&stubLocation{name: "b"}, &stubLocation{name: "a"}})
	if a.ContentEqual(b) {
		t.Error("location order should matter")
	}

	c := build()
	c.SetIncluded(nil)
	if a.ContentEqual(c) {
		t.Error("nil inclusion list differs from a populated one")
	}
	d := build()
	d.SetIncluded(nil)
	e := build()
	e.SetIncluded([]NameVersionDescriptor{})
	if d.ContentEqual(e) {
		t.Error("nil inclusion list differs from an empty one")
	}
}

func TestDefaultEnvironmentIsNotContent(t *testing.T) {
	fallback := Environment{OS: OSMacOSX, WS: WSCocoa}
	a := NewTargetDefinition("", WithDefaultEnvironment(fallback))
	a.SetArch(ArchARM64)
	b := NewTargetDefinition("")
	b.SetArch(ArchARM64)

	if got := a.Environment(); got.OS != OSMacOSX || got.WS != WSCocoa || got.Arch != ArchARM64 {
		t.Errorf("Environment() = %+v, want fallback os/ws with explicit arch", got)
	}
	if a.OS() != "" || a.WS() != "" {
		t.Errorf("fallback leaked into settings: os=%q ws=%q", a.OS(), a.WS())
	}
	if a.SequenceNumber() != b.SequenceNumber() {
		t.Errorf("fallback changed the sequence number: %d != %d", a.SequenceNumber(), b.SequenceNumber())
	}
	if !a.ContentEqual(b) {
		t.Error("fallback environment must not affect content equality")
	}
}

func TestLauncherVMArguments(t *testing.T) {
	def := NewTargetDefinition("")
	def.SetTargetLocations([]Location{&stubLocation{name: "a"}, &vmArgsLocation{stubLocation{name: "p"}}})
	if diff := cmp.Diff([]string{"-Xmx512m"}, def.LauncherVMArguments()); diff != "" {
		t.Errorf("vm arguments mismatch (-want +got):\n%s", diff)
	}
}

type vmArgsLocation struct {
	stubLocation
}

func (v *vmArgsLocation) VMArguments() []string { return []string{"-Xmx512m"} }
