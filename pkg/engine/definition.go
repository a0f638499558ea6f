package engine

import (
	"runtime"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// TargetDefinition is an ordered list of locations plus the environment and
// inclusion settings used to resolve them into a set of bundles.
//
// Setters bump the sequence number and never resolve. Setters must not be
// called while Resolve is running on the same definition.
type TargetDefinition struct {
	handle string

	name         string
	env          Environment
	programArgs  string
	vmArgs       string
	jreContainer string
	implicit     []NameVersionDescriptor
	locations    []Location
	included     []NameVersionDescriptor
	optional     []NameVersionDescriptor

	sequence uint64

	mu  sync.RWMutex
	res *resolution

	profiles    ProfileCache
	observer    Observer
	parallelism int
	fallbackEnv Environment
}

type resolution struct {
	bundles  []TargetBundle
	all      []TargetBundle
	features []TargetFeature
	status   *Status
	sequence uint64
}

// Option configures a TargetDefinition.
type Option func(*TargetDefinition)

// WithProfileCache sets the cache used by provisioned locations.
func WithProfileCache(cache ProfileCache) Option {
	return func(d *TargetDefinition) {
		d.profiles = cache
	}
}

// WithObserver sets the receiver of resolution measurements.
func WithObserver(o Observer) Option {
	return func(d *TargetDefinition) {
		d.observer = o
	}
}

// WithParallelism bounds the number of locations resolved concurrently.
func WithParallelism(n int) Option {
	return func(d *TargetDefinition) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

// WithDefaultEnvironment sets environment values used where the definition
// leaves a setting empty. They apply to resolution only and are never part of
// the definition's content.
func WithDefaultEnvironment(env Environment) Option {
	return func(d *TargetDefinition) {
		d.fallbackEnv = env
	}
}

// NewHandle returns a handle for a definition that has not been saved.
func NewHandle() string {
	return "local:" + uuid.NewString()
}

// NewTargetDefinition creates an empty definition. An empty handle is
// replaced by NewHandle.
func NewTargetDefinition(handle string, opts ...Option) *TargetDefinition {
	if handle == "" {
		handle = NewHandle()
	}
	d := &TargetDefinition{
		handle:      handle,
		parallelism: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Configure applies options to an existing definition, e.g. one produced by
// the persistence codec.
func (d *TargetDefinition) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(d)
	}
}

// Handle identifies the definition for profile ownership.
func (d *TargetDefinition) Handle() string { return d.handle }

// SetHandle changes the identity, e.g. after the definition is saved to a
// new file. It does not count as a content change.
func (d *TargetDefinition) SetHandle(handle string) { d.handle = handle }

// ProfileCache returns the configured cache, or nil.
func (d *TargetDefinition) ProfileCache() ProfileCache { return d.profiles }

// SequenceNumber increases by one on every setter call.
func (d *TargetDefinition) SequenceNumber() uint64 { return d.sequence }

func (d *TargetDefinition) bump() { d.sequence++ }

// Name returns the display name.
func (d *TargetDefinition) Name() string { return d.name }

// SetName sets the display name.
func (d *TargetDefinition) SetName(name string) {
	d.name = name
	d.bump()
}

// OS returns the configured operating system, or "" for the default.
func (d *TargetDefinition) OS() string { return d.env.OS }

// SetOS sets the operating system.
func (d *TargetDefinition) SetOS(os string) {
	d.env.OS = os
	d.bump()
}

// WS returns the configured windowing system, or "" for the default.
func (d *TargetDefinition) WS() string { return d.env.WS }

// SetWS sets the windowing system.
func (d *TargetDefinition) SetWS(ws string) {
	d.env.WS = ws
	d.bump()
}

// Arch returns the configured architecture, or "" for the default.
func (d *TargetDefinition) Arch() string { return d.env.Arch }

// SetArch sets the architecture.
func (d *TargetDefinition) SetArch(arch string) {
	d.env.Arch = arch
	d.bump()
}

// NL returns the configured locale, or "" for the default.
func (d *TargetDefinition) NL() string { return d.env.NL }

// SetNL sets the locale.
func (d *TargetDefinition) SetNL(nl string) {
	d.env.NL = nl
	d.bump()
}

// Environment returns the effective environment: configured values, then
// the WithDefaultEnvironment values, then defaults for the running process.
func (d *TargetDefinition) Environment() Environment {
	return d.env.Merge(d.fallbackEnv).Merge(DefaultEnvironment())
}

// ProgramArguments returns the launch program arguments.
func (d *TargetDefinition) ProgramArguments() string { return d.programArgs }

// SetProgramArguments sets the launch program arguments.
func (d *TargetDefinition) SetProgramArguments(args string) {
	d.programArgs = args
	d.bump()
}

// VMArguments returns the launch VM arguments.
func (d *TargetDefinition) VMArguments() string { return d.vmArgs }

// SetVMArguments sets the launch VM arguments.
func (d *TargetDefinition) SetVMArguments(args string) {
	d.vmArgs = args
	d.bump()
}

// JREContainer returns the runtime container reference.
func (d *TargetDefinition) JREContainer() string { return d.jreContainer }

// SetJREContainer sets the runtime container reference.
func (d *TargetDefinition) SetJREContainer(path string) {
	d.jreContainer = path
	d.bump()
}

// ImplicitDependencies returns the modules every workspace module depends on.
func (d *TargetDefinition) ImplicitDependencies() []NameVersionDescriptor {
	return slices.Clone(d.implicit)
}

// SetImplicitDependencies replaces the implicit dependencies.
func (d *TargetDefinition) SetImplicitDependencies(deps []NameVersionDescriptor) {
	d.implicit = slices.Clone(deps)
	d.bump()
}

// Locations returns the locations in resolution order.
func (d *TargetDefinition) Locations() []Location {
	return slices.Clone(d.locations)
}

// SetTargetLocations replaces the locations and drops the cached resolution.
func (d *TargetDefinition) SetTargetLocations(locations []Location) {
	d.locations = slices.Clone(locations)
	d.mu.Lock()
	d.res = nil
	d.mu.Unlock()
	d.bump()
}

// Included returns the inclusion list, or nil when everything is included.
func (d *TargetDefinition) Included() []NameVersionDescriptor {
	return slices.Clone(d.included)
}

// SetIncluded sets the inclusion list. Nil disables filtering. The filtered
// view is recomputed on the next Resolve.
func (d *TargetDefinition) SetIncluded(included []NameVersionDescriptor) {
	d.included = slices.Clone(included)
	d.bump()
}

// OptionalIncluded returns inclusion entries whose absence is only reported
// as information.
func (d *TargetDefinition) OptionalIncluded() []NameVersionDescriptor {
	return slices.Clone(d.optional)
}

// SetOptionalIncluded sets the optional inclusion entries.
func (d *TargetDefinition) SetOptionalIncluded(optional []NameVersionDescriptor) {
	d.optional = slices.Clone(optional)
	d.bump()
}

// IsResolved reports whether Resolve completed and every location is resolved.
func (d *TargetDefinition) IsResolved() bool {
	d.mu.RLock()
	res := d.res
	d.mu.RUnlock()
	if res == nil {
		return false
	}
	for _, loc := range d.locations {
		if !loc.IsResolved() {
			return false
		}
	}
	return true
}

// IsStale reports whether settings changed since the last resolve. A
// definition that was never resolved is stale.
func (d *TargetDefinition) IsStale() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.res == nil || d.res.sequence != d.sequence
}

func (d *TargetDefinition) resolved() *resolution {
	if !d.IsResolved() {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.res
}

// Bundles returns the resolved bundles after inclusion filtering, or nil
// when the definition is not resolved.
func (d *TargetDefinition) Bundles() []TargetBundle {
	res := d.resolved()
	if res == nil {
		return nil
	}
	return slices.Clone(res.bundles)
}

// AllBundles returns every resolved bundle including those removed by the
// inclusion list; removed bundles carry an excluded status.
func (d *TargetDefinition) AllBundles() []TargetBundle {
	res := d.resolved()
	if res == nil {
		return nil
	}
	return slices.Clone(res.all)
}

// Features returns the resolved features, or nil.
func (d *TargetDefinition) Features() []TargetFeature {
	res := d.resolved()
	if res == nil {
		return nil
	}
	return slices.Clone(res.features)
}

// Status returns the aggregated resolution status, or nil.
func (d *TargetDefinition) Status() *Status {
	res := d.resolved()
	if res == nil {
		return nil
	}
	return res.status
}

// LauncherVMArguments collects the VM arguments of locations that carry a
// launcher configuration.
func (d *TargetDefinition) LauncherVMArguments() []string {
	var out []string
	for _, loc := range d.locations {
		if p, ok := loc.(VMArgumentsProvider); ok {
			out = append(out, p.VMArguments()...)
		}
	}
	return out
}

// ContentEqual compares settings, location configurations and inclusion
// lists. Resolved output is not compared.
func (d *TargetDefinition) ContentEqual(o *TargetDefinition) bool {
	if o == nil {
		return false
	}
	if d.name != o.name || d.env != o.env ||
		d.programArgs != o.programArgs || d.vmArgs != o.vmArgs ||
		d.jreContainer != o.jreContainer {
		return false
	}
	if !sameDescriptors(d.implicit, o.implicit) ||
		!sameDescriptors(d.included, o.included) ||
		!sameDescriptors(d.optional, o.optional) {
		return false
	}
	if (d.included == nil) != (o.included == nil) {
		return false
	}
	if len(d.locations) != len(o.locations) {
		return false
	}
	for i := range d.locations {
		if !d.locations[i].ContentEqual(o.locations[i]) {
			return false
		}
	}
	return true
}

func sameDescriptors(a, b []NameVersionDescriptor) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	SortDescriptors(a)
	SortDescriptors(b)
	return slices.Equal(a, b)
}
