package locations

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/provisioning"
	"github.com/openfroyo/targetplatform/pkg/version"
)

// UnitDescriptor requests one installable unit. A nil Version means no
// version was given; an explicit empty or 0.0.0 version is kept as written.
// Both resolve to the highest available version.
type UnitDescriptor struct {
	ID      string
	Version *string
}

// Unit returns a descriptor with an explicit version.
func Unit(id, ver string) UnitDescriptor {
	return UnitDescriptor{ID: id, Version: &ver}
}

// UnitAnyVersion returns a descriptor without a version.
func UnitAnyVersion(id string) UnitDescriptor {
	return UnitDescriptor{ID: id}
}

// Range returns the version range the descriptor stands for.
func (u UnitDescriptor) Range() (version.Range, error) {
	if u.Version == nil {
		return version.Any, nil
	}
	return version.ParseUnitRange(*u.Version)
}

// Equal compares ids and the exact version strings, including whether a
// version was given at all.
func (u UnitDescriptor) Equal(o UnitDescriptor) bool {
	if u.ID != o.ID || (u.Version == nil) != (o.Version == nil) {
		return false
	}
	return u.Version == nil || *u.Version == *o.Version
}

// InstallableUnitOptions are the resolution flags of an installable unit
// location.
type InstallableUnitOptions struct {
	Mode                   provisioning.Mode
	IncludeAllRequired     bool
	IncludeAllEnvironments bool
	IncludeSource          bool
}

// InstallableUnitLocation resolves units against metadata repositories.
// Results are cached in the definition's provisioning profile cache, keyed
// by the definition handle and the location's canonical content.
type InstallableUnitLocation struct {
	engine.ResolutionCache
	units        []UnitDescriptor
	repositories []string
	opts         InstallableUnitOptions
	loader       *provisioning.Loader
}

var defaultLoader = provisioning.NewLoader()

// InstallableUnitOption configures an InstallableUnitLocation.
type InstallableUnitOption func(*InstallableUnitLocation)

// WithLoader sets the repository loader. Locations share a default loader
// otherwise.
func WithLoader(l *provisioning.Loader) InstallableUnitOption {
	return func(iu *InstallableUnitLocation) {
		if l != nil {
			iu.loader = l
		}
	}
}

// NewInstallableUnitLocation creates an installable unit location.
func NewInstallableUnitLocation(units []UnitDescriptor, repositories []string, opts InstallableUnitOptions, options ...InstallableUnitOption) *InstallableUnitLocation {
	l := &InstallableUnitLocation{
		units:        slices.Clone(units),
		repositories: slices.Clone(repositories),
		opts:         opts,
		loader:       defaultLoader,
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// SetLoader replaces the repository loader. It must not be called while the
// location is resolving.
func (l *InstallableUnitLocation) SetLoader(loader *provisioning.Loader) {
	if loader != nil {
		l.loader = loader
	}
}

// Units returns the requested units.
func (l *InstallableUnitLocation) Units() []UnitDescriptor { return slices.Clone(l.units) }

// Repositories returns the listed repositories.
func (l *InstallableUnitLocation) Repositories() []string { return slices.Clone(l.repositories) }

// Options returns the resolution flags.
func (l *InstallableUnitLocation) Options() InstallableUnitOptions { return l.opts }

// SetOptions changes the resolution flags and drops the cached resolution.
func (l *InstallableUnitLocation) SetOptions(opts InstallableUnitOptions) {
	l.opts = opts
	l.Invalidate()
}

// SetUnits replaces the requested units and drops the cached resolution.
func (l *InstallableUnitLocation) SetUnits(units []UnitDescriptor) {
	l.units = slices.Clone(units)
	l.Invalidate()
}

// EffectiveMode returns the strategy used for resolution.
func (l *InstallableUnitLocation) EffectiveMode() provisioning.Mode {
	return l.opts.Mode.Effective(len(l.repositories) > 0)
}

// Type implements engine.Location.
func (l *InstallableUnitLocation) Type() engine.LocationType {
	return engine.LocationInstallableUnit
}

// ProfileMemento implements engine.Provisioned. Versions appear as canonical
// ranges so that "1.0" and "[1.0.0,1.0.0]" produce the same memento.
func (l *InstallableUnitLocation) ProfileMemento(def *engine.TargetDefinition) string {
	units := make([]string, 0, len(l.units))
	for _, u := range l.units {
		rng, err := u.Range()
		r := rng.String()
		if err != nil {
			r = "invalid:" + *u.Version
		}
		units = append(units, u.ID+"@"+r)
	}
	sort.Strings(units)

	repos := slices.Clone(l.repositories)
	sort.Strings(repos)

	env := "all"
	if !l.opts.IncludeAllEnvironments {
		e := engine.DefaultEnvironment()
		if def != nil {
			e = def.Environment()
		}
		env = e.String() + "." + e.NL
	}

	return fmt.Sprintf("units=%s;repositories=%s;mode=%s;required=%t;environments=%s;source=%t",
		strings.Join(units, ","), strings.Join(repos, ","), l.EffectiveMode(),
		l.opts.IncludeAllRequired, env, l.opts.IncludeSource)
}

// Resolve implements engine.Location.
func (l *InstallableUnitLocation) Resolve(ctx context.Context, def *engine.TargetDefinition, force bool) *engine.Status {
	if st, ok := l.Cached(force); ok {
		return st
	}

	build := func(ctx context.Context) (*engine.Profile, error) {
		return l.provision(ctx, def)
	}

	var (
		profile *engine.Profile
		reused  bool
		err     error
	)
	if def != nil && def.ProfileCache() != nil {
		profile, reused, err = def.ProfileCache().Provision(ctx, def.Handle(), l.ProfileMemento(def), build)
	} else {
		profile, err = build(ctx)
	}
	if err != nil {
		var st *engine.Status
		if !errors.As(err, &st) {
			st = engine.ErrorStatus(engine.CodeRepositoryUnavailable, "Failed to provision installable units", err)
		}
		return l.Commit(ctx, nil, nil, st)
	}

	zerolog.Ctx(ctx).Debug().
		Str("profile", profile.ID).
		Bool("reused", reused).
		Int("bundles", len(profile.Bundles)).
		Msg("Installable units provisioned")

	return l.Commit(ctx, profile.Bundles, profile.Features, profile.Status)
}

// provision loads the repositories and computes the closure. Failures are
// returned as *engine.Status errors so that nothing is persisted.
func (l *InstallableUnitLocation) provision(ctx context.Context, def *engine.TargetDefinition) (*engine.Profile, error) {
	repos := l.repositories
	if len(repos) == 0 {
		repos = l.loader.DefaultRepositories()
	}
	if len(repos) == 0 {
		return nil, engine.Errorf(engine.CodeRepositoryUnavailable, "No repositories to resolve installable units from")
	}

	var pool provisioning.Pool
	var problems []*engine.Status
	for _, uri := range repos {
		repo, err := l.loader.Load(ctx, uri)
		if err != nil {
			if ctx.Err() != nil {
				return nil, engine.CancelStatus(ctx.Err())
			}
			msg := "Repository " + uri + " is not available"
			if engine.IsPermanent(err) {
				msg = "Repository " + uri + " cannot be used"
			}
			problems = append(problems, engine.ErrorStatus(engine.CodeRepositoryUnavailable, msg, err))
			continue
		}
		pool = append(pool, repo)
	}
	if len(problems) > 0 {
		return nil, engine.NewMultiStatus(engine.CodeResolutionProblems, "Problems loading repositories", problems...)
	}

	roots := make([]provisioning.Root, 0, len(l.units))
	for _, u := range l.units {
		rng, err := u.Range()
		if err != nil {
			return nil, engine.ErrorStatus(engine.CodeUnitNotFound,
				fmt.Sprintf("Invalid version %q for unit %s", *u.Version, u.ID), err)
		}
		roots = append(roots, provisioning.Root{ID: u.ID, Range: rng})
	}

	envs := engine.SupportedEnvironments()
	if !l.opts.IncludeAllEnvironments {
		env := engine.DefaultEnvironment()
		if def != nil {
			env = def.Environment()
		}
		envs = []engine.Environment{env}
	}

	res := provisioning.Resolve(ctx, pool, provisioning.Request{
		Roots:         roots,
		Mode:          l.EffectiveMode(),
		Environments:  envs,
		FollowAll:     l.opts.IncludeAllRequired,
		IncludeSource: l.opts.IncludeSource,
	})
	if res.Status.Severity >= engine.SeverityError {
		return nil, res.Status
	}
	return &engine.Profile{
		Bundles:  res.Bundles(),
		Features: res.Features(),
		Status:   res.Status,
	}, nil
}

// ContentEqual implements engine.Location. Units compare by their exact
// version strings so that persistence round trips are lossless.
func (l *InstallableUnitLocation) ContentEqual(other engine.Location) bool {
	o, ok := other.(*InstallableUnitLocation)
	if !ok || l.opts != o.opts || !slices.Equal(l.repositories, o.repositories) {
		return false
	}
	return slices.EqualFunc(l.units, o.units, UnitDescriptor.Equal)
}

func (l *InstallableUnitLocation) String() string {
	ids := make([]string, 0, len(l.units))
	for _, u := range l.units {
		ids = append(ids, u.ID)
	}
	return fmt.Sprintf("units [%s] from %s", strings.Join(ids, ", "), strings.Join(l.repositories, ", "))
}
