package provisioning

import (
	"context"
	"fmt"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/version"
)

// Mode selects the closure strategy.
type Mode string

const (
	// ModeAuto picks the slicer when repositories are listed explicitly and
	// the planner otherwise.
	ModeAuto Mode = ""

	// ModePlanner requires every applicable requirement to be satisfied.
	ModePlanner Mode = "planner"

	// ModeSlicer follows what it can and reports the rest as warnings.
	ModeSlicer Mode = "slicer"
)

// Validate checks if the mode is valid.
func (m Mode) Validate() error {
	switch m {
	case ModeAuto, ModePlanner, ModeSlicer:
		return nil
	default:
		return fmt.Errorf("invalid include mode: %s", m)
	}
}

// Effective resolves ModeAuto.
func (m Mode) Effective(explicitRepositories bool) Mode {
	if m != ModeAuto {
		return m
	}
	if explicitRepositories {
		return ModeSlicer
	}
	return ModePlanner
}

// Root is a unit requested by the user.
type Root struct {
	ID    string
	Range version.Range
}

// Request describes one closure computation.
type Request struct {
	Roots        []Root
	Mode         Mode
	Environments []engine.Environment

	// FollowAll follows every requirement. Otherwise only strict (exact
	// range) requirements, such as feature content, are followed.
	FollowAll bool

	// IncludeSource adds <id>.source units at the same version when present.
	IncludeSource bool
}

// Result is the outcome of a closure computation.
type Result struct {
	Units  []*Unit
	Status *engine.Status

	// children records, per feature unit, the units it pulled in.
	children map[*Unit][]*Unit
}

// Resolve computes the closure of req.Roots over pool. The planner returns
// no units at all when anything is unsatisfied; the slicer returns what it
// could reach.
func Resolve(ctx context.Context, pool Pool, req Request) *Result {
	mode := req.Mode
	if mode == ModeAuto {
		mode = ModePlanner
	}
	missingSeverity := engine.SeverityError
	if mode == ModeSlicer {
		missingSeverity = engine.SeverityWarning
	}

	res := &Result{children: make(map[*Unit][]*Unit)}
	var problems []*engine.Status
	selected := make(map[*Unit]bool)
	var queue []*Unit

	add := func(u *Unit) {
		if selected[u] {
			return
		}
		selected[u] = true
		res.Units = append(res.Units, u)
		queue = append(queue, u)
	}

	for _, root := range req.Roots {
		u := pool.Highest(root.ID, root.Range, req.Environments)
		if u == nil {
			problems = append(problems, engine.Errorf(engine.CodeUnitNotFound,
				"Unit %s %s could not be found in the repositories", root.ID, root.Range))
			continue
		}
		add(u)
	}

	for len(queue) > 0 {
		if st := engine.StatusFromContext(ctx); st != nil {
			return &Result{Status: st}
		}
		u := queue[0]
		queue = queue[1:]

		for _, r := range u.Requires {
			if !r.Filter.IsEmpty() && !r.Filter.MatchesAny(req.Environments) {
				continue
			}
			strict := r.parsed.IsExact()
			if !req.FollowAll && !strict {
				continue
			}
			if r.Optional && !r.IsGreedy() {
				continue
			}
			dep := pool.Highest(r.ID, r.parsed, req.Environments)
			if dep == nil {
				if r.Optional {
					continue
				}
				problems = append(problems, engine.NewStatus(missingSeverity, engine.CodeUnsatisfied,
					fmt.Sprintf("Missing requirement: %s requires %s %s", u.Key(), r.ID, r.parsed)))
				continue
			}
			if u.IsFeature() {
				res.children[u] = append(res.children[u], dep)
			}
			add(dep)
		}
	}

	if req.IncludeSource {
		for _, u := range append([]*Unit{}, res.Units...) {
			if u.IsFeature() || u.Source {
				continue
			}
			if src := pool.Highest(u.ID+".source", version.Exact(u.parsed), req.Environments); src != nil {
				add(src)
			}
		}
	}

	status := engine.OKStatus()
	if len(problems) > 0 {
		status = engine.NewMultiStatus(engine.CodeResolutionProblems, "Problems resolving installable units", problems...)
	}
	if mode == ModePlanner && status.Severity >= engine.SeverityError {
		return &Result{Status: status}
	}
	res.Status = status
	return res
}

// Bundles converts the bundle units of the result.
func (r *Result) Bundles() []engine.TargetBundle {
	out := []engine.TargetBundle{}
	for _, u := range r.Units {
		if u.IsFeature() {
			continue
		}
		out = append(out, engine.TargetBundle{
			SymbolicName:   u.ID,
			Version:        u.Version,
			Location:       u.Location,
			IsFragment:     u.Fragment,
			IsSourceBundle: u.Source,
		})
	}
	return out
}

// Features converts the feature units of the result. Their content is the
// units each feature pulled into the closure.
func (r *Result) Features() []engine.TargetFeature {
	out := []engine.TargetFeature{}
	for _, u := range r.Units {
		if !u.IsFeature() {
			continue
		}
		f := engine.TargetFeature{ID: u.ID, Version: u.Version, Location: u.Location}
		for _, c := range r.children[u] {
			if c.IsFeature() {
				f.Includes = append(f.Includes, engine.FeatureDescriptor(c.ID, c.Version))
			} else {
				f.Plugins = append(f.Plugins, engine.PluginDescriptor(c.ID, c.Version))
			}
		}
		out = append(out, f)
	}
	return out
}
