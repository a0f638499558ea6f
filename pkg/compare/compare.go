// Package compare checks a resolved target definition against the modules of
// a running platform.
package compare

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/version"
)

// Options controls how differences are reported.
type Options struct {
	// Severity of each difference. Defaults to warning.
	Severity engine.Severity

	// Context is the number of unchanged lines around each report hunk.
	// Defaults to 3.
	Context int
}

// Option configures a comparison.
type Option func(*Options)

// WithSeverity sets the severity of each difference.
func WithSeverity(s engine.Severity) Option {
	return func(o *Options) { o.Severity = s }
}

// WithContext sets the number of context lines in reports.
func WithContext(n int) Option {
	return func(o *Options) { o.Context = n }
}

func options(opts []Option) Options {
	o := Options{Severity: engine.SeverityWarning, Context: 3}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type pair struct {
	name    string
	version string
}

// pairs returns the deduplicated (name, version) set of bundles. Records
// carrying an error stand for missing content and are left out.
func pairs(bundles []engine.TargetBundle) map[pair]bool {
	out := make(map[pair]bool, len(bundles))
	for _, b := range bundles {
		if b.Status != nil && b.Status.Severity >= engine.SeverityError {
			continue
		}
		out[pair{b.SymbolicName, version.Normalize(b.Version)}] = true
	}
	return out
}

func byName(set map[pair]bool) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for p := range set {
		if out[p.name] == nil {
			out[p.name] = make(map[string]bool)
		}
		out[p.name][p.version] = true
	}
	return out
}

// Compare checks the bundles of a resolved definition against the platform's
// bundles. Each symbolic name whose versions differ gets one
// missing_from_platform child when the definition has a version the platform
// lacks, and one missing_from_definition child for the reverse. Child
// messages are the bare symbolic name. The result is OK iff both sides hold
// the same set of (name, version) pairs.
func Compare(def *engine.TargetDefinition, platform []engine.TargetBundle, opts ...Option) *engine.Status {
	if !def.IsResolved() {
		return engine.Errorf(engine.CodeComparisonProblems, "Target definition %s is not resolved", def.Handle())
	}
	return CompareBundles(def.Bundles(), platform, opts...)
}

// CompareBundles compares two bundle lists. See Compare.
func CompareBundles(definition, platform []engine.TargetBundle, opts ...Option) *engine.Status {
	o := options(opts)
	defs := byName(pairs(definition))
	live := byName(pairs(platform))

	names := make(map[string]bool, len(defs)+len(live))
	for n := range defs {
		names[n] = true
	}
	for n := range live {
		names[n] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	var children []*engine.Status
	for _, n := range sorted {
		if missing(defs[n], live[n]) {
			children = append(children, engine.NewStatus(o.Severity, engine.CodeMissingFromPlatform, n))
		}
		if missing(live[n], defs[n]) {
			children = append(children, engine.NewStatus(o.Severity, engine.CodeMissingFromDefinition, n))
		}
	}
	if len(children) == 0 {
		return engine.OKStatus()
	}
	return engine.NewMultiStatus(engine.CodeComparisonProblems,
		"The target definition does not match the running platform", children...)
}

// missing reports whether a holds a version b lacks.
func missing(a, b map[string]bool) bool {
	for v := range a {
		if !b[v] {
			return true
		}
	}
	return false
}

func lines(bundles []engine.TargetBundle) []string {
	set := pairs(bundles)
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p.name+"_"+p.version+"\n")
	}
	sort.Strings(out)
	return out
}

// Report renders the differences between the definition's bundles and the
// platform's as a unified diff of sorted name_version lines. It returns ""
// when both sides match.
func Report(def *engine.TargetDefinition, platform []engine.TargetBundle, opts ...Option) (string, error) {
	if !def.IsResolved() {
		return "", fmt.Errorf("target definition %s is not resolved", def.Handle())
	}
	o := options(opts)
	u := difflib.UnifiedDiff{
		A:        lines(def.Bundles()),
		B:        lines(platform),
		FromFile: "definition",
		ToFile:   "platform",
		Context:  o.Context,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return s, nil
}

// ReadInventory reads a platform inventory: one "name,version" pair per
// line. Blank lines and lines starting with # are skipped.
func ReadInventory(r io.Reader) ([]engine.TargetBundle, error) {
	var out []engine.TargetBundle
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, ver, ok := strings.Cut(line, ",")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("inventory line %d: expected name,version", lineNo)
		}
		ver, _, _ = strings.Cut(ver, ",")
		v, err := version.Parse(strings.TrimSpace(ver))
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: %w", lineNo, err)
		}
		out = append(out, engine.TargetBundle{SymbolicName: name, Version: v.String()})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return out, nil
}
