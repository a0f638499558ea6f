// Package version implements module versions and version ranges as they
// appear in module manifests, feature descriptors and repository metadata.
//
// A version has up to three numeric segments and an optional qualifier
// (1.2.3.v20240101). The numeric part is parsed and ordered with
// github.com/Masterminds/semver/v3; qualifiers compare lexicographically and
// an empty qualifier sorts lowest.
package version

import (
	"fmt"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is an immutable module version.
type Version struct {
	core      *mm.Version
	qualifier string
}

// Empty is the 0.0.0 version. Descriptors use it to mean "any version".
var Empty = Version{core: mm.New(0, 0, 0, "", "")}

// Parse parses a version string. Missing minor and micro segments default to 0.
// Numeric segments are plain integers, so leading zeros are accepted.
func Parse(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Empty, nil
	}

	parts := strings.SplitN(s, ".", 4)
	qualifier := ""
	if len(parts) == 4 {
		qualifier = parts[3]
		if qualifier == "" {
			return Version{}, fmt.Errorf("version: parse %q: empty qualifier", raw)
		}
		parts = parts[:3]
	}

	var seg [3]uint64
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("version: parse %q: segment %d is not a number: %q", raw, i+1, part)
		}
		seg[i] = n
	}
	return Version{core: mm.New(seg[0], seg[1], seg[2], "", ""), qualifier: qualifier}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) coreOrZero() *mm.Version {
	if v.core == nil {
		return Empty.core
	}
	return v.core
}

// Major returns the major segment.
func (v Version) Major() uint64 { return v.coreOrZero().Major() }

// Minor returns the minor segment.
func (v Version) Minor() uint64 { return v.coreOrZero().Minor() }

// Micro returns the micro segment.
func (v Version) Micro() uint64 { return v.coreOrZero().Patch() }

// Qualifier returns the qualifier, or "" when there is none.
func (v Version) Qualifier() string { return v.qualifier }

// IsEmpty reports whether v is 0.0.0 without a qualifier.
func (v Version) IsEmpty() bool {
	return v.Compare(Empty) == 0
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or greater than o.
func (v Version) Compare(o Version) int {
	if c := v.coreOrZero().Compare(o.coreOrZero()); c != 0 {
		return c
	}
	return strings.Compare(v.qualifier, o.qualifier)
}

// Equal reports whether both versions are identical after normalization.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// String returns the normalized form, always with three numeric segments.
func (v Version) String() string {
	c := v.coreOrZero()
	s := fmt.Sprintf("%d.%d.%d", c.Major(), c.Minor(), c.Patch())
	if v.qualifier != "" {
		s += "." + v.qualifier
	}
	return s
}

// Normalize returns the normalized form of raw, or raw unchanged when it
// cannot be parsed.
func Normalize(raw string) string {
	v, err := Parse(raw)
	if err != nil {
		return raw
	}
	return v.String()
}

// Max returns the highest version in vs that satisfies r.
func Max(r Range, vs []Version) (Version, bool) {
	var best Version
	found := false
	for _, v := range vs {
		if !r.Contains(v) {
			continue
		}
		if !found || v.Compare(best) > 0 {
			best = v
			found = true
		}
	}
	return best, found
}
