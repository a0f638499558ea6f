package version

import (
	"fmt"
	"strings"
)

// Range is an interval of versions. A nil Max means the range is unbounded
// above.
type Range struct {
	Min          Version
	MinInclusive bool
	Max          *Version
	MaxInclusive bool
}

// Any matches every version.
var Any = AtLeast(Empty)

// AtLeast returns [v,∞).
func AtLeast(v Version) Range {
	return Range{Min: v, MinInclusive: true}
}

// Exact returns [v,v].
func Exact(v Version) Range {
	max := v
	return Range{Min: v, MinInclusive: true, Max: &max, MaxInclusive: true}
}

// ParseRange parses an interval ("[1.0,2.0)") or a bare version, which
// denotes [v,∞). An empty string parses to Any.
func ParseRange(raw string) (Range, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Any, nil
	}
	if !strings.HasPrefix(s, "[") && !strings.HasPrefix(s, "(") {
		v, err := Parse(s)
		if err != nil {
			return Range{}, err
		}
		return AtLeast(v), nil
	}
	return parseInterval(raw, s)
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseUnitRange parses the version of a requested installable unit. A bare
// version is exact, and an empty string or the empty version means Any.
func ParseUnitRange(raw string) (Range, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Any, nil
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "(") {
		return parseInterval(raw, s)
	}
	v, err := Parse(s)
	if err != nil {
		return Range{}, err
	}
	if v.IsEmpty() {
		return Any, nil
	}
	return Exact(v), nil
}

func parseInterval(raw, s string) (Range, error) {
	if len(s) < 3 {
		return Range{}, fmt.Errorf("version: parse range %q: too short", raw)
	}
	open, end := s[0], s[len(s)-1]
	if end != ']' && end != ')' {
		return Range{}, fmt.Errorf("version: parse range %q: missing closing bracket", raw)
	}
	bounds := strings.Split(s[1:len(s)-1], ",")
	if len(bounds) != 2 {
		return Range{}, fmt.Errorf("version: parse range %q: expected two bounds", raw)
	}

	min, err := Parse(bounds[0])
	if err != nil {
		return Range{}, err
	}
	r := Range{Min: min, MinInclusive: open == '['}

	if strings.TrimSpace(bounds[1]) != "" {
		max, err := Parse(bounds[1])
		if err != nil {
			return Range{}, err
		}
		if max.Compare(min) < 0 {
			return Range{}, fmt.Errorf("version: parse range %q: maximum below minimum", raw)
		}
		r.Max = &max
		r.MaxInclusive = end == ']'
	}
	return r, nil
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v Version) bool {
	c := v.Compare(r.Min)
	if c < 0 || (c == 0 && !r.MinInclusive) {
		return false
	}
	if r.Max == nil {
		return true
	}
	c = v.Compare(*r.Max)
	return c < 0 || (c == 0 && r.MaxInclusive)
}

// IsExact reports whether the range matches a single version.
func (r Range) IsExact() bool {
	return r.Max != nil && r.MinInclusive && r.MaxInclusive && r.Min.Equal(*r.Max)
}

// IsAny reports whether the range matches every version.
func (r Range) IsAny() bool {
	return r.Max == nil && r.MinInclusive && r.Min.IsEmpty()
}

// String returns the canonical form used for comparisons and cache keys.
func (r Range) String() string {
	var b strings.Builder
	if r.MinInclusive {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	b.WriteString(r.Min.String())
	b.WriteByte(',')
	if r.Max == nil {
		b.WriteByte(')')
		return b.String()
	}
	b.WriteString(r.Max.String())
	if r.MaxInclusive {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}

// Equal reports whether both ranges match exactly the same versions.
func (r Range) Equal(o Range) bool {
	return r.String() == o.String()
}
