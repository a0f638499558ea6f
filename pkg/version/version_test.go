package version

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "empty", raw: "", want: "0.0.0"},
		{name: "major only", raw: "3", want: "3.0.0"},
		{name: "major minor", raw: "3.1", want: "3.1.0"},
		{name: "full", raw: "3.1.4", want: "3.1.4"},
		{name: "qualifier", raw: "3.1.4.v20240101-1200", want: "3.1.4.v20240101-1200"},
		{name: "whitespace", raw: " 1.2.3 ", want: "1.2.3"},
		{name: "leading zero minor", raw: "1.09.0", want: "1.9.0"},
		{name: "date segments", raw: "2024.01.15", want: "2024.1.15"},
		{name: "leading zero with qualifier", raw: "1.0.01.v2020", want: "1.0.1.v2020"},
		{name: "empty qualifier", raw: "1.2.3.", wantErr: true},
		{name: "empty segment", raw: "1..2", wantErr: true},
		{name: "negative segment", raw: "1.-2.0", wantErr: true},
		{name: "letters", raw: "abc", wantErr: true},
		{name: "prerelease", raw: "1.2.3-rc1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %s", tt.raw, v)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.raw, err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0.0", "1.0.0.a", -1},
		{"1.0.0.b", "1.0.0.a", 1},
		{"1.10.0", "1.9.0", 1},
	}

	for _, tt := range tests {
		got := MustParse(tt.a).Compare(MustParse(tt.b))
		if got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestZeroValueIsEmpty(t *testing.T) {
	var v Version
	if !v.IsEmpty() {
		t.Error("zero Version should be empty")
	}
	if v.String() != "0.0.0" {
		t.Errorf("zero Version String() = %s", v.String())
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("1.2"); got != "1.2.0" {
		t.Errorf("Normalize(1.2) = %s", got)
	}
	if got := Normalize("not-a-version"); got != "not-a-version" {
		t.Errorf("Normalize should keep unparseable input, got %s", got)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "", want: "[0.0.0,)"},
		{raw: "1.2", want: "[1.2.0,)"},
		{raw: "[1.0,2.0)", want: "[1.0.0,2.0.0)"},
		{raw: "(1.0,2.0]", want: "(1.0.0,2.0.0]"},
		{raw: "[1.0,)", want: "[1.0.0,)"},
		{raw: "[2.0,1.0]", wantErr: true},
		{raw: "[1.0", wantErr: true},
		{raw: "[1.0,2.0,3.0]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r, err := ParseRange(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRange(%q) expected error, got %s", tt.raw, r)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q) failed: %v", tt.raw, err)
			}
			if got := r.String(); got != tt.want {
				t.Errorf("ParseRange(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseUnitRange(t *testing.T) {
	tests := []struct {
		raw   string
		want  string
		exact bool
		any   bool
	}{
		{raw: "", want: "[0.0.0,)", any: true},
		{raw: "0.0.0", want: "[0.0.0,)", any: true},
		{raw: "1.0", want: "[1.0.0,1.0.0]", exact: true},
		{raw: "[1.0,2.0)", want: "[1.0.0,2.0.0)"},
	}

	for _, tt := range tests {
		r, err := ParseUnitRange(tt.raw)
		if err != nil {
			t.Fatalf("ParseUnitRange(%q) failed: %v", tt.raw, err)
		}
		if r.String() != tt.want {
			t.Errorf("ParseUnitRange(%q) = %s, want %s", tt.raw, r, tt.want)
		}
		if r.IsExact() != tt.exact {
			t.Errorf("ParseUnitRange(%q).IsExact() = %v", tt.raw, r.IsExact())
		}
		if r.IsAny() != tt.any {
			t.Errorf("ParseUnitRange(%q).IsAny() = %v", tt.raw, r.IsAny())
		}
	}
}

func TestRangeContains(t *testing.T) {
	r, err := ParseRange("[1.0,2.0)")
	if err != nil {
		t.Fatal(err)
	}

	for raw, want := range map[string]bool{
		"0.9.9":   false,
		"1.0.0":   true,
		"1.5.0.q": true,
		"2.0.0":   false,
		"3.0.0":   false,
	} {
		if got := r.Contains(MustParse(raw)); got != want {
			t.Errorf("[1.0,2.0) contains %s = %v, want %v", raw, got, want)
		}
	}

	if !Any.Contains(MustParse("99.0.0")) {
		t.Error("Any should contain every version")
	}
}

func TestMax(t *testing.T) {
	vs := []Version{MustParse("1.0"), MustParse("1.5"), MustParse("2.1"), MustParse("1.9.9.z")}

	got, ok := Max(MustParseRange("[1.0,2.0)"), vs)
	if !ok {
		t.Fatal("Max found nothing")
	}
	if got.String() != "1.9.9.z" {
		t.Errorf("Max = %s, want 1.9.9.z", got)
	}

	if _, ok := Max(MustParseRange("[3.0,)"), vs); ok {
		t.Error("Max should find nothing above 3.0")
	}
}
