package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Severity orders statuses from harmless to fatal.
type Severity int

const (
	// SeverityOK indicates nothing went wrong.
	SeverityOK Severity = iota

	// SeverityInfo carries a note that needs no action, e.g. an unmatched optional inclusion.
	SeverityInfo

	// SeverityWarning indicates a degraded but usable result.
	SeverityWarning

	// SeverityError indicates content is missing or invalid.
	SeverityError

	// SeverityCancel indicates the operation was cancelled before it completed.
	SeverityCancel
)

var severityNames = map[Severity]string{
	SeverityOK:      "ok",
	SeverityInfo:    "info",
	SeverityWarning: "warning",
	SeverityError:   "error",
	SeverityCancel:  "cancel",
}

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity parses a severity name.
func ParseSeverity(name string) (Severity, error) {
	for s, n := range severityNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return SeverityOK, fmt.Errorf("invalid severity: %s", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Code identifies the reason a status was produced.
type Code string

const (
	CodeOK                    Code = "ok"
	CodePluginDoesNotExist    Code = "plugin_does_not_exist"
	CodeVersionDoesNotExist   Code = "version_does_not_exist"
	CodeFeatureDoesNotExist   Code = "feature_does_not_exist"
	CodeInvalidManifest       Code = "invalid_manifest"
	CodeLocationUnavailable   Code = "location_unavailable"
	CodeRepositoryUnavailable Code = "repository_unavailable"
	CodeUnitNotFound          Code = "unit_not_found"
	CodeUnsatisfied           Code = "unsatisfied_requirement"
	CodeMissingFromDefinition Code = "missing_from_definition"
	CodeMissingFromPlatform   Code = "missing_from_platform"
	CodeExcluded              Code = "excluded"
	CodeResolutionProblems    Code = "resolution_problems"
	CodeComparisonProblems    Code = "comparison_problems"
	CodeCancelled             Code = "cancelled"
)

// Status is a node in a diagnostic tree. A status with children is a
// multi-status whose severity is the worst severity among its children.
//
// Resolution never crosses component boundaries as a Go error; it always
// reports a Status.
type Status struct {
	Severity Severity  `json:"severity"`
	Code     Code      `json:"code"`
	Message  string    `json:"message"`
	Err      error     `json:"-"`
	Children []*Status `json:"children,omitempty"`
}

// NewStatus creates a leaf status.
func NewStatus(severity Severity, code Code, message string) *Status {
	return &Status{Severity: severity, Code: code, Message: message}
}

// OKStatus returns a fresh OK status.
func OKStatus() *Status {
	return NewStatus(SeverityOK, CodeOK, "OK")
}

// Infof creates an info status.
func Infof(code Code, format string, args ...any) *Status {
	return NewStatus(SeverityInfo, code, fmt.Sprintf(format, args...))
}

// Warningf creates a warning status.
func Warningf(code Code, format string, args ...any) *Status {
	return NewStatus(SeverityWarning, code, fmt.Sprintf(format, args...))
}

// Errorf creates an error status.
func Errorf(code Code, format string, args ...any) *Status {
	return NewStatus(SeverityError, code, fmt.Sprintf(format, args...))
}

// ErrorStatus creates an error status carrying the underlying Go error.
func ErrorStatus(code Code, message string, err error) *Status {
	s := NewStatus(SeverityError, code, message)
	s.Err = err
	return s
}

// CancelStatus reports a cancelled operation.
func CancelStatus(err error) *Status {
	s := NewStatus(SeverityCancel, CodeCancelled, "operation cancelled")
	s.Err = err
	return s
}

// StatusFromContext returns a cancel status when ctx is done, or nil.
func StatusFromContext(ctx context.Context) *Status {
	if err := ctx.Err(); err != nil {
		return CancelStatus(err)
	}
	return nil
}

// NewMultiStatus creates a status aggregating children. Nil children are
// dropped. An empty multi-status is OK.
func NewMultiStatus(code Code, message string, children ...*Status) *Status {
	s := &Status{Code: code, Message: message}
	for _, c := range children {
		s.Add(c)
	}
	return s
}

// Add appends a child and raises the severity if needed.
func (s *Status) Add(child *Status) {
	if child == nil {
		return
	}
	s.Children = append(s.Children, child)
	if child.Severity > s.Severity {
		s.Severity = child.Severity
	}
}

// IsOK reports whether the status has OK severity. A nil status is OK.
func (s *Status) IsOK() bool {
	return s == nil || s.Severity == SeverityOK
}

// IsMulti reports whether the status has children.
func (s *Status) IsMulti() bool {
	return s != nil && len(s.Children) > 0
}

// Walk visits s and every descendant depth-first. Returning false from fn
// skips the children of the visited node.
func (s *Status) Walk(fn func(st *Status, depth int) bool) {
	s.walk(fn, 0)
}

func (s *Status) walk(fn func(*Status, int) bool, depth int) {
	if s == nil {
		return
	}
	if !fn(s, depth) {
		return
	}
	for _, c := range s.Children {
		c.walk(fn, depth+1)
	}
}

// Flatten returns every leaf status.
func (s *Status) Flatten() []*Status {
	var out []*Status
	s.Walk(func(st *Status, _ int) bool {
		if len(st.Children) == 0 {
			out = append(out, st)
		}
		return true
	})
	return out
}

// Errors returns the leaves with error severity or worse.
func (s *Status) Errors() []*Status {
	var out []*Status
	for _, st := range s.Flatten() {
		if st.Severity >= SeverityError {
			out = append(out, st)
		}
	}
	return out
}

// Find returns every status in the tree with the given code.
func (s *Status) Find(code Code) []*Status {
	var out []*Status
	s.Walk(func(st *Status, _ int) bool {
		if st.Code == code {
			out = append(out, st)
		}
		return true
	})
	return out
}

// Unwrap exposes the underlying error for errors.Is and errors.As.
func (s *Status) Unwrap() error {
	if s == nil {
		return nil
	}
	return s.Err
}

// Error renders the status as an error string so it can be returned where
// callers expect an error.
func (s *Status) Error() string {
	return s.String()
}

// AsError returns nil when the status is below error severity, else the
// status itself.
func (s *Status) AsError() error {
	if s == nil || s.Severity < SeverityError {
		return nil
	}
	return s
}

// String renders the status tree, one node per line.
func (s *Status) String() string {
	if s == nil {
		return "ok: OK"
	}
	var b strings.Builder
	s.Walk(func(st *Status, depth int) bool {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("  ", depth))
		fmt.Fprintf(&b, "%s: %s", st.Severity, st.Message)
		if st.Err != nil && !errors.Is(st.Err, context.Canceled) {
			fmt.Fprintf(&b, " (%v)", st.Err)
		}
		return true
	})
	return b.String()
}

// MarshalJSON includes the underlying error message when present.
func (s *Status) MarshalJSON() ([]byte, error) {
	type alias Status
	out := struct {
		*alias
		Error string `json:"error,omitempty"`
	}{alias: (*alias)(s)}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}
