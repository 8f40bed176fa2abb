// Package diagnostic defines the severity model, fix metadata, and wire
// format shared by the purifier and linter: every rule in both produces a
// Diagnostic, and nothing downstream needs to know which stage emitted it.
package diagnostic

import (
	"fmt"

	"github.com/bashrs-dev/bashrs/internal/token"
)

// Span is shared with the token and ast packages so a diagnostic can point
// directly at the source range that produced it.
type Span = token.Span

// Severity orders diagnostics from merely informational to build-breaking.
type Severity int

const (
	Info Severity = iota
	Note
	Perf
	Risk
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Note:
		return "note"
	case Perf:
		return "perf"
	case Risk:
		return "risk"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// FixSafetyLevel records how confidently a suggested Fix can be applied
// without human review.
type FixSafetyLevel int

const (
	Safe FixSafetyLevel = iota
	SafeWithAssumptions
	Unsafe
)

func (f FixSafetyLevel) String() string {
	switch f {
	case Safe:
		return "safe"
	case SafeWithAssumptions:
		return "safe-with-assumptions"
	case Unsafe:
		return "unsafe"
	default:
		return "unknown"
	}
}

// Fix is a proposed source-text replacement for the span it is attached to
// via the enclosing Diagnostic.
type Fix struct {
	Replacement           string
	SafetyLevel           FixSafetyLevel
	Assumptions           []string
	SuggestedAlternatives []string
}

// Diagnostic is the uniform output of every purifier and linter rule.
type Diagnostic struct {
	Code     string
	Severity Severity
	Message  string
	Span     Span
	Fix      *Fix
}

// String renders a diagnostic the way a terminal report does, independent
// of color: "{line}:{start_col}-{end_col} [{severity}] {code}: {message}",
// with the span widening to "{line}:{col}-{line}:{col}" when it crosses
// lines.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", d.Span, d.Severity, d.Code, d.Message)
}

// ByPosition sorts diagnostics in source order, and by code when two land
// on the same span, so repeated runs produce a stable report.
type ByPosition []Diagnostic

func (b ByPosition) Len() int      { return len(b) }
func (b ByPosition) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b ByPosition) Less(i, j int) bool {
	a, c := b[i], b[j]
	if a.Span.StartLine != c.Span.StartLine {
		return a.Span.StartLine < c.Span.StartLine
	}
	if a.Span.StartCol != c.Span.StartCol {
		return a.Span.StartCol < c.Span.StartCol
	}
	return a.Code < c.Code
}
