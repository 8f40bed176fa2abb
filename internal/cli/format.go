// Package cli wires the pipeline stages into a cobra command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bashrs-dev/bashrs/internal/diagnostic"
)

var (
	colorError   = color.New(color.FgRed, color.Bold)
	colorWarning = color.New(color.FgYellow, color.Bold)
	colorRisk    = color.New(color.FgMagenta)
	colorPerf    = color.New(color.FgCyan)
	colorNote    = color.New(color.FgBlue)
	colorInfo    = color.New(color.FgWhite)
)

func severityColor(s diagnostic.Severity) *color.Color {
	switch s {
	case diagnostic.Error:
		return colorError
	case diagnostic.Warning:
		return colorWarning
	case diagnostic.Risk:
		return colorRisk
	case diagnostic.Perf:
		return colorPerf
	case diagnostic.Note:
		return colorNote
	default:
		return colorInfo
	}
}

// PrintDiagnostics writes one formatted line per diagnostic to w, coloring
// output only when w is an actual terminal. A SafeWithAssumptions fix has
// its assumptions listed beneath the diagnostic (they must reach the user
// before the fix may be opted into), and an Unsafe fix lists its suggested
// alternatives the same way.
func PrintDiagnostics(w io.Writer, diags []diagnostic.Diagnostic) {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = term.IsTerminal(int(f.Fd()))
	}
	for _, d := range diags {
		line := d.String()
		if useColor {
			severityColor(d.Severity).Fprintln(w, line)
		} else {
			fmt.Fprintln(w, line)
		}
		if d.Fix == nil {
			continue
		}
		for _, a := range d.Fix.Assumptions {
			fmt.Fprintf(w, "    assumes: %s\n", a)
		}
		for _, alt := range d.Fix.SuggestedAlternatives {
			fmt.Fprintf(w, "    consider: %s\n", alt)
		}
	}
}

// Detail is the long-form rendering of one diagnostic: a category tag, the
// source location, a snippet with a caret run, and note/help lines. Each
// populated part contributes to Score, which callers use to keep the
// rendering above the documented quality floor.
type Detail struct {
	Category string
	Code     string
	Severity diagnostic.Severity
	Message  string
	File     string
	Line     int
	Col      int
	Snippet  string
	Caret    string
	Note     string
	Help     string
}

// Detailed builds the long-form rendering for d against the source it was
// produced from.
func Detailed(file string, src []byte, d diagnostic.Diagnostic) Detail {
	det := Detail{
		Category: categoryFor(d.Code),
		Code:     d.Code,
		Severity: d.Severity,
		Message:  d.Message,
		File:     file,
		Line:     d.Span.StartLine,
		Col:      d.Span.StartCol,
	}
	lines := strings.Split(string(src), "\n")
	if d.Span.StartLine >= 1 && d.Span.StartLine <= len(lines) {
		det.Snippet = lines[d.Span.StartLine-1]
		end := d.Span.EndCol
		if d.Span.EndLine != d.Span.StartLine || end <= d.Span.StartCol {
			end = d.Span.StartCol + 1
		}
		if end > len(det.Snippet)+1 {
			end = len(det.Snippet) + 1
		}
		if d.Span.StartCol >= 1 && d.Span.StartCol <= len(det.Snippet) {
			det.Caret = strings.Repeat(" ", d.Span.StartCol-1) + strings.Repeat("^", end-d.Span.StartCol)
		}
	}
	if d.Fix != nil {
		if len(d.Fix.Assumptions) > 0 {
			det.Note = "assumes " + strings.Join(d.Fix.Assumptions, "; ")
		}
		switch {
		case d.Fix.Replacement != "":
			det.Help = "replace with: " + d.Fix.Replacement
		case len(d.Fix.SuggestedAlternatives) > 0:
			det.Help = "consider: " + strings.Join(d.Fix.SuggestedAlternatives, "; or ")
		}
	}
	if det.Note == "" {
		det.Note = noteFor(d.Code)
	}
	return det
}

// Score is the diagnostic-quality measure: the fraction of the seven
// expected parts (category prefix, file, line, column, snippet, note,
// help) actually present.
func (d Detail) Score() float64 {
	parts := 0
	total := 7.0
	if d.Category != "" {
		parts++
	}
	if d.File != "" {
		parts++
	}
	if d.Line > 0 {
		parts++
	}
	if d.Col > 0 {
		parts++
	}
	if d.Snippet != "" {
		parts++
	}
	if d.Note != "" {
		parts++
	}
	if d.Help != "" {
		parts++
	}
	return float64(parts) / total
}

func (d Detail) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]: %s\n", d.Category, d.Code, d.Message)
	fmt.Fprintf(&b, "  --> %s:%d:%d\n", d.File, d.Line, d.Col)
	if d.Snippet != "" {
		fmt.Fprintf(&b, "   |\n%4d | %s\n", d.Line, d.Snippet)
		if d.Caret != "" {
			fmt.Fprintf(&b, "   | %s\n", d.Caret)
		}
	}
	if d.Note != "" {
		fmt.Fprintf(&b, "   = note: %s\n", d.Note)
	}
	if d.Help != "" {
		fmt.Fprintf(&b, "   = help: %s\n", d.Help)
	}
	return b.String()
}

// PrintDetailed writes the long-form rendering of every diagnostic.
func PrintDetailed(w io.Writer, file string, src []byte, diags []diagnostic.Diagnostic) {
	for _, d := range diags {
		fmt.Fprint(w, Detailed(file, src, d).String())
	}
}

func categoryFor(code string) string {
	switch {
	case strings.HasPrefix(code, "SEC"), strings.HasPrefix(code, "DET"), strings.HasPrefix(code, "IDEM"), strings.HasPrefix(code, "SC"):
		return "validation"
	default:
		return "internal"
	}
}

func noteFor(code string) string {
	switch {
	case strings.HasPrefix(code, "SEC"):
		return "flagged by the injection/unsafe-expansion checks"
	case strings.HasPrefix(code, "DET"):
		return "output would differ between otherwise identical runs"
	case strings.HasPrefix(code, "IDEM"):
		return "re-running the script would not reproduce the same state"
	case strings.HasPrefix(code, "SC"):
		return "style or quoting issue in the ShellCheck-compatible family"
	default:
		return ""
	}
}
