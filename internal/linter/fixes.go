package linter

import (
	"sort"

	"github.com/bashrs-dev/bashrs/internal/diagnostic"
)

// ApplyFixes rewrites src by splicing in every applicable fix from diags:
// Safe fixes always apply, SafeWithAssumptions fixes only when the caller
// opted in with withAssumptions, Unsafe fixes never. Fixes whose span
// overlaps an already-applied one are skipped rather than stacked, and
// fixes with no replacement text are left alone.
func ApplyFixes(src []byte, diags []diagnostic.Diagnostic, withAssumptions bool) []byte {
	type edit struct {
		start, end  int
		replacement string
	}
	var edits []edit
	for _, d := range diags {
		if d.Fix == nil || d.Fix.Replacement == "" {
			continue
		}
		switch d.Fix.SafetyLevel {
		case diagnostic.Safe:
		case diagnostic.SafeWithAssumptions:
			if !withAssumptions {
				continue
			}
		default:
			continue
		}
		start, end, ok := spanRange(src, d.Span)
		if !ok {
			continue
		}
		edits = append(edits, edit{start: start, end: end, replacement: d.Fix.Replacement})
	}

	// Apply back-to-front so earlier offsets stay valid; drop any edit
	// that would overlap one already applied.
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := append([]byte(nil), src...)
	lastStart := len(out) + 1
	for _, e := range edits {
		if e.end > lastStart {
			continue
		}
		out = append(out[:e.start], append([]byte(e.replacement), out[e.end:]...)...)
		lastStart = e.start
	}
	return out
}

// spanRange converts a 1-indexed line/column span into byte offsets over
// src. EndCol points one past the last column, matching the lexer.
func spanRange(src []byte, sp diagnostic.Span) (int, int, bool) {
	starts := lineStarts(src)
	if sp.StartLine < 1 || sp.StartLine > len(starts) || sp.EndLine < 1 || sp.EndLine > len(starts) {
		return 0, 0, false
	}
	start := starts[sp.StartLine-1] + sp.StartCol - 1
	end := starts[sp.EndLine-1] + sp.EndCol - 1
	if start < 0 || end < start || end > len(src) {
		return 0, 0, false
	}
	return start, end, true
}

// spanText returns the verbatim source bytes a span covers.
func spanText(src []byte, sp diagnostic.Span) (string, bool) {
	start, end, ok := spanRange(src, sp)
	if !ok {
		return "", false
	}
	return string(src[start:end]), true
}

func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' && i+1 < len(src) {
			starts = append(starts, i+1)
		}
	}
	return starts
}
