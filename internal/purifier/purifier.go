// Package purifier rewrites a parsed script to remove the three classes
// of behavior bashrs exists to eliminate: nondeterminism (DET-*),
// non-idempotent filesystem mutation (IDEM-*), and the riskiest shell
// security footguns (SEC-*). It runs as a fixed-point pre-order rewriter:
// each pass applies every rule once, and passes repeat until none of them
// change anything.
package purifier

import (
	"fmt"
	"strings"

	"github.com/bashrs-dev/bashrs/internal/ast"
	"github.com/bashrs-dev/bashrs/internal/diagnostic"
	"github.com/bashrs-dev/bashrs/internal/parser"
	"github.com/bashrs-dev/bashrs/internal/unicode"
)

// Options controls which rule families run. All default to enabled; set a
// field to true to suppress that family, mirroring the --skip flags a CLI
// front end exposes per rule code. The narrower Skip* toggles below carve
// individual rewrites out of their family, kept in the same
// zero-value-means-enabled style so every Options literal in the tree
// keeps working unchanged.
type Options struct {
	SkipDet   bool
	SkipIdem  bool
	SkipSec   bool
	MaxPasses int // 0 means the default of 8

	// SkipPermissionChecks disables the write-permission precondition
	// IDEM-mkdir would otherwise prepend to every `mkdir`.
	SkipPermissionChecks bool
	// SkipTmpRewrite disables SEC-tmp independently of the rest of the
	// SEC family.
	SkipTmpRewrite bool
	// SkipTimestampParam disables DET-date's $(date ...) parameterization
	// independently of the rest of the DET family.
	SkipTimestampParam bool
}

// Rewrite records one mutation the purifier actually applied to the tree,
// as opposed to a Diagnostics entry that only reports a finding.
type Rewrite struct {
	Code        string
	Description string
	Span        diagnostic.Span
	Safety      diagnostic.FixSafetyLevel
}

// Report summarizes everything a Purify call did.
type Report struct {
	RewritesApplied []Rewrite
	Diagnostics     []diagnostic.Diagnostic
	ShebangInserted bool
	Passes          int
}

func (r *Report) rewrite(code, desc string, span diagnostic.Span, safety diagnostic.FixSafetyLevel) {
	r.RewritesApplied = append(r.RewritesApplied, Rewrite{Code: code, Description: desc, Span: span, Safety: safety})
}

func (r *Report) diag(code string, sev diagnostic.Severity, msg string, span diagnostic.Span) {
	r.Diagnostics = append(r.Diagnostics, diagnostic.Diagnostic{Code: code, Severity: sev, Message: msg, Span: span})
}

// Purify normalizes the shebang line, parses the result, and runs the
// rewrite rules to a fixed point.
func Purify(source []byte, opts Options) (*ast.File, Report, error) {
	var report Report
	normalized, inserted := normalizeShebang(source)
	report.ShebangInserted = inserted
	if inserted {
		report.rewrite("SHEBANG", "inserted POSIX sh shebang", diagnostic.Span{StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 1}, diagnostic.Safe)
	}

	normalized = sanitizeUnicode(normalized, &report)

	file, err := parser.Parse(normalized)
	if err != nil {
		return nil, report, err
	}

	maxPasses := opts.MaxPasses
	if maxPasses == 0 {
		maxPasses = 8
	}

	rules := buildRules(opts, &report)
	for pass := 0; pass < maxPasses; pass++ {
		report.Passes = pass + 1
		anyChanged := false
		for _, rule := range rules {
			newStmts, changed := walkStmts(file.Stmts, rule)
			file.Stmts = newStmts
			anyChanged = anyChanged || changed
		}
		if !anyChanged {
			break
		}
	}

	if !opts.SkipIdem && !opts.SkipPermissionChecks {
		file.Stmts = insertMkdirPreconditions(file.Stmts, &report)
	}

	reportQuoteInvariant(file.Stmts, &report)
	return file, report, nil
}

// normalizeShebang ensures the script begins with a POSIX-sh interpreter
// line, replacing a bash-specific one and inserting one if absent.
func normalizeShebang(source []byte) ([]byte, bool) {
	text := string(source)
	if strings.HasPrefix(text, "#!") {
		nl := strings.IndexByte(text, '\n')
		line := text
		if nl >= 0 {
			line = text[:nl]
		}
		if strings.Contains(line, "/sh") && !strings.Contains(line, "bash") {
			return source, false
		}
		if nl >= 0 {
			return []byte("#!/bin/sh\n" + text[nl+1:]), true
		}
		return []byte("#!/bin/sh\n"), true
	}
	return append([]byte("#!/bin/sh\n"), source...), true
}

// sanitizeUnicode strips zero-width, bidi-override, tag, and unsafe control
// characters from the script text before it's parsed, and records one
// DET-unicode rewrite per character removed: two scripts that read
// identically but differ only in invisible characters must purify to
// byte-identical POSIX sh, so this runs unconditionally rather than behind
// an Options toggle a caller could use to make purification order-dependent
// on what's invisible in its own input. Homoglyphs are left in place (they
// change no bytes the shell treats specially) and reported as SEC-homoglyph
// diagnostics instead, since swapping a Cyrillic letter for its Latin
// look-alike is not something the purifier can safely assume was intended.
func sanitizeUnicode(source []byte, report *Report) []byte {
	stripped, removed := unicode.StripSmuggling(string(source))
	for _, t := range removed {
		report.rewrite("DET-unicode", t.Description, diagnostic.Span{StartLine: 1, StartCol: t.Position + 1, EndLine: 1, EndCol: t.Position + 2}, diagnostic.Safe)
	}

	scan := unicode.Scan(stripped)
	for _, t := range scan.Threats {
		if t.Blocking {
			continue
		}
		report.diag("SEC-homoglyph", diagnostic.Note, t.Description, diagnostic.Span{StartLine: 1, StartCol: t.Position + 1, EndLine: 1, EndCol: t.Position + 2})
	}
	return []byte(stripped)
}

func buildRules(opts Options, report *Report) []func(ast.Stmt) (ast.Stmt, bool) {
	var rules []func(ast.Stmt) (ast.Stmt, bool)
	if !opts.SkipDet {
		rules = append(rules, detRandomRule(report), detPidRule(report))
		if !opts.SkipTimestampParam {
			rules = append(rules, detDateRule(report))
		}
	}
	if !opts.SkipIdem {
		rules = append(rules, idemMkdirRule(report), idemRmRule(report), idemLnRule(report))
	}
	if !opts.SkipSec {
		rules = append(rules, secEvalRule(report))
		if !opts.SkipTmpRewrite {
			rules = append(rules, secTmpRule(report))
		}
	}
	return rules
}

// rewriteTopLevelExprs applies fn to every expression slot where a DET/SEC
// rewrite might plausibly replace a whole expression with a parameterized
// form: a command's name/args/redirect-targets, or an assignment's value.
// It intentionally does not recurse into an expression it already
// rewrote (e.g. the Default of a freshly-built DefaultValue), so a rule
// that wraps `$(date ...)` as `${TIMESTAMP:-$(date ...)}` converges in one
// pass instead of re-wrapping itself on every subsequent pass.
func rewriteTopLevelExprs(s ast.Stmt, fn func(ast.Expr) (ast.Expr, bool)) (ast.Stmt, bool) {
	switch n := s.(type) {
	case *ast.Command:
		changed := false
		cp := *n
		if ne, c := fn(n.Name); c {
			cp.Name, changed = ne, true
		}
		if len(n.Args) > 0 {
			cp.Args = make([]ast.Expr, len(n.Args))
			for i, a := range n.Args {
				ne, c := fn(a)
				cp.Args[i] = ne
				changed = changed || c
			}
		}
		if len(n.Redirects) > 0 {
			cp.Redirects = make([]ast.Redirect, len(n.Redirects))
			for i, r := range n.Redirects {
				nr := r
				if r.Target != nil {
					if nt, c := fn(r.Target); c {
						nr.Target = nt
						changed = true
					}
				}
				cp.Redirects[i] = nr
			}
		}
		if !changed {
			return s, false
		}
		return &cp, true
	case *ast.Assignment:
		ne, changed := fn(n.Value)
		if !changed {
			return s, false
		}
		cp := *n
		cp.Value = ne
		return &cp, true
	default:
		return s, false
	}
}

func hasArg(cmd *ast.Command, value string) bool {
	for _, a := range cmd.Args {
		if lit, ok := a.(*ast.Literal); ok && lit.Value == value {
			return true
		}
	}
	return false
}

func commandName(s ast.Stmt) (*ast.Command, string, bool) {
	cmd, ok := s.(*ast.Command)
	if !ok {
		return nil, "", false
	}
	lit, ok := cmd.Name.(*ast.Literal)
	if !ok {
		return cmd, "", false
	}
	return cmd, lit.Value, true
}

// idemMkdirRule inserts -p into `mkdir` invocations that lack it so
// re-running the generated script never fails on an already-existing
// directory.
func idemMkdirRule(report *Report) func(ast.Stmt) (ast.Stmt, bool) {
	return func(s ast.Stmt) (ast.Stmt, bool) {
		cmd, name, ok := commandName(s)
		if !ok || name != "mkdir" || hasArg(cmd, "-p") {
			return s, false
		}
		cp := *cmd
		cp.Args = append([]ast.Expr{&ast.Literal{Value: "-p", SpanVal: cmd.SpanVal}}, cmd.Args...)
		report.rewrite("IDEM-mkdir", "added -p so re-running mkdir is idempotent", cmd.SpanVal, diagnostic.Safe)
		return &cp, true
	}
}

// idemRmRule inserts -f into `rm` invocations that lack it so deleting an
// already-absent path doesn't abort the script.
func idemRmRule(report *Report) func(ast.Stmt) (ast.Stmt, bool) {
	return func(s ast.Stmt) (ast.Stmt, bool) {
		cmd, name, ok := commandName(s)
		if !ok || name != "rm" || hasArg(cmd, "-f") {
			return s, false
		}
		cp := *cmd
		cp.Args = append([]ast.Expr{&ast.Literal{Value: "-f", SpanVal: cmd.SpanVal}}, cmd.Args...)
		report.rewrite("IDEM-rm", "added -f so re-running rm is idempotent", cmd.SpanVal, diagnostic.Safe)
		return &cp, true
	}
}

// idemLnRule inserts -f into symlink creation so re-linking an existing
// target overwrites rather than fails.
func idemLnRule(report *Report) func(ast.Stmt) (ast.Stmt, bool) {
	return func(s ast.Stmt) (ast.Stmt, bool) {
		cmd, name, ok := commandName(s)
		if !ok || name != "ln" || !hasArg(cmd, "-s") || hasArg(cmd, "-f") {
			return s, false
		}
		cp := *cmd
		cp.Args = append([]ast.Expr{&ast.Literal{Value: "-f", SpanVal: cmd.SpanVal}}, cmd.Args...)
		report.rewrite("IDEM-ln", "added -f so re-running ln -s overwrites an existing link", cmd.SpanVal, diagnostic.SafeWithAssumptions)
		return &cp, true
	}
}

// detRandomRule replaces every $RANDOM reference with ${SEED:-0}: the
// output no longer contains $RANDOM, but a caller can still force a
// specific value by setting SEED in the environment before running the
// purified script.
func detRandomRule(report *Report) func(ast.Stmt) (ast.Stmt, bool) {
	return func(s ast.Stmt) (ast.Stmt, bool) {
		return rewriteTopLevelExprs(s, func(e ast.Expr) (ast.Expr, bool) {
			v, ok := e.(*ast.Variable)
			if !ok || v.Name != "RANDOM" {
				return e, false
			}
			report.rewrite("DET-random", "parameterized $RANDOM as ${SEED:-0}", v.SpanVal, diagnostic.SafeWithAssumptions)
			return &ast.DefaultValue{
				Variable: "SEED",
				Default:  &ast.Literal{Value: "0", SpanVal: v.SpanVal},
				SpanVal:  v.SpanVal,
			}, true
		})
	}
}

// detDateRule replaces a bare `$(date ...)` command substitution with
// ${TIMESTAMP:-$(date ...)}, per the DET-date row: the default preserves
// the original call's output for a fresh run, while a caller that needs a
// reproducible run can pin TIMESTAMP in the environment.
func detDateRule(report *Report) func(ast.Stmt) (ast.Stmt, bool) {
	return func(s ast.Stmt) (ast.Stmt, bool) {
		return rewriteTopLevelExprs(s, func(e ast.Expr) (ast.Expr, bool) {
			cs, ok := e.(*ast.CommandSubst)
			if !ok {
				return e, false
			}
			cmd, ok := cs.Body.(*ast.Command)
			if !ok {
				return e, false
			}
			lit, ok := cmd.Name.(*ast.Literal)
			if !ok || lit.Value != "date" {
				return e, false
			}
			report.rewrite("DET-date", "parameterized $(date ...) as ${TIMESTAMP:-$(date ...)}", cs.SpanVal, diagnostic.SafeWithAssumptions)
			return &ast.DefaultValue{Variable: "TIMESTAMP", Default: cs, SpanVal: cs.SpanVal}, true
		})
	}
}

// detPidRule replaces $$/$BASHPID with ${PID:-$$}, per the DET-pid row.
func detPidRule(report *Report) func(ast.Stmt) (ast.Stmt, bool) {
	return func(s ast.Stmt) (ast.Stmt, bool) {
		return rewriteTopLevelExprs(s, func(e ast.Expr) (ast.Expr, bool) {
			v, ok := e.(*ast.Variable)
			if !ok || (v.Name != "$" && v.Name != "BASHPID") {
				return e, false
			}
			report.rewrite("DET-pid", fmt.Sprintf("parameterized $%s as ${PID:-$$}", v.Name), v.SpanVal, diagnostic.SafeWithAssumptions)
			return &ast.DefaultValue{
				Variable: "PID",
				Default:  &ast.Variable{Name: "$", SpanVal: v.SpanVal},
				SpanVal:  v.SpanVal,
			}, true
		})
	}
}

// secEvalRule flags `eval` calls. Removing eval would change program
// semantics in ways the purifier cannot infer, so this is reporting-only
// at Warning severity with no safe auto-fix.
func secEvalRule(report *Report) func(ast.Stmt) (ast.Stmt, bool) {
	return func(s ast.Stmt) (ast.Stmt, bool) {
		_, name, ok := commandName(s)
		if !ok || name != "eval" {
			return s, false
		}
		cmd := s.(*ast.Command)
		report.diag("SEC-eval", diagnostic.Warning, "eval executes constructed strings as code; rewrite to avoid it", cmd.SpanVal)
		return s, false
	}
}

// secTmpRule rewrites a literal /tmp/<name> argument into
// ${TMPDIR:-/tmp}/<name>: this keeps the path stable for inspection
// purposes (unlike routing it through mktemp, which would make every run
// observe a different path and break equivalence checking) while
// honoring a caller's TMPDIR override.
func secTmpRule(report *Report) func(ast.Stmt) (ast.Stmt, bool) {
	return func(s ast.Stmt) (ast.Stmt, bool) {
		return rewriteTopLevelExprs(s, func(e ast.Expr) (ast.Expr, bool) {
			lit, ok := e.(*ast.Literal)
			if !ok || !strings.HasPrefix(lit.Value, "/tmp/") {
				return e, false
			}
			report.rewrite("SEC-tmp", "parameterized /tmp path as ${TMPDIR:-/tmp}/...", lit.SpanVal, diagnostic.Safe)
			rest := strings.TrimPrefix(lit.Value, "/tmp/")
			return &ast.Composite{
				Parts: []ast.Expr{
					&ast.DefaultValue{Variable: "TMPDIR", Default: &ast.Literal{Value: "/tmp", SpanVal: lit.SpanVal}, SpanVal: lit.SpanVal},
					&ast.Literal{Value: "/" + rest, SpanVal: lit.SpanVal},
				},
				SpanVal: lit.SpanVal,
			}, true
		})
	}
}

// reportQuoteInvariant records every variable expansion that appears in
// argument/name position for the audit trail. It never mutates the tree:
// the emitter unconditionally double-quotes every such expansion, so
// SEC-quote is satisfied structurally rather than by a rewrite here.
func reportQuoteInvariant(stmts []ast.Stmt, report *Report) {
	walkStmts(stmts, func(s ast.Stmt) (ast.Stmt, bool) {
		cmd, ok := s.(*ast.Command)
		if !ok {
			return s, false
		}
		check := func(e ast.Expr) {
			switch e.(type) {
			case *ast.Variable, *ast.DefaultValue, *ast.AssignDefault, *ast.AlternativeValue, *ast.CommandSubst:
				report.rewrite("SEC-quote", "expansion will be emitted double-quoted", e.Span(), diagnostic.Safe)
			}
		}
		check(cmd.Name)
		for _, a := range cmd.Args {
			check(a)
		}
		return s, false
	})
}
