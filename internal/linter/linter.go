// Package linter runs a registry of independent diagnostic rules over a
// parsed script and the raw source it came from. Unlike the purifier, the
// linter never mutates the tree — it only ever appends diagnostics — so
// rules are free to run in any order and the registry just concatenates
// and sorts their output.
package linter

import (
	"path"
	"sort"
	"strings"

	"github.com/bashrs-dev/bashrs/internal/ast"
	"github.com/bashrs-dev/bashrs/internal/diagnostic"
)

// Input bundles everything a Rule might need: the parsed tree and the raw
// bytes it was parsed from.
type Input struct {
	File   *ast.File
	Source []byte
}

// Rule is one independent check. Code is its diagnostic code, used
// by Options.Include/Exclude glob matching (e.g. "SC*", "SC2034").
type Rule interface {
	Code() string
	Check(Input) []diagnostic.Diagnostic
}

// Registry holds every rule available to a Lint call.
type Registry struct {
	rules []Rule
}

// NewRegistry returns a registry pre-populated with every built-in rule:
// the SC family covers style and quoting, SEC injection and unsafe
// expansion, DET nondeterminism, and IDEM non-idempotent mutation.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(
		unusedVariableRule{}, quoteMissingRule{}, caseFallthroughRule{},
		evalRule{}, tmpPathRule{},
		randomRule{}, dateRule{}, pidRule{},
		mkdirRule{}, rmRule{}, lnRule{},
	)
	return r
}

func (r *Registry) Register(rules ...Rule) {
	r.rules = append(r.rules, rules...)
}

// Options filters which registered rules run, by code glob.
type Options struct {
	Include []string // empty means "all"
	Exclude []string
}

func (o Options) enabled(code string) bool {
	if len(o.Include) > 0 && !matchAny(o.Include, code) {
		return false
	}
	if matchAny(o.Exclude, code) {
		return false
	}
	return true
}

func matchAny(patterns []string, code string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, code); err == nil && ok {
			return true
		}
	}
	return false
}

// Lint runs every enabled rule and returns diagnostics sorted by position.
func (r *Registry) Lint(in Input, opts Options) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	for _, rule := range r.rules {
		if !opts.enabled(rule.Code()) {
			continue
		}
		out = append(out, rule.Check(in)...)
	}
	sort.Sort(diagnostic.ByPosition(out))
	return out
}

// --- built-in rules ---------------------------------------------------

// unusedVariableRule flags `local`/assignment targets that are never read
// again in the same function body — a ShellCheck SC2034 analogue.
type unusedVariableRule struct{}

func (unusedVariableRule) Code() string { return "SC2034" }
func (unusedVariableRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	var walk func(stmts []ast.Stmt)
	walk = func(stmts []ast.Stmt) {
		assigned := map[string]ast.Span{}
		used := map[string]bool{}
		var collectExpr func(e ast.Expr)
		collectExpr = func(e ast.Expr) {
			switch v := e.(type) {
			case *ast.Variable:
				used[v.Name] = true
			case *ast.DefaultValue:
				used[v.Variable] = true
				collectExpr(v.Default)
			case *ast.AssignDefault:
				used[v.Variable] = true
			case *ast.AlternativeValue:
				used[v.Variable] = true
			case *ast.ErrorIfUnset:
				used[v.Variable] = true
			case *ast.StringLength:
				used[v.Variable] = true
			case *ast.PatternTrim:
				used[v.Variable] = true
			case *ast.Composite:
				for _, part := range v.Parts {
					collectExpr(part)
				}
			case *ast.Arithmetic, *ast.CommandSubst, *ast.Array, *ast.Test:
				// nested scopes walked separately; conservatively skip
			}
		}
		for _, s := range stmts {
			switch n := s.(type) {
			case *ast.Assignment:
				if !n.Exported {
					assigned[n.Name] = n.SpanVal
				}
			case *ast.Command:
				collectExpr(n.Name)
				for _, a := range n.Args {
					collectExpr(a)
				}
			}
		}
		for name, span := range assigned {
			if !used[name] {
				out = append(out, diagnostic.Diagnostic{
					Code:     "SC2034",
					Severity: diagnostic.Note,
					Message:  name + " appears unused",
					Span:     span,
				})
			}
		}
		for _, s := range stmts {
			switch n := s.(type) {
			case *ast.Function:
				walk(n.Body)
			case *ast.If:
				walk(n.Then)
				walk(n.Else)
				for _, e := range n.ElifBranches {
					walk(e.Body)
				}
			case *ast.While:
				walk(n.Body)
			case *ast.For:
				walk(n.Body)
			case *ast.Subshell:
				walk(n.Body)
			case *ast.BraceGroup:
				walk(n.Body)
			case *ast.Case:
				for _, arm := range n.Arms {
					walk(arm.Body)
				}
			}
		}
	}
	walk(in.File.Stmts)
	return out
}

// quoteMissingRule flags bare `$var` command arguments, analogous to
// ShellCheck SC2086. A variable that reaches the parser as a bare
// *ast.Variable argument was unquoted in the source (a quoted "$var"
// arrives wrapped in a Composite), so the fix is a plain re-quote the
// auto-fix mode can apply without changing semantics the author relied
// on.
type quoteMissingRule struct{}

func (quoteMissingRule) Code() string { return "SC2086" }
func (quoteMissingRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	walkCommands(in.File.Stmts, func(cmd *ast.Command) {
		for _, a := range cmd.Args {
			v, ok := a.(*ast.Variable)
			if !ok {
				continue
			}
			out = append(out, diagnostic.Diagnostic{
				Code:     "SC2086",
				Severity: diagnostic.Warning,
				Message:  "double-quote to prevent globbing and word splitting",
				Span:     v.SpanVal,
				Fix: &diagnostic.Fix{
					Replacement: `"$` + v.Name + `"`,
					SafetyLevel: diagnostic.Safe,
				},
			})
		}
	})
	return out
}

// caseFallthroughRule flags a `case` with no catch-all `*)` arm, a common
// source of silently-ignored inputs.
type caseFallthroughRule struct{}

func (caseFallthroughRule) Code() string { return "SC2249" }
func (caseFallthroughRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	var walk func(stmts []ast.Stmt)
	walk = func(stmts []ast.Stmt) {
		for _, s := range stmts {
			if c, ok := s.(*ast.Case); ok {
				hasCatchAll := false
				for _, arm := range c.Arms {
					for _, p := range arm.Patterns {
						if lit, ok := p.(*ast.Literal); ok && lit.Value == "*" {
							hasCatchAll = true
						}
						if g, ok := p.(*ast.Glob); ok && g.Pattern == "*" {
							hasCatchAll = true
						}
					}
				}
				if !hasCatchAll {
					out = append(out, diagnostic.Diagnostic{
						Code:     "SC2249",
						Severity: diagnostic.Note,
						Message:  "case has no catch-all *) arm",
						Span:     c.SpanVal,
					})
				}
			}
			recurseInto(s, walk)
		}
	}
	walk(in.File.Stmts)
	return out
}

// evalRule flags `eval`: there is no mechanical rewrite that preserves
// the semantics of executing a constructed string, so the fix is Unsafe —
// no replacement, alternatives for a human to weigh instead.
type evalRule struct{}

func (evalRule) Code() string { return "SEC001" }
func (evalRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	walkCommands(in.File.Stmts, func(cmd *ast.Command) {
		if lit, ok := cmd.Name.(*ast.Literal); ok && lit.Value == "eval" {
			out = append(out, diagnostic.Diagnostic{
				Code:     "SEC001",
				Severity: diagnostic.Error,
				Message:  "eval executes constructed strings as code",
				Span:     cmd.SpanVal,
				Fix: &diagnostic.Fix{
					SafetyLevel: diagnostic.Unsafe,
					SuggestedAlternatives: []string{
						"invoke the intended command directly with explicit arguments",
						"dispatch over the known inputs with a case statement",
					},
				},
			})
		}
	})
	return out
}

// tmpPathRule flags hard-coded /tmp paths; the fix parameterizes the
// prefix through TMPDIR without changing the default location.
type tmpPathRule struct{}

func (tmpPathRule) Code() string { return "SEC002" }
func (tmpPathRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	walkCommands(in.File.Stmts, func(cmd *ast.Command) {
		for _, a := range cmd.Args {
			lit, ok := a.(*ast.Literal)
			if !ok || !strings.HasPrefix(lit.Value, "/tmp/") {
				continue
			}
			out = append(out, diagnostic.Diagnostic{
				Code:     "SEC002",
				Severity: diagnostic.Risk,
				Message:  "hard-coded /tmp path ignores TMPDIR",
				Span:     lit.SpanVal,
				Fix: &diagnostic.Fix{
					Replacement: `"${TMPDIR:-/tmp}/` + strings.TrimPrefix(lit.Value, "/tmp/") + `"`,
					SafetyLevel: diagnostic.Safe,
				},
			})
		}
	})
	return out
}

// randomRule flags $RANDOM; the fix pins the value through a SEED
// parameter, which changes behavior for callers that wanted fresh
// entropy, hence SafeWithAssumptions.
type randomRule struct{}

func (randomRule) Code() string { return "DET001" }
func (randomRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	walkValueExprs(in.File.Stmts, func(e ast.Expr) {
		if v, ok := e.(*ast.Variable); ok && v.Name == "RANDOM" {
			out = append(out, diagnostic.Diagnostic{
				Code:     "DET001",
				Severity: diagnostic.Warning,
				Message:  "$RANDOM makes every run different",
				Span:     v.SpanVal,
				Fix: &diagnostic.Fix{
					Replacement: `"${SEED:-0}"`,
					SafetyLevel: diagnostic.SafeWithAssumptions,
					Assumptions: []string{"a fixed default seed is acceptable when SEED is unset"},
				},
			})
		}
	})
	return out
}

// dateRule flags $(date ...) substitutions; the fix routes them through a
// TIMESTAMP override so a caller can pin time-dependent output.
type dateRule struct{}

func (dateRule) Code() string { return "DET002" }
func (dateRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	walkValueExprs(in.File.Stmts, func(e ast.Expr) {
		cs, ok := e.(*ast.CommandSubst)
		if !ok {
			return
		}
		cmd, ok := cs.Body.(*ast.Command)
		if !ok {
			return
		}
		if lit, ok := cmd.Name.(*ast.Literal); !ok || lit.Value != "date" {
			return
		}
		fix := &diagnostic.Fix{
			SafetyLevel: diagnostic.SafeWithAssumptions,
			Assumptions: []string{"callers that need a fresh timestamp leave TIMESTAMP unset"},
		}
		if text, ok := spanText(in.Source, cs.SpanVal); ok {
			fix.Replacement = `"${TIMESTAMP:-` + text + `}"`
		} else {
			fix.Replacement = `"${TIMESTAMP:-$(date)}"`
		}
		out = append(out, diagnostic.Diagnostic{
			Code:     "DET002",
			Severity: diagnostic.Warning,
			Message:  "$(date ...) makes output depend on the clock",
			Span:     cs.SpanVal,
			Fix:      fix,
		})
	})
	return out
}

// pidRule flags $$; same parameterization discipline as DET001.
type pidRule struct{}

func (pidRule) Code() string { return "DET003" }
func (pidRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	walkValueExprs(in.File.Stmts, func(e ast.Expr) {
		if v, ok := e.(*ast.Variable); ok && (v.Name == "$" || v.Name == "BASHPID") {
			out = append(out, diagnostic.Diagnostic{
				Code:     "DET003",
				Severity: diagnostic.Warning,
				Message:  "$$ varies per process invocation",
				Span:     v.SpanVal,
				Fix: &diagnostic.Fix{
					Replacement: `"${PID:-$$}"`,
					SafetyLevel: diagnostic.SafeWithAssumptions,
					Assumptions: []string{"a PID override is acceptable for reproducible runs"},
				},
			})
		}
	})
	return out
}

// mkdirRule flags mkdir without -p, whose re-run fails on an existing
// directory; adding the flag is behavior-preserving on first run.
type mkdirRule struct{}

func (mkdirRule) Code() string { return "IDEM001" }
func (mkdirRule) Check(in Input) []diagnostic.Diagnostic {
	return flagMissingOption(in, "IDEM001", "mkdir", "-p", "mkdir fails when the directory already exists",
		"mkdir", "mkdir -p", diagnostic.Safe, nil)
}

// rmRule flags rm without -f: the forced form is idempotent but stops
// distinguishing a missing path from a removed one.
type rmRule struct{}

func (rmRule) Code() string { return "IDEM002" }
func (rmRule) Check(in Input) []diagnostic.Diagnostic {
	return flagMissingOption(in, "IDEM002", "rm", "-f", "rm fails when the path is already gone",
		"rm", "rm -f", diagnostic.SafeWithAssumptions,
		[]string{"no distinction between a missing and a removed path"})
}

// lnRule flags ln -s without -f, which fails when the link target exists.
type lnRule struct{}

func (lnRule) Code() string { return "IDEM003" }
func (lnRule) Check(in Input) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	walkCommands(in.File.Stmts, func(cmd *ast.Command) {
		lit, ok := cmd.Name.(*ast.Literal)
		if !ok || lit.Value != "ln" || !hasLiteralArg(cmd, "-s") || hasLiteralArg(cmd, "-f") || hasLiteralArg(cmd, "-sf") {
			return
		}
		fix := &diagnostic.Fix{
			SafetyLevel: diagnostic.SafeWithAssumptions,
			Assumptions: []string{"overwriting an existing link is intended on re-run"},
		}
		if text, ok := spanText(in.Source, cmd.SpanVal); ok {
			fix.Replacement = strings.Replace(text, "ln -s", "ln -sf", 1)
		}
		out = append(out, diagnostic.Diagnostic{
			Code:     "IDEM003",
			Severity: diagnostic.Note,
			Message:  "ln -s fails when the link already exists",
			Span:     cmd.SpanVal,
			Fix:      fix,
		})
	})
	return out
}

func flagMissingOption(in Input, code, name, opt, message, from, to string, safety diagnostic.FixSafetyLevel, assumptions []string) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	walkCommands(in.File.Stmts, func(cmd *ast.Command) {
		lit, ok := cmd.Name.(*ast.Literal)
		if !ok || lit.Value != name || hasLiteralArg(cmd, opt) {
			return
		}
		fix := &diagnostic.Fix{SafetyLevel: safety, Assumptions: assumptions}
		if text, ok := spanText(in.Source, cmd.SpanVal); ok {
			fix.Replacement = strings.Replace(text, from, to, 1)
		}
		out = append(out, diagnostic.Diagnostic{
			Code:     code,
			Severity: diagnostic.Note,
			Message:  message,
			Span:     cmd.SpanVal,
			Fix:      fix,
		})
	})
	return out
}

func hasLiteralArg(cmd *ast.Command, value string) bool {
	for _, a := range cmd.Args {
		if lit, ok := a.(*ast.Literal); ok && lit.Value == value {
			return true
		}
	}
	return false
}

// walkCommands visits every *ast.Command in the tree, including those
// nested in compound statements.
func walkCommands(stmts []ast.Stmt, visit func(*ast.Command)) {
	var walk func([]ast.Stmt)
	walk = func(stmts []ast.Stmt) {
		for _, s := range stmts {
			if cmd, ok := s.(*ast.Command); ok {
				visit(cmd)
			}
			recurseInto(s, walk)
		}
	}
	walk(stmts)
}

// walkValueExprs visits every expression in a value position: command
// name/arguments and assignment values, everywhere in the tree.
func walkValueExprs(stmts []ast.Stmt, visit func(ast.Expr)) {
	var walk func([]ast.Stmt)
	walk = func(stmts []ast.Stmt) {
		for _, s := range stmts {
			switch n := s.(type) {
			case *ast.Command:
				visit(n.Name)
				for _, a := range n.Args {
					visit(a)
				}
			case *ast.Assignment:
				visit(n.Value)
			}
			recurseInto(s, walk)
		}
	}
	walk(stmts)
}

func recurseInto(s ast.Stmt, walk func([]ast.Stmt)) {
	switch n := s.(type) {
	case *ast.If:
		walk(n.Then)
		walk(n.Else)
		for _, e := range n.ElifBranches {
			walk(e.Body)
		}
	case *ast.While:
		walk(n.Body)
	case *ast.For:
		walk(n.Body)
	case *ast.Function:
		walk(n.Body)
	case *ast.Subshell:
		walk(n.Body)
	case *ast.BraceGroup:
		walk(n.Body)
	case *ast.Case:
		for _, arm := range n.Arms {
			walk(arm.Body)
		}
	case *ast.Pipeline:
		walk(n.Commands)
	case *ast.List:
		walk([]ast.Stmt{n.Left, n.Right})
	case *ast.Negated:
		walk([]ast.Stmt{n.Command})
	}
}
