package purifier

import (
	"strings"

	"github.com/bashrs-dev/bashrs/internal/ast"
	"github.com/bashrs-dev/bashrs/internal/diagnostic"
)

// insertMkdirPreconditions implements the second half of the IDEM-mkdir
// rewrite: every `mkdir` (already rewritten to `mkdir -p` by
// idemMkdirRule) is preceded by a write-permission test on its parent
// directory that exits 1 with "Permission denied" on failure. This is a
// one-statement-to-two expansion, which is why it runs as its own
// statement-list pass rather than through the single-statement rewrite
// rules walkStmts drives: a rule there can only replace a node with
// another node of the same shape, never splice a sibling in beside it.
func insertMkdirPreconditions(stmts []ast.Stmt, report *Report) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(stmts))
	for _, s := range stmts {
		s = recurseMkdirBodies(s, report)
		prelude, ok := mkdirPrecondition(s, report)
		if ok && len(out) > 0 && isGeneratedMkdirGuard(out[len(out)-1]) {
			// Re-purifying already-guarded output: the previous statement
			// is the guard this same rule would build, so skip re-reporting
			// and re-inserting it (keeps Purify idempotent on its own
			// output, per the emitter-idempotence property).
			ok = false
		}
		if ok {
			out = append(out, prelude, s)
		} else {
			out = append(out, s)
		}
	}
	return out
}

// isGeneratedMkdirGuard recognizes the shape mkdirPrecondition builds:
// `if [ ! -w "$(dirname ...)" ]; then echo ...; exit 1; fi`. It doesn't
// compare the guarded path itself — only the guard's structure — since a
// guard this rule emitted always immediately precedes the mkdir it guards.
func isGeneratedMkdirGuard(s ast.Stmt) bool {
	ifs, ok := s.(*ast.If)
	if !ok || len(ifs.Then) != 2 || len(ifs.Else) != 0 || len(ifs.ElifBranches) != 0 {
		return false
	}
	cmd, ok := ifs.Cond.Body.(*ast.Command)
	if !ok || cmd.Test == nil {
		return false
	}
	not, ok := cmd.Test.(ast.Not)
	if !ok {
		return false
	}
	fp, ok := not.Operand.(ast.FilePredicate)
	if !ok || fp.Kind != ast.FileWritable {
		return false
	}
	echoCmd, ok := ifs.Then[0].(*ast.Command)
	if !ok {
		return false
	}
	if lit, ok := echoCmd.Name.(*ast.Literal); !ok || lit.Value != "echo" {
		return false
	}
	exitCmd, ok := ifs.Then[1].(*ast.Command)
	if !ok {
		return false
	}
	lit, ok := exitCmd.Name.(*ast.Literal)
	return ok && lit.Value == "exit"
}

// recurseMkdirBodies applies insertMkdirPreconditions to every nested
// statement list a compound statement carries, so a `mkdir` inside a
// function body, loop, or conditional branch gets the same treatment as
// one at the top level.
func recurseMkdirBodies(s ast.Stmt, report *Report) ast.Stmt {
	switch n := s.(type) {
	case *ast.If:
		cp := *n
		cp.Then = insertMkdirPreconditions(n.Then, report)
		cp.Else = insertMkdirPreconditions(n.Else, report)
		cp.ElifBranches = make([]ast.ElifBranch, len(n.ElifBranches))
		for i, e := range n.ElifBranches {
			cp.ElifBranches[i] = ast.ElifBranch{Cond: e.Cond, Body: insertMkdirPreconditions(e.Body, report)}
		}
		return &cp
	case *ast.While:
		cp := *n
		cp.Body = insertMkdirPreconditions(n.Body, report)
		return &cp
	case *ast.For:
		cp := *n
		cp.Body = insertMkdirPreconditions(n.Body, report)
		return &cp
	case *ast.Case:
		cp := *n
		cp.Arms = make([]ast.CaseArm, len(n.Arms))
		for i, a := range n.Arms {
			cp.Arms[i] = ast.CaseArm{Patterns: a.Patterns, Body: insertMkdirPreconditions(a.Body, report)}
		}
		return &cp
	case *ast.Function:
		cp := *n
		cp.Body = insertMkdirPreconditions(n.Body, report)
		return &cp
	case *ast.Subshell:
		cp := *n
		cp.Body = insertMkdirPreconditions(n.Body, report)
		return &cp
	case *ast.BraceGroup:
		cp := *n
		cp.Body = insertMkdirPreconditions(n.Body, report)
		return &cp
	default:
		return s
	}
}

// mkdirPrecondition builds the `if [ ! -w "$(dirname X)" ]; then ...; fi`
// guard for a single `mkdir` command, targeting its first non-flag
// argument (the directory to create).
func mkdirPrecondition(s ast.Stmt, report *Report) (ast.Stmt, bool) {
	cmd, name, ok := commandName(s)
	if !ok || name != "mkdir" {
		return nil, false
	}
	var target ast.Expr
	for _, a := range cmd.Args {
		if lit, ok := a.(*ast.Literal); ok && strings.HasPrefix(lit.Value, "-") {
			continue
		}
		target = a
		break
	}
	if target == nil {
		return nil, false
	}

	sp := cmd.SpanVal
	dirname := &ast.CommandSubst{
		Body: &ast.Command{
			Name:    &ast.Literal{Value: "dirname", SpanVal: sp},
			Args:    []ast.Expr{target},
			SpanVal: sp,
		},
		SpanVal: sp,
	}
	test := ast.Not{Operand: ast.FilePredicate{Kind: ast.FileWritable, Operand: dirname}}
	prelude := &ast.If{
		Cond: ast.ConditionHead{
			Body: &ast.Command{
				Name:    &ast.Literal{Value: "[", SpanVal: sp},
				Test:    test,
				SpanVal: sp,
			},
		},
		Then: []ast.Stmt{
			&ast.Command{
				Name: &ast.Literal{Value: "echo", SpanVal: sp},
				Args: []ast.Expr{&ast.Literal{Value: "Permission denied", SpanVal: sp}},
				Redirects: []ast.Redirect{
					{Kind: ast.RedirDuplicate, FromFD: 1, ToFD: 2, SpanVal: sp},
				},
				SpanVal: sp,
			},
			&ast.Command{
				Name:    &ast.Literal{Value: "exit", SpanVal: sp},
				Args:    []ast.Expr{&ast.Literal{Value: "1", SpanVal: sp}},
				SpanVal: sp,
			},
		},
		SpanVal: sp,
	}
	report.rewrite("IDEM-mkdir", "added a write-permission precondition before mkdir", sp, diagnostic.Safe)
	return prelude, true
}
