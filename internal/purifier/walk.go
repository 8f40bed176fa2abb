package purifier

import "github.com/bashrs-dev/bashrs/internal/ast"

// walkStmts rewrites each statement pre-order: fn sees a node before its
// children, and the children walked are those of the node fn returned.
func walkStmts(stmts []ast.Stmt, fn func(ast.Stmt) (ast.Stmt, bool)) ([]ast.Stmt, bool) {
	changed := false
	out := make([]ast.Stmt, len(stmts))
	for i, s := range stmts {
		ns, c := walkStmt(s, fn)
		out[i] = ns
		changed = changed || c
	}
	return out, changed
}

func walkStmt(s ast.Stmt, fn func(ast.Stmt) (ast.Stmt, bool)) (ast.Stmt, bool) {
	s, changed := fn(s)
	switch n := s.(type) {
	case *ast.If:
		cp := *n
		cp.Then, _ = walkStmts(n.Then, fn)
		cp.Else, _ = walkStmts(n.Else, fn)
		cp.ElifBranches = make([]ast.ElifBranch, len(n.ElifBranches))
		for i, e := range n.ElifBranches {
			body, _ := walkStmts(e.Body, fn)
			cp.ElifBranches[i] = ast.ElifBranch{Cond: e.Cond, Body: body}
		}
		s = &cp
	case *ast.While:
		cp := *n
		cp.Body, _ = walkStmts(n.Body, fn)
		s = &cp
	case *ast.For:
		cp := *n
		cp.Body, _ = walkStmts(n.Body, fn)
		s = &cp
	case *ast.Case:
		cp := *n
		cp.Arms = make([]ast.CaseArm, len(n.Arms))
		for i, a := range n.Arms {
			body, _ := walkStmts(a.Body, fn)
			cp.Arms[i] = ast.CaseArm{Patterns: a.Patterns, Body: body}
		}
		s = &cp
	case *ast.Function:
		cp := *n
		cp.Body, _ = walkStmts(n.Body, fn)
		s = &cp
	case *ast.Subshell:
		cp := *n
		cp.Body, _ = walkStmts(n.Body, fn)
		s = &cp
	case *ast.BraceGroup:
		cp := *n
		cp.Body, _ = walkStmts(n.Body, fn)
		s = &cp
	case *ast.Pipeline:
		cp := *n
		cp.Commands, _ = walkStmts(n.Commands, fn)
		s = &cp
	case *ast.List:
		cp := *n
		cp.Left, _ = walkStmt(n.Left, fn)
		cp.Right, _ = walkStmt(n.Right, fn)
		s = &cp
	case *ast.Negated:
		cp := *n
		cp.Command, _ = walkStmt(n.Command, fn)
		s = &cp
	}
	return s, changed
}
