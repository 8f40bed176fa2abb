package machine

import (
	"strings"
	"testing"

	"github.com/bashrs-dev/bashrs/internal/ast"
)

func TestEvalExpr_CompositeJoinsLiteralAndExpansionParts(t *testing.T) {
	state := NewState()
	state.Env["name"] = "world"
	it := &Interp{state: state}

	expr := &ast.Composite{Parts: []ast.Expr{
		&ast.Literal{Value: "hi "},
		&ast.Variable{Name: "name"},
	}}

	got, err := it.evalExpr(expr)
	if err != nil {
		t.Fatalf("evalExpr: %v", err)
	}
	if got != "hi world" {
		t.Fatalf("got %q, want %q", got, "hi world")
	}
}

func TestRun_UnknownCommandDoesNotAbort(t *testing.T) {
	state := NewState()
	file := &ast.File{Stmts: []ast.Stmt{
		&ast.Command{Name: &ast.Literal{Value: "grep"}, Args: []ast.Expr{&ast.Literal{Value: "foo"}}},
		&ast.Command{Name: &ast.Literal{Value: "echo"}, Args: []ast.Expr{&ast.Literal{Value: "after"}}},
	}}

	if err := Run(state, file); err != nil {
		t.Fatalf("Run: unknown command must not abort, got %v", err)
	}
	if state.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", state.ExitCode)
	}
	if string(state.Stdout) != "after\n" {
		t.Fatalf("expected the statement after the unknown command to still run, stdout = %q", state.Stdout)
	}
	if len(state.Trace) != 2 || state.Trace[0].Description != "exec grep" || state.Trace[0].ExitCode != 0 {
		t.Fatalf("expected a trace entry for the passed-through command, got %#v", state.Trace)
	}
}

func TestRun_SubshellDiscardsEnvAndFilesystemChanges(t *testing.T) {
	state := NewState()
	state.Env["x"] = "outer"
	file := &ast.File{Stmts: []ast.Stmt{
		&ast.Subshell{Body: []ast.Stmt{
			&ast.Assignment{Name: "x", Value: &ast.Literal{Value: "inner"}},
			&ast.Command{Name: &ast.Literal{Value: "mkdir"}, Args: []ast.Expr{&ast.Literal{Value: "/scratch"}}},
			&ast.Command{Name: &ast.Literal{Value: "echo"}, Args: []ast.Expr{&ast.Variable{Name: "x"}}},
		}},
	}}

	if err := Run(state, file); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Env["x"] != "outer" {
		t.Fatalf("subshell env change leaked: x = %q", state.Env["x"])
	}
	if _, exists := state.Filesystem["/scratch"]; exists {
		t.Fatal("subshell filesystem change leaked into the parent")
	}
	if string(state.Stdout) != "inner\n" {
		t.Fatalf("subshell stdout must merge into the parent, got %q", state.Stdout)
	}
}

func TestRun_StderrDuplicateRedirectRoutesStdout(t *testing.T) {
	state := NewState()
	file := &ast.File{Stmts: []ast.Stmt{
		&ast.Command{
			Name:      &ast.Literal{Value: "echo"},
			Args:      []ast.Expr{&ast.Literal{Value: "oops"}},
			Redirects: []ast.Redirect{{Kind: ast.RedirDuplicate, FromFD: 1, ToFD: 2}},
		},
	}}

	if err := Run(state, file); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(state.Stdout) != 0 {
		t.Fatalf("stdout should be empty after 1>&2, got %q", state.Stdout)
	}
	if string(state.Stderr) != "oops\n" {
		t.Fatalf("stderr = %q, want %q", state.Stderr, "oops\n")
	}
}

func TestRun_OutputRedirectWritesFile(t *testing.T) {
	state := NewState()
	file := &ast.File{Stmts: []ast.Stmt{
		&ast.Command{
			Name:      &ast.Literal{Value: "echo"},
			Args:      []ast.Expr{&ast.Literal{Value: "hello"}},
			Redirects: []ast.Redirect{{Kind: ast.RedirOutput, FromFD: 1, Target: &ast.Literal{Value: "/out.txt"}}},
		},
	}}

	if err := Run(state, file); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f, ok := state.Filesystem["/out.txt"].(File)
	if !ok || string(f.Content) != "hello\n" {
		t.Fatalf("redirect target = %#v, want file with %q", state.Filesystem["/out.txt"], "hello\n")
	}
	if len(state.Stdout) != 0 {
		t.Fatalf("stdout should be empty after > file, got %q", state.Stdout)
	}
}

func TestRun_ExitStopsTheScriptAndKeepsTheCode(t *testing.T) {
	state := NewState()
	file := &ast.File{Stmts: []ast.Stmt{
		&ast.Command{Name: &ast.Literal{Value: "exit"}, Args: []ast.Expr{&ast.Literal{Value: "3"}}},
		&ast.Command{Name: &ast.Literal{Value: "echo"}, Args: []ast.Expr{&ast.Literal{Value: "unreachable"}}},
	}}

	if err := Run(state, file); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", state.ExitCode)
	}
	if len(state.Stdout) != 0 {
		t.Fatalf("statements after exit must not run, stdout = %q", state.Stdout)
	}
}

func TestRun_PermissionDenialSetsExitCodeAndStderr(t *testing.T) {
	state := NewState()
	state.Filesystem["/"] = Directory{Mode: 0o755}
	file := &ast.File{Stmts: []ast.Stmt{
		&ast.Command{Name: &ast.Literal{Value: "mkdir"}, Args: []ast.Expr{&ast.Literal{Value: "/denied"}}},
	}}

	err := Run(state, file)
	if _, ok := err.(*EvalError); !ok {
		t.Fatalf("expected a structured *EvalError, got %v", err)
	}
	if state.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", state.ExitCode)
	}
	if !strings.Contains(string(state.Stderr), "Permission denied") {
		t.Fatalf("stderr = %q, want it to mention Permission denied", state.Stderr)
	}
}

func TestRun_RootBypassesPermissionBits(t *testing.T) {
	state := NewState()
	state.Filesystem["/"] = Directory{Mode: 0o000}
	state.EUID = 0
	file := &ast.File{Stmts: []ast.Stmt{
		&ast.Command{Name: &ast.Literal{Value: "mkdir"}, Args: []ast.Expr{&ast.Literal{Value: "/anything"}}},
	}}

	if err := Run(state, file); err != nil {
		t.Fatalf("Run as root: %v", err)
	}
	if state.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", state.ExitCode)
	}
	if _, exists := state.Filesystem["/anything"]; !exists {
		t.Fatal("root mkdir must succeed regardless of mode bits")
	}
}

func TestRun_ArithmeticExpansionEvaluatesVariablePlusLiteral(t *testing.T) {
	state := NewState()
	state.Env["i"] = "4"
	file := &ast.File{Stmts: []ast.Stmt{
		&ast.Assignment{Name: "i", Value: &ast.Arithmetic{Expr: ast.ArithBinary{
			Op:    "+",
			Left:  ast.ArithVar{Name: "i"},
			Right: ast.ArithNumber{Value: 1},
		}}},
	}}

	if err := Run(state, file); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Env["i"] != "5" {
		t.Fatalf("i = %q, want 5", state.Env["i"])
	}
}
