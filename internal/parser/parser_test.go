package parser

import (
	"testing"

	"github.com/bashrs-dev/bashrs/internal/ast"
)

func mustParse(t *testing.T, src string) *ast.File {
	t.Helper()
	file, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return file
}

func TestParse_SimpleCommand(t *testing.T) {
	file := mustParse(t, "echo hello\n")
	if len(file.Stmts) != 1 {
		t.Fatalf("stmt count = %d, want 1", len(file.Stmts))
	}
	cmd, ok := file.Stmts[0].(*ast.Command)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.Command", file.Stmts[0])
	}
	name, ok := cmd.Name.(*ast.Literal)
	if !ok || name.Value != "echo" {
		t.Fatalf("name = %#v", cmd.Name)
	}
	if len(cmd.Args) != 1 {
		t.Fatalf("args = %#v", cmd.Args)
	}
}

func TestParse_Assignment(t *testing.T) {
	file := mustParse(t, "x=5\n")
	assign, ok := file.Stmts[0].(*ast.Assignment)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.Assignment", file.Stmts[0])
	}
	if assign.Name != "x" {
		t.Fatalf("name = %q", assign.Name)
	}
	lit, ok := assign.Value.(*ast.Literal)
	if !ok || lit.Value != "5" {
		t.Fatalf("value = %#v", assign.Value)
	}
}

func TestParse_Pipeline(t *testing.T) {
	file := mustParse(t, "cat foo | grep bar\n")
	pipe, ok := file.Stmts[0].(*ast.Pipeline)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.Pipeline", file.Stmts[0])
	}
	if len(pipe.Commands) != 2 {
		t.Fatalf("commands = %d, want 2", len(pipe.Commands))
	}
}

func TestParse_AndOrChain(t *testing.T) {
	file := mustParse(t, "a && b || c\n")
	list, ok := file.Stmts[0].(*ast.List)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.List", file.Stmts[0])
	}
	if list.Op != ast.OpOr {
		t.Fatalf("outer op = %v, want OpOr (left-associative a&&b first, then ||c)", list.Op)
	}
	inner, ok := list.Left.(*ast.List)
	if !ok || inner.Op != ast.OpAnd {
		t.Fatalf("left = %#v, want an OpAnd List", list.Left)
	}
}

func TestParse_If(t *testing.T) {
	file := mustParse(t, "if true; then echo yes; else echo no; fi\n")
	ifStmt, ok := file.Stmts[0].(*ast.If)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.If", file.Stmts[0])
	}
	if len(ifStmt.Then) != 1 || len(ifStmt.Else) != 1 {
		t.Fatalf("then/else = %d/%d, want 1/1", len(ifStmt.Then), len(ifStmt.Else))
	}
}

func TestParse_While(t *testing.T) {
	file := mustParse(t, "while true; do echo tick; done\n")
	w, ok := file.Stmts[0].(*ast.While)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.While", file.Stmts[0])
	}
	if w.Until {
		t.Fatal("Until should be false for while")
	}
	if len(w.Body) != 1 {
		t.Fatalf("body = %d, want 1", len(w.Body))
	}
}

func TestParse_For(t *testing.T) {
	file := mustParse(t, "for f in a b c; do echo $f; done\n")
	forStmt, ok := file.Stmts[0].(*ast.For)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.For", file.Stmts[0])
	}
	if forStmt.Var != "f" || len(forStmt.Iter) != 3 {
		t.Fatalf("var=%q iter=%d", forStmt.Var, len(forStmt.Iter))
	}
}

func TestParse_Case(t *testing.T) {
	file := mustParse(t, "case $x in a) echo A;; *) echo other;; esac\n")
	c, ok := file.Stmts[0].(*ast.Case)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.Case", file.Stmts[0])
	}
	if len(c.Arms) != 2 {
		t.Fatalf("arms = %d, want 2", len(c.Arms))
	}
}

func TestParse_Function(t *testing.T) {
	file := mustParse(t, "greet() {\n  echo hi\n}\n")
	fn, ok := file.Stmts[0].(*ast.Function)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.Function", file.Stmts[0])
	}
	if fn.Name != "greet" || len(fn.Body) != 1 {
		t.Fatalf("name=%q body=%d", fn.Name, len(fn.Body))
	}
}

func TestParse_BraceGroupIsDistinctFromSubshell(t *testing.T) {
	file := mustParse(t, "{ echo hi; }\n")
	bg, ok := file.Stmts[0].(*ast.BraceGroup)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.BraceGroup", file.Stmts[0])
	}
	if len(bg.Body) != 1 {
		t.Fatalf("body = %d, want 1", len(bg.Body))
	}

	subFile := mustParse(t, "(echo hi)\n")
	if _, ok := subFile.Stmts[0].(*ast.Subshell); !ok {
		t.Fatalf("stmt type = %T, want *ast.Subshell", subFile.Stmts[0])
	}
}

func TestParse_BracedDefaultValue(t *testing.T) {
	file := mustParse(t, "echo ${NAME:-world}\n")
	cmd := file.Stmts[0].(*ast.Command)
	dv, ok := cmd.Args[0].(*ast.DefaultValue)
	if !ok {
		t.Fatalf("arg type = %T, want *ast.DefaultValue", cmd.Args[0])
	}
	if dv.Variable != "NAME" {
		t.Fatalf("variable = %q", dv.Variable)
	}
	lit := dv.Default.(*ast.Literal)
	if lit.Value != "world" {
		t.Fatalf("default = %q", lit.Value)
	}
}

func TestParse_PatternTrim(t *testing.T) {
	file := mustParse(t, "echo ${path##*/}\n")
	cmd := file.Stmts[0].(*ast.Command)
	pt, ok := cmd.Args[0].(*ast.PatternTrim)
	if !ok {
		t.Fatalf("arg type = %T, want *ast.PatternTrim", cmd.Args[0])
	}
	if pt.Kind != ast.RemoveLongestPrefix || pt.Variable != "path" {
		t.Fatalf("pt = %#v", pt)
	}
}

func TestParse_SingleBracketTest(t *testing.T) {
	file := mustParse(t, "[ -f foo ]\n")
	cmd := file.Stmts[0].(*ast.Command)
	if cmd.Test == nil {
		t.Fatal("expected Test to be populated")
	}
	fp, ok := cmd.Test.(ast.FilePredicate)
	if !ok || fp.Kind != ast.FileRegular {
		t.Fatalf("test = %#v", cmd.Test)
	}
}

func TestParse_DoubleBracketAndOr(t *testing.T) {
	file := mustParse(t, "[[ -n $a && -z $b ]]\n")
	cmd := file.Stmts[0].(*ast.Command)
	and, ok := cmd.Test.(ast.And)
	if !ok {
		t.Fatalf("test = %#v, want ast.And", cmd.Test)
	}
	if _, ok := and.Left.(ast.StringNonEmpty); !ok {
		t.Fatalf("left = %#v", and.Left)
	}
	if _, ok := and.Right.(ast.StringEmpty); !ok {
		t.Fatalf("right = %#v", and.Right)
	}
}

func TestParse_FullLineCommentIsPreserved(t *testing.T) {
	file := mustParse(t, "# install deps\necho hi\n")
	if len(file.Stmts) != 2 {
		t.Fatalf("stmt count = %d, want comment + command", len(file.Stmts))
	}
	c, ok := file.Stmts[0].(*ast.Comment)
	if !ok || c.Text != " install deps" {
		t.Fatalf("first stmt = %#v, want the comment text preserved", file.Stmts[0])
	}
}

func TestParse_TrailingCommentIsDropped(t *testing.T) {
	file := mustParse(t, "echo hi # aside\n")
	if len(file.Stmts) != 1 {
		t.Fatalf("stmt count = %d, want just the command", len(file.Stmts))
	}
	cmd := file.Stmts[0].(*ast.Command)
	if len(cmd.Args) != 1 {
		t.Fatalf("args = %#v, want the comment gone", cmd.Args)
	}
}

func TestParse_ShebangNeverBecomesAComment(t *testing.T) {
	file := mustParse(t, "#!/bin/bash\necho hi\n")
	if len(file.Stmts) != 1 {
		t.Fatalf("stmt count = %d, want the shebang dropped", len(file.Stmts))
	}
}

func TestParse_ArrayLiteralAssignment(t *testing.T) {
	file := mustParse(t, "xs=(a b c)\n")
	assign := file.Stmts[0].(*ast.Assignment)
	arr, ok := assign.Value.(*ast.Array)
	if !ok {
		t.Fatalf("value = %T, want *ast.Array", assign.Value)
	}
	if len(arr.Elements) != 3 {
		t.Fatalf("elements = %#v, want 3", arr.Elements)
	}
}

func TestParse_SparseArrayElementFlattensToLiteral(t *testing.T) {
	file := mustParse(t, "xs=([2]=c)\n")
	assign := file.Stmts[0].(*ast.Assignment)
	arr := assign.Value.(*ast.Array)
	lit, ok := arr.Elements[0].(*ast.Literal)
	if !ok || lit.Value != "[2]=c" {
		t.Fatalf("element = %#v, want the [2]=c textual form preserved", arr.Elements[0])
	}
}

func TestParse_EqualsInSingleBracketIsStringEq(t *testing.T) {
	file := mustParse(t, `[ "$a" = "$b" ]`+"\n")
	cmd := file.Stmts[0].(*ast.Command)
	eq, ok := cmd.Test.(ast.StringEq)
	if !ok {
		t.Fatalf("test = %#v, want ast.StringEq", cmd.Test)
	}
	if eq.FromRegex {
		t.Fatal("a plain = comparison must not be marked as a regex lowering")
	}
}

func TestParse_RegexMatchLowersToTaggedEquality(t *testing.T) {
	file := mustParse(t, `[[ $x =~ ^foo ]]`+"\n")
	cmd := file.Stmts[0].(*ast.Command)
	eq, ok := cmd.Test.(ast.StringEq)
	if !ok || !eq.FromRegex {
		t.Fatalf("test = %#v, want a FromRegex ast.StringEq", cmd.Test)
	}
}

func TestParse_FdPrefixedRedirects(t *testing.T) {
	file := mustParse(t, "cmd 2>err.log\n")
	cmd := file.Stmts[0].(*ast.Command)
	if len(cmd.Args) != 0 {
		t.Fatalf("the fd digit must not become an argument, args = %#v", cmd.Args)
	}
	if len(cmd.Redirects) != 1 || cmd.Redirects[0].Kind != ast.RedirError || cmd.Redirects[0].FromFD != 2 {
		t.Fatalf("redirects = %#v, want one RedirError from fd 2", cmd.Redirects)
	}
}

func TestParse_FdDuplicationRedirect(t *testing.T) {
	file := mustParse(t, "echo oops 1>&2\n")
	cmd := file.Stmts[0].(*ast.Command)
	if len(cmd.Args) != 1 {
		t.Fatalf("args = %#v, want just the echo operand", cmd.Args)
	}
	r := cmd.Redirects[0]
	if r.Kind != ast.RedirDuplicate || r.FromFD != 1 || r.ToFD != 2 || r.Target != nil {
		t.Fatalf("redirect = %#v, want a 1>&2 duplicate with no target", r)
	}
}

func TestParse_CombinedRedirect(t *testing.T) {
	file := mustParse(t, "cmd &>all.log\n")
	cmd := file.Stmts[0].(*ast.Command)
	if len(cmd.Redirects) != 1 || cmd.Redirects[0].Kind != ast.RedirCombined {
		t.Fatalf("redirects = %#v, want one RedirCombined", cmd.Redirects)
	}
}

func TestParse_SpacedDigitStaysAnArgument(t *testing.T) {
	file := mustParse(t, "echo 2 >out.txt\n")
	cmd := file.Stmts[0].(*ast.Command)
	if len(cmd.Args) != 1 {
		t.Fatalf("args = %#v, want the digit kept as an argument", cmd.Args)
	}
	if len(cmd.Redirects) != 1 || cmd.Redirects[0].Kind != ast.RedirOutput {
		t.Fatalf("redirects = %#v, want a plain output redirect", cmd.Redirects)
	}
}

func TestParse_IndirectExpansionIsRejected(t *testing.T) {
	_, err := Parse([]byte("echo ${!name}\n"))
	perr, ok := err.(*Error)
	if !ok || perr.Kind != MalformedExpansion {
		t.Fatalf("err = %v, want a MalformedExpansion parse error", err)
	}
}

func TestParse_QuotedCommandSubstitutionBecomesLiveNode(t *testing.T) {
	file := mustParse(t, `x="pre-$(date +%s)-post"`+"\n")
	assign := file.Stmts[0].(*ast.Assignment)
	comp, ok := assign.Value.(*ast.Composite)
	if !ok {
		t.Fatalf("value = %T, want *ast.Composite", assign.Value)
	}
	foundSubst := false
	for _, part := range comp.Parts {
		if _, ok := part.(*ast.CommandSubst); ok {
			foundSubst = true
		}
	}
	if !foundSubst {
		t.Fatalf("expected a live CommandSubst part, got %#v", comp.Parts)
	}
}

func TestParse_DefaultValueWithSubstitutionKeepsItLive(t *testing.T) {
	file := mustParse(t, `x="${TIMESTAMP:-$(date +%s)}"`+"\n")
	assign := file.Stmts[0].(*ast.Assignment)
	comp, ok := assign.Value.(*ast.Composite)
	if !ok {
		t.Fatalf("value = %T, want *ast.Composite", assign.Value)
	}
	dv, ok := comp.Parts[0].(*ast.DefaultValue)
	if !ok {
		t.Fatalf("part = %T, want *ast.DefaultValue", comp.Parts[0])
	}
	if _, ok := dv.Default.(*ast.CommandSubst); !ok {
		t.Fatalf("default = %T, want a live *ast.CommandSubst", dv.Default)
	}
}

func TestParse_CommandSubstitutionNestsAProgram(t *testing.T) {
	file := mustParse(t, "x=$(echo hi)\n")
	assign := file.Stmts[0].(*ast.Assignment)
	cs, ok := assign.Value.(*ast.CommandSubst)
	if !ok {
		t.Fatalf("value = %T, want *ast.CommandSubst", assign.Value)
	}
	inner, ok := cs.Body.(*ast.Command)
	if !ok {
		t.Fatalf("body = %T, want *ast.Command", cs.Body)
	}
	name := inner.Name.(*ast.Literal)
	if name.Value != "echo" {
		t.Fatalf("inner command = %q", name.Value)
	}
}

func TestParse_DoubleQuotedInterpolatesVariables(t *testing.T) {
	file := mustParse(t, `echo "hi $name"`+"\n")
	cmd := file.Stmts[0].(*ast.Command)
	comp, ok := cmd.Args[0].(*ast.Composite)
	if !ok {
		t.Fatalf("arg = %T, want *ast.Composite", cmd.Args[0])
	}
	if len(comp.Parts) != 2 {
		t.Fatalf("parts = %#v, want 2", comp.Parts)
	}
	lit, ok := comp.Parts[0].(*ast.Literal)
	if !ok || lit.Value != "hi " {
		t.Fatalf("parts[0] = %#v, want literal \"hi \"", comp.Parts[0])
	}
	v, ok := comp.Parts[1].(*ast.Variable)
	if !ok || v.Name != "name" {
		t.Fatalf("parts[1] = %#v, want Variable(name)", comp.Parts[1])
	}
}

func TestParse_DoubleQuotedWithBracedVariable(t *testing.T) {
	file := mustParse(t, `echo "${a}:${b:-x}"`+"\n")
	cmd := file.Stmts[0].(*ast.Command)
	comp, ok := cmd.Args[0].(*ast.Composite)
	if !ok {
		t.Fatalf("arg = %T, want *ast.Composite", cmd.Args[0])
	}
	if len(comp.Parts) != 3 {
		t.Fatalf("parts = %#v, want 3", comp.Parts)
	}
	if _, ok := comp.Parts[0].(*ast.Variable); !ok {
		t.Fatalf("parts[0] = %#v, want *ast.Variable", comp.Parts[0])
	}
	if lit, ok := comp.Parts[1].(*ast.Literal); !ok || lit.Value != ":" {
		t.Fatalf("parts[1] = %#v, want literal \":\"", comp.Parts[1])
	}
	if _, ok := comp.Parts[2].(*ast.DefaultValue); !ok {
		t.Fatalf("parts[2] = %#v, want *ast.DefaultValue", comp.Parts[2])
	}
}

func TestParse_DoubleQuotedWithNoExpansionCollapsesToLiteral(t *testing.T) {
	file := mustParse(t, `echo "plain text"`+"\n")
	cmd := file.Stmts[0].(*ast.Command)
	lit, ok := cmd.Args[0].(*ast.Literal)
	if !ok || lit.Value != "plain text" {
		t.Fatalf("arg = %#v, want literal \"plain text\"", cmd.Args[0])
	}
}

func TestParse_UnexpectedEof(t *testing.T) {
	_, err := Parse([]byte("if true; then echo hi"))
	if err == nil {
		t.Fatal("expected error for unterminated if")
	}
	pe, ok := err.(*Error)
	if !ok || pe.Kind != UnexpectedEof {
		t.Fatalf("got %v, want UnexpectedEof", err)
	}
}
