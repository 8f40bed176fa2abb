package parser

import (
	"testing"

	"github.com/bashrs-dev/bashrs/internal/ast"
)

func TestParseArith_SimpleAddition(t *testing.T) {
	got := parseArith("i+1")
	bin, ok := got.(ast.ArithBinary)
	if !ok {
		t.Fatalf("parseArith(%q) = %#v, want ast.ArithBinary", "i+1", got)
	}
	if bin.Op != "+" {
		t.Fatalf("op = %q, want +", bin.Op)
	}
	if v, ok := bin.Left.(ast.ArithVar); !ok || v.Name != "i" {
		t.Fatalf("left = %#v, want ArithVar{i}", bin.Left)
	}
	if n, ok := bin.Right.(ast.ArithNumber); !ok || n.Value != 1 {
		t.Fatalf("right = %#v, want ArithNumber{1}", bin.Right)
	}
}

func TestParseArith_PrecedenceAndParens(t *testing.T) {
	got := parseArith("1 + 2 * 3")
	bin, ok := got.(ast.ArithBinary)
	if !ok || bin.Op != "+" {
		t.Fatalf("top-level op = %#v, want ArithBinary{+}", got)
	}
	mul, ok := bin.Right.(ast.ArithBinary)
	if !ok || mul.Op != "*" {
		t.Fatalf("right operand = %#v, want ArithBinary{*} (multiplication binds tighter)", bin.Right)
	}

	parenthesized := parseArith("(1 + 2) * 3")
	bin2, ok := parenthesized.(ast.ArithBinary)
	if !ok || bin2.Op != "*" {
		t.Fatalf("top-level op = %#v, want ArithBinary{*}", parenthesized)
	}
	if _, ok := bin2.Left.(ast.ArithBinary); !ok {
		t.Fatalf("left operand = %#v, want a parenthesized ArithBinary{+}", bin2.Left)
	}
}

func TestParseArith_UnaryMinus(t *testing.T) {
	got := parseArith("-x")
	u, ok := got.(ast.ArithUnary)
	if !ok || u.Op != "-" {
		t.Fatalf("parseArith(%q) = %#v, want ArithUnary{-}", "-x", got)
	}
	if v, ok := u.Operand.(ast.ArithVar); !ok || v.Name != "x" {
		t.Fatalf("operand = %#v, want ArithVar{x}", u.Operand)
	}
}

func TestParseArith_FallsBackToRawOnUnsupportedSyntax(t *testing.T) {
	got := parseArith("x << 2")
	raw, ok := got.(ast.ArithRaw)
	if !ok {
		t.Fatalf("parseArith(%q) = %#v, want ast.ArithRaw fallback", "x << 2", got)
	}
	if raw.Text != "x << 2" {
		t.Fatalf("raw text = %q", raw.Text)
	}
}

func TestParse_ArithmeticExpansionBuildsStructuredTree(t *testing.T) {
	file := mustParse(t, "i=$((i+1))\n")
	assign, ok := file.Stmts[0].(*ast.Assignment)
	if !ok {
		t.Fatalf("stmt type = %T, want *ast.Assignment", file.Stmts[0])
	}
	arith, ok := assign.Value.(*ast.Arithmetic)
	if !ok {
		t.Fatalf("value type = %T, want *ast.Arithmetic", assign.Value)
	}
	if _, ok := arith.Expr.(ast.ArithBinary); !ok {
		t.Fatalf("expr = %#v, want ast.ArithBinary for i+1", arith.Expr)
	}
}
