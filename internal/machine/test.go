package machine

import (
	"strconv"
	"strings"

	"github.com/bashrs-dev/bashrs/internal/ast"
)

func (it *Interp) evalTest(t ast.TestExpr) (bool, error) {
	switch n := t.(type) {
	case ast.And:
		l, err := it.evalTest(n.Left)
		if err != nil || !l {
			return false, err
		}
		return it.evalTest(n.Right)
	case ast.Or:
		l, err := it.evalTest(n.Left)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return it.evalTest(n.Right)
	case ast.Not:
		v, err := it.evalTest(n.Operand)
		if err != nil {
			return false, err
		}
		return !v, nil
	case ast.StringEq:
		l, r, err := it.pair(n.Left, n.Right)
		return l == r, err
	case ast.StringNe:
		l, r, err := it.pair(n.Left, n.Right)
		return l != r, err
	case ast.StringLt:
		l, r, err := it.pair(n.Left, n.Right)
		return l < r, err
	case ast.StringGt:
		l, r, err := it.pair(n.Left, n.Right)
		return l > r, err
	case ast.StringEmpty:
		v, err := it.evalExpr(n.Operand)
		return v == "", err
	case ast.StringNonEmpty:
		v, err := it.evalExpr(n.Operand)
		return v != "", err
	case ast.IntEq:
		return it.intCompare(n.Left, n.Right, func(a, b int64) bool { return a == b })
	case ast.IntNe:
		return it.intCompare(n.Left, n.Right, func(a, b int64) bool { return a != b })
	case ast.IntLt:
		return it.intCompare(n.Left, n.Right, func(a, b int64) bool { return a < b })
	case ast.IntLe:
		return it.intCompare(n.Left, n.Right, func(a, b int64) bool { return a <= b })
	case ast.IntGt:
		return it.intCompare(n.Left, n.Right, func(a, b int64) bool { return a > b })
	case ast.IntGe:
		return it.intCompare(n.Left, n.Right, func(a, b int64) bool { return a >= b })
	case ast.FilePredicate:
		return it.filePredicate(n)
	default:
		return false, &EvalError{Kind: BadArithmetic, Msg: "unhandled test expression"}
	}
}

func (it *Interp) pair(l, r ast.Expr) (string, string, error) {
	lv, err := it.evalExpr(l)
	if err != nil {
		return "", "", err
	}
	rv, err := it.evalExpr(r)
	if err != nil {
		return "", "", err
	}
	return lv, rv, nil
}

func (it *Interp) intCompare(l, r ast.Expr, cmp func(a, b int64) bool) (bool, error) {
	lv, rv, err := it.pair(l, r)
	if err != nil {
		return false, err
	}
	li, err := parseIntLoose(lv)
	if err != nil {
		return false, err
	}
	ri, err := parseIntLoose(rv)
	if err != nil {
		return false, err
	}
	return cmp(li, ri), nil
}

func parseIntLoose(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &EvalError{Kind: BadArithmetic, Msg: "not an integer: " + s}
	}
	return v, nil
}

func (it *Interp) filePredicate(n ast.FilePredicate) (bool, error) {
	p, err := it.evalExpr(n.Operand)
	if err != nil {
		return false, err
	}
	node, exists := it.state.Filesystem[p]
	switch n.Kind {
	case ast.FileExists:
		return exists, nil
	case ast.FileDirectory:
		_, ok := node.(Directory)
		return exists && ok, nil
	case ast.FileRegular:
		_, ok := node.(File)
		return exists && ok, nil
	case ast.FileNonEmpty:
		f, ok := node.(File)
		return exists && ok && len(f.Content) > 0, nil
	case ast.FileReadable:
		return exists && it.canRead(p), nil
	case ast.FileWritable:
		// Unlike -r/-x, writability defers through nonexistent paths to
		// the closest existing ancestor (invariant I2): the purifier's
		// mkdir guard probes `-w $(dirname X)` before X's parent exists.
		return it.canWrite(p), nil
	case ast.FileExecutable:
		return exists && it.canExecute(p), nil
	case ast.FileIsVarSet:
		_, ok := it.state.Env[p]
		return ok, nil
	default:
		return exists, nil
	}
}
