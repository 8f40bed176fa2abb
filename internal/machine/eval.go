package machine

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/bashrs-dev/bashrs/internal/ast"
)

// ErrorKind classifies a failure raised while interpreting a script.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota
	NoSuchPath
	NotADirectory
	IsADirectory
	BadArithmetic
	UnboundVariable
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "PermissionDenied"
	case NoSuchPath:
		return "NoSuchPath"
	case NotADirectory:
		return "NotADirectory"
	case IsADirectory:
		return "IsADirectory"
	case BadArithmetic:
		return "BadArithmetic"
	case UnboundVariable:
		return "UnboundVariable"
	default:
		return "Unknown"
	}
}

// EvalError is the interpreter's single error type.
type EvalError struct {
	Kind ErrorKind
	Path string
	Msg  string
}

func (e *EvalError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// controlSignal lets break/continue/return unwind through the normal Go
// call stack without threading an explicit signal value through every
// statement executor.
type controlSignal struct {
	kind string // "break", "continue", "return", "exit"
	code int
}

func (controlSignal) Error() string { return "control signal escaped its loop/function" }

// Interp executes a parsed script against state, appending a TraceEntry
// per executed command, assignment, and function definition (nested ones
// included) and returning the first unhandled error.
type Interp struct {
	state *PermissionedState
}

// NewInterp wraps state for statement-at-a-time execution; Run is the
// usual whole-script entry point.
func NewInterp(state *PermissionedState) *Interp {
	return &Interp{state: state}
}

// Exec runs a single statement. halted reports that the script asked to
// terminate (exit); the exit code is already recorded in the state. A
// stray break/continue outside any loop is discarded, matching Run.
func (it *Interp) Exec(s ast.Stmt) (halted bool, err error) {
	err = it.exec(s)
	if cs, ok := err.(controlSignal); ok {
		if cs.kind == "exit" {
			it.state.ExitCode = cs.code
			return true, nil
		}
		return false, nil
	}
	return false, err
}

// Run evaluates file's statements in order against state.
func Run(state *PermissionedState, file *ast.File) error {
	it := NewInterp(state)
	for _, s := range file.Stmts {
		halted, err := it.Exec(s)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
	return nil
}

func (it *Interp) exec(s ast.Stmt) error {
	switch n := s.(type) {
	case *ast.Command:
		code, err := it.execCommand(n)
		it.state.trace(commandDescription(n), code)
		it.state.ExitCode = code
		return err
	case *ast.Assignment:
		val, err := it.evalExpr(n.Value)
		if err != nil {
			return err
		}
		it.state.Env[n.Name] = val
		it.state.ExitCode = 0
		it.state.trace("assign "+n.Name, 0)
		return nil
	case *ast.Pipeline:
		// Streamed piping isn't modeled; the machine runs each stage in
		// order and reports the last stage's exit status, matching
		// pipefail=off POSIX semantics.
		var code int
		for _, c := range n.Commands {
			if err := it.exec(c); err != nil {
				return err
			}
			code = it.state.ExitCode
		}
		it.state.ExitCode = code
		return nil
	case *ast.List:
		if err := it.exec(n.Left); err != nil {
			return err
		}
		switch n.Op {
		case ast.OpAnd:
			if it.state.ExitCode != 0 {
				return nil
			}
		case ast.OpOr:
			if it.state.ExitCode == 0 {
				return nil
			}
		}
		return it.exec(n.Right)
	case *ast.Negated:
		if err := it.exec(n.Command); err != nil {
			return err
		}
		if it.state.ExitCode == 0 {
			it.state.ExitCode = 1
		} else {
			it.state.ExitCode = 0
		}
		return nil
	case *ast.If:
		return it.execIf(n)
	case *ast.While:
		return it.execWhile(n)
	case *ast.For:
		return it.execFor(n)
	case *ast.Case:
		return it.execCase(n)
	case *ast.Function:
		// Function bodies execute only when called; the abstract machine
		// does not yet model a call table, so definitions are no-ops that
		// still appear in the trace for visibility.
		it.state.trace("define "+n.Name, 0)
		return nil
	case *ast.Subshell:
		// The child gets its own env and filesystem copies: only the
		// streams (and the informative trace) merge back into the parent,
		// so env/cwd/filesystem mutations inside ( ... ) are discarded.
		child := it.state.clone()
		sub := &Interp{state: child}
		var bodyErr error
		for _, s := range n.Body {
			halted, err := sub.Exec(s)
			if err != nil {
				bodyErr = err
				break
			}
			if halted {
				break
			}
		}
		it.state.ExitCode = child.ExitCode
		it.state.Stdout = append(it.state.Stdout, child.Stdout...)
		it.state.Stderr = append(it.state.Stderr, child.Stderr...)
		it.state.Trace = append(it.state.Trace, child.Trace...)
		return bodyErr
	case *ast.BraceGroup:
		for _, s := range n.Body {
			if err := it.exec(s); err != nil {
				return err
			}
		}
		return nil
	case *ast.Return:
		code := it.state.ExitCode
		if n.Code != nil {
			v, err := it.evalExpr(n.Code)
			if err != nil {
				return err
			}
			code, _ = strconv.Atoi(v)
		}
		return controlSignal{kind: "return", code: code}
	case *ast.Break:
		return controlSignal{kind: "break"}
	case *ast.Continue:
		return controlSignal{kind: "continue"}
	case *ast.Comment, *ast.Empty:
		return nil
	default:
		return fmt.Errorf("machine: unhandled statement type %T", s)
	}
}

func (it *Interp) evalCond(c ast.ConditionHead) (bool, error) {
	if err := it.exec(c.Body); err != nil {
		return false, err
	}
	ok := it.state.ExitCode == 0
	if c.Negated {
		ok = !ok
	}
	return ok, nil
}

func (it *Interp) execIf(n *ast.If) error {
	ok, err := it.evalCond(n.Cond)
	if err != nil {
		return err
	}
	if ok {
		return it.execBlock(n.Then)
	}
	for _, elif := range n.ElifBranches {
		ok, err := it.evalCond(elif.Cond)
		if err != nil {
			return err
		}
		if ok {
			return it.execBlock(elif.Body)
		}
	}
	if len(n.Else) == 0 {
		// No branch ran: an if statement's own status is 0, not the
		// failed condition probe's.
		it.state.ExitCode = 0
		return nil
	}
	return it.execBlock(n.Else)
}

func (it *Interp) execBlock(stmts []ast.Stmt) error {
	for _, s := range stmts {
		if err := it.exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interp) execWhile(n *ast.While) error {
	lastBody := 0
	for {
		ok, err := it.evalCond(n.Cond)
		if err != nil {
			return err
		}
		if n.Until {
			ok = !ok
		}
		if !ok {
			// The loop's status is the last body command's, or 0 if the
			// body never ran; never the failed condition probe's.
			it.state.ExitCode = lastBody
			return nil
		}
		if err := it.execLoopBody(n.Body); err != nil {
			if cs, ok := err.(controlSignal); ok && cs.kind == "break" {
				it.state.ExitCode = 0
				return nil
			} else if ok && cs.kind == "continue" {
				lastBody = it.state.ExitCode
				continue
			} else {
				return err
			}
		}
		lastBody = it.state.ExitCode
	}
}

func (it *Interp) execFor(n *ast.For) error {
	ran := false
	for _, w := range n.Iter {
		val, err := it.evalExpr(w)
		if err != nil {
			return err
		}
		it.state.Env[n.Var] = val
		ran = true
		if err := it.execLoopBody(n.Body); err != nil {
			if cs, ok := err.(controlSignal); ok && cs.kind == "break" {
				it.state.ExitCode = 0
				return nil
			} else if ok && cs.kind == "continue" {
				continue
			} else {
				return err
			}
		}
	}
	if !ran {
		it.state.ExitCode = 0
	}
	return nil
}

func (it *Interp) execLoopBody(stmts []ast.Stmt) error {
	for _, s := range stmts {
		if err := it.exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interp) execCase(n *ast.Case) error {
	scrutinee, err := it.evalExpr(n.Scrutinee)
	if err != nil {
		return err
	}
	for _, arm := range n.Arms {
		for _, p := range arm.Patterns {
			pat, err := it.evalExpr(p)
			if err != nil {
				return err
			}
			if matched, _ := path.Match(pat, scrutinee); matched || pat == scrutinee {
				return it.execBlock(arm.Body)
			}
		}
	}
	it.state.ExitCode = 0
	return nil
}

func commandDescription(c *ast.Command) string {
	if lit, ok := c.Name.(*ast.Literal); ok {
		return "exec " + lit.Value
	}
	return "exec <dynamic>"
}

// execCommand dispatches to a builtin, or passes an unrecognized command
// straight through: the abstract machine never forks a real process, so a
// command outside the builtin table is modeled as a successful no-op,
// recorded in the trace for the inspector to show.
// A structured *EvalError surfaces its message on stderr with a nonzero
// exit code before propagating, so the state reflects what a real shell
// user would have seen at the moment of failure. Redirections apply to
// whatever the command wrote to either stream, including that message.
func (it *Interp) execCommand(c *ast.Command) (int, error) {
	outStart, errStart := len(it.state.Stdout), len(it.state.Stderr)
	code, err := it.execCommandInner(c)
	if ee, ok := err.(*EvalError); ok {
		it.state.Stderr = append(it.state.Stderr, []byte(ee.Msg+"\n")...)
		if code == 0 {
			code = 1
		}
	}
	if len(c.Redirects) > 0 {
		if rerr := it.applyRedirects(c.Redirects, outStart, errStart); rerr != nil && err == nil {
			it.state.Stderr = append(it.state.Stderr, []byte(rerr.Msg+"\n")...)
			return 1, rerr
		}
	}
	return code, err
}

func (it *Interp) execCommandInner(c *ast.Command) (int, error) {
	if c.Test != nil {
		ok, err := it.evalTest(c.Test)
		if err != nil {
			return 2, err
		}
		if ok {
			return 0, nil
		}
		return 1, nil
	}

	name, err := it.evalExpr(c.Name)
	if err != nil {
		return 2, err
	}
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		v, err := it.evalExpr(a)
		if err != nil {
			return 2, err
		}
		args[i] = v
	}
	builtin, ok := builtins[name]
	if !ok {
		// An unmodeled command is routine (every external binary the
		// machine doesn't know), not an error: the machine never forks
		// a real process, so it can't observe what name actually does;
		// it records the call in the trace and moves on rather than
		// aborting or guessing.
		return 0, nil
	}
	return builtin(it, args)
}

// applyRedirects reroutes the bytes the command just produced. The two
// streams are peeled off the shared buffers, routed per redirect in
// source order, and whatever stayed on a terminal stream is put back.
func (it *Interp) applyRedirects(rs []ast.Redirect, outStart, errStart int) *EvalError {
	out := append([]byte(nil), it.state.Stdout[outStart:]...)
	errB := append([]byte(nil), it.state.Stderr[errStart:]...)
	it.state.Stdout = it.state.Stdout[:outStart]
	it.state.Stderr = it.state.Stderr[:errStart]

	outFile := "" // path stdout was already routed to, for `> f 2>&1`
	for _, r := range rs {
		switch r.Kind {
		case ast.RedirDuplicate:
			switch {
			case r.FromFD == 1 && r.ToFD == 2:
				errB = append(errB, out...)
				out = nil
			case r.FromFD == 2 && r.ToFD == 1:
				if outFile != "" {
					if ee := it.writeStream(outFile, errB, true); ee != nil {
						return ee
					}
				} else {
					out = append(out, errB...)
				}
				errB = nil
			}
		case ast.RedirOutput, ast.RedirAppendOut:
			target, ee := it.redirectTarget(r)
			if ee != nil {
				return ee
			}
			if ee := it.writeStream(target, out, r.Kind == ast.RedirAppendOut); ee != nil {
				return ee
			}
			out = nil
			outFile = target
		case ast.RedirError:
			target, ee := it.redirectTarget(r)
			if ee != nil {
				return ee
			}
			if ee := it.writeStream(target, errB, false); ee != nil {
				return ee
			}
			errB = nil
		case ast.RedirCombined:
			target, ee := it.redirectTarget(r)
			if ee != nil {
				return ee
			}
			if ee := it.writeStream(target, append(append([]byte(nil), out...), errB...), false); ee != nil {
				return ee
			}
			out, errB = nil, nil
			outFile = target
		case ast.RedirInput:
			// Builtins in the model don't consume stdin; the redirect is
			// preserved in the AST but has no observable effect here.
		}
	}
	it.state.Stdout = append(it.state.Stdout, out...)
	it.state.Stderr = append(it.state.Stderr, errB...)
	return nil
}

func (it *Interp) redirectTarget(r ast.Redirect) (string, *EvalError) {
	raw, err := it.evalExpr(r.Target)
	if err != nil {
		if ee, ok := err.(*EvalError); ok {
			return "", ee
		}
		return "", &EvalError{Kind: NoSuchPath, Msg: "sh: bad redirect target"}
	}
	return resolvePath(it.state.Cwd, raw), nil
}

// writeStream creates or updates the file at p with data, honoring the
// permission bits the same way the file-mutating builtins do.
func (it *Interp) writeStream(p string, data []byte, appendTo bool) *EvalError {
	switch node := it.state.Filesystem[p].(type) {
	case Directory:
		return &EvalError{Kind: IsADirectory, Path: p, Msg: "sh: " + p + ": Is a directory"}
	case File:
		if !it.canWrite(p) {
			return &EvalError{Kind: PermissionDenied, Path: p, Msg: "sh: " + p + ": Permission denied"}
		}
		if appendTo {
			node.Content = append(append([]byte(nil), node.Content...), data...)
		} else {
			node.Content = append([]byte(nil), data...)
		}
		it.state.Filesystem[p] = node
		return nil
	default:
		if !it.canWrite(p) {
			return &EvalError{Kind: PermissionDenied, Path: p, Msg: "sh: " + p + ": Permission denied"}
		}
		it.state.Filesystem[p] = File{
			Content: append([]byte(nil), data...),
			Mode:    0o644,
			UID:     it.state.EUID,
			GID:     it.state.EGID,
		}
		return nil
	}
}

func (it *Interp) evalExpr(e ast.Expr) (string, error) {
	switch v := e.(type) {
	case *ast.Literal:
		return v.Value, nil
	case *ast.Glob:
		matches := it.expandGlob(v.Pattern)
		return strings.Join(matches, " "), nil
	case *ast.Variable:
		return it.state.Env[v.Name], nil
	case *ast.DefaultValue:
		if val, ok := it.state.Env[v.Variable]; ok && val != "" {
			return val, nil
		}
		return it.evalExpr(v.Default)
	case *ast.AssignDefault:
		if val, ok := it.state.Env[v.Variable]; ok && val != "" {
			return val, nil
		}
		val, err := it.evalExpr(v.Default)
		if err != nil {
			return "", err
		}
		it.state.Env[v.Variable] = val
		return val, nil
	case *ast.AlternativeValue:
		if val, ok := it.state.Env[v.Variable]; ok && val != "" {
			return it.evalExpr(v.Alternative)
		}
		return "", nil
	case *ast.ErrorIfUnset:
		if val, ok := it.state.Env[v.Variable]; ok && val != "" {
			return val, nil
		}
		msg, _ := it.evalExpr(v.Message)
		return "", &EvalError{Kind: UnboundVariable, Path: v.Variable, Msg: msg}
	case *ast.StringLength:
		return strconv.Itoa(len(it.state.Env[v.Variable])), nil
	case *ast.PatternTrim:
		return it.evalPatternTrim(v)
	case *ast.Arithmetic:
		val, err := it.evalArith(v.Expr)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(val, 10), nil
	case *ast.CommandSubst:
		// Same isolation discipline as a subshell: the substitution's
		// env/filesystem writes never reach the parent, only its stdout.
		child := it.state.clone()
		sub := &Interp{state: child}
		if err := sub.exec(v.Body); err != nil {
			if _, ok := err.(controlSignal); !ok {
				return "", err
			}
		}
		return strings.TrimRight(string(child.Stdout), "\n"), nil
	case *ast.Array:
		parts := make([]string, len(v.Elements))
		for i, el := range v.Elements {
			s, err := it.evalExpr(el)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, " "), nil
	case *ast.Test:
		ok, err := it.evalTest(v.Expr)
		if err != nil {
			return "", err
		}
		if ok {
			return "0", nil
		}
		return "1", nil
	case *ast.Composite:
		var sb strings.Builder
		for _, part := range v.Parts {
			s, err := it.evalExpr(part)
			if err != nil {
				return "", err
			}
			sb.WriteString(s)
		}
		return sb.String(), nil
	default:
		return "", fmt.Errorf("machine: unhandled expression type %T", e)
	}
}

func (it *Interp) evalPatternTrim(v *ast.PatternTrim) (string, error) {
	val := it.state.Env[v.Variable]
	pat, err := it.evalExpr(v.Pattern)
	if err != nil {
		return "", err
	}
	switch v.Kind {
	case ast.RemovePrefix:
		if strings.HasPrefix(val, pat) {
			return val[len(pat):], nil
		}
	case ast.RemoveLongestPrefix:
		if idx := strings.LastIndex(val, pat); idx >= 0 && strings.HasPrefix(val, pat) {
			return val[idx+len(pat):], nil
		}
	case ast.RemoveSuffix:
		if strings.HasSuffix(val, pat) {
			return val[:len(val)-len(pat)], nil
		}
	case ast.RemoveLongestSuffix:
		if strings.HasSuffix(val, pat) {
			return val[:strings.Index(val, pat)], nil
		}
	}
	return val, nil
}

func (it *Interp) expandGlob(pattern string) []string {
	var matches []string
	for p := range it.state.Filesystem {
		if ok, _ := path.Match(pattern, path.Base(p)); ok {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return []string{pattern}
	}
	return matches
}

func (it *Interp) evalArith(e ast.ArithExpr) (int64, error) {
	switch n := e.(type) {
	case ast.ArithNumber:
		return n.Value, nil
	case ast.ArithVar:
		v, err := strconv.ParseInt(it.state.Env[n.Name], 10, 64)
		if err != nil {
			return 0, nil
		}
		return v, nil
	case ast.ArithBinary:
		l, err := it.evalArith(n.Left)
		if err != nil {
			return 0, err
		}
		r, err := it.evalArith(n.Right)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case "+":
			return l + r, nil
		case "-":
			return l - r, nil
		case "*":
			return l * r, nil
		case "/":
			if r == 0 {
				return 0, &EvalError{Kind: BadArithmetic, Msg: "division by zero"}
			}
			return l / r, nil
		case "%":
			if r == 0 {
				return 0, &EvalError{Kind: BadArithmetic, Msg: "division by zero"}
			}
			return l % r, nil
		default:
			return 0, &EvalError{Kind: BadArithmetic, Msg: "unsupported operator " + n.Op}
		}
	case ast.ArithUnary:
		v, err := it.evalArith(n.Operand)
		if err != nil {
			return 0, err
		}
		if n.Op == "-" {
			return -v, nil
		}
		return v, nil
	case ast.ArithRaw:
		v, err := strconv.ParseInt(strings.TrimSpace(n.Text), 10, 64)
		if err != nil {
			return 0, &EvalError{Kind: BadArithmetic, Msg: "cannot evaluate raw expression " + n.Text}
		}
		return v, nil
	default:
		return 0, &EvalError{Kind: BadArithmetic, Msg: "unknown arithmetic node"}
	}
}
