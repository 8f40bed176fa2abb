// Package emitter renders a purified ast.File back into POSIX sh source.
// Every guarantee the purifier makes at the tree level (determinism,
// idempotence) is meaningless unless the text it prints is actually
// portable /bin/sh, so this package owns lowering `[[ ]]` to `[ ]`,
// unconditional quoting of expansions, and canonical redirection order.
package emitter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bashrs-dev/bashrs/internal/ast"
)

// Options controls cosmetic choices that don't affect semantics.
type Options struct {
	IndentWidth int // defaults to 4, per the bit-exact POSIX output contract
}

// Emit renders file as POSIX sh source text, including a leading shebang.
func Emit(file *ast.File, opts Options) (string, error) {
	if opts.IndentWidth == 0 {
		opts.IndentWidth = 4
	}
	e := &emitter{opts: opts}
	e.buf.WriteString("#!/bin/sh\n")
	if err := e.emitStmts(file.Stmts, 0); err != nil {
		return "", err
	}
	return e.buf.String(), nil
}

type emitter struct {
	buf  strings.Builder
	opts Options
}

func (e *emitter) indent(level int) string {
	return strings.Repeat(" ", level*e.opts.IndentWidth)
}

func (e *emitter) emitStmts(stmts []ast.Stmt, level int) error {
	for _, s := range stmts {
		if err := e.emitStmt(s, level); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) emitStmt(s ast.Stmt, level int) error {
	pad := e.indent(level)
	switch n := s.(type) {
	case *ast.Command:
		return e.emitCommand(n, level)
	case *ast.Assignment:
		e.buf.WriteString(pad)
		if n.Exported {
			e.buf.WriteString("export ")
		}
		val, err := e.exprText(n.Value, false)
		if err != nil {
			return err
		}
		e.buf.WriteString(n.Name + "=" + val + "\n")
	case *ast.Pipeline:
		e.buf.WriteString(pad)
		parts := make([]string, len(n.Commands))
		for i, c := range n.Commands {
			s, err := e.inlineStmt(c)
			if err != nil {
				return err
			}
			parts[i] = s
		}
		e.buf.WriteString(strings.Join(parts, " | ") + "\n")
	case *ast.List:
		e.buf.WriteString(pad)
		left, err := e.inlineStmt(n.Left)
		if err != nil {
			return err
		}
		right, err := e.inlineStmt(n.Right)
		if err != nil {
			return err
		}
		switch n.Op {
		case ast.OpAnd:
			e.buf.WriteString(left + " && " + right + "\n")
		case ast.OpOr:
			e.buf.WriteString(left + " || " + right + "\n")
		default:
			e.buf.WriteString(left + "; " + right + "\n")
		}
	case *ast.Negated:
		e.buf.WriteString(pad + "! ")
		inner, err := e.inlineStmt(n.Command)
		if err != nil {
			return err
		}
		e.buf.WriteString(inner + "\n")
	case *ast.If:
		return e.emitIf(n, level)
	case *ast.While:
		kw := "while"
		if n.Until {
			kw = "until"
		}
		cond, err := e.inlineStmt(n.Cond.Body)
		if err != nil {
			return err
		}
		e.buf.WriteString(pad + kw + " " + condPrefix(n.Cond) + cond + "; do\n")
		if err := e.emitStmts(n.Body, level+1); err != nil {
			return err
		}
		e.buf.WriteString(pad + "done\n")
	case *ast.For:
		words := make([]string, len(n.Iter))
		for i, w := range n.Iter {
			t, err := e.exprText(w, false)
			if err != nil {
				return err
			}
			words[i] = t
		}
		e.buf.WriteString(pad + "for " + n.Var + " in " + strings.Join(words, " ") + "; do\n")
		if err := e.emitStmts(n.Body, level+1); err != nil {
			return err
		}
		e.buf.WriteString(pad + "done\n")
	case *ast.Case:
		scrut, err := e.exprText(n.Scrutinee, false)
		if err != nil {
			return err
		}
		e.buf.WriteString(pad + "case " + scrut + " in\n")
		for _, arm := range n.Arms {
			pats := make([]string, len(arm.Patterns))
			for i, p := range arm.Patterns {
				t, err := e.exprText(p, false)
				if err != nil {
					return err
				}
				pats[i] = t
			}
			e.buf.WriteString(e.indent(level+1) + strings.Join(pats, "|") + ")\n")
			if err := e.emitStmts(arm.Body, level+2); err != nil {
				return err
			}
			e.buf.WriteString(e.indent(level+2) + ";;\n")
		}
		e.buf.WriteString(pad + "esac\n")
	case *ast.Function:
		e.buf.WriteString(pad + n.Name + "() {\n")
		if err := e.emitStmts(n.Body, level+1); err != nil {
			return err
		}
		e.buf.WriteString(pad + "}\n")
	case *ast.Subshell:
		e.buf.WriteString(pad + "(\n")
		if err := e.emitStmts(n.Body, level+1); err != nil {
			return err
		}
		e.buf.WriteString(pad + ")\n")
	case *ast.BraceGroup:
		e.buf.WriteString(pad + "{\n")
		if err := e.emitStmts(n.Body, level+1); err != nil {
			return err
		}
		e.buf.WriteString(pad + "}\n")
	case *ast.Return:
		e.buf.WriteString(pad + "return")
		if n.Code != nil {
			t, err := e.exprText(n.Code, false)
			if err != nil {
				return err
			}
			e.buf.WriteString(" " + t)
		}
		e.buf.WriteString("\n")
	case *ast.Break:
		e.buf.WriteString(pad + "break\n")
	case *ast.Continue:
		e.buf.WriteString(pad + "continue\n")
	case *ast.Comment:
		// Text holds everything after the '#' verbatim, so printing
		// "#"+Text reproduces the source comment byte for byte.
		e.buf.WriteString(pad + "#" + n.Text + "\n")
	case *ast.Empty:
		// nothing to print
	default:
		return fmt.Errorf("emitter: unhandled statement type %T", s)
	}
	return nil
}

func condPrefix(c ast.ConditionHead) string {
	if c.Negated {
		return "! "
	}
	return ""
}

func (e *emitter) emitIf(n *ast.If, level int) error {
	pad := e.indent(level)
	cond, err := e.inlineStmt(n.Cond.Body)
	if err != nil {
		return err
	}
	e.buf.WriteString(pad + "if " + condPrefix(n.Cond) + cond + "; then\n")
	if err := e.emitStmts(n.Then, level+1); err != nil {
		return err
	}
	for _, elif := range n.ElifBranches {
		c, err := e.inlineStmt(elif.Cond.Body)
		if err != nil {
			return err
		}
		e.buf.WriteString(pad + "elif " + condPrefix(elif.Cond) + c + "; then\n")
		if err := e.emitStmts(elif.Body, level+1); err != nil {
			return err
		}
	}
	if len(n.Else) > 0 {
		e.buf.WriteString(pad + "else\n")
		if err := e.emitStmts(n.Else, level+1); err != nil {
			return err
		}
	}
	e.buf.WriteString(pad + "fi\n")
	return nil
}

// emitCommand prints a simple command, lowering `[[ ]]` bracket tests to
// POSIX `[ ]` with -a/-o/! in place of &&/||/! and always quoting operands.
func (e *emitter) emitCommand(n *ast.Command, level int) error {
	pad := e.indent(level)
	if lit, ok := n.Name.(*ast.Literal); ok && (lit.Value == "[" || lit.Value == "[[") && n.Test != nil {
		body, err := e.testText(n.Test)
		if err != nil {
			return err
		}
		comment := ""
		if lit.Value == "[[" {
			comment = " # lowered from double-bracket test"
		}
		if hasRegexLowering(n.Test) {
			comment += " # regex match lowered to literal comparison"
		}
		e.buf.WriteString(pad + "[ " + body + " ]" + comment + "\n")
		return nil
	}
	inline, err := e.inlineCommand(n)
	if err != nil {
		return err
	}
	e.buf.WriteString(pad + inline + "\n")
	return nil
}

// inlineStmt renders a statement without a trailing newline, for use as
// the condition of if/while or one side of a pipeline/list.
func (e *emitter) inlineStmt(s ast.Stmt) (string, error) {
	switch n := s.(type) {
	case *ast.Command:
		if lit, ok := n.Name.(*ast.Literal); ok && (lit.Value == "[" || lit.Value == "[[") && n.Test != nil {
			body, err := e.testText(n.Test)
			if err != nil {
				return "", err
			}
			return "[ " + body + " ]", nil
		}
		return e.inlineCommand(n)
	case *ast.Pipeline:
		parts := make([]string, len(n.Commands))
		for i, c := range n.Commands {
			s, err := e.inlineStmt(c)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, " | "), nil
	case *ast.Negated:
		inner, err := e.inlineStmt(n.Command)
		if err != nil {
			return "", err
		}
		return "! " + inner, nil
	case *ast.Subshell:
		var inner emitter
		inner.opts = e.opts
		if err := inner.emitStmts(n.Body, 0); err != nil {
			return "", err
		}
		return "( " + strings.TrimRight(strings.ReplaceAll(inner.buf.String(), "\n", "; "), "; ") + "; )", nil
	case *ast.BraceGroup:
		var inner emitter
		inner.opts = e.opts
		if err := inner.emitStmts(n.Body, 0); err != nil {
			return "", err
		}
		return "{ " + strings.TrimRight(strings.ReplaceAll(inner.buf.String(), "\n", "; "), "; ") + "; }", nil
	default:
		return "", fmt.Errorf("emitter: statement of type %T cannot be inlined", s)
	}
}

func (e *emitter) inlineCommand(n *ast.Command) (string, error) {
	name, err := e.exprText(n.Name, false)
	if err != nil {
		return "", err
	}
	parts := []string{name}
	for _, a := range n.Args {
		t, err := e.exprText(a, false)
		if err != nil {
			return "", err
		}
		parts = append(parts, t)
	}
	for _, r := range orderRedirects(n.Redirects) {
		t, err := e.redirectText(r)
		if err != nil {
			return "", err
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " "), nil
}

// orderRedirects puts a command's redirections in the canonical emission
// order: input, output/append, error, combined, duplicates. The sort is
// stable so two redirects of the same kind keep their source order.
func orderRedirects(rs []ast.Redirect) []ast.Redirect {
	if len(rs) < 2 {
		return rs
	}
	out := make([]ast.Redirect, len(rs))
	copy(out, rs)
	sort.SliceStable(out, func(i, j int) bool {
		return redirRank(out[i].Kind) < redirRank(out[j].Kind)
	})
	return out
}

func redirRank(k ast.RedirectKind) int {
	switch k {
	case ast.RedirInput:
		return 0
	case ast.RedirOutput, ast.RedirAppendOut:
		return 1
	case ast.RedirError:
		return 2
	case ast.RedirCombined:
		return 3
	default:
		return 4
	}
}

// hasRegexLowering walks a test tree looking for an equality that began
// life as a `=~` regex match.
func hasRegexLowering(t ast.TestExpr) bool {
	switch n := t.(type) {
	case ast.StringEq:
		return n.FromRegex
	case ast.And:
		return hasRegexLowering(n.Left) || hasRegexLowering(n.Right)
	case ast.Or:
		return hasRegexLowering(n.Left) || hasRegexLowering(n.Right)
	case ast.Not:
		return hasRegexLowering(n.Operand)
	default:
		return false
	}
}

func (e *emitter) redirectText(r ast.Redirect) (string, error) {
	if r.Kind == ast.RedirDuplicate {
		return fmt.Sprintf("%d>&%d", r.FromFD, r.ToFD), nil
	}
	target, err := e.exprText(r.Target, false)
	if err != nil {
		return "", err
	}
	switch r.Kind {
	case ast.RedirOutput:
		return "> " + target, nil
	case ast.RedirAppendOut:
		return ">> " + target, nil
	case ast.RedirInput:
		return "< " + target, nil
	case ast.RedirError:
		return "2> " + target, nil
	case ast.RedirCombined:
		return "> " + target + " 2>&1", nil
	default:
		return fmt.Sprintf("%d>&%d", r.FromFD, r.ToFD), nil
	}
}

// exprText renders an expression as it should appear in a word position.
// Literals that are plain identifiers/numbers are left bare; everything
// that expands at runtime (variables and their ${...} forms, arithmetic,
// command substitution) is unconditionally double-quoted, satisfying the
// no-unquoted-expansion guarantee without needing purifier-side rewrites.
func (e *emitter) exprText(expr ast.Expr, forceQuote bool) (string, error) {
	switch v := expr.(type) {
	case *ast.Literal:
		return quoteLiteralIfNeeded(v.Value), nil
	case *ast.Glob:
		return v.Pattern, nil
	case *ast.Variable:
		return `"$` + wrapBrace(v.Name) + `"`, nil
	case *ast.DefaultValue:
		d, err := e.embeddedText(v.Default)
		if err != nil {
			return "", err
		}
		return `"${` + v.Variable + ":-" + d + `}"`, nil
	case *ast.AssignDefault:
		d, err := e.embeddedText(v.Default)
		if err != nil {
			return "", err
		}
		return `"${` + v.Variable + ":=" + d + `}"`, nil
	case *ast.AlternativeValue:
		d, err := e.embeddedText(v.Alternative)
		if err != nil {
			return "", err
		}
		return `"${` + v.Variable + ":+" + d + `}"`, nil
	case *ast.ErrorIfUnset:
		d, err := e.embeddedText(v.Message)
		if err != nil {
			return "", err
		}
		return `"${` + v.Variable + ":?" + d + `}"`, nil
	case *ast.StringLength:
		return `"${#` + v.Variable + `}"`, nil
	case *ast.PatternTrim:
		p, err := e.embeddedText(v.Pattern)
		if err != nil {
			return "", err
		}
		op := map[ast.PatternTrimKind]string{
			ast.RemovePrefix:        "#",
			ast.RemoveLongestPrefix: "##",
			ast.RemoveSuffix:        "%",
			ast.RemoveLongestSuffix: "%%",
		}[v.Kind]
		return `"${` + v.Variable + op + p + `}"`, nil
	case *ast.Arithmetic:
		return `"$((` + arithText(v.Expr) + `))"`, nil
	case *ast.CommandSubst:
		var inner emitter
		inner.opts = e.opts
		if err := inner.emitStmt(v.Body, 0); err != nil {
			return "", err
		}
		body := strings.TrimRight(inner.buf.String(), "\n")
		return `"$(` + body + `)"`, nil
	case *ast.Composite:
		var sb strings.Builder
		sb.WriteByte('"')
		for _, part := range v.Parts {
			if lit, ok := part.(*ast.Literal); ok {
				sb.WriteString(escapeInsideDoubleQuotes(lit.Value))
				continue
			}
			t, err := e.exprText(part, false)
			if err != nil {
				return "", err
			}
			sb.WriteString(unquote(t))
		}
		sb.WriteByte('"')
		return sb.String(), nil
	case *ast.Array:
		// POSIX sh has no arrays: the literal is lowered to one
		// space-joined word, quoted so it stays a single assignment value.
		parts := make([]string, len(v.Elements))
		allLit := true
		for i, el := range v.Elements {
			if lit, ok := el.(*ast.Literal); ok {
				parts[i] = lit.Value
				continue
			}
			allLit = false
			t, err := e.exprText(el, false)
			if err != nil {
				return "", err
			}
			parts[i] = unquote(t)
		}
		joined := strings.Join(parts, " ")
		if allLit {
			return quoteLiteralIfNeeded(joined), nil
		}
		return `"` + joined + `"`, nil
	default:
		return "", fmt.Errorf("emitter: unhandled expression type %T", expr)
	}
}

func wrapBrace(name string) string {
	if len(name) == 1 && !isAlnumOrUnderscore(name[0]) {
		return name
	}
	return name
}

func isAlnumOrUnderscore(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// escapeInsideDoubleQuotes backslash-escapes the characters that remain
// special inside a POSIX double-quoted string: \, ", `, and $.
func escapeInsideDoubleQuotes(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '"', '`', '$':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// embeddedText renders the pattern/default half of a ${...} operator
// form. The enclosing expansion is already inside double quotes, so a
// literal is written verbatim rather than re-quoted, and a live
// sub-expression is stripped of its own outer quotes.
func (e *emitter) embeddedText(expr ast.Expr) (string, error) {
	if lit, ok := expr.(*ast.Literal); ok {
		return lit.Value, nil
	}
	t, err := e.exprText(expr, false)
	if err != nil {
		return "", err
	}
	return unquote(t), nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// quoteLiteralIfNeeded single-quotes a literal if it contains characters
// the POSIX shell would otherwise treat specially.
func quoteLiteralIfNeeded(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"$`\\|&;<>()*?[]{}~#") {
		return s
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func arithText(e ast.ArithExpr) string {
	switch n := e.(type) {
	case ast.ArithNumber:
		return fmt.Sprintf("%d", n.Value)
	case ast.ArithVar:
		return n.Name
	case ast.ArithBinary:
		return arithText(n.Left) + " " + n.Op + " " + arithText(n.Right)
	case ast.ArithUnary:
		return n.Op + arithText(n.Operand)
	case ast.ArithRaw:
		return n.Text
	default:
		return ""
	}
}

// testText lowers a TestExpr tree to the POSIX `[ ]` operator set: && / ||
// become -a / -o, and comparisons keep their shared POSIX spelling.
func (e *emitter) testText(t ast.TestExpr) (string, error) {
	switch n := t.(type) {
	case ast.And:
		l, err := e.testText(n.Left)
		if err != nil {
			return "", err
		}
		r, err := e.testText(n.Right)
		if err != nil {
			return "", err
		}
		return l + " -a " + r, nil
	case ast.Or:
		l, err := e.testText(n.Left)
		if err != nil {
			return "", err
		}
		r, err := e.testText(n.Right)
		if err != nil {
			return "", err
		}
		return l + " -o " + r, nil
	case ast.Not:
		inner, err := e.testText(n.Operand)
		if err != nil {
			return "", err
		}
		return "! " + inner, nil
	case ast.StringEq:
		l, r, err := e.pair(n.Left, n.Right)
		if err != nil {
			return "", err
		}
		return l + " = " + r, nil
	case ast.StringNe:
		l, r, err := e.pair(n.Left, n.Right)
		if err != nil {
			return "", err
		}
		return l + " != " + r, nil
	case ast.StringLt:
		l, r, err := e.pair(n.Left, n.Right)
		if err != nil {
			return "", err
		}
		return l + " \\< " + r, nil
	case ast.StringGt:
		l, r, err := e.pair(n.Left, n.Right)
		if err != nil {
			return "", err
		}
		return l + " \\> " + r, nil
	case ast.StringEmpty:
		o, err := e.exprText(n.Operand, false)
		if err != nil {
			return "", err
		}
		return "-z " + o, nil
	case ast.StringNonEmpty:
		o, err := e.exprText(n.Operand, false)
		if err != nil {
			return "", err
		}
		return "-n " + o, nil
	case ast.IntEq:
		return e.intCompare(n.Left, n.Right, "-eq")
	case ast.IntNe:
		return e.intCompare(n.Left, n.Right, "-ne")
	case ast.IntLt:
		return e.intCompare(n.Left, n.Right, "-lt")
	case ast.IntLe:
		return e.intCompare(n.Left, n.Right, "-le")
	case ast.IntGt:
		return e.intCompare(n.Left, n.Right, "-gt")
	case ast.IntGe:
		return e.intCompare(n.Left, n.Right, "-ge")
	case ast.FilePredicate:
		o, err := e.exprText(n.Operand, false)
		if err != nil {
			return "", err
		}
		return filePredicateFlag(n.Kind) + " " + o, nil
	default:
		return "", fmt.Errorf("emitter: unhandled test expression type %T", t)
	}
}

func (e *emitter) pair(l, r ast.Expr) (string, string, error) {
	lt, err := e.exprText(l, false)
	if err != nil {
		return "", "", err
	}
	rt, err := e.exprText(r, false)
	if err != nil {
		return "", "", err
	}
	return lt, rt, nil
}

func (e *emitter) intCompare(l, r ast.Expr, op string) (string, error) {
	lt, rt, err := e.pair(l, r)
	if err != nil {
		return "", err
	}
	return lt + " " + op + " " + rt, nil
}

func filePredicateFlag(k ast.FilePredicateKind) string {
	switch k {
	case ast.FileExists:
		return "-e"
	case ast.FileDirectory:
		return "-d"
	case ast.FileReadable:
		return "-r"
	case ast.FileWritable:
		return "-w"
	case ast.FileExecutable:
		return "-x"
	case ast.FileRegular:
		return "-f"
	case ast.FileNonEmpty:
		return "-s"
	case ast.FileSymlink:
		return "-L"
	case ast.FileNamedPipe:
		return "-p"
	case ast.FileBlockDevice:
		return "-b"
	case ast.FileCharDevice:
		return "-c"
	case ast.FileSetGID:
		return "-g"
	case ast.FileSticky:
		return "-k"
	case ast.FileSetUID:
		return "-u"
	case ast.FileTerminal:
		return "-t"
	case ast.FileOwnedByUser:
		return "-O"
	case ast.FileOwnedByGroup:
		return "-G"
	case ast.FileNewerThanMod:
		return "-N"
	case ast.FileIsVarSet:
		return "-v"
	default:
		return "-e"
	}
}
