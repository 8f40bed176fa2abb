// Package parser turns a token stream from internal/lexer into the typed
// tree defined by internal/ast, using recursive descent with a small
// precedence table for && / || chaining and test expressions.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bashrs-dev/bashrs/internal/ast"
	"github.com/bashrs-dev/bashrs/internal/lexer"
	"github.com/bashrs-dev/bashrs/internal/token"
)

// ErrorKind classifies a parse failure.
type ErrorKind int

const (
	Expected ErrorKind = iota
	UnexpectedEof
	MalformedExpansion
)

func (k ErrorKind) String() string {
	switch k {
	case Expected:
		return "Expected"
	case UnexpectedEof:
		return "UnexpectedEof"
	case MalformedExpansion:
		return "MalformedExpansion"
	default:
		return "Unknown"
	}
}

// Error is the parser's single error type; What/Found are empty when not
// applicable to Kind.
type Error struct {
	Kind  ErrorKind
	What  string
	Found string
	Span  token.Span
}

func (e *Error) Error() string {
	switch e.Kind {
	case Expected:
		return fmt.Sprintf("%s: expected %s, found %s", e.Span, e.What, e.Found)
	case UnexpectedEof:
		return fmt.Sprintf("%s: unexpected end of input, expected %s", e.Span, e.What)
	case MalformedExpansion:
		return fmt.Sprintf("%s: malformed expansion: %s", e.Span, e.What)
	default:
		return fmt.Sprintf("%s: parse error", e.Span)
	}
}

// Parse lexes and parses a complete script.
func Parse(source []byte) (*ast.File, error) {
	toks, err := lexer.Lex(source)
	if err != nil {
		return nil, err
	}
	return ParseTokens(toks)
}

// ParseTokens parses an already-lexed token stream.
func ParseTokens(toks []token.Token) (*ast.File, error) {
	p := &parser{toks: toks}
	stmts, err := p.parseStmtList(token.EOF)
	if err != nil {
		return nil, err
	}
	return &ast.File{Stmts: stmts}, nil
}

type parser struct {
	toks []token.Token
	pos  int
}

func (p *parser) cur() token.Token {
	if p.pos >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}
	return p.toks[p.pos]
}

func (p *parser) peekKind() token.Kind { return p.cur().Kind }

func (p *parser) advance() token.Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) at(k token.Kind) bool { return p.peekKind() == k }

func (p *parser) expect(k token.Kind) (token.Token, error) {
	if !p.at(k) {
		return token.Token{}, p.errExpected(k.String())
	}
	return p.advance(), nil
}

func (p *parser) errExpected(what string) error {
	cur := p.cur()
	if cur.Kind == token.EOF {
		return &Error{Kind: UnexpectedEof, What: what, Span: cur.Span}
	}
	return &Error{Kind: Expected, What: what, Found: cur.Kind.String(), Span: cur.Span}
}

func (p *parser) skipSeparators() {
	for p.at(token.Newline) || p.at(token.Semicolon) {
		p.advance()
	}
}

// parseStmtList consumes statements until it sees until or EOF.
func (p *parser) parseStmtList(until token.Kind) ([]ast.Stmt, error) {
	var out []ast.Stmt
	p.skipSeparators()
	for !p.at(until) && !p.at(token.EOF) {
		s, err := p.parseAndOr()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if !p.at(token.Newline) && !p.at(token.Semicolon) && !p.at(until) && !p.at(token.EOF) {
			return nil, p.errExpected("';', newline, or " + until.String())
		}
		p.skipSeparators()
	}
	return out, nil
}

// parseAndOr parses `pipeline (&&|\|\|) pipeline ...` left-associatively.
func (p *parser) parseAndOr() (ast.Stmt, error) {
	left, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	for p.at(token.AndAnd) || p.at(token.OrOr) {
		opTok := p.advance()
		op := ast.OpAnd
		if opTok.Kind == token.OrOr {
			op = ast.OpOr
		}
		p.skipSeparators()
		right, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		left = &ast.List{Left: left, Right: right, Op: op, SpanVal: token.Join(left.Span(), right.Span())}
	}
	return left, nil
}

// parsePipeline parses `cmd | cmd | cmd`, optionally prefixed by `!`.
func (p *parser) parsePipeline() (ast.Stmt, error) {
	negated := false
	start := p.cur().Span
	if p.at(token.Bang) {
		p.advance()
		negated = true
	}
	first, err := p.parseSimpleOrCompound()
	if err != nil {
		return nil, err
	}
	cmds := []ast.Stmt{first}
	for p.at(token.Pipe) {
		p.advance()
		p.skipSeparators()
		next, err := p.parseSimpleOrCompound()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, next)
	}
	var out ast.Stmt
	if len(cmds) == 1 {
		out = cmds[0]
	} else {
		out = &ast.Pipeline{Commands: cmds, SpanVal: token.Join(start, cmds[len(cmds)-1].Span())}
	}
	if negated {
		out = &ast.Negated{Command: out, SpanVal: token.Join(start, out.Span())}
	}
	return out, nil
}

// parseSimpleOrCompound dispatches on the current token to the right
// statement parser: compound (if/while/for/case/function/subshell/brace
// group) or a simple command/assignment.
func (p *parser) parseSimpleOrCompound() (ast.Stmt, error) {
	switch p.peekKind() {
	case token.KwIf:
		return p.parseIf()
	case token.KwWhile:
		return p.parseWhileUntil(false)
	case token.KwUntil:
		return p.parseWhileUntil(true)
	case token.KwFor:
		return p.parseFor()
	case token.KwCase:
		return p.parseCase()
	case token.KwFunction:
		return p.parseFunction()
	case token.LBrace:
		return p.parseBraceGroup()
	case token.LParen:
		return p.parseSubshell()
	case token.LBracket:
		return p.parseBracketCommand(false)
	case token.DLBracket:
		return p.parseBracketCommand(true)
	case token.KwReturn:
		return p.parseReturn()
	case token.KwBreak:
		t := p.advance()
		return &ast.Break{SpanVal: t.Span}, nil
	case token.KwContinue:
		t := p.advance()
		return &ast.Continue{SpanVal: t.Span}, nil
	case token.Comment:
		t := p.advance()
		return &ast.Comment{Text: t.Text, SpanVal: t.Span}, nil
	default:
		if p.at(token.Identifier) && p.pos+2 < len(p.toks) && p.toks[p.pos+1].Kind == token.LParen && p.toks[p.pos+2].Kind == token.RParen {
			// POSIX `name() { ... }` definition
			return p.parseFunction()
		}
		return p.parseSimpleCommand()
	}
}

func (p *parser) parseConditionHead() (ast.ConditionHead, error) {
	negated := false
	if p.at(token.Bang) {
		p.advance()
		negated = true
	}
	body, err := p.parseAndOr()
	if err != nil {
		return ast.ConditionHead{}, err
	}
	return ast.ConditionHead{Negated: negated, Body: body}, nil
}

func (p *parser) parseIf() (ast.Stmt, error) {
	start := p.advance().Span // consume 'if'
	cond, err := p.parseConditionHead()
	if err != nil {
		return nil, err
	}
	p.skipSeparators()
	if _, err := p.expect(token.KwThen); err != nil {
		return nil, err
	}
	then, err := p.parseStmtListUntilAny(token.KwElif, token.KwElse, token.KwFi)
	if err != nil {
		return nil, err
	}

	var elifs []ast.ElifBranch
	for p.at(token.KwElif) {
		p.advance()
		c, err := p.parseConditionHead()
		if err != nil {
			return nil, err
		}
		p.skipSeparators()
		if _, err := p.expect(token.KwThen); err != nil {
			return nil, err
		}
		body, err := p.parseStmtListUntilAny(token.KwElif, token.KwElse, token.KwFi)
		if err != nil {
			return nil, err
		}
		elifs = append(elifs, ast.ElifBranch{Cond: c, Body: body})
	}

	var elseBody []ast.Stmt
	if p.at(token.KwElse) {
		p.advance()
		elseBody, err = p.parseStmtList(token.KwFi)
		if err != nil {
			return nil, err
		}
	}
	end, err := p.expect(token.KwFi)
	if err != nil {
		return nil, err
	}
	return &ast.If{Cond: cond, Then: then, ElifBranches: elifs, Else: elseBody, SpanVal: token.Join(start, end.Span)}, nil
}

func (p *parser) parseStmtListUntilAny(terms ...token.Kind) ([]ast.Stmt, error) {
	var out []ast.Stmt
	p.skipSeparators()
	for {
		done := false
		for _, t := range terms {
			if p.at(t) || p.at(token.EOF) {
				done = true
			}
		}
		if done {
			break
		}
		s, err := p.parseAndOr()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		p.skipSeparators()
	}
	return out, nil
}

func (p *parser) parseWhileUntil(isUntil bool) (ast.Stmt, error) {
	start := p.advance().Span // consume 'while'/'until'
	cond, err := p.parseConditionHead()
	if err != nil {
		return nil, err
	}
	p.skipSeparators()
	if _, err := p.expect(token.KwDo); err != nil {
		return nil, err
	}
	body, err := p.parseStmtList(token.KwDone)
	if err != nil {
		return nil, err
	}
	end, err := p.expect(token.KwDone)
	if err != nil {
		return nil, err
	}
	return &ast.While{Cond: cond, Body: body, Until: isUntil, SpanVal: token.Join(start, end.Span)}, nil
}

func (p *parser) parseFor() (ast.Stmt, error) {
	start := p.advance().Span // consume 'for'
	nameTok, err := p.expect(token.Identifier)
	if err != nil {
		return nil, err
	}
	var iter []ast.Expr
	if p.at(token.KwIn) {
		p.advance()
		for !p.at(token.Semicolon) && !p.at(token.Newline) && !p.at(token.KwDo) && !p.at(token.EOF) {
			e, err := p.wordToExpr(p.advance())
			if err != nil {
				return nil, err
			}
			iter = append(iter, e)
		}
	}
	p.skipSeparators()
	if _, err := p.expect(token.KwDo); err != nil {
		return nil, err
	}
	body, err := p.parseStmtList(token.KwDone)
	if err != nil {
		return nil, err
	}
	end, err := p.expect(token.KwDone)
	if err != nil {
		return nil, err
	}
	return &ast.For{Var: nameTok.Text, Iter: iter, Body: body, SpanVal: token.Join(start, end.Span)}, nil
}

func (p *parser) parseCase() (ast.Stmt, error) {
	start := p.advance().Span // consume 'case'
	scrutineeTok := p.advance()
	scrutinee, err := p.wordToExpr(scrutineeTok)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.KwIn); err != nil {
		return nil, err
	}
	p.skipSeparators()
	var arms []ast.CaseArm
	for !p.at(token.KwEsac) && !p.at(token.EOF) {
		var pats []ast.Expr
		for {
			t := p.advance()
			e, err := p.wordToExpr(t)
			if err != nil {
				return nil, err
			}
			pats = append(pats, e)
			if p.at(token.Pipe) {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		body, err := p.parseCaseBody()
		if err != nil {
			return nil, err
		}
		arms = append(arms, ast.CaseArm{Patterns: pats, Body: body})
		p.skipSeparators()
	}
	end, err := p.expect(token.KwEsac)
	if err != nil {
		return nil, err
	}
	return &ast.Case{Scrutinee: scrutinee, Arms: arms, SpanVal: token.Join(start, end.Span)}, nil
}

// parseCaseBody reads statements up to a `;;` terminator, which the lexer
// represents as two adjacent Semicolon tokens; esac also terminates the
// final arm when the author omits the trailing `;;`.
func (p *parser) parseCaseBody() ([]ast.Stmt, error) {
	var out []ast.Stmt
	p.skipSeparators()
	for !p.at(token.KwEsac) && !p.at(token.EOF) {
		if p.at(token.Semicolon) && p.pos+1 < len(p.toks) && p.toks[p.pos+1].Kind == token.Semicolon {
			p.advance()
			p.advance()
			return out, nil
		}
		s, err := p.parseAndOr()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if p.at(token.Semicolon) && p.pos+1 < len(p.toks) && p.toks[p.pos+1].Kind == token.Semicolon {
			p.advance()
			p.advance()
			return out, nil
		}
		p.skipSeparators()
	}
	return out, nil
}

func (p *parser) parseFunction() (ast.Stmt, error) {
	start := p.cur().Span
	if p.at(token.KwFunction) {
		p.advance() // consume 'function'
	}
	nameTok, err := p.expect(token.Identifier)
	if err != nil {
		return nil, err
	}
	if p.at(token.LParen) {
		p.advance()
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
	}
	p.skipSeparators()
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	body, err := p.parseStmtList(token.RBrace)
	if err != nil {
		return nil, err
	}
	end, err := p.expect(token.RBrace)
	if err != nil {
		return nil, err
	}
	return &ast.Function{Name: nameTok.Text, Body: body, SpanVal: token.Join(start, end.Span)}, nil
}

func (p *parser) parseBraceGroup() (ast.Stmt, error) {
	start := p.advance().Span // consume '{'
	body, err := p.parseStmtList(token.RBrace)
	if err != nil {
		return nil, err
	}
	end, err := p.expect(token.RBrace)
	if err != nil {
		return nil, err
	}
	return &ast.BraceGroup{Body: body, SpanVal: token.Join(start, end.Span)}, nil
}

func (p *parser) parseSubshell() (ast.Stmt, error) {
	start := p.advance().Span // consume '('
	body, err := p.parseStmtList(token.RParen)
	if err != nil {
		return nil, err
	}
	end, err := p.expect(token.RParen)
	if err != nil {
		return nil, err
	}
	return &ast.Subshell{Body: body, SpanVal: token.Join(start, end.Span)}, nil
}

func (p *parser) parseReturn() (ast.Stmt, error) {
	start := p.advance().Span // consume 'return'
	var code ast.Expr
	if p.at(token.Number) || p.at(token.Identifier) || p.at(token.Variable) {
		t := p.advance()
		e, err := p.wordToExpr(t)
		if err != nil {
			return nil, err
		}
		code = e
	}
	sp := start
	if code != nil {
		sp = token.Join(start, code.Span())
	}
	return &ast.Return{Code: code, SpanVal: sp}, nil
}

// parseSimpleCommand parses a name=value assignment (possibly several, as
// leading env-var prefixes on a command) or a plain Command with args and
// redirections.
func (p *parser) parseSimpleCommand() (ast.Stmt, error) {
	start := p.cur().Span
	exported := false
	local := false
	if p.at(token.KwExport) {
		p.advance()
		exported = true
	} else if p.at(token.KwLocal) {
		p.advance()
		local = true
	}

	if p.at(token.Identifier) && p.pos+1 < len(p.toks) && p.toks[p.pos+1].Kind == token.Assign {
		nameTok := p.advance()
		p.advance() // '='
		var valueExpr ast.Expr
		if p.at(token.LParen) {
			v, err := p.parseArrayLiteral()
			if err != nil {
				return nil, err
			}
			valueExpr = v
		} else if !p.atWordBoundaryEnd() {
			t := p.advance()
			v, err := p.wordToExpr(t)
			if err != nil {
				return nil, err
			}
			valueExpr = v
		} else {
			valueExpr = &ast.Literal{Value: "", SpanVal: p.cur().Span}
		}
		return &ast.Assignment{
			Name:     nameTok.Text,
			Value:    valueExpr,
			Exported: exported,
			Local:    local,
			SpanVal:  token.Join(start, valueExpr.Span()),
		}, nil
	}

	if exported || local {
		// `export NAME` / `local NAME` with no '=': treated as an
		// assignment of the variable's current (empty, for our purposes)
		// value, matching the declaration-without-initializer form.
		nameTok, err := p.expect(token.Identifier)
		if err != nil {
			return nil, err
		}
		return &ast.Assignment{
			Name:     nameTok.Text,
			Value:    &ast.Literal{Value: "", SpanVal: nameTok.Span},
			Exported: exported,
			Local:    local,
			SpanVal:  token.Join(start, nameTok.Span),
		}, nil
	}

	nameTok := p.advance()
	name, err := p.wordToExpr(nameTok)
	if err != nil {
		return nil, err
	}
	cmd := &ast.Command{Name: name, SpanVal: name.Span()}

	for {
		if p.fdRedirectAhead() {
			r, err := p.parseRedirect()
			if err != nil {
				return nil, err
			}
			cmd.Redirects = append(cmd.Redirects, r)
			continue
		}
		switch p.peekKind() {
		case token.RedirOut, token.RedirAppend, token.RedirIn, token.RedirHeredoc, token.RedirHeredocStrip, token.RedirCombined:
			r, err := p.parseRedirect()
			if err != nil {
				return nil, err
			}
			cmd.Redirects = append(cmd.Redirects, r)
		case token.Identifier, token.String, token.Number, token.Variable, token.ArithmeticExpansion, token.CommandSubstitution:
			t := p.advance()
			if token.IsKeyword(t.Kind) {
				// demoted keyword used as a plain argument
			}
			e, err := p.wordToExpr(t)
			if err != nil {
				return nil, err
			}
			cmd.Args = append(cmd.Args, e)
		default:
			if token.IsKeyword(p.peekKind()) {
				t := p.advance()
				cmd.Args = append(cmd.Args, &ast.Literal{Value: t.Text, SpanVal: t.Span})
				continue
			}
			goto done
		}
	}
done:
	cmd.SpanVal = token.Join(name.Span(), p.lastSpan(cmd))
	return cmd, nil
}

func (p *parser) lastSpan(cmd *ast.Command) token.Span {
	sp := cmd.Name.Span()
	for _, a := range cmd.Args {
		sp = token.Join(sp, a.Span())
	}
	for _, r := range cmd.Redirects {
		sp = token.Join(sp, r.Span())
	}
	return sp
}

func (p *parser) atWordBoundaryEnd() bool {
	switch p.peekKind() {
	case token.Semicolon, token.Newline, token.EOF, token.Pipe, token.AndAnd, token.OrOr, token.Amp:
		return true
	default:
		return false
	}
}

// parseArrayLiteral parses an `(v1 v2 ...)` assignment value. The sparse
// `[i]=v` form is flattened into a literal element preserving its textual
// shape; the machine and emitter treat an array as its space-joined
// elements.
func (p *parser) parseArrayLiteral() (ast.Expr, error) {
	open, err := p.expect(token.LParen)
	if err != nil {
		return nil, err
	}
	arr := &ast.Array{SpanVal: open.Span}
	for !p.at(token.RParen) && !p.at(token.EOF) {
		if p.at(token.Newline) {
			p.advance()
			continue
		}
		if p.at(token.LBracket) {
			// sparse element: [index]=value flattened to a literal
			start := p.advance().Span
			idxTok := p.advance()
			if _, err := p.expect(token.RBracket); err != nil {
				return nil, err
			}
			if _, err := p.expect(token.Assign); err != nil {
				return nil, err
			}
			valTok := p.advance()
			arr.Elements = append(arr.Elements, &ast.Literal{
				Value:   "[" + idxTok.Text + "]=" + valTok.Text,
				SpanVal: token.Join(start, valTok.Span),
			})
			continue
		}
		t := p.advance()
		e, err := p.wordToExpr(t)
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, e)
	}
	end, err := p.expect(token.RParen)
	if err != nil {
		return nil, err
	}
	arr.SpanVal = token.Join(open.Span, end.Span)
	return arr, nil
}

// fdRedirectAhead reports whether the current token is a bare file
// descriptor number glued directly onto a redirection operator, as in
// `2>err` or `1>&2`: a digit separated from the operator by whitespace is
// an ordinary argument instead.
func (p *parser) fdRedirectAhead() bool {
	if p.peekKind() != token.Number || p.pos+1 >= len(p.toks) {
		return false
	}
	num := p.toks[p.pos]
	op := p.toks[p.pos+1]
	switch op.Kind {
	case token.RedirOut, token.RedirAppend:
	default:
		return false
	}
	return num.Span.EndLine == op.Span.StartLine && num.Span.EndCol == op.Span.StartCol
}

func (p *parser) parseRedirect() (ast.Redirect, error) {
	fd := -1
	start := p.cur().Span
	if p.fdRedirectAhead() {
		fd = int(p.advance().Number)
	}
	opTok := p.advance()

	// N>&M / >&M duplicate one descriptor onto another and carry no
	// target word at all.
	if opTok.Kind == token.RedirOut && opTok.Text == ">&" && p.peekKind() == token.Number {
		toTok := p.advance()
		fromFD := 1
		if fd >= 0 {
			fromFD = fd
		}
		return ast.Redirect{
			Kind:    ast.RedirDuplicate,
			FromFD:  fromFD,
			ToFD:    int(toTok.Number),
			SpanVal: token.Join(start, toTok.Span),
		}, nil
	}

	kind := ast.RedirOutput
	fromFD := 1
	switch opTok.Kind {
	case token.RedirOut:
		kind, fromFD = ast.RedirOutput, 1
		if opTok.Text == ">&" {
			// csh-style >&file: both streams to the target
			kind = ast.RedirCombined
		}
	case token.RedirAppend:
		kind, fromFD = ast.RedirAppendOut, 1
	case token.RedirCombined:
		kind, fromFD = ast.RedirCombined, 1
	case token.RedirIn:
		kind, fromFD = ast.RedirInput, 0
	case token.RedirHeredoc, token.RedirHeredocStrip:
		kind, fromFD = ast.RedirInput, 0
	}
	if fd >= 0 {
		fromFD = fd
		if kind == ast.RedirOutput && fd == 2 {
			kind = ast.RedirError
		}
	}
	targetTok := p.advance()
	var target ast.Expr
	if targetTok.Kind == token.Heredoc {
		target = &ast.Literal{Value: targetTok.HeredocBody, SpanVal: targetTok.Span}
	} else {
		e, err := p.wordToExpr(targetTok)
		if err != nil {
			return ast.Redirect{}, err
		}
		target = e
	}
	return ast.Redirect{Kind: kind, Target: target, FromFD: fromFD, SpanVal: token.Join(start, target.Span())}, nil
}

// wordToExpr converts a single lexed word token into its Expr form. Per
// design, a word always yields exactly one Expr node: composite words
// that mix literal text with expansions are captured by the lexer as a
// single token and surface here as a Literal.
func (p *parser) wordToExpr(t token.Token) (ast.Expr, error) {
	switch t.Kind {
	case token.Identifier:
		if strings.ContainsAny(t.Text, "*?[") {
			return &ast.Glob{Pattern: t.Text, SpanVal: t.Span}, nil
		}
		return &ast.Literal{Value: t.Text, SpanVal: t.Span}, nil
	case token.String:
		if t.DoubleQuoted {
			return p.parseQuotedText(t)
		}
		return &ast.Literal{Value: t.Text, SpanVal: t.Span}, nil
	case token.Number:
		return &ast.Literal{Value: strconv.FormatInt(t.Number, 10), SpanVal: t.Span}, nil
	case token.Variable:
		if t.Braced {
			return p.parseBracedVariable(t)
		}
		return &ast.Variable{Name: t.Text, SpanVal: t.Span}, nil
	case token.ArithmeticExpansion:
		return &ast.Arithmetic{Expr: parseArith(t.Text), SpanVal: t.Span}, nil
	case token.CommandSubstitution:
		inner, err := Parse([]byte(t.Text))
		if err != nil {
			return nil, &Error{Kind: MalformedExpansion, What: err.Error(), Span: t.Span}
		}
		body := stmtListToStmt(inner.Stmts, t.Span)
		return &ast.CommandSubst{Body: body, SpanVal: t.Span}, nil
	default:
		if token.IsKeyword(t.Kind) {
			return &ast.Literal{Value: t.Text, SpanVal: t.Span}, nil
		}
		return &ast.Literal{Value: t.Text, SpanVal: t.Span}, nil
	}
}

func stmtListToStmt(stmts []ast.Stmt, fallback token.Span) ast.Stmt {
	if len(stmts) == 0 {
		return &ast.Empty{SpanVal: fallback}
	}
	out := stmts[0]
	for _, s := range stmts[1:] {
		out = &ast.List{Left: out, Right: s, Op: ast.OpSeq, SpanVal: token.Join(out.Span(), s.Span())}
	}
	return out
}

// parseBracedVariable decodes the ${...} operator forms the lexer passes
// through verbatim as Text: length (#name), prefix/suffix trims
// (#/##/%/%%), and the four colon-operators (:-/:=/:+/:?).
func (p *parser) parseBracedVariable(t token.Token) (ast.Expr, error) {
	text := t.Text
	if strings.HasPrefix(text, "#") && len(text) > 1 {
		return &ast.StringLength{Variable: text[1:], SpanVal: t.Span}, nil
	}
	if strings.HasPrefix(text, "!") {
		// ${!name} indirect expansion is a bashism the emitter is
		// forbidden to ever see, so it is rejected at parse time.
		return nil, &Error{Kind: MalformedExpansion, What: fmt.Sprintf("indirect expansion ${%s} has no POSIX equivalent", text), Span: t.Span}
	}
	i := 0
	for i < len(text) && isNameByte(text[i]) {
		i++
	}
	name := text[:i]
	if name == "" {
		return nil, &Error{Kind: MalformedExpansion, What: "empty parameter name in ${...}", Span: t.Span}
	}
	rest := text[i:]
	// The pattern/default half is kept literal unless it carries a `$`
	// sigil, in which case it is re-scanned the same way a double-quoted
	// body is, so `${TIMESTAMP:-$(date +%s)}` round-trips as a live
	// substitution rather than decaying into quoted text.
	sub := func(s string) (ast.Expr, error) {
		if !strings.ContainsRune(s, '$') {
			return &ast.Literal{Value: s, SpanVal: t.Span}, nil
		}
		e, err := p.parseQuotedText(token.Token{Kind: token.String, Text: s, Span: t.Span, DoubleQuoted: true})
		if err != nil {
			return nil, err
		}
		if c, ok := e.(*ast.Composite); ok && len(c.Parts) == 1 {
			return c.Parts[0], nil
		}
		return e, nil
	}
	build := func(s string, mk func(ast.Expr) ast.Expr) (ast.Expr, error) {
		inner, err := sub(s)
		if err != nil {
			return nil, err
		}
		return mk(inner), nil
	}
	switch {
	case rest == "":
		return &ast.Variable{Name: name, SpanVal: t.Span}, nil
	case strings.HasPrefix(rest, ":-"):
		return build(rest[2:], func(e ast.Expr) ast.Expr {
			return &ast.DefaultValue{Variable: name, Default: e, SpanVal: t.Span}
		})
	case strings.HasPrefix(rest, ":="):
		return build(rest[2:], func(e ast.Expr) ast.Expr {
			return &ast.AssignDefault{Variable: name, Default: e, SpanVal: t.Span}
		})
	case strings.HasPrefix(rest, ":+"):
		return build(rest[2:], func(e ast.Expr) ast.Expr {
			return &ast.AlternativeValue{Variable: name, Alternative: e, SpanVal: t.Span}
		})
	case strings.HasPrefix(rest, ":?"):
		return build(rest[2:], func(e ast.Expr) ast.Expr {
			return &ast.ErrorIfUnset{Variable: name, Message: e, SpanVal: t.Span}
		})
	case strings.HasPrefix(rest, "##"):
		return build(rest[2:], func(e ast.Expr) ast.Expr {
			return &ast.PatternTrim{Kind: ast.RemoveLongestPrefix, Variable: name, Pattern: e, SpanVal: t.Span}
		})
	case strings.HasPrefix(rest, "#"):
		return build(rest[1:], func(e ast.Expr) ast.Expr {
			return &ast.PatternTrim{Kind: ast.RemovePrefix, Variable: name, Pattern: e, SpanVal: t.Span}
		})
	case strings.HasPrefix(rest, "%%"):
		return build(rest[2:], func(e ast.Expr) ast.Expr {
			return &ast.PatternTrim{Kind: ast.RemoveLongestSuffix, Variable: name, Pattern: e, SpanVal: t.Span}
		})
	case strings.HasPrefix(rest, "%"):
		return build(rest[1:], func(e ast.Expr) ast.Expr {
			return &ast.PatternTrim{Kind: ast.RemoveSuffix, Variable: name, Pattern: e, SpanVal: t.Span}
		})
	default:
		return nil, &Error{Kind: MalformedExpansion, What: fmt.Sprintf("unrecognized operator in ${%s}", text), Span: t.Span}
	}
}

// parseQuotedText re-scans the decoded body of a "..." word for embedded
// $name/${...} expansions.
// A body with no expansions collapses to a plain *ast.Literal so callers
// that don't care about quoting provenance aren't forced to special-case
// Composite; a body with at least one expansion becomes an ast.Composite
// whose Parts the emitter joins inside a single pair of double quotes.
func (p *parser) parseQuotedText(t token.Token) (ast.Expr, error) {
	text := t.Text
	var parts []ast.Expr
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, &ast.Literal{Value: lit.String(), SpanVal: t.Span})
			lit.Reset()
		}
	}
	i := 0
	for i < len(text) {
		c := text[i]
		if c != '$' || i+1 >= len(text) {
			lit.WriteByte(c)
			i++
			continue
		}
		next := text[i+1]
		switch {
		case next == '{':
			end := matchingBrace(text, i+1)
			if end < 0 {
				return nil, &Error{Kind: MalformedExpansion, What: "unterminated ${...} in quoted string", Span: t.Span}
			}
			flush()
			inner := text[i+2 : end]
			expr, err := p.parseBracedVariable(token.Token{Kind: token.Variable, Text: inner, Braced: true, Span: t.Span})
			if err != nil {
				return nil, err
			}
			parts = append(parts, expr)
			i = end + 1
		case next == '(':
			end := matchingParen(text, i+1)
			if end < 0 {
				return nil, &Error{Kind: MalformedExpansion, What: "unterminated $(...) in quoted string", Span: t.Span}
			}
			flush()
			if i+2 < len(text) && text[i+2] == '(' && text[end-1] == ')' {
				// $((...)) arithmetic embedded in the quoted word
				parts = append(parts, &ast.Arithmetic{Expr: parseArith(text[i+3 : end-1]), SpanVal: t.Span})
			} else {
				inner, err := Parse([]byte(text[i+2 : end]))
				if err != nil {
					return nil, &Error{Kind: MalformedExpansion, What: err.Error(), Span: t.Span}
				}
				parts = append(parts, &ast.CommandSubst{Body: stmtListToStmt(inner.Stmts, t.Span), SpanVal: t.Span})
			}
			i = end + 1
		case isIdentStart(next) || next == '@' || next == '*' || next == '#' || next == '?' || next == '!' || next == '$' || (next >= '0' && next <= '9'):
			flush()
			j := i + 1
			name := ""
			if isIdentStart(next) {
				for j < len(text) && isIdentPart(text[j]) {
					j++
				}
				name = text[i+1 : j]
			} else {
				name = string(next)
				j = i + 2
			}
			parts = append(parts, &ast.Variable{Name: name, SpanVal: t.Span})
			i = j
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	if len(parts) == 0 {
		return &ast.Literal{Value: "", SpanVal: t.Span}, nil
	}
	if len(parts) == 1 {
		if l, ok := parts[0].(*ast.Literal); ok {
			return l, nil
		}
	}
	return &ast.Composite{Parts: parts, SpanVal: t.Span}, nil
}

// matchingBrace returns the index of the '}' matching the '{' at text[open],
// or -1 if unterminated.
func matchingBrace(text string, open int) int {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// matchingParen returns the index of the ')' matching the '(' at
// text[open], honoring the doubled $(( ... )) form by requiring a doubled
// close when the opener was doubled.
func matchingParen(text string, open int) int {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// isIdentStart/isIdentPart gate parseQuotedText's inline $name scan: a
// shell identifier starts with a letter or underscore and continues with
// those plus digits, same rule as isNameByte minus the leading digit.
func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isNameByte(c)
}

// parseBracketCommand handles `[ ... ]` and `[[ ... ]]`. It keeps the
// literal words as a plain Command (so emitters that just want to print
// the surface form can) and additionally populates Command.Test with the
// parsed condition tree.
func (p *parser) parseBracketCommand(double bool) (ast.Stmt, error) {
	start := p.advance().Span // consume '[' or '[['
	closeKind := token.RBracket
	if double {
		closeKind = token.DRBracket
	}
	var words []token.Token
	for !p.at(closeKind) && !p.at(token.EOF) {
		words = append(words, p.advance())
	}
	end, err := p.expect(closeKind)
	if err != nil {
		return nil, err
	}
	name := "["
	if double {
		name = "[["
	}
	cmd := &ast.Command{Name: &ast.Literal{Value: name, SpanVal: start}, SpanVal: token.Join(start, end.Span)}
	for _, w := range words {
		e, err := p.wordToExpr(w)
		if err != nil {
			return nil, err
		}
		cmd.Args = append(cmd.Args, e)
	}
	tp := &testParser{toks: words, outer: p, double: double}
	test, err := tp.parseOr()
	if err != nil {
		return nil, err
	}
	if tp.pos != len(tp.toks) {
		return nil, &Error{Kind: MalformedExpansion, What: "trailing tokens in test expression", Span: end.Span}
	}
	cmd.Test = test
	return cmd, nil
}

// testParser parses the [ ] / [[ ]] mini-language out of the raw word
// tokens bracketed by the caller, honoring -a/-o (single bracket) or
// &&/|| (double bracket) at the lowest precedence and ! at the highest.
type testParser struct {
	toks   []token.Token
	pos    int
	outer  *parser
	double bool
}

func (tp *testParser) cur() token.Token {
	if tp.pos >= len(tp.toks) {
		return token.Token{Kind: token.EOF}
	}
	return tp.toks[tp.pos]
}

func (tp *testParser) advance() token.Token {
	t := tp.cur()
	if tp.pos < len(tp.toks) {
		tp.pos++
	}
	return t
}

func (tp *testParser) isOrToken() bool {
	if tp.double {
		return tp.cur().Kind == token.OrOr
	}
	return tp.cur().Kind == token.Identifier && tp.cur().Text == "-o"
}

func (tp *testParser) isAndToken() bool {
	if tp.double {
		return tp.cur().Kind == token.AndAnd
	}
	return tp.cur().Kind == token.Identifier && tp.cur().Text == "-a"
}

func (tp *testParser) parseOr() (ast.TestExpr, error) {
	left, err := tp.parseAnd()
	if err != nil {
		return nil, err
	}
	for tp.isOrToken() {
		tp.advance()
		right, err := tp.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.Or{Left: left, Right: right}
	}
	return left, nil
}

func (tp *testParser) parseAnd() (ast.TestExpr, error) {
	left, err := tp.parseUnary()
	if err != nil {
		return nil, err
	}
	for tp.isAndToken() {
		tp.advance()
		right, err := tp.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ast.And{Left: left, Right: right}
	}
	return left, nil
}

func (tp *testParser) parseUnary() (ast.TestExpr, error) {
	if tp.cur().Kind == token.Bang {
		tp.advance()
		inner, err := tp.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.Not{Operand: inner}, nil
	}
	if tp.cur().Kind == token.LParen {
		tp.advance()
		inner, err := tp.parseOr()
		if err != nil {
			return nil, err
		}
		if tp.cur().Kind != token.RParen {
			return nil, &Error{Kind: Expected, What: ")", Found: tp.cur().Kind.String(), Span: tp.cur().Span}
		}
		tp.advance()
		return inner, nil
	}
	return tp.parsePrimary()
}

var fileUnaryOps = map[string]ast.FilePredicateKind{
	"-e": ast.FileExists,
	"-d": ast.FileDirectory,
	"-r": ast.FileReadable,
	"-w": ast.FileWritable,
	"-x": ast.FileExecutable,
	"-f": ast.FileRegular,
	"-s": ast.FileNonEmpty,
	"-L": ast.FileSymlink,
	"-h": ast.FileSymlink,
	"-p": ast.FileNamedPipe,
	"-b": ast.FileBlockDevice,
	"-c": ast.FileCharDevice,
	"-g": ast.FileSetGID,
	"-k": ast.FileSticky,
	"-u": ast.FileSetUID,
	"-t": ast.FileTerminal,
	"-O": ast.FileOwnedByUser,
	"-G": ast.FileOwnedByGroup,
	"-N": ast.FileNewerThanMod,
	"-v": ast.FileIsVarSet,
}

var intBinaryOps = map[string]func(l, r ast.Expr) ast.TestExpr{
	"-eq": func(l, r ast.Expr) ast.TestExpr { return ast.IntEq{Left: l, Right: r} },
	"-ne": func(l, r ast.Expr) ast.TestExpr { return ast.IntNe{Left: l, Right: r} },
	"-lt": func(l, r ast.Expr) ast.TestExpr { return ast.IntLt{Left: l, Right: r} },
	"-le": func(l, r ast.Expr) ast.TestExpr { return ast.IntLe{Left: l, Right: r} },
	"-gt": func(l, r ast.Expr) ast.TestExpr { return ast.IntGt{Left: l, Right: r} },
	"-ge": func(l, r ast.Expr) ast.TestExpr { return ast.IntGe{Left: l, Right: r} },
}

func (tp *testParser) parsePrimary() (ast.TestExpr, error) {
	t := tp.cur()
	if t.Kind == token.Identifier {
		if t.Text == "-z" {
			tp.advance()
			operand, err := tp.outer.wordToExpr(tp.advance())
			if err != nil {
				return nil, err
			}
			return ast.StringEmpty{Operand: operand}, nil
		}
		if t.Text == "-n" {
			tp.advance()
			operand, err := tp.outer.wordToExpr(tp.advance())
			if err != nil {
				return nil, err
			}
			return ast.StringNonEmpty{Operand: operand}, nil
		}
		if kind, ok := fileUnaryOps[t.Text]; ok {
			tp.advance()
			operand, err := tp.outer.wordToExpr(tp.advance())
			if err != nil {
				return nil, err
			}
			return ast.FilePredicate{Kind: kind, Operand: operand}, nil
		}
	}

	left, err := tp.outer.wordToExpr(tp.advance())
	if err != nil {
		return nil, err
	}

	op := tp.cur()
	if op.Kind == token.Identifier {
		if mk, ok := intBinaryOps[op.Text]; ok {
			tp.advance()
			right, err := tp.outer.wordToExpr(tp.advance())
			if err != nil {
				return nil, err
			}
			return mk(left, right), nil
		}
		if op.Text == "=" {
			tp.advance()
			right, err := tp.outer.wordToExpr(tp.advance())
			if err != nil {
				return nil, err
			}
			return ast.StringEq{Left: left, Right: right}, nil
		}
	}
	switch op.Kind {
	case token.Eq, token.Assign:
		tp.advance()
		right, err := tp.outer.wordToExpr(tp.advance())
		if err != nil {
			return nil, err
		}
		return ast.StringEq{Left: left, Right: right}, nil
	case token.RegexMatch:
		// `[[ x =~ pat ]]` has no POSIX analogue; it is lowered to an
		// equality against the literal pattern, and the emitter tags the
		// lowered test with a comment.
		tp.advance()
		right, err := tp.outer.wordToExpr(tp.advance())
		if err != nil {
			return nil, err
		}
		return ast.StringEq{Left: left, Right: right, FromRegex: true}, nil
	case token.Ne:
		tp.advance()
		right, err := tp.outer.wordToExpr(tp.advance())
		if err != nil {
			return nil, err
		}
		return ast.StringNe{Left: left, Right: right}, nil
	case token.RedirIn:
		tp.advance()
		right, err := tp.outer.wordToExpr(tp.advance())
		if err != nil {
			return nil, err
		}
		return ast.StringLt{Left: left, Right: right}, nil
	case token.RedirOut:
		tp.advance()
		right, err := tp.outer.wordToExpr(tp.advance())
		if err != nil {
			return nil, err
		}
		return ast.StringGt{Left: left, Right: right}, nil
	}

	// No operator followed: a bare word is true iff it is non-empty.
	return ast.StringNonEmpty{Operand: left}, nil
}
