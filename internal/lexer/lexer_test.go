package lexer

import (
	"testing"

	"github.com/bashrs-dev/bashrs/internal/token"
)

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func assertKinds(t *testing.T, toks []token.Token, want ...token.Kind) {
	t.Helper()
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("kind count = %d, want %d: got %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d kind = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestLex_SimpleCommand(t *testing.T) {
	toks, err := Lex([]byte("echo hello"))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks, token.Identifier, token.Identifier, token.EOF)
	if toks[0].Text != "echo" || toks[1].Text != "hello" {
		t.Fatalf("unexpected text: %q %q", toks[0].Text, toks[1].Text)
	}
}

func TestLex_KeywordRecognition(t *testing.T) {
	toks, err := Lex([]byte("if true; then echo hi; fi"))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks,
		token.KwIf, token.Identifier, token.Semicolon, token.KwThen,
		token.Identifier, token.Identifier, token.Semicolon, token.KwFi, token.EOF)
}

func TestLex_Operators(t *testing.T) {
	toks, err := Lex([]byte("a && b || c | d"))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks,
		token.Identifier, token.AndAnd, token.Identifier, token.OrOr,
		token.Identifier, token.Pipe, token.Identifier, token.EOF)
}

func TestLex_SingleQuotedString(t *testing.T) {
	toks, err := Lex([]byte(`echo 'hello world'`))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks, token.Identifier, token.String, token.EOF)
	if toks[1].Text != "hello world" {
		t.Fatalf("text = %q", toks[1].Text)
	}
}

func TestLex_UnterminatedSingleQuote(t *testing.T) {
	_, err := Lex([]byte(`echo 'unterminated`))
	if err == nil {
		t.Fatal("expected error")
	}
	lexErr, ok := err.(*Error)
	if !ok || lexErr.Kind != UnterminatedString {
		t.Fatalf("got %v, want UnterminatedString", err)
	}
}

func TestLex_BareVariable(t *testing.T) {
	toks, err := Lex([]byte("echo $HOME"))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks, token.Identifier, token.Variable, token.EOF)
	if toks[1].Text != "HOME" || toks[1].Braced {
		t.Fatalf("unexpected variable token: %+v", toks[1])
	}
}

func TestLex_BracedVariableWithDefault(t *testing.T) {
	toks, err := Lex([]byte("echo ${NAME:-world}"))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks, token.Identifier, token.Variable, token.EOF)
	if !toks[1].Braced || toks[1].Text != "NAME:-world" {
		t.Fatalf("unexpected token: %+v", toks[1])
	}
}

func TestLex_CommandSubstitution(t *testing.T) {
	toks, err := Lex([]byte("x=$(date +%s)"))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks, token.Identifier, token.Assign, token.CommandSubstitution, token.EOF)
	if toks[2].Text != "date +%s" {
		t.Fatalf("text = %q", toks[2].Text)
	}
}

func TestLex_ArithmeticExpansion(t *testing.T) {
	toks, err := Lex([]byte("echo $((1 + 2))"))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks, token.Identifier, token.ArithmeticExpansion, token.EOF)
	if toks[1].Text != "1 + 2" {
		t.Fatalf("text = %q", toks[1].Text)
	}
}

func TestLex_Heredoc(t *testing.T) {
	src := "cat <<EOF\nhello\nEOF\n"
	toks, err := Lex([]byte(src))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	var heredoc *token.Token
	for i := range toks {
		if toks[i].Kind == token.Heredoc {
			heredoc = &toks[i]
		}
	}
	if heredoc == nil {
		t.Fatal("no heredoc token emitted")
	}
	if heredoc.HeredocBody != "hello\n" {
		t.Fatalf("body = %q", heredoc.HeredocBody)
	}
}

func TestLex_UnterminatedHeredoc(t *testing.T) {
	_, err := Lex([]byte("cat <<EOF\nhello\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	lexErr, ok := err.(*Error)
	if !ok || lexErr.Kind != UnterminatedHeredoc {
		t.Fatalf("got %v, want UnterminatedHeredoc", err)
	}
}

func TestLex_BraceGroupCollapsesBlankLines(t *testing.T) {
	src := "{\n\n\necho hi\n}"
	toks, err := Lex([]byte(src))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	newlineCount := 0
	for _, tk := range toks {
		if tk.Kind == token.Newline {
			newlineCount++
		}
	}
	// Three consecutive newlines after '{' collapse to one; the single
	// newline before the closing '}' is unaffected, for two emitted total.
	if newlineCount != 2 {
		t.Fatalf("collapsed newline count = %d, want 2", newlineCount)
	}
}

func TestLex_InvalidUtf8(t *testing.T) {
	_, err := Lex([]byte{'e', 'c', 'h', 'o', ' ', 0xff, 0xfe})
	if err == nil {
		t.Fatal("expected error")
	}
	lexErr, ok := err.(*Error)
	if !ok || lexErr.Kind != InvalidUtf8 {
		t.Fatalf("got %v, want InvalidUtf8", err)
	}
}

func TestLex_DoubleQuotedStringMarksToken(t *testing.T) {
	toks, err := Lex([]byte(`echo "hi $name"`))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks, token.Identifier, token.String, token.EOF)
	if !toks[1].DoubleQuoted {
		t.Fatalf("expected DoubleQuoted=true, got %+v", toks[1])
	}
	if toks[1].Text != "hi $name" {
		t.Fatalf("text = %q", toks[1].Text)
	}
}

func TestLex_SingleQuotedStringIsNotMarkedDoubleQuoted(t *testing.T) {
	toks, err := Lex([]byte(`echo 'hi $name'`))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	if toks[1].DoubleQuoted {
		t.Fatalf("single-quoted string should not be marked DoubleQuoted: %+v", toks[1])
	}
}

func TestLex_KeywordAsLiteralIsStillLexedAsKeyword(t *testing.T) {
	// The lexer always emits the canonical keyword kind; demoting a
	// keyword used in argument position to a Literal is the parser's job.
	toks, err := Lex([]byte("echo done"))
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	assertKinds(t, toks, token.Identifier, token.KwDone, token.EOF)
}
