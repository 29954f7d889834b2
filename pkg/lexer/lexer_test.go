package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/diag"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/token"
)

func scan(t *testing.T, src string) ([]token.Token, *diag.List) {
	t.Helper()
	errs := &diag.List{}
	toks := NewLexer([]rune(src), errs).Scan()
	return toks, errs
}

func kinds(toks []token.Token) []token.Kind {
	var out []token.Kind
	for _, tok := range toks {
		out = append(out, tok.Kind)
	}
	return out
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	toks, errs := scan(t, "const int a = getint();")
	assert.True(t, errs.Empty())
	assert.Equal(t, []token.Kind{
		token.Const, token.Int, token.Ident, token.Assign,
		token.Ident, token.LParen, token.RParen, token.Semi, token.EOF,
	}, kinds(toks))
	// getint is an identifier, not a keyword
	assert.Equal(t, "getint", toks[4].Lexeme)
}

func TestOperators(t *testing.T) {
	toks, errs := scan(t, "a<=b >= c == d != e && f || !g < >")
	assert.True(t, errs.Empty())
	assert.Equal(t, []token.Kind{
		token.Ident, token.Lte, token.Ident, token.Gte, token.Ident,
		token.EqEq, token.Ident, token.Neq, token.Ident, token.AndAnd,
		token.Ident, token.OrOr, token.Not, token.Ident, token.Lt, token.Gt,
		token.EOF,
	}, kinds(toks))
}

func TestLineNumbers(t *testing.T) {
	toks, _ := scan(t, "a\nb\n\nc")
	assert.Equal(t, 1, toks[0].Line)
	assert.Equal(t, 2, toks[1].Line)
	assert.Equal(t, 4, toks[2].Line)
}

func TestComments(t *testing.T) {
	toks, errs := scan(t, "a // line comment\nb /* block\ncomment */ c")
	assert.True(t, errs.Empty())
	require.Len(t, toks, 4) // a b c EOF
	assert.Equal(t, "c", toks[2].Lexeme)
	assert.Equal(t, 3, toks[2].Line)
}

func TestUnterminatedBlockCommentIsIllegal(t *testing.T) {
	_, errs := scan(t, "a /* never closed")
	require.Equal(t, 1, errs.Len())
	assert.Equal(t, "a", errs.Sorted()[0].Code)
}

func TestStringLiteralKeepsQuotesAndEscapes(t *testing.T) {
	toks, errs := scan(t, `printf("x=%d\n");`)
	assert.True(t, errs.Empty())
	assert.Equal(t, token.StrConst, toks[2].Kind)
	assert.Equal(t, `"x=%d\n"`, toks[2].Lexeme)
}

func TestLoneAmpersandAndPipe(t *testing.T) {
	_, errs := scan(t, "a & b\nc | d")
	sorted := errs.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, diag.Diagnostic{Line: 1, Code: "a"}, sorted[0])
	assert.Equal(t, diag.Diagnostic{Line: 2, Code: "a"}, sorted[1])
}

func TestNumbers(t *testing.T) {
	toks, errs := scan(t, "0 42 1234567")
	assert.True(t, errs.Empty())
	assert.Equal(t, "42", toks[1].Lexeme)
	assert.Equal(t, token.IntConst, toks[1].Kind)
}
