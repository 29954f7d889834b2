package lexer

import (
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/diag"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/token"
)

type Lexer struct {
	src    []rune
	pos    int
	line   int
	tokens []token.Token
	errs   *diag.List
}

func NewLexer(src []rune, errs *diag.List) *Lexer {
	return &Lexer{src: src, line: 1, errs: errs}
}

// Scan consumes the whole input and returns the token stream. Lexical
// problems are recorded as code "a" diagnostics; scanning always continues.
func (l *Lexer) Scan() []token.Token {
	for l.pos < len(l.src) {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			break
		}
		c := l.src[l.pos]
		switch {
		case c == '/':
			l.handleSlash()
		case c == '"':
			l.handleString()
		case isIdentStart(c):
			l.handleIdentifier()
		case isDigit(c):
			l.handleNumber()
		default:
			l.handleOperator()
		}
	}
	l.push(token.EOF, "")
	return l.tokens
}

func (l *Lexer) peek(offset int) rune {
	if l.pos+offset < len(l.src) {
		return l.src[l.pos+offset]
	}
	return 0
}

func (l *Lexer) push(kind token.Kind, lexeme string) {
	l.tokens = append(l.tokens, token.Token{Kind: kind, Lexeme: lexeme, Line: l.line})
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return
		}
		if c == '\n' {
			l.line++
		}
		l.pos++
	}
}

func (l *Lexer) handleSlash() {
	switch l.peek(1) {
	case '/':
		l.pos += 2
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.pos++
		}
	case '*':
		l.pos += 2
		closed := false
		for l.pos+1 < len(l.src) {
			if l.src[l.pos] == '*' && l.src[l.pos+1] == '/' {
				l.pos += 2
				closed = true
				break
			}
			if l.src[l.pos] == '\n' {
				l.line++
			}
			l.pos++
		}
		if !closed {
			l.pos = len(l.src)
			l.errs.Add(l.line, diag.CodeIllegalSymbol)
		}
	default:
		l.push(token.Slash, "/")
		l.pos++
	}
}

// handleString keeps the surrounding quotes in the lexeme; downstream stages
// strip them. Escape pairs are passed through verbatim.
func (l *Lexer) handleString() {
	startLine := l.line
	lexeme := []rune{'"'}
	l.pos++
	closed := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' {
			if l.pos+1 < len(l.src) {
				lexeme = append(lexeme, '\\', l.src[l.pos+1])
				l.pos += 2
				continue
			}
			l.pos++
			break
		}
		if c == '"' {
			lexeme = append(lexeme, '"')
			l.pos++
			closed = true
			break
		}
		if c == '\n' {
			l.line++
		}
		lexeme = append(lexeme, c)
		l.pos++
	}
	if !closed {
		l.errs.Add(startLine, diag.CodeIllegalSymbol)
		return
	}
	l.tokens = append(l.tokens, token.Token{Kind: token.StrConst, Lexeme: string(lexeme), Line: startLine})
}

func (l *Lexer) handleIdentifier() {
	start := l.pos
	for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
		l.pos++
	}
	lexeme := string(l.src[start:l.pos])
	if kind, ok := token.KeywordMap[lexeme]; ok {
		l.push(kind, lexeme)
		return
	}
	l.push(token.Ident, lexeme)
}

func (l *Lexer) handleNumber() {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	l.push(token.IntConst, string(l.src[start:l.pos]))
}

var singleSym = map[rune]token.Kind{
	'+': token.Plus, '-': token.Minus, '*': token.Star, '%': token.Rem,
	';': token.Semi, ',': token.Comma,
	'(': token.LParen, ')': token.RParen,
	'[': token.LBracket, ']': token.RBracket,
	'{': token.LBrace, '}': token.RBrace,
}

func (l *Lexer) handleOperator() {
	c := l.src[l.pos]
	n := l.peek(1)
	switch {
	case c == '&' && n == '&':
		l.push(token.AndAnd, "&&")
		l.pos += 2
	case c == '|' && n == '|':
		l.push(token.OrOr, "||")
		l.pos += 2
	case c == '<' && n == '=':
		l.push(token.Lte, "<=")
		l.pos += 2
	case c == '>' && n == '=':
		l.push(token.Gte, ">=")
		l.pos += 2
	case c == '=' && n == '=':
		l.push(token.EqEq, "==")
		l.pos += 2
	case c == '!' && n == '=':
		l.push(token.Neq, "!=")
		l.pos += 2
	case c == '<':
		l.push(token.Lt, "<")
		l.pos++
	case c == '>':
		l.push(token.Gt, ">")
		l.pos++
	case c == '=':
		l.push(token.Assign, "=")
		l.pos++
	case c == '!':
		l.push(token.Not, "!")
		l.pos++
	default:
		if kind, ok := singleSym[c]; ok {
			l.push(kind, string(c))
		} else {
			// lone '&', lone '|', or anything outside the alphabet
			l.errs.Add(l.line, diag.CodeIllegalSymbol)
		}
		l.pos++
	}
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c rune) bool { return isIdentStart(c) || isDigit(c) }

func isDigit(c rune) bool { return c >= '0' && c <= '9' }
