package parser

import (
	"io"
	"strconv"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ast"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/diag"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/token"
)

type Parser struct {
	tokens []token.Token
	pos    int
	errs   *diag.List
	root   *ast.Node
}

func NewParser(tokens []token.Token, errs *diag.List) *Parser {
	return &Parser{tokens: tokens, errs: errs}
}

func (p *Parser) Root() *ast.Node { return p.root }

func (p *Parser) DumpTree(out io.Writer) {
	p.root.Dump(out, 0)
}

func (p *Parser) peek() token.Token { return p.peekAt(0) }

func (p *Parser) peekAt(offset int) token.Token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return token.Token{Kind: token.EOF, Line: p.prevLine()}
}

func (p *Parser) next() token.Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) at(kind token.Kind) bool { return p.peek().Kind == kind }

func (p *Parser) accept(kind token.Kind) bool {
	if p.at(kind) {
		p.pos++
		return true
	}
	return false
}

// prevLine is where missing-token diagnostics anchor: the line of the last
// consumed token.
func (p *Parser) prevLine() int {
	if p.pos == 0 {
		return 1
	}
	if p.pos-1 < len(p.tokens) {
		return p.tokens[p.pos-1].Line
	}
	return p.tokens[len(p.tokens)-1].Line
}

func (p *Parser) expectSemi() {
	if !p.accept(token.Semi) {
		p.errs.Add(p.prevLine(), diag.CodeMissingSemi)
	}
}

func (p *Parser) expectRParen() {
	if !p.accept(token.RParen) {
		p.errs.Add(p.prevLine(), diag.CodeMissingRParen)
	}
}

func (p *Parser) expectRBracket() {
	if !p.accept(token.RBracket) {
		p.errs.Add(p.prevLine(), diag.CodeMissingRBrack)
	}
}

// Parse consumes the token stream and builds the AST.
//
//	CompUnit → {Decl} {FuncDef} MainFuncDef
func (p *Parser) Parse() *ast.Node {
	first := p.peek()
	var unit ast.CompUnitNode

	// Declarations end once 'int'/'void' introduces a function: 'void x(',
	// 'int main(', or 'int ident('.
	for {
		switch {
		case p.at(token.Const):
			unit.Decls = append(unit.Decls, p.parseConstDecl())
			continue
		case p.at(token.Static):
			unit.Decls = append(unit.Decls, p.parseVarDecl())
			continue
		case p.at(token.Int) && p.peekAt(1).Kind == token.Ident && p.peekAt(2).Kind != token.LParen:
			unit.Decls = append(unit.Decls, p.parseVarDecl())
			continue
		}
		break
	}

	for p.at(token.Void) || (p.at(token.Int) && p.peekAt(1).Kind == token.Ident) {
		unit.Funcs = append(unit.Funcs, p.parseFuncDef())
	}

	if p.at(token.Int) && p.peekAt(1).Kind == token.Main {
		unit.Main = p.parseMainFuncDef()
	}

	p.root = &ast.Node{Type: ast.CompUnit, Tok: first, Data: unit}
	return p.root
}

// ConstDecl → 'const' 'int' ConstDef {',' ConstDef} ';'
func (p *Parser) parseConstDecl() *ast.Node {
	tok := p.next() // const
	p.accept(token.Int)
	var defs []*ast.Node
	defs = append(defs, p.parseVarDef(true, false))
	for p.accept(token.Comma) {
		defs = append(defs, p.parseVarDef(true, false))
	}
	p.expectSemi()
	return &ast.Node{Type: ast.ConstDecl, Tok: tok, Data: ast.ConstDeclNode{Defs: defs}}
}

// VarDecl → ['static'] 'int' VarDef {',' VarDef} ';'
func (p *Parser) parseVarDecl() *ast.Node {
	tok := p.peek()
	isStatic := p.accept(token.Static)
	p.accept(token.Int)
	var defs []*ast.Node
	defs = append(defs, p.parseVarDef(false, isStatic))
	for p.accept(token.Comma) {
		defs = append(defs, p.parseVarDef(false, isStatic))
	}
	p.expectSemi()
	return &ast.Node{Type: ast.VarDecl, Tok: tok, Data: ast.VarDeclNode{IsStatic: isStatic, Defs: defs}}
}

// VarDef → Ident ['[' ConstExp ']'] ['=' InitVal]
// ConstDef requires the '=' part; the parser is lenient and accepts a
// ConstDef without it, and no later stage reports the omission.
func (p *Parser) parseVarDef(isConst, isStatic bool) *ast.Node {
	nameTok := p.next()
	def := ast.VarDefNode{Name: nameTok.Lexeme, IsConst: isConst, IsStatic: isStatic}

	if p.accept(token.LBracket) {
		def.ArraySize = p.parseExp()
		p.expectRBracket()
	}

	if p.accept(token.Assign) {
		def.HasInit = true
		if p.accept(token.LBrace) {
			if !p.at(token.RBrace) {
				def.Init = append(def.Init, p.parseExp())
				for p.accept(token.Comma) {
					def.Init = append(def.Init, p.parseExp())
				}
			}
			p.accept(token.RBrace)
		} else {
			def.Init = append(def.Init, p.parseExp())
		}
	}
	return &ast.Node{Type: ast.VarDef, Tok: nameTok, Data: def}
}

// FuncDef → ('int' | 'void') Ident '(' [FuncFParams] ')' Block
func (p *Parser) parseFuncDef() *ast.Node {
	retTok := p.next()
	nameTok := p.next()
	fn := ast.FuncDefNode{Name: nameTok.Lexeme, ReturnsInt: retTok.Kind == token.Int}

	p.accept(token.LParen)
	if p.at(token.Int) {
		fn.Params = append(fn.Params, p.parseFuncFParam())
		for p.accept(token.Comma) {
			fn.Params = append(fn.Params, p.parseFuncFParam())
		}
	}
	p.expectRParen()
	fn.Body = p.parseBlock()
	return &ast.Node{Type: ast.FuncDef, Tok: nameTok, Data: fn}
}

// MainFuncDef → 'int' 'main' '(' ')' Block
func (p *Parser) parseMainFuncDef() *ast.Node {
	p.next() // int
	mainTok := p.next()
	fn := ast.FuncDefNode{Name: "main", ReturnsInt: true}
	p.accept(token.LParen)
	p.expectRParen()
	fn.Body = p.parseBlock()
	return &ast.Node{Type: ast.FuncDef, Tok: mainTok, Data: fn}
}

// FuncFParam → 'int' Ident ['[' ']']
func (p *Parser) parseFuncFParam() ast.Param {
	p.accept(token.Int)
	nameTok := p.next()
	param := ast.Param{Name: nameTok.Lexeme, Tok: nameTok}
	if p.accept(token.LBracket) {
		param.IsArray = true
		p.expectRBracket()
	}
	return param
}

// Block → '{' {Decl | Stmt} '}'
func (p *Parser) parseBlock() *ast.Node {
	braceTok := p.peek()
	p.accept(token.LBrace)
	var block ast.BlockNode
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		switch {
		case p.at(token.Const):
			block.Items = append(block.Items, p.parseConstDecl())
		case p.at(token.Static), p.at(token.Int):
			block.Items = append(block.Items, p.parseVarDecl())
		default:
			block.Items = append(block.Items, p.parseStmt())
		}
	}
	block.EndLine = p.peek().Line
	p.accept(token.RBrace)
	return &ast.Node{Type: ast.Block, Tok: braceTok, Data: block}
}

func (p *Parser) parseStmt() *ast.Node {
	tok := p.peek()
	switch tok.Kind {
	case token.LBrace:
		return p.parseBlock()

	case token.If:
		p.next()
		p.accept(token.LParen)
		cond := p.parseExp()
		p.expectRParen()
		stmt := ast.IfStmtNode{Cond: cond, Then: p.parseStmt()}
		if p.accept(token.Else) {
			stmt.Else = p.parseStmt()
		}
		return &ast.Node{Type: ast.IfStmt, Tok: tok, Data: stmt}

	case token.For:
		p.next()
		p.accept(token.LParen)
		var loop ast.ForLoopNode
		if !p.at(token.Semi) {
			loop.Init = p.parseForStmt()
		}
		p.expectSemi()
		if !p.at(token.Semi) {
			loop.Cond = p.parseExp()
		}
		p.expectSemi()
		if !p.at(token.RParen) {
			loop.Step = p.parseForStmt()
		}
		p.expectRParen()
		loop.Body = p.parseStmt()
		return &ast.Node{Type: ast.ForLoop, Tok: tok, Data: loop}

	case token.Break:
		p.next()
		p.expectSemi()
		return &ast.Node{Type: ast.BreakStmt, Tok: tok}

	case token.Continue:
		p.next()
		p.expectSemi()
		return &ast.Node{Type: ast.ContinueStmt, Tok: tok}

	case token.Return:
		p.next()
		var stmt ast.ReturnStmtNode
		if !p.at(token.Semi) && !p.at(token.RBrace) {
			stmt.Value = p.parseExp()
		}
		p.expectSemi()
		return &ast.Node{Type: ast.ReturnStmt, Tok: tok, Data: stmt}

	case token.Printf:
		p.next()
		p.accept(token.LParen)
		var stmt ast.PrintfStmtNode
		if p.at(token.StrConst) {
			stmt.Format = p.next().Lexeme
		}
		for p.accept(token.Comma) {
			stmt.Args = append(stmt.Args, p.parseExp())
		}
		p.expectRParen()
		p.expectSemi()
		return &ast.Node{Type: ast.PrintfStmt, Tok: tok, Data: stmt}

	case token.Semi:
		p.next()
		return &ast.Node{Type: ast.ExpStmt, Tok: tok, Data: ast.ExpStmtNode{}}

	default:
		// 'LVal = ...' versus a bare expression: try the assignment shape
		// first and rewind if there is no '=' after the l-value.
		if tok.Kind == token.Ident {
			save := p.pos
			target := p.parseLVal()
			if p.at(token.Assign) {
				p.next()
				value := p.parseExp()
				p.expectSemi()
				return &ast.Node{Type: ast.AssignStmt, Tok: tok, Data: ast.AssignStmtNode{Target: target, Value: value}}
			}
			p.pos = save
		}
		x := p.parseExp()
		p.expectSemi()
		return &ast.Node{Type: ast.ExpStmt, Tok: tok, Data: ast.ExpStmtNode{X: x}}
	}
}

// ForStmt → LVal '=' Exp {',' LVal '=' Exp}
func (p *Parser) parseForStmt() *ast.Node {
	tok := p.peek()
	var stmt ast.ForStmtNode
	for {
		assignTok := p.peek()
		target := p.parseLVal()
		p.accept(token.Assign)
		value := p.parseExp()
		stmt.Assigns = append(stmt.Assigns, &ast.Node{
			Type: ast.AssignStmt, Tok: assignTok,
			Data: ast.AssignStmtNode{Target: target, Value: value},
		})
		if !p.accept(token.Comma) {
			break
		}
	}
	return &ast.Node{Type: ast.ForStmt, Tok: tok, Data: stmt}
}

// Expressions: the usual precedence chain. Conditions reuse parseExp, which
// tops out at '||'.

func (p *Parser) parseExp() *ast.Node { return p.parseLOrExp() }

func (p *Parser) parseLOrExp() *ast.Node {
	left := p.parseLAndExp()
	for p.at(token.OrOr) {
		opTok := p.next()
		right := p.parseLAndExp()
		left = &ast.Node{Type: ast.BinaryOp, Tok: opTok, Data: ast.BinaryOpNode{Op: token.OrOr, Left: left, Right: right}}
	}
	return left
}

func (p *Parser) parseLAndExp() *ast.Node {
	left := p.parseEqExp()
	for p.at(token.AndAnd) {
		opTok := p.next()
		right := p.parseEqExp()
		left = &ast.Node{Type: ast.BinaryOp, Tok: opTok, Data: ast.BinaryOpNode{Op: token.AndAnd, Left: left, Right: right}}
	}
	return left
}

func (p *Parser) parseEqExp() *ast.Node {
	left := p.parseRelExp()
	for p.at(token.EqEq) || p.at(token.Neq) {
		opTok := p.next()
		right := p.parseRelExp()
		left = &ast.Node{Type: ast.BinaryOp, Tok: opTok, Data: ast.BinaryOpNode{Op: opTok.Kind, Left: left, Right: right}}
	}
	return left
}

func (p *Parser) parseRelExp() *ast.Node {
	left := p.parseAddExp()
	for p.at(token.Lt) || p.at(token.Lte) || p.at(token.Gt) || p.at(token.Gte) {
		opTok := p.next()
		right := p.parseAddExp()
		left = &ast.Node{Type: ast.BinaryOp, Tok: opTok, Data: ast.BinaryOpNode{Op: opTok.Kind, Left: left, Right: right}}
	}
	return left
}

func (p *Parser) parseAddExp() *ast.Node {
	left := p.parseMulExp()
	for p.at(token.Plus) || p.at(token.Minus) {
		opTok := p.next()
		right := p.parseMulExp()
		left = &ast.Node{Type: ast.BinaryOp, Tok: opTok, Data: ast.BinaryOpNode{Op: opTok.Kind, Left: left, Right: right}}
	}
	return left
}

func (p *Parser) parseMulExp() *ast.Node {
	left := p.parseUnaryExp()
	for p.at(token.Star) || p.at(token.Slash) || p.at(token.Rem) {
		opTok := p.next()
		right := p.parseUnaryExp()
		left = &ast.Node{Type: ast.BinaryOp, Tok: opTok, Data: ast.BinaryOpNode{Op: opTok.Kind, Left: left, Right: right}}
	}
	return left
}

func (p *Parser) parseUnaryExp() *ast.Node {
	tok := p.peek()
	switch tok.Kind {
	case token.Plus, token.Minus, token.Not:
		p.next()
		x := p.parseUnaryExp()
		return &ast.Node{Type: ast.UnaryOp, Tok: tok, Data: ast.UnaryOpNode{Op: tok.Kind, X: x}}
	case token.Ident:
		if p.peekAt(1).Kind == token.LParen {
			return p.parseCall()
		}
	}
	return p.parsePrimaryExp()
}

func (p *Parser) parseCall() *ast.Node {
	nameTok := p.next()
	p.accept(token.LParen)
	if nameTok.Lexeme == "getint" {
		p.expectRParen()
		return &ast.Node{Type: ast.GetintExpr, Tok: nameTok}
	}
	call := ast.CallNode{Name: nameTok.Lexeme}
	if !p.at(token.RParen) && !p.at(token.Semi) && !p.at(token.EOF) {
		call.Args = append(call.Args, p.parseExp())
		for p.accept(token.Comma) {
			call.Args = append(call.Args, p.parseExp())
		}
	}
	p.expectRParen()
	return &ast.Node{Type: ast.Call, Tok: nameTok, Data: call}
}

// PrimaryExp → '(' Exp ')' | LVal | Number
func (p *Parser) parsePrimaryExp() *ast.Node {
	tok := p.peek()
	switch tok.Kind {
	case token.LParen:
		p.next()
		x := p.parseExp()
		p.expectRParen()
		return x
	case token.IntConst:
		p.next()
		value, _ := strconv.Atoi(tok.Lexeme)
		return &ast.Node{Type: ast.Number, Tok: tok, Data: ast.NumberNode{Value: value}}
	case token.Ident:
		return p.parseLVal()
	default:
		// recovery: treat anything else as zero and let the caller resync
		p.next()
		return &ast.Node{Type: ast.Number, Tok: tok, Data: ast.NumberNode{Value: 0}}
	}
}

// LVal → Ident ['[' Exp ']']
func (p *Parser) parseLVal() *ast.Node {
	nameTok := p.next()
	lv := ast.LValNode{Name: nameTok.Lexeme}
	if p.accept(token.LBracket) {
		lv.Index = p.parseExp()
		p.expectRBracket()
	}
	return &ast.Node{Type: ast.LVal, Tok: nameTok, Data: lv}
}
