package sema

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ast"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/diag"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/symtab"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/token"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/util"
)

// Analyzer populates the symbol table, computes per-function stack layout
// and reports the semantic diagnostic codes (b..h, l, m).
type Analyzer struct {
	table *symtab.Table
	errs  *diag.List
	log   zerolog.Logger

	currentFuncKind symtab.SymbolKind
	currentFuncName string
	loopDepth       int
	currentOffset   int // next free byte in the current function's local region
	inFunction      bool
}

func NewAnalyzer(errs *diag.List) *Analyzer {
	return &Analyzer{table: symtab.NewTable(), errs: errs, log: util.Stage("sema")}
}

func (a *Analyzer) Table() *symtab.Table { return a.table }

func (a *Analyzer) Analyze(root *ast.Node) {
	if root == nil || root.Type != ast.CompUnit {
		return
	}
	unit := root.Data.(ast.CompUnitNode)
	for _, decl := range unit.Decls {
		a.visitDecl(decl)
	}
	for _, fn := range unit.Funcs {
		a.visitFuncDef(fn)
	}
	if unit.Main != nil {
		a.visitFuncDef(unit.Main)
	}
}

func (a *Analyzer) addError(line int, code string) {
	a.errs.Add(line, code)
}

// === declarations ===

func (a *Analyzer) visitDecl(node *ast.Node) {
	switch node.Type {
	case ast.ConstDecl:
		for _, def := range node.Data.(ast.ConstDeclNode).Defs {
			a.visitVarDef(def)
		}
	case ast.VarDecl:
		for _, def := range node.Data.(ast.VarDeclNode).Defs {
			a.visitVarDef(def)
		}
	}
}

func (a *Analyzer) varDefKind(def ast.VarDefNode, isArray bool) symtab.SymbolKind {
	switch {
	case def.IsConst && isArray:
		return symtab.ConstIntArray
	case def.IsConst:
		return symtab.ConstInt
	case def.IsStatic && isArray:
		return symtab.StaticIntArray
	case def.IsStatic:
		return symtab.StaticInt
	case isArray:
		return symtab.IntArray
	default:
		return symtab.Int
	}
}

func (a *Analyzer) visitVarDef(node *ast.Node) {
	def := node.Data.(ast.VarDefNode)
	line := node.Tok.Line
	scope := a.table.CurrentScopeID()

	if a.table.DefinedInCurrentScope(def.Name) {
		a.addError(line, diag.CodeRedefined)
		// still walk the initializer so uses inside it are checked
		for _, init := range def.Init {
			a.visitExp(init)
		}
		return
	}

	isArray := def.ArraySize != nil
	entry := symtab.NewEntry(def.Name, a.varDefKind(def, isArray), scope, line)

	if isArray {
		size, ok := a.evalConst(def.ArraySize)
		if !ok || size < 0 {
			size = 0
		}
		entry.ArraySize = size
	}
	entry.Size = entry.ByteSize()

	isGlobal := scope == symtab.GlobalScopeID
	if entry.IsStatic() {
		entry.Label = fmt.Sprintf("static_%s_%d", def.Name, scope)
	}

	// Compile-time initializer values are kept for globals, statics and
	// constants; the .data emitter and constant evaluation both read them.
	if def.HasInit {
		if isArray {
			wantConst := isGlobal || def.IsConst || def.IsStatic
			for _, init := range def.Init {
				if wantConst {
					v, _ := a.evalConst(init)
					entry.ArrayInitValues = append(entry.ArrayInitValues, v)
				} else {
					a.visitExp(init)
				}
			}
		} else {
			if v, ok := a.evalConst(def.Init[0]); ok {
				entry.Value = v
			}
			if !isGlobal && !def.IsConst && !def.IsStatic {
				a.visitExp(def.Init[0])
			}
		}
	}

	// Frame layout: every non-static local gets the next 4-aligned slot.
	if a.inFunction && !entry.IsStatic() {
		entry.Offset = a.currentOffset
		a.currentOffset += entry.ByteSize()
	}

	a.table.AddSymbol(entry)
}

func (a *Analyzer) visitFuncDef(node *ast.Node) {
	fn := node.Data.(ast.FuncDefNode)
	line := node.Tok.Line

	kind := symtab.VoidFunc
	if fn.ReturnsInt {
		kind = symtab.IntFunc
	}

	if a.table.DefinedInCurrentScope(fn.Name) {
		a.addError(line, diag.CodeRedefined)
	}

	funcEntry := symtab.NewEntry(fn.Name, kind, symtab.GlobalScopeID, line)
	for _, p := range fn.Params {
		pk := symtab.Int
		if p.IsArray {
			pk = symtab.IntArray
		}
		funcEntry.Params = append(funcEntry.Params, symtab.ParamInfo{Kind: pk, IsArray: p.IsArray, Name: p.Name})
	}
	a.table.AddSymbol(funcEntry)

	prevKind, prevName := a.currentFuncKind, a.currentFuncName
	a.currentFuncKind, a.currentFuncName = kind, fn.Name
	a.inFunction = true
	a.currentOffset = 0

	// One scope covers parameters and the body's top level; the IR
	// generator replays exactly this scope order.
	a.table.EnterScope()
	bodyScope := a.table.CurrentScopeID()

	for _, p := range fn.Params {
		pk := symtab.Int
		if p.IsArray {
			pk = symtab.IntArray
		}
		if a.table.DefinedInCurrentScope(p.Name) {
			a.addError(p.Tok.Line, diag.CodeRedefined)
			continue
		}
		entry := symtab.NewEntry(p.Name, pk, bodyScope, p.Tok.Line)
		entry.IsParam = true
		if p.IsArray {
			entry.ArraySize = 0
		}
		entry.Size = entry.ByteSize()
		entry.Offset = a.currentOffset
		a.currentOffset += entry.ByteSize()
		a.table.AddSymbol(entry)
	}

	a.visitBlock(fn.Body, true)

	a.table.ExitScope()
	a.table.UpdateFuncFrameSize(fn.Name, a.currentOffset)

	if kind == symtab.IntFunc && fn.Body != nil {
		if a.canFallThrough(fn.Body) {
			a.addError(fn.Body.Data.(ast.BlockNode).EndLine, diag.CodeMissingReturn)
		}
	}

	a.log.Debug().Str("func", fn.Name).Int("frame", a.currentOffset).Msg("function laid out")
	a.currentFuncKind, a.currentFuncName = prevKind, prevName
	a.inFunction = false
}

func (a *Analyzer) visitBlock(node *ast.Node, isFunctionBody bool) {
	if node == nil {
		return
	}
	if !isFunctionBody {
		a.table.EnterScope()
	}
	for _, item := range node.Data.(ast.BlockNode).Items {
		switch item.Type {
		case ast.ConstDecl, ast.VarDecl:
			a.visitDecl(item)
		default:
			a.visitStmt(item)
		}
	}
	if !isFunctionBody {
		a.table.ExitScope()
	}
}

// === statements ===

func (a *Analyzer) visitStmt(node *ast.Node) {
	if node == nil {
		return
	}
	switch node.Type {
	case ast.Block:
		a.visitBlock(node, false)

	case ast.AssignStmt:
		d := node.Data.(ast.AssignStmtNode)
		a.checkAssignTarget(d.Target)
		if d.Value != nil && d.Value.Type != ast.GetintExpr {
			a.visitExp(d.Value)
		}

	case ast.ExpStmt:
		if x := node.Data.(ast.ExpStmtNode).X; x != nil {
			a.visitExp(x)
		}

	case ast.IfStmt:
		d := node.Data.(ast.IfStmtNode)
		a.visitExp(d.Cond)
		a.visitStmt(d.Then)
		a.visitStmt(d.Else)

	case ast.ForLoop:
		d := node.Data.(ast.ForLoopNode)
		a.visitStmt(d.Init)
		if d.Cond != nil {
			a.visitExp(d.Cond)
		}
		a.visitStmt(d.Step)
		a.loopDepth++
		a.visitStmt(d.Body)
		a.loopDepth--

	case ast.ForStmt:
		for _, assign := range node.Data.(ast.ForStmtNode).Assigns {
			a.visitStmt(assign)
		}

	case ast.BreakStmt, ast.ContinueStmt:
		if a.loopDepth == 0 {
			a.addError(node.Tok.Line, diag.CodeStrayJump)
		}

	case ast.ReturnStmt:
		d := node.Data.(ast.ReturnStmtNode)
		if d.Value != nil {
			if a.currentFuncKind == symtab.VoidFunc {
				a.addError(node.Tok.Line, diag.CodeVoidReturn)
			}
			a.visitExp(d.Value)
		}

	case ast.PrintfStmt:
		a.checkPrintf(node)
	}
}

func (a *Analyzer) checkAssignTarget(target *ast.Node) {
	if target == nil || target.Type != ast.LVal {
		return
	}
	lv := target.Data.(ast.LValNode)
	sym := a.table.FindSymbol(lv.Name)
	if sym == nil {
		a.addError(target.Tok.Line, diag.CodeUndefined)
		return
	}
	if sym.IsConstant() {
		a.addError(target.Tok.Line, diag.CodeAssignConst)
	}
	if lv.Index != nil {
		a.visitExp(lv.Index)
	}
}

func (a *Analyzer) checkPrintf(node *ast.Node) {
	d := node.Data.(ast.PrintfStmtNode)
	line := node.Tok.Line

	if d.Format == "" {
		a.addError(line, diag.CodePrintfArgCount)
		return
	}
	raw := d.Format
	if len(raw) >= 2 {
		raw = raw[1 : len(raw)-1]
	}
	specifiers := 0
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] == '%' && raw[i+1] == 'd' {
			specifiers++
			i++
		}
	}
	if specifiers != len(d.Args) {
		a.addError(line, diag.CodePrintfArgCount)
	}
	for _, arg := range d.Args {
		a.visitExp(arg)
	}
}

// === expressions ===

func (a *Analyzer) visitExp(node *ast.Node) {
	if node == nil {
		return
	}
	switch node.Type {
	case ast.BinaryOp:
		d := node.Data.(ast.BinaryOpNode)
		a.visitExp(d.Left)
		a.visitExp(d.Right)
	case ast.UnaryOp:
		a.visitExp(node.Data.(ast.UnaryOpNode).X)
	case ast.LVal:
		d := node.Data.(ast.LValNode)
		if a.table.FindSymbol(d.Name) == nil {
			a.addError(node.Tok.Line, diag.CodeUndefined)
		}
		if d.Index != nil {
			a.visitExp(d.Index)
		}
	case ast.Call:
		a.checkCall(node)
	case ast.Number, ast.GetintExpr:
	}
}

func (a *Analyzer) checkCall(node *ast.Node) {
	d := node.Data.(ast.CallNode)
	line := node.Tok.Line

	sym := a.table.FindSymbol(d.Name)
	if sym == nil {
		a.addError(line, diag.CodeUndefined)
		for _, arg := range d.Args {
			a.visitExp(arg)
		}
		return
	}
	if !sym.IsFunction() {
		a.addError(line, diag.CodeUndefined)
		return
	}
	if len(d.Args) != len(sym.Params) {
		a.addError(line, diag.CodeArgCount)
	} else {
		for i, arg := range d.Args {
			actualIsArray, actualIsConstArray := a.argIsArray(arg)
			expected := sym.Params[i]
			if expected.IsArray != actualIsArray {
				a.addError(line, diag.CodeArgType)
			} else if expected.IsArray && actualIsConstArray {
				a.addError(line, diag.CodeArgType)
			}
		}
	}
	for _, arg := range d.Args {
		a.visitExp(arg)
	}
}

// argIsArray reports whether the argument expression denotes a whole array
// (an unsubscripted array name), and whether that array is const.
func (a *Analyzer) argIsArray(arg *ast.Node) (isArray, isConstArray bool) {
	if arg == nil || arg.Type != ast.LVal {
		return false, false
	}
	lv := arg.Data.(ast.LValNode)
	if lv.Index != nil {
		return false, false
	}
	sym := a.table.FindSymbol(lv.Name)
	if sym == nil || !sym.IsArray() {
		return false, false
	}
	return true, sym.Kind == symtab.ConstIntArray
}

// === constant expression evaluation ===

func (a *Analyzer) evalConst(node *ast.Node) (int, bool) {
	if node == nil {
		return 0, false
	}
	switch node.Type {
	case ast.Number:
		return node.Data.(ast.NumberNode).Value, true
	case ast.UnaryOp:
		d := node.Data.(ast.UnaryOpNode)
		v, ok := a.evalConst(d.X)
		if !ok {
			return 0, false
		}
		switch d.Op {
		case token.Plus:
			return v, true
		case token.Minus:
			return -v, true
		case token.Not:
			if v == 0 {
				return 1, true
			}
			return 0, true
		}
		return 0, false
	case ast.BinaryOp:
		d := node.Data.(ast.BinaryOpNode)
		l, lok := a.evalConst(d.Left)
		r, rok := a.evalConst(d.Right)
		if !lok || !rok {
			return 0, false
		}
		switch d.Op {
		case token.Plus:
			return l + r, true
		case token.Minus:
			return l - r, true
		case token.Star:
			return l * r, true
		case token.Slash:
			if r == 0 {
				return 0, false
			}
			return l / r, true
		case token.Rem:
			if r == 0 {
				return 0, false
			}
			return l % r, true
		}
		return 0, false
	case ast.LVal:
		d := node.Data.(ast.LValNode)
		sym := a.table.FindSymbol(d.Name)
		if sym == nil || !sym.IsConstant() {
			return 0, false
		}
		if sym.IsArray() {
			if d.Index == nil {
				return 0, false
			}
			idx, ok := a.evalConst(d.Index)
			if !ok {
				return 0, false
			}
			return sym.ArrayElement(idx), true
		}
		return sym.Value, true
	}
	return 0, false
}

// === control-flow analysis for the missing-return check ===

// canFallThrough reports whether execution can reach the end of node without
// hitting a return on every path. Loops are assumed skippable.
func (a *Analyzer) canFallThrough(node *ast.Node) bool {
	if node == nil {
		return true
	}
	switch node.Type {
	case ast.ReturnStmt:
		return false
	case ast.Block:
		for _, item := range node.Data.(ast.BlockNode).Items {
			if !a.canFallThrough(item) {
				return false
			}
		}
		return true
	case ast.IfStmt:
		d := node.Data.(ast.IfStmtNode)
		if d.Else == nil {
			return true
		}
		return a.canFallThrough(d.Then) || a.canFallThrough(d.Else)
	default:
		return true
	}
}
