package irgen

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ast"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ir"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/symtab"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/token"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/util"
)

// baseOffset reserves room below $fp for the saved $ra, saved $fp and one
// spare slot; the first local lands at -12($fp).
const baseOffset = 12

// Generator lowers the AST to three-address code. It runs a second scope
// walk over the semantic analyzer's table: scope IDs are consumed in the
// same monotonic order they were created, so the walk must mirror the
// analyzer's scope entries exactly.
type Generator struct {
	table *symtab.Table
	mod   *ir.Module
	log   zerolog.Logger

	scopeStack  []*symtab.Scope
	iterScopeID int

	tempCounter   int
	labelCounter  int
	stringCounter int
	stringLabels  map[string]string // content -> label

	// active implements declaration-precedes-use: a local becomes visible
	// only after its initializer has been lowered.
	active map[*symtab.Entry]bool

	curInfo *ir.FuncInfo

	breakStack    []*ir.Operand
	continueStack []*ir.Operand
}

func NewGenerator(table *symtab.Table) *Generator {
	g := &Generator{
		table:        table,
		mod:          ir.NewModule(),
		log:          util.Stage("irgen"),
		stringLabels: make(map[string]string),
		active:       make(map[*symtab.Entry]bool),
	}
	g.enterScope()
	if global := table.ScopeByID(symtab.GlobalScopeID); global != nil {
		for _, sym := range global.Symbols() {
			g.active[sym] = true
		}
	}
	return g
}

func (g *Generator) Module() *ir.Module { return g.mod }

func (g *Generator) Generate(root *ast.Node) *ir.Module {
	if root != nil && root.Type == ast.CompUnit {
		unit := root.Data.(ast.CompUnitNode)
		for _, decl := range unit.Decls {
			g.visitDecl(decl)
		}
		for _, fn := range unit.Funcs {
			g.visitFuncDef(fn)
		}
		if unit.Main != nil {
			g.visitFuncDef(unit.Main)
		}
	}
	return g.mod
}

// === helpers ===

func (g *Generator) emit(op ir.Op, result, arg1, arg2 *ir.Operand) {
	g.mod.Instrs = append(g.mod.Instrs, &ir.Instruction{Op: op, Result: result, Arg1: arg1, Arg2: arg2})
}

func (g *Generator) emitLabel(label *ir.Operand) {
	g.emit(ir.OpLabel, label, nil, nil)
}

// newTemp allocates t<n> and registers its home slot at the current frame
// size. Temporaries outside any function (global initializers do not lower
// to code, so this should not happen) are left unregistered.
func (g *Generator) newTemp() *ir.Operand {
	name := fmt.Sprintf("t%d", g.tempCounter)
	g.tempCounter++
	if g.curInfo != nil {
		g.curInfo.SymbolMap[name] = &ir.SymInfo{
			Name:   name,
			Offset: g.curInfo.FrameSize,
			Size:   4,
			IsTemp: true,
		}
		g.curInfo.FrameSize += 4
	}
	return ir.NewTemp(name)
}

func (g *Generator) newLabel() *ir.Operand {
	label := ir.NewLabel(fmt.Sprintf("L%d", g.labelCounter))
	g.labelCounter++
	return label
}

// addString interns by content: identical format fragments share one label.
func (g *Generator) addString(content string) string {
	if label, ok := g.stringLabels[content]; ok {
		return label
	}
	label := fmt.Sprintf("str_%d", g.stringCounter)
	g.stringCounter++
	g.stringLabels[content] = label
	g.mod.Strings[label] = content
	return label
}

func (g *Generator) enterScope() {
	g.iterScopeID++
	scope := g.table.ScopeByID(g.iterScopeID)
	if scope == nil {
		util.Fatalf("irgen: scope sync failed, expected id %d", g.iterScopeID)
	}
	g.scopeStack = append(g.scopeStack, scope)
}

func (g *Generator) exitScope() {
	if len(g.scopeStack) > 0 {
		g.scopeStack = g.scopeStack[:len(g.scopeStack)-1]
	}
}

// lookup finds an entry in the generator's own scope stack, ignoring the
// active set.
func (g *Generator) lookup(name string) *symtab.Entry {
	for i := len(g.scopeStack) - 1; i >= 0; i-- {
		if e := g.scopeStack[i].Find(name); e != nil {
			return e
		}
	}
	return nil
}

// mangle rewrites a symbol's IR name: globals keep their source name,
// statics use their data label, other locals get a scope suffix so nested
// shadowing cannot collide.
func mangle(e *symtab.Entry) string {
	switch {
	case e.Scope == symtab.GlobalScopeID:
		return e.Name
	case e.IsStatic():
		if e.Label != "" {
			return e.Label
		}
		return fmt.Sprintf("%s_static_%d", e.Name, e.Scope)
	default:
		return fmt.Sprintf("%s_%d", e.Name, e.Scope)
	}
}

// getVar resolves a name against the active set: entries whose initializer
// has not finished lowering are skipped, so `int a = a + 1;` binds the
// right-hand a to the shadowed outer binding. A miss can only happen after
// a "c" diagnostic; this best-effort run substitutes a scratch temporary.
func (g *Generator) getVar(name string) *ir.Operand {
	for i := len(g.scopeStack) - 1; i >= 0; i-- {
		e := g.scopeStack[i].Find(name)
		if e == nil {
			continue
		}
		if !g.active[e] {
			continue
		}
		op := ir.NewVar(e)
		op.Name = mangle(e)
		return op
	}
	g.log.Error().Str("symbol", name).Msg("unresolved symbol, continuing best-effort")
	return g.newTemp()
}

// registerLocal adds a non-static local to the codegen map; the semantic
// analyzer's offset is shifted by baseOffset to its final frame position.
func (g *Generator) registerLocal(name string, e *symtab.Entry) {
	if g.curInfo == nil || e.Scope == symtab.GlobalScopeID || e.IsStatic() {
		return
	}
	if _, exists := g.curInfo.SymbolMap[name]; exists {
		return
	}
	g.curInfo.SymbolMap[name] = &ir.SymInfo{
		Name:    name,
		Offset:  e.Offset + baseOffset,
		Size:    e.ByteSize(),
		IsParam: e.IsParam,
	}
}

// === declarations ===

func (g *Generator) visitDecl(node *ast.Node) {
	switch node.Type {
	case ast.ConstDecl:
		for _, def := range node.Data.(ast.ConstDeclNode).Defs {
			g.visitVarDef(def)
		}
	case ast.VarDecl:
		for _, def := range node.Data.(ast.VarDeclNode).Defs {
			g.visitVarDef(def)
		}
	}
}

func (g *Generator) visitVarDef(node *ast.Node) {
	def := node.Data.(ast.VarDefNode)
	entry := g.lookup(def.Name)
	if entry == nil {
		// only possible after a "b" diagnostic dropped the entry
		for _, init := range def.Init {
			g.visitExp(init)
		}
		return
	}

	varOp := ir.NewVar(entry)
	varOp.Name = mangle(entry)

	isGlobal := entry.Scope == symtab.GlobalScopeID

	if isGlobal || entry.IsStatic() {
		// storage and initial values live in .data; nothing to lower
		g.active[entry] = true
		return
	}

	g.registerLocal(varOp.Name, entry)

	if entry.IsArray() {
		elementIndex := 0
		for _, init := range def.Init {
			val := g.visitExp(init)
			g.emit(ir.OpStore, val, varOp, ir.NewImm(elementIndex*4))
			elementIndex++
		}
		// an initializer list zero-fills the uninitialized tail
		if def.HasInit {
			for ; elementIndex < entry.ArraySize; elementIndex++ {
				g.emit(ir.OpStore, ir.NewImm(0), varOp, ir.NewImm(elementIndex*4))
			}
		}
	} else if len(def.Init) > 0 {
		val := g.visitExp(def.Init[0])
		g.emit(ir.OpAssign, varOp, val, nil)
	}

	g.active[entry] = true
}

// === functions ===

func (g *Generator) visitFuncDef(node *ast.Node) {
	fn := node.Data.(ast.FuncDefNode)

	g.emitLabel(ir.NewLabel(fn.Name))
	g.emit(ir.OpFuncEntry, nil, nil, nil)

	info := ir.NewFuncInfo(fn.Name)
	g.mod.Funcs[fn.Name] = info
	g.curInfo = info

	g.enterScope()
	funcScope := g.scopeStack[len(g.scopeStack)-1]

	// Parameters are live from the first instruction on.
	for _, sym := range funcScope.Symbols() {
		if sym.IsParam {
			g.active[sym] = true
		}
	}

	// Copy the function scope's non-static symbols into the codegen map and
	// collect parameter names in declaration order (ascending offsets map to
	// $a0..$a3).
	for _, sym := range funcScope.Symbols() {
		if sym.IsStatic() {
			continue
		}
		name := mangle(sym)
		g.registerLocal(name, sym)
		if sym.IsParam {
			info.ParamList = append(info.ParamList, name)
		}
	}
	for i := 1; i < len(info.ParamList); i++ {
		for j := i; j > 0 && info.SymbolMap[info.ParamList[j]].Offset < info.SymbolMap[info.ParamList[j-1]].Offset; j-- {
			info.ParamList[j], info.ParamList[j-1] = info.ParamList[j-1], info.ParamList[j]
		}
	}

	if funcSym := g.table.ScopeByID(symtab.GlobalScopeID).Find(fn.Name); funcSym != nil {
		info.FrameSize = funcSym.StackFrameSize + baseOffset
	} else {
		info.FrameSize = baseOffset
	}

	if fn.Body != nil {
		for _, item := range fn.Body.Data.(ast.BlockNode).Items {
			g.visitBlockItem(item)
		}
	}

	g.emit(ir.OpFuncExit, nil, nil, nil)
	g.exitScope()
	g.log.Debug().Str("func", fn.Name).Int("frame", info.FrameSize).Msg("function lowered")
	g.curInfo = nil
}

func (g *Generator) visitBlockItem(item *ast.Node) {
	switch item.Type {
	case ast.ConstDecl, ast.VarDecl:
		g.visitDecl(item)
	default:
		g.visitStmt(item)
	}
}

// === statements ===

func (g *Generator) visitStmt(node *ast.Node) {
	if node == nil {
		return
	}
	switch node.Type {
	case ast.Block:
		g.enterScope()
		for _, item := range node.Data.(ast.BlockNode).Items {
			g.visitBlockItem(item)
		}
		g.exitScope()

	case ast.AssignStmt:
		g.visitAssign(node)

	case ast.ExpStmt:
		if x := node.Data.(ast.ExpStmtNode).X; x != nil {
			g.visitExp(x)
		}

	case ast.IfStmt:
		g.visitIf(node)

	case ast.ForLoop:
		g.visitFor(node)

	case ast.ForStmt:
		for _, assign := range node.Data.(ast.ForStmtNode).Assigns {
			g.visitAssign(assign)
		}

	case ast.BreakStmt:
		if n := len(g.breakStack); n > 0 {
			g.emit(ir.OpJump, g.breakStack[n-1], nil, nil)
		}

	case ast.ContinueStmt:
		if n := len(g.continueStack); n > 0 {
			g.emit(ir.OpJump, g.continueStack[n-1], nil, nil)
		}

	case ast.ReturnStmt:
		var val *ir.Operand
		if v := node.Data.(ast.ReturnStmtNode).Value; v != nil {
			val = g.visitExp(v)
		}
		g.emit(ir.OpRet, val, nil, nil)

	case ast.PrintfStmt:
		g.visitPrintf(node)
	}
}

func (g *Generator) visitAssign(node *ast.Node) {
	d := node.Data.(ast.AssignStmtNode)
	lhs := g.visitLVal(d.Target, true)

	var rhs *ir.Operand
	if d.Value != nil && d.Value.Type == ast.GetintExpr {
		rhs = g.newTemp()
		g.emit(ir.OpGetint, rhs, nil, nil)
	} else {
		rhs = g.visitExp(d.Value)
	}

	if lhs.Kind == ir.Temp {
		// lhs holds an element address
		g.emit(ir.OpStore, rhs, lhs, ir.NewImm(0))
	} else {
		g.emit(ir.OpAssign, lhs, rhs, nil)
	}
}

func (g *Generator) visitIf(node *ast.Node) {
	d := node.Data.(ast.IfStmtNode)
	lTrue := g.newLabel()
	lFalse := g.newLabel()
	lNext := g.newLabel()

	if d.Else != nil {
		g.visitCond(d.Cond, lTrue, lFalse)
		g.emitLabel(lTrue)
		g.visitStmt(d.Then)
		g.emit(ir.OpJump, lNext, nil, nil)
		g.emitLabel(lFalse)
		g.visitStmt(d.Else)
		g.emitLabel(lNext)
	} else {
		g.visitCond(d.Cond, lTrue, lNext)
		g.emitLabel(lTrue)
		g.visitStmt(d.Then)
		g.emitLabel(lNext)
	}
}

func (g *Generator) visitFor(node *ast.Node) {
	d := node.Data.(ast.ForLoopNode)
	lStart := g.newLabel()
	lBody := g.newLabel()
	lStep := g.newLabel()
	lEnd := g.newLabel()

	if d.Init != nil {
		g.visitStmt(d.Init)
	}
	g.emitLabel(lStart)
	if d.Cond != nil {
		g.visitCond(d.Cond, lBody, lEnd)
	} else {
		g.emit(ir.OpJump, lBody, nil, nil)
	}
	g.emitLabel(lBody)

	g.breakStack = append(g.breakStack, lEnd)
	g.continueStack = append(g.continueStack, lStep)
	g.visitStmt(d.Body)
	g.breakStack = g.breakStack[:len(g.breakStack)-1]
	g.continueStack = g.continueStack[:len(g.continueStack)-1]

	g.emitLabel(lStep)
	if d.Step != nil {
		g.visitStmt(d.Step)
	}
	if d.Cond != nil {
		g.emit(ir.OpJump, lStart, nil, nil)
	} else {
		g.emit(ir.OpJump, lBody, nil, nil)
	}
	g.emitLabel(lEnd)
}

// visitPrintf computes every argument first, then walks the format string:
// literal runs become interned string constants, each %d consumes the next
// already-computed value.
func (g *Generator) visitPrintf(node *ast.Node) {
	d := node.Data.(ast.PrintfStmtNode)

	var args []*ir.Operand
	for _, arg := range d.Args {
		args = append(args, g.visitExp(arg))
	}

	raw := d.Format
	if len(raw) >= 2 {
		raw = raw[1 : len(raw)-1]
	}

	flush := func(buffer string) {
		if buffer == "" {
			return
		}
		label := g.addString(buffer)
		g.emit(ir.OpPrintStr, ir.NewLabel(label), nil, nil)
	}

	argIdx := 0
	buffer := ""
	for i := 0; i < len(raw); i++ {
		switch {
		case raw[i] == '%' && i+1 < len(raw) && raw[i+1] == 'd':
			flush(buffer)
			buffer = ""
			if argIdx < len(args) {
				g.emit(ir.OpPrintInt, args[argIdx], nil, nil)
				argIdx++
			}
			i++
		case raw[i] == '\\' && i+1 < len(raw) && raw[i+1] == 'n':
			buffer += "\n"
			i++
		default:
			buffer += string(raw[i])
		}
	}
	flush(buffer)
}

// === conditions (short-circuit) ===

func (g *Generator) visitCond(node *ast.Node, lTrue, lFalse *ir.Operand) {
	if node.Type == ast.BinaryOp {
		d := node.Data.(ast.BinaryOpNode)
		switch d.Op {
		case token.OrOr:
			lRhs := g.newLabel()
			g.visitCond(d.Left, lTrue, lRhs)
			g.emitLabel(lRhs)
			g.visitCond(d.Right, lTrue, lFalse)
			return
		case token.AndAnd:
			lRhs := g.newLabel()
			g.visitCond(d.Left, lRhs, lFalse)
			g.emitLabel(lRhs)
			val := g.visitExp(d.Right)
			g.emit(ir.OpBeqz, val, lFalse, nil)
			g.emit(ir.OpJump, lTrue, nil, nil)
			return
		}
	}
	val := g.visitExp(node)
	g.emit(ir.OpBeqz, val, lFalse, nil)
	g.emit(ir.OpJump, lTrue, nil, nil)
}

// === expressions ===

var binaryOps = map[token.Kind]ir.Op{
	token.Plus:  ir.OpAdd,
	token.Minus: ir.OpSub,
	token.Star:  ir.OpMul,
	token.Slash: ir.OpDiv,
	token.Rem:   ir.OpMod,
	token.Gt:    ir.OpGt,
	token.Gte:   ir.OpGe,
	token.Lt:    ir.OpLt,
	token.Lte:   ir.OpLe,
	token.EqEq:  ir.OpEq,
	token.Neq:   ir.OpNeq,
}

func (g *Generator) visitExp(node *ast.Node) *ir.Operand {
	if node == nil {
		return ir.NewImm(0)
	}
	switch node.Type {
	case ast.Number:
		return ir.NewImm(node.Data.(ast.NumberNode).Value)

	case ast.LVal:
		return g.visitLVal(node, false)

	case ast.UnaryOp:
		d := node.Data.(ast.UnaryOpNode)
		src := g.visitExp(d.X)
		if d.Op == token.Plus {
			return src
		}
		res := g.newTemp()
		if d.Op == token.Minus {
			g.emit(ir.OpNeg, res, src, nil)
		} else {
			g.emit(ir.OpNot, res, src, nil)
		}
		return res

	case ast.BinaryOp:
		d := node.Data.(ast.BinaryOpNode)
		// Logical operators are conditions; valid SysY cannot put them in a
		// value position, but recovery paths can, so materialize 0/1.
		if d.Op == token.AndAnd || d.Op == token.OrOr {
			return g.materializeCond(node)
		}
		left := g.visitExp(d.Left)
		right := g.visitExp(d.Right)
		res := g.newTemp()
		g.emit(binaryOps[d.Op], res, left, right)
		return res

	case ast.Call:
		return g.visitCall(node)

	case ast.GetintExpr:
		res := g.newTemp()
		g.emit(ir.OpGetint, res, nil, nil)
		return res
	}
	util.Fatalf("irgen: unhandled expression node %s", node.Type)
	return nil
}

func (g *Generator) materializeCond(node *ast.Node) *ir.Operand {
	res := g.newTemp()
	lTrue := g.newLabel()
	lFalse := g.newLabel()
	lNext := g.newLabel()
	g.visitCond(node, lTrue, lFalse)
	g.emitLabel(lTrue)
	g.emit(ir.OpAssign, res, ir.NewImm(1), nil)
	g.emit(ir.OpJump, lNext, nil, nil)
	g.emitLabel(lFalse)
	g.emit(ir.OpAssign, res, ir.NewImm(0), nil)
	g.emitLabel(lNext)
	return res
}

// visitCall evaluates and pushes arguments one at a time: each value is
// parked on the real stack by PARAM immediately, so a nested call inside a
// later argument cannot clobber it.
func (g *Generator) visitCall(node *ast.Node) *ir.Operand {
	d := node.Data.(ast.CallNode)
	for _, arg := range d.Args {
		val := g.visitExp(arg)
		g.emit(ir.OpParam, val, nil, nil)
	}
	ret := g.newTemp()
	g.emit(ir.OpCall, ret, ir.NewLabel(d.Name), nil)
	return ret
}

// visitLVal implements the value/address polarity. Address mode returns the
// element address for subscripted arrays (the caller stores through it) and
// the plain symbol for scalars (assign writes the symbol directly).
// Unsubscripted array names always decay to an address temporary.
func (g *Generator) visitLVal(node *ast.Node, isAddress bool) *ir.Operand {
	d := node.Data.(ast.LValNode)
	symOp := g.getVar(d.Name)

	if d.Index != nil {
		idx := g.visitExp(d.Index)
		offset := g.newTemp()
		g.emit(ir.OpMul, offset, idx, ir.NewImm(4))
		addr := g.newTemp()
		g.emit(ir.OpGetAddr, addr, symOp, offset)
		if isAddress {
			return addr
		}
		val := g.newTemp()
		g.emit(ir.OpLoad, val, addr, ir.NewImm(0))
		return val
	}

	if symOp.Sym != nil && symOp.Sym.IsArray() {
		addr := g.newTemp()
		g.emit(ir.OpGetAddr, addr, symOp, ir.NewImm(0))
		return addr
	}
	return symOp
}
