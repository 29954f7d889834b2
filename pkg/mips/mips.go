package mips

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ir"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/symtab"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/util"
)

// funcContext tracks the function whose instructions are being lowered.
// Functions cannot interleave in this language, but the stack keeps nested
// IR sections safe.
type funcContext struct {
	name string
	info *ir.FuncInfo
}

// Generator emits SPIM/MARS assembly for the optimized IR. Register state
// is carried by a FIFO allocator; every block boundary synchronizes it back
// to memory.
type Generator struct {
	out   strings.Builder
	mod   *ir.Module
	table *symtab.Table
	alloc *regAlloc
	log   zerolog.Logger

	funcStack    []funcContext
	currentLabel string
}

func NewGenerator(mod *ir.Module, table *symtab.Table) *Generator {
	g := &Generator{mod: mod, table: table, log: util.Stage("mips")}
	g.alloc = newRegAlloc(g)
	return g
}

func (g *Generator) Generate() string {
	g.genDataSegment()
	g.genTextSegment()
	return g.out.String()
}

func (g *Generator) emit(asm string) {
	g.out.WriteString("    ")
	g.out.WriteString(asm)
	g.out.WriteByte('\n')
}

func (g *Generator) emitLabel(label string) {
	g.out.WriteString(mipsLabel(label))
	g.out.WriteString(":\n")
}

// mipsLabel prefixes every user-visible label with an underscore so that
// names like "div" or "add" cannot collide with mnemonics. main keeps its
// spelling because it is the program entry.
func mipsLabel(name string) string {
	if name == "main" {
		return "main"
	}
	return "_" + name
}

func (g *Generator) currentFunc() *funcContext {
	if len(g.funcStack) == 0 {
		return nil
	}
	return &g.funcStack[len(g.funcStack)-1]
}

// addressOf resolves a variable or temporary to an addressable operand.
// Frame residents resolve to -offset($fp); globals and statics load their
// label's address into tempReg. A temporary missing from the codegen map is
// a compiler bug.
func (g *Generator) addressOf(kind ir.OperandKind, name string, sym *symtab.Entry, tempReg string) string {
	if ctx := g.currentFunc(); ctx != nil && ctx.info != nil {
		if slot, ok := ctx.info.SymbolMap[name]; ok {
			return fmt.Sprintf("-%d($fp)", slot.Offset)
		}
	}

	if sym != nil && !sym.IsStatic() && (sym.IsParam || sym.Scope > symtab.GlobalScopeID) {
		util.Fatalf("mips: no frame slot for operand %s", name)
	}
	if kind == ir.Temp {
		util.Fatalf("mips: temporary %s missing from the codegen map", name)
	}

	label := name
	if sym != nil && sym.Label != "" {
		label = sym.Label
	}
	g.emit(fmt.Sprintf("la %s, %s", tempReg, mipsLabel(label)))
	return fmt.Sprintf("0(%s)", tempReg)
}

// === data segment ===

func (g *Generator) genDataSegment() {
	g.out.WriteString(".data\n")

	for _, sym := range g.table.AllSymbols() {
		isGlobal := sym.Scope == symtab.GlobalScopeID
		if (!isGlobal && !sym.IsStatic()) || sym.IsFunction() {
			continue
		}
		label := sym.Label
		if label == "" {
			label = sym.Name
		}
		g.emit(".align 2")
		g.emitLabel(label)
		if sym.IsArray() {
			if len(sym.ArrayInitValues) == 0 {
				g.emit(fmt.Sprintf(".space %d", sym.ByteSize()))
			} else {
				for _, v := range sym.ArrayInitValues {
					g.emit(fmt.Sprintf(".word %d", v))
				}
				remaining := sym.ByteSize() - len(sym.ArrayInitValues)*4
				if remaining > 0 {
					g.emit(fmt.Sprintf(".space %d", remaining))
				}
			}
		} else {
			g.emit(fmt.Sprintf(".word %d", sym.Value))
		}
	}

	for _, label := range g.mod.StringLabels() {
		fmt.Fprintf(&g.out, "%s: .asciiz \"%s\"\n", label, util.EscapeAsciiz(g.mod.Strings[label]))
	}
	g.out.WriteByte('\n')
}

// === text segment ===

func (g *Generator) genTextSegment() {
	g.out.WriteString(".text\n")

	// entry trampoline; the exit syscall catches a main that returns
	g.emit("jal main")
	g.emit("li $v0, 10")
	g.emit("syscall")
	g.out.WriteByte('\n')

	for _, instr := range g.mod.Instrs {
		g.lower(instr)
	}
}

func (g *Generator) lower(instr *ir.Instruction) {
	switch instr.Op {
	case ir.OpFuncEntry:
		g.lowerFuncEntry()
	case ir.OpFuncExit:
		g.lowerFuncExit()

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod:
		// addu/subu suppress the overflow trap; int wraps in this language
		ops := map[ir.Op]string{
			ir.OpAdd: "addu", ir.OpSub: "subu", ir.OpMul: "mul",
			ir.OpDiv: "div", ir.OpMod: "rem",
		}
		g.lowerBinary(instr, ops[instr.Op])

	case ir.OpGt, ir.OpGe, ir.OpLt, ir.OpLe, ir.OpEq, ir.OpNeq:
		ops := map[ir.Op]string{
			ir.OpGt: "sgt", ir.OpGe: "sge", ir.OpLt: "slt",
			ir.OpLe: "sle", ir.OpEq: "seq", ir.OpNeq: "sne",
		}
		g.lowerBinary(instr, ops[instr.Op])

	case ir.OpSll, ir.OpSra:
		g.lowerShift(instr)

	case ir.OpNeg, ir.OpNot:
		g.lowerUnary(instr)

	case ir.OpAssign:
		src := g.alloc.getReg(instr.Arg1, true)
		dst := g.alloc.allocateReg(instr.Result)
		g.emit(fmt.Sprintf("move %s, %s", dst, src))

	case ir.OpLabel:
		// close the previous block before the new one becomes reachable
		g.alloc.spillAll()
		g.emitLabel(instr.Result.Name)
		g.currentLabel = instr.Result.Name

	case ir.OpJump:
		g.alloc.spillAll()
		g.emit("j " + mipsLabel(instr.Result.Name))

	case ir.OpBeqz:
		g.lowerBranch(instr)

	case ir.OpLoad:
		base := g.alloc.getReg(instr.Arg1, true)
		dst := g.alloc.allocateReg(instr.Result)
		g.emit(fmt.Sprintf("lw %s, %d(%s)", dst, instr.Arg2.Value, base))

	case ir.OpStore:
		g.lowerStore(instr)

	case ir.OpGetAddr:
		g.lowerGetAddr(instr)

	case ir.OpParam:
		val := g.alloc.getReg(instr.Result, true)
		g.emit("subu $sp, $sp, 4")
		g.emit(fmt.Sprintf("sw %s, 0($sp)", val))

	case ir.OpCall:
		g.lowerCall(instr)

	case ir.OpRet:
		g.lowerRet(instr)

	case ir.OpGetint:
		g.alloc.spillAll()
		g.emit("li $v0, 5")
		g.emit("syscall")
		if instr.Result != nil {
			dst := g.alloc.allocateReg(instr.Result)
			g.emit(fmt.Sprintf("move %s, $v0", dst))
		}

	case ir.OpPrintInt:
		g.alloc.spillAll()
		val := g.alloc.getReg(instr.Result, true)
		g.emit(fmt.Sprintf("move $a0, %s", val))
		g.emit("li $v0, 1")
		g.emit("syscall")

	case ir.OpPrintStr:
		g.alloc.spillAll()
		g.emit("la $a0, " + instr.Result.Name)
		g.emit("li $v0, 4")
		g.emit("syscall")
	}
}

func (g *Generator) lowerFuncEntry() {
	g.alloc.clearMap()

	funcName := g.currentLabel
	info := g.mod.Funcs[funcName]
	g.funcStack = append(g.funcStack, funcContext{name: funcName, info: info})

	frameSize := baseFrameSize
	if info != nil {
		frameSize = info.FrameSize
	}

	g.emit(fmt.Sprintf("subu $sp, $sp, %d", frameSize))
	g.emit(fmt.Sprintf("sw $ra, %d($sp)", frameSize-4))
	g.emit(fmt.Sprintf("sw $fp, %d($sp)", frameSize-8))
	g.emit(fmt.Sprintf("addiu $fp, $sp, %d", frameSize))

	if info == nil {
		return
	}
	totalParams := len(info.ParamList)
	for i, paramName := range info.ParamList {
		slot, ok := info.SymbolMap[paramName]
		if !ok {
			continue
		}
		if i < 4 {
			aReg := fmt.Sprintf("$a%d", i)
			g.emit(fmt.Sprintf("sw %s, -%d($fp)", aReg, slot.Offset))
			g.alloc.mapParamToReg(paramName, aReg)
		} else {
			// stack-passed arguments sit above $fp in the caller's frame
			callerOffset := (totalParams - 1 - i) * 4
			g.emit(fmt.Sprintf("lw %s, %d($fp)", regImm, callerOffset))
			g.emit(fmt.Sprintf("sw %s, -%d($fp)", regImm, slot.Offset))
		}
	}
}

// baseFrameSize covers the saved $ra, $fp and the reserved slot when a
// function somehow lacks codegen info.
const baseFrameSize = 12

func (g *Generator) lowerFuncExit() {
	ctx := g.currentFunc()
	if ctx == nil {
		util.Fatalf("mips: FUNC_EXIT outside any function")
	}

	g.emitLabel("__end_" + ctx.name)
	g.alloc.spillAll()

	if ctx.name == "main" {
		g.emit("li $v0, 10")
		g.emit("syscall")
	} else {
		g.emit("lw $ra, -4($fp)")
		g.emit("move $sp, $fp")
		g.emit("lw $fp, -8($sp)")
		g.emit("jr $ra")
	}
	g.out.WriteByte('\n')

	g.funcStack = g.funcStack[:len(g.funcStack)-1]
}

func (g *Generator) lowerBinary(instr *ir.Instruction, mipsOp string) {
	// Two immediates: allocate the destination first so any spill uses $t9
	// before the immediates occupy $t8/$t9.
	if instr.Arg1.Kind == ir.Imm && instr.Arg2.Kind == ir.Imm {
		dst := g.alloc.allocateReg(instr.Result)
		g.emit(fmt.Sprintf("li %s, %d", regImm, instr.Arg1.Value))
		g.emit(fmt.Sprintf("li %s, %d", regAddr, instr.Arg2.Value))
		g.emit(fmt.Sprintf("%s %s, %s, %s", mipsOp, dst, regImm, regAddr))
		return
	}

	r1 := g.alloc.getReg(instr.Arg1, true)
	r2 := g.alloc.getReg(instr.Arg2, true)
	dst := g.alloc.allocateReg(instr.Result)
	g.emit(fmt.Sprintf("%s %s, %s, %s", mipsOp, dst, r1, r2))
}

func (g *Generator) lowerShift(instr *ir.Instruction) {
	op := "sll"
	if instr.Op == ir.OpSra {
		op = "sra"
	}
	src := g.alloc.getReg(instr.Arg1, true)
	dst := g.alloc.allocateReg(instr.Result)
	g.emit(fmt.Sprintf("%s %s, %s, %d", op, dst, src, instr.Arg2.Value))
}

func (g *Generator) lowerUnary(instr *ir.Instruction) {
	src := g.alloc.getReg(instr.Arg1, true)
	dst := g.alloc.allocateReg(instr.Result)
	if instr.Op == ir.OpNeg {
		g.emit(fmt.Sprintf("neg %s, %s", dst, src))
	} else {
		// seq dst, src, $zero realizes logical not
		g.emit(fmt.Sprintf("seq %s, %s, $zero", dst, src))
	}
}

func (g *Generator) lowerBranch(instr *ir.Instruction) {
	// Grab the condition first so a register hit survives the spill; the
	// write-back leaves the register's numeric value intact.
	cond := g.alloc.getReg(instr.Result, true)
	g.alloc.spillAll()
	g.emit(fmt.Sprintf("beqz %s, %s", cond, mipsLabel(instr.Arg1.Name)))
}

// baseIntoAddrReg materializes a base address in $t9. Temporaries and array
// parameters hold the address as a value; local arrays live in the frame;
// everything else is a data-section label.
func (g *Generator) baseIntoAddrReg(base *ir.Operand) {
	if base.Kind == ir.Temp || (base.Sym != nil && base.Sym.IsParam) {
		baseReg := g.alloc.getReg(base, true)
		g.emit(fmt.Sprintf("move %s, %s", regAddr, baseReg))
		return
	}
	if ctx := g.currentFunc(); ctx != nil && ctx.info != nil {
		if slot, ok := ctx.info.SymbolMap[base.Name]; ok {
			g.emit(fmt.Sprintf("addiu %s, $fp, -%d", regAddr, slot.Offset+slot.Size-4))
			return
		}
	}
	label := base.Name
	if base.Sym != nil && base.Sym.Label != "" {
		label = base.Sym.Label
	}
	g.emit(fmt.Sprintf("la %s, %s", regAddr, mipsLabel(label)))
}

func (g *Generator) lowerStore(instr *ir.Instruction) {
	valOp, baseOp, offOp := instr.Result, instr.Arg1, instr.Arg2

	// all operand registers first: any load they trigger uses $t9, which we
	// only claim afterwards for the base address
	val := g.alloc.getReg(valOp, true)
	offReg := ""
	if offOp.Kind != ir.Imm {
		offReg = g.alloc.getReg(offOp, true)
	}

	g.baseIntoAddrReg(baseOp)

	if offOp.Kind == ir.Imm {
		g.emit(fmt.Sprintf("sw %s, %d(%s)", val, offOp.Value, regAddr))
	} else {
		g.emit(fmt.Sprintf("addu %s, %s, %s", regAddr, regAddr, offReg))
		g.emit(fmt.Sprintf("sw %s, 0(%s)", val, regAddr))
	}
}

func (g *Generator) lowerGetAddr(instr *ir.Instruction) {
	baseOp, offOp := instr.Arg1, instr.Arg2
	dst := g.alloc.allocateReg(instr.Result)

	if baseOp.Kind == ir.Temp || (baseOp.Sym != nil && baseOp.Sym.IsParam) {
		baseReg := g.alloc.getReg(baseOp, true)
		g.emit(fmt.Sprintf("move %s, %s", dst, baseReg))
	} else if ctx := g.currentFunc(); ctx != nil && ctx.info != nil && ctx.info.SymbolMap[baseOp.Name] != nil {
		slot := ctx.info.SymbolMap[baseOp.Name]
		g.emit(fmt.Sprintf("addiu %s, $fp, -%d", dst, slot.Offset+slot.Size-4))
	} else {
		label := baseOp.Name
		if baseOp.Sym != nil && baseOp.Sym.Label != "" {
			label = baseOp.Sym.Label
		}
		g.emit(fmt.Sprintf("la %s, %s", dst, mipsLabel(label)))
	}

	if offOp.Kind == ir.Imm {
		if offOp.Value != 0 {
			g.emit(fmt.Sprintf("addiu %s, %s, %d", dst, dst, offOp.Value))
		}
	} else {
		offReg := g.alloc.getReg(offOp, true)
		// pointer arithmetic must not trap on overflow
		g.emit(fmt.Sprintf("addu %s, %s, %s", dst, dst, offReg))
	}
}

// lowerCall redistributes the already-pushed arguments: the first four load
// into $a0..$a3 straight from the stack, the rest stay put for the callee's
// prologue, and the whole pushed area is released after the jal.
func (g *Generator) lowerCall(instr *ir.Instruction) {
	g.alloc.spillAll()

	callee := instr.Arg1.Name
	paramCount := 0
	if info, ok := g.mod.Funcs[callee]; ok {
		paramCount = len(info.ParamList)
	}

	regsToLoad := paramCount
	if regsToLoad > 4 {
		regsToLoad = 4
	}
	for i := 0; i < regsToLoad; i++ {
		offset := (paramCount - 1 - i) * 4
		g.emit(fmt.Sprintf("lw $a%d, %d($sp)", i, offset))
	}

	g.emit("jal " + mipsLabel(callee))

	if paramCount > 0 {
		g.emit(fmt.Sprintf("addiu $sp, $sp, %d", paramCount*4))
	}

	if instr.Result != nil {
		dst := g.alloc.allocateReg(instr.Result)
		g.emit(fmt.Sprintf("move %s, $v0", dst))
	}
}

func (g *Generator) lowerRet(instr *ir.Instruction) {
	if instr.Result != nil {
		val := g.alloc.getReg(instr.Result, true)
		g.emit(fmt.Sprintf("move $v0, %s", val))
	}
	g.alloc.spillAll()

	ctx := g.currentFunc()
	if ctx == nil {
		util.Fatalf("mips: RET outside any function")
	}
	g.emit("j " + mipsLabel("__end_"+ctx.name))
}
