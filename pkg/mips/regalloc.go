package mips

import (
	"fmt"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ir"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/symtab"
)

// The allocatable pool. $t8 is reserved for immediates and $t9 for address
// computation; neither ever enters allocation.
const (
	regImm  = "$t8"
	regAddr = "$t9"
)

var pool = []string{"$t0", "$t1", "$t2", "$t3", "$t4", "$t5", "$t6", "$t7"}

// regAlloc is a FIFO allocator with dirty-bit write-back. Eviction order is
// insertion order of the busy list; using a register does not refresh it.
type regAlloc struct {
	gen      *Generator
	free     []string
	busy     []string // insertion order, front is the eviction victim
	varToReg map[string]string
	regToVar map[string]string
	varToSym map[string]*symtab.Entry // so a spill can reach the home slot later
	dirty    map[string]bool
}

func newRegAlloc(gen *Generator) *regAlloc {
	a := &regAlloc{gen: gen}
	a.reset()
	return a
}

func (a *regAlloc) reset() {
	a.free = append([]string(nil), pool...)
	a.busy = nil
	a.varToReg = make(map[string]string)
	a.regToVar = make(map[string]string)
	a.varToSym = make(map[string]*symtab.Entry)
	a.dirty = make(map[string]bool)
}

func (a *regAlloc) take() string {
	if len(a.free) > 0 {
		reg := a.free[0]
		a.free = a.free[1:]
		return reg
	}
	reg := a.busy[0]
	a.busy = a.busy[1:]
	a.spillReg(reg)
	return reg
}

func (a *regAlloc) bind(name string, reg string, sym *symtab.Entry) {
	a.varToReg[name] = reg
	a.regToVar[reg] = name
	if sym != nil {
		a.varToSym[name] = sym
	}
	a.busy = append(a.busy, reg)
}

// getReg returns a register holding op. Immediates load into $t8. A miss
// allocates (evicting FIFO if needed) and, when load is set, fills the
// register from the home slot; either way the register starts clean.
func (a *regAlloc) getReg(op *ir.Operand, load bool) string {
	if op.Kind == ir.Imm {
		a.gen.emit(fmt.Sprintf("li %s, %d", regImm, op.Value))
		return regImm
	}

	if reg, ok := a.varToReg[op.Name]; ok {
		return reg
	}

	reg := a.take()
	a.bind(op.Name, reg, op.Sym)
	delete(a.dirty, reg)

	if load {
		addr := a.gen.addressOf(op.Kind, op.Name, op.Sym, regAddr)
		a.gen.emit(fmt.Sprintf("lw %s, %s", reg, addr))
	}
	return reg
}

// allocateReg is getReg without the fill: the caller overwrites the whole
// register, which therefore starts dirty.
func (a *regAlloc) allocateReg(result *ir.Operand) string {
	if reg, ok := a.varToReg[result.Name]; ok {
		a.dirty[reg] = true
		return reg
	}
	reg := a.take()
	a.bind(result.Name, reg, result.Sym)
	a.dirty[reg] = true
	return reg
}

// spillReg writes the register back to its home slot when dirty and drops
// the mapping. The address scratch is always $t9 so a live immediate in $t8
// survives.
func (a *regAlloc) spillReg(reg string) {
	name, ok := a.regToVar[reg]
	if !ok {
		return
	}
	if a.dirty[reg] {
		addr := a.gen.addressOf(ir.Var, name, a.varToSym[name], regAddr)
		a.gen.emit(fmt.Sprintf("sw %s, %s", reg, addr))
	}
	delete(a.varToReg, name)
	delete(a.regToVar, reg)
	delete(a.dirty, reg)
	delete(a.varToSym, name)
}

// spillAll writes back every dirty register and empties the allocator.
// Called before every jump, branch, call, IO instruction and at labels.
func (a *regAlloc) spillAll() {
	active := append([]string(nil), a.busy...)
	for _, reg := range active {
		a.spillReg(reg)
		a.free = append(a.free, reg)
	}
	a.busy = nil
	a.dirty = make(map[string]bool)
}

// clearMap drops every mapping without write-back: at function entry the
// new frame's contents are undefined until the first write.
func (a *regAlloc) clearMap() {
	a.free = append(a.free, a.busy...)
	a.busy = nil
	a.varToReg = make(map[string]string)
	a.regToVar = make(map[string]string)
	a.varToSym = make(map[string]*symtab.Entry)
	a.dirty = make(map[string]bool)
}

// mapParamToReg copies an incoming argument register into an allocated
// register so the allocator's view matches the prologue-saved home slot.
// The register starts clean: the home slot already holds the value.
func (a *regAlloc) mapParamToReg(name string, srcReg string) {
	reg := a.take()
	a.gen.emit(fmt.Sprintf("move %s, %s", reg, srcReg))
	a.bind(name, reg, nil)
	delete(a.dirty, reg)
}
