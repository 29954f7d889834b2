package optimizer

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ir"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/symtab"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/util"
)

// maxRounds bounds the fixed-point driver.
const maxRounds = 10

// BasicBlock instructions run straight-line; predecessors and successors
// are block indices into the owning function's arena.
type BasicBlock struct {
	ID     int
	Instrs []*ir.Instruction
	Preds  []int
	Succs  []int
}

type Function struct {
	Name   string
	Blocks []*BasicBlock
}

// Optimizer rewrites the linear IR: four intra-block passes plus a
// function-level dead-code pass, iterated to a fixed point.
type Optimizer struct {
	input         []*ir.Instruction
	funcs         []*Function
	globalDefines []*ir.Instruction
	log           zerolog.Logger
}

func NewOptimizer(instrs []*ir.Instruction) *Optimizer {
	return &Optimizer{input: instrs, log: util.Stage("optimizer")}
}

func (o *Optimizer) Run() []*ir.Instruction {
	o.splitFunctions()

	for _, fn := range o.funcs {
		o.buildCFG(fn)

		for round := 1; round <= maxRounds; round++ {
			changed := false
			for _, block := range fn.Blocks {
				if o.passConstantFolding(block) {
					changed = true
				}
				if o.passAlgebraicSimplification(block) {
					changed = true
				}
				if o.passLocalCSE(block) {
					changed = true
				}
				if o.passCopyPropagation(block) {
					changed = true
				}
			}
			if o.passDeadCodeElimination(fn) {
				changed = true
			}
			if !changed {
				break
			}
			o.log.Debug().Str("func", fn.Name).Int("round", round).Msg("pass round changed IR")
		}
	}

	var out []*ir.Instruction
	out = append(out, o.globalDefines...)
	for _, fn := range o.funcs {
		for _, block := range fn.Blocks {
			out = append(out, block.Instrs...)
		}
	}
	return out
}

// splitFunctions scans the linear IR: a new function begins at a label
// named main or a label whose immediate successor is FUNC_ENTRY.
// Instructions outside any function are preserved as global defines.
func (o *Optimizer) splitFunctions() {
	var current *Function
	for i, instr := range o.input {
		isFuncStart := false
		if instr.Op == ir.OpLabel {
			if instr.Result.Name == "main" {
				isFuncStart = true
			} else if i+1 < len(o.input) && o.input[i+1].Op == ir.OpFuncEntry {
				isFuncStart = true
			}
		}

		switch {
		case isFuncStart:
			current = &Function{Name: instr.Result.Name}
			current.Blocks = []*BasicBlock{{ID: 0, Instrs: []*ir.Instruction{instr}}}
			o.funcs = append(o.funcs, current)
		case current != nil:
			last := current.Blocks[len(current.Blocks)-1]
			last.Instrs = append(last.Instrs, instr)
		default:
			o.globalDefines = append(o.globalDefines, instr)
		}
	}
}

func isTerminator(op ir.Op) bool {
	return op == ir.OpJump || op == ir.OpBeqz || op == ir.OpRet
}

// buildCFG re-partitions a function into leader-delimited blocks and links
// them. Leaders: the first instruction, labels, FUNC_ENTRY, and anything
// immediately following a terminator.
func (o *Optimizer) buildCFG(fn *Function) {
	var raw []*ir.Instruction
	for _, block := range fn.Blocks {
		raw = append(raw, block.Instrs...)
	}

	fn.Blocks = nil
	var current *BasicBlock
	for _, instr := range raw {
		isLeader := instr.Op == ir.OpLabel || instr.Op == ir.OpFuncEntry || current == nil
		if !isLeader && len(current.Instrs) > 0 && isTerminator(current.Instrs[len(current.Instrs)-1].Op) {
			isLeader = true
		}
		if isLeader {
			current = &BasicBlock{ID: len(fn.Blocks)}
			fn.Blocks = append(fn.Blocks, current)
		}
		current.Instrs = append(current.Instrs, instr)
	}

	o.buildCFGEdges(fn)
}

func addEdge(fn *Function, from, to int) {
	for _, s := range fn.Blocks[from].Succs {
		if s == to {
			return
		}
	}
	fn.Blocks[from].Succs = append(fn.Blocks[from].Succs, to)
	fn.Blocks[to].Preds = append(fn.Blocks[to].Preds, from)
}

func (o *Optimizer) buildCFGEdges(fn *Function) {
	labelToBlock := make(map[string]int)
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if instr.Op == ir.OpLabel {
				labelToBlock[instr.Result.Name] = block.ID
			}
		}
	}

	for i, block := range fn.Blocks {
		if len(block.Instrs) == 0 {
			if i+1 < len(fn.Blocks) {
				addEdge(fn, i, i+1)
			}
			continue
		}
		last := block.Instrs[len(block.Instrs)-1]
		switch last.Op {
		case ir.OpJump:
			if target, ok := labelToBlock[last.Result.Name]; ok {
				addEdge(fn, i, target)
			}
		case ir.OpBeqz:
			if target, ok := labelToBlock[last.Arg1.Name]; ok {
				addEdge(fn, i, target)
			}
			if i+1 < len(fn.Blocks) {
				addEdge(fn, i, i+1)
			}
		case ir.OpRet:
			// no successors
		default:
			if i+1 < len(fn.Blocks) {
				addEdge(fn, i, i+1)
			}
		}
	}
}

// === Pass 1: constant folding ===

// safeToFold gates constant records: temporaries and local non-static
// variables only. Globals and statics may be mutated by a later call this
// block-local analysis cannot see.
func safeToFold(op *ir.Operand) bool {
	if op.Kind == ir.Temp {
		return true
	}
	if op.Kind == ir.Var && op.Sym != nil {
		return op.Sym.Scope > symtab.GlobalScopeID && !op.Sym.IsStatic()
	}
	return false
}

func wrap32(v int) int { return int(int32(v)) }

func foldBinary(op ir.Op, v1, v2 int) (int, bool) {
	switch op {
	case ir.OpAdd:
		return wrap32(wrap32(v1) + wrap32(v2)), true
	case ir.OpSub:
		return wrap32(wrap32(v1) - wrap32(v2)), true
	case ir.OpMul:
		return wrap32(wrap32(v1) * wrap32(v2)), true
	case ir.OpDiv:
		if v2 == 0 {
			return 0, false
		}
		return wrap32(v1 / v2), true
	case ir.OpMod:
		if v2 == 0 {
			return 0, false
		}
		return wrap32(v1 % v2), true
	case ir.OpGt:
		return b2i(v1 > v2), true
	case ir.OpGe:
		return b2i(v1 >= v2), true
	case ir.OpLt:
		return b2i(v1 < v2), true
	case ir.OpLe:
		return b2i(v1 <= v2), true
	case ir.OpEq:
		return b2i(v1 == v2), true
	case ir.OpNeq:
		return b2i(v1 != v2), true
	case ir.OpSll:
		return wrap32(int(int32(v1) << uint(v2&31))), true
	case ir.OpSra:
		return int(int32(v1) >> uint(v2&31)), true
	}
	return 0, false
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (o *Optimizer) passConstantFolding(block *BasicBlock) bool {
	changed := false
	constValues := make(map[string]int)

	for _, instr := range block.Instrs {
		// substitute uses; the base address of memory ops is never rewritten
		isMemBase := instr.Op == ir.OpStore || instr.Op == ir.OpLoad || instr.Op == ir.OpGetAddr
		if instr.Arg1 != nil && instr.Arg1.Kind != ir.Imm && !isMemBase {
			if v, ok := constValues[instr.Arg1.String()]; ok {
				instr.Arg1 = ir.NewImm(v)
				changed = true
			}
		}
		if instr.Arg2 != nil && instr.Arg2.Kind != ir.Imm {
			if v, ok := constValues[instr.Arg2.String()]; ok {
				instr.Arg2 = ir.NewImm(v)
				changed = true
			}
		}
		resultIsUse := instr.Op.ResultIsUse()
		if resultIsUse && instr.Result != nil && instr.Result.Kind != ir.Imm && instr.Result.Kind != ir.Label {
			if v, ok := constValues[instr.Result.String()]; ok {
				instr.Result = ir.NewImm(v)
				changed = true
			}
		}

		// definitions: try to compute a new constant
		isConstantDef := false
		if !resultIsUse && instr.Result != nil &&
			(instr.Result.Kind == ir.Temp || instr.Result.Kind == ir.Var) && safeToFold(instr.Result) {

			switch {
			case instr.Op == ir.OpAssign && instr.Arg1 != nil && instr.Arg1.Kind == ir.Imm:
				constValues[instr.Result.String()] = instr.Arg1.Value
				isConstantDef = true

			case instr.Arg1 != nil && instr.Arg1.Kind == ir.Imm && instr.Arg2 != nil && instr.Arg2.Kind == ir.Imm:
				if v, ok := foldBinary(instr.Op, instr.Arg1.Value, instr.Arg2.Value); ok {
					instr.Op = ir.OpAssign
					instr.Arg1 = ir.NewImm(v)
					instr.Arg2 = nil
					constValues[instr.Result.String()] = v
					isConstantDef = true
					changed = true
				}

			case instr.Op == ir.OpNeg && instr.Arg1 != nil && instr.Arg1.Kind == ir.Imm:
				v := wrap32(-instr.Arg1.Value)
				instr.Op = ir.OpAssign
				instr.Arg1 = ir.NewImm(v)
				constValues[instr.Result.String()] = v
				isConstantDef = true
				changed = true

			case instr.Op == ir.OpNot && instr.Arg1 != nil && instr.Arg1.Kind == ir.Imm:
				v := b2i(instr.Arg1.Value == 0)
				instr.Op = ir.OpAssign
				instr.Arg1 = ir.NewImm(v)
				constValues[instr.Result.String()] = v
				isConstantDef = true
				changed = true
			}
		}

		// invalidation: a redefinition without a new constant kills the entry
		if !resultIsUse && instr.Result != nil && !isConstantDef {
			if instr.Result.Kind == ir.Temp || instr.Result.Kind == ir.Var {
				delete(constValues, instr.Result.String())
			}
		}
	}
	return changed
}

// === Pass 2: algebraic simplification & strength reduction ===

func powerOfTwo(n int) (int, bool) {
	if n <= 0 || n&(n-1) != 0 {
		return 0, false
	}
	power := 0
	for n > 1 {
		n >>= 1
		power++
	}
	return power, true
}

func (o *Optimizer) passAlgebraicSimplification(block *BasicBlock) bool {
	changed := false
	for _, instr := range block.Instrs {
		switch instr.Op {
		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		default:
			continue
		}
		if instr.Arg1 == nil || instr.Arg2 == nil {
			continue
		}

		// canonicalize: immediate on the right for commutative ops
		if instr.Arg1.Kind == ir.Imm && instr.Arg2.Kind != ir.Imm &&
			(instr.Op == ir.OpAdd || instr.Op == ir.OpMul) {
			instr.Arg1, instr.Arg2 = instr.Arg2, instr.Arg1
			changed = true
		}

		if instr.Arg2.Kind != ir.Imm {
			continue
		}
		val := instr.Arg2.Value

		switch instr.Op {
		case ir.OpMul:
			if val == 0 {
				instr.Op = ir.OpAssign
				instr.Arg1 = ir.NewImm(0)
				instr.Arg2 = nil
				changed = true
			} else if val == 1 {
				instr.Op = ir.OpAssign
				instr.Arg2 = nil
				changed = true
			} else if power, ok := powerOfTwo(val); ok {
				// a logical left shift has no negative-operand pitfall
				instr.Op = ir.OpSll
				instr.Arg2 = ir.NewImm(power)
				changed = true
			}
		case ir.OpDiv:
			// DIV by 2^k is NOT reduced to SRA: the shift rounds toward
			// negative infinity while integer division truncates toward zero.
			if val == 1 {
				instr.Op = ir.OpAssign
				instr.Arg2 = nil
				changed = true
			}
		case ir.OpAdd, ir.OpSub:
			if val == 0 {
				instr.Op = ir.OpAssign
				instr.Arg2 = nil
				changed = true
			}
		}
	}
	return changed
}

// === Pass 3: local common-subexpression elimination ===

// keyMentions reports whether an "OP_a_b" key uses name as a full word:
// the match must end the key or be followed by another underscore.
func keyMentions(key, name string) bool {
	pattern := "_" + name
	for pos := strings.Index(key, pattern); pos >= 0; {
		end := pos + len(pattern)
		if end == len(key) || key[end] == '_' {
			return true
		}
		next := strings.Index(key[end:], pattern)
		if next < 0 {
			return false
		}
		pos = end + next
	}
	return false
}

func (o *Optimizer) passLocalCSE(block *BasicBlock) bool {
	changed := false
	exprMap := make(map[string]string) // "OP_arg1_arg2" -> defining temp/var

	for _, instr := range block.Instrs {
		// not purely functional: a load may alias a store, get-addr depends
		// on frame layout, calls do anything
		switch instr.Op {
		case ir.OpCall, ir.OpLoad, ir.OpGetint, ir.OpGetAddr:
			continue
		}

		if instr.Result != nil && !instr.Op.ResultIsUse() &&
			(instr.Result.Kind == ir.Temp || instr.Result.Kind == ir.Var) {
			defined := instr.Result.String()
			for key, result := range exprMap {
				if result == defined || keyMentions(key, defined) {
					delete(exprMap, key)
				}
			}
		}

		if instr.Result == nil || instr.Arg1 == nil || instr.Arg2 == nil || instr.Op.ResultIsUse() {
			continue
		}

		key := instr.Op.String() + "_" + instr.Arg1.String() + "_" + instr.Arg2.String()
		if instr.Op == ir.OpAdd || instr.Op == ir.OpMul {
			alt := instr.Op.String() + "_" + instr.Arg2.String() + "_" + instr.Arg1.String()
			if _, ok := exprMap[alt]; ok {
				key = alt
			}
		}

		if prev, ok := exprMap[key]; ok {
			instr.Op = ir.OpAssign
			instr.Arg1 = ir.NewTemp(prev)
			instr.Arg2 = nil
			changed = true
		} else if instr.Op != ir.OpAssign {
			exprMap[key] = instr.Result.String()
		}
	}
	return changed
}

// === Pass 4: copy propagation ===

func (o *Optimizer) passCopyPropagation(block *BasicBlock) bool {
	changed := false
	copies := make(map[string]*ir.Operand) // dest name -> source operand

	tryReplace := func(op *ir.Operand) *ir.Operand {
		if op == nil {
			return nil
		}
		src, ok := copies[op.String()]
		if !ok {
			return op
		}
		// immediates stay out of this pass: folding owns them, and some
		// instructions require register operands
		if src.Kind == ir.Imm || src.String() == op.String() {
			return op
		}
		changed = true
		return src.Clone()
	}

	for _, instr := range block.Instrs {
		// a call may rewrite any global: drop every copy sourced from one
		if instr.Op == ir.OpCall {
			for dest, src := range copies {
				if src.Kind == ir.Var && src.Sym != nil && src.Sym.Scope == symtab.GlobalScopeID {
					delete(copies, dest)
				}
			}
		}

		instr.Arg1 = tryReplace(instr.Arg1)
		instr.Arg2 = tryReplace(instr.Arg2)
		resultIsUse := instr.Op.ResultIsUse()
		if resultIsUse && instr.Result != nil && instr.Result.Kind != ir.Label {
			instr.Result = tryReplace(instr.Result)
		}

		if instr.Op == ir.OpAssign && instr.Result != nil && instr.Arg1 != nil {
			if (instr.Arg1.Kind == ir.Temp || instr.Arg1.Kind == ir.Var) &&
				instr.Arg1.String() != instr.Result.String() {
				copies[instr.Result.String()] = instr.Arg1.Clone()
			} else {
				delete(copies, instr.Result.String())
			}
			// the old value of the dest is gone either way
			for dest, src := range copies {
				if dest != instr.Result.String() && src.String() == instr.Result.String() {
					delete(copies, dest)
				}
			}
		} else if instr.Result != nil && !resultIsUse &&
			(instr.Result.Kind == ir.Temp || instr.Result.Kind == ir.Var) {
			defined := instr.Result.String()
			delete(copies, defined)
			for dest, src := range copies {
				if src.String() == defined {
					delete(copies, dest)
				}
			}
		}
	}
	return changed
}

// === Pass 5: dead-code elimination (function level) ===

func (o *Optimizer) passDeadCodeElimination(fn *Function) bool {
	changed := false
	used := make(map[string]bool)

	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if instr.Arg1 != nil {
				used[instr.Arg1.String()] = true
			}
			if instr.Arg2 != nil {
				used[instr.Arg2.String()] = true
			}
			if instr.Op.ResultIsUse() && instr.Result != nil {
				used[instr.Result.String()] = true
			}
		}
	}

	for _, block := range fn.Blocks {
		kept := block.Instrs[:0]
		for _, instr := range block.Instrs {
			dead := instr.Result != nil &&
				!instr.Op.ResultIsUse() &&
				instr.Result.Kind == ir.Temp &&
				!instr.Op.HasSideEffect() &&
				!used[instr.Result.String()]
			// a self-assignment is a no-op whatever its target is
			selfAssign := instr.Op == ir.OpAssign && instr.Arg1 != nil &&
				instr.Result != nil && instr.Arg1.Kind != ir.Imm &&
				instr.Arg1.String() == instr.Result.String()
			if dead || selfAssign {
				changed = true
				continue
			}
			kept = append(kept, instr)
		}
		block.Instrs = kept
	}
	return changed
}
