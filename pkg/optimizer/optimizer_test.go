package optimizer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ir"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/symtab"
)

// localVar fabricates a non-static local binding (safe for folding).
func localVar(name string) *ir.Operand {
	sym := symtab.NewEntry(name, symtab.Int, 2, 1)
	op := ir.NewVar(sym)
	op.Name = name + "_2"
	return op
}

func globalVar(name string) *ir.Operand {
	sym := symtab.NewEntry(name, symtab.Int, symtab.GlobalScopeID, 1)
	return ir.NewVar(sym)
}

// wrap builds a minimal main function around body instructions.
func wrap(body ...*ir.Instruction) []*ir.Instruction {
	instrs := []*ir.Instruction{
		{Op: ir.OpLabel, Result: ir.NewLabel("main")},
		{Op: ir.OpFuncEntry},
	}
	instrs = append(instrs, body...)
	instrs = append(instrs,
		&ir.Instruction{Op: ir.OpRet, Result: ir.NewImm(0)},
		&ir.Instruction{Op: ir.OpFuncExit},
	)
	return instrs
}

func dump(instrs []*ir.Instruction) []string {
	var out []string
	for _, instr := range instrs {
		out = append(out, instr.String())
	}
	return out
}

func TestConstantFoldingScenario(t *testing.T) {
	// ADD t0,#3,#4; ASSIGN a,t0  =>  ASSIGN a,#7; the ADD dies
	a := localVar("a")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t0"), Arg1: ir.NewImm(3), Arg2: ir.NewImm(4)},
		&ir.Instruction{Op: ir.OpAssign, Result: a, Arg1: ir.NewTemp("t0")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.Contains(t, text, "ASSIGN a_2, #7, -")
	assert.NotContains(t, text, "ADD")
}

func TestPowerOfTwoMultiplyBecomesShift(t *testing.T) {
	x := localVar("x")
	res := localVar("r")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpMul, Result: ir.NewTemp("t0"), Arg1: x, Arg2: ir.NewImm(8)},
		&ir.Instruction{Op: ir.OpAssign, Result: res, Arg1: ir.NewTemp("t0")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.Contains(t, text, "SLL t0, x_2, #3")
}

func TestDivByPowerOfTwoIsNotReduced(t *testing.T) {
	// (-7)/2 must stay -3; an arithmetic shift would give -4
	x := localVar("x")
	res := localVar("r")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpDiv, Result: ir.NewTemp("t0"), Arg1: x, Arg2: ir.NewImm(2)},
		&ir.Instruction{Op: ir.OpAssign, Result: res, Arg1: ir.NewTemp("t0")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.Contains(t, text, "DIV t0, x_2, #2")
	assert.NotContains(t, text, "SRA")
}

func TestAlgebraicIdentities(t *testing.T) {
	x := localVar("x")
	r1, r2, r3 := localVar("r1"), localVar("r2"), localVar("r3")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t0"), Arg1: x, Arg2: ir.NewImm(0)},
		&ir.Instruction{Op: ir.OpAssign, Result: r1, Arg1: ir.NewTemp("t0")},
		&ir.Instruction{Op: ir.OpMul, Result: ir.NewTemp("t1"), Arg1: x, Arg2: ir.NewImm(1)},
		&ir.Instruction{Op: ir.OpAssign, Result: r2, Arg1: ir.NewTemp("t1")},
		&ir.Instruction{Op: ir.OpMul, Result: ir.NewTemp("t2"), Arg1: x, Arg2: ir.NewImm(0)},
		&ir.Instruction{Op: ir.OpAssign, Result: r3, Arg1: ir.NewTemp("t2")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.NotContains(t, text, "ADD")
	assert.NotContains(t, text, "MUL")
	assert.Contains(t, text, "ASSIGN r3_2, #0, -")
}

func TestCommutativeCanonicalization(t *testing.T) {
	// #8 * x swaps into x * #8, then reduces to a shift
	x := localVar("x")
	res := localVar("r")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpMul, Result: ir.NewTemp("t0"), Arg1: ir.NewImm(8), Arg2: x},
		&ir.Instruction{Op: ir.OpAssign, Result: res, Arg1: ir.NewTemp("t0")},
	)).Run()

	assert.Contains(t, strings.Join(dump(out), "\n"), "SLL t0, x_2, #3")
}

func TestLocalCSE(t *testing.T) {
	a, b := localVar("a"), localVar("b")
	r1, r2 := localVar("r1"), localVar("r2")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t0"), Arg1: a, Arg2: b},
		&ir.Instruction{Op: ir.OpAssign, Result: r1, Arg1: ir.NewTemp("t0")},
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t1"), Arg1: a, Arg2: b},
		&ir.Instruction{Op: ir.OpAssign, Result: r2, Arg1: ir.NewTemp("t1")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	// the second a+b is reused, not recomputed
	assert.Equal(t, 1, strings.Count(text, "ADD"))
	assert.Contains(t, text, "ASSIGN r2_2, t0, -")
}

func TestCSEInvalidationOnOperandRedefinition(t *testing.T) {
	a, b := localVar("a"), localVar("b")
	r1, r2 := localVar("r1"), localVar("r2")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t0"), Arg1: a, Arg2: b},
		&ir.Instruction{Op: ir.OpAssign, Result: r1, Arg1: ir.NewTemp("t0")},
		// a changes: the recorded a+b expression must not be reused
		&ir.Instruction{Op: ir.OpGetint, Result: ir.NewTemp("t5")},
		&ir.Instruction{Op: ir.OpAssign, Result: a.Clone(), Arg1: ir.NewTemp("t5")},
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t1"), Arg1: a.Clone(), Arg2: b.Clone()},
		&ir.Instruction{Op: ir.OpAssign, Result: r2, Arg1: ir.NewTemp("t1")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.Equal(t, 2, strings.Count(text, "ADD"), "stale CSE hit after redefinition:\n%s", text)
}

func TestCSEFullWordInvalidation(t *testing.T) {
	// redefining t1 must not disturb a key that mentions t11
	t11 := ir.NewTemp("t11")
	b := localVar("b")
	r1, r2 := localVar("r1"), localVar("r2")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t20"), Arg1: t11, Arg2: b},
		&ir.Instruction{Op: ir.OpAssign, Result: r1, Arg1: ir.NewTemp("t20")},
		&ir.Instruction{Op: ir.OpAssign, Result: ir.NewTemp("t1"), Arg1: b.Clone()},
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t21"), Arg1: t11.Clone(), Arg2: b.Clone()},
		&ir.Instruction{Op: ir.OpAssign, Result: r2, Arg1: ir.NewTemp("t21")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	// t11+b is still a valid common subexpression
	assert.Equal(t, 1, strings.Count(text, "ADD"), "t1 redefinition wrongly killed the t11 key:\n%s", text)
}

func TestCopyPropagation(t *testing.T) {
	a := localVar("a")
	res := localVar("r")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAssign, Result: ir.NewTemp("t0"), Arg1: a},
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t1"), Arg1: ir.NewTemp("t0"), Arg2: ir.NewImm(1)},
		&ir.Instruction{Op: ir.OpAssign, Result: res, Arg1: ir.NewTemp("t1")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.Contains(t, text, "ADD t1, a_2, #1")
	// the copy itself becomes dead and is removed
	assert.NotContains(t, text, "ASSIGN t0")
}

func TestCopyPropagationKillsGlobalSourcesAtCall(t *testing.T) {
	g := globalVar("g")
	res := localVar("r")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAssign, Result: ir.NewTemp("t0"), Arg1: g},
		&ir.Instruction{Op: ir.OpCall, Result: ir.NewTemp("t1"), Arg1: ir.NewLabel("f")},
		// after the call the callee may have changed g; t0 must be used,
		// not re-read through g
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t2"), Arg1: ir.NewTemp("t0"), Arg2: ir.NewImm(1)},
		&ir.Instruction{Op: ir.OpAssign, Result: res, Arg1: ir.NewTemp("t2")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.Contains(t, text, "ADD t2, t0, #1", "global propagated across a call:\n%s", text)
}

func TestGlobalsAreNotFolded(t *testing.T) {
	g := globalVar("g")
	res := localVar("r")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAssign, Result: g, Arg1: ir.NewImm(3)},
		&ir.Instruction{Op: ir.OpCall, Result: ir.NewTemp("t9"), Arg1: ir.NewLabel("f")},
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t0"), Arg1: g.Clone(), Arg2: ir.NewImm(1)},
		&ir.Instruction{Op: ir.OpAssign, Result: res, Arg1: ir.NewTemp("t0")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	// g's value after the call is unknown: no ASSIGN r,#4
	assert.Contains(t, text, "ADD t0, g, #1")
}

func TestDeadTempElimination(t *testing.T) {
	a := localVar("a")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t0"), Arg1: a, Arg2: ir.NewImm(1)},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.NotContains(t, text, "ADD", "dead temporary survived:\n%s", text)
}

func TestStoreValueIsNeverDead(t *testing.T) {
	arr := localVar("a")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpStore, Result: ir.NewImm(5), Arg1: arr, Arg2: ir.NewImm(0)},
	)).Run()

	assert.Contains(t, strings.Join(dump(out), "\n"), "STORE #5, a_2, #0")
}

func TestMemoryBaseIsNeverSubstituted(t *testing.T) {
	// even when t0 is known-constant, the base of a LOAD stays symbolic
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAssign, Result: ir.NewTemp("t0"), Arg1: ir.NewImm(8)},
		&ir.Instruction{Op: ir.OpLoad, Result: ir.NewTemp("t1"), Arg1: ir.NewTemp("t0"), Arg2: ir.NewImm(0)},
		&ir.Instruction{Op: ir.OpPrintInt, Result: ir.NewTemp("t1")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.Contains(t, text, "LOAD t1, t0, #0")
}

func TestPrintedValueIsLive(t *testing.T) {
	a := localVar("a")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t0"), Arg1: a, Arg2: ir.NewImm(1)},
		&ir.Instruction{Op: ir.OpPrintInt, Result: ir.NewTemp("t0")},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.Contains(t, text, "ADD t0, a_2, #1")
	assert.Contains(t, text, "PRINTINT t0, -, -")
}

func TestSelfAssignmentIsElided(t *testing.T) {
	x := localVar("x")
	out := NewOptimizer(wrap(
		&ir.Instruction{Op: ir.OpAssign, Result: x, Arg1: x.Clone()},
		&ir.Instruction{Op: ir.OpPrintInt, Result: x.Clone()},
	)).Run()

	text := strings.Join(dump(out), "\n")
	assert.NotContains(t, text, "ASSIGN x_2, x_2")
	assert.Contains(t, text, "PRINTINT x_2, -, -")
}

func TestFixedPointIsIdempotent(t *testing.T) {
	a := localVar("a")
	build := func() []*ir.Instruction {
		return wrap(
			&ir.Instruction{Op: ir.OpAdd, Result: ir.NewTemp("t0"), Arg1: ir.NewImm(3), Arg2: ir.NewImm(4)},
			&ir.Instruction{Op: ir.OpMul, Result: ir.NewTemp("t1"), Arg1: ir.NewTemp("t0"), Arg2: ir.NewImm(2)},
			&ir.Instruction{Op: ir.OpAssign, Result: a, Arg1: ir.NewTemp("t1")},
			&ir.Instruction{Op: ir.OpPrintInt, Result: a.Clone()},
		)
	}

	once := dump(NewOptimizer(build()).Run())
	twice := dump(NewOptimizer(NewOptimizer(build()).Run()).Run())
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("optimizer is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestSplitFunctionsKeepsGlobalDefines(t *testing.T) {
	a := localVar("a")
	instrs := []*ir.Instruction{
		// an instruction before any function marker is a global define
		{Op: ir.OpAssign, Result: globalVar("g"), Arg1: ir.NewImm(1)},
	}
	instrs = append(instrs, wrap(
		&ir.Instruction{Op: ir.OpAssign, Result: a, Arg1: ir.NewImm(2)},
	)...)

	out := NewOptimizer(instrs).Run()
	require.NotEmpty(t, out)
	assert.Equal(t, "ASSIGN g, #1, -", out[0].String(), "global defines re-emitted first")
}

func TestCFGEdges(t *testing.T) {
	cond := localVar("c")
	instrs := []*ir.Instruction{
		{Op: ir.OpLabel, Result: ir.NewLabel("main")},
		{Op: ir.OpFuncEntry},
		{Op: ir.OpBeqz, Result: cond, Arg1: ir.NewLabel("L1")},
		{Op: ir.OpAssign, Result: localVar("x"), Arg1: ir.NewImm(1)},
		{Op: ir.OpLabel, Result: ir.NewLabel("L1")},
		{Op: ir.OpRet, Result: ir.NewImm(0)},
		{Op: ir.OpFuncExit},
	}

	o := NewOptimizer(instrs)
	o.splitFunctions()
	require.Len(t, o.funcs, 1)
	fn := o.funcs[0]
	o.buildCFG(fn)

	// blocks: [main:] [FUNC_ENTRY beqz] [assign] [L1: ret] [funcexit]
	require.Len(t, fn.Blocks, 5)
	assert.Equal(t, []int{1}, fn.Blocks[0].Succs)
	assert.ElementsMatch(t, []int{2, 3}, fn.Blocks[1].Succs, "branch: target plus fall-through")
	assert.Equal(t, []int{3}, fn.Blocks[2].Succs)
	assert.Empty(t, fn.Blocks[3].Succs, "ret has no successors")
}

func TestTenRoundBound(t *testing.T) {
	// a pathological self-feeding chain still terminates
	var body []*ir.Instruction
	prev := ir.NewTemp("t0")
	body = append(body, &ir.Instruction{Op: ir.OpAssign, Result: prev, Arg1: ir.NewImm(1)})
	for i := 1; i < 40; i++ {
		cur := ir.NewTemp("t" + itoa(i))
		body = append(body, &ir.Instruction{Op: ir.OpAdd, Result: cur, Arg1: prev, Arg2: ir.NewImm(1)})
		prev = cur
	}
	body = append(body, &ir.Instruction{Op: ir.OpPrintInt, Result: prev})

	out := NewOptimizer(wrap(body...)).Run()
	assert.NotEmpty(t, out)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
