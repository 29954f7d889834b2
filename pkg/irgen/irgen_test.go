package irgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/diag"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/ir"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/lexer"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/parser"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/sema"
)

func lower(t *testing.T, src string) *ir.Module {
	t.Helper()
	errs := &diag.List{}
	toks := lexer.NewLexer([]rune(src), errs).Scan()
	root := parser.NewParser(toks, errs).Parse()
	analyzer := sema.NewAnalyzer(errs)
	analyzer.Analyze(root)
	require.True(t, errs.Empty(), "fixture must be clean, got %v", errs.Sorted())
	return NewGenerator(analyzer.Table()).Generate(root)
}

func dumpLines(mod *ir.Module) []string {
	var out []string
	for _, instr := range mod.Instrs {
		out = append(out, instr.String())
	}
	return out
}

func TestScalarAssignAndMangling(t *testing.T) {
	mod := lower(t, `
int g = 1;
int main() {
	int x = 2;
	x = g;
	return 0;
}
`)
	lines := dumpLines(mod)
	assert.Contains(t, lines, "ASSIGN x_2, #2, -")
	// globals keep their source name, locals carry the scope suffix
	assert.Contains(t, lines, "ASSIGN x_2, g, -")
}

func TestShadowedInitializerSeesOuterBinding(t *testing.T) {
	mod := lower(t, `
int main() {
	int a = 1;
	{
		int a = a + 1;
		a = 2;
	}
	return 0;
}
`)
	text := strings.Join(dumpLines(mod), "\n")
	// the right-hand a of the inner initializer resolves to the outer a_2
	assert.Contains(t, text, "ADD t0, a_2, #1")
	assert.Contains(t, text, "ASSIGN a_3, t0")
	assert.Contains(t, text, "ASSIGN a_3, #2")
}

func TestShortCircuitOr(t *testing.T) {
	mod := lower(t, `
int main() {
	int a = 0;
	int b = 0;
	if (a || b) a = 1;
	return 0;
}
`)
	lines := dumpLines(mod)
	// scenario: eval a, beqz -> L_rhs, jump -> L_true, L_rhs:, eval b,
	// beqz -> L_next, jump -> L_true, L_true:, body, L_next:
	var got []string
	for _, line := range lines {
		if strings.HasPrefix(line, "BEQZ") || strings.HasPrefix(line, "JUMP") ||
			strings.HasSuffix(line, ":") || strings.HasPrefix(line, "ASSIGN a_2, #1") {
			got = append(got, line)
		}
	}
	want := []string{
		"main:",
		"BEQZ a_2, L3, -",
		"JUMP L0, -, -",
		"L3:",
		"BEQZ b_2, L2, -",
		"JUMP L0, -, -",
		"L0:",
		"ASSIGN a_2, #1, -",
		"L2:",
	}
	assert.Equal(t, want, got)
}

func TestArrayElementLoadAndStore(t *testing.T) {
	mod := lower(t, `
int main() {
	int a[10];
	int i = 3;
	a[i] = 5;
	int x = a[i];
	return 0;
}
`)
	text := strings.Join(dumpLines(mod), "\n")
	// store path: scale, address, store through the address temp
	assert.Contains(t, text, "MUL t0, i_2, #4")
	assert.Contains(t, text, "GET_ADDR t1, a_2, t0")
	assert.Contains(t, text, "STORE #5, t1, #0")
	// load path adds a LOAD from the fresh address temp
	assert.Contains(t, text, "GET_ADDR t3, a_2, t2")
	assert.Contains(t, text, "LOAD t4, t3, #0")
}

func TestWholeArrayReferenceDecays(t *testing.T) {
	mod := lower(t, `
int sum(int a[]) { return a[0]; }
int main() {
	int v[4] = {1, 2, 3, 4};
	int s = sum(v);
	return 0;
}
`)
	text := strings.Join(dumpLines(mod), "\n")
	assert.Contains(t, text, "GET_ADDR")
	assert.Contains(t, text, "PARAM")
	assert.Contains(t, text, "CALL")
}

func TestLocalArrayInitializerZeroFills(t *testing.T) {
	mod := lower(t, `
int main() {
	int a[4] = {7};
	return 0;
}
`)
	text := strings.Join(dumpLines(mod), "\n")
	assert.Contains(t, text, "STORE #7, a_2, #0")
	assert.Contains(t, text, "STORE #0, a_2, #4")
	assert.Contains(t, text, "STORE #0, a_2, #8")
	assert.Contains(t, text, "STORE #0, a_2, #12")
}

func TestPrintfSplitsFormat(t *testing.T) {
	mod := lower(t, `
int main() {
	int x = 1;
	printf("x=%d!\n", x);
	return 0;
}
`)
	lines := dumpLines(mod)
	var io []string
	for _, line := range lines {
		if strings.HasPrefix(line, "PRINT") {
			io = append(io, line)
		}
	}
	require.Len(t, io, 3)
	assert.Equal(t, "PRINTSTR str_0, -, -", io[0])
	assert.Equal(t, "PRINTINT x_2, -, -", io[1])
	assert.Equal(t, "PRINTSTR str_1, -, -", io[2])

	assert.Equal(t, "x=", mod.Strings["str_0"])
	assert.Equal(t, "!\n", mod.Strings["str_1"])
}

func TestStringInterning(t *testing.T) {
	mod := lower(t, `
int main() {
	printf("hi\n");
	printf("hi\n");
	return 0;
}
`)
	assert.Len(t, mod.Strings, 1)
}

func TestForLoopShape(t *testing.T) {
	mod := lower(t, `
int main() {
	int i = 0;
	int s = 0;
	for (i = 0; i < 3; i = i + 1) {
		s = s + i;
	}
	return s;
}
`)
	text := strings.Join(dumpLines(mod), "\n")
	// condition false edge leaves the loop; the step jumps back to the check
	assert.Contains(t, text, "LT ")
	assert.Contains(t, text, "BEQZ")
	jumps := strings.Count(text, "JUMP")
	assert.GreaterOrEqual(t, jumps, 2)
}

func TestBreakContinueTargets(t *testing.T) {
	mod := lower(t, `
int main() {
	int i = 0;
	for (i = 0; i < 10; i = i + 1) {
		if (i == 5) break;
		if (i == 2) continue;
	}
	return 0;
}
`)
	text := strings.Join(dumpLines(mod), "\n")
	assert.Contains(t, text, "JUMP") // both lower to jumps at distinct labels
	// break and continue go to different labels
	require.True(t, strings.Count(text, "JUMP") >= 4)
}

func TestTempsAreRegisteredWithDistinctOffsets(t *testing.T) {
	mod := lower(t, `
int main() {
	int a = 1;
	int b = a + 2;
	int c = b * 3;
	return c;
}
`)
	info := mod.Funcs["main"]
	require.NotNil(t, info)

	seen := make(map[int]string)
	for name, slot := range info.SymbolMap {
		if !slot.IsTemp {
			continue
		}
		prev, dup := seen[slot.Offset]
		assert.False(t, dup, "offset %d shared by %s and %s", slot.Offset, prev, name)
		seen[slot.Offset] = name
	}
	// frame stays a multiple of 4
	assert.Zero(t, info.FrameSize%4)
}

func TestFrameSizeIncludesBaseOffset(t *testing.T) {
	mod := lower(t, `
int f(int p) { return p; }
int main() { return 0; }
`)
	info := mod.Funcs["f"]
	require.NotNil(t, info)
	// p occupies 4 bytes; base offset adds 12
	slot := info.SymbolMap["p_2"]
	require.NotNil(t, slot)
	assert.Equal(t, 12, slot.Offset)
	assert.True(t, slot.IsParam)
	assert.Equal(t, []string{"p_2"}, info.ParamList)
	assert.Equal(t, 16, info.FrameSize)
}

func TestStaticUsesLabelName(t *testing.T) {
	mod := lower(t, `
int f() {
	static int s = 1;
	s = s + 1;
	return s;
}
int main() { return 0; }
`)
	text := strings.Join(dumpLines(mod), "\n")
	assert.Contains(t, text, "static_s_2")
	// statics have no frame slot
	_, inFrame := mod.Funcs["f"].SymbolMap["static_s_2"]
	assert.False(t, inFrame)
}

func TestFunctionCallPushesParamsInOrder(t *testing.T) {
	mod := lower(t, `
int f(int a, int b) { return a - b; }
int main() {
	int x = f(7, 9);
	return x;
}
`)
	lines := dumpLines(mod)
	var params []string
	for _, line := range lines {
		if strings.HasPrefix(line, "PARAM") {
			params = append(params, line)
		}
	}
	require.Len(t, params, 2)
	assert.Equal(t, "PARAM #7, -, -", params[0])
	assert.Equal(t, "PARAM #9, -, -", params[1])
}

func TestVoidFunctionGetsExitMarkers(t *testing.T) {
	mod := lower(t, `
void f() { return; }
int main() { return 0; }
`)
	text := strings.Join(dumpLines(mod), "\n")
	assert.Contains(t, text, "f:")
	assert.Contains(t, text, "FUNC_ENTRY -, -, -")
	assert.Contains(t, text, "RET -, -, -")
	assert.Contains(t, text, "FUNC_EXIT -, -, -")
}
