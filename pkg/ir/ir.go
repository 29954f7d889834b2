package ir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/symtab"
)

type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpNot
	OpGt
	OpGe
	OpLt
	OpLe
	OpEq
	OpNeq
	OpAssign
	OpLoad    // x = mem[arg1 + arg2]
	OpStore   // mem[arg1 + arg2] = result (result is a use)
	OpGetAddr // x = &base + offset
	OpLabel
	OpJump
	OpBeqz
	OpParam
	OpCall
	OpRet
	OpFuncEntry
	OpFuncExit
	OpGetint
	OpPrintInt
	OpPrintStr
	// introduced only by strength reduction
	OpSll
	OpSra
)

var opNames = map[Op]string{
	OpAdd:       "ADD",
	OpSub:       "SUB",
	OpMul:       "MUL",
	OpDiv:       "DIV",
	OpMod:       "MOD",
	OpNeg:       "NEG",
	OpNot:       "NOT",
	OpGt:        "GT",
	OpGe:        "GE",
	OpLt:        "LT",
	OpLe:        "LE",
	OpEq:        "EQ",
	OpNeq:       "NEQ",
	OpAssign:    "ASSIGN",
	OpLoad:      "LOAD",
	OpStore:     "STORE",
	OpGetAddr:   "GET_ADDR",
	OpLabel:     "LABEL",
	OpJump:      "JUMP",
	OpBeqz:      "BEQZ",
	OpParam:     "PARAM",
	OpCall:      "CALL",
	OpRet:       "RET",
	OpFuncEntry: "FUNC_ENTRY",
	OpFuncExit:  "FUNC_EXIT",
	OpGetint:    "GETINT",
	OpPrintInt:  "PRINTINT",
	OpPrintStr:  "PRINTSTR",
	OpSll:       "SLL",
	OpSra:       "SRA",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "UNKNOWN"
}

// ResultIsUse reports whether an opcode overloads the result field as a use
// rather than a definition. Every substitution or invalidation pass must
// consult this classification.
func (op Op) ResultIsUse() bool {
	switch op {
	case OpStore, OpRet, OpParam, OpPrintInt, OpPrintStr, OpBeqz:
		return true
	}
	return false
}

// HasSideEffect reports opcodes that dead-code elimination must never drop.
func (op Op) HasSideEffect() bool {
	switch op {
	case OpCall, OpStore, OpPrintInt, OpPrintStr, OpGetint, OpRet,
		OpJump, OpBeqz, OpFuncEntry, OpFuncExit, OpLabel:
		return true
	}
	return false
}

type OperandKind int

const (
	Var OperandKind = iota // source-level variable, carries its symbol entry
	Temp
	Imm
	Label
)

// Operand is an IR value. Variables borrow the symbol-table entry assigned
// by the semantic analyzer; the pointer stays valid through MIPS generation.
type Operand struct {
	Kind  OperandKind
	Name  string // mangled name for Var/Temp, label name for Label
	Value int    // immediates only
	Sym   *symtab.Entry
}

func NewImm(value int) *Operand { return &Operand{Kind: Imm, Value: value} }

func NewTemp(name string) *Operand { return &Operand{Kind: Temp, Name: name} }

func NewLabel(name string) *Operand { return &Operand{Kind: Label, Name: name} }

func NewVar(sym *symtab.Entry) *Operand {
	return &Operand{Kind: Var, Name: sym.Name, Sym: sym}
}

func (o *Operand) String() string {
	if o.Kind == Imm {
		return fmt.Sprintf("#%d", o.Value)
	}
	return o.Name
}

// Clone returns an independent copy; passes substitute operands without
// aliasing instructions that share them.
func (o *Operand) Clone() *Operand {
	c := *o
	return &c
}

// Instruction is a quadruple. Whether Result is a def or a use depends on
// the opcode (see ResultIsUse).
type Instruction struct {
	Op     Op
	Result *Operand
	Arg1   *Operand
	Arg2   *Operand
}

func (i *Instruction) String() string {
	if i.Op == OpLabel {
		return i.Result.String() + ":"
	}
	part := func(o *Operand) string {
		if o == nil {
			return "-"
		}
		return o.String()
	}
	return fmt.Sprintf("%s %s, %s, %s", i.Op, part(i.Result), part(i.Arg1), part(i.Arg2))
}

// SymInfo is a codegen symbol: one stack slot in a function's frame.
type SymInfo struct {
	Name    string
	Offset  int // positive; emitted as -Offset($fp)
	Size    int
	IsParam bool
	IsTemp  bool
}

// FuncInfo is the per-function codegen table: frame size, the parameter
// order ($a0.. binding) and the slot map keyed by mangled name.
type FuncInfo struct {
	Name      string
	FrameSize int
	ParamList []string
	SymbolMap map[string]*SymInfo
}

func NewFuncInfo(name string) *FuncInfo {
	return &FuncInfo{Name: name, SymbolMap: make(map[string]*SymInfo)}
}

// Module is the handoff between the IR generator and the back end.
type Module struct {
	Instrs  []*Instruction
	Strings map[string]string // label -> content
	Funcs   map[string]*FuncInfo
}

func NewModule() *Module {
	return &Module{
		Strings: make(map[string]string),
		Funcs:   make(map[string]*FuncInfo),
	}
}

// sortedStringLabels returns the string-constant labels in a stable order.
func (m *Module) sortedStringLabels() []string {
	labels := make([]string, 0, len(m.Strings))
	for label := range m.Strings {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// StringLabels exposes the stable label order for the data-section emitter.
func (m *Module) StringLabels() []string { return m.sortedStringLabels() }

// Dump renders the textual IR: an optional string-constant block followed by
// one instruction per line.
func (m *Module) Dump() string {
	var sb strings.Builder
	if len(m.Strings) > 0 {
		sb.WriteString("#String Constants (.data)\n")
		for _, label := range m.sortedStringLabels() {
			escaped := strings.ReplaceAll(m.Strings[label], "\n", `\n`)
			fmt.Fprintf(&sb, "%s: \"%s\"\n", label, escaped)
		}
		sb.WriteString("\n#Instructions (.text)\n")
	}
	for _, instr := range m.Instrs {
		sb.WriteString(instr.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// LayoutDump renders the stack-frame diagnostic (mips_stack_layout.txt).
func (m *Module) LayoutDump(table *symtab.Table) string {
	var sb strings.Builder

	sb.WriteString("=== Globals and statics (.data) ===\n")
	var dataSyms []*symtab.Entry
	for _, sym := range table.AllSymbols() {
		if sym.IsFunction() {
			continue
		}
		if sym.Scope == symtab.GlobalScopeID || sym.IsStatic() {
			dataSyms = append(dataSyms, sym)
		}
	}
	sort.SliceStable(dataSyms, func(i, j int) bool {
		if dataSyms[i].Scope != dataSyms[j].Scope {
			return dataSyms[i].Scope < dataSyms[j].Scope
		}
		return dataSyms[i].Name < dataSyms[j].Name
	})
	if len(dataSyms) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, sym := range dataSyms {
		label := sym.Label
		if label == "" {
			label = sym.Name
		}
		fmt.Fprintf(&sb, "  %-20s %-25s %-8d %s\n", sym.Name, label, sym.Size, sym.Kind)
	}
	sb.WriteString("\n=== Stack frames (offsets relative to $fp) ===\n\n")

	names := make([]string, 0, len(m.Funcs))
	for name := range m.Funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info := m.Funcs[name]
		fmt.Fprintf(&sb, "Function: %s\n", name)
		fmt.Fprintf(&sb, "  Total Frame Size: %d bytes\n", info.FrameSize)

		entries := make([]*SymInfo, 0, len(info.SymbolMap))
		for _, e := range info.SymbolMap {
			entries = append(entries, e)
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })

		fmt.Fprintf(&sb, "  %-18s %-8s %-8s %s\n", "Name", "Offset", "Size", "Kind")
		for _, e := range entries {
			kind := "Local"
			if e.IsParam {
				kind = "Param"
			} else if e.IsTemp {
				kind = "Temp"
			}
			fmt.Fprintf(&sb, "  %-18s %-8d %-8d %s\n", e.Name, e.Offset, e.Size, kind)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
