package symtab

import (
	"fmt"
	"sort"
	"strings"
)

type SymbolKind int

const (
	ConstInt SymbolKind = iota
	Int
	VoidFunc
	IntFunc
	ConstIntArray
	IntArray
	StaticInt
	StaticIntArray
)

var kindNames = map[SymbolKind]string{
	ConstInt:       "ConstInt",
	Int:            "Int",
	VoidFunc:       "VoidFunc",
	IntFunc:        "IntFunc",
	ConstIntArray:  "ConstIntArray",
	IntArray:       "IntArray",
	StaticInt:      "StaticInt",
	StaticIntArray: "StaticIntArray",
}

func (k SymbolKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// ParamInfo describes one formal parameter of a function symbol.
type ParamInfo struct {
	Kind    SymbolKind
	IsArray bool
	Name    string
}

// Entry is a single named binding. Layout fields (Offset, Size, Label,
// StackFrameSize) are filled by the semantic analyzer and consumed by the
// IR and MIPS generators.
type Entry struct {
	Name    string
	Kind    SymbolKind
	Scope   int
	Line    int
	IsParam bool

	Offset         int    // byte distance from the top of the local region; 0 for globals
	Size           int    // byte size; array params are 4 (pointer)
	Label          string // data-section label for globals/statics, also set for functions
	StackFrameSize int    // functions only: sum of local/param byte sizes

	Params          []ParamInfo
	ArraySize       int // -1 when not an array
	Value           int // constant scalars
	ArrayInitValues []int
}

func NewEntry(name string, kind SymbolKind, scope, line int) *Entry {
	e := &Entry{Name: name, Kind: kind, Scope: scope, Line: line, Size: 4, ArraySize: -1}
	if scope == GlobalScopeID {
		e.Label = name
	}
	return e
}

func (e *Entry) IsConstant() bool {
	return e.Kind == ConstInt || e.Kind == ConstIntArray
}

func (e *Entry) IsArray() bool {
	return e.Kind == ConstIntArray || e.Kind == IntArray || e.Kind == StaticIntArray
}

func (e *Entry) IsFunction() bool {
	return e.Kind == IntFunc || e.Kind == VoidFunc
}

func (e *Entry) IsStatic() bool {
	return e.Kind == StaticInt || e.Kind == StaticIntArray
}

// ByteSize is the storage footprint: array parameters decay to a 4-byte
// pointer regardless of declared length.
func (e *Entry) ByteSize() int {
	if e.IsParam && e.IsArray() {
		return 4
	}
	if e.IsArray() {
		n := e.ArraySize
		if n < 1 {
			n = 1
		}
		return n * 4
	}
	return 4
}

// ArrayElement returns the compile-time value of element index, defaulting
// uninitialized (or out-of-range) elements to zero.
func (e *Entry) ArrayElement(index int) int {
	if index >= 0 && index < len(e.ArrayInitValues) {
		return e.ArrayInitValues[index]
	}
	return 0
}

// Scope owns its entries in insertion order plus a name index.
type Scope struct {
	id      int
	byName  map[string]*Entry
	ordered []*Entry
}

func newScope(id int) *Scope {
	return &Scope{id: id, byName: make(map[string]*Entry)}
}

func (s *Scope) ID() int { return s.id }

func (s *Scope) Add(entry *Entry) bool {
	if _, exists := s.byName[entry.Name]; exists {
		return false
	}
	s.byName[entry.Name] = entry
	s.ordered = append(s.ordered, entry)
	return true
}

func (s *Scope) Find(name string) *Entry { return s.byName[name] }

func (s *Scope) Symbols() []*Entry { return s.ordered }

const GlobalScopeID = 1

// Table owns every scope, indexed by ID, plus the active-scope stack used
// during walks. Scope IDs are dense and start at 1; the IR generator replays
// them in creation order, which is why ById access must be O(1).
type Table struct {
	scopes      []*Scope
	byID        map[int]*Scope
	scopeStack  []int
	nextScopeID int
}

func NewTable() *Table {
	t := &Table{byID: make(map[int]*Scope), nextScopeID: GlobalScopeID}
	t.EnterScope()
	return t
}

func (t *Table) EnterScope() {
	sc := newScope(t.nextScopeID)
	t.scopes = append(t.scopes, sc)
	t.byID[sc.id] = sc
	t.scopeStack = append(t.scopeStack, sc.id)
	t.nextScopeID++
}

func (t *Table) ExitScope() {
	if len(t.scopeStack) > 0 {
		t.scopeStack = t.scopeStack[:len(t.scopeStack)-1]
	}
}

func (t *Table) CurrentScopeID() int {
	if len(t.scopeStack) == 0 {
		panic("symtab: scope stack is empty")
	}
	return t.scopeStack[len(t.scopeStack)-1]
}

func (t *Table) ScopeByID(id int) *Scope { return t.byID[id] }

// AddSymbol inserts into the scope named by entry.Scope (not necessarily the
// top of the stack). A false return means redefinition.
func (t *Table) AddSymbol(entry *Entry) bool {
	sc := t.byID[entry.Scope]
	if sc == nil {
		return false
	}
	return sc.Add(entry)
}

// FindSymbol walks the active stack inner to outer.
func (t *Table) FindSymbol(name string) *Entry {
	for i := len(t.scopeStack) - 1; i >= 0; i-- {
		if e := t.byID[t.scopeStack[i]].Find(name); e != nil {
			return e
		}
	}
	return nil
}

func (t *Table) DefinedInCurrentScope(name string) bool {
	return t.byID[t.CurrentScopeID()].Find(name) != nil
}

// UpdateFuncFrameSize backfills a function's total frame size once its body
// has been laid out.
func (t *Table) UpdateFuncFrameSize(funcName string, totalSize int) {
	if e := t.FindSymbol(funcName); e != nil && e.IsFunction() {
		e.StackFrameSize = totalSize
	}
}

// AllSymbols returns every entry, scope ascending then line ascending.
func (t *Table) AllSymbols() []*Entry {
	var all []*Entry
	for _, sc := range t.scopes {
		all = append(all, sc.ordered...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Scope != all[j].Scope {
			return all[i].Scope < all[j].Scope
		}
		return all[i].Line < all[j].Line
	})
	return all
}

// CompactDump is the symbol.txt format: "<scope> <name> <kind>" per entry.
func (t *Table) CompactDump() string {
	var sb strings.Builder
	for _, e := range t.AllSymbols() {
		fmt.Fprintf(&sb, "%d %s %s\n", e.Scope, e.Name, e.Kind)
	}
	return sb.String()
}

// Format renders the human-readable table.txt with layout info.
func (t *Table) Format() string {
	all := t.AllSymbols()

	var sb strings.Builder
	sb.WriteString("========== Symbol Table (with MIPS layout) ==========\n")
	fmt.Fprintf(&sb, "Total symbols: %d\n", len(all))

	currentScope := -1
	for _, sym := range all {
		if sym.Name == "main" && sym.Scope == GlobalScopeID && sym.IsFunction() {
			continue
		}
		if sym.Scope != currentScope {
			currentScope = sym.Scope
			kind := "local"
			if currentScope == GlobalScopeID {
				kind = "global"
			}
			fmt.Fprintf(&sb, "\n--- Scope %d (%s) ---\n", currentScope, kind)
		}

		fmt.Fprintf(&sb, "  %s:\n", sym.Name)
		fmt.Fprintf(&sb, "    kind: %s\n", sym.Kind)
		fmt.Fprintf(&sb, "    line: %d\n", sym.Line)
		fmt.Fprintf(&sb, "    size: %d bytes\n", sym.Size)

		switch {
		case sym.IsFunction():
			fmt.Fprintf(&sb, "    frame size: %d\n", sym.StackFrameSize)
		case sym.Scope == GlobalScopeID || sym.IsStatic():
			label := sym.Label
			if label == "" {
				label = sym.Name
			}
			fmt.Fprintf(&sb, "    label: %s (.data)\n", label)
		default:
			fmt.Fprintf(&sb, "    stack offset: %d\n", sym.Offset)
		}

		fmt.Fprintf(&sb, "    parameter: %v\n", sym.IsParam)

		if sym.IsArray() {
			fmt.Fprintf(&sb, "    array size: %d\n", sym.ArraySize)
			if len(sym.ArrayInitValues) > 0 {
				fmt.Fprintf(&sb, "    init values: %v\n", sym.ArrayInitValues)
			}
		}
		if sym.IsConstant() && !sym.IsArray() {
			fmt.Fprintf(&sb, "    const value: %d\n", sym.Value)
		}
		if sym.IsFunction() && len(sym.Params) > 0 {
			fmt.Fprintf(&sb, "    params (%d):\n", len(sym.Params))
			for i, param := range sym.Params {
				arr := ""
				if param.IsArray {
					arr = "array "
				}
				fmt.Fprintf(&sb, "      %d. %s: %s%s\n", i+1, param.Name, arr, param.Kind)
			}
		}
	}
	sb.WriteString("\n============================\n")
	return sb.String()
}
