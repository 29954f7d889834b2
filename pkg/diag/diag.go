package diag

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Error category codes shared by the lexer, parser and semantic analyzer.
const (
	CodeIllegalSymbol  = "a" // stray '&'/'|', bad character, unterminated comment/string
	CodeRedefined      = "b" // name redefined in the same scope
	CodeUndefined      = "c" // use of an undeclared name
	CodeArgCount       = "d" // wrong number of call arguments
	CodeArgType        = "e" // call argument type mismatch
	CodeVoidReturn     = "f" // return with a value inside a void function
	CodeMissingReturn  = "g" // int function can fall off the end
	CodeAssignConst    = "h" // assignment to a constant
	CodeMissingSemi    = "i"
	CodeMissingRParen  = "j"
	CodeMissingRBrack  = "k"
	CodePrintfArgCount = "l" // %d count does not match argument count
	CodeStrayJump      = "m" // break/continue outside a loop
)

type Diagnostic struct {
	Line int
	Code string
}

// List accumulates diagnostics across compiler stages. Emission sorts by
// line and keeps at most one diagnostic per line.
type List struct {
	entries []Diagnostic
}

func (l *List) Add(line int, code string) {
	l.entries = append(l.entries, Diagnostic{Line: line, Code: code})
}

func (l *List) Merge(other *List) {
	l.entries = append(l.entries, other.entries...)
}

func (l *List) Empty() bool { return len(l.entries) == 0 }

func (l *List) Len() int { return len(l.entries) }

// HasLine reports whether any diagnostic was already recorded for line.
func (l *List) HasLine(line int) bool {
	for _, e := range l.entries {
		if e.Line == line {
			return true
		}
	}
	return false
}

// Sorted returns the diagnostics ordered by line, one per line. When a line
// carries several diagnostics only the first recorded one survives.
func (l *List) Sorted() []Diagnostic {
	sorted := make([]Diagnostic, len(l.entries))
	copy(sorted, l.entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Line < sorted[j].Line })

	unique := sorted[:0]
	lastLine := -1
	for _, e := range sorted {
		if e.Line != lastLine {
			unique = append(unique, e)
			lastLine = e.Line
		}
	}
	return unique
}

func (l *List) String() string {
	var sb strings.Builder
	for _, e := range l.Sorted() {
		fmt.Fprintf(&sb, "%d %s\n", e.Line, e.Code)
	}
	return sb.String()
}

// WriteFile emits the sorted diagnostics, one "<line> <code>" per line.
func (l *List) WriteFile(path string) error {
	if err := os.WriteFile(path, []byte(l.String()), 0644); err != nil {
		return fmt.Errorf("diag: write %s: %w", path, err)
	}
	return nil
}
