package ast

import (
	"fmt"
	"io"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/token"
)

type NodeType int

const (
	CompUnit NodeType = iota
	ConstDecl
	VarDecl
	VarDef
	FuncDef
	Block
	AssignStmt
	ExpStmt
	IfStmt
	ForLoop
	ForStmt
	BreakStmt
	ContinueStmt
	ReturnStmt
	PrintfStmt
	BinaryOp
	UnaryOp
	Call
	GetintExpr
	LVal
	Number
)

var nodeTypeNames = map[NodeType]string{
	CompUnit:     "CompUnit",
	ConstDecl:    "ConstDecl",
	VarDecl:      "VarDecl",
	VarDef:       "VarDef",
	FuncDef:      "FuncDef",
	Block:        "Block",
	AssignStmt:   "AssignStmt",
	ExpStmt:      "ExpStmt",
	IfStmt:       "IfStmt",
	ForLoop:      "ForLoop",
	ForStmt:      "ForStmt",
	BreakStmt:    "BreakStmt",
	ContinueStmt: "ContinueStmt",
	ReturnStmt:   "ReturnStmt",
	PrintfStmt:   "PrintfStmt",
	BinaryOp:     "BinaryOp",
	UnaryOp:      "UnaryOp",
	Call:         "Call",
	GetintExpr:   "GetintExpr",
	LVal:         "LVal",
	Number:       "Number",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// Node is a tagged union: Type selects which payload struct Data holds.
type Node struct {
	Type NodeType
	Tok  token.Token
	Data interface{}
}

type CompUnitNode struct {
	Decls []*Node // global ConstDecl/VarDecl
	Funcs []*Node // FuncDef, excluding main
	Main  *Node   // FuncDef named main
}

type ConstDeclNode struct {
	Defs []*Node // VarDef with IsConst set
}

type VarDeclNode struct {
	IsStatic bool
	Defs     []*Node
}

// VarDefNode covers const, static and plain definitions; ArraySize is nil
// for scalars, Init is nil when there is no initializer.
type VarDefNode struct {
	Name      string
	IsConst   bool
	IsStatic  bool
	ArraySize *Node
	Init      []*Node
	HasInit   bool
}

type Param struct {
	Name    string
	IsArray bool
	Tok     token.Token
}

type FuncDefNode struct {
	Name       string
	ReturnsInt bool
	Params     []Param
	Body       *Node
}

type BlockNode struct {
	Items   []*Node
	EndLine int // line of the closing brace, used by the missing-return check
}

type AssignStmtNode struct {
	Target *Node // LVal
	Value  *Node // expression, or a GetintExpr node
}

type ExpStmtNode struct {
	X *Node // nil for a bare ';'
}

type IfStmtNode struct {
	Cond *Node
	Then *Node
	Else *Node
}

type ForLoopNode struct {
	Init *Node // ForStmt or nil
	Cond *Node
	Step *Node // ForStmt or nil
	Body *Node
}

type ForStmtNode struct {
	Assigns []*Node // AssignStmt, in source order
}

type ReturnStmtNode struct {
	Value *Node
}

type PrintfStmtNode struct {
	Format string // raw lexeme including the surrounding quotes
	Args   []*Node
}

type BinaryOpNode struct {
	Op    token.Kind
	Left  *Node
	Right *Node
}

type UnaryOpNode struct {
	Op token.Kind
	X  *Node
}

type CallNode struct {
	Name string
	Args []*Node
}

type LValNode struct {
	Name  string
	Index *Node // nil for plain scalars / whole-array references
}

type NumberNode struct {
	Value int
}

// Dump writes an indented tree, two spaces per level.
func (n *Node) Dump(out io.Writer, depth int) {
	if n == nil {
		return
	}
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Fprintf(out, "%s|- %s (Line: %d)", indent, n.Type, n.Tok.Line)
	switch d := n.Data.(type) {
	case VarDefNode:
		fmt.Fprintf(out, " [Name: %s]", d.Name)
	case FuncDefNode:
		ret := "void"
		if d.ReturnsInt {
			ret = "int"
		}
		fmt.Fprintf(out, " [Name: %s, Return: %s]", d.Name, ret)
	case BinaryOpNode:
		fmt.Fprintf(out, " [Op: %s]", d.Op)
	case UnaryOpNode:
		fmt.Fprintf(out, " [Op: %s]", d.Op)
	case CallNode:
		fmt.Fprintf(out, " [Name: %s]", d.Name)
	case LValNode:
		fmt.Fprintf(out, " [Name: %s]", d.Name)
	case NumberNode:
		fmt.Fprintf(out, " [Value: %d]", d.Value)
	case PrintfStmtNode:
		fmt.Fprintf(out, " [Format: %s]", d.Format)
	}
	fmt.Fprintln(out)

	for _, child := range n.Children() {
		child.Dump(out, depth+1)
	}
}

// Children returns the sub-nodes in source order; nil entries are skipped.
func (n *Node) Children() []*Node {
	var kids []*Node
	add := func(nodes ...*Node) {
		for _, c := range nodes {
			if c != nil {
				kids = append(kids, c)
			}
		}
	}
	switch d := n.Data.(type) {
	case CompUnitNode:
		add(d.Decls...)
		add(d.Funcs...)
		add(d.Main)
	case ConstDeclNode:
		add(d.Defs...)
	case VarDeclNode:
		add(d.Defs...)
	case VarDefNode:
		add(d.ArraySize)
		add(d.Init...)
	case FuncDefNode:
		add(d.Body)
	case BlockNode:
		add(d.Items...)
	case AssignStmtNode:
		add(d.Target, d.Value)
	case ExpStmtNode:
		add(d.X)
	case IfStmtNode:
		add(d.Cond, d.Then, d.Else)
	case ForLoopNode:
		add(d.Init, d.Cond, d.Step, d.Body)
	case ForStmtNode:
		add(d.Assigns...)
	case ReturnStmtNode:
		add(d.Value)
	case PrintfStmtNode:
		add(d.Args...)
	case BinaryOpNode:
		add(d.Left, d.Right)
	case UnaryOpNode:
		add(d.X)
	case CallNode:
		add(d.Args...)
	case LValNode:
		add(d.Index)
	}
	return kids
}
