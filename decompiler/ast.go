package decompiler

import (
	"fmt"

	"github.com/chazu/unscript/pkg/bytecode"
	"github.com/chazu/unscript/pkg/debuginfo"
)

// ---------------------------------------------------------------------------
// Arena AST
// ---------------------------------------------------------------------------

// NodeID addresses a node in a Tree. Handles stay valid for the lifetime of
// the tree; replacing a child means storing a different handle in a slot.
type NodeID int32

// NoNode is the null handle.
const NoNode NodeID = -1

// Kind tags the variant of a node.
type Kind uint8

const (
	// Expressions
	KindImmediate Kind = iota
	KindVariable
	KindArrayAccess
	KindUnary
	KindBinary
	KindCall
	KindTemp
	KindStackRef // unresolved use of a calc stack entry; gone after BuildCalc

	// Instructions
	KindAssign
	KindTempDecl
	KindExprStmt
	KindCondJump
	KindReturn
	KindGoto
	KindRootOp

	// Blocks
	KindBlock
	KindScope
	KindLoop
	KindIf
	KindSwitch
	KindExit
)

var kindNames = [...]string{
	KindImmediate:   "Immediate",
	KindVariable:    "Variable",
	KindArrayAccess: "ArrayAccess",
	KindUnary:       "Unary",
	KindBinary:      "Binary",
	KindCall:        "Call",
	KindTemp:        "Temp",
	KindStackRef:    "StackRef",
	KindAssign:      "Assign",
	KindTempDecl:    "TempDecl",
	KindExprStmt:    "ExprStmt",
	KindCondJump:    "CondJump",
	KindReturn:      "Return",
	KindGoto:        "Goto",
	KindRootOp:      "RootOp",
	KindBlock:       "Block",
	KindScope:       "Scope",
	KindLoop:        "Loop",
	KindIf:          "If",
	KindSwitch:      "Switch",
	KindExit:        "Exit",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// IsExpr reports whether the kind is an expression.
func (k Kind) IsExpr() bool { return k <= KindStackRef }

// IsConstruct reports whether the kind is a structured control-flow node.
func (k Kind) IsConstruct() bool {
	return k == KindLoop || k == KindIf || k == KindSwitch
}

// VarScope selects the variable band a variable index falls into.
type VarScope uint8

const (
	ScopeScene VarScope = iota
	ScopeSystem
	ScopeLocal
)

func (s VarScope) String() string {
	switch s {
	case ScopeScene:
		return "scene"
	case ScopeSystem:
		return "system"
	default:
		return "local"
	}
}

// CallKind distinguishes the call targets of the calc machine.
type CallKind uint8

const (
	CallInternal CallKind = iota
	CallExternal
	CallUnknownExternal
	CallScript
	CallDynamic
)

// JumpKind is how a goto resolved against the enclosing structure.
type JumpKind uint8

const (
	JumpGoto JumpKind = iota
	JumpBreak
	JumpContinue
	JumpReturn
)

// Range is a half-open byte range [Start, End) in the script buffer.
// Synthetic nodes carry NoRange.
type Range struct {
	Start int
	End   int
}

// NoRange marks a node with no bytecode of its own.
var NoRange = Range{Start: -1, End: -1}

// Valid reports whether the range is non-degenerate.
func (r Range) Valid() bool { return r.Start >= 0 && r.End > r.Start }

// Union returns the smallest range covering r and o, ignoring invalid ones.
func (r Range) Union(o Range) Range {
	if !o.Valid() {
		return r
	}
	if !r.Valid() {
		return o
	}
	return Range{Start: min(r.Start, o.Start), End: max(r.End, o.End)}
}

// TextRange is the span of rendered text a node produced.
type TextRange struct {
	Start debuginfo.Position
	End   debuginfo.Position
}

// Valid reports whether the span is non-empty.
func (t TextRange) Valid() bool {
	return t.Start.Line >= 0 && t.Start.Less(t.End)
}

// Edge is a directed CFG edge. Block is the start offset of the block at the
// other end: the target for outbound edges, the source for inbound ones.
type Edge struct {
	Block int
	Back  bool
}

// BlockInfo carries the CFG state of a basic block node.
type BlockInfo struct {
	Start int // offset table key
	End   int
	Out   []Edge
	In    []Edge

	// ProvidesControlFlow marks a block whose terminator was absorbed into a
	// construct; the writer skips the terminator.
	ProvidesControlFlow bool

	// RedundantLastJump marks a trailing jump implied by structure.
	RedundantLastJump bool

	Labeled bool
}

// Case is one label group of a switch construct.
type Case struct {
	Values  []int32
	Default bool
	Entry   int // block key
	Body    NodeID
	Break   bool
}

// Construct is the payload of loop, if and switch nodes.
type Construct struct {
	Header NodeID // header block, terminator included
	Cond   NodeID // condition or switch value expression
	Then   NodeID // if: then scope; loop: body scope
	Else   NodeID // if: else scope or NoNode
	Cases  []Case
	Merge  int // block key control reaches after the construct
	Negate bool

	ThenEntry int // first block of Then
	ElseEntry int // first block of Else, -1 without an else
}

// Node is one arena slot. Which fields are meaningful depends on Kind.
type Node struct {
	Kind   Kind
	Own    Range
	Total  Range
	Parent NodeID
	Kids   []NodeID

	Int    int32 // immediate value, variable index, temp number, call id
	Op     bytecode.CalcOpcode
	Scope  VarScope
	Addr   bool
	Call   CallKind
	Name   string // call or builtin display name
	Target int    // jump target (absolute offset)
	Jump   JumpKind

	Root      *bytecode.RootInstruction
	Block     *BlockInfo
	Construct *Construct

	Text TextRange
}

// Tree is the per-script node arena.
type Tree struct {
	nodes []Node

	env      *Environment
	script   []byte
	instrs   []bytecode.RootInstruction
	nextTemp int32

	// Root is the top-level node: a block list before structuring, a scope
	// afterwards.
	Root NodeID

	labels map[int]bool
}

// NewTree creates an empty arena for one script.
func NewTree(env *Environment, script []byte) *Tree {
	if env == nil {
		env = &Environment{}
	}
	return &Tree{
		env:    env,
		script: script,
		Root:   NoNode,
		labels: make(map[int]bool),
	}
}

// Len returns the number of allocated nodes, live or dead.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node behind id. The pointer is invalidated by the next
// allocation.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// New allocates a node.
func (t *Tree) New(kind Kind, own Range, kids ...NodeID) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{
		Kind:   kind,
		Own:    own,
		Total:  own,
		Parent: NoNode,
		Kids:   kids,
		Text:   TextRange{Start: debuginfo.NoPosition, End: debuginfo.NoPosition},
	})
	for _, k := range kids {
		if k != NoNode {
			t.nodes[k].Parent = id
		}
	}
	return id
}

// SetKids replaces the kid list of id and reparents the new kids.
func (t *Tree) SetKids(id NodeID, kids []NodeID) {
	t.nodes[id].Kids = kids
	for _, k := range kids {
		t.nodes[k].Parent = id
	}
}

// Replace stores with in every slot of old's parent that held old.
func (t *Tree) Replace(old, with NodeID) {
	p := t.nodes[old].Parent
	t.nodes[with].Parent = p
	if p == NoNode {
		if t.Root == old {
			t.Root = with
		}
		return
	}
	for i, k := range t.nodes[p].Kids {
		if k == old {
			t.nodes[p].Kids[i] = with
		}
	}
	if c := t.nodes[p].Construct; c != nil {
		switch old {
		case c.Header:
			c.Header = with
		case c.Cond:
			c.Cond = with
		case c.Then:
			c.Then = with
		case c.Else:
			c.Else = with
		}
		for i := range c.Cases {
			if c.Cases[i].Body == old {
				c.Cases[i].Body = with
			}
		}
	}
}

// Clone deep-copies the subtree rooted at id.
func (t *Tree) Clone(id NodeID) NodeID {
	n := t.nodes[id]
	kids := make([]NodeID, len(n.Kids))
	for i, k := range n.Kids {
		kids[i] = t.Clone(k)
	}
	c := t.New(n.Kind, n.Own, kids...)
	cn := &t.nodes[c]
	cn.Total = n.Total
	cn.Int, cn.Op, cn.Scope, cn.Addr = n.Int, n.Op, n.Scope, n.Addr
	cn.Call, cn.Name, cn.Target, cn.Jump = n.Call, n.Name, n.Target, n.Jump
	cn.Root = n.Root
	return c
}

// Children returns the structural children of id in render order.
func (t *Tree) Children(id NodeID) []NodeID {
	n := &t.nodes[id]
	switch n.Kind {
	case KindLoop, KindIf, KindSwitch:
		c := n.Construct
		out := []NodeID{c.Header}
		if c.Cond != NoNode {
			out = append(out, c.Cond)
		}
		if c.Then != NoNode {
			out = append(out, c.Then)
		}
		if c.Else != NoNode {
			out = append(out, c.Else)
		}
		for _, cs := range c.Cases {
			out = append(out, cs.Body)
		}
		return out
	case KindImmediate, KindVariable, KindTemp, KindStackRef, KindGoto, KindExit:
		return nil
	default:
		return n.Kids
	}
}

// Walk visits id and its descendants in pre-order. Returning false from fn
// skips the node's children.
func (t *Tree) Walk(id NodeID, fn func(NodeID) bool) {
	if id == NoNode || !fn(id) {
		return
	}
	for _, k := range t.Children(id) {
		t.Walk(k, fn)
	}
}

// RecomputeRanges refreshes every Total range under the root. It must run
// after each phase that moves nodes.
func (t *Tree) RecomputeRanges() {
	if t.Root != NoNode {
		t.recompute(t.Root)
	}
}

func (t *Tree) recompute(id NodeID) Range {
	total := t.nodes[id].Own
	for _, k := range t.Children(id) {
		total = total.Union(t.recompute(k))
	}
	t.nodes[id].Total = total
	return total
}

// Labeled reports whether a goto targets the block keyed by offset.
func (t *Tree) Labeled(offset int) bool { return t.labels[offset] }

// Temps returns the number of temporaries allocated so far.
func (t *Tree) Temps() int { return int(t.nextTemp) }
