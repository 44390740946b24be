package decompiler

import (
	"sort"

	"github.com/chazu/unscript/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Stack-machine AST builder
// ---------------------------------------------------------------------------

// stackEntry is one value produced while simulating a calc stream.
type stackEntry struct {
	expr      NodeID
	refs      int // pops so far; only grows
	insertAt  int // statement index the declaration goes to if finalized
	seq       int // push order
	constant  bool
	finalized bool
	temp      int32
	moved     bool // expr has been spliced into its first use
}

// calcBuilder symbolically executes one calc stream.
type calcBuilder struct {
	t       *Tree
	stack   []*stackEntry
	entries []*stackEntry
	stmts   []NodeID
	decls   []*stackEntry // finalize order

	// onFinalize observes finalizations; tests use it.
	onFinalize func(*stackEntry)
}

func newCalcBuilder(t *Tree) *calcBuilder {
	return &calcBuilder{t: t}
}

func insRange(ins bytecode.CalcInstruction) Range {
	return Range{Start: ins.Start, End: ins.End}
}

func (b *calcBuilder) push(expr NodeID) {
	e := &stackEntry{
		expr:     expr,
		insertAt: len(b.stmts),
		seq:      len(b.entries),
		constant: b.t.nodes[expr].Kind == KindImmediate,
	}
	b.entries = append(b.entries, e)
	b.stack = append(b.stack, e)
}

// pop takes the top entry and returns a reference to it. The second pop of
// a non-constant entry finalizes it into a temporary.
func (b *calcBuilder) pop(ins bytecode.CalcInstruction) (NodeID, error) {
	if len(b.stack) == 0 {
		return NoNode, bytecode.Malformed(ins.Start, "calc stack underflow at %s", ins.Op)
	}
	e := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	e.refs++
	if e.refs == 2 && !e.constant {
		b.finalize(e)
	}
	ref := b.t.New(KindStackRef, NoRange)
	b.t.nodes[ref].Int = int32(e.seq)
	return ref, nil
}

func (b *calcBuilder) popN(ins bytecode.CalcInstruction, n int) ([]NodeID, error) {
	out := make([]NodeID, n)
	for i := n - 1; i >= 0; i-- {
		v, err := b.pop(ins)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (b *calcBuilder) finalize(e *stackEntry) {
	if e.finalized {
		return
	}
	e.finalized = true
	e.temp = b.t.nextTemp
	b.t.nextTemp++
	b.decls = append(b.decls, e)
	if b.onFinalize != nil {
		b.onFinalize(e)
	}
}

func (b *calcBuilder) emit(stmt NodeID) {
	b.stmts = append(b.stmts, stmt)
}

func (b *calcBuilder) variable(index int32, addr bool, own Range) NodeID {
	return b.t.newVariable(index, addr, own)
}

// newVariable allocates a reference to the raw variable index.
func (t *Tree) newVariable(index int32, addr bool, own Range) NodeID {
	scope, local := t.env.ResolveVar(index)
	id := t.New(KindVariable, own)
	n := &t.nodes[id]
	n.Scope, n.Int, n.Addr = scope, local, addr
	return id
}

// newImmediate allocates an integer literal.
func (t *Tree) newImmediate(v int32, own Range) NodeID {
	id := t.New(KindImmediate, own)
	t.nodes[id].Int = v
	return id
}

// step executes one calc instruction.
func (b *calcBuilder) step(ins bytecode.CalcInstruction) error {
	own := insRange(ins)
	t := b.t

	switch {
	case ins.Op.IsBinary():
		args, err := b.popN(ins, 2)
		if err != nil {
			return err
		}
		id := t.New(KindBinary, own, args...)
		t.nodes[id].Op = ins.Op
		b.push(id)
		return nil

	case ins.Op.IsUnary():
		v, err := b.pop(ins)
		if err != nil {
			return err
		}
		id := t.New(KindUnary, own, v)
		t.nodes[id].Op = ins.Op
		b.push(id)
		return nil
	}

	switch ins.Op {
	case bytecode.CalcPushInt:
		b.push(t.newImmediate(ins.Args[0].Value, own))

	case bytecode.CalcPushVar:
		b.push(b.variable(ins.Args[0].Value, false, own))

	case bytecode.CalcPushAddr:
		b.push(b.variable(ins.Args[0].Value, true, own))

	case bytecode.CalcWriteVar:
		v, err := b.pop(ins)
		if err != nil {
			return err
		}
		dest := b.variable(ins.Args[0].Value, false, NoRange)
		b.emit(t.New(KindAssign, own, dest, v))

	case bytecode.CalcReadArray:
		args, err := b.popN(ins, 2)
		if err != nil {
			return err
		}
		b.push(t.New(KindArrayAccess, own, args...))

	case bytecode.CalcWriteArray:
		args, err := b.popN(ins, 3)
		if err != nil {
			return err
		}
		dest := t.New(KindArrayAccess, NoRange, args[0], args[1])
		b.emit(t.New(KindAssign, own, dest, args[2]))

	case bytecode.CalcDup:
		if len(b.stack) == 0 {
			return bytecode.Malformed(ins.Start, "calc stack underflow at %s", ins.Op)
		}
		b.stack = append(b.stack, b.stack[len(b.stack)-1])

	case bytecode.CalcPop:
		v, err := b.pop(ins)
		if err != nil {
			return err
		}
		b.emit(t.New(KindExprStmt, own, v))

	case bytecode.CalcCall, bytecode.CalcCallScript:
		argc := ins.Args[1].Value
		if argc < 0 {
			return bytecode.Malformed(ins.Start, "negative argument count %d", argc)
		}
		args, err := b.popN(ins, int(argc))
		if err != nil {
			return err
		}
		id := t.New(KindCall, own, args...)
		n := &t.nodes[id]
		n.Int = ins.Args[0].Value
		if ins.Op == bytecode.CalcCallScript {
			n.Call = CallScript
		} else {
			n.Call, n.Name = t.env.ResolveCall(n.Int)
		}
		b.push(id)

	case bytecode.CalcCallDynamic:
		argc := ins.Args[0].Value
		if argc < 0 {
			return bytecode.Malformed(ins.Start, "negative argument count %d", argc)
		}
		args, err := b.popN(ins, int(argc)+1)
		if err != nil {
			return err
		}
		id := t.New(KindCall, own, args...)
		t.nodes[id].Call = CallDynamic
		b.push(id)

	case bytecode.CalcJumpIfZero, bytecode.CalcJumpIfNonZero:
		v, err := b.pop(ins)
		if err != nil {
			return err
		}
		id := t.New(KindCondJump, own, v)
		t.nodes[id].Op = ins.Op
		t.nodes[id].Target = ins.Target()
		b.emit(id)

	case bytecode.CalcReturn:
		v, err := b.pop(ins)
		if err != nil {
			return err
		}
		b.emit(t.New(KindReturn, own, v))

	default:
		return bytecode.Unsupported(ins.Start, ins.Op.String(), "no stack model for opcode")
	}
	return nil
}

// finish runs the dead-value sweep, inserts declarations and resolves every
// stack reference.
func (b *calcBuilder) finish() []NodeID {
	for _, e := range b.stack {
		if e.refs == 0 {
			b.finalize(e)
		}
	}

	// Later insertion points first so earlier inserts never shift them.
	pending := append([]*stackEntry(nil), b.decls...)
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].insertAt != pending[j].insertAt {
			return pending[i].insertAt > pending[j].insertAt
		}
		return pending[i].seq > pending[j].seq
	})
	stmts := b.stmts
	for _, e := range pending {
		e.moved = true
		decl := b.t.New(KindTempDecl, NoRange, e.expr)
		b.t.nodes[decl].Int = e.temp
		stmts = append(stmts, NoNode)
		copy(stmts[e.insertAt+1:], stmts[e.insertAt:])
		stmts[e.insertAt] = decl
	}

	for _, s := range stmts {
		b.resolve(s)
	}
	return stmts
}

func (b *calcBuilder) resolve(id NodeID) {
	t := b.t
	if t.nodes[id].Kind == KindStackRef {
		e := b.entries[t.nodes[id].Int]
		switch {
		case e.finalized:
			t.nodes[id].Kind = KindTemp
			t.nodes[id].Int = e.temp
		case !e.moved:
			e.moved = true
			b.moveInto(id, e.expr)
		default:
			b.moveInto(id, t.Clone(e.expr))
		}
	}
	for _, k := range t.nodes[id].Kids {
		b.resolve(k)
	}
}

// moveInto overwrites slot dst with the node at src, keeping dst's parent.
func (b *calcBuilder) moveInto(dst, src NodeID) {
	t := b.t
	parent := t.nodes[dst].Parent
	t.nodes[dst] = t.nodes[src]
	t.nodes[dst].Parent = parent
	for _, k := range t.nodes[dst].Kids {
		t.nodes[k].Parent = dst
	}
	t.nodes[src].Kids = nil
}

// BuildCalc turns one calc stream into its statement list.
func (t *Tree) BuildCalc(calc []bytecode.CalcInstruction) ([]NodeID, error) {
	b := newCalcBuilder(t)
	for _, ins := range calc {
		if err := b.step(ins); err != nil {
			return nil, err
		}
	}
	return b.finish(), nil
}

// BuildInitialAST wraps every root instruction in a RootOp node holding the
// statements of its calc stream. The result is indexed like instrs.
func (t *Tree) BuildInitialAST(instrs []bytecode.RootInstruction) ([]NodeID, error) {
	t.instrs = instrs
	out := make([]NodeID, len(instrs))
	for i := range instrs {
		ins := &t.instrs[i]
		stmts, err := t.BuildCalc(ins.Calc)
		if err != nil {
			return nil, err
		}
		id := t.New(KindRootOp, Range{Start: ins.Start, End: ins.End}, stmts...)
		t.nodes[id].Root = ins
		out[i] = id
	}
	return out, nil
}
