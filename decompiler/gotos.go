package decompiler

import (
	"github.com/chazu/unscript/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Explicit jumps for unstructured control flow
// ---------------------------------------------------------------------------

// breakable is an enclosing construct a jump may leave or restart.
type breakable struct {
	header int
	merge  int
	loop   bool
}

type gotoFixer struct {
	t *Tree
	g *Graph
}

// ConstructGotos compares every item's actual successor with the one the
// structure implies. Matching trailing jumps are marked redundant; every
// mismatch gets an explicit break, continue, return or labeled goto.
func (t *Tree) ConstructGotos(g *Graph) error {
	f := &gotoFixer{t: t, g: g}
	return f.scope(t.Root, -1, g.Exit, nil)
}

// entryOf returns the block key control enters an item at, or -1.
func (f *gotoFixer) entryOf(id NodeID) int {
	n := &f.t.nodes[id]
	switch {
	case n.Kind == KindBlock:
		return n.Block.Start
	case n.Kind.IsConstruct():
		return f.t.nodes[n.Construct.Header].Block.Start
	}
	return -1
}

// scope fixes one item list. entry is where control enters the scope (-1
// when implied) and cont is where it goes after the last item.
func (f *gotoFixer) scope(id NodeID, entry, cont int, ctx []breakable) error {
	t := f.t
	items := t.nodes[id].Kids
	var out []NodeID

	if entry >= 0 {
		first := cont
		if len(items) > 0 {
			first = f.entryOf(items[0])
		}
		if first != entry {
			out = append(out, f.jump(entry, ctx))
		}
	}

	for i, it := range items {
		succ := cont
		if i+1 < len(items) {
			succ = f.entryOf(items[i+1])
		}
		out = append(out, it)

		n := &t.nodes[it]
		switch {
		case n.Kind == KindBlock:
			extra, err := f.block(it, succ, ctx)
			if err != nil {
				return err
			}
			if extra != NoNode {
				out = append(out, extra)
			}
		case n.Kind.IsConstruct():
			if err := f.construct(it, ctx); err != nil {
				return err
			}
			if merge := t.nodes[it].Construct.Merge; merge != succ {
				out = append(out, f.jump(merge, ctx))
			}
		}
	}
	t.SetKids(id, out)
	return nil
}

// block handles the terminator of a basic block. It returns a goto to
// append after the block when the block falls through to the wrong place.
func (f *gotoFixer) block(id NodeID, succ int, ctx []breakable) (NodeID, error) {
	t := f.t
	info := t.nodes[id].Block
	last := f.g.TerminatorNode(info.Start)
	if last == NoNode {
		return NoNode, nil
	}
	ins := t.nodes[last].Root
	switch {
	case ins.Op == bytecode.RootJump:
		target := ins.Targets()[0]
		if target == succ {
			info.RedundantLastJump = true
			return NoNode, nil
		}
		n := &t.nodes[last]
		n.Kind = KindGoto
		n.Target = target
		n.Kids = nil
		f.resolve(last, ctx)
	case ins.Op.IsTerminal():
	case ins.Op.IsConditional():
		if !info.ProvidesControlFlow {
			return NoNode, bytecode.Unsupported(ins.Start, ins.Op.String(), "branch outside any recoverable construct")
		}
	default:
		if ins.End != succ {
			return f.jump(ins.End, ctx), nil
		}
	}
	return NoNode, nil
}

func (f *gotoFixer) construct(id NodeID, ctx []breakable) error {
	t := f.t
	c := t.nodes[id].Construct
	header := t.nodes[c.Header].Block.Start

	switch t.nodes[id].Kind {
	case KindLoop:
		inner := append(ctx[:len(ctx):len(ctx)], breakable{header: header, merge: c.Merge, loop: true})
		return f.scope(c.Then, c.ThenEntry, header, inner)
	case KindIf:
		if err := f.scope(c.Then, c.ThenEntry, c.Merge, ctx); err != nil {
			return err
		}
		if c.Else != NoNode {
			return f.scope(c.Else, c.ElseEntry, c.Merge, ctx)
		}
	case KindSwitch:
		inner := append(ctx[:len(ctx):len(ctx)], breakable{header: header, merge: c.Merge})
		for i := range c.Cases {
			cont := c.Merge
			if !c.Cases[i].Break && i+1 < len(c.Cases) {
				cont = c.Cases[i+1].Entry
			}
			if err := f.scope(c.Cases[i].Body, c.Cases[i].Entry, cont, inner); err != nil {
				return err
			}
		}
	}
	return nil
}

// jump allocates a synthetic jump to target.
func (f *gotoFixer) jump(target int, ctx []breakable) NodeID {
	id := f.t.New(KindGoto, NoRange)
	f.t.nodes[id].Target = target
	f.resolve(id, ctx)
	return id
}

// resolve picks the jump form: break out of the innermost breakable,
// continue the innermost loop, return at the script end, or a labeled goto.
func (f *gotoFixer) resolve(id NodeID, ctx []breakable) {
	t := f.t
	n := &t.nodes[id]
	if len(ctx) > 0 && ctx[len(ctx)-1].merge == n.Target {
		n.Jump = JumpBreak
		return
	}
	for i := len(ctx) - 1; i >= 0; i-- {
		if ctx[i].loop {
			if ctx[i].header == n.Target {
				n.Jump = JumpContinue
				return
			}
			break
		}
	}
	if n.Target == f.g.Exit {
		n.Jump = JumpReturn
		return
	}
	n.Jump = JumpGoto
	t.labels[n.Target] = true
	if f.g.Has(n.Target) {
		f.g.Block(n.Target).Labeled = true
	}
}
