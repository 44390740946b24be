package decompiler

import (
	"sort"

	"github.com/chazu/unscript/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Control-flow graph
// ---------------------------------------------------------------------------

// Graph is the CFG of one script. Blocks are keyed by their start offset;
// the synthetic exit block is keyed by the script length.
type Graph struct {
	t      *Tree
	blocks map[int]NodeID
	order  []int // block keys ascending, exit excluded

	Entry int
	Exit  int

	reachable map[int]bool
}

// BuildGraph splits the root statements into basic blocks and wires their
// edges. stmts must be indexed like the tree's root instructions.
func (t *Tree) BuildGraph(stmts []NodeID) (*Graph, error) {
	instrs := t.instrs
	if len(stmts) != len(instrs) {
		return nil, bytecode.Inconsistent(-1, "%d statements for %d instructions", len(stmts), len(instrs))
	}
	exit := len(t.script)
	g := &Graph{
		t:         t,
		blocks:    make(map[int]NodeID),
		Entry:     exit,
		Exit:      exit,
		reachable: make(map[int]bool),
	}

	exitID := t.New(KindExit, NoRange)
	t.nodes[exitID].Block = &BlockInfo{Start: exit, End: exit}
	g.blocks[exit] = exitID

	if len(instrs) == 0 {
		g.classify()
		return g, nil
	}

	index := make(map[int]int, len(instrs))
	for i, ins := range instrs {
		index[ins.Start] = i
	}

	// Split after every splitting instruction and before every target.
	leaders := map[int]bool{instrs[0].Start: true}
	for i, ins := range instrs {
		if ins.Op.IsSplitting() && i+1 < len(instrs) {
			leaders[instrs[i+1].Start] = true
		}
		for _, target := range ins.Targets() {
			if target == exit {
				continue
			}
			if _, ok := index[target]; !ok {
				return nil, bytecode.Malformed(ins.Start, "%s targets 0x%04X, not an instruction boundary", ins.Op, target)
			}
			leaders[target] = true
		}
	}

	var cur NodeID = NoNode
	for i, ins := range instrs {
		if leaders[ins.Start] {
			cur = t.New(KindBlock, NoRange)
			t.nodes[cur].Block = &BlockInfo{Start: ins.Start}
			g.blocks[ins.Start] = cur
			g.order = append(g.order, ins.Start)
		}
		t.nodes[cur].Kids = append(t.nodes[cur].Kids, stmts[i])
		t.nodes[stmts[i]].Parent = cur
		t.nodes[cur].Block.End = ins.End
	}
	g.Entry = g.order[0]

	for _, key := range g.order {
		last := g.Terminator(key)
		for _, target := range successorsOf(last, exit) {
			if _, ok := g.blocks[target]; !ok {
				return nil, bytecode.Malformed(last.Start, "%s targets unknown block 0x%04X", last.Op, target)
			}
			g.addEdge(key, target)
		}
	}

	g.classify()
	return g, nil
}

// successorsOf lists the outbound targets of a block ending in ins.
func successorsOf(ins *bytecode.RootInstruction, exit int) []int {
	switch {
	case ins.Op.IsTerminal():
		return []int{exit}
	case ins.Op == bytecode.RootJumpIf:
		return []int{ins.End, ins.Targets()[0]}
	case ins.Op.IsSplitting():
		return ins.Targets()
	default:
		return []int{ins.End}
	}
}

func (g *Graph) addEdge(from, to int) {
	fb := g.Block(from)
	for _, e := range fb.Out {
		if e.Block == to {
			return
		}
	}
	fb.Out = append(fb.Out, Edge{Block: to})
	tb := g.Block(to)
	tb.In = append(tb.In, Edge{Block: from})
}

// classify marks back edges: an edge into a block still on the DFS stack.
func (g *Graph) classify() {
	onStack := make(map[int]bool)
	var visit func(int)
	visit = func(key int) {
		g.reachable[key] = true
		onStack[key] = true
		b := g.Block(key)
		for i, e := range b.Out {
			if onStack[e.Block] {
				b.Out[i].Back = true
				g.markInBack(e.Block, key)
				continue
			}
			if !g.reachable[e.Block] {
				visit(e.Block)
			}
		}
		onStack[key] = false
	}
	visit(g.Entry)
}

func (g *Graph) markInBack(to, from int) {
	tb := g.Block(to)
	for i, e := range tb.In {
		if e.Block == from {
			tb.In[i].Back = true
		}
	}
}

// Tree returns the arena the graph's blocks live in.
func (g *Graph) Tree() *Tree { return g.t }

// Keys returns the block keys in lexical order, exit excluded.
func (g *Graph) Keys() []int { return g.order }

// Node returns the block node for key.
func (g *Graph) Node(key int) NodeID {
	id, ok := g.blocks[key]
	if !ok {
		return NoNode
	}
	return id
}

// Block returns the CFG data of the block keyed by key.
func (g *Graph) Block(key int) *BlockInfo {
	return g.t.nodes[g.blocks[key]].Block
}

// Has reports whether key names a block or the exit.
func (g *Graph) Has(key int) bool {
	_, ok := g.blocks[key]
	return ok
}

// Reachable reports whether the block is reachable from the entry.
func (g *Graph) Reachable(key int) bool { return g.reachable[key] }

// Succs returns the outbound targets of key.
func (g *Graph) Succs(key int) []int {
	return edgeKeys(g.Block(key).Out)
}

// Preds returns the inbound sources of key.
func (g *Graph) Preds(key int) []int {
	return edgeKeys(g.Block(key).In)
}

func edgeKeys(edges []Edge) []int {
	out := make([]int, len(edges))
	for i, e := range edges {
		out[i] = e.Block
	}
	return out
}

// Terminator returns the root instruction ending the block, or nil for the
// exit block.
func (g *Graph) Terminator(key int) *bytecode.RootInstruction {
	n := &g.t.nodes[g.blocks[key]]
	if len(n.Kids) == 0 {
		return nil
	}
	return g.t.nodes[n.Kids[len(n.Kids)-1]].Root
}

// TerminatorNode returns the node of the block's last statement.
func (g *Graph) TerminatorNode(key int) NodeID {
	n := &g.t.nodes[g.blocks[key]]
	if len(n.Kids) == 0 {
		return NoNode
	}
	return n.Kids[len(n.Kids)-1]
}

// Verify checks that every outbound edge lands on a known block and has a
// matching inbound edge there.
func (g *Graph) Verify() error {
	keys := append([]int{g.Exit}, g.order...)
	for _, key := range keys {
		for _, e := range g.Block(key).Out {
			if !g.Has(e.Block) {
				return bytecode.Inconsistent(key, "edge to unknown block 0x%04X", e.Block)
			}
			found := false
			for _, in := range g.Block(e.Block).In {
				if in.Block == key && in.Back == e.Back {
					found = true
				}
			}
			if !found {
				return bytecode.Inconsistent(key, "edge to 0x%04X has no inbound twin", e.Block)
			}
		}
	}
	return nil
}

// sortedKeys returns the members of set in ascending order.
func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
