package decompiler

import (
	"github.com/chazu/unscript/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Construct synthesis
// ---------------------------------------------------------------------------

type synthesizer struct {
	t    *Tree
	g    *Graph
	plan *Plan

	built  map[int]NodeID // construct index -> node
	placed map[int]bool   // block keys already in some scope
}

// Synthesize turns the plan into the structured tree in one pass. Every
// block lands in exactly one scope or becomes a construct header. The new
// top-level scope becomes the tree's root.
func (t *Tree) Synthesize(g *Graph, plan *Plan) (NodeID, error) {
	s := &synthesizer{
		t:      t,
		g:      g,
		plan:   plan,
		built:  make(map[int]NodeID),
		placed: make(map[int]bool),
	}
	root, err := s.scope(g.Keys(), -1)
	if err != nil {
		return NoNode, err
	}
	t.Root = root
	t.RecomputeRanges()
	return root, nil
}

// scope builds the item list for region as seen from construct owner.
// Blocks nested deeper are represented by the child construct that holds
// them, placed at its first block.
func (s *synthesizer) scope(region []int, owner int) (NodeID, error) {
	var items []NodeID
	for _, key := range region {
		o := s.plan.Owner(key)
		if o == owner {
			if owner >= 0 && s.plan.Constructs[owner].Header == key {
				continue
			}
			if s.placed[key] {
				continue
			}
			s.placed[key] = true
			items = append(items, s.g.Node(key))
			continue
		}

		c := o
		for c >= 0 && s.plan.Constructs[c].Parent != owner {
			c = s.plan.Constructs[c].Parent
		}
		if c < 0 {
			continue
		}
		if _, ok := s.built[c]; ok {
			continue
		}
		id, err := s.construct(c)
		if err != nil {
			return NoNode, err
		}
		items = append(items, id)
	}
	return s.t.New(KindScope, NoRange, items...), nil
}

func (s *synthesizer) construct(i int) (NodeID, error) {
	t := s.t
	pc := s.plan.Constructs[i]
	s.built[i] = NoNode
	s.placed[pc.Header] = true

	header := s.g.Node(pc.Header)
	t.nodes[header].Block.ProvidesControlFlow = true
	term := s.g.Terminator(pc.Header)

	c := &Construct{
		Header:    header,
		Cond:      NoNode,
		Then:      NoNode,
		Else:      NoNode,
		Merge:     pc.Merge,
		Negate:    pc.Negate,
		ThenEntry: pc.ThenEntry,
		ElseEntry: pc.ElseEntry,
	}

	var kind Kind
	var err error
	switch pc.Kind {
	case ConstructLoop:
		kind = KindLoop
		c.Then, err = s.scope(pc.ThenRegion, i)
	case ConstructIf:
		kind = KindIf
		c.Then, err = s.scope(pc.ThenRegion, i)
		if err == nil && pc.ElseEntry >= 0 {
			c.Else, err = s.scope(pc.ElseRegion, i)
		}
	case ConstructSwitch:
		kind = KindSwitch
		for _, pcs := range pc.Cases {
			body, berr := s.scope(pcs.Region, i)
			if berr != nil {
				return NoNode, berr
			}
			c.Cases = append(c.Cases, Case{
				Values:  pcs.Values,
				Default: pcs.Default,
				Entry:   pcs.Entry,
				Body:    body,
				Break:   pcs.Break,
			})
		}
	}
	if err != nil {
		return NoNode, err
	}

	switch term.Op {
	case bytecode.RootJumpIf:
		c.Cond, err = s.comparison(term, c.Negate)
		if err != nil {
			return NoNode, err
		}
		c.Negate = false
	case bytecode.RootSwitch:
		c.Cond = t.newVariable(term.Args[0].Value, false, NoRange)
	}

	id := t.New(kind, NoRange)
	t.nodes[id].Construct = c
	for _, k := range t.Children(id) {
		t.nodes[k].Parent = id
	}
	s.built[i] = id
	return id, nil
}

var invertedCompare = map[bytecode.CalcOpcode]bytecode.CalcOpcode{
	bytecode.CalcEq: bytecode.CalcNe,
	bytecode.CalcNe: bytecode.CalcEq,
	bytecode.CalcLt: bytecode.CalcGe,
	bytecode.CalcGe: bytecode.CalcLt,
	bytecode.CalcLe: bytecode.CalcGt,
	bytecode.CalcGt: bytecode.CalcLe,
}

// comparison builds the condition of a value-comparison branch:
// variable <cmp> immediate, inverted when the body is the jump side.
func (s *synthesizer) comparison(term *bytecode.RootInstruction, negate bool) (NodeID, error) {
	cmp := term.Args[1].Value
	if cmp < bytecode.CompareEq || cmp > bytecode.CompareGe {
		return NoNode, bytecode.Malformed(term.Start, "comparison operator %d out of range", cmp)
	}
	op := bytecode.CalcEq + bytecode.CalcOpcode(cmp)
	if negate {
		op = invertedCompare[op]
	}
	t := s.t
	left := t.newVariable(term.Args[0].Value, false, NoRange)
	right := t.newImmediate(term.Args[2].Value, NoRange)
	id := t.New(KindBinary, NoRange, left, right)
	t.nodes[id].Op = op
	return id, nil
}
