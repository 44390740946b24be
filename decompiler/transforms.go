package decompiler

import (
	"github.com/chazu/unscript/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Tree rewrites
// ---------------------------------------------------------------------------

// TransformCalcReturns replaces each root return whose calc body is a
// single return (or empty) with the return node itself. A body with
// statements but no trailing return gets one appended, so splicing it into
// its block keeps the exit. stmts is updated in place.
func (t *Tree) TransformCalcReturns(stmts []NodeID) {
	for i, id := range stmts {
		n := t.nodes[id]
		if n.Kind != KindRootOp || n.Root.Op != bytecode.RootReturn {
			continue
		}
		switch {
		case len(n.Kids) == 0:
			ret := t.New(KindReturn, n.Own)
			t.nodes[ret].Root = n.Root
			stmts[i] = ret
		case len(n.Kids) == 1 && t.nodes[n.Kids[0]].Kind == KindReturn:
			ret := n.Kids[0]
			t.nodes[ret].Own = n.Own
			t.nodes[ret].Root = n.Root
			t.nodes[ret].Parent = NoNode
			stmts[i] = ret
		case t.nodes[n.Kids[len(n.Kids)-1]].Kind != KindReturn:
			own := Range{Start: n.Root.Start, End: n.Root.CalcStart}
			if !own.Valid() {
				own = NoRange
			}
			ret := t.New(KindReturn, own)
			t.nodes[ret].Root = n.Root
			t.SetKids(id, append(n.Kids, ret))
		}
	}
}

// TransformLazyBooleans folds the short-circuit lowering
//
//	int tempN = left; if (!tempN) goto end; ... tempN && right ...
//
// back into left && right (|| with a non-zero jump). A calc jump that does
// not fold has no label it could render against, so it is reported as
// unsupported.
func (t *Tree) TransformLazyBooleans() error {
	var err error
	t.Walk(t.Root, func(id NodeID) bool {
		if err != nil {
			return false
		}
		n := &t.nodes[id]
		if n.Kind == KindRootOp {
			var kids []NodeID
			kids, err = t.lazyBooleans(n.Kids)
			if err == nil {
				t.SetKids(id, kids)
				err = t.checkFolded(kids)
			}
			return false
		}
		return !n.Kind.IsExpr()
	})
	return err
}

// checkFolded fails on the first calc jump left in stmts.
func (t *Tree) checkFolded(stmts []NodeID) error {
	for _, s := range stmts {
		if n := &t.nodes[s]; n.Kind == KindCondJump {
			return bytecode.Unsupported(n.Own.Start, n.Op.String(),
				"calc jump to 0x%04X is not a short-circuit operator", n.Target)
		}
	}
	return nil
}

func (t *Tree) lazyBooleans(stmts []NodeID) ([]NodeID, error) {
	for i := len(stmts) - 1; i >= 0; i-- {
		switch t.nodes[stmts[i]].Kind {
		case KindTempDecl:
			if i+1 >= len(stmts) {
				continue
			}
			ok, err := t.foldTempJump(stmts, i)
			if err != nil {
				return nil, err
			}
			if ok {
				stmts = append(stmts[:i], stmts[i+2:]...)
			}
		case KindCondJump:
			if t.foldConstJump(stmts, i) {
				stmts = append(stmts[:i], stmts[i+1:]...)
			}
		}
	}
	return stmts, nil
}

func lazyOp(jump bytecode.CalcOpcode) bytecode.CalcOpcode {
	if jump == bytecode.CalcJumpIfZero {
		return bytecode.CalcLogAnd
	}
	return bytecode.CalcLogOr
}

// shortCircuits reports whether jump skips exactly the right operand of bin.
// The operand's range is taken fresh: an inner fold may have replaced a
// temporary in it with the code that computed it.
func (t *Tree) shortCircuits(jump, bin NodeID) bool {
	j, b := &t.nodes[jump], &t.nodes[bin]
	right := t.recompute(b.Kids[1])
	return j.Own.End == right.Start && j.Target == b.Own.End
}

// foldTempJump handles a declaration at stmts[i] followed by a jump on it.
func (t *Tree) foldTempJump(stmts []NodeID, i int) (bool, error) {
	decl, jump := stmts[i], stmts[i+1]
	temp := t.nodes[decl].Int
	jn := &t.nodes[jump]
	if jn.Kind != KindCondJump {
		return false, nil
	}
	cond := &t.nodes[jn.Kids[0]]
	if cond.Kind != KindTemp || cond.Int != temp {
		return false, nil
	}
	op := lazyOp(jn.Op)
	bin := t.findBinary(stmts[i+2:], op, func(left *Node) bool {
		return left.Kind == KindTemp && left.Int == temp
	})
	if bin == NoNode || !t.shortCircuits(jump, bin) {
		return false, nil
	}
	if uses := t.countTemp(stmts, temp); uses != 2 {
		return false, bytecode.Inconsistent(jn.Own.Start,
			"short-circuit temporary temp%d has %d uses, want 2", temp, uses)
	}
	value := t.nodes[decl].Kids[0]
	t.Replace(t.nodes[bin].Kids[0], value)
	return true, nil
}

// foldConstJump handles a jump on a literal left operand, which is never
// materialized and so has no declaration.
func (t *Tree) foldConstJump(stmts []NodeID, i int) bool {
	jump := stmts[i]
	jn := &t.nodes[jump]
	cond := t.nodes[jn.Kids[0]]
	if cond.Kind != KindImmediate {
		return false
	}
	bin := t.findBinary(stmts[i+1:], lazyOp(jn.Op), func(left *Node) bool {
		return left.Kind == KindImmediate && left.Int == cond.Int && left.Own == cond.Own
	})
	return bin != NoNode && t.shortCircuits(jump, bin)
}

func (t *Tree) findBinary(stmts []NodeID, op bytecode.CalcOpcode, left func(*Node) bool) NodeID {
	found := NoNode
	for _, s := range stmts {
		t.Walk(s, func(id NodeID) bool {
			if found != NoNode {
				return false
			}
			n := &t.nodes[id]
			if n.Kind == KindBinary && n.Op == op && left(&t.nodes[n.Kids[0]]) {
				found = id
				return false
			}
			return true
		})
		if found != NoNode {
			break
		}
	}
	return found
}

func (t *Tree) countTemp(stmts []NodeID, temp int32) int {
	uses := 0
	for _, s := range stmts {
		t.Walk(s, func(id NodeID) bool {
			if n := &t.nodes[id]; n.Kind == KindTemp && n.Int == temp {
				uses++
			}
			return true
		})
	}
	return uses
}

// TransformRemoveCalcBlocks splices the statements of plain calc and return
// root ops into their block.
func (t *Tree) TransformRemoveCalcBlocks() {
	t.Walk(t.Root, func(id NodeID) bool {
		n := &t.nodes[id]
		if n.Kind != KindBlock {
			return !n.Kind.IsExpr()
		}
		var kids []NodeID
		for _, k := range n.Kids {
			kn := &t.nodes[k]
			if kn.Kind == KindRootOp && (kn.Root.Op == bytecode.RootCalc || kn.Root.Op == bytecode.RootReturn) {
				kids = append(kids, kn.Kids...)
				continue
			}
			kids = append(kids, k)
		}
		t.SetKids(id, kids)
		return false
	})
}

// TransformConstructExpressions lifts the value a computed branch or switch
// returns from its calc body into the construct's condition. Statements
// before the return move in front of the terminator.
func (t *Tree) TransformConstructExpressions() error {
	var err error
	t.Walk(t.Root, func(id NodeID) bool {
		if err != nil {
			return false
		}
		n := &t.nodes[id]
		if !n.Kind.IsConstruct() {
			return !n.Kind.IsExpr()
		}
		if n.Construct.Cond == NoNode {
			err = t.extractCondition(id)
		}
		return err == nil
	})
	return err
}

func (t *Tree) extractCondition(id NodeID) error {
	c := t.nodes[id].Construct
	header := c.Header
	kids := t.nodes[header].Kids
	if len(kids) == 0 {
		return bytecode.Inconsistent(-1, "construct without header terminator")
	}
	term := kids[len(kids)-1]
	tn := &t.nodes[term]
	stmts := tn.Kids
	if len(stmts) == 0 {
		return bytecode.Unsupported(tn.Own.Start, tn.Root.Op.String(), "condition calc yields no value")
	}
	ret := stmts[len(stmts)-1]
	if rn := &t.nodes[ret]; rn.Kind != KindReturn || len(rn.Kids) != 1 {
		return bytecode.Unsupported(tn.Own.Start, tn.Root.Op.String(), "condition calc does not end in a return")
	}
	expr := t.nodes[ret].Kids[0]

	prologue := append([]NodeID(nil), kids[:len(kids)-1]...)
	prologue = append(prologue, stmts[:len(stmts)-1]...)
	t.SetKids(header, append(prologue, term))
	t.nodes[term].Kids = nil

	if c.Negate {
		expr = t.New(KindUnary, NoRange, expr)
		t.nodes[expr].Op = bytecode.CalcNot
		c.Negate = false
	}
	c.Cond = expr
	t.nodes[expr].Parent = id
	return nil
}
