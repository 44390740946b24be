package decompiler

import (
	"sort"

	"github.com/chazu/unscript/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Construct discovery
// ---------------------------------------------------------------------------

// ConstructKind distinguishes the structured regions the grouper recovers.
type ConstructKind uint8

const (
	ConstructLoop ConstructKind = iota
	ConstructIf
	ConstructSwitch
)

func (k ConstructKind) String() string {
	switch k {
	case ConstructLoop:
		return "loop"
	case ConstructIf:
		return "if"
	default:
		return "switch"
	}
}

// PlannedCase is one label group of a planned switch.
type PlannedCase struct {
	Values  []int32
	Default bool
	Entry   int
	Region  []int
	FallsTo int // entry of the case this one falls into, -1 if none
	Break   bool
}

// PlannedConstruct is one node of the construct hierarchy. It is built from
// the original CFG only and never mutated once the plan is returned.
type PlannedConstruct struct {
	Kind     ConstructKind
	Header   int
	Body     map[int]bool // header included
	Merge    int
	Parent   int // index into Plan.Constructs, -1 at top level
	Children []int

	// Loops use ThenEntry/ThenRegion for the body.
	ThenEntry  int
	ThenRegion []int
	ElseEntry  int // -1 when there is no else
	ElseRegion []int
	Negate     bool

	Cases []PlannedCase
}

// Plan is the bottom-up build plan handed to synthesis.
type Plan struct {
	Constructs []*PlannedConstruct // descending body size
	owner      map[int]int
	byHeader   map[int]int
}

// Owner returns the index of the innermost construct containing block key,
// or -1 when it lies at top level.
func (p *Plan) Owner(key int) int {
	if i, ok := p.owner[key]; ok {
		return i
	}
	return -1
}

// ConstructAt returns the construct headed by key.
func (p *Plan) ConstructAt(key int) (*PlannedConstruct, bool) {
	i, ok := p.byHeader[key]
	if !ok {
		return nil, false
	}
	return p.Constructs[i], true
}

type grouper struct {
	g    *Graph
	dom  *DomTree
	pdom *DomTree

	loops []*PlannedConstruct
}

// DiscoverConstructs finds loops, ifs and switches and arranges them into a
// nesting hierarchy. Partially overlapping bodies are fatal.
func DiscoverConstructs(g *Graph, dom, pdom *DomTree) (*Plan, error) {
	gr := &grouper{g: g, dom: dom, pdom: pdom}

	for _, key := range g.Keys() {
		if !g.Reachable(key) {
			continue
		}
		var latches []int
		for _, e := range g.Block(key).In {
			if e.Back {
				latches = append(latches, e.Block)
			}
		}
		if len(latches) == 0 {
			continue
		}
		loop, err := gr.discoverLoop(key, latches)
		if err != nil {
			return nil, err
		}
		gr.loops = append(gr.loops, loop)
	}

	all := append([]*PlannedConstruct(nil), gr.loops...)
	for _, key := range g.Keys() {
		if !g.Reachable(key) || gr.isLoopHeader(key) {
			continue
		}
		term := g.Terminator(key)
		if term == nil || !term.Op.IsConditional() {
			continue
		}
		var c *PlannedConstruct
		var err error
		if term.Op.IsSwitch() {
			c, err = gr.discoverSwitch(key, term)
		} else {
			c, err = gr.discoverIf(key, term)
		}
		if err != nil {
			return nil, err
		}
		all = append(all, c)
	}

	return arrange(all)
}

func (gr *grouper) isLoopHeader(key int) bool {
	for _, l := range gr.loops {
		if l.Header == key {
			return true
		}
	}
	return false
}

// discoverLoop checks the single-entry single-exit shape and collects the
// loop body.
func (gr *grouper) discoverLoop(h int, latches []int) (*PlannedConstruct, error) {
	g := gr.g
	b := g.Block(h)
	term := g.Terminator(h)

	inbound := len(b.In)
	if h == g.Entry {
		inbound++
	}
	if inbound != 2 || len(latches) != 1 || len(b.Out) != 2 {
		return nil, bytecode.Unsupported(h, term.Op.String(),
			"unsupported loop structure: %d inbound, %d outbound edges", inbound, len(b.Out))
	}

	natural := map[int]bool{h: true}
	stack := []int{latches[0]}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if natural[k] {
			continue
		}
		natural[k] = true
		for _, p := range g.Preds(k) {
			if g.Reachable(p) {
				stack = append(stack, p)
			}
		}
	}

	var entry, merge = -1, -1
	for _, e := range b.Out {
		if natural[e.Block] && e.Block != h {
			if entry >= 0 {
				return nil, bytecode.Unsupported(h, term.Op.String(), "unsupported loop structure: no exit edge")
			}
			entry = e.Block
		} else {
			if merge >= 0 {
				return nil, bytecode.Unsupported(h, term.Op.String(), "unsupported loop structure: no body edge")
			}
			merge = e.Block
		}
	}
	if entry < 0 || merge < 0 {
		return nil, bytecode.Unsupported(h, term.Op.String(), "unsupported loop structure")
	}

	loop := &PlannedConstruct{
		Kind:      ConstructLoop,
		Header:    h,
		Body:      natural,
		Merge:     merge,
		Parent:    -1,
		ThenEntry: entry,
		ElseEntry: -1,
	}
	switch term.Op {
	case bytecode.RootJumpIf:
		loop.Negate = entry != term.End
	case bytecode.RootJumpIfCalc:
		loop.Negate = entry != term.Targets()[0]
	default:
		return nil, bytecode.Unsupported(h, term.Op.String(), "loop header is not a two-way branch")
	}

	// Blocks that leave the loop early (break, return) still belong to it:
	// dominated by the header and not reachable from the merge without
	// re-entering the loop.
	afterLoop := gr.reach([]int{merge}, func(k int) bool { return k != h })
	for _, k := range g.Keys() {
		if !natural[k] && k != merge && !afterLoop[k] && gr.dom.StrictlyDominates(h, k) {
			natural[k] = true
		}
	}

	for _, k := range sortedKeys(natural) {
		if k != h {
			loop.ThenRegion = append(loop.ThenRegion, k)
		}
	}
	return loop, nil
}

// reach returns every block reachable from roots through blocks accepted by
// ok. Roots are tested too.
func (gr *grouper) reach(roots []int, ok func(int) bool) map[int]bool {
	seen := make(map[int]bool)
	stack := append([]int(nil), roots...)
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[k] || !ok(k) {
			continue
		}
		seen[k] = true
		stack = append(stack, gr.g.Succs(k)...)
	}
	return seen
}

// innermostLoop returns the smallest loop containing key that key does not
// head, or nil.
func (gr *grouper) innermostLoop(key int) *PlannedConstruct {
	var best *PlannedConstruct
	for _, l := range gr.loops {
		if l.Header == key || !l.Body[key] {
			continue
		}
		if best == nil || len(l.Body) < len(best.Body) {
			best = l
		}
	}
	return best
}

// scopeOf describes the region a branch header may structure within.
type scopeOf struct {
	loop *PlannedConstruct
	exit int
}

func (s scopeOf) contains(k int) bool {
	if k == s.exit {
		return false
	}
	if s.loop == nil {
		return true
	}
	return s.loop.Body[k] && k != s.loop.Header
}

// mergeOf picks the convergence block of a branch header: its immediate
// post-dominator when that lies inside the scope, else the lexically last
// successor inside the scope, else the exit.
func (gr *grouper) mergeOf(h int, scope scopeOf) int {
	if p, ok := gr.pdom.IDom(h); ok && scope.contains(p) {
		return p
	}
	best := -1
	for _, s := range gr.g.Succs(h) {
		if scope.contains(s) && s > best {
			best = s
		}
	}
	if best >= 0 {
		return best
	}
	return gr.g.Exit
}

// bodyOf collects the blocks strictly dominated by h that are reachable
// from h's successors without passing merge or leaving the scope.
func (gr *grouper) bodyOf(h, merge int, scope scopeOf) map[int]bool {
	body := gr.reach(gr.g.Succs(h), func(k int) bool {
		return k != merge && scope.contains(k) && gr.dom.StrictlyDominates(h, k)
	})
	body[h] = true
	return body
}

// region collects the body blocks reachable from entry, skipping stop and
// blocks already claimed.
func (gr *grouper) region(entry int, body map[int]bool, stop func(int) bool) []int {
	if !body[entry] || stop(entry) {
		return nil
	}
	set := gr.reach([]int{entry}, func(k int) bool {
		return body[k] && (k == entry || !stop(k))
	})
	return sortedKeys(set)
}

func (gr *grouper) discoverIf(h int, term *bytecode.RootInstruction) (*PlannedConstruct, error) {
	scope := scopeOf{loop: gr.innermostLoop(h), exit: gr.g.Exit}
	merge := gr.mergeOf(h, scope)
	c := &PlannedConstruct{
		Kind:      ConstructIf,
		Header:    h,
		Merge:     merge,
		Parent:    -1,
		ElseEntry: -1,
	}

	switch term.Op {
	case bytecode.RootJumpIf:
		target := term.Targets()[0]
		if target != merge {
			return nil, bytecode.Unsupported(term.Start, term.Op.String(),
				"comparison jumps to 0x%04X but its branches merge at 0x%04X", target, merge)
		}
		c.ThenEntry = term.End
	case bytecode.RootJumpIfCalc:
		targets := term.Targets()
		then, els := targets[0], targets[1]
		switch {
		case els == merge:
			c.ThenEntry = then
		case then == merge:
			c.ThenEntry = els
			c.Negate = true
		default:
			c.ThenEntry = then
			c.ElseEntry = els
		}
	default:
		return nil, bytecode.Unsupported(term.Start, term.Op.String(), "not a two-way branch")
	}

	c.Body = gr.bodyOf(h, merge, scope)
	claimed := map[int]bool{h: true}
	stop := func(k int) bool { return claimed[k] || k == merge }
	c.ThenRegion = gr.region(c.ThenEntry, c.Body, stop)
	for _, k := range c.ThenRegion {
		claimed[k] = true
	}
	if c.ElseEntry >= 0 {
		c.ElseRegion = gr.region(c.ElseEntry, c.Body, stop)
		for _, k := range c.ElseRegion {
			claimed[k] = true
		}
	}
	// Anything left over was reached through the other branch first.
	for _, k := range sortedKeys(c.Body) {
		if !claimed[k] {
			c.ThenRegion = append(c.ThenRegion, k)
		}
	}
	sort.Ints(c.ThenRegion)
	return c, nil
}

func (gr *grouper) discoverSwitch(h int, term *bytecode.RootInstruction) (*PlannedConstruct, error) {
	cases, def, err := term.CaseTable()
	if err != nil {
		return nil, err
	}
	scope := scopeOf{loop: gr.innermostLoop(h), exit: gr.g.Exit}
	merge := gr.mergeOf(h, scope)
	c := &PlannedConstruct{
		Kind:      ConstructSwitch,
		Header:    h,
		Merge:     merge,
		Parent:    -1,
		ElseEntry: -1,
		Body:      gr.bodyOf(h, merge, scope),
	}

	byEntry := make(map[int]int)
	var groups []PlannedCase
	add := func(entry int) *PlannedCase {
		i, ok := byEntry[entry]
		if !ok {
			i = len(groups)
			byEntry[entry] = i
			groups = append(groups, PlannedCase{Entry: entry, FallsTo: -1})
		}
		return &groups[i]
	}
	for _, cs := range cases {
		g := add(cs.Target)
		g.Values = append(g.Values, cs.Value)
	}
	if def != merge {
		add(def).Default = true
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Entry < groups[j].Entry })

	entries := make(map[int]bool)
	for _, cs := range groups {
		entries[cs.Entry] = true
	}
	claimed := map[int]bool{h: true}
	for i := range groups {
		entry := groups[i].Entry
		groups[i].Region = gr.region(entry, c.Body, func(k int) bool {
			return claimed[k] || k == merge || (entries[k] && k != entry)
		})
		for _, k := range groups[i].Region {
			claimed[k] = true
		}
	}
	if n := len(groups); n > 0 {
		for _, k := range sortedKeys(c.Body) {
			if !claimed[k] {
				groups[n-1].Region = append(groups[n-1].Region, k)
			}
		}
		sort.Ints(groups[n-1].Region)
	}

	// A case falls through when its region flows into another case entry
	// that post-dominates it.
	for i := range groups {
		for _, k := range groups[i].Region {
			for _, s := range gr.g.Succs(k) {
				if s != groups[i].Entry && s != merge && entries[s] && gr.pdom.Dominates(s, groups[i].Entry) {
					groups[i].FallsTo = s
				}
			}
		}
	}

	c.Cases = orderCases(groups)
	return c, nil
}

// orderCases keeps lexical order but moves each fallthrough target right
// behind its source, then decides which cases close with a break.
func orderCases(groups []PlannedCase) []PlannedCase {
	idx := make(map[int]int, len(groups))
	target := make(map[int]bool)
	for i, g := range groups {
		idx[g.Entry] = i
		if g.FallsTo >= 0 {
			target[g.FallsTo] = true
		}
	}
	placed := make([]bool, len(groups))
	var out []PlannedCase
	follow := func(i int) {
		for i >= 0 && !placed[i] {
			placed[i] = true
			out = append(out, groups[i])
			next, ok := idx[groups[i].FallsTo]
			if groups[i].FallsTo < 0 || !ok {
				break
			}
			i = next
		}
	}
	for i, g := range groups {
		if !target[g.Entry] {
			follow(i)
		}
	}
	for i := range groups {
		follow(i)
	}
	for i := range out {
		out[i].Break = out[i].FallsTo < 0 || i+1 >= len(out) || out[i+1].Entry != out[i].FallsTo
	}
	return out
}

// arrange sorts constructs by descending body size, verifies that bodies
// nest, and links parents and children.
func arrange(all []*PlannedConstruct) (*Plan, error) {
	sort.SliceStable(all, func(i, j int) bool {
		if len(all[i].Body) != len(all[j].Body) {
			return len(all[i].Body) > len(all[j].Body)
		}
		return all[i].Header < all[j].Header
	})

	p := &Plan{
		Constructs: all,
		owner:      make(map[int]int),
		byHeader:   make(map[int]int),
	}
	for i, c := range all {
		p.byHeader[c.Header] = i
		c.Parent = -1
		for j := 0; j < i; j++ {
			switch overlap(c.Body, all[j].Body) {
			case overlapSubset:
				c.Parent = j
			case overlapPartial:
				return nil, bytecode.Inconsistent(c.Header,
					"%s at 0x%04X partially overlaps %s at 0x%04X",
					c.Kind, c.Header, all[j].Kind, all[j].Header)
			}
		}
		if c.Parent >= 0 {
			parent := all[c.Parent]
			parent.Children = append(parent.Children, i)
		}
		for k := range c.Body {
			p.owner[k] = i
		}
	}
	return p, nil
}

type overlapKind uint8

const (
	overlapNone overlapKind = iota
	overlapSubset
	overlapPartial
)

// overlap classifies inner against outer, where len(inner) <= len(outer).
func overlap(inner, outer map[int]bool) overlapKind {
	shared := 0
	for k := range inner {
		if outer[k] {
			shared++
		}
	}
	switch shared {
	case 0:
		return overlapNone
	case len(inner):
		return overlapSubset
	default:
		return overlapPartial
	}
}
