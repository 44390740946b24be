package decompiler

// ---------------------------------------------------------------------------
// Dominance (Cooper, Harvey, Kennedy: "A Simple, Fast Dominance Algorithm")
// ---------------------------------------------------------------------------

// direction abstracts edge orientation so one routine computes both trees.
type direction interface {
	root() int
	succs(key int) []int
	preds(key int) []int
}

type forward struct{ g *Graph }

func (d forward) root() int { return d.g.Entry }
func (d forward) succs(key int) []int { return d.g.Succs(key) }
func (d forward) preds(key int) []int { return d.g.Preds(key) }

type backward struct{ g *Graph }

func (d backward) root() int { return d.g.Exit }
func (d backward) succs(key int) []int { return d.g.Preds(key) }
func (d backward) preds(key int) []int { return d.g.Succs(key) }

// DomTree is an immediate-dominator tree over block keys. Blocks the
// traversal never reaches have no entry.
type DomTree struct {
	root  int
	idom  map[int]int
	order map[int]int // post-order number
}

const noDom = -1

// ComputeDominators builds the dominator tree of g, or the post-dominator
// tree (rooted at the exit, over reversed edges) when post is set.
func ComputeDominators(g *Graph, post bool) *DomTree {
	var dir direction = forward{g}
	if post {
		dir = backward{g}
	}
	return computeDominators(dir)
}

func computeDominators(dir direction) *DomTree {
	d := &DomTree{
		root:  dir.root(),
		idom:  make(map[int]int),
		order: make(map[int]int),
	}

	var postorder []int
	seen := make(map[int]bool)
	var visit func(int)
	visit = func(key int) {
		seen[key] = true
		for _, s := range dir.succs(key) {
			if !seen[s] {
				visit(s)
			}
		}
		d.order[key] = len(postorder)
		postorder = append(postorder, key)
	}
	visit(d.root)

	d.idom[d.root] = d.root
	for changed := true; changed; {
		changed = false
		for i := len(postorder) - 1; i >= 0; i-- {
			b := postorder[i]
			if b == d.root {
				continue
			}
			newIdom := noDom
			for _, p := range dir.preds(b) {
				if _, ok := d.idom[p]; !ok {
					continue
				}
				if newIdom == noDom {
					newIdom = p
				} else {
					newIdom = d.intersect(p, newIdom)
				}
			}
			if newIdom == noDom {
				continue
			}
			if cur, ok := d.idom[b]; !ok || cur != newIdom {
				d.idom[b] = newIdom
				changed = true
			}
		}
	}
	return d
}

// intersect walks both fingers up the tree until they meet. It yields noDom
// when a chain runs out before convergence.
func (d *DomTree) intersect(a, b int) int {
	for a != b {
		if a == noDom || b == noDom {
			return noDom
		}
		for d.order[a] < d.order[b] {
			next, ok := d.idom[a]
			if !ok || next == a {
				return noDom
			}
			a = next
		}
		for d.order[b] < d.order[a] {
			next, ok := d.idom[b]
			if !ok || next == b {
				return noDom
			}
			b = next
		}
	}
	return a
}

// Root returns the key the tree is rooted at.
func (d *DomTree) Root() int { return d.root }

// IDom returns the immediate dominator of key. The root has none.
func (d *DomTree) IDom(key int) (int, bool) {
	p, ok := d.idom[key]
	if !ok || key == d.root {
		return 0, false
	}
	return p, true
}

// Contains reports whether key is part of the tree.
func (d *DomTree) Contains(key int) bool {
	_, ok := d.idom[key]
	return ok
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (d *DomTree) Dominates(a, b int) bool {
	if !d.Contains(b) {
		return false
	}
	for {
		if a == b {
			return true
		}
		p, ok := d.IDom(b)
		if !ok {
			return false
		}
		b = p
	}
}

// StrictlyDominates reports whether a dominates b and a != b.
func (d *DomTree) StrictlyDominates(a, b int) bool {
	return a != b && d.Dominates(a, b)
}
