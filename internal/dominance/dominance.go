// Package dominance computes dominator trees, dominance frontiers, and
// natural-loop nests over a function's CFG.
package dominance

import (
	"golang.org/x/exp/slices"

	"jitcore/internal/ir"
)

// Tree is the immutable result of dominator computation: idom, the
// idom->children inverse map, and a BFS-assigned depth per block.
type Tree struct {
	entry    ir.BlockId
	idom     map[ir.BlockId]ir.BlockId
	children map[ir.BlockId][]ir.BlockId
	depth    map[ir.BlockId]int
	rpoIndex map[ir.BlockId]int
}

// Idom returns b's immediate dominator. For the entry block it returns
// the entry block itself.
func (t *Tree) Idom(b ir.BlockId) ir.BlockId { return t.idom[b] }

// Children returns the blocks whose immediate dominator is b.
func (t *Tree) Children(b ir.BlockId) []ir.BlockId { return t.children[b] }

// Depth returns b's depth in the dominator tree (entry is depth 0).
func (t *Tree) Depth(b ir.BlockId) int { return t.depth[b] }

// Dominates reports whether a dominates b (reflexive: a dominates a).
func (t *Tree) Dominates(a, b ir.BlockId) bool {
	cur := b
	for {
		if cur == a {
			return true
		}
		next, ok := t.idom[cur]
		if !ok || next == cur {
			return cur == a
		}
		cur = next
	}
}

// StrictlyDominates reports whether a dominates b and a != b.
func (t *Tree) StrictlyDominates(a, b ir.BlockId) bool {
	return a != b && t.Dominates(a, b)
}

// Compute builds the dominator tree for fn using the iterative
// Cooper-Harvey-Kennedy algorithm over a reverse-postorder numbering.
func Compute(fn *ir.Function) *Tree {
	cfg := fn.CFG
	rpo := cfg.ReversePostorder()
	rpoIndex := make(map[ir.BlockId]int, len(rpo))
	for i, b := range rpo {
		rpoIndex[b] = i
	}

	idom := make(map[ir.BlockId]ir.BlockId, len(rpo))
	entry := cfg.Entry
	idom[entry] = entry

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == entry {
				continue
			}
			block := cfg.Block(b)
			var newIdom ir.BlockId
			haveFirst := false
			for pred := range block.Preds {
				if _, ok := idom[pred]; !ok {
					continue
				}
				if !haveFirst {
					newIdom = pred
					haveFirst = true
					continue
				}
				newIdom = intersect(idom, rpoIndex, newIdom, pred)
			}
			if !haveFirst {
				continue
			}
			if prev, ok := idom[b]; !ok || prev != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	// The entry's self-idom stays in idom; it is only left out of the
	// children map.
	children := make(map[ir.BlockId][]ir.BlockId)
	for b, d := range idom {
		if b == entry {
			continue
		}
		children[d] = append(children[d], b)
	}
	for _, kids := range children {
		slices.Sort(kids)
	}

	depth := make(map[ir.BlockId]int, len(idom))
	depth[entry] = 0
	queue := []ir.BlockId{entry}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, c := range children[b] {
			depth[c] = depth[b] + 1
			queue = append(queue, c)
		}
	}

	return &Tree{entry: entry, idom: idom, children: children, depth: depth, rpoIndex: rpoIndex}
}

// intersect walks two dominator-tree candidates up to their common
// ancestor, each step moving the operand with the larger RPO index to
// its current idom, until they coincide.
func intersect(idom map[ir.BlockId]ir.BlockId, rpoIndex map[ir.BlockId]int, a, b ir.BlockId) ir.BlockId {
	for a != b {
		for rpoIndex[a] > rpoIndex[b] {
			a = idom[a]
		}
		for rpoIndex[b] > rpoIndex[a] {
			b = idom[b]
		}
	}
	return a
}

// Frontier computes the dominance frontier for every block: the set of
// blocks not dominated by b but with a predecessor b dominates — where
// phi placement is required in SSA construction. Computed with the
// standard Cytron-et-al walk over the already-built dominator tree.
func Frontier(fn *ir.Function, tree *Tree) map[ir.BlockId]map[ir.BlockId]struct{} {
	frontier := make(map[ir.BlockId]map[ir.BlockId]struct{})
	for _, b := range fn.CFG.ReversePostorder() {
		block := fn.CFG.Block(b)
		if len(block.Preds) < 2 {
			continue
		}
		for pred := range block.Preds {
			runner := pred
			for runner != tree.Idom(b) {
				if frontier[runner] == nil {
					frontier[runner] = make(map[ir.BlockId]struct{})
				}
				frontier[runner][b] = struct{}{}
				runner = tree.Idom(runner)
			}
		}
	}
	return frontier
}
