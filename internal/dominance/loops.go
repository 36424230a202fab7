package dominance

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"jitcore/internal/ir"
)

// NaturalLoop is the result of one back-edge analysis: a header, the
// back-edge source, the full body (header included), the exit blocks,
// and the nesting relationship to other loops.
type NaturalLoop struct {
	Header    ir.BlockId
	Sources   []ir.BlockId // every back-edge source sharing this header
	Body      map[ir.BlockId]struct{}
	Exits     []ir.BlockId
	Preheader ir.BlockId // ir.InvalidBlockId if none exists
	Parent    ir.BlockId // header of the smallest enclosing loop, or Invalid
	Children  []ir.BlockId
	Depth     int

	// TripCount accommodates a future trip-count-inference extension;
	// no algorithm computes it yet, so this is always nil today.
	TripCount *int
}

// LoopForest is the set of natural loops in a function plus the
// block -> innermost-containing-loop map.
type LoopForest struct {
	ByHeader map[ir.BlockId]*NaturalLoop
	Innermost map[ir.BlockId]ir.BlockId // block -> header of its innermost loop
	TopLevel  []ir.BlockId              // headers with no parent
}

// FindLoops enumerates back edges, builds one NaturalLoop per distinct
// header (merging bodies when multiple back edges share a header),
// computes exits, preheaders, and the nesting forest, and annotates
// fn's block metadata (IsLoopHeader, LoopDepth) in place.
func FindLoops(fn *ir.Function, tree *Tree) *LoopForest {
	cfg := fn.CFG
	headerToSources := make(map[ir.BlockId][]ir.BlockId)

	for _, b := range cfg.ReversePostorder() {
		block := cfg.Block(b)
		for _, succ := range block.Successors() {
			if tree.Dominates(succ, b) {
				headerToSources[succ] = append(headerToSources[succ], b)
			}
		}
	}

	forest := &LoopForest{
		ByHeader:  make(map[ir.BlockId]*NaturalLoop),
		Innermost: make(map[ir.BlockId]ir.BlockId),
	}

	for header, sources := range headerToSources {
		body := map[ir.BlockId]struct{}{header: {}}
		for _, src := range sources {
			for b := range reachableBackwardsExcluding(cfg, src, header) {
				body[b] = struct{}{}
			}
			body[src] = struct{}{}
		}

		var exits []ir.BlockId
		for b := range body {
			block := cfg.Block(b)
			for _, succ := range block.Successors() {
				if _, inBody := body[succ]; !inBody {
					exits = append(exits, b)
					break
				}
			}
		}
		slices.Sort(exits)
		slices.Sort(sources)

		preheader := findPreheader(cfg, header, body)

		forest.ByHeader[header] = &NaturalLoop{
			Header:    header,
			Sources:   sources,
			Body:      body,
			Exits:     exits,
			Preheader: preheader,
			Parent:    ir.InvalidBlockId,
		}
	}

	assignNesting(forest)
	annotateMetadata(fn, forest)
	return forest
}

// reachableBackwardsExcluding computes {blocks that can reach src
// without going through header}, via reverse BFS over the predecessor
// graph, stopping at header.
func reachableBackwardsExcluding(cfg *ir.CFG, src, header ir.BlockId) map[ir.BlockId]struct{} {
	visited := map[ir.BlockId]struct{}{src: {}}
	if src == header {
		return visited
	}
	queue := []ir.BlockId{src}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		block := cfg.Block(b)
		for pred := range block.Preds {
			if pred == header {
				continue
			}
			if _, seen := visited[pred]; seen {
				continue
			}
			visited[pred] = struct{}{}
			queue = append(queue, pred)
		}
	}
	return visited
}

// findPreheader reports a loop preheader iff the header has exactly
// one predecessor outside the loop body, and that predecessor itself
// has exactly one successor.
func findPreheader(cfg *ir.CFG, header ir.BlockId, body map[ir.BlockId]struct{}) ir.BlockId {
	headerBlock := cfg.Block(header)
	var outside []ir.BlockId
	for pred := range headerBlock.Preds {
		if _, inBody := body[pred]; !inBody {
			outside = append(outside, pred)
		}
	}
	if len(outside) != 1 {
		return ir.InvalidBlockId
	}
	cand := outside[0]
	if len(cfg.Block(cand).Successors()) != 1 {
		return ir.InvalidBlockId
	}
	return cand
}

// assignNesting computes parent/children: loop A
// nests inside loop B iff A's header is a non-header member of B's
// body. The immediate parent is the smallest such enclosing loop
// (the one with the fewest body members containing A's header).
func assignNesting(forest *LoopForest) {
	headers := maps.Keys(forest.ByHeader)
	slices.Sort(headers)

	for _, h := range headers {
		loop := forest.ByHeader[h]
		var bestParent ir.BlockId = ir.InvalidBlockId
		bestSize := -1
		for _, candidate := range headers {
			if candidate == h {
				continue
			}
			cloop := forest.ByHeader[candidate]
			if _, inBody := cloop.Body[h]; !inBody {
				continue
			}
			if bestSize == -1 || len(cloop.Body) < bestSize {
				bestParent = candidate
				bestSize = len(cloop.Body)
			}
		}
		loop.Parent = bestParent
		if bestParent != ir.InvalidBlockId {
			parent := forest.ByHeader[bestParent]
			parent.Children = append(parent.Children, h)
		} else {
			forest.TopLevel = append(forest.TopLevel, h)
		}
	}
	for _, loop := range forest.ByHeader {
		slices.Sort(loop.Children)
	}
	slices.Sort(forest.TopLevel)

	// Depth via DFS from top-level loops; every block's innermost
	// containing loop is the deepest loop whose body contains it.
	var assignDepth func(header ir.BlockId, depth int)
	assignDepth = func(header ir.BlockId, depth int) {
		loop := forest.ByHeader[header]
		loop.Depth = depth
		for _, child := range loop.Children {
			assignDepth(child, depth+1)
		}
	}
	for _, h := range forest.TopLevel {
		assignDepth(h, 0)
	}

	// Innermost map: iterate loops from deepest to shallowest so a
	// later (shallower) write never overwrites a correct deeper one.
	order := slices.Clone(headers)
	slices.SortFunc(order, func(a, b ir.BlockId) int {
		return forest.ByHeader[b].Depth - forest.ByHeader[a].Depth
	})
	for _, h := range order {
		loop := forest.ByHeader[h]
		for b := range loop.Body {
			if _, already := forest.Innermost[b]; !already {
				forest.Innermost[b] = h
			}
		}
	}
}

func annotateMetadata(fn *ir.Function, forest *LoopForest) {
	for h, loop := range forest.ByHeader {
		fn.CFG.Block(h).Meta.IsLoopHeader = true
		_ = loop
	}
	for b, header := range forest.Innermost {
		fn.CFG.Block(b).Meta.LoopDepth = forest.ByHeader[header].Depth + 1
	}
}
