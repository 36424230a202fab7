package dominance

import (
	"testing"

	"jitcore/internal/ir"
)

func buildDiamond(t *testing.T) (*ir.Function, ir.BlockId, ir.BlockId, ir.BlockId, ir.BlockId) {
	t.Helper()
	module := ir.NewModule("diamond")
	b := ir.NewBuilder(module)
	b.StartFunction(ir.InvalidSymbolId, "diamond", ir.Signature{ReturnType: ir.I64})
	entry := b.CurrentBlock()
	a := b.CreateBlock()
	bb := b.CreateBlock()
	merge := b.CreateBlock()

	cond := b.BuildConst(ir.VBool{Val: true})
	b.BuildCondBranch(cond, a, bb)

	b.SwitchToBlock(a)
	b.BuildBranch(merge)

	b.SwitchToBlock(bb)
	b.BuildBranch(merge)

	b.SwitchToBlock(merge)
	b.BuildReturn(ir.InvalidRegId)

	fn := b.CurrentFunction()
	b.FinishFunction()
	return fn, entry, a, bb, merge
}

func TestDiamondDominance(t *testing.T) {
	fn, entry, a, bb, merge := buildDiamond(t)
	tree := Compute(fn)

	if tree.Idom(a) != entry {
		t.Errorf("idom(A) = %v, want entry", tree.Idom(a))
	}
	if tree.Idom(bb) != entry {
		t.Errorf("idom(B) = %v, want entry", tree.Idom(bb))
	}
	if tree.Idom(merge) != entry {
		t.Errorf("idom(merge) = %v, want entry", tree.Idom(merge))
	}
	if tree.Dominates(a, merge) {
		t.Errorf("A should not dominate merge")
	}
	if tree.Dominates(bb, a) || tree.Dominates(a, bb) {
		t.Errorf("A and B should not dominate each other")
	}
	for _, b := range []ir.BlockId{entry, a, bb, merge} {
		if !tree.Dominates(entry, b) {
			t.Errorf("entry should dominate %v", b)
		}
	}
}

// buildLoop builds: entry -> header -(cond)-> body -> header (back edge),
//                              header -(cond)-> exit
func buildLoop(t *testing.T) (*ir.Function, ir.BlockId, ir.BlockId) {
	t.Helper()
	module := ir.NewModule("loop")
	b := ir.NewBuilder(module)
	b.StartFunction(ir.InvalidSymbolId, "loop", ir.Signature{ReturnType: ir.TVoid{}})
	entry := b.CurrentBlock()
	header := b.CreateBlock()
	body := b.CreateBlock()
	exit := b.CreateBlock()

	b.BuildBranch(header)

	b.SwitchToBlock(header)
	cond := b.BuildConst(ir.VBool{Val: true})
	b.BuildCondBranch(cond, body, exit)

	b.SwitchToBlock(body)
	b.BuildBranch(header)

	b.SwitchToBlock(exit)
	b.BuildReturn(ir.InvalidRegId)

	fn := b.CurrentFunction()
	b.FinishFunction()
	return fn, header, body
}

func TestSimpleLoopDetection(t *testing.T) {
	fn, header, body := buildLoop(t)
	tree := Compute(fn)
	forest := FindLoops(fn, tree)

	loop, ok := forest.ByHeader[header]
	if !ok {
		t.Fatalf("expected a loop headed at %v", header)
	}
	if _, inBody := loop.Body[body]; !inBody {
		t.Errorf("expected body block in loop body")
	}
	if len(loop.Sources) != 1 || loop.Sources[0] != body {
		t.Errorf("expected single back-edge source = body, got %v", loop.Sources)
	}
	if !fn.CFG.Block(header).Meta.IsLoopHeader {
		t.Errorf("expected header block metadata to be flagged as loop header")
	}
}

// buildNestedLoops builds a doubly-nested loop: for i { for j { body } }.
func buildNestedLoops(t *testing.T) (*ir.Function, ir.BlockId, ir.BlockId) {
	t.Helper()
	module := ir.NewModule("nested")
	b := ir.NewBuilder(module)
	b.StartFunction(ir.InvalidSymbolId, "nested", ir.Signature{ReturnType: ir.TVoid{}})
	entry := b.CurrentBlock()
	outerHeader := b.CreateBlock()
	innerHeader := b.CreateBlock()
	innerBody := b.CreateBlock()
	outerLatch := b.CreateBlock()
	exit := b.CreateBlock()

	b.BuildBranch(outerHeader)

	b.SwitchToBlock(outerHeader)
	outerCond := b.BuildConst(ir.VBool{Val: true})
	b.BuildCondBranch(outerCond, innerHeader, exit)

	b.SwitchToBlock(innerHeader)
	innerCond := b.BuildConst(ir.VBool{Val: true})
	b.BuildCondBranch(innerCond, innerBody, outerLatch)

	b.SwitchToBlock(innerBody)
	b.BuildBranch(innerHeader)

	b.SwitchToBlock(outerLatch)
	b.BuildBranch(outerHeader)

	b.SwitchToBlock(exit)
	b.BuildReturn(ir.InvalidRegId)

	fn := b.CurrentFunction()
	_ = entry
	b.FinishFunction()
	return fn, outerHeader, innerHeader
}

func TestNestedLoopsParentChildAndDepth(t *testing.T) {
	fn, outerHeader, innerHeader := buildNestedLoops(t)
	tree := Compute(fn)
	forest := FindLoops(fn, tree)

	inner, ok := forest.ByHeader[innerHeader]
	if !ok {
		t.Fatalf("expected inner loop at %v", innerHeader)
	}
	outer, ok := forest.ByHeader[outerHeader]
	if !ok {
		t.Fatalf("expected outer loop at %v", outerHeader)
	}

	if inner.Parent != outerHeader {
		t.Errorf("inner loop parent = %v, want %v", inner.Parent, outerHeader)
	}
	found := false
	for _, c := range outer.Children {
		if c == innerHeader {
			found = true
		}
	}
	if !found {
		t.Errorf("outer loop children %v should contain inner header %v", outer.Children, innerHeader)
	}
	if inner.Depth != 1 {
		t.Errorf("inner loop depth = %d, want 1", inner.Depth)
	}
	if outer.Depth != 0 {
		t.Errorf("outer loop depth = %d, want 0", outer.Depth)
	}
}

func TestMergedBackEdgesShareHeader(t *testing.T) {
	module := ir.NewModule("merge-backedges")
	b := ir.NewBuilder(module)
	b.StartFunction(ir.InvalidSymbolId, "merge", ir.Signature{ReturnType: ir.TVoid{}})
	entry := b.CurrentBlock()
	header := b.CreateBlock()
	branchA := b.CreateBlock()
	branchB := b.CreateBlock()
	exit := b.CreateBlock()

	b.BuildBranch(header)
	b.SwitchToBlock(header)
	cond := b.BuildConst(ir.VBool{Val: true})
	b.BuildCondBranch(cond, branchA, exit)

	b.SwitchToBlock(branchA)
	cond2 := b.BuildConst(ir.VBool{Val: true})
	b.BuildCondBranch(cond2, branchB, header)

	b.SwitchToBlock(branchB)
	b.BuildBranch(header)

	b.SwitchToBlock(exit)
	b.BuildReturn(ir.InvalidRegId)

	fn := b.CurrentFunction()
	_ = entry
	b.FinishFunction()

	tree := Compute(fn)
	forest := FindLoops(fn, tree)

	loop, ok := forest.ByHeader[header]
	if !ok {
		t.Fatalf("expected a single merged loop at header")
	}
	if len(loop.Sources) != 2 {
		t.Fatalf("expected 2 back-edge sources merged into one loop, got %d", len(loop.Sources))
	}
	for _, b := range []ir.BlockId{branchA, branchB} {
		if _, inBody := loop.Body[b]; !inBody {
			t.Errorf("expected %v in merged loop body", b)
		}
	}
}
