package ir

import "testing"

// buildDiamond builds: entry -> (A, B) -> merge, with a phi in merge.
func buildDiamond(t *testing.T) (*Module, *Function, BlockId, BlockId, BlockId, BlockId) {
	t.Helper()
	module := NewModule("diamond")
	b := NewBuilder(module)
	b.StartFunction(InvalidSymbolId, "diamond", Signature{ReturnType: I64})
	entry := b.CurrentBlock()
	blockA := b.CreateBlock()
	blockB := b.CreateBlock()
	merge := b.CreateBlock()

	cond := b.BuildConst(VBool{Val: true})
	b.BuildCondBranch(cond, blockA, blockB)

	b.SwitchToBlock(blockA)
	aVal := b.BuildConst(VInt{Val: 1, Width: Width64})
	b.BuildBranch(merge)

	b.SwitchToBlock(blockB)
	bVal := b.BuildConst(VInt{Val: 2, Width: Width64})
	b.BuildBranch(merge)

	b.SwitchToBlock(merge)
	phiDest := b.BuildPhi(merge, I64, []PhiIncoming{
		{Value: aVal, Pred: blockA},
		{Value: bVal, Pred: blockB},
	})
	b.BuildReturn(phiDest)

	fn := b.CurrentFunction()
	b.FinishFunction()
	return module, fn, entry, blockA, blockB, merge
}

func TestCFGBidirectionality(t *testing.T) {
	_, fn, entry, blockA, blockB, merge := buildDiamond(t)

	entryBlock := fn.CFG.Block(entry)
	succs := entryBlock.Successors()
	if len(succs) != 2 {
		t.Fatalf("expected 2 successors from entry, got %d", len(succs))
	}

	for _, id := range []BlockId{blockA, blockB} {
		b := fn.CFG.Block(id)
		if _, ok := b.Preds[entry]; !ok {
			t.Errorf("block %s missing entry as predecessor", id)
		}
	}
	mergeBlock := fn.CFG.Block(merge)
	if len(mergeBlock.Preds) != 2 {
		t.Fatalf("expected merge to have 2 preds, got %d", len(mergeBlock.Preds))
	}
}

func TestUpdateBlockTerminatorFixesUpPredecessors(t *testing.T) {
	_, fn, _, blockA, blockB, merge := buildDiamond(t)

	// Redirect blockA's branch away from merge to blockB.
	UpdateBlockTerminator(fn, blockA, Branch{Target: blockB})

	mergeBlock := fn.CFG.Block(merge)
	if _, ok := mergeBlock.Preds[blockA]; ok {
		t.Errorf("blockA should no longer be a predecessor of merge")
	}
	bBlock := fn.CFG.Block(blockB)
	if _, ok := bBlock.Preds[blockA]; !ok {
		t.Errorf("blockA should now be a predecessor of blockB")
	}
}

func TestReversePostorderOrdersEntryFirst(t *testing.T) {
	_, fn, entry, _, _, merge := buildDiamond(t)
	rpo := fn.CFG.ReversePostorder()
	if len(rpo) == 0 || rpo[0] != entry {
		t.Fatalf("expected entry block first in RPO, got %v", rpo)
	}
	entryIdx, mergeIdx := -1, -1
	for i, b := range rpo {
		if b == entry {
			entryIdx = i
		}
		if b == merge {
			mergeIdx = i
		}
	}
	if entryIdx >= mergeIdx {
		t.Fatalf("expected entry before merge in RPO, got entry=%d merge=%d", entryIdx, mergeIdx)
	}
}

func TestReachabilityMarksDeadBlocks(t *testing.T) {
	module := NewModule("dead")
	b := NewBuilder(module)
	b.StartFunction(InvalidSymbolId, "dead", Signature{ReturnType: TVoid{}})
	entry := b.CurrentBlock()
	dead := b.CreateBlock()
	b.BuildReturn(InvalidRegId)
	fn := b.CurrentFunction()
	_ = entry
	b.FinishFunction()

	fn.CFG.MarkUnreachable()
	if fn.CFG.Block(dead).Meta.Reachable {
		t.Errorf("expected unreferenced block to be marked unreachable")
	}
	if !fn.CFG.Block(fn.CFG.Entry).Meta.Reachable {
		t.Errorf("expected entry block to be marked reachable")
	}
}

func TestTypeCompatibility(t *testing.T) {
	tests := []struct {
		name     string
		a, b     IrType
		expected bool
	}{
		{"equal ints", I32, I32, true},
		{"different width", I32, I64, false},
		{"any absorbs anything", TAny{}, I32, true},
		{"anything absorbs any", I32, TAny{}, true},
		{"signed vs unsigned distinct", I32, U32, false},
		{"struct field order matters", TStruct{Fields: []StructField{{Name: "a", Type: I32}, {Name: "b", Type: F64()}}},
			TStruct{Fields: []StructField{{Name: "b", Type: F64()}, {Name: "a", Type: I32}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compatible(tt.a, tt.b); got != tt.expected {
				t.Errorf("Compatible(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func F64() IrType { return TF64{} }

func TestSizeOf(t *testing.T) {
	st := TStruct{Fields: []StructField{{Name: "re", Type: TF64{}}, {Name: "im", Type: TF64{}}}}
	if got := SizeOf(st); got != 16 {
		t.Errorf("SizeOf(Pair{f64,f64}) = %d, want 16", got)
	}
}

func TestPrinterDoesNotPanic(t *testing.T) {
	module, _, _, _, _, _ := buildDiamond(t)
	out := PrintModule(module)
	if out == "" {
		t.Fatalf("expected non-empty printed module")
	}
}
