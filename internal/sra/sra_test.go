package sra

import (
	"testing"

	"jitcore/internal/ir"
)

// buildPairFunction builds: c := alloc Pair{re,im}; store c.re=3.0;
// store c.im=4.0; re := load c.re; im := load c.im; return re*re+im*im
// (or, if returnStruct, `return c` instead): the elimination and
// escape-rejection cases.
func buildPairFunction(t *testing.T, returnStruct bool) *ir.Function {
	t.Helper()
	module := ir.NewModule("pair")
	b := ir.NewBuilder(module)
	retTy := ir.IrType(ir.TF64{})
	if returnStruct {
		retTy = ir.TPtr{Elem: ir.TF64{}}
	}
	b.StartFunction(ir.InvalidSymbolId, "pair", ir.Signature{ReturnType: retTy})

	pairTy := ir.TStruct{Fields: []ir.StructField{{Name: "re", Type: ir.TF64{}}, {Name: "im", Type: ir.TF64{}}}}
	c := b.BuildAlloc(pairTy, ir.InvalidRegId)

	re3 := b.BuildConst(ir.VF64{Val: 3.0})
	rePtr := b.BuildGEPConst(c, 0)
	b.BuildStore(rePtr, re3)

	im4 := b.BuildConst(ir.VF64{Val: 4.0})
	imPtr := b.BuildGEPConst(c, 1)
	b.BuildStore(imPtr, im4)

	if returnStruct {
		b.BuildReturn(c)
	} else {
		reLoadPtr := b.BuildGEPConst(c, 0)
		re := b.BuildLoad(reLoadPtr, ir.TF64{})
		imLoadPtr := b.BuildGEPConst(c, 1)
		im := b.BuildLoad(imLoadPtr, ir.TF64{})
		reSq := b.BuildBinOp(ir.BFMul, re, re)
		imSq := b.BuildBinOp(ir.BFMul, im, im)
		sum := b.BuildBinOp(ir.BFAdd, reSq, imSq)
		b.BuildReturn(sum)
	}

	fn := b.CurrentFunction()
	b.FinishFunction()
	return fn
}

func countAllocs(fn *ir.Function) int {
	n := 0
	for _, b := range fn.CFG.Blocks {
		for _, instr := range b.Instrs {
			if _, ok := instr.(*ir.Alloc); ok {
				n++
			}
		}
	}
	return n
}

func TestSRAEliminatesEscapeFreeStruct(t *testing.T) {
	fn := buildPairFunction(t, false)
	if countAllocs(fn) != 1 {
		t.Fatalf("expected 1 alloc before SRA")
	}

	result := Run(fn, ir.InvalidFunctionId)
	if result.AllocationsEliminated != 1 {
		t.Fatalf("expected 1 allocation eliminated, got %d", result.AllocationsEliminated)
	}
	if countAllocs(fn) != 0 {
		t.Errorf("expected allocation instruction removed after SRA")
	}
}

func TestSRALeavesEscapingStructIntact(t *testing.T) {
	fn := buildPairFunction(t, true)
	before := countAllocs(fn)

	result := Run(fn, ir.InvalidFunctionId)
	if result.AllocationsEliminated != 0 {
		t.Fatalf("expected 0 allocations eliminated for an escaping struct, got %d", result.AllocationsEliminated)
	}
	if countAllocs(fn) != before {
		t.Errorf("expected allocation instruction to remain when the pointer escapes via return")
	}
}

func TestSRAIsIdempotent(t *testing.T) {
	fn := buildPairFunction(t, false)
	Run(fn, ir.InvalidFunctionId)
	second := Run(fn, ir.InvalidFunctionId)
	if second.AllocationsEliminated != 0 {
		t.Errorf("expected second SRA run to find no further candidates, got %d", second.AllocationsEliminated)
	}
}

func TestSRARejectsPhiThroughPointer(t *testing.T) {
	module := ir.NewModule("phi-through-pointer")
	b := ir.NewBuilder(module)
	b.StartFunction(ir.InvalidSymbolId, "f", ir.Signature{ReturnType: ir.I64})
	entry := b.CurrentBlock()
	left := b.CreateBlock()
	right := b.CreateBlock()
	merge := b.CreateBlock()

	pairTy := ir.TStruct{Fields: []ir.StructField{{Name: "v", Type: ir.I64}}}
	allocLeft := func() ir.RegId { return b.BuildAlloc(pairTy, ir.InvalidRegId) }

	cond := b.BuildConst(ir.VBool{Val: true})
	b.BuildCondBranch(cond, left, right)

	b.SwitchToBlock(left)
	leftPtr := allocLeft()
	b.BuildBranch(merge)

	b.SwitchToBlock(right)
	rightPtr := allocLeft()
	b.BuildBranch(merge)

	b.SwitchToBlock(merge)
	ptrPhi := b.BuildPhi(merge, ir.TPtr{Elem: ir.I64}, []ir.PhiIncoming{
		{Value: leftPtr, Pred: left},
		{Value: rightPtr, Pred: right},
	})
	fieldPtr := b.BuildGEPConst(ptrPhi, 0)
	v := b.BuildLoad(fieldPtr, ir.I64)
	b.BuildReturn(v)

	fn := b.CurrentFunction()
	_ = entry
	b.FinishFunction()

	result := Run(fn, ir.InvalidFunctionId)
	if result.AllocationsEliminated != 0 {
		t.Fatalf("expected phi-through-pointer candidates to be rejected, eliminated %d", result.AllocationsEliminated)
	}
}
