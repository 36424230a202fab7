package sra_test

import (
	"testing"

	"jitcore/internal/backend"
	"jitcore/internal/ir"
)

// buildPairModule mirrors the escape-free struct scenario: c := new
// Pair(re: 3.0, im: 4.0); return c.re*c.re + c.im*c.im. It is built
// independently of sra's own in-package fixture so this test can run
// through internal/backend without an import cycle.
func buildPairModule(t *testing.T) *ir.Module {
	t.Helper()
	module := ir.NewModule("pair")
	b := ir.NewBuilder(module)
	b.StartFunction(ir.InvalidSymbolId, "pair", ir.Signature{ReturnType: ir.TF64{}})

	pairTy := ir.TStruct{Fields: []ir.StructField{{Name: "re", Type: ir.TF64{}}, {Name: "im", Type: ir.TF64{}}}}
	c := b.BuildAlloc(pairTy, ir.InvalidRegId)

	re3 := b.BuildConst(ir.VF64{Val: 3.0})
	rePtr := b.BuildGEPConst(c, 0)
	b.BuildStore(rePtr, re3)

	im4 := b.BuildConst(ir.VF64{Val: 4.0})
	imPtr := b.BuildGEPConst(c, 1)
	b.BuildStore(imPtr, im4)

	reLoadPtr := b.BuildGEPConst(c, 0)
	re := b.BuildLoad(reLoadPtr, ir.TF64{})
	imLoadPtr := b.BuildGEPConst(c, 1)
	im := b.BuildLoad(imLoadPtr, ir.TF64{})
	reSq := b.BuildBinOp(ir.BFMul, re, re)
	imSq := b.BuildBinOp(ir.BFMul, im, im)
	sum := b.BuildBinOp(ir.BFAdd, reSq, imSq)
	b.BuildReturn(sum)

	id := b.FinishFunction()
	module.EntryFunc = id
	return module
}

// TestOptimizingJITExecutesSRARewrittenStruct runs the escape-free
// struct scenario all the way through OptimizingJIT, which runs SRA
// as part of its pre-publish rewrite pass (see backend.optimizeFunction):
// the allocation must be scalarized and the result must still be
// 25.0, not a "GEP base is not a pointer" fault from a stale pointer
// derivation left over a scalarized base.
func TestOptimizingJITExecutesSRARewrittenStruct(t *testing.T) {
	module := buildPairModule(t)
	be := backend.NewOptimizingJIT(nil)
	result, err := be.CallMain(module)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := result.(ir.VF64)
	if !ok || v.Val != 25.0 {
		t.Fatalf("expected 25.0, got %v", result)
	}
}
