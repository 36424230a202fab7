package escape

import (
	"testing"

	"jitcore/internal/ir"
)

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

	if returnStruct {
		b.BuildReturn(c)
	} else {
		b.BuildReturn(re3)
	}

	fn := b.CurrentFunction()
	b.FinishFunction()
	return fn
}

func TestNoEscapeProducesStackHint(t *testing.T) {
	fn := buildPairFunction(t, false)
	report := Analyze(fn, nil, nil)

	if len(report.Sites) != 1 {
		t.Fatalf("expected 1 allocation site, got %d", len(report.Sites))
	}
	if report.Sites[0].Escape != NoEscape {
		t.Errorf("expected NoEscape, got %v", report.Sites[0].Escape)
	}
	if len(report.StackAllocatable) != 1 {
		t.Errorf("expected a stack-allocation hint to be emitted")
	}
}

func TestEscapesViaReturnSuppressesHint(t *testing.T) {
	fn := buildPairFunction(t, true)
	report := Analyze(fn, nil, nil)

	if report.Sites[0].Escape != EscapesViaReturn {
		t.Errorf("expected EscapesViaReturn, got %v", report.Sites[0].Escape)
	}
	if len(report.StackAllocatable) != 0 {
		t.Errorf("expected no stack-allocation hint for an escaping site")
	}
}

func TestEscapesViaCall(t *testing.T) {
	module := ir.NewModule("call-escape")
	b := ir.NewBuilder(module)
	calleeID := ir.NextFunctionId()
	b.StartFunction(ir.InvalidSymbolId, "f", ir.Signature{ReturnType: ir.TVoid{}})
	ptr := b.BuildAlloc(ir.TStruct{Fields: []ir.StructField{{Name: "x", Type: ir.I64}}}, ir.InvalidRegId)
	b.BuildCallDirect(calleeID, []ir.Arg{{Reg: ptr}}, false)
	b.BuildReturn(ir.InvalidRegId)
	fn := b.CurrentFunction()
	b.FinishFunction()

	report := Analyze(fn, nil, nil)
	if report.Sites[0].Escape != EscapesViaCall {
		t.Errorf("expected EscapesViaCall, got %v", report.Sites[0].Escape)
	}
}

func TestOwnershipGraphDetectsUseAfterMove(t *testing.T) {
	g := NewGraph()
	src := ir.SsaVarId(1)
	g.AddMove(src, ir.SsaVarId(2), true, Moved)
	if !g.UseAfterMove(src) {
		t.Fatalf("expected use-after-move violation")
	}
	violations := g.Violations()
	if len(violations) == 0 {
		t.Fatalf("expected at least one recorded violation")
	}
}

func TestOwnershipGraphDetectsAliasingConflict(t *testing.T) {
	g := NewGraph()
	owner := ir.SsaVarId(1)
	g.AddBorrow(ir.SsaVarId(2), owner, BorrowedMut, ir.ScopeId(0), ir.LifetimeId(0))
	g.AddBorrow(ir.SsaVarId(3), owner, Borrowed, ir.ScopeId(0), ir.LifetimeId(1))

	found := false
	for _, v := range g.Violations() {
		if v.Kind == ViolationAliasing {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an aliasing violation between mutable and immutable borrows")
	}
}

func TestSafeAnalyzeReturnsReportForWellFormedFunction(t *testing.T) {
	fn := buildPairFunction(t, false)
	report, err := SafeAnalyze(fn, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report == nil {
		t.Fatalf("expected a non-nil report")
	}
}

func TestSafeAnalyzeRecoversPanicFromNilFunction(t *testing.T) {
	if _, err := SafeAnalyze(nil, nil, nil); err == nil {
		t.Fatalf("expected an error recovered from the panic on a nil function")
	}
}

func TestOwnershipGraphDropWhileBorrowed(t *testing.T) {
	g := NewGraph()
	owner := ir.SsaVarId(1)
	g.AddBorrow(ir.SsaVarId(2), owner, Borrowed, ir.ScopeId(0), ir.LifetimeId(0))
	g.DropVar(owner)

	found := false
	for _, v := range g.Violations() {
		if v.Kind == ViolationDropWhileBorrowed {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a drop-while-borrowed violation")
	}
}
