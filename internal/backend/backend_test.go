package backend

import (
	"testing"

	"jitcore/internal/ir"
)

// buildAddOne builds: fn add_one(x: i64) -> i64 { return x + 1 }
func buildAddOne(t *testing.T) *ir.Module {
	t.Helper()
	module := ir.NewModule("arith")
	b := ir.NewBuilder(module)

	sig := ir.Signature{Params: []ir.Param{{Type: ir.I64}}, ReturnType: ir.I64}
	id := b.StartFunction(ir.InvalidSymbolId, "add_one", sig)
	fn := b.CurrentFunction()
	param := fn.NewReg()
	fn.Sig.Params[0].Reg = param

	one := b.BuildConst(ir.VInt{Val: 1, Width: ir.Width64})
	sum := b.BuildBinOp(ir.BAdd, param, one)
	b.BuildReturn(sum)
	b.FinishFunction()

	module.EntryFunc = id
	return module
}

// buildBranching builds: fn pick(c: bool) -> i64 { if c { return 10 } else { return 20 } }
func buildBranching(t *testing.T) *ir.Module {
	t.Helper()
	module := ir.NewModule("branching")
	b := ir.NewBuilder(module)

	sig := ir.Signature{Params: []ir.Param{{Type: ir.TBool{}}}, ReturnType: ir.I64}
	id := b.StartFunction(ir.InvalidSymbolId, "pick", sig)
	fn := b.CurrentFunction()
	cond := fn.NewReg()
	fn.Sig.Params[0].Reg = cond

	entry := b.CurrentBlock()
	trueBlock := b.CreateBlock()
	falseBlock := b.CreateBlock()

	b.SwitchToBlock(entry)
	b.BuildCondBranch(cond, trueBlock, falseBlock)

	b.SwitchToBlock(trueBlock)
	ten := b.BuildConst(ir.VInt{Val: 10, Width: ir.Width64})
	b.BuildReturn(ten)

	b.SwitchToBlock(falseBlock)
	twenty := b.BuildConst(ir.VInt{Val: 20, Width: ir.Width64})
	b.BuildReturn(twenty)

	b.FinishFunction()
	module.EntryFunc = id
	return module
}

func TestInterpreterEvaluatesAddOne(t *testing.T) {
	module := buildAddOne(t)
	backend := NewInterpreter(nil)
	result, err := backend.CallMain(module)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := result.(ir.VInt)
	if !ok || v.Val != 1 {
		t.Fatalf("expected default arg 0 + 1 = 1 with no args supplied and zero-value int, got %v", result)
	}
}

func TestQuickJITMatchesInterpreterOnBranching(t *testing.T) {
	interp := NewInterpreter(nil)
	quick := NewQuickJIT(nil)

	var results []ir.IrValue
	for _, backend := range []Backend{interp, quick} {
		module := buildBranching(t)
		fn := module.Function(module.EntryFunc)
		if err := backend.CompileModule(module); err != nil {
			t.Fatalf("compile: %v", err)
		}
		ptr, err := backend.GetFunctionPtr(fn.ID)
		if err != nil {
			t.Fatalf("GetFunctionPtr: %v", err)
		}
		if ptr == 0 {
			t.Fatalf("expected a nonzero entry pointer")
		}
		result, err := backend.CallMain(module)
		if err != nil {
			t.Fatalf("CallMain: %v", err)
		}
		if _, ok := result.(ir.VInt); !ok {
			t.Fatalf("expected VInt result, got %T", result)
		}
		results = append(results, result)
	}
	if !valuesEqual(results[0], results[1]) {
		t.Fatalf("QuickJIT result %v does not match interpreter result %v", results[1], results[0])
	}
}

func TestOptimizingJITFoldsConstantBranch(t *testing.T) {
	module := ir.NewModule("fold")
	b := ir.NewBuilder(module)
	sig := ir.Signature{ReturnType: ir.I64}
	id := b.StartFunction(ir.InvalidSymbolId, "always_ten", sig)

	entry := b.CurrentBlock()
	trueBlock := b.CreateBlock()
	falseBlock := b.CreateBlock()

	trueVal := b.BuildConst(ir.VBool{Val: true})
	b.BuildCondBranch(trueVal, trueBlock, falseBlock)

	b.SwitchToBlock(trueBlock)
	ten := b.BuildConst(ir.VInt{Val: 10, Width: ir.Width64})
	b.BuildReturn(ten)

	b.SwitchToBlock(falseBlock)
	twenty := b.BuildConst(ir.VInt{Val: 20, Width: ir.Width64})
	b.BuildReturn(twenty)

	b.SwitchToBlock(entry)
	b.FinishFunction()
	module.EntryFunc = id

	backend := NewOptimizingJIT(nil)
	result, err := backend.CallMain(module)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := result.(ir.VInt)
	if !ok || v.Val != 10 {
		t.Fatalf("expected folded branch to always return 10, got %v", result)
	}
}

func TestMaxJITProducesArtifactAndMatchesExecution(t *testing.T) {
	module := buildAddOne(t)
	backend := NewMaxJIT(nil)
	if err := backend.CompileModule(module); err != nil {
		t.Fatalf("compile: %v", err)
	}
	fn := module.Function(module.EntryFunc)
	if _, ok := backend.Artifact(fn.ID); !ok {
		t.Errorf("expected a lowered artifact to be recorded for %v", fn.ID)
	}
	result, err := backend.CallMain(module)
	if err != nil {
		t.Fatalf("CallMain: %v", err)
	}
	if _, ok := result.(ir.VInt); !ok {
		t.Fatalf("expected VInt result, got %T", result)
	}
	want, err := NewInterpreter(nil).CallMain(buildAddOne(t))
	if err != nil {
		t.Fatalf("interpreter CallMain: %v", err)
	}
	if !valuesEqual(result, want) {
		t.Fatalf("MaxJIT result %v does not match interpreter result %v", result, want)
	}
}

func TestInterpreterResolvesExternViaShim(t *testing.T) {
	module := ir.NewModule("externcall")
	b := ir.NewBuilder(module)
	externSig := ir.Signature{Params: []ir.Param{{Type: ir.I64}}, ReturnType: ir.I64}
	externID := module.AddExtern("double", "host_double", externSig)

	RegisterExternShim("host_double", func(args []ir.IrValue) (ir.IrValue, error) {
		v := args[0].(ir.VInt)
		return ir.VInt{Val: v.Val * 2, Width: ir.Width64}, nil
	})

	sig := ir.Signature{ReturnType: ir.I64}
	id := b.StartFunction(ir.InvalidSymbolId, "main", sig)
	five := b.BuildConst(ir.VInt{Val: 5, Width: ir.Width64})
	dest := b.BuildCallDirect(externID, []ir.Arg{{Reg: five}}, true)
	b.BuildReturn(dest)
	b.FinishFunction()
	module.EntryFunc = id

	backend := NewInterpreter(nil)
	result, err := backend.CallMain(module)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := result.(ir.VInt)
	if !ok || v.Val != 10 {
		t.Fatalf("expected extern call to double 5 into 10, got %v", result)
	}
}

func TestCallDispatchesDirectlyByFunctionID(t *testing.T) {
	module := buildAddOne(t)
	backend := NewInterpreter(nil)
	if err := backend.CompileModule(module); err != nil {
		t.Fatalf("compile: %v", err)
	}
	fn := module.Function(module.EntryFunc)
	result, err := backend.Call(fn.ID, []ir.IrValue{ir.VInt{Val: 41, Width: ir.Width64}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := result.(ir.VInt)
	if !ok || v.Val != 42 {
		t.Fatalf("expected 41 + 1 = 42, got %v", result)
	}
}

func TestGetFunctionPtrBeforeCompileFails(t *testing.T) {
	backend := NewInterpreter(nil)
	if _, err := backend.GetFunctionPtr(ir.FunctionId(999)); err == nil {
		t.Fatalf("expected ErrFunctionNotCompiled for an uncompiled function")
	}
}
