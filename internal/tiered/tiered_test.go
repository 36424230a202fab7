package tiered

import (
	"context"
	"testing"
	"time"

	"jitcore/internal/ir"
)

func buildIncrementModule(t *testing.T) (*ir.Module, ir.FunctionId) {
	t.Helper()
	module := ir.NewModule("counter")
	b := ir.NewBuilder(module)

	sig := ir.Signature{Params: []ir.Param{{Type: ir.I64}}, ReturnType: ir.I64}
	id := b.StartFunction(ir.InvalidSymbolId, "increment", sig)
	fn := b.CurrentFunction()
	param := fn.NewReg()
	fn.Sig.Params[0].Reg = param

	one := b.BuildConst(ir.VInt{Val: 1, Width: ir.Width64})
	sum := b.BuildBinOp(ir.BAdd, param, one)
	b.BuildReturn(sum)
	b.FinishFunction()
	module.EntryFunc = id
	return module, id
}

func TestControllerStartsAtBaselineTier(t *testing.T) {
	module, id := buildIncrementModule(t)
	cfg := DefaultConfig()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Load(module); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tier := c.TierOf(id); tier != TierInterpreter {
		t.Fatalf("expected TierInterpreter, got %v", tier)
	}
	result, err := c.Call(id, []ir.IrValue{ir.VInt{Val: 9, Width: ir.Width64}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	v, ok := result.(ir.VInt)
	if !ok || v.Val != 10 {
		t.Fatalf("expected 9 + 1 = 10, got %v", result)
	}
}

func TestControllerPromotesInlineWithoutBackgroundWorker(t *testing.T) {
	module, id := buildIncrementModule(t)
	cfg := DefaultConfig()
	cfg.EnableBackgroundOptimization = false
	cfg.Profile.WarmThreshold = 3
	cfg.Profile.HotThreshold = 5
	cfg.Profile.BlazingThreshold = 10

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Load(module); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for i := 0; i < 12; i++ {
		if _, err := c.Call(id, []ir.IrValue{ir.VInt{Val: 1, Width: ir.Width64}}); err != nil {
			t.Fatalf("Call #%d: %v", i, err)
		}
	}

	if tier := c.TierOf(id); tier != TierMax {
		t.Fatalf("expected promotion all the way to TierMax after 12 calls, got %v", tier)
	}
	stats := c.Stats()
	if stats.TierCounts[TierMax] != 1 {
		t.Fatalf("expected one function resident at TierMax, got stats %+v", stats)
	}
}

func TestControllerPromotesViaBackgroundWorker(t *testing.T) {
	module, id := buildIncrementModule(t)
	cfg := DefaultConfig()
	cfg.OptimizationCheckInterval = 2 * time.Millisecond
	cfg.Profile.WarmThreshold = 2
	cfg.Profile.HotThreshold = 1000000
	cfg.Profile.BlazingThreshold = 1000000

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Load(module); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	for i := 0; i < 3; i++ {
		if _, err := c.Call(id, []ir.IrValue{ir.VInt{Val: 1, Width: ir.Width64}}); err != nil {
			t.Fatalf("Call #%d: %v", i, err)
		}
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if c.TierOf(id) == TierQuickJIT {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tier := c.TierOf(id); tier != TierQuickJIT {
		t.Fatalf("expected background promotion to TierQuickJIT, got %v", tier)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestGetFunctionPointerBeforeLoadFails(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.GetFunctionPointer(ir.FunctionId(42)); err == nil {
		t.Fatalf("expected an error for an unloaded function")
	}
}

func TestLoadRefusesAnInvalidModule(t *testing.T) {
	module, id := buildIncrementModule(t)
	fn := module.Function(id)
	// Corrupt a well-formed function after the fact: strip its
	// terminator so validate.Validate reports MissingTerminator.
	fn.CFG.Block(fn.CFG.Entry).Term = nil

	cfg := DefaultConfig()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Load(module); err == nil {
		t.Fatalf("expected Load to refuse an invalid module")
	}
	if _, err := c.GetFunctionPointer(id); err == nil {
		t.Fatalf("expected no entry pointer to have been published for a refused module")
	}
}
