package profile

import (
	"testing"

	"jitcore/internal/ir"
)

func TestPromotionPredicatesRespectThresholds(t *testing.T) {
	cfg := Config{WarmThreshold: 5, HotThreshold: 50, BlazingThreshold: 200, SampleRate: 1}
	data := NewData(cfg)
	fn := ir.FunctionId(1)

	for i := 0; i < 4; i++ {
		data.RecordCall(fn)
	}
	if data.IsWarm(fn) {
		t.Errorf("expected not warm at count 4")
	}

	for i := 0; i < 2; i++ {
		data.RecordCall(fn)
	}
	if !data.IsWarm(fn) {
		t.Errorf("expected warm at count 6")
	}
	if data.IsHot(fn) {
		t.Errorf("expected not hot at count 6")
	}
}

func TestHotFunctionPromotionScenario(t *testing.T) {
	// thresholds warm=5, hot=50, blazing=200; called 300 times should
	// cross every threshold.
	cfg := Config{WarmThreshold: 5, HotThreshold: 50, BlazingThreshold: 200, SampleRate: 1}
	data := NewData(cfg)
	fn := ir.FunctionId(42)

	for i := 0; i < 300; i++ {
		data.RecordCall(fn)
	}

	if !data.IsWarm(fn) || !data.IsHot(fn) || !data.IsBlazing(fn) {
		t.Fatalf("expected function called 300 times to have crossed every threshold")
	}
}

func TestSnapshotIsAggregateOnly(t *testing.T) {
	data := NewData(DefaultConfig())
	data.RecordCall(ir.FunctionId(1))
	data.RecordCall(ir.FunctionId(1))
	data.RecordCall(ir.FunctionId(2))

	snap := data.TakeSnapshot()
	if snap.Counts[ir.FunctionId(1)] != 2 {
		t.Errorf("expected function 1 count 2, got %d", snap.Counts[ir.FunctionId(1)])
	}
	if snap.Counts[ir.FunctionId(2)] != 1 {
		t.Errorf("expected function 2 count 1, got %d", snap.Counts[ir.FunctionId(2)])
	}
}
