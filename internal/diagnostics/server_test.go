package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"jitcore/internal/escape"
	"jitcore/internal/ir"
	"jitcore/internal/tiered"
)

func buildCounterModule(t *testing.T) (*ir.Module, ir.FunctionId) {
	t.Helper()
	module := ir.NewModule("diag")
	b := ir.NewBuilder(module)
	sig := ir.Signature{Params: []ir.Param{{Type: ir.I64}}, ReturnType: ir.I64}
	id := b.StartFunction(ir.InvalidSymbolId, "bump", sig)
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

func TestBuildFrameRendersTierCountsAndTopFunction(t *testing.T) {
	module, id := buildCounterModule(t)
	cfg := tiered.DefaultConfig()
	cfg.EnableBackgroundOptimization = false
	controller, err := tiered.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := controller.Load(module); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := controller.Call(id, []ir.IrValue{ir.VInt{Val: 1, Width: ir.Width64}}); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}

	names := map[uint32]string{uint32(id): "bump"}
	frame := buildFrame(controller, names)

	total := 0
	for _, n := range frame.Tiers {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected exactly one resident function across tiers, got %+v", frame.Tiers)
	}
	if frame.FunctionCalls["bump"] != 5 {
		t.Fatalf("expected 5 recorded calls for bump, got %+v", frame.FunctionCalls)
	}
	if !strings.Contains(frame.TopFunctionHuman, "bump") {
		t.Fatalf("expected top function summary to name bump, got %q", frame.TopFunctionHuman)
	}
}

func TestSummarizeReclaimFormatsBytesAndName(t *testing.T) {
	report := &escape.Report{ReclaimableBytes: 2048, Inlinable: true}
	summary := SummarizeReclaim("widget", report)
	if summary.FunctionName != "widget" {
		t.Fatalf("expected function name to round-trip, got %q", summary.FunctionName)
	}
	if summary.ReclaimableBytes != 2048 {
		t.Fatalf("expected raw byte count to round-trip, got %d", summary.ReclaimableBytes)
	}
	if summary.ReclaimableHuman == "" {
		t.Fatalf("expected a non-empty human-readable byte size")
	}
	if !summary.Inlinable {
		t.Fatalf("expected inlinable to round-trip true")
	}
}

func TestServerBroadcastsFrameToConnectedClient(t *testing.T) {
	module, id := buildCounterModule(t)
	cfg := tiered.DefaultConfig()
	cfg.EnableBackgroundOptimization = false
	controller, err := tiered.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := controller.Load(module); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := controller.Call(id, []ir.IrValue{ir.VInt{Val: 1, Width: ir.Width64}}); err != nil {
		t.Fatalf("Call: %v", err)
	}

	addr := "127.0.0.1:18181"
	server := NewServer(addr, controller, 5*time.Millisecond, nil)
	server.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
			t.Errorf("Shutdown: %v", err)
		}
	}()
	// Start launches ListenAndServe on a background goroutine; give it a
	// moment to bind before dialing.
	time.Sleep(20 * time.Millisecond)

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.Dial("ws://"+addr+"/stats", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Promotions != controller.Stats().Promotions {
		t.Fatalf("expected broadcast promotions to match controller stats, got %+v", frame)
	}
}
