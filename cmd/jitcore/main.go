// cmd/jitcore/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jitcore/internal/diagnostics"
	"jitcore/internal/ir"
	"jitcore/internal/tiered"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	cmd := args[0]
	switch cmd {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		fmt.Println("jitcore", version)
	case "run":
		if err := runCommand(args[1:]); err != nil {
			log.Fatalf("run: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`jitcore - tiered JIT controller host

Usage:
  jitcore run [flags]     drive the bundled demo module through the tiered controller
  jitcore version         print the version
  jitcore help            show this message

Flags for run:
  -calls int          number of calls to drive through the controller (default 200)
  -background          enable the background optimization worker (default true)
  -diagnostics string  address for the diagnostics websocket server, empty disables it
  -persist string      sqlite path for warm-start counter persistence, empty disables it
  -verbosity int       controller log verbosity 0-2 (default 0)

Source lexing, parsing, and type checking are an external collaborator's
concern; this host drives a built-in demo module since no front end is
wired into this binary.`)
}

// runCommand builds the bundled demo module, loads it into a tiered
// controller, optionally starts the diagnostics server, drives the
// configured number of calls, and reports final tier residency.
func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	calls := fs.Int("calls", 200, "number of calls to drive through the controller")
	background := fs.Bool("background", true, "enable the background optimization worker")
	diagAddr := fs.String("diagnostics", "", "diagnostics websocket server address, empty disables it")
	persistPath := fs.String("persist", "", "sqlite path for warm-start counter persistence")
	verbosity := fs.Int("verbosity", 0, "controller log verbosity 0-2")
	if err := fs.Parse(args); err != nil {
		return err
	}

	module, id, names := buildDemoModule()

	cfg := tiered.DefaultConfig()
	cfg.EnableBackgroundOptimization = *background
	cfg.Verbosity = *verbosity
	cfg.PersistPath = *persistPath

	controller, err := tiered.New(cfg)
	if err != nil {
		return fmt.Errorf("construct controller: %w", err)
	}
	defer controller.Close()

	if err := controller.Load(module); err != nil {
		return fmt.Errorf("load module: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	controller.Start(ctx)

	var diagServer *diagnostics.Server
	if *diagAddr != "" {
		diagServer = diagnostics.NewServer(*diagAddr, controller, 250*time.Millisecond, names)
		diagServer.Start()
		log.Printf("diagnostics: serving stats on ws://%s/stats", *diagAddr)
	}

	log.Printf("driving %d calls through %s", *calls, names[uint32(id)])
	for i := 0; i < *calls; i++ {
		if _, err := controller.Call(id, []ir.IrValue{ir.VInt{Val: int64(i), Width: ir.Width64}}); err != nil {
			return fmt.Errorf("call #%d: %w", i, err)
		}
	}

	// Background promotion runs on its own schedule; give it three
	// polling windows to catch up to the counters just recorded before
	// reporting a final snapshot.
	if *background {
		time.Sleep(cfg.OptimizationCheckInterval * 3)
	}

	stats := controller.Stats()
	log.Printf("final tier for %s: %s", names[uint32(id)], controller.TierOf(id))
	log.Printf("stats: tiers=%v queue=%d in_flight=%d promotions=%d failed=%d",
		stats.TierCounts, stats.QueueLength, stats.InFlight, stats.Promotions, stats.FailedOptimizations)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if diagServer != nil {
		if err := diagServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("diagnostics shutdown: %w", err)
		}
	}
	return nil
}

// buildDemoModule constructs a small recursive-free counter function,
// standing in for the program a real front end would otherwise lower:
// fn collatz_step(n: i64) -> i64 { if n % 2 == 0 { return n / 2 } else { return n * 3 + 1 } }
func buildDemoModule() (*ir.Module, ir.FunctionId, map[uint32]string) {
	module := ir.NewModule("demo")
	b := ir.NewBuilder(module)

	sig := ir.Signature{Params: []ir.Param{{Type: ir.I64}}, ReturnType: ir.I64}
	id := b.StartFunction(ir.InvalidSymbolId, "collatz_step", sig)
	fn := b.CurrentFunction()
	n := fn.NewReg()
	fn.Sig.Params[0].Reg = n

	two := b.BuildConst(ir.VInt{Val: 2, Width: ir.Width64})
	rem := b.BuildBinOp(ir.BRem, n, two)
	zero := b.BuildConst(ir.VInt{Val: 0, Width: ir.Width64})
	isEven := b.BuildCmp(ir.CEq, rem, zero)

	entry := b.CurrentBlock()
	evenBlock := b.CreateBlock()
	oddBlock := b.CreateBlock()

	b.SwitchToBlock(entry)
	b.BuildCondBranch(isEven, evenBlock, oddBlock)

	b.SwitchToBlock(evenBlock)
	half := b.BuildBinOp(ir.BDiv, n, two)
	b.BuildReturn(half)

	b.SwitchToBlock(oddBlock)
	three := b.BuildConst(ir.VInt{Val: 3, Width: ir.Width64})
	tripled := b.BuildBinOp(ir.BMul, n, three)
	one := b.BuildConst(ir.VInt{Val: 1, Width: ir.Width64})
	result := b.BuildBinOp(ir.BAdd, tripled, one)
	b.BuildReturn(result)

	b.FinishFunction()
	module.EntryFunc = id

	return module, id, map[uint32]string{uint32(id): "collatz_step"}
}
