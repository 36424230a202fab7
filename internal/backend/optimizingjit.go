package backend

import (
	"fmt"
	"sync"
	"unsafe"

	"jitcore/internal/dominance"
	"jitcore/internal/escape"
	"jitcore/internal/ir"
	"jitcore/internal/sra"
)

// OptimizingJIT is the tier-2 backend: before handing a function to
// the shared evaluator it runs dominance/loop analysis, escape
// analysis, scalar replacement of aggregates, and a constant-fold and
// dead-branch-prune pass, in that order, over a private copy of the
// function's instructions: every pass, SRA's in-place rewrite
// included, runs on a clone, never the shared *ir.Function. The controller always
// recompiles at this tier from the original, never-optimized IR, so
// repeated promotions never compound passes.
type OptimizingJIT struct {
	mu       sync.RWMutex
	module   *ir.Module
	symbols  map[string]unsafe.Pointer
	registry entryRegistry
}

// NewOptimizingJIT constructs a tier-2 backend resolving extern calls
// against symbols.
func NewOptimizingJIT(symbols []Symbol) *OptimizingJIT {
	return &OptimizingJIT{
		symbols:  resolveSymbols(symbols),
		registry: newEntryRegistry(),
	}
}

func (o *OptimizingJIT) CompileModule(module *ir.Module) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.module = module
	for id, fn := range module.Functions {
		o.compileLocked(id, fn)
	}
	for id, ext := range module.Externs {
		linkName := ext.LinkName
		o.registry.publish(id, func(args []ir.IrValue) (ir.IrValue, error) {
			return o.callExtern(linkName, args)
		})
	}
	return nil
}

func (o *OptimizingJIT) CompileSingleFunction(id ir.FunctionId, module *ir.Module, fn *ir.Function) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.module = module
	o.compileLocked(id, fn)
	return nil
}

func (o *OptimizingJIT) compileLocked(id ir.FunctionId, fn *ir.Function) {
	optimized := optimizeFunction(fn, o.module)
	o.registry.publish(id, func(args []ir.IrValue) (ir.IrValue, error) {
		return o.invoke(optimized, args)
	})
}

func (o *OptimizingJIT) invoke(fn *ir.Function, args []ir.IrValue) (ir.IrValue, error) {
	ev := &evaluator{
		module:  o.module,
		symbols: o.symbols,
		callFunc: func(id ir.FunctionId, callArgs []ir.IrValue) (ir.IrValue, error) {
			return o.callByID(id, callArgs)
		},
	}
	return ev.run(fn, args)
}

func (o *OptimizingJIT) callExtern(name string, args []ir.IrValue) (ir.IrValue, error) {
	shim, ok := externShims[name]
	if !ok {
		return ir.VVoid{}, &ErrSymbolNotFound{Name: name}
	}
	return shim(args)
}

func (o *OptimizingJIT) callByID(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	o.mu.RLock()
	entry, ok := o.registry.get(id)
	o.mu.RUnlock()
	if !ok {
		return ir.VVoid{}, &ErrFunctionNotCompiled{ID: id}
	}
	return entry(args)
}

// Call invokes the compiled entry for id directly.
func (o *OptimizingJIT) Call(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	return o.callByID(id, args)
}

func (o *OptimizingJIT) GetFunctionPtr(id ir.FunctionId) (uintptr, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, ok := o.registry.get(id); !ok {
		return 0, &ErrFunctionNotCompiled{ID: id}
	}
	ptr, _ := o.registry.pointerFor(id)
	return ptr, nil
}

func (o *OptimizingJIT) CallMain(module *ir.Module) (ir.IrValue, error) {
	if !module.EntryFunc.IsValid() {
		return ir.VVoid{}, fmt.Errorf("backend: module has no entry function")
	}
	if err := o.CompileModule(module); err != nil {
		return ir.VVoid{}, err
	}
	return o.callByID(module.EntryFunc, nil)
}

// optimizeFunction returns a shallow-cloned function that has been
// run through dominance/loop analysis, escape analysis, scalar
// replacement of aggregates, and finally constant folding and
// dead-branch pruning, in that order — every analysis the tiered
// controller's higher tiers are meant to benefit from, matching the
// "on-demand passes before higher-tier compilation" data-flow
// description that motivates this backend's existence. Folding
// replaces a BinOp/Cmp/UnOp whose operands are both Const-defined
// within the same block with a Const; pruning replaces a CondBranch
// whose condition folded to a literal bool with an unconditional
// Branch, leaving the now-unreachable arm in place rather than
// deleting blocks here.
func optimizeFunction(fn *ir.Function, module *ir.Module) *ir.Function {
	cfg := ir.CloneCFG(fn.CFG)
	clone := &ir.Function{
		ID:   fn.ID,
		Name: fn.Name,
		Sig:  fn.Sig,
		CFG:  cfg,
		Meta: fn.Meta,
	}

	tree := dominance.Compute(clone)
	dominance.FindLoops(clone, tree) // annotates clone's block metadata in place

	// Neither constructor-style allocations nor concatenation
	// operators are distinguishable from an ordinary call at this
	// level (the lowering front end that would supply those call
	// sets is out of scope here), so escape analysis sees only the
	// direct ir.Alloc sites; that is still enough to drive SRA and
	// populate the stack-allocation/inlinability hints on the clone.
	if _, err := escape.SafeAnalyze(clone, nil, nil); err != nil {
		// A malformed function is left un-annotated but still
		// folded/pruned below; validate.Validate at Load time is the
		// actual gate against ever reaching this point.
		_ = err
	}

	if module != nil {
		sra.Run(clone, findMallocID(module))
	}

	for _, id := range cfg.ReversePostorder() {
		block := cfg.Block(id)
		if block == nil {
			continue
		}
		constants := make(map[ir.RegId]ir.IrValue)
		newInstrs := make([]ir.Instruction, 0, len(block.Instrs))
		for _, instr := range block.Instrs {
			folded := tryFold(instr, constants)
			newInstrs = append(newInstrs, folded)
			if c, ok := folded.(*ir.Const); ok {
				constants[c.DestReg] = c.Value
			}
		}
		block.Instrs = newInstrs
		if cb, ok := block.Term.(ir.CondBranch); ok {
			if v, ok := constants[cb.Cond]; ok {
				if b, ok := v.(ir.VBool); ok {
					target := cb.FalseTarget
					if b.Val {
						target = cb.TrueTarget
					}
					cfg.SetTerminator(id, ir.Branch{Target: target})
				}
			}
		}
	}
	return clone
}

func tryFold(instr ir.Instruction, constants map[ir.RegId]ir.IrValue) ir.Instruction {
	switch v := instr.(type) {
	case *ir.BinOp:
		l, lok := constants[v.L]
		r, rok := constants[v.R]
		if lok && rok {
			if result, err := evalBinOp(v.Op, l, r); err == nil {
				return &ir.Const{DestReg: v.DestReg, Value: result}
			}
		}
	case *ir.Cmp:
		l, lok := constants[v.L]
		r, rok := constants[v.R]
		if lok && rok {
			if result, err := evalCmp(v.Op, l, r); err == nil {
				return &ir.Const{DestReg: v.DestReg, Value: result}
			}
		}
	case *ir.UnOp:
		x, ok := constants[v.X]
		if ok {
			if result, err := evalUnOp(v.Op, x); err == nil {
				return &ir.Const{DestReg: v.DestReg, Value: result}
			}
		}
	}
	return instr
}

// findMallocID locates the module's "malloc" function or extern, if
// one is registered, so SRA can recognize a direct call to it as an
// allocation site alongside ir.Alloc. Returns ir.InvalidFunctionId
// when no such symbol exists, which SRA treats as simply never
// matching any CallDirect.
func findMallocID(module *ir.Module) ir.FunctionId {
	const mallocName = "malloc" // matches sra's own unexported mallocFuncName
	for id, fn := range module.Functions {
		if fn.Name == mallocName {
			return id
		}
	}
	for id, ext := range module.Externs {
		if ext.Name == mallocName {
			return id
		}
	}
	return ir.InvalidFunctionId
}
