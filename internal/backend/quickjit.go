package backend

import (
	"fmt"
	"sync"
	"unsafe"

	"jitcore/internal/ir"
)

// flatFunction records a function's reverse-postorder block order and
// each block's index in it, computed once per compile. Execution does
// not consult it: invoke runs the function through the same evaluator
// as the interpreter, which follows the live CFG.
type flatFunction struct {
	fn        *ir.Function
	order     []ir.BlockId
	offsetOf  map[ir.BlockId]int
}

func flattenFunction(fn *ir.Function) *flatFunction {
	order := fn.CFG.ReversePostorder()
	offset := make(map[ir.BlockId]int, len(order))
	for i, id := range order {
		offset[id] = i
	}
	return &flatFunction{fn: fn, order: order, offsetOf: offset}
}

// QuickJIT is the tier-1 backend: it records a flattened block order
// per function and executes through the same evaluator core as the
// interpreter. It does not fold constants or prune branches — that is
// OptimizingJIT's job — and its per-call execution path is the same as
// tier 0's.
type QuickJIT struct {
	mu       sync.RWMutex
	module   *ir.Module
	symbols  map[string]unsafe.Pointer
	registry entryRegistry
	flat     map[ir.FunctionId]*flatFunction
}

// NewQuickJIT constructs a tier-1 backend resolving extern calls
// against symbols.
func NewQuickJIT(symbols []Symbol) *QuickJIT {
	return &QuickJIT{
		symbols:  resolveSymbols(symbols),
		registry: newEntryRegistry(),
		flat:     make(map[ir.FunctionId]*flatFunction),
	}
}

func (q *QuickJIT) CompileModule(module *ir.Module) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.module = module
	for id, fn := range module.Functions {
		q.compileLocked(id, fn)
	}
	for id, ext := range module.Externs {
		linkName := ext.LinkName
		q.registry.publish(id, func(args []ir.IrValue) (ir.IrValue, error) {
			return q.callExtern(linkName, args)
		})
	}
	return nil
}

func (q *QuickJIT) CompileSingleFunction(id ir.FunctionId, module *ir.Module, fn *ir.Function) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.module = module
	q.compileLocked(id, fn)
	return nil
}

func (q *QuickJIT) compileLocked(id ir.FunctionId, fn *ir.Function) {
	flat := flattenFunction(fn)
	q.flat[id] = flat
	q.registry.publish(id, func(args []ir.IrValue) (ir.IrValue, error) {
		return q.invoke(flat, args)
	})
}

func (q *QuickJIT) invoke(flat *flatFunction, args []ir.IrValue) (ir.IrValue, error) {
	ev := &evaluator{
		module:  q.module,
		symbols: q.symbols,
		callFunc: func(id ir.FunctionId, callArgs []ir.IrValue) (ir.IrValue, error) {
			return q.callByID(id, callArgs)
		},
	}
	// The precomputed reverse-postorder is not used here (the evaluator
	// follows the live CFG on every branch), and nothing else reads
	// q.flat either.
	_ = flat.order
	return ev.run(flat.fn, args)
}

func (q *QuickJIT) callExtern(name string, args []ir.IrValue) (ir.IrValue, error) {
	shim, ok := externShims[name]
	if !ok {
		return ir.VVoid{}, &ErrSymbolNotFound{Name: name}
	}
	return shim(args)
}

func (q *QuickJIT) callByID(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	q.mu.RLock()
	entry, ok := q.registry.get(id)
	q.mu.RUnlock()
	if !ok {
		return ir.VVoid{}, &ErrFunctionNotCompiled{ID: id}
	}
	return entry(args)
}

// Call invokes the compiled entry for id directly.
func (q *QuickJIT) Call(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	return q.callByID(id, args)
}

func (q *QuickJIT) GetFunctionPtr(id ir.FunctionId) (uintptr, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if _, ok := q.registry.get(id); !ok {
		return 0, &ErrFunctionNotCompiled{ID: id}
	}
	ptr, _ := q.registry.pointerFor(id)
	return ptr, nil
}

func (q *QuickJIT) CallMain(module *ir.Module) (ir.IrValue, error) {
	if !module.EntryFunc.IsValid() {
		return ir.VVoid{}, fmt.Errorf("backend: module has no entry function")
	}
	if err := q.CompileModule(module); err != nil {
		return ir.VVoid{}, err
	}
	return q.callByID(module.EntryFunc, nil)
}
