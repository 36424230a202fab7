package backend

import (
	"fmt"
	"sync"
	"unsafe"

	"jitcore/internal/ir"
)

// Interpreter is the tier-0 backend: it walks the unmodified SSA IR
// directly through the shared evaluator, with no caching, no lowering
// pass, and no compiled artifact. Every other tier starts from this
// one's correctness and adds a transformation in front of it.
type Interpreter struct {
	mu       sync.RWMutex
	module   *ir.Module
	symbols  map[string]unsafe.Pointer
	registry entryRegistry
}

// NewInterpreter constructs a tier-0 backend resolving extern calls
// against symbols.
func NewInterpreter(symbols []Symbol) *Interpreter {
	return &Interpreter{
		symbols:  resolveSymbols(symbols),
		registry: newEntryRegistry(),
	}
}

func (in *Interpreter) CompileModule(module *ir.Module) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.module = module
	for id, fn := range module.Functions {
		in.publishLocked(id, fn)
	}
	for id, ext := range module.Externs {
		linkName := ext.LinkName
		in.registry.publish(id, func(args []ir.IrValue) (ir.IrValue, error) {
			return in.callExtern(linkName, args)
		})
	}
	return nil
}

func (in *Interpreter) CompileSingleFunction(id ir.FunctionId, module *ir.Module, fn *ir.Function) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.module = module
	in.publishLocked(id, fn)
	return nil
}

func (in *Interpreter) publishLocked(id ir.FunctionId, fn *ir.Function) {
	in.registry.publish(id, func(args []ir.IrValue) (ir.IrValue, error) {
		return in.invoke(fn, args)
	})
}

func (in *Interpreter) invoke(fn *ir.Function, args []ir.IrValue) (ir.IrValue, error) {
	if fn.Extern {
		return in.callExtern(fn.LinkName, args)
	}
	ev := &evaluator{
		module:  in.module,
		symbols: in.symbols,
		callFunc: func(id ir.FunctionId, callArgs []ir.IrValue) (ir.IrValue, error) {
			return in.callByID(id, callArgs)
		},
	}
	return ev.run(fn, args)
}

func (in *Interpreter) callByID(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	in.mu.RLock()
	entry, ok := in.registry.get(id)
	in.mu.RUnlock()
	if !ok {
		return ir.VVoid{}, &ErrFunctionNotCompiled{ID: id}
	}
	return entry(args)
}

// callExtern invokes a resolved symbol via its registered Go shim.
// Real native interop would jump directly to symbols[name]; this
// interpreter instead requires externs to be pre-registered as
// EntryFunc-shaped Go closures (see RegisterExternShim), since the
// evaluator carries no native ABI.
func (in *Interpreter) callExtern(name string, args []ir.IrValue) (ir.IrValue, error) {
	shim, ok := externShims[name]
	if !ok {
		return ir.VVoid{}, &ErrSymbolNotFound{Name: name}
	}
	return shim(args)
}

// Call invokes the compiled entry for id directly, bypassing the
// uintptr round-trip GetFunctionPtr exists for.
func (in *Interpreter) Call(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	return in.callByID(id, args)
}

func (in *Interpreter) GetFunctionPtr(id ir.FunctionId) (uintptr, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	entry, ok := in.registry.get(id)
	if !ok {
		return 0, &ErrFunctionNotCompiled{ID: id}
	}
	if ptr, ok := in.registry.pointerFor(id); ok {
		return ptr, nil
	}
	return makeEntryPointer(entry), nil
}

func (in *Interpreter) CallMain(module *ir.Module) (ir.IrValue, error) {
	if !module.EntryFunc.IsValid() {
		return ir.VVoid{}, fmt.Errorf("backend: module has no entry function")
	}
	if err := in.CompileModule(module); err != nil {
		return ir.VVoid{}, err
	}
	return in.callByID(module.EntryFunc, nil)
}

// externShims holds Go-side implementations of extern link names the
// interpreter can actually execute without a real FFI boundary. A
// production host would instead dlopen/dlsym native symbols; this
// module has no native codegen to link against, so externs are test
// and diagnostics hooks registered here rather than resolved off
// Symbol.Ptr directly.
var externShims = map[string]func([]ir.IrValue) (ir.IrValue, error){}

// RegisterExternShim installs (or replaces) the Go implementation
// backing an extern function's link name, used by host programs and
// tests to stand in for runtime/FFI calls the evaluator cannot make
// directly.
func RegisterExternShim(linkName string, fn func([]ir.IrValue) (ir.IrValue, error)) {
	externShims[linkName] = fn
}
