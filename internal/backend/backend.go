// Package backend defines the pluggable backend contract
// and four implementations spanning all four tiers: a tree-walking
// Interpreter (tier 0), and three closure-compiling JITs of increasing
// optimization (tiers 1-3). All four produce ABI-compatible entry
// points so the tiered controller can swap them transparently.
package backend

import (
	"fmt"
	"reflect"
	"unsafe"

	"jitcore/internal/ir"
)

// Symbol is one foreign-language runtime helper the generated code may
// call, resolved by name at backend construction time — never at
// code-patch-in time.
type Symbol struct {
	Name string
	Ptr  unsafe.Pointer
}

// EntryFunc is the calling convention every backend's compiled entry
// point satisfies: an ordered argument vector in, one IrValue (or
// VVoid) out, or an error for a runtime fault.
type EntryFunc func(args []ir.IrValue) (ir.IrValue, error)

// Backend is the narrow capability set the tiered controller dispatches
// through. Implementations may choose static or dynamic dispatch at
// their discretion.
type Backend interface {
	// CompileModule installs every function in module, producing an
	// entry pointer for each.
	CompileModule(module *ir.Module) error
	// CompileSingleFunction recompiles one function at this backend's
	// optimization level, typically invoked by the tiered controller.
	CompileSingleFunction(id ir.FunctionId, module *ir.Module, fn *ir.Function) error
	// GetFunctionPtr yields the raw executable-entry address to invoke.
	GetFunctionPtr(id ir.FunctionId) (uintptr, error)
	// Call invokes a specific compiled function by ID, the path the
	// tiered controller dispatches through on every call site once a
	// function has a published entry at this tier.
	Call(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error)
	// CallMain invokes the module's entry function, a convenience for
	// tests and the diagnostics CLI.
	CallMain(module *ir.Module) (ir.IrValue, error)
}

// ErrFunctionNotCompiled is returned by GetFunctionPtr for a function
// this backend has not (yet) produced an entry for.
type ErrFunctionNotCompiled struct{ ID ir.FunctionId }

func (e *ErrFunctionNotCompiled) Error() string {
	return fmt.Sprintf("backend: function %s has no compiled entry", e.ID)
}

// ErrSymbolNotFound is returned when an extern function's link name has
// no matching entry in the symbol table supplied at construction.
type ErrSymbolNotFound struct{ Name string }

func (e *ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("backend: unresolved external symbol %q", e.Name)
}

// makeEntryPointer wraps fn behind a stable address using
// reflect.MakeFunc, satisfying the controller's "raw executable-entry
// address" contract without emitting real native code: this module's
// backends are closure-compilers, not machine-code generators (real
// native codegen is explicitly out of scope).
func makeEntryPointer(fn EntryFunc) uintptr {
	wrapped := reflect.MakeFunc(
		reflect.TypeOf((func([]ir.IrValue) (ir.IrValue, error))(nil)),
		func(args []reflect.Value) []reflect.Value {
			values := args[0].Interface().([]ir.IrValue)
			result, err := fn(values)
			var errVal reflect.Value
			if err != nil {
				errVal = reflect.ValueOf(err)
			} else {
				errVal = reflect.Zero(reflect.TypeOf((*error)(nil)).Elem())
			}
			return []reflect.Value{reflect.ValueOf(&result).Elem(), errVal}
		},
	)
	ptr := wrapped.Pointer()
	return ptr
}

// entryRegistry is embedded by every backend to hold the published
// uintptr -> EntryFunc mapping, since Go cannot dereference a raw
// uintptr back into a callable value the way native code would.
type entryRegistry struct {
	byID  map[ir.FunctionId]EntryFunc
	ptrs  map[ir.FunctionId]uintptr
	byPtr map[uintptr]EntryFunc
}

func newEntryRegistry() entryRegistry {
	return entryRegistry{
		byID:  make(map[ir.FunctionId]EntryFunc),
		ptrs:  make(map[ir.FunctionId]uintptr),
		byPtr: make(map[uintptr]EntryFunc),
	}
}

func (r *entryRegistry) publish(id ir.FunctionId, fn EntryFunc) uintptr {
	ptr := makeEntryPointer(fn)
	r.byID[id] = fn
	r.ptrs[id] = ptr
	r.byPtr[ptr] = fn
	return ptr
}

func (r *entryRegistry) get(id ir.FunctionId) (EntryFunc, bool) {
	fn, ok := r.byID[id]
	return fn, ok
}

func (r *entryRegistry) pointerFor(id ir.FunctionId) (uintptr, bool) {
	ptr, ok := r.ptrs[id]
	return ptr, ok
}

func resolveSymbols(symbols []Symbol) map[string]unsafe.Pointer {
	out := make(map[string]unsafe.Pointer, len(symbols))
	for _, s := range symbols {
		out[s.Name] = s.Ptr
	}
	return out
}
