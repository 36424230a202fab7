package backend

import (
	"fmt"
	"sync"
	"unsafe"

	llvmconst "github.com/llir/llvm/ir/constant"
	llvmir "github.com/llir/llvm/ir"
	lltypes "github.com/llir/llvm/ir/types"
	llvmvalue "github.com/llir/llvm/ir/value"

	"jitcore/internal/ir"
)

// MaxJIT is the tier-3 backend. Beyond OptimizingJIT's constant
// folding and branch pruning it produces an additional optimization
// artifact: a textual LLVM module lowered from the already-optimized
// IR, kept purely for diagnostics (validating that the mid-level IR
// the earlier tiers already execute correctly would also survive a
// real lowering step). Execution still runs through the same
// evaluator as every other tier — this module never hands the LLVM
// text to an actual LLVM toolchain.
type MaxJIT struct {
	mu       sync.RWMutex
	module   *ir.Module
	symbols  map[string]unsafe.Pointer
	registry entryRegistry

	// artifacts caches the last lowered LLVM module text per function,
	// available to diagnostics via Artifact.
	artifacts map[ir.FunctionId]string
}

// NewMaxJIT constructs a tier-3 backend resolving extern calls
// against symbols.
func NewMaxJIT(symbols []Symbol) *MaxJIT {
	return &MaxJIT{
		symbols:   resolveSymbols(symbols),
		registry:  newEntryRegistry(),
		artifacts: make(map[ir.FunctionId]string),
	}
}

func (m *MaxJIT) CompileModule(module *ir.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.module = module
	for id, fn := range module.Functions {
		m.compileLocked(id, fn)
	}
	for id, ext := range module.Externs {
		linkName := ext.LinkName
		m.registry.publish(id, func(args []ir.IrValue) (ir.IrValue, error) {
			return m.callExtern(linkName, args)
		})
	}
	return nil
}

func (m *MaxJIT) CompileSingleFunction(id ir.FunctionId, module *ir.Module, fn *ir.Function) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.module = module
	m.compileLocked(id, fn)
	return nil
}

func (m *MaxJIT) compileLocked(id ir.FunctionId, fn *ir.Function) {
	optimized := optimizeFunction(fn, m.module)
	if text, err := lowerToLLVMText(optimized); err == nil {
		m.artifacts[id] = text
	}
	m.registry.publish(id, func(args []ir.IrValue) (ir.IrValue, error) {
		return m.invoke(optimized, args)
	})
}

func (m *MaxJIT) invoke(fn *ir.Function, args []ir.IrValue) (ir.IrValue, error) {
	ev := &evaluator{
		module:  m.module,
		symbols: m.symbols,
		callFunc: func(id ir.FunctionId, callArgs []ir.IrValue) (ir.IrValue, error) {
			return m.callByID(id, callArgs)
		},
	}
	return ev.run(fn, args)
}

func (m *MaxJIT) callExtern(name string, args []ir.IrValue) (ir.IrValue, error) {
	shim, ok := externShims[name]
	if !ok {
		return ir.VVoid{}, &ErrSymbolNotFound{Name: name}
	}
	return shim(args)
}

func (m *MaxJIT) callByID(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	m.mu.RLock()
	entry, ok := m.registry.get(id)
	m.mu.RUnlock()
	if !ok {
		return ir.VVoid{}, &ErrFunctionNotCompiled{ID: id}
	}
	return entry(args)
}

// Call invokes the compiled entry for id directly.
func (m *MaxJIT) Call(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	return m.callByID(id, args)
}

func (m *MaxJIT) GetFunctionPtr(id ir.FunctionId) (uintptr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.registry.get(id); !ok {
		return 0, &ErrFunctionNotCompiled{ID: id}
	}
	ptr, _ := m.registry.pointerFor(id)
	return ptr, nil
}

func (m *MaxJIT) CallMain(module *ir.Module) (ir.IrValue, error) {
	if !module.EntryFunc.IsValid() {
		return ir.VVoid{}, fmt.Errorf("backend: module has no entry function")
	}
	if err := m.CompileModule(module); err != nil {
		return ir.VVoid{}, err
	}
	return m.callByID(module.EntryFunc, nil)
}

// Artifact returns the last lowered LLVM IR text produced for id, for
// diagnostics tooling; ok is false if the function has not been
// compiled at this tier or lowering failed.
func (m *MaxJIT) Artifact(id ir.FunctionId) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.artifacts[id]
	return text, ok
}

// lowerToLLVMText builds a best-effort LLVM module mirroring fn's
// signature and straight-line arithmetic, returning its textual
// representation. Only the entry block is lowered: integer constants
// and the binary operations llvmBinOp supports become instructions,
// every other instruction is skipped, and the block ends in `ret` of
// the returned value if that value was lowered, else `ret void`. The
// result is an inspectable optimization artifact, not a complete
// lowering (real native codegen is out of scope for this backend
// contract).
func lowerToLLVMText(fn *ir.Function) (string, error) {
	m := llvmir.NewModule()
	retType := llvmTypeOf(fn.Sig.ReturnType)
	params := make([]*llvmir.Param, len(fn.Sig.Params))
	for i, p := range fn.Sig.Params {
		params[i] = llvmir.NewParam(llvmTypeOf(p.Type), fmt.Sprintf("p%d", i))
	}
	llfn := m.NewFunc(safeLLVMName(fn.Name), retType, params...)

	entry := fn.CFG.Block(fn.CFG.Entry)
	if entry == nil {
		return m.String(), nil
	}
	block := llfn.NewBlock("entry")
	values := make(map[ir.RegId]llvmvalue.Value, len(params))
	for i, p := range fn.Sig.Params {
		values[p.Reg] = params[i]
	}

	for _, instr := range entry.Instrs {
		switch v := instr.(type) {
		case *ir.Const:
			if iv, ok := v.Value.(ir.VInt); ok {
				values[v.DestReg] = llvmIntConst(iv.Val, iv.Width)
			}
		case *ir.BinOp:
			l, lok := values[v.L]
			r, rok := values[v.R]
			if lok && rok {
				if res := llvmBinOp(block, v.Op, l, r); res != nil {
					values[v.DestReg] = res
				}
			}
		}
	}

	if ret, ok := entry.Term.(ir.Return); ok && ret.Value.IsValid() {
		if v, ok := values[ret.Value]; ok {
			block.NewRet(v)
		} else {
			block.NewRet(nil)
		}
	} else {
		block.NewRet(nil)
	}

	return m.String(), nil
}

func safeLLVMName(name string) string {
	if name == "" {
		return "anon"
	}
	return name
}

func llvmTypeOf(t ir.IrType) lltypes.Type {
	switch v := t.(type) {
	case ir.TVoid:
		return lltypes.Void
	case ir.TBool:
		return lltypes.I1
	case ir.TInt:
		return llvmIntType(v.Width)
	case ir.TF32:
		return lltypes.Float
	case ir.TF64:
		return lltypes.Double
	default:
		return lltypes.I64
	}
}

func llvmIntType(w ir.IntWidth) *lltypes.IntType {
	switch w {
	case ir.Width8:
		return lltypes.I8
	case ir.Width16:
		return lltypes.I16
	case ir.Width32:
		return lltypes.I32
	default:
		return lltypes.I64
	}
}

func llvmIntConst(val int64, width ir.IntWidth) llvmvalue.Value {
	return llvmconst.NewInt(val, llvmIntType(width))
}

func llvmBinOp(block *llvmir.Block, op ir.BinOpKind, l, r llvmvalue.Value) llvmvalue.Value {
	switch op {
	case ir.BAdd:
		return block.NewAdd(l, r)
	case ir.BSub:
		return block.NewSub(l, r)
	case ir.BMul:
		return block.NewMul(l, r)
	case ir.BAnd:
		return block.NewAnd(l, r)
	case ir.BOr:
		return block.NewOr(l, r)
	case ir.BXor:
		return block.NewXor(l, r)
	default:
		return nil
	}
}
