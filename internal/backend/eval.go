package backend

import (
	"fmt"
	"unsafe"

	"jitcore/internal/ir"
)

// evaluator walks a function's SSA form directly: it is the shared
// execution engine behind every backend tier in this module (the
// tiers differ in what IR they are handed and how it got there — see
// quickjit.go, optimizingjit.go, maxjit.go — not in how it is walked).
// This mirrors a register VM executing a flat instruction stream,
// generalized to a CFG of basic blocks.
type evaluator struct {
	module  *ir.Module
	symbols map[string]unsafe.Pointer
	// callFunc resolves a direct/indirect call during evaluation; every
	// backend supplies its own (possibly tier-specific) resolver so
	// CallDirect targets are invoked through the *backend's* published
	// entries rather than always re-entering this evaluator.
	callFunc func(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error)
}

// heapCell is a scalar storage slot an Alloc/Load/Store instruction
// addresses. This interpreter never does real pointer arithmetic over
// host memory — Alloc/GEP/Load/Store operate over a per-evaluation
// abstract heap of tagged cells, sufficient to give every IR operation
// defined semantics without unsafe host memory access.
type heapCell struct {
	fields map[int64]ir.IrValue
}

type ptrValue struct {
	cell   *heapCell
	offset int64
}

// boxedPtr lets pointer values travel through the same regs map as
// IrValue without inventing a new IrValue variant (pointers are a
// runtime-only concept; the closed IrValue set models source-level
// constants, not backend-internal addresses).
type boxedPtr struct{ p ptrValue }

func (boxedPtr) irValue()        {}
func (b boxedPtr) String() string { return fmt.Sprintf("ptr@%p+%d", b.p.cell, b.p.offset) }

func (e *evaluator) run(fn *ir.Function, args []ir.IrValue) (ir.IrValue, error) {
	regs := make(map[ir.RegId]ir.IrValue, 64)
	for i, p := range fn.Sig.Params {
		if i < len(args) {
			regs[p.Reg] = args[i]
			continue
		}
		// A parameter with no supplied argument starts at its type's zero value.
		switch t := p.Type.(type) {
		case ir.TInt:
			regs[p.Reg] = ir.VInt{Width: t.Width, Unsigned: t.Unsigned}
		case ir.TBool:
			regs[p.Reg] = ir.VBool{}
		case ir.TF32:
			regs[p.Reg] = ir.VF32{}
		case ir.TF64:
			regs[p.Reg] = ir.VF64{}
		}
	}

	block := fn.CFG.Entry
	var pred ir.BlockId = ir.InvalidBlockId
	for steps := 0; ; steps++ {
		if steps > 10_000_000 {
			return ir.VVoid{}, fmt.Errorf("backend: execution step limit exceeded (possible infinite loop)")
		}
		bb := fn.CFG.Block(block)
		if bb == nil {
			return ir.VVoid{}, fmt.Errorf("backend: jumped to missing block %s", block)
		}
		for _, phi := range bb.Phis {
			for _, in := range phi.Incoming {
				if in.Pred == pred {
					regs[phi.DestReg] = regs[in.Value]
					break
				}
			}
		}
		for _, instr := range bb.Instrs {
			if err := e.step(fn, regs, instr); err != nil {
				return ir.VVoid{}, err
			}
		}
		switch term := bb.Term.(type) {
		case ir.Branch:
			pred, block = block, term.Target
		case ir.CondBranch:
			cond, _ := regs[term.Cond].(ir.VBool)
			pred = block
			if cond.Val {
				block = term.TrueTarget
			} else {
				block = term.FalseTarget
			}
		case ir.Switch:
			pred = block
			block = term.Default
			val := regs[term.Value]
			for _, c := range term.Cases {
				if valuesEqual(val, c.Value) {
					block = c.Target
					break
				}
			}
		case ir.Return:
			if term.Value.IsValid() {
				return regs[term.Value], nil
			}
			return ir.VVoid{}, nil
		case ir.ThrowTerm:
			return ir.VVoid{}, fmt.Errorf("backend: uncaught throw: %v", regs[term.Exception])
		case ir.Unreachable:
			return ir.VVoid{}, fmt.Errorf("backend: reached Unreachable terminator")
		default:
			return ir.VVoid{}, fmt.Errorf("backend: block %s has no terminator", block)
		}
	}
}

func (e *evaluator) step(fn *ir.Function, regs map[ir.RegId]ir.IrValue, instr ir.Instruction) error {
	switch v := instr.(type) {
	case *ir.Const:
		regs[v.DestReg] = v.Value
	case *ir.Copy:
		regs[v.DestReg] = regs[v.Src]
	case *ir.UndefInstr:
		regs[v.DestReg] = ir.VUndef{Type: v.Type}
	case *ir.Alloc:
		regs[v.DestReg] = boxedPtr{ptrValue{cell: &heapCell{fields: make(map[int64]ir.IrValue)}}}
	case *ir.Free:
		// abstract heap is GC'd by the host runtime; nothing to do.
	case *ir.GetElementPtr:
		base, ok := regs[v.Ptr].(boxedPtr)
		if !ok {
			return fmt.Errorf("backend: GEP base is not a pointer")
		}
		offset := base.p.offset
		for _, idx := range v.Indices {
			if idx.IsConst {
				offset += idx.Const
			} else if iv, ok := regs[idx.IndexReg].(ir.VInt); ok {
				offset += iv.Val
			}
		}
		regs[v.DestReg] = boxedPtr{ptrValue{cell: base.p.cell, offset: offset}}
	case *ir.Store:
		ptr, ok := regs[v.Ptr].(boxedPtr)
		if !ok {
			return fmt.Errorf("backend: store target is not a pointer")
		}
		ptr.p.cell.fields[ptr.p.offset] = regs[v.Value]
	case *ir.Load:
		ptr, ok := regs[v.Ptr].(boxedPtr)
		if !ok {
			return fmt.Errorf("backend: load source is not a pointer")
		}
		if val, ok := ptr.p.cell.fields[ptr.p.offset]; ok {
			regs[v.DestReg] = val
		} else {
			regs[v.DestReg] = ir.VUndef{Type: v.Type}
		}
	case *ir.MemCopy:
		dst, dok := regs[v.DestPtr].(boxedPtr)
		src, sok := regs[v.SrcPtr].(boxedPtr)
		if dok && sok {
			for k, val := range src.p.cell.fields {
				dst.p.cell.fields[k-src.p.offset+dst.p.offset] = val
			}
		}
	case *ir.BinOp:
		result, err := evalBinOp(v.Op, regs[v.L], regs[v.R])
		if err != nil {
			return err
		}
		regs[v.DestReg] = result
	case *ir.UnOp:
		result, err := evalUnOp(v.Op, regs[v.X])
		if err != nil {
			return err
		}
		regs[v.DestReg] = result
	case *ir.Cmp:
		result, err := evalCmp(v.Op, regs[v.L], regs[v.R])
		if err != nil {
			return err
		}
		regs[v.DestReg] = result
	case *ir.Cast:
		regs[v.DestReg] = evalCast(v.Kind, regs[v.Src], v.Type)
	case *ir.BitCast:
		regs[v.DestReg] = regs[v.Src]
	case *ir.CallDirect:
		args := make([]ir.IrValue, len(v.Args))
		for i, a := range v.Args {
			args[i] = regs[a.Reg]
		}
		result, err := e.callFunc(v.Func, args)
		if err != nil {
			return err
		}
		if v.DestReg.IsValid() {
			regs[v.DestReg] = result
		}
	case *ir.CallIndirect:
		return fmt.Errorf("backend: indirect calls are not supported by this evaluator")
	case *ir.MakeClosure:
		captures := make([]ir.IrValue, len(v.Captures))
		for i, c := range v.Captures {
			captures[i] = regs[c]
		}
		regs[v.DestReg] = ir.VClosure{Func: v.Func, Captures: captures}
	case *ir.ClosureFunc:
		cl, _ := regs[v.Closure].(ir.VClosure)
		regs[v.DestReg] = ir.VFunction{Func: cl.Func}
	case *ir.ClosureEnv:
		cl, _ := regs[v.Closure].(ir.VClosure)
		regs[v.DestReg] = ir.VArray{Elems: cl.Captures}
	case *ir.LoadGlobal:
		g := fn.CFG // unused, keeps fn referenced for symmetry
		_ = g
		regs[v.DestReg] = ir.VUndef{Type: v.Type}
	case *ir.StoreGlobal:
		// module-level globals are out of scope for this evaluator's
		// abstract heap; recorded as a no-op.
	case *ir.Select:
		cond, _ := regs[v.Cond].(ir.VBool)
		if cond.Val {
			regs[v.DestReg] = regs[v.IfTrue]
		} else {
			regs[v.DestReg] = regs[v.IfFalse]
		}
	case *ir.Throw:
		return fmt.Errorf("backend: throw: %v", regs[v.Exception])
	default:
		return fmt.Errorf("backend: unknown instruction %T", instr)
	}
	return nil
}

func valuesEqual(a ir.IrValue, b ir.IrValue) bool {
	switch av := a.(type) {
	case ir.VInt:
		bv, ok := b.(ir.VInt)
		return ok && av.Val == bv.Val
	case ir.VBool:
		bv, ok := b.(ir.VBool)
		return ok && av.Val == bv.Val
	case ir.VString:
		bv, ok := b.(ir.VString)
		return ok && av.Val == bv.Val
	default:
		return false
	}
}
