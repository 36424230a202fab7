// Package sra implements scalar replacement of aggregates :
// rewriting non-escaping allocations whose only uses are known-offset
// pointer derivations and loads/stores into per-field SSA registers.
package sra

import (
	"jitcore/internal/ir"
)

// Result reports what one Run invocation eliminated.
type Result struct {
	AllocationsEliminated int
}

// candidate tracks one allocation site through escape checking.
type candidate struct {
	allocInstr   ir.Instruction // *ir.Alloc or a malloc CallDirect
	allocBlock   ir.BlockId
	allocIndex   int // position within allocBlock.Instrs, for removal
	dest         ir.RegId
	freeInstr    ir.Instruction
	freeBlock    ir.BlockId
	freeIndex    int
	hasFree      bool
	tracked      map[ir.RegId]int // tracked register -> field index
	rejected     bool
	fieldLoadTy  map[int]ir.IrType // observed load type per field index
}

const mallocFuncName = "malloc"

// Run scans fn for SRA candidates, rejects any that escape, and
// rewrites the survivors in place. It is purely a no-op on unsuitable
// functions and is idempotent: a second run over an already-rewritten
// function finds no candidates because the allocation is gone.
func Run(fn *ir.Function, mallocID ir.FunctionId) Result {
	consts := scanIntConstants(fn)
	candidates := findCandidates(fn, mallocID)

	eliminated := 0
	for _, c := range candidates {
		computeTrackedSet(fn, c, consts)
		if c.rejected {
			continue
		}
		rewrite(fn, c)
		eliminated++
	}
	return Result{AllocationsEliminated: eliminated}
}

// scanIntConstants records every integer literal produced by a Const
// instruction, keyed by destination register.
func scanIntConstants(fn *ir.Function) map[ir.RegId]int64 {
	out := make(map[ir.RegId]int64)
	for _, b := range fn.CFG.Blocks {
		for _, instr := range b.Instrs {
			if c, ok := instr.(*ir.Const); ok {
				if iv, ok := c.Value.(ir.VInt); ok {
					out[c.DestReg] = iv.Val
				}
			}
		}
	}
	return out
}

// findCandidates locates every Alloc with no count and every direct
// call to mallocID with a single argument, pairing each with an
// ir.Free on the same pointer if one exists.
func findCandidates(fn *ir.Function, mallocID ir.FunctionId) []*candidate {
	var out []*candidate
	for blockID, b := range fn.CFG.Blocks {
		for idx, instr := range b.Instrs {
			switch v := instr.(type) {
			case *ir.Alloc:
				if v.Count.IsValid() {
					continue
				}
				c := &candidate{
					allocInstr: v,
					allocBlock: blockID,
					allocIndex: idx,
					dest:       v.DestReg,
					tracked:    map[ir.RegId]int{v.DestReg: 0},
					fieldLoadTy: make(map[int]ir.IrType),
				}
				findPairedFree(fn, c)
				out = append(out, c)
			case *ir.CallDirect:
				if v.Func != mallocID || len(v.Args) != 1 || !v.DestReg.IsValid() {
					continue
				}
				c := &candidate{
					allocInstr: v,
					allocBlock: blockID,
					allocIndex: idx,
					dest:       v.DestReg,
					tracked:    map[ir.RegId]int{v.DestReg: 0},
					fieldLoadTy: make(map[int]ir.IrType),
				}
				findPairedFree(fn, c)
				out = append(out, c)
			}
		}
	}
	return out
}

func findPairedFree(fn *ir.Function, c *candidate) {
	for blockID, b := range fn.CFG.Blocks {
		for idx, instr := range b.Instrs {
			if f, ok := instr.(*ir.Free); ok && f.Ptr == c.dest {
				c.freeInstr = f
				c.freeBlock = blockID
				c.freeIndex = idx
				c.hasFree = true
				return
			}
		}
	}
}

// computeTrackedSet runs the tracked-pointer-set fixpoint and the
// escape checks, marking c.rejected on any violation.
func computeTrackedSet(fn *ir.Function, c *candidate, consts map[ir.RegId]int64) {
	changed := true
	for changed && !c.rejected {
		changed = false
		for _, b := range fn.CFG.Blocks {
			for _, phi := range b.Phis {
				trackedIncoming, nonTrackedIncoming := 0, 0
				for _, in := range phi.Incoming {
					if _, ok := c.tracked[in.Value]; ok {
						trackedIncoming++
					} else {
						nonTrackedIncoming++
					}
				}
				if trackedIncoming > 0 {
					// Any phi mixing tracked/non-tracked, or producing a
					// tracked pointer at all, rejects the candidate:
					// phi-through-SRA is unsupported.
					c.rejected = true
					return
				}
				_ = nonTrackedIncoming
			}
			for _, instr := range b.Instrs {
				switch v := instr.(type) {
				case *ir.GetElementPtr:
					base, ok := c.tracked[v.Ptr]
					if !ok {
						continue
					}
					allConst := true
					flat := int64(base)
					for _, idx := range v.Indices {
						if !idx.IsConst {
							allConst = false
							break
						}
						flat += idx.Const
					}
					if !allConst {
						c.rejected = true
						return
					}
					if _, already := c.tracked[v.DestReg]; !already {
						c.tracked[v.DestReg] = int(flat)
						changed = true
					}
				case *ir.Copy:
					if base, ok := c.tracked[v.Src]; ok {
						if _, already := c.tracked[v.DestReg]; !already {
							c.tracked[v.DestReg] = base
							changed = true
						}
					}
				case *ir.Cast:
					if base, ok := c.tracked[v.Src]; ok {
						if _, already := c.tracked[v.DestReg]; !already {
							c.tracked[v.DestReg] = base
							changed = true
						}
					}
				case *ir.BitCast:
					if base, ok := c.tracked[v.Src]; ok {
						if _, already := c.tracked[v.DestReg]; !already {
							c.tracked[v.DestReg] = base
							changed = true
						}
					}
				case *ir.Store:
					if _, ok := c.tracked[v.Value]; ok {
						// tracked pointer escapes into memory
						c.rejected = true
						return
					}
					if field, ok := c.tracked[v.Ptr]; ok {
						c.fieldLoadTy[field] = ir.TAny{} // refined by a later Load if any
					}
				case *ir.Load:
					if field, ok := c.tracked[v.Ptr]; ok {
						c.fieldLoadTy[field] = v.Type
					}
				case *ir.CallDirect:
					if c.isFreeCallFor(v.DestReg) {
						continue
					}
					for _, a := range v.Args {
						if _, ok := c.tracked[a.Reg]; ok {
							c.rejected = true
							return
						}
					}
				case *ir.CallIndirect:
					for _, a := range v.Args {
						if _, ok := c.tracked[a.Reg]; ok {
							c.rejected = true
							return
						}
					}
				case *ir.Select:
					for _, r := range []ir.RegId{v.Cond, v.IfTrue, v.IfFalse} {
						if _, ok := c.tracked[r]; ok {
							c.rejected = true
							return
						}
					}
				case *ir.Free:
					if _, ok := c.tracked[v.Ptr]; ok && v.Ptr != c.dest {
						c.rejected = true
						return
					}
				default:
					for _, r := range instr.Uses() {
						if _, ok := c.tracked[r]; ok {
							c.rejected = true
							return
						}
					}
				}
			}
			if b.Term != nil {
				if ret, ok := b.Term.(ir.Return); ok && ret.Value.IsValid() {
					if _, ok := c.tracked[ret.Value]; ok {
						c.rejected = true
						return
					}
				}
			}
		}
	}

	// A Free of the base pointer is the paired free rewrite removes; a
	// Free of any other tracked pointer rejects the candidate above.
	if f, ok := c.allocInstr.(*ir.Free); ok {
		_ = f
	}
}

func (c *candidate) isFreeCallFor(dest ir.RegId) bool { return false }

// rewrite performs the per-field scalarization: seed Undef registers,
// replace tracked stores/loads with Copy to/from a per-field
// current-value vector walked in BFS order, and drop the allocation
// and its paired free.
func rewrite(fn *ir.Function, c *candidate) {
	fieldCount := 0
	for _, field := range c.tracked {
		if field+1 > fieldCount {
			fieldCount = field + 1
		}
	}
	if fieldCount == 0 {
		fieldCount = 1
	}

	fieldCurrent := make([]ir.RegId, fieldCount)
	for i := 0; i < fieldCount; i++ {
		ty := c.fieldLoadTy[i]
		if ty == nil {
			ty = ir.TAny{}
		}
		// Field 0 keeps the allocation's own destination register, so
		// c.dest stays defined in place of the allocation. Later fields
		// get fresh registers since nothing outside this pass names them.
		dest := c.dest
		if i != 0 {
			dest = fn.NewReg()
		}
		undef := &ir.UndefInstr{DestReg: dest, Type: ty}
		fieldCurrent[i] = dest
		// Insert the Undef seeds at the allocation's original position,
		// replacing the allocation instruction itself.
		block := fn.CFG.Block(c.allocBlock)
		if i == 0 {
			block.Instrs[c.allocIndex] = undef
		} else {
			block.Instrs = insertAt(block.Instrs, c.allocIndex+i, undef)
		}
	}

	// Walk BFS order from entry so every store is visited before any
	// load that may observe it.
	for _, blockID := range fn.CFG.BFSFromEntry() {
		block := fn.CFG.Block(blockID)
		newInstrs := make([]ir.Instruction, 0, len(block.Instrs))
		for _, instr := range block.Instrs {
			switch v := instr.(type) {
			case *ir.Store:
				if field, ok := c.tracked[v.Ptr]; ok && field < fieldCount {
					fresh := fn.NewReg()
					newInstrs = append(newInstrs, &ir.Copy{DestReg: fresh, Src: v.Value})
					fieldCurrent[field] = fresh
					continue
				}
			case *ir.Load:
				if field, ok := c.tracked[v.Ptr]; ok && field < fieldCount {
					newInstrs = append(newInstrs, &ir.Copy{DestReg: v.DestReg, Src: fieldCurrent[field]})
					continue
				}
			case *ir.Free:
				if v.Ptr == c.dest {
					continue // paired free removed
				}
			case *ir.GetElementPtr:
				// Every consumer of a tracked GEP is itself either a
				// further link in the tracked chain or a Load/Store
				// already rewritten above — the escape check rejects any
				// other use — so once those are gone the GEP computing it
				// is unreachable. Drop it now rather than leave a pointer
				// derivation over a scalarized (non-pointer) base for a
				// later pass that does not exist in this pipeline.
				if _, tracked := c.tracked[v.DestReg]; tracked {
					continue
				}
			case *ir.Copy:
				if _, tracked := c.tracked[v.DestReg]; tracked {
					continue
				}
			case *ir.Cast:
				if _, tracked := c.tracked[v.DestReg]; tracked {
					continue
				}
			case *ir.BitCast:
				if _, tracked := c.tracked[v.DestReg]; tracked {
					continue
				}
			}
			newInstrs = append(newInstrs, instr)
		}
		block.Instrs = newInstrs
	}
}

func insertAt(instrs []ir.Instruction, pos int, instr ir.Instruction) []ir.Instruction {
	if pos >= len(instrs) {
		return append(instrs, instr)
	}
	out := make([]ir.Instruction, 0, len(instrs)+1)
	out = append(out, instrs[:pos]...)
	out = append(out, instr)
	out = append(out, instrs[pos:]...)
	return out
}
