// Package escape implements ownership and escape analysis:
// per-function allocation-site classification, inlinability verdicts,
// borrow/move edge tracking, and the stack-allocation hints the
// backend and SRA consume.
package escape

import (
	"fmt"

	"github.com/pkg/errors"

	"jitcore/internal/ir"
)

// EscapeKind classifies how an allocation site escapes its function.
type EscapeKind int

const (
	NoEscape EscapeKind = iota
	EscapesViaReturn
	EscapesViaCall
	EscapesViaGlobal
	EscapesViaContainer
)

func (k EscapeKind) String() string {
	switch k {
	case NoEscape:
		return "NoEscape"
	case EscapesViaReturn:
		return "EscapesViaReturn"
	case EscapesViaCall:
		return "EscapesViaCall"
	case EscapesViaGlobal:
		return "EscapesViaGlobal"
	case EscapesViaContainer:
		return "EscapesViaContainer"
	default:
		return "Unknown"
	}
}

// AllocationSite is one allocation node discovered in the function:
// a direct Alloc, a constructor-style call, or a concatenation
// operator that always materializes a new buffer.
type AllocationSite struct {
	Reg      ir.RegId
	Block    ir.BlockId
	Escape   EscapeKind
	CallSite ir.FunctionId // not filled in by Analyze; stays zero for every kind
}

// Report is the per-function analysis result: every allocation site's
// classification, the stack-allocatable subset, and an inlinability
// verdict.
type Report struct {
	Sites            []AllocationSite
	StackAllocatable map[ir.RegId]ir.StackAllocationHint
	Inlinable        bool

	// EscapeCounts aggregates Sites by kind; a supplemented diagnostics
	// summary (not itself consumed by the compiler), grounded on the
	// original analyzer's summary struct.
	EscapeCounts map[EscapeKind]int
	ReclaimableBytes int
}

// SafeAnalyze runs Analyze recovering from any panic raised by a
// malformed function, returning it as a stack-carrying error instead
// of taking down the calling thread — the backend's optimizeFunction,
// run by the tiered controller's promotions, calls this rather than
// Analyze directly, since an
// analysis crash on one function must never abort the others queued
// behind it.
func SafeAnalyze(fn *ir.Function, constructorCalls, concatFuncs map[ir.FunctionId]bool) (report *Report, err error) {
	name := "<nil>"
	if fn != nil {
		name = fn.Name
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(fmt.Errorf("%v", r), "escape: analysis of %s panicked", name)
		}
	}()
	return Analyze(fn, constructorCalls, concatFuncs), nil
}

// Analyze runs escape analysis over fn. constructorCalls and
// concatFuncs identify, by FunctionId, which CallDirect targets are
// constructor-style allocations or concatenation operators — the IR
// alone cannot distinguish an ordinary call from one that always
// materializes a new buffer, so the caller (normally the lowering
// pipeline) supplies that knowledge.
func Analyze(fn *ir.Function, constructorCalls, concatFuncs map[ir.FunctionId]bool) *Report {
	report := &Report{
		StackAllocatable: make(map[ir.RegId]ir.StackAllocationHint),
		EscapeCounts:     make(map[EscapeKind]int),
	}

	sites := enumerateAllocationSites(fn, constructorCalls, concatFuncs)
	globalStores := collectGlobalStoreTargets(fn)
	storedIntoTracked := collectStoredIntoSites(fn, sites)

	for i := range sites {
		site := &sites[i]
		site.Escape = classify(fn, site.Reg, globalStores, storedIntoTracked)
		report.EscapeCounts[site.Escape]++
		if site.Escape == NoEscape {
			size := estimateSize(fn, site.Reg)
			report.StackAllocatable[site.Reg] = ir.StackAllocationHint{Site: site.Reg, EstimatedSize: size}
			report.ReclaimableBytes += size
		}
	}
	report.Sites = sites

	dfgNodeCount, blockCount := countDFGSize(fn)
	report.Inlinable = dfgNodeCount < 10 && blockCount <= 1

	applyHints(fn, report)
	return report
}

func enumerateAllocationSites(fn *ir.Function, constructorCalls, concatFuncs map[ir.FunctionId]bool) []AllocationSite {
	var out []AllocationSite
	for blockID, b := range fn.CFG.Blocks {
		for _, instr := range b.Instrs {
			switch v := instr.(type) {
			case *ir.Alloc:
				out = append(out, AllocationSite{Reg: v.DestReg, Block: blockID})
			case *ir.CallDirect:
				if v.DestReg.IsValid() && (constructorCalls[v.Func] || concatFuncs[v.Func]) {
					out = append(out, AllocationSite{Reg: v.DestReg, Block: blockID})
				}
			}
		}
	}
	return out
}

// collectGlobalStoreTargets marks every register stored via StoreGlobal
// as a globally-addressable escape target.
func collectGlobalStoreTargets(fn *ir.Function) map[ir.RegId]bool {
	out := make(map[ir.RegId]bool)
	for _, b := range fn.CFG.Blocks {
		for _, instr := range b.Instrs {
			if sg, ok := instr.(*ir.StoreGlobal); ok {
				out[sg.Value] = true
			}
		}
	}
	return out
}

// collectStoredIntoSites marks allocation-site registers that appear
// as the value operand of any Store; the pointer stored through is not
// inspected.
func collectStoredIntoSites(fn *ir.Function, sites []AllocationSite) map[ir.RegId]bool {
	siteSet := make(map[ir.RegId]bool, len(sites))
	for _, s := range sites {
		siteSet[s.Reg] = true
	}
	out := make(map[ir.RegId]bool)
	for _, b := range fn.CFG.Blocks {
		for _, instr := range b.Instrs {
			if st, ok := instr.(*ir.Store); ok {
				if siteSet[st.Value] {
					out[st.Value] = true
				}
			}
		}
	}
	return out
}

func classify(fn *ir.Function, site ir.RegId, globalStores, storedIntoTracked map[ir.RegId]bool) EscapeKind {
	for _, b := range fn.CFG.Blocks {
		if b.Term != nil {
			if ret, ok := b.Term.(ir.Return); ok && ret.Value == site {
				return EscapesViaReturn
			}
		}
		for _, instr := range b.Instrs {
			if cd, ok := instr.(*ir.CallDirect); ok {
				for _, a := range cd.Args {
					if a.Reg == site {
						return EscapesViaCall
					}
				}
			}
			if ci, ok := instr.(*ir.CallIndirect); ok {
				for _, a := range ci.Args {
					if a.Reg == site {
						return EscapesViaCall
					}
				}
			}
		}
	}
	if globalStores[site] {
		return EscapesViaGlobal
	}
	if storedIntoTracked[site] {
		return EscapesViaContainer
	}
	return NoEscape
}

// estimateSize sums the declared type's byte width for an Alloc site;
// constructor-call sites without a static type default to a
// conservative single-word estimate.
func estimateSize(fn *ir.Function, site ir.RegId) int {
	for _, b := range fn.CFG.Blocks {
		for _, instr := range b.Instrs {
			if a, ok := instr.(*ir.Alloc); ok && a.DestReg == site {
				return ir.SizeOf(a.Type)
			}
		}
	}
	return 8
}

func applyHints(fn *ir.Function, report *Report) {
	var hints []ir.StackAllocationHint
	for _, h := range report.StackAllocatable {
		hints = append(hints, h)
	}
	fn.Meta.StackAllocations = hints
	fn.Meta.InlineHint = report.Inlinable
}

// countDFGSize is a lightweight DFG-node-count and block-count proxy
// used by the inlinability verdict: every value-producing
// instruction is one DFG node.
func countDFGSize(fn *ir.Function) (nodeCount, blockCount int) {
	for _, b := range fn.CFG.Blocks {
		blockCount++
		nodeCount += len(b.Phis)
		for _, instr := range b.Instrs {
			if _, has := instr.Dest(); has {
				nodeCount++
			}
		}
	}
	return
}
