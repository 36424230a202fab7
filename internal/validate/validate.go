// Package validate checks IR well-formedness: SSA, CFG, typing, and
// terminator placement . It never panics; every problem is
// reported as a structured ValidationError.
package validate

import (
	"fmt"

	"github.com/pkg/errors"

	"jitcore/internal/ir"
)

// ErrorKind enumerates the structured error variants this validator reports.
type ErrorKind int

const (
	UseBeforeDefine ErrorKind = iota
	MultipleDefinitions
	TypeMismatch
	InvalidOperand
	MissingTerminator
	UnreachableCode
	InvalidControlFlow
	InvalidPhiNode
	SignatureMismatch
	InvalidSSA
)

func (k ErrorKind) String() string {
	names := [...]string{
		"UseBeforeDefine", "MultipleDefinitions", "TypeMismatch", "InvalidOperand",
		"MissingTerminator", "UnreachableCode", "InvalidControlFlow", "InvalidPhiNode",
		"SignatureMismatch", "InvalidSSA",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// ValidationError is one structured failure; Reg/Block are included
// for tooling. Error() renders Kind and Reason: no Reason names a
// register, but some name the blocks involved. Report.Render is the
// top-level message that names neither.
type ValidationError struct {
	Kind   ErrorKind
	Reg    ir.RegId
	Block  ir.BlockId
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Report is the aggregate result of one Validate call.
type Report struct {
	Errors []*ValidationError
}

// OK reports whether validation found zero errors.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Render produces a single aggregate error suitable for surfacing to a
// host CLI: a pkg/errors-wrapped summary that never names specific
// register numbers, while Report.Errors underneath retains them for
// tooling that wants the detail.
func (r *Report) Render() error {
	if r.OK() {
		return nil
	}
	return errors.Wrapf(errShort(len(r.Errors)), "ir validation failed")
}

func errShort(n int) error { return fmt.Errorf("%d error(s) found", n) }

// Validate runs the single traversal described in : CFG structure,
// per-block phi/instruction typing and terminator placement,
// reachability, and Return-vs-signature checks.
func Validate(fn *ir.Function) *Report {
	report := &Report{}
	validateCFGStructure(fn, report)
	defSite := collectDefSites(fn, report)
	validateBlocks(fn, defSite, report)
	fn.CFG.MarkUnreachable()
	recordUnreachable(fn, report)
	validateReturns(fn, report)
	return report
}

func validateCFGStructure(fn *ir.Function, report *Report) {
	if fn.CFG.Block(fn.CFG.Entry) == nil {
		report.Errors = append(report.Errors, &ValidationError{
			Kind: InvalidControlFlow, Reason: "entry block does not exist",
		})
		return
	}
	entry := fn.CFG.Block(fn.CFG.Entry)
	if len(entry.Preds) != 0 {
		report.Errors = append(report.Errors, &ValidationError{
			Kind: InvalidControlFlow, Block: fn.CFG.Entry, Reason: "entry block must have no predecessors",
		})
	}
	for id, b := range fn.CFG.Blocks {
		for _, succ := range b.Successors() {
			target := fn.CFG.Block(succ)
			if target == nil {
				report.Errors = append(report.Errors, &ValidationError{
					Kind: InvalidControlFlow, Block: id, Reason: fmt.Sprintf("missing successor %s", succ),
				})
				continue
			}
			if _, ok := target.Preds[id]; !ok {
				report.Errors = append(report.Errors, &ValidationError{
					Kind: InvalidControlFlow, Block: id, Reason: fmt.Sprintf("CFG bidirectionality broken: %s not in preds of %s", id, succ),
				})
			}
		}
		for pred := range b.Preds {
			predBlock := fn.CFG.Block(pred)
			if predBlock == nil {
				continue
			}
			found := false
			for _, s := range predBlock.Successors() {
				if s == id {
					found = true
					break
				}
			}
			if !found {
				report.Errors = append(report.Errors, &ValidationError{
					Kind: InvalidControlFlow, Block: id, Reason: fmt.Sprintf("%s recorded as predecessor but does not branch here", pred),
				})
			}
		}
	}
}

// collectDefSites enumerates every RegId's single defining instruction
// location, reporting MultipleDefinitions on any violation.
func collectDefSites(fn *ir.Function, report *Report) map[ir.RegId]ir.BlockId {
	defSite := make(map[ir.RegId]ir.BlockId)
	note := func(reg ir.RegId, block ir.BlockId) {
		if !reg.IsValid() {
			return
		}
		if _, seen := defSite[reg]; seen {
			report.Errors = append(report.Errors, &ValidationError{
				Kind: MultipleDefinitions, Reg: reg, Reason: "register defined more than once",
			})
			return
		}
		defSite[reg] = block
	}
	// Parameters are defined on entry to the function.
	for _, p := range fn.Sig.Params {
		note(p.Reg, fn.CFG.Entry)
	}
	for id, b := range fn.CFG.Blocks {
		for _, phi := range b.Phis {
			note(phi.DestReg, id)
		}
		for _, instr := range b.Instrs {
			if dest, ok := instr.Dest(); ok {
				note(dest, id)
			}
		}
	}
	return defSite
}

func validateBlocks(fn *ir.Function, defSite map[ir.RegId]ir.BlockId, report *Report) {
	tree := buildDominanceLookup(fn)
	for id, b := range fn.CFG.Blocks {
		if b.Term == nil {
			report.Errors = append(report.Errors, &ValidationError{
				Kind: MissingTerminator, Block: id, Reason: "block has no terminator",
			})
		}
		for _, phi := range b.Phis {
			validatePhi(fn, id, phi, report)
			for _, in := range phi.Incoming {
				if in.Value.IsValid() {
					checkUse(fn, in.Pred, in.Value, defSite, tree, report)
				}
			}
		}
		for _, instr := range b.Instrs {
			for _, use := range instr.Uses() {
				checkUse(fn, id, use, defSite, tree, report)
			}
		}
		if b.Term != nil {
			for _, use := range b.Term.Uses() {
				checkUse(fn, id, use, defSite, tree, report)
			}
		}
	}
}

func validatePhi(fn *ir.Function, block ir.BlockId, phi *ir.Phi, report *Report) {
	b := fn.CFG.Block(block)
	seen := make(map[ir.BlockId]bool)
	for _, in := range phi.Incoming {
		if _, isPred := b.Preds[in.Pred]; !isPred {
			report.Errors = append(report.Errors, &ValidationError{
				Kind: InvalidPhiNode, Reg: phi.DestReg, Block: block,
				Reason: fmt.Sprintf("incoming edge from non-predecessor %s", in.Pred),
			})
			continue
		}
		if seen[in.Pred] {
			report.Errors = append(report.Errors, &ValidationError{
				Kind: InvalidPhiNode, Reg: phi.DestReg, Block: block,
				Reason: fmt.Sprintf("duplicate incoming entry for predecessor %s", in.Pred),
			})
		}
		seen[in.Pred] = true
	}
	for pred := range b.Preds {
		if !seen[pred] {
			report.Errors = append(report.Errors, &ValidationError{
				Kind: InvalidPhiNode, Reg: phi.DestReg, Block: block,
				Reason: fmt.Sprintf("missing incoming entry for predecessor %s", pred),
			})
		}
	}
}

// domLookup is the minimal dominance query validate needs: "does def's
// block dominate use's block", computed locally to avoid a hard
// dependency from validate -> dominance (the dominance package already
// depends on ir; validate stays a leaf consumer of ir only).
type domLookup struct {
	rpoIndex map[ir.BlockId]int
	idom     map[ir.BlockId]ir.BlockId
	entry    ir.BlockId
}

func buildDominanceLookup(fn *ir.Function) *domLookup {
	rpo := fn.CFG.ReversePostorder()
	rpoIndex := make(map[ir.BlockId]int, len(rpo))
	for i, b := range rpo {
		rpoIndex[b] = i
	}
	idom := make(map[ir.BlockId]ir.BlockId, len(rpo))
	entry := fn.CFG.Entry
	idom[entry] = entry
	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == entry {
				continue
			}
			block := fn.CFG.Block(b)
			var newIdom ir.BlockId
			have := false
			for pred := range block.Preds {
				if _, ok := idom[pred]; !ok {
					continue
				}
				if !have {
					newIdom = pred
					have = true
					continue
				}
				a, bb := newIdom, pred
				for a != bb {
					for rpoIndex[a] > rpoIndex[bb] {
						a = idom[a]
					}
					for rpoIndex[bb] > rpoIndex[a] {
						bb = idom[bb]
					}
				}
				newIdom = a
			}
			if have {
				if prev, ok := idom[b]; !ok || prev != newIdom {
					idom[b] = newIdom
					changed = true
				}
			}
		}
	}
	return &domLookup{rpoIndex: rpoIndex, idom: idom, entry: entry}
}

func (d *domLookup) dominates(a, b ir.BlockId) bool {
	cur := b
	for {
		if cur == a {
			return true
		}
		next, ok := d.idom[cur]
		if !ok || next == cur {
			return cur == a
		}
		cur = next
	}
}

func checkUse(fn *ir.Function, useBlock ir.BlockId, reg ir.RegId, defSite map[ir.RegId]ir.BlockId, tree *domLookup, report *Report) {
	defBlock, ok := defSite[reg]
	if !ok {
		report.Errors = append(report.Errors, &ValidationError{
			Kind: UseBeforeDefine, Reg: reg, Block: useBlock, Reason: "use of a register with no reaching definition",
		})
		return
	}
	if !tree.dominates(defBlock, useBlock) && defBlock != useBlock {
		report.Errors = append(report.Errors, &ValidationError{
			Kind: InvalidSSA, Reg: reg, Block: useBlock,
			Reason: fmt.Sprintf("definition in %s does not dominate use in %s", defBlock, useBlock),
		})
	}
}

func recordUnreachable(fn *ir.Function, report *Report) {
	for id, b := range fn.CFG.Blocks {
		if !b.Meta.Reachable {
			report.Errors = append(report.Errors, &ValidationError{
				Kind: UnreachableCode, Block: id, Reason: "block is not reachable from the entry",
			})
		}
	}
}

func validateReturns(fn *ir.Function, report *Report) {
	for id, b := range fn.CFG.Blocks {
		ret, ok := b.Term.(ir.Return)
		if !ok {
			continue
		}
		_, isVoid := fn.Sig.ReturnType.(ir.TVoid)
		if isVoid && ret.Value.IsValid() {
			report.Errors = append(report.Errors, &ValidationError{
				Kind: SignatureMismatch, Block: id, Reason: "returning a value from a void function",
			})
		}
		if !isVoid && !ret.Value.IsValid() {
			report.Errors = append(report.Errors, &ValidationError{
				Kind: SignatureMismatch, Block: id, Reason: "missing return value for non-void function",
			})
		}
	}
}
