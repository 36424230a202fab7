package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Printer renders a function or module to a human-readable SSA-text
// form for diagnostics. It never round-trips; it is read-only tooling
// over an already-built IR, grounded the same way kanso's internal/ir
// printer renders its program tree.
type Printer struct {
	out    strings.Builder
	indent int
}

// NewPrinter creates an empty printer.
func NewPrinter() *Printer { return &Printer{} }

func (p *Printer) line(format string, args ...interface{}) {
	for i := 0; i < p.indent; i++ {
		p.out.WriteString("  ")
	}
	p.out.WriteString(fmt.Sprintf(format, args...))
	p.out.WriteString("\n")
}

// PrintModule renders every function in module in FunctionId order.
func PrintModule(module *Module) string {
	p := NewPrinter()
	ids := make([]FunctionId, 0, len(module.Functions))
	for id := range module.Functions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p.PrintFunction(module.Functions[id])
		p.out.WriteString("\n")
	}
	return p.out.String()
}

// PrintFunction renders one function, including its CFG in BlockId
// order (not RPO — this is diagnostic output, not a traversal).
func (p *Printer) PrintFunction(fn *Function) {
	p.line("function %s %s(%s) -> %s {", fn.ID, fn.Name, sigParams(fn.Sig), fn.Sig.ReturnType.String())
	p.indent++
	ids := make([]BlockId, 0, len(fn.CFG.Blocks))
	for id := range fn.CFG.Blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p.printBlock(fn.CFG.Blocks[id])
	}
	p.indent--
	p.line("}")
}

func sigParams(sig Signature) string {
	parts := make([]string, len(sig.Params))
	for i, param := range sig.Params {
		parts[i] = fmt.Sprintf("%s: %s", param.Reg, param.Type.String())
	}
	return strings.Join(parts, ", ")
}

func (p *Printer) printBlock(b *BasicBlock) {
	p.line("%s: // preds=%v", b.ID, b.PredList())
	p.indent++
	for _, phi := range b.Phis {
		p.line("%s", printPhi(phi))
	}
	for _, instr := range b.Instrs {
		p.line("%s", printInstr(instr))
	}
	if b.Term != nil {
		p.line("%s", printTerm(b.Term))
	}
	p.indent--
}

func printPhi(ph *Phi) string {
	parts := make([]string, len(ph.Incoming))
	for i, in := range ph.Incoming {
		parts[i] = fmt.Sprintf("[%s, %s]", in.Value, in.Pred)
	}
	return fmt.Sprintf("%s = phi %s %s", ph.DestReg, ph.Type.String(), strings.Join(parts, " "))
}

func printInstr(in Instruction) string {
	dest, hasDest := in.Dest()
	prefix := ""
	if hasDest {
		prefix = dest.String() + " = "
	}
	switch v := in.(type) {
	case *Const:
		return prefix + "const " + v.Value.String()
	case *Copy:
		return prefix + "copy " + v.Src.String()
	case *UndefInstr:
		return prefix + "undef " + v.Type.String()
	case *Alloc:
		if v.Count.IsValid() {
			return prefix + fmt.Sprintf("alloc %s, count=%s", v.Type.String(), v.Count)
		}
		return prefix + "alloc " + v.Type.String()
	case *Free:
		return "free " + v.Ptr.String()
	case *Load:
		return prefix + fmt.Sprintf("load %s, %s", v.Type.String(), v.Ptr)
	case *Store:
		return fmt.Sprintf("store %s -> %s", v.Value, v.Ptr)
	case *GetElementPtr:
		return prefix + fmt.Sprintf("gep %s%s", v.Ptr, printIndices(v.Indices))
	case *MemCopy:
		return fmt.Sprintf("memcopy %s <- %s, %s", v.DestPtr, v.SrcPtr, v.Size)
	case *BinOp:
		return prefix + fmt.Sprintf("binop(%d) %s, %s", v.Op, v.L, v.R)
	case *UnOp:
		return prefix + fmt.Sprintf("unop(%d) %s", v.Op, v.X)
	case *Cmp:
		return prefix + fmt.Sprintf("cmp(%d) %s, %s", v.Op, v.L, v.R)
	case *Cast:
		return prefix + fmt.Sprintf("cast %s -> %s", v.Src, v.Type.String())
	case *BitCast:
		return prefix + fmt.Sprintf("bitcast %s -> %s", v.Src, v.Type.String())
	case *CallDirect:
		return prefix + fmt.Sprintf("call %s(%s)", v.Func, printArgs(v.Args))
	case *CallIndirect:
		return prefix + fmt.Sprintf("callind %s(%s)", v.FuncPtr, printArgs(v.Args))
	case *MakeClosure:
		return prefix + fmt.Sprintf("make_closure %s %v", v.Func, v.Captures)
	case *ClosureFunc:
		return prefix + "closure_func " + v.Closure.String()
	case *ClosureEnv:
		return prefix + "closure_env " + v.Closure.String()
	case *LoadGlobal:
		return prefix + fmt.Sprintf("load_global g%d", v.Global)
	case *StoreGlobal:
		return fmt.Sprintf("store_global g%d <- %s", v.Global, v.Value)
	case *Select:
		return prefix + fmt.Sprintf("select %s, %s, %s", v.Cond, v.IfTrue, v.IfFalse)
	case *Throw:
		return "throw " + v.Exception.String()
	default:
		return "<unknown instruction>"
	}
}

func printIndices(idx []GepIndex) string {
	var sb strings.Builder
	for _, i := range idx {
		if i.IsConst {
			sb.WriteString(fmt.Sprintf("[%d]", i.Const))
		} else {
			sb.WriteString(fmt.Sprintf("[%s]", i.IndexReg))
		}
	}
	return sb.String()
}

func printArgs(args []Arg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Reg.String()
	}
	return strings.Join(parts, ", ")
}

func printTerm(t Terminator) string {
	switch v := t.(type) {
	case Branch:
		return "br " + v.Target.String()
	case CondBranch:
		return fmt.Sprintf("condbr %s, %s, %s", v.Cond, v.TrueTarget, v.FalseTarget)
	case Switch:
		return fmt.Sprintf("switch %s, default=%s, cases=%d", v.Value, v.Default, len(v.Cases))
	case Return:
		if v.Value.IsValid() {
			return "ret " + v.Value.String()
		}
		return "ret void"
	case ThrowTerm:
		return "throw " + v.Exception.String()
	case Unreachable:
		return "unreachable"
	default:
		return "<unknown terminator>"
	}
}
