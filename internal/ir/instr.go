package ir

// SourceLoc attaches a source-language location to an instruction or
// block for diagnostics; it is the only debug-info this IR tracks.
type SourceLoc struct {
	File   string
	Line   int
	Column int
}

// BinOpKind enumerates BinOp operators.
type BinOpKind int

const (
	BAdd BinOpKind = iota
	BSub
	BMul
	BDiv
	BRem
	BAnd
	BOr
	BXor
	BShl
	BShr
	BFAdd
	BFSub
	BFMul
	BFDiv
	BFRem
)

// UnOpKind enumerates UnOp operators.
type UnOpKind int

const (
	UNeg UnOpKind = iota
	UNot
	UFNeg
)

// CmpOpKind enumerates Cmp operators; all produce TBool.
type CmpOpKind int

const (
	CEq CmpOpKind = iota
	CNe
	CLt
	CLe
	CGt
	CGe
)

// CastKind distinguishes numeric conversion semantics from raw
// reinterpretation (BitCast is a separate instruction entirely).
type CastKind int

const (
	CastIntToInt CastKind = iota
	CastIntToFloat
	CastFloatToInt
	CastFloatToFloat
	CastIntToBool
	CastPtrToPtr
)

// OwnershipMode tags a call argument or parameter with how the callee
// may use the passed value; consumed by escape analysis.
type OwnershipMode int

const (
	OwnBorrow OwnershipMode = iota
	OwnMove
	OwnCopy
)

// Instruction is the closed set of non-terminator operations. Each
// instruction either defines exactly one RegId (Dest returns ok=true)
// or none.
type Instruction interface {
	instruction()
	// Dest returns the register this instruction defines, if any.
	Dest() (RegId, bool)
	// Uses returns every register this instruction reads.
	Uses() []RegId
	Loc() SourceLoc
	SetLoc(SourceLoc)
}

type instrBase struct {
	loc SourceLoc
}

func (b *instrBase) Loc() SourceLoc     { return b.loc }
func (b *instrBase) SetLoc(l SourceLoc) { b.loc = l }

// --- constants / copies ---

type Const struct {
	instrBase
	DestReg RegId
	Value   IrValue
}

type Copy struct {
	instrBase
	DestReg RegId
	Src     RegId
}

type UndefInstr struct {
	instrBase
	DestReg RegId
	Type    IrType
}

// --- memory ---

type Alloc struct {
	instrBase
	DestReg RegId
	Type    IrType
	Count   RegId // InvalidRegId if absent (single-object allocation)
}

type Free struct {
	instrBase
	Ptr RegId
}

type Load struct {
	instrBase
	DestReg RegId
	Ptr     RegId
	Type    IrType
}

type Store struct {
	instrBase
	Ptr   RegId
	Value RegId
}

type GetElementPtr struct {
	instrBase
	DestReg RegId
	Ptr     RegId
	Indices []GepIndex
}

// GepIndex is either a compile-time-constant offset or a register
// holding a dynamic index; SRA only tracks the former.
type GepIndex struct {
	Const    int64
	IsConst  bool
	IndexReg RegId
}

type MemCopy struct {
	instrBase
	DestPtr RegId
	SrcPtr  RegId
	Size    RegId
}

// --- arithmetic / logic ---

type BinOp struct {
	instrBase
	DestReg RegId
	Op      BinOpKind
	L, R    RegId
}

type UnOp struct {
	instrBase
	DestReg RegId
	Op      UnOpKind
	X       RegId
}

type Cmp struct {
	instrBase
	DestReg RegId
	Op      CmpOpKind
	L, R    RegId
}

// --- conversions ---

type Cast struct {
	instrBase
	DestReg RegId
	Src     RegId
	Type    IrType
	Kind    CastKind
}

type BitCast struct {
	instrBase
	DestReg RegId
	Src     RegId
	Type    IrType
}

// --- calls ---

type Arg struct {
	Reg       RegId
	Ownership OwnershipMode
}

type CallDirect struct {
	instrBase
	DestReg RegId // InvalidRegId if the callee returns void / result unused
	Func    FunctionId
	Args    []Arg
}

type CallIndirect struct {
	instrBase
	DestReg   RegId
	FuncPtr   RegId
	Signature TFunction
	Args      []Arg
}

// --- closures ---

type MakeClosure struct {
	instrBase
	DestReg  RegId
	Func     FunctionId
	Captures []RegId
}

type ClosureFunc struct {
	instrBase
	DestReg RegId
	Closure RegId
}

type ClosureEnv struct {
	instrBase
	DestReg RegId
	Closure RegId
}

// --- globals ---

type LoadGlobal struct {
	instrBase
	DestReg RegId
	Global  SymbolId
	Type    IrType
}

type StoreGlobal struct {
	instrBase
	Global SymbolId
	Value  RegId
}

// --- block-internal control ---

type Select struct {
	instrBase
	DestReg   RegId
	Cond      RegId
	IfTrue    RegId
	IfFalse   RegId
}

// PhiIncoming is one (value, predecessor) pair of a Phi.
type PhiIncoming struct {
	Value RegId
	Pred  BlockId
}

type Phi struct {
	instrBase
	DestReg  RegId
	Type     IrType
	Incoming []PhiIncoming
}

type Throw struct {
	instrBase
	Exception RegId
}

// --- Instruction interface implementations ---

func (*Const) instruction()          {}
func (*Copy) instruction()           {}
func (*UndefInstr) instruction()     {}
func (*Alloc) instruction()          {}
func (*Free) instruction()           {}
func (*Load) instruction()           {}
func (*Store) instruction()          {}
func (*GetElementPtr) instruction()  {}
func (*MemCopy) instruction()        {}
func (*BinOp) instruction()          {}
func (*UnOp) instruction()           {}
func (*Cmp) instruction()            {}
func (*Cast) instruction()           {}
func (*BitCast) instruction()        {}
func (*CallDirect) instruction()     {}
func (*CallIndirect) instruction()   {}
func (*MakeClosure) instruction()    {}
func (*ClosureFunc) instruction()    {}
func (*ClosureEnv) instruction()     {}
func (*LoadGlobal) instruction()     {}
func (*StoreGlobal) instruction()    {}
func (*Select) instruction()         {}
func (*Phi) instruction()            {}
func (*Throw) instruction()          {}

func (i *Const) Dest() (RegId, bool)         { return i.DestReg, true }
func (i *Copy) Dest() (RegId, bool)          { return i.DestReg, true }
func (i *UndefInstr) Dest() (RegId, bool)    { return i.DestReg, true }
func (i *Alloc) Dest() (RegId, bool)         { return i.DestReg, true }
func (i *Free) Dest() (RegId, bool)          { return InvalidRegId, false }
func (i *Load) Dest() (RegId, bool)          { return i.DestReg, true }
func (i *Store) Dest() (RegId, bool)         { return InvalidRegId, false }
func (i *GetElementPtr) Dest() (RegId, bool) { return i.DestReg, true }
func (i *MemCopy) Dest() (RegId, bool)       { return InvalidRegId, false }
func (i *BinOp) Dest() (RegId, bool)         { return i.DestReg, true }
func (i *UnOp) Dest() (RegId, bool)          { return i.DestReg, true }
func (i *Cmp) Dest() (RegId, bool)           { return i.DestReg, true }
func (i *Cast) Dest() (RegId, bool)          { return i.DestReg, true }
func (i *BitCast) Dest() (RegId, bool)       { return i.DestReg, true }
func (i *CallDirect) Dest() (RegId, bool)    { return i.DestReg, i.DestReg.IsValid() }
func (i *CallIndirect) Dest() (RegId, bool)  { return i.DestReg, i.DestReg.IsValid() }
func (i *MakeClosure) Dest() (RegId, bool)   { return i.DestReg, true }
func (i *ClosureFunc) Dest() (RegId, bool)   { return i.DestReg, true }
func (i *ClosureEnv) Dest() (RegId, bool)    { return i.DestReg, true }
func (i *LoadGlobal) Dest() (RegId, bool)    { return i.DestReg, true }
func (i *StoreGlobal) Dest() (RegId, bool)   { return InvalidRegId, false }
func (i *Select) Dest() (RegId, bool)        { return i.DestReg, true }
func (i *Phi) Dest() (RegId, bool)           { return i.DestReg, true }
func (i *Throw) Dest() (RegId, bool)         { return InvalidRegId, false }

func validRegs(regs ...RegId) []RegId {
	out := make([]RegId, 0, len(regs))
	for _, r := range regs {
		if r.IsValid() {
			out = append(out, r)
		}
	}
	return out
}

func (i *Const) Uses() []RegId         { return nil }
func (i *Copy) Uses() []RegId          { return validRegs(i.Src) }
func (i *UndefInstr) Uses() []RegId    { return nil }
func (i *Alloc) Uses() []RegId         { return validRegs(i.Count) }
func (i *Free) Uses() []RegId          { return validRegs(i.Ptr) }
func (i *Load) Uses() []RegId          { return validRegs(i.Ptr) }
func (i *Store) Uses() []RegId         { return validRegs(i.Ptr, i.Value) }
func (i *GetElementPtr) Uses() []RegId {
	regs := []RegId{i.Ptr}
	for _, idx := range i.Indices {
		if !idx.IsConst {
			regs = append(regs, idx.IndexReg)
		}
	}
	return validRegs(regs...)
}
func (i *MemCopy) Uses() []RegId { return validRegs(i.DestPtr, i.SrcPtr, i.Size) }
func (i *BinOp) Uses() []RegId   { return validRegs(i.L, i.R) }
func (i *UnOp) Uses() []RegId    { return validRegs(i.X) }
func (i *Cmp) Uses() []RegId     { return validRegs(i.L, i.R) }
func (i *Cast) Uses() []RegId    { return validRegs(i.Src) }
func (i *BitCast) Uses() []RegId { return validRegs(i.Src) }
func (i *CallDirect) Uses() []RegId {
	regs := make([]RegId, len(i.Args))
	for j, a := range i.Args {
		regs[j] = a.Reg
	}
	return validRegs(regs...)
}
func (i *CallIndirect) Uses() []RegId {
	regs := []RegId{i.FuncPtr}
	for _, a := range i.Args {
		regs = append(regs, a.Reg)
	}
	return validRegs(regs...)
}
func (i *MakeClosure) Uses() []RegId { return validRegs(i.Captures...) }
func (i *ClosureFunc) Uses() []RegId { return validRegs(i.Closure) }
func (i *ClosureEnv) Uses() []RegId  { return validRegs(i.Closure) }
func (i *LoadGlobal) Uses() []RegId  { return nil }
func (i *StoreGlobal) Uses() []RegId { return validRegs(i.Value) }
func (i *Select) Uses() []RegId      { return validRegs(i.Cond, i.IfTrue, i.IfFalse) }
func (i *Phi) Uses() []RegId {
	regs := make([]RegId, len(i.Incoming))
	for j, in := range i.Incoming {
		regs[j] = in.Value
	}
	return validRegs(regs...)
}
func (i *Throw) Uses() []RegId { return validRegs(i.Exception) }

// Terminator ends every basic block. It is the only instruction kind
// allowed to transfer control between blocks.
type Terminator interface {
	terminator()
	// Successors returns the block targets this terminator may jump to,
	// in a stable order.
	Successors() []BlockId
	Uses() []RegId
}

type Branch struct{ Target BlockId }

type CondBranch struct {
	Cond             RegId
	TrueTarget       BlockId
	FalseTarget      BlockId
}

type SwitchCase struct {
	Value   IrValue
	Target  BlockId
}

type Switch struct {
	Value   RegId
	Cases   []SwitchCase
	Default BlockId
}

type Return struct {
	Value RegId // InvalidRegId for void returns
}

type ThrowTerm struct{ Exception RegId }

type Unreachable struct{}

func (Branch) terminator()     {}
func (CondBranch) terminator() {}
func (Switch) terminator()     {}
func (Return) terminator()     {}
func (ThrowTerm) terminator()  {}
func (Unreachable) terminator() {}

func (t Branch) Successors() []BlockId     { return []BlockId{t.Target} }
func (t CondBranch) Successors() []BlockId { return []BlockId{t.TrueTarget, t.FalseTarget} }
func (t Switch) Successors() []BlockId {
	out := make([]BlockId, 0, len(t.Cases)+1)
	for _, c := range t.Cases {
		out = append(out, c.Target)
	}
	return append(out, t.Default)
}
func (t Return) Successors() []BlockId      { return nil }
func (t ThrowTerm) Successors() []BlockId   { return nil }
func (t Unreachable) Successors() []BlockId { return nil }

func (t Branch) Uses() []RegId      { return nil }
func (t CondBranch) Uses() []RegId  { return validRegs(t.Cond) }
func (t Switch) Uses() []RegId      { return validRegs(t.Value) }
func (t Return) Uses() []RegId      { return validRegs(t.Value) }
func (t ThrowTerm) Uses() []RegId   { return validRegs(t.Exception) }
func (t Unreachable) Uses() []RegId { return nil }
