package ir

// Builder provides the only supported mutation path for constructing
// IR: it opens a function, tracks an insertion cursor block, and
// appends instructions to it. Every constructor returns a fresh RegId
// (or nothing, for instructions with no destination) and appends to
// the current block. Only BuildBranch/BuildCondBranch/BuildSwitch/
// BuildReturn/BuildThrow/BuildUnreachable may set a block's terminator.
type Builder struct {
	module  *Module
	fn      *Function
	current BlockId
}

// NewBuilder creates a builder targeting module.
func NewBuilder(module *Module) *Builder {
	return &Builder{module: module, current: InvalidBlockId}
}

// StartFunction opens a new function under construction. sym is the
// external type checker's SymbolId for this function (kept for cross-
// referencing diagnostics; not otherwise interpreted by the IR).
func (b *Builder) StartFunction(sym SymbolId, name string, sig Signature) FunctionId {
	id := NextFunctionId()
	b.fn = newFunction(id, name, sig)
	_ = sym
	entry := b.fn.NewBlock()
	b.fn.CFG.Entry = entry.ID
	b.current = entry.ID
	return id
}

// FinishFunction seals the function under construction and installs it
// into the module, returning its ID.
func (b *Builder) FinishFunction() FunctionId {
	id := b.fn.ID
	b.module.Functions[id] = b.fn
	b.fn = nil
	b.current = InvalidBlockId
	return id
}

// CurrentFunction returns the function presently under construction.
func (b *Builder) CurrentFunction() *Function { return b.fn }

// CreateBlock allocates a fresh, empty block in the current function
// without switching the insertion cursor to it.
func (b *Builder) CreateBlock() BlockId {
	return b.fn.NewBlock().ID
}

// SwitchToBlock makes id the insertion cursor for subsequent
// instruction constructors.
func (b *Builder) SwitchToBlock(id BlockId) { b.current = id }

// CurrentBlock returns the insertion cursor's BlockId.
func (b *Builder) CurrentBlock() BlockId { return b.current }

func (b *Builder) block() *BasicBlock { return b.fn.CFG.Block(b.current) }

func (b *Builder) append(instr Instruction) {
	b.block().Instrs = append(b.block().Instrs, instr)
}

// --- constant / copy constructors ---

func (b *Builder) BuildConst(v IrValue) RegId {
	dest := b.fn.NewReg()
	b.append(&Const{DestReg: dest, Value: v})
	return dest
}

func (b *Builder) BuildCopy(src RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&Copy{DestReg: dest, Src: src})
	return dest
}

func (b *Builder) BuildUndef(ty IrType) RegId {
	dest := b.fn.NewReg()
	b.append(&UndefInstr{DestReg: dest, Type: ty})
	return dest
}

// --- memory ---

func (b *Builder) BuildAlloc(ty IrType, count RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&Alloc{DestReg: dest, Type: ty, Count: count})
	return dest
}

func (b *Builder) BuildFree(ptr RegId) { b.append(&Free{Ptr: ptr}) }

func (b *Builder) BuildLoad(ptr RegId, ty IrType) RegId {
	dest := b.fn.NewReg()
	b.append(&Load{DestReg: dest, Ptr: ptr, Type: ty})
	return dest
}

func (b *Builder) BuildStore(ptr, value RegId) {
	b.append(&Store{Ptr: ptr, Value: value})
}

func (b *Builder) BuildGEP(ptr RegId, indices []GepIndex) RegId {
	dest := b.fn.NewReg()
	b.append(&GetElementPtr{DestReg: dest, Ptr: ptr, Indices: indices})
	return dest
}

// BuildGEPConst is a convenience for the common case of a single
// compile-time-constant flat offset, which is all SRA ever tracks.
func (b *Builder) BuildGEPConst(ptr RegId, offset int64) RegId {
	return b.BuildGEP(ptr, []GepIndex{{Const: offset, IsConst: true}})
}

func (b *Builder) BuildMemCopy(dst, src, size RegId) RegId {
	// MemCopy has no destination register; DestPtr mirrors dst for
	// convenience but Dest() still reports none.
	b.append(&MemCopy{DestPtr: dst, SrcPtr: src, Size: size})
	return dst
}

// --- arithmetic / logic ---

func (b *Builder) BuildBinOp(op BinOpKind, l, r RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&BinOp{DestReg: dest, Op: op, L: l, R: r})
	return dest
}

func (b *Builder) BuildUnOp(op UnOpKind, x RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&UnOp{DestReg: dest, Op: op, X: x})
	return dest
}

func (b *Builder) BuildCmp(op CmpOpKind, l, r RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&Cmp{DestReg: dest, Op: op, L: l, R: r})
	return dest
}

// --- conversions ---

func (b *Builder) BuildCast(src RegId, ty IrType, kind CastKind) RegId {
	dest := b.fn.NewReg()
	b.append(&Cast{DestReg: dest, Src: src, Type: ty, Kind: kind})
	return dest
}

func (b *Builder) BuildBitCast(src RegId, ty IrType) RegId {
	dest := b.fn.NewReg()
	b.append(&BitCast{DestReg: dest, Src: src, Type: ty})
	return dest
}

// --- calls ---

func (b *Builder) BuildCallDirect(fn FunctionId, args []Arg, hasResult bool) RegId {
	dest := InvalidRegId
	if hasResult {
		dest = b.fn.NewReg()
	}
	b.append(&CallDirect{DestReg: dest, Func: fn, Args: args})
	return dest
}

func (b *Builder) BuildCallIndirect(funcPtr RegId, sig TFunction, args []Arg, hasResult bool) RegId {
	dest := InvalidRegId
	if hasResult {
		dest = b.fn.NewReg()
	}
	b.append(&CallIndirect{DestReg: dest, FuncPtr: funcPtr, Signature: sig, Args: args})
	return dest
}

// --- closures ---

func (b *Builder) BuildMakeClosure(fn FunctionId, captures []RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&MakeClosure{DestReg: dest, Func: fn, Captures: captures})
	return dest
}

func (b *Builder) BuildClosureFunc(closure RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&ClosureFunc{DestReg: dest, Closure: closure})
	return dest
}

func (b *Builder) BuildClosureEnv(closure RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&ClosureEnv{DestReg: dest, Closure: closure})
	return dest
}

// --- globals ---

func (b *Builder) BuildLoadGlobal(g SymbolId, ty IrType) RegId {
	dest := b.fn.NewReg()
	b.append(&LoadGlobal{DestReg: dest, Global: g, Type: ty})
	return dest
}

func (b *Builder) BuildStoreGlobal(g SymbolId, value RegId) {
	b.append(&StoreGlobal{Global: g, Value: value})
}

// --- block-internal control ---

func (b *Builder) BuildSelect(cond, ifTrue, ifFalse RegId) RegId {
	dest := b.fn.NewReg()
	b.append(&Select{DestReg: dest, Cond: cond, IfTrue: ifTrue, IfFalse: ifFalse})
	return dest
}

// BuildPhi appends a phi to the target block's phi list (not its
// instruction list), preserving the "phis precede instructions"
// invariant by construction.
func (b *Builder) BuildPhi(block BlockId, ty IrType, incoming []PhiIncoming) RegId {
	dest := b.fn.NewReg()
	bb := b.fn.CFG.Block(block)
	bb.Phis = append(bb.Phis, &Phi{DestReg: dest, Type: ty, Incoming: incoming})
	return dest
}

// AddPhiIncoming appends one more incoming edge to an existing phi,
// used while stitching loop back-edges during construction.
func (b *Builder) AddPhiIncoming(block BlockId, phiDest RegId, value RegId, pred BlockId) {
	bb := b.fn.CFG.Block(block)
	for _, p := range bb.Phis {
		if p.DestReg == phiDest {
			p.Incoming = append(p.Incoming, PhiIncoming{Value: value, Pred: pred})
			return
		}
	}
}

func (b *Builder) BuildThrowValue(exception RegId) {
	b.append(&Throw{Exception: exception})
}

// --- terminators ---

func (b *Builder) BuildBranch(target BlockId) {
	b.fn.CFG.SetTerminator(b.current, Branch{Target: target})
}

func (b *Builder) BuildCondBranch(cond RegId, trueTarget, falseTarget BlockId) {
	b.fn.CFG.SetTerminator(b.current, CondBranch{Cond: cond, TrueTarget: trueTarget, FalseTarget: falseTarget})
}

func (b *Builder) BuildSwitch(value RegId, cases []SwitchCase, def BlockId) {
	b.fn.CFG.SetTerminator(b.current, Switch{Value: value, Cases: cases, Default: def})
}

func (b *Builder) BuildReturn(value RegId) {
	b.fn.CFG.SetTerminator(b.current, Return{Value: value})
}

func (b *Builder) BuildThrow(exception RegId) {
	b.fn.CFG.SetTerminator(b.current, ThrowTerm{Exception: exception})
}

func (b *Builder) BuildUnreachable() {
	b.fn.CFG.SetTerminator(b.current, Unreachable{})
}

// UpdateBlockTerminator replaces block's terminator, applying the CFG
// bidirectionality fix-up CFG.SetTerminator performs. This is the
// mutation path optimization passes use once a function is already
// sealed.
func UpdateBlockTerminator(fn *Function, block BlockId, newTerm Terminator) {
	fn.CFG.SetTerminator(block, newTerm)
}
