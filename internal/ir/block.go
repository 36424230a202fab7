package ir

// BlockMetadata carries analysis-derived, mutable facts about a block
// that downstream passes annotate in place.
type BlockMetadata struct {
	Reachable      bool
	IsLoopHeader   bool
	LoopDepth      int
	ExceptionLands []BlockId
}

// BasicBlock holds an ordered phi list, ordered instructions, exactly
// one terminator, and the predecessor/successor sets the CFG keeps
// bidirectionally consistent.
type BasicBlock struct {
	ID           BlockId
	Phis         []*Phi
	Instrs       []Instruction
	Term         Terminator
	Preds        map[BlockId]struct{}
	Loc          SourceLoc
	Meta         BlockMetadata
}

func newBasicBlock(id BlockId) *BasicBlock {
	return &BasicBlock{
		ID:    id,
		Preds: make(map[BlockId]struct{}),
		Meta:  BlockMetadata{Reachable: true},
	}
}

// Successors derives the successor list from the current terminator;
// CFG never stores successors separately, so a terminator change is
// always the single source of truth for a block's outgoing edges.
func (b *BasicBlock) Successors() []BlockId {
	if b.Term == nil {
		return nil
	}
	return b.Term.Successors()
}

// PredList returns the predecessor set as a slice in unspecified order.
func (b *BasicBlock) PredList() []BlockId {
	out := make([]BlockId, 0, len(b.Preds))
	for p := range b.Preds {
		out = append(out, p)
	}
	return out
}

// AllInstructions yields phis first, then ordinary instructions, in
// the invariant order every consumer relies on: all phis must precede
// any non-phi instruction.
func (b *BasicBlock) AllInstructions() []Instruction {
	out := make([]Instruction, 0, len(b.Phis)+len(b.Instrs))
	for _, p := range b.Phis {
		out = append(out, p)
	}
	out = append(out, b.Instrs...)
	return out
}

// CFG is a function's basic-block graph: BlockId -> *BasicBlock, plus
// the designated entry block.
type CFG struct {
	Blocks map[BlockId]*BasicBlock
	Entry  BlockId
}

func newCFG() *CFG {
	return &CFG{Blocks: make(map[BlockId]*BasicBlock)}
}

// Block looks up a block by ID, nil if absent.
func (c *CFG) Block(id BlockId) *BasicBlock { return c.Blocks[id] }

// addBlock inserts a freshly created block.
func (c *CFG) addBlock(b *BasicBlock) { c.Blocks[b.ID] = b }

// linkEdge records a ∈ pred(b) for the bidirectional invariant.
func (c *CFG) linkEdge(from, to BlockId) {
	if target := c.Blocks[to]; target != nil {
		target.Preds[from] = struct{}{}
	}
}

// unlinkEdge removes a ∈ pred(b).
func (c *CFG) unlinkEdge(from, to BlockId) {
	if target := c.Blocks[to]; target != nil {
		delete(target.Preds, from)
	}
}

// SetTerminator installs newTerm on block `from`, removing `from` from
// the predecessor sets of the old successors and adding it to the new
// ones. This is the single mutation path that may change control-flow
// edges — callers must never assign BasicBlock.Term directly once the
// block is reachable from a CFG, or CFG bidirectionality can be
// silently broken.
func (c *CFG) SetTerminator(from BlockId, newTerm Terminator) {
	block := c.Blocks[from]
	if block == nil {
		return
	}
	if block.Term != nil {
		for _, old := range block.Term.Successors() {
			c.unlinkEdge(from, old)
		}
	}
	block.Term = newTerm
	for _, next := range newTerm.Successors() {
		c.linkEdge(from, next)
	}
}

// ReversePostorder computes an iterative DFS reverse-postorder over
// the CFG from the entry block: every block appears before any block
// only reachable via a back edge into it. Used by every downstream
// analysis.
func (c *CFG) ReversePostorder() []BlockId {
	visited := make(map[BlockId]bool, len(c.Blocks))
	var postorder []BlockId

	type frame struct {
		id       BlockId
		succIdx  int
		succs    []BlockId
	}
	entry := c.Blocks[c.Entry]
	if entry == nil {
		return nil
	}
	stack := []*frame{{id: c.Entry, succs: entry.Successors()}}
	visited[c.Entry] = true

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.succIdx < len(top.succs) {
			next := top.succs[top.succIdx]
			top.succIdx++
			if !visited[next] {
				visited[next] = true
				nb := c.Blocks[next]
				var succs []BlockId
				if nb != nil {
					succs = nb.Successors()
				}
				stack = append(stack, &frame{id: next, succs: succs})
			}
			continue
		}
		postorder = append(postorder, top.id)
		stack = stack[:len(stack)-1]
	}

	rpo := make([]BlockId, len(postorder))
	for i, b := range postorder {
		rpo[len(postorder)-1-i] = b
	}
	return rpo
}

// ReachableSet returns the set of blocks reachable from the entry via
// a DFS traversal; anything absent is dead code.
func (c *CFG) ReachableSet() map[BlockId]bool {
	visited := make(map[BlockId]bool, len(c.Blocks))
	entry := c.Blocks[c.Entry]
	if entry == nil {
		return visited
	}
	stack := []BlockId{c.Entry}
	visited[c.Entry] = true
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		b := c.Blocks[id]
		if b == nil {
			continue
		}
		for _, s := range b.Successors() {
			if !visited[s] {
				visited[s] = true
				stack = append(stack, s)
			}
		}
	}
	return visited
}

// BFSFromEntry returns blocks in breadth-first order from the entry
// block, used by SRA's deterministic store/load visitation order.
func (c *CFG) BFSFromEntry() []BlockId {
	return c.BFSFrom(c.Entry)
}

// BFSFrom returns blocks in breadth-first order starting at start.
func (c *CFG) BFSFrom(start BlockId) []BlockId {
	visited := make(map[BlockId]bool, len(c.Blocks))
	var order []BlockId
	queue := []BlockId{start}
	visited[start] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		b := c.Blocks[id]
		if b == nil {
			continue
		}
		for _, s := range b.Successors() {
			if !visited[s] {
				visited[s] = true
				queue = append(queue, s)
			}
		}
	}
	return order
}

// MarkUnreachable annotates every block not reachable from the entry
// with Meta.Reachable = false, leaving reachable blocks untouched.
func (c *CFG) MarkUnreachable() {
	reach := c.ReachableSet()
	for id, b := range c.Blocks {
		b.Meta.Reachable = reach[id]
	}
}

// CloneCFG makes a structural copy of a CFG: fresh BasicBlock values
// with copied instruction/phi slices and predecessor sets, so a
// caller that rewrites the clone (an optimization pass, say) never
// mutates the original blocks or terminators. Instruction and
// terminator values themselves are shared where unmodified, since
// Instruction payloads are treated as immutable once built.
func CloneCFG(c *CFG) *CFG {
	out := &CFG{Blocks: make(map[BlockId]*BasicBlock, len(c.Blocks)), Entry: c.Entry}
	for id, b := range c.Blocks {
		nb := &BasicBlock{
			ID:     id,
			Phis:   append([]*Phi(nil), b.Phis...),
			Instrs: append([]Instruction(nil), b.Instrs...),
			Term:   b.Term,
			Preds:  make(map[BlockId]struct{}, len(b.Preds)),
			Loc:    b.Loc,
			Meta:   b.Meta,
		}
		for p := range b.Preds {
			nb.Preds[p] = struct{}{}
		}
		out.Blocks[id] = nb
	}
	return out
}
