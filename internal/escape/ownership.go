package escape

import "jitcore/internal/ir"

// OwnershipKind is the per-variable ownership state tracked for borrow/
// move diagnostics — the JIT does not itself enforce these; they are
// diagnostic outputs only.
type OwnershipKind int

const (
	Owned OwnershipKind = iota
	Borrowed
	BorrowedMut
	Shared
	Moved
	Unknown
)

// BorrowEdge records one borrow relationship.
type BorrowEdge struct {
	ID        ir.BorrowEdgeId
	Borrower  ir.SsaVarId
	Borrowed  ir.SsaVarId
	Kind      OwnershipKind
	Scope     ir.ScopeId
	Lifetime  ir.LifetimeId
}

// MoveEdge records one move relationship. Dest is absent (zero value)
// for a move into an opaque sink (e.g. passed by value into a call).
type MoveEdge struct {
	ID     ir.MoveEdgeId
	Source ir.SsaVarId
	Dest   ir.SsaVarId
	HasDest bool
	Kind   OwnershipKind
}

// OutlivesConstraint records that Longer's lifetime must outlive
// Shorter's, emitted whenever a borrow is recorded.
type OutlivesConstraint struct {
	Longer  ir.LifetimeId
	Shorter ir.LifetimeId
}

// Violation is one statically detectable ownership error.
type Violation struct {
	Kind    ViolationKind
	Subject ir.SsaVarId
	Detail  string
}

// ViolationKind enumerates the borrow/move violations this graph detects.
type ViolationKind int

const (
	ViolationAliasing ViolationKind = iota
	ViolationUseAfterMove
	ViolationDanglingReference
	ViolationDropWhileBorrowed
	ViolationDoubleMove
)

// Graph tracks ownership state, borrow/move edges, and detects
// violations for one function. It never panics on malformed input —
// every failure mode surfaces as a Violation or is ignored, since an
// internal analysis error should never take down the compiler thread.
type Graph struct {
	state    map[ir.SsaVarId]OwnershipKind
	borrows  []BorrowEdge
	moves    []MoveEdge
	outlives []OutlivesConstraint

	activeBorrows map[ir.SsaVarId][]BorrowEdge // currently-live borrows of a variable
	nextBorrow    uint32
	nextMove      uint32

	violations []Violation
}

// NewGraph creates an empty ownership graph.
func NewGraph() *Graph {
	return &Graph{
		state:         make(map[ir.SsaVarId]OwnershipKind),
		activeBorrows: make(map[ir.SsaVarId][]BorrowEdge),
	}
}

// Kind returns the current ownership state of v (Owned if unseen).
func (g *Graph) Kind(v ir.SsaVarId) OwnershipKind {
	if k, ok := g.state[v]; ok {
		return k
	}
	return Owned
}

// AddBorrow records borrower borrowing borrowed, flips the borrower's
// kind to match, and emits an outlives constraint whose Longer and
// Shorter sides are both the borrow's own lifetime; the graph keeps no
// lifetime for the borrowed variable, so the constraint does not relate
// the borrowed value to the borrow.
// If the request conflicts with an existing mutable/immutable borrow
// of the same variable, a ViolationAliasing is recorded and the borrow
// is still added (diagnostic, non-blocking).
func (g *Graph) AddBorrow(borrower, borrowed ir.SsaVarId, kind OwnershipKind, scope ir.ScopeId, lifetime ir.LifetimeId) BorrowEdge {
	if g.Kind(borrowed) == Moved {
		g.violations = append(g.violations, Violation{Kind: ViolationUseAfterMove, Subject: borrowed, Detail: "borrow of moved value"})
	}
	for _, active := range g.activeBorrows[borrowed] {
		conflicts := (active.Kind == BorrowedMut) != (kind == BorrowedMut) || (active.Kind == BorrowedMut && kind == BorrowedMut)
		if conflicts {
			g.violations = append(g.violations, Violation{Kind: ViolationAliasing, Subject: borrowed, Detail: "mutable/immutable borrow overlap"})
			break
		}
	}

	edge := BorrowEdge{
		ID:       ir.BorrowEdgeId(g.nextBorrow),
		Borrower: borrower,
		Borrowed: borrowed,
		Kind:     kind,
		Scope:    scope,
		Lifetime: lifetime,
	}
	g.nextBorrow++
	g.borrows = append(g.borrows, edge)
	g.activeBorrows[borrowed] = append(g.activeBorrows[borrowed], edge)
	g.state[borrower] = kind
	g.outlives = append(g.outlives, OutlivesConstraint{Longer: lifetime, Shorter: lifetime})
	return edge
}

// EndBorrow removes an active borrow once its scope closes. If
// `borrowed` is dropped while a borrow remains active (i.e. EndBorrow
// for that edge is never called before a drop is recorded), DropVar
// below reports ViolationDropWhileBorrowed.
func (g *Graph) EndBorrow(edge BorrowEdge) {
	active := g.activeBorrows[edge.Borrowed]
	for i, a := range active {
		if a.ID == edge.ID {
			g.activeBorrows[edge.Borrowed] = append(active[:i], active[i+1:]...)
			break
		}
	}
}

// AddMove records source moving into dest (or into an opaque sink if
// hasDest is false) and marks source as Moved. A move of an
// already-moved source is a ViolationDoubleMove.
func (g *Graph) AddMove(source, dest ir.SsaVarId, hasDest bool, kind OwnershipKind) MoveEdge {
	if g.Kind(source) == Moved {
		g.violations = append(g.violations, Violation{Kind: ViolationDoubleMove, Subject: source, Detail: "value moved twice"})
	}
	edge := MoveEdge{ID: ir.MoveEdgeId(g.nextMove), Source: source, Dest: dest, HasDest: hasDest, Kind: kind}
	g.nextMove++
	g.moves = append(g.moves, edge)
	g.state[source] = Moved
	if hasDest {
		g.state[dest] = Owned
	}
	return edge
}

// UseAfterMove checks whether using v now would violate use-after-move,
// recording and returning the violation if so.
func (g *Graph) UseAfterMove(v ir.SsaVarId) bool {
	if g.Kind(v) == Moved {
		g.violations = append(g.violations, Violation{Kind: ViolationUseAfterMove, Subject: v, Detail: "use after move"})
		return true
	}
	return false
}

// DropVar records that v's scope has ended. If v still has active
// borrows, this is ViolationDropWhileBorrowed.
func (g *Graph) DropVar(v ir.SsaVarId) {
	if len(g.activeBorrows[v]) > 0 {
		g.violations = append(g.violations, Violation{Kind: ViolationDropWhileBorrowed, Subject: v, Detail: "dropped while borrowed"})
	}
}

// CheckDangling records a ViolationDanglingReference for v when
// elapsed is true; the recorded outlives constraints are not
// consulted. This module does not model program-point ordering itself;
// callers supply the already-computed elapsed flag from their own
// liveness pass.
func (g *Graph) CheckDangling(v ir.SsaVarId, elapsed bool) {
	if elapsed {
		g.violations = append(g.violations, Violation{Kind: ViolationDanglingReference, Subject: v, Detail: "reference used past lifetime end"})
	}
}

// Violations returns every violation recorded so far.
func (g *Graph) Violations() []Violation { return g.violations }

// Outlives returns every outlives constraint recorded so far.
func (g *Graph) Outlives() []OutlivesConstraint { return g.outlives }
