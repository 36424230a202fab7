// Package ir implements the mid-level SSA intermediate representation:
// typed registers, basic blocks with terminators, phi nodes, typed
// instructions, and the function/module containers that hold them.
package ir

import (
	"fmt"
	"math"
	"sync/atomic"
)

// invalidID is the sentinel encoding "absent" for every ID kind.
const invalidID = math.MaxUint32

// FunctionId identifies a function within a module.
type FunctionId uint32

// BlockId identifies a basic block within a function's CFG.
type BlockId uint32

// RegId identifies an SSA register within a function.
type RegId uint32

// SymbolId identifies a symbol produced by the external type checker.
type SymbolId uint32

// TypeId identifies a type produced by the external type checker.
type TypeId uint32

// ScopeId identifies a lexical scope, used by ownership/borrow tracking.
type ScopeId uint32

// SsaVarId identifies a source-level variable mapped onto SSA registers.
type SsaVarId uint32

// DfNodeId identifies a node in a function's data-flow graph.
type DfNodeId uint32

// LifetimeId identifies a borrow/move lifetime region.
type LifetimeId uint32

// BorrowEdgeId identifies a recorded borrow edge.
type BorrowEdgeId uint32

// MoveEdgeId identifies a recorded move edge.
type MoveEdgeId uint32

// InvalidFunctionId is the sentinel absent FunctionId.
const InvalidFunctionId = FunctionId(invalidID)

// InvalidBlockId is the sentinel absent BlockId.
const InvalidBlockId = BlockId(invalidID)

// InvalidRegId is the sentinel absent RegId.
const InvalidRegId = RegId(invalidID)

// InvalidSymbolId is the sentinel absent SymbolId.
const InvalidSymbolId = SymbolId(invalidID)

// InvalidTypeId is the sentinel absent TypeId.
const InvalidTypeId = TypeId(invalidID)

// InvalidScopeId is the sentinel absent ScopeId.
const InvalidScopeId = ScopeId(invalidID)

// InvalidDfNodeId is the sentinel absent DfNodeId.
const InvalidDfNodeId = DfNodeId(invalidID)

func (id FunctionId) IsValid() bool { return id != InvalidFunctionId }
func (id BlockId) IsValid() bool    { return id != InvalidBlockId }
func (id RegId) IsValid() bool      { return id != InvalidRegId }
func (id SymbolId) IsValid() bool   { return id != InvalidSymbolId }
func (id TypeId) IsValid() bool     { return id != InvalidTypeId }
func (id ScopeId) IsValid() bool    { return id != InvalidScopeId }
func (id DfNodeId) IsValid() bool   { return id != InvalidDfNodeId }

func (id FunctionId) String() string { return fmt.Sprintf("fn%d", uint32(id)) }
func (id BlockId) String() string    { return fmt.Sprintf("bb%d", uint32(id)) }
func (id RegId) String() string      { return fmt.Sprintf("%%%d", uint32(id)) }

// idGenerator is a thread-safe, monotonically increasing per-kind ID
// source. Wraparound is fatal: a 32-bit counter is not expected to be
// exhausted within a process lifetime, and silently wrapping would
// alias two live IDs.
type idGenerator struct {
	next uint32
}

func (g *idGenerator) alloc(kind string) uint32 {
	v := atomic.AddUint32(&g.next, 1) - 1
	if v == invalidID {
		panic(fmt.Sprintf("ir: %s id generator wrapped around", kind))
	}
	return v
}

// BlockIdGen allocates fresh BlockId values for one function.
type BlockIdGen struct{ g idGenerator }

func (b *BlockIdGen) Next() BlockId { return BlockId(b.g.alloc("BlockId")) }

// RegIdGen allocates fresh RegId values for one function.
type RegIdGen struct{ g idGenerator }

func (r *RegIdGen) Next() RegId { return RegId(r.g.alloc("RegId")) }

// FunctionIdGen allocates fresh FunctionId values process-wide, shared
// across every module built in this process — unlike Block/RegIdGen,
// which are both scoped per function.
type FunctionIdGen struct{ g idGenerator }

func (f *FunctionIdGen) Next() FunctionId { return FunctionId(f.g.alloc("FunctionId")) }

// globalFunctionIds is the process-wide FunctionId source. Modules do
// not reset it between themselves; tests that want deterministic IDs
// must avoid depending on specific numeric values and instead compare
// by identity or name.
var globalFunctionIds FunctionIdGen

// NextFunctionId returns the next process-wide FunctionId.
func NextFunctionId() FunctionId { return globalFunctionIds.Next() }
