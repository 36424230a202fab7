// Package profile implements the profiling primitives backing the
// tiered controller: an atomic per-function call counter, a shared
// configuration, and promotion predicates compared against configured
// thresholds.
package profile

import (
	"sync"
	"sync/atomic"

	"jitcore/internal/ir"
)

// Config is the shared, read-mostly threshold/sampling configuration.
// Setting any threshold to math.MaxUint64 disables that promotion.
type Config struct {
	InterpreterThreshold uint64
	WarmThreshold        uint64
	HotThreshold         uint64
	BlazingThreshold     uint64
	SampleRate           uint64
}

// DefaultConfig scales up the thresholds used in the promotion test
// scenario to believable production defaults.
func DefaultConfig() Config {
	return Config{
		InterpreterThreshold: 0,
		WarmThreshold:        10,
		HotThreshold:         100,
		BlazingThreshold:     1000,
		SampleRate:           1,
	}
}

// counter is one function's profiling state: a single atomic call
// count.
type counter struct {
	calls uint64
}

// Data is the cloneable-by-reference profile store shared between the
// foreground call path and the background worker. It is cheap to pass
// around because callers only ever hold a *Data; cloning the struct
// itself (not recommended — see Snapshot) would copy the mutex.
type Data struct {
	mu       sync.RWMutex
	counters map[ir.FunctionId]*counter
	cfg      Config
}

// NewData creates an empty profile store using cfg.
func NewData(cfg Config) *Data {
	return &Data{counters: make(map[ir.FunctionId]*counter), cfg: cfg}
}

// Config returns the store's configuration.
func (d *Data) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Data) counterFor(id ir.FunctionId) *counter {
	d.mu.RLock()
	c, ok := d.counters[id]
	d.mu.RUnlock()
	if ok {
		return c
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.counters[id]; ok {
		return c
	}
	c = &counter{}
	d.counters[id] = c
	return c
}

// RecordCall increments id's call counter using relaxed-equivalent
// atomics (Go's sync/atomic provides no weaker ordering, which is
// stronger than this needs) and returns the new count. Every call
// increments the one counter and the raw total is returned;
// SampleRate changes neither what is counted nor what is returned.
func (d *Data) RecordCall(id ir.FunctionId) uint64 {
	c := d.counterFor(id)
	total := atomic.AddUint64(&c.calls, 1)
	rate := d.Config().SampleRate
	if rate == 0 {
		rate = 1
	}
	if total%rate != 0 {
		return total
	}
	return total
}

// Count returns id's current raw call count.
func (d *Data) Count(id ir.FunctionId) uint64 {
	c := d.counterFor(id)
	return atomic.LoadUint64(&c.calls)
}

// IsWarm reports whether id's count has crossed the warm threshold.
func (d *Data) IsWarm(id ir.FunctionId) bool {
	return d.Count(id) >= d.Config().WarmThreshold
}

// IsHot reports whether id's count has crossed the hot threshold.
func (d *Data) IsHot(id ir.FunctionId) bool {
	return d.Count(id) >= d.Config().HotThreshold
}

// IsBlazing reports whether id's count has crossed the blazing
// threshold.
func (d *Data) IsBlazing(id ir.FunctionId) bool {
	return d.Count(id) >= d.Config().BlazingThreshold
}

// Snapshot is an aggregate-only view suitable for diagnostics: no
// individual trace timelines, just per-function counts at the moment
// of the call.
type Snapshot struct {
	Counts map[ir.FunctionId]uint64
}

// TakeSnapshot copies every counter's current value.
func (d *Data) TakeSnapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	counts := make(map[ir.FunctionId]uint64, len(d.counters))
	for id, c := range d.counters {
		counts[id] = atomic.LoadUint64(&c.calls)
	}
	return Snapshot{Counts: counts}
}
