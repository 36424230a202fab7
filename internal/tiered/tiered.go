// Package tiered implements the tiered JIT controller: a four-level
// execution tier manager that profiles per-function calls and
// transparently promotes hot functions through progressively more
// optimizing backends with no observable semantic change.
package tiered

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"jitcore/internal/backend"
	"jitcore/internal/ir"
	"jitcore/internal/profile"
	"jitcore/internal/validate"
)

// Tier is one of the four optimization levels a function may currently
// be compiled at.
type Tier int32

const (
	TierInterpreter Tier = iota
	TierQuickJIT
	TierOptimizing
	TierMax

	tierCount = 4
)

func (t Tier) String() string {
	switch t {
	case TierInterpreter:
		return "interpreter"
	case TierQuickJIT:
		return "quickjit"
	case TierOptimizing:
		return "optimizing"
	case TierMax:
		return "max"
	default:
		return fmt.Sprintf("tier(%d)", int32(t))
	}
}

// Config is the controller's TieredConfig analogue.
type Config struct {
	Profile profile.Config

	// EnableBackgroundOptimization selects inline (false) versus
	// background-worker (true) promotion.
	EnableBackgroundOptimization bool
	// OptimizationCheckInterval is the worker's polling period.
	OptimizationCheckInterval time.Duration
	// MaxParallelOptimizations soft-caps concurrent background
	// compilations.
	MaxParallelOptimizations int
	// Verbosity controls diagnostic emission only (0-2).
	Verbosity int
	// StartInterpreted selects whether newly loaded functions start
	// resident at tier 0 (the tree-walking interpreter) or skip
	// straight to tier 1 (the simplest closure-compiling JIT).
	StartInterpreted bool
	// PersistPath, if non-empty, opens a SQLite-backed counter store
	// so a restarted process can warm-start its promotion decisions
	// instead of re-observing every function cold at tier 0. Compiled
	// entries themselves are never persisted — only call counts and
	// the tier they justify — since an entry pointer from a previous
	// process is meaningless in this one.
	PersistPath string
	// Symbols resolves extern calls at every backend's construction.
	Symbols []backend.Symbol
}

// DefaultConfig mirrors profile.DefaultConfig's thresholds with
// conservative worker settings.
func DefaultConfig() Config {
	return Config{
		Profile:                      profile.DefaultConfig(),
		EnableBackgroundOptimization: true,
		OptimizationCheckInterval:    10 * time.Millisecond,
		MaxParallelOptimizations:     4,
		Verbosity:                    0,
		StartInterpreted:             true,
	}
}

type promotionJob struct {
	id     ir.FunctionId
	target Tier
	jobID  uuid.UUID
}

// Stats is the aggregate-only statistics view: per-tier residency
// counts, queue depth, and in-flight background compilations. No
// individual trace timelines are kept.
type Stats struct {
	TierCounts          [tierCount]int
	QueueLength         int
	InFlight            int
	Promotions          uint64
	FailedOptimizations uint64
}

// Controller is the tiered execution engine: it installs a module into
// a baseline backend, profiles calls, and promotes hot functions
// through the remaining backends via a background worker (or inline,
// per Config.EnableBackgroundOptimization).
type Controller struct {
	cfg      Config
	backends [tierCount]backend.Backend
	module   *ir.Module
	profile  *profile.Data
	store    *profile.Store

	tiersMu  sync.RWMutex
	tiers    map[ir.FunctionId]Tier
	pointers map[ir.FunctionId]uintptr

	queueMu    sync.Mutex
	queue      []promotionJob
	optimizing map[ir.FunctionId]struct{}

	promotions          uint64
	failedOptimizations uint64

	// compileGroup bounds concurrent background compilations at
	// MaxParallelOptimizations; workerDone tracks only the supervising
	// poll loop, which must never itself consume one of that group's
	// limited slots or it would starve (or, at a limit of one,
	// deadlock) every compile job.
	compileGroup *errgroup.Group
	workerDone   chan struct{}
	cancel       context.CancelFunc
}

// New constructs a controller with its four backends, not yet loaded
// with a module.
func New(cfg Config) (*Controller, error) {
	if cfg.MaxParallelOptimizations <= 0 {
		cfg.MaxParallelOptimizations = 1
	}
	if cfg.OptimizationCheckInterval <= 0 {
		cfg.OptimizationCheckInterval = 10 * time.Millisecond
	}

	c := &Controller{
		cfg:        cfg,
		profile:    profile.NewData(cfg.Profile),
		tiers:      make(map[ir.FunctionId]Tier),
		pointers:   make(map[ir.FunctionId]uintptr),
		optimizing: make(map[ir.FunctionId]struct{}),
	}
	c.backends[TierInterpreter] = backend.NewInterpreter(cfg.Symbols)
	c.backends[TierQuickJIT] = backend.NewQuickJIT(cfg.Symbols)
	c.backends[TierOptimizing] = backend.NewOptimizingJIT(cfg.Symbols)
	c.backends[TierMax] = backend.NewMaxJIT(cfg.Symbols)

	if cfg.PersistPath != "" {
		store, err := profile.OpenStore(cfg.PersistPath)
		if err != nil {
			return nil, fmt.Errorf("tiered: failed to open counter store: %w", err)
		}
		c.store = store
	}
	return c, nil
}

// baselineTier is the tier newly loaded functions start resident at.
func (c *Controller) baselineTier() Tier {
	if c.cfg.StartInterpreted {
		return TierInterpreter
	}
	return TierQuickJIT
}

// Load validates every function in module and, only if the module is
// well-formed, installs it into the baseline backend; if PersistPath
// was configured it then restores prior call counts so promotion
// picks up roughly where a previous process left off. The IR module
// is treated as immutable from this point; any rewriting pass must
// run before Load. A validation failure refuses the load outright —
// no function from an invalid module is ever installed or published.
func (c *Controller) Load(module *ir.Module) error {
	for id, fn := range module.Functions {
		if report := validate.Validate(fn); !report.OK() {
			return fmt.Errorf("tiered: refusing to install invalid module %q, function %s: %w", module.Name, id, report.Render())
		}
	}

	c.module = module
	baseline := c.baselineTier()
	if err := c.backends[baseline].CompileModule(module); err != nil {
		return fmt.Errorf("tiered: failed to install module: %w", err)
	}

	c.tiersMu.Lock()
	for id := range module.Functions {
		c.tiers[id] = baseline
		if ptr, err := c.backends[baseline].GetFunctionPtr(id); err == nil {
			c.pointers[id] = ptr
		}
	}
	c.tiersMu.Unlock()

	if c.store != nil {
		counts, _, err := c.store.LoadAll()
		if err != nil {
			return fmt.Errorf("tiered: failed to warm-start counters: %w", err)
		}
		for id, count := range counts {
			if _, ok := module.Functions[id]; !ok {
				continue
			}
			for i := uint64(0); i < count; i++ {
				c.profile.RecordCall(id)
			}
		}
	}
	return nil
}

// Start launches the background promotion worker. A no-op if
// Config.EnableBackgroundOptimization is false — in that mode
// promotion happens inline on the call path instead.
func (c *Controller) Start(ctx context.Context) {
	if !c.cfg.EnableBackgroundOptimization {
		return
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.MaxParallelOptimizations)
	workerCtx, cancel := context.WithCancel(gctx)
	c.compileGroup = group
	c.cancel = cancel
	c.workerDone = make(chan struct{})
	go c.runWorker(workerCtx, group)
}

// Shutdown cancels the background worker and waits (bounded by ctx)
// for the poll loop to exit and any in-flight compilations to finish.
func (c *Controller) Shutdown(ctx context.Context) error {
	if c.compileGroup == nil {
		return nil
	}
	c.cancel()
	done := make(chan error, 1)
	go func() {
		<-c.workerDone
		done <- c.compileGroup.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runWorker polls the promotion queue once per OptimizationCheckInterval,
// dequeuing at most one job per tick and compiling it on a group
// goroutine (SetLimit enforces MaxParallelOptimizations on compiles —
// this loop itself never occupies a slot; when every slot is busy,
// group.Go blocks the loop until one frees up).
func (c *Controller) runWorker(ctx context.Context, group *errgroup.Group) {
	defer close(c.workerDone)
	ticker := time.NewTicker(c.cfg.OptimizationCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, ok := c.dequeue()
			if !ok {
				continue
			}
			group.Go(func() error {
				c.compileAndPublish(job)
				return nil
			})
		}
	}
}

// dequeue pops the oldest queued job and marks it in flight, releasing
// the queue lock before any compilation begins.
func (c *Controller) dequeue() (promotionJob, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		return promotionJob{}, false
	}
	job := c.queue[0]
	c.queue = c.queue[1:]
	c.optimizing[job.id] = struct{}{}
	return job, true
}

func (c *Controller) compileAndPublish(job promotionJob) {
	defer func() {
		c.queueMu.Lock()
		delete(c.optimizing, job.id)
		c.queueMu.Unlock()
	}()

	fn := c.module.Function(job.id)
	if fn == nil {
		atomic.AddUint64(&c.failedOptimizations, 1)
		c.logf(1, "compile job %s: function %s not found in module", job.jobID, job.id)
		return
	}
	be := c.backends[job.target]
	if err := be.CompileSingleFunction(job.id, c.module, fn); err != nil {
		atomic.AddUint64(&c.failedOptimizations, 1)
		c.logf(1, "compile job %s: promote %s to %s failed: %v", job.jobID, job.id, job.target, err)
		return
	}
	ptr, err := be.GetFunctionPtr(job.id)
	if err != nil {
		atomic.AddUint64(&c.failedOptimizations, 1)
		c.logf(1, "compile job %s: entry lookup for %s at %s failed: %v", job.jobID, job.id, job.target, err)
		return
	}

	c.tiersMu.Lock()
	c.tiers[job.id] = job.target
	c.pointers[job.id] = ptr
	c.tiersMu.Unlock()

	atomic.AddUint64(&c.promotions, 1)
	c.logf(2, "compile job %s: promoted %s to %s", job.jobID, job.id, job.target)

	if c.store != nil {
		if err := c.store.Save(job.id, c.profile.Count(job.id), int(job.target)); err != nil {
			c.logf(1, "compile job %s: persist counter for %s failed: %v", job.jobID, job.id, err)
		}
	}
}

func (c *Controller) logf(level int, format string, args ...interface{}) {
	if c.cfg.Verbosity >= level {
		log.Printf(format, args...)
	}
}

// TierOf reports id's current residency tier, the baseline tier if id
// has never been installed.
func (c *Controller) TierOf(id ir.FunctionId) Tier {
	c.tiersMu.RLock()
	defer c.tiersMu.RUnlock()
	if t, ok := c.tiers[id]; ok {
		return t
	}
	return c.baselineTier()
}

// GetFunctionPointer yields id's current raw executable-entry address,
// matching the call-path contract's "obtain a pointer, then invoke
// it" shape even though Call is the path actually used in this
// process (there is no indirect-call convention to cross in Go).
func (c *Controller) GetFunctionPointer(id ir.FunctionId) (uintptr, error) {
	c.tiersMu.RLock()
	defer c.tiersMu.RUnlock()
	ptr, ok := c.pointers[id]
	if !ok {
		return 0, fmt.Errorf("tiered: function %s not loaded", id)
	}
	return ptr, nil
}

// Call invokes id at its current tier, records the call for profiling
// purposes, and enqueues (or inline-runs) a promotion if the next
// tier's threshold has been crossed.
func (c *Controller) Call(id ir.FunctionId, args []ir.IrValue) (ir.IrValue, error) {
	tier := c.TierOf(id)
	result, err := c.backends[tier].Call(id, args)
	count := c.profile.RecordCall(id)
	c.maybeEnqueuePromotion(id, tier, count)
	return result, err
}

// maybeEnqueuePromotion implements the threshold check from the
// call-path contract: if the next unreached tier's threshold has been
// crossed, the function is scheduled for promotion, subject to
// dedup against the optimizing set and the queue.
func (c *Controller) maybeEnqueuePromotion(id ir.FunctionId, current Tier, count uint64) {
	cfg := c.profile.Config()
	var threshold uint64
	switch current {
	case TierInterpreter:
		threshold = cfg.WarmThreshold
	case TierQuickJIT:
		threshold = cfg.HotThreshold
	case TierOptimizing:
		threshold = cfg.BlazingThreshold
	default:
		return
	}
	if count < threshold {
		return
	}
	target := current + 1

	if !c.cfg.EnableBackgroundOptimization {
		c.compileAndPublish(promotionJob{id: id, target: target, jobID: uuid.New()})
		return
	}
	c.enqueue(id, target)
}

func (c *Controller) enqueue(id ir.FunctionId, target Tier) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if _, inFlight := c.optimizing[id]; inFlight {
		return
	}
	for _, job := range c.queue {
		if job.id == id {
			return
		}
	}
	c.queue = append(c.queue, promotionJob{id: id, target: target, jobID: uuid.New()})
}

// Stats returns the aggregate-only statistics snapshot used by
// diagnostics tooling.
func (c *Controller) Stats() Stats {
	var s Stats
	c.tiersMu.RLock()
	for _, t := range c.tiers {
		if t >= 0 && int(t) < tierCount {
			s.TierCounts[t]++
		}
	}
	c.tiersMu.RUnlock()

	c.queueMu.Lock()
	s.QueueLength = len(c.queue)
	s.InFlight = len(c.optimizing)
	c.queueMu.Unlock()

	s.Promotions = atomic.LoadUint64(&c.promotions)
	s.FailedOptimizations = atomic.LoadUint64(&c.failedOptimizations)
	return s
}

// ProfileSnapshot exposes the underlying per-function call counts, for
// diagnostics.
func (c *Controller) ProfileSnapshot() profile.Snapshot {
	return c.profile.TakeSnapshot()
}

// Close releases the optional persistent counter store.
func (c *Controller) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}
