package gc

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/d-netto/ggc/internal/gclog"
)

// Mode selects how a collection is triggered:
// ModeAuto lets the heuristics in decideNextMode pick full vs quick,
// ModeFull forces this cycle's sweep to be full, ModeIncremental forces
// a quick sweep regardless of heuristics. Collect runs exactly one cycle
// in every mode; it never runs a second collection afterwards.
//
// (Mode and its constants live in const.go alongside the rest of the
// tunables; this file only consumes them.)

// Callbacks lets an embedder observe collection boundaries and extend
// root enumeration, mirroring "pre/post GC hooks" and
// the original's jl_gc_register_callback family.
type Callbacks struct {
	PreGC         []func(full bool)
	PostGC        []func(full bool)
	RootScanner   []func(ptls *Ptls, push func(*Object))
	ExternalAlloc []func(ptr unsafe.Pointer, sz uintptr)
	ExternalFree  []func(ptr unsafe.Pointer)
}

// GlobalHeap is the collector's top-level singleton: it owns the page
// allocator, the permanent arena, the global big-object and finalizer
// lists, aggregate statistics, and the safepoint/pacing state that
// Collect drives through each cycle.
type GlobalHeap struct {
	pages     *PageAllocator
	permArena *PermArena
	stats     *Stats
	finalizers finalizerLists
	callbacks  Callbacks
	logger     *gclog.Logger

	// bigObjectsMarked collects big objects discovered reachable during
	// a quick sweep so a later full sweep can reconsider them — the
	// port of Julia's file-scope big_objects_marked list.
	bigObjectsMarked *bigObjHead

	mu      sync.Mutex
	threads []*Ptls

	gcDisableCounter int32 // atomic

	// deferredAlloc accumulates bytes that would have triggered an
	// automatic collection while gcDisableCounter > 0; folded back into
	// the allocd delta combineThreadCounters returns the next time a real
	// collection runs, so that cycle's pacing sees the bytes of the
	// disabled window. It is not added to GCNum.Allocd.
	deferredAlloc int64 // atomic

	// interval is the next auto-triggered collection's byte budget,
	// doubled on not_freed_enough and clamped by MaxCollectInterval.
	interval int64
	liveBytes int64
	lastLiveBytes int64
	promotedBytes int64
	lastPermScanned int64
	prevSweepFull bool
	fullSweepCount int64

	maxTotalMemory int64

	safepoint safepointCoordinator
}

// defaultLogger is used by free functions that have no *GlobalHeap
// receiver to log through, such as runFinalizer.
var defaultLogger = gclog.New(nil, "gc: ")

// NewGlobalHeap constructs a heap with the default tunables from
// const.go. blockPageCount sizes each PageAllocator block reservation;
// it's exposed mainly so tests can use a small value.
func NewGlobalHeap(blockPageCount int) *GlobalHeap {
	return &GlobalHeap{
		pages:          NewPageAllocator(blockPageCount),
		permArena:      NewPermArena(),
		stats:          &Stats{},
		logger:         gclog.New(nil, "gc: "),
		interval:       DefaultCollectInterval,
		maxTotalMemory: defaultMaxTotalMemory(),
	}
}

func (h *GlobalHeap) logf(format string, args ...interface{}) { h.logger.Printf(format, args...) }

// SetVerbose toggles debug-level pacing logs.
func (h *GlobalHeap) SetVerbose(v bool) { h.logger.SetVerbose(v) }

// RegisterThread adds ptls to the set Collect enumerates for root
// scanning, finalizer sweeps, and remset restamping.
func (h *GlobalHeap) RegisterThread(ptls *Ptls) {
	for i := range ptls.pools {
		ptls.pools[i] = newPool(i)
	}
	if ptls.markQueue == nil {
		ptls.markQueue = NewMarkQueue(0)
	}
	h.mu.Lock()
	h.threads = append(h.threads, ptls)
	h.mu.Unlock()
}

func (h *GlobalHeap) notifyExternalAlloc(ptr unsafe.Pointer, sz uintptr) {
	for _, cb := range h.callbacks.ExternalAlloc {
		cb(ptr, sz)
	}
	h.stats.allocd(int64(sz))
}

func (h *GlobalHeap) notifyExternalFree(ptr unsafe.Pointer) {
	for _, cb := range h.callbacks.ExternalFree {
		cb(ptr)
	}
}

// DisableGC / EnableGC implement jl_gc_enable(0/1): a simple
// process-wide inhibit counter maybeCollect consults before triggering
// an automatic cycle. Explicit Collect calls still run regardless, the
// same as the original only gating the automatic trigger.
func (h *GlobalHeap) DisableGC()  { atomic.AddInt32(&h.gcDisableCounter, 1) }
func (h *GlobalHeap) EnableGC()   { atomic.AddInt32(&h.gcDisableCounter, -1) }
func (h *GlobalHeap) gcEnabled() bool { return atomic.LoadInt32(&h.gcDisableCounter) <= 0 }

// maybeCollect implements the allocator-side trigger 
// describes: once a thread's allocd counter reaches the current
// interval, it requests an automatic collection instead of letting
// allocation run unbounded.
func (h *GlobalHeap) maybeCollect(ptls *Ptls) {
	if !h.gcEnabled() {
		deposit := atomic.SwapInt64(&ptls.counters.allocd, 0)
		atomic.AddInt64(&h.deferredAlloc, deposit)
		return
	}
	if atomic.LoadInt64(&ptls.counters.allocd) < atomic.LoadInt64(&h.interval) {
		return
	}
	h.Collect(ModeAuto)
}

// Collect implements jl_gc_collect(collection): the
// full stop-the-world cycle — safepoint handshake, premark, mark,
// weak-ref clearing, finalizer discovery and rewalk, heuristics, sweep,
// and restart.
func (h *GlobalHeap) Collect(mode Mode) {
	start := time.Now()

	h.safepoint.stopTheWorld(h)
	defer h.safepoint.startTheWorld(h)

	full := mode == ModeFull
	for _, cb := range h.callbacks.PreGC {
		cb(full)
	}

	h.mu.Lock()
	threads := append([]*Ptls(nil), h.threads...)
	h.mu.Unlock()

	actualAllocd := h.combineThreadCounters(threads)

	h.premark(threads, full)

	for _, ptls := range threads {
		h.DrainMarkQueue(ptls, false)
	}

	h.ClearWeakRefs(threads)

	// Finalizer discovery must run, and its re-mark+drain must follow
	// it, before any sweep below: a pair found dead here still has to
	// survive this cycle's sweep so RunPendingFinalizers can run it
	// safely at the end. Running this before the root closure above has
	// been fully drained would instead re-mark-reset-age the whole
	// closure, not just the finalizer-discovered subset.
	for _, ptls := range threads {
		h.sweepFinalizerList(ptls)
	}
	for _, ptls := range threads {
		h.rewalkMarkedFinalizers(ptls)
	}

	var scannedBytes int64
	for _, ptls := range threads {
		scannedBytes += ptls.cache.scannedBytes
		h.flushMarkCache(ptls)
	}

	liveSzUB := h.liveBytes + actualAllocd
	liveSzEst := scannedBytes + h.lastPermScanned
	estimateFreed := liveSzUB - liveSzEst

	full = h.decideNextMode(mode, threads, actualAllocd, estimateFreed, full)

	sweepMode := SweepQuick
	if full {
		sweepMode = SweepFull
	}

	for _, ptls := range threads {
		h.SweepWeakRefs(ptls)
		h.SweepForeign(ptls)
		h.SweepMallocArrays(ptls)
		h.sweepPools(ptls, sweepMode)
		h.SweepBigObjects(ptls, sweepMode)
		h.RestampRemset(ptls, sweepMode)
	}

	// This collector has no separate async-madvise thread, so each
	// stop-the-world cycle does the deferred-decommit flush itself
	// instead of leaving pages parked on pool_to_madvise indefinitely.
	h.pages.FlushToMadvise()

	h.updatePostSweepStats(mode, actualAllocd, full)

	for _, cb := range h.callbacks.PostGC {
		cb(full)
	}

	pause := time.Since(start)
	h.stats.mu.Lock()
	h.stats.num.TotalTime += pause.Nanoseconds()
	if pause.Nanoseconds() > h.stats.num.MaxPause {
		h.stats.num.MaxPause = pause.Nanoseconds()
	}
	h.stats.mu.Unlock()

	h.logf("collect mode=%v full=%v pause=%s freed~%d", mode, full, pause, estimateFreed)

	for _, ptls := range threads {
		h.RunPendingFinalizers(ptls)
	}
}

// combineThreadCounters implements combine_thread_gc_counts: folds
// every thread's per-thread counters other than allocd into the global
// GCNum and resets them all to zero. The allocd counters, plus
// deferredAlloc, are summed into the returned allocated-bytes delta
// since the last collection instead; they are not added to GCNum.Allocd.
func (h *GlobalHeap) combineThreadCounters(threads []*Ptls) int64 {
	allocd := atomic.SwapInt64(&h.deferredAlloc, 0)
	h.stats.mu.Lock()
	for _, ptls := range threads {
		allocd += atomic.SwapInt64(&ptls.counters.allocd, 0)
		h.stats.num.PoolAlloc += atomic.SwapInt64(&ptls.counters.poolalloc, 0)
		h.stats.num.BigAlloc += atomic.SwapInt64(&ptls.counters.bigalloc, 0)
		h.stats.num.Malloc += atomic.SwapInt64(&ptls.counters.malloc, 0)
		h.stats.num.Realloc += atomic.SwapInt64(&ptls.counters.realloc, 0)
		freed := atomic.SwapInt64(&ptls.counters.freed, 0)
		h.stats.num.Freed += freed
	}
	h.stats.mu.Unlock()
	return allocd
}

// premark implements the pre-mark setup: swap every thread's remset
// so the old one can be scanned as extra roots,
// force every remembered object back to OldMarked, then enroll roots
// (remset objects, remembered bindings, and whatever the RootScanner
// callbacks push) on the mark queue. Finalizer lists are handled later
// in Collect, not here.
func (h *GlobalHeap) premark(threads []*Ptls, full bool) {
	for _, ptls := range threads {
		ptls.swapRemsets()
		rs := ptls.lastRemset()
		for _, obj := range *rs {
			obj.Header.StoreBits(OldMarked)
			ptls.markQueue.Push(obj)
		}
		for _, b := range ptls.remBindings {
			b.header.StoreBits(OldMarked)
			ptls.TryClaimAndPush((*Object)(unsafe.Pointer(&b.header)), Marked, false)
		}
		for _, scan := range h.callbacks.RootScanner {
			scan(ptls, func(o *Object) { ptls.TryClaimAndPush(o, Marked, false) })
		}
	}
}

// flushMarkCache folds a thread's buffered big-object mark results
// into the global bigObjectsMarked list under the heap lock, the Go
// analogue of gc_sync_all_caches_nolock.
func (h *GlobalHeap) flushMarkCache(ptls *Ptls) {
	h.mu.Lock()
	for _, b := range ptls.cache.young {
		listInsert(&h.bigObjectsMarked, b)
	}
	for _, b := range ptls.cache.old {
		listInsert(&h.bigObjectsMarked, b)
	}
	h.mu.Unlock()
	ptls.cache.young = nil
	ptls.cache.old = nil
	ptls.cache.scannedBytes = 0
}

// decideNextMode implements heuristics: not_freed_enough
// doubles the interval, a large intergenerational frontier forces a
// full sweep, and exceeding maxTotalMemory or MaxCollectInterval forces
// one too.
func (h *GlobalHeap) decideNextMode(mode Mode, threads []*Ptls, actualAllocd, estimateFreed int64, full bool) bool {
	notFreedEnough := mode == ModeAuto && estimateFreed < (7*actualAllocd)/10

	var nptr int64
	for _, ptls := range threads {
		nptr += atomic.LoadInt64(&ptls.remsetNPtr)
	}
	largeFrontier := nptr*int64(wordSize) >= atomic.LoadInt64(&h.interval)

	if mode == ModeAuto {
		if notFreedEnough {
			atomic.StoreInt64(&h.interval, atomic.LoadInt64(&h.interval)*2)
		}
		if largeFrontier {
			full = true
		}
		if atomic.LoadInt64(&h.interval) > MaxCollectInterval {
			full = true
			atomic.StoreInt64(&h.interval, MaxCollectInterval)
		}
	}

	if h.liveBytes > h.maxTotalMemory {
		full = true
	}
	if mode == ModeFull {
		full = true
	}
	if mode == ModeIncremental {
		full = false
	}
	if full {
		h.lastPermScanned = 0
		h.promotedBytes = 0
	}
	return full
}

// PageCensus walks every committed page via the page table and sums
// per-page cell occupancy, a diagnostic cross-check of liveBytes taken
// independently of the per-pool freelist/newpages bookkeeping.
func (h *GlobalHeap) PageCensus() (pages int, liveCells int64) {
	h.pages.Table().ForEachPage(func(m *pageMeta) {
		if m.osize == 0 {
			return
		}
		pages++
		ncells := int64((PageSize - PageOffset) / uintptr(m.osize))
		liveCells += ncells - int64(m.nfree)
	})
	return pages, liveCells
}

func (h *GlobalHeap) sweepPools(ptls *Ptls, mode SweepMode) {
	for i := range ptls.pools {
		h.sweepPool(ptls, &ptls.pools[i], mode)
	}
}

// updatePostSweepStats implements the tail of jl_gc_collect: update
// live-byte tracking and clamp the interval back toward default once
// enough has been freed.
func (h *GlobalHeap) updatePostSweepStats(mode Mode, actualAllocd int64, full bool) {
	if full {
		atomic.AddInt64(&h.fullSweepCount, 1)
		pages, liveCells := h.PageCensus()
		h.logf("page census: pages=%d live_cells=%d", pages, liveCells)
	}
	h.prevSweepFull = full

	freed := h.stats.Snapshot().Freed
	h.lastLiveBytes = h.liveBytes
	h.liveBytes += actualAllocd - freed

	if mode == ModeAuto {
		half := h.liveBytes / 2
		if atomic.LoadInt64(&h.interval) > half {
			atomic.StoreInt64(&h.interval, half)
		}
		if atomic.LoadInt64(&h.interval) < DefaultCollectInterval {
			atomic.StoreInt64(&h.interval, DefaultCollectInterval)
		}
	}

	maxMem := h.lastLiveBytes + actualAllocd
	h.stats.mu.Lock()
	if maxMem > h.stats.num.MaxMemory {
		h.stats.num.MaxMemory = maxMem
	}
	h.stats.mu.Unlock()
}

func defaultMaxTotalMemory() int64 {
	if is64bit {
		return defaultMaxTotalMemory64
	}
	return defaultMaxTotalMemory32
}

