package gc

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// finalizerPair is a single (object, finalizer) registration. A
// nativeFn set means fn is a func(unsafe.Pointer)-shaped callback
// rather than a managed closure, mirroring the original's tagged low
// bit on the object pointer.
type finalizerPair struct {
	obj      *Object
	fn       func(*Object)
	nativeFn bool
}

// finalizerLists owns the two global lists the collector consults
// outside any thread's own Ptls.finalizers: the scheduled queue
// (objects whose finalizer is ready to run) and the "marked" list
// (finalizable objects that survived the current cycle, parked here
// until the next one decides they're unreachable).
type finalizerLists struct {
	mu             sync.Mutex
	toFinalize     []finalizerPair
	finalizerMarked []finalizerPair
	havePending    int32 // atomic
}

// RegisterFinalizer implements jl_gc_add_finalizer_th:
// appends (obj, fn) to the calling thread's finalizer list under the
// acquire/release length-publishing discipline, so finalize() on
// another thread can read up to the published length without a lock.
func (ptls *Ptls) RegisterFinalizer(obj *Object, fn func(*Object)) {
	ptls.registerFinalizer(finalizerPair{obj: obj, fn: fn})
}

// RegisterNativeFinalizer registers a finalizer tagged as a raw
// callback rather than a managed closure — the Go analogue of the
// original's pointer-tagged "native" finalizer, run without going
// through a managed call convention.
func (ptls *Ptls) RegisterNativeFinalizer(obj *Object, fn func(*Object)) {
	ptls.registerFinalizer(finalizerPair{obj: obj, fn: fn, nativeFn: true})
}

func (ptls *Ptls) registerFinalizer(p finalizerPair) {
	ptls.finalizersMu.Lock()
	ptls.finalizers = append(ptls.finalizers, p)
	atomic.StoreInt64(&ptls.finalizersPublished, int64(len(ptls.finalizers)))
	ptls.finalizersMu.Unlock()
}

// finalizeObject implements finalize_object(list, o, copied, need_sync)
//: scans a thread's published finalizer prefix for
// entries matching obj, moves matches into copied, and compacts the
// remainder in place. When needSync is set (scanning another thread's
// list), only the published [0, len) prefix is touched and the new
// length is republished at the end so it never races the owning
// thread's own appends.
// publishedLen is only read/written when needSync is true; callers
// scanning their own list (needSync false) may pass nil.
func finalizeObject(owned *[]finalizerPair, publishedLen *int64, obj *Object, copied *[]finalizerPair, needSync bool) {
	var list []finalizerPair
	var oldLen int
	if needSync {
		oldLen = int(atomic.LoadInt64(publishedLen))
		list = (*owned)[:oldLen]
	} else {
		list = *owned
		oldLen = len(list)
	}

	j := 0
	for i := 0; i < oldLen; i++ {
		if list[i].obj == obj {
			*copied = append(*copied, list[i])
			continue
		}
		if j != i {
			list[j] = list[i]
		}
		j++
	}
	if j == oldLen {
		return
	}
	for k := j; k < oldLen; k++ {
		list[k] = finalizerPair{}
	}
	if needSync {
		atomic.StoreInt64(publishedLen, int64(j))
	} else {
		*owned = (*owned)[:j]
	}
}

// scheduleFinalization implements schedule_finalization: enqueues (obj, fn) onto the global to_finalize list so a
// later RunFinalizers drains it. The relaxed pending flag matches the
// original's comment that readers keep polling until they observe the
// work, so no stronger ordering is required here.
func (fl *finalizerLists) scheduleFinalization(p finalizerPair) {
	fl.mu.Lock()
	fl.toFinalize = append(fl.toFinalize, p)
	fl.mu.Unlock()
	atomic.StoreInt32(&fl.havePending, 1)
}

// scheduleDiscovered is scheduleFinalization's sweep-time counterpart,
// used by sweepFinalizerList: the object was not found marked this
// cycle, so besides queuing its finalizer to run it is also parked on
// finalizerMarked, so the pending rewalkMarkedFinalizers pass marks its
// reachable closure and the upcoming sweep doesn't reclaim its storage
// before the finalizer actually runs.
func (fl *finalizerLists) scheduleDiscovered(p finalizerPair) {
	fl.mu.Lock()
	fl.toFinalize = append(fl.toFinalize, p)
	fl.finalizerMarked = append(fl.finalizerMarked, p)
	fl.mu.Unlock()
	atomic.StoreInt32(&fl.havePending, 1)
}

// removeFinalized drops every entry from marked whose object appears in
// ran, so a finalizer that has actually executed stops being re-marked
// as a root on every subsequent cycle.
func removeFinalized(marked, ran []finalizerPair) []finalizerPair {
	if len(marked) == 0 || len(ran) == 0 {
		return marked
	}
	dead := make(map[*Object]bool, len(ran))
	for _, p := range ran {
		dead[p.obj] = true
	}
	kept := marked[:0]
	for _, p := range marked {
		if dead[p.obj] {
			continue
		}
		kept = append(kept, p)
	}
	return slices.Clip(kept)
}

// scheduleAll moves every entry out of src into the global queue,
// implementing schedule_all_finalizers — used when a thread exits or
// the whole program is tearing down and every pending finalizer must
// run regardless of reachability.
func (fl *finalizerLists) scheduleAll(src *[]finalizerPair) {
	for _, p := range *src {
		if p.obj == nil {
			continue
		}
		fl.scheduleFinalization(p)
	}
	*src = (*src)[:0]
}

// RunFinalizers implements run_finalizers(ct): swaps
// the global queue out under the lock, releases the lock, then runs
// every finalizer in the copy in reverse registration order so that
// lower-level finalizers (registered earlier, usually for objects
// deeper in a dependency chain) run last.
func (fl *finalizerLists) RunFinalizers() {
	if len(fl.toFinalize) == 0 && atomic.LoadInt32(&fl.havePending) == 0 {
		return
	}
	fl.mu.Lock()
	if len(fl.toFinalize) == 0 {
		fl.mu.Unlock()
		return
	}
	copied := fl.toFinalize
	fl.toFinalize = nil
	atomic.StoreInt32(&fl.havePending, 0)
	fl.finalizerMarked = removeFinalized(fl.finalizerMarked, copied)
	fl.mu.Unlock()

	for i := len(copied) - 1; i >= 0; i-- {
		runFinalizer(copied[i])
	}
}

// runFinalizer implements run_finalizer(ct, o, ff): invokes fn and
// swallows any panic, logging it the way the original prints an
// uncaught finalizer exception to stderr rather than propagating it
// into the collector.
func runFinalizer(p finalizerPair) {
	defer func() {
		if r := recover(); r != nil {
			defaultLogger.Printf("error in running finalizer: %v", r)
		}
	}()
	p.fn(p.obj)
}

// RunPendingFinalizers implements jl_gc_run_pending_finalizers: runs
// the queue unless finalizers are currently inhibited on this thread
// or it's already inside a finalizer call (reentrancy guard belongs to
// the caller in this port; Collect calls it once per thread at the end
// of each cycle).
func (h *GlobalHeap) RunPendingFinalizers(ptls *Ptls) {
	if atomic.LoadInt32(&ptls.finalizersInhibited) != 0 {
		return
	}
	h.finalizers.RunFinalizers()
}

// DisableFinalizers / EnableFinalizers implement
// jl_gc_disable/enable_finalizers_internal: a per-thread inhibit
// counter. Enabling while finalizers are pending immediately drains
// them, matching jl_gc_enable_finalizers's behavior.
func (ptls *Ptls) DisableFinalizers() {
	atomic.AddInt32(&ptls.finalizersInhibited, 1)
}

func (h *GlobalHeap) EnableFinalizers(ptls *Ptls) error {
	if n := atomic.AddInt32(&ptls.finalizersInhibited, -1); n < 0 {
		atomic.AddInt32(&ptls.finalizersInhibited, 1)
		return errors.New("gc: finalizers already enabled on this thread")
	}
	if atomic.LoadInt32(&h.finalizers.havePending) != 0 {
		h.RunPendingFinalizers(ptls)
	}
	return nil
}

// FinalizersInhibited reports jl_gc_get_finalizers_inhibited.
func (ptls *Ptls) FinalizersInhibited() bool {
	return atomic.LoadInt32(&ptls.finalizersInhibited) != 0
}

// Finalize implements jl_finalize_th(ct, o): eagerly
// runs obj's finalizer right now regardless of reachability, searching
// every thread's list plus the global marked list, and synchronizing
// cross-thread scans via finalizeObject's needSync path.
func (h *GlobalHeap) Finalize(callerID int, threads []*Ptls, obj *Object) {
	h.finalizers.mu.Lock()
	var copied []finalizerPair
	for _, t := range threads {
		t.finalizersMu.Lock()
		finalizeObject(&t.finalizers, &t.finalizersPublished, obj, &copied, t.id != callerID)
		t.finalizersMu.Unlock()
	}
	finalizeObject(&h.finalizers.finalizerMarked, nil, obj, &copied, false)
	h.finalizers.mu.Unlock()

	for i := len(copied) - 1; i >= 0; i-- {
		runFinalizer(copied[i])
	}
}

// sweepFinalizerList implements the per-thread half of the finalizer
// sweep: any (obj, fn) pair whose object did not survive marking is
// moved from ptls.finalizers onto the global scheduled queue *and*
// parked on finalizerMarked, so the discovery this makes is not lost
// before rewalkMarkedFinalizers re-marks it below. Survivors are
// compacted down, using golang.org/x/exp/slices the same way
// weakref.go's partition-compact does.
//
// This must run, and rewalkMarkedFinalizers must follow it, strictly
// before any sweep call in this cycle: a pair discovered here is by
// definition unmarked, so if sweep ran first it would reclaim the
// object's storage out from under the finalizer queue.
func (h *GlobalHeap) sweepFinalizerList(ptls *Ptls) {
	ptls.finalizersMu.Lock()
	defer ptls.finalizersMu.Unlock()

	kept := ptls.finalizers[:0]
	for _, p := range ptls.finalizers {
		if p.obj == nil {
			continue
		}
		_, bits := p.obj.Header.LoadAtomic()
		if bits.IsMarked() {
			kept = append(kept, p)
			continue
		}
		h.finalizers.scheduleDiscovered(p)
	}
	ptls.finalizers = slices.Clip(kept)
	atomic.StoreInt64(&ptls.finalizersPublished, int64(len(ptls.finalizers)))
}

// rewalkMarkedFinalizers implements the re-mark step: the global
// finalizerMarked list holds objects kept alive purely because a
// finalizer is still pending for them, so the collector must walk
// their reachable closure with markResetAge=true (finalizer-induced
// survivors shouldn't inherit Old status from a previous life) before
// sweep runs. Called once per thread after sweepFinalizerList has
// discovered this cycle's dead-but-finalizable pairs on every thread,
// never before the initial root closure has already been drained with
// markResetAge=false.
func (h *GlobalHeap) rewalkMarkedFinalizers(ptls *Ptls) {
	for _, p := range h.finalizers.finalizerMarked {
		if p.obj == nil {
			continue
		}
		ptls.TryClaimAndPush(p.obj, Marked, true)
	}
	h.DrainMarkQueue(ptls, true)
}
