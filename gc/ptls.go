package gc

import "sync"

// freeCell is the linked-node shape a pool's free-list chains through
// cell bodies; these are never safe references, and the pool code in
// pool.go and sweep.go reads and writes them through unsafe casts.
type freeCell struct {
	next *freeCell
}

// pool is a per-thread, per-size-class allocator: a freelist for the
// currently-allocated-from page plus a newpages reserve of untouched
// pages.
type pool struct {
	class int
	osize uint32

	freelist     *freeCell
	freelistPage *pageMeta // page owning freelist's head, for nfree/has_young updates

	newpages []*pageMeta // newpages[0] is the current bump page; rest are reserve
	bumpOff  uint32       // bump offset within newpages[0].data, PageOffset when fresh
}

func newPool(class int) pool {
	return pool{class: class, osize: uint32(classSize(class))}
}

// GCNum mirrors the gc_num counters: allocd/freed/malloc/realloc/
// poolalloc/bigalloc/freecall plus pause and timing stats, diffable
// via Stats.DiffTotalBytes.
type GCNum struct {
	Allocd    int64
	Freed     int64
	Malloc    int64
	Realloc   int64
	PoolAlloc int64
	BigAlloc  int64
	FreeCall  int64

	TotalTime          int64
	MaxPause           int64
	MaxMemory          int64
	TimeToSafepoint    int64
	MaxTimeToSafepoint int64
	SweepTime          int64
	MarkTime           int64
}

// threadCounters are the per-thread tallies combine_thread_gc_counts()
// folds into the global GCNum at the start of each collection.
type threadCounters struct {
	allocd    int64 // bytes since the last reset; maybeCollect triggers once this reaches the interval
	poolalloc int64
	bigalloc  int64
	malloc    int64
	realloc   int64
	freed     int64
}

// Ptls is the per-thread state handle the embedding runtime provides
//. It owns every thread-local GC structure named in
// "Thread-local heap".
type Ptls struct {
	id int

	pools [numSizeClasses]pool

	weakRefs  []*WeakRef
	liveTasks []*Task

	mallocArrays   []*trackedArray
	bigObjects     *bigObjHead
	bigObjectCount int

	remBindings []*Binding
	// remset alternates with lastRemset each cycle instead of being
	// freed/reallocated.
	remsets   [2][]*Object
	remsetCur uint8
	remsetNPtr int64

	finalizers []finalizerPair
	// finalizersMu guards growth of finalizers; steady-state appends
	// publish the new length with a release store so finalize() on
	// another thread can read without a lock.
	finalizersMu        sync.Mutex
	finalizersPublished int64 // atomic

	finalizersInhibited int32 // atomic

	foreignSweep []ForeignSweepable

	counters threadCounters

	markQueue *MarkQueue
	cache     markCache

	// gcState is the safepoint handshake flag: 0 while running, non-zero
	// once the thread has reached a safepoint.
	gcState int32 // atomic
}

func (t *Ptls) remset() *[]*Object     { return &t.remsets[t.remsetCur] }
func (t *Ptls) lastRemset() *[]*Object { return &t.remsets[1-t.remsetCur] }
func (t *Ptls) swapRemsets()           { t.remsetCur = 1 - t.remsetCur }

// ID reports the thread id the embedding runtime assigned this handle.
func (t *Ptls) ID() int { return t.id }

// trackedArray is a malloc-backed array tracked for sweep, mirroring
// gc_track_malloced_array.
type trackedArray struct {
	data []byte
	age  uint8
}

// ForeignSweepable is a user-registered object with its own sweep
// function, swept alongside malloc arrays and big objects.
type ForeignSweepable interface {
	Sweep()
}
