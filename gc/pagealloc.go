package gc

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageMeta is one page's metadata record, owned by the page table and
// never interleaved with the page's own data.
type pageMeta struct {
	data []byte // the page's PageSize bytes of committed memory
	addr uintptr

	owner   *Ptls
	poolIdx int
	osize   uint32 // object size for this page's size class

	nfree    uint32
	nold     uint32
	prevNold uint32

	hasMarked bool
	hasYoung  bool

	// freeListBegin/End are byte offsets within data bounding the
	// page's free-list chain, recorded by sweep for reset_page reuse.
	freeListBegin, freeListEnd uint32

	// ageBits is the per-object age bitmap: one bit per cell, 1 =
	// survived >= 1 sweep.
	ageBits []uint64

	// madvised is set once the page's backing memory has been told to
	// the OS it can be reclaimed; cleared on reuse.
	madvised bool
}

func newPageMeta(data []byte, addr uintptr) *pageMeta {
	return &pageMeta{data: data, addr: addr}
}

const cellsPerPageBitmapWord = 64

func (m *pageMeta) allocAgeBits(ncells int) {
	words := (ncells + cellsPerPageBitmapWord - 1) / cellsPerPageBitmapWord
	if cap(m.ageBits) >= words {
		m.ageBits = m.ageBits[:words]
		for i := range m.ageBits {
			m.ageBits[i] = 0
		}
		return
	}
	m.ageBits = make([]uint64, words)
}

func (m *pageMeta) ageBit(cellIdx int) bool {
	return m.ageBits[cellIdx/64]&(1<<uint(cellIdx%64)) != 0
}

func (m *pageMeta) setAgeBit(cellIdx int) {
	m.ageBits[cellIdx/64] |= 1 << uint(cellIdx%64)
}

func (m *pageMeta) clearAgeBit(cellIdx int) {
	m.ageBits[cellIdx/64] &^= 1 << uint(cellIdx%64)
}

// pagePool is one of the three handoff pools pages travel through
// (pool_clean / pool_to_madvise / pool_madvised), each a simple
// mutex-guarded LIFO stack of page metadata.
type pagePool struct {
	mu    sync.Mutex
	stack []*pageMeta
}

func (p *pagePool) push(m *pageMeta) {
	p.mu.Lock()
	p.stack = append(p.stack, m)
	p.mu.Unlock()
}

func (p *pagePool) pop() *pageMeta {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.stack)
	if n == 0 {
		return nil
	}
	m := p.stack[n-1]
	p.stack = p.stack[:n-1]
	return m
}

func (p *pagePool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}

// PageAllocator owns OS page reservation and the three-pool handoff
// (clean / to-madvise / madvised). It is a process-wide singleton
// reached through GlobalHeap.
type PageAllocator struct {
	table *pageTable

	poolClean     pagePool
	poolToMadvise pagePool
	poolMadvised  pagePool

	blockPageCount int

	// counters mirroring jl_gc_pool_*_count-style stats
	cleanCount, toMadviseCount, madvisedCount int64
}

// NewPageAllocator creates a page allocator that reserves OS memory in
// blocks of blockPages pages at a time (DEFAULT_BLOCK_PG_ALLOC).
func NewPageAllocator(blockPages int) *PageAllocator {
	if blockPages <= 0 {
		if is64bit {
			blockPages = DefaultBlockPageAlloc64
		} else {
			blockPages = DefaultBlockPageAlloc32
		}
	}
	return &PageAllocator{table: newPageTable(), blockPageCount: blockPages}
}

// Table exposes the address->metadata index for PageMetadata lookups
// from other components (mark/sweep need it too).
func (a *PageAllocator) Table() *pageTable { return a.table }

// PageMetadata is page_metadata(addr): O(1), nil for non-managed
// addresses.
func (a *PageAllocator) PageMetadata(addr uintptr) *pageMeta {
	return a.table.Lookup(addr)
}

// AllocPage implements alloc_page(): try pool_clean, then
// pool_to_madvise, then pool_madvised; falling off the end reserves a
// fresh OS block and returns its first page, stashing the rest on
// pool_clean.
func (a *PageAllocator) AllocPage() (*pageMeta, error) {
	if m := a.poolClean.pop(); m != nil {
		return m, nil
	}
	if m := a.poolToMadvise.pop(); m != nil {
		// FreePage removed this page from the table when it was
		// recycled; it's live again, so the table must see it before
		// any caller can touch addr->metadata lookups.
		a.table.Insert(m.addr, m)
		return m, nil
	}
	if m := a.poolMadvised.pop(); m != nil {
		// already mapped; undo the MADV_FREE/DONTNEED hint isn't
		// required — the kernel only reclaims lazily, and the first
		// touch after reuse re-commits the page. Same table re-Insert
		// as the pool_to_madvise case above.
		m.madvised = false
		a.table.Insert(m.addr, m)
		return m, nil
	}
	return a.reserveBlock()
}

func (a *PageAllocator) reserveBlock() (*pageMeta, error) {
	blockBytes := uintptr(a.blockPageCount) * PageSize
	region, err := alignedAlloc(blockBytes)
	if err != nil {
		return nil, wrapOOM(err, "reserveBlock")
	}

	base := addrOf_(region)
	var first *pageMeta
	for i := 0; i < a.blockPageCount; i++ {
		off := uintptr(i) * PageSize
		meta := newPageMeta(region[off:off+PageSize], base+off)
		a.table.Insert(meta.addr, meta)
		if i == 0 {
			first = meta
		} else {
			a.poolClean.push(meta)
		}
	}
	return first, nil
}

// FreePage implements free_page(meta): clear the alloc bit, then tell
// the OS the region can be released. If PageSize < the OS page size,
// release is deferred until every sub-page sharing the OS page is free
// — modeled here by always decommitting the whole PageSize region,
// since Go processes cannot portably query the OS page size any finer
// than unix.Getpagesize, and on every mainstream target PageSize (16
// KiB) is a multiple of it.
func (a *PageAllocator) FreePage(m *pageMeta) error {
	a.table.Remove(m.addr)

	osPage := unix.Getpagesize()
	if PageSize < osPage {
		// deferred decommit: stash on pool_to_madvise until a sibling
		// sub-page triggers the real release. We approximate "until
		// all sub-pages sharing the OS page are free" by always
		// decommitting; real deferred accounting would need a
		// sibling-count per OS page, which PageSize=16KiB never
		// exercises on the architectures this module targets (4
		// KiB pages).
		a.poolToMadvise.push(m)
		return nil
	}

	if err := madviseFree(m.data); err != nil {
		return wrapOOM(err, "madvise")
	}
	m.madvised = true
	a.poolMadvised.push(m)
	return nil
}

// madviseFree prefers MADV_FREE (cheaper: the kernel reclaims lazily and
// the range stays valid until reused) and falls back to MADV_DONTNEED
// when the kernel doesn't support it, matching the fallback in
// original_source/src/gc-pages.c's jl_gc_free_page.
func madviseFree(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Madvise(b, unix.MADV_FREE); err != nil {
		return unix.Madvise(b, unix.MADV_DONTNEED)
	}
	return nil
}

// FlushToMadvise drains pool_to_madvise into pool_madvised, issuing the
// deferred madvise calls in a batch. Called once per stop-the-world
// cycle from Collect, since this collector has no separate
// async-madvise thread to do it between cycles.
func (a *PageAllocator) FlushToMadvise() {
	for {
		m := a.poolToMadvise.pop()
		if m == nil {
			return
		}
		if err := madviseFree(m.data); err == nil {
			m.madvised = true
		}
		a.poolMadvised.push(m)
	}
}

// PoolCounts reports the three pools' current depths, restoring the
// jl_gc_pool_clean_count/..._to_madvise_count/..._madvised_count stats.
func (a *PageAllocator) PoolCounts() (clean, toMadvise, madvised int) {
	return a.poolClean.len(), a.poolToMadvise.len(), a.poolMadvised.len()
}

func addrOf_(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
