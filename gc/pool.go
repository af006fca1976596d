package gc

import (
	"sync/atomic"
	"unsafe"
)

// PoolAlloc implements pool_alloc(ptls, class, osize):
// returns a tagged-value slot of exactly osize bytes, tag uncleared.
// Returned pointers are strictly within [data+PageOffset, data+PageSize)
// for whichever page backs them.
func (h *GlobalHeap) PoolAlloc(ptls *Ptls, class int, osize uint32) (unsafe.Pointer, error) {
	h.maybeCollect(ptls)

	ptls.counters.allocd += int64(osize)
	ptls.counters.poolalloc++

	p := &ptls.pools[class]

	// 1: freelist first.
	if p.freelist != nil {
		cell := p.freelist
		p.freelist = cell.next
		ptr := unsafe.Pointer(cell)
		// If the next free cell crossed onto a different page than the
		// one we were allocating this class from, that page is now the
		// active one: its nfree is stale until swept again, and it just
		// received a fresh allocation so mark it young.
		if p.freelist != nil {
			if np := h.pages.PageMetadata(uintptr(unsafe.Pointer(p.freelist))); np != p.freelistPage {
				if np != nil {
					np.nfree = 0
					np.hasYoung = true
				}
				p.freelistPage = np
			}
		}
		zeroHeader(ptr)
		return ptr, nil
	}

	// 2/3: bump-allocate from the current newpages head.
	for len(p.newpages) > 0 {
		head := p.newpages[0]
		if p.bumpOff == 0 {
			p.bumpOff = PageOffset
		}
		if uintptr(p.bumpOff)+uintptr(p.osize) <= PageSize {
			ptr := unsafe.Pointer(&head.data[p.bumpOff])
			p.bumpOff += p.osize
			head.nfree--
			zeroHeader(ptr)
			return ptr, nil
		}
		// 4: current page exhausted; walk to the next reserve page.
		p.newpages = p.newpages[1:]
		p.bumpOff = 0
	}

	// 5: no reserve left; allocate a fresh page.
	meta, err := h.addPage(ptls, p)
	if err != nil {
		return nil, err
	}
	p.newpages = append(p.newpages, meta)
	p.bumpOff = PageOffset
	ptr := unsafe.Pointer(&meta.data[p.bumpOff])
	p.bumpOff += p.osize
	meta.nfree--
	zeroHeader(ptr)
	return ptr, nil
}

// addPage implements add_page(pool): commit a fresh page from the
// global page allocator and initialize its metadata for this pool's
// class.
func (h *GlobalHeap) addPage(ptls *Ptls, p *pool) (*pageMeta, error) {
	meta, err := h.pages.AllocPage()
	if err != nil {
		return nil, err
	}
	ncells := int((PageSize - PageOffset) / uintptr(p.osize))
	meta.owner = ptls
	meta.poolIdx = p.class
	meta.osize = p.osize
	meta.nfree = uint32(ncells)
	meta.nold = 0
	meta.prevNold = 0
	meta.hasMarked = false
	meta.hasYoung = true
	meta.freeListBegin = 0
	meta.freeListEnd = 0
	meta.allocAgeBits(ncells)
	return meta, nil
}

// resetPage implements reset_page(pool, page, oldfl):
// rewrites a swept page's metadata for reuse and splices oldfl after
// the page's first cell so the new allocation head is singular,
// preventing fragmentation across multiple simultaneously-allocated
// pages.
func (h *GlobalHeap) resetPage(p *pool, page *pageMeta, oldfl *freeCell) {
	ncells := int((PageSize - PageOffset) / uintptr(page.osize))
	page.nfree = uint32(ncells)
	page.hasMarked = false
	page.hasYoung = false
	page.allocAgeBits(ncells)
	page.freeListBegin = PageOffset
	page.freeListEnd = uint32(PageSize)

	first := (*freeCell)(unsafe.Pointer(&page.data[PageOffset]))
	first.next = oldfl
	p.freelist = first
	p.freelistPage = page
}

// cellIsFree reports whether the cell at the given byte offset into
// meta is currently free rather than holding a live object: either
// still unbumped reserve in the pool's active newpages entry, or a
// cell sitting on the pool's free-list chain within the page's last
// recorded free span. This is the disambiguation conservative pointer
// resolution needs before treating a resolved cell base as a live
// object base (a freelist/reserve cell must resolve to nothing).
func (meta *pageMeta) cellIsFree(offset uintptr) bool {
	if meta.owner == nil {
		return false
	}
	p := &meta.owner.pools[meta.poolIdx]

	for i, pg := range p.newpages {
		if pg != meta {
			continue
		}
		if i == 0 {
			return offset >= uintptr(p.bumpOff)
		}
		return true
	}

	if offset < uintptr(meta.freeListBegin) || offset >= uintptr(meta.freeListEnd) {
		return false
	}
	target := unsafe.Pointer(meta.addr + offset)
	for c := p.freelist; c != nil; c = c.next {
		if unsafe.Pointer(c) == target {
			return true
		}
	}
	return false
}

// zeroHeader clears the header word so callers never observe a stale
// GC-state/type-pointer pair from a previous tenant of the cell; the
// caller is responsible for installing the real Header immediately
// after allocation returns (osize bytes, tag uncleared.
func zeroHeader(ptr unsafe.Pointer) {
	*(*uintptr)(ptr) = 0
}

// allocdSnapshot reads a thread's allocd counter without a lock. The
// driver does not call it: combineThreadCounters reads and resets the
// counters itself with atomic swaps.
func (t *Ptls) allocdSnapshot() int64 { return atomic.LoadInt64(&t.counters.allocd) }
