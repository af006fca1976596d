package gc

import "unsafe"

// SweepMode selects between quick and full sweep passes.
type SweepMode uint8

const (
	SweepQuick SweepMode = iota
	SweepFull
)

// sweepPool sweeps every page in ptls's pool for one size class,
// implementing pool-page sweep: quick sweep only touches
// pages with hasYoung set and preserves OldMarked->Old on newly promoted
// objects; full sweep touches every page and demotes all OldMarked->Old.
func (h *GlobalHeap) sweepPool(ptls *Ptls, p *pool, mode SweepMode) {
	pages := collectPoolPages(p)
	for _, page := range pages {
		if mode == SweepQuick && !page.hasYoung {
			continue
		}
		h.sweepPage(ptls, p, page, mode)
	}
}

// collectPoolPages gathers every page currently owned by p (the active
// freelist page plus every newpages entry) so sweep can visit each
// exactly once.
func collectPoolPages(p *pool) []*pageMeta {
	seen := make(map[*pageMeta]bool)
	var pages []*pageMeta
	if p.freelistPage != nil && !seen[p.freelistPage] {
		seen[p.freelistPage] = true
		pages = append(pages, p.freelistPage)
	}
	for _, pg := range p.newpages {
		if !seen[pg] {
			seen[pg] = true
			pages = append(pages, pg)
		}
	}
	return pages
}

// sweepPage implements the per-cell left-to-right scan described in
// , then decides the page's disposition.
func (h *GlobalHeap) sweepPage(ptls *Ptls, p *pool, page *pageMeta, mode SweepMode) {
	ncells := int((PageSize - PageOffset) / uintptr(page.osize))
	var freeHead, freeTail *freeCell
	survivors := 0

	for i := 0; i < ncells; i++ {
		cellAddr := page.addr + PageOffset + uintptr(i)*uintptr(page.osize)
		cellPtr := unsafe.Pointer(cellAddr)
		hdr := (*Header)(cellPtr)
		_, bits := hdr.LoadAtomic()

		switch {
		case !bits.IsMarked():
			// unmarked: prepend to the free-list builder, clear age bit.
			cell := (*freeCell)(cellPtr)
			cell.next = nil
			if freeHead == nil {
				freeHead = cell
				freeTail = cell
			} else {
				cell.next = freeHead
				freeHead = cell
			}
			page.clearAgeBit(i)

		case page.ageBit(i) || bits == OldMarked:
			// keep; promote to Old if this is a full sweep or the object
			// was plain Marked (just-promoted case).
			survivors++
			if mode == SweepFull || bits == Marked {
				hdr.StoreBits(Old)
			}

		default:
			// must be Marked: set to Clean, set age bit, mark the page
			// young (it now holds a just-survived-once object).
			survivors++
			hdr.StoreBits(Clean)
			page.setAgeBit(i)
			page.hasYoung = true
		}
	}
	_ = freeTail

	h.dispositionPage(ptls, p, page, freeHead, survivors, mode)
}

// dispositionPage implements page-disposition rule: if no
// marked object survived and the lazy-page cache isn't already at
// capacity, reset and keep the page on newpages; else record the
// free-list bounds, or return the page to the OS if it's now entirely
// free.
func (h *GlobalHeap) dispositionPage(ptls *Ptls, p *pool, page *pageMeta, freeHead *freeCell, survivors int, mode SweepMode) {
	if survivors == 0 {
		if h.lazyPageCacheLen() < int(DefaultCollectInterval/int64(PageSize)) {
			h.resetPage(p, page, freeHead)
			return
		}
		removePoolPage(p, page)
		if err := h.pages.FreePage(page); err != nil {
			h.logf("sweep: free_page: %v", err)
		}
		return
	}

	page.freeListBegin, page.freeListEnd = freeCellSpan(freeHead, page.addr, page.osize)
	page.nfree = uint32(countFreeCells(freeHead))
	if mode == SweepFull {
		page.prevNold = page.nold
		page.nold = 0
	}
	spliceFreelist(p, page, freeHead)
}

// freeCellSpan computes the byte-offset range (relative to pageAddr)
// spanning every cell in the chain, so conservative pointer resolution
// can fast-reject addresses outside it without walking the list.
func freeCellSpan(head *freeCell, pageAddr uintptr, osize uint32) (begin, end uint32) {
	if head == nil {
		return 0, 0
	}
	begin = ^uint32(0)
	for c := head; c != nil; c = c.next {
		off := uint32(uintptr(unsafe.Pointer(c)) - pageAddr)
		if off < begin {
			begin = off
		}
		if off+osize > end {
			end = off + osize
		}
	}
	return begin, end
}

func countFreeCells(head *freeCell) int {
	n := 0
	for c := head; c != nil; c = c.next {
		n++
	}
	return n
}

func spliceFreelist(p *pool, page *pageMeta, freeHead *freeCell) {
	if freeHead == nil {
		return
	}
	if p.freelist == nil {
		p.freelist = freeHead
		p.freelistPage = page
		return
	}
	tail := freeHead
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = p.freelist
	p.freelist = freeHead
	p.freelistPage = page
}

func removePoolPage(p *pool, page *pageMeta) {
	for i, pg := range p.newpages {
		if pg == page {
			p.newpages = append(p.newpages[:i], p.newpages[i+1:]...)
			return
		}
	}
}

func (h *GlobalHeap) lazyPageCacheLen() int {
	clean, _, _ := h.pages.PoolCounts()
	return clean
}

// SweepBigObjects walks a thread's big list and, on a full sweep, the
// global big_objects_marked list: marked survivors are promoted per age
// and mode and moved to the surviving list; unmarked ones are unlinked,
// notify_external_free fires, and they're freed.
func (h *GlobalHeap) SweepBigObjects(ptls *Ptls, mode SweepMode) {
	sweepBigList(h, &ptls.bigObjects, mode)
	if mode == SweepFull {
		sweepBigList(h, &h.bigObjectsMarked, mode)
	}
}

func sweepBigList(h *GlobalHeap, head **bigObjHead, mode SweepMode) {
	b := *head
	for b != nil {
		next := b.next
		_, bits := b.header.LoadAtomic()
		if bits.IsMarked() {
			age := b.age()
			if mode == SweepFull || age < PromoteAge {
				b.setAge(bumpAge(age))
			}
			if mode == SweepFull {
				b.header.StoreBits(Old)
			} else if bits == Marked {
				b.header.StoreBits(Old)
			}
		} else {
			listUnlink(b)
			h.notifyExternalFree(b.payload())
			sz := b.size()
			if err := alignedFree(bigObjBytes(b)); err != nil {
				h.logf("sweep: big object free: %v", err)
			}
			h.stats.freed(int64(sz))
		}
		b = next
	}
}

// RestampRemset implements the post-sweep remset handling: quick sweep
// re-stamps every remset entry back to Marked (so it won't re-fire the
// barrier); full sweep clears the remsets entirely.
func (h *GlobalHeap) RestampRemset(ptls *Ptls, mode SweepMode) {
	rs := ptls.remset()
	if mode == SweepQuick {
		for _, obj := range *rs {
			obj.Header.StoreBits(Marked)
		}
		return
	}
	*rs = nil
	*ptls.lastRemset() = nil
	ptls.remBindings = nil
}

// SweepMallocArrays and SweepForeign implement "Other
// sweeps": malloc-backed arrays and foreign objects with a user-supplied
// sweep function each iterate their tracked lists. A tracked array's own
// liveness is decided by the Array that owns it (markBufferArray marks
// the owner, not the tracked-array record); this pass only bumps the
// age of every tracked entry and never removes one from the list.
func (h *GlobalHeap) SweepMallocArrays(ptls *Ptls) {
	for _, a := range ptls.mallocArrays {
		a.age = bumpAge(a.age)
	}
}

func (h *GlobalHeap) SweepForeign(ptls *Ptls) {
	for _, f := range ptls.foreignSweep {
		f.Sweep()
	}
}
