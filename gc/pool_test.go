package gc

import (
	"testing"
	"unsafe"
)

func newTestHeap() *GlobalHeap {
	return &GlobalHeap{pages: NewPageAllocator(1), interval: 1 << 30, stats: &Stats{}}
}

func TestPoolAllocDistinctCells(t *testing.T) {
	h := newTestHeap()
	ptls := &Ptls{}
	h.RegisterThread(ptls)

	class := szclass(32)
	a, err := h.PoolAlloc(ptls, class, uint32(classSize(class)))
	if err != nil {
		t.Fatalf("PoolAlloc failed: %v", err)
	}
	b, err := h.PoolAlloc(ptls, class, uint32(classSize(class)))
	if err != nil {
		t.Fatalf("PoolAlloc failed: %v", err)
	}
	if a == b {
		t.Fatal("two live PoolAlloc calls returned the same cell")
	}

	meta := h.pages.PageMetadata(uintptr(a))
	if meta == nil {
		t.Fatal("PoolAlloc returned an address with no page metadata")
	}
	if meta.osize != uint32(classSize(class)) {
		t.Errorf("page osize = %d, want %d", meta.osize, classSize(class))
	}
}

func TestPoolAllocBumpsAcrossPage(t *testing.T) {
	h := newTestHeap()
	ptls := &Ptls{}
	h.RegisterThread(ptls)

	// Largest class cell, so a single page's cells run out quickly and
	// addPage is exercised within one test.
	class := szclass(GCMaxSzClass)
	ncells := int((PageSize - PageOffset) / classSize(class))

	seen := make(map[uintptr]bool)
	for i := 0; i < ncells+1; i++ {
		ptr, err := h.PoolAlloc(ptls, class, uint32(classSize(class)))
		if err != nil {
			t.Fatalf("PoolAlloc #%d failed: %v", i, err)
		}
		addr := uintptr(ptr)
		if seen[addr] {
			t.Fatalf("PoolAlloc #%d reused a still-live address", i)
		}
		seen[addr] = true
	}
}

func TestResetPageFreeListSpan(t *testing.T) {
	h := newTestHeap()
	ptls := &Ptls{}
	h.RegisterThread(ptls)

	p := &ptls.pools[szclass(wordSize)]
	meta, err := h.addPage(ptls, p)
	if err != nil {
		t.Fatalf("addPage failed: %v", err)
	}

	h.resetPage(p, meta, nil)

	if meta.freeListBegin != PageOffset {
		t.Errorf("freeListBegin = %d, want %d", meta.freeListBegin, PageOffset)
	}
	if meta.freeListEnd != uint32(PageSize) {
		t.Errorf("freeListEnd = %d, want %d", meta.freeListEnd, PageSize)
	}

	first := (*freeCell)(unsafe.Pointer(&meta.data[PageOffset]))
	if !meta.cellIsFree(PageOffset) {
		t.Error("cellIsFree should report the reset page's first cell as free")
	}
	_ = first
}
