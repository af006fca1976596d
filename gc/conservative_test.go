package gc

import (
	"testing"
	"unsafe"
)

func TestConservativeGCDisabledByDefault(t *testing.T) {
	if ConservativeGCEnabled() {
		t.Fatal("conservative GC support should default to disabled")
	}
}

func TestInternalObjBasePtrBigObject(t *testing.T) {
	h := &GlobalHeap{pages: NewPageAllocator(1), interval: 1 << 30, stats: &Stats{}}
	ptls := &Ptls{}
	h.RegisterThread(ptls)

	ptr, err := h.BigAlloc(ptls, nil, 64)
	if err != nil {
		t.Fatalf("BigAlloc failed: %v", err)
	}
	b := bigObjFromPayload(ptr)
	mid := unsafe.Pointer(uintptr(unsafe.Pointer(b)) + 4)

	base, err := h.InternalObjBasePtr(mid)
	if err != nil {
		t.Fatalf("InternalObjBasePtr failed: %v", err)
	}
	if base != ptr {
		t.Errorf("InternalObjBasePtr(%p) = %p, want %p", mid, base, ptr)
	}
}

func TestInternalObjBasePtrFreeCell(t *testing.T) {
	h := &GlobalHeap{pages: NewPageAllocator(1), interval: 1 << 30, stats: &Stats{}}
	ptls := &Ptls{}
	h.RegisterThread(ptls)

	class := szclass(wordSize)
	ptr, err := h.PoolAlloc(ptls, class, uint32(wordSize))
	if err != nil {
		t.Fatalf("PoolAlloc failed: %v", err)
	}

	meta := h.pages.PageMetadata(uintptr(ptr))
	if meta == nil {
		t.Fatal("PoolAlloc returned an address with no page metadata")
	}
	// Leave the cell unmarked and sweep: sweepPage finds nothing marked
	// and chains the cell onto the pool's free-list.
	h.sweepPool(ptls, &ptls.pools[class], SweepFull)

	if _, err := h.InternalObjBasePtr(ptr); err != ErrBadInternalPointer {
		t.Fatalf("InternalObjBasePtr on a free-list cell = %v, want ErrBadInternalPointer", err)
	}
}

func TestInternalObjBasePtrUnresolved(t *testing.T) {
	h := &GlobalHeap{pages: NewPageAllocator(1)}
	var x int
	if _, err := h.InternalObjBasePtr(unsafe.Pointer(&x)); err != ErrBadInternalPointer {
		t.Fatalf("InternalObjBasePtr on unmanaged memory = %v, want ErrBadInternalPointer", err)
	}
}

func TestMarkAmbiguousWordNoopWhenDisabled(t *testing.T) {
	h := &GlobalHeap{pages: NewPageAllocator(1), interval: 1 << 30, stats: &Stats{}}
	ptls := &Ptls{}
	h.RegisterThread(ptls)
	ptr, _ := h.BigAlloc(ptls, nil, 64)

	h.markAmbiguousWord(ptls, uintptr(ptr), false)
	if ptls.markQueue != nil && !ptls.markQueue.Empty() {
		t.Fatal("markAmbiguousWord pushed to the queue while conservative support was disabled")
	}
}
