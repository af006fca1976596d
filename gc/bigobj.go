package gc

import (
	"unsafe"
)

// bigObjHead is a big-object's doubly-linked node: prev
// points at the previous node's next slot so unlink is O(1), and the
// combined size/age word repurposes its low two bits for age exactly
// like the plain object Header repurposes them for GC state.
type bigObjHead struct {
	next *bigObjHead
	prev **bigObjHead // address of the previous node's `next` field

	sizeAge uintptr // packSizeAge(allocSize, age)
	header  Header

	// zero-length field: it reserves no cache-line padding. Headers of
	// different big objects never share a cache line anyway, since each
	// big object gets its own page-aligned mmap region.
	_ [0]byte
}

func (b *bigObjHead) size() uintptr { return unpackSize(b.sizeAge) }
func (b *bigObjHead) age() uint8    { return unpackAge(b.sizeAge) }
func (b *bigObjHead) setAge(a uint8) {
	b.sizeAge = packSizeAge(b.size(), a)
}

// payload returns the pointer handed to the mutator: immediately past
// the doubly-linked bookkeeping, at the embedded Header.
func (b *bigObjHead) payload() unsafe.Pointer {
	return unsafe.Pointer(&b.header)
}

func bigObjFromPayload(p unsafe.Pointer) *bigObjHead {
	return (*bigObjHead)(unsafe.Pointer(uintptr(p) - unsafe.Offsetof(bigObjHead{}.header)))
}

// listInsert links b at the head of *headSlot.
func listInsert(headSlot **bigObjHead, b *bigObjHead) {
	b.next = *headSlot
	if b.next != nil {
		b.next.prev = &b.next
	}
	b.prev = headSlot
	*headSlot = b
}

// listUnlink removes b from whatever list it's on in O(1) using its
// back-pointer.
func listUnlink(b *bigObjHead) {
	*b.prev = b.next
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.next = nil
	b.prev = nil
}

// BigAlloc implements big_alloc(ptls, sz): objects above
// the pool cutoff are born old, to avoid wasted generational bookkeeping
// on allocations that are already expected to live a while.
func (h *GlobalHeap) BigAlloc(ptls *Ptls, ty *Datatype, sz uintptr) (unsafe.Pointer, error) {
	h.maybeCollect(ptls)

	headerSize := unsafe.Sizeof(bigObjHead{})
	allocSize, ok := alignOverflowCheck(sz+headerSize, CacheLineSize)
	if !ok {
		return nil, ErrSizeOverflow
	}

	buf, err := alignedAlloc(allocSize)
	if err != nil {
		return nil, wrapOOM(err, "BigAlloc")
	}

	b := (*bigObjHead)(unsafe.Pointer(&buf[0]))
	b.sizeAge = packSizeAge(allocSize, PromoteAge)
	b.header = NewHeader(ty, Old)

	h.notifyExternalAlloc(b.payload(), allocSize)

	listInsert(&ptls.bigObjects, b)
	ptls.bigObjectCount++

	ptls.counters.allocd += int64(allocSize)
	ptls.counters.bigalloc++

	return b.payload(), nil
}

// alignOverflowCheck computes align(v, a) with an overflow guard; a
// reimplementation needs this because original_source's variants
// disagree on the exact mask constant — we settle on masking the low two bits
// consistently everywhere via ageMask/sizeMask and checking overflow
// explicitly rather than relying on wraparound to signal it.
func alignOverflowCheck(v, align uintptr) (uintptr, bool) {
	aligned := (v + align - 1) &^ (align - 1)
	if aligned < v {
		return 0, false
	}
	return aligned, true
}

// ReallocString implements realloc_string(s, newsz): if
// the string is pool-allocated or already marked old, allocate fresh and
// copy; else unlink, move it into a resized region via alignedRealloc
// (which always copies), and relink at head, preserving age.
func (h *GlobalHeap) ReallocString(ptls *Ptls, ty *Datatype, s unsafe.Pointer, oldLen int, newsz uintptr) (unsafe.Pointer, error) {
	if h.pages.PageMetadata(uintptr(s)) != nil {
		return h.reallocStringFresh(ptls, ty, s, oldLen, newsz)
	}

	b := bigObjFromPayload(s)
	_, bits := b.header.LoadAtomic()
	if bits.IsOld() {
		return h.reallocStringFresh(ptls, ty, s, oldLen, newsz)
	}

	listUnlink(b)
	headerSize := unsafe.Sizeof(bigObjHead{})
	allocSize, ok := alignOverflowCheck(newsz+headerSize, CacheLineSize)
	if !ok {
		return nil, ErrSizeOverflow
	}

	oldBuf := bigObjBytes(b)
	newBuf, err := alignedRealloc(oldBuf, allocSize)
	if err != nil {
		return nil, wrapOOM(err, "ReallocString")
	}
	nb := (*bigObjHead)(unsafe.Pointer(&newBuf[0]))
	age := nb.age()
	nb.sizeAge = packSizeAge(allocSize, age)
	listInsert(&ptls.bigObjects, nb)

	ptls.counters.realloc++
	return nb.payload(), nil
}

func (h *GlobalHeap) reallocStringFresh(ptls *Ptls, ty *Datatype, s unsafe.Pointer, oldLen int, newsz uintptr) (unsafe.Pointer, error) {
	np, err := h.BigAlloc(ptls, ty, newsz)
	if err != nil {
		return nil, err
	}
	n := oldLen
	if int(newsz) < n {
		n = int(newsz)
	}
	src := unsafe.Slice((*byte)(s), n)
	dst := unsafe.Slice((*byte)(np), n)
	copy(dst, src)
	ptls.counters.realloc++
	return np, nil
}

func bigObjBytes(b *bigObjHead) []byte {
	sz := b.size()
	return unsafe.Slice((*byte)(unsafe.Pointer(b)), int(sz))
}
