package gc

import (
	"sync/atomic"
	"unsafe"
)

// conservativeGCSupport gates the ambiguous-pointer resolution path:
// off by default, matching the host's own default of disabled support
// for scanning words that might or might not be a managed pointer.
var conservativeGCSupport int32

// EnableConservativeGC turns on ambiguous-word resolution for stack
// frames marked Ambiguous. Off by default.
func EnableConservativeGC() { atomic.StoreInt32(&conservativeGCSupport, 1) }

// DisableConservativeGC turns ambiguous-word resolution back off.
func DisableConservativeGC() { atomic.StoreInt32(&conservativeGCSupport, 0) }

// ConservativeGCEnabled reports whether ambiguous-word resolution is on.
func ConservativeGCEnabled() bool { return atomic.LoadInt32(&conservativeGCSupport) != 0 }

// InternalObjBasePtr resolves an arbitrary address that may or may not
// point inside a live managed object to that object's base pointer. It
// checks the pool-page table first (O(1)), then falls back to a linear
// scan of every registered thread's big-object list. Returns
// ErrBadInternalPointer if addr doesn't resolve to any live cell —
// e.g. it lands in a free-list cell, a tag-only region, or unmanaged
// memory entirely.
func (h *GlobalHeap) InternalObjBasePtr(addr unsafe.Pointer) (unsafe.Pointer, error) {
	a := uintptr(addr)

	if meta := h.pages.PageMetadata(a); meta != nil {
		if meta.osize == 0 || a < meta.addr {
			return nil, ErrBadInternalPointer
		}
		offset := a - meta.addr
		if offset < PageOffset || offset >= uintptr(len(meta.data)) {
			return nil, ErrBadInternalPointer
		}
		osize := uintptr(meta.osize)
		cellOffset := PageOffset + (offset-PageOffset)/osize*osize
		if cellOffset+osize > PageSize {
			return nil, ErrBadInternalPointer
		}
		if meta.cellIsFree(cellOffset) {
			return nil, ErrBadInternalPointer
		}
		base := meta.addr + cellOffset
		return unsafe.Pointer(base), nil
	}

	h.mu.Lock()
	threads := append([]*Ptls(nil), h.threads...)
	h.mu.Unlock()

	for _, ptls := range threads {
		for b := ptls.bigObjects; b != nil; b = b.next {
			start := uintptr(unsafe.Pointer(b))
			end := start + b.size()
			if a >= start && a < end {
				return b.payload(), nil
			}
		}
	}

	return nil, ErrBadInternalPointer
}

// markAmbiguousWord is mark_stack's conservative counterpart: treats
// word as a candidate interior pointer rather than a precise root,
// resolving it through InternalObjBasePtr before pushing. No-op when
// ConservativeGCEnabled is false or the word doesn't resolve.
func (h *GlobalHeap) markAmbiguousWord(ptls *Ptls, word uintptr, markResetAge bool) {
	if !ConservativeGCEnabled() || word == 0 {
		return
	}
	base, err := h.InternalObjBasePtr(unsafe.Pointer(word))
	if err != nil {
		return
	}
	ptls.TryClaimAndPush((*Object)(base), Marked, markResetAge)
}
