package gc

import (
	"sync/atomic"
	"unsafe"
)

// WriteBarrierBack implements gc_wb_back / the write barrier described
// in : called after mutator code overwrites a field of an
// old object with a reference to a young object. If the target is Old,
// its bits demote to Marked and it is pushed onto the current thread's
// remset.
func (ptls *Ptls) WriteBarrierBack(parent *Header) {
	if !ptls.demoteIfOld(parent) {
		return
	}
	// Header is Object's only field, at offset 0, so a bare pointer
	// reinterpretation recovers the Object every allocator in this
	// package returns (PoolAlloc/BigAlloc both place Header at the start
	// of the cell).
	obj := (*Object)(unsafe.Pointer(parent))
	rs := ptls.remset()
	*rs = append(*rs, obj)
	atomic.AddInt64(&ptls.remsetNPtr, 1)
}

// demoteIfOld performs the CAS from {Old, OldMarked} to Marked — the
// demotion only ever drops the Old bit, never clears Marked, so a
// concurrently-marking collector can never observe an object becoming
// unmarked.
func (ptls *Ptls) demoteIfOld(h *Header) bool {
	for {
		bits := h.Bits()
		if !bits.IsOld() {
			return false
		}
		if h.CASBits(bits, Marked) {
			return true
		}
	}
}

// QueueMultiroot implements queue_multiroot(parent, child): inspects the type layout's first pointer and further pointer
// slots; if any referenced value is young, the parent is re-enrolled in
// the remset (its header is demoted and pushed) even if the barrier
// already ran once this cycle for a different field.
func (ptls *Ptls) QueueMultiroot(parent *Object, layout *DatatypeLayout, fields []*Header) {
	if layout == nil || layout.FirstPtr < 0 {
		return
	}
	for _, f := range fields {
		if f == nil {
			continue
		}
		if !f.Bits().IsOld() {
			ptls.WriteBarrierBack(&parent.Header)
			return
		}
	}
}

// QueueBinding implements queue_binding(binding):
// bindings are tracked identically to objects but in a separate
// per-thread list because they are not first-class.
func (ptls *Ptls) QueueBinding(b *Binding) {
	if !ptls.demoteIfOld(&b.header) {
		return
	}
	ptls.remBindings = append(ptls.remBindings, b)
}
