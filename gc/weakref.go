package gc

import (
	"unsafe"

	"golang.org/x/exp/slices"
)

// WeakRef implements weak reference: a small
// collector-known object whose Value field the collector itself
// clears when nothing else keeps the referent alive. Unlike every
// other kind of outgoing pointer, Value is deliberately never pushed
// by MarkOutrefs and never write-barriered (jl_gc_new_weakref_th's
// comment: "NOTE: wb not needed here" — the referent's own
// reachability is decided independently of the weakref holding it).
type WeakRef struct {
	Header Header
	Value  *Object
}

// NewWeakRef implements jl_gc_new_weakref_th(ptls, value): allocates
// the WeakRef from the calling thread's pool the same way any other
// small fixed-size object is allocated, then records it on the
// thread-local weak_refs list so ClearWeakRefs and SweepWeakRefs can
// find it without a global lock.
func (h *GlobalHeap) NewWeakRef(ptls *Ptls, value *Object) (*WeakRef, error) {
	sz := unsafe.Sizeof(WeakRef{})
	ptr, err := h.PoolAlloc(ptls, szclass(sz), uint32(sz))
	if err != nil {
		return nil, err
	}
	wr := (*WeakRef)(ptr)
	wr.Value = value
	ptls.weakRefs = append(ptls.weakRefs, wr)
	return wr, nil
}

// ClearWeakRefs implements clear_weak_refs(): runs
// after marking settles and before sweep, nulling Value on every weak
// reference whose referent did not get marked this cycle.
func (h *GlobalHeap) ClearWeakRefs(threads []*Ptls) {
	for _, ptls := range threads {
		for _, wr := range ptls.weakRefs {
			if wr.Value == nil {
				continue
			}
			if _, bits := wr.Value.Header.LoadAtomic(); !bits.IsMarked() {
				wr.Value = nil
			}
		}
	}
}

// SweepWeakRefs implements gc_sweep_weak_refs(): a
// thread's own weak_refs list is compacted in place, dropping entries
// whose WeakRef object itself (not its Value — that was already
// cleared above) failed to survive the mark phase, mirroring the
// original's swap-to-front partition over the arraylist.
func (h *GlobalHeap) SweepWeakRefs(ptls *Ptls) {
	kept := ptls.weakRefs[:0]
	for _, wr := range ptls.weakRefs {
		if _, bits := wr.Header.LoadAtomic(); bits.IsMarked() {
			kept = append(kept, wr)
		}
	}
	ptls.weakRefs = slices.Clip(kept)
}
