package gc

import "testing"

func newMarkedObject(bits GCBits) *Object {
	o := &Object{}
	o.Header = NewHeader(nil, bits)
	return o
}

func TestClearWeakRefsDropsUnmarkedValues(t *testing.T) {
	live := newMarkedObject(Marked)
	dead := newMarkedObject(Clean)

	wrLive := &WeakRef{Value: live}
	wrDead := &WeakRef{Value: dead}
	ptls := &Ptls{weakRefs: []*WeakRef{wrLive, wrDead}}

	h := &GlobalHeap{}
	h.ClearWeakRefs([]*Ptls{ptls})

	if wrLive.Value != live {
		t.Errorf("ClearWeakRefs cleared a weakref pointing at a marked object")
	}
	if wrDead.Value != nil {
		t.Errorf("ClearWeakRefs left Value set on a weakref pointing at an unmarked object")
	}
}

func TestSweepWeakRefsCompactsUnmarked(t *testing.T) {
	h := &GlobalHeap{}
	survivor := &WeakRef{Header: NewHeader(nil, Marked)}
	dead := &WeakRef{Header: NewHeader(nil, Clean)}
	ptls := &Ptls{weakRefs: []*WeakRef{survivor, dead}}

	h.SweepWeakRefs(ptls)

	if len(ptls.weakRefs) != 1 {
		t.Fatalf("weakRefs len = %d, want 1", len(ptls.weakRefs))
	}
	if ptls.weakRefs[0] != survivor {
		t.Errorf("SweepWeakRefs kept the wrong entry")
	}
}
