package gc

import "testing"

func TestMaybeCollectDefersWhileDisabled(t *testing.T) {
	h := &GlobalHeap{interval: 100}
	ptls := &Ptls{}
	ptls.counters.allocd = 500

	h.DisableGC()
	h.maybeCollect(ptls)

	if ptls.counters.allocd != 0 {
		t.Errorf("maybeCollect left allocd = %d while disabled, want 0 (deposited)", ptls.counters.allocd)
	}
	if h.deferredAlloc != 500 {
		t.Errorf("deferredAlloc = %d, want 500", h.deferredAlloc)
	}
}

func TestCombineThreadCountersFoldsDeferredAlloc(t *testing.T) {
	h := &GlobalHeap{deferredAlloc: 200, stats: &Stats{}}
	ptls := &Ptls{}
	ptls.counters.allocd = 50

	got := h.combineThreadCounters([]*Ptls{ptls})
	if got != 250 {
		t.Errorf("combineThreadCounters() = %d, want 250 (200 deferred + 50 live)", got)
	}
	if h.deferredAlloc != 0 {
		t.Errorf("deferredAlloc not reset after fold-back: %d", h.deferredAlloc)
	}
}
