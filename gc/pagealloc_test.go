package gc

import "testing"

func TestAllocPageFreePageRoundTrip(t *testing.T) {
	a := NewPageAllocator(1)

	m, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage failed: %v", err)
	}
	addr := m.addr

	if a.PageMetadata(addr) == nil {
		t.Fatal("PageMetadata is nil right after AllocPage")
	}

	if err := a.FreePage(m); err != nil {
		t.Fatalf("FreePage failed: %v", err)
	}
	if a.PageMetadata(addr) != nil {
		t.Fatal("PageMetadata should be nil immediately after FreePage")
	}

	reused, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage (reuse) failed: %v", err)
	}
	if reused.addr != addr {
		t.Fatalf("expected the freed page to be recycled, got a different address")
	}
	// Invariant 4: page_metadata must be non-null for every address in a
	// live page, including one that has already been through one
	// free/reuse cycle.
	if got := a.PageMetadata(addr); got == nil {
		t.Fatal("PageMetadata(addr) is nil for a page popped back off the free pools — invariant 4 violated")
	} else if got != reused {
		t.Fatalf("PageMetadata(addr) = %p, want the just-reused page %p", got, reused)
	}
}

func TestAllocPageFreePageRoundTripViaMadvised(t *testing.T) {
	a := NewPageAllocator(1)

	m, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage failed: %v", err)
	}
	addr := m.addr

	// Force the madvised path rather than the deferred to_madvise path
	// FreePage takes when PageSize < the OS page size.
	if err := madviseFree(m.data); err != nil {
		t.Fatalf("madviseFree failed: %v", err)
	}
	m.madvised = true
	a.table.Remove(m.addr)
	a.poolMadvised.push(m)

	reused, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage (reuse) failed: %v", err)
	}
	if reused.addr != addr {
		t.Fatal("expected the madvised page to be recycled first")
	}
	if a.PageMetadata(addr) == nil {
		t.Fatal("PageMetadata(addr) is nil after popping a page off pool_madvised")
	}
	if reused.madvised {
		t.Fatal("AllocPage should clear madvised on reuse")
	}
}

func TestFlushToMadvise(t *testing.T) {
	a := NewPageAllocator(1)
	m, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage failed: %v", err)
	}
	a.table.Remove(m.addr)
	a.poolToMadvise.push(m)

	a.FlushToMadvise()

	clean, toMadvise, madvised := a.PoolCounts()
	if toMadvise != 0 {
		t.Errorf("pool_to_madvise depth = %d, want 0 after FlushToMadvise", toMadvise)
	}
	if madvised != 1 {
		t.Errorf("pool_madvised depth = %d, want 1 after FlushToMadvise", madvised)
	}
	_ = clean
	if !m.madvised {
		t.Error("FlushToMadvise did not mark the page madvised")
	}
}
