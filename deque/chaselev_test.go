package deque

import (
	"sort"
	"sync"
	"testing"
)

func TestChaseLevDequeSingleThreaded(t *testing.T) {
	d := NewChaseLevDeque(4)
	for i := 0; i < 10; i++ {
		d.PushBottom(i)
	}
	if d.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", d.Len())
	}
	for i := 9; i >= 0; i-- {
		v, ok := d.PopBottom()
		if !ok {
			t.Fatalf("PopBottom() failed at i=%d", i)
		}
		if v.(int) != i {
			t.Fatalf("PopBottom() = %v, want %d", v, i)
		}
	}
	if _, ok := d.PopBottom(); ok {
		t.Fatal("PopBottom() on empty deque should fail")
	}
}

func TestChaseLevDequeGrows(t *testing.T) {
	d := NewChaseLevDeque(1)
	n := 1000
	for i := 0; i < n; i++ {
		d.PushBottom(i)
	}
	if d.Len() != int64(n) {
		t.Fatalf("Len() = %d, want %d", d.Len(), n)
	}
	for i := n - 1; i >= 0; i-- {
		v, ok := d.PopBottom()
		if !ok || v.(int) != i {
			t.Fatalf("PopBottom() = (%v, %v), want (%d, true)", v, ok, i)
		}
	}
}

// TestChaseLevDequeConcurrentSteal pushes a known set of values and lets
// several thief goroutines race PopBottom/Steal; every value must be
// observed exactly once across the two.
func TestChaseLevDequeConcurrentSteal(t *testing.T) {
	d := NewChaseLevDeque(4)
	const n = 5000
	for i := 0; i < n; i++ {
		d.PushBottom(i)
	}

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for th := 0; th < 8; th++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := d.Steal()
				if !ok {
					if d.Len() <= 0 {
						return
					}
					continue
				}
				mu.Lock()
				got = append(got, v.(int))
				mu.Unlock()
			}
		}()
	}
	for {
		v, ok := d.PopBottom()
		if !ok {
			break
		}
		mu.Lock()
		got = append(got, v.(int))
		mu.Unlock()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Fatalf("observed %d values total across owner and thieves, want %d", len(got), n)
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("duplicate or missing value at position %d: got %d", i, v)
		}
	}
}
