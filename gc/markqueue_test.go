package gc

import "testing"

func TestMarkQueuePushPopLIFO(t *testing.T) {
	q := NewMarkQueue(2)
	objs := make([]*Object, 5)
	for i := range objs {
		objs[i] = &Object{}
		q.Push(objs[i])
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}
	for i := len(objs) - 1; i >= 0; i-- {
		got := q.Pop()
		if got != objs[i] {
			t.Fatalf("Pop() = %p, want %p (LIFO order)", got, objs[i])
		}
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after draining")
	}
	if q.Pop() != nil {
		t.Fatal("Pop() on empty queue should return nil")
	}
}

func TestPrefetchQueueDeliversEachPushOnce(t *testing.T) {
	stack := NewMarkQueue(16)
	pq := NewPrefetchQueue(stack)

	var pushed []*Object
	for i := 0; i < PFSize*2; i++ {
		o := &Object{}
		pushed = append(pushed, o)
		pq.Push(o)
	}

	seen := make(map[*Object]bool)
	for !pq.Empty() {
		o := pq.Pop()
		if o == nil {
			t.Fatal("Pop returned nil while Empty() reported false")
		}
		if seen[o] {
			t.Fatalf("object %p popped twice", o)
		}
		seen[o] = true
	}
	if len(seen) != len(pushed) {
		t.Fatalf("popped %d objects, pushed %d", len(seen), len(pushed))
	}
}
