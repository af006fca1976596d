package gc

// MarkQueue is a per-thread, heap-allocated contiguous buffer used as a
// LIFO stack. Every other queue strategy (prefetch-buffered stack,
// Chase-Lev/idempotent deques from the deque package) must satisfy the
// same push/pop/resize contract so the mark engine stays agnostic to
// which one backs it.
type MarkQueue struct {
	buf     []*Object
	current int // index one past the top element
}

// NewMarkQueue allocates a queue with an initial capacity; it doubles in
// place on overflow rather than being resized externally.
func NewMarkQueue(initialCap int) *MarkQueue {
	if initialCap <= 0 {
		initialCap = 256
	}
	return &MarkQueue{buf: make([]*Object, initialCap)}
}

// Push implements push(obj): doubles the backing array in place if full,
// then stores and advances current.
func (q *MarkQueue) Push(obj *Object) {
	if q.current == len(q.buf) {
		grown := make([]*Object, len(q.buf)*2)
		copy(grown, q.buf)
		q.buf = grown
	}
	q.buf[q.current] = obj
	q.current++
}

// Pop implements pop(): returns nil if empty, else decrements and
// returns the top.
func (q *MarkQueue) Pop() *Object {
	if q.current == 0 {
		return nil
	}
	q.current--
	obj := q.buf[q.current]
	q.buf[q.current] = nil
	return obj
}

// Empty reports whether the queue has no pending work.
func (q *MarkQueue) Empty() bool { return q.current == 0 }

// Len reports the number of pending entries, used by diagnostics only.
func (q *MarkQueue) Len() int { return q.current }

// PFSize and PFMin parameterize the prefetch-buffered stack variant
//: PFSize is the FIFO's capacity, PFMin the low-water
// mark below which it refills from the backing stack.
const (
	PFSize = 16
	PFMin  = 4
)

// PrefetchQueue fronts a MarkQueue with a small FIFO to reduce
// cache-miss stalls on the mark loop's hot path.
type PrefetchQueue struct {
	stack *MarkQueue
	fifo  []*Object // ring buffer, head at fifoHead
	fifoHead int
	fifoLen  int
}

// NewPrefetchQueue wraps stack with a PFSize-capacity FIFO prefetch
// buffer.
func NewPrefetchQueue(stack *MarkQueue) *PrefetchQueue {
	return &PrefetchQueue{stack: stack, fifo: make([]*Object, PFSize)}
}

// Push inserts into the FIFO unless it's full, in which case it falls
// through to the backing stack.
func (q *PrefetchQueue) Push(obj *Object) {
	if q.fifoLen < PFSize {
		idx := (q.fifoHead + q.fifoLen) % PFSize
		q.fifo[idx] = obj
		q.fifoLen++
		return
	}
	q.stack.Push(obj)
}

// Pop returns from the FIFO while it holds more than PFMin items, else
// pops the stack and refills the FIFO by one, "prefetching" the next
// value the way a real prefetch-buffered stack warms cache lines ahead
// of use.
func (q *PrefetchQueue) Pop() *Object {
	if q.fifoLen > PFMin {
		return q.popFIFO()
	}
	obj := q.stack.Pop()
	if obj == nil {
		if q.fifoLen > 0 {
			return q.popFIFO()
		}
		return nil
	}
	if q.fifoLen < PFSize {
		idx := (q.fifoHead + q.fifoLen) % PFSize
		q.fifo[idx] = obj
		q.fifoLen++
		return q.popFIFO()
	}
	return obj
}

func (q *PrefetchQueue) popFIFO() *Object {
	obj := q.fifo[q.fifoHead]
	q.fifo[q.fifoHead] = nil
	q.fifoHead = (q.fifoHead + 1) % PFSize
	q.fifoLen--
	return obj
}

// Empty reports whether both the FIFO and the backing stack are empty.
func (q *PrefetchQueue) Empty() bool { return q.fifoLen == 0 && q.stack.Empty() }
