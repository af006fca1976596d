package deque

import "sync/atomic"

// IdempotentDeque is an "idempotent" variant usable as a mark-queue
// backing: unlike ChaseLevDeque, a Steal call that loses its
// race simply reports failure without ever mutating top on a lost CAS,
// so repeating the exact same steal attempt (same t, same generation)
// is safe to retry blindly — useful when a caller can't easily tell
// whether its previous attempt already took effect.
type IdempotentDeque struct {
	top    int64 // atomic
	bottom int64 // atomic
	arr    atomic.Value // *array
}

// NewIdempotentDeque mirrors NewChaseLevDeque's sizing.
func NewIdempotentDeque(initialCapacity int64) *IdempotentDeque {
	if initialCapacity <= 0 {
		initialCapacity = 256
	}
	d := &IdempotentDeque{}
	d.arr.Store(newArray(initialCapacity))
	return d
}

func (d *IdempotentDeque) array() *array { return d.arr.Load().(*array) }

// PushBottom is identical to ChaseLevDeque's: only the owner calls it.
func (d *IdempotentDeque) PushBottom(v interface{}) {
	b := atomic.LoadInt64(&d.bottom)
	t := atomic.LoadInt64(&d.top)
	a := d.array()
	if b-t >= a.size() {
		grown := a.grow(b, t)
		d.arr.Store(grown)
		a = grown
	}
	a.put(b, v)
	atomic.StoreInt64(&d.bottom, b+1)
}

// PopBottom mirrors ChaseLevDeque.PopBottom.
func (d *IdempotentDeque) PopBottom() (interface{}, bool) {
	b := atomic.LoadInt64(&d.bottom) - 1
	a := d.array()
	atomic.StoreInt64(&d.bottom, b)
	t := atomic.LoadInt64(&d.top)

	if t > b {
		atomic.StoreInt64(&d.bottom, t)
		return nil, false
	}
	v := a.get(b)
	if t == b {
		if !atomic.CompareAndSwapInt64(&d.top, t, t+1) {
			atomic.StoreInt64(&d.bottom, t+1)
			return nil, false
		}
		atomic.StoreInt64(&d.bottom, t+1)
		return v, true
	}
	return v, true
}

// Steal never advances top past what a concurrent thief already
// claimed: it reads the slot, then checks that top hasn't moved past t
// before trusting the read, and only then attempts the CAS. If top moved
// or the CAS loses, Steal fails at once without retrying; a caller that
// wants another attempt calls Steal again.
func (d *IdempotentDeque) Steal() (interface{}, bool) {
	t := atomic.LoadInt64(&d.top)
	b := atomic.LoadInt64(&d.bottom)
	if t >= b {
		return nil, false
	}
	a := d.array()
	v := a.get(t)
	if atomic.LoadInt64(&d.top) != t {
		return nil, false
	}
	if !atomic.CompareAndSwapInt64(&d.top, t, t+1) {
		return nil, false
	}
	return v, true
}

// Len mirrors ChaseLevDeque.Len.
func (d *IdempotentDeque) Len() int64 {
	b := atomic.LoadInt64(&d.bottom)
	t := atomic.LoadInt64(&d.top)
	if b < t {
		return 0
	}
	return b - t
}
