package gc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// alignedAlloc and alignedFree abstract platform-specific aligned
// allocation. On 64-bit systems the OS page allocator
// already returns page-aligned regions, so both size-classed and
// big-object cells only ever need the standard 16-byte HeapAlignment;
// we get that straight from mmap's own page alignment and never need a
// posix_memalign-style call.
func alignedAlloc(size uintptr) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, wrapOOM(err, "alignedAlloc")
	}
	return buf, nil
}

func alignedFree(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munmap(buf)
}

// alignedRealloc grows or shrinks buf by allocating a fresh region and
// copying. mmap-backed regions cannot be resized in place portably, so
// this always copies and never resizes in place; callers on a hot path
// (big-object realloc_string) avoid calling this when they can instead
// unlink/relink without resizing.
func alignedRealloc(buf []byte, newSize uintptr) ([]byte, error) {
	nb, err := alignedAlloc(newSize)
	if err != nil {
		return nil, err
	}
	n := copy(nb, buf)
	_ = n
	if err := alignedFree(buf); err != nil {
		return nil, err
	}
	return nb, nil
}

// PermArena is the bump-pointer region for immortal small objects
//. Its pages are never reclaimed or swept.
type PermArena struct {
	mu    sync.Mutex // gc_perm_lock
	pool  []byte
	cur   uintptr // offset into pool
	total int64    // bytes ever handed out, for stats
}

// NewPermArena constructs an empty arena; the first allocation triggers
// the initial OS region reservation.
func NewPermArena() *PermArena {
	return &PermArena{}
}

// Alloc serves sz bytes from the bump arena under gc_perm_lock. Sizes
// over PermPoolLimit go straight to a dedicated OS region instead of
// consuming the shared bump pool. The returned pointer p satisfies
// (p+offset) mod align == 0.
func (p *PermArena) Alloc(sz uintptr, zero bool, align uintptr, offset uintptr) (unsafe.Pointer, error) {
	if align == 0 {
		align = HeapAlignment
	}
	if sz > PermPoolLimit {
		buf, err := alignedAlloc(alignUp(sz+align, align))
		if err != nil {
			return nil, err
		}
		ptr := alignPointer(unsafe.Pointer(&buf[0]), align, offset)
		atomic.AddInt64(&p.total, int64(sz))
		keepAlive(buf)
		return ptr, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	need := alignUpOffset(p.cur, align, offset) + sz
	if p.pool == nil || need > uintptr(len(p.pool)) {
		buf, err := alignedAlloc(PermPoolSize)
		if err != nil {
			return nil, err
		}
		p.pool = buf
		p.cur = 0
		need = alignUpOffset(p.cur, align, offset) + sz
	}

	start := alignUpOffset(p.cur, align, offset)
	p.cur = start + sz
	p.total += int64(sz)

	region := p.pool[start : start+sz]
	if zero {
		for i := range region {
			region[i] = 0
		}
	}
	return unsafe.Pointer(&region[0]), nil
}

// TotalBytes is the number of bytes ever handed out by the arena.
func (p *PermArena) TotalBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func alignUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// alignUpOffset finds the smallest start >= cur such that
// (start+offset) mod align == 0.
func alignUpOffset(cur, align, offset uintptr) uintptr {
	want := alignUp(cur+offset, align) - offset
	if want < cur {
		want += align
	}
	return want
}

func alignPointer(base unsafe.Pointer, align, offset uintptr) unsafe.Pointer {
	addr := uintptr(base)
	aligned := alignUpOffset(addr, align, offset)
	return unsafe.Pointer(aligned)
}

// keepAlive is a documentation-only no-op mirroring runtime.KeepAlive
// call sites in comparable allocators, used here so the backing
// mmap slice is never collected by the Go runtime's own GC before the
// unsafe.Pointer escapes.
func keepAlive(b []byte) {}
