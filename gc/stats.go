package gc

import "sync"

// Stats owns the global GCNum snapshot and supports the diffing
// operations gc_get_total_bytes, gc_live_bytes and gc_diff_total_bytes
// mirror.
type Stats struct {
	mu  sync.Mutex
	num GCNum

	liveBytes      int64
	lastSnapshot   int64 // total bytes at the last DiffTotalBytes call
	promotedBytes  int64
	permScannedBytes int64
}

func (s *Stats) allocd(n int64) {
	s.mu.Lock()
	s.num.Allocd += n
	s.liveBytes += n
	s.mu.Unlock()
}

func (s *Stats) freed(n int64) {
	s.mu.Lock()
	s.num.Freed += n
	s.liveBytes -= n
	s.mu.Unlock()
}

// Snapshot returns a copy of the current global counters.
func (s *Stats) Snapshot() GCNum {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.num
}

// TotalBytes implements gc_get_total_bytes: cumulative bytes recorded
// in GCNum.Allocd. Only big-object allocations (reported through
// notifyExternalAlloc) are recorded there; pool allocations are not.
func (s *Stats) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.num.Allocd
}

// LiveBytes implements gc_live_bytes: bytes currently reachable,
// allocd-freed.
func (s *Stats) LiveBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveBytes
}

// DiffTotalBytes implements gc_diff_total_bytes: bytes allocated since
// the last call to this method.
func (s *Stats) DiffTotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.num.Allocd - s.lastSnapshot
	s.lastSnapshot = s.num.Allocd
	return d
}

func (s *Stats) resetPermScannedAndPromoted() {
	s.mu.Lock()
	s.permScannedBytes = 0
	s.promotedBytes = 0
	s.mu.Unlock()
}
