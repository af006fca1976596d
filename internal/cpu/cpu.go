// Package cpu holds the small set of cache-geometry constants the
// collector needs to keep hot per-size-class structures from false
// sharing, mirroring the runtime's own internal/cpu.CacheLinePadSize
// use in its mcentral array.
package cpu

// CacheLinePadSize is the assumed L1 cache line size used to pad
// contended per-size-class structures apart from each other.
const CacheLinePadSize = 64

// Pad is a zero-cost-to-name byte array sized to round a struct up to
// a cache-line boundary. Embed it after the fields that are actually
// read/written on the hot path.
type Pad [CacheLinePadSize]byte
