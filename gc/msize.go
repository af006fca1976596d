package gc

import "modernc.org/mathutil"

// Static size-class table. Class 0 is unused (size 0 is never served from
// the pool). Grounded on cloudfly-readgo/runtime/msize.go's
// class_to_size table shape: a hand-picked geometric-ish progression
// capped at GCMaxSzClass, with the same two-tier size_to_class8 /
// size_to_class128 lookup built from it at init time rather than
// hand-transcribed (msize.go builds its tables the same way, from a
// loop over class_to_size, not by listing size_to_class entries
// directly).
var classToSize = [...]uint32{
	0,
	8, 16, 24, 32, 48, 64, 80, 96, 112, 128,
	144, 160, 176, 192, 208, 224, 240, 256, 288, 320,
	352, 384, 416, 448, 480, 512, 576, 640, 704, 768,
	896, 1024, 1152, 1280, 1408, 1536, 1792, 2032,
}

const numSizeClasses = len(classToSize)

const (
	smallSizeMax = 1024
	smallSizeDiv = 8
	largeSizeDiv = 128
)

var (
	sizeToClass8   [smallSizeMax/smallSizeDiv + 1]int8
	sizeToClass128 [(GCMaxSzClass-smallSizeMax)/largeSizeDiv + 1]int8
)

func init() {
	nextSize := 0
	for class := 1; class < numSizeClasses; class++ {
		for ; nextSize < smallSizeMax && nextSize <= int(classToSize[class]); nextSize += smallSizeDiv {
			sizeToClass8[nextSize/smallSizeDiv] = int8(class)
		}
		if nextSize >= smallSizeMax {
			for ; nextSize <= int(classToSize[class]); nextSize += largeSizeDiv {
				sizeToClass128[(nextSize-smallSizeMax)/largeSizeDiv] = int8(class)
			}
		}
	}
}

// szclass implements szclass(sz): the class index for an
// object of sz bytes, or 0 if sz exceeds GCMaxSzClass (caller routes to
// the big list in that case, per the boundary behavior in ).
func szclass(sz uintptr) int {
	if sz == 0 {
		return 1 // the smallest class serves zero-size allocations
	}
	if sz > GCMaxSzClass {
		return 0
	}
	if sz <= smallSizeMax-smallSizeDiv {
		return int(sizeToClass8[divRoundUp(sz, smallSizeDiv)])
	}
	idx := (sz + largeSizeDiv - 1 - smallSizeMax) / largeSizeDiv
	if idx >= uintptr(len(sizeToClass128)) {
		// GCMaxSzClass is not a multiple of largeSizeDiv past
		// smallSizeMax, so the last partial bucket maps to the top class.
		return numSizeClasses - 1
	}
	return int(sizeToClass128[idx])
}

// classSize returns the cell size actually backing class c.
func classSize(c int) uintptr { return uintptr(classToSize[c]) }

func divRoundUp(n, a uintptr) uintptr { return (n + a - 1) / a }

// bitLen is a small wrapper around mathutil.BitLen. Nothing in the
// package calls it at present: szclass uses table lookups, and the page
// table calls mathutil.BitLenUint64 directly.
func bitLen(n uintptr) int { return mathutil.BitLen(int(n)) }
