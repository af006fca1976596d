package gc

import "github.com/pkg/errors"

// Sentinel errors for error-kind table. Callers that cross
// an OS or allocation boundary get these wrapped with errors.Wrap so the
// original cause survives (errors.Cause unwraps back to one of these).
var (
	// ErrOutOfMemory is raised when the OS allocator returns null or
	// size arithmetic overflows. It unwinds to the mutator the way the
	// host's memory_exception does.
	ErrOutOfMemory = errors.New("gc: out of memory")

	// ErrSizeOverflow is a narrower OutOfMemory cause: align(sz+header,
	// CACHE_ALIGN) overflowed uintptr arithmetic before any OS call was
	// attempted.
	ErrSizeOverflow = errors.New("gc: allocation size overflow")

	// ErrBadInternalPointer is returned by InternalObjBasePtr when asked
	// to resolve a pointer into a freelist cell or tag-only region; it is
	// not fatal, just nil-shaped for the conservative scanner.
	ErrBadInternalPointer = errors.New("gc: pointer does not resolve to a live object")
)

// wrapOOM is the single call site that turns an OS allocation failure
// into a wrapped ErrOutOfMemory, matching a single
// sysAlloc-failure throw site. errors.Cause(err) always recovers
// ErrOutOfMemory for callers that only care about the kind.
func wrapOOM(cause error, what string) error {
	if cause == nil {
		return nil
	}
	return errors.Wrapf(ErrOutOfMemory, "%s: %v", what, cause)
}
