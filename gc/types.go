package gc

import "unsafe"

// ObjectKind discriminates the shapes mark_outrefs dispatches on
//. The type system itself is an external collaborator;
// this package only consumes the Kind and the pointer-offset
// descriptors needed to walk references.
type ObjectKind uint8

const (
	KindGeneric ObjectKind = iota
	KindSmallRefVector
	KindDenseArray
	KindInlinePtrArray
	KindMallocArray
	KindSharedDataArray
	KindReshapedArray
	KindModule
	KindTask
	KindExceptionStack
	KindString
)

// FieldDescType mirrors fielddesc_type ∈ {0,1,2,3}:
// 8/16/32-bit pointer-offset arrays, or a dynamic type (3) that supplies
// its own mark/sweep callbacks.
type FieldDescType uint8

const (
	FieldDesc8 FieldDescType = iota
	FieldDesc16
	FieldDesc32
	FieldDescDynamic
)

// MarkOutcome is what a dynamic-type's MarkFunc reports back to the mark
// engine: whether the value itself is old, and whether it referenced any
// young value (which forces a remset re-enrollment of the caller).
type MarkOutcome struct {
	Old       bool
	RefYoung  bool
}

// FieldDescDyn holds the vtable-style callbacks a FieldDescDynamic
// layout carries.
type FieldDescDyn struct {
	MarkFunc  func(ptr unsafe.Pointer) MarkOutcome
	SweepFunc func(ptr unsafe.Pointer)
}

// DatatypeLayout is the only type-system dependency this package has:
// the pointer locations within an object of some Datatype.
type DatatypeLayout struct {
	FirstPtr   int32  // offset of the first pointer field, -1 if none
	NPointers  uint32 // total pointer fields
	NFields    uint32
	DescType   FieldDescType
	Offsets8   []uint8
	Offsets16  []uint16
	Offsets32  []uint32
	Dyn        *FieldDescDyn
	ElemIsPtr  bool // true for inline-pointer-array elements
	SinglePtr  bool // dense array fast path: every element has one pointer at FirstPtr
}

// Datatype is the host's type descriptor, reached via an object's
// Header. The collector only reads Kind and Layout.
type Datatype struct {
	Name   string
	Kind   ObjectKind
	Layout *DatatypeLayout
	// Size is the fixed size of one instance, used by the generic and
	// dense-array paths to stride through element storage.
	Size uintptr
}

// StackFrame is one link in a task's GC-roots frame list. Roots is the raw, possibly-copied stack storage;
// Indirect reports that each root is a pointer-to-pointer rather than a
// direct root.
type StackFrame struct {
	Next     *StackFrame
	Roots    []unsafe.Pointer
	Indirect bool
	// Ambiguous marks a frame whose Roots are raw stack words that may
	// or may not be managed pointers (e.g. a conservatively-scanned C
	// frame), rather than precise GC roots. Resolved through
	// InternalObjBasePtr instead of pushed directly; see conservative.go.
	Ambiguous bool
	// Copied-stack translation: a root address a ∈ [Lb, Ub) must be
	// read as a+Offset instead of dereferenced directly (coroutine
	// stacks that have been relocated into a side buffer).
	Lb, Ub, Offset uintptr
}

// ReadStack implements read_stack translation.
func (f *StackFrame) ReadStack(addr uintptr) uintptr {
	if addr >= f.Lb && addr < f.Ub {
		return addr + f.Offset
	}
	return addr
}

// Task is the embedding runtime's thread-of-execution handle, scanned by
// the mark engine's "task" case.
type Task struct {
	RootTask, Current, Next, Previous unsafe.Pointer
	ExceptionStack                    *ExceptionStack
	Stack                             *StackFrame
	// InlineFields are the task's own pointer fields per its type
	// layout, walked like any generic datatype.
	InlineFields []unsafe.Pointer
}

// ExceptionStack is a backtrace-frame producer; the mark engine only
// cares about each frame's inline managed-value count.
type ExceptionStack struct {
	Frames []ExceptionFrame
}

// ExceptionFrame is one backtrace entry. Native frames carry no managed
// values.
type ExceptionFrame struct {
	Native bool
	Values []unsafe.Pointer
}

// Binding is a module-global slot. Bindings are tracked like objects but
// live in a separate per-thread remset vector because they are not
// first-class values.
type Binding struct {
	header Header
	Value  unsafe.Pointer
}

// Header exposes the binding's tagged header to barrier/mark code.
func (b *Binding) Header() *Header { return &b.header }

// NotFoundSentinel marks an unassigned module binding slot; mark_outrefs
// skips these.
var NotFoundSentinel = &Binding{}

// Module is a namespace of bindings. InSystemImage bindings get
// OldMarked without a metadata update, since the system image has no
// page metadata.
type Module struct {
	Bindings       []*Binding
	InSystemImage  map[*Binding]bool
}

// Array describes the host's array shapes consumed by mark_outrefs:
// dense object arrays, inline-pointer arrays, and the
// malloc/shared-data/reshaped variants that defer to an owning buffer.
type Array struct {
	header   Header
	Elements []unsafe.Pointer // used when Kind == KindDenseArray / KindInlinePtrArray
	ElemType *Datatype        // element Datatype, for the dense-array pointer-strided walk

	// MallocBuffer backs KindMallocArray / KindSharedDataArray /
	// KindReshapedArray: the buffer itself is marked (or, for reshaped
	// arrays, deferred to Owner), and its byte length is folded into the
	// per-thread scan-byte counters.
	MallocBuffer []byte
	Owner        *Array
}

// Header exposes the array's tagged header.
func (a *Array) Header() *Header { return &a.header }

// Object is the uniform handle the mark/sweep engines pass around: a
// pointer to the in-band header plus whatever the host stored after it.
// Pool- and big-object-allocated memory both begin with a Header.
type Object struct {
	Header Header
	// Payload starts immediately after Header in the allocated cell; the
	// collector never needs to know its layout beyond Datatype.Layout.
}

func objectHeader(p unsafe.Pointer) *Header {
	return (*Header)(p)
}
