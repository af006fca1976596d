package gc

import "unsafe"

// TrySetMarkTag implements try_setmark_tag(o, mode): it
// atomically transitions the header's bits from {Clean, Old} to
// mode|old-bit and reports whether the transition occurred. If
// markResetAge is set (the finalizer-list rewalk), the object is forced
// back to Marked regardless of any prior Old state — 's
// mark_reset_age clause exists so revived finalizable objects don't
// inherit OLD status from their prior life.
func TrySetMarkTag(obj *Object, mode GCBits, markResetAge bool) bool {
	h := &obj.Header
	if markResetAge {
		_, prev := h.LoadAtomic()
		if prev.IsMarked() {
			return false
		}
		h.StoreBits(Marked)
		return true
	}
	for {
		_, bits := h.LoadAtomic()
		if bits.IsMarked() {
			return false
		}
		next := mode
		if bits.IsOld() {
			next |= Old
		}
		if h.CASBits(bits, next) {
			return true
		}
	}
}

// markCache is the per-thread, bounded buffer of big-object pointers
// tagged young|old plus scanned-byte accumulators, flushed into the global big_objects_marked list under
// gc_cache_lock.
type markCache struct {
	young, old   []*bigObjHead
	scannedBytes int64
}

func (c *markCache) addBig(b *bigObjHead, wasOld bool) {
	if wasOld {
		c.old = append(c.old, b)
	} else {
		c.young = append(c.young, b)
	}
}

// MarkSetmark implements mark_setmark(obj, mode, sz): for
// pool objects it updates nold/has_marked/age-bit metadata on the owning
// page; for big objects it routes to the mark cache instead of touching
// shared state directly.
func (h *GlobalHeap) MarkSetmark(ptls *Ptls, obj *Object, mode GCBits, sz uintptr, markResetAge bool) {
	addr := uintptr(unsafe.Pointer(obj))
	if meta := h.pages.PageMetadata(addr); meta != nil {
		meta.hasMarked = true
		if mode == OldMarked {
			meta.nold++
		}
		if markResetAge {
			idx := cellIndex(meta, addr)
			meta.clearAgeBit(idx)
		}
		return
	}
	b := bigObjFromPayload(unsafe.Pointer(obj))
	wasOld := b.age() >= PromoteAge
	ptls.cache.addBig(b, wasOld)
	ptls.cache.scannedBytes += int64(sz)
}

func cellIndex(meta *pageMeta, addr uintptr) int {
	return int((addr - meta.addr - PageOffset) / uintptr(meta.osize))
}

// TryClaimAndPush implements try_claim_and_push: atomically marks child
// if unmarked and pushes it for later scanning.
func (ptls *Ptls) TryClaimAndPush(child *Object, mode GCBits, markResetAge bool) {
	if child == nil {
		return
	}
	if TrySetMarkTag(child, mode, markResetAge) {
		ptls.markQueue.Push(child)
	}
}

// MarkOutrefs implements mark_outrefs(parent): dispatches
// on the parent's Datatype.Kind and pushes every discovered outgoing
// reference via TryClaimAndPush.
func (h *GlobalHeap) MarkOutrefs(ptls *Ptls, parent *Object, markResetAge bool) {
	ty, _ := parent.Header.LoadAtomic()
	if ty == nil {
		return
	}

	switch ty.Kind {
	case KindSmallRefVector:
		h.markRefSlice(ptls, asObjectSlice(parent, ty), markResetAge)

	case KindDenseArray:
		h.markDenseArray(ptls, (*Array)(unsafe.Pointer(parent)), markResetAge)

	case KindInlinePtrArray:
		h.markInlinePtrArray(ptls, (*Array)(unsafe.Pointer(parent)), markResetAge)

	case KindMallocArray, KindSharedDataArray, KindReshapedArray:
		h.markBufferArray(ptls, (*Array)(unsafe.Pointer(parent)), markResetAge)

	case KindModule:
		h.markModule(ptls, (*Module)(unsafe.Pointer(parent)), markResetAge)

	case KindTask:
		h.markTask(ptls, (*Task)(unsafe.Pointer(parent)), markResetAge, ty.Layout)

	case KindExceptionStack:
		h.markExceptionStack(ptls, (*ExceptionStack)(unsafe.Pointer(parent)), markResetAge)

	case KindString:
		// nothing beyond the object itself.

	default:
		h.markGeneric(ptls, parent, ty.Layout, markResetAge)
	}
}

func asObjectSlice(parent *Object, ty *Datatype) []*Object {
	n := int(ty.Layout.NPointers)
	base := unsafe.Add(unsafe.Pointer(parent), unsafe.Sizeof(Header{}))
	return unsafe.Slice((**Object)(base), n)
}

func (h *GlobalHeap) markRefSlice(ptls *Ptls, refs []*Object, markResetAge bool) {
	for _, r := range refs {
		ptls.TryClaimAndPush(r, Marked, markResetAge)
	}
}

// markDenseArray implements the "dense object array" case: if every
// element's layout has a single pointer at a known offset, prefer the
// pointer-strided walk; otherwise fall back to the field-descriptor
// array.
func (h *GlobalHeap) markDenseArray(ptls *Ptls, arr *Array, markResetAge bool) {
	if arr.ElemType != nil && arr.ElemType.Layout != nil && arr.ElemType.Layout.SinglePtr {
		for _, e := range arr.Elements {
			ptls.TryClaimAndPush((*Object)(e), Marked, markResetAge)
		}
		return
	}
	for _, e := range arr.Elements {
		if e == nil {
			continue
		}
		h.markGeneric(ptls, (*Object)(e), arr.ElemType.Layout, markResetAge)
	}
}

// markInlinePtrArray walks every element times every pointer-offset,
// since elements here contain pointers rather than being pointers
// themselves.
func (h *GlobalHeap) markInlinePtrArray(ptls *Ptls, arr *Array, markResetAge bool) {
	layout := arr.ElemType.Layout
	for _, e := range arr.Elements {
		if e == nil {
			continue
		}
		h.walkOffsets(ptls, e, layout, markResetAge)
	}
}

// markBufferArray marks the buffer itself (or, for a reshaped array,
// defers to the owning array) and records the byte budget in the
// per-thread scan counters.
func (h *GlobalHeap) markBufferArray(ptls *Ptls, arr *Array, markResetAge bool) {
	if arr.Owner != nil {
		h.MarkOutrefs(ptls, (*Object)(unsafe.Pointer(arr.Owner)), markResetAge)
		return
	}
	ptls.cache.scannedBytes += int64(len(arr.MallocBuffer))
}

// markModule walks the bindings table, skipping NotFoundSentinel slots.
// Bindings located in the system-image region get OldMarked without a
// metadata update since their page has none; other bindings mark the
// binding buffer itself.
func (h *GlobalHeap) markModule(ptls *Ptls, mod *Module, markResetAge bool) {
	for _, b := range mod.Bindings {
		if b == nil || b == NotFoundSentinel {
			continue
		}
		if mod.InSystemImage[b] {
			b.header.StoreBits(OldMarked)
			continue
		}
		if TrySetMarkTag((*Object)(unsafe.Pointer(b)), Marked, markResetAge) {
			ptls.markQueue.Push((*Object)(unsafe.Pointer(b)))
		}
	}
}

// markTask marks root-task, current/next/previous task pointers,
// GC-stack frames, the exception stack, and the task's inline fields.
// It does not add the task to a remembered set: an old task is treated
// like any other old object, not as always referencing young objects.
func (h *GlobalHeap) markTask(ptls *Ptls, t *Task, markResetAge bool, layout *DatatypeLayout) {
	for _, p := range []unsafe.Pointer{t.RootTask, t.Current, t.Next, t.Previous} {
		ptls.TryClaimAndPush((*Object)(p), Marked, markResetAge)
	}
	if t.Stack != nil {
		h.MarkStack(ptls, t.Stack, markResetAge)
	}
	if t.ExceptionStack != nil {
		h.markExceptionStack(ptls, t.ExceptionStack, markResetAge)
	}
	for _, f := range t.InlineFields {
		ptls.TryClaimAndPush((*Object)(f), Marked, markResetAge)
	}
}

// markExceptionStack iterates backtrace frames; each non-native frame
// carries an inline count of managed values to mark.
func (h *GlobalHeap) markExceptionStack(ptls *Ptls, es *ExceptionStack, markResetAge bool) {
	for _, frame := range es.Frames {
		if frame.Native {
			continue
		}
		for _, v := range frame.Values {
			ptls.TryClaimAndPush((*Object)(v), Marked, markResetAge)
		}
	}
}

// MarkStack implements mark_stack(task_stack_frame):
// walks the linked list of GC-roots frames from a task's stack, which
// may have been copied for stackful coroutines — addresses in
// [frame.Lb, frame.Ub) get rewritten via ReadStack before use.
func (h *GlobalHeap) MarkStack(ptls *Ptls, frame *StackFrame, markResetAge bool) {
	for f := frame; f != nil; f = f.Next {
		for _, root := range f.Roots {
			addr := uintptr(root)
			translated := f.ReadStack(addr)
			if f.Ambiguous {
				h.markAmbiguousWord(ptls, translated, markResetAge)
				continue
			}
			if f.Indirect {
				ind := *(*unsafe.Pointer)(unsafe.Pointer(translated))
				ptls.TryClaimAndPush((*Object)(ind), Marked, markResetAge)
			} else {
				ptls.TryClaimAndPush((*Object)(unsafe.Pointer(translated)), Marked, markResetAge)
			}
		}
	}
}

// markGeneric implements the "generic datatype" case: use the layout's
// pointer-descriptor array (8/16/32-bit), or, for FieldDescDynamic,
// invoke the type's custom mark function and fold its MarkOutcome in.
func (h *GlobalHeap) markGeneric(ptls *Ptls, obj *Object, layout *DatatypeLayout, markResetAge bool) {
	if layout == nil {
		return
	}
	if layout.DescType == FieldDescDynamic && layout.Dyn != nil && layout.Dyn.MarkFunc != nil {
		outcome := layout.Dyn.MarkFunc(unsafe.Pointer(obj))
		if outcome.RefYoung {
			ptls.WriteBarrierBack(&obj.Header)
		}
		return
	}
	h.walkOffsets(ptls, unsafe.Pointer(obj), layout, markResetAge)
}

// walkOffsets walks an 8/16/32-bit field-descriptor array rooted at
// base, pushing every non-nil pointer it finds.
func (h *GlobalHeap) walkOffsets(ptls *Ptls, base unsafe.Pointer, layout *DatatypeLayout, markResetAge bool) {
	if layout == nil {
		return
	}
	switch layout.DescType {
	case FieldDesc8:
		for _, off := range layout.Offsets8 {
			h.markAtOffset(ptls, base, uintptr(off), markResetAge)
		}
	case FieldDesc16:
		for _, off := range layout.Offsets16 {
			h.markAtOffset(ptls, base, uintptr(off), markResetAge)
		}
	case FieldDesc32:
		for _, off := range layout.Offsets32 {
			h.markAtOffset(ptls, base, uintptr(off), markResetAge)
		}
	}
}

func (h *GlobalHeap) markAtOffset(ptls *Ptls, base unsafe.Pointer, off uintptr, markResetAge bool) {
	slot := (*unsafe.Pointer)(unsafe.Add(base, off))
	ptls.TryClaimAndPush((*Object)(*slot), Marked, markResetAge)
}

// DrainMarkQueue implements the mark loop: drain the mark queue until
// empty, calling MarkOutrefs on each popped object. The implementation
// is free to steal across threads once multiple queues exist; the loop below is that one worker.
func (h *GlobalHeap) DrainMarkQueue(ptls *Ptls, markResetAge bool) {
	for {
		obj := ptls.markQueue.Pop()
		if obj == nil {
			return
		}
		h.MarkOutrefs(ptls, obj, markResetAge)
	}
}
