package gc

import "testing"

func TestFinalizeObjectNoSync(t *testing.T) {
	a, b, c := &Object{}, &Object{}, &Object{}
	list := []finalizerPair{{obj: a}, {obj: b}, {obj: c}, {obj: b}}
	var copied []finalizerPair

	finalizeObject(&list, nil, b, &copied, false)

	if len(copied) != 2 {
		t.Fatalf("copied %d entries, want 2", len(copied))
	}
	for _, p := range copied {
		if p.obj != b {
			t.Errorf("copied wrong object: %p, want %p", p.obj, b)
		}
	}
	if len(list) != 2 {
		t.Fatalf("remaining list has %d entries, want 2", len(list))
	}
	for _, p := range list {
		if p.obj == b {
			t.Errorf("finalizeObject left a matching entry behind: %p", p.obj)
		}
	}
}

func TestFinalizeObjectNoMatch(t *testing.T) {
	a, b := &Object{}, &Object{}
	list := []finalizerPair{{obj: a}, {obj: b}}
	var copied []finalizerPair

	finalizeObject(&list, nil, &Object{}, &copied, false)

	if len(copied) != 0 {
		t.Fatalf("copied %d entries, want 0", len(copied))
	}
	if len(list) != 2 {
		t.Fatalf("list len = %d, want unchanged 2", len(list))
	}
}

func TestFinalizeObjectNeedSync(t *testing.T) {
	a, b, c := &Object{}, &Object{}, &Object{}
	list := []finalizerPair{{obj: a}, {obj: b}, {obj: c}}
	publishedLen := int64(len(list))
	var copied []finalizerPair

	finalizeObject(&list, &publishedLen, b, &copied, true)

	if len(copied) != 1 || copied[0].obj != b {
		t.Fatalf("copied = %v, want a single entry for b", copied)
	}
	if publishedLen != 2 {
		t.Fatalf("publishedLen = %d, want 2", publishedLen)
	}
}

func TestRegisterFinalizerPublishesLength(t *testing.T) {
	ptls := &Ptls{}
	obj := &Object{}
	called := false
	ptls.RegisterFinalizer(obj, func(*Object) { called = true })

	if len(ptls.finalizers) != 1 {
		t.Fatalf("finalizers len = %d, want 1", len(ptls.finalizers))
	}
	if ptls.finalizersPublished != 1 {
		t.Fatalf("finalizersPublished = %d, want 1", ptls.finalizersPublished)
	}

	runFinalizer(ptls.finalizers[0])
	if !called {
		t.Fatal("registered finalizer was not invoked")
	}
}

func TestRunFinalizersReverseOrder(t *testing.T) {
	fl := &finalizerLists{}
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		fl.scheduleFinalization(finalizerPair{obj: &Object{}, fn: func(*Object) { order = append(order, i) }})
	}

	fl.RunFinalizers()

	want := []int{2, 1, 0}
	if len(order) != len(want) {
		t.Fatalf("ran %d finalizers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v (reverse registration order)", order, want)
		}
	}
}

func TestRunFinalizerRecoversPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("runFinalizer let a panic escape: %v", r)
		}
	}()
	runFinalizer(finalizerPair{obj: &Object{}, fn: func(*Object) { panic("boom") }})
}

func TestFinalizersInhibitedCounter(t *testing.T) {
	ptls := &Ptls{}
	ptls.DisableFinalizers()
	if !ptls.FinalizersInhibited() {
		t.Fatal("FinalizersInhibited() should report true after DisableFinalizers")
	}
}
