package mem

import "testing"

func TestArenaAcquireUntilExhausted(t *testing.T) {
	a := NewArena(64)

	first := a.Acquire(40)
	if len(first) != 40 {
		t.Fatalf("Acquire(40) returned %d bytes", len(first))
	}
	if b := a.Acquire(30); b != nil {
		t.Fatalf("Acquire(30) with 24 bytes left should fail, got %d bytes", len(b))
	}
	if b := a.Acquire(24); len(b) != 24 {
		t.Fatalf("Acquire(24) should take the remaining capacity, got %d bytes", len(b))
	}
	if b := a.Acquire(1); b != nil {
		t.Fatal("Acquire on a full arena should fail")
	}

	a.Reset()
	if a.Used() != 0 {
		t.Fatalf("Used after Reset = %d, want 0", a.Used())
	}
	if b := a.Acquire(64); len(b) != 64 {
		t.Fatalf("Acquire(64) after Reset returned %d bytes", len(b))
	}
}

func TestArenaBlocksAreZeroedAndClipped(t *testing.T) {
	a := NewArena(16)
	b := a.Acquire(8)
	for i := range b {
		b[i] = 0xFF
	}
	a.Reset()

	c := a.Acquire(8)
	for i, v := range c {
		if v != 0 {
			t.Fatalf("byte %d = %#x after reacquire, want 0", i, v)
		}
	}
	if cap(c) != 8 {
		t.Errorf("cap = %d, want 8", cap(c))
	}
}

func TestArenaRejectsNonPositive(t *testing.T) {
	a := NewArena(16)
	for _, n := range []int{0, -1} {
		if b := a.Acquire(n); b != nil {
			t.Errorf("Acquire(%d) = %v, want nil", n, b)
		}
	}
}

func TestPoolLIFOReuse(t *testing.T) {
	p := NewPool[int](4)

	a, _, ok := p.Acquire()
	if !ok || a.Index() != 0 {
		t.Fatalf("first Acquire = %v ok=%v, want slot 0", a, ok)
	}
	b, _, ok := p.Acquire()
	if !ok || b.Index() != 1 {
		t.Fatalf("second Acquire = %v ok=%v, want slot 1", b, ok)
	}

	p.Release(a)
	p.Release(b)

	first, _, _ := p.Acquire()
	second, _, _ := p.Acquire()
	if first.Index() != b.Index() || second.Index() != a.Index() {
		t.Fatalf("reuse order = %d,%d, want %d,%d", first.Index(), second.Index(), b.Index(), a.Index())
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := NewPool[struct{}](2)
	for i := 0; i < 2; i++ {
		if _, _, ok := p.Acquire(); !ok {
			t.Fatalf("Acquire %d failed", i)
		}
	}
	if _, _, ok := p.Acquire(); ok {
		t.Fatal("Acquire on a full pool should fail")
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
}

func TestPoolStaleHandles(t *testing.T) {
	p := NewPool[string](1)

	h, v, _ := p.Acquire()
	*v = "first"

	if !p.Release(h) {
		t.Fatal("Release of a live handle failed")
	}
	if p.Release(h) {
		t.Fatal("double Release should report false")
	}
	if _, ok := p.Get(h); ok {
		t.Fatal("Get with a stale handle should fail")
	}

	h2, v2, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire after Release failed")
	}
	if *v2 != "" {
		t.Errorf("reacquired value = %q, want zero value", *v2)
	}
	if h2.Index() != h.Index() || h2 == h {
		t.Errorf("reacquired handle %v should reuse slot of %v with a new generation", h2, h)
	}
	if _, ok := p.Get(h); ok {
		t.Error("old handle must not resolve to the new occupant")
	}
	if (Handle{}).IsZero() != true || h2.IsZero() {
		t.Error("only the zero handle should report IsZero")
	}
}

func TestRingQueueFIFOAcrossGrowth(t *testing.T) {
	q := NewRingQueue[int](4)

	// Offset the start index so growth has to unwrap.
	q.Push(-1)
	q.Push(-2)
	q.Pop()
	q.Pop()

	for i := 0; i < 20; i++ {
		q.Push(i)
	}
	if q.Len() != 20 {
		t.Fatalf("Len = %d, want 20", q.Len())
	}
	if q.Cap() < 20 {
		t.Fatalf("Cap = %d, want at least 20", q.Cap())
	}

	for i := 0; i < 20; i++ {
		got, ok := q.Pop()
		if !ok || got != i {
			t.Fatalf("Pop %d = %d ok=%v", i, got, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on empty queue should fail")
	}
}

func TestRingQueueGrowthFactor(t *testing.T) {
	q := NewRingQueue[int](4)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	if q.Cap() != 6 {
		t.Errorf("Cap after growing from 4 = %d, want 6", q.Cap())
	}
}
