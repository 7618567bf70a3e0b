package mem

import "fmt"

// Handle identifies a pool slot. A handle becomes stale as soon as its slot
// is released; the generation counter makes stale handles detectable.
type Handle struct {
	index uint32
	gen   uint32
}

// Index returns the slot index the handle refers to.
func (h Handle) Index() int { return int(h.index) }

// IsZero reports whether h was never issued by a pool. Issued handles always
// carry a generation of at least 1.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.gen)
}

type slot[T any] struct {
	val  T
	gen  uint32
	live bool
}

// Pool is a fixed-capacity slot allocator with a LIFO free list.
//
// All slots are allocated up front, so Acquire and Release never allocate.
// Releasing a slot bumps its generation, which invalidates every handle that
// still points at it.
type Pool[T any] struct {
	slots []slot[T]
	free  []uint32
}

// NewPool creates a pool with the given number of slots. The free list is
// seeded in reverse so the first Acquire hands out slot 0.
func NewPool[T any](capacity int) *Pool[T] {
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool[T]{
		slots: make([]slot[T], capacity),
		free:  make([]uint32, capacity),
	}
	for i := range p.free {
		p.free[i] = uint32(capacity - 1 - i)
	}
	return p
}

// Acquire takes a free slot, zeroes it and returns its handle together with
// a pointer to the value. ok is false when the pool is full.
func (p *Pool[T]) Acquire() (h Handle, v *T, ok bool) {
	n := len(p.free)
	if n == 0 {
		return Handle{}, nil, false
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]

	s := &p.slots[idx]
	var zero T
	s.val = zero
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	return Handle{index: idx, gen: s.gen}, &s.val, true
}

// Get resolves a handle to its value. ok is false for stale or foreign
// handles.
func (p *Pool[T]) Get(h Handle) (*T, bool) {
	if int(h.index) >= len(p.slots) {
		return nil, false
	}
	s := &p.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return &s.val, true
}

// Release returns the slot to the free list. Releasing a stale handle is a
// no-op that reports false, so a double release cannot corrupt the free list.
func (p *Pool[T]) Release(h Handle) bool {
	if _, ok := p.Get(h); !ok {
		return false
	}
	s := &p.slots[h.index]
	var zero T
	s.val = zero
	s.live = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	p.free = append(p.free, h.index)
	return true
}

// Len returns the number of live slots.
func (p *Pool[T]) Len() int { return len(p.slots) - len(p.free) }

// Cap returns the total number of slots.
func (p *Pool[T]) Cap() int { return len(p.slots) }
