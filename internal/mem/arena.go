// Package mem provides the fixed-capacity memory primitives used by the
// datagram engine: a per-tick bump arena, a generation-checked slot pool and
// a growable FIFO ring queue.
package mem

// Arena is a bump allocator over one fixed backing buffer.
//
// Blocks handed out by Acquire stay valid only until the next Reset. The
// arena never grows or compacts; once capacity is exhausted Acquire returns
// nil and the caller drops whatever it was processing.
type Arena struct {
	buf  []byte
	used int
}

// NewArena allocates an arena with the given capacity in bytes.
func NewArena(capacity int) *Arena {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena{buf: make([]byte, capacity)}
}

// Acquire returns a zeroed block of n bytes, or nil if n is not positive or
// exceeds the remaining capacity.
//
// The returned slice has its capacity clipped to n so appends never spill
// into the next block.
func (a *Arena) Acquire(n int) []byte {
	if n <= 0 || n > len(a.buf)-a.used {
		return nil
	}
	b := a.buf[a.used : a.used+n : a.used+n]
	clear(b)
	a.used += n
	return b
}

// Reset makes the full capacity available again. Memory is not cleared.
func (a *Arena) Reset() {
	a.used = 0
}

// Used returns the number of bytes handed out since the last Reset.
func (a *Arena) Used() int { return a.used }

// Cap returns the total capacity of the arena.
func (a *Arena) Cap() int { return len(a.buf) }
