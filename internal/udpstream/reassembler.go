package udpstream

import (
	"container/heap"
	"fmt"
)

const (
	// maxPieces bounds the piece count a header may announce.
	maxPieces = BufferSize/100 + 1
	// DefaultMaxPending is how many incomplete frames are kept before the
	// oldest is dropped.
	DefaultMaxPending = 4
)

// Frame is one reassembled frame.
type Frame struct {
	ID      uint32
	Number  uint32
	Payload []byte
}

type partial struct {
	id       uint32
	frame    uint32
	pieces   [][]byte
	received int
	size     int
}

// Reassembler rebuilds frames from pieces arriving in any order. Pieces are
// lost for good on an unreliable channel, so a frame that has not completed
// by the time a newer one does is dropped. It is not safe for concurrent use.
type Reassembler struct {
	lastID     uint32
	pending    map[uint32]*partial
	order      idHeap
	maxPending int

	Delivered uint64
	Dropped   uint64
	Corrupt   uint64
}

// NewReassembler creates a reassembler holding at most maxPending
// incomplete frames. Zero means DefaultMaxPending.
func NewReassembler(maxPending int) *Reassembler {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Reassembler{
		pending:    make(map[uint32]*partial),
		maxPending: maxPending,
	}
}

// Feed adds one piece. It returns the frame the piece completed, if any.
// Pieces for frames at or before the last delivered one are ignored.
func (r *Reassembler) Feed(b []byte) (Frame, bool, error) {
	h, payload, err := ParsePiece(b)
	if err != nil {
		return Frame{}, false, err
	}
	if Hash(payload) != h.Hash {
		r.Corrupt++
		return Frame{}, false, fmt.Errorf("%w: frame %d piece %d", ErrBadHash, h.ID, h.Index)
	}
	if h.Pieces == 0 || h.Pieces > maxPieces {
		return Frame{}, false, fmt.Errorf("%w: %d", ErrBadPieces, h.Pieces)
	}
	if h.Index >= h.Pieces {
		return Frame{}, false, fmt.Errorf("%w: %d of %d", ErrBadIndex, h.Index, h.Pieces)
	}
	if r.lastID != 0 && int32(h.ID-r.lastID) <= 0 {
		return Frame{}, false, nil
	}

	p, ok := r.pending[h.ID]
	if !ok {
		p = &partial{id: h.ID, frame: h.Frame, pieces: make([][]byte, h.Pieces)}
		r.pending[h.ID] = p
		heap.Push(&r.order, h.ID)
		for r.order.Len() > r.maxPending {
			r.drop(heap.Pop(&r.order).(uint32))
		}
		if _, still := r.pending[h.ID]; !still {
			return Frame{}, false, nil
		}
	}
	if int(h.Pieces) != len(p.pieces) {
		return Frame{}, false, fmt.Errorf("%w: frame %d announced %d then %d", ErrBadPieces, h.ID, len(p.pieces), h.Pieces)
	}
	if p.pieces[h.Index] != nil {
		return Frame{}, false, nil
	}

	p.pieces[h.Index] = append([]byte(nil), payload...)
	p.received++
	p.size += len(payload)
	if p.received < len(p.pieces) {
		return Frame{}, false, nil
	}

	out := make([]byte, 0, p.size)
	for _, piece := range p.pieces {
		out = append(out, piece...)
	}
	r.lastID = h.ID
	r.Delivered++

	// Everything at or before the delivered id is now obsolete.
	for r.order.Len() > 0 && int32(r.order[0]-h.ID) <= 0 {
		id := heap.Pop(&r.order).(uint32)
		if id == h.ID {
			delete(r.pending, id)
			continue
		}
		r.drop(id)
	}
	return Frame{ID: h.ID, Number: p.frame, Payload: out}, true, nil
}

func (r *Reassembler) drop(id uint32) {
	if _, ok := r.pending[id]; ok {
		delete(r.pending, id)
		r.Dropped++
	}
}

// Pending returns the number of incomplete frames held.
func (r *Reassembler) Pending() int { return len(r.pending) }

// idHeap is a min-heap of frame ids.
type idHeap []uint32

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return int32(h[i]-h[j]) < 0 }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(uint32)) }

func (h *idHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
