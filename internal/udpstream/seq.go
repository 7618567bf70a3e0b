package udpstream

import "sync/atomic"

// SeqGen is an atomic frame id generator. The first call to Next returns 1.
type SeqGen struct {
	val atomic.Uint32
}

// Next returns the next id.
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1)
}
