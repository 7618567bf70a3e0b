package util

import (
	"math/bits"
	"time"
)

// letters is the alphabet used for ICE credentials.
const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Rng is a xoroshiro128+ generator. It is fast and deterministic for a given
// seed but not cryptographically secure; it only produces session
// identifiers and SCTP tags.
type Rng struct {
	s0, s1 uint64
}

// NewRng seeds a generator from seed via splitmix64.
func NewRng(seed uint64) *Rng {
	r := &Rng{}
	r.s0 = splitmix64(&seed)
	r.s1 = splitmix64(&seed)
	if r.s0 == 0 && r.s1 == 0 {
		r.s1 = 1
	}
	return r
}

// NewTimeSeededRng seeds a generator from the wall clock.
func NewTimeSeededRng() *Rng {
	return NewRng(uint64(time.Now().UnixNano()))
}

// Uint64 returns the next 64-bit value.
func (r *Rng) Uint64() uint64 {
	s0, s1 := r.s0, r.s1
	result := s0 + s1

	s1 ^= s0
	r.s0 = bits.RotateLeft64(s0, 55) ^ s1 ^ (s1 << 14)
	r.s1 = bits.RotateLeft64(s1, 36)
	return result
}

// Uint32 returns the upper half of the next 64-bit value.
func (r *Rng) Uint32() uint32 {
	return uint32(r.Uint64() >> 32)
}

// Letters returns n random ASCII letters.
func (r *Rng) Letters(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Uint64()%uint64(len(letters))]
	}
	return string(b)
}

func splitmix64(state *uint64) uint64 {
	*state += 0x9e3779b97f4a7c15
	z := *state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
