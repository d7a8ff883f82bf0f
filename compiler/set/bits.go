package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int64
	}

	// Bits is a dense set of small ints, usually block or value ids.
	Bits[K Key] struct {
		b  []uint64
		b0 [2]uint64
	}
)

func MakeBits[K Key](n int) Bits[K] {
	s := Bits[K]{}
	s.b = s.b0[:]

	if n := (n + 63) / 64; n > len(s.b) {
		s.b = make([]uint64, n)
	}

	return s
}

func Of[K Key](k ...K) Bits[K] {
	s := MakeBits[K](0)
	s.SetAll(k...)

	return s
}

func (s Bits[K]) Copy() Bits[K] {
	c := MakeBits[K](len(s.b) * 64)
	copy(c.b, s.b)

	return c
}

func (s *Bits[K]) Set(k K) {
	i, j := ij(k)

	s.grow(i)

	s.b[i] |= 1 << j
}

// Add sets k and reports whether it was not set before.
func (s *Bits[K]) Add(k K) bool {
	if s.IsSet(k) {
		return false
	}

	s.Set(k)

	return true
}

func (s Bits[K]) IsSet(k K) bool {
	i, j := ij(k)

	if k < 0 || i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

func (s Bits[K]) Clear(k K) {
	i, j := ij(k)

	if k < 0 || i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s *Bits[K]) SetAll(k ...K) {
	for _, k := range k {
		s.Set(k)
	}
}

func (s *Bits[K]) Merge(x Bits[K]) {
	s.grow(len(x.b) - 1)

	for i, x := range x.b {
		s.b[i] |= x
	}
}

func (s Bits[K]) Intersect(x Bits[K]) {
	for i := range s.b {
		if i < len(x.b) {
			s.b[i] &= x.b[i]
		} else {
			s.b[i] = 0
		}
	}
}

func (s Bits[K]) Substract(x Bits[K]) {
	n := len(s.b)
	if m := len(x.b); m < n {
		n = m
	}

	for i, x := range x.b[:n] {
		s.b[i] &^= x
	}
}

func (s Bits[K]) Equal(x Bits[K]) bool {
	n := len(s.b)
	if m := len(x.b); m > n {
		n = m
	}

	for i := 0; i < n; i++ {
		var a, b uint64

		if i < len(s.b) {
			a = s.b[i]
		}
		if i < len(x.b) {
			b = x.b[i]
		}

		if a != b {
			return false
		}
	}

	return true
}

func (s Bits[K]) Size() (r int) {
	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

// Range calls f in ascending order until it returns false.
func (s Bits[K]) Range(f func(k K) bool) {
	for i, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

func (s Bits[K]) Slice() (r []K) {
	s.Range(func(k K) bool {
		r = append(r, k)
		return true
	})

	return r
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))

		return true
	})

	b = e.AppendBreak(b)

	return b
}

func (s *Bits[K]) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func ij[K Key](k K) (i int, j int) {
	p := int(k)
	i, j = p/64, p%64

	return i, j
}

func (s *Bits[K]) grow(i int) {
	if s.b == nil {
		s.b = s.b0[:]
	}

	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}
