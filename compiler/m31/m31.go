// Package m31 implements arithmetic in the prime field of order 2^31 - 1.
package m31

type Felt uint32

const P = 1<<31 - 1

func New(x int64) Felt {
	x %= P
	if x < 0 {
		x += P
	}

	return Felt(x)
}

func (a Felt) Add(b Felt) Felt { return reduce(uint64(a) + uint64(b)) }
func (a Felt) Sub(b Felt) Felt { return reduce(uint64(a) + P - uint64(b)) }
func (a Felt) Mul(b Felt) Felt { return reduce(uint64(a) * uint64(b)) }
func (a Felt) Neg() Felt       { return reduce(P - uint64(a)) }

// Inv returns the multiplicative inverse. Inverse of zero is zero.
func (a Felt) Inv() Felt {
	return a.Pow(P - 2)
}

func (a Felt) Div(b Felt) Felt { return a.Mul(b.Inv()) }

func (a Felt) Pow(e uint64) Felt {
	r := Felt(1)

	for ; e != 0; e >>= 1 {
		if e&1 != 0 {
			r = r.Mul(a)
		}

		a = a.Mul(a)
	}

	return r
}

// Int returns the canonical representative. It always fits int32.
func (a Felt) Int() int32 { return int32(a) }

func reduce(x uint64) Felt {
	return Felt(x % P)
}
