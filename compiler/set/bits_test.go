package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	s := MakeBits[int](0)

	s.SetAll(1, 3, 64, 200)

	assert.True(t, s.IsSet(3))
	assert.True(t, s.IsSet(200))
	assert.False(t, s.IsSet(2))
	assert.False(t, s.IsSet(1000))
	assert.False(t, s.IsSet(-1))
	assert.Equal(t, 4, s.Size())
	assert.Equal(t, []int{1, 3, 64, 200}, s.Slice())

	assert.False(t, s.Add(3))
	assert.True(t, s.Add(4))

	s.Clear(4)
	assert.False(t, s.IsSet(4))

	c := s.Copy()
	c.Set(5)
	assert.False(t, s.IsSet(5))
	assert.False(t, s.Equal(c))

	c.Clear(5)
	assert.True(t, s.Equal(c))
}

func TestBitsOps(t *testing.T) {
	a := Of(1, 2, 3, 130)
	b := Of(2, 3, 4)

	m := a.Copy()
	m.Merge(b)
	assert.Equal(t, []int{1, 2, 3, 4, 130}, m.Slice())

	i := a.Copy()
	i.Intersect(b)
	assert.Equal(t, []int{2, 3}, i.Slice())

	d := a.Copy()
	d.Substract(b)
	assert.Equal(t, []int{1, 130}, d.Slice())

	var got []int
	a.Range(func(k int) bool {
		got = append(got, k)
		return len(got) < 2
	})
	assert.Equal(t, []int{1, 2}, got)

	a.Reset()
	assert.Equal(t, 0, a.Size())
}
