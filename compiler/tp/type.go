package tp

import (
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
)

type (
	// Type is a MIR type. Size is the flattened storage footprint in slots.
	Type interface {
		Size() int
	}

	Felt struct{}
	Bool struct{}
	U32  struct{}
	Unit struct{}

	// Unknown stands for front-end recovery types. It still takes one slot.
	Unknown struct{}

	Ptr struct {
		X Type
	}

	Tuple struct {
		Elems []Type
	}

	Struct struct {
		Name   string
		Fields []StructField
	}

	StructField struct {
		Name   string
		Offset int
		Type   Type
	}

	Array struct {
		X   Type
		Len int
	}

	Func struct {
		In  []Type
		Out []Type
	}
)

func (Felt) Size() int    { return 1 }
func (Bool) Size() int    { return 1 }
func (U32) Size() int     { return 2 }
func (Unit) Size() int    { return 0 }
func (Unknown) Size() int { return 1 }
func (Ptr) Size() int     { return 1 }
func (Func) Size() int    { return 1 }

func (x Tuple) Size() (s int) {
	for _, e := range x.Elems {
		s += e.Size()
	}

	return s
}

func (x Struct) Size() (s int) {
	for _, f := range x.Fields {
		s += f.Type.Size()
	}

	return s
}

func (x Array) Size() int {
	return x.X.Size() * x.Len
}

// NewStruct fills field offsets in value slots.
func NewStruct(name string, fields ...StructField) Struct {
	off := 0

	for i := range fields {
		fields[i].Offset = off
		off += Slots(fields[i].Type)
	}

	return Struct{Name: name, Fields: fields}
}

// Slots is the number of slots a value of the type occupies in a frame and in the ABI.
// Fixed-size arrays are passed around as a one slot pointer.
func Slots(t Type) (s int) {
	switch t := t.(type) {
	case nil:
		return 1
	case Array:
		return 1
	case Tuple:
		for _, e := range t.Elems {
			s += Slots(e)
		}

		return s
	case Struct:
		for _, f := range t.Fields {
			s += Slots(f.Type)
		}

		return s
	default:
		return t.Size()
	}
}

func (x Struct) Field(name string) (StructField, bool) {
	for _, f := range x.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return StructField{}, false
}

// TupleOffset is the slot offset of the i-th element.
func TupleOffset(t Tuple, i int) (off int, ok bool) {
	if i < 0 || i >= len(t.Elems) {
		return 0, false
	}

	for _, e := range t.Elems[:i] {
		off += Slots(e)
	}

	return off, true
}

func Equal(a, b Type) bool {
	switch a := a.(type) {
	case Ptr:
		b, ok := b.(Ptr)
		return ok && Equal(a.X, b.X)
	case Array:
		b, ok := b.(Array)
		return ok && a.Len == b.Len && Equal(a.X, b.X)
	case Tuple:
		b, ok := b.(Tuple)
		if !ok || len(a.Elems) != len(b.Elems) {
			return false
		}

		for i := range a.Elems {
			if !Equal(a.Elems[i], b.Elems[i]) {
				return false
			}
		}

		return true
	case Struct:
		b, ok := b.(Struct)
		if !ok || a.Name != b.Name || len(a.Fields) != len(b.Fields) {
			return false
		}

		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name || !Equal(a.Fields[i].Type, b.Fields[i].Type) {
				return false
			}
		}

		return true
	case Func:
		b, ok := b.(Func)
		return ok && equalList(a.In, b.In) && equalList(a.Out, b.Out)
	default:
		return a == b
	}
}

func equalList(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}

func String(t Type) string {
	return string(Append(nil, t))
}

// Append appends the text form of the type. mirtext parses it back.
func Append(b []byte, t Type) []byte {
	switch t := t.(type) {
	case nil:
		return append(b, '?')
	case Felt:
		return append(b, "felt"...)
	case Bool:
		return append(b, "bool"...)
	case U32:
		return append(b, "u32"...)
	case Unit:
		return append(b, "()"...)
	case Unknown:
		return append(b, '?')
	case Ptr:
		b = append(b, '*')
		return Append(b, t.X)
	case Array:
		b = append(b, '[')
		b = Append(b, t.X)
		b = append(b, "; "...)
		b = strconv.AppendInt(b, int64(t.Len), 10)
		return append(b, ']')
	case Tuple:
		b = append(b, '(')

		for i, e := range t.Elems {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = Append(b, e)
		}

		if len(t.Elems) == 1 {
			b = append(b, ',')
		}

		return append(b, ')')
	case Struct:
		b = append(b, t.Name...)
		b = append(b, '{')

		for i, f := range t.Fields {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, f.Name...)
			b = append(b, ": "...)
			b = Append(b, f.Type)
		}

		return append(b, '}')
	case Func:
		b = append(b, "fn("...)

		for i, e := range t.In {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = Append(b, e)
		}

		b = append(b, ") -> ("...)

		for i, e := range t.Out {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = Append(b, e)
		}

		return append(b, ')')
	default:
		return hfmt.Appendf(b, "%T", t)
	}
}
