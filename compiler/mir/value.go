package mir

import (
	"strconv"

	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/mirc/compiler/tp"
)

type (
	BlockID    int
	ValueID    int
	FunctionID int

	ValueKind uint8

	// Value is an instruction operand: a literal embedded inline or a reference to a value.
	Value struct {
		Kind ValueKind
		ID   ValueID
		Int  int32
	}

	ProjectionKind uint8

	Projection struct {
		Kind  ProjectionKind
		Index Value
		Field string
		Tuple int
	}

	// Place is a memory location: a base address with projections applied in order.
	Place struct {
		Base       ValueID
		Projection []Projection
	}
)

const (
	KindInvalid ValueKind = iota
	KindOperand
	KindInt
	KindBool
	KindUnit
	KindError
)

const (
	ProjIndex ProjectionKind = iota
	ProjField
	ProjTuple
)

const NoBlock BlockID = -1

func Op(id ValueID) Value { return Value{Kind: KindOperand, ID: id} }
func Int(v int32) Value   { return Value{Kind: KindInt, Int: v} }
func UnitValue() Value    { return Value{Kind: KindUnit} }
func ErrorValue() Value   { return Value{Kind: KindError} }

func Bool(v bool) Value {
	x := Value{Kind: KindBool}
	if v {
		x.Int = 1
	}

	return x
}

func (v Value) Operand() (ValueID, bool) {
	return v.ID, v.Kind == KindOperand
}

func (v Value) IsLiteral() bool {
	return v.Kind == KindInt || v.Kind == KindBool || v.Kind == KindUnit
}

// Imm returns integer and boolean literals as a slot value.
func (v Value) Imm() (int32, bool) {
	if v.Kind == KindInt || v.Kind == KindBool {
		return v.Int, true
	}

	return 0, false
}

// ValueType returns the type of a literal or the declared type of an operand.
func (f *Function) ValueType(v Value) tp.Type {
	switch v.Kind {
	case KindOperand:
		if t, ok := f.Types[v.ID]; ok {
			return t
		}

		return tp.Unknown{}
	case KindInt:
		return tp.Felt{}
	case KindBool:
		return tp.Bool{}
	case KindUnit:
		return tp.Unit{}
	default:
		return tp.Unknown{}
	}
}

func (v Value) String() string {
	return string(v.Append(nil))
}

func (v Value) Append(b []byte) []byte {
	switch v.Kind {
	case KindOperand:
		return v.ID.Append(b)
	case KindInt:
		return strconv.AppendInt(b, int64(v.Int), 10)
	case KindBool:
		return strconv.AppendBool(b, v.Int != 0)
	case KindUnit:
		return append(b, "()"...)
	case KindError:
		return append(b, "<error>"...)
	default:
		return append(b, "<invalid>"...)
	}
}

func (id ValueID) Append(b []byte) []byte {
	b = append(b, '%')
	return strconv.AppendInt(b, int64(id), 10)
}

func (id ValueID) String() string { return string(id.Append(nil)) }

func (id BlockID) String() string {
	return "bb" + strconv.Itoa(int(id))
}

func (v Value) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	switch v.Kind {
	case KindOperand:
		return e.AppendInt(b, int(v.ID))
	case KindInt, KindBool:
		return e.AppendInt(b, int(v.Int))
	default:
		return e.AppendString(b, v.String())
	}
}

func IndexProj(v Value) Projection    { return Projection{Kind: ProjIndex, Index: v} }
func FieldProj(name string) Projection { return Projection{Kind: ProjField, Field: name} }
func TupleProj(i int) Projection       { return Projection{Kind: ProjTuple, Tuple: i} }
