package mir

import (
	"github.com/slowlang/mirc/compiler/tp"
)

type (
	// Instruction is one of the pointer types listed below.
	Instruction interface {
		instruction()
	}

	UnOp  uint8
	BinOp uint8

	Assign struct {
		Dest   ValueID
		Source Value
		Type   tp.Type
	}

	UnaryOp struct {
		Op     UnOp
		Dest   ValueID
		Source Value
	}

	BinaryOp struct {
		Op          BinOp
		Dest        ValueID
		Left, Right Value
	}

	Signature struct {
		Params  []tp.Type
		Returns []tp.Type
	}

	Call struct {
		Dests  []ValueID
		Callee FunctionID
		Args   []Value
		Sig    Signature
	}

	Load struct {
		Dest    ValueID
		Type    tp.Type
		Address Value
	}

	Store struct {
		Address Value
		Value   Value
		Type    tp.Type
	}

	// FrameAlloc reserves Type.Size() frame slots. Dest is the address.
	FrameAlloc struct {
		Dest ValueID
		Type tp.Type
	}

	AddressOf struct {
		Dest    ValueID
		Operand ValueID
	}

	// GetElementPtr is Base advanced by Offset slots.
	GetElementPtr struct {
		Dest   ValueID
		Base   Value
		Offset Value
	}

	Cast struct {
		Dest     ValueID
		Source   Value
		From, To tp.Type
	}

	Debug struct {
		Message string
		Values  []Value
	}

	Nop struct{}

	PhiSource struct {
		Block BlockID
		Value Value
	}

	Phi struct {
		Dest    ValueID
		Type    tp.Type
		Sources []PhiSource
	}

	MakeTuple struct {
		Dest  ValueID
		Elems []Value
		Type  tp.Tuple
	}

	ExtractTuple struct {
		Dest  ValueID
		Tuple Value
		Index int
		Type  tp.Type
	}

	FieldValue struct {
		Name  string
		Value Value
	}

	MakeStruct struct {
		Dest   ValueID
		Fields []FieldValue
		Type   tp.Struct
	}

	ExtractField struct {
		Dest   ValueID
		Struct Value
		Field  string
		Type   tp.Type
	}

	InsertField struct {
		Dest   ValueID
		Struct Value
		Field  string
		Value  Value
		Type   tp.Struct
	}

	InsertTuple struct {
		Dest  ValueID
		Tuple Value
		Index int
		Value Value
		Type  tp.Tuple
	}

	MakeFixedArray struct {
		Dest     ValueID
		Elems    []Value
		ElemType tp.Type
	}
)

const (
	Not UnOp = iota
	Neg
)

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Eq
	Neq
	Less
	Greater
	LessEqual
	GreaterEqual
	And
	Or

	U32Add
	U32Sub
	U32Mul
	U32Div
	U32Eq
	U32Neq
	U32Less
	U32Greater
	U32LessEqual
	U32GreaterEqual
	U32BitwiseAnd
	U32BitwiseOr
	U32BitwiseXor
)

var unOpNames = []string{
	Not: "not",
	Neg: "neg",
}

var binOpNames = []string{
	Add:             "add",
	Sub:             "sub",
	Mul:             "mul",
	Div:             "div",
	Eq:              "eq",
	Neq:             "neq",
	Less:            "lt",
	Greater:         "gt",
	LessEqual:       "le",
	GreaterEqual:    "ge",
	And:             "and",
	Or:              "or",
	U32Add:          "u32_add",
	U32Sub:          "u32_sub",
	U32Mul:          "u32_mul",
	U32Div:          "u32_div",
	U32Eq:           "u32_eq",
	U32Neq:          "u32_neq",
	U32Less:         "u32_lt",
	U32Greater:      "u32_gt",
	U32LessEqual:    "u32_le",
	U32GreaterEqual: "u32_ge",
	U32BitwiseAnd:   "u32_and",
	U32BitwiseOr:    "u32_or",
	U32BitwiseXor:   "u32_xor",
}

func (*Assign) instruction()         {}
func (*UnaryOp) instruction()        {}
func (*BinaryOp) instruction()       {}
func (*Call) instruction()           {}
func (*Load) instruction()           {}
func (*Store) instruction()          {}
func (*FrameAlloc) instruction()     {}
func (*AddressOf) instruction()      {}
func (*GetElementPtr) instruction()  {}
func (*Cast) instruction()           {}
func (*Debug) instruction()          {}
func (*Nop) instruction()            {}
func (*Phi) instruction()            {}
func (*MakeTuple) instruction()      {}
func (*ExtractTuple) instruction()   {}
func (*MakeStruct) instruction()     {}
func (*ExtractField) instruction()   {}
func (*InsertField) instruction()    {}
func (*InsertTuple) instruction()    {}
func (*MakeFixedArray) instruction() {}

func (op UnOp) String() string {
	if int(op) < len(unOpNames) {
		return unOpNames[op]
	}

	return "unop?"
}

func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}

	return "binop?"
}

func ParseUnOp(s string) (UnOp, bool) {
	for op, n := range unOpNames {
		if n == s {
			return UnOp(op), true
		}
	}

	return 0, false
}

func ParseBinOp(s string) (BinOp, bool) {
	for op, n := range binOpNames {
		if n == s {
			return BinOp(op), true
		}
	}

	return 0, false
}

func (op BinOp) IsComparison() bool {
	switch op {
	case Eq, Neq, Less, Greater, LessEqual, GreaterEqual,
		U32Eq, U32Neq, U32Less, U32Greater, U32LessEqual, U32GreaterEqual:
		return true
	}

	return false
}

func (op BinOp) IsU32() bool {
	return op >= U32Add
}

// ResultType is the type produced by op applied to operands of type t.
func (op BinOp) ResultType(t tp.Type) tp.Type {
	switch {
	case op.IsComparison():
		return tp.Bool{}
	case op == And || op == Or:
		return tp.Bool{}
	case op.IsU32():
		return tp.U32{}
	}

	return t
}

// Dests returns values defined by the instruction.
func Dests(in Instruction) []ValueID {
	switch in := in.(type) {
	case *Assign:
		return []ValueID{in.Dest}
	case *UnaryOp:
		return []ValueID{in.Dest}
	case *BinaryOp:
		return []ValueID{in.Dest}
	case *Call:
		return in.Dests
	case *Load:
		return []ValueID{in.Dest}
	case *FrameAlloc:
		return []ValueID{in.Dest}
	case *AddressOf:
		return []ValueID{in.Dest}
	case *GetElementPtr:
		return []ValueID{in.Dest}
	case *Cast:
		return []ValueID{in.Dest}
	case *Phi:
		return []ValueID{in.Dest}
	case *MakeTuple:
		return []ValueID{in.Dest}
	case *ExtractTuple:
		return []ValueID{in.Dest}
	case *MakeStruct:
		return []ValueID{in.Dest}
	case *ExtractField:
		return []ValueID{in.Dest}
	case *InsertField:
		return []ValueID{in.Dest}
	case *InsertTuple:
		return []ValueID{in.Dest}
	case *MakeFixedArray:
		return []ValueID{in.Dest}
	case *Store, *Debug, *Nop:
		return nil
	default:
		panic(in)
	}
}

// Uses appends values read by the instruction to dst.
func Uses(dst []ValueID, in Instruction) []ValueID {
	add := func(vs ...Value) {
		for _, v := range vs {
			if id, ok := v.Operand(); ok {
				dst = append(dst, id)
			}
		}
	}

	switch in := in.(type) {
	case *Assign:
		add(in.Source)
	case *UnaryOp:
		add(in.Source)
	case *BinaryOp:
		add(in.Left, in.Right)
	case *Call:
		add(in.Args...)
	case *Load:
		add(in.Address)
	case *Store:
		add(in.Address, in.Value)
	case *FrameAlloc, *Nop:
	case *AddressOf:
		dst = append(dst, in.Operand)
	case *GetElementPtr:
		add(in.Base, in.Offset)
	case *Cast:
		add(in.Source)
	case *Debug:
		add(in.Values...)
	case *Phi:
		for _, s := range in.Sources {
			add(s.Value)
		}
	case *MakeTuple:
		add(in.Elems...)
	case *ExtractTuple:
		add(in.Tuple)
	case *MakeStruct:
		for _, f := range in.Fields {
			add(f.Value)
		}
	case *ExtractField:
		add(in.Struct)
	case *InsertField:
		add(in.Struct, in.Value)
	case *InsertTuple:
		add(in.Tuple, in.Value)
	case *MakeFixedArray:
		add(in.Elems...)
	default:
		panic(in)
	}

	return dst
}

// HasSideEffects reports instructions that must survive even if nothing reads their result.
func HasSideEffects(in Instruction) bool {
	switch in.(type) {
	case *Call, *Store, *FrameAlloc, *Debug:
		return true
	}

	return false
}

// IsPure reports instructions removable once their destinations are unused.
func IsPure(in Instruction) bool {
	return !HasSideEffects(in)
}
