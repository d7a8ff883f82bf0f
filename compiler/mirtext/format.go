package mirtext

import (
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

func FormatModule(b []byte, m *mir.Module) (_ []byte, err error) {
	for i, f := range m.Functions {
		if i != 0 {
			b = append(b, '\n')
		}

		b, err = formatFunc(b, m, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	return b, nil
}

// Format prints a single function. Calls are printed by callee id.
func Format(b []byte, f *mir.Function) ([]byte, error) {
	return formatFunc(b, nil, f)
}

func formatFunc(b []byte, m *mir.Module, f *mir.Function) (_ []byte, err error) {
	b = app(b, 0, "fn %s(", f.Name)

	for i, p := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = typed(b, f, p)
	}

	b = append(b, ") -> ("...)

	for i, t := range f.Returns {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = tp.Append(b, t)
	}

	b = append(b, ") {\n"...)

	if f.Entry != 0 {
		b = app(b, 1, "entry %v\n", f.Entry)
	}

	for i, blk := range f.Blocks {
		b = app(b, 0, "%v %s:\n", mir.BlockID(i), blk.Name)

		for j, in := range blk.Instructions {
			b = tab(b, 1)

			b, err = formatInstr(b, m, f, in)
			if err != nil {
				return nil, errors.Wrap(err, "block %v: instr %d", mir.BlockID(i), j)
			}

			b = append(b, '\n')
		}

		b = tab(b, 1)

		b, err = formatTerm(b, blk.Terminator)
		if err != nil {
			return nil, errors.Wrap(err, "block %v: terminator", mir.BlockID(i))
		}

		b = append(b, '\n')
	}

	b = append(b, "}\n"...)

	return b, nil
}

func formatInstr(b []byte, m *mir.Module, f *mir.Function, in mir.Instruction) ([]byte, error) {
	dest := func(b []byte, ids ...mir.ValueID) []byte {
		for i, id := range ids {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = typed(b, f, id)
		}

		return append(b, " = "...)
	}

	switch in := in.(type) {
	case *mir.Assign:
		b = dest(b, in.Dest)
		b = append(b, "assign "...)
		b = in.Source.Append(b)
	case *mir.UnaryOp:
		b = dest(b, in.Dest)
		b = append(b, in.Op.String()...)
		b = append(b, ' ')
		b = in.Source.Append(b)
	case *mir.BinaryOp:
		b = dest(b, in.Dest)
		b = append(b, in.Op.String()...)
		b = append(b, ' ')
		b = values(b, in.Left, in.Right)
	case *mir.Call:
		if len(in.Dests) != 0 {
			b = dest(b, in.Dests...)
		}

		b = append(b, "call @"...)

		var callee *mir.Function
		if m != nil {
			callee = m.Function(in.Callee)
		}

		if callee != nil {
			b = append(b, callee.Name...)
		} else {
			b = strconv.AppendInt(b, int64(in.Callee), 10)
		}

		b = append(b, '(')
		b = values(b, in.Args...)
		b = append(b, ')')
	case *mir.Load:
		b = dest(b, in.Dest)
		b = append(b, "load "...)
		b = in.Address.Append(b)
	case *mir.Store:
		b = append(b, "store "...)
		b = values(b, in.Address, in.Value)
	case *mir.FrameAlloc:
		b = dest(b, in.Dest)
		b = append(b, "framealloc"...)
	case *mir.AddressOf:
		b = dest(b, in.Dest)
		b = append(b, "addressof "...)
		b = in.Operand.Append(b)
	case *mir.GetElementPtr:
		b = dest(b, in.Dest)
		b = append(b, "gep "...)
		b = values(b, in.Base, in.Offset)
	case *mir.Cast:
		b = dest(b, in.Dest)
		b = append(b, "cast "...)
		b = in.Source.Append(b)
	case *mir.Debug:
		b = append(b, "debug "...)
		b = strconv.AppendQuote(b, in.Message)

		if len(in.Values) != 0 {
			b = append(b, ' ')
			b = values(b, in.Values...)
		}
	case *mir.Nop:
		b = append(b, "nop"...)
	case *mir.Phi:
		b = dest(b, in.Dest)
		b = append(b, "phi "...)

		for i, s := range in.Sources {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = app(b, 0, "[%v: ", s.Block)
			b = s.Value.Append(b)
			b = append(b, ']')
		}
	case *mir.MakeTuple:
		b = dest(b, in.Dest)
		b = append(b, "tuple "...)
		b = values(b, in.Elems...)
	case *mir.ExtractTuple:
		b = dest(b, in.Dest)
		b = append(b, "extract "...)
		b = in.Tuple.Append(b)
		b = app(b, 0, ", %d", in.Index)
	case *mir.MakeStruct:
		b = dest(b, in.Dest)
		b = append(b, "struct "...)

		for i, fv := range in.Fields {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, fv.Name...)
			b = append(b, ": "...)
			b = fv.Value.Append(b)
		}
	case *mir.ExtractField:
		b = dest(b, in.Dest)
		b = append(b, "field "...)
		b = in.Struct.Append(b)
		b = append(b, ", "...)
		b = append(b, in.Field...)
	case *mir.InsertField:
		b = dest(b, in.Dest)
		b = append(b, "insertfield "...)
		b = in.Struct.Append(b)
		b = append(b, ", "...)
		b = append(b, in.Field...)
		b = append(b, ", "...)
		b = in.Value.Append(b)
	case *mir.InsertTuple:
		b = dest(b, in.Dest)
		b = append(b, "inserttuple "...)
		b = in.Tuple.Append(b)
		b = app(b, 0, ", %d, ", in.Index)
		b = in.Value.Append(b)
	case *mir.MakeFixedArray:
		b = dest(b, in.Dest)
		b = append(b, "array "...)
		b = values(b, in.Elems...)
	default:
		return nil, errors.New("unsupported instruction: %T", in)
	}

	return b, nil
}

func formatTerm(b []byte, t mir.Terminator) ([]byte, error) {
	switch t := t.(type) {
	case *mir.Jump:
		b = app(b, 0, "jump %v", t.Target)
	case *mir.If:
		b = append(b, "if "...)
		b = t.Cond.Append(b)
		b = app(b, 0, " then %v else %v", t.Then, t.Else)
	case *mir.BranchCmp:
		b = app(b, 0, "brcmp %v ", t.Op)
		b = values(b, t.Left, t.Right)
		b = app(b, 0, " then %v else %v", t.Then, t.Else)
	case *mir.Return:
		b = append(b, "return"...)

		if len(t.Values) != 0 {
			b = append(b, ' ')
			b = values(b, t.Values...)
		}
	case *mir.Unreachable:
		b = append(b, "unreachable"...)
	case nil:
		return nil, errors.New("no terminator")
	default:
		return nil, errors.New("unsupported terminator: %T", t)
	}

	return b, nil
}

func typed(b []byte, f *mir.Function, id mir.ValueID) []byte {
	b = id.Append(b)
	b = append(b, ": "...)

	return tp.Append(b, f.ValueType(mir.Op(id)))
}

func values(b []byte, vs ...mir.Value) []byte {
	for i, v := range vs {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = v.Append(b)
	}

	return b
}

func tab(b []byte, d int) []byte {
	const tabs = "\t\t\t\t\t\t\t\t"
	return append(b, tabs[:d]...)
}

func app(b []byte, d int, f string, args ...any) []byte {
	b = tab(b, d)
	b = hfmt.Appendf(b, f, args...)
	return b
}
