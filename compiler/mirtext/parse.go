package mirtext

import (
	"bytes"
	"context"
	"os"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

type (
	Spaces uint64

	parser struct {
		b []byte
		m *mir.Module

		calls []pendingCall
	}

	pendingCall struct {
		c    *mir.Call
		name string
		pos  int
	}
)

var (
	SpaceTab = NewSpaces(' ', '\t', '\r')
	SpaceAll = NewSpaces(' ', '\t', '\r', '\n')
)

func NewSpaces(skip ...byte) (ss Spaces) {
	for _, q := range skip {
		if q >= 64 {
			panic("too high char code")
		}

		ss |= 1 << q
	}

	return
}

func (s Spaces) Skip(b []byte, st int) (i int) {
	i = st

	for i < len(b) && b[i] < 64 && s&(1<<b[i]) != 0 {
		i++
	}

	return
}

func ParseFile(ctx context.Context, name string) (*mir.Module, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	m, err := Parse(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return m, nil
}

// Parse reads a module in the text form produced by FormatModule.
func Parse(ctx context.Context, text []byte) (m *mir.Module, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "mirtext: parse", "size", len(text))
	defer tr.Finish("err", &err)

	p := &parser{b: text, m: mir.NewModule()}

	i := p.skip(0)

	for i < len(p.b) {
		var f *mir.Function

		f, i, err = p.function(i)
		if err != nil {
			return nil, p.wrap(err, i)
		}

		if _, ok := p.m.Lookup(f.Name); ok {
			return nil, p.wrap(errors.New("function %v redefined", f.Name), i)
		}

		p.m.AddFunction(f)

		i = p.skip(i)
	}

	for _, pc := range p.calls {
		id, ok := p.m.Lookup(pc.name)
		if !ok {
			n, err := strconv.Atoi(pc.name)
			if err != nil || p.m.Function(mir.FunctionID(n)) == nil {
				return nil, p.wrap(errors.New("call to undefined function %v", pc.name), pc.pos)
			}

			id = mir.FunctionID(n)
		}

		callee := p.m.Function(id)

		pc.c.Callee = id
		pc.c.Sig = callee.Signature()

		if len(pc.c.Dests) != 0 && len(pc.c.Dests) != len(callee.Returns) {
			return nil, p.wrap(errors.New("call %v: %d results, function returns %d", pc.name, len(pc.c.Dests), len(callee.Returns)), pc.pos)
		}
	}

	tr.Printw("parsed module", "funcs", len(p.m.Functions))

	return p.m, nil
}

func (p *parser) function(st int) (f *mir.Function, i int, err error) {
	i, err = p.keyword(st, "fn")
	if err != nil {
		return nil, i, err
	}

	name, i, err := p.ident(i)
	if err != nil {
		return nil, i, errors.Wrap(err, "function name")
	}

	f = mir.NewFunction(name)

	i, err = p.lit(i, "(")
	if err != nil {
		return nil, i, err
	}

	for j := 0; ; j++ {
		if k, err := p.lit(i, ")"); err == nil {
			i = k
			break
		}

		if j != 0 {
			i, err = p.lit(i, ",")
			if err != nil {
				return nil, i, err
			}
		}

		var id mir.ValueID
		var t tp.Type

		id, t, i, err = p.typedValue(i)
		if err != nil {
			return nil, i, errors.Wrap(err, "param %d", j)
		}

		f.DeclareValue(id, t)
		f.Params = append(f.Params, id)
	}

	i, err = p.lit(i, "->")
	if err != nil {
		return nil, i, err
	}

	i, err = p.lit(i, "(")
	if err != nil {
		return nil, i, err
	}

	for j := 0; ; j++ {
		if k, err := p.lit(i, ")"); err == nil {
			i = k
			break
		}

		if j != 0 {
			i, err = p.lit(i, ",")
			if err != nil {
				return nil, i, err
			}
		}

		var t tp.Type

		t, i, err = p.typ(i)
		if err != nil {
			return nil, i, errors.Wrap(err, "return %d", j)
		}

		f.Returns = append(f.Returns, t)
	}

	i, err = p.lit(i, "{")
	if err != nil {
		return nil, i, err
	}

	if k, err := p.keyword(i, "entry"); err == nil {
		f.Entry, i, err = p.blockRef(k)
		if err != nil {
			return nil, i, errors.Wrap(err, "entry")
		}
	}

	var terms []mir.Terminator
	var tpos []int

	for {
		if k, err := p.lit(i, "}"); err == nil {
			i = k
			break
		}

		lpos := p.skip(i)

		id, k, err := p.blockRef(i)
		if err != nil {
			return nil, k, errors.Wrap(err, "block label")
		}

		if int(id) != len(terms) {
			return nil, lpos, errors.New("block %v out of order, want %v", id, mir.BlockID(len(terms)))
		}

		i = k

		bname := ""
		if n, k, err := p.ident(i); err == nil {
			bname, i = n, k
		}

		i, err = p.lit(i, ":")
		if err != nil {
			return nil, i, err
		}

		if id != 0 {
			f.NewBlock(bname)
		} else {
			f.Blocks[0].Name = bname
		}

		blk := f.Blocks[id]

		var t mir.Terminator

		for t == nil {
			var in mir.Instruction

			tpos = append(tpos[:len(terms)], p.skip(i))

			in, t, i, err = p.instruction(f, i)
			if err != nil {
				return nil, i, errors.Wrap(err, "block %v", id)
			}

			if in != nil {
				blk.Push(in)
			}
		}

		blk.Filled = true
		blk.Sealed = true

		terms = append(terms, t)
	}

	if !f.HasBlock(f.Entry) {
		return nil, i, errors.New("entry block %v not defined", f.Entry)
	}

	for id, t := range terms {
		for _, s := range mir.Targets(t) {
			if !f.HasBlock(s) {
				return nil, tpos[id], errors.New("jump to undefined block %v", s)
			}
		}

		mir.SetTerminator(f, mir.BlockID(id), t)
	}

	fixTypes(f)

	return f, i, nil
}

// instruction parses one line. It returns either an instruction or a terminator.
func (p *parser) instruction(f *mir.Function, st int) (in mir.Instruction, t mir.Terminator, i int, err error) {
	i = p.skip(st)

	if i < len(p.b) && p.b[i] == '%' {
		var dests []mir.ValueID

		for {
			id, tt, k, err := p.typedValue(i)
			if err != nil {
				return nil, nil, k, err
			}

			f.DeclareValue(id, tt)
			dests = append(dests, id)
			i = k

			if k, err := p.lit(i, ","); err == nil {
				i = k
				continue
			}

			break
		}

		i, err = p.lit(i, "=")
		if err != nil {
			return nil, nil, i, err
		}

		in, i, err = p.defining(f, dests, i)

		return in, nil, i, err
	}

	op, k, err := p.ident(i)
	if err != nil {
		return nil, nil, i, errors.Wrap(err, "instruction")
	}

	i = k

	switch op {
	case "store":
		var addr, v mir.Value

		addr, i, err = p.value(f, i)
		if err != nil {
			return nil, nil, i, err
		}

		i, err = p.lit(i, ",")
		if err != nil {
			return nil, nil, i, err
		}

		v, i, err = p.value(f, i)
		if err != nil {
			return nil, nil, i, err
		}

		return &mir.Store{Address: addr, Value: v}, nil, i, nil
	case "debug":
		i = p.skip(i)

		end := p.stringEnd(i)
		if end < 0 {
			return nil, nil, i, errors.New("debug: message expected")
		}

		msg, err := strconv.Unquote(string(p.b[i:end]))
		if err != nil {
			return nil, nil, i, errors.Wrap(err, "debug message")
		}

		vals, k, err := p.valueList(f, end)
		if err != nil {
			return nil, nil, k, err
		}

		return &mir.Debug{Message: msg, Values: vals}, nil, k, nil
	case "nop":
		return &mir.Nop{}, nil, i, nil
	case "call":
		c, k, err := p.call(f, nil, i)
		return c, nil, k, err
	case "jump":
		var to mir.BlockID

		to, i, err = p.blockRef(i)
		if err != nil {
			return nil, nil, i, err
		}

		return nil, &mir.Jump{Target: to}, i, nil
	case "if":
		var cond mir.Value

		cond, i, err = p.value(f, i)
		if err != nil {
			return nil, nil, i, err
		}

		then, els, k, err := p.branches(i)
		if err != nil {
			return nil, nil, k, err
		}

		return nil, &mir.If{Cond: cond, Then: then, Else: els}, k, nil
	case "brcmp":
		name, k, err := p.ident(i)
		if err != nil {
			return nil, nil, k, err
		}

		bop, ok := mir.ParseBinOp(name)
		if !ok || !bop.IsComparison() {
			return nil, nil, i, errors.New("brcmp: comparison expected, got %v", name)
		}

		l, r, k, err := p.pair(f, k)
		if err != nil {
			return nil, nil, k, err
		}

		then, els, k, err := p.branches(k)
		if err != nil {
			return nil, nil, k, err
		}

		return nil, &mir.BranchCmp{Op: bop, Left: l, Right: r, Then: then, Else: els}, k, nil
	case "return":
		vals, k, err := p.valueList(f, i)
		if err != nil {
			return nil, nil, k, err
		}

		return nil, &mir.Return{Values: vals}, k, nil
	case "unreachable":
		return nil, &mir.Unreachable{}, i, nil
	default:
		return nil, nil, st, errors.New("unknown instruction: %v", op)
	}
}

func (p *parser) defining(f *mir.Function, dests []mir.ValueID, st int) (in mir.Instruction, i int, err error) {
	st = p.skip(st)

	op, i, err := p.ident(st)
	if err != nil {
		return nil, i, errors.Wrap(err, "operation")
	}

	if op == "call" {
		return p.call(f, dests, i)
	}

	if len(dests) != 1 {
		return nil, st, errors.New("%v: one destination expected", op)
	}

	d := dests[0]
	dt := f.Types[d]

	if uop, ok := mir.ParseUnOp(op); ok {
		v, i, err := p.value(f, i)
		if err != nil {
			return nil, i, err
		}

		return &mir.UnaryOp{Op: uop, Dest: d, Source: v}, i, nil
	}

	if bop, ok := mir.ParseBinOp(op); ok {
		l, r, i, err := p.pair(f, i)
		if err != nil {
			return nil, i, err
		}

		return &mir.BinaryOp{Op: bop, Dest: d, Left: l, Right: r}, i, nil
	}

	switch op {
	case "assign":
		v, i, err := p.value(f, i)
		if err != nil {
			return nil, i, err
		}

		return &mir.Assign{Dest: d, Source: v, Type: dt}, i, nil
	case "load":
		v, i, err := p.value(f, i)
		if err != nil {
			return nil, i, err
		}

		return &mir.Load{Dest: d, Type: dt, Address: v}, i, nil
	case "framealloc":
		pt, ok := dt.(tp.Ptr)
		if !ok {
			return nil, st, errors.New("framealloc: pointer destination expected, got %v", tp.String(dt))
		}

		return &mir.FrameAlloc{Dest: d, Type: pt.X}, i, nil
	case "addressof":
		v, k, err := p.value(f, i)
		if err != nil {
			return nil, k, err
		}

		id, ok := v.Operand()
		if !ok {
			return nil, i, errors.New("addressof: value expected")
		}

		return &mir.AddressOf{Dest: d, Operand: id}, k, nil
	case "gep":
		base, off, i, err := p.pair(f, i)
		if err != nil {
			return nil, i, err
		}

		return &mir.GetElementPtr{Dest: d, Base: base, Offset: off}, i, nil
	case "cast":
		v, i, err := p.value(f, i)
		if err != nil {
			return nil, i, err
		}

		return &mir.Cast{Dest: d, Source: v, To: dt}, i, nil
	case "phi":
		return p.phi(f, d, dt, i)
	case "tuple":
		tt, ok := dt.(tp.Tuple)
		if !ok {
			return nil, st, errors.New("tuple: tuple destination expected")
		}

		vals, i, err := p.valueList(f, i)
		if err != nil {
			return nil, i, err
		}

		return &mir.MakeTuple{Dest: d, Elems: vals, Type: tt}, i, nil
	case "extract":
		v, k, err := p.value(f, i)
		if err != nil {
			return nil, k, err
		}

		idx, k, err := p.commaInt(k)
		if err != nil {
			return nil, k, err
		}

		return &mir.ExtractTuple{Dest: d, Tuple: v, Index: idx, Type: dt}, k, nil
	case "inserttuple":
		tt, ok := dt.(tp.Tuple)
		if !ok {
			return nil, st, errors.New("inserttuple: tuple destination expected")
		}

		v, k, err := p.value(f, i)
		if err != nil {
			return nil, k, err
		}

		idx, k, err := p.commaInt(k)
		if err != nil {
			return nil, k, err
		}

		k, err = p.lit(k, ",")
		if err != nil {
			return nil, k, err
		}

		x, k, err := p.value(f, k)
		if err != nil {
			return nil, k, err
		}

		return &mir.InsertTuple{Dest: d, Tuple: v, Index: idx, Value: x, Type: tt}, k, nil
	case "struct":
		st, ok := dt.(tp.Struct)
		if !ok {
			return nil, i, errors.New("struct: struct destination expected")
		}

		var fields []mir.FieldValue

		for j := range st.Fields {
			if j != 0 {
				i, err = p.lit(i, ",")
				if err != nil {
					return nil, i, err
				}
			}

			var fv mir.FieldValue

			fv.Name, i, err = p.ident(i)
			if err != nil {
				return nil, i, err
			}

			i, err = p.lit(i, ":")
			if err != nil {
				return nil, i, err
			}

			fv.Value, i, err = p.value(f, i)
			if err != nil {
				return nil, i, err
			}

			fields = append(fields, fv)
		}

		return &mir.MakeStruct{Dest: d, Fields: fields, Type: st}, i, nil
	case "field", "insertfield":
		v, k, err := p.value(f, i)
		if err != nil {
			return nil, k, err
		}

		k, err = p.lit(k, ",")
		if err != nil {
			return nil, k, err
		}

		name, k, err := p.ident(k)
		if err != nil {
			return nil, k, err
		}

		if op == "field" {
			return &mir.ExtractField{Dest: d, Struct: v, Field: name, Type: dt}, k, nil
		}

		st, ok := dt.(tp.Struct)
		if !ok {
			return nil, i, errors.New("insertfield: struct destination expected")
		}

		k, err = p.lit(k, ",")
		if err != nil {
			return nil, k, err
		}

		x, k, err := p.value(f, k)
		if err != nil {
			return nil, k, err
		}

		return &mir.InsertField{Dest: d, Struct: v, Field: name, Value: x, Type: st}, k, nil
	case "array":
		at, ok := dt.(tp.Array)
		if !ok {
			return nil, i, errors.New("array: array destination expected")
		}

		vals, k, err := p.valueList(f, i)
		if err != nil {
			return nil, k, err
		}

		if len(vals) != at.Len {
			return nil, i, errors.New("array: %d elements, type wants %d", len(vals), at.Len)
		}

		return &mir.MakeFixedArray{Dest: d, Elems: vals, ElemType: at.X}, k, nil
	default:
		return nil, st, errors.New("unknown operation: %v", op)
	}
}

func (p *parser) call(f *mir.Function, dests []mir.ValueID, st int) (_ mir.Instruction, i int, err error) {
	i, err = p.lit(st, "@")
	if err != nil {
		return nil, i, err
	}

	var name string

	if i < len(p.b) && p.b[i] >= '0' && p.b[i] <= '9' {
		var n int64

		n, i, err = p.number(i)
		name = strconv.FormatInt(n, 10)
	} else {
		name, i, err = p.ident(i)
	}
	if err != nil {
		return nil, i, errors.Wrap(err, "callee")
	}

	i, err = p.lit(i, "(")
	if err != nil {
		return nil, i, err
	}

	var args []mir.Value

	for j := 0; ; j++ {
		if k, err := p.lit(i, ")"); err == nil {
			i = k
			break
		}

		if j != 0 {
			i, err = p.lit(i, ",")
			if err != nil {
				return nil, i, err
			}
		}

		var v mir.Value

		v, i, err = p.value(f, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "arg %d", j)
		}

		args = append(args, v)
	}

	c := &mir.Call{Dests: dests, Args: args}
	p.calls = append(p.calls, pendingCall{c: c, name: name, pos: st})

	return c, i, nil
}

func (p *parser) phi(f *mir.Function, d mir.ValueID, t tp.Type, st int) (_ mir.Instruction, i int, err error) {
	phi := &mir.Phi{Dest: d, Type: t}
	i = st

	for j := 0; ; j++ {
		if j != 0 {
			k, err := p.lit(i, ",")
			if err != nil {
				break
			}

			i = k
		}

		i, err = p.lit(i, "[")
		if err != nil {
			return nil, i, err
		}

		var s mir.PhiSource

		s.Block, i, err = p.blockRef(i)
		if err != nil {
			return nil, i, err
		}

		i, err = p.lit(i, ":")
		if err != nil {
			return nil, i, err
		}

		s.Value, i, err = p.value(f, i)
		if err != nil {
			return nil, i, err
		}

		i, err = p.lit(i, "]")
		if err != nil {
			return nil, i, err
		}

		phi.Sources = append(phi.Sources, s)
	}

	return phi, i, nil
}

func (p *parser) branches(st int) (then, els mir.BlockID, i int, err error) {
	i, err = p.keyword(st, "then")
	if err != nil {
		return
	}

	then, i, err = p.blockRef(i)
	if err != nil {
		return
	}

	i, err = p.keyword(i, "else")
	if err != nil {
		return
	}

	els, i, err = p.blockRef(i)

	return
}

func (p *parser) pair(f *mir.Function, st int) (l, r mir.Value, i int, err error) {
	l, i, err = p.value(f, st)
	if err != nil {
		return
	}

	i, err = p.lit(i, ",")
	if err != nil {
		return
	}

	r, i, err = p.value(f, i)

	return
}

func (p *parser) commaInt(st int) (x int, i int, err error) {
	i, err = p.lit(st, ",")
	if err != nil {
		return 0, i, err
	}

	n, i, err := p.number(i)
	if err != nil {
		return 0, i, err
	}

	return int(n), i, nil
}

// valueList parses values up to the end of the line.
func (p *parser) valueList(f *mir.Function, st int) (vals []mir.Value, i int, err error) {
	i = SpaceTab.Skip(p.b, st)

	if i == len(p.b) || p.b[i] == '\n' || p.b[i] == '}' || bytes.HasPrefix(p.b[i:], []byte("//")) {
		return nil, i, nil
	}

	for j := 0; ; j++ {
		if j != 0 {
			k := SpaceTab.Skip(p.b, i)
			if k == len(p.b) || p.b[k] != ',' {
				break
			}

			i = k + 1
		}

		var v mir.Value

		v, i, err = p.value(f, i)
		if err != nil {
			return nil, i, err
		}

		vals = append(vals, v)
	}

	return vals, i, nil
}

func (p *parser) typedValue(st int) (id mir.ValueID, t tp.Type, i int, err error) {
	id, i, err = p.valueID(st)
	if err != nil {
		return
	}

	i, err = p.lit(i, ":")
	if err != nil {
		return
	}

	t, i, err = p.typ(i)

	return
}

func (p *parser) valueID(st int) (mir.ValueID, int, error) {
	i := p.skip(st)

	if i == len(p.b) || p.b[i] != '%' {
		return 0, i, errors.New("value expected")
	}

	n, k, err := p.number(i + 1)
	if err != nil || n < 0 {
		return 0, i, errors.New("value id expected")
	}

	return mir.ValueID(n), k, nil
}

func (p *parser) value(f *mir.Function, st int) (v mir.Value, i int, err error) {
	i = p.skip(st)

	if i == len(p.b) {
		return v, i, errors.New("value expected")
	}

	switch c := p.b[i]; {
	case c == '%':
		id, k, err := p.valueID(i)
		if err != nil {
			return v, k, err
		}

		f.DeclareValue(id, nil)

		return mir.Op(id), k, nil
	case c == '-' || c >= '0' && c <= '9':
		n, k, err := p.number(i)
		if err != nil {
			return v, k, err
		}

		if n != int64(int32(n)) {
			return v, i, errors.New("literal %d overflows int32", n)
		}

		return mir.Int(int32(n)), k, nil
	case c == '(':
		k, err := p.lit(i+1, ")")
		if err != nil {
			return v, k, errors.New("unit literal expected")
		}

		return mir.UnitValue(), k, nil
	}

	if k, err := p.keyword(i, "true"); err == nil {
		return mir.Bool(true), k, nil
	}

	if k, err := p.keyword(i, "false"); err == nil {
		return mir.Bool(false), k, nil
	}

	if bytes.HasPrefix(p.b[i:], []byte("<error>")) {
		return mir.ErrorValue(), i + len("<error>"), nil
	}

	return v, i, errors.New("value expected")
}

func (p *parser) typ(st int) (t tp.Type, i int, err error) {
	i = p.skip(st)

	if i == len(p.b) {
		return nil, i, errors.New("type expected")
	}

	switch p.b[i] {
	case '?':
		return tp.Unknown{}, i + 1, nil
	case '*':
		x, k, err := p.typ(i + 1)
		if err != nil {
			return nil, k, err
		}

		return tp.Ptr{X: x}, k, nil
	case '[':
		x, k, err := p.typ(i + 1)
		if err != nil {
			return nil, k, err
		}

		k, err = p.lit(k, ";")
		if err != nil {
			return nil, k, err
		}

		n, k, err := p.number(k)
		if err != nil || n < 0 {
			return nil, k, errors.New("array length expected")
		}

		k, err = p.lit(k, "]")
		if err != nil {
			return nil, k, err
		}

		return tp.Array{X: x, Len: int(n)}, k, nil
	case '(':
		i++

		if k, err := p.lit(i, ")"); err == nil {
			return tp.Unit{}, k, nil
		}

		var elems []tp.Type
		comma := false

		for {
			if k, err := p.lit(i, ")"); err == nil {
				i = k
				break
			}

			if len(elems) != 0 {
				i, err = p.lit(i, ",")
				if err != nil {
					return nil, i, err
				}

				comma = true

				if k, err := p.lit(i, ")"); err == nil {
					i = k
					break
				}
			}

			var x tp.Type

			x, i, err = p.typ(i)
			if err != nil {
				return nil, i, err
			}

			elems = append(elems, x)
		}

		if len(elems) == 1 && !comma {
			return elems[0], i, nil
		}

		return tp.Tuple{Elems: elems}, i, nil
	case '{':
		return p.structType("", i)
	}

	name, k, err := p.ident(i)
	if err != nil {
		return nil, i, errors.New("type expected")
	}

	switch name {
	case "felt":
		return tp.Felt{}, k, nil
	case "bool":
		return tp.Bool{}, k, nil
	case "u32":
		return tp.U32{}, k, nil
	case "fn":
		return p.funcType(k)
	}

	if k < len(p.b) && p.b[k] == '{' {
		return p.structType(name, k)
	}

	return nil, i, errors.New("unknown type: %v", name)
}

func (p *parser) structType(name string, st int) (t tp.Type, i int, err error) {
	i, err = p.lit(st, "{")
	if err != nil {
		return nil, i, err
	}

	var fields []tp.StructField

	for {
		if k, err := p.lit(i, "}"); err == nil {
			i = k
			break
		}

		if len(fields) != 0 {
			i, err = p.lit(i, ",")
			if err != nil {
				return nil, i, err
			}
		}

		var sf tp.StructField

		sf.Name, i, err = p.ident(i)
		if err != nil {
			return nil, i, errors.Wrap(err, "field name")
		}

		i, err = p.lit(i, ":")
		if err != nil {
			return nil, i, err
		}

		sf.Type, i, err = p.typ(i)
		if err != nil {
			return nil, i, errors.Wrap(err, "field %v", sf.Name)
		}

		fields = append(fields, sf)
	}

	return tp.NewStruct(name, fields...), i, nil
}

func (p *parser) funcType(st int) (t tp.Type, i int, err error) {
	var ft tp.Func

	list := func(i int) (r []tp.Type, _ int, err error) {
		i, err = p.lit(i, "(")
		if err != nil {
			return nil, i, err
		}

		for {
			if k, err := p.lit(i, ")"); err == nil {
				return r, k, nil
			}

			if len(r) != 0 {
				i, err = p.lit(i, ",")
				if err != nil {
					return nil, i, err
				}
			}

			var x tp.Type

			x, i, err = p.typ(i)
			if err != nil {
				return nil, i, err
			}

			r = append(r, x)
		}
	}

	ft.In, i, err = list(st)
	if err != nil {
		return nil, i, err
	}

	i, err = p.lit(i, "->")
	if err != nil {
		return nil, i, err
	}

	ft.Out, i, err = list(i)
	if err != nil {
		return nil, i, err
	}

	return ft, i, nil
}

func (p *parser) blockRef(st int) (mir.BlockID, int, error) {
	i := p.skip(st)

	if !bytes.HasPrefix(p.b[i:], []byte("bb")) {
		return 0, i, errors.New("block expected")
	}

	n, k, err := p.number(i + 2)
	if err != nil || n < 0 {
		return 0, i, errors.New("block id expected")
	}

	return mir.BlockID(n), k, nil
}

func (p *parser) number(st int) (int64, int, error) {
	i := p.skip(st)
	s := i

	if i < len(p.b) && p.b[i] == '-' {
		i++
	}

	d := i

	for i < len(p.b) && p.b[i] >= '0' && p.b[i] <= '9' {
		i++
	}

	if i == d {
		return 0, s, errors.New("number expected")
	}

	n, err := strconv.ParseInt(string(p.b[s:i]), 10, 64)
	if err != nil {
		return 0, s, errors.Wrap(err, "number")
	}

	return n, i, nil
}

func (p *parser) ident(st int) (string, int, error) {
	i := p.skip(st)
	s := i

	for i < len(p.b) && (isLetter(p.b[i]) || i != s && (p.b[i] >= '0' && p.b[i] <= '9' || p.b[i] == '.')) {
		i++
	}

	if i == s {
		return "", s, errors.New("identifier expected")
	}

	return string(p.b[s:i]), i, nil
}

func (p *parser) keyword(st int, kw string) (int, error) {
	i := p.skip(st)

	if !bytes.HasPrefix(p.b[i:], []byte(kw)) {
		return i, errors.New("%q expected", kw)
	}

	k := i + len(kw)

	if k < len(p.b) && (isLetter(p.b[k]) || p.b[k] >= '0' && p.b[k] <= '9') {
		return i, errors.New("%q expected", kw)
	}

	return k, nil
}

func (p *parser) lit(st int, s string) (int, error) {
	i := p.skip(st)

	if !bytes.HasPrefix(p.b[i:], []byte(s)) {
		return i, errors.New("%q expected", s)
	}

	return i + len(s), nil
}

func (p *parser) stringEnd(st int) int {
	if st >= len(p.b) || p.b[st] != '"' {
		return -1
	}

	for i := st + 1; i < len(p.b); i++ {
		switch p.b[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		case '\n':
			return -1
		}
	}

	return -1
}

// skip skips spaces, newlines and line comments.
func (p *parser) skip(st int) (i int) {
	i = st

	for {
		i = SpaceAll.Skip(p.b, i)

		if !bytes.HasPrefix(p.b[i:], []byte("//")) {
			return i
		}

		for i < len(p.b) && p.b[i] != '\n' {
			i++
		}
	}
}

func (p *parser) wrap(err error, pos int) error {
	line, col := 1, 1

	for _, c := range p.b[:pos] {
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	return errors.Wrap(err, "%d:%d", line, col)
}

func fixTypes(f *mir.Function) {
	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			switch in := in.(type) {
			case *mir.Store:
				if in.Type == nil {
					in.Type = f.ValueType(in.Value)
				}
			case *mir.Cast:
				if in.From == nil {
					in.From = f.ValueType(in.Source)
				}
			}
		}
	}
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}
