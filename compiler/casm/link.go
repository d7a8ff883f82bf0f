package casm

import (
	"context"

	"tlog.app/go/tlog"
)

// Link is the second pass. It lays out code of all functions followed by their data,
// assigns every label the address of its position and rewrites label operands
// to literals: absolute for jumps, calls and data pointers, relative for jnz.
func Link(ctx context.Context, fns []*Builder) (p *Program, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "casm: link", "funcs", len(fns))
	defer tr.Finish("err", &err)

	p = &Program{
		Entrypoints: make(map[string]Entrypoint, len(fns)),
	}

	addr := make(map[string]int32)

	define := func(name string, a int32) error {
		if _, ok := addr[name]; ok {
			return newError(InvalidMIR, "duplicate label %v", name)
		}

		addr[name] = a
		p.Labels = append(p.Labels, Label{Name: name, Address: a, Resolved: true})

		return nil
	}

	var code []*Instr

	for _, b := range fns {
		base := int32(len(code))

		for _, l := range b.Labels {
			if l.Data {
				continue
			}

			err = define(l.Name, base+int32(l.At))
			if err != nil {
				return nil, err
			}
		}

		code = append(code, b.Code...)
	}

	var data []Data

	for _, b := range fns {
		base := int32(len(code) + len(data))

		for _, l := range b.Labels {
			if !l.Data {
				continue
			}

			err = define(l.Name, base+int32(l.At))
			if err != nil {
				return nil, err
			}
		}

		data = append(data, b.Data...)
	}

	for pc, in := range code {
		if !in.Imm.IsLabel() {
			continue
		}

		a, ok := addr[in.Imm.Label]
		if !ok {
			return nil, newError(UnresolvedLabel, "%v at pc %d", in.Imm.Label, pc)
		}

		if in.Opcode.IsRelative() {
			a -= int32(pc)
		}

		in.Imm = Operand{Kind: OperandLiteral, Literal: a, Label: in.Imm.Label}
	}

	for _, b := range fns {
		pc, ok := addr[b.Func]
		if !ok {
			continue
		}

		p.Entrypoints[b.Func] = Entrypoint{
			PC:      pc,
			Args:    b.Args,
			Returns: b.Returns,
		}
	}

	p.Items = make([]Item, 0, len(code)+len(data))

	for _, in := range code {
		p.Items = append(p.Items, in)
	}

	for _, d := range data {
		p.Items = append(p.Items, d)
	}

	tr.Printw("linked", "code", len(code), "data", len(data), "labels", len(addr))

	return p, nil
}
