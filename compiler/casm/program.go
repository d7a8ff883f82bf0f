package casm

import (
	"encoding/json"

	"github.com/nikandfor/hacked/hfmt"
)

type (
	// Program is a linked instruction and data stream. An item address is its index.
	Program struct {
		Items  []Item
		Labels []Label

		Entrypoints map[string]Entrypoint
		Metadata    Metadata
	}

	// Entrypoint describes how to call a function: its address and
	// the ABI slots of every parameter and return value.
	Entrypoint struct {
		PC      int32 `json:"pc"`
		Args    []int `json:"args"`
		Returns []int `json:"returns"`
	}

	Metadata struct {
		SourceFile      string `json:"source_file,omitempty"`
		CompilerVersion string `json:"compiler_version,omitempty"`
	}

	jsonItem struct {
		Opcode   *uint32   `json:"opcode,omitempty"`
		Name     string    `json:"name,omitempty"`
		Operands *[3]int32 `json:"operands,omitempty"`
		Data     *int32    `json:"data,omitempty"`
	}

	jsonProgram struct {
		Metadata    Metadata              `json:"metadata"`
		Entrypoints map[string]Entrypoint `json:"entrypoints"`
		Program     []jsonItem            `json:"program"`
	}
)

func (p *Program) Len() int { return len(p.Items) }

// Code returns the instructions, which precede all the data.
func (p *Program) Code() (r []*Instr) {
	for _, it := range p.Items {
		if in, ok := it.(*Instr); ok {
			r = append(r, in)
		}
	}

	return r
}

func (p *Program) Label(name string) (int32, bool) {
	for _, l := range p.Labels {
		if l.Name == name {
			return l.Address, l.Resolved
		}
	}

	return 0, false
}

func (p *Program) MarshalJSON() ([]byte, error) {
	x := jsonProgram{
		Metadata:    p.Metadata,
		Entrypoints: p.Entrypoints,
		Program:     make([]jsonItem, len(p.Items)),
	}

	for i, it := range p.Items {
		switch it := it.(type) {
		case *Instr:
			op := it.Opcode.ToU32()
			ops := it.Operands()

			x.Program[i] = jsonItem{Opcode: &op, Name: it.Opcode.String(), Operands: &ops}
		case Data:
			v := it.Value

			x.Program[i] = jsonItem{Data: &v}
		}
	}

	return json.Marshal(x)
}

// AppendListing appends the assembly listing with label definitions and addresses.
func (p *Program) AppendListing(b []byte) []byte {
	if p.Metadata.SourceFile != "" {
		b = hfmt.Appendf(b, "// source %s\n", p.Metadata.SourceFile)
	}

	names := make([]string, 0, len(p.Entrypoints))
	for _, l := range p.Labels {
		if _, ok := p.Entrypoints[l.Name]; ok {
			names = append(names, l.Name)
		}
	}

	for _, name := range names {
		e := p.Entrypoints[name]

		b = hfmt.Appendf(b, "// entrypoint %s pc %d args %v returns %v\n", name, e.PC, e.Args, e.Returns)
	}

	l := 0

	for pc, it := range p.Items {
		for l < len(p.Labels) && p.Labels[l].Address <= int32(pc) {
			b = hfmt.Appendf(b, "%s:\n", p.Labels[l].Name)
			l++
		}

		switch it := it.(type) {
		case *Instr:
			b = hfmt.Appendf(b, "%5d\t", pc)
			b = it.Append(b)
			b = append(b, '\n')
		case Data:
			b = hfmt.Appendf(b, "%5d\t.data %d\n", pc, it.Value)
		}
	}

	for ; l < len(p.Labels); l++ {
		b = hfmt.Appendf(b, "%s:\n", p.Labels[l].Name)
	}

	return b
}
