package layout

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/mirc/compiler/mir"
	"github.com/slowlang/mirc/compiler/tp"
)

type (
	// ValueLayout is a Slot or a MultiSlot.
	ValueLayout interface {
		Base() int32
		Len() int
	}

	Slot struct {
		Offset int32
	}

	MultiSlot struct {
		Offset int32
		Size   int
	}

	// Layout maps every value of a function to fp relative storage.
	//
	// Callee view of the frame with M parameter slots and K return slots:
	//
	//	fp - M - K - 2   param 0
	//	...
	//	fp - K - 2       return slot 0
	//	...
	//	fp - 2           caller fp
	//	fp - 1           return pc
	//	fp + 0           locals in creation order
	Layout struct {
		Name string

		Values map[mir.ValueID]ValueLayout
		Order  []mir.ValueID

		FrameSize int

		Params      int
		ParamSlots  int
		Returns     int
		ReturnSlots int
	}
)

// CallerSaveSlots hold the caller fp and the return pc.
const CallerSaveSlots = 2

// MaxFrameSize bounds both the locals and the parameter area of a frame
// so every fp relative offset fits into int32.
const MaxFrameSize = 1 << 24

var (
	ErrNoLayout      = errors.New("no layout")
	ErrFrameOverflow = errors.New("frame overflow")
)

func (x Slot) Base() int32      { return x.Offset }
func (x Slot) Len() int         { return 1 }
func (x MultiSlot) Base() int32 { return x.Offset }
func (x MultiSlot) Len() int    { return x.Size }

func Make(off int32, size int) ValueLayout {
	if size == 1 {
		return Slot{Offset: off}
	}

	return MultiSlot{Offset: off, Size: size}
}

// Compute lays out f. Parameters come first at negative offsets,
// then every instruction destination in block and instruction order.
// A FrameAlloc destination owns the memory it allocates, arrays included inline.
func Compute(ctx context.Context, f *mir.Function) (l *Layout, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "layout", "func", f.Name)
	defer tr.Finish("err", &err)

	l = &Layout{
		Name:    f.Name,
		Values:  make(map[mir.ValueID]ValueLayout, f.NumValues()),
		Params:  len(f.Params),
		Returns: len(f.Returns),
	}

	for _, t := range f.Returns {
		l.ReturnSlots += tp.Slots(t)
	}

	for _, p := range f.Params {
		t, ok := f.Types[p]
		if !ok {
			return nil, errors.New("no type for param %v", p)
		}

		l.ParamSlots += tp.Slots(t)
	}

	if l.ParamSlots+l.ReturnSlots > MaxFrameSize {
		return nil, errors.Wrap(ErrFrameOverflow, "%d param and %d return slots", l.ParamSlots, l.ReturnSlots)
	}

	off := -int32(l.ParamSlots) - int32(l.ReturnSlots) - CallerSaveSlots

	for _, p := range f.Params {
		size := tp.Slots(f.Types[p])

		l.set(p, Make(off, size))
		off += int32(size)
	}

	for _, b := range f.Blocks {
		for _, in := range b.Instructions {
			for _, d := range mir.Dests(in) {
				if _, ok := l.Values[d]; ok {
					continue
				}

				size, err := destSize(f, in, d)
				if err != nil {
					return nil, err
				}

				if size > MaxFrameSize-l.FrameSize {
					return nil, errors.Wrap(ErrFrameOverflow, "value %v of %d slots at %d", d, size, l.FrameSize)
				}

				l.set(d, Make(int32(l.FrameSize), size))
				l.FrameSize += size
			}
		}
	}

	if tr.If("dump_layout") {
		for _, id := range l.Order {
			tr.Printw("value", "id", id, "layout", l.Values[id])
		}
	}

	tr.Printw("layout", "frame_size", l.FrameSize, "param_slots", l.ParamSlots, "return_slots", l.ReturnSlots)

	return l, nil
}

func destSize(f *mir.Function, in mir.Instruction, d mir.ValueID) (int, error) {
	if fa, ok := in.(*mir.FrameAlloc); ok {
		if fa.Type == nil {
			return 0, errors.New("no type for frame allocation %v", d)
		}

		return fa.Type.Size(), nil
	}

	t, ok := f.Types[d]
	if !ok || t == nil {
		return 0, errors.New("no type for value %v", d)
	}

	return tp.Slots(t), nil
}

func (l *Layout) set(id mir.ValueID, v ValueLayout) {
	l.Values[id] = v
	l.Order = append(l.Order, id)
}

// Offset is the first slot of the value.
func (l *Layout) Offset(id mir.ValueID) (int32, error) {
	v, ok := l.Values[id]
	if !ok {
		return 0, errors.Wrap(ErrNoLayout, "func %v: value %v", l.Name, id)
	}

	return v.Base(), nil
}

// Size is the number of slots of the value, 1 for unknown values.
func (l *Layout) Size(id mir.ValueID) int {
	v, ok := l.Values[id]
	if !ok {
		return 1
	}

	return v.Len()
}

// Reserve grows the frame by n slots not bound to any value.
// Callers check FrameSize against MaxFrameSize when done.
func (l *Layout) Reserve(n int) int32 {
	off := int32(l.FrameSize)
	l.FrameSize += n

	return off
}

// ReturnOffset is the offset of the first return slot.
func (l *Layout) ReturnOffset() int32 {
	return -int32(l.ReturnSlots) - CallerSaveSlots
}

func (x Slot) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 1)
	b = e.AppendKeyInt(b, "off", int(x.Offset))

	return b
}

func (x MultiSlot) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKeyInt(b, "off", int(x.Offset))
	b = e.AppendKeyInt(b, "size", x.Size)

	return b
}
