package mir

import (
	"github.com/cockroachdb/errors"
)

// PtrSize is the size of a thin pointer in bytes.
const PtrSize = 8

// Env is an in-memory Frontend. It computes natural (C-like) layouts and
// serves allocations and reflective constants registered up front.
type Env struct {
	allocs  map[AllocID]GlobalAlloc
	next    AllocID
	consts  map[string]evaluated
	layouts map[string]Layout
}

type evaluated struct {
	val ConstValue
	ty  *Ty
}

// NewEnv returns an empty Env.
func NewEnv() *Env {
	return &Env{
		allocs:  make(map[AllocID]GlobalAlloc),
		next:    1,
		consts:  make(map[string]evaluated),
		layouts: make(map[string]Layout),
	}
}

// AddAlloc registers an allocation and returns its id.
func (e *Env) AddAlloc(g GlobalAlloc) AllocID {
	id := e.next
	e.next++
	e.allocs[id] = g
	return id
}

// SetAlloc registers an allocation under a chosen id.
func (e *Env) SetAlloc(id AllocID, g GlobalAlloc) {
	e.allocs[id] = g
	if id >= e.next {
		e.next = id + 1
	}
}

// AddBytes registers anonymous memory.
func (e *Env) AddBytes(b []byte, align uint64) AllocID {
	return e.AddAlloc(Memory{Bytes: b, Align: align})
}

// GlobalAlloc implements Frontend.
func (e *Env) GlobalAlloc(id AllocID) (GlobalAlloc, bool) {
	g, ok := e.allocs[id]
	return g, ok
}

func queryKey(q Query) string {
	k := q.Intrinsic
	for _, g := range q.Generics {
		k += "|" + g.Key()
	}
	return k
}

// SetConst registers the answer to a reflective query.
func (e *Env) SetConst(q Query, v ConstValue, ty *Ty) {
	e.consts[queryKey(q)] = evaluated{val: v, ty: ty}
}

// EvalConst implements Frontend.
func (e *Env) EvalConst(q Query) (ConstValue, *Ty, error) {
	ev, ok := e.consts[queryKey(q)]
	if !ok {
		return nil, nil, errors.Newf("no constant registered for %s", queryKey(q))
	}
	return ev.val, ev.ty, nil
}

// SetLayout overrides the computed layout of t.
func (e *Env) SetLayout(t *Ty, l Layout) {
	e.layouts[t.Key()] = l
}

// LayoutOf implements Frontend.
func (e *Env) LayoutOf(t *Ty) Layout {
	if l, ok := e.layouts[t.Key()]; ok {
		return l
	}
	return NaturalLayout(t)
}

// NaturalLayout lays t out like a C compiler would on a 64-bit target.
// Unsized types report a zero layout.
func NaturalLayout(t *Ty) Layout {
	if t == nil {
		return Layout{Align: 1}
	}
	switch t.Kind {
	case Bool:
		return Layout{Size: 1, Align: 1}
	case Char:
		return Layout{Size: 4, Align: 4}
	case Int, Uint, Float:
		n := uint64(t.Bits / 8)
		if t.Bits == 0 {
			n = PtrSize
		}
		return Layout{Size: n, Align: min(n, 16)}
	case RawPtr, Ref:
		if t.IsFat() {
			return Layout{Size: 2 * PtrSize, Align: PtrSize, Offsets: []uint64{0, PtrSize}}
		}
		return Layout{Size: PtrSize, Align: PtrSize}
	case FnPtr:
		return Layout{Size: PtrSize, Align: PtrSize}
	case FnDef, Never:
		return Layout{Align: 1}
	case Array, Simd:
		el := NaturalLayout(t.Elem)
		align := el.Align
		if t.Kind == Simd {
			align = el.Size * t.Len
		}
		return Layout{Size: el.Size * t.Len, Align: max(align, 1)}
	case Tuple, Adt:
		return aggregateLayout(t.Fields, t.Union)
	}
	return Layout{}
}

func aggregateLayout(fields []*Ty, union bool) Layout {
	l := Layout{Align: 1, Offsets: make([]uint64, len(fields))}
	var off uint64
	for i, f := range fields {
		fl := NaturalLayout(f)
		l.Align = max(l.Align, fl.Align)
		if union {
			l.Size = max(l.Size, fl.Size)
			continue
		}
		off = alignUp(off, fl.Align)
		l.Offsets[i] = off
		off += fl.Size
	}
	if !union {
		l.Size = off
	}
	l.Size = alignUp(l.Size, l.Align)
	return l
}

func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
